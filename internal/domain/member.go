package domain

// Member represents user's participation meta for a room.
// No transport or lifecycle logic here.
type Member struct {
	UserID     UserID     `json:"userId"`
	CallHandle CallHandle `json:"callHandle"`
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(id UserID, handle CallHandle) Member {
	return Member{UserID: id, CallHandle: handle}
}

// Handles projects members onto their call handles, keeping order.
func Handles(ms []Member) []CallHandle {
	out := make([]CallHandle, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.CallHandle)
	}
	return out
}
