// Package domain contains entity without logic, just meta-data
package domain

import (
	"time"

	"github.com/google/uuid"
)

type (
	UserID     string
	CallHandle string
	ConnID     string
)

// User is the Directory record of a person that can be called.
type User struct {
	ID         UserID     `json:"id"`
	CallHandle CallHandle `json:"callHandle"`
	IsOnline   bool       `json:"isOnline"`
	LastSeen   time.Time  `json:"lastSeen"`
}

// NewCallHandle returns a fresh public signaling address.
func NewCallHandle() CallHandle {
	return CallHandle(uuid.NewString())
}

// NewConnID identifies one transport connection for its whole lifetime.
func NewConnID() ConnID {
	return ConnID(uuid.NewString())
}
