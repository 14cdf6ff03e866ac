package orch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Meet/internal/adapters/directory"
	"github.com/dkeye/Meet/internal/adapters/identity"
	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

type fakeSignal struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (f *fakeSignal) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return core.ErrConnClosed
	}
	if f.full {
		return core.ErrBackpressure
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeSignal) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSignal) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// events decodes everything sent so far and resets the buffer.
func (f *fakeSignal) events(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.frames))
	for _, fr := range f.frames {
		var m map[string]any
		if err := json.Unmarshal(fr, &m); err != nil {
			t.Fatalf("bad frame %s: %v", fr, err)
		}
		out = append(out, m)
	}
	f.frames = nil
	return out
}

func types(evs []map[string]any) []string {
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		out = append(out, e["type"].(string))
	}
	return out
}

type harness struct {
	o   *Orchestrator
	jwt *identity.JWTVerifier
	dir *directory.Memory
}

func newHarness() *harness {
	reg := app.NewRegistry()
	dir := directory.NewMemory()
	jwt := identity.NewJWTVerifier("test-secret", "", 0)
	return &harness{
		o: &Orchestrator{
			Registry:  reg,
			Rooms:     app.NewRoomManager(),
			Relay:     &app.Relay{Registry: reg, Directory: dir},
			Policy:    app.DropPolicy{},
			Directory: dir,
			Identity:  jwt,
			Metrics:   metrics.NewMetrics(),

			AuthTimeout:      time.Second,
			DirectoryTimeout: time.Second,
		},
		jwt: jwt,
		dir: dir,
	}
}

func (h *harness) token(t *testing.T, user domain.UserID) string {
	t.Helper()
	tok, err := h.jwt.Issue(user, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

// login connects conn and authenticates it as user, discarding the ack.
func (h *harness) login(t *testing.T, conn domain.ConnID, user domain.UserID) (*fakeSignal, domain.CallHandle) {
	t.Helper()
	sig := &fakeSignal{}
	h.o.Connect(conn, sig)
	handle, err := h.o.Authenticate(context.Background(), conn, h.token(t, user))
	if err != nil {
		t.Fatalf("Authenticate(%s): %v", user, err)
	}
	sig.events(t)
	return sig, handle
}

func TestAuthenticateThenResolveUser(t *testing.T) {
	h := newHarness()
	sig := &fakeSignal{}
	h.o.Connect("c1", sig)

	handle, err := h.o.Authenticate(context.Background(), "c1", h.token(t, "alice"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if u, ok := h.o.Registry.ResolveUser("c1"); !ok || u != "alice" {
		t.Fatalf("ResolveUser = %q, %v", u, ok)
	}

	evs := sig.events(t)
	if len(evs) != 1 || evs[0]["type"] != EventAuthenticated || evs[0]["success"] != true {
		t.Fatalf("ack = %v", evs)
	}
	if evs[0]["callHandle"] != string(handle) {
		t.Errorf("ack handle = %v, want %s", evs[0]["callHandle"], handle)
	}

	u, err := h.dir.Get(context.Background(), "alice")
	if err != nil {
		t.Fatalf("directory Get: %v", err)
	}
	if !u.IsOnline || u.CallHandle != handle {
		t.Errorf("directory user = %+v", u)
	}
}

func TestAuthenticateInvalidCredentialKeepsConnection(t *testing.T) {
	h := newHarness()
	sig := &fakeSignal{}
	h.o.Connect("c1", sig)

	if _, err := h.o.Authenticate(context.Background(), "c1", "garbage"); err == nil {
		t.Fatal("expected an error")
	}
	evs := sig.events(t)
	if len(evs) != 1 || evs[0]["success"] != false || evs[0]["reason"] != ReasonInvalidCredential {
		t.Fatalf("failure ack = %v", evs)
	}
	if sig.isClosed() {
		t.Fatal("connection closed after failed auth")
	}

	// retry is allowed
	if _, err := h.o.Authenticate(context.Background(), "c1", h.token(t, "alice")); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestAuthenticateRotatesHandle(t *testing.T) {
	h := newHarness()
	_, first := h.login(t, "c1", "alice")
	h.o.Disconnect(context.Background(), "c1")
	_, second := h.login(t, "c2", "alice")

	if first == second {
		t.Fatal("call handle not rotated")
	}
	if _, err := h.dir.ResolveCallHandle(context.Background(), first); err == nil {
		t.Error("retired handle still resolves in the directory")
	}
}

func TestReauthenticateSameConnectionIsIdempotent(t *testing.T) {
	h := newHarness()
	sig, handle := h.login(t, "c1", "alice")
	h.o.CreateMeeting("c1")
	sig.events(t)

	again, err := h.o.Authenticate(context.Background(), "c1", h.token(t, "alice"))
	if err != nil || again != handle {
		t.Fatalf("re-auth = %s, %v; want %s", again, err, handle)
	}
	if n := len(h.o.Rooms.RoomsOf("alice")); n != 1 {
		t.Errorf("rooms after idempotent re-auth = %d, want 1", n)
	}
}

func TestReauthenticateFromSecondConnectionEvictsFirst(t *testing.T) {
	h := newHarness()
	old, _ := h.login(t, "c1", "alice")
	bob, _ := h.login(t, "c2", "bob")

	room, _ := h.o.CreateMeeting("c1")
	if err := h.o.JoinMeeting("c2", room); err != nil {
		t.Fatalf("JoinMeeting: %v", err)
	}
	old.events(t)
	bob.events(t)

	_, _ = h.login(t, "c3", "alice")

	if got := types(old.events(t)); len(got) != 1 || got[0] != EventSessionReplaced {
		t.Errorf("evicted connection got %v", got)
	}
	if !old.isClosed() {
		t.Error("evicted connection left open")
	}
	if c, _ := h.o.Registry.ResolveConnection("alice"); c != "c3" {
		t.Errorf("alice resolves to %q, want c3", c)
	}
	if got := types(bob.events(t)); len(got) != 2 || got[0] != EventUserLeft || got[1] != EventParticipantsUpdate {
		t.Errorf("peer got %v", got)
	}

	// transport close of the evicted connection must not touch the new session
	h.o.Disconnect(context.Background(), "c1")
	if _, ok := h.o.Registry.ResolveConnection("alice"); !ok {
		t.Error("late disconnect of evicted connection unbound the new one")
	}
	if u, _ := h.dir.Get(context.Background(), "alice"); !u.IsOnline {
		t.Error("late disconnect marked the user offline")
	}
}

func TestCreateJoinDisconnectScenario(t *testing.T) {
	h := newHarness()
	a, aHandle := h.login(t, "ca", "alice")
	b, bHandle := h.login(t, "cb", "bob")

	room, err := h.o.CreateMeeting("ca")
	if err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}
	created := a.events(t)
	if len(created) != 1 || created[0]["type"] != EventMeetingCreated || created[0]["roomId"] != string(room) {
		t.Fatalf("create ack = %v", created)
	}

	if err := h.o.JoinMeeting("cb", room); err != nil {
		t.Fatalf("JoinMeeting: %v", err)
	}
	joined := b.events(t)
	if len(joined) != 1 || joined[0]["type"] != EventMeetingJoined {
		t.Fatalf("join ack = %v", joined)
	}
	existing := joined[0]["existingUsers"].([]any)
	if len(existing) != 1 || existing[0] != string(aHandle) || joined[0]["participantCount"] != float64(2) {
		t.Errorf("join ack roster = %v", joined[0])
	}
	notified := a.events(t)
	if len(notified) != 1 || notified[0]["type"] != EventUserJoined || notified[0]["callHandle"] != string(bHandle) {
		t.Errorf("peer notification = %v", notified)
	}

	h.o.Disconnect(context.Background(), "cb")
	left := a.events(t)
	if got := types(left); len(got) != 2 || got[0] != EventUserLeft || got[1] != EventParticipantsUpdate {
		t.Fatalf("after disconnect peer got %v", got)
	}
	if left[0]["callHandle"] != string(bHandle) || left[1]["count"] != float64(1) {
		t.Errorf("departure events = %v", left)
	}
	if members, ok := h.o.Rooms.Members(room); !ok || len(members) != 1 {
		t.Errorf("room after disconnect = %v, %v", members, ok)
	}
	if u, _ := h.dir.Get(context.Background(), "bob"); u.IsOnline {
		t.Error("bob still online after disconnect")
	}
}

func TestSoleParticipantLeaveDestroysRoom(t *testing.T) {
	h := newHarness()
	a, _ := h.login(t, "ca", "alice")
	b, _ := h.login(t, "cb", "bob")

	room, _ := h.o.CreateMeeting("ca")
	h.o.LeaveMeeting("ca", room)
	evs := a.events(t)
	if last := evs[len(evs)-1]; last["type"] != EventMeetingLeft || last["remainingCount"] != float64(0) {
		t.Errorf("leave ack = %v", last)
	}
	if h.o.Rooms.Exists(room) {
		t.Fatal("empty room survived")
	}

	if err := h.o.JoinMeeting("cb", room); err == nil {
		t.Fatal("join of destroyed room succeeded")
	}
	evs = b.events(t)
	if len(evs) != 1 || evs[0]["type"] != EventJoinFailed || evs[0]["reason"] != ReasonRoomNotFound {
		t.Errorf("join-failed = %v", evs)
	}
}

func TestRejoinIsRejectedWithoutBroadcast(t *testing.T) {
	h := newHarness()
	a, _ := h.login(t, "ca", "alice")
	b, _ := h.login(t, "cb", "bob")
	room, _ := h.o.CreateMeeting("ca")
	_ = h.o.JoinMeeting("cb", room)
	a.events(t)
	b.events(t)

	if err := h.o.JoinMeeting("cb", room); err == nil {
		t.Fatal("rejoin accepted")
	}
	if evs := b.events(t); len(evs) != 1 || evs[0]["reason"] != ReasonAlreadyJoined {
		t.Errorf("rejoin reply = %v", evs)
	}
	if evs := a.events(t); len(evs) != 0 {
		t.Errorf("peer saw %v on rejected rejoin", types(evs))
	}
	if members, _ := h.o.Rooms.Members(room); len(members) != 2 {
		t.Errorf("roster size = %d, want 2", len(members))
	}
}

func TestDisconnectLeavesEveryRoom(t *testing.T) {
	h := newHarness()
	a, _ := h.login(t, "ca", "alice")
	b, _ := h.login(t, "cb", "bob")
	c, _ := h.login(t, "cc", "carol")

	r1, _ := h.o.CreateMeeting("ca")
	r2, _ := h.o.CreateMeeting("ca")
	r3, _ := h.o.CreateMeeting("ca")
	_ = h.o.JoinMeeting("cb", r1)
	_ = h.o.JoinMeeting("cc", r2)
	b.events(t)
	c.events(t)

	h.o.Disconnect(context.Background(), "ca")
	h.o.Disconnect(context.Background(), "ca")

	for _, got := range [][]string{types(b.events(t)), types(c.events(t))} {
		if len(got) != 2 || got[0] != EventUserLeft || got[1] != EventParticipantsUpdate {
			t.Errorf("remaining member got %v", got)
		}
	}
	if h.o.Rooms.Exists(r3) {
		t.Error("room with no one left was not destroyed")
	}
	if !h.o.Rooms.Exists(r1) || !h.o.Rooms.Exists(r2) {
		t.Error("rooms with remaining members were destroyed")
	}
	if len(h.o.Rooms.RoomsOf("alice")) != 0 {
		t.Error("alice still listed in rooms")
	}
	if len(a.events(t)) != 0 {
		t.Error("disconnected connection received events")
	}
}

func TestSignalForwardedToTargetOnly(t *testing.T) {
	h := newHarness()
	a, aHandle := h.login(t, "ca", "alice")
	b, bHandle := h.login(t, "cb", "bob")
	c, _ := h.login(t, "cc", "carol")

	ok := h.o.Signal(context.Background(), app.KindOffer, "ca", bHandle, json.RawMessage(`{"sdp":"v=0"}`))
	if !ok {
		t.Fatal("offer not relayed")
	}
	evs := b.events(t)
	if len(evs) != 1 || evs[0]["type"] != "offer" || evs[0]["sender"] != string(aHandle) {
		t.Fatalf("target got %v", evs)
	}
	if p := evs[0]["payload"].(map[string]any); p["sdp"] != "v=0" {
		t.Errorf("payload = %v", p)
	}
	if len(a.events(t)) != 0 || len(c.events(t)) != 0 {
		t.Error("signal leaked to sender or third party")
	}
}

func TestSignalToOfflineHandleIsDropped(t *testing.T) {
	h := newHarness()
	a, _ := h.login(t, "ca", "alice")
	b, bHandle := h.login(t, "cb", "bob")
	h.o.Disconnect(context.Background(), "cb")

	if h.o.Signal(context.Background(), app.KindIceCandidate, "ca", bHandle, json.RawMessage(`{}`)) {
		t.Fatal("signal to offline handle reported delivered")
	}
	if h.o.Signal(context.Background(), app.KindAnswer, "ca", "no-such-handle", nil) {
		t.Fatal("signal to unknown handle reported delivered")
	}
	if len(a.events(t)) != 0 || len(b.events(t)) != 0 {
		t.Error("dropped signal had an observable effect")
	}
}

func TestUnauthenticatedCommandsFail(t *testing.T) {
	h := newHarness()
	sig := &fakeSignal{}
	h.o.Connect("c1", sig)

	if _, err := h.o.CreateMeeting("c1"); err != domain.ErrNotAuthenticated {
		t.Errorf("CreateMeeting err = %v", err)
	}
	if err := h.o.JoinMeeting("c1", "r"); err != domain.ErrNotAuthenticated {
		t.Errorf("JoinMeeting err = %v", err)
	}
	if h.o.Signal(context.Background(), app.KindOffer, "c1", "h", nil) {
		t.Error("unauthenticated signal relayed")
	}
	for _, e := range sig.events(t) {
		if e["reason"] != ReasonNotAuthenticated {
			t.Errorf("reply = %v", e)
		}
	}
	if h.o.Rooms.Count() != 0 {
		t.Error("room created without authentication")
	}
}

func TestKickPolicyClosesSlowConsumer(t *testing.T) {
	h := newHarness()
	h.o.Policy = app.SimplePolicy{}
	a, _ := h.login(t, "ca", "alice")
	b, _ := h.login(t, "cb", "bob")
	room, _ := h.o.CreateMeeting("ca")

	a.mu.Lock()
	a.full = true
	a.mu.Unlock()

	if err := h.o.JoinMeeting("cb", room); err != nil {
		t.Fatalf("JoinMeeting: %v", err)
	}
	if !a.isClosed() {
		t.Error("slow consumer not kicked")
	}
	if got := types(b.events(t)); len(got) != 1 || got[0] != EventMeetingJoined {
		t.Errorf("joiner got %v", got)
	}
}

func TestHTTPMemberJoinSharesRooms(t *testing.T) {
	h := newHarness()
	a, _ := h.login(t, "ca", "alice")
	room, _ := h.o.CreateMeeting("ca")
	a.events(t)

	m := h.o.MemberFor(context.Background(), "dave")
	if m.CallHandle == "" {
		t.Fatal("no handle assigned for offline user")
	}
	res, err := h.o.Join(m, room)
	if err != nil || res.Count != 2 {
		t.Fatalf("Join = %+v, %v", res, err)
	}
	if got := types(a.events(t)); len(got) != 1 || got[0] != EventUserJoined {
		t.Errorf("ws member got %v", got)
	}

	if remaining, ok := h.o.Leave("dave", room); !ok || remaining != 1 {
		t.Errorf("Leave = %d, %v", remaining, ok)
	}
	if _, ok := h.o.Leave("dave", room); ok {
		t.Error("second leave reported a transition")
	}
}

func TestWhoAmIListsRooms(t *testing.T) {
	h := newHarness()
	a, handle := h.login(t, "ca", "alice")
	room, _ := h.o.CreateMeeting("ca")
	a.events(t)

	h.o.WhoAmI("ca")
	evs := a.events(t)
	if len(evs) != 1 || evs[0]["callHandle"] != string(handle) {
		t.Fatalf("whoami = %v", evs)
	}
	if rooms := evs[0]["rooms"].([]any); len(rooms) != 1 || rooms[0] != string(room) {
		t.Errorf("rooms = %v", rooms)
	}
}

func TestConcurrentJoinLeaveKeepsCounts(t *testing.T) {
	h := newHarness()
	h.login(t, "owner", "owner")
	room, _ := h.o.CreateMeeting("owner")

	users := []domain.UserID{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"}
	for _, u := range users {
		h.login(t, domain.ConnID("c-"+u), u)
	}

	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(u domain.UserID) {
			defer wg.Done()
			conn := domain.ConnID("c-" + u)
			for i := 0; i < 20; i++ {
				_ = h.o.JoinMeeting(conn, room)
				h.o.LeaveMeeting(conn, room)
			}
		}(u)
	}
	wg.Wait()

	members, ok := h.o.Rooms.Members(room)
	if !ok || len(members) != 1 || members[0].UserID != "owner" {
		t.Errorf("final roster = %v, %v", members, ok)
	}
}

// gatedDirectory holds the first Get open until release is closed.
type gatedDirectory struct {
	*directory.Memory
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (d *gatedDirectory) Get(ctx context.Context, id domain.UserID) (domain.User, error) {
	d.once.Do(func() {
		close(d.entered)
		<-d.release
	})
	return d.Memory.Get(ctx, id)
}

func TestHTTPMemberDoesNotRotateLiveHandle(t *testing.T) {
	h := newHarness()
	gated := &gatedDirectory{Memory: h.dir, entered: make(chan struct{}), release: make(chan struct{})}
	h.o.Directory = gated
	h.o.Relay.Directory = gated

	bob, _ := h.login(t, "cb", "bob")
	room, _ := h.o.CreateMeeting("cb")
	bob.events(t)

	var member domain.Member
	memberDone := make(chan struct{})
	go func() {
		defer close(memberDone)
		member = h.o.MemberFor(context.Background(), "alice")
	}()
	<-gated.entered

	alice := &fakeSignal{}
	h.o.Connect("ca", alice)
	tok := h.token(t, "alice")
	var live domain.CallHandle
	authDone := make(chan struct{})
	go func() {
		defer close(authDone)
		live, _ = h.o.Authenticate(context.Background(), "ca", tok)
	}()
	time.Sleep(20 * time.Millisecond)
	close(gated.release)
	<-memberDone
	<-authDone
	if live == "" {
		t.Fatal("authenticate failed")
	}

	stored, err := h.dir.Get(context.Background(), "alice")
	if err != nil || stored.CallHandle != live {
		t.Fatalf("directory handle = %q, live handle = %q (%v)", stored.CallHandle, live, err)
	}

	res, err := h.o.Join(member, room)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if res.Self.CallHandle != live {
		t.Errorf("joined with handle %q, live handle is %q", res.Self.CallHandle, live)
	}
	if evs := bob.events(t); len(evs) != 1 || evs[0]["callHandle"] != string(live) {
		t.Errorf("peer saw %v", evs)
	}

	alice.events(t)
	if !h.o.Signal(context.Background(), app.KindOffer, "cb", live, json.RawMessage(`{}`)) {
		t.Fatal("offer to live handle dropped")
	}
	if evs := alice.events(t); len(evs) != 1 || evs[0]["type"] != "offer" {
		t.Errorf("alice got %v", evs)
	}
}

func TestLeaveByNonMemberReportsRoomSize(t *testing.T) {
	h := newHarness()
	h.login(t, "ca", "alice")
	h.login(t, "cb", "bob")
	carol, _ := h.login(t, "cc", "carol")
	room, _ := h.o.CreateMeeting("ca")
	_ = h.o.JoinMeeting("cb", room)

	h.o.LeaveMeeting("cc", room)
	evs := carol.events(t)
	if len(evs) != 1 || evs[0]["type"] != EventMeetingLeft || evs[0]["remainingCount"] != float64(2) {
		t.Errorf("meeting-left = %v", evs)
	}

	remaining, ok := h.o.Leave("carol", room)
	if ok || remaining != 2 {
		t.Errorf("Leave = %d, %v; want 2, false", remaining, ok)
	}
	if remaining, ok := h.o.Leave("carol", "no-such-room"); ok || remaining != 0 {
		t.Errorf("Leave unknown room = %d, %v", remaining, ok)
	}
	if members, _ := h.o.Rooms.Members(room); len(members) != 2 {
		t.Errorf("roster changed: %v", members)
	}
}

func TestJoinsCountedOnlyOnSuccess(t *testing.T) {
	h := newHarness()
	reg := prometheus.NewRegistry()
	if err := h.o.Metrics.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	h.login(t, "ca", "alice")
	h.login(t, "cb", "bob")

	room, _ := h.o.CreateMeeting("ca")
	_ = h.o.JoinMeeting("cb", room)
	_ = h.o.JoinMeeting("cb", room)
	_ = h.o.JoinMeeting("cb", "no-such-room")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var joins *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == metrics.MetricJoins {
			joins = f
		}
	}
	if joins == nil {
		t.Fatal("joins counter not exported")
	}
	if got := joins.GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Errorf("joins = %v, want 2", got)
	}
}
