package party

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type sent struct {
	msgType string
	payload any
}

type mockConn struct {
	id      string
	sent    []sent
	closed  bool
	sendErr error
	mu      sync.Mutex
}

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Send(msgType string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sent{msgType: msgType, payload: payload})
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockConn) ofType(msgType string) []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []any
	for _, s := range m.sent {
		if s.msgType == msgType {
			out = append(out, s.payload)
		}
	}
	return out
}

func (m *mockConn) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

func (m *mockConn) lastMemberList(t *testing.T) []string {
	t.Helper()
	lists := m.ofType(MsgTypeMemberList)
	require.NotEmpty(t, lists, "connection %s received no memberList", m.id)
	return lists[len(lists)-1].(MemberListPayload).Members
}

var testNow = time.Unix(1700000000, 0)

func newTestGateway(t *testing.T, operator string) *Gateway {
	t.Helper()

	return NewGateway(Options{
		Operator: operator,
		Now:      func() time.Time { return testNow },
	}, zaptest.NewLogger(t))
}

func connect(g *Gateway, id, identity string) *mockConn {
	c := &mockConn{id: id}
	g.Connect(c, identity)
	return c
}

func payload(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func join(t *testing.T, g *Gateway, c *mockConn, roomID, name string) {
	t.Helper()
	g.Dispatch(c.id, MsgTypeJoin, payload(t, JoinPayload{RoomID: roomID, DisplayName: name}))
}

func report(t *testing.T, g *Gateway, c *mockConn, roomID string, at float64, playing bool) {
	t.Helper()
	g.Dispatch(c.id, MsgTypePlaybackReport, payload(t, PlaybackReportPayload{RoomID: roomID, Time: &at, Playing: playing}))
}

func TestGateway_Welcome(t *testing.T) {
	g := newTestGateway(t, "admin")

	op := connect(g, "op", "admin")
	user := connect(g, "user", "")

	welcome := op.ofType(MsgTypeWelcome)
	require.Len(t, welcome, 1)
	assert.Equal(t, WelcomePayload{ConnectionID: "op", Operator: true, DriftTolerance: 2}, welcome[0])

	welcome = user.ofType(MsgTypeWelcome)
	require.Len(t, welcome, 1)
	assert.False(t, welcome[0].(WelcomePayload).Operator)
}

func TestGateway_OperatorRecognizedAtFirstJoin(t *testing.T) {
	g := newTestGateway(t, "admin")

	op := connect(g, "op", "")
	user := connect(g, "user", "")

	join(t, g, op, "r1", "admin")
	join(t, g, user, "r1", "Alice")

	welcome := op.ofType(MsgTypeWelcome)
	require.Len(t, welcome, 2)
	assert.False(t, welcome[0].(WelcomePayload).Operator)
	assert.Equal(t, WelcomePayload{ConnectionID: "op", Operator: true, DriftTolerance: 2}, welcome[1])

	assert.Len(t, user.ofType(MsgTypeWelcome), 1)

	// Rejoining does not repeat it.
	join(t, g, op, "r1", "admin")
	assert.Len(t, op.ofType(MsgTypeWelcome), 2)
}

func TestGateway_JoinSendsSnapshotAndMemberList(t *testing.T) {
	g := newTestGateway(t, "")

	alice := connect(g, "c1", "")
	join(t, g, alice, "r1", "Alice")
	report(t, g, alice, "r1", 42, true)

	bob := connect(g, "c2", "")
	join(t, g, bob, "r1", "Bob")

	syncs := bob.ofType(MsgTypePlaybackSync)
	require.Len(t, syncs, 1)
	assert.Equal(t, PlaybackSyncPayload{
		RoomID:    "r1",
		Time:      42,
		Playing:   true,
		UpdatedAt: testNow.UnixMilli(),
	}, syncs[0])

	assert.Equal(t, []string{"Alice", "Bob"}, alice.lastMemberList(t))
	assert.Equal(t, []string{"Alice", "Bob"}, bob.lastMemberList(t))

	notices := alice.ofType(MsgTypeChatMessage)
	require.NotEmpty(t, notices)
	last := notices[len(notices)-1].(ChatMessagePayload)
	assert.True(t, last.System)
	assert.Equal(t, SystemSender, last.Sender)
	assert.Equal(t, "Bob joined", last.Text)
}

func TestGateway_MemberListHasNoGhosts(t *testing.T) {
	g := newTestGateway(t, "")

	conns := make([]*mockConn, 4)
	for i, name := range []string{"Alice", "Bob", "Carol", "Dave"} {
		conns[i] = connect(g, name, "")
		join(t, g, conns[i], "r1", name)
	}

	g.Disconnect("Bob")
	g.Dispatch("Dave", MsgTypeLeave, nil)
	g.Disconnect("Bob")

	want := []string{"Alice", "Carol"}
	assert.Equal(t, want, conns[0].lastMemberList(t))
	assert.Equal(t, want, conns[2].lastMemberList(t))
	assert.Equal(t, want, g.membership.MembersOf("r1"))

	notices := conns[0].ofType(MsgTypeChatMessage)
	texts := make([]string, 0, len(notices))
	for _, n := range notices {
		texts = append(texts, n.(ChatMessagePayload).Text)
	}
	assert.Contains(t, texts, "Bob left")
	assert.Contains(t, texts, "Dave left")
}

func TestGateway_LastLeaveEvictsRoom(t *testing.T) {
	g := newTestGateway(t, "")

	alice := connect(g, "c1", "")
	join(t, g, alice, "r1", "Alice")

	rooms, conns := g.Stats()
	assert.Equal(t, 1, rooms)
	assert.Equal(t, 1, conns)

	g.Disconnect("c1")

	_, ok := g.registry.Get("r1")
	assert.False(t, ok)

	rooms, conns = g.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, conns)
}

func TestGateway_DuplicateDisplayNames(t *testing.T) {
	g := newTestGateway(t, "")

	a := connect(g, "c1", "")
	b := connect(g, "c2", "")
	join(t, g, a, "r1", "Guest")
	join(t, g, b, "r1", "Guest")

	assert.Equal(t, []string{"Guest", "Guest"}, a.lastMemberList(t))
	assert.Equal(t, []string{"Guest", "Guest"}, b.lastMemberList(t))
}

func TestGateway_JoinOtherRoomLeavesFirst(t *testing.T) {
	g := newTestGateway(t, "")

	alice := connect(g, "c1", "")
	bob := connect(g, "c2", "")
	join(t, g, alice, "r1", "Alice")
	join(t, g, bob, "r1", "Bob")

	bob.reset()
	join(t, g, alice, "r2", "Alice")

	assert.Equal(t, []string{"Bob"}, bob.lastMemberList(t))
	assert.Equal(t, []string{"Alice"}, alice.lastMemberList(t))
	assert.Equal(t, []string{"Bob"}, g.membership.MembersOf("r1"))
	assert.Equal(t, []string{"Alice"}, g.membership.MembersOf("r2"))
}

func TestGateway_PlaybackReport(t *testing.T) {
	g := newTestGateway(t, "")

	alice := connect(g, "c1", "")
	bob := connect(g, "c2", "")
	carol := connect(g, "c3", "")
	join(t, g, alice, "r1", "Alice")
	join(t, g, bob, "r1", "Bob")
	join(t, g, carol, "r2", "Carol")

	for _, c := range []*mockConn{alice, bob, carol} {
		c.reset()
	}

	report(t, g, alice, "r1", 42, true)

	assert.Empty(t, alice.ofType(MsgTypePlaybackSync), "reporter must not receive its own sync")
	assert.Empty(t, carol.ofType(MsgTypePlaybackSync), "other rooms must not receive the sync")

	syncs := bob.ofType(MsgTypePlaybackSync)
	require.Len(t, syncs, 1)
	got := syncs[0].(PlaybackSyncPayload)
	assert.Equal(t, 42.0, got.Time)
	assert.True(t, got.Playing)

	snapshot, ok := g.playback.Snapshot("r1")
	require.True(t, ok)
	assert.Equal(t, 42.0, snapshot.Time)
	assert.True(t, snapshot.Playing)
}

func TestGateway_InvalidPlaybackReports(t *testing.T) {
	g := newTestGateway(t, "")

	alice := connect(g, "c1", "")
	bob := connect(g, "c2", "")
	join(t, g, alice, "r1", "Alice")
	join(t, g, bob, "r1", "Bob")
	report(t, g, alice, "r1", 10, false)
	bob.reset()

	report(t, g, alice, "r1", -1, true)
	g.Dispatch(alice.id, MsgTypePlaybackReport, []byte(`{"roomId":"r1","playing":true}`))
	g.Dispatch(alice.id, MsgTypePlaybackReport, []byte(`{"roomId":"r1","time":"soon"}`))

	assert.Empty(t, bob.ofType(MsgTypePlaybackSync))

	snapshot, ok := g.playback.Snapshot("r1")
	require.True(t, ok)
	assert.Equal(t, 10.0, snapshot.Time)
	assert.False(t, snapshot.Playing)
}

func TestGateway_PlaybackReportForeignRoom(t *testing.T) {
	g := newTestGateway(t, "")

	alice := connect(g, "c1", "")
	bob := connect(g, "c2", "")
	join(t, g, alice, "r1", "Alice")
	join(t, g, bob, "r2", "Bob")
	bob.reset()

	report(t, g, alice, "r2", 99, true)

	assert.Empty(t, bob.ofType(MsgTypePlaybackSync))

	errs := alice.ofType(MsgTypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, "NotInRoom", errs[0].(ErrorPayload).Code)

	snapshot, _ := g.playback.Snapshot("r2")
	assert.Zero(t, snapshot.Time)
}

func TestGateway_RequestSync(t *testing.T) {
	g := newTestGateway(t, "")

	alice := connect(g, "c1", "")
	g.Dispatch(alice.id, MsgTypeRequestSync, nil)
	require.Len(t, alice.ofType(MsgTypeError), 1)

	join(t, g, alice, "r1", "Alice")
	report(t, g, alice, "r1", 7.5, false)
	alice.reset()

	g.Dispatch(alice.id, MsgTypeRequestSync, nil)

	syncs := alice.ofType(MsgTypePlaybackSync)
	require.Len(t, syncs, 1)
	assert.Equal(t, 7.5, syncs[0].(PlaybackSyncPayload).Time)
}

func TestGateway_Chat(t *testing.T) {
	g := newTestGateway(t, "")

	alice := connect(g, "c1", "")
	bob := connect(g, "c2", "")
	join(t, g, alice, "r1", "Alice")
	join(t, g, bob, "r1", "Bob")
	alice.reset()
	bob.reset()

	g.Dispatch(alice.id, MsgTypeChat, payload(t, ChatPayload{RoomID: "r1", Text: "  "}))
	assert.Empty(t, alice.ofType(MsgTypeChatMessage))
	assert.Empty(t, bob.ofType(MsgTypeChatMessage))

	g.Dispatch(alice.id, MsgTypeChat, []byte(`{"roomId":"r1","text":"hi","sender":"Mallory"}`))

	want := ChatMessagePayload{
		RoomID:    "r1",
		Sender:    "Alice",
		Text:      "hi",
		Timestamp: testNow.UnixMilli(),
	}

	for _, c := range []*mockConn{alice, bob} {
		msgs := c.ofType(MsgTypeChatMessage)
		require.Len(t, msgs, 1)
		assert.Equal(t, want, msgs[0])
	}
}

func TestGateway_BanDisconnectsAndBlocksRejoin(t *testing.T) {
	g := newTestGateway(t, "admin")

	op := connect(g, "op", "admin")
	bob := connect(g, "bob", "Bob")
	alice := connect(g, "alice", "Alice")
	join(t, g, op, "r1", "Operator")
	join(t, g, bob, "r1", "Bob")
	join(t, g, alice, "r1", "Alice")
	alice.reset()

	g.Dispatch(op.id, MsgTypeModerationCommand, payload(t, ModerationCommandPayload{Command: "ban", Arg: "Bob"}))

	results := op.ofType(MsgTypeModerationResult)
	require.Len(t, results, 1)
	assert.True(t, results[0].(ModerationResultPayload).Success)

	assert.Len(t, bob.ofType(MsgTypeBanned), 1)
	assert.True(t, bob.isClosed())
	assert.Equal(t, []string{"Operator", "Alice"}, alice.lastMemberList(t))
	assert.Equal(t, []string{"Operator", "Alice"}, g.membership.MembersOf("r1"))

	again := connect(g, "bob-again", "Bob")
	join(t, g, again, "r1", "Bob")

	assert.Len(t, again.ofType(MsgTypeBanned), 1)
	assert.True(t, again.isClosed())
	assert.Equal(t, []string{"Operator", "Alice"}, g.membership.MembersOf("r1"))

	_, conns := g.Stats()
	assert.Equal(t, 2, conns)
}

func TestGateway_BanOfSeveralConnectionsAnnouncesOnce(t *testing.T) {
	g := newTestGateway(t, "admin")

	op := connect(g, "op", "admin")
	bob1 := connect(g, "bob1", "Bob")
	bob2 := connect(g, "bob2", "Bob")
	alice := connect(g, "alice", "Alice")
	join(t, g, op, "r1", "Op")
	join(t, g, bob1, "r1", "Bob")
	join(t, g, bob2, "r1", "Bob2")
	join(t, g, alice, "r1", "Alice")
	alice.reset()

	g.Dispatch(op.id, MsgTypeModerationCommand, payload(t, ModerationCommandPayload{Command: "ban", Arg: "Bob"}))

	lists := alice.ofType(MsgTypeMemberList)
	require.Len(t, lists, 1)
	assert.Equal(t, []string{"Op", "Alice"}, lists[0].(MemberListPayload).Members)

	var notices []string
	for _, msg := range alice.ofType(MsgTypeChatMessage) {
		notices = append(notices, msg.(ChatMessagePayload).Text)
	}
	assert.Equal(t, []string{"Bob left", "Bob2 left"}, notices)

	assert.True(t, bob1.isClosed())
	assert.True(t, bob2.isClosed())
}

func TestGateway_UnauthorizedModeration(t *testing.T) {
	g := newTestGateway(t, "admin")

	op := connect(g, "op", "admin")
	user := connect(g, "user", "mallory")
	join(t, g, op, "r1", "Operator")
	join(t, g, user, "r1", "Mallory")

	for _, command := range []string{"kickall", "ban", "selfdestruct"} {
		op.reset()
		user.reset()

		g.Dispatch(user.id, MsgTypeModerationCommand, payload(t, ModerationCommandPayload{Command: command, Arg: "Operator"}))

		results := user.ofType(MsgTypeModerationResult)
		require.Len(t, results, 1)
		assert.Equal(t, ModerationResultPayload{Success: false, Error: "Unauthorized"}, results[0])

		for _, c := range []*mockConn{op, user} {
			assert.Empty(t, c.ofType(MsgTypeForceDisconnect))
			assert.Empty(t, c.ofType(MsgTypeBanned))
			assert.False(t, c.isClosed())
		}
		assert.Empty(t, op.ofType(MsgTypeModerationResult))
	}

	assert.Equal(t, []string{"Operator", "Mallory"}, g.membership.MembersOf("r1"))
}

func TestGateway_UnknownCommand(t *testing.T) {
	g := newTestGateway(t, "admin")

	op := connect(g, "op", "admin")
	g.Dispatch(op.id, MsgTypeModerationCommand, payload(t, ModerationCommandPayload{Command: "reboot"}))

	results := op.ofType(MsgTypeModerationResult)
	require.Len(t, results, 1)
	assert.Equal(t, ModerationResultPayload{Success: false, Error: "UnknownCommand"}, results[0])
}

func TestGateway_Announce(t *testing.T) {
	g := newTestGateway(t, "admin")

	op := connect(g, "op", "admin")
	a := connect(g, "a", "")
	b := connect(g, "b", "")
	lobby := connect(g, "lobby", "")
	join(t, g, a, "r1", "A")
	join(t, g, b, "r2", "B")

	g.Dispatch(op.id, MsgTypeModerationCommand, payload(t, ModerationCommandPayload{Command: "announce", Arg: "Server restarting"}))

	for _, c := range []*mockConn{op, a, b, lobby} {
		got := c.ofType(MsgTypeAnnouncement)
		require.Len(t, got, 1, c.id)
		assert.Equal(t, AnnouncementPayload{Text: "Server restarting"}, got[0])
	}
}

func TestGateway_KickAll(t *testing.T) {
	g := newTestGateway(t, "admin")

	op := connect(g, "op", "admin")
	a := connect(g, "a", "")
	b := connect(g, "b", "")
	join(t, g, op, "r1", "Operator")
	join(t, g, a, "r1", "A")
	join(t, g, b, "r2", "B")

	g.Dispatch(op.id, MsgTypeModerationCommand, payload(t, ModerationCommandPayload{Command: "kickall"}))

	results := op.ofType(MsgTypeModerationResult)
	require.Len(t, results, 1)
	assert.True(t, results[0].(ModerationResultPayload).Success)

	for _, c := range []*mockConn{op, a, b} {
		assert.Len(t, c.ofType(MsgTypeForceDisconnect), 1, c.id)
		assert.True(t, c.isClosed(), c.id)
	}

	rooms, conns := g.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, conns)

	g.Disconnect("a")
}

func TestGateway_FailedSendClosesConnection(t *testing.T) {
	g := newTestGateway(t, "")

	alice := connect(g, "c1", "")
	bob := connect(g, "c2", "")
	join(t, g, alice, "r1", "Alice")
	join(t, g, bob, "r1", "Bob")

	bob.mu.Lock()
	bob.sendErr = errors.New("buffer full")
	bob.mu.Unlock()

	report(t, g, alice, "r1", 3, true)

	assert.True(t, bob.isClosed())
	assert.False(t, alice.isClosed())
}

func TestGateway_MalformedInput(t *testing.T) {
	g := newTestGateway(t, "")

	alice := connect(g, "c1", "")

	g.Dispatch(alice.id, MsgTypeJoin, []byte(`{not json`))
	g.Dispatch(alice.id, "dance", nil)
	g.Dispatch(alice.id, MsgTypeJoin, payload(t, JoinPayload{RoomID: "", DisplayName: "Alice"}))
	g.Dispatch("nobody", MsgTypeJoin, payload(t, JoinPayload{RoomID: "r1", DisplayName: "Ghost"}))

	codes := []string{}
	for _, e := range alice.ofType(MsgTypeError) {
		codes = append(codes, e.(ErrorPayload).Code)
	}
	assert.Equal(t, []string{"invalid_payload", "unknown_message_type", "InvalidArgument"}, codes)

	rooms, _ := g.Stats()
	assert.Zero(t, rooms)

	g.Dispatch(alice.id, MsgTypePing, nil)
	assert.Len(t, alice.ofType(MsgTypePong), 1)
}
