package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/models"
	"chatrelay/internal/poll"
	"chatrelay/internal/registry"
	"chatrelay/internal/store"
)

// recordingPeer captures every payload the relay pushes at it. Payloads are
// either ServerFrame envelopes (type set) or bare chat messages (kind set).
type recordingPeer struct {
	payloads [][]byte
	sendErr  error
	closed   bool
}

func (p *recordingPeer) Send(payload []byte) error {
	if p.sendErr != nil {
		return p.sendErr
	}
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *recordingPeer) Ping() error  { return nil }
func (p *recordingPeer) Close() error { p.closed = true; return nil }

func (p *recordingPeer) frames(t *testing.T) []models.ServerFrame {
	t.Helper()
	var out []models.ServerFrame
	for _, raw := range p.payloads {
		var f models.ServerFrame
		require.NoError(t, json.Unmarshal(raw, &f))
		if f.Type != "" {
			out = append(out, f)
		}
	}
	return out
}

func (p *recordingPeer) messages(t *testing.T) []models.Message {
	t.Helper()
	var out []models.Message
	for _, raw := range p.payloads {
		var f models.ServerFrame
		require.NoError(t, json.Unmarshal(raw, &f))
		if f.Type != "" {
			continue
		}
		var m models.Message
		require.NoError(t, json.Unmarshal(raw, &m))
		out = append(out, m)
	}
	return out
}

func (p *recordingPeer) reset() { p.payloads = nil }

func newTestRelay(t *testing.T) *Relay {
	t.Helper()
	st, err := store.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return New(registry.New(), st, poll.NewBuffer(100), 50)
}

// join registers a fresh connection and binds it, discarding the setup
// traffic so tests only see the frames they care about.
func join(t *testing.T, r *Relay, roomID, userID string) (*registry.Conn, *recordingPeer) {
	t.Helper()
	peer := &recordingPeer{}
	conn := registry.NewConn(peer)
	r.Registry().Add(conn)
	r.Handle(context.Background(), conn, models.ClientFrame{
		Type:     models.FrameJoin,
		RoomID:   roomID,
		SenderID: userID,
	})
	peer.reset()
	return conn, peer
}

func TestChatEchoesToSenderAndPersistsOnce(t *testing.T) {
	r := newTestRelay(t)
	sender, senderPeer := join(t, r, "r1", "alice")
	_, otherPeer := join(t, r, "r1", "bob")
	senderPeer.reset() // drop bob's join presence

	r.Handle(context.Background(), sender, models.ClientFrame{
		Type:     string(models.KindText),
		SenderID: "mallory", // must be overridden by the bound identity
		Content:  "hello room",
	})

	senderMsgs := senderPeer.messages(t)
	require.Len(t, senderMsgs, 1, "sender receives its own echo")
	otherMsgs := otherPeer.messages(t)
	require.Len(t, otherMsgs, 1)

	echo := senderMsgs[0]
	assert.Equal(t, "alice", echo.SenderID)
	assert.Equal(t, "hello room", echo.Content)
	assert.Equal(t, "r1", echo.RoomID)
	assert.NotEmpty(t, echo.ID)
	assert.NotZero(t, echo.Timestamp)
	assert.Equal(t, echo.ID, otherMsgs[0].ID, "both recipients see the same stored message")

	rows, err := r.Store().ByRoomAndText(context.Background(), "r1", "hello room")
	require.NoError(t, err)
	assert.Len(t, rows, 1, "exactly one row per chat message")
}

func TestChatDoesNotLeakAcrossRooms(t *testing.T) {
	r := newTestRelay(t)
	sender, _ := join(t, r, "r1", "alice")
	_, elsewherePeer := join(t, r, "r2", "carol")

	r.Handle(context.Background(), sender, models.ClientFrame{
		Type:    string(models.KindText),
		Content: "r1 only",
	})

	assert.Empty(t, elsewherePeer.messages(t))
}

func TestJoinDeliversHistoryThenPresence(t *testing.T) {
	r := newTestRelay(t)
	sender, _ := join(t, r, "r1", "alice")
	for _, c := range []string{"first", "second", "third"} {
		r.Handle(context.Background(), sender, models.ClientFrame{Type: string(models.KindText), Content: c})
	}

	peer := &recordingPeer{}
	conn := registry.NewConn(peer)
	r.Registry().Add(conn)
	r.Handle(context.Background(), conn, models.ClientFrame{
		Type:     models.FrameJoin,
		RoomID:   "r1",
		SenderID: "bob",
	})

	frames := peer.frames(t)
	require.Len(t, frames, 2)
	assert.Equal(t, models.FrameJoined, frames[0].Type)
	assert.Equal(t, "r1", frames[0].RoomID)
	assert.Equal(t, "bob", frames[0].UserID)

	require.Equal(t, models.FrameHistory, frames[1].Type)
	history := frames[1].Messages
	require.NotEmpty(t, history)
	for i := 1; i < len(history); i++ {
		assert.GreaterOrEqual(t, history[i].Timestamp, history[i-1].Timestamp, "history arrives oldest-first")
	}
	assert.Equal(t, "third", history[len(history)-1].Content)

	// The joiner never receives its own join announcement.
	assert.Empty(t, peer.messages(t))
}

func TestJoinPresenceGoesToOthersOnly(t *testing.T) {
	r := newTestRelay(t)
	_, residentPeer := join(t, r, "r1", "alice")

	peer := &recordingPeer{}
	conn := registry.NewConn(peer)
	r.Registry().Add(conn)
	r.Handle(context.Background(), conn, models.ClientFrame{
		Type:     models.FrameJoin,
		RoomID:   "r1",
		SenderID: "bob",
	})

	announcements := residentPeer.messages(t)
	require.Len(t, announcements, 1)
	assert.Equal(t, models.KindSystem, announcements[0].Kind)
	assert.Equal(t, models.SystemSender, announcements[0].SenderID)
	assert.Equal(t, "bob joined", announcements[0].Content)
	assert.Empty(t, peer.messages(t))
}

func TestJoinSwitchAnnouncesLeaveToOldRoom(t *testing.T) {
	r := newTestRelay(t)
	_, oldRoomPeer := join(t, r, "r1", "alice")
	mover, _ := join(t, r, "r1", "bob")
	oldRoomPeer.reset()

	r.Handle(context.Background(), mover, models.ClientFrame{
		Type:     models.FrameJoin,
		RoomID:   "r2",
		SenderID: "bob",
	})

	announcements := oldRoomPeer.messages(t)
	require.Len(t, announcements, 1)
	assert.Equal(t, "bob left", announcements[0].Content)
	assert.Len(t, r.Registry().MembersOf("r1"), 1, "old room keeps only alice")
	assert.Len(t, r.Registry().MembersOf("r2"), 1)
}

func TestInvalidJoinIsRejectedWithoutSideEffects(t *testing.T) {
	r := newTestRelay(t)
	_, residentPeer := join(t, r, "r1", "alice")

	peer := &recordingPeer{}
	conn := registry.NewConn(peer)
	r.Registry().Add(conn)
	r.Handle(context.Background(), conn, models.ClientFrame{
		Type:     models.FrameJoin,
		SenderID: "bob",
	})

	frames := peer.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, models.FrameError, frames[0].Type)
	assert.Contains(t, frames[0].Content, "room_id")

	_, _, bound := r.Registry().Binding(conn)
	assert.False(t, bound, "failed join must not bind the connection")
	assert.Empty(t, residentPeer.messages(t), "nothing is broadcast for a rejected join")
}

func TestChatBeforeJoinIsRejected(t *testing.T) {
	r := newTestRelay(t)
	peer := &recordingPeer{}
	conn := registry.NewConn(peer)
	r.Registry().Add(conn)

	r.Handle(context.Background(), conn, models.ClientFrame{
		Type:    string(models.KindText),
		Content: "into the void",
	})

	frames := peer.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, models.FrameError, frames[0].Type)

	rows, err := r.Store().ByRoomAndText(context.Background(), "", "into the void")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEmptyContentIsRejected(t *testing.T) {
	r := newTestRelay(t)
	sender, peer := join(t, r, "r1", "alice")

	r.Handle(context.Background(), sender, models.ClientFrame{Type: string(models.KindText)})

	frames := peer.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, models.FrameError, frames[0].Type)
	assert.Contains(t, frames[0].Content, "content")
}

func TestChatContentIsSanitized(t *testing.T) {
	r := newTestRelay(t)
	sender, peer := join(t, r, "r1", "alice")

	r.Handle(context.Background(), sender, models.ClientFrame{
		Type:    string(models.KindText),
		Content: `hi <script>alert("x")</script>there`,
	})

	msgs := peer.messages(t)
	require.Len(t, msgs, 1)
	assert.NotContains(t, msgs[0].Content, "<script>")
	assert.Contains(t, msgs[0].Content, "hi")
}

func TestMediaFieldsOnlyForMediaKinds(t *testing.T) {
	r := newTestRelay(t)
	sender, peer := join(t, r, "r1", "alice")

	r.Handle(context.Background(), sender, models.ClientFrame{
		Type:     string(models.KindText),
		Content:  "plain",
		FileName: "sneaky.bin",
		FileSize: 99,
	})
	r.Handle(context.Background(), sender, models.ClientFrame{
		Type:     string(models.KindAudio),
		Content:  "uploads/a.ogg",
		FileName: "a.ogg",
		FileSize: 2048,
		Duration: 7,
		MimeType: "audio/ogg",
	})

	msgs := peer.messages(t)
	require.Len(t, msgs, 2)
	assert.Empty(t, msgs[0].FileName, "text messages carry no media fields")
	assert.Zero(t, msgs[0].FileSize)
	assert.Equal(t, "a.ogg", msgs[1].FileName)
	assert.EqualValues(t, 2048, msgs[1].FileSize)
	assert.Equal(t, 7, msgs[1].Duration)
}

func TestPingAnswersPong(t *testing.T) {
	r := newTestRelay(t)
	conn, peer := join(t, r, "r1", "alice")

	r.Handle(context.Background(), conn, models.ClientFrame{Type: models.FramePing})

	frames := peer.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, models.FramePong, frames[0].Type)
	assert.NotZero(t, frames[0].Timestamp)
}

func TestUnknownFrameIsDropped(t *testing.T) {
	r := newTestRelay(t)
	conn, peer := join(t, r, "r1", "alice")

	r.Handle(context.Background(), conn, models.ClientFrame{Type: "sing", Content: "la"})

	assert.Empty(t, peer.payloads)
}

func TestFanOutSurvivesFailingPeer(t *testing.T) {
	r := newTestRelay(t)
	sender, _ := join(t, r, "r1", "alice")
	_, healthyPeer := join(t, r, "r1", "carol")

	failing := registry.NewConn(&recordingPeer{sendErr: errors.New("buffer full")})
	r.Registry().Add(failing)
	r.Registry().Join(failing, "r1", "bob")
	healthyPeer.reset()

	r.Handle(context.Background(), sender, models.ClientFrame{
		Type:    string(models.KindText),
		Content: "still delivered",
	})

	msgs := healthyPeer.messages(t)
	require.Len(t, msgs, 1, "one member's dead socket must not starve the rest")
	assert.Equal(t, "still delivered", msgs[0].Content)
}

func TestLeaveAnnouncesAndUnbinds(t *testing.T) {
	r := newTestRelay(t)
	leaver, leaverPeer := join(t, r, "r1", "alice")
	_, residentPeer := join(t, r, "r1", "bob")
	leaverPeer.reset()

	r.Handle(context.Background(), leaver, models.ClientFrame{Type: models.FrameLeave})

	announcements := residentPeer.messages(t)
	require.Len(t, announcements, 1)
	assert.Equal(t, "alice left", announcements[0].Content)
	assert.Empty(t, leaverPeer.messages(t), "the leaver is excluded from its own announcement")

	_, _, bound := r.Registry().Binding(leaver)
	assert.False(t, bound)

	// A second leave finds no binding and stays silent.
	residentPeer.reset()
	r.Handle(context.Background(), leaver, models.ClientFrame{Type: models.FrameLeave})
	assert.Empty(t, residentPeer.messages(t))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	r := newTestRelay(t)
	gone, _ := join(t, r, "r1", "alice")
	_, residentPeer := join(t, r, "r1", "bob")

	r.Disconnect(context.Background(), gone)
	r.Disconnect(context.Background(), gone)

	announcements := residentPeer.messages(t)
	require.Len(t, announcements, 1, "racing teardowns announce exactly once")
	assert.Equal(t, "alice left", announcements[0].Content)
	assert.Equal(t, 1, r.Registry().Len())
}

func TestPublishReachesLiveMembersAndMirror(t *testing.T) {
	r := newTestRelay(t)
	_, memberPeer := join(t, r, "r1", "alice")

	msg, err := r.Publish(context.Background(), models.Message{
		RoomID:   "r1",
		SenderID: "poller-7",
		Content:  "sent over http",
	})
	require.NoError(t, err)
	assert.Equal(t, models.KindText, msg.Kind, "kind defaults to text")
	assert.NotEmpty(t, msg.ID)
	assert.NotZero(t, msg.Timestamp)

	delivered := memberPeer.messages(t)
	require.Len(t, delivered, 1)
	assert.Equal(t, msg.ID, delivered[0].ID)

	mirrored := r.Mirror().Since(0, "")
	require.Len(t, mirrored, 1)
	assert.Equal(t, "sent over http", mirrored[0].Content)

	// And the poller's own cursor skips it.
	assert.Empty(t, r.Mirror().Since(0, "poller-7"))
}

func TestPublishValidation(t *testing.T) {
	r := newTestRelay(t)

	var vErr *ValidationError
	_, err := r.Publish(context.Background(), models.Message{SenderID: "u", Content: "c"})
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "room_id", vErr.Field)

	_, err = r.Publish(context.Background(), models.Message{RoomID: "r", Content: "c"})
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "sender_id", vErr.Field)

	_, err = r.Publish(context.Background(), models.Message{RoomID: "r", SenderID: "u"})
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "content", vErr.Field)

	_, err = r.Publish(context.Background(), models.Message{RoomID: "r", SenderID: "u", Content: "c", Kind: "carrier-pigeon"})
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "kind", vErr.Field)
}

func TestAnnounceJoinBroadcastsToEveryone(t *testing.T) {
	r := newTestRelay(t)
	_, memberPeer := join(t, r, "r1", "alice")

	msg, err := r.AnnounceJoin(context.Background(), "r1", "poller-7")
	require.NoError(t, err)
	assert.Equal(t, models.KindSystem, msg.Kind)
	assert.Equal(t, "poller-7 joined", msg.Content)

	delivered := memberPeer.messages(t)
	require.Len(t, delivered, 1)
	assert.Equal(t, msg.ID, delivered[0].ID)

	_, err = r.AnnounceJoin(context.Background(), "", "poller-7")
	assert.Error(t, err)
}

func TestChatPopulatesMirror(t *testing.T) {
	r := newTestRelay(t)
	sender, _ := join(t, r, "r1", "alice")

	r.Handle(context.Background(), sender, models.ClientFrame{
		Type:    string(models.KindText),
		Content: "mirrored",
	})

	got := r.Mirror().Since(0, "")
	require.Len(t, got, 1)
	assert.Equal(t, "mirrored", got[0].Content)
	// The sender's own chat is filtered from its poll view.
	assert.Empty(t, r.Mirror().Since(0, "alice"))
}
