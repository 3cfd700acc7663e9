// Package relay validates, normalizes, persists and fans out messages, and
// orchestrates the join/leave side effects around the connection registry.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	log "github.com/sirupsen/logrus"

	"chatrelay/internal/models"
	"chatrelay/internal/poll"
	"chatrelay/internal/registry"
	"chatrelay/internal/store"
)

const DefaultHistorySize = 50

// Relay wires the registry, store and poll mirror into one write path with
// two read paths (push broadcast, poll cursor).
type Relay struct {
	reg         *registry.Registry
	store       *store.Store
	mirror      *poll.Buffer
	sanitizer   *bluemonday.Policy
	historySize int
}

func New(reg *registry.Registry, st *store.Store, mirror *poll.Buffer, historySize int) *Relay {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Relay{
		reg:         reg,
		store:       st,
		mirror:      mirror,
		sanitizer:   bluemonday.StrictPolicy(),
		historySize: historySize,
	}
}

// Handle processes one inbound frame from a push-channel connection. The
// transport calls it sequentially per connection, which is what gives a
// single sender's messages their ordering guarantee.
func (r *Relay) Handle(ctx context.Context, conn *registry.Conn, frame models.ClientFrame) {
	switch frame.Type {
	case models.FrameJoin:
		r.handleJoin(ctx, conn, frame)
	case models.FrameLeave:
		r.handleLeave(ctx, conn)
	case string(models.KindText), string(models.KindAudio), string(models.KindVideo):
		r.handleChat(ctx, conn, frame)
	case string(models.KindSystem):
		r.handleSystem(ctx, conn, frame)
	case models.FramePing:
		r.sendFrame(conn, models.ServerFrame{Type: models.FramePong, Timestamp: nowMillis()})
	default:
		log.Printf("dropping unknown frame type %q from %s", frame.Type, conn.ID)
	}
}

func (r *Relay) handleJoin(ctx context.Context, conn *registry.Conn, frame models.ClientFrame) {
	if frame.RoomID == "" {
		r.sendError(conn, &ValidationError{Field: "room_id"})
		return
	}
	if frame.SenderID == "" {
		r.sendError(conn, &ValidationError{Field: "sender_id"})
		return
	}

	// The history fetch is issued before the connection becomes a member,
	// so no message can be both in the page and broadcast to it. A message
	// persisted between fetch and registration is neither duplicated nor
	// guaranteed delivered; that window is accepted.
	page, err := r.store.PageByRoom(ctx, frame.RoomID, 1, r.historySize)
	if err != nil {
		log.Printf("history fetch for %s failed: %v", frame.RoomID, err)
	}

	prevRoom, prevUser, switched := r.reg.Join(conn, frame.RoomID, frame.SenderID)
	if switched {
		r.presence(ctx, prevRoom, prevUser, "left", conn)
	}

	r.sendFrame(conn, models.ServerFrame{
		Type:      models.FrameJoined,
		RoomID:    frame.RoomID,
		UserID:    frame.SenderID,
		Timestamp: nowMillis(),
	})

	// Reverse to chronological order so the client renders oldest-first.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	r.sendFrame(conn, models.ServerFrame{
		Type:      models.FrameHistory,
		RoomID:    frame.RoomID,
		Timestamp: nowMillis(),
		Messages:  page,
	})

	r.presence(ctx, frame.RoomID, frame.SenderID, "joined", conn)
}

func (r *Relay) handleLeave(ctx context.Context, conn *registry.Conn) {
	roomID, userID, ok := r.reg.Leave(conn)
	if !ok {
		return
	}
	r.presence(ctx, roomID, userID, "left", conn)
}

// Disconnect is full teardown: transport gone, or liveness eviction. It is
// modeled identically to a graceful leave, followed by removal from the
// connection table. Safe to call more than once.
func (r *Relay) Disconnect(ctx context.Context, conn *registry.Conn) {
	roomID, userID, ok := r.reg.Remove(conn)
	if !ok {
		return
	}
	r.presence(ctx, roomID, userID, "left", conn)
}

func (r *Relay) handleChat(ctx context.Context, conn *registry.Conn, frame models.ClientFrame) {
	roomID, userID, ok := r.reg.Binding(conn)
	if !ok {
		r.sendError(conn, &NotJoinedError{})
		return
	}
	if frame.Content == "" {
		r.sendError(conn, &ValidationError{Field: "content"})
		return
	}

	kind := models.Kind(frame.Type)
	msg := models.Message{
		Kind:     kind,
		RoomID:   roomID,
		SenderID: userID, // forced to the bound identity, never trusted from the frame
		Content:  r.sanitizer.Sanitize(frame.Content),
	}
	if kind.IsMedia() {
		msg.FileName = frame.FileName
		msg.FileSize = frame.FileSize
		msg.Duration = frame.Duration
		msg.Thumbnail = frame.Thumbnail
		msg.MimeType = frame.MimeType
	}
	if frame.Timestamp != 0 {
		msg.Timestamp = frame.Timestamp
	} else {
		msg.Timestamp = nowMillis()
	}

	r.persist(ctx, &msg)

	// Chat messages echo back to the sender as well: the sending client
	// relies on the echo to confirm durability and timestamp assignment.
	r.broadcast(roomID, msg, nil)
	r.mirror.Add(msg)
}

func (r *Relay) handleSystem(ctx context.Context, conn *registry.Conn, frame models.ClientFrame) {
	roomID, _, ok := r.reg.Binding(conn)
	if !ok {
		return
	}
	if frame.Content == "" {
		r.sendError(conn, &ValidationError{Field: "content"})
		return
	}

	msg := models.Message{
		Kind:      models.KindSystem,
		RoomID:    roomID,
		SenderID:  models.SystemSender,
		Content:   r.sanitizer.Sanitize(frame.Content),
		Timestamp: nowMillis(),
	}
	r.persist(ctx, &msg)
	r.broadcast(roomID, msg, nil)
	r.mirror.Add(msg)
}

// Publish is the pull-channel write path: normalize, persist, fan out to
// whatever live members the room has, and mirror for polling clients. The
// returned message carries the assigned ID and timestamp.
func (r *Relay) Publish(ctx context.Context, msg models.Message) (models.Message, error) {
	if msg.RoomID == "" {
		return models.Message{}, &ValidationError{Field: "room_id"}
	}
	if msg.SenderID == "" {
		return models.Message{}, &ValidationError{Field: "sender_id"}
	}
	if msg.Content == "" {
		return models.Message{}, &ValidationError{Field: "content"}
	}
	if msg.Kind == "" {
		msg.Kind = models.KindText
	}
	if !msg.Kind.Valid() {
		return models.Message{}, &ValidationError{Field: "kind"}
	}
	if !msg.Kind.IsMedia() {
		msg.FileName, msg.Thumbnail, msg.MimeType = "", "", ""
		msg.FileSize, msg.Duration = 0, 0
	}

	msg.Content = r.sanitizer.Sanitize(msg.Content)
	if msg.Timestamp == 0 {
		msg.Timestamp = nowMillis()
	}
	msg.ID = ""

	r.persist(ctx, &msg)
	r.broadcast(msg.RoomID, msg, nil)
	r.mirror.Add(msg)
	return msg, nil
}

// AnnounceJoin lets pull-channel clients announce presence without holding
// a live connection.
func (r *Relay) AnnounceJoin(ctx context.Context, roomID, userID string) (models.Message, error) {
	if roomID == "" {
		return models.Message{}, &ValidationError{Field: "room_id"}
	}
	if userID == "" {
		return models.Message{}, &ValidationError{Field: "sender_id"}
	}
	return r.presence(ctx, roomID, userID, "joined", nil), nil
}

// presence emits a join/leave system message to the room, excluding the
// connection that triggered it (pull-channel announces exclude nobody).
func (r *Relay) presence(ctx context.Context, roomID, userID, verb string, exclude *registry.Conn) models.Message {
	msg := models.Message{
		Kind:      models.KindSystem,
		RoomID:    roomID,
		SenderID:  models.SystemSender,
		Content:   fmt.Sprintf("%s %s", userID, verb),
		Timestamp: nowMillis(),
	}
	r.persist(ctx, &msg)
	r.broadcast(roomID, msg, exclude)
	r.mirror.Add(msg)
	return msg
}

// persist appends to the store. Durability and delivery are decoupled: on a
// store failure the message still gets an ephemeral ID and the broadcast
// proceeds.
func (r *Relay) persist(ctx context.Context, msg *models.Message) {
	if _, err := r.store.Append(ctx, msg); err != nil {
		log.Printf("append failed, continuing delivery: %v", err)
		msg.ID = uuid.NewString()
		msg.CreatedAt = time.Now().UTC()
	}
}

// broadcast sends one message independently to each current member of the
// room. The snapshot is taken here, synchronously, never cached across a
// persistence call. A failed send is logged and skipped.
func (r *Relay) broadcast(roomID string, msg models.Message, exclude *registry.Conn) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("marshal broadcast for %s: %v", roomID, err)
		return
	}
	for _, member := range r.reg.MembersOf(roomID) {
		if member == exclude {
			continue
		}
		if err := member.Send(payload); err != nil {
			sendErr := &TransportSendError{ConnID: member.ID, Err: err}
			log.Printf("%v (room %s)", sendErr, roomID)
		}
	}
}

func (r *Relay) sendFrame(conn *registry.Conn, frame models.ServerFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		log.Printf("marshal %s frame: %v", frame.Type, err)
		return
	}
	if err := conn.Send(payload); err != nil {
		log.Printf("send %s frame to %s: %v", frame.Type, conn.ID, err)
	}
}

func (r *Relay) sendError(conn *registry.Conn, cause error) {
	r.sendFrame(conn, models.ServerFrame{
		Type:      models.FrameError,
		Content:   cause.Error(),
		Timestamp: nowMillis(),
	})
}

// SendWelcome greets a freshly established connection before it joins.
func (r *Relay) SendWelcome(conn *registry.Conn) {
	r.sendFrame(conn, models.ServerFrame{
		Type:      models.FrameSystem,
		Content:   "connected to chat relay",
		Timestamp: nowMillis(),
	})
}

// Registry exposes the registry for transports that need to register
// connections and for read-only membership queries.
func (r *Relay) Registry() *registry.Registry { return r.reg }

// Mirror exposes the poll buffer for the pull channel.
func (r *Relay) Mirror() *poll.Buffer { return r.mirror }

// Store exposes the persistence store for the pull channel's history reads.
func (r *Relay) Store() *store.Store { return r.store }

func nowMillis() int64 { return time.Now().UTC().UnixMilli() }
