package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"chatrelay/internal/models"
	"chatrelay/internal/registry"
	"chatrelay/internal/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsPeer adapts a gorilla connection to the registry's Peer interface. All
// writes funnel through one pump goroutine because the websocket allows a
// single concurrent writer; a nil payload on the channel means "send a ping
// control frame".
type wsPeer struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSPeer(conn *websocket.Conn) *wsPeer {
	return &wsPeer{
		conn: conn,
		send: make(chan []byte, 256),
		done: make(chan struct{}),
	}
}

var errPeerGone = errors.New("connection closed")
var errSendFull = errors.New("send buffer full")

func (p *wsPeer) Send(payload []byte) error {
	select {
	case <-p.done:
		return errPeerGone
	case p.send <- payload:
		return nil
	default:
		// A slow reader does not get to stall the whole room.
		return errSendFull
	}
}

func (p *wsPeer) Ping() error {
	select {
	case <-p.done:
		return errPeerGone
	case p.send <- nil:
		return nil
	default:
		return errSendFull
	}
}

func (p *wsPeer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.conn.Close()
	})
	return err
}

func (p *wsPeer) writePump() {
	for {
		select {
		case <-p.done:
			return
		case payload := <-p.send:
			var err error
			if payload == nil {
				err = p.conn.WriteMessage(websocket.PingMessage, nil)
			} else {
				err = p.conn.WriteMessage(websocket.TextMessage, payload)
			}
			if err != nil {
				p.Close()
				return
			}
		}
	}
}

// WSHandler upgrades HTTP to WebSocket and runs the per-connection read
// loop. Frames are dispatched to the relay one at a time, which preserves
// the order of a single sender's messages.
type WSHandler struct {
	Relay *relay.Relay

	// MessageRate caps chat frames per minute per connection; 0 disables.
	MessageRate int
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	peer := newWSPeer(sock)
	go peer.writePump()

	conn := registry.NewConn(peer)
	h.Relay.Registry().Add(conn)
	h.Relay.SendWelcome(conn)

	sock.SetPongHandler(func(string) error {
		conn.MarkAlive()
		return nil
	})

	var limiter *rate.Limiter
	if h.MessageRate > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(h.MessageRate)), h.MessageRate)
	}

	ctx := r.Context()
	defer func() {
		h.Relay.Disconnect(ctx, conn)
		peer.Close()
	}()

	for {
		_, raw, err := sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read from %s: %v", conn.ID, err)
			}
			return
		}
		conn.MarkAlive()

		var frame models.ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			// Malformed frames get a generic error reply and are otherwise
			// ignored; they never terminate the connection.
			sendErrorFrame(conn, "invalid message format")
			continue
		}

		if limiter != nil && isChatFrame(frame.Type) && !limiter.Allow() {
			sendErrorFrame(conn, "rate limit exceeded, slow down")
			continue
		}

		h.Relay.Handle(ctx, conn, frame)
	}
}

func isChatFrame(t string) bool {
	switch models.Kind(t) {
	case models.KindText, models.KindAudio, models.KindVideo, models.KindSystem:
		return true
	}
	return false
}

func sendErrorFrame(conn *registry.Conn, msg string) {
	payload, _ := json.Marshal(models.ServerFrame{
		Type:      models.FrameError,
		Content:   msg,
		Timestamp: time.Now().UTC().UnixMilli(),
	})
	if err := conn.Send(payload); err != nil {
		log.Printf("error frame to %s: %v", conn.ID, err)
	}
}
