package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	logger "github.com/chi-middleware/logrus-logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"chatrelay/internal/handlers"
	"chatrelay/internal/handlers/room"
	"chatrelay/internal/relay"
	"chatrelay/internal/store"
)

type Server struct {
	Addr        string
	Relay       *relay.Relay
	Store       *store.Store
	Log         *logrus.Logger
	MessageRate int

	start time.Time
}

func NewServer(addr string, rel *relay.Relay, st *store.Store, log *logrus.Logger, messageRate int) *Server {
	return &Server{
		Addr:        addr,
		Relay:       rel,
		Store:       st,
		Log:         log,
		MessageRate: messageRate,
		start:       time.Now(),
	}
}

func HandlerFunc(h http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r)
	}
}

// Router builds the full route table. Split out from Run so tests can mount
// it on httptest servers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(logger.Logger("router", s.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintln(w, "chat relay is running")
	})
	r.Get("/health", HandlerFunc(&handlers.HealthHandler{Registry: s.Relay.Registry(), Start: s.start}))
	r.Get("/stats", HandlerFunc(&handlers.StatsHandler{Store: s.Store}))
	r.Get("/poll", HandlerFunc(&handlers.PollHandler{Mirror: s.Relay.Mirror()}))

	r.Route("/rooms", func(r chi.Router) {
		r.Get("/", HandlerFunc(&room.RoomListHandler{Store: s.Store, Registry: s.Relay.Registry()}))
		r.Post("/{id}/messages", HandlerFunc(&room.SendMessageHandler{Relay: s.Relay}))
		r.Get("/{id}/messages", HandlerFunc(&room.RoomMessagesHandler{Store: s.Store}))
		r.Post("/{id}/join", HandlerFunc(&room.JoinRoomHandler{Relay: s.Relay}))
		r.Get("/{id}/search", HandlerFunc(&room.RoomSearchHandler{Store: s.Store}))
	})

	// Push channel. Liveness is handled by the relay's monitor, so no HTTP
	// read/write timeouts may apply here.
	r.Get("/ws", HandlerFunc(&handlers.WSHandler{Relay: s.Relay, MessageRate: s.MessageRate}))

	return r
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.Addr,
		Handler: s.Router(),
		// No global read/write timeouts: they would tear down long-lived
		// websocket sessions. Header reads still get a bound.
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Log.Printf("server running on %s", s.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
