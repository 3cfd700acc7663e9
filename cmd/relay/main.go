package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"chatrelay/internal/config"
	"chatrelay/internal/poll"
	"chatrelay/internal/registry"
	"chatrelay/internal/relay"
	"chatrelay/internal/server"
	"chatrelay/internal/store"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBDriver, cfg.DSN)
	if err != nil {
		log.Fatalf("store connect error: %v", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		log.Fatalf("migration error: %v", err)
	}

	reg := registry.New()
	mirror := poll.NewBuffer(cfg.PollCapacity)
	rel := relay.New(reg, st, mirror, cfg.HistoryPageSize)

	monitor := relay.NewMonitor(rel, cfg.HeartbeatInterval)
	go monitor.Run(ctx)

	srv := server.NewServer(":"+cfg.Port, rel, st, log.StandardLogger(), cfg.MessageRate)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}

	log.Println("server stopped")
}
