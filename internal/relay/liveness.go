package relay

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const DefaultHeartbeatInterval = 30 * time.Second

// Monitor periodically probes every open connection and evicts the ones
// that stayed silent for a full interval. Two strikes: a connection is only
// evicted after missing one whole interval with no observed response, so a
// single late pong never kills it.
type Monitor struct {
	relay    *Relay
	interval time.Duration
}

func NewMonitor(r *Relay, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Monitor{relay: r, interval: interval}
}

// Run blocks until the context is cancelled. Start it in its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep performs one probe round. Exported so tests can tick manually.
// Iteration works over a snapshot and tolerates connections removed
// concurrently; eviction is modeled identically to a client disconnect.
func (m *Monitor) Sweep(ctx context.Context) {
	for _, conn := range m.relay.Registry().Connections() {
		if !conn.Alive() {
			log.Printf("evicting unresponsive connection %s", conn.ID)
			if err := conn.Close(); err != nil {
				log.Printf("close %s: %v", conn.ID, err)
			}
			m.relay.Disconnect(ctx, conn)
			continue
		}

		conn.ClearAlive()
		if err := conn.Ping(); err != nil {
			log.Printf("probe %s: %v", conn.ID, err)
		}
	}
}
