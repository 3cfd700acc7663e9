package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	Port     string
	DBDriver string // "sqlite3" or "mysql"
	DSN      string

	HistoryPageSize   int           // messages per history page on join
	PollCapacity      int           // poll mirror ring size
	HeartbeatInterval time.Duration // liveness probe interval
	MessageRate       int           // per-connection messages/minute, 0 disables
	Env               string
}

func Load() *Config {
	_ = godotenv.Load()

	c := &Config{
		Port:              getEnv("PORT", "8080"),
		DBDriver:          getEnv("DB_DRIVER", "sqlite3"),
		DSN:               getEnv("DB_DSN", "file:chatrelay.db?_busy_timeout=5000"),
		HistoryPageSize:   getEnvInt("HISTORY_PAGE_SIZE", 50),
		PollCapacity:      getEnvInt("POLL_CAPACITY", 500),
		HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		MessageRate:       getEnvInt("MESSAGE_RATE", 0),
		Env:               getEnv("ENV", "dev"),
	}

	// sqlite3 can fall back to a local file; mysql cannot guess a server.
	if c.DBDriver == "mysql" && os.Getenv("DB_DSN") == "" {
		log.Fatal("missing env: DB_DSN (required for mysql)")
	}

	log.Printf("config loaded: env=%s port=%s driver=%s", c.Env, c.Port, c.DBDriver)
	return c
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("invalid %s=%q, using %d", k, v, def)
		return def
	}
	return n
}

func getEnvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("invalid %s=%q, using %s", k, v, def)
		return def
	}
	return d
}
