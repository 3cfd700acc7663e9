package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"chatrelay/internal/models"
)

// StoreError wraps a persistence I/O failure. The relay logs it and keeps
// delivering; it never rolls back an in-memory broadcast.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Store is the durable append-only message log. It is the authoritative
// source of truth; the poll mirror is not.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the configured database and verifies the connection.
func Open(driver, dsn string) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if driver == "sqlite3" {
		// sqlite serializes writers; more connections just contend.
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	log.Printf("database connected (%s)", driver)
	return &Store{db: db, driver: driver}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Append durably writes a message, assigning its ID and CreatedAt. The
// caller's Timestamp is kept as-is; CreatedAt records insertion time and is
// distinct from it.
func (s *Store) Append(ctx context.Context, m *models.Message) (string, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages
			(room_id, sender_id, kind, content, file_name, file_size, duration, thumbnail, mime_type, timestamp_ms, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RoomID, m.SenderID, string(m.Kind), m.Content,
		m.FileName, m.FileSize, m.Duration, m.Thumbnail, m.MimeType,
		m.Timestamp, now.UnixMilli(),
	)
	if err != nil {
		return "", &StoreError{Op: "append", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", &StoreError{Op: "append", Err: err}
	}

	m.ID = strconv.FormatInt(id, 10)
	m.CreatedAt = now

	s.TouchRoom(ctx, m.RoomID)
	return m.ID, nil
}

// TouchRoom upserts into the best-effort rooms reference table. It is not
// authoritative and failures are only logged.
func (s *Store) TouchRoom(ctx context.Context, roomID string) {
	var q string
	switch s.driver {
	case "mysql":
		q = `INSERT INTO rooms (room_id, last_seen_ms) VALUES (?, ?)
			ON DUPLICATE KEY UPDATE last_seen_ms = VALUES(last_seen_ms)`
	default:
		q = `INSERT INTO rooms (room_id, last_seen_ms) VALUES (?, ?)
			ON CONFLICT(room_id) DO UPDATE SET last_seen_ms = excluded.last_seen_ms`
	}
	if _, err := s.db.ExecContext(ctx, q, roomID, time.Now().UnixMilli()); err != nil {
		log.Printf("rooms table upsert failed for %q: %v", roomID, err)
	}
}

const selectCols = `id, room_id, sender_id, kind, content, file_name, file_size, duration, thumbnail, mime_type, timestamp_ms, created_at_ms`

// PageByRoom returns up to size messages for a room, most-recent-first,
// skipping (page-1)*size rows. Offset pagination: a message may show up on
// two pages or on none when inserts land between fetches. Kept for
// compatibility with existing clients rather than replaced with a cursor.
func (s *Store) PageByRoom(ctx context.Context, roomID string, page, size int) ([]models.Message, error) {
	if page < 1 {
		page = 1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectCols+` FROM messages
		WHERE room_id = ? ORDER BY id DESC LIMIT ? OFFSET ?`,
		roomID, size, (page-1)*size)
	if err != nil {
		return nil, &StoreError{Op: "page_by_room", Err: err}
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ByID fetches one message; (nil, nil) when it does not exist.
func (s *Store) ByID(ctx context.Context, id string) (*models.Message, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		// Ephemeral UUID echo IDs never hit the store.
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectCols+` FROM messages WHERE id = ?`, n)
	if err != nil {
		return nil, &StoreError{Op: "by_id", Err: err}
	}
	defer rows.Close()
	msgs, err := scanMessages(rows)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

// DeleteByID removes a message; deleting a missing id is not an error.
func (s *Store) DeleteByID(ctx context.Context, id string) error {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, n); err != nil {
		return &StoreError{Op: "delete_by_id", Err: err}
	}
	return nil
}

// DeleteByRoom removes every message for a room and reports how many went.
func (s *Store) DeleteByRoom(ctx context.Context, roomID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE room_id = ?`, roomID)
	if err != nil {
		return 0, &StoreError{Op: "delete_by_room", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ByRoomAndText returns a room's messages whose content contains the
// substring, most-recent-first.
func (s *Store) ByRoomAndText(ctx context.Context, roomID, substr string) ([]models.Message, error) {
	pattern := "%" + escapeLike(substr) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectCols+` FROM messages
		WHERE room_id = ? AND content LIKE ? ESCAPE '!'
		ORDER BY id DESC LIMIT 200`,
		roomID, pattern)
	if err != nil {
		return nil, &StoreError{Op: "by_room_and_text", Err: err}
	}
	defer rows.Close()
	return scanMessages(rows)
}

// BySender returns a sender's most recent messages across all rooms.
func (s *Store) BySender(ctx context.Context, senderID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectCols+` FROM messages
		WHERE sender_id = ? ORDER BY id DESC LIMIT ?`,
		senderID, limit)
	if err != nil {
		return nil, &StoreError{Op: "by_sender", Err: err}
	}
	defer rows.Close()
	return scanMessages(rows)
}

// Stats summarizes the message log.
type Stats struct {
	TotalMessages int64            `json:"total_messages"`
	ByKind        map[string]int64 `json:"by_kind"`
	Rooms         int64            `json:"rooms"`
	Senders       int64            `json:"senders"`
}

// AggregateStats returns totals over the whole log.
func (s *Store) AggregateStats(ctx context.Context) (Stats, error) {
	st := Stats{ByKind: make(map[string]int64)}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT room_id), COUNT(DISTINCT sender_id) FROM messages`).
		Scan(&st.TotalMessages, &st.Rooms, &st.Senders)
	if err != nil {
		return Stats{}, &StoreError{Op: "aggregate_stats", Err: err}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM messages GROUP BY kind`)
	if err != nil {
		return Stats{}, &StoreError{Op: "aggregate_stats", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return Stats{}, &StoreError{Op: "aggregate_stats", Err: err}
		}
		st.ByKind[kind] = n
	}
	return st, rows.Err()
}

// ListRooms merges the reference table with rooms derived from message
// history. Room existence is derived, never trusted to the table alone.
func (s *Store) ListRooms(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id FROM rooms
		UNION
		SELECT DISTINCT room_id FROM messages
		ORDER BY room_id`)
	if err != nil {
		return nil, &StoreError{Op: "list_rooms", Err: err}
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, &StoreError{Op: "list_rooms", Err: err}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	var out []models.Message
	for rows.Next() {
		var (
			m         models.Message
			id        int64
			kind      string
			createdMs int64
		)
		if err := rows.Scan(&id, &m.RoomID, &m.SenderID, &kind, &m.Content,
			&m.FileName, &m.FileSize, &m.Duration, &m.Thumbnail, &m.MimeType,
			&m.Timestamp, &createdMs); err != nil {
			return nil, &StoreError{Op: "scan", Err: err}
		}
		m.ID = strconv.FormatInt(id, 10)
		m.Kind = models.Kind(kind)
		m.CreatedAt = time.UnixMilli(createdMs).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "scan", Err: err}
	}
	return out, nil
}

// escapeLike neutralizes LIKE metacharacters using '!' as the escape rune,
// which both dialects accept without string-literal backslash quirks.
func escapeLike(s string) string {
	r := strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`)
	return r.Replace(s)
}
