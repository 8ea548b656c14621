// Package trace records key events flowing through the filter into a
// SQLite database so that sessions can be inspected and replayed.
package trace

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"thumbshift/internal/filter"
	"thumbshift/internal/keyevent"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Direction tells where an event was observed.
type Direction string

const (
	// In is a raw event fed to the filter.
	In Direction = "in"
	// Out is an event returned synchronously by the filter.
	Out Direction = "out"
	// Fwd is an event resolved out of band and forwarded.
	Fwd Direction = "fwd"
	// Reset marks the pending queue being discarded. The event name holds
	// the reason.
	Reset Direction = "reset"
)

// Session is one recording run with the thresholds in force when it began.
type Session struct {
	ID        int64
	UUID      string
	StartedUs int64
	Note      string
	Config    filter.Config
}

// Event is one recorded key event.
type Event struct {
	ID        int64
	SessionID int64
	Seq       int64
	TimeUs    int64
	Direction Direction
	Key       keyevent.KeyEvent
}

// Store is the SQLite trace database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the trace database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open trace database: %w", err)
	}
	// One connection keeps sequence numbering inside a single writer.
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// migrateUp applies the embedded schema migrations.
func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	// m.Close would close db as well.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// StartSession creates a session and returns its ID. The session also gets
// a random UUID that stays unique when traces from several machines are
// compared.
func (s *Store) StartSession(note string, startedUs int64, cfg filter.Config) (int64, error) {
	doubles, err := json.Marshal(cfg.SpecialDoubles)
	if err != nil {
		return 0, fmt.Errorf("encode special doubles: %w", err)
	}

	result, err := s.db.Exec(`
		INSERT INTO sessions (uuid, started_us, note, timeout_us, overlap_us, maxwait_us, doubles)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), startedUs, note, cfg.Timeout, cfg.Overlap, cfg.MaxWait, string(doubles),
	)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// Record appends events to their sessions in one transaction. Events
// without a sequence number are numbered after the last one stored for
// their session.
func (s *Store) Record(events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO events (session_id, seq, time_us, direction, name, code, modifiers)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	next := make(map[int64]int64)
	for _, e := range events {
		seq := e.Seq
		if seq == 0 {
			n, ok := next[e.SessionID]
			if !ok {
				if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM events WHERE session_id = ?`,
					e.SessionID).Scan(&n); err != nil {
					return fmt.Errorf("next sequence: %w", err)
				}
			}
			seq = n + 1
		}
		next[e.SessionID] = max(next[e.SessionID], seq)

		if _, err := stmt.Exec(e.SessionID, seq, e.TimeUs, string(e.Direction),
			e.Key.Name, int64(e.Key.Code), int64(e.Key.Modifiers)); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Session returns one session, or nil if it does not exist.
func (s *Store) Session(id int64) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, uuid, started_us, note, timeout_us, overlap_us, maxwait_us, doubles
		FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// SessionByUUID returns the session with the given UUID, or nil.
func (s *Store) SessionByUUID(id string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, uuid, started_us, note, timeout_us, overlap_us, maxwait_us, doubles
		FROM sessions WHERE uuid = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// Sessions lists all sessions, oldest first.
func (s *Store) Sessions() ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT id, uuid, started_us, note, timeout_us, overlap_us, maxwait_us, doubles
		FROM sessions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var sess Session
	var id, note, doubles sql.NullString
	if err := row.Scan(&sess.ID, &id, &sess.StartedUs, &note, &sess.Config.Timeout,
		&sess.Config.Overlap, &sess.Config.MaxWait, &doubles); err != nil {
		return nil, err
	}
	sess.UUID = id.String
	sess.Note = note.String
	if doubles.Valid && doubles.String != "" {
		if err := json.Unmarshal([]byte(doubles.String), &sess.Config.SpecialDoubles); err != nil {
			return nil, fmt.Errorf("decode special doubles: %w", err)
		}
	}
	return &sess, nil
}

// Events returns the events of a session in sequence order. When dir is
// non-empty only events in that direction are returned.
func (s *Store) Events(sessionID int64, dir Direction) ([]Event, error) {
	query := `
		SELECT id, session_id, seq, time_us, direction, name, code, modifiers
		FROM events WHERE session_id = ?`
	args := []any{sessionID}
	if dir != "" {
		query += ` AND direction = ?`
		args = append(args, string(dir))
	}
	query += ` ORDER BY seq`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var direction string
		var code, mods int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Seq, &e.TimeUs, &direction,
			&e.Key.Name, &code, &mods); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Direction = Direction(direction)
		e.Key.Code = rune(code)
		e.Key.Modifiers = keyevent.Modifier(mods)
		events = append(events, e)
	}
	return events, rows.Err()
}

// DeleteSession removes a session and its events.
func (s *Store) DeleteSession(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
