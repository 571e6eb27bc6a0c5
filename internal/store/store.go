// Package store persists the chat log and the live visitor snapshot in
// SQLite, backing history replay and presence bookkeeping for the chat hub.
//
// Two tables are kept: chat_messages is an append-only log with
// server-assigned timestamps, and visitors holds one row per
// currently-authenticated connection. Timestamps are second-granularity UTC
// text so they sort lexically in chronological order.
package store

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// TimeLayout is the text format used for every timestamp column. It matches
// SQLite's datetime('now') output.
const TimeLayout = "2006-01-02 15:04:05"

// ErrClosed is returned by operations invoked after Close.
var ErrClosed = errors.New("store is closed")

// Visitor is one row of the presence snapshot: a currently-authenticated
// connection, not a historical record. Count is the total number of
// connections at the moment the row was inserted.
type Visitor struct {
	Count    int
	Username string
	IP       string
	Time     string
}

// ChatMessage is one row of the append-only chat log.
type ChatMessage struct {
	ID       int64
	Username string
	IP       string
	Message  string
	Time     string
}

// Store wraps the SQLite connection behind the message-store contract used
// by the hub and the session state machine.
type Store struct {
	conn *sql.DB

	mu     sync.Mutex
	closed bool
}

// Open opens (or creates) the database at path and bootstraps the schema.
// Pass ":memory:" for a store that lives and dies with the process.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	// A single connection keeps ":memory:" databases on one schema and
	// serializes conflicting writes inside the store.
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS visitors (
			count INTEGER,
			username TEXT,
			ip TEXT,
			time TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT,
			ip TEXT,
			message TEXT,
			time TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_time ON chat_messages(time)`,
	}

	for _, query := range queries {
		if _, err := s.conn.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// InsertVisitor records a presence snapshot row for a newly authenticated
// connection.
func (s *Store) InsertVisitor(count int, username, ip string, t time.Time) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.conn.Exec(
		"INSERT INTO visitors (count, username, ip, time) VALUES (?, ?, ?, ?)",
		count, username, ip, t.UTC().Format(TimeLayout),
	)
	return err
}

// DeleteVisitor removes the snapshot row matching both fields exactly.
// Deleting a row that does not exist is not an error.
func (s *Store) DeleteVisitor(username, ip string) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.conn.Exec(
		"DELETE FROM visitors WHERE username = ? AND ip = ?",
		username, ip,
	)
	return err
}

// RenameVisitor rewrites the username on the snapshot row that matches the
// old name and address.
func (s *Store) RenameVisitor(oldName, newName, ip string) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.conn.Exec(
		"UPDATE visitors SET username = ? WHERE username = ? AND ip = ?",
		newName, oldName, ip,
	)
	return err
}

// InsertMessage appends a chat line with a server-assigned timestamp and
// returns the stored time text, read back from the inserted row so callers
// broadcast the authoritative value rather than one observed client-side.
func (s *Store) InsertMessage(username, ip, message string) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}

	res, err := s.conn.Exec(
		"INSERT INTO chat_messages (username, ip, message, time) VALUES (?, ?, ?, datetime('now'))",
		username, ip, message,
	)
	if err != nil {
		return "", err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return "", err
	}

	var assigned string
	if err := s.conn.QueryRow("SELECT time FROM chat_messages WHERE id = ?", id).Scan(&assigned); err != nil {
		return "", err
	}

	return assigned, nil
}

// HistorySince returns chat messages with a timestamp at or after since, in
// ascending time order. A zero since returns the full history.
func (s *Store) HistorySince(since time.Time) ([]ChatMessage, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(
		"SELECT id, username, ip, message, time FROM chat_messages WHERE time >= ? ORDER BY time ASC, id ASC",
		since.UTC().Format(TimeLayout),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.Username, &m.IP, &m.Message, &m.Time); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// Visitors returns the full presence snapshot. Used to dump who was still
// connected when the server shuts down.
func (s *Store) Visitors() ([]Visitor, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.conn.Query("SELECT count, username, ip, time FROM visitors")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var visitors []Visitor
	for rows.Next() {
		var v Visitor
		if err := rows.Scan(&v.Count, &v.Username, &v.IP, &v.Time); err != nil {
			return nil, err
		}
		visitors = append(visitors, v)
	}

	return visitors, rows.Err()
}

// Close shuts the database connection down. It is safe to call more than
// once; operations after the first Close fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
