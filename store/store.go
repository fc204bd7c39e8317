// Package store holds the credential store and the private-chat logs in a
// shared in-memory SQLite database. Nothing is written to disk: every
// registered user and every private message lives exactly as long as the
// server process.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"mchat/models"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNoRows     = errors.New("no rows found")
	ErrUserExists = errors.New("user already exists")
)

// ThreadSeparator joins the two usernames of a canonical thread key.
// Usernames are rejected at registration if they contain it.
const ThreadSeparator = "::"

// memoryDBSeq keeps concurrently opened stores (tests) on distinct
// in-memory databases.
var memoryDBSeq atomic.Int64

type Store struct {
	conn *sql.DB
}

// New opens a fresh shared in-memory database. A single pooled connection
// is used: it keeps the in-memory database alive for the store's lifetime
// and serializes every check-then-act statement.
func New() (*Store, error) {
	dsn := fmt.Sprintf("file:mchat%d?mode=memory&cache=shared", memoryDBSeq.Add(1))
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)

	st := &Store{conn: conn}
	if err := st.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return st, nil
}

func (st *Store) Close() error {
	return st.conn.Close()
}

func (st *Store) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread TEXT NOT NULL,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			text TEXT NOT NULL,
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread, id)`,
	}

	for _, query := range queries {
		if _, err := st.conn.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// ThreadKey returns the canonical key for the private chat between two
// users: both orderings of the pair map to the same key.
func ThreadKey(a, b string) string {
	if a < b {
		return a + ThreadSeparator + b
	}
	return b + ThreadSeparator + a
}

// ValidUsername reports whether a username may be registered. The thread
// separator must stay unambiguous, so ':' is not allowed.
func ValidUsername(username string) bool {
	return username != "" && !strings.Contains(username, ":")
}

// CreateUser registers a username with a bcrypt digest of the password.
// Returns ErrUserExists if the name is taken; the UNIQUE constraint makes
// the register-if-absent atomic under concurrent registrations.
func (st *Store) CreateUser(username, password string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	_, err = st.conn.Exec(
		"INSERT INTO users (username, password) VALUES (?, ?)",
		username, string(hashed),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return ErrUserExists
		}
		return err
	}
	return nil
}

// GetUser returns the stored record for a username, or ErrNoRows.
func (st *Store) GetUser(username string) (*models.User, error) {
	var u models.User
	err := st.conn.QueryRow(
		"SELECT id, username, password FROM users WHERE username = ?",
		username,
	).Scan(&u.ID, &u.Username, &u.Password)
	if err == sql.ErrNoRows {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Authenticate verifies a password against the stored digest. An unknown
// username is not an error, just a failed authentication.
func (st *Store) Authenticate(username, password string) (bool, error) {
	u, err := st.GetUser(username)
	if err == ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password))
	return err == nil, nil
}

func (st *Store) UserExists(username string) (bool, error) {
	var count int
	err := st.conn.QueryRow("SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// AppendMessage appends one private message to the canonical thread for
// the pair. The single connection serializes appends, so the thread keeps
// a strict insertion order.
func (st *Store) AppendMessage(sender, recipient, text string) error {
	_, err := st.conn.Exec(
		"INSERT INTO messages (thread, sender, recipient, text, timestamp) VALUES (?, ?, ?, ?, ?)",
		ThreadKey(sender, recipient), sender, recipient, text,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// Thread returns the full private-chat log between two users, oldest
// first. Both orderings of the pair read the same log.
func (st *Store) Thread(a, b string) ([]models.Message, error) {
	rows, err := st.conn.Query(
		"SELECT id, sender, recipient, text, timestamp FROM messages WHERE thread = ? ORDER BY id ASC",
		ThreadKey(a, b),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var timestampStr string
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Text, &timestampStr); err != nil {
			return nil, err
		}

		timestamp, err := time.Parse(time.RFC3339, timestampStr)
		if err != nil {
			return nil, err
		}
		m.Timestamp = timestamp

		messages = append(messages, m)
	}

	return messages, rows.Err()
}
