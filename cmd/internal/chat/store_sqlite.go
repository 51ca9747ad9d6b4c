package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-node MessageStore using the pure-Go SQLite driver.
// Timestamps are stored as unix nanoseconds so ordering never depends on text formats.
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path and applies the schema.
func NewSQLiteStore(path string, log *slog.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "chat.sqlite")

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under concurrent sends.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, log: log}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	log.Info("chat.sqlite.open", "path", path)
	return s, nil
}

var _ MessageStore = (*SQLiteStore)(nil)

func (s *SQLiteStore) createSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id           TEXT PRIMARY KEY,
			booking_id   TEXT NOT NULL,
			sender_id    TEXT NOT NULL,
			receiver_id  TEXT NOT NULL,
			sender_role  TEXT NOT NULL,
			content      TEXT NOT NULL,
			created_at   INTEGER NOT NULL,
			delivered_at INTEGER,
			is_read      INTEGER NOT NULL DEFAULT 0,
			read_at      INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_messages_booking_created
			ON messages(booking_id, created_at, id);
	`)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Append inserts a new message.
func (s *SQLiteStore) Append(ctx context.Context, in AppendInput) (Message, error) {
	const op = "chat.SQLiteStore.Append"
	if err := in.validate(op); err != nil {
		return Message{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := NewMessageID(now)
	if err != nil {
		return Message{}, err
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, booking_id, sender_id, receiver_id, sender_role, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, in.ConversationID, in.SenderID, in.ReceiverID, string(in.SenderRole), in.Content, now.UnixNano(),
	); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	return Message{
		ID:             id,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		SenderRole:     in.SenderRole,
		Content:        in.Content,
		CreatedAt:      time.Unix(0, now.UnixNano()).UTC(),
	}, nil
}

const sqliteMessageCols = `id, booking_id, sender_id, receiver_id, sender_role, content, created_at, delivered_at, is_read, read_at`

// Get returns a message by id.
func (s *SQLiteStore) Get(ctx context.Context, messageID string) (Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteMessageCols+` FROM messages WHERE id = ?`, messageID)
	m, err := scanSQLiteMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, messageNotFound("chat.SQLiteStore.Get", messageID)
	}
	return m, err
}

// ListByConversation returns all messages ordered by (created_at, id) ASC.
func (s *SQLiteStore) ListByConversation(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteMessageCols+` FROM messages WHERE booking_id = ? ORDER BY created_at ASC, id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkDelivered sets delivered_at unless already set.
func (s *SQLiteStore) MarkDelivered(ctx context.Context, messageID string, at time.Time) (Message, bool, error) {
	return s.mark(ctx, messageID,
		`UPDATE messages SET delivered_at = ? WHERE id = ? AND delivered_at IS NULL`,
		at.UnixNano(), messageID,
	)
}

// MarkRead sets is_read and read_at unless already read.
func (s *SQLiteStore) MarkRead(ctx context.Context, messageID string, at time.Time) (Message, bool, error) {
	return s.mark(ctx, messageID,
		`UPDATE messages SET is_read = 1, read_at = ? WHERE id = ? AND is_read = 0`,
		at.UnixNano(), messageID,
	)
}

func (s *SQLiteStore) mark(ctx context.Context, messageID, query string, args ...any) (Message, bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return Message{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Message{}, false, err
	}

	m, err := s.Get(ctx, messageID)
	if err != nil {
		return Message{}, false, err
	}
	return m, n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteMessage(row rowScanner) (Message, error) {
	var (
		m                 Message
		role              string
		created           int64
		delivered, readAt sql.NullInt64
		isRead            int64
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &role, &m.Content, &created, &delivered, &isRead, &readAt); err != nil {
		return Message{}, err
	}
	m.SenderRole = Role(role)
	m.CreatedAt = time.Unix(0, created).UTC()
	m.Read = isRead != 0
	if delivered.Valid {
		t := time.Unix(0, delivered.Int64).UTC()
		m.DeliveredAt = &t
	}
	if readAt.Valid {
		t := time.Unix(0, readAt.Int64).UTC()
		m.ReadAt = &t
	}
	return m, nil
}
