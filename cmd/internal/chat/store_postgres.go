package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a MessageStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures Postgres-backed components.
type PostgresOption func(*pgSettings) error

type pgSettings struct {
	schema string
}

// WithSchema sets the DB schema used for chat tables (default: "chat").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *pgSettings) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

func applyPGOptions(defSchema string, opts []PostgresOption) (pgSettings, error) {
	st := pgSettings{schema: defSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&st); err != nil {
			return pgSettings{}, err
		}
	}
	return st, nil
}

// NewPostgresStore constructs a Postgres-backed MessageStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	st, err := applyPGOptions("chat", opts)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, schema: st.schema}, nil
}

var _ MessageStore = (*PostgresStore)(nil)

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// EnsureSchema creates the chat schema and messages table if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	messages := pgIdent(s.schema, "messages")
	idx := pgx.Identifier{"messages_booking_created_idx"}.Sanitize()

	ddl := `CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{s.schema}.Sanitize() + `;

CREATE TABLE IF NOT EXISTS ` + messages + ` (
  id           TEXT PRIMARY KEY,
  booking_id   TEXT NOT NULL,
  sender_id    TEXT NOT NULL,
  receiver_id  TEXT NOT NULL,
  sender_role  TEXT NOT NULL CHECK (sender_role IN ('client', 'provider')),
  content      TEXT NOT NULL,
  created_at   TIMESTAMPTZ NOT NULL,
  delivered_at TIMESTAMPTZ NULL,
  is_read      BOOLEAN NOT NULL DEFAULT false,
  read_at      TIMESTAMPTZ NULL
);

CREATE INDEX IF NOT EXISTS ` + idx + ` ON ` + messages + ` (booking_id, created_at, id);`

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("chat: ensure schema: %w", err)
	}
	return nil
}

const pgMessageCols = `id, booking_id, sender_id, receiver_id, sender_role, content, created_at, delivered_at, is_read, read_at`

// Append inserts a new message.
func (s *PostgresStore) Append(ctx context.Context, in AppendInput) (Message, error) {
	const op = "chat.PostgresStore.Append"
	if err := in.validate(op); err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	// timestamptz keeps microseconds; return exactly what a later read will see.
	now = now.UTC().Truncate(time.Microsecond)
	id, err := NewMessageID(now)
	if err != nil {
		return Message{}, err
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgIdent(s.schema, "messages")+` (
		     id, booking_id, sender_id, receiver_id, sender_role, content, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, in.ConversationID, in.SenderID, in.ReceiverID, string(in.SenderRole), in.Content, now,
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
		CreatedAt:      now,
	}, nil
}

// Get returns a message by id.
func (s *PostgresStore) Get(ctx context.Context, messageID string) (Message, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgMessageCols+` FROM `+pgIdent(s.schema, "messages")+` WHERE id = $1`,
		messageID,
	)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, messageNotFound("chat.PostgresStore.Get", messageID)
	}
	return m, err
}

// ListByConversation returns all messages ordered by (created_at, id) ASC.
func (s *PostgresStore) ListByConversation(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgMessageCols+`
		   FROM `+pgIdent(s.schema, "messages")+`
		  WHERE booking_id = $1
		  ORDER BY created_at ASC, id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0, 32)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkDelivered sets delivered_at unless already set.
func (s *PostgresStore) MarkDelivered(ctx context.Context, messageID string, at time.Time) (Message, bool, error) {
	return s.mark(ctx, messageID,
		`UPDATE `+pgIdent(s.schema, "messages")+`
		    SET delivered_at = $2
		  WHERE id = $1 AND delivered_at IS NULL
		RETURNING `+pgMessageCols,
		at,
	)
}

// MarkRead sets is_read and read_at unless already read.
func (s *PostgresStore) MarkRead(ctx context.Context, messageID string, at time.Time) (Message, bool, error) {
	return s.mark(ctx, messageID,
		`UPDATE `+pgIdent(s.schema, "messages")+`
		    SET is_read = true, read_at = $2
		  WHERE id = $1 AND is_read = false
		RETURNING `+pgMessageCols,
		at,
	)
}

func (s *PostgresStore) mark(ctx context.Context, messageID, query string, at time.Time) (Message, bool, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx, query, messageID, at.UTC()))
	if err == nil {
		return m, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Message{}, false, err
	}

	// Either missing or the marker was already set.
	m, err = s.Get(ctx, messageID)
	if err != nil {
		return Message{}, false, err
	}
	return m, false, nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		m    Message
		role string
	)
	if err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.ReceiverID,
		&role,
		&m.Content,
		&m.CreatedAt,
		&m.DeliveredAt,
		&m.Read,
		&m.ReadAt,
	); err != nil {
		return Message{}, err
	}
	m.SenderRole = Role(role)
	m.CreatedAt = m.CreatedAt.UTC()
	if m.DeliveredAt != nil {
		t := m.DeliveredAt.UTC()
		m.DeliveredAt = &t
	}
	if m.ReadAt != nil {
		t := m.ReadAt.UTC()
		m.ReadAt = &t
	}
	return m, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
