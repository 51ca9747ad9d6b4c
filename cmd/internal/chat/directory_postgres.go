package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory reads bookings and their participants from the booking platform's tables
// (bookings, clients, workers, users). It also implements LastSeenStore on users.is_online/last_seen.
//
// The pool is owned by the caller.
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresDirectory constructs a directory. WithSchema selects the platform schema (default: "public").
func NewPostgresDirectory(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresDirectory, error) {
	if pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	st, err := applyPGOptions("public", opts)
	if err != nil {
		return nil, err
	}
	return &PostgresDirectory{pool: pool, schema: st.schema}, nil
}

var (
	_ Directory     = (*PostgresDirectory)(nil)
	_ LastSeenStore = (*PostgresDirectory)(nil)
)

// Resolve loads the booking with its client and assigned worker. Bookings are matched
// by numeric id or public id. An unassigned booking is not a valid conversation.
func (d *PostgresDirectory) Resolve(ctx context.Context, bookingID string) (Conversation, error) {
	const op = "chat.PostgresDirectory.Resolve"

	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return Conversation{}, opErr(op, ErrNotFound, "empty booking id")
	}

	var (
		c                                   Conversation
		clientUser, workerUser              *string
		clientName, clientImage, clientPush string
		workerName, workerImage, workerPush string
	)

	err := d.pool.QueryRow(ctx,
		`SELECT b.id::text,
		        cu.id::text,
		        TRIM(COALESCE(c.first_name, '') || ' ' || COALESCE(c.last_name, '')),
		        COALESCE(c.profile_picture, ''),
		        COALESCE(cu.fcm_token, ''),
		        wu.id::text,
		        TRIM(COALESCE(w.first_name, '') || ' ' || COALESCE(w.last_name, '')),
		        COALESCE(w.profile_picture, ''),
		        COALESCE(wu.fcm_token, '')
		   FROM `+pgIdent(d.schema, "bookings")+` b
		   JOIN `+pgIdent(d.schema, "clients")+` c ON c.client_id = b.client_id
		   JOIN `+pgIdent(d.schema, "users")+` cu ON cu.id = c.user_id
		   LEFT JOIN `+pgIdent(d.schema, "workers")+` w ON w.worker_id = b.worker_id
		   LEFT JOIN `+pgIdent(d.schema, "users")+` wu ON wu.id = w.user_id
		  WHERE b.id::text = $1 OR b.public_id = $1
		  LIMIT 1`,
		bookingID,
	).Scan(
		&c.ID,
		&clientUser, &clientName, &clientImage, &clientPush,
		&workerUser, &workerName, &workerImage, &workerPush,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, opErr(op, ErrNotFound, "booking "+bookingID)
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("%s: %w", op, err)
	}

	c.Client = Participant{
		UserID:  deref(clientUser),
		Role:    RoleClient,
		Profile: Profile{DisplayName: clientName, ProfileImage: clientImage, PushToken: clientPush},
	}
	c.Provider = Participant{
		UserID:  deref(workerUser),
		Role:    RoleProvider,
		Profile: Profile{DisplayName: workerName, ProfileImage: workerImage, PushToken: workerPush},
	}
	if err := c.Validate(); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

// MarkOnline sets users.is_online and clears last_seen.
func (d *PostgresDirectory) MarkOnline(ctx context.Context, userID string) error {
	_, err := d.pool.Exec(ctx,
		`UPDATE `+pgIdent(d.schema, "users")+` SET is_online = true, last_seen = NULL WHERE id::text = $1`,
		userID,
	)
	return err
}

// MarkOffline clears users.is_online and records last_seen.
func (d *PostgresDirectory) MarkOffline(ctx context.Context, userID string, at time.Time) error {
	_, err := d.pool.Exec(ctx,
		`UPDATE `+pgIdent(d.schema, "users")+` SET is_online = false, last_seen = $2 WHERE id::text = $1`,
		userID, at.UTC(),
	)
	return err
}

// LastSeen returns users.last_seen (nil while online or never seen).
func (d *PostgresDirectory) LastSeen(ctx context.Context, userID string) (*time.Time, error) {
	var ts *time.Time
	err := d.pool.QueryRow(ctx,
		`SELECT last_seen FROM `+pgIdent(d.schema, "users")+` WHERE id::text = $1`,
		userID,
	).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return ts, err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
