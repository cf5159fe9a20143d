package card

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists cards. AdvanceCounter and SetUID are conditional writes
// so concurrent taps and pairings cannot both succeed.
type Repository interface {
	Create(ctx context.Context, card Card) error
	Get(ctx context.Context, id string) (Card, error)
	ListByUser(ctx context.Context, userID string) ([]Card, error)
	FindActiveByUID(ctx context.Context, uid string) (Card, error)
	Update(ctx context.Context, id string, input UpdateInput, at time.Time) (Card, error)
	Delete(ctx context.Context, id, userID string) error
	SetUID(ctx context.Context, id, uid string, at time.Time) (Card, error)
	AdvanceCounter(ctx context.Context, id string, counter uint32, at time.Time) (bool, error)
}

const cardColumns = `id, user_id, name, k0, k2, k3, k4, uid, last_counter, tx_limit_sats, day_limit_sats, status, created_at, updated_at`

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed card repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new, unpaired card.
func (r *PostgresRepository) Create(ctx context.Context, c Card) error {
	cardID, err := uuid.Parse(c.ID)
	if err != nil {
		return err
	}
	userID, err := uuid.Parse(c.UserID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO boltcards (`+cardColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, $8, $9, $10, $11, $12, $13)`,
		cardID, userID, c.Name, c.K0, c.K2, c.K3, c.K4, int64(c.LastCounter),
		c.TxLimitSats, c.DayLimitSats, string(c.Status), c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	return err
}

// Get fetches a card by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Card, error) {
	cardID, err := uuid.Parse(id)
	if err != nil {
		return Card{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT `+cardColumns+` FROM boltcards WHERE id = $1`, cardID)
	return scanCard(row)
}

// ListByUser returns the cards owned by the user, oldest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]Card, error) {
	ownerID, err := uuid.Parse(userID)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, `SELECT `+cardColumns+` FROM boltcards WHERE user_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// FindActiveByUID locates the active card bound to the physical UID.
func (r *PostgresRepository) FindActiveByUID(ctx context.Context, uid string) (Card, error) {
	row := r.db.QueryRow(ctx, `SELECT `+cardColumns+` FROM boltcards WHERE uid = $1 AND status = $2`, uid, string(StatusActive))
	return scanCard(row)
}

// Update applies the whitelisted fields.
func (r *PostgresRepository) Update(ctx context.Context, id string, in UpdateInput, at time.Time) (Card, error) {
	cardID, err := uuid.Parse(id)
	if err != nil {
		return Card{}, ErrNotFound
	}
	var status *string
	if in.Status != nil {
		s := string(*in.Status)
		status = &s
	}
	row := r.db.QueryRow(ctx, `UPDATE boltcards SET
            name = COALESCE($2, name),
            tx_limit_sats = COALESCE($3, tx_limit_sats),
            day_limit_sats = COALESCE($4, day_limit_sats),
            status = COALESCE($5, status),
            updated_at = $6
        WHERE id = $1
        RETURNING `+cardColumns, cardID, in.Name, in.TxLimitSats, in.DayLimitSats, status, at.UTC())
	c, err := scanCard(row)
	if isUniqueViolation(err) {
		return Card{}, ErrUIDInUse
	}
	return c, err
}

// Delete removes a card owned by userID.
func (r *PostgresRepository) Delete(ctx context.Context, id, userID string) error {
	cardID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	ownerID, err := uuid.Parse(userID)
	if err != nil {
		return ErrNotOwner
	}
	cmd, err := r.db.Exec(ctx, `DELETE FROM boltcards WHERE id = $1 AND user_id = $2`, cardID, ownerID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetUID binds the UID only while the card is still unpaired.
func (r *PostgresRepository) SetUID(ctx context.Context, id, uid string, at time.Time) (Card, error) {
	cardID, err := uuid.Parse(id)
	if err != nil {
		return Card{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `UPDATE boltcards SET uid = $2, updated_at = $3
        WHERE id = $1 AND uid IS NULL
        RETURNING `+cardColumns, cardID, uid, at.UTC())
	c, err := scanCard(row)
	switch {
	case err == nil:
		return c, nil
	case isUniqueViolation(err):
		return Card{}, ErrUIDInUse
	case errors.Is(err, ErrNotFound):
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return Card{}, getErr
		}
		return Card{}, ErrAlreadyPaired
	default:
		return Card{}, err
	}
}

// AdvanceCounter stores counter only if it is strictly greater than the stored value
// and the card is still active. It reports whether the write happened.
func (r *PostgresRepository) AdvanceCounter(ctx context.Context, id string, counter uint32, at time.Time) (bool, error) {
	cardID, err := uuid.Parse(id)
	if err != nil {
		return false, ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE boltcards SET last_counter = $2, updated_at = $3
        WHERE id = $1 AND last_counter < $2 AND status = $4`,
		cardID, int64(counter), at.UTC(), string(StatusActive))
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func scanCard(row pgx.Row) (Card, error) {
	var (
		c                    Card
		id, userID           uuid.UUID
		uid                  *string
		lastCounter          int64
		status               string
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&id, &userID, &c.Name, &c.K0, &c.K2, &c.K3, &c.K4, &uid, &lastCounter,
		&c.TxLimitSats, &c.DayLimitSats, &status, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Card{}, ErrNotFound
		}
		return Card{}, err
	}
	c.ID = id.String()
	c.UserID = userID.String()
	if uid != nil {
		c.UID = *uid
	}
	c.LastCounter = uint32(lastCounter)
	c.Status = Status(status)
	c.CreatedAt = createdAt.UTC()
	c.UpdatedAt = updatedAt.UTC()
	return c, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
