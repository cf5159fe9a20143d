package withdraw

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PaymentRecord is a settled card payment.
type PaymentRecord struct {
	ID          string    `json:"id"`
	CardID      string    `json:"cardId"`
	UserID      string    `json:"userId"`
	AmountSats  int64     `json:"amountSats"`
	PaymentHash string    `json:"paymentHash"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PaymentStore persists settled card payments.
type PaymentStore interface {
	Record(ctx context.Context, p PaymentRecord) error
	ListByCard(ctx context.Context, cardID string, limit int) ([]PaymentRecord, error)
}

// PostgresPaymentStore writes to boltcard_payments.
type PostgresPaymentStore struct {
	db *pgxpool.Pool
}

// NewPostgresPaymentStore builds a Postgres-backed payment store.
func NewPostgresPaymentStore(db *pgxpool.Pool) *PostgresPaymentStore {
	return &PostgresPaymentStore{db: db}
}

func (s *PostgresPaymentStore) Record(ctx context.Context, p PaymentRecord) error {
	ids := make([]uuid.UUID, 0, 3)
	for _, raw := range []string{p.ID, p.CardID, p.UserID} {
		id, err := uuid.Parse(raw)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	_, err := s.db.Exec(ctx, `INSERT INTO boltcard_payments (id, card_id, user_id, amount_sats, payment_hash, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`, ids[0], ids[1], ids[2], p.AmountSats, p.PaymentHash, p.CreatedAt.UTC())
	return err
}

func (s *PostgresPaymentStore) ListByCard(ctx context.Context, cardID string, limit int) ([]PaymentRecord, error) {
	id, err := uuid.Parse(cardID)
	if err != nil {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `SELECT id, card_id, user_id, amount_sats, payment_hash, created_at
        FROM boltcard_payments WHERE card_id = $1 ORDER BY created_at DESC LIMIT $2`, id, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PaymentRecord
	for rows.Next() {
		var (
			p              PaymentRecord
			id, card, user uuid.UUID
		)
		if err := rows.Scan(&id, &card, &user, &p.AmountSats, &p.PaymentHash, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.ID, p.CardID, p.UserID = id.String(), card.String(), user.String()
		p.CreatedAt = p.CreatedAt.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

type memoryPaymentStore struct {
	mu       sync.RWMutex
	payments map[string][]PaymentRecord
}

// NewMemoryPaymentStore returns an in-memory payment store.
func NewMemoryPaymentStore() PaymentStore {
	return &memoryPaymentStore{payments: make(map[string][]PaymentRecord)}
}

func (m *memoryPaymentStore) Record(_ context.Context, p PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.CardID] = append(m.payments[p.CardID], p)
	return nil
}

func (m *memoryPaymentStore) ListByCard(_ context.Context, cardID string, limit int) ([]PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]PaymentRecord(nil), m.payments[cardID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
