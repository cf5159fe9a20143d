package card

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// memoryRepository is keyed by the ID minted in Create. Writes store under
// the card's own ID, never under the caller's id argument.
type memoryRepository struct {
	mu    sync.RWMutex
	cards map[string]Card
}

// NewMemoryRepository builds an in-memory card store for development and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{cards: make(map[string]Card)}
}

func (r *memoryRepository) Create(_ context.Context, c Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.cards[c.ID]; exists {
		return errors.New("card exists")
	}
	r.cards[c.ID] = c
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cards[id]
	if !ok {
		return Card{}, ErrNotFound
	}
	return c, nil
}

func (r *memoryRepository) ListByUser(_ context.Context, userID string) ([]Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var cards []Card
	for _, c := range r.cards {
		if c.UserID == userID {
			cards = append(cards, c)
		}
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].CreatedAt.Before(cards[j].CreatedAt) })
	return cards, nil
}

func (r *memoryRepository) FindActiveByUID(_ context.Context, uid string) (Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.cards {
		if c.UID == uid && c.Active() {
			return c, nil
		}
	}
	return Card{}, ErrNotFound
}

func (r *memoryRepository) Update(_ context.Context, id string, in UpdateInput, at time.Time) (Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cards[id]
	if !ok {
		return Card{}, ErrNotFound
	}
	updated := in.apply(c)
	if updated.Paired() && updated.Active() && !c.Active() && r.uidTakenLocked(updated.UID, id) {
		return Card{}, ErrUIDInUse
	}
	updated.UpdatedAt = at.UTC()
	r.cards[c.ID] = updated
	return updated, nil
}

func (r *memoryRepository) Delete(_ context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cards[id]
	if !ok || c.UserID != userID {
		return ErrNotFound
	}
	delete(r.cards, id)
	return nil
}

func (r *memoryRepository) SetUID(_ context.Context, id, uid string, at time.Time) (Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cards[id]
	if !ok {
		return Card{}, ErrNotFound
	}
	if c.Paired() {
		return Card{}, ErrAlreadyPaired
	}
	if c.Active() && r.uidTakenLocked(uid, id) {
		return Card{}, ErrUIDInUse
	}
	c.UID = uid
	c.UpdatedAt = at.UTC()
	r.cards[c.ID] = c
	return c, nil
}

func (r *memoryRepository) AdvanceCounter(_ context.Context, id string, counter uint32, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cards[id]
	if !ok {
		return false, ErrNotFound
	}
	if !c.Active() || counter <= c.LastCounter {
		return false, nil
	}
	c.LastCounter = counter
	c.UpdatedAt = at.UTC()
	r.cards[c.ID] = c
	return true, nil
}

// uidTakenLocked reports whether another active card holds uid. Caller holds r.mu.
func (r *memoryRepository) uidTakenLocked(uid, exceptID string) bool {
	for id, other := range r.cards {
		if id != exceptID && other.UID == uid && other.Active() {
			return true
		}
	}
	return false
}
