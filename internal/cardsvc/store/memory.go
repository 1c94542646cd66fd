package store

import (
	"context"
	"sort"
	"sync"

	"github.com/avvvet/card-services/internal/cardsvc/models"
)

// Memory keeps registry state in maps. Writes made inside Atomic are staged and only
// applied when fn returns nil.
type Memory struct {
	mu        sync.Mutex
	cards     map[models.CardKey]models.Card
	byRequest map[models.RequestID]models.CardKey
	counters  map[models.Holder]uint64
	pending   map[models.RequestID]models.PendingRequest
	totals    Totals
}

func NewMemory() *Memory {
	return &Memory{
		cards:     make(map[models.CardKey]models.Card),
		byRequest: make(map[models.RequestID]models.CardKey),
		counters:  make(map[models.Holder]uint64),
		pending:   make(map[models.RequestID]models.PendingRequest),
	}
}

func (m *Memory) Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		m:        m,
		cards:    make(map[models.CardKey]models.Card),
		counters: make(map[models.Holder]uint64),
		pending:  make(map[models.RequestID]*models.PendingRequest),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.apply()
	return nil
}

type memTx struct {
	m        *Memory
	cards    map[models.CardKey]models.Card
	counters map[models.Holder]uint64
	pending  map[models.RequestID]*models.PendingRequest // nil value marks a delete
	totals   *Totals
}

func (t *memTx) apply() {
	for key, card := range t.cards {
		if old, ok := t.m.cards[key]; ok && old.RequestID != card.RequestID {
			delete(t.m.byRequest, old.RequestID)
		}
		t.m.cards[key] = card
		t.m.byRequest[card.RequestID] = key
	}
	for holder, next := range t.counters {
		t.m.counters[holder] = next
	}
	for id, p := range t.pending {
		if p == nil {
			delete(t.m.pending, id)
			continue
		}
		t.m.pending[id] = *p
	}
	if t.totals != nil {
		t.m.totals = *t.totals
	}
}

func (t *memTx) NextSequence(_ context.Context, holder models.Holder) (uint64, error) {
	if next, ok := t.counters[holder]; ok {
		return next, nil
	}
	return t.m.counters[holder], nil
}

func (t *memTx) SetNextSequence(_ context.Context, holder models.Holder, next uint64) error {
	t.counters[holder] = next
	return nil
}

func (t *memTx) GetCard(_ context.Context, key models.CardKey) (*models.Card, error) {
	if card, ok := t.cards[key]; ok {
		return &card, nil
	}
	if card, ok := t.m.cards[key]; ok {
		return &card, nil
	}
	return nil, ErrNotFound
}

func (t *memTx) GetCardByRequest(ctx context.Context, id models.RequestID) (*models.Card, error) {
	for _, card := range t.cards {
		if card.RequestID == id {
			c := card
			return &c, nil
		}
	}
	key, ok := t.m.byRequest[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.GetCard(ctx, key)
}

func (t *memTx) PutCard(_ context.Context, card *models.Card) error {
	t.cards[card.Key()] = *card
	return nil
}

func (t *memTx) ListCards(_ context.Context, holder models.Holder) ([]*models.Card, error) {
	merged := make(map[uint64]models.Card)
	for key, card := range t.m.cards {
		if key.Holder == holder {
			merged[key.Sequence] = card
		}
	}
	for key, card := range t.cards {
		if key.Holder == holder {
			merged[key.Sequence] = card
		}
	}

	out := make([]*models.Card, 0, len(merged))
	for _, card := range merged {
		c := card
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (t *memTx) GetPending(_ context.Context, id models.RequestID) (*models.PendingRequest, error) {
	if p, ok := t.pending[id]; ok {
		if p == nil {
			return nil, ErrNotFound
		}
		cp := *p
		return &cp, nil
	}
	if p, ok := t.m.pending[id]; ok {
		return &p, nil
	}
	return nil, ErrNotFound
}

func (t *memTx) PutPending(_ context.Context, p models.PendingRequest) error {
	t.pending[p.RequestID] = &p
	return nil
}

func (t *memTx) DeletePending(_ context.Context, id models.RequestID) error {
	t.pending[id] = nil
	return nil
}

func (t *memTx) ListPending(_ context.Context) ([]models.PendingRequest, error) {
	merged := make(map[models.RequestID]models.PendingRequest, len(t.m.pending))
	for id, p := range t.m.pending {
		merged[id] = p
	}
	for id, p := range t.pending {
		if p == nil {
			delete(merged, id)
			continue
		}
		merged[id] = *p
	}

	out := make([]models.PendingRequest, 0, len(merged))
	for _, p := range merged {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out, nil
}

func (t *memTx) Totals(_ context.Context) (Totals, error) {
	if t.totals != nil {
		return *t.totals, nil
	}
	return t.m.totals, nil
}

func (t *memTx) PutTotals(_ context.Context, totals Totals) error {
	t.totals = &totals
	return nil
}
