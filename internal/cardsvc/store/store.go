// Package store persists the registry's three entities (cards, holder counters and
// pending randomness requests) plus the registry totals.
package store

import (
	"context"
	"errors"

	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("not found")

// Totals are the registry-wide aggregates kept next to the card records.
type Totals struct {
	Locked        decimal.Decimal // sum of deposits of cards not yet banished
	LastRequestID models.RequestID
}

// Tx is the view of the store inside one atomic unit.
type Tx interface {
	NextSequence(ctx context.Context, holder models.Holder) (uint64, error)
	SetNextSequence(ctx context.Context, holder models.Holder, next uint64) error

	GetCard(ctx context.Context, key models.CardKey) (*models.Card, error)
	GetCardByRequest(ctx context.Context, id models.RequestID) (*models.Card, error)
	// PutCard inserts or replaces the card identified by its key.
	PutCard(ctx context.Context, card *models.Card) error
	ListCards(ctx context.Context, holder models.Holder) ([]*models.Card, error)

	GetPending(ctx context.Context, id models.RequestID) (*models.PendingRequest, error)
	PutPending(ctx context.Context, p models.PendingRequest) error
	DeletePending(ctx context.Context, id models.RequestID) error
	ListPending(ctx context.Context) ([]models.PendingRequest, error)

	Totals(ctx context.Context) (Totals, error)
	PutTotals(ctx context.Context, t Totals) error
}

// Store runs fn atomically: either every write made through tx is kept or none is. The
// ctx handed to fn carries the transaction so collaborators sharing the database (the
// postgres ledger) join it.
type Store interface {
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
