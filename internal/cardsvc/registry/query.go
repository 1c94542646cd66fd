package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/avvvet/card-services/internal/cardsvc/store"
	"github.com/shopspring/decimal"
)

// PoolStatus compares the deposits still owed to holders with what the pool holds.
type PoolStatus struct {
	Locked  decimal.Decimal `json:"locked"`
	Balance decimal.Decimal `json:"balance"`
}

func (r *Registry) read(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Atomic(ctx, fn)
}

// GetCard returns the card including banished ones.
func (r *Registry) GetCard(ctx context.Context, holder models.Holder, sequence uint64) (*models.Card, error) {
	var card *models.Card
	err := r.read(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := tx.GetCard(ctx, models.CardKey{Holder: holder, Sequence: sequence})
		if errors.Is(err, store.ErrNotFound) {
			return ErrCardNotFound
		}
		card = c
		return err
	})
	return card, err
}

func (r *Registry) ListCards(ctx context.Context, holder models.Holder) ([]*models.Card, error) {
	var cards []*models.Card
	err := r.read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		cards, err = tx.ListCards(ctx, holder)
		return err
	})
	return cards, err
}

// NextSequence is the sequence the holder's next card will get.
func (r *Registry) NextSequence(ctx context.Context, holder models.Holder) (uint64, error) {
	var next uint64
	err := r.read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		next, err = tx.NextSequence(ctx, holder)
		return err
	})
	return next, err
}

// LastRequestID is the id of the most recent randomness request, empty before the first.
func (r *Registry) LastRequestID(ctx context.Context) (models.RequestID, error) {
	var id models.RequestID
	err := r.read(ctx, func(ctx context.Context, tx store.Tx) error {
		totals, err := tx.Totals(ctx)
		id = totals.LastRequestID
		return err
	})
	return id, err
}

func (r *Registry) PendingRequests(ctx context.Context) ([]models.PendingRequest, error) {
	var pending []models.PendingRequest
	err := r.read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		pending, err = tx.ListPending(ctx)
		return err
	})
	return pending, err
}

func (r *Registry) Pool(ctx context.Context) (PoolStatus, error) {
	var status PoolStatus
	err := r.read(ctx, func(ctx context.Context, tx store.Tx) error {
		totals, err := tx.Totals(ctx)
		if err != nil {
			return err
		}
		balance, err := r.ledger.PoolBalance(ctx)
		if err != nil {
			return fmt.Errorf("read pool balance: %w", err)
		}
		status = PoolStatus{Locked: totals.Locked, Balance: balance}
		return nil
	})
	return status, err
}
