package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/avvvet/card-services/internal/cardsvc/store"
	log "github.com/sirupsen/logrus"
)

// BanishCard destroys the card and returns its deposit to the holder, provided the pool
// holds at least the decay minimum for the card's age. Attributes are not required.
func (r *Registry) BanishCard(ctx context.Context, holder models.Holder, sequence uint64) (*models.Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := models.CardKey{Holder: holder, Sequence: sequence}
	var card *models.Card
	err := r.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := tx.GetCard(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			return ErrCardNotFound
		}
		if err != nil {
			return err
		}
		if c.IsBanished() {
			return ErrCardNotFound
		}

		now := r.now().UTC()
		minimum := r.policy(c.DepositAmount, now.Sub(c.CreatedAt))
		pool, err := r.ledger.PoolBalance(ctx)
		if err != nil {
			return fmt.Errorf("read pool balance: %w", err)
		}
		if pool.LessThan(minimum) {
			return fmt.Errorf("%w: pool %s, required %s", ErrInsufficientBalance, pool, minimum)
		}

		if c.State == models.CardPendingRandomness {
			// a late callback for this card is refused as already fulfilled
			if err := tx.DeletePending(ctx, c.RequestID); err != nil {
				return err
			}
		}

		c.State = models.CardBanished
		c.BanishedAt = &now
		c.UpdatedAt = now
		if err := tx.PutCard(ctx, c); err != nil {
			return err
		}

		totals, err := tx.Totals(ctx)
		if err != nil {
			return err
		}
		totals.Locked = totals.Locked.Sub(c.DepositAmount)
		if err := tx.PutTotals(ctx, totals); err != nil {
			return err
		}

		if err := r.ledger.Push(ctx, holder, c.DepositAmount); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
		card = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"holder":   holder,
		"sequence": sequence,
		"amount":   card.DepositAmount.String(),
	}).Info("card banished")

	r.emit(ctx, models.Event{
		Type:      models.EventBanished,
		Holder:    holder,
		Sequence:  sequence,
		Amount:    card.DepositAmount,
		RequestID: card.RequestID,
		At:        *card.BanishedAt,
	})
	return card, nil
}
