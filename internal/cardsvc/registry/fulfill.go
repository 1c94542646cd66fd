package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/avvvet/card-services/internal/cardsvc/store"
	log "github.com/sirupsen/logrus"
)

// FulfillRandomness is the oracle callback. It consumes the pending request and fixes
// the card's attributes from words. Refused callbacks change nothing and are audited.
func (r *Registry) FulfillRandomness(ctx context.Context, id models.RequestID, words []uint64) (*models.Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var card *models.Card
	err := r.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetPending(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return consumedOrUnknown(ctx, tx, id)
		}
		if err != nil {
			return err
		}
		if len(words) == 0 {
			return ErrNoRandomWords
		}

		c, err := tx.GetCard(ctx, p.CardKey())
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: card for request %s missing", ErrUnknownRequest, id)
		}
		if err != nil {
			return err
		}
		if c.Attributes != nil || c.IsBanished() {
			return ErrAlreadyFulfilled
		}

		attrs, err := r.deriver.Derive(words)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrNoRandomWords, err)
		}

		c.Attributes = attrs
		c.State = models.CardActive
		c.UpdatedAt = r.now().UTC()
		if err := tx.PutCard(ctx, c); err != nil {
			return err
		}
		if err := tx.DeletePending(ctx, id); err != nil {
			return err
		}
		card = c
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUnknownRequest) || errors.Is(err, ErrAlreadyFulfilled) || errors.Is(err, ErrNoRandomWords) {
			r.reject(ctx, id, len(words), err)
		}
		return nil, err
	}

	log.WithFields(log.Fields{
		"holder":     card.Holder,
		"sequence":   card.Sequence,
		"request_id": id,
		"rarity":     card.Attributes.Rarity,
	}).Info("card randomness fulfilled")

	r.emit(ctx, models.Event{
		Type:       models.EventRequestFulfilled,
		Holder:     card.Holder,
		Sequence:   card.Sequence,
		Amount:     card.DepositAmount,
		RequestID:  id,
		Attributes: card.Attributes,
		At:         card.UpdatedAt,
	})
	return card, nil
}

// consumedOrUnknown tells a request that already minted a card apart from one that was
// never issued.
func consumedOrUnknown(ctx context.Context, tx store.Tx, id models.RequestID) error {
	_, err := tx.GetCardByRequest(ctx, id)
	switch {
	case err == nil:
		return ErrAlreadyFulfilled
	case errors.Is(err, store.ErrNotFound):
		return ErrUnknownRequest
	default:
		return err
	}
}
