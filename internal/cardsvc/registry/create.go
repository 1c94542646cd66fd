package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/avvvet/card-services/internal/cardsvc/store"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// CreateCard takes amount from holder into the pool and mints the holder's next card,
// pending randomness.
func (r *Registry) CreateCard(ctx context.Context, holder models.Holder, amount decimal.Decimal) (*models.Card, error) {
	if strings.TrimSpace(string(holder)) == "" {
		return nil, ErrInvalidHolder
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var card *models.Card
	err := r.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		seq, err := tx.NextSequence(ctx, holder)
		if err != nil {
			return err
		}

		if err := r.ledger.Pull(ctx, holder, amount); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferRejected, err)
		}

		id, err := r.oracle.Request(ctx)
		if err != nil {
			r.returnDeposit(ctx, holder, amount)
			return fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
		}

		now := r.now().UTC()
		card = &models.Card{
			Holder:        holder,
			Sequence:      seq,
			DepositAmount: amount,
			RequestID:     id,
			State:         models.CardPendingRandomness,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.PutCard(ctx, card); err != nil {
			return err
		}
		if err := tx.SetNextSequence(ctx, holder, seq+1); err != nil {
			return err
		}
		if err := tx.PutPending(ctx, models.PendingRequest{
			RequestID:   id,
			Holder:      holder,
			Sequence:    seq,
			RequestedAt: now,
		}); err != nil {
			return err
		}

		totals, err := tx.Totals(ctx)
		if err != nil {
			return err
		}
		totals.Locked = totals.Locked.Add(amount)
		totals.LastRequestID = id
		return tx.PutTotals(ctx, totals)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"holder":     holder,
		"sequence":   card.Sequence,
		"amount":     amount.String(),
		"request_id": card.RequestID,
	}).Info("card created")

	r.emit(ctx, models.Event{
		Type:      models.EventCreated,
		Holder:    holder,
		Sequence:  card.Sequence,
		Amount:    amount,
		RequestID: card.RequestID,
		At:        card.CreatedAt,
	})
	return card, nil
}

// returnDeposit hands a pulled deposit back when the operation cannot finish. Ledgers
// sharing the store transaction are rolled back with it anyway.
func (r *Registry) returnDeposit(ctx context.Context, holder models.Holder, amount decimal.Decimal) {
	var err error
	if rv, ok := r.ledger.(pullReverter); ok {
		err = rv.RevertPull(ctx, holder, amount)
	} else {
		err = r.ledger.Push(ctx, holder, amount)
	}
	if err != nil {
		log.WithFields(log.Fields{"holder": holder, "amount": amount.String()}).Errorf("return deposit: %v", err)
	}
}
