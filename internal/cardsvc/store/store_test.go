package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// testStore runs the same behaviour checks against every backend.
func testStore(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	newCard := func(holder models.Holder, seq uint64) *models.Card {
		return &models.Card{
			Holder:        holder,
			Sequence:      seq,
			DepositAmount: decimal.RequireFromString("12.5"),
			RequestID:     models.RequestID(uuid.NewString()),
			State:         models.CardPendingRandomness,
			CreatedAt:     at,
			UpdatedAt:     at,
		}
	}
	freshHolder := func() models.Holder { return models.Holder("0x" + uuid.NewString()) }

	t.Run("counter starts at zero", func(t *testing.T) {
		s := newStore(t)
		holder := freshHolder()

		err := s.Atomic(ctx, func(ctx context.Context, tx Tx) error {
			next, err := tx.NextSequence(ctx, holder)
			require.NoError(t, err)
			require.Zero(t, next)
			return tx.SetNextSequence(ctx, holder, 3)
		})
		require.NoError(t, err)

		err = s.Atomic(ctx, func(ctx context.Context, tx Tx) error {
			next, err := tx.NextSequence(ctx, holder)
			require.NoError(t, err)
			require.Equal(t, uint64(3), next)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("card round trip and lookup by request", func(t *testing.T) {
		s := newStore(t)
		card := newCard(freshHolder(), 0)

		require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx Tx) error {
			return tx.PutCard(ctx, card)
		}))

		require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx Tx) error {
			got, err := tx.GetCard(ctx, card.Key())
			require.NoError(t, err)
			require.Equal(t, card.Holder, got.Holder)
			require.Equal(t, card.RequestID, got.RequestID)
			require.Equal(t, models.CardPendingRandomness, got.State)
			require.True(t, card.DepositAmount.Equal(got.DepositAmount))
			require.True(t, card.CreatedAt.Equal(got.CreatedAt))
			require.Nil(t, got.Attributes)
			require.Nil(t, got.BanishedAt)

			byReq, err := tx.GetCardByRequest(ctx, card.RequestID)
			require.NoError(t, err)
			require.Equal(t, card.Key(), byReq.Key())
			return nil
		}))
	})

	t.Run("card update keeps deposit", func(t *testing.T) {
		s := newStore(t)
		card := newCard(freshHolder(), 0)
		require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx Tx) error {
			return tx.PutCard(ctx, card)
		}))

		banishedAt := at.Add(time.Hour)
		updated := *card
		updated.State = models.CardBanished
		updated.Attributes = &models.Attributes{Version: "v1", Rarity: models.RarityRare, Element: "ember", Attack: 10, Defense: 11, Speed: 12}
		updated.UpdatedAt = banishedAt
		updated.BanishedAt = &banishedAt
		require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx Tx) error {
			return tx.PutCard(ctx, &updated)
		}))

		require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx Tx) error {
			got, err := tx.GetCard(ctx, card.Key())
			require.NoError(t, err)
			require.True(t, got.IsBanished())
			require.Equal(t, updated.Attributes, got.Attributes)
			require.NotNil(t, got.BanishedAt)
			require.True(t, banishedAt.Equal(*got.BanishedAt))
			require.True(t, card.DepositAmount.Equal(got.DepositAmount))
			return nil
		}))
	})

	t.Run("missing rows", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx Tx) error {
			_, err := tx.GetCard(ctx, models.CardKey{Holder: freshHolder(), Sequence: 9})
			require.ErrorIs(t, err, ErrNotFound)
			_, err = tx.GetCardByRequest(ctx, models.RequestID(uuid.NewString()))
			require.ErrorIs(t, err, ErrNotFound)
			_, err = tx.GetPending(ctx, models.RequestID(uuid.NewString()))
			require.ErrorIs(t, err, ErrNotFound)
			return nil
		}))
	})

	t.Run("pending lifecycle", func(t *testing.T) {
		s := newStore(t)
		card := newCard(freshHolder(), 0)
		p := models.PendingRequest{RequestID: card.RequestID, Holder: card.Holder, Sequence: 0, RequestedAt: at}

		require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx Tx) error {
			require.NoError(t, tx.PutCard(ctx, card))
			return tx.PutPending(ctx, p)
		}))

		require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx Tx) error {
			got, err := tx.GetPending(ctx, p.RequestID)
			require.NoError(t, err)
			require.Equal(t, p.CardKey(), got.CardKey())
			require.True(t, at.Equal(got.RequestedAt))

			list, err := tx.ListPending(ctx)
			require.NoError(t, err)
			require.Contains(t, requestIDs(list), p.RequestID)

			return tx.DeletePending(ctx, p.RequestID)
		}))

		require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx Tx) error {
			_, err := tx.GetPending(ctx, p.RequestID)
			require.ErrorIs(t, err, ErrNotFound)
			list, err := tx.ListPending(ctx)
			require.NoError(t, err)
			require.NotContains(t, requestIDs(list), p.RequestID)
			return nil
		}))
	})

	t.Run("list cards ordered by sequence", func(t *testing.T) {
		s := newStore(t)
		holder := freshHolder()
		require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx Tx) error {
			for _, seq := range []uint64{2, 0, 1} {
				require.NoError(t, tx.PutCard(ctx, newCard(holder, seq)))
			}
			require.NoError(t, tx.PutCard(ctx, newCard(freshHolder(), 0)))
			return nil
		}))

		require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx Tx) error {
			cards, err := tx.ListCards(ctx, holder)
			require.NoError(t, err)
			require.Len(t, cards, 3)
			for i, c := range cards {
				require.Equal(t, uint64(i), c.Sequence)
				require.Equal(t, holder, c.Holder)
			}
			return nil
		}))
	})

	t.Run("totals", func(t *testing.T) {
		s := newStore(t)
		want := Totals{Locked: decimal.RequireFromString("250.75"), LastRequestID: models.RequestID(uuid.NewString())}
		require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx Tx) error {
			return tx.PutTotals(ctx, want)
		}))
		require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx Tx) error {
			got, err := tx.Totals(ctx)
			require.NoError(t, err)
			require.True(t, want.Locked.Equal(got.Locked))
			require.Equal(t, want.LastRequestID, got.LastRequestID)
			return nil
		}))
	})

	t.Run("failed unit leaves no trace", func(t *testing.T) {
		s := newStore(t)
		holder := freshHolder()
		card := newCard(holder, 0)
		boom := errors.New("boom")

		var before Totals
		require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx Tx) error {
			var err error
			before, err = tx.Totals(ctx)
			return err
		}))

		err := s.Atomic(ctx, func(ctx context.Context, tx Tx) error {
			require.NoError(t, tx.SetNextSequence(ctx, holder, 1))
			require.NoError(t, tx.PutCard(ctx, card))
			require.NoError(t, tx.PutPending(ctx, models.PendingRequest{
				RequestID: card.RequestID, Holder: holder, RequestedAt: at,
			}))
			require.NoError(t, tx.PutTotals(ctx, Totals{Locked: before.Locked.Add(card.DepositAmount), LastRequestID: card.RequestID}))
			return boom
		})
		require.ErrorIs(t, err, boom)

		require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx Tx) error {
			next, err := tx.NextSequence(ctx, holder)
			require.NoError(t, err)
			require.Zero(t, next)

			_, err = tx.GetCard(ctx, card.Key())
			require.ErrorIs(t, err, ErrNotFound)
			_, err = tx.GetPending(ctx, card.RequestID)
			require.ErrorIs(t, err, ErrNotFound)

			totals, err := tx.Totals(ctx)
			require.NoError(t, err)
			require.True(t, before.Locked.Equal(totals.Locked))
			require.Equal(t, before.LastRequestID, totals.LastRequestID)
			return nil
		}))
	})

	t.Run("writes are visible inside the unit", func(t *testing.T) {
		s := newStore(t)
		holder := freshHolder()
		card := newCard(holder, 0)

		require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx Tx) error {
			require.NoError(t, tx.SetNextSequence(ctx, holder, 1))
			require.NoError(t, tx.PutCard(ctx, card))

			next, err := tx.NextSequence(ctx, holder)
			require.NoError(t, err)
			require.Equal(t, uint64(1), next)

			got, err := tx.GetCardByRequest(ctx, card.RequestID)
			require.NoError(t, err)
			require.Equal(t, card.Key(), got.Key())
			return nil
		}))
	})
}

func requestIDs(list []models.PendingRequest) []models.RequestID {
	ids := make([]models.RequestID, 0, len(list))
	for _, p := range list {
		ids = append(ids, p.RequestID)
	}
	return ids
}

func TestMemoryStore(t *testing.T) {
	testStore(t, func(t *testing.T) Store { return NewMemory() })
}

func TestMemoryAtomicSerializes(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	holder := models.Holder("0xabc")

	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_ = s.Atomic(ctx, func(ctx context.Context, tx Tx) error {
				next, err := tx.NextSequence(ctx, holder)
				if err != nil {
					return err
				}
				return tx.SetNextSequence(ctx, holder, next+1)
			})
		}()
	}
	for i := 0; i < 20; i++ {
		<-done
	}

	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		next, err := tx.NextSequence(ctx, holder)
		require.NoError(t, err)
		require.Equal(t, uint64(20), next)
		return nil
	}))
}
