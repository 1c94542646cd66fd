package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/avvvet/card-services/internal/cardsvc/db"
	"github.com/avvvet/card-services/internal/cardsvc/ledger"
	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/avvvet/card-services/internal/cardsvc/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestStalePending(t *testing.T) {
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	pending := []models.PendingRequest{
		{RequestID: "1", RequestedAt: now.Add(-time.Hour)},
		{RequestID: "2", RequestedAt: now.Add(-time.Minute)},
		{RequestID: "3", RequestedAt: now.Add(-10 * time.Minute)},
	}

	stale := stalePending(pending, now, 10*time.Minute)
	require.Len(t, stale, 2)
	require.Equal(t, models.RequestID("1"), stale[0].RequestID)
	require.Equal(t, models.RequestID("3"), stale[1].RequestID)

	require.Len(t, stalePending(pending, now, 0), 3)
	require.Empty(t, stalePending(nil, now, 0))
}

func TestRunCredit(t *testing.T) {
	var got models.Holder
	var amount decimal.Decimal
	apply := func(h models.Holder, a decimal.Decimal) error {
		got, amount = h, a
		return nil
	}

	require.NoError(t, runCredit(context.Background(), []string{"0xalice", "12.5"}, apply))
	require.Equal(t, models.Holder("0xalice"), got)
	require.Equal(t, "12.5", amount.String())

	require.Error(t, runCredit(context.Background(), []string{"0xalice"}, apply))
	require.Error(t, runCredit(context.Background(), []string{"0xalice", "lots"}, apply))
}

func TestListPending(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.PutPending(ctx, models.PendingRequest{RequestID: "7", Holder: "0xa", RequestedAt: time.Now()})
	}))

	pending, err := listPending(ctx, s)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, models.RequestID("7"), pending[0].RequestID)
}

func TestRunJournal(t *testing.T) {
	ctx := context.Background()
	sqlDB, err := db.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer sqlDB.Close()

	l := ledger.NewSQLite(sqlDB, "")
	alice := models.Holder("0xalice")
	require.NoError(t, l.Mint(ctx, alice, decimal.NewFromInt(30)))
	require.NoError(t, l.Approve(ctx, alice, decimal.NewFromInt(30)))
	require.NoError(t, l.Pull(ctx, alice, decimal.NewFromInt(12)))

	var out bytes.Buffer
	require.NoError(t, runJournal(ctx, l, []string{string(alice)}, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], "mint")
	require.Contains(t, lines[1], "card_deposit")
	require.Equal(t, "0xalice entries=2 balance=18", lines[2])

	out.Reset()
	require.NoError(t, runJournal(ctx, l, nil, &out))
	require.Contains(t, out.String(), string(l.Pool())+" entries=1 balance=12")

	require.Error(t, runJournal(ctx, l, []string{"a", "b"}, &out))
}

func TestRunJournalNeedsDatabaseLedger(t *testing.T) {
	err := runJournal(context.Background(), ledger.NewMemory(""), nil, &bytes.Buffer{})
	require.ErrorContains(t, err, "keeps no journal")
}
