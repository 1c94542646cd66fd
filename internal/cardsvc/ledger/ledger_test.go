package ledger

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"github.com/avvvet/card-services/internal/cardsvc/db"
	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type tokenLedger interface {
	Pool() models.Holder
	Mint(ctx context.Context, to models.Holder, amount decimal.Decimal) error
	Approve(ctx context.Context, owner models.Holder, amount decimal.Decimal) error
	Allowance(ctx context.Context, owner models.Holder) (decimal.Decimal, error)
	BalanceOf(ctx context.Context, account models.Holder) (decimal.Decimal, error)
	Pull(ctx context.Context, from models.Holder, amount decimal.Decimal) error
	Push(ctx context.Context, to models.Holder, amount decimal.Decimal) error
	RevertPull(ctx context.Context, from models.Holder, amount decimal.Decimal) error
	PoolBalance(ctx context.Context) (decimal.Decimal, error)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireBalance(t *testing.T, l tokenLedger, account models.Holder, want string) {
	t.Helper()
	got, err := l.BalanceOf(context.Background(), account)
	require.NoError(t, err)
	require.True(t, dec(want).Equal(got), "%s: want %s got %s", account, want, got)
}

func testLedger(t *testing.T, newLedger func(t *testing.T) tokenLedger) {
	ctx := context.Background()
	holder := func() models.Holder { return models.Holder("0x" + uuid.NewString()) }

	t.Run("pull needs allowance", func(t *testing.T) {
		l := newLedger(t)
		alice := holder()
		require.NoError(t, l.Mint(ctx, alice, dec("100")))

		err := l.Pull(ctx, alice, dec("10"))
		require.ErrorIs(t, err, ErrInsufficientAllowance)
		requireBalance(t, l, alice, "100")
	})

	t.Run("pull needs balance", func(t *testing.T) {
		l := newLedger(t)
		alice := holder()
		require.NoError(t, l.Mint(ctx, alice, dec("5")))
		require.NoError(t, l.Approve(ctx, alice, dec("50")))

		err := l.Pull(ctx, alice, dec("10"))
		require.ErrorIs(t, err, ErrInsufficientBalance)
		requireBalance(t, l, alice, "5")

		allowance, err := l.Allowance(ctx, alice)
		require.NoError(t, err)
		require.True(t, dec("50").Equal(allowance))
	})

	t.Run("pull then push", func(t *testing.T) {
		l := newLedger(t)
		alice := holder()
		before, err := l.PoolBalance(ctx)
		require.NoError(t, err)

		require.NoError(t, l.Mint(ctx, alice, dec("100")))
		require.NoError(t, l.Approve(ctx, alice, dec("100")))
		require.NoError(t, l.Pull(ctx, alice, dec("40.5")))

		requireBalance(t, l, alice, "59.5")
		pool, err := l.PoolBalance(ctx)
		require.NoError(t, err)
		require.True(t, before.Add(dec("40.5")).Equal(pool))

		allowance, err := l.Allowance(ctx, alice)
		require.NoError(t, err)
		require.True(t, dec("59.5").Equal(allowance))

		require.NoError(t, l.Push(ctx, alice, dec("40.5")))
		requireBalance(t, l, alice, "100")
		pool, err = l.PoolBalance(ctx)
		require.NoError(t, err)
		require.True(t, before.Equal(pool))
	})

	t.Run("revert pull restores allowance", func(t *testing.T) {
		l := newLedger(t)
		alice := holder()
		require.NoError(t, l.Mint(ctx, alice, dec("20")))
		require.NoError(t, l.Approve(ctx, alice, dec("20")))
		require.NoError(t, l.Pull(ctx, alice, dec("20")))
		require.NoError(t, l.RevertPull(ctx, alice, dec("20")))

		requireBalance(t, l, alice, "20")
		allowance, err := l.Allowance(ctx, alice)
		require.NoError(t, err)
		require.True(t, dec("20").Equal(allowance))
	})

	t.Run("non positive amounts", func(t *testing.T) {
		l := newLedger(t)
		alice := holder()
		require.ErrorIs(t, l.Mint(ctx, alice, decimal.Zero), ErrNonPositiveAmount)
		require.ErrorIs(t, l.Pull(ctx, alice, dec("-1")), ErrNonPositiveAmount)
		require.ErrorIs(t, l.Push(ctx, alice, decimal.Zero), ErrNonPositiveAmount)
		require.ErrorIs(t, l.Approve(ctx, alice, dec("-3")), ErrNonPositiveAmount)
	})

	t.Run("push beyond pool", func(t *testing.T) {
		l := newLedger(t)
		pool, err := l.PoolBalance(ctx)
		require.NoError(t, err)

		err = l.Push(ctx, holder(), pool.Add(dec("1")))
		require.ErrorIs(t, err, ErrInsufficientBalance)
	})

	t.Run("minting to the pool tops it up", func(t *testing.T) {
		l := newLedger(t)
		before, err := l.PoolBalance(ctx)
		require.NoError(t, err)
		require.NoError(t, l.Mint(ctx, l.Pool(), dec("10000")))
		after, err := l.PoolBalance(ctx)
		require.NoError(t, err)
		require.True(t, before.Add(dec("10000")).Equal(after))
	})
}

func TestMemoryLedger(t *testing.T) {
	testLedger(t, func(t *testing.T) tokenLedger { return NewMemory("") })
}

func TestMemoryLedgerDefaultsPool(t *testing.T) {
	require.Equal(t, DefaultPool, NewMemory("").Pool())
	require.Equal(t, models.Holder("vault"), NewMemory("vault").Pool())
}

func openSQLite(t *testing.T) *sql.DB {
	sqlDB, err := db.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return sqlDB
}

func TestSQLiteLedger(t *testing.T) {
	testLedger(t, func(t *testing.T) tokenLedger { return NewSQLite(openSQLite(t), "") })
}

func TestSQLiteLedgerJoinsCallerTransaction(t *testing.T) {
	ctx := context.Background()
	sqlDB := openSQLite(t)
	l := NewSQLite(sqlDB, "")
	alice := models.Holder("0xalice")
	require.NoError(t, l.Mint(ctx, alice, dec("30")))
	require.NoError(t, l.Approve(ctx, alice, dec("30")))

	boom := errors.New("boom")
	err := db.RunInSQLTx(ctx, sqlDB, func(ctx context.Context) error {
		require.NoError(t, l.Pull(ctx, alice, dec("30")))
		return boom
	})
	require.ErrorIs(t, err, boom)

	requireBalance(t, l, alice, "30")
	pool, err := l.PoolBalance(ctx)
	require.NoError(t, err)
	require.True(t, pool.IsZero())
}

func TestSQLiteLedgerJournal(t *testing.T) {
	ctx := context.Background()
	l := NewSQLite(openSQLite(t), "")
	alice := models.Holder("0xalice")
	require.NoError(t, l.Mint(ctx, alice, dec("30")))
	require.NoError(t, l.Approve(ctx, alice, dec("30")))
	require.NoError(t, l.Pull(ctx, alice, dec("12")))

	entries, err := l.Journal(ctx, alice)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, ttypeMint, entries[0].TType)
	require.True(t, dec("30").Equal(entries[0].Dr))
	require.Equal(t, ttypeDeposit, entries[1].TType)
	require.True(t, dec("12").Equal(entries[1].Cr))

	poolEntries, err := l.Journal(ctx, l.Pool())
	require.NoError(t, err)
	require.Len(t, poolEntries, 1)
	require.Equal(t, entries[1].Tref[:len(entries[1].Tref)-len("-OUT")]+"-IN", poolEntries[0].Tref)
}

func TestPostgresLedger(t *testing.T) {
	dsn := os.Getenv("POSTGRES_URL")
	if dsn == "" {
		t.Skip("POSTGRES_URL not set; skipping postgres integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.MigratePostgres(ctx, pool))

	testLedger(t, func(t *testing.T) tokenLedger {
		// fresh pool account per subtest so balances do not leak between runs
		return NewPostgres(pool, models.Holder("pool-"+uuid.NewString()))
	})
}
