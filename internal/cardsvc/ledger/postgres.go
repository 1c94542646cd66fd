package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/avvvet/card-services/internal/cardsvc/db"
	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Postgres keeps a dr/cr journal in balances and a running total in
// ledger_accounts.balance. Calls made with a ctx produced by db.RunInTx join that
// transaction, so a registry operation and its token movements commit together.
type Postgres struct {
	db   *pgxpool.Pool
	pool models.Holder
}

func NewPostgres(conn *pgxpool.Pool, pool models.Holder) *Postgres {
	if pool == "" {
		pool = DefaultPool
	}
	return &Postgres{db: conn, pool: pool}
}

func (l *Postgres) Pool() models.Holder { return l.pool }

func newTref(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String()[:8])
}

func ensurePgAccount(ctx context.Context, tx pgx.Tx, account models.Holder) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_accounts (account) VALUES ($1) ON CONFLICT (account) DO NOTHING
	`, string(account))
	if err != nil {
		return fmt.Errorf("ensure account %s: %w", account, err)
	}
	return nil
}

func lockPgBalance(ctx context.Context, tx pgx.Tx, account models.Holder) (decimal.Decimal, error) {
	if err := ensurePgAccount(ctx, tx, account); err != nil {
		return decimal.Zero, err
	}
	var balance decimal.Decimal
	err := tx.QueryRow(ctx, `
		SELECT balance FROM ledger_accounts WHERE account = $1 FOR UPDATE
	`, string(account)).Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("lock balance %s: %w", account, err)
	}
	return balance, nil
}

// postPg writes one journal row and moves the running balance by dr - cr.
func postPg(ctx context.Context, tx pgx.Tx, account models.Holder, ttype string, dr, cr decimal.Decimal, tref string) error {
	if err := ensurePgAccount(ctx, tx, account); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO balances (account, ttype, dr, cr, tref, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 'verified', NOW())
	`, string(account), ttype, dr, cr, tref); err != nil {
		return fmt.Errorf("insert %s record for %s: %w", ttype, account, err)
	}
	_, err := tx.Exec(ctx, `
		UPDATE ledger_accounts SET balance = balance + $2 - $3, updated_at = NOW() WHERE account = $1
	`, string(account), dr, cr)
	if db.IsCheckViolation(err) {
		return fmt.Errorf("%s %s: %w", ttype, account, ErrInsufficientBalance)
	}
	if err != nil {
		return fmt.Errorf("update balance %s: %w", account, err)
	}
	return nil
}

// transferPg moves amount between two accounts as a matching cr/dr pair.
func transferPg(ctx context.Context, tx pgx.Tx, from, to models.Holder, amount decimal.Decimal, ttype, prefix string) error {
	baseRef := newTref(prefix)
	if err := postPg(ctx, tx, from, ttype, decimal.Zero, amount, baseRef+"-OUT"); err != nil {
		return err
	}
	return postPg(ctx, tx, to, ttype, amount, decimal.Zero, baseRef+"-IN")
}

func (l *Postgres) inTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return db.RunInTx(ctx, l.db, func(ctx context.Context) error {
		tx, _ := db.PgTx(ctx)
		return fn(ctx, tx)
	})
}

func (l *Postgres) Mint(ctx context.Context, to models.Holder, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return l.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return postPg(ctx, tx, to, ttypeMint, amount, decimal.Zero, newTref("MNT"))
	})
}

func (l *Postgres) Approve(ctx context.Context, owner models.Holder, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrNonPositiveAmount, amount)
	}
	_, err := db.Conn(ctx, l.db).Exec(ctx, `
		INSERT INTO allowances (owner, spender, amount) VALUES ($1, $2, $3)
		ON CONFLICT (owner, spender) DO UPDATE SET amount = EXCLUDED.amount, updated_at = NOW()
	`, string(owner), string(l.pool), amount)
	if err != nil {
		return fmt.Errorf("approve %s: %w", owner, err)
	}
	return nil
}

func (l *Postgres) Allowance(ctx context.Context, owner models.Holder) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := db.Conn(ctx, l.db).QueryRow(ctx, `
		SELECT amount FROM allowances WHERE owner = $1 AND spender = $2
	`, string(owner), string(l.pool)).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read allowance %s: %w", owner, err)
	}
	return amount, nil
}

func (l *Postgres) BalanceOf(ctx context.Context, account models.Holder) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := db.Conn(ctx, l.db).QueryRow(ctx, `
		SELECT balance FROM ledger_accounts WHERE account = $1
	`, string(account)).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read balance %s: %w", account, err)
	}
	return balance, nil
}

func (l *Postgres) PoolBalance(ctx context.Context) (decimal.Decimal, error) {
	return l.BalanceOf(ctx, l.pool)
}

func (l *Postgres) Pull(ctx context.Context, from models.Holder, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return l.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var allowance decimal.Decimal
		err := tx.QueryRow(ctx, `
			SELECT amount FROM allowances WHERE owner = $1 AND spender = $2 FOR UPDATE
		`, string(from), string(l.pool)).Scan(&allowance)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("lock allowance %s: %w", from, err)
		}
		if allowance.LessThan(amount) {
			return fmt.Errorf("pull %s from %s: %w", amount, from, ErrInsufficientAllowance)
		}

		balance, err := lockPgBalance(ctx, tx, from)
		if err != nil {
			return err
		}
		if balance.LessThan(amount) {
			return fmt.Errorf("pull %s from %s: %w", amount, from, ErrInsufficientBalance)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE allowances SET amount = amount - $3, updated_at = NOW() WHERE owner = $1 AND spender = $2
		`, string(from), string(l.pool), amount); err != nil {
			return fmt.Errorf("spend allowance %s: %w", from, err)
		}
		return transferPg(ctx, tx, from, l.pool, amount, ttypeDeposit, "DEP")
	})
}

func (l *Postgres) Push(ctx context.Context, to models.Holder, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return l.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		balance, err := lockPgBalance(ctx, tx, l.pool)
		if err != nil {
			return err
		}
		if balance.LessThan(amount) {
			return fmt.Errorf("push %s to %s: %w", amount, to, ErrInsufficientBalance)
		}
		return transferPg(ctx, tx, l.pool, to, amount, ttypeRefund, "RFD")
	})
}

func (l *Postgres) RevertPull(ctx context.Context, from models.Holder, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return l.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := transferPg(ctx, tx, l.pool, from, amount, ttypeReversal, "REV"); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE allowances SET amount = amount + $3, updated_at = NOW() WHERE owner = $1 AND spender = $2
		`, string(from), string(l.pool), amount); err != nil {
			return fmt.Errorf("restore allowance %s: %w", from, err)
		}
		return nil
	})
}

// Entry is one row of an account's journal.
type Entry struct {
	ID    int64           `json:"id"`
	TType string          `json:"ttype"`
	Dr    decimal.Decimal `json:"dr"`
	Cr    decimal.Decimal `json:"cr"`
	Tref  string          `json:"tref"`
}

// Journal lists an account's journal rows oldest first.
func (l *Postgres) Journal(ctx context.Context, account models.Holder) ([]Entry, error) {
	rows, err := db.Conn(ctx, l.db).Query(ctx, `
		SELECT id, ttype, dr, cr, tref
		FROM balances
		WHERE account = $1 AND status = 'verified'
		ORDER BY id
	`, string(account))
	if err != nil {
		return nil, fmt.Errorf("list journal %s: %w", account, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TType, &e.Dr, &e.Cr, &e.Tref); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
