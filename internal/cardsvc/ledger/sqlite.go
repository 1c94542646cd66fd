package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avvvet/card-services/internal/cardsvc/db"
	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/shopspring/decimal"
)

// SQLite is the Postgres ledger for a single-node deployment. Amounts are stored as
// decimal strings so arithmetic happens here rather than in SQL.
type SQLite struct {
	db   *sql.DB
	pool models.Holder
}

func NewSQLite(sqlDB *sql.DB, pool models.Holder) *SQLite {
	if pool == "" {
		pool = DefaultPool
	}
	return &SQLite{db: sqlDB, pool: pool}
}

func (l *SQLite) Pool() models.Holder { return l.pool }

func (l *SQLite) inTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	return db.RunInSQLTx(ctx, l.db, func(ctx context.Context) error {
		tx, _ := db.SQLTx(ctx)
		return fn(ctx, tx)
	})
}

func sqliteBalance(ctx context.Context, q db.SQLQuerier, account models.Holder) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := q.QueryRowContext(ctx, `SELECT balance FROM ledger_accounts WHERE account = ?`, string(account)).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read balance %s: %w", account, err)
	}
	return balance, nil
}

func sqliteAllowance(ctx context.Context, q db.SQLQuerier, owner, spender models.Holder) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := q.QueryRowContext(ctx, `SELECT amount FROM allowances WHERE owner = ? AND spender = ?`,
		string(owner), string(spender)).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read allowance %s: %w", owner, err)
	}
	return amount, nil
}

func setSQLiteAllowance(ctx context.Context, q db.SQLQuerier, owner, spender models.Holder, amount decimal.Decimal) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO allowances (owner, spender, amount) VALUES (?, ?, ?)
		ON CONFLICT (owner, spender) DO UPDATE SET amount = excluded.amount
	`, string(owner), string(spender), amount.String())
	if err != nil {
		return fmt.Errorf("write allowance %s: %w", owner, err)
	}
	return nil
}

func postSQLite(ctx context.Context, tx *sql.Tx, account models.Holder, ttype string, dr, cr decimal.Decimal, tref string) error {
	balance, err := sqliteBalance(ctx, tx, account)
	if err != nil {
		return err
	}
	next := balance.Add(dr).Sub(cr)
	if next.IsNegative() {
		return fmt.Errorf("%s %s: %w", ttype, account, ErrInsufficientBalance)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_accounts (account, balance) VALUES (?, ?)
		ON CONFLICT (account) DO UPDATE SET balance = excluded.balance
	`, string(account), next.String()); err != nil {
		return fmt.Errorf("update balance %s: %w", account, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO balances (account, ttype, dr, cr, tref, status, created_at)
		VALUES (?, ?, ?, ?, ?, 'verified', ?)
	`, string(account), ttype, dr.String(), cr.String(), tref, time.Now().UTC().UnixNano()); err != nil {
		return fmt.Errorf("insert %s record for %s: %w", ttype, account, err)
	}
	return nil
}

func transferSQLite(ctx context.Context, tx *sql.Tx, from, to models.Holder, amount decimal.Decimal, ttype, prefix string) error {
	baseRef := newTref(prefix)
	if err := postSQLite(ctx, tx, from, ttype, decimal.Zero, amount, baseRef+"-OUT"); err != nil {
		return err
	}
	return postSQLite(ctx, tx, to, ttype, amount, decimal.Zero, baseRef+"-IN")
}

func (l *SQLite) Mint(ctx context.Context, to models.Holder, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return l.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return postSQLite(ctx, tx, to, ttypeMint, amount, decimal.Zero, newTref("MNT"))
	})
}

func (l *SQLite) Approve(ctx context.Context, owner models.Holder, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrNonPositiveAmount, amount)
	}
	return setSQLiteAllowance(ctx, db.SQLConn(ctx, l.db), owner, l.pool, amount)
}

func (l *SQLite) Allowance(ctx context.Context, owner models.Holder) (decimal.Decimal, error) {
	return sqliteAllowance(ctx, db.SQLConn(ctx, l.db), owner, l.pool)
}

func (l *SQLite) BalanceOf(ctx context.Context, account models.Holder) (decimal.Decimal, error) {
	return sqliteBalance(ctx, db.SQLConn(ctx, l.db), account)
}

func (l *SQLite) PoolBalance(ctx context.Context) (decimal.Decimal, error) {
	return l.BalanceOf(ctx, l.pool)
}

func (l *SQLite) Pull(ctx context.Context, from models.Holder, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return l.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		allowance, err := sqliteAllowance(ctx, tx, from, l.pool)
		if err != nil {
			return err
		}
		if allowance.LessThan(amount) {
			return fmt.Errorf("pull %s from %s: %w", amount, from, ErrInsufficientAllowance)
		}
		balance, err := sqliteBalance(ctx, tx, from)
		if err != nil {
			return err
		}
		if balance.LessThan(amount) {
			return fmt.Errorf("pull %s from %s: %w", amount, from, ErrInsufficientBalance)
		}

		if err := setSQLiteAllowance(ctx, tx, from, l.pool, allowance.Sub(amount)); err != nil {
			return err
		}
		return transferSQLite(ctx, tx, from, l.pool, amount, ttypeDeposit, "DEP")
	})
}

func (l *SQLite) Push(ctx context.Context, to models.Holder, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return l.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return transferSQLite(ctx, tx, l.pool, to, amount, ttypeRefund, "RFD")
	})
}

func (l *SQLite) RevertPull(ctx context.Context, from models.Holder, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return l.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := transferSQLite(ctx, tx, l.pool, from, amount, ttypeReversal, "REV"); err != nil {
			return err
		}
		allowance, err := sqliteAllowance(ctx, tx, from, l.pool)
		if err != nil {
			return err
		}
		return setSQLiteAllowance(ctx, tx, from, l.pool, allowance.Add(amount))
	})
}

func (l *SQLite) Journal(ctx context.Context, account models.Holder) ([]Entry, error) {
	rows, err := db.SQLConn(ctx, l.db).QueryContext(ctx, `
		SELECT id, ttype, dr, cr, tref FROM balances WHERE account = ? AND status = 'verified' ORDER BY id
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
