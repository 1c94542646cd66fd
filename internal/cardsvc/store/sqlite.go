package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avvvet/card-services/internal/cardsvc/db"
	"github.com/avvvet/card-services/internal/cardsvc/models"
)

// SQLite is the single-node durable store. Timestamps are kept as unix nanoseconds and
// amounts as decimal strings.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(sqlDB *sql.DB) *SQLite {
	return &SQLite{db: sqlDB}
}

func (s *SQLite) Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return db.RunInSQLTx(ctx, s.db, func(ctx context.Context) error {
		tx, _ := db.SQLTx(ctx)
		return fn(ctx, &sqliteTx{tx: tx})
	})
}

type sqliteTx struct {
	tx *sql.Tx
}

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func (t *sqliteTx) NextSequence(ctx context.Context, holder models.Holder) (uint64, error) {
	var next int64
	err := t.tx.QueryRowContext(ctx, `SELECT next_sequence FROM holder_counters WHERE holder = ?`, string(holder)).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read holder counter: %w", err)
	}
	return uint64(next), nil
}

func (t *sqliteTx) SetNextSequence(ctx context.Context, holder models.Holder, next uint64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO holder_counters (holder, next_sequence) VALUES (?, ?)
		ON CONFLICT (holder) DO UPDATE SET next_sequence = excluded.next_sequence
	`, string(holder), int64(next))
	if err != nil {
		return fmt.Errorf("write holder counter: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteCard(row rowScanner) (*models.Card, error) {
	var (
		card                 models.Card
		holder, reqID, state string
		seq                  int64
		attrs                sql.NullString
		created, updated     int64
		banished             sql.NullInt64
	)
	err := row.Scan(&holder, &seq, &card.DepositAmount, &reqID, &attrs, &state, &created, &updated, &banished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan card: %w", err)
	}

	card.Holder = models.Holder(holder)
	card.Sequence = uint64(seq)
	card.RequestID = models.RequestID(reqID)
	card.State = models.CardState(state)
	card.CreatedAt = fromNanos(created)
	card.UpdatedAt = fromNanos(updated)
	if banished.Valid {
		at := fromNanos(banished.Int64)
		card.BanishedAt = &at
	}
	if attrs.Valid && attrs.String != "" {
		card.Attributes = &models.Attributes{}
		if err := json.Unmarshal([]byte(attrs.String), card.Attributes); err != nil {
			return nil, fmt.Errorf("decode card attributes: %w", err)
		}
	}
	return &card, nil
}

func (t *sqliteTx) GetCard(ctx context.Context, key models.CardKey) (*models.Card, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE holder = ? AND sequence = ?`,
		string(key.Holder), int64(key.Sequence))
	return scanSQLiteCard(row)
}

func (t *sqliteTx) GetCardByRequest(ctx context.Context, id models.RequestID) (*models.Card, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE request_id = ?`, string(id))
	return scanSQLiteCard(row)
}

func (t *sqliteTx) PutCard(ctx context.Context, card *models.Card) error {
	var attrs sql.NullString
	if card.Attributes != nil {
		b, err := json.Marshal(card.Attributes)
		if err != nil {
			return fmt.Errorf("encode card attributes: %w", err)
		}
		attrs = sql.NullString{String: string(b), Valid: true}
	}
	var banished sql.NullInt64
	if card.BanishedAt != nil {
		banished = sql.NullInt64{Int64: toNanos(*card.BanishedAt), Valid: true}
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO cards (`+cardColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (holder, sequence) DO UPDATE
		SET attributes = excluded.attributes,
		    state = excluded.state,
		    updated_at = excluded.updated_at,
		    banished_at = excluded.banished_at
	`,
		string(card.Holder),
		int64(card.Sequence),
		card.DepositAmount.String(),
		string(card.RequestID),
		attrs,
		string(card.State),
		toNanos(card.CreatedAt),
		toNanos(card.UpdatedAt),
		banished,
	)
	if err != nil {
		return fmt.Errorf("write card: %w", err)
	}
	return nil
}

func (t *sqliteTx) ListCards(ctx context.Context, holder models.Holder) ([]*models.Card, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE holder = ? ORDER BY sequence`, string(holder))
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var cards []*models.Card
	for rows.Next() {
		card, err := scanSQLiteCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

func (t *sqliteTx) GetPending(ctx context.Context, id models.RequestID) (*models.PendingRequest, error) {
	var (
		holder         string
		seq, requested int64
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT holder, sequence, requested_at FROM pending_requests WHERE request_id = ?
	`, string(id)).Scan(&holder, &seq, &requested)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read pending request: %w", err)
	}
	return &models.PendingRequest{
		RequestID:   id,
		Holder:      models.Holder(holder),
		Sequence:    uint64(seq),
		RequestedAt: fromNanos(requested),
	}, nil
}

func (t *sqliteTx) PutPending(ctx context.Context, p models.PendingRequest) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO pending_requests (request_id, holder, sequence, requested_at) VALUES (?, ?, ?, ?)
	`, string(p.RequestID), string(p.Holder), int64(p.Sequence), toNanos(p.RequestedAt))
	if err != nil {
		return fmt.Errorf("write pending request: %w", err)
	}
	return nil
}

func (t *sqliteTx) DeletePending(ctx context.Context, id models.RequestID) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM pending_requests WHERE request_id = ?`, string(id)); err != nil {
		return fmt.Errorf("delete pending request: %w", err)
	}
	return nil
}

func (t *sqliteTx) ListPending(ctx context.Context) ([]models.PendingRequest, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT request_id, holder, sequence, requested_at FROM pending_requests ORDER BY requested_at, request_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	defer rows.Close()

	var out []models.PendingRequest
	for rows.Next() {
		var (
			id, holder     string
			seq, requested int64
		)
		if err := rows.Scan(&id, &holder, &seq, &requested); err != nil {
			return nil, fmt.Errorf("scan pending request: %w", err)
		}
		out = append(out, models.PendingRequest{
			RequestID:   models.RequestID(id),
			Holder:      models.Holder(holder),
			Sequence:    uint64(seq),
			RequestedAt: fromNanos(requested),
		})
	}
	return out, rows.Err()
}

func (t *sqliteTx) Totals(ctx context.Context) (Totals, error) {
	var (
		totals Totals
		last   string
	)
	err := t.tx.QueryRowContext(ctx, `SELECT locked, last_request_id FROM registry_totals WHERE id = 1`).Scan(&totals.Locked, &last)
	if err != nil {
		return Totals{}, fmt.Errorf("read registry totals: %w", err)
	}
	totals.LastRequestID = models.RequestID(last)
	return totals, nil
}

func (t *sqliteTx) PutTotals(ctx context.Context, totals Totals) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE registry_totals SET locked = ?, last_request_id = ? WHERE id = 1`,
		totals.Locked.String(), string(totals.LastRequestID))
	if err != nil {
		return fmt.Errorf("write registry totals: %w", err)
	}
	return nil
}
