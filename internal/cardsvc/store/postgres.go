package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/avvvet/card-services/internal/cardsvc/db"
	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{db: pool}
}

func (s *Postgres) Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return db.RunInTx(ctx, s.db, func(ctx context.Context) error {
		tx, _ := db.PgTx(ctx)
		return fn(ctx, &pgStoreTx{tx: tx})
	})
}

type pgStoreTx struct {
	tx pgx.Tx
}

func (t *pgStoreTx) NextSequence(ctx context.Context, holder models.Holder) (uint64, error) {
	var next uint64
	err := t.tx.QueryRow(ctx, `
		SELECT next_sequence FROM holder_counters WHERE holder = $1 FOR UPDATE
	`, string(holder)).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read holder counter: %w", err)
	}
	return next, nil
}

func (t *pgStoreTx) SetNextSequence(ctx context.Context, holder models.Holder, next uint64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO holder_counters (holder, next_sequence)
		VALUES ($1, $2)
		ON CONFLICT (holder) DO UPDATE
		SET next_sequence = EXCLUDED.next_sequence, updated_at = now()
	`, string(holder), next)
	if err != nil {
		return fmt.Errorf("write holder counter: %w", err)
	}
	return nil
}

const cardColumns = `holder, sequence, deposit_amount, request_id, attributes, state, created_at, updated_at, banished_at`

func scanPgCard(row pgx.Row) (*models.Card, error) {
	var (
		card                 models.Card
		holder, reqID, state string
		attrs                []byte
	)
	err := row.Scan(
		&holder,
		&card.Sequence,
		&card.DepositAmount,
		&reqID,
		&attrs,
		&state,
		&card.CreatedAt,
		&card.UpdatedAt,
		&card.BanishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan card: %w", err)
	}
	card.Holder = models.Holder(holder)
	card.RequestID = models.RequestID(reqID)
	card.State = models.CardState(state)
	if len(attrs) > 0 {
		card.Attributes = &models.Attributes{}
		if err := json.Unmarshal(attrs, card.Attributes); err != nil {
			return nil, fmt.Errorf("decode card attributes: %w", err)
		}
	}
	return &card, nil
}

func (t *pgStoreTx) GetCard(ctx context.Context, key models.CardKey) (*models.Card, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+cardColumns+`
		FROM cards
		WHERE holder = $1 AND sequence = $2
		FOR UPDATE
	`, string(key.Holder), key.Sequence)
	return scanPgCard(row)
}

func (t *pgStoreTx) GetCardByRequest(ctx context.Context, id models.RequestID) (*models.Card, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+cardColumns+`
		FROM cards
		WHERE request_id = $1
		FOR UPDATE
	`, string(id))
	return scanPgCard(row)
}

func (t *pgStoreTx) PutCard(ctx context.Context, card *models.Card) error {
	var attrs []byte
	if card.Attributes != nil {
		b, err := json.Marshal(card.Attributes)
		if err != nil {
			return fmt.Errorf("encode card attributes: %w", err)
		}
		attrs = b
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO cards (`+cardColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (holder, sequence) DO UPDATE
		SET attributes = EXCLUDED.attributes,
		    state = EXCLUDED.state,
		    updated_at = EXCLUDED.updated_at,
		    banished_at = EXCLUDED.banished_at
	`,
		string(card.Holder),
		card.Sequence,
		card.DepositAmount,
		string(card.RequestID),
		attrs,
		string(card.State),
		card.CreatedAt,
		card.UpdatedAt,
		card.BanishedAt,
	)
	if db.IsUniqueViolation(err, "unique_card_request") {
		return fmt.Errorf("request %s already bound to a card: %w", card.RequestID, err)
	}
	if err != nil {
		return fmt.Errorf("write card: %w", err)
	}
	return nil
}

func (t *pgStoreTx) ListCards(ctx context.Context, holder models.Holder) ([]*models.Card, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+cardColumns+`
		FROM cards
		WHERE holder = $1
		ORDER BY sequence
	`, string(holder))
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var cards []*models.Card
	for rows.Next() {
		card, err := scanPgCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

func (t *pgStoreTx) GetPending(ctx context.Context, id models.RequestID) (*models.PendingRequest, error) {
	var (
		p      models.PendingRequest
		holder string
	)
	err := t.tx.QueryRow(ctx, `
		SELECT holder, sequence, requested_at
		FROM pending_requests
		WHERE request_id = $1
		FOR UPDATE
	`, string(id)).Scan(&holder, &p.Sequence, &p.RequestedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read pending request: %w", err)
	}
	p.RequestID = id
	p.Holder = models.Holder(holder)
	return &p, nil
}

func (t *pgStoreTx) PutPending(ctx context.Context, p models.PendingRequest) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO pending_requests (request_id, holder, sequence, requested_at)
		VALUES ($1, $2, $3, $4)
	`, string(p.RequestID), string(p.Holder), p.Sequence, p.RequestedAt)
	if err != nil {
		return fmt.Errorf("write pending request: %w", err)
	}
	return nil
}

func (t *pgStoreTx) DeletePending(ctx context.Context, id models.RequestID) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM pending_requests WHERE request_id = $1`, string(id)); err != nil {
		return fmt.Errorf("delete pending request: %w", err)
	}
	return nil
}

func (t *pgStoreTx) ListPending(ctx context.Context) ([]models.PendingRequest, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT request_id, holder, sequence, requested_at
		FROM pending_requests
		ORDER BY requested_at, request_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	defer rows.Close()

	var out []models.PendingRequest
	for rows.Next() {
		var (
			p          models.PendingRequest
			id, holder string
		)
		if err := rows.Scan(&id, &holder, &p.Sequence, &p.RequestedAt); err != nil {
			return nil, fmt.Errorf("scan pending request: %w", err)
		}
		p.RequestID = models.RequestID(id)
		p.Holder = models.Holder(holder)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgStoreTx) Totals(ctx context.Context) (Totals, error) {
	var (
		totals Totals
		last   string
	)
	err := t.tx.QueryRow(ctx, `
		SELECT locked, last_request_id FROM registry_totals WHERE id = 1 FOR UPDATE
	`).Scan(&totals.Locked, &last)
	if err != nil {
		return Totals{}, fmt.Errorf("read registry totals: %w", err)
	}
	totals.LastRequestID = models.RequestID(last)
	return totals, nil
}

func (t *pgStoreTx) PutTotals(ctx context.Context, totals Totals) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE registry_totals
		SET locked = $1, last_request_id = $2, updated_at = now()
		WHERE id = 1
	`, totals.Locked, string(totals.LastRequestID))
	if err != nil {
		return fmt.Errorf("write registry totals: %w", err)
	}
	return nil
}
