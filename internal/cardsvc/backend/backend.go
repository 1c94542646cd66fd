// Package backend opens the card store and token ledger selected by STORE_BACKEND.
package backend

import (
	"context"
	"fmt"

	cardcfg "github.com/avvvet/card-services/internal/cardsvc/config"
	"github.com/avvvet/card-services/internal/cardsvc/db"
	"github.com/avvvet/card-services/internal/cardsvc/ledger"
	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/avvvet/card-services/internal/cardsvc/registry"
	"github.com/avvvet/card-services/internal/cardsvc/store"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Ledger is the full token ledger, including the admin operations.
type Ledger interface {
	registry.Ledger
	Pool() models.Holder
	Mint(ctx context.Context, to models.Holder, amount decimal.Decimal) error
	Approve(ctx context.Context, owner models.Holder, amount decimal.Decimal) error
	Allowance(ctx context.Context, owner models.Holder) (decimal.Decimal, error)
	BalanceOf(ctx context.Context, account models.Holder) (decimal.Decimal, error)
}

type Backend struct {
	Store  store.Store
	Ledger Ledger
	Close  func()
}

// Open builds the store and ledger on one database so a registry operation and its
// transfer commit together.
func Open(ctx context.Context, cfg cardcfg.Config) (*Backend, error) {
	pool := models.Holder(cfg.PoolAccount)

	switch cfg.StoreBackend {
	case cardcfg.StoreMemory:
		log.Warn("memory store selected, cards are lost on restart")
		return &Backend{Store: store.NewMemory(), Ledger: ledger.NewMemory(pool), Close: func() {}}, nil

	case cardcfg.StoreSQLite:
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		log.Infof("sqlite store at %s", cfg.SQLitePath)
		return &Backend{
			Store:  store.NewSQLite(sqlDB),
			Ledger: ledger.NewSQLite(sqlDB, pool),
			Close:  func() { sqlDB.Close() },
		}, nil

	case cardcfg.StorePostgres:
		dbpool, err := db.Connect(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := db.MigratePostgres(ctx, dbpool); err != nil {
			db.ClosePool()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		log.Printf("pg connection established successfully")
		return &Backend{
			Store:  store.NewPostgres(dbpool),
			Ledger: ledger.NewPostgres(dbpool, pool),
			Close:  db.ClosePool,
		}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
