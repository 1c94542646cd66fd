package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holder is the opaque address-like identity that owns cards and tokens.
type Holder string

type CardState string

const (
	CardPendingRandomness CardState = "pending_randomness"
	CardActive            CardState = "active"
	CardBanished          CardState = "banished"
)

type Card struct {
	Holder        Holder          `json:"holder"`
	Sequence      uint64          `json:"sequence"` // dense per holder, starts at 0
	DepositAmount decimal.Decimal `json:"deposit_amount"`
	RequestID     RequestID       `json:"request_id"` // randomness request that minted the card
	Attributes    *Attributes     `json:"attributes,omitempty"`
	State         CardState       `json:"state"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	BanishedAt    *time.Time      `json:"banished_at,omitempty"`
}

// CardKey identifies a card within the registry.
type CardKey struct {
	Holder   Holder `json:"holder"`
	Sequence uint64 `json:"sequence"`
}

func (c *Card) Key() CardKey {
	return CardKey{Holder: c.Holder, Sequence: c.Sequence}
}

func (c *Card) IsBanished() bool {
	return c.State == CardBanished
}
