package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventCreated          EventType = "card.created"
	EventRequestFulfilled EventType = "card.request_fulfilled"
	EventBanished         EventType = "card.banished"
)

// Event is emitted by the registry after an operation commits.
type Event struct {
	Type       EventType       `json:"type"`
	Holder     Holder          `json:"holder"`
	Sequence   uint64          `json:"sequence"`
	Amount     decimal.Decimal `json:"amount"`
	RequestID  RequestID       `json:"request_id,omitempty"`
	Attributes *Attributes     `json:"attributes,omitempty"`
	At         time.Time       `json:"at"`
}

// RejectedCallback records a fulfillment that the registry refused.
type RejectedCallback struct {
	RequestID RequestID `json:"request_id"`
	Reason    string    `json:"reason"`
	Words     int       `json:"words"`
	At        time.Time `json:"at"`
}
