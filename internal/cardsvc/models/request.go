package models

import "time"

// RequestID is issued by the randomness oracle and is globally unique.
type RequestID string

type PendingRequest struct {
	RequestID   RequestID `json:"request_id"`
	Holder      Holder    `json:"holder"`
	Sequence    uint64    `json:"sequence"`
	RequestedAt time.Time `json:"requested_at"`
}

func (p PendingRequest) CardKey() CardKey {
	return CardKey{Holder: p.Holder, Sequence: p.Sequence}
}

// Fulfillment is the oracle callback payload.
type Fulfillment struct {
	RequestID RequestID `json:"request_id"`
	Words     []uint64  `json:"words"`
}
