package comm

import (
	"encoding/json"
	"time"

	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/shopspring/decimal"
)

// NATS subjects shared by the card, socket and oracle services
const (
	SubjectCardCommands  = "card.commands"  // socket -> card service
	SubjectCardReplies   = "card.replies"   // card service -> socket
	SubjectCardEvents    = "card.events"    // registry events fan out
	SubjectOracleRequest = "oracle.request" // request/reply for a new randomness request id
	SubjectOracleFulfill = "oracle.fulfill" // prefix of the per consumer callback subjects
	SubjectHeartbeat     = "card.heartbeat" // card service liveness for the socket gateway
)

// FulfillSubject is where the oracle sends callbacks for requests made by consumer.
func FulfillSubject(consumer string) string {
	return SubjectOracleFulfill + "." + consumer
}

type WSMessage struct {
	Type     string          `json:"type"` // e.g. "create-card", "banish-card"
	Data     json.RawMessage `json:"data"`
	SocketId string          `json:"socketid"`
}

type ServiceHeartbeat struct {
	ID        string    `json:"id"` // service id
	Timestamp time.Time `json:"timestamp"`
}

type CreateCardRequest struct {
	Holder models.Holder `json:"holder"`
	Amount string        `json:"amount"`
}

type CardRef struct {
	Holder   models.Holder `json:"holder"`
	Sequence uint64        `json:"sequence"`
}

// CardRes answers every card command. Status is "success" or one of the error codes.
type CardRes struct {
	Status  string       `json:"status"`
	Message string       `json:"message,omitempty"`
	Card    *models.Card `json:"card,omitempty"`
}

type PoolRes struct {
	Status  string          `json:"status"`
	Locked  decimal.Decimal `json:"locked"`
	Balance decimal.Decimal `json:"balance"`
}

type OracleRequest struct {
	Consumer string `json:"consumer"` // instance id of the requesting service
	NumWords int    `json:"num_words"`
}

type OracleRequestRes struct {
	RequestID models.RequestID `json:"request_id"`
	Error     string           `json:"error,omitempty"`
}
