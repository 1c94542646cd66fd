package broker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/avvvet/card-services/internal/cardsvc/registry"
	"github.com/avvvet/card-services/internal/comm"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Registry is the part of the card registry reachable over NATS.
type Registry interface {
	CreateCard(ctx context.Context, holder models.Holder, amount decimal.Decimal) (*models.Card, error)
	BanishCard(ctx context.Context, holder models.Holder, sequence uint64) (*models.Card, error)
	GetCard(ctx context.Context, holder models.Holder, sequence uint64) (*models.Card, error)
	FulfillRandomness(ctx context.Context, id models.RequestID, words []uint64) (*models.Card, error)
	Pool(ctx context.Context) (registry.PoolStatus, error)
}

type Broker struct {
	Conn     *nats.Conn
	Registry Registry
}

func NewBroker(nc *nats.Conn, reg Registry) *Broker {
	return &Broker{
		Conn:     nc,
		Registry: reg,
	}
}

// Status maps a registry error onto the status string carried in replies.
func Status(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, registry.ErrInvalidAmount), errors.Is(err, registry.ErrInvalidHolder):
		return "invalid-request"
	case errors.Is(err, registry.ErrTransferRejected):
		return "transfer-rejected"
	case errors.Is(err, registry.ErrTransferFailed):
		return "transfer-failed"
	case errors.Is(err, registry.ErrOracleUnavailable):
		return "oracle-unavailable"
	case errors.Is(err, registry.ErrCardNotFound):
		return "card-not-found"
	case errors.Is(err, registry.ErrInsufficientBalance):
		return "insufficient-balance"
	case errors.Is(err, registry.ErrUnknownRequest):
		return "unknown-request"
	case errors.Is(err, registry.ErrAlreadyFulfilled):
		return "already-fulfilled"
	case errors.Is(err, registry.ErrNoRandomWords):
		return "no-random-words"
	default:
		return "server-error"
	}
}

func cardRes(card *models.Card, err error) comm.CardRes {
	if err != nil {
		return comm.CardRes{Status: Status(err), Message: err.Error()}
	}
	return comm.CardRes{Status: Status(nil), Card: card}
}

func reply(typ, socketId string, v any) *comm.WSMessage {
	data, err := json.Marshal(v)
	if err != nil {
		log.Errorf("error [%s] unable to marshal reply: %v", typ, err)
		return nil
	}
	return &comm.WSMessage{Type: typ, Data: data, SocketId: socketId}
}

// Dispatch runs one socket command and returns the reply for it, nil for unknown types.
func (b *Broker) Dispatch(ctx context.Context, msg *comm.WSMessage) *comm.WSMessage {
	switch msg.Type {
	case "create-card":
		var request comm.CreateCardRequest
		if err := json.Unmarshal(msg.Data, &request); err != nil {
			log.Errorf("Error unmarshalling create-card: %s", err)
			return reply("create-card-response", msg.SocketId, comm.CardRes{Status: "invalid-request", Message: "invalid payload"})
		}
		amount, err := decimal.NewFromString(request.Amount)
		if err != nil {
			return reply("create-card-response", msg.SocketId, comm.CardRes{Status: "invalid-request", Message: "invalid amount"})
		}

		card, err := b.Registry.CreateCard(ctx, request.Holder, amount)
		if err != nil {
			log.Errorf("Error [Registry.CreateCard] holder %s: %s", request.Holder, err)
		}
		return reply("create-card-response", msg.SocketId, cardRes(card, err))

	case "banish-card":
		var request comm.CardRef
		if err := json.Unmarshal(msg.Data, &request); err != nil {
			log.Errorf("Error unmarshalling banish-card: %s", err)
			return reply("banish-card-response", msg.SocketId, comm.CardRes{Status: "invalid-request", Message: "invalid payload"})
		}

		card, err := b.Registry.BanishCard(ctx, request.Holder, request.Sequence)
		if err != nil {
			log.Errorf("Error [Registry.BanishCard] %s/%d: %s", request.Holder, request.Sequence, err)
		}
		return reply("banish-card-response", msg.SocketId, cardRes(card, err))

	case "get-card":
		var request comm.CardRef
		if err := json.Unmarshal(msg.Data, &request); err != nil {
			return reply("get-card-response", msg.SocketId, comm.CardRes{Status: "invalid-request", Message: "invalid payload"})
		}
		card, err := b.Registry.GetCard(ctx, request.Holder, request.Sequence)
		return reply("get-card-response", msg.SocketId, cardRes(card, err))

	case "get-pool":
		status, err := b.Registry.Pool(ctx)
		if err != nil {
			log.Errorf("Error [Registry.Pool]: %s", err)
			return reply("get-pool-response", msg.SocketId, comm.PoolRes{Status: Status(err)})
		}
		return reply("get-pool-response", msg.SocketId, comm.PoolRes{Status: Status(nil), Locked: status.Locked, Balance: status.Balance})

	default:
		log.Warnf("Unknown message type %q", msg.Type)
		return nil
	}
}

// handles commands coming from the socket service
func (b *Broker) handleMessage(msgNat *nats.Msg) {
	msg := &comm.WSMessage{}
	if err := json.Unmarshal(msgNat.Data, msg); err != nil {
		log.Errorf("Error nats message %s", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res := b.Dispatch(ctx, msg)
	if res == nil {
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		log.Errorf("Error %s", err)
		return
	}

	// request/reply callers get the answer directly, fire-and-forget ones on the replies subject
	if msgNat.Reply != "" {
		if err := msgNat.Respond(payload); err != nil {
			log.Errorf("Error responding to %s: %s", msgNat.Subject, err)
		}
		return
	}
	b.Publish(comm.SubjectCardReplies, payload)
}

// HandleFulfillment decodes one oracle callback and hands it to the registry.
func (b *Broker) HandleFulfillment(ctx context.Context, data []byte) error {
	var f models.Fulfillment
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	_, err := b.Registry.FulfillRandomness(ctx, f.RequestID, f.Words)
	return err
}

func (b *Broker) handleFulfillment(msgNat *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := b.HandleFulfillment(ctx, msgNat.Data); err != nil {
		log.Errorf("Error [oracle.fulfill]: %s", err)
	}
}

// consume commands from the socket service; within queueGroup each command runs on one instance
func (b *Broker) SubscribeCommands(topic, queueGroup string) (*nats.Subscription, error) {
	return b.Conn.QueueSubscribe(topic, queueGroup, b.handleMessage)
}

// consume the oracle callbacks addressed to this instance. A callback can only arrive here
// while the instance that issued the request is still inside CreateCard, so it waits on
// the registry lock instead of racing an uncommitted card on another instance.
func (b *Broker) SubscribeFulfillments(consumer string) (*nats.Subscription, error) {
	return b.Conn.Subscribe(comm.FulfillSubject(consumer), b.handleFulfillment)
}

func (b *Broker) Publish(topic string, payload []byte) error {
	err := b.Conn.Publish(topic, payload)
	if err != nil {
		log.Errorf("Error publishing to topic %s: %s", topic, err)
		return err
	}

	return nil
}

// EventPublisher forwards registry events to NATS.
type EventPublisher struct {
	Conn  *nats.Conn
	Topic string
}

func (p *EventPublisher) Publish(_ context.Context, e models.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		log.Errorf("error [EventPublisher] marshaling event: %v", err)
		return
	}
	msg := &comm.WSMessage{Type: string(e.Type), Data: data}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("error [EventPublisher] marshaling WSMessage: %v", err)
		return
	}
	if err := p.Conn.Publish(p.Topic, payload); err != nil {
		log.Errorf("error publishing %s to %s: %v", e.Type, p.Topic, err)
	}
}

// Heartbeat publishes a comm.ServiceHeartbeat every interval until ctx is done.
func (b *Broker) Heartbeat(ctx context.Context, id string, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		payload, err := json.Marshal(comm.ServiceHeartbeat{ID: id, Timestamp: time.Now().UTC()})
		if err == nil {
			b.Publish(comm.SubjectHeartbeat, payload)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
