package broker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/avvvet/card-services/internal/comm"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// Sockets is where the gateway broker delivers messages.
type Sockets interface {
	Send(socketId string, msg *comm.WSMessage) error
	Publish(ctx context.Context, e models.Event)
}

type Broker struct {
	Conn    *nats.Conn
	Sockets Sockets

	lastHeartbeat      atomic.Int64 // unix nanos of the last card service heartbeat
	heartbeatThreshold time.Duration
}

func NewBroker(conn *nats.Conn, sockets Sockets) *Broker {
	return &Broker{
		Conn:               conn,
		Sockets:            sockets,
		heartbeatThreshold: time.Second * 15,
	}
}

// Alive reports whether a card service heartbeat arrived within the threshold.
func (b *Broker) Alive() bool {
	last := b.lastHeartbeat.Load()
	return last != 0 && time.Since(time.Unix(0, last)) < b.heartbeatThreshold
}

// consume replies, events and heartbeats from the card service
func (b *Broker) Subscribe() ([]*nats.Subscription, error) {
	handlers := map[string]nats.MsgHandler{
		comm.SubjectCardReplies: func(m *nats.Msg) { b.HandleReply(m.Data) },
		comm.SubjectCardEvents:  func(m *nats.Msg) { b.HandleEvent(m.Data) },
		comm.SubjectHeartbeat:   func(m *nats.Msg) { b.HandleHeartbeat(m.Data) },
	}

	var subs []*nats.Subscription
	for topic, handler := range handlers {
		sub, err := b.Conn.Subscribe(topic, handler)
		if err != nil {
			for _, s := range subs {
				s.Unsubscribe()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// publish message to the card service
func (b *Broker) Publish(topic string, payload []byte) error {
	err := b.Conn.Publish(topic, payload)
	if err != nil {
		log.Errorf("Error publishing to topic %s: %s", topic, err)
		return err
	}

	return nil
}

// HandleReply sends a command reply back to the socket that issued the command.
// Replies for sockets on other gateway instances are ignored.
func (b *Broker) HandleReply(data []byte) {
	message := &comm.WSMessage{}
	if err := json.Unmarshal(data, message); err != nil {
		log.Errorf("Error %s", err)
		return
	}
	if message.SocketId == "" {
		return
	}
	if err := b.Sockets.Send(message.SocketId, message); err != nil {
		log.Debugf("reply %s for socket %s not delivered: %v", message.Type, message.SocketId, err)
	}
}

func (b *Broker) HandleEvent(data []byte) {
	message := &comm.WSMessage{}
	if err := json.Unmarshal(data, message); err != nil {
		log.Errorf("Error %s", err)
		return
	}
	var e models.Event
	if err := json.Unmarshal(message.Data, &e); err != nil {
		log.Warnf("ignoring %s on %s: %v", message.Type, comm.SubjectCardEvents, err)
		return
	}
	if e.Type == "" {
		return
	}
	b.Sockets.Publish(context.Background(), e)
}

func (b *Broker) HandleHeartbeat(data []byte) {
	var hb comm.ServiceHeartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		log.Errorf("Error heartbeat %s", err)
		return
	}
	b.lastHeartbeat.Store(time.Now().UnixNano())
}
