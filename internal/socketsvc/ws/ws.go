package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/avvvet/card-services/internal/cardsvc/stream"
	"github.com/avvvet/card-services/internal/comm"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrNoSession      = errors.New("socket has no session")
	ErrCardService    = errors.New("card service unavailable")
)

// commands the gateway relays; each payload carries a holder field
var relayed = map[string]bool{
	"create-card": true,
	"banish-card": true,
	"get-card":    true,
	"get-pool":    true,
}

// Ws tracks the sockets of one gateway instance and relays their commands to the
// card service.
type Ws struct {
	Hub     *stream.Hub
	holders sync.Map // socketId -> models.Holder

	publish func(topic string, payload []byte) error
	alive   func() bool
}

func NewWs(hub *stream.Hub, publish func(topic string, payload []byte) error, alive func() bool) *Ws {
	return &Ws{Hub: hub, publish: publish, alive: alive}
}

func (s *Ws) StoreConnection(socketId string, conn *websocket.Conn, holder models.Holder) {
	s.holders.Store(socketId, holder)
	s.Hub.StoreConnection(socketId, conn, holder)
}

func (s *Ws) HandleDisconnect(socketId string) {
	s.holders.Delete(socketId)
	s.Hub.HandleDisconnect(socketId)
}

// SocketMessage relays one client command. The holder in the payload is replaced by
// the socket's authenticated holder.
func (s *Ws) SocketMessage(socketId string, message *comm.WSMessage) error {
	if !relayed[message.Type] {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, message.Type)
	}
	v, ok := s.holders.Load(socketId)
	if !ok {
		return ErrNoSession
	}
	if s.alive != nil && !s.alive() {
		return ErrCardService
	}

	data, err := withHolder(message.Data, v.(models.Holder))
	if err != nil {
		return err
	}
	payload, err := json.Marshal(&comm.WSMessage{Type: message.Type, Data: data, SocketId: socketId})
	if err != nil {
		return err
	}

	log.Debugf("relaying %s from socket %s", message.Type, socketId)
	return s.publish(comm.SubjectCardCommands, payload)
}

func withHolder(data json.RawMessage, holder models.Holder) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("command payload must be an object: %w", err)
		}
	}
	h, err := json.Marshal(holder)
	if err != nil {
		return nil, err
	}
	fields["holder"] = h
	return json.Marshal(fields)
}
