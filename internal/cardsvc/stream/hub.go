// Package stream pushes registry events to websocket clients.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/avvvet/card-services/internal/comm"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const writeWait = 5 * time.Second

var ErrUnknownSocket = errors.New("unknown socket")

type client struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	holder models.Holder // empty receives every event
}

func (c *client) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub keeps the open sockets by socket id and implements the registry event sink.
type Hub struct {
	connMap sync.Map // socketId -> *client
}

func NewHub() *Hub {
	return &Hub{}
}

// StoreConnection registers conn. A non-empty holder limits it to that holder's events.
func (h *Hub) StoreConnection(socketId string, conn *websocket.Conn, holder models.Holder) {
	h.connMap.Store(socketId, &client{conn: conn, holder: holder})
}

func (h *Hub) HandleDisconnect(socketId string) {
	if c, ok := h.connMap.LoadAndDelete(socketId); ok {
		c.(*client).conn.Close()
	}
}

// Send writes msg to one socket, dropping the socket if the write fails.
func (h *Hub) Send(socketId string, msg *comm.WSMessage) error {
	v, ok := h.connMap.Load(socketId)
	if !ok {
		return ErrUnknownSocket
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := v.(*client).write(payload); err != nil {
		h.HandleDisconnect(socketId)
		return err
	}
	return nil
}

func (h *Hub) Count() int {
	n := 0
	h.connMap.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (h *Hub) Publish(_ context.Context, e models.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		log.Errorf("marshal event %s: %v", e.Type, err)
		return
	}
	payload, err := json.Marshal(&comm.WSMessage{Type: string(e.Type), Data: data})
	if err != nil {
		log.Errorf("marshal event message: %v", err)
		return
	}

	h.connMap.Range(func(key, value any) bool {
		c := value.(*client)
		if c.holder != "" && c.holder != e.Holder {
			return true
		}
		if err := c.write(payload); err != nil {
			log.Warnf("dropping socket %s: %v", key, err)
			h.HandleDisconnect(key.(string))
		}
		return true
	})
}
