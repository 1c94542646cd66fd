package handlers

import (
	"net/http"

	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// HandleWebSocket streams registry events. Holders see their own cards, operators see all.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	holder := holderFrom(r)
	if claim(r, ClaimRole) == RoleOperator {
		holder = ""
	} else if holder == "" {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	socketId := uuid.New().String()
	h.hub.StoreConnection(socketId, conn, holder)
	log.Infof("New WebSocket connection established: %s", socketId)

	go h.handleConnection(conn, socketId, holder)
}

// handleConnection only drains the socket; the stream is one way.
func (h *Handler) handleConnection(conn *websocket.Conn, socketId string, holder models.Holder) {
	defer func() {
		log.Infof("Closing WebSocket connection: %s", socketId)
		h.hub.HandleDisconnect(socketId)
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Errorf("WebSocket unexpected close error for socket %s (%s): %v", socketId, holder, err)
			}
			return
		}
	}
}
