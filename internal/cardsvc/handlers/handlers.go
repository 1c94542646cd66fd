package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/avvvet/card-services/internal/cardsvc/registry"
	"github.com/avvvet/card-services/internal/cardsvc/stream"
	"github.com/go-chi/chi"
	"github.com/go-chi/jwtauth"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Registry is what the HTTP API needs from the card registry.
type Registry interface {
	CreateCard(ctx context.Context, holder models.Holder, amount decimal.Decimal) (*models.Card, error)
	FulfillRandomness(ctx context.Context, id models.RequestID, words []uint64) (*models.Card, error)
	BanishCard(ctx context.Context, holder models.Holder, sequence uint64) (*models.Card, error)
	GetCard(ctx context.Context, holder models.Holder, sequence uint64) (*models.Card, error)
	ListCards(ctx context.Context, holder models.Holder) ([]*models.Card, error)
	NextSequence(ctx context.Context, holder models.Holder) (uint64, error)
	LastRequestID(ctx context.Context) (models.RequestID, error)
	PendingRequests(ctx context.Context) ([]models.PendingRequest, error)
	Pool(ctx context.Context) (registry.PoolStatus, error)
}

type Handler struct {
	tokenAuth *jwtauth.JWTAuth
	registry  Registry
	hub       *stream.Hub
	upgrader  websocket.Upgrader
	port      string
}

func NewHandler(reg Registry, hub *stream.Hub, port string) *Handler {
	return &Handler{
		registry: reg,
		hub:      hub,
		port:     port,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type Response struct {
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error"`
}

func (h *Handler) CreateResponse(w http.ResponseWriter, rsp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rsp.Code)
	if err := json.NewEncoder(w).Encode(rsp); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

// httpStatus maps registry errors onto response codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, registry.ErrInvalidAmount),
		errors.Is(err, registry.ErrInvalidHolder),
		errors.Is(err, registry.ErrNoRandomWords):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrTransferRejected):
		return http.StatusPaymentRequired
	case errors.Is(err, registry.ErrCardNotFound), errors.Is(err, registry.ErrUnknownRequest):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrAlreadyFulfilled), errors.Is(err, registry.ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, registry.ErrOracleUnavailable), errors.Is(err, registry.ErrTransferFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	code := httpStatus(err)
	if code == http.StatusInternalServerError {
		log.Errorf("request failed: %v", err)
	}
	h.CreateResponse(w, Response{Message: "request failed", Code: code, Error: err.Error()})
}

func (h *Handler) ok(w http.ResponseWriter, code int, data interface{}) {
	h.CreateResponse(w, Response{Message: "ok", Code: code, Data: data})
}

func (h *Handler) badRequest(w http.ResponseWriter, msg string) {
	h.CreateResponse(w, Response{Message: "invalid request", Code: http.StatusBadRequest, Error: msg})
}

func sequenceParam(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "seq"), 10, 64)
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.ok(w, http.StatusOK, map[string]string{"service": "card", "port": h.port})
}

type createCardBody struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	var body createCardBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.badRequest(w, "amount must be a decimal string")
		return
	}

	card, err := h.registry.CreateCard(r.Context(), holderFrom(r), body.Amount)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, http.StatusCreated, card)
}

func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	cards, err := h.registry.ListCards(r.Context(), holderFrom(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	if cards == nil {
		cards = []*models.Card{}
	}
	h.ok(w, http.StatusOK, cards)
}

func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	seq, err := sequenceParam(r)
	if err != nil {
		h.badRequest(w, "sequence must be an unsigned integer")
		return
	}
	card, err := h.registry.GetCard(r.Context(), holderFrom(r), seq)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, http.StatusOK, card)
}

func (h *Handler) BanishCard(w http.ResponseWriter, r *http.Request) {
	seq, err := sequenceParam(r)
	if err != nil {
		h.badRequest(w, "sequence must be an unsigned integer")
		return
	}
	card, err := h.registry.BanishCard(r.Context(), holderFrom(r), seq)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, http.StatusOK, card)
}

func (h *Handler) NextSequence(w http.ResponseWriter, r *http.Request) {
	holder := models.Holder(chi.URLParam(r, "holder"))
	next, err := h.registry.NextSequence(r.Context(), holder)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, http.StatusOK, map[string]interface{}{"holder": holder, "next_sequence": next})
}

func (h *Handler) LastRequest(w http.ResponseWriter, r *http.Request) {
	id, err := h.registry.LastRequestID(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, http.StatusOK, map[string]interface{}{"request_id": id})
}

func (h *Handler) PendingRequests(w http.ResponseWriter, r *http.Request) {
	pending, err := h.registry.PendingRequests(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if pending == nil {
		pending = []models.PendingRequest{}
	}
	h.ok(w, http.StatusOK, pending)
}

func (h *Handler) Pool(w http.ResponseWriter, r *http.Request) {
	status, err := h.registry.Pool(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, http.StatusOK, status)
}

// Fulfill is the HTTP form of the oracle callback.
func (h *Handler) Fulfill(w http.ResponseWriter, r *http.Request) {
	var body models.Fulfillment
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RequestID == "" {
		h.badRequest(w, "request_id and words are required")
		return
	}
	card, err := h.registry.FulfillRandomness(r.Context(), body.RequestID, body.Words)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, http.StatusOK, card)
}
