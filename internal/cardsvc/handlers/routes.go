package handlers

import (
	"net/http"
	"time"

	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/go-chi/chi"
	"github.com/go-chi/jwtauth"
)

const (
	ClaimHolder = "holder"
	ClaimRole   = "role"

	RoleOracle   = "oracle"
	RoleOperator = "operator"
)

func (h *Handler) SetRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {

		// public routes here
		r.Get("/health", h.HealthHandler)

		// Secure routes
		r.Group(func(r chi.Router) {
			r.Use(jwtauth.Verifier(h.tokenAuth))
			r.Use(jwtauth.Authenticator)

			r.Get("/holders/{holder}/next-sequence", h.NextSequence)
			r.Get("/requests/last", h.LastRequest)
			r.Get("/pool", h.Pool)
			r.Get("/events/ws", h.HandleWebSocket)

			r.Group(func(r chi.Router) {
				r.Use(requireHolder)
				r.Post("/cards", h.CreateCard)
				r.Get("/cards", h.ListCards)
				r.Get("/cards/{seq}", h.GetCard)
				r.Post("/cards/{seq}/banish", h.BanishCard)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireRole(RoleOracle, RoleOperator))
				r.Get("/requests/pending", h.PendingRequests)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireRole(RoleOracle))
				r.Post("/oracle/fulfill", h.Fulfill)
			})
		})
	})
}

// InitAuth sets the HS256 key used to verify bearer tokens.
func (h *Handler) InitAuth(secret string) {
	h.tokenAuth = NewTokenAuth(secret)
}

func NewTokenAuth(secret string) *jwtauth.JWTAuth {
	return jwtauth.New("HS256", []byte(secret), nil)
}

// IssueToken signs a token for holder (may be empty for service tokens) with role.
func IssueToken(auth *jwtauth.JWTAuth, holder models.Holder, role string, ttl time.Duration) (string, error) {
	claims := map[string]interface{}{
		"exp": time.Now().Add(ttl).Unix(),
	}
	if holder != "" {
		claims[ClaimHolder] = string(holder)
	}
	if role != "" {
		claims[ClaimRole] = role
	}
	_, tokenString, err := auth.Encode(claims)
	return tokenString, err
}

func claim(r *http.Request, name string) string {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		return ""
	}
	v, _ := claims[name].(string)
	return v
}

func holderFrom(r *http.Request) models.Holder {
	return models.Holder(claim(r, ClaimHolder))
}

func requireHolder(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if holderFrom(r) == "" {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := claim(r, ClaimRole)
			for _, allowed := range roles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}
