// Package registry is the card custody state machine. A holder's deposit mints a card
// that waits for oracle randomness, the oracle callback fixes its attributes, and
// banishing returns the deposit once the pool satisfies the decay policy.
//
// Every operation runs under one mutex and inside one store unit, so operations are
// applied one at a time and each either commits entirely or leaves no trace. Events
// are published only after the unit commits.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/avvvet/card-services/internal/cardsvc/attributes"
	"github.com/avvvet/card-services/internal/cardsvc/decay"
	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/avvvet/card-services/internal/cardsvc/oracle"
	"github.com/avvvet/card-services/internal/cardsvc/store"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Ledger moves tokens between holders and the registry's pool. Each call either
// completes or changes nothing.
type Ledger interface {
	Pull(ctx context.Context, from models.Holder, amount decimal.Decimal) error
	Push(ctx context.Context, to models.Holder, amount decimal.Decimal) error
	PoolBalance(ctx context.Context) (decimal.Decimal, error)
}

// pullReverter is implemented by ledgers that can undo a Pull including the spent
// allowance. Ledgers without it are compensated with Push.
type pullReverter interface {
	RevertPull(ctx context.Context, from models.Holder, amount decimal.Decimal) error
}

type Oracle interface {
	Request(ctx context.Context) (models.RequestID, error)
}

type EventSink interface {
	Publish(ctx context.Context, e models.Event)
}

// Auditor is told about every fulfillment callback the registry refuses.
type Auditor interface {
	Rejected(ctx context.Context, rc models.RejectedCallback)
}

type Registry struct {
	mu      sync.Mutex
	store   store.Store
	ledger  Ledger
	oracle  Oracle
	policy  decay.Policy
	deriver attributes.Deriver
	sinks   []EventSink
	auditor Auditor
	now     func() time.Time
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithDecayPolicy(p decay.Policy) Option {
	return func(r *Registry) { r.policy = p }
}

func WithDeriver(d attributes.Deriver) Option {
	return func(r *Registry) { r.deriver = d }
}

// WithEventSink adds a sink; events go to every sink in order.
func WithEventSink(s EventSink) Option {
	return func(r *Registry) { r.sinks = append(r.sinks, s) }
}

func WithAuditor(a Auditor) Option {
	return func(r *Registry) { r.auditor = a }
}

func New(s store.Store, l Ledger, o Oracle, opts ...Option) *Registry {
	r := &Registry{
		store:   s,
		ledger:  l,
		oracle:  o,
		policy:  decay.Default(),
		deriver: attributes.V1{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Consumer adapts the registry to the oracle callback interface.
func (r *Registry) Consumer() oracle.Consumer {
	return oracle.ConsumerFunc(func(ctx context.Context, id models.RequestID, words []uint64) error {
		_, err := r.FulfillRandomness(ctx, id, words)
		return err
	})
}

func (r *Registry) emit(ctx context.Context, e models.Event) {
	for _, s := range r.sinks {
		s.Publish(ctx, e)
	}
}

func (r *Registry) reject(ctx context.Context, id models.RequestID, words int, err error) {
	rc := models.RejectedCallback{
		RequestID: id,
		Reason:    err.Error(),
		Words:     words,
		At:        r.now().UTC(),
	}
	log.WithFields(log.Fields{"request_id": id, "words": words}).Warnf("fulfillment rejected: %v", err)
	if r.auditor != nil {
		r.auditor.Rejected(ctx, rc)
	}
}
