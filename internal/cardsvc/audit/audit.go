// Package audit keeps a trail of registry events and refused oracle callbacks.
package audit

import (
	"context"

	"github.com/avvvet/card-services/internal/cardsvc/models"
	log "github.com/sirupsen/logrus"
)

// Sink receives both registry events and rejected callbacks.
type Sink interface {
	Publish(ctx context.Context, e models.Event)
	Rejected(ctx context.Context, rc models.RejectedCallback)
}

// Log writes the trail to the service log.
type Log struct{}

func (Log) Publish(_ context.Context, e models.Event) {
	log.WithFields(log.Fields{
		"type":       e.Type,
		"holder":     e.Holder,
		"sequence":   e.Sequence,
		"amount":     e.Amount.String(),
		"request_id": e.RequestID,
	}).Info("audit event")
}

func (Log) Rejected(_ context.Context, rc models.RejectedCallback) {
	log.WithFields(log.Fields{
		"request_id": rc.RequestID,
		"words":      rc.Words,
	}).Warnf("audit rejected callback: %s", rc.Reason)
}

// Multi fans out to every sink in order.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, e models.Event) {
	for _, s := range m {
		s.Publish(ctx, e)
	}
}

func (m Multi) Rejected(ctx context.Context, rc models.RejectedCallback) {
	for _, s := range m {
		s.Rejected(ctx, rc)
	}
}
