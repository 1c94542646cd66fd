package oracle

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/avvvet/card-services/internal/cardsvc/models"
	log "github.com/sirupsen/logrus"
)

// Local is an in-process coordinator. It hands out increasing request ids and fulfils
// them when told to, or on its own after a delay once AutoFulfill is set.
type Local struct {
	mu          sync.Mutex
	next        uint64
	numWords    int
	outstanding map[models.RequestID]time.Time
	unavailable error

	autoDelay    time.Duration
	autoConsumer Consumer
	timers       map[models.RequestID]*time.Timer
}

type LocalOption func(*Local)

func WithNumWords(n int) LocalOption {
	return func(l *Local) { l.numWords = n }
}

func NewLocal(opts ...LocalOption) *Local {
	l := &Local{
		numWords:    DefaultNumWords,
		outstanding: make(map[models.RequestID]time.Time),
		timers:      make(map[models.RequestID]*time.Timer),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AutoFulfill makes every later request fulfil itself on consumer after delay.
func (l *Local) AutoFulfill(delay time.Duration, consumer Consumer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.autoDelay = delay
	l.autoConsumer = consumer
}

// SetUnavailable makes Request fail with err until it is called again with nil.
func (l *Local) SetUnavailable(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unavailable = err
}

func (l *Local) Request(ctx context.Context) (models.RequestID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.unavailable != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, l.unavailable)
	}

	l.next++
	id := models.RequestID(strconv.FormatUint(l.next, 10))
	l.outstanding[id] = time.Now()

	if l.autoConsumer != nil {
		consumer := l.autoConsumer
		l.timers[id] = time.AfterFunc(l.autoDelay, func() {
			if err := l.Fulfill(context.Background(), id, consumer); err != nil {
				log.WithField("request_id", id).Warnf("auto fulfil: %v", err)
			}
		})
	}
	return id, nil
}

// Fulfill delivers fresh random words for id to consumer.
func (l *Local) Fulfill(ctx context.Context, id models.RequestID, consumer Consumer) error {
	words, err := RandomWords(l.numWords)
	if err != nil {
		return err
	}
	return l.FulfillWithWords(ctx, id, words, consumer)
}

// FulfillWithWords delivers caller-chosen words, for deterministic tests.
func (l *Local) FulfillWithWords(ctx context.Context, id models.RequestID, words []uint64, consumer Consumer) error {
	l.mu.Lock()
	if _, ok := l.outstanding[id]; !ok {
		l.mu.Unlock()
		return fmt.Errorf("fulfil %s: %w", id, ErrUnknownRequest)
	}
	delete(l.outstanding, id)
	if t, ok := l.timers[id]; ok {
		t.Stop()
		delete(l.timers, id)
	}
	l.mu.Unlock()

	return consumer.FulfillRandomness(ctx, id, words)
}

// Outstanding lists the ids requested but not yet fulfilled, oldest first.
func (l *Local) Outstanding() []models.RequestID {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]models.RequestID, 0, len(l.outstanding))
	for id := range l.outstanding {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, _ := strconv.ParseUint(string(ids[i]), 10, 64)
		b, _ := strconv.ParseUint(string(ids[j]), 10, 64)
		return a < b
	})
	return ids
}

// Stop cancels pending auto fulfilments.
func (l *Local) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, t := range l.timers {
		t.Stop()
		delete(l.timers, id)
	}
}
