// Package oracle issues randomness requests and delivers their random words back to a
// consumer, either in process (Local) or across NATS (NATSClient and Service).
package oracle

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/avvvet/card-services/internal/cardsvc/models"
)

const DefaultNumWords = 2

var (
	ErrUnknownRequest = errors.New("request not outstanding")
	ErrUnavailable    = errors.New("oracle unavailable")
)

// Consumer receives the random words for a request it made.
type Consumer interface {
	FulfillRandomness(ctx context.Context, id models.RequestID, words []uint64) error
}

type ConsumerFunc func(ctx context.Context, id models.RequestID, words []uint64) error

func (f ConsumerFunc) FulfillRandomness(ctx context.Context, id models.RequestID, words []uint64) error {
	return f(ctx, id, words)
}

// RandomWords draws n words from crypto/rand.
func RandomWords(n int) ([]uint64, error) {
	if n <= 0 {
		n = DefaultNumWords
	}
	buf := make([]byte, 8*n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read random words: %w", err)
	}
	words := make([]uint64, n)
	for i := range words {
		words[i] = binary.BigEndian.Uint64(buf[i*8:])
	}
	return words, nil
}
