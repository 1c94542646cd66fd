package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/avvvet/card-services/internal/comm"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// NATSClient asks the oracle service for a request id over NATS request/reply. The
// fulfillment arrives later on comm.FulfillSubject(consumer), so only the instance that
// asked sees it.
type NATSClient struct {
	conn     *nats.Conn
	consumer string
	numWords int
	timeout  time.Duration
}

func NewNATSClient(conn *nats.Conn, consumer string, timeout time.Duration) *NATSClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NATSClient{conn: conn, consumer: consumer, numWords: DefaultNumWords, timeout: timeout}
}

func (c *NATSClient) Request(ctx context.Context) (models.RequestID, error) {
	payload, err := json.Marshal(comm.OracleRequest{Consumer: c.consumer, NumWords: c.numWords})
	if err != nil {
		return "", fmt.Errorf("marshal oracle request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.conn.RequestWithContext(ctx, comm.SubjectOracleRequest, payload)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var res comm.OracleRequestRes
	if err := json.Unmarshal(msg.Data, &res); err != nil {
		return "", fmt.Errorf("%w: bad reply: %w", ErrUnavailable, err)
	}
	if res.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, res.Error)
	}
	if res.RequestID == "" {
		return "", fmt.Errorf("%w: empty request id", ErrUnavailable)
	}
	return res.RequestID, nil
}

// Service is the randomness provider side: it answers requests with a fresh uuid and
// publishes the random words for it after delay.
type Service struct {
	conn  *nats.Conn
	delay time.Duration
	maxN  int
	words func(n int) ([]uint64, error)
}

func NewService(conn *nats.Conn, delay time.Duration) *Service {
	return &Service{conn: conn, delay: delay, maxN: 16, words: RandomWords}
}

// Callback is a fulfillment addressed to the consumer that requested it.
type Callback struct {
	Subject     string
	Fulfillment models.Fulfillment
}

// validConsumer reports whether consumer can be used as a single subject token.
func validConsumer(consumer string) bool {
	return consumer != "" && !strings.ContainsAny(consumer, ".*> \t\r\n")
}

// Issue handles one request and returns the reply plus the callback to send later.
func (s *Service) Issue(data []byte) (comm.OracleRequestRes, *Callback) {
	var req comm.OracleRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return comm.OracleRequestRes{Error: "invalid-request"}, nil
	}
	if !validConsumer(req.Consumer) {
		return comm.OracleRequestRes{Error: "invalid-consumer"}, nil
	}
	n := req.NumWords
	if n <= 0 {
		n = DefaultNumWords
	}
	if n > s.maxN {
		return comm.OracleRequestRes{Error: fmt.Sprintf("num_words above %d", s.maxN)}, nil
	}

	words, err := s.words(n)
	if err != nil {
		log.Errorf("draw random words: %v", err)
		return comm.OracleRequestRes{Error: "entropy-unavailable"}, nil
	}

	id := models.RequestID(uuid.New().String())
	return comm.OracleRequestRes{RequestID: id}, &Callback{
		Subject:     comm.FulfillSubject(req.Consumer),
		Fulfillment: models.Fulfillment{RequestID: id, Words: words},
	}
}

func (s *Service) handleRequest(msg *nats.Msg) {
	res, callback := s.Issue(msg.Data)

	reply, err := json.Marshal(res)
	if err != nil {
		log.Errorf("marshal oracle reply: %v", err)
		return
	}
	if err := msg.Respond(reply); err != nil {
		log.Errorf("respond to oracle request: %v", err)
		return
	}
	if callback == nil {
		return
	}

	logger := log.WithFields(log.Fields{"request_id": callback.Fulfillment.RequestID, "subject": callback.Subject})
	logger.Info("randomness requested")
	time.AfterFunc(s.delay, func() {
		if err := s.publish(callback); err != nil {
			logger.Errorf("publish fulfillment: %v", err)
		}
	})
}

func (s *Service) publish(c *Callback) error {
	payload, err := json.Marshal(c.Fulfillment)
	if err != nil {
		return err
	}
	return s.conn.Publish(c.Subject, payload)
}

// Subscribe starts answering on comm.SubjectOracleRequest within queueGroup.
func (s *Service) Subscribe(queueGroup string) (*nats.Subscription, error) {
	if s.conn == nil {
		return nil, errors.New("oracle service has no nats connection")
	}
	return s.conn.QueueSubscribe(comm.SubjectOracleRequest, queueGroup, s.handleRequest)
}
