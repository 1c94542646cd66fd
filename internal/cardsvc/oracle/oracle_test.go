package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/avvvet/card-services/internal/comm"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	got map[models.RequestID][]uint64
	err error
}

func (r *recorder) FulfillRandomness(_ context.Context, id models.RequestID, words []uint64) error {
	if r.got == nil {
		r.got = make(map[models.RequestID][]uint64)
	}
	r.got[id] = words
	return r.err
}

func TestLocalIssuesIncreasingIDs(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	a, err := l.Request(ctx)
	require.NoError(t, err)
	b, err := l.Request(ctx)
	require.NoError(t, err)

	require.Equal(t, models.RequestID("1"), a)
	require.Equal(t, models.RequestID("2"), b)
	require.Equal(t, []models.RequestID{"1", "2"}, l.Outstanding())
}

func TestLocalFulfillDeliversOnce(t *testing.T) {
	l := NewLocal(WithNumWords(3))
	ctx := context.Background()
	id, err := l.Request(ctx)
	require.NoError(t, err)

	r := &recorder{}
	require.NoError(t, l.Fulfill(ctx, id, r))
	require.Len(t, r.got[id], 3)
	require.Empty(t, l.Outstanding())

	err = l.Fulfill(ctx, id, r)
	require.ErrorIs(t, err, ErrUnknownRequest)
}

func TestLocalFulfillWithWords(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()
	id, err := l.Request(ctx)
	require.NoError(t, err)

	r := &recorder{}
	require.NoError(t, l.FulfillWithWords(ctx, id, []uint64{7, 8}, r))
	require.Equal(t, []uint64{7, 8}, r.got[id])

	require.ErrorIs(t, l.FulfillWithWords(ctx, "99", []uint64{1}, r), ErrUnknownRequest)
}

func TestLocalServesSeveralConsumers(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()
	first, err := l.Request(ctx)
	require.NoError(t, err)
	second, err := l.Request(ctx)
	require.NoError(t, err)

	a, b := &recorder{}, &recorder{}
	require.NoError(t, l.Fulfill(ctx, second, b))
	require.NoError(t, l.Fulfill(ctx, first, a))

	require.Contains(t, a.got, first)
	require.NotContains(t, a.got, second)
	require.Contains(t, b.got, second)
}

func TestLocalConsumerErrorIsReturned(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()
	id, err := l.Request(ctx)
	require.NoError(t, err)

	boom := errors.New("rejected")
	require.ErrorIs(t, l.Fulfill(ctx, id, &recorder{err: boom}), boom)
}

func TestLocalUnavailable(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	l.SetUnavailable(errors.New("coordinator down"))
	_, err := l.Request(ctx)
	require.ErrorIs(t, err, ErrUnavailable)

	l.SetUnavailable(nil)
	id, err := l.Request(ctx)
	require.NoError(t, err)
	require.Equal(t, models.RequestID("1"), id)
}

func TestLocalAutoFulfill(t *testing.T) {
	l := NewLocal()
	defer l.Stop()

	delivered := make(chan models.Fulfillment, 1)
	l.AutoFulfill(10*time.Millisecond, ConsumerFunc(func(_ context.Context, id models.RequestID, words []uint64) error {
		delivered <- models.Fulfillment{RequestID: id, Words: words}
		return nil
	}))

	id, err := l.Request(context.Background())
	require.NoError(t, err)

	select {
	case got := <-delivered:
		require.Equal(t, id, got.RequestID)
		require.Len(t, got.Words, DefaultNumWords)
	case <-time.After(2 * time.Second):
		t.Fatal("auto fulfilment did not arrive")
	}
	require.Zero(t, pendingTimers(l))
}

func pendingTimers(l *Local) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

func TestLocalAutoFulfillForgetsFiredTimers(t *testing.T) {
	l := NewLocal()
	defer l.Stop()

	var delivered atomic.Int32
	l.AutoFulfill(time.Millisecond, ConsumerFunc(func(context.Context, models.RequestID, []uint64) error {
		delivered.Add(1)
		return nil
	}))

	for i := 0; i < 50; i++ {
		_, err := l.Request(context.Background())
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		return delivered.Load() == 50 && pendingTimers(l) == 0
	}, 2*time.Second, 5*time.Millisecond)
	require.Empty(t, l.Outstanding())
}

func TestLocalManualFulfillCancelsAutoFulfill(t *testing.T) {
	l := NewLocal()
	defer l.Stop()

	var delivered atomic.Int32
	consumer := ConsumerFunc(func(context.Context, models.RequestID, []uint64) error {
		delivered.Add(1)
		return nil
	})
	l.AutoFulfill(time.Hour, consumer)

	id, err := l.Request(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, pendingTimers(l))

	require.NoError(t, l.Fulfill(context.Background(), id, consumer))
	require.Zero(t, pendingTimers(l))
	require.Equal(t, int32(1), delivered.Load())
}

func TestLocalStopCancelsAutoFulfill(t *testing.T) {
	l := NewLocal()
	l.AutoFulfill(time.Hour, ConsumerFunc(func(context.Context, models.RequestID, []uint64) error {
		return nil
	}))

	id, err := l.Request(context.Background())
	require.NoError(t, err)
	l.Stop()

	require.Zero(t, pendingTimers(l))
	require.Equal(t, []models.RequestID{id}, l.Outstanding())
}

func TestRandomWords(t *testing.T) {
	words, err := RandomWords(4)
	require.NoError(t, err)
	require.Len(t, words, 4)

	words, err = RandomWords(0)
	require.NoError(t, err)
	require.Len(t, words, DefaultNumWords)
}

func TestServiceIssue(t *testing.T) {
	s := NewService(nil, 0)

	t.Run("valid request", func(t *testing.T) {
		res, c := s.Issue([]byte(`{"consumer":"card-1","num_words":3}`))
		require.Empty(t, res.Error)
		require.NotEmpty(t, res.RequestID)
		require.NotNil(t, c)
		require.Equal(t, res.RequestID, c.Fulfillment.RequestID)
		require.Len(t, c.Fulfillment.Words, 3)
	})

	t.Run("callback goes to the requesting consumer", func(t *testing.T) {
		_, a := s.Issue([]byte(`{"consumer":"card-a"}`))
		_, b := s.Issue([]byte(`{"consumer":"card-b"}`))
		require.Equal(t, "oracle.fulfill.card-a", a.Subject)
		require.Equal(t, "oracle.fulfill.card-b", b.Subject)
	})

	t.Run("ids are unique", func(t *testing.T) {
		a, _ := s.Issue([]byte(`{"consumer":"card-1"}`))
		b, _ := s.Issue([]byte(`{"consumer":"card-1"}`))
		require.NotEqual(t, a.RequestID, b.RequestID)
	})

	t.Run("malformed", func(t *testing.T) {
		res, c := s.Issue([]byte(`{`))
		require.Equal(t, "invalid-request", res.Error)
		require.Nil(t, c)
	})

	t.Run("consumer must be one subject token", func(t *testing.T) {
		for _, body := range []string{`{}`, `{"consumer":"card.a"}`, `{"consumer":"card-*"}`, `{"consumer":">"}`, `{"consumer":"card a"}`} {
			res, c := s.Issue([]byte(body))
			require.Equal(t, "invalid-consumer", res.Error, body)
			require.Nil(t, c, body)
		}
	})

	t.Run("too many words", func(t *testing.T) {
		res, c := s.Issue([]byte(`{"consumer":"card-1","num_words":500}`))
		require.NotEmpty(t, res.Error)
		require.Nil(t, c)
	})

	t.Run("entropy failure", func(t *testing.T) {
		broken := NewService(nil, 0)
		broken.words = func(int) ([]uint64, error) { return nil, errors.New("no entropy") }
		res, c := broken.Issue([]byte(`{"consumer":"card-1"}`))
		require.Equal(t, "entropy-unavailable", res.Error)
		require.Nil(t, c)
	})
}

func runNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv := natsserver.RunRandClientPortServer()
	t.Cleanup(srv.Shutdown)

	conn, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return conn
}

func TestNATSRoundTrip(t *testing.T) {
	conn := runNATS(t)

	listen := func(consumer string) chan models.Fulfillment {
		ch := make(chan models.Fulfillment, 4)
		sub, err := conn.Subscribe(comm.FulfillSubject(consumer), func(msg *nats.Msg) {
			var f models.Fulfillment
			if json.Unmarshal(msg.Data, &f) == nil {
				ch <- f
			}
		})
		require.NoError(t, err)
		t.Cleanup(func() { sub.Unsubscribe() })
		return ch
	}
	mine := listen("card-a")
	other := listen("card-b")

	svc := NewService(conn, 0)
	svcSub, err := svc.Subscribe("oracle-test")
	require.NoError(t, err)
	defer svcSub.Unsubscribe()

	client := NewNATSClient(conn, "card-a", time.Second)
	id, err := client.Request(context.Background())
	require.NoError(t, err)

	select {
	case f := <-mine:
		require.Equal(t, id, f.RequestID)
		require.Len(t, f.Words, DefaultNumWords)
	case <-time.After(3 * time.Second):
		t.Fatal("no fulfillment published")
	}

	require.NoError(t, conn.Flush())
	select {
	case f := <-other:
		t.Fatalf("fulfillment %s reached another consumer", f.RequestID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNATSClientRejected(t *testing.T) {
	conn := runNATS(t)

	svc := NewService(conn, 0)
	svcSub, err := svc.Subscribe("oracle-test")
	require.NoError(t, err)
	defer svcSub.Unsubscribe()

	_, err = NewNATSClient(conn, "card.a", time.Second).Request(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorContains(t, err, "invalid-consumer")
}

func TestNATSClientNoResponders(t *testing.T) {
	conn := runNATS(t)

	_, err := NewNATSClient(conn, "card-a", 200*time.Millisecond).Request(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
}
