package broker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avvvet/card-services/internal/cardsvc/ledger"
	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/avvvet/card-services/internal/cardsvc/oracle"
	"github.com/avvvet/card-services/internal/cardsvc/registry"
	"github.com/avvvet/card-services/internal/cardsvc/store"
	"github.com/avvvet/card-services/internal/comm"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// countingRegistry stands in for a second card service instance.
type countingRegistry struct {
	creates  atomic.Int32
	banishes atomic.Int32
	fulfills atomic.Int32
}

func (c *countingRegistry) CreateCard(_ context.Context, holder models.Holder, amount decimal.Decimal) (*models.Card, error) {
	c.creates.Add(1)
	return &models.Card{Holder: holder, DepositAmount: amount, State: models.CardPendingRandomness}, nil
}

func (c *countingRegistry) BanishCard(_ context.Context, holder models.Holder, sequence uint64) (*models.Card, error) {
	c.banishes.Add(1)
	return &models.Card{Holder: holder, Sequence: sequence, State: models.CardBanished}, nil
}

func (c *countingRegistry) GetCard(context.Context, models.Holder, uint64) (*models.Card, error) {
	return nil, registry.ErrCardNotFound
}

func (c *countingRegistry) FulfillRandomness(context.Context, models.RequestID, []uint64) (*models.Card, error) {
	c.fulfills.Add(1)
	return nil, registry.ErrUnknownRequest
}

func (c *countingRegistry) Pool(context.Context) (registry.PoolStatus, error) {
	return registry.PoolStatus{}, nil
}

func runNATS(t *testing.T) string {
	t.Helper()
	srv := natsserver.RunRandClientPortServer()
	t.Cleanup(srv.Shutdown)
	return srv.ClientURL()
}

func connect(t *testing.T, url string) *nats.Conn {
	t.Helper()
	conn, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return conn
}

func TestCommandRunsOnOneInstance(t *testing.T) {
	url := runNATS(t)

	instances := []*countingRegistry{{}, {}}
	for _, reg := range instances {
		conn := connect(t, url)
		sub, err := NewBroker(conn, reg).SubscribeCommands(comm.SubjectCardCommands, "card-service")
		require.NoError(t, err)
		t.Cleanup(func() { sub.Unsubscribe() })
		require.NoError(t, conn.Flush())
	}

	client := connect(t, url)
	replies := make(chan *nats.Msg, 32)
	repliesSub, err := client.ChanSubscribe(comm.SubjectCardReplies, replies)
	require.NoError(t, err)
	defer repliesSub.Unsubscribe()

	total := func() (creates, banishes int32) {
		for _, reg := range instances {
			creates += reg.creates.Load()
			banishes += reg.banishes.Load()
		}
		return
	}

	for i := 0; i < 10; i++ {
		payload, err := json.Marshal(command(t, "create-card", comm.CreateCardRequest{Holder: "0xalice", Amount: "10"}))
		require.NoError(t, err)
		require.NoError(t, client.Publish(comm.SubjectCardCommands, payload))
	}
	payload, err := json.Marshal(command(t, "banish-card", comm.CardRef{Holder: "0xalice", Sequence: 0}))
	require.NoError(t, err)
	require.NoError(t, client.Publish(comm.SubjectCardCommands, payload))
	require.NoError(t, client.Flush())

	require.Eventually(t, func() bool {
		creates, banishes := total()
		return creates == 10 && banishes == 1 && len(replies) == 11
	}, 2*time.Second, 10*time.Millisecond)

	// nothing trails in after the first delivery
	time.Sleep(100 * time.Millisecond)
	creates, banishes := total()
	require.Equal(t, int32(10), creates)
	require.Equal(t, int32(1), banishes)
	require.Len(t, replies, 11)
}

func TestCommandRequestReply(t *testing.T) {
	url := runNATS(t)

	a, b := &countingRegistry{}, &countingRegistry{}
	for _, reg := range []*countingRegistry{a, b} {
		conn := connect(t, url)
		sub, err := NewBroker(conn, reg).SubscribeCommands(comm.SubjectCardCommands, "card-service")
		require.NoError(t, err)
		t.Cleanup(func() { sub.Unsubscribe() })
		require.NoError(t, conn.Flush())
	}

	client := connect(t, url)
	payload, err := json.Marshal(command(t, "create-card", comm.CreateCardRequest{Holder: "0xalice", Amount: "10"}))
	require.NoError(t, err)
	msg, err := client.Request(comm.SubjectCardCommands, payload, 2*time.Second)
	require.NoError(t, err)

	var res comm.WSMessage
	require.NoError(t, json.Unmarshal(msg.Data, &res))
	require.Equal(t, "create-card-response", res.Type)
	require.Equal(t, "success", decodeCard(t, &res).Status)
	require.Equal(t, int32(1), a.creates.Load()+b.creates.Load())
}

// The oracle answers with no delay, so the callback is published while the requesting
// instance is still inside CreateCard. It must reach that instance and nobody else.
func TestFulfillmentReachesRequestingInstance(t *testing.T) {
	url := runNATS(t)
	ctx := context.Background()

	svc := oracle.NewService(connect(t, url), 0)
	svcSub, err := svc.Subscribe("oracle-service")
	require.NoError(t, err)
	defer svcSub.Unsubscribe()

	l := ledger.NewMemory("")
	alice := models.Holder("0xalice")
	require.NoError(t, l.Mint(ctx, alice, decimal.NewFromInt(100)))
	require.NoError(t, l.Approve(ctx, alice, decimal.NewFromInt(100)))

	connA := connect(t, url)
	regA := registry.New(store.NewMemory(), l, oracle.NewNATSClient(connA, "card-a", time.Second))
	brokerA := NewBroker(connA, regA)
	subA, err := brokerA.SubscribeFulfillments("card-a")
	require.NoError(t, err)
	defer subA.Unsubscribe()
	require.NoError(t, connA.Flush())

	other := &countingRegistry{}
	connB := connect(t, url)
	subB, err := NewBroker(connB, other).SubscribeFulfillments("card-b")
	require.NoError(t, err)
	defer subB.Unsubscribe()
	require.NoError(t, connB.Flush())

	for seq := uint64(0); seq < 3; seq++ {
		res := decodeCard(t, brokerA.Dispatch(ctx, command(t, "create-card", comm.CreateCardRequest{Holder: alice, Amount: "10"})))
		require.Equal(t, "success", res.Status)
		require.Equal(t, seq, res.Card.Sequence)
	}

	require.Eventually(t, func() bool {
		cards, err := regA.ListCards(ctx, alice)
		if err != nil || len(cards) != 3 {
			return false
		}
		for _, card := range cards {
			if card.State != models.CardActive {
				return false
			}
		}
		return true
	}, 3*time.Second, 10*time.Millisecond)

	pending, err := regA.PendingRequests(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
	require.Zero(t, other.fulfills.Load())
}
