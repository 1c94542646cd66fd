package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	config "github.com/avvvet/card-services/configs"
	"github.com/avvvet/card-services/internal/cardsvc/backend"
	cardcfg "github.com/avvvet/card-services/internal/cardsvc/config"
	"github.com/avvvet/card-services/internal/cardsvc/handlers"
	"github.com/avvvet/card-services/internal/cardsvc/ledger"
	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/avvvet/card-services/internal/cardsvc/store"
	"github.com/avvvet/card-services/internal/comm"
	natscli "github.com/avvvet/card-services/internal/nats"
	"github.com/shopspring/decimal"
)

const SERVICE_NAME = "ctl"

var instanceId string

func init() {
	instanceId = config.CreateUniqueInstance(SERVICE_NAME)
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
	config.LoadEnv(SERVICE_NAME)
}

const usage = `usage: ctlsvc <command> [args]

  mint <holder> <amount>      credit tokens to a holder
  approve <holder> <amount>   set the holder's allowance for the card pool
  topup <amount>              credit tokens straight to the pool account
  balance <holder>            print balance and allowance
  journal [account]           print an account's ledger rows, the pool when omitted
  pending [-older 10m]        list randomness requests still waiting
  watch [-every 30s] [-older 10m]
                              report stuck requests periodically, on NATS when NATS_URL is set
  token [-holder h] [-role r] [-ttl 24h]
                              sign an API token
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := cardcfg.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "token" {
		if err := runToken(cfg, args); err != nil {
			fail(err)
		}
		return
	}

	ctx := context.Background()
	be, err := backend.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s backend: %v", cfg.StoreBackend, err)
	}
	defer be.Close()

	switch cmd {
	case "mint":
		err = runCredit(ctx, args, func(holder models.Holder, amount decimal.Decimal) error {
			return be.Ledger.Mint(ctx, holder, amount)
		})
	case "approve":
		err = runCredit(ctx, args, func(holder models.Holder, amount decimal.Decimal) error {
			return be.Ledger.Approve(ctx, holder, amount)
		})
	case "topup":
		err = runCredit(ctx, append([]string{string(be.Ledger.Pool())}, args...), func(holder models.Holder, amount decimal.Decimal) error {
			return be.Ledger.Mint(ctx, holder, amount)
		})
	case "balance":
		err = runBalance(ctx, be.Ledger, args)
	case "journal":
		err = runJournal(ctx, be.Ledger, args, os.Stdout)
	case "pending":
		err = runPending(ctx, be.Store, args)
	case "watch":
		err = runWatch(ctx, cfg, be.Store, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		be.Close()
		fail(err)
	}
}

func fail(err error) {
	log.Errorf("ctl: %v", err)
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func runCredit(ctx context.Context, args []string, apply func(models.Holder, decimal.Decimal) error) error {
	if len(args) != 2 {
		return fmt.Errorf("want <holder> <amount>, got %d args", len(args))
	}
	amount, err := decimal.NewFromString(args[1])
	if err != nil {
		return fmt.Errorf("parse amount %q: %w", args[1], err)
	}
	holder := models.Holder(args[0])
	if err := apply(holder, amount); err != nil {
		return err
	}
	log.WithFields(log.Fields{"holder": holder, "amount": amount.String()}).Info("ledger updated")
	fmt.Printf("ok %s %s\n", holder, amount)
	return nil
}

func runBalance(ctx context.Context, l backend.Ledger, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("want <holder>")
	}
	holder := models.Holder(args[0])
	balance, err := l.BalanceOf(ctx, holder)
	if err != nil {
		return err
	}
	allowance, err := l.Allowance(ctx, holder)
	if err != nil {
		return err
	}
	fmt.Printf("%s balance=%s allowance=%s\n", holder, balance, allowance)
	return nil
}

func listPending(ctx context.Context, s store.Store) ([]models.PendingRequest, error) {
	var pending []models.PendingRequest
	err := s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		pending, err = tx.ListPending(ctx)
		return err
	})
	return pending, err
}

// stalePending keeps the requests that have waited at least older.
func stalePending(pending []models.PendingRequest, now time.Time, older time.Duration) []models.PendingRequest {
	var stale []models.PendingRequest
	for _, p := range pending {
		if now.Sub(p.RequestedAt) >= older {
			stale = append(stale, p)
		}
	}
	return stale
}

// journaler is implemented by the database backed ledgers.
type journaler interface {
	Journal(ctx context.Context, account models.Holder) ([]ledger.Entry, error)
}

func runJournal(ctx context.Context, l backend.Ledger, args []string, w io.Writer) error {
	if len(args) > 1 {
		return fmt.Errorf("want [account]")
	}
	j, ok := l.(journaler)
	if !ok {
		return fmt.Errorf("the %T ledger keeps no journal", l)
	}
	account := l.Pool()
	if len(args) == 1 {
		account = models.Holder(args[0])
	}

	entries, err := j.Journal(ctx, account)
	if err != nil {
		return err
	}
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Dr).Sub(e.Cr)
		fmt.Fprintf(w, "%d\t%s\tdr=%s\tcr=%s\t%s\n", e.ID, e.TType, e.Dr, e.Cr, e.Tref)
	}
	fmt.Fprintf(w, "%s entries=%d balance=%s\n", account, len(entries), total)
	return nil
}

func runPending(ctx context.Context, s store.Store, args []string) error {
	fs := flag.NewFlagSet("pending", flag.ContinueOnError)
	older := fs.Duration("older", 0, "only requests waiting at least this long")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pending, err := listPending(ctx, s)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, p := range stalePending(pending, now, *older) {
		fmt.Printf("%s\t%s/%d\twaiting %s\n", p.RequestID, p.Holder, p.Sequence, now.Sub(p.RequestedAt).Truncate(time.Second))
	}
	return nil
}

func runWatch(ctx context.Context, cfg cardcfg.Config, s store.Store, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	every := fs.Duration("every", 30*time.Second, "poll interval")
	older := fs.Duration("older", 10*time.Minute, "report requests waiting at least this long")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var n *natscli.Nats
	if cfg.NATSURL != "" {
		var err error
		n, err = natscli.Connect(SERVICE_NAME+"-"+instanceId, cfg.NATSURL, cfg.NATSToken)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer n.Conn.Close()
		log.Printf("NATS connection established successfully %s", n.Url)
	}

	ticker := time.NewTicker(*every)
	defer ticker.Stop()

	for range ticker.C {
		pending, err := listPending(ctx, s)
		if err != nil {
			log.Errorf("list pending requests: %v", err)
			continue
		}
		stale := stalePending(pending, time.Now(), *older)
		if len(stale) == 0 {
			continue
		}
		log.Warnf("%d randomness requests waiting longer than %s", len(stale), *older)
		if n != nil {
			PublishStuckRequests(n, stale)
		}
	}
	return nil
}

func PublishStuckRequests(n *natscli.Nats, stale []models.PendingRequest) {
	data, err := json.Marshal(stale)
	if err != nil {
		log.Errorf("error [PublishStuckRequests] marshaling requests: %v", err)
		return
	}

	msg := &comm.WSMessage{
		Type:     "requests-stuck",
		Data:     data,
		SocketId: "",
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("error [PublishStuckRequests] marshaling WSMessage: %v", err)
		return
	}

	if err := n.Conn.Publish(comm.SubjectCardEvents, payload); err != nil {
		log.Errorf("error publishing requests-stuck: %v", err)
	}
}

func runToken(cfg cardcfg.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	holder := fs.String("holder", "", "holder claim")
	role := fs.String("role", "", "role claim (oracle, operator)")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *holder == "" && *role == "" {
		return fmt.Errorf("token needs -holder or -role")
	}

	tok, err := handlers.IssueToken(handlers.NewTokenAuth(cfg.JWTSecret), models.Holder(*holder), *role, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
