package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	"github.com/nats-io/nats.go"

	config "github.com/avvvet/card-services/configs"
	"github.com/avvvet/card-services/internal/cardsvc/audit"
	"github.com/avvvet/card-services/internal/cardsvc/backend"
	"github.com/avvvet/card-services/internal/cardsvc/broker"
	cardcfg "github.com/avvvet/card-services/internal/cardsvc/config"
	"github.com/avvvet/card-services/internal/cardsvc/decay"
	"github.com/avvvet/card-services/internal/cardsvc/handlers"
	"github.com/avvvet/card-services/internal/cardsvc/oracle"
	"github.com/avvvet/card-services/internal/cardsvc/registry"
	"github.com/avvvet/card-services/internal/cardsvc/stream"
	"github.com/avvvet/card-services/internal/comm"
	"github.com/avvvet/card-services/internal/db"
	natscli "github.com/avvvet/card-services/internal/nats"
	log "github.com/sirupsen/logrus"
)

const SERVICE_NAME = "card"

var instanceId string

func init() {
	instanceId = config.CreateUniqueInstance(SERVICE_NAME)
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
	config.LoadEnv(SERVICE_NAME)
}

func main() {
	ctx := context.Background()

	cfg, err := cardcfg.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	policy, err := decay.FromConfig(cfg.Decay)
	if err != nil {
		log.Fatalf("invalid decay policy: %v", err)
	}

	be, err := backend.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s backend: %v", cfg.StoreBackend, err)
	}
	defer be.Close()

	// NATS is optional unless the oracle lives behind it
	var n *natscli.Nats
	if cfg.NATSURL != "" {
		n, err = natscli.Connect(SERVICE_NAME+"-"+instanceId, cfg.NATSURL, cfg.NATSToken)
		if err != nil {
			log.Fatalf("Error: unable to connect to NATS server %v", err)
		}
		defer n.Conn.Close()
		log.Printf("NATS connection established successfully %s", n.Url)
	}

	// audit trail: always the log, mongo too when configured
	trail := audit.Multi{audit.Log{}}
	if cfg.MongoURI != "" {
		mdb, disconnect, err := db.ConnectToDB(ctx, cfg.MongoURI)
		if err != nil {
			log.Fatalf("Failed to connect to mongodb: %v", err)
		}
		defer disconnect()
		sink, err := audit.NewMongo(ctx, mdb, cfg.AuditRetention)
		if err != nil {
			log.Fatalf("Failed to prepare audit collections: %v", err)
		}
		trail = append(trail, sink)
	}

	hub := stream.NewHub()
	opts := []registry.Option{
		registry.WithDecayPolicy(policy),
		registry.WithEventSink(hub),
		registry.WithEventSink(trail),
		registry.WithAuditor(trail),
	}
	if n != nil {
		opts = append(opts, registry.WithEventSink(&broker.EventPublisher{Conn: n.Conn, Topic: comm.SubjectCardEvents}))
	}

	// oracle callbacks come back on a subject only this instance listens to
	consumer := SERVICE_NAME + "-" + instanceId

	var reg *registry.Registry
	var local *oracle.Local
	var subs []*nats.Subscription
	switch cfg.OracleBackend {
	case cardcfg.OracleNATS:
		reg = registry.New(be.Store, be.Ledger, oracle.NewNATSClient(n.Conn, consumer, cfg.OracleTimeout), opts...)
	default:
		local = oracle.NewLocal()
		defer local.Stop()
		reg = registry.New(be.Store, be.Ledger, local, opts...)
		local.AutoFulfill(cfg.LocalOracleDelay, reg.Consumer())
		log.Infof("local oracle fulfils after %s", cfg.LocalOracleDelay)
	}

	if n != nil {
		b := broker.NewBroker(n.Conn, reg)

		sub, err := b.SubscribeCommands(comm.SubjectCardCommands, SERVICE_NAME+"-service")
		if err != nil {
			log.Fatalf("Error: unable to subscribe to %s: %v", comm.SubjectCardCommands, err)
		}
		subs = append(subs, sub)

		hbCtx, stopHeartbeat := context.WithCancel(ctx)
		defer stopHeartbeat()
		go b.Heartbeat(hbCtx, consumer, 5*time.Second)

		if cfg.OracleBackend == cardcfg.OracleNATS {
			sub, err := b.SubscribeFulfillments(consumer)
			if err != nil {
				log.Fatalf("Error: unable to subscribe to %s: %v", comm.FulfillSubject(consumer), err)
			}
			subs = append(subs, sub)
		}
	}

	// Setup router
	r := chi.NewRouter()
	c := config.CORS()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(c.Handler)

	// to protect the service api from any over requests
	r.Use(httprate.LimitByIP(cfg.RateLimit, 1*time.Minute))

	// Init handlers and routes
	h := handlers.NewHandler(reg, hub, cfg.Port)
	h.InitAuth(cfg.JWTSecret)
	h.SetRoutes(r)

	// Create server with timeout settings
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at port %s (store=%s oracle=%s)", SERVICE_NAME, server.Addr, cfg.StoreBackend, cfg.OracleBackend)

	// Wait for interrupt signal to gracefully shutdown the server
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	for _, sub := range subs {
		sub.Unsubscribe()
	}

	// the in-process oracle forgets its requests on exit; those cards stay pending
	if local != nil {
		if ids := local.Outstanding(); len(ids) > 0 {
			log.Warnf("local oracle stopping with %d unfulfilled requests: %v", len(ids), ids)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped, %d sockets open", SERVICE_NAME, hub.Count())
}
