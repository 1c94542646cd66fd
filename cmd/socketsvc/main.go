package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	log "github.com/sirupsen/logrus"

	config "github.com/avvvet/card-services/configs"
	"github.com/avvvet/card-services/internal/cardsvc/stream"
	natscli "github.com/avvvet/card-services/internal/nats"
	"github.com/avvvet/card-services/internal/socketsvc/broker"
	"github.com/avvvet/card-services/internal/socketsvc/handlers"
	"github.com/avvvet/card-services/internal/socketsvc/ws"
)

const SERVICE_NAME = "socket"

var instanceId string

type socketConfig struct {
	Port      string `env:"SOCKET_SERVICE_PORT" envDefault:"8081"`
	NATSURL   string `env:"NATS_URL"`
	NATSToken string `env:"NATS_TOKEN"`
	JWTSecret string `env:"JWT_SECRET_KEY,required"`
	RateLimit int    `env:"RATE_LIMIT" envDefault:"100"`
}

func init() {
	instanceId = config.CreateUniqueInstance(SERVICE_NAME)
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
	config.LoadEnv(SERVICE_NAME)
}

func main() {
	var cfg socketConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// Connect to NATS
	n, err := natscli.Connect(SERVICE_NAME+"-"+instanceId, cfg.NATSURL, cfg.NATSToken)
	if err != nil {
		log.Fatalf("Error: unable to connect to NATS server %v", err)
	}

	defer n.Conn.Close()
	log.Printf("NATS connection established successfully %s", n.Url)

	// Setup router
	r := chi.NewRouter()
	c := config.CORS()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(c.Handler)

	// to protect the service api from any over requests
	r.Use(httprate.LimitByIP(cfg.RateLimit, 1*time.Minute))

	// broker delivers replies and events to the hub; ws relays socket commands through it
	hub := stream.NewHub()
	b := broker.NewBroker(n.Conn, hub)
	s := ws.NewWs(hub, b.Publish, b.Alive)

	h := handlers.NewHandler(s, cfg.JWTSecret, cfg.Port)
	h.SetRoutes(r)

	subs, err := b.Subscribe()
	if err != nil {
		log.Fatalf("Error: unable to subscribe to card service %v", err)
	}

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
	log.Infof("%s service running at port %s", SERVICE_NAME, server.Addr)

	// Wait for interrupt signal to gracefully shutdown the server
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	for _, sub := range subs {
		sub.Unsubscribe()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
