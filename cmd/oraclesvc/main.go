package main

import (
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"

	config "github.com/avvvet/card-services/configs"
	"github.com/avvvet/card-services/internal/cardsvc/oracle"
	natscli "github.com/avvvet/card-services/internal/nats"
)

const SERVICE_NAME = "oracle"

var instanceId string

func init() {
	instanceId = config.CreateUniqueInstance(SERVICE_NAME)
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
	config.LoadEnv(SERVICE_NAME)
}

func main() {
	delay := 2 * time.Second
	if v := os.Getenv("ORACLE_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("Invalid ORACLE_DELAY value: %v", err)
		}
		delay = d
	}

	// connect to NATS
	n, err := natscli.Connect(SERVICE_NAME+"-"+instanceId, os.Getenv("NATS_URL"), os.Getenv("NATS_TOKEN"))
	if err != nil {
		log.Fatalf("unable to connect to NATS: %v", err)
	}
	defer n.Conn.Close()
	log.Infof("NATS connected at %s", n.Url)

	svc := oracle.NewService(n.Conn, delay)
	sub, err := svc.Subscribe(SERVICE_NAME + "-service")
	if err != nil {
		log.Fatalf("subscribe error: %v", err)
	}
	log.Infof("%s service answering randomness requests, fulfilment delay %s", SERVICE_NAME, delay)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	if err := sub.Drain(); err != nil {
		log.Errorf("drain subscription: %v", err)
	}
	log.Infof("%s service stopped", SERVICE_NAME)
}
