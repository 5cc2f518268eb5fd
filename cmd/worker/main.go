package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/agromarket/fulfillment/internal/config"
	"github.com/agromarket/fulfillment/internal/events"
	"github.com/agromarket/fulfillment/internal/kafkax"
	"github.com/agromarket/fulfillment/internal/notify"
	"github.com/agromarket/fulfillment/internal/notify/adapters"
	"github.com/agromarket/fulfillment/internal/postgres"
	"github.com/agromarket/fulfillment/internal/store"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
		logrus.WithError(err).Fatal("migrate")
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logrus.WithError(err).Fatal("db connect")
	}
	defer db.Close()

	pDead := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicNotifyDeadLetter, 256)
	pDead.Start(ctx)

	w := &notify.Worker{
		Store: &store.Notifications{DB: db},
		Adapters: map[notify.Channel]notify.Adapter{
			notify.ChannelEmail: adapters.LogEmail{},
			notify.ChannelSMS:   adapters.LogSMS{},
		},
		Templates:       notify.DefaultTemplates(),
		Events:          &events.Emitter{Sink: pDead, Service: cfg.ServiceName + "-worker"},
		BatchLimit:      cfg.WorkerBatch,
		DeliveryTimeout: cfg.DeliveryTimeout,
		ClaimLease:      cfg.ClaimLease,
		JitterBound:     cfg.JitterBound,
	}

	go func() {
		logrus.WithFields(logrus.Fields{
			"interval": cfg.WorkerInterval,
			"batch":    cfg.WorkerBatch,
		}).Info("notification worker started")
		w.Run(ctx, cfg.WorkerInterval)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logrus.Info("shutting down worker...")
	pDead.Close()
	cancel()
	pDead.WaitClosed()
}
