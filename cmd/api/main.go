package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agromarket/fulfillment/internal/checkout"
	"github.com/agromarket/fulfillment/internal/config"
	"github.com/agromarket/fulfillment/internal/events"
	"github.com/agromarket/fulfillment/internal/httpx"
	"github.com/agromarket/fulfillment/internal/inventory"
	"github.com/agromarket/fulfillment/internal/kafkax"
	"github.com/agromarket/fulfillment/internal/notify"
	"github.com/agromarket/fulfillment/internal/postgres"
	"github.com/agromarket/fulfillment/internal/pricing"
	"github.com/agromarket/fulfillment/internal/ratelimit"
	"github.com/agromarket/fulfillment/internal/redisx"
	"github.com/agromarket/fulfillment/internal/shipping"
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

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	pPlaced := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicOrderPlaced, 1024)
	pPlaced.Start(ctx)
	pRejected := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicStockRejected, 1024)
	pRejected.Start(ctx)
	pCancelled := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicOrderCancelled, 1024)
	pCancelled.Start(ctx)
	pStockLow := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicStockLow, 1024)
	pStockLow.Start(ctx)
	producers := []*kafkax.Producer{pPlaced, pRejected, pCancelled, pStockLow}

	shipCfg, err := shipping.LoadConfig(cfg.ShippingTablesPath)
	if err != nil {
		logrus.WithError(err).Fatal("shipping tables")
	}
	shipCfg.FlatBase = cfg.FlatShipping
	shipCfg.CODFee = cfg.CODFee
	shipCfg.FreeThreshold = cfg.FreeThreshold
	engine := shipping.NewEngine(shipCfg)

	orders := &store.Orders{DB: db}
	products := &store.Products{DB: db}
	queue := notify.NewQueue(&store.Notifications{DB: db})

	inv := &inventory.Service{
		Store:      &store.Inventory{DB: db},
		Queue:      queue,
		Events:     &events.Emitter{Sink: pStockLow, Service: cfg.ServiceName},
		AdminEmail: cfg.AdminEmail,
	}

	svc := &checkout.Service{
		Orders:    orders,
		Products:  products,
		Inventory: inv,
		Queue:     queue,
		Shipping:  engine,
		Limiter:   ratelimit.New(rdb, cfg.CheckoutRateLimit, cfg.CheckoutRateWindow),
		Idem:      rdb,
		Placed:    &events.Emitter{Sink: pPlaced, Service: cfg.ServiceName},
		Rejected:  &events.Emitter{Sink: pRejected, Service: cfg.ServiceName},
		Cancelled: &events.Emitter{Sink: pCancelled, Service: cfg.ServiceName},
		Pricing: pricing.Options{
			BaseShipping: &cfg.FlatShipping,
			CODFee:       &cfg.CODFee,
			TaxRate:      &cfg.TaxRate,
		},
		AdminEmail: cfg.AdminEmail,
	}

	router := httpx.NewRouter()
	h := &httpx.Handler{Checkout: svc, Shipping: engine, Products: products}
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		logrus.WithField("addr", cfg.HTTPAddr).Info("http listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logrus.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	for _, p := range producers {
		p.Close()
	}
	cancel()
	for _, p := range producers {
		p.WaitClosed()
	}
}
