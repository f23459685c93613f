package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/safar/autoshop-checkout/internal/config"
	"github.com/safar/autoshop-checkout/internal/database"
	"github.com/safar/autoshop-checkout/internal/gateway"
	"github.com/safar/autoshop-checkout/internal/httpx"
	kafkax "github.com/safar/autoshop-checkout/internal/kafka"
	"github.com/safar/autoshop-checkout/internal/logger"
	"github.com/safar/autoshop-checkout/internal/reconcile"
	"github.com/safar/autoshop-checkout/internal/redisx"
	"github.com/safar/autoshop-checkout/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const serviceName = "autoshop-checkout"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	lg, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Build logger: %v", err)
	}
	defer lg.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.Open(ctx, &cfg.Database, lg)
	if err != nil {
		lg.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()

	deps := reconcile.Deps{
		Repository: store.NewLedger(db, lg.Named("ledger")),
		Gateway:    gateway.NewClient(cfg.Gateway, lg.Named("gateway")),
		Logger:     lg.Named("reconcile"),
	}

	// Redis only accelerates polling and guards refunds; run without it.
	rdb, err := redisx.New(ctx, cfg.Redis)
	if err != nil {
		lg.Warn("redis unavailable, status cache and refund guard disabled", zap.Error(err))
	} else {
		defer rdb.Close()
		deps.Cache = redisx.NewStatusCache(rdb, cfg.Redis.StatusCacheTTL)
		deps.Guard = redisx.NewRefundGuard(rdb, cfg.Redis.RefundLockTTL, lg.Named("redis"))
	}

	var producer *kafkax.Producer
	if cfg.Kafka.Enabled {
		producer = kafkax.NewProducer(cfg.Kafka, serviceName, 1024, lg.Named("kafka"))
		producer.Start()
		deps.Publisher = producer
	}

	opts := reconcile.Options{
		Location:          cfg.Refund.Location(),
		CancelWindow:      cfg.Refund.CancelWindow,
		RefundRate:        decimal.NewFromFloat(cfg.Refund.RefundRate),
		MinCheckoutAmount: cfg.Refund.MinCheckoutAmount,
		GatewayTimeout:    cfg.Gateway.Timeout,
		Currency:          cfg.Gateway.Currency,
		Webhook: gateway.WebhookVerifier{
			Secret:    cfg.Gateway.WebhookSecret,
			LiveMode:  cfg.Gateway.LiveMode,
			Tolerance: 5 * time.Minute,
		},
		Now: time.Now,
	}

	svc, err := reconcile.NewService(deps, opts)
	if err != nil {
		lg.Fatal("build reconcile service", zap.Error(err))
	}

	router := httpx.NewRouter(lg.Named("http"), cfg.Server.RequestTimeout)
	(&httpx.ReconcileHandler{Service: svc, Logger: lg.Named("http")}).Register(router)
	(&httpx.CatalogHandler{DB: db, Location: opts.Location, Logger: lg.Named("http")}).Register(router)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		lg.Info("server starting", zap.String("port", cfg.Server.Port), zap.String("timezone", cfg.Refund.Timezone))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	lg.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		lg.Warn("server shutdown", zap.Error(err))
	}

	if producer != nil {
		producer.Close()
		producer.WaitClosed()
	}
}
