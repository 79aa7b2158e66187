package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/storefront-orders/internal/config"
	"github.com/ariefcatur/storefront-orders/internal/httpx"
	"github.com/ariefcatur/storefront-orders/internal/inventory"
	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/logger"
	"github.com/ariefcatur/storefront-orders/internal/metrics"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/postgres"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
	"github.com/ariefcatur/storefront-orders/internal/tracing"
)

const version = "0.1.0"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(logger.Options{
		ServiceName: cfg.ServiceName,
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
	})
	if err := run(cfg, log); err != nil {
		log.Error(context.Background(), "api stopped", err)
		os.Exit(1)
	}
}

type backend struct {
	inventory inventory.Store
	catalog   inventory.Catalog
	orders    orders.Repository
	tx        orders.TxRunner
	ready     func(context.Context) error
	close     func()
}

func openBackend(ctx context.Context, cfg *config.Config, log *logger.Logger) (*backend, error) {
	if cfg.StoreDriver == config.DriverMemory {
		log.Warn(ctx, "using in-memory stores; data is lost on restart", nil)
		inv := inventory.NewMemoryStore()
		return &backend{inventory: inv, catalog: inv, orders: orders.NewMemoryRepository(), close: func() {}}, nil
	}

	pool, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, pool, "up"); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info(ctx, "migrations applied")
	}
	store := postgres.NewStore(pool)
	return &backend{
		inventory: store,
		catalog:   store,
		orders:    store,
		tx:        store,
		ready:     store.Ping,
		close:     pool.Close,
	}, nil
}

func run(cfg *config.Config, log *logger.Logger) error {
	if err := cfg.RequireAuth(); err != nil {
		return err
	}
	decimal.MarshalJSONWithoutQuotes = true

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Options{
		ServiceName: cfg.ServiceName,
		Version:     version,
		Endpoint:    cfg.OTLPEndpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn(context.Background(), "tracing shutdown", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.close()

	params := orders.Params{
		Inventory:    be.inventory,
		Orders:       be.orders,
		Tx:           be.tx,
		Logger:       log,
		Metrics:      m,
		Producer:     cfg.ServiceName,
		CodeAttempts: cfg.OrderCodeMaxAttempts,
	}

	var producer *kafkax.Producer
	if cfg.KafkaEnabled() {
		producer = kafkax.NewProducer(cfg.KafkaBrokers, cfg.KafkaBuffer, log)
		producer.Start()
		params.Publisher = kafkax.NewEventPublisher(producer)
	}

	ordersHandler := &httpx.OrdersHandler{Logger: log, Metrics: m}
	probes := []func(context.Context) error{}
	if be.ready != nil {
		probes = append(probes, be.ready)
	}
	if cfg.RedisEnabled() {
		rc, err := redisx.New(ctx, cfg.RedisAddr)
		if err != nil {
			// redis only speeds things up; run without it
			log.Warn(ctx, "redis unavailable, idempotency keys and status cache disabled", err)
		} else {
			defer rc.Close()
			rc.SetClaimTTL(2 * cfg.RequestTimeout)
			ordersHandler.Idempotency = rc
			ordersHandler.Cache = rc
			probes = append(probes, rc.Ping)
		}
	}

	coordinator := orders.NewCoordinator(params)
	ordersHandler.Orders = coordinator
	catalog := inventory.NewService(inventory.ServiceParams{
		Catalog:      be.catalog,
		Logger:       log,
		CodeAttempts: cfg.OrderCodeMaxAttempts,
	})

	ready := func(ctx context.Context) error {
		for _, probe := range probes {
			if err := probe(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	router := httpx.NewRouter(httpx.RouterOptions{
		Logger:   log,
		Metrics:  m,
		Gatherer: reg,
		Timeout:  cfg.RequestTimeout,
		Ready:    ready,
	})
	auth := httpx.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer).Middleware(log)
	ordersHandler.Register(router, auth)
	(&httpx.ProductsHandler{Products: catalog, Logger: log}).Register(router, auth)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info(log.WithField(ctx, "addr", cfg.HTTPAddr), "http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}
	log.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "http shutdown", err)
	}
	if producer != nil {
		producer.Close()      // stop accepting, flush the inbox
		producer.WaitClosed() // writer closed
	}
	return nil
}
