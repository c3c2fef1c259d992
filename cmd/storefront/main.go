package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fjod/go_cart/internal/cache"
	"github.com/fjod/go_cart/internal/catalog"
	"github.com/fjod/go_cart/internal/config"
	"github.com/fjod/go_cart/internal/consumer"
	"github.com/fjod/go_cart/internal/coupon"
	h "github.com/fjod/go_cart/internal/http"
	"github.com/fjod/go_cart/internal/payment"
	"github.com/fjod/go_cart/internal/publisher"
	"github.com/fjod/go_cart/internal/repository"
	"github.com/fjod/go_cart/internal/service"
	"github.com/fjod/go_cart/pkg/circuitbreaker"
	"github.com/fjod/go_cart/pkg/logger"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	cfg, err := config.Load(getEnv("CONFIG_DIR", "configs"), getEnv("APP_ENV", "dev"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, logCloser := logger.New(logger.Options{
		Component: cfg.App.Name,
		Level:     cfg.App.LogLevel,
		FilePath:  cfg.App.LogFile,
	})
	defer logCloser.Close()
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("storefront stopped with error", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	products, closeCatalog, err := openCatalog(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCatalog()

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	db, err := repository.ConnectMongoDB(connectCtx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Client().Disconnect(context.Background()); err != nil {
			log.Error("failed to disconnect from MongoDB", "error", err)
		}
	}()
	log.Info("connected to MongoDB", "database", cfg.Mongo.Database)

	stores := repository.NewStores(db)
	if err := stores.CreateIndexes(connectCtx); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	if cfg.Coupons.Seed {
		for _, c := range coupon.DevCoupons(time.Now().UTC()) {
			if err := stores.Coupons.UpsertCoupon(connectCtx, &c); err != nil {
				return fmt.Errorf("failed to seed coupon %s: %w", c.Code, err)
			}
		}
		log.Info("seeded development coupons")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(connectCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	notifier, closeNotifier := newNotifier(cfg, log)
	defer closeNotifier()

	processor := payment.NewBreakerProcessor(
		payment.NewSimulator(cfg.Payment.SuccessRate, cfg.Payment.Latency, nil),
		circuitbreaker.Settings{
			Name:             "payment-refunds",
			MaxFailures:      cfg.Payment.Breaker.MaxFailures,
			OpenTimeout:      cfg.Payment.Breaker.OpenTimeout,
			HalfOpenRequests: cfg.Payment.Breaker.HalfOpenRequests,
		},
		cfg.Payment.Timeout,
		log,
	)

	carts := service.NewCartService(stores.Carts, cache.NewRedisCache(rdb, cfg.Redis.CartTTL), products, cfg.Checkout.Currency, log)
	checkout := service.NewCheckoutService(service.CheckoutDeps{
		Carts:       carts,
		Catalog:     products,
		Coupons:     stores.Coupons,
		Orders:      stores.Orders,
		Idempotency: cache.NewRedisIdempotencyStore(rdb, cfg.Redis.IdempotencyTTL),
		Notifier:    notifier,
		Evaluator:   coupon.NewEvaluator(nil),
		Currency:    cfg.Checkout.Currency,
		Logger:      log,
	})
	refunds := service.NewRefundService(stores.Orders, stores.Refunds, processor, notifier, log)

	router := h.NewRouter(h.RouterConfig{
		ServiceName:    cfg.App.Name,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		AdminKeys:      cfg.HTTP.AdminKeys,
		Logger:         log,
	}, h.Handlers{
		Cart:     h.NewCartHandler(carts, cfg.HTTP.RequestTimeout),
		Checkout: h.NewCheckoutHandler(checkout, cfg.HTTP.RequestTimeout),
		Orders:   h.NewOrdersHandler(checkout, refunds, cfg.HTTP.RequestTimeout),
	})

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	var consumers sync.WaitGroup
	if cfg.Kafka.Enabled && cfg.Kafka.PaymentResultsTopic != "" {
		c := consumer.NewConsumer(checkout, cfg.Kafka.PaymentResultsTopic, cfg.Kafka.GroupID, log, cfg.Kafka.Brokers...)
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			c.Run(consumerCtx)
		}()
		defer func() {
			stopConsumer()
			consumers.Wait()
			c.Close()
		}()
		log.Info("consuming payment results", "topic", cfg.Kafka.PaymentResultsTopic)
	}

	srv := &http.Server{
		Addr:         cfg.App.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("storefront starting", "addr", cfg.App.HTTPAddr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server exited")
	return nil
}

func openCatalog(ctx context.Context, cfg config.Config, log *slog.Logger) (catalog.Catalog, func(), error) {
	if cfg.Catalog.Driver == "memory" {
		store := catalog.NewMemoryStore()
		if cfg.Catalog.Seed {
			_ = store.Seed(ctx, catalog.DevProducts())
		}
		return store, func() {}, nil
	}

	store, err := catalog.NewSQLStore(cfg.Catalog.Driver, cfg.Catalog.DSN)
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() {
		if err := store.Close(); err != nil {
			log.Error("failed to close catalog", "error", err)
		}
	}

	if err := store.RunMigrations(); err != nil {
		closeStore()
		return nil, nil, err
	}
	if cfg.Catalog.Seed {
		if err := store.Seed(ctx, catalog.DevProducts()); err != nil {
			closeStore()
			return nil, nil, err
		}
	}
	log.Info("catalog ready", "driver", cfg.Catalog.Driver)
	return store, closeStore, nil
}

func newNotifier(cfg config.Config, log *slog.Logger) (service.Notifier, func()) {
	if !cfg.Kafka.Enabled {
		return publisher.NewLogNotifier(log), func() {}
	}
	n := publisher.NewKafkaNotifier(cfg.Kafka.NotificationsTopic, log, cfg.Kafka.Brokers...)
	return n, func() {
		if err := n.Close(); err != nil {
			log.Error("failed to close notifier", "error", err)
		}
	}
}
