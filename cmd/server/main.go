package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bbpayments-be/internal/config"
	"bbpayments-be/internal/db"
	"bbpayments-be/internal/lock"
	"bbpayments-be/internal/logger"
	"bbpayments-be/internal/metrics"
	"bbpayments-be/internal/middleware"
	"bbpayments-be/internal/order"
	"bbpayments-be/internal/payment"
	"bbpayments-be/internal/payment/checkout"
	"bbpayments-be/internal/payment/webhook"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	initDBFunc      = db.InitDB
	startServerFunc = func(addr string, handler http.Handler) error {
		srv := &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		return srv.ListenAndServe()
	}
)

// deps are the stores and shared services the HTTP layer is built from.
type deps struct {
	Orders        order.Repository
	Notifications payment.NotificationLog
	Locker        lock.Locker
	Registry      *prometheus.Registry
	Limiter       *middleware.RateLimiter
}

func main() {
	if err := run(); err != nil {
		logger.L().Fatal("server stopped", zap.Error(err))
	}
}

func run() error {
	cfg := config.LoadConfig()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, cleanup, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	go d.Limiter.Run(ctx)

	handler, err := newServer(cfg, d)
	if err != nil {
		return err
	}

	logger.L().Info("bbpayments server running",
		zap.String("port", cfg.AppPort),
		zap.String("store", cfg.StoreDriver),
		zap.String("protocol", cfg.Gateway.Protocol),
	)
	return startServerFunc(":"+cfg.AppPort, handler)
}

func buildDeps(ctx context.Context, cfg *config.Config) (deps, func(), error) {
	d := deps{
		Registry: newRegistry(),
		Limiter:  middleware.NewRateLimiter(cfg.InternalServiceKey),
	}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.L().Warn("using in-memory order store; state is lost on restart")
		d.Orders = order.NewMemoryRepository()
		d.Notifications = payment.NewMemoryLog()
	default:
		database := initDBFunc(cfg)
		closers = append(closers, func() { _ = database.Close() })
		d.Orders, d.Notifications = sqlStores(database)
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			cleanup()
			return deps{}, nil, fmt.Errorf("redis unavailable at %s: %w", cfg.RedisAddr, err)
		}
		closers = append(closers, func() { _ = client.Close() })
		d.Locker = lock.NewRedisLocker(client, lock.DefaultTTL)
	} else {
		d.Locker = lock.NewKeyedMutex()
	}

	return d, cleanup, nil
}

func sqlStores(database *sql.DB) (order.Repository, payment.NotificationLog) {
	return order.NewRepository(database), payment.NewRepository(database)
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newServer(cfg *config.Config, d deps) (http.Handler, error) {
	if d.Registry == nil {
		d.Registry = newRegistry()
	}
	if d.Limiter == nil {
		d.Limiter = middleware.NewRateLimiter(cfg.InternalServiceKey)
	}

	gw, err := payment.NewGateway(cfg.PaymentSettings(), payment.GatewayDeps{
		Orders:  d.Orders,
		Log:     d.Notifications,
		Locker:  d.Locker,
		Metrics: metrics.New(d.Registry),
	})
	if err != nil {
		return nil, err
	}

	router := setupRouter(
		webhook.NewWebhookHandler(gw),
		checkout.NewCheckoutHandler(d.Orders, gw),
		promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}),
	)

	var handler http.Handler = router
	handler = middleware.CORS(cfg.StorefrontOrigin)(handler)
	handler = d.Limiter.Middleware(handler)
	handler = logger.LoggingMiddleware(handler)
	handler = logger.RequestIDMiddleware(handler)
	return handler, nil
}

func setupRouter(webhookHandler *webhook.Handler, checkoutHandler *checkout.Handler, metricsHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", metricsHandler)

	// The payment party sends GET or POST here; the handler rejects the rest.
	mux.HandleFunc("/webhook/bbpayments", webhookHandler.PaymentWebhookHandler)
	mux.HandleFunc("/webhook/bbpayments/legacy", webhookHandler.LegacyWebhookHandler)

	mux.HandleFunc("GET /checkout/{id}", checkoutHandler.CheckoutHandler)

	return mux
}
