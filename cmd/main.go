package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"restaurant-pos/internal/adapter/cache"
	"restaurant-pos/internal/config"
	"restaurant-pos/internal/database"
	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/messaging"
	"restaurant-pos/internal/middleware"
	"restaurant-pos/internal/orderapi"
	"restaurant-pos/internal/services/audit"
	"restaurant-pos/internal/services/gateway"
	"restaurant-pos/internal/session"
)

func main() {
	var (
		mode       = flag.String("mode", "", "Service mode (waiter-gateway, audit-subscriber)")
		configPath = flag.String("config", "config.yaml", "Path to the YAML config file")
		prefetch   = flag.Int("prefetch", 10, "RabbitMQ prefetch count")
	)
	flag.Parse()

	if *mode == "" {
		fmt.Fprintf(os.Stderr, "Error: --mode flag is required\n")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithOptions(*mode, logger.Options{
		Level:    cfg.App.LogLevel,
		FilePath: cfg.App.LogFile,
	})
	requestID := logger.GenerateRequestID()

	log.Info("service_started", fmt.Sprintf("Starting %s", *mode), requestID, map[string]interface{}{
		"mode": *mode,
		"addr": cfg.HTTP.Addr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gin.SetMode(gin.ReleaseMode)

	switch *mode {
	case "waiter-gateway":
		err = runWaiterGateway(ctx, cfg, log)
	case "audit-subscriber":
		err = runAuditSubscriber(ctx, cfg, log, *prefetch)
	default:
		err = fmt.Errorf("unknown mode: %s", *mode)
	}
	if err != nil {
		log.Error("service_failed", fmt.Sprintf("%s failed", *mode), requestID, err, nil)
		os.Exit(1)
	}

	log.Info("service_stopped", "Service stopped gracefully", requestID, nil)
}

// runWaiterGateway serves order sessions to the waiter UI
func runWaiterGateway(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if err := cfg.ValidateGateway(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	requestID := logger.GenerateRequestID()

	orders := orderapi.New(orderapi.Options{
		BaseURL:            cfg.OrderAPI.BaseURL,
		Timeout:            cfg.OrderAPI.Timeout,
		BreakerMaxFailures: cfg.OrderAPI.BreakerMaxFailures,
		BreakerOpenTimeout: cfg.OrderAPI.BreakerOpenTimeout,
	}, log)

	var events session.EventPublisher
	if cfg.RabbitMQ.Host != "" {
		conn, err := messaging.New(cfg, log)
		if err != nil {
			return fmt.Errorf("failed to initialize messaging: %w", err)
		}
		defer conn.Close()
		events = messaging.NewPublisher(conn, log)
	} else {
		log.Warn("events_disabled", "rabbitmq.host not set, order events are not published", requestID, nil)
	}

	var idem middleware.IdempotencyStore
	if cfg.Redis.Addr != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			return err
		}
		defer rdb.Close()
		idem = cache.NewRedisIdempotencyStore(rdb, cfg.Redis.TTL)
		log.Info("redis_connected", "Connected to Redis", requestID, map[string]interface{}{"addr": cfg.Redis.Addr})
	}

	manager := session.NewManager(session.ManagerConfig{
		Store:    orders,
		Events:   events,
		Logger:   log,
		Notifier: toastLogger(log),
		Debounce: cfg.Session.Debounce,
		IdleTTL:  cfg.Session.IdleTTL,
	})
	go manager.Run(ctx)

	handler := gateway.NewHandler(manager, log)
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      gateway.NewRouter(handler, log, idem, orders),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	err := serve(ctx, server, log)

	// Pending additions still reach the order service before exit.
	manager.CloseAll()
	return err
}

// runAuditSubscriber journals order events into PostgreSQL
func runAuditSubscriber(ctx context.Context, cfg *config.Config, log *logger.Logger, prefetch int) error {
	if err := cfg.ValidateAudit(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	db, err := database.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, os.DirFS(cfg.Database.Migrations)); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	conn, err := messaging.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize messaging: %w", err)
	}
	defer conn.Close()

	repo := audit.NewRepository(db)
	consumer := messaging.NewConsumer(conn, log, messaging.AuditQueue, "audit-subscriber", prefetch)
	subscriber := audit.NewSubscriber(consumer, repo, log)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      audit.NewRouter(audit.NewHandler(repo, db, log), log),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- serve(serveCtx, server, log)
	}()

	err = subscriber.Start(ctx)
	cancel()
	if srvErr := <-serveErr; err == nil {
		err = srvErr
	}
	return err
}

// serve runs server until ctx is cancelled, then shuts it down gracefully
func serve(ctx context.Context, server *http.Server, log *logger.Logger) error {
	requestID := logger.GenerateRequestID()
	errCh := make(chan error, 1)

	go func() {
		log.Info("http_started", fmt.Sprintf("HTTP server listening on %s", server.Addr), requestID, nil)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("graceful_shutdown", "Shutting down HTTP server", requestID, nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// toastLogger records toasts raised by background flushes
func toastLogger(log *logger.Logger) session.Notifier {
	return session.NotifierFunc(func(orderID string, toast session.Toast) {
		fields := map[string]interface{}{
			"order_id": orderID,
			"key":      toast.Key,
			"level":    toast.Level,
		}
		if toast.Level == session.ToastError {
			log.Warn("toast_raised", "Background order update failed", "", fields)
			return
		}
		log.Debug("toast_raised", "Order session notice", "", fields)
	})
}
