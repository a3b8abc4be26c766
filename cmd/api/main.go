package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"offerflow/acceptance"
	"offerflow/config"
	"offerflow/db"
	"offerflow/httpapi"
	"offerflow/identity"
	"offerflow/notify"
	"offerflow/store"
)

func main() {
	configDir := flag.String("config", ".", "directory containing offerflow.yaml")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log.New(os.Stderr, "offerflow: ", log.LstdFlags)); err != nil {
		log.Fatalf("offerflow: %v", err)
	}
}

// closers collects shutdown hooks and runs them in reverse order.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func run(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	var cleanup closers
	defer cleanup.run()

	st, err := buildStore(ctx, cfg, &cleanup)
	if err != nil {
		return err
	}

	hub := notify.NewHub(logger)
	notifier, err := buildNotifier(cfg, hub, logger, &cleanup)
	if err != nil {
		return err
	}
	deadLetters, err := buildDeadLetters(cfg, &cleanup)
	if err != nil {
		return err
	}

	dispatcher := notify.NewDispatcher(notifier, notify.Options{
		Workers:         cfg.Dispatcher.Workers,
		QueueSize:       cfg.Dispatcher.QueueSize,
		MaxAttempts:     cfg.Dispatcher.MaxAttempts,
		InitialInterval: cfg.Dispatcher.InitialBackoff,
		MaxInterval:     cfg.Dispatcher.MaxBackoff,
		DeadLetters:     deadLetters,
		Deduper:         buildDeduper(cfg, &cleanup),
		Logger:          logger,
	})
	relay := notify.NewRelay(st, dispatcher, cfg.Relay.Interval, cfg.Relay.Batch).WithLogger(logger)

	coordinator := acceptance.NewCoordinator(st).WithWaker(relay)
	api := httpapi.NewServer(coordinator, identity.NewVerifier(cfg.JWT.Secret), hub, logger)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.Routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error {
		logger.Printf("listening on %s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.HTTP.ShutdownGrace)
		defer cancel()
		logger.Printf("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// buildStore opens PostgreSQL when a database URL is configured and falls
// back to the in-memory store otherwise.
func buildStore(ctx context.Context, cfg config.Config, cleanup *closers) (store.Store, error) {
	if cfg.Database.URL == "" {
		return store.NewMemory(), nil
	}
	if cfg.Database.MigrateOnStart {
		if err := db.Migrate(cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database pool: %w", err)
	}
	cleanup.add(pool.Close)
	return store.NewPostgres(pool), nil
}

// buildNotifier fans out to every enabled sink. The log sink and the
// websocket hub are always on.
func buildNotifier(cfg config.Config, hub *notify.Hub, logger *log.Logger, cleanup *closers) (notify.Notifier, error) {
	sinks := notify.Fanout{notify.LogNotifier{Logger: logger}, hub}

	if len(cfg.Kafka.Brokers) > 0 {
		k := notify.NewKafkaNotifier(notify.NewKafkaWriter(cfg.Kafka.Brokers), cfg.Kafka.Topic)
		cleanup.add(func() { _ = k.Close() })
		sinks = append(sinks, k)
	}
	if cfg.MQTT.Broker != "" {
		client, err := notify.ConnectMQTT(cfg.MQTT.Broker, cfg.MQTT.ClientID)
		if err != nil {
			return nil, fmt.Errorf("mqtt: %w", err)
		}
		m := notify.NewMQTTNotifier(client, cfg.MQTT.TopicPrefix)
		cleanup.add(m.Close)
		sinks = append(sinks, m)
	}
	return sinks, nil
}

func buildDeduper(cfg config.Config, cleanup *closers) notify.Deduper {
	if cfg.Redis.Addr == "" {
		return notify.NewMemoryDeduper(cfg.Redis.DedupeTTL)
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	cleanup.add(func() { _ = client.Close() })
	return notify.NewRedisDeduper(client, cfg.Redis.DedupeTTL)
}

func buildDeadLetters(cfg config.Config, cleanup *closers) (notify.DeadLetterSink, error) {
	if cfg.DeadLetter.SQLitePath == "" {
		return notify.NewMemoryDeadLetters(), nil
	}
	dl, err := notify.OpenSQLiteDeadLetters(cfg.DeadLetter.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("dead letters: %w", err)
	}
	cleanup.add(func() { _ = dl.Close() })
	return dl, nil
}
