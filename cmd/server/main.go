package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/match-engine/internal/config"
	"github.com/match-engine/internal/domain"
	"github.com/match-engine/internal/handler"
	"github.com/match-engine/internal/kafka"
	"github.com/match-engine/internal/memory"
	"github.com/match-engine/internal/metrics"
	"github.com/match-engine/internal/postgres"
	"github.com/match-engine/internal/presence"
	"github.com/match-engine/internal/redis"
	"github.com/match-engine/internal/service"
	"github.com/match-engine/internal/websocket"
	"github.com/match-engine/internal/worker"
)

// store is what the services and readiness check need from the backing store
type store interface {
	service.Store
	Ping(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// A missing .env is normal outside local development
	_ = godotenv.Load()

	level := slog.LevelInfo
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if err := level.UnmarshalText([]byte(raw)); err != nil {
			level = slog.LevelInfo
		}
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	// Authoritative store
	var st store
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		st = memory.NewStore()
	default:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(ctx, &cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer repo.Close()
		logger.Info("connected to PostgreSQL")

		if err := repo.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		st = repo
	}

	broadcaster := service.NewBroadcaster(m, logger)

	// Redis is optional: it relays events and presence between instances
	var (
		eventBus      *redis.EventBus
		presenceStore *redis.PresenceStore
	)
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		client, err := redis.NewClient(ctx, &cfg.Redis, logger)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		logger.Info("connected to Redis")

		eventBus = redis.NewEventBus(client, logger)
		presenceStore = redis.NewPresenceStore(client, cfg.Presence.Channel, cfg.Presence.OfflineAfter, logger)
		broadcaster.Add(service.Sink{Name: "redis", Publisher: eventBus})
	}

	var tracker *presence.Tracker
	if presenceStore != nil {
		tracker = presence.NewTracker(&cfg.Presence, presenceStore, logger)
	} else {
		tracker = presence.NewTracker(&cfg.Presence, nil, logger)
	}

	// Services
	matchService := service.NewMatchService(st, broadcaster, &cfg.Rating, m, logger)
	challengeService := service.NewChallengeService(st, matchService, &cfg.Challenge, m, logger)
	playerService := service.NewPlayerService(st, tracker, &cfg.Matchmaking, m, logger)

	// WebSocket hub
	wsHub := websocket.NewHub(matchService, tracker, m, logger)
	go wsHub.Run()
	broadcaster.Add(service.Sink{Name: "websocket", Publisher: wsHub})
	logger.Info("WebSocket hub initialized")

	if eventBus != nil {
		go func() {
			err := eventBus.Relay(ctx, func(event domain.MatchEvent) {
				if err := wsHub.Publish(ctx, event); err != nil {
					logger.Warn("failed to deliver relayed event", "match_id", event.MatchID, "error", err)
				}
			})
			if err != nil {
				logger.Error("match event relay stopped", "error", err)
			}
		}()
	}
	if presenceStore != nil {
		go func() {
			if err := presenceStore.Listen(ctx, tracker.Apply); err != nil {
				logger.Error("presence listener stopped", "error", err)
			}
		}()
	}

	// Kafka is optional: set results in, match events out
	var (
		kafkaConsumer      *kafka.Consumer
		eventProducer      *kafka.EventProducer
		deadLetterProducer *kafka.DeadLetterProducer
	)
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka",
			"brokers", cfg.Kafka.Brokers,
			"sets_topic", cfg.Kafka.SetsTopic,
			"events_topic", cfg.Kafka.EventsTopic,
			"dead_letter_topic", cfg.Kafka.DeadLetterTopic,
		)

		eventProducer, err = kafka.NewEventProducer(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka producer, continuing without event stream", "error", err)
		} else {
			broadcaster.Add(service.Sink{Name: "kafka", Publisher: eventProducer})
		}

		var deadLetters kafka.DeadLetterSink
		deadLetterProducer, err = kafka.NewDeadLetterProducer(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka dead-letter producer, refused set results are only logged", "error", err)
		} else {
			deadLetters = deadLetterProducer
		}

		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, matchService, deadLetters, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka ingest", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka ingest", "error", err)
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}
	}

	// Rating worker
	ratingWorker := worker.NewRatingWorker(matchService, &cfg.Worker, logger)
	if cfg.Worker.Enabled {
		if err := ratingWorker.Start(ctx); err != nil {
			logger.Error("failed to start rating worker", "error", err)
			os.Exit(1)
		}
	}

	httpHandler := handler.NewHandler(handler.Services{
		Matches:    matchService,
		Players:    playerService,
		Challenges: challengeService,
	}, wsHub, st, registry, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port, "storage", cfg.Storage.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if err := ratingWorker.Stop(); err != nil {
		logger.Error("failed to stop rating worker", "error", err)
	}

	wsHub.Stop()
	tracker.Wait()
	cancel()

	if eventProducer != nil {
		if err := eventProducer.Close(); err != nil {
			logger.Error("failed to close Kafka producer", "error", err)
		}
	}
	if deadLetterProducer != nil {
		if err := deadLetterProducer.Close(); err != nil {
			logger.Error("failed to close Kafka dead-letter producer", "error", err)
		}
	}

	logger.Info("server stopped")
}
