package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/config"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/api"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/auth"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/cache"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/database"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/events"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/feed"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/learning"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/lessons"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/logging"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/notification"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/overrides"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/patterns"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/posture"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/trend"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/vault"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(cfg.LoggingConfig)
	logger.Info().
		Str("level", cfg.LoggingConfig.Level).
		Int("port", cfg.ServerConfig.Port).
		Msg("Lotus Trader starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Vault fills credential fields the environment left empty
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create vault client")
	}
	if vaultClient.IsEnabled() {
		if err := vaultClient.Health(ctx); err != nil {
			logger.Warn().Err(err).Msg("Vault health check failed")
		}
		if err := vaultClient.Overlay(ctx, cfg); err != nil {
			logger.Fatal().Err(err).Msg("Failed to overlay secrets from vault")
		}
		logger.Info().Str("address", cfg.VaultConfig.Address).Msg("Vault secrets loaded")
	}

	// Initialize event bus
	eventBus := events.NewEventBus()

	// Initialize database
	db, err := database.NewDB(cfg.DatabaseConfig, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	repo := database.NewRepository(db, logger)

	// Engine state persistence across restarts (optional)
	var states trend.StateRepository
	var engineState *database.RedisEngineStateRepository
	if cfg.RedisConfig.Enabled {
		redisClient := database.NewRedisClient(cfg.RedisConfig)
		engineState = database.NewRedisEngineStateRepository(redisClient, logger)
		states = engineState
		logger.Info().Str("address", cfg.RedisConfig.Address).Msg("Redis engine state persistence enabled")
	}

	// Threshold cache over the persisted defaults, bridged into the gates
	thresholdCache, err := cache.NewThresholdCache(repo, cfg.ThresholdConfig, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize threshold cache")
	}
	thresholdSource := cache.NewSource(thresholdCache)

	// Trend engine with pattern recording
	recorder := patterns.NewRecorder(repo, logger)
	manager := trend.NewManager(cfg.EngineConfig, thresholdSource, recorder, states, eventBus, logger)

	// Episode resolver grades pending trade episodes against later bars
	resolver := patterns.NewEpisodeResolver(repo, manager, patterns.ResolverConfig{
		HorizonBars: cfg.EngineConfig.ResolveHorizon,
		MovePct:     cfg.EngineConfig.ResolveMovePct,
		Interval:    cfg.MiningConfig.EpisodeResolveInterval,
	}, logger)
	go resolver.Run(ctx)

	// Posture calculator
	calculator := posture.NewCalculator(repo, cfg.PostureConfig, logger)

	// Learning loop: mine lessons, materialize overrides
	miner := lessons.NewMiner(repo, repo, cfg.MiningConfig, logger)
	materializer := overrides.NewMaterializer(repo, repo, cfg.MiningConfig, logger)
	loop := learning.NewLoop(miner, materializer, eventBus, cfg.MiningConfig.Interval, logger)
	go loop.Run(ctx)

	var learningAPI api.LearningAPI = loop

	// Bar feed (optional)
	var consumer *feed.BarConsumer
	var dispatcher *feed.Dispatcher
	if cfg.KafkaConfig.Enabled {
		dispatcher = feed.NewDispatcher(manager, 0, logger)
		consumer = feed.NewBarConsumer(cfg.KafkaConfig, dispatcher, logger)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("Bar consumer stopped")
			}
		}()
		logger.Info().
			Strs("brokers", cfg.KafkaConfig.Brokers).
			Str("topic", cfg.KafkaConfig.Topic).
			Msg("Kafka bar feed enabled")
	} else {
		logger.Warn().Msg("Kafka feed disabled, bars only arrive via tooling")
	}

	// Auth (optional)
	var authService *auth.Service
	if cfg.AuthConfig.Enabled {
		authService, err = auth.NewService(cfg.AuthConfig, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize auth service")
		}
		logger.Info().Str("admin_user", cfg.AuthConfig.AdminUser).Msg("API authentication enabled")
	} else {
		logger.Warn().Msg("API authentication disabled")
	}

	// Notifications (optional)
	if cfg.NotificationConfig.Enabled {
		notifier := notification.NewManager(true)
		if cfg.NotificationConfig.Telegram.Enabled {
			notifier.AddNotifier(notification.NewTelegramNotifier(cfg.NotificationConfig.Telegram))
			logger.Info().Msg("Telegram notifications enabled")
		}
		if cfg.NotificationConfig.Discord.Enabled {
			notifier.AddNotifier(notification.NewDiscordNotifier(cfg.NotificationConfig.Discord))
			logger.Info().Msg("Discord notifications enabled")
		}
		wireNotifications(eventBus, notifier, logger)
	}

	// Initialize API server
	server := api.NewServer(
		cfg.ServerConfig,
		manager,
		calculator,
		thresholdCache,
		learningAPI,
		repo,
		engineState,
		consumer,
		eventBus,
		authService,
		logger,
	)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start API server")
		}
	}()

	logger.Info().
		Str("host", cfg.ServerConfig.Host).
		Int("port", cfg.ServerConfig.Port).
		Msg("Lotus Trader running")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down API server")
	}

	cancel()
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing bar consumer")
		}
	}
	if dispatcher != nil {
		dispatcher.Close()
	}

	logger.Info().Msg("Shutdown complete")
}

// wireNotifications relays operator-facing bus events to the notification channels.
func wireNotifications(bus *events.EventBus, notifier *notification.Manager, logger zerolog.Logger) {
	bus.Subscribe(events.EventStateTransition, func(ev events.Event) {
		position, _ := ev.Data["position"].(string)
		from, _ := ev.Data["from"].(string)
		to, _ := ev.Data["to"].(string)
		price, _ := ev.Data["price"].(float64)
		if err := notifier.SendTransition(position, from, to, price); err != nil {
			logger.Warn().Err(err).Str("position", position).Msg("Failed to send transition notification")
		}
	})

	bus.Subscribe(events.EventActionIntent, func(ev events.Event) {
		position, _ := ev.Data["position"].(string)
		patternKey, _ := ev.Data["pattern_key"].(string)
		action, _ := ev.Data["action"].(string)
		price, _ := ev.Data["price"].(float64)
		strength, _ := ev.Data["strength"].(float64)
		if err := notifier.SendIntent(position, patternKey, action, price, strength); err != nil {
			logger.Warn().Err(err).Str("position", position).Msg("Failed to send intent notification")
		}
	})

	// Materialization is the terminal event of a successful learning cycle
	bus.Subscribe(events.EventOverridesMaterialized, func(ev events.Event) {
		generation, _ := ev.Data["generation"].(int64)
		written, _ := ev.Data["written"].(int)
		touched, _ := ev.Data["touched"].(int)
		retired, _ := ev.Data["retired"].(int64)
		if err := notifier.SendLearningCycle(generation, written, touched, retired); err != nil {
			logger.Warn().Err(err).Int64("generation", generation).Msg("Failed to send learning notification")
		}
	})

	bus.Subscribe(events.EventError, func(ev events.Event) {
		source, _ := ev.Data["source"].(string)
		message, _ := ev.Data["message"].(string)
		if err := notifier.SendError(source, message); err != nil {
			logger.Warn().Err(err).Str("source", source).Msg("Failed to send error notification")
		}
	})
}
