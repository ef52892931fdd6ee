package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"strconv"

	"github.com/redis/go-redis/v9"

	"whaleTracker/config"
	"whaleTracker/internal/adapters/binanceclient"
	"whaleTracker/internal/adapters/httpstatus"
	"whaleTracker/internal/adapters/lighter"
	"whaleTracker/internal/adapters/logger"
	"whaleTracker/internal/adapters/pushover"
	"whaleTracker/internal/adapters/redisstore"
	"whaleTracker/internal/adapters/sqlite"
	"whaleTracker/internal/adapters/telegram"
	"whaleTracker/internal/aggregate"
	"whaleTracker/internal/app"
	"whaleTracker/internal/notify"
	"whaleTracker/internal/ports"
	"whaleTracker/internal/tradestore"
)

func main() {
	ctx := context.Background()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})
	account := strconv.FormatInt(cfg.LighterAccountID, 10)

	// 3. Initialize Subscriber Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()
	appLogger.Info(ctx, "Database repository initialized")

	// 4. Initialize Rolling Trade Store
	var store ports.TradeStore
	switch cfg.StoreBackend {
	case config.StoreBackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		redisStore, err := redisstore.New(redisstore.Config{
			Client:    rdb,
			Retention: cfg.TradeRetention,
			Logger:    appLogger,
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize Redis trade store: %v", err)
		}
		if err := redisStore.Ping(ctx); err != nil {
			// Not fatal: store errors are counted and the aggregator retries every tick.
			appLogger.Warn(ctx, "Redis trade store unreachable at startup", map[string]interface{}{"addr": cfg.RedisAddr, "error": err.Error()})
		}
		store = redisStore
	default:
		store = tradestore.NewMemoryStore(tradestore.Config{Retention: cfg.TradeRetention})
	}
	appLogger.Info(ctx, "Trade store initialized", map[string]interface{}{"backend": cfg.StoreBackend, "retention": cfg.TradeRetention.String()})

	// 5. Initialize Delivery Sinks
	broadcaster, err := telegram.New(telegram.Config{
		BaseURL:  cfg.TelegramAPIURL,
		BotToken: cfg.TelegramBotToken,
		ChatID:   cfg.TelegramChannelID,
		Logger:   appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Telegram sink: %v", err)
	}
	pusher, err := pushover.New(pushover.Config{
		BaseURL:  cfg.PushoverAPIURL,
		AppToken: cfg.PushoverAppToken,
		PairURL:  cfg.BinancePairURL,
		Logger:   appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Pushover client: %v", err)
	}

	// 6. Optional reference prices
	var prices ports.PriceReference
	if len(cfg.ReferenceSymbols) > 0 {
		binanceClient, err := binanceclient.New(binanceclient.Config{
			UseTestnet: cfg.BinanceUseTestnet,
			Symbols:    cfg.ReferenceSymbols,
			Logger:     appLogger,
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
		}
		if err := binanceClient.Ping(ctx); err != nil {
			appLogger.Warn(ctx, "Binance reference prices unavailable at startup", map[string]interface{}{"error": err.Error()})
		}
		prices = binanceClient
	}

	// 7. Initialize Notifier and Aggregator
	notifier, err := notify.New(notify.Config{
		Broadcaster: broadcaster,
		Pusher:      pusher,
		Cooldowns:   repo,
		Prices:      prices,
		Logger:      appLogger,
		Cooldown:    cfg.SellCooldown,
		Attempts:    cfg.DeliveryAttempts,
		Concurrency: cfg.PushConcurrency,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize notifier: %v", err)
	}
	aggregator, err := aggregate.New(aggregate.Config{
		Store:     store,
		Publisher: broadcaster,
		Logger:    appLogger,
		Account:   account,
		Interval:  cfg.ReportInterval,
		Attempts:  cfg.DeliveryAttempts,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize aggregator: %v", err)
	}

	// 8. Initialize Application Service
	trackerService, err := app.NewTrackerService(app.Config{
		Logger:        appLogger,
		Store:         store,
		Notifier:      notifier,
		Aggregator:    aggregator,
		Account:       account,
		QueueSize:     cfg.AlertQueueSize,
		ShutdownGrace: cfg.ShutdownGrace,
		HandleSignals: true,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize tracker service")
		log.Fatalf("FATAL: Failed to initialize tracker service: %v", err)
	}

	// 9. Initialize Feed Client (Lighter Adapter)
	feed, err := lighter.New(lighter.Config{
		URL:              cfg.LighterWSURL,
		AccountID:        cfg.LighterAccountID,
		AuthToken:        cfg.LighterAuthToken,
		Logger:           appLogger,
		Handler:          trackerService,
		BaseDelay:        cfg.ReconnectBaseDelay,
		MaxDelay:         cfg.ReconnectMaxDelay,
		SubscribeTimeout: cfg.SubscribeTimeout,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		MaxConnectionAge: cfg.MaxConnectionAge,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Lighter client")
		log.Fatalf("FATAL: Failed to initialize Lighter client: %v", err)
	}

	var runners []app.Runner
	if cfg.StatusAddr != "" {
		statusServer, err := httpstatus.New(httpstatus.Config{
			Addr:   cfg.StatusAddr,
			Source: trackerService,
			Logger: appLogger,
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize status server: %v", err)
		}
		runners = append(runners, statusServer)
	}

	// 10. Start the Service
	if err := trackerService.Start(ctx, feed, runners...); err != nil {
		appLogger.Error(ctx, err, "Tracker service exited with error")
		log.Fatalf("FATAL: Tracker service exited with error: %v", err)
	}

	appLogger.Info(ctx, "Application finished gracefully.")
}
