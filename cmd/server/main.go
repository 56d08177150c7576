package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"account-humanizer/internal/adapters/ai"
	"account-humanizer/internal/adapters/events"
	"account-humanizer/internal/adapters/notifier"
	"account-humanizer/internal/adapters/remote"
	"account-humanizer/internal/adapters/store"
	"account-humanizer/internal/api"
	"account-humanizer/internal/domain"
	"account-humanizer/internal/infra/config"
	"account-humanizer/internal/infra/db"
	httpinfra "account-humanizer/internal/infra/http"
	applog "account-humanizer/internal/infra/log"
	"account-humanizer/internal/infra/metrics"
	"account-humanizer/internal/usecase/activity"
	"account-humanizer/internal/usecase/humanizer"
	"account-humanizer/internal/usecase/registry"
	"account-humanizer/internal/usecase/settings"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger, fmt.Sprintf(":%d", cfg.MetricsPort))

	kv, closeStore := buildStore(ctx, cfg, logger)
	defer closeStore()

	var publisher domain.ActivityPublisher
	if cfg.AMQP.URL != "" {
		rmq, err := events.NewRabbitMQ(cfg.AMQP.URL, cfg.AMQP.Exchange, logger.With().Str("component", "events").Logger())
		if err != nil {
			logger.Fatal().Err(err).Msg("server: нет подключения к rabbitmq")
		}
		defer rmq.Close()
		publisher = rmq
	}

	var statusNotifier domain.StatusNotifier
	if cfg.Notifier.BotToken != "" && cfg.Notifier.AdminChatID != 0 {
		tg, err := notifier.NewTelegram(cfg.Notifier.BotToken, cfg.Notifier.AdminChatID, logger.With().Str("component", "notifier").Logger())
		if err != nil {
			logger.Fatal().Err(err).Msg("server: не удалось создать нотификатор")
		}
		statusNotifier = tg
	}

	remoteSvc := remote.NewSimulated(cfg.Simulation.Latency, logger.With().Str("component", "remote").Logger())

	tgRegistry := registry.NewService(domain.PlatformTelegram, kv, remoteSvc, statusNotifier, logger.With().Str("component", "registry_tg").Logger())
	waRegistry := registry.NewService(domain.PlatformWhatsApp, kv, remoteSvc, statusNotifier, logger.With().Str("component", "registry_wa").Logger())
	registries := []*registry.Service{tgRegistry, waRegistry}

	if cfg.SeedDemoData {
		tgRegistry.Restore(ctx, seedTelegramAccounts())
		waRegistry.Restore(ctx, seedWhatsAppAccounts())
	}

	activityLog := activity.NewLog(kv, publisher, logger.With().Str("component", "activity").Logger())
	settingsSvc := settings.NewService(ctx, kv, logger.With().Str("component", "settings").Logger())

	tgEngine := humanizer.NewEngine(tgRegistry, activityLog, cfg.Engine.TickInterval, logger.With().Str("component", "engine_tg").Logger())
	waEngine := humanizer.NewEngine(waRegistry, activityLog, cfg.Engine.TickInterval, logger.With().Str("component", "engine_wa").Logger())
	engines := []*humanizer.Engine{tgEngine, waEngine}

	humanCfg := settingsSvc.Humanization()
	for _, engine := range engines {
		engine.Apply(humanCfg)
	}
	defer func() {
		for _, engine := range engines {
			engine.Stop()
		}
	}()

	var aiTester api.AITester = remoteSvc
	if cfg.AI.BaseURL != "" {
		aiTester = ai.NewClient(cfg.AI.BaseURL, cfg.AI.Timeout)
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Jobs.UsageResetSpec, func() {
		for _, reg := range registries {
			reg.ResetDailyUsage(context.Background())
		}
	}); err != nil {
		logger.Fatal().Err(err).Msg("server: неверное расписание сброса счётчиков")
	}
	if _, err := scheduler.AddFunc(cfg.Jobs.StatusSweepSpec, func() {
		sweepStatuses(registries, logger)
	}); err != nil {
		logger.Fatal().Err(err).Msg("server: неверное расписание проверки статусов")
	}
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(map[domain.Platform]api.PlatformDeps{
		domain.PlatformTelegram: {Registry: tgRegistry, Engine: tgEngine},
		domain.PlatformWhatsApp: {Registry: waRegistry, Engine: waEngine},
	}, remoteSvc, activityLog, settingsSvc, aiTester, logger.With().Str("component", "api").Logger())

	srv := httpinfra.NewServer(logger)
	srv.Router.Use(httpinfra.TokenAuthMiddleware(cfg.APIToken))
	handler.Mount(srv.Router)

	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server: HTTP сервер упал")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("server: получен сигнал остановки")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server: не удалось корректно остановить HTTP сервер")
	}
}

// buildStore выбирает бэкенд хранилища по конфигурации.
func buildStore(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (domain.Store, func()) {
	switch cfg.StoreBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("server: нет подключения к redis")
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("server: хранилище redis")
		return store.NewRedis(client), func() { _ = client.Close() }
	case "postgres":
		pool, err := db.Connect(cfg.PGDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("server: нет подключения к postgres")
		}
		logger.Info().Msg("server: хранилище postgres")
		return store.NewPostgres(pool), pool.Close
	default:
		logger.Info().Msg("server: хранилище в памяти")
		return store.NewMemory(), func() {}
	}
}

// sweepStatuses перепроверяет все аккаунты последовательно.
func sweepStatuses(registries []*registry.Service, logger zerolog.Logger) {
	for _, reg := range registries {
		for _, account := range reg.List() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := reg.RefreshStatus(ctx, account.ID); err != nil {
				logger.Warn().Err(err).Str("id", account.ID).Msg("server: проверка статуса при обходе не удалась")
			}
			cancel()
		}
	}
}

// Демо-наборы для пустого хранилища.
func seedTelegramAccounts() []domain.Account {
	now := time.Now()
	return []domain.Account{
		{ID: uuid.NewString(), Phone: "+1234567890", Platform: domain.PlatformTelegram, Status: domain.StatusActive, IsEnabled: true, IsHumanized: true, DailyUsage: 750, DailyLimit: 3000, CreatedAt: now, UpdatedAt: now},
		{ID: uuid.NewString(), Phone: "+628123456789", Platform: domain.PlatformTelegram, Status: domain.StatusInactive, IsEnabled: true, IsHumanized: false, DailyUsage: 2800, DailyLimit: 3000, Proxy: &domain.Proxy{Protocol: domain.ProxySOCKS5, Hostname: "proxy.example.com", Port: "1080", Username: "user123"}, ErrorContext: domain.ProxyErrAuthFailed, CreatedAt: now, UpdatedAt: now},
		{ID: uuid.NewString(), Phone: "+998901234567", Platform: domain.PlatformTelegram, Status: domain.StatusRestricted, IsEnabled: true, IsHumanized: true, DailyUsage: 1950, DailyLimit: 2000, CreatedAt: now, UpdatedAt: now},
		{ID: uuid.NewString(), Phone: "+447123456789", Platform: domain.PlatformTelegram, Status: domain.StatusActive, IsEnabled: false, IsHumanized: true, DailyUsage: 250, DailyLimit: 5000, CreatedAt: now, UpdatedAt: now},
	}
}

func seedWhatsAppAccounts() []domain.Account {
	now := time.Now()
	return []domain.Account{
		{ID: uuid.NewString(), Phone: "+6289876543210", Platform: domain.PlatformWhatsApp, Status: domain.StatusActive, IsEnabled: true, IsHumanized: true, DailyUsage: 1200, DailyLimit: 2500, CreatedAt: now, UpdatedAt: now},
		{ID: uuid.NewString(), Phone: "+19876543210", Platform: domain.PlatformWhatsApp, Status: domain.StatusInactive, IsEnabled: true, IsHumanized: true, DailyUsage: 300, DailyLimit: 1500, Proxy: &domain.Proxy{Protocol: domain.ProxyHTTP, Hostname: "wa-proxy.net", Port: "8080", Username: "wa-user"}, ErrorContext: domain.ProxyErrTimeout, CreatedAt: now, UpdatedAt: now},
	}
}
