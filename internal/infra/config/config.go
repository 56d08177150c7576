package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервиса.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsPort int    `envconfig:"METRICS_PORT" default:"9090"`
	APIToken    string `envconfig:"API_TOKEN"`

	// StoreBackend: redis | postgres | memory.
	StoreBackend string `envconfig:"STORE_BACKEND" default:"memory"`
	RedisAddr    string `envconfig:"REDIS_ADDR"`
	PGDSN        string `envconfig:"PG_DSN"`

	AMQP struct {
		URL      string `envconfig:"AMQP_URL"`
		Exchange string `envconfig:"AMQP_ACTIVITY_EXCHANGE" default:"activity_log"`
	} `envconfig:""`

	Notifier struct {
		BotToken    string `envconfig:"TG_BOT_TOKEN"`
		AdminChatID int64  `envconfig:"TG_ADMIN_CHAT_ID"`
	} `envconfig:""`

	Engine struct {
		TickInterval time.Duration `envconfig:"ENGINE_TICK_INTERVAL" default:"5s"`
	} `envconfig:""`

	Simulation struct {
		Latency time.Duration `envconfig:"SIMULATION_LATENCY" default:"1500ms"`
	} `envconfig:""`

	AI struct {
		BaseURL string        `envconfig:"AI_BASE_URL"`
		Timeout time.Duration `envconfig:"AI_TIMEOUT" default:"10s"`
	} `envconfig:""`

	Jobs struct {
		UsageResetSpec  string `envconfig:"USAGE_RESET_CRON" default:"0 0 * * *"`
		StatusSweepSpec string `envconfig:"STATUS_SWEEP_CRON" default:"@every 6h"`
	} `envconfig:""`

	SeedDemoData bool `envconfig:"SEED_DEMO_DATA" default:"false"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
