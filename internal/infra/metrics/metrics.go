package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	EngineTicks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "humanizer_ticks_total",
		Help: "Тики движка гуманизации по исходам",
	}, []string{"platform", "outcome"})

	EngineActivities = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "humanizer_activities_total",
		Help: "Синтетические активности по типам",
	}, []string{"platform", "type"})

	StatusChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "account_status_checks_total",
		Help: "Проверки статуса аккаунтов по результату",
	}, []string{"platform", "status"})

	HandshakeSteps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "login_handshake_steps_total",
		Help: "Шаги логин-хендшейков по исходам",
	}, []string{"platform", "flow", "step", "status"})

	AccountsTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "accounts_total",
		Help: "Количество аккаунтов в реестре",
	}, []string{"platform"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		EngineTicks,
		EngineActivities,
		StatusChecks,
		HandshakeSteps,
		AccountsTotal,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// IncEngineTick увеличивает счётчик тиков движка.
func IncEngineTick(platform, outcome string) {
	EngineTicks.WithLabelValues(platform, outcome).Inc()
}

// IncEngineActivity увеличивает счётчик активностей.
func IncEngineActivity(platform, activityType string) {
	EngineActivities.WithLabelValues(platform, activityType).Inc()
}

// IncStatusCheck увеличивает счётчик проверок статуса.
func IncStatusCheck(platform, status string) {
	StatusChecks.WithLabelValues(platform, status).Inc()
}

// IncHandshakeStep увеличивает счётчик шагов хендшейка.
func IncHandshakeStep(platform, flow, step string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	HandshakeSteps.WithLabelValues(platform, flow, step, status).Inc()
}

// SetAccountsTotal выставляет размер реестра.
func SetAccountsTotal(platform string, n int) {
	AccountsTotal.WithLabelValues(platform).Set(float64(n))
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}
