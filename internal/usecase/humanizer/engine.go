package humanizer

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"account-humanizer/internal/domain"
	"account-humanizer/internal/infra/metrics"
)

// Тихие часы: с 01:00 включительно до 07:00 движок не действует.
const (
	quietHourFrom = 1
	quietHourTo   = 7
)

// AccountPool — срез реестра, который нужен движку: снимки и единственная
// разрешённая мутация.
type AccountPool interface {
	Platform() domain.Platform
	List() []domain.Account
	RecordActivity(ctx context.Context, id string, activity domain.AccountActivity) error
}

// ActivitySink принимает записи журнала активности.
type ActivitySink interface {
	Append(ctx context.Context, platform domain.Platform, activityType domain.ActivityType, message string) domain.ActivityLogEntry
}

// Engine — движок гуманизации одной платформы. Владеет собственным
// тик-драйвером: в любой момент активен не более одного, Stop идемпотентен.
type Engine struct {
	pool     AccountPool
	sink     ActivitySink
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	cfg     domain.HumanizationConfig
	rng     *rand.Rand
	now     func() time.Time
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewEngine создаёт остановленный движок.
func NewEngine(pool AccountPool, sink ActivitySink, interval time.Duration, logger zerolog.Logger) *Engine {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Engine{
		pool:     pool,
		sink:     sink,
		interval: interval,
		log:      logger,
		cfg:      domain.DefaultHumanizationConfig(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
}

// Apply применяет конфигурацию и запускает либо останавливает драйвер.
func (e *Engine) Apply(cfg domain.HumanizationConfig) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	if cfg.IsEnabled {
		e.Start()
	} else {
		e.Stop()
	}
}

// Start запускает тик-драйвер, если он ещё не работает.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	stop, done := e.stopCh, e.doneCh
	e.mu.Unlock()

	e.log.Info().Str("platform", string(e.pool.Platform())).Msg("humanizer: движок запущен")
	go e.drive(stop, done)
}

// Stop останавливает драйвер и дожидается завершения текущего тика.
// Повторные вызовы безопасны.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	done := e.doneCh
	e.mu.Unlock()

	<-done
	e.log.Info().Str("platform", string(e.pool.Platform())).Msg("humanizer: движок остановлен")
}

// Running сообщает, активен ли драйвер.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) drive(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.Tick(context.Background())
		}
	}
}

// Tick выполняет один цикл отбора. За тик мутируется не более одного
// аккаунта; тики никогда не выполняются конкурентно (один драйвер).
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	cfg := e.cfg
	now := e.now()
	e.mu.Unlock()

	platform := e.pool.Platform()
	if !cfg.IsEnabled {
		return
	}

	if hour := now.Hour(); hour >= quietHourFrom && hour < quietHourTo {
		metrics.IncEngineTick(string(platform), "quiet_hours")
		return
	}

	eligible := eligibleAccounts(e.pool.List())
	if len(eligible) == 0 {
		metrics.IncEngineTick(string(platform), "empty_pool")
		return
	}

	// Гейт интенсивности: чистый пропуск, без записи в журнал.
	if e.float64() > cfg.Intensity.Probability() {
		metrics.IncEngineTick(string(platform), "gate_skip")
		return
	}

	chosen := eligible[e.intn(len(eligible))]

	if chosen.Status == domain.StatusRestricted || chosen.Status == domain.StatusInactive {
		message := fmt.Sprintf("Account %s is %s. Skipping activity cycle to cool down.", chosen.Phone, chosen.Status)
		e.sink.Append(ctx, platform, domain.ActivityCooldown, message)
		metrics.IncEngineTick(string(platform), "cooldown")
		return
	}

	allowed := allowedActivities(cfg, platform)
	if len(allowed) == 0 {
		metrics.IncEngineTick(string(platform), "no_activities")
		return
	}

	activityType := allowed[e.intn(len(allowed))]

	if domain.IsAIActivity(activityType) && cfg.AIAPIKey == "" {
		message := fmt.Sprintf("AI API Key is not set. Skipping AI-based activity for %s.", chosen.Phone)
		e.sink.Append(ctx, platform, domain.ActivityCooldown, message)
		metrics.IncEngineTick(string(platform), "cooldown")
		return
	}

	message := e.composeMessage(cfg, activityType, chosen, eligible)
	e.sink.Append(ctx, platform, activityType, message)
	if err := e.pool.RecordActivity(ctx, chosen.ID, domain.AccountActivity{
		Type:      activityType,
		Timestamp: now,
		Details:   message,
	}); err != nil {
		e.log.Warn().Err(err).Str("id", chosen.ID).Msg("humanizer: не удалось записать активность")
	}
	metrics.IncEngineTick(string(platform), "activity")
	metrics.IncEngineActivity(string(platform), string(activityType))
}

func (e *Engine) composeMessage(cfg domain.HumanizationConfig, activityType domain.ActivityType, chosen domain.Account, eligible []domain.Account) string {
	persona := ""
	if cfg.SystemInstruction != "" {
		persona = " (using persona)"
	}

	switch activityType {
	case domain.ActivityChat:
		var others []domain.Account
		for _, acc := range eligible {
			if acc.ID != chosen.ID && acc.Status == domain.StatusActive {
				others = append(others, acc)
			}
		}
		if len(others) == 0 {
			return fmt.Sprintf("Account %s tried to chat, but no other active accounts were available.", chosen.Phone)
		}
		target := others[e.intn(len(others))]
		return fmt.Sprintf("Account %s sent a chat to %s.", chosen.Phone, target.Phone)
	case domain.ActivityStatusUpdate:
		return fmt.Sprintf("Account %s posted a new status update%s.", chosen.Phone, persona)
	case domain.ActivityInteractAI:
		return fmt.Sprintf("Account %s interacted with an AI Bot%s.", chosen.Phone, persona)
	case domain.ActivityJoinChannels:
		return fmt.Sprintf("Account %s joined a public channel.", chosen.Phone)
	case domain.ActivityUpdateProfile:
		subject := "bio" + persona
		if e.float64() > 0.5 {
			subject = "profile picture"
		}
		return fmt.Sprintf("Account %s updated its %s.", chosen.Phone, subject)
	}
	return fmt.Sprintf("Account %s performed %s.", chosen.Phone, activityType)
}

func eligibleAccounts(accounts []domain.Account) []domain.Account {
	var out []domain.Account
	for _, acc := range accounts {
		if acc.IsEnabled && acc.IsHumanized {
			out = append(out, acc)
		}
	}
	return out
}

// allowedActivities собирает включённые активности в каноническом порядке
// с учётом платформенных ограничений.
func allowedActivities(cfg domain.HumanizationConfig, platform domain.Platform) []domain.ActivityType {
	traits := domain.TraitsFor(platform)
	var out []domain.ActivityType
	for _, t := range domain.ActivityTypes {
		if !cfg.Activities[t] {
			continue
		}
		if traits.ExcludedActivities[t] {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (e *Engine) float64() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Float64()
}

func (e *Engine) intn(n int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Intn(n)
}
