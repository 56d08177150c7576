package humanizer

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"account-humanizer/internal/domain"
)

// scriptedSource отдаёт заранее заданные значения Int63; последнее
// значение повторяется. rand.Float64 ~ value / 2^63.
type scriptedSource struct {
	values []int64
	idx    int
}

func (s *scriptedSource) Int63() int64 {
	if s.idx < len(s.values) {
		v := s.values[s.idx]
		s.idx++
		return v
	}
	if len(s.values) == 0 {
		return 0
	}
	return s.values[len(s.values)-1]
}

func (s *scriptedSource) Seed(int64) {}

const halfInt63 = int64(1) << 62 // Float64 ≈ 0.5

type fakePool struct {
	platform domain.Platform
	accounts []domain.Account
	recorded []domain.AccountActivity
	ids      []string
}

func (p *fakePool) Platform() domain.Platform { return p.platform }
func (p *fakePool) List() []domain.Account {
	return append([]domain.Account(nil), p.accounts...)
}
func (p *fakePool) RecordActivity(_ context.Context, id string, activity domain.AccountActivity) error {
	p.recorded = append(p.recorded, activity)
	p.ids = append(p.ids, id)
	return nil
}

type fakeSink struct {
	entries []domain.ActivityLogEntry
}

func (s *fakeSink) Append(_ context.Context, platform domain.Platform, activityType domain.ActivityType, message string) domain.ActivityLogEntry {
	entry := domain.ActivityLogEntry{Platform: platform, ActivityType: activityType, Message: message}
	s.entries = append(s.entries, entry)
	return entry
}

func activeAccount(id, phone string) domain.Account {
	return domain.Account{
		ID: id, Phone: phone, Platform: domain.PlatformTelegram,
		Status: domain.StatusActive, IsEnabled: true, IsHumanized: true,
	}
}

func newTestEngine(pool *fakePool, sink *fakeSink, cfg domain.HumanizationConfig, script ...int64) *Engine {
	e := NewEngine(pool, sink, time.Second, zerolog.Nop())
	e.cfg = cfg
	e.rng = rand.New(&scriptedSource{values: script})
	e.now = func() time.Time {
		return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	}
	return e
}

func enabledConfig() domain.HumanizationConfig {
	cfg := domain.DefaultHumanizationConfig()
	cfg.IsEnabled = true
	cfg.AIAPIKey = "key-1234567890"
	return cfg
}

func TestTickQuietHours(t *testing.T) {
	pool := &fakePool{platform: domain.PlatformTelegram, accounts: []domain.Account{activeAccount("1", "+100")}}
	sink := &fakeSink{}
	e := newTestEngine(pool, sink, enabledConfig(), 0)
	e.now = func() time.Time {
		return time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)
	}

	e.Tick(context.Background())
	if len(sink.entries) != 0 || len(pool.recorded) != 0 {
		t.Fatalf("в тихие часы движок обязан бездействовать")
	}
}

func TestTickDisabledConfig(t *testing.T) {
	pool := &fakePool{platform: domain.PlatformTelegram, accounts: []domain.Account{activeAccount("1", "+100")}}
	sink := &fakeSink{}
	cfg := enabledConfig()
	cfg.IsEnabled = false
	e := newTestEngine(pool, sink, cfg, 0)

	e.Tick(context.Background())
	if len(sink.entries) != 0 || len(pool.recorded) != 0 {
		t.Fatalf("выключенный движок не должен ничего делать")
	}
}

func TestTickIntensityGateSkip(t *testing.T) {
	pool := &fakePool{platform: domain.PlatformTelegram, accounts: []domain.Account{activeAccount("1", "+100")}}
	sink := &fakeSink{}
	cfg := enabledConfig()
	cfg.Intensity = domain.IntensityLow
	// Первый бросок ~0.5 > 0.10: чистый пропуск без записи.
	e := newTestEngine(pool, sink, cfg, halfInt63)

	e.Tick(context.Background())
	if len(sink.entries) != 0 {
		t.Fatalf("гейт интенсивности не должен оставлять записей в журнале")
	}
}

func TestTickEmptyPool(t *testing.T) {
	pool := &fakePool{platform: domain.PlatformTelegram, accounts: []domain.Account{
		{ID: "1", Phone: "+100", Status: domain.StatusActive, IsEnabled: false, IsHumanized: true},
		{ID: "2", Phone: "+200", Status: domain.StatusActive, IsEnabled: true, IsHumanized: false},
	}}
	sink := &fakeSink{}
	e := newTestEngine(pool, sink, enabledConfig(), 0)

	e.Tick(context.Background())
	if len(sink.entries) != 0 || len(pool.recorded) != 0 {
		t.Fatalf("без подходящих аккаунтов тик должен быть no-op")
	}
}

func TestTickCooldownOnRestricted(t *testing.T) {
	acc := activeAccount("1", "+100")
	acc.Status = domain.StatusRestricted
	pool := &fakePool{platform: domain.PlatformTelegram, accounts: []domain.Account{acc}}
	sink := &fakeSink{}
	e := newTestEngine(pool, sink, enabledConfig(), 0)

	e.Tick(context.Background())
	if len(sink.entries) != 1 {
		t.Fatalf("ожидали одну cooldown-запись, получили %d", len(sink.entries))
	}
	if sink.entries[0].ActivityType != domain.ActivityCooldown {
		t.Fatalf("ожидали cooldown, получили %s", sink.entries[0].ActivityType)
	}
	if len(pool.recorded) != 0 {
		t.Fatalf("cooldown не должен мутировать аккаунт")
	}
}

func TestTickAIGate(t *testing.T) {
	pool := &fakePool{platform: domain.PlatformTelegram, accounts: []domain.Account{activeAccount("1", "+100")}}
	sink := &fakeSink{}
	cfg := enabledConfig()
	cfg.AIAPIKey = ""
	cfg.Activities = map[domain.ActivityType]bool{domain.ActivityStatusUpdate: true}
	e := newTestEngine(pool, sink, cfg, 0)

	e.Tick(context.Background())
	if len(sink.entries) != 1 || sink.entries[0].ActivityType != domain.ActivityCooldown {
		t.Fatalf("без AI-ключа ожидали cooldown-запись")
	}
	if len(pool.recorded) != 0 {
		t.Fatalf("пропуск по AI-ключу не должен мутировать аккаунт")
	}
}

func TestTickChatFallback(t *testing.T) {
	pool := &fakePool{platform: domain.PlatformTelegram, accounts: []domain.Account{activeAccount("1", "+100")}}
	sink := &fakeSink{}
	cfg := enabledConfig()
	cfg.Activities = map[domain.ActivityType]bool{domain.ActivityChat: true}
	e := newTestEngine(pool, sink, cfg, 0)

	e.Tick(context.Background())
	if len(sink.entries) != 1 {
		t.Fatalf("ожидали одну запись, получили %d", len(sink.entries))
	}
	want := "Account +100 tried to chat, but no other active accounts were available."
	if sink.entries[0].Message != want {
		t.Fatalf("ожидали fallback-сообщение, получили %q", sink.entries[0].Message)
	}
	if len(pool.recorded) != 1 || pool.ids[0] != "1" {
		t.Fatalf("lastActivity должен записаться на выбранный аккаунт")
	}
	if pool.recorded[0].Type != domain.ActivityChat {
		t.Fatalf("тип активности должен быть chat")
	}
}

func TestTickChatWithTarget(t *testing.T) {
	pool := &fakePool{platform: domain.PlatformTelegram, accounts: []domain.Account{
		activeAccount("1", "+100"),
		activeAccount("2", "+200"),
	}}
	sink := &fakeSink{}
	cfg := enabledConfig()
	cfg.Activities = map[domain.ActivityType]bool{domain.ActivityChat: true}
	e := newTestEngine(pool, sink, cfg, 0)

	e.Tick(context.Background())
	want := "Account +100 sent a chat to +200."
	if sink.entries[0].Message != want {
		t.Fatalf("ожидали %q, получили %q", want, sink.entries[0].Message)
	}
	if len(pool.recorded) != 1 {
		t.Fatalf("за тик мутируется ровно один аккаунт, получили %d", len(pool.recorded))
	}
}

func TestTickWhatsAppExcludesJoinChannels(t *testing.T) {
	acc := activeAccount("1", "+100")
	acc.Platform = domain.PlatformWhatsApp
	pool := &fakePool{platform: domain.PlatformWhatsApp, accounts: []domain.Account{acc}}
	sink := &fakeSink{}
	cfg := enabledConfig()
	cfg.Activities = map[domain.ActivityType]bool{domain.ActivityJoinChannels: true}
	e := newTestEngine(pool, sink, cfg, 0)

	e.Tick(context.Background())
	if len(sink.entries) != 0 || len(pool.recorded) != 0 {
		t.Fatalf("joinChannels недоступна WhatsApp, тик должен быть no-op")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	pool := &fakePool{platform: domain.PlatformTelegram}
	e := NewEngine(pool, &fakeSink{}, time.Hour, zerolog.Nop())

	e.Start()
	e.Start()
	if !e.Running() {
		t.Fatalf("движок должен работать после Start")
	}
	e.Stop()
	e.Stop()
	if e.Running() {
		t.Fatalf("движок должен остановиться после Stop")
	}
}

func TestApplyControlsDriver(t *testing.T) {
	pool := &fakePool{platform: domain.PlatformTelegram}
	e := NewEngine(pool, &fakeSink{}, time.Hour, zerolog.Nop())

	cfg := enabledConfig()
	e.Apply(cfg)
	if !e.Running() {
		t.Fatalf("включённая конфигурация должна запустить драйвер")
	}
	cfg.IsEnabled = false
	e.Apply(cfg)
	if e.Running() {
		t.Fatalf("выключенная конфигурация должна остановить драйвер")
	}
	e.Apply(cfg)
	if e.Running() {
		t.Fatalf("повторное выключение должно быть безопасно")
	}
}
