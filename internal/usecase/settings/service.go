package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"account-humanizer/internal/domain"
)

// ErrUnknownIntensity возвращается при сохранении конфигурации с
// нераспознанной интенсивностью.
var ErrUnknownIntensity = errors.New("неизвестная интенсивность")

// Service хранит настройки гуманизации и учётные данные платформенного API.
// Значения кэшируются в памяти; хранилище — источник при старте и приёмник
// при каждом изменении.
type Service struct {
	mu    sync.Mutex
	cfg   domain.HumanizationConfig
	creds domain.APICredentials

	store domain.Store
	log   zerolog.Logger
}

// NewService загружает настройки из хранилища. Отсутствие или порча данных
// не считается сбоем: берутся значения по умолчанию.
func NewService(ctx context.Context, store domain.Store, logger zerolog.Logger) *Service {
	s := &Service{
		cfg:   domain.DefaultHumanizationConfig(),
		store: store,
		log:   logger,
	}

	if raw, err := store.Load(ctx, domain.StoreKeyHumanization); err == nil {
		var cfg domain.HumanizationConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			logger.Warn().Err(err).Msg("settings: не удалось разобрать конфигурацию гуманизации")
		} else {
			s.cfg = mergeDefaults(cfg)
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		logger.Warn().Err(err).Msg("settings: не удалось загрузить конфигурацию гуманизации")
	}

	if raw, err := store.Load(ctx, domain.StoreKeyCredentials); err == nil {
		var creds domain.APICredentials
		if err := json.Unmarshal(raw, &creds); err != nil {
			logger.Warn().Err(err).Msg("settings: не удалось разобрать учётные данные")
		} else {
			s.creds = creds
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		logger.Warn().Err(err).Msg("settings: не удалось загрузить учётные данные")
	}

	return s
}

// mergeDefaults дополняет загруженную конфигурацию незаполненными полями.
// Новые виды активностей получают дефолтное значение, а не false-пропуск.
func mergeDefaults(cfg domain.HumanizationConfig) domain.HumanizationConfig {
	def := domain.DefaultHumanizationConfig()
	if cfg.Intensity == "" {
		cfg.Intensity = def.Intensity
	}
	if cfg.SystemInstruction == "" {
		cfg.SystemInstruction = def.SystemInstruction
	}
	if cfg.Activities == nil {
		cfg.Activities = def.Activities
		return cfg
	}
	for _, t := range domain.ActivityTypes {
		if _, ok := cfg.Activities[t]; !ok {
			cfg.Activities[t] = def.Activities[t]
		}
	}
	return cfg
}

// Humanization возвращает текущую конфигурацию гуманизации.
func (s *Service) Humanization() domain.HumanizationConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneConfig(s.cfg)
}

// SaveHumanization проверяет и сохраняет конфигурацию гуманизации.
func (s *Service) SaveHumanization(ctx context.Context, cfg domain.HumanizationConfig) (domain.HumanizationConfig, error) {
	switch cfg.Intensity {
	case domain.IntensityLow, domain.IntensityMedium, domain.IntensityHigh:
	case "":
		cfg.Intensity = domain.IntensityMedium
	default:
		return domain.HumanizationConfig{}, fmt.Errorf("%w: %s", ErrUnknownIntensity, cfg.Intensity)
	}
	cfg = mergeDefaults(cfg)

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	s.persist(ctx, domain.StoreKeyHumanization, cfg)
	return cloneConfig(cfg), nil
}

// Credentials возвращает сохранённые учётные данные платформенного API.
func (s *Service) Credentials() domain.APICredentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

// SaveCredentials сохраняет учётные данные платформенного API.
func (s *Service) SaveCredentials(ctx context.Context, creds domain.APICredentials) {
	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()

	s.persist(ctx, domain.StoreKeyCredentials, creds)
}

// persist сохраняет значение best effort: сбой хранилища логируется,
// но не откатывает изменение.
func (s *Service) persist(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("settings: не удалось сериализовать настройки")
		return
	}
	if err := s.store.Save(ctx, key, raw); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("settings: не удалось сохранить настройки")
	}
}

func cloneConfig(cfg domain.HumanizationConfig) domain.HumanizationConfig {
	activities := make(map[domain.ActivityType]bool, len(cfg.Activities))
	for k, v := range cfg.Activities {
		activities[k] = v
	}
	cfg.Activities = activities
	return cfg
}
