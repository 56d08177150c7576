package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"account-humanizer/internal/domain"
	"account-humanizer/internal/infra/metrics"
)

// ErrDuplicatePhone возвращается при создании аккаунта с занятым номером.
var ErrDuplicatePhone = errors.New("аккаунт с таким номером уже существует")

// ErrAccountNotFound возвращается, если аккаунт не найден в реестре.
var ErrAccountNotFound = errors.New("аккаунт не найден")

// ErrInvalidDailyLimit возвращается при попытке выставить лимит <= 0.
var ErrInvalidDailyLimit = errors.New("дневной лимит должен быть больше нуля")

// ErrIncompleteProxy возвращается, если у прокси нет hostname или port.
var ErrIncompleteProxy = errors.New("для прокси обязательны hostname и port")

// Service — единственный владелец набора аккаунтов одной платформы.
// Все мутации сериализуются мьютексом; каждая мутация целиком
// сохраняет набор во внешнее хранилище (best effort).
type Service struct {
	mu       sync.Mutex
	platform domain.Platform
	accounts []domain.Account
	store    domain.Store
	remote   domain.RemoteAccountService
	notifier domain.StatusNotifier
	log      zerolog.Logger
	now      func() time.Time
}

// NewService создаёт реестр и загружает набор из хранилища.
// Ошибка загрузки означает «начать с пустого набора».
func NewService(platform domain.Platform, store domain.Store, remote domain.RemoteAccountService, notifier domain.StatusNotifier, logger zerolog.Logger) *Service {
	s := &Service{
		platform: platform,
		store:    store,
		remote:   remote,
		notifier: notifier,
		log:      logger,
		now:      time.Now,
	}
	s.loadFromStore()
	return s
}

func (s *Service) loadFromStore() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	raw, err := s.store.Load(ctx, domain.StoreKeyAccounts(s.platform))
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.Warn().Err(err).Msg("registry: не удалось загрузить аккаунты, старт с пустого набора")
		}
		return
	}
	var accounts []domain.Account
	if err := json.Unmarshal(raw, &accounts); err != nil {
		s.log.Warn().Err(err).Msg("registry: повреждённый набор аккаунтов, старт с пустого набора")
		return
	}
	s.accounts = accounts
	metrics.SetAccountsTotal(string(s.platform), len(accounts))
}

// persist сохраняет полный набор; ошибки сохранения только логируются.
// Вызывать под мьютексом.
func (s *Service) persist() {
	raw, err := json.Marshal(s.accounts)
	if err != nil {
		s.log.Error().Err(err).Msg("registry: не удалось сериализовать аккаунты")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Save(ctx, domain.StoreKeyAccounts(s.platform), raw); err != nil {
		s.log.Warn().Err(err).Msg("registry: не удалось сохранить аккаунты")
	}
	metrics.SetAccountsTotal(string(s.platform), len(s.accounts))
}

func (s *Service) indexOf(id string) int {
	for i := range s.accounts {
		if s.accounts[i].ID == id {
			return i
		}
	}
	return -1
}

// Platform возвращает платформу реестра.
func (s *Service) Platform() domain.Platform {
	return s.platform
}

// List возвращает снимок набора аккаунтов.
func (s *Service) List() []domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Account(nil), s.accounts...)
}

// Get возвращает аккаунт по идентификатору.
func (s *Service) Get(id string) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return domain.Account{}, ErrAccountNotFound
	}
	return s.accounts[idx], nil
}

// normalizeProxy проверяет прокси и приводит «пустой» к nil.
func normalizeProxy(proxy *domain.Proxy) (*domain.Proxy, error) {
	if !proxy.Configured() {
		return nil, nil
	}
	if !proxy.Complete() {
		return nil, ErrIncompleteProxy
	}
	cp := *proxy
	if cp.Protocol == "" {
		cp.Protocol = domain.ProxySOCKS5
	}
	return &cp, nil
}

// Create добавляет новый аккаунт со статусом connecting.
// Номер телефона уникален в пределах платформы.
func (s *Service) Create(ctx context.Context, phone string, proxy *domain.Proxy) (domain.Account, error) {
	normalized, err := normalizeProxy(proxy)
	if err != nil {
		return domain.Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.accounts {
		if s.accounts[i].Phone == phone {
			return domain.Account{}, fmt.Errorf("%w: %s", ErrDuplicatePhone, phone)
		}
	}

	now := s.now()
	account := domain.Account{
		ID:          uuid.NewString(),
		Phone:       phone,
		Platform:    s.platform,
		Status:      domain.StatusConnecting,
		IsEnabled:   true,
		IsHumanized: true,
		DailyUsage:  0,
		DailyLimit:  domain.TraitsFor(s.platform).DefaultDailyLimit,
		Proxy:       normalized,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.accounts = append(s.accounts, account)
	s.persist()
	s.log.Info().Str("phone", phone).Str("id", account.ID).Msg("registry: аккаунт создан")
	return account, nil
}

// Delete удаляет аккаунт.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return ErrAccountNotFound
	}
	phone := s.accounts[idx].Phone
	s.accounts = append(s.accounts[:idx], s.accounts[idx+1:]...)
	s.persist()
	s.log.Info().Str("phone", phone).Str("id", id).Msg("registry: аккаунт удалён")
	return nil
}

// SetEnabled включает или выключает аккаунт.
func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) (domain.Account, error) {
	return s.mutate(id, func(acc *domain.Account) error {
		acc.IsEnabled = enabled
		return nil
	})
}

// SetHumanized управляет участием аккаунта в движке гуманизации.
func (s *Service) SetHumanized(ctx context.Context, id string, humanized bool) (domain.Account, error) {
	return s.mutate(id, func(acc *domain.Account) error {
		acc.IsHumanized = humanized
		return nil
	})
}

// SetDailyLimit выставляет дневной лимит; неположительные значения отвергаются.
func (s *Service) SetDailyLimit(ctx context.Context, id string, limit int) (domain.Account, error) {
	if limit <= 0 {
		return domain.Account{}, ErrInvalidDailyLimit
	}
	return s.mutate(id, func(acc *domain.Account) error {
		acc.DailyLimit = limit
		return nil
	})
}

// SetProxy заменяет прокси аккаунта и сбрасывает errorContext.
// nil или полностью пустой прокси означает прямое подключение.
func (s *Service) SetProxy(ctx context.Context, id string, proxy *domain.Proxy) (domain.Account, error) {
	normalized, err := normalizeProxy(proxy)
	if err != nil {
		return domain.Account{}, err
	}
	return s.mutate(id, func(acc *domain.Account) error {
		acc.Proxy = normalized
		acc.ErrorContext = ""
		return nil
	})
}

// RecordActivity записывает последнюю активность аккаунта.
// Единственная мутация, доступная движку гуманизации.
func (s *Service) RecordActivity(ctx context.Context, id string, activity domain.AccountActivity) error {
	_, err := s.mutate(id, func(acc *domain.Account) error {
		cp := activity
		acc.LastActivity = &cp
		acc.DailyUsage++
		return nil
	})
	return err
}

// ResetDailyUsage обнуляет дневные счётчики всех аккаунтов.
func (s *Service) ResetDailyUsage(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.accounts {
		s.accounts[i].DailyUsage = 0
		s.accounts[i].UpdatedAt = s.now()
	}
	s.persist()
	s.log.Info().Msg("registry: дневные счётчики сброшены")
}

// Restore замещает пустой набор заготовленными аккаунтами (демо-данные).
func (s *Service) Restore(ctx context.Context, accounts []domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.accounts) > 0 {
		return
	}
	s.accounts = append([]domain.Account(nil), accounts...)
	s.persist()
}

// RefreshStatus выполняет проверку статуса аккаунта.
// Сбой прокси всегда маскирует платформенную проверку: при нём аккаунт
// получает inactive с заполненным errorContext. Ошибки проверки никогда не
// пробрасываются наружу — они деградируют до статуса аккаунта.
func (s *Service) RefreshStatus(ctx context.Context, id string) (domain.Account, error) {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return domain.Account{}, ErrAccountNotFound
	}
	previous := s.accounts[idx].Status
	s.accounts[idx].Status = domain.StatusConnecting
	s.accounts[idx].ErrorContext = ""
	s.accounts[idx].UpdatedAt = s.now()
	snapshot := s.accounts[idx]
	s.persist()
	s.mu.Unlock()

	report, err := s.remote.CheckAccountStatus(ctx, snapshot)
	if err != nil {
		// Недоступность сервиса трактуем как платформенный сбой.
		s.log.Warn().Err(err).Str("id", id).Msg("registry: проверка статуса не удалась")
		report = domain.StatusReport{Status: domain.TraitsFor(s.platform).FailureStatus}
	}
	metrics.IncStatusCheck(string(s.platform), string(report.Status))

	s.mu.Lock()
	idx = s.indexOf(id)
	if idx < 0 {
		// Аккаунт удалили, пока шла проверка.
		s.mu.Unlock()
		return domain.Account{}, ErrAccountNotFound
	}
	s.accounts[idx].Status = report.Status
	s.accounts[idx].ErrorContext = report.ErrorContext
	s.accounts[idx].UpdatedAt = s.now()
	updated := s.accounts[idx]
	s.persist()
	s.mu.Unlock()

	s.notifyTransition(ctx, updated, previous)
	return updated, nil
}

func (s *Service) notifyTransition(ctx context.Context, account domain.Account, previous domain.AccountStatus) {
	if s.notifier == nil || account.Status == previous {
		return
	}
	if account.Status != domain.StatusRestricted && account.Status != domain.StatusInactive {
		return
	}
	if err := s.notifier.NotifyStatus(ctx, account, previous); err != nil {
		s.log.Warn().Err(err).Str("id", account.ID).Msg("registry: не удалось отправить уведомление")
	}
}

func (s *Service) mutate(id string, fn func(acc *domain.Account) error) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return domain.Account{}, ErrAccountNotFound
	}
	if err := fn(&s.accounts[idx]); err != nil {
		return domain.Account{}, err
	}
	s.accounts[idx].UpdatedAt = s.now()
	s.persist()
	return s.accounts[idx], nil
}
