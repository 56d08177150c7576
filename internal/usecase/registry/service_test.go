package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"account-humanizer/internal/domain"
)

type stubStore struct {
	data     map[string][]byte
	failSave bool
}

func newStubStore() *stubStore {
	return &stubStore{data: map[string][]byte{}}
}

func (s *stubStore) Load(_ context.Context, key string) ([]byte, error) {
	raw, ok := s.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return raw, nil
}

func (s *stubStore) Save(_ context.Context, key string, value []byte) error {
	if s.failSave {
		return errors.New("хранилище недоступно")
	}
	s.data[key] = value
	return nil
}

type stubRemote struct {
	report domain.StatusReport
	err    error
	calls  int
}

func (r *stubRemote) SendCode(context.Context, domain.APICredentials, string, *domain.Proxy) error {
	return nil
}
func (r *stubRemote) SubmitCode(context.Context, string, string) (bool, error) { return false, nil }
func (r *stubRemote) SubmitPassword(context.Context, string, string) error     { return nil }
func (r *stubRemote) GetQRCode(context.Context, domain.Platform, *domain.Proxy) (domain.QRSession, error) {
	return domain.QRSession{}, nil
}
func (r *stubRemote) ConfirmQRScan(context.Context, domain.Platform, string) (domain.QRConfirmation, error) {
	return domain.QRConfirmation{}, nil
}
func (r *stubRemote) CheckAccountStatus(context.Context, domain.Account) (domain.StatusReport, error) {
	r.calls++
	return r.report, r.err
}
func (r *stubRemote) TestProxy(context.Context, *domain.Proxy) domain.ProxyTestResult {
	return domain.ProxyTestResult{Success: true}
}
func (r *stubRemote) TestAICredential(context.Context, string) (bool, string) { return true, "" }

type stubNotifier struct {
	accounts []domain.Account
}

func (n *stubNotifier) NotifyStatus(_ context.Context, account domain.Account, _ domain.AccountStatus) error {
	n.accounts = append(n.accounts, account)
	return nil
}

func newTestService(remote *stubRemote) (*Service, *stubStore) {
	store := newStubStore()
	svc := NewService(domain.PlatformTelegram, store, remote, nil, zerolog.Nop())
	return svc, store
}

func TestCreateDuplicatePhone(t *testing.T) {
	svc, _ := newTestService(&stubRemote{})
	ctx := context.Background()

	if _, err := svc.Create(ctx, "+1234567890", nil); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := svc.Create(ctx, "+1234567890", nil); !errors.Is(err, ErrDuplicatePhone) {
		t.Fatalf("ожидали ErrDuplicatePhone, получили %v", err)
	}
	if len(svc.List()) != 1 {
		t.Fatalf("набор не должен был измениться")
	}
}

func TestCreateStartsConnecting(t *testing.T) {
	svc, _ := newTestService(&stubRemote{})
	account, err := svc.Create(context.Background(), "+1234567890", nil)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if account.Status != domain.StatusConnecting {
		t.Fatalf("новый аккаунт должен быть connecting, получили %s", account.Status)
	}
	if !account.IsEnabled || !account.IsHumanized {
		t.Fatalf("новый аккаунт должен быть включён и гуманизирован")
	}
	if account.DailyLimit != 3000 {
		t.Fatalf("ожидали лимит 3000, получили %d", account.DailyLimit)
	}
}

func TestRefreshStatusResolvesConnecting(t *testing.T) {
	remote := &stubRemote{report: domain.StatusReport{Status: domain.StatusActive}}
	svc, _ := newTestService(remote)
	ctx := context.Background()

	account, _ := svc.Create(ctx, "+1234567890", nil)
	updated, err := svc.RefreshStatus(ctx, account.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if updated.Status == domain.StatusConnecting {
		t.Fatalf("connecting обязан смениться терминальным статусом")
	}
	if updated.Status != domain.StatusActive {
		t.Fatalf("ожидали active, получили %s", updated.Status)
	}
	if updated.ErrorContext != "" {
		t.Fatalf("errorContext должен быть пуст при успешной проверке")
	}
}

func TestRefreshStatusProxyFailurePrecedence(t *testing.T) {
	remote := &stubRemote{report: domain.StatusReport{
		Status:       domain.StatusInactive,
		ErrorContext: domain.ProxyErrAuthFailed,
	}}
	svc, _ := newTestService(remote)
	ctx := context.Background()

	account, _ := svc.Create(ctx, "+1234567890", &domain.Proxy{Protocol: domain.ProxySOCKS5, Hostname: "x", Port: "1"})
	updated, err := svc.RefreshStatus(ctx, account.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if updated.Status != domain.StatusInactive {
		t.Fatalf("сбой прокси обязан дать inactive, получили %s", updated.Status)
	}
	if updated.ErrorContext != domain.ProxyErrAuthFailed {
		t.Fatalf("ожидали proxy_auth_failed, получили %q", updated.ErrorContext)
	}
}

func TestRefreshStatusRemoteError(t *testing.T) {
	remote := &stubRemote{err: errors.New("сервис недоступен")}
	svc, _ := newTestService(remote)
	ctx := context.Background()

	account, _ := svc.Create(ctx, "+1234567890", nil)
	updated, err := svc.RefreshStatus(ctx, account.ID)
	if err != nil {
		t.Fatalf("ошибка проверки не должна пробрасываться: %v", err)
	}
	if updated.Status != domain.StatusRestricted {
		t.Fatalf("ожидали платформенный failure-статус, получили %s", updated.Status)
	}
}

func TestSetDailyLimitRejectsNonPositive(t *testing.T) {
	svc, _ := newTestService(&stubRemote{})
	ctx := context.Background()

	account, _ := svc.Create(ctx, "+1234567890", nil)
	if _, err := svc.SetDailyLimit(ctx, account.ID, 0); !errors.Is(err, ErrInvalidDailyLimit) {
		t.Fatalf("ожидали ErrInvalidDailyLimit, получили %v", err)
	}
	got, _ := svc.Get(account.ID)
	if got.DailyLimit != account.DailyLimit {
		t.Fatalf("прежний лимит должен сохраниться")
	}
	if _, err := svc.SetDailyLimit(ctx, account.ID, 500); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	got, _ = svc.Get(account.ID)
	if got.DailyLimit != 500 {
		t.Fatalf("лимит должен обновиться до 500, получили %d", got.DailyLimit)
	}
}

func TestSetProxyClearsErrorContext(t *testing.T) {
	remote := &stubRemote{report: domain.StatusReport{
		Status:       domain.StatusInactive,
		ErrorContext: domain.ProxyErrTimeout,
	}}
	svc, _ := newTestService(remote)
	ctx := context.Background()

	account, _ := svc.Create(ctx, "+1234567890", &domain.Proxy{Hostname: "x", Port: "1"})
	if _, err := svc.RefreshStatus(ctx, account.ID); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	updated, err := svc.SetProxy(ctx, account.ID, &domain.Proxy{Protocol: domain.ProxyHTTP, Hostname: "y", Port: "8080"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if updated.ErrorContext != "" {
		t.Fatalf("замена прокси обязана сбрасывать errorContext")
	}
	if updated.Proxy == nil || updated.Proxy.Hostname != "y" {
		t.Fatalf("прокси должен обновиться")
	}
}

func TestSetProxyIncomplete(t *testing.T) {
	svc, _ := newTestService(&stubRemote{})
	ctx := context.Background()

	account, _ := svc.Create(ctx, "+1234567890", nil)
	if _, err := svc.SetProxy(ctx, account.ID, &domain.Proxy{Hostname: "only-host"}); !errors.Is(err, ErrIncompleteProxy) {
		t.Fatalf("ожидали ErrIncompleteProxy, получили %v", err)
	}
	// Полностью пустой прокси означает прямое подключение.
	updated, err := svc.SetProxy(ctx, account.ID, &domain.Proxy{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if updated.Proxy != nil {
		t.Fatalf("пустой прокси должен нормализоваться в nil")
	}
}

func TestDeleteAccount(t *testing.T) {
	svc, _ := newTestService(&stubRemote{})
	ctx := context.Background()

	account, _ := svc.Create(ctx, "+1234567890", nil)
	if err := svc.Delete(ctx, account.ID); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := svc.Delete(ctx, account.ID); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("ожидали ErrAccountNotFound, получили %v", err)
	}
}

func TestPersistFailureDoesNotBlockMutation(t *testing.T) {
	store := newStubStore()
	store.failSave = true
	svc := NewService(domain.PlatformTelegram, store, &stubRemote{}, nil, zerolog.Nop())

	account, err := svc.Create(context.Background(), "+1234567890", nil)
	if err != nil {
		t.Fatalf("сбой хранилища не должен блокировать операцию: %v", err)
	}
	if _, err := svc.Get(account.ID); err != nil {
		t.Fatalf("аккаунт должен остаться в памяти: %v", err)
	}
}

func TestNotifierOnBadTransition(t *testing.T) {
	remote := &stubRemote{report: domain.StatusReport{Status: domain.StatusRestricted}}
	store := newStubStore()
	notifier := &stubNotifier{}
	svc := NewService(domain.PlatformTelegram, store, remote, notifier, zerolog.Nop())
	ctx := context.Background()

	account, _ := svc.Create(ctx, "+1234567890", nil)
	if _, err := svc.RefreshStatus(ctx, account.ID); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(notifier.accounts) != 1 {
		t.Fatalf("ожидали одно уведомление, получили %d", len(notifier.accounts))
	}
	if notifier.accounts[0].Status != domain.StatusRestricted {
		t.Fatalf("уведомление должно нести новый статус")
	}
}

func TestLoadFromStoreOnStart(t *testing.T) {
	remote := &stubRemote{}
	svc, store := newTestService(remote)
	if _, err := svc.Create(context.Background(), "+1234567890", nil); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	reloaded := NewService(domain.PlatformTelegram, store, remote, nil, zerolog.Nop())
	accounts := reloaded.List()
	if len(accounts) != 1 || accounts[0].Phone != "+1234567890" {
		t.Fatalf("набор должен восстановиться из хранилища")
	}
}

func TestResetDailyUsage(t *testing.T) {
	svc, _ := newTestService(&stubRemote{})
	ctx := context.Background()

	account, _ := svc.Create(ctx, "+1234567890", nil)
	if err := svc.RecordActivity(ctx, account.ID, domain.AccountActivity{Type: domain.ActivityChat}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	got, _ := svc.Get(account.ID)
	if got.DailyUsage != 1 {
		t.Fatalf("ожидали usage 1, получили %d", got.DailyUsage)
	}
	svc.ResetDailyUsage(ctx)
	got, _ = svc.Get(account.ID)
	if got.DailyUsage != 0 {
		t.Fatalf("usage должен обнулиться")
	}
}
