package login

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"account-humanizer/internal/domain"
	"account-humanizer/internal/infra/metrics"
)

// ErrUnexpectedStep возвращается при вызове операции вне её шага.
var ErrUnexpectedStep = errors.New("операция недоступна на текущем шаге")

// Registry — часть реестра аккаунтов, нужная хендшейкам.
type Registry interface {
	Platform() domain.Platform
	Create(ctx context.Context, phone string, proxy *domain.Proxy) (domain.Account, error)
	RefreshStatus(ctx context.Context, id string) (domain.Account, error)
}

// OTPState — шаг OTP-хендшейка.
type OTPState string

const (
	OTPAwaitingPhone    OTPState = "awaiting_phone"
	OTPAwaitingCode     OTPState = "awaiting_code"
	OTPAwaitingPassword OTPState = "awaiting_password"
	OTPDone             OTPState = "done"
)

// OTPFlow — линейный OTP-хендшейк: телефон → код → (пароль) → готово.
// Ошибка шага оставляет машину на месте и позволяет повторить ввод.
type OTPFlow struct {
	mu       sync.Mutex
	state    OTPState
	phone    string
	proxy    *domain.Proxy
	creds    domain.APICredentials
	remote   domain.RemoteAccountService
	registry Registry
	log      zerolog.Logger
}

// NewOTPFlow создаёт хендшейк на шаге ввода телефона.
func NewOTPFlow(creds domain.APICredentials, remote domain.RemoteAccountService, registry Registry, logger zerolog.Logger) *OTPFlow {
	return &OTPFlow{
		state:    OTPAwaitingPhone,
		creds:    creds,
		remote:   remote,
		registry: registry,
		log:      logger,
	}
}

// State возвращает текущий шаг.
func (f *OTPFlow) State() OTPState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// SubmitPhone отправляет номер (и опциональный прокси) удалённому сервису.
// При ошибке шаг не меняется, номер можно ввести заново.
func (f *OTPFlow) SubmitPhone(ctx context.Context, phone string, proxy *domain.Proxy) error {
	f.mu.Lock()
	if f.state != OTPAwaitingPhone {
		f.mu.Unlock()
		return ErrUnexpectedStep
	}
	f.mu.Unlock()

	err := f.remote.SendCode(ctx, f.creds, phone, proxy)
	metrics.IncHandshakeStep(string(f.registry.Platform()), "otp", "send_code", err)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.phone = phone
	f.proxy = proxy
	f.state = OTPAwaitingCode
	f.mu.Unlock()
	return nil
}

// SubmitCode проверяет одноразовый код. Возвращает true, когда хендшейк
// завершён; false означает переход к шагу пароля (2FA).
func (f *OTPFlow) SubmitCode(ctx context.Context, otp string) (bool, error) {
	f.mu.Lock()
	if f.state != OTPAwaitingCode {
		f.mu.Unlock()
		return false, ErrUnexpectedStep
	}
	phone := f.phone
	f.mu.Unlock()

	needs2FA, err := f.remote.SubmitCode(ctx, phone, otp)
	metrics.IncHandshakeStep(string(f.registry.Platform()), "otp", "submit_code", err)
	if err != nil {
		return false, err
	}
	if needs2FA {
		f.mu.Lock()
		f.state = OTPAwaitingPassword
		f.mu.Unlock()
		return false, nil
	}
	return true, f.finish(ctx)
}

// SubmitPassword проверяет пароль 2FA и завершает хендшейк.
func (f *OTPFlow) SubmitPassword(ctx context.Context, password string) error {
	f.mu.Lock()
	if f.state != OTPAwaitingPassword {
		f.mu.Unlock()
		return ErrUnexpectedStep
	}
	phone := f.phone
	f.mu.Unlock()

	err := f.remote.SubmitPassword(ctx, phone, password)
	metrics.IncHandshakeStep(string(f.registry.Platform()), "otp", "submit_password", err)
	if err != nil {
		return err
	}
	return f.finish(ctx)
}

// finish создаёт аккаунт. Терминальный сбой (например, дубликат номера)
// возвращает машину к вводу телефона.
func (f *OTPFlow) finish(ctx context.Context) error {
	f.mu.Lock()
	phone, proxy := f.phone, f.proxy
	f.mu.Unlock()

	account, err := f.registry.Create(ctx, phone, proxy)
	if err != nil {
		f.mu.Lock()
		f.state = OTPAwaitingPhone
		f.mu.Unlock()
		return err
	}

	f.mu.Lock()
	f.state = OTPDone
	f.mu.Unlock()

	settleAccount(f.registry, account.ID, f.log)
	return nil
}

// settleAccount планирует одну проверку статуса, переводящую connecting
// в терминальное состояние.
func settleAccount(registry Registry, id string, logger zerolog.Logger) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := registry.RefreshStatus(ctx, id); err != nil {
			logger.Warn().Err(err).Str("id", id).Msg("login: не удалось проверить новый аккаунт")
		}
	}()
}
