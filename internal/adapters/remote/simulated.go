package remote

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"account-humanizer/internal/domain"
	"account-humanizer/internal/infra/metrics"
)

// Ошибки отдаются в формулировках, пригодных для показа пользователю.
var (
	ErrInvalidPhone       = errors.New("Invalid phone number provided.")
	ErrInvalidOTP         = errors.New("Invalid OTP code. Please try again.")
	ErrIncorrectPassword  = errors.New("Incorrect password.")
	ErrMissingCredentials = errors.New("API ID and API Hash are required.")
)

const qrPayloadSVG = `<svg width="200" height="200" viewBox="0 0 200 200" fill="none" xmlns="http://www.w3.org/2000/svg" class="qr-code-svg"><rect width="200" height="200" fill="white"/><rect x="30" y="30" width="45" height="45" fill="#1A1C2C"/><rect x="37" y="37" width="31" height="31" fill="white"/><rect x="44" y="44" width="17" height="17" fill="#1A1C2C"/><rect x="125" y="30" width="45" height="45" fill="#1A1C2C"/><rect x="132" y="37" width="31" height="31" fill="white"/><rect x="139" y="44" width="17" height="17" fill="#1A1C2C"/><rect x="30" y="125" width="45" height="45" fill="#1A1C2C"/><rect x="37" y="132" width="31" height="31" fill="white"/><rect x="44" y="139" width="17" height="17" fill="#1A1C2C"/></svg>`

// Simulated — симуляция удалённого сервиса аккаунтов. Воспроизводит
// вероятностные исходы живой интеграции (отказ прокси, истечение QR,
// блокировка аккаунта), чтобы машины состояний выше можно было гонять
// без настоящих платформенных сессий.
type Simulated struct {
	latency time.Duration
	log     zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

var _ domain.RemoteAccountService = (*Simulated)(nil)

// NewSimulated создаёт симуляцию с заданной задержкой ответа.
func NewSimulated(latency time.Duration, logger zerolog.Logger) *Simulated {
	return &Simulated{
		latency: latency,
		log:     logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
	}
}

// sleep имитирует сетевую задержку с уважением к контексту.
func (s *Simulated) sleep(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Simulated) float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Simulated) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

// SendCode запрашивает одноразовый код для номера.
func (s *Simulated) SendCode(ctx context.Context, creds domain.APICredentials, phone string, proxy *domain.Proxy) (err error) {
	start := s.now()
	defer func() { metrics.ObserveNetworkRequest("remote", "send_code", "simulated", start, err) }()
	if err = s.sleep(ctx); err != nil {
		return err
	}
	if len(phone) < 10 {
		return ErrInvalidPhone
	}
	s.log.Debug().Str("phone", phone).Bool("proxy", proxy.Configured()).Msg("remote: otp отправлен")
	return nil
}

// SubmitCode проверяет одноразовый код. Симуляция всегда требует 2FA.
func (s *Simulated) SubmitCode(ctx context.Context, phone, otp string) (needs2FA bool, err error) {
	start := s.now()
	defer func() { metrics.ObserveNetworkRequest("remote", "submit_code", "simulated", start, err) }()
	if err = s.sleep(ctx); err != nil {
		return false, err
	}
	if otp != "12345" {
		return false, ErrInvalidOTP
	}
	return true, nil
}

// SubmitPassword проверяет пароль 2FA.
func (s *Simulated) SubmitPassword(ctx context.Context, phone, password string) (err error) {
	start := s.now()
	defer func() { metrics.ObserveNetworkRequest("remote", "submit_password", "simulated", start, err) }()
	if err = s.sleep(ctx); err != nil {
		return err
	}
	if password != "password" {
		return ErrIncorrectPassword
	}
	return nil
}

// GetQRCode выпускает новую QR-сессию с отсчётом в 30 секунд.
func (s *Simulated) GetQRCode(ctx context.Context, platform domain.Platform, proxy *domain.Proxy) (session domain.QRSession, err error) {
	start := s.now()
	defer func() { metrics.ObserveNetworkRequest("remote", "get_qr_code", "simulated", start, err) }()
	if err = s.sleep(ctx); err != nil {
		return domain.QRSession{}, err
	}
	prefix := "tg"
	if platform == domain.PlatformWhatsApp {
		prefix = "wa"
	}
	return domain.QRSession{
		SessionID: fmt.Sprintf("%s_qr_%d", prefix, s.now().UnixMilli()),
		Payload:   qrPayloadSVG,
		TTL:       30,
	}, nil
}

// ConfirmQRScan ждёт подтверждения сканирования. В 40% случаев сессия
// успевает истечь на стороне сервиса.
func (s *Simulated) ConfirmQRScan(ctx context.Context, platform domain.Platform, sessionID string) (confirmation domain.QRConfirmation, err error) {
	start := s.now()
	defer func() { metrics.ObserveNetworkRequest("remote", "confirm_qr_scan", "simulated", start, err) }()
	if err = s.sleep(ctx); err != nil {
		return domain.QRConfirmation{}, err
	}
	if s.float64() < 0.4 {
		err = domain.ErrQRSessionExpired
		return domain.QRConfirmation{}, err
	}
	if platform == domain.PlatformWhatsApp {
		// Номер становится известен только после сканирования.
		return domain.QRConfirmation{Phone: fmt.Sprintf("+%d", 1000000000+s.intn(9000000000))}, nil
	}
	return domain.QRConfirmation{}, nil
}

// CheckAccountStatus проверяет аккаунт. Настроенный прокси отказывает в 30%
// случаев и маскирует платформенную проверку; иначе исход определяется
// вероятностью здоровья платформы.
func (s *Simulated) CheckAccountStatus(ctx context.Context, account domain.Account) (report domain.StatusReport, err error) {
	start := s.now()
	defer func() { metrics.ObserveNetworkRequest("remote", "check_account_status", "simulated", start, err) }()
	if err = s.sleep(ctx); err != nil {
		return domain.StatusReport{}, err
	}

	if account.Proxy.Configured() && s.float64() < 0.3 {
		contexts := []domain.ProxyErrorContext{
			domain.ProxyErrAuthFailed,
			domain.ProxyErrHostNotFound,
			domain.ProxyErrTimeout,
		}
		picked := contexts[s.intn(len(contexts))]
		s.log.Debug().Str("id", account.ID).Str("context", string(picked)).Msg("remote: симулирован отказ прокси")
		return domain.StatusReport{Status: domain.StatusInactive, ErrorContext: picked}, nil
	}

	traits := domain.TraitsFor(account.Platform)
	if s.float64() < traits.HealthyProbability {
		return domain.StatusReport{Status: domain.StatusActive}, nil
	}
	return domain.StatusReport{Status: traits.FailureStatus}, nil
}

// TestProxy проверяет прокси-подключение: 60% успех, 20% ошибка
// аутентификации, 10% неизвестный хост, 10% таймаут.
func (s *Simulated) TestProxy(ctx context.Context, proxy *domain.Proxy) domain.ProxyTestResult {
	start := s.now()
	defer metrics.ObserveNetworkRequest("remote", "test_proxy", "simulated", start, nil)
	if err := s.sleep(ctx); err != nil {
		return domain.ProxyTestResult{Success: false, ErrorKind: domain.ProxyTestTimeout, Message: "Connection timed out."}
	}

	if !proxy.Complete() {
		return domain.ProxyTestResult{Success: false, ErrorKind: domain.ProxyTestIncomplete, Message: "Hostname and Port are required."}
	}

	switch roll := s.float64(); {
	case roll < 0.6:
		return domain.ProxyTestResult{Success: true, Message: "Connection successful!"}
	case roll < 0.8:
		return domain.ProxyTestResult{Success: false, ErrorKind: domain.ProxyTestAuthFailed, Message: "Authentication failed. Check username/password."}
	case roll < 0.9:
		return domain.ProxyTestResult{Success: false, ErrorKind: domain.ProxyTestHostNotFound, Message: "Host not found. Check hostname/IP."}
	default:
		return domain.ProxyTestResult{Success: false, ErrorKind: domain.ProxyTestTimeout, Message: "Connection timed out."}
	}
}

// TestAICredential грубо проверяет форму AI-ключа.
func (s *Simulated) TestAICredential(ctx context.Context, key string) (bool, string) {
	start := s.now()
	defer metrics.ObserveNetworkRequest("remote", "test_ai_credential", "simulated", start, nil)
	if err := s.sleep(ctx); err != nil {
		return false, "Connection timed out."
	}
	if len(strings.TrimSpace(key)) > 10 {
		return true, "Connection successful!"
	}
	return false, "Invalid API Key."
}
