package remote

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"account-humanizer/internal/domain"
)

// scriptedSource отдаёт заранее заданные значения Int63; последнее
// значение повторяется.
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

// frac переводит вероятность в значение Int63 так, что rand.Float64
// вернёт ровно f.
func frac(f float64) int64 {
	return int64(f * float64(uint64(1)<<63))
}

func newSimulatedForTest(script ...int64) *Simulated {
	s := NewSimulated(0, zerolog.Nop())
	s.rng = rand.New(&scriptedSource{values: script})
	s.now = func() time.Time {
		return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	}
	return s
}

func completeProxy() *domain.Proxy {
	return &domain.Proxy{Protocol: domain.ProxySOCKS5, Hostname: "proxy.example.com", Port: "1080"}
}

func TestSendCodeRejectsShortPhone(t *testing.T) {
	s := newSimulatedForTest()
	if err := s.SendCode(context.Background(), domain.APICredentials{}, "+1", nil); !errors.Is(err, ErrInvalidPhone) {
		t.Fatalf("ожидали ErrInvalidPhone, получили %v", err)
	}
	if err := s.SendCode(context.Background(), domain.APICredentials{}, "+1234567890", nil); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
}

func TestSubmitCode(t *testing.T) {
	s := newSimulatedForTest()
	if _, err := s.SubmitCode(context.Background(), "+1234567890", "00000"); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("ожидали ErrInvalidOTP, получили %v", err)
	}
	needs2FA, err := s.SubmitCode(context.Background(), "+1234567890", "12345")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !needs2FA {
		t.Fatalf("симуляция всегда требует 2FA")
	}
}

func TestSubmitPassword(t *testing.T) {
	s := newSimulatedForTest()
	if err := s.SubmitPassword(context.Background(), "+1234567890", "wrong"); !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("ожидали ErrIncorrectPassword, получили %v", err)
	}
	if err := s.SubmitPassword(context.Background(), "+1234567890", "password"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
}

func TestGetQRCode(t *testing.T) {
	s := newSimulatedForTest()
	session, err := s.GetQRCode(context.Background(), domain.PlatformTelegram, nil)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !strings.HasPrefix(session.SessionID, "tg_qr_") || session.TTL != 30 || session.Payload == "" {
		t.Fatalf("неожиданная сессия: %+v", session)
	}

	session, err = s.GetQRCode(context.Background(), domain.PlatformWhatsApp, nil)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !strings.HasPrefix(session.SessionID, "wa_qr_") {
		t.Fatalf("ожидали префикс wa_qr_, получили %s", session.SessionID)
	}
}

func TestConfirmQRScanExpiry(t *testing.T) {
	s := newSimulatedForTest(frac(0.3))
	_, err := s.ConfirmQRScan(context.Background(), domain.PlatformTelegram, "tg_qr_1")
	if !errors.Is(err, domain.ErrQRSessionExpired) {
		t.Fatalf("бросок < 0.4 означает истечение, получили %v", err)
	}
}

func TestConfirmQRScanSuccess(t *testing.T) {
	s := newSimulatedForTest(frac(0.9))
	confirmation, err := s.ConfirmQRScan(context.Background(), domain.PlatformTelegram, "tg_qr_1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if confirmation.Phone != "" {
		t.Fatalf("telegram не сообщает номер при подтверждении")
	}
}

func TestConfirmQRScanWhatsAppReportsPhone(t *testing.T) {
	s := newSimulatedForTest(frac(0.9), 0)
	confirmation, err := s.ConfirmQRScan(context.Background(), domain.PlatformWhatsApp, "wa_qr_1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !strings.HasPrefix(confirmation.Phone, "+") || len(confirmation.Phone) != 11 {
		t.Fatalf("ожидали десятизначный номер, получили %q", confirmation.Phone)
	}
}

func TestCheckAccountStatusProxyFailure(t *testing.T) {
	// Первый бросок 0.1 < 0.3 — отказ прокси; второй выбирает контекст.
	s := newSimulatedForTest(frac(0.1), 0)
	account := domain.Account{ID: "1", Platform: domain.PlatformTelegram, Proxy: completeProxy()}

	report, err := s.CheckAccountStatus(context.Background(), account)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Status != domain.StatusInactive {
		t.Fatalf("отказ прокси даёт inactive, получили %s", report.Status)
	}
	if report.ErrorContext != domain.ProxyErrAuthFailed {
		t.Fatalf("нулевой бросок выбирает первый контекст, получили %s", report.ErrorContext)
	}
}

func TestCheckAccountStatusPlatformOutcomes(t *testing.T) {
	// Без прокси работает только платформенная вероятность.
	s := newSimulatedForTest(frac(0.5))
	report, err := s.CheckAccountStatus(context.Background(), domain.Account{ID: "1", Platform: domain.PlatformTelegram})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Status != domain.StatusActive {
		t.Fatalf("бросок < 0.8 означает active, получили %s", report.Status)
	}

	s = newSimulatedForTest(frac(0.95))
	report, _ = s.CheckAccountStatus(context.Background(), domain.Account{ID: "1", Platform: domain.PlatformTelegram})
	if report.Status != domain.StatusRestricted {
		t.Fatalf("неуспех у telegram означает restricted, получили %s", report.Status)
	}

	s = newSimulatedForTest(frac(0.95))
	report, _ = s.CheckAccountStatus(context.Background(), domain.Account{ID: "1", Platform: domain.PlatformWhatsApp})
	if report.Status != domain.StatusInactive {
		t.Fatalf("неуспех у whatsapp означает inactive, получили %s", report.Status)
	}
}

func TestTestProxyIncomplete(t *testing.T) {
	s := newSimulatedForTest()
	result := s.TestProxy(context.Background(), &domain.Proxy{Hostname: "proxy.example.com"})
	if result.Success || result.ErrorKind != domain.ProxyTestIncomplete {
		t.Fatalf("неполный прокси должен отклоняться без броска: %+v", result)
	}
}

func TestTestProxyOutcomeBands(t *testing.T) {
	cases := []struct {
		roll    float64
		success bool
		kind    domain.ProxyTestErrorKind
	}{
		{0.1, true, ""},
		{0.7, false, domain.ProxyTestAuthFailed},
		{0.85, false, domain.ProxyTestHostNotFound},
		{0.95, false, domain.ProxyTestTimeout},
	}
	for _, tc := range cases {
		s := newSimulatedForTest(frac(tc.roll))
		result := s.TestProxy(context.Background(), completeProxy())
		if result.Success != tc.success || result.ErrorKind != tc.kind {
			t.Fatalf("бросок %.2f: ожидали (%v, %s), получили %+v", tc.roll, tc.success, tc.kind, result)
		}
		if result.Message == "" {
			t.Fatalf("исход должен сопровождаться сообщением")
		}
	}
}

func TestTestAICredential(t *testing.T) {
	s := newSimulatedForTest()
	if ok, _ := s.TestAICredential(context.Background(), "short"); ok {
		t.Fatalf("короткий ключ должен отклоняться")
	}
	if ok, msg := s.TestAICredential(context.Background(), "key-1234567890"); !ok || msg != "Connection successful!" {
		t.Fatalf("длинный ключ должен проходить, получили %v %q", ok, msg)
	}
}
