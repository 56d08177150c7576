package domain

import (
	"context"
	"errors"
)

// ErrNotFound возвращается хранилищем при отсутствии ключа.
var ErrNotFound = errors.New("ключ не найден")

// ErrQRSessionExpired возвращается сервисом при подтверждении протухшей QR-сессии.
var ErrQRSessionExpired = errors.New("qr-сессия истекла")

// ProxyTestErrorKind — классифицированный исход проверки прокси.
type ProxyTestErrorKind string

const (
	ProxyTestIncomplete   ProxyTestErrorKind = "incomplete_details"
	ProxyTestAuthFailed   ProxyTestErrorKind = "authentication_failed"
	ProxyTestHostNotFound ProxyTestErrorKind = "host_not_found"
	ProxyTestTimeout      ProxyTestErrorKind = "timeout"
)

// ProxyTestResult — результат проверки прокси-подключения.
type ProxyTestResult struct {
	Success   bool               `json:"success"`
	ErrorKind ProxyTestErrorKind `json:"errorKind,omitempty"`
	Message   string             `json:"message"`
}

// StatusReport — результат проверки состояния аккаунта.
type StatusReport struct {
	Status       AccountStatus     `json:"status"`
	ErrorContext ProxyErrorContext `json:"errorContext,omitempty"`
}

// QRConfirmation — результат успешного подтверждения QR-сессии.
// Phone заполняется платформами, которые узнают номер только после сканирования.
type QRConfirmation struct {
	Phone string `json:"phone,omitempty"`
}

// RemoteAccountService — удалённый сервис аккаунтов и прокси.
// Симулированная реализация живёт в adapters/remote; настоящая может
// заменить её, не трогая машины состояний.
type RemoteAccountService interface {
	SendCode(ctx context.Context, creds APICredentials, phone string, proxy *Proxy) error
	SubmitCode(ctx context.Context, phone, otp string) (needs2FA bool, err error)
	SubmitPassword(ctx context.Context, phone, password string) error
	GetQRCode(ctx context.Context, platform Platform, proxy *Proxy) (QRSession, error)
	ConfirmQRScan(ctx context.Context, platform Platform, sessionID string) (QRConfirmation, error)
	CheckAccountStatus(ctx context.Context, account Account) (StatusReport, error)
	TestProxy(ctx context.Context, proxy *Proxy) ProxyTestResult
	TestAICredential(ctx context.Context, key string) (bool, string)
}

// Store — внешнее key-value хранилище. Ошибки загрузки трактуются как
// «использовать значения по умолчанию», ошибки сохранения — best effort.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
}

// ActivityPublisher рассылает записи журнала внешним потребителям.
type ActivityPublisher interface {
	PublishActivity(ctx context.Context, entry ActivityLogEntry) error
}

// StatusNotifier получает уведомления о переходах статуса аккаунта.
type StatusNotifier interface {
	NotifyStatus(ctx context.Context, account Account, previous AccountStatus) error
}
