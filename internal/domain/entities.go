package domain

import "time"

// Platform — семейство мессенджера, к которому привязан аккаунт.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformWhatsApp Platform = "whatsapp"
)

// AccountStatus — состояние жизненного цикла аккаунта.
type AccountStatus string

const (
	// StatusConnecting — переходное состояние сразу после создания или во время проверки.
	StatusConnecting AccountStatus = "connecting"
	StatusActive     AccountStatus = "active"
	StatusInactive   AccountStatus = "inactive"
	// StatusRestricted используется только Telegram.
	StatusRestricted AccountStatus = "restricted"
)

// ProxyProtocol — поддерживаемый протокол прокси.
type ProxyProtocol string

const (
	ProxySOCKS5 ProxyProtocol = "SOCKS5"
	ProxyHTTP   ProxyProtocol = "HTTP"
)

// Proxy описывает параметры подключения через прокси.
type Proxy struct {
	Protocol ProxyProtocol `json:"protocol"`
	Hostname string        `json:"hostname"`
	Port     string        `json:"port"`
	Username string        `json:"username,omitempty"`
	Password string        `json:"password,omitempty"`
}

// Configured сообщает, задан ли прокси хотя бы частично.
func (p *Proxy) Configured() bool {
	return p != nil && (p.Hostname != "" || p.Port != "")
}

// Complete сообщает, достаточно ли полей для подключения.
func (p *Proxy) Complete() bool {
	return p != nil && p.Hostname != "" && p.Port != ""
}

// ProxyErrorContext — классифицированная причина отказа прокси у аккаунта.
type ProxyErrorContext string

const (
	ProxyErrAuthFailed   ProxyErrorContext = "proxy_auth_failed"
	ProxyErrHostNotFound ProxyErrorContext = "proxy_host_not_found"
	ProxyErrTimeout      ProxyErrorContext = "proxy_timeout"
)

// ActivityType — вид синтетической активности аккаунта.
type ActivityType string

const (
	ActivityChat          ActivityType = "chat"
	ActivityStatusUpdate  ActivityType = "statusUpdate"
	ActivityInteractAI    ActivityType = "interactAI"
	ActivityJoinChannels  ActivityType = "joinChannels"
	ActivityUpdateProfile ActivityType = "updateProfile"
	// ActivityCooldown — запись о намеренном пропуске цикла.
	ActivityCooldown ActivityType = "cooldown"
)

// ActivityTypes перечисляет планируемые активности в каноническом порядке.
var ActivityTypes = []ActivityType{
	ActivityChat,
	ActivityStatusUpdate,
	ActivityInteractAI,
	ActivityJoinChannels,
	ActivityUpdateProfile,
}

// IsAIActivity сообщает, требует ли активность настроенного AI-ключа.
func IsAIActivity(t ActivityType) bool {
	switch t {
	case ActivityStatusUpdate, ActivityInteractAI, ActivityUpdateProfile:
		return true
	}
	return false
}

// AccountActivity — последняя активность, записанная движком на аккаунт.
type AccountActivity struct {
	Type      ActivityType `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Details   string       `json:"details"`
}

// Account описывает аккаунт мессенджера под управлением системы.
type Account struct {
	ID           string            `json:"id"`
	Phone        string            `json:"phone"`
	Platform     Platform          `json:"platform"`
	Status       AccountStatus     `json:"status"`
	IsEnabled    bool              `json:"isEnabled"`
	IsHumanized  bool              `json:"isHumanized"`
	DailyUsage   int               `json:"dailyUsage"`
	DailyLimit   int               `json:"dailyLimit"`
	Proxy        *Proxy            `json:"proxy,omitempty"`
	ErrorContext ProxyErrorContext `json:"errorContext,omitempty"`
	LastActivity *AccountActivity  `json:"lastActivity,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// ActivityLogEntry — одна запись журнала активности.
type ActivityLogEntry struct {
	ID           string       `json:"id"`
	Timestamp    time.Time    `json:"timestamp"`
	Platform     Platform     `json:"platform"`
	ActivityType ActivityType `json:"activityType"`
	Message      string       `json:"message"`
}

// Intensity — интенсивность работы движка гуманизации.
type Intensity string

const (
	IntensityLow    Intensity = "low"
	IntensityMedium Intensity = "medium"
	IntensityHigh   Intensity = "high"
)

// Probability возвращает вероятность действия за один тик.
func (i Intensity) Probability() float64 {
	switch i {
	case IntensityLow:
		return 0.10
	case IntensityHigh:
		return 0.50
	default:
		return 0.25
	}
}

// HumanizationConfig — настройки движка гуманизации.
type HumanizationConfig struct {
	IsEnabled         bool                  `json:"isEnabled"`
	Intensity         Intensity             `json:"intensity"`
	Activities        map[ActivityType]bool `json:"activities"`
	SystemInstruction string                `json:"systemInstruction"`
	AIAPIKey          string                `json:"aiApiKey"`
}

// DefaultHumanizationConfig возвращает конфигурацию по умолчанию.
func DefaultHumanizationConfig() HumanizationConfig {
	return HumanizationConfig{
		IsEnabled: false,
		Intensity: IntensityMedium,
		Activities: map[ActivityType]bool{
			ActivityChat:          true,
			ActivityStatusUpdate:  true,
			ActivityInteractAI:    true,
			ActivityJoinChannels:  false,
			ActivityUpdateProfile: false,
		},
		SystemInstruction: "You are a casual and friendly user talking to a friend.",
	}
}

// APICredentials — общие учётные данные платформенного API.
type APICredentials struct {
	APIID   string `json:"apiId"`
	APIHash string `json:"apiHash"`
}

// Configured сообщает, заполнены ли учётные данные.
func (c APICredentials) Configured() bool {
	return c.APIID != "" && c.APIHash != ""
}

// QRSession — выданная удалённым сервисом QR-сессия логина.
type QRSession struct {
	SessionID string `json:"sessionId"`
	Payload   string `json:"payload"`
	TTL       int    `json:"countdownSeconds"`
}

// PlatformTraits описывает поведенческие отличия платформы.
type PlatformTraits struct {
	// FailureStatus — статус при неуспешной платформенной проверке.
	FailureStatus AccountStatus
	// HealthyProbability — доля успешных платформенных проверок в симуляции.
	HealthyProbability float64
	// ExcludedActivities — активности, недоступные на платформе.
	ExcludedActivities map[ActivityType]bool
	// DefaultDailyLimit — лимит для новых аккаунтов.
	DefaultDailyLimit int
}

var platformTraits = map[Platform]PlatformTraits{
	PlatformTelegram: {
		FailureStatus:      StatusRestricted,
		HealthyProbability: 0.8,
		ExcludedActivities: map[ActivityType]bool{},
		DefaultDailyLimit:  3000,
	},
	PlatformWhatsApp: {
		FailureStatus:      StatusInactive,
		HealthyProbability: 0.85,
		ExcludedActivities: map[ActivityType]bool{ActivityJoinChannels: true},
		DefaultDailyLimit:  2500,
	},
}

// TraitsFor возвращает таблицу поведения платформы.
func TraitsFor(p Platform) PlatformTraits {
	if t, ok := platformTraits[p]; ok {
		return t
	}
	return platformTraits[PlatformTelegram]
}

// Ключи внешнего хранилища.
const (
	StoreKeyHumanization = "humanization:config"
	StoreKeyActivityLog  = "activity:log"
	StoreKeyCredentials  = "api:credentials"
)

// StoreKeyAccounts возвращает ключ набора аккаунтов платформы.
func StoreKeyAccounts(p Platform) string {
	return "accounts:" + string(p)
}
