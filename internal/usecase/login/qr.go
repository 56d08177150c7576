package login

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"account-humanizer/internal/domain"
	"account-humanizer/internal/infra/metrics"
)

// ErrSessionExpired — подтверждение пришло по уже истёкшей сессии.
// Не терминальная ошибка: сессия уже перевыпущена.
var ErrSessionExpired = errors.New("qr-сессия истекла, выпущена новая")

// ErrFlowClosed возвращается после Close.
var ErrFlowClosed = errors.New("хендшейк завершён")

// QRState — шаг QR-хендшейка.
type QRState string

const (
	QRIdle         QRState = "idle"
	QRAwaitingScan QRState = "awaiting_scan"
	QRConfirming   QRState = "confirming"
	QRDone         QRState = "done"
)

// QRFlow — QR-хендшейк с живым обратным отсчётом. Истечение отсчёта
// самовосстанавливается: выпускается новая сессия, отсчёт сбрасывается.
// Close гарантированно останавливает таймер — осиротевших тиков не бывает.
type QRFlow struct {
	mu         sync.Mutex
	state      QRState
	phone      string
	proxy      *domain.Proxy
	session    domain.QRSession
	countdown  int
	generation int
	notice     string
	closed     bool

	remote   domain.RemoteAccountService
	registry Registry
	log      zerolog.Logger

	tickInterval time.Duration
	stopCh       chan struct{}
	driverOn     bool
}

// NewQRFlow создаёт хендшейк в состоянии Idle.
func NewQRFlow(remote domain.RemoteAccountService, registry Registry, logger zerolog.Logger) *QRFlow {
	return &QRFlow{
		state:        QRIdle,
		remote:       remote,
		registry:     registry,
		log:          logger,
		tickInterval: time.Second,
	}
}

// Snapshot — наблюдаемое состояние хендшейка для внешнего потребителя.
type Snapshot struct {
	State     QRState `json:"state"`
	SessionID string  `json:"sessionId,omitempty"`
	Payload   string  `json:"payload,omitempty"`
	Countdown int     `json:"countdown"`
	Notice    string  `json:"notice,omitempty"`
}

// Snapshot возвращает текущее наблюдаемое состояние.
func (f *QRFlow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Snapshot{
		State:     f.state,
		SessionID: f.session.SessionID,
		Payload:   f.session.Payload,
		Countdown: f.countdown,
		Notice:    f.notice,
	}
}

// Start запрашивает первую QR-сессию и запускает отсчёт.
func (f *QRFlow) Start(ctx context.Context, phone string, proxy *domain.Proxy) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	if f.state != QRIdle {
		f.mu.Unlock()
		return ErrUnexpectedStep
	}
	f.phone = phone
	f.proxy = proxy
	f.mu.Unlock()

	if err := f.regenerate(ctx); err != nil {
		return err
	}

	f.mu.Lock()
	if !f.driverOn && !f.closed {
		f.driverOn = true
		f.stopCh = make(chan struct{})
		go f.drive(f.stopCh)
	}
	f.mu.Unlock()
	return nil
}

// regenerate выпускает новую сессию и сбрасывает отсчёт.
func (f *QRFlow) regenerate(ctx context.Context) error {
	f.mu.Lock()
	proxy := f.proxy
	platform := f.registry.Platform()
	f.mu.Unlock()

	session, err := f.remote.GetQRCode(ctx, platform, proxy)
	metrics.IncHandshakeStep(string(platform), "qr", "get_qr", err)
	if err != nil {
		f.mu.Lock()
		f.state = QRIdle
		f.mu.Unlock()
		return fmt.Errorf("получение qr-кода: %w", err)
	}

	f.mu.Lock()
	f.session = session
	f.countdown = session.TTL
	f.generation++
	f.state = QRAwaitingScan
	f.mu.Unlock()
	return nil
}

func (f *QRFlow) drive(stop <-chan struct{}) {
	ticker := time.NewTicker(f.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			f.tick(context.Background())
		}
	}
}

// tick уменьшает отсчёт; на нуле сессия считается истёкшей и
// перевыпускается — ровно один раз на истечение. Отсчёт идёт и во время
// подтверждения: истечение обгоняет запоздавший результат confirm.
func (f *QRFlow) tick(ctx context.Context) {
	f.mu.Lock()
	if f.closed || (f.state != QRAwaitingScan && f.state != QRConfirming) || f.countdown <= 0 {
		f.mu.Unlock()
		return
	}
	f.countdown--
	expired := f.countdown <= 0
	f.mu.Unlock()

	if !expired {
		return
	}

	f.log.Debug().Msg("login: qr-сессия истекла, перевыпуск")
	if err := f.regenerate(ctx); err != nil {
		f.log.Warn().Err(err).Msg("login: не удалось перевыпустить qr-код")
		return
	}
	f.mu.Lock()
	f.notice = "QR Code expired. Generating a new one."
	f.mu.Unlock()
}

// Confirm подтверждает сканирование. Разрешён только при живом отсчёте;
// если за время удалённого вызова сессия истекла и была перевыпущена,
// результат вызова отбрасывается и возвращается ErrSessionExpired.
func (f *QRFlow) Confirm(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	if f.state != QRAwaitingScan {
		f.mu.Unlock()
		return ErrUnexpectedStep
	}
	if f.countdown <= 0 {
		f.mu.Unlock()
		return ErrSessionExpired
	}
	gen := f.generation
	sessionID := f.session.SessionID
	platform := f.registry.Platform()
	f.state = QRConfirming
	f.notice = ""
	f.mu.Unlock()

	confirmation, err := f.remote.ConfirmQRScan(ctx, platform, sessionID)
	metrics.IncHandshakeStep(string(platform), "qr", "confirm", err)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	if f.generation != gen {
		// Отсчёт истёк, пока шло подтверждение: сессию уже перевыпустили,
		// устаревший результат не должен её молча воскресить.
		if f.state == QRConfirming {
			f.state = QRAwaitingScan
		}
		f.mu.Unlock()
		return ErrSessionExpired
	}

	switch {
	case err == nil:
		f.state = QRDone
		phone := f.phone
		if confirmation.Phone != "" {
			phone = confirmation.Phone
		}
		proxy := f.proxy
		f.mu.Unlock()
		f.stopDriver()

		account, err := f.registry.Create(ctx, phone, proxy)
		if err != nil {
			f.mu.Lock()
			f.state = QRIdle
			f.mu.Unlock()
			return err
		}
		settleAccount(f.registry, account.ID, f.log)
		return nil

	case errors.Is(err, domain.ErrQRSessionExpired):
		// Ожидаемый исход: перевыпускаем сессию, не считаем сбоем.
		f.state = QRAwaitingScan
		f.mu.Unlock()
		if regenErr := f.regenerate(ctx); regenErr != nil {
			return regenErr
		}
		f.mu.Lock()
		f.notice = "Confirmation failed: QR code expired. Regenerating..."
		f.mu.Unlock()
		return ErrSessionExpired

	default:
		// Любой другой сбой возвращает хендшейк к началу.
		f.state = QRIdle
		f.session = domain.QRSession{}
		f.countdown = 0
		f.mu.Unlock()
		return err
	}
}

// Close останавливает отсчёт и закрывает хендшейк. Идемпотентен.
func (f *QRFlow) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()
	f.stopDriver()
}

func (f *QRFlow) stopDriver() {
	f.mu.Lock()
	if !f.driverOn {
		f.mu.Unlock()
		return
	}
	f.driverOn = false
	close(f.stopCh)
	f.mu.Unlock()
}
