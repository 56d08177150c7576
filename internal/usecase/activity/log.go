package activity

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"account-humanizer/internal/domain"
)

// maxEntries — верхняя граница журнала; старые записи вытесняются.
const maxEntries = 100

// Log — ограниченный журнал активности, новые записи первыми.
// Каждое добавление сохраняется в хранилище и рассылается потребителям.
type Log struct {
	mu        sync.Mutex
	entries   []domain.ActivityLogEntry
	store     domain.Store
	publisher domain.ActivityPublisher
	log       zerolog.Logger
	now       func() time.Time
}

// NewLog создаёт журнал и восстанавливает записи из хранилища.
func NewLog(store domain.Store, publisher domain.ActivityPublisher, logger zerolog.Logger) *Log {
	l := &Log{
		store:     store,
		publisher: publisher,
		log:       logger,
		now:       time.Now,
	}
	l.loadFromStore()
	return l
}

func (l *Log) loadFromStore() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	raw, err := l.store.Load(ctx, domain.StoreKeyActivityLog)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			l.log.Warn().Err(err).Msg("activity: не удалось загрузить журнал")
		}
		return
	}
	var entries []domain.ActivityLogEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		l.log.Warn().Err(err).Msg("activity: повреждённый журнал, старт с пустого")
		return
	}
	if len(entries) > maxEntries {
		entries = entries[:maxEntries]
	}
	l.entries = entries
}

// Append добавляет запись в начало журнала и возвращает её.
func (l *Log) Append(ctx context.Context, platform domain.Platform, activityType domain.ActivityType, message string) domain.ActivityLogEntry {
	entry := domain.ActivityLogEntry{
		ID:           uuid.NewString(),
		Timestamp:    l.now(),
		Platform:     platform,
		ActivityType: activityType,
		Message:      message,
	}

	l.mu.Lock()
	l.entries = append([]domain.ActivityLogEntry{entry}, l.entries...)
	if len(l.entries) > maxEntries {
		l.entries = l.entries[:maxEntries]
	}
	l.persist()
	l.mu.Unlock()

	if l.publisher != nil {
		if err := l.publisher.PublishActivity(ctx, entry); err != nil {
			l.log.Warn().Err(err).Msg("activity: не удалось опубликовать запись")
		}
	}
	return entry
}

// Entries возвращает снимок журнала, новые записи первыми.
func (l *Log) Entries() []domain.ActivityLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.ActivityLogEntry(nil), l.entries...)
}

// Clear очищает журнал.
func (l *Log) Clear(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.persist()
}

// Вызывать под мьютексом.
func (l *Log) persist() {
	raw, err := json.Marshal(l.entries)
	if err != nil {
		l.log.Error().Err(err).Msg("activity: не удалось сериализовать журнал")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.store.Save(ctx, domain.StoreKeyActivityLog, raw); err != nil {
		l.log.Warn().Err(err).Msg("activity: не удалось сохранить журнал")
	}
}
