package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"account-humanizer/internal/domain"
	"account-humanizer/internal/infra/metrics"
)

// RabbitMQ публикует записи журнала активности в fanout-обменник.
// Потребители (аналитика, внешние дашборды) подписываются своими очередями.
type RabbitMQ struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      zerolog.Logger
}

var _ domain.ActivityPublisher = (*RabbitMQ)(nil)

// NewRabbitMQ подключается к брокеру и объявляет обменник.
func NewRabbitMQ(url, exchange string, logger zerolog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("подключение к rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("открытие канала: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("объявление обменника %s: %w", exchange, err)
	}
	return &RabbitMQ{conn: conn, ch: ch, exchange: exchange, log: logger}, nil
}

// PublishActivity отправляет запись журнала в обменник.
func (r *RabbitMQ) PublishActivity(ctx context.Context, entry domain.ActivityLogEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("сериализация записи: %w", err)
	}

	start := time.Now()
	err = r.ch.PublishWithContext(ctx, r.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    entry.Timestamp,
		Body:         body,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", r.exchange, start, err)
	if err != nil {
		return fmt.Errorf("публикация записи: %w", err)
	}
	return nil
}

// Close закрывает канал и соединение.
func (r *RabbitMQ) Close() {
	if err := r.ch.Close(); err != nil {
		r.log.Warn().Err(err).Msg("events: не удалось закрыть канал")
	}
	if err := r.conn.Close(); err != nil {
		r.log.Warn().Err(err).Msg("events: не удалось закрыть соединение")
	}
}
