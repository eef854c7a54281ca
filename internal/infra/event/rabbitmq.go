package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"orderapi/internal/usecase"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	ExchangeType          = "topic"
	RoutingKeyOrderPlaced = "orders.placed"
)

// *amqp.Channel のうち使う部分
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitPublisher は注文確定イベントを exchange に流す。
// 連続で失敗したらブレーカーが開いて、しばらく送信をやめる。
type RabbitPublisher struct {
	ch       Channel
	exchange string
	timeout  time.Duration
	cb       *gobreaker.CircuitBreaker
	log      *zap.Logger
}

func NewRabbitPublisher(ch Channel, exchange string, log *zap.Logger) *RabbitPublisher {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "amqp-orders",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &RabbitPublisher{
		ch:       ch,
		exchange: exchange,
		timeout:  3 * time.Second,
		cb:       cb,
		log:      log,
	}
}

func (p *RabbitPublisher) PublishOrderPlaced(ctx context.Context, evt usecase.OrderPlacedEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal order placed: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err = p.cb.Execute(func() (interface{}, error) {
		return nil, p.ch.PublishWithContext(
			ctx,
			p.exchange,
			RoutingKeyOrderPlaced,
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    evt.EventID,
				Timestamp:    evt.OccurredAt,
				Type:         RoutingKeyOrderPlaced,
				Body:         body,
			},
		)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("publish skipped: %w", err)
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", RoutingKeyOrderPlaced, err)
	}

	p.log.Debug("order placed published", zap.String("event_id", evt.EventID))
	return nil
}

// Connect は接続して exchange を宣言する。起動直後はブローカーが
// まだ上がっていないことがあるので数回やり直す。
func Connect(url, exchange string, log *zap.Logger) (*amqp.Connection, *amqp.Channel, error) {
	var conn *amqp.Connection
	var err error
	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		log.Warn("amqp dial failed", zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("connect amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchange,
		ExchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange: %w", err)
	}

	return conn, ch, nil
}
