package event

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"orderapi/internal/usecase"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func sampleEvent() usecase.OrderPlacedEvent {
	return usecase.OrderPlacedEvent{
		EventID:    "0b7f",
		OccurredAt: time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC),
		Orders: []usecase.OrderPlacedLine{
			{OrderID: 1, ProductID: 7, Quantity: 2, UnitPrice: decimal.RequireFromString("3.20")},
		},
		StockRemaining: map[int64]int64{7: 8},
	}
}

func TestRabbitPublisher_Publish(t *testing.T) {
	ch := &fakeChannel{}
	p := NewRabbitPublisher(ch, "orders", zap.NewNop())

	require.NoError(t, p.PublishOrderPlaced(context.Background(), sampleEvent()))

	require.Len(t, ch.sent, 1)
	got := ch.sent[0]
	assert.Equal(t, "orders", got.exchange)
	assert.Equal(t, RoutingKeyOrderPlaced, got.key)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, "0b7f", got.msg.MessageId)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(got.msg.Body, &body))
	assert.Equal(t, "0b7f", body["event_id"])
	assert.Equal(t, map[string]interface{}{"7": float64(8)}, body["stock_remaining"])
}

// 5回続けて失敗したらブレーカーが開いて送らなくなる
func TestRabbitPublisher_BreakerOpens(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ch := &fakeChannel{err: errors.New("channel closed")}
	p := NewRabbitPublisher(ch, "orders", zap.New(core))

	for i := 0; i < 5; i++ {
		err := p.PublishOrderPlaced(context.Background(), sampleEvent())
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}

	err := p.PublishOrderPlaced(context.Background(), sampleEvent())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 1, logs.FilterMessage("circuit breaker state changed").Len())
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewLogPublisher(zap.New(core))

	require.NoError(t, p.PublishOrderPlaced(context.Background(), sampleEvent()))
	entries := logs.FilterMessage("order placed event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "0b7f", entries[0].ContextMap()["event_id"])
}
