package event

import (
	"context"

	"orderapi/internal/usecase"

	"go.uber.org/zap"
)

// AMQP_URL が無いときはログに出すだけ
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) PublishOrderPlaced(ctx context.Context, evt usecase.OrderPlacedEvent) error {
	p.log.Info("order placed event",
		zap.String("event_id", evt.EventID),
		zap.Time("occurred_at", evt.OccurredAt),
		zap.Int("orders", len(evt.Orders)),
	)
	return nil
}
