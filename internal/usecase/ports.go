package usecase

import (
	"context"
	"time"
)

// 現在の時間
type Clock interface {
	Now() time.Time
}

// UUID 等のIDを作る約束
type IDGenerator interface {
	NewID() string
}

// 注文確定イベントの送り先（commit 後に呼ぶ）
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, evt OrderPlacedEvent) error
}

type Metrics interface {
	RecordOrderBatch(result string, lines int)
	RecordReservation(result string, duration time.Duration)
}
