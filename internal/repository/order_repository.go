package repository

import (
	"context"
	"time"

	"orderapi/internal/domain/model"
)

type OrderRepository interface {
	// 作成後の order（ID が埋まったもの）を返す
	Create(ctx context.Context, order model.Order) (model.Order, error)

	// [from, to) に作成された注文を Product 付きで返す（ID 昇順）
	ListByCreatedRange(ctx context.Context, from, to time.Time) ([]model.Order, error)
}
