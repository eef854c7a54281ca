package repository

import (
	"context"
	"orderapi/internal/domain/model"
)

type InventoryRepository interface {
	// 調整履歴作成
	CreateAdjustment(ctx context.Context, adjustment model.InventoryAdjustment) error

	// 商品ごとの履歴（古い順）
	ListAdjustments(ctx context.Context, productRefID int64) ([]model.InventoryAdjustment, error)
}
