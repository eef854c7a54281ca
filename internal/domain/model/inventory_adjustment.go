package model

import "time"

//在庫変動の履歴

type AdjustmentReason string

const (
	// 注文確定による減算
	AdjustmentReasonOrder AdjustmentReason = "order"
	// 商品更新での在庫変更
	AdjustmentReasonCatalogUpdate AdjustmentReason = "catalog_update"
)

type InventoryAdjustment struct {
	ID           int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductRefID int64            `gorm:"not null;index" json:"product_ref_id"`
	Delta        int64            `gorm:"not null" json:"delta"`
	Reason       AdjustmentReason `gorm:"type:varchar(50);not null" json:"reason"`
	CreatedAt    time.Time        `gorm:"not null;autoCreateTime" json:"created_at"`
}
