package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 商品。ID は内部キー、ProductID は注文で使うカタログ上の識別子。
type Product struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID int64           `gorm:"not null;uniqueIndex" json:"product_id"`
	Name      string          `gorm:"type:varchar(255);not null" json:"product_name"`
	Price     decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"product_price"`
	Stock     int64           `gorm:"not null;check:chk_products_stock,stock >= 0" json:"product_stock"`
	CreatedAt time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
