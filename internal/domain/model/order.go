package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 注文1件 = 注文明細1行 = 商品1つ。作成後は変更しない。
type Order struct {
	ID           int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductRefID int64 `gorm:"not null;index" json:"-"`

	// 参照用（保存時は Omit する）
	Product Product `gorm:"foreignKey:ProductRefID;constraint:OnDelete:RESTRICT" json:"-"`

	Quantity  int64           `gorm:"not null" json:"order_qty"`
	UnitPrice decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"order_price"`
	CreatedAt time.Time       `gorm:"not null;index" json:"order_datetime"`
}

// 単価×数量
func (o Order) LinePrice() decimal.Decimal {
	return o.UnitPrice.Mul(decimal.NewFromInt(o.Quantity))
}

// SumPrice は単価（order_price）の合計。日次レポートの total_price。
func SumPrice(orders []Order) decimal.Decimal {
	total := decimal.Zero
	for _, o := range orders {
		total = total.Add(o.UnitPrice)
	}
	return total
}

// SumAmount は単価×数量の合計（実際の売上）
func SumAmount(orders []Order) decimal.Decimal {
	total := decimal.Zero
	for _, o := range orders {
		total = total.Add(o.LinePrice())
	}
	return total
}
