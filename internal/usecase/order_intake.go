package usecase

import (
	"context"
	"errors"
	"fmt"

	repo "orderapi/internal/repository"

	"github.com/shopspring/decimal"
)

// 注文明細1行の入力
type OrderLineInput struct {
	ProductID int64
	Quantity  int64
}

// 受付チェックを通った明細。商品はその時点のスナップショット。
type ValidatedLine struct {
	Index             int
	ProductRefID      int64
	ProductID         int64
	Name              string
	Price             decimal.Decimal
	StockAtValidation int64
	Quantity          int64
}

// OrderIntake は明細を1行ずつ検証する。読むだけで書き込みはしない。
type OrderIntake struct {
	products repo.ProductRepository
}

func NewOrderIntake(products repo.ProductRepository) *OrderIntake {
	return &OrderIntake{products: products}
}

// 1行でもダメならバッチ全体をエラーにする（最初のエラーを返す）
func (in *OrderIntake) Validate(ctx context.Context, lines []OrderLineInput) ([]ValidatedLine, error) {
	if len(lines) == 0 {
		return nil, fieldError(ErrInvalidBatch, "items", "items must not be empty")
	}

	out := make([]ValidatedLine, 0, len(lines))
	for i, l := range lines {
		field := fmt.Sprintf("items[%d]", i)

		//商品の存在 → 数量 → 在庫の順
		p, err := in.products.FindByProductID(ctx, l.ProductID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fieldError(ErrProductNotFound, field+".product_id", "Product not found")
		}
		if err != nil {
			return nil, dbError(err)
		}

		if l.Quantity <= 0 {
			return nil, fieldError(ErrInvalidQuantity, field+".order_qty", "Quantity must be greater than 0")
		}

		//ここは早めに知らせるための確認。正式な確認はロック後
		if l.Quantity > p.Stock {
			return nil, fieldError(ErrInsufficientStockPreCheck, field+".order_qty", "Not enough stock available")
		}

		out = append(out, ValidatedLine{
			Index:             i,
			ProductRefID:      p.ID,
			ProductID:         p.ProductID,
			Name:              p.Name,
			Price:             p.Price,
			StockAtValidation: p.Stock,
			Quantity:          l.Quantity,
		})
	}
	return out, nil
}
