package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"slices"
	"time"

	"orderapi/internal/domain/model"
	repo "orderapi/internal/repository"

	"github.com/shopspring/decimal"
)

// 確定した注文1件（入力の1行に対応）
type ReservedOrder struct {
	OrderID      int64
	ProductRefID int64
	ProductID    int64
	ProductName  string
	Quantity     int64
	UnitPrice    decimal.Decimal
	CreatedAt    time.Time
}

type ReservationResult struct {
	Orders []ReservedOrder
	// product_id → 減算後の在庫
	StockRemaining map[int64]int64
}

// StockReservation は在庫の減算と注文作成を1つの Tx で行う。
// 在庫を書き換えるのはここだけ。
type StockReservation struct {
	tx    repo.TransactionManager
	clock Clock
}

func NewStockReservation(tx repo.TransactionManager, clock Clock) *StockReservation {
	return &StockReservation{tx: tx, clock: clock}
}

// 商品ごとの合計数量と、ロックを取る順番（product_id 昇順）
func buildDemand(lines []ValidatedLine) (map[int64]int64, []int64, error) {
	demand := make(map[int64]int64, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, nil, fieldError(ErrInvalidQuantity, "items", "Quantity must be greater than 0")
		}
		//合計が int64 を超えると在庫チェックをすり抜ける
		if demand[l.ProductID] > math.MaxInt64-l.Quantity {
			return nil, nil, fieldError(ErrInvalidQuantity, "items", fmt.Sprintf("total quantity for product %d is too large", l.ProductID))
		}
		demand[l.ProductID] += l.Quantity
	}

	ids := make([]int64, 0, len(demand))
	for id := range demand {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return demand, ids, nil
}

func (s *StockReservation) Reserve(ctx context.Context, lines []ValidatedLine) (ReservationResult, error) {
	if len(lines) == 0 {
		return ReservationResult{}, fieldError(ErrInvalidBatch, "items", "items must not be empty")
	}

	demand, ids, err := buildDemand(lines)
	if err != nil {
		return ReservationResult{}, err
	}

	var result ReservationResult
	err = s.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		//ロックして再チェック。全部通るまで書き込まない
		locked := make(map[int64]model.Product, len(ids))
		for _, pid := range ids {
			p, err := r.Products().FindByProductIDForUpdate(ctx, pid)
			if err != nil {
				return lockError(err, pid)
			}
			if p.Stock < demand[pid] {
				return insufficientStockError(p)
			}
			locked[pid] = p
		}

		//商品ごとに1回だけ減算
		remaining := make(map[int64]int64, len(ids))
		for _, pid := range ids {
			p := locked[pid]
			newStock := p.Stock - demand[pid]
			if newStock < 0 {
				return insufficientStockError(p)
			}

			if err := r.Products().UpdateStock(ctx, p.ID, newStock); err != nil {
				if errors.Is(err, repo.ErrCheckViolation) {
					return insufficientStockError(p)
				}
				return dbError(err)
			}
			if err := r.Inventory().CreateAdjustment(ctx, model.InventoryAdjustment{
				ProductRefID: p.ID,
				Delta:        -demand[pid],
				Reason:       model.AdjustmentReasonOrder,
			}); err != nil {
				return dbError(err)
			}
			remaining[pid] = newStock
		}

		//注文は入力の行ごと。価格はロック中に読んだもの
		now := s.clock.Now()
		orders := make([]ReservedOrder, 0, len(lines))
		for _, l := range lines {
			p := locked[l.ProductID]
			o, err := r.Orders().Create(ctx, model.Order{
				ProductRefID: p.ID,
				Quantity:     l.Quantity,
				UnitPrice:    p.Price,
				CreatedAt:    now,
			})
			if err != nil {
				return dbError(err)
			}
			orders = append(orders, ReservedOrder{
				OrderID:      o.ID,
				ProductRefID: p.ID,
				ProductID:    p.ProductID,
				ProductName:  p.Name,
				Quantity:     o.Quantity,
				UnitPrice:    o.UnitPrice,
				CreatedAt:    o.CreatedAt,
			})
		}

		result = ReservationResult{Orders: orders, StockRemaining: remaining}
		return nil
	})
	if err != nil {
		if _, ok := AsHTTPError(err); ok {
			return ReservationResult{}, err
		}
		//commit 時のエラー
		if errors.Is(err, repo.ErrLockTimeout) {
			return ReservationResult{}, conflictError(err)
		}
		return ReservationResult{}, dbError(err)
	}
	return result, nil
}

func insufficientStockError(p model.Product) error {
	return &HTTPError{
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf("insufficient stock for %s", p.Name),
		Err:     ErrInsufficientStockAtCommit,
	}
}

func lockError(err error, productID int64) error {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		//受付後に削除された
		return fieldError(ErrProductNotFound, "items", fmt.Sprintf("Product %d not found", productID))
	case errors.Is(err, repo.ErrLockTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return conflictError(err)
	default:
		return dbError(err)
	}
}

func conflictError(err error) error {
	return &HTTPError{
		Status:  http.StatusConflict,
		Message: "concurrency conflict",
		Err:     errors.Join(ErrConcurrencyConflict, err),
	}
}
