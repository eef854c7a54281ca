package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"orderapi/internal/domain/model"
	repo "orderapi/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ProductUsecase struct {
	productRepo   repo.ProductRepository
	inventoryRepo repo.InventoryRepository
	tx            repo.TransactionManager
	log           *zap.Logger
}

// DI
func NewProductUsecase(
	productRepo repo.ProductRepository,
	inventoryRepo repo.InventoryRepository,
	tx repo.TransactionManager,
	log *zap.Logger,
) *ProductUsecase {
	return &ProductUsecase{
		productRepo:   productRepo,
		inventoryRepo: inventoryRepo,
		tx:            tx,
		log:           log,
	}
}

// POST /products, PUT /products/:id の入力DTO
type ProductInput struct {
	ProductID int64
	Name      string
	Price     decimal.Decimal
	Stock     int64
}

func (in ProductInput) validate() error {
	if in.ProductID <= 0 {
		return &HTTPError{Status: http.StatusBadRequest, Message: "product_id must be > 0", Field: "product_id"}
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return &HTTPError{Status: http.StatusBadRequest, Message: "product_name required", Field: "product_name"}
	}
	if len(name) > 255 {
		return &HTTPError{Status: http.StatusBadRequest, Message: "product_name too long", Field: "product_name"}
	}
	if in.Price.IsNegative() {
		return &HTTPError{Status: http.StatusBadRequest, Message: "product_price must be >= 0", Field: "product_price"}
	}
	//numeric(10,2) に収まるか
	if !in.Price.Equal(in.Price.Round(2)) {
		return &HTTPError{Status: http.StatusBadRequest, Message: "product_price has too many decimals", Field: "product_price"}
	}
	if in.Price.GreaterThanOrEqual(decimal.New(1, 8)) {
		return &HTTPError{Status: http.StatusBadRequest, Message: "product_price too large", Field: "product_price"}
	}
	if in.Stock < 0 {
		return &HTTPError{Status: http.StatusBadRequest, Message: "product_stock must be >= 0", Field: "product_stock"}
	}
	return nil
}

func (u *ProductUsecase) List(ctx context.Context) ([]model.Product, error) {
	items, err := u.productRepo.List(ctx)
	if err != nil {
		return nil, dbError(err)
	}
	return items, nil
}

func (u *ProductUsecase) Get(ctx context.Context, id int64) (model.Product, error) {
	if id <= 0 {
		return model.Product{}, NewHTTPError(http.StatusBadRequest, "invalid product id")
	}

	p, err := u.productRepo.FindByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Product{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return model.Product{}, dbError(err)
	}
	return p, nil
}

func (u *ProductUsecase) Create(ctx context.Context, in ProductInput) (model.Product, error) {
	if err := in.validate(); err != nil {
		return model.Product{}, err
	}

	p, err := u.productRepo.Create(ctx, model.Product{
		ProductID: in.ProductID,
		Name:      strings.TrimSpace(in.Name),
		Price:     in.Price.Round(2),
		Stock:     in.Stock,
	})
	if errors.Is(err, repo.ErrDuplicate) {
		return model.Product{}, duplicateError()
	}
	if err != nil {
		return model.Product{}, dbError(err)
	}

	u.log.Info("product created", zap.Int64("id", p.ID), zap.Int64("product_id", p.ProductID))
	return p, nil
}

// Update は行ロックを取ってから書き換える（注文の在庫確保と直列になる）。
// 在庫が変わったら履歴も同じ Tx で残す。
func (u *ProductUsecase) Update(ctx context.Context, id int64, in ProductInput) (model.Product, error) {
	if id <= 0 {
		return model.Product{}, NewHTTPError(http.StatusBadRequest, "invalid product id")
	}
	if err := in.validate(); err != nil {
		return model.Product{}, err
	}

	var updated model.Product
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		cur, err := lockByID(ctx, r, id)
		if err != nil {
			return err
		}

		next := cur
		next.ProductID = in.ProductID
		next.Name = strings.TrimSpace(in.Name)
		next.Price = in.Price.Round(2)
		next.Stock = in.Stock

		if err := r.Products().Update(ctx, next); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return duplicateError()
			}
			return dbError(err)
		}

		if delta := in.Stock - cur.Stock; delta != 0 {
			if err := r.Inventory().CreateAdjustment(ctx, model.InventoryAdjustment{
				ProductRefID: cur.ID,
				Delta:        delta,
				Reason:       model.AdjustmentReasonCatalogUpdate,
			}); err != nil {
				return dbError(err)
			}
		}

		updated, err = r.Products().FindByID(ctx, id)
		if err != nil {
			return dbError(err)
		}
		return nil
	})
	if err != nil {
		return model.Product{}, txError(err)
	}

	u.log.Info("product updated", zap.Int64("id", updated.ID), zap.Int64("stock", updated.Stock))
	return updated, nil
}

// 注文から参照されている商品は消せない（409）
func (u *ProductUsecase) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return NewHTTPError(http.StatusBadRequest, "invalid product id")
	}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if _, err := lockByID(ctx, r, id); err != nil {
			return err
		}
		if err := r.Products().Delete(ctx, id); err != nil {
			if errors.Is(err, repo.ErrInUse) {
				return NewHTTPError(http.StatusConflict, "product has orders")
			}
			if errors.Is(err, repo.ErrNotFound) {
				return NewHTTPError(http.StatusNotFound, "not found")
			}
			return dbError(err)
		}
		return nil
	})
	if err != nil {
		return txError(err)
	}

	u.log.Info("product deleted", zap.Int64("id", id))
	return nil
}

// 在庫変動の履歴（古い順）
func (u *ProductUsecase) ListAdjustments(ctx context.Context, id int64) ([]model.InventoryAdjustment, error) {
	if _, err := u.Get(ctx, id); err != nil {
		return nil, err
	}
	items, err := u.inventoryRepo.ListAdjustments(ctx, id)
	if err != nil {
		return nil, dbError(err)
	}
	return items, nil
}

// 内部キーで引いて、product_id で行ロックを取り直す
func lockByID(ctx context.Context, r repo.TxRepos, id int64) (model.Product, error) {
	p, err := r.Products().FindByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Product{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return model.Product{}, dbError(err)
	}

	locked, err := r.Products().FindByProductIDForUpdate(ctx, p.ProductID)
	switch {
	case err == nil:
	case errors.Is(err, repo.ErrNotFound):
		return model.Product{}, NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, repo.ErrLockTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return model.Product{}, conflictError(err)
	default:
		return model.Product{}, dbError(err)
	}
	//ロック待ちの間に product_id が変わった
	if locked.ID != id {
		return model.Product{}, conflictError(repo.ErrLockTimeout)
	}
	return locked, nil
}

func txError(err error) error {
	if _, ok := AsHTTPError(err); ok {
		return err
	}
	if errors.Is(err, repo.ErrDuplicate) {
		return duplicateError()
	}
	if errors.Is(err, repo.ErrInUse) {
		return NewHTTPError(http.StatusConflict, "product has orders")
	}
	if errors.Is(err, repo.ErrLockTimeout) {
		return conflictError(err)
	}
	if errors.Is(err, repo.ErrCheckViolation) {
		return &HTTPError{Status: http.StatusBadRequest, Message: "product_stock must be >= 0", Field: "product_stock", Err: err}
	}
	return dbError(err)
}

func duplicateError() error {
	return &HTTPError{
		Status:  http.StatusConflict,
		Message: "product_id already exists",
		Field:   "product_id",
		Err:     repo.ErrDuplicate,
	}
}
