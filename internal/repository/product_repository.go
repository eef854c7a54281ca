package repository

import (
	"context"
	"errors"

	"orderapi/internal/domain/model"
)

var (
	ErrNotFound = errors.New("not found")

	// 一意制約違反（product_id の重複など）
	ErrDuplicate = errors.New("duplicate")

	// 注文から参照されていて削除できない
	ErrInUse = errors.New("in use")

	// 行ロックを待ちきれなかった
	ErrLockTimeout = errors.New("lock timeout")

	// CHECK 制約違反（在庫がマイナスなど）
	ErrCheckViolation = errors.New("check violation")
)

// 商品の永続化（保存・取得）だけを約束。
type ProductRepository interface {
	List(ctx context.Context) ([]model.Product, error)

	// 内部キーで取得
	FindByID(ctx context.Context, id int64) (model.Product, error)

	// カタログ上の product_id で取得
	FindByProductID(ctx context.Context, productID int64) (model.Product, error)

	// 行の排他ロックを取ってから取得する。
	// ロックが取れるまでブロックし、トランザクション終了で解放される。
	FindByProductIDForUpdate(ctx context.Context, productID int64) (model.Product, error)

	Create(ctx context.Context, p model.Product) (model.Product, error)
	Update(ctx context.Context, p model.Product) error
	UpdateStock(ctx context.Context, id int64, stock int64) error
	Delete(ctx context.Context, id int64) error
}
