package repository

import (
	"context"
	"fmt"
	"time"

	repo "orderapi/internal/repository"

	"gorm.io/gorm"
)

type txReposGorm struct {
	products  repo.ProductRepository
	orders    repo.OrderRepository
	inventory repo.InventoryRepository
}

func (r *txReposGorm) Products() repo.ProductRepository    { return r.products }
func (r *txReposGorm) Orders() repo.OrderRepository        { return r.orders }
func (r *txReposGorm) Inventory() repo.InventoryRepository { return r.inventory }

type TxManagerGorm struct {
	db          *gorm.DB
	lockTimeout time.Duration
}

// lockTimeout が 0 ならロック待ちは無制限
func NewTxManagerGorm(db *gorm.DB, lockTimeout time.Duration) *TxManagerGorm {
	return &TxManagerGorm{db: db, lockTimeout: lockTimeout}
}

func (tm *TxManagerGorm) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	var fnErr error
	err := tm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tm.lockTimeout > 0 {
			// SET LOCAL はこの Tx の間だけ有効。パラメータは bind できない
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", tm.lockTimeout.Milliseconds())
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}

		//repoはtxを持ったDBで作り直す
		r := &txReposGorm{
			products:  NewProductGormRepository(tx),
			orders:    NewOrderGormRepository(tx),
			inventory: NewInventoryGormRepository(tx),
		}
		fnErr = fn(r)
		return fnErr
	})
	if err != nil && err != fnErr {
		// fn が返したエラーはそのまま、SET / commit の DB エラーだけ寄せる
		return translate(err)
	}
	return err
}
