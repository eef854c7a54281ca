package repository

import (
	"context"
	"errors"

	repo "orderapi/internal/repository"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// PostgreSQL のエラーコード
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgLockNotAvailable    = "55P03"
	pgQueryCanceled       = "57014"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// translate は DB のエラーを repository のエラーに寄せる。
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repo.ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return repo.ErrLockTimeout
	}
	switch pgCode(err) {
	case pgUniqueViolation:
		return repo.ErrDuplicate
	case pgForeignKeyViolation:
		return repo.ErrInUse
	case pgCheckViolation:
		return repo.ErrCheckViolation
	case pgLockNotAvailable, pgQueryCanceled:
		return repo.ErrLockTimeout
	}
	return err
}
