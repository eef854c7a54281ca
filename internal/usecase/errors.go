package usecase

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	//400 商品が無い
	ErrProductNotFound = errors.New("product not found")
	//400 数量が0以下
	ErrInvalidQuantity = errors.New("invalid quantity")
	//400 明細が空
	ErrInvalidBatch = errors.New("invalid batch")
	//400 受付時点の在庫不足（ロック前なので古い可能性あり）
	ErrInsufficientStockPreCheck = errors.New("insufficient stock (pre-check)")
	//400 ロック中の在庫不足（こちらが正）
	ErrInsufficientStockAtCommit = errors.New("insufficient stock")
	//409 ロック待ちタイムアウト
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	//409 同じ冪等キーで処理中
	ErrRequestInProgress = errors.New("request in progress")
)

// HTTPError はハンドラでそのまま JSON にするエラー。
// Err に上の sentinel を入れておくと errors.Is で判定できる。
type HTTPError struct {
	Status  int
	Message string
	Field   string
	Err     error
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

func NewHTTPError(status int, message string) error {
	return &HTTPError{
		Status:  status,
		Message: message,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

func fieldError(cause error, field string, message string) error {
	return &HTTPError{
		Status:  http.StatusBadRequest,
		Message: message,
		Field:   field,
		Err:     cause,
	}
}

func dbError(err error) error {
	return &HTTPError{
		Status:  http.StatusInternalServerError,
		Message: "db error",
		Err:     err,
	}
}
