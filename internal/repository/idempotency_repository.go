package repository

import (
	"context"
	"time"
)

type IdempotencyState int

const (
	// 初回。呼び出し側で処理して Complete / Abort する
	IdempotencyNew IdempotencyState = iota
	// 同じキーで処理中
	IdempotencyInProgress
	// 処理済み。保存済みの結果を返す
	IdempotencyDone
)

// 同じキーなら同じ結果を返すための保存先
type IdempotencyStore interface {
	Begin(ctx context.Context, key string, ttl time.Duration) (IdempotencyState, []byte, error)
	Complete(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Abort(ctx context.Context, key string) error
}
