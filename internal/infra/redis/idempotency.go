package redis

import (
	"context"
	"errors"
	"time"

	repo "orderapi/internal/repository"

	goredis "github.com/redis/go-redis/v9"
)

const pendingMarker = "__pending__"

// 冪等キーを Redis に置く。複数インスタンスで共有できる。
type IdempotencyStore struct {
	client *goredis.Client
	prefix string
}

func NewIdempotencyStore(client *goredis.Client, prefix string) *IdempotencyStore {
	return &IdempotencyStore{client: client, prefix: prefix}
}

func (s *IdempotencyStore) key(k string) string {
	return s.prefix + k
}

// SETNX と GET の間にキーが消えたときの取り直し回数
const beginAttempts = 2

var ErrKeyContended = errors.New("idempotency key changed while reading")

// SETNX で処理中マーカーを置けたら初回
func (s *IdempotencyStore) Begin(ctx context.Context, key string, ttl time.Duration) (repo.IdempotencyState, []byte, error) {
	for i := 0; i < beginAttempts; i++ {
		ok, err := s.client.SetNX(ctx, s.key(key), pendingMarker, ttl).Result()
		if err != nil {
			return repo.IdempotencyNew, nil, err
		}
		if ok {
			return repo.IdempotencyNew, nil, nil
		}

		val, err := s.client.Get(ctx, s.key(key)).Bytes()
		if errors.Is(err, goredis.Nil) {
			// 直前に消えた。もう一度取りにいく
			continue
		}
		if err != nil {
			return repo.IdempotencyNew, nil, err
		}
		if string(val) == pendingMarker {
			return repo.IdempotencyInProgress, nil, nil
		}
		return repo.IdempotencyDone, val, nil
	}
	return repo.IdempotencyNew, nil, ErrKeyContended
}

func (s *IdempotencyStore) Complete(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(key), payload, ttl).Err()
}

func (s *IdempotencyStore) Abort(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

// ヘルスチェック用
func Ping(ctx context.Context, client *goredis.Client) error {
	return client.Ping(ctx).Err()
}
