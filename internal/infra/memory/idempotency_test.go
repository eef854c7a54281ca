package memory

import (
	"context"
	"testing"
	"time"

	repo "orderapi/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewIdempotencyStore()
	now := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	state, _, err := s.Begin(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, repo.IdempotencyNew, state)

	state, _, err = s.Begin(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, repo.IdempotencyInProgress, state)

	require.NoError(t, s.Complete(ctx, "k", []byte(`{"ok":true}`), time.Minute))
	state, payload, err := s.Begin(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, repo.IdempotencyDone, state)
	assert.JSONEq(t, `{"ok":true}`, string(payload))

	//期限切れは新規扱い
	now = now.Add(2 * time.Minute)
	state, _, err = s.Begin(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, repo.IdempotencyNew, state)

	require.NoError(t, s.Abort(ctx, "k"))
	state, _, err = s.Begin(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, repo.IdempotencyNew, state)
}
