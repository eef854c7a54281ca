package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"orderapi/internal/domain/model"
	"orderapi/internal/infra/memory"
	repo "orderapi/internal/repository"
	"orderapi/internal/usecase"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// =====================
// テスト用の部品
// =====================

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("evt-%d", g.n)
}

type metricsCall struct {
	result string
	lines  int
}

type fakeMetrics struct {
	mu           sync.Mutex
	batches      []metricsCall
	reservations []string
}

func (m *fakeMetrics) RecordOrderBatch(result string, lines int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, metricsCall{result: result, lines: lines})
}

func (m *fakeMetrics) RecordReservation(result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reservations = append(m.reservations, result)
}

type PublisherMock struct{ mock.Mock }

func (m *PublisherMock) PublishOrderPlaced(ctx context.Context, evt usecase.OrderPlacedEvent) error {
	args := m.Called(ctx, evt)
	return args.Error(0)
}

var errOrderInsert = errors.New("insert failed")

var testNow = time.Date(2026, 10, 17, 10, 30, 0, 0, time.UTC)

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	return memory.NewStore(time.Second)
}

func seedProduct(t *testing.T, st *memory.Store, productID int64, name string, price string, stock int64) model.Product {
	t.Helper()
	p, err := st.Products().Create(context.Background(), model.Product{
		ProductID: productID,
		Name:      name,
		Price:     decimal.RequireFromString(price),
		Stock:     stock,
	})
	require.NoError(t, err)
	return p
}

func stockOf(t *testing.T, st *memory.Store, productID int64) int64 {
	t.Helper()
	p, err := st.Products().FindByProductID(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

func allOrders(t *testing.T, st *memory.Store) []model.Order {
	t.Helper()
	orders, err := st.Orders().ListByCreatedRange(context.Background(), time.Time{}, time.Now().AddDate(100, 0, 0))
	require.NoError(t, err)
	return orders
}

// TransactionManager をくるんで FOR UPDATE の順番を記録する
type recordingTx struct {
	inner repo.TransactionManager

	mu     sync.Mutex
	locked []int64

	// n 回目の注文作成で失敗させる（0 なら失敗しない）
	failOrderAt int
	orderCalls  int
}

func (r *recordingTx) WithinTx(ctx context.Context, fn func(repo.TxRepos) error) error {
	return r.inner.WithinTx(ctx, func(tx repo.TxRepos) error {
		return fn(&recordingRepos{TxRepos: tx, rec: r})
	})
}

func (r *recordingTx) lockOrder() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.locked...)
}

type recordingRepos struct {
	repo.TxRepos
	rec *recordingTx
}

func (r *recordingRepos) Products() repo.ProductRepository {
	return &recordingProducts{ProductRepository: r.TxRepos.Products(), rec: r.rec}
}

func (r *recordingRepos) Orders() repo.OrderRepository {
	return &failingOrders{OrderRepository: r.TxRepos.Orders(), rec: r.rec}
}

type recordingProducts struct {
	repo.ProductRepository
	rec *recordingTx
}

func (p *recordingProducts) FindByProductIDForUpdate(ctx context.Context, productID int64) (model.Product, error) {
	p.rec.mu.Lock()
	p.rec.locked = append(p.rec.locked, productID)
	p.rec.mu.Unlock()
	return p.ProductRepository.FindByProductIDForUpdate(ctx, productID)
}

type failingOrders struct {
	repo.OrderRepository
	rec *recordingTx
}

func (o *failingOrders) Create(ctx context.Context, order model.Order) (model.Order, error) {
	o.rec.mu.Lock()
	o.rec.orderCalls++
	n := o.rec.orderCalls
	o.rec.mu.Unlock()

	if o.rec.failOrderAt > 0 && n == o.rec.failOrderAt {
		return model.Order{}, errOrderInsert
	}
	return o.OrderRepository.Create(ctx, order)
}
