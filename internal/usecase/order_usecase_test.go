package usecase_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"orderapi/internal/domain/model"
	"orderapi/internal/infra/memory"
	repo "orderapi/internal/repository"
	"orderapi/internal/usecase"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type orderFixture struct {
	st      *memory.Store
	idem    *memory.IdempotencyStore
	pub     *PublisherMock
	metrics *fakeMetrics
	logs    *observer.ObservedLogs
	uc      *usecase.OrderUsecase
}

func newOrderFixture(t *testing.T, clock usecase.Clock) *orderFixture {
	t.Helper()

	core, logs := observer.New(zap.DebugLevel)
	f := &orderFixture{
		st:      newStore(t),
		idem:    memory.NewIdempotencyStore(),
		pub:     new(PublisherMock),
		metrics: &fakeMetrics{},
		logs:    logs,
	}
	f.uc = usecase.NewOrderUsecase(usecase.OrderUsecaseDeps{
		Intake:         usecase.NewOrderIntake(f.st.Products()),
		Reservation:    usecase.NewStockReservation(f.st, clock),
		Orders:         f.st.Orders(),
		Idempotency:    f.idem,
		Publisher:      f.pub,
		Metrics:        f.metrics,
		Clock:          clock,
		IDs:            &seqIDs{},
		Log:            zap.New(core),
		ReportLocation: time.UTC,
		IdempotencyTTL: time.Hour,
	})
	return f
}

func TestOrderUsecase_PlaceOrder_Success(t *testing.T) {
	f := newOrderFixture(t, fixedClock{testNow})
	seedProduct(t, f.st, 1, "Coffee", "4.00", 10)
	seedProduct(t, f.st, 2, "Tea", "2.50", 3)

	f.pub.On("PublishOrderPlaced", mock.Anything, mock.MatchedBy(func(evt usecase.OrderPlacedEvent) bool {
		return evt.EventID == "evt-1" && len(evt.Orders) == 3 && evt.StockRemaining[1] == int64(7)
	})).Return(nil).Once()

	out, err := f.uc.PlaceOrder(context.Background(), usecase.PlaceOrderInput{
		Items: []usecase.OrderLineInput{
			{ProductID: 1, Quantity: 1},
			{ProductID: 2, Quantity: 3},
			{ProductID: 1, Quantity: 2},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Order successful", out.Message)
	require.Len(t, out.Orders, 3)
	assert.Equal(t, "Coffee", out.Orders[0].Product)
	assert.Equal(t, int64(7), out.Orders[0].StockLeft)
	assert.Equal(t, int64(0), out.Orders[1].StockLeft)
	assert.Equal(t, int64(7), out.Orders[2].StockLeft)
	assert.True(t, decimal.RequireFromString("2.5").Equal(out.Orders[1].Price.Decimal))

	f.pub.AssertExpectations(t)
	assert.Equal(t, []metricsCall{{result: "success", lines: 3}}, f.metrics.batches)
	assert.Equal(t, []string{"success"}, f.metrics.reservations)
	assert.Equal(t, 1, f.logs.FilterMessage("order placed").Len())
}

func TestOrderUsecase_PlaceOrder_IntakeRejected(t *testing.T) {
	f := newOrderFixture(t, fixedClock{testNow})
	seedProduct(t, f.st, 1, "Coffee", "4.00", 10)

	_, err := f.uc.PlaceOrder(context.Background(), usecase.PlaceOrderInput{
		Items: []usecase.OrderLineInput{{ProductID: 1, Quantity: 0}},
	})
	assert.ErrorIs(t, err, usecase.ErrInvalidQuantity)

	f.pub.AssertNotCalled(t, "PublishOrderPlaced", mock.Anything, mock.Anything)
	assert.Equal(t, []metricsCall{{result: "rejected", lines: 1}}, f.metrics.batches)
	assert.Empty(t, f.metrics.reservations)
	assert.Equal(t, int64(10), stockOf(t, f.st, 1))
}

// commit 後の送信失敗は注文結果に影響しない
func TestOrderUsecase_PlaceOrder_PublishFailureIsLogged(t *testing.T) {
	f := newOrderFixture(t, fixedClock{testNow})
	seedProduct(t, f.st, 1, "Coffee", "4.00", 10)

	f.pub.On("PublishOrderPlaced", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	out, err := f.uc.PlaceOrder(context.Background(), usecase.PlaceOrderInput{
		Items: []usecase.OrderLineInput{{ProductID: 1, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Len(t, out.Orders, 1)
	assert.Equal(t, int64(9), stockOf(t, f.st, 1))
	assert.Equal(t, 1, f.logs.FilterMessage("publish order placed failed").Len())
}

func TestOrderUsecase_PlaceOrder_IdempotentReplay(t *testing.T) {
	f := newOrderFixture(t, fixedClock{testNow})
	seedProduct(t, f.st, 1, "Coffee", "4.00", 10)

	f.pub.On("PublishOrderPlaced", mock.Anything, mock.Anything).Return(nil).Once()

	in := usecase.PlaceOrderInput{
		Items:          []usecase.OrderLineInput{{ProductID: 1, Quantity: 2}},
		IdempotencyKey: "abc",
	}
	first, err := f.uc.PlaceOrder(context.Background(), in)
	require.NoError(t, err)

	second, err := f.uc.PlaceOrder(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, first.Orders[0].OrderID, second.Orders[0].OrderID)
	assert.Equal(t, int64(8), stockOf(t, f.st, 1))
	assert.Len(t, allOrders(t, f.st), 1)
	f.pub.AssertExpectations(t)
}

// 失敗したキーはもう一度使える
func TestOrderUsecase_PlaceOrder_FailedKeyCanRetry(t *testing.T) {
	f := newOrderFixture(t, fixedClock{testNow})
	p := seedProduct(t, f.st, 1, "Coffee", "4.00", 1)

	f.pub.On("PublishOrderPlaced", mock.Anything, mock.Anything).Return(nil)

	in := usecase.PlaceOrderInput{
		Items:          []usecase.OrderLineInput{{ProductID: 1, Quantity: 2}},
		IdempotencyKey: "retry-me",
	}
	_, err := f.uc.PlaceOrder(context.Background(), in)
	assert.ErrorIs(t, err, usecase.ErrInsufficientStockPreCheck)

	p.Stock = 5
	require.NoError(t, f.st.Products().Update(context.Background(), p))

	out, err := f.uc.PlaceOrder(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, int64(3), out.Orders[0].StockLeft)
}

func TestOrderUsecase_PlaceOrder_KeyInProgress(t *testing.T) {
	f := newOrderFixture(t, fixedClock{testNow})

	state, _, err := f.idem.Begin(context.Background(), "busy", time.Hour)
	require.NoError(t, err)
	require.Equal(t, repo.IdempotencyNew, state)

	_, err = f.uc.PlaceOrder(context.Background(), usecase.PlaceOrderInput{
		Items:          []usecase.OrderLineInput{{ProductID: 1, Quantity: 1}},
		IdempotencyKey: "busy",
	})
	assertHTTPError(t, err, http.StatusConflict, "")
	assert.ErrorIs(t, err, usecase.ErrRequestInProgress)
}

func TestOrderUsecase_PlaceOrder_ConflictMetric(t *testing.T) {
	st := memory.NewStore(20 * time.Millisecond)
	metrics := &fakeMetrics{}
	core, _ := observer.New(zap.DebugLevel)
	uc := usecase.NewOrderUsecase(usecase.OrderUsecaseDeps{
		Intake:      usecase.NewOrderIntake(st.Products()),
		Reservation: usecase.NewStockReservation(st, fixedClock{testNow}),
		Orders:      st.Orders(),
		Idempotency: memory.NewIdempotencyStore(),
		Publisher:   new(PublisherMock),
		Metrics:     metrics,
		Clock:       fixedClock{testNow},
		IDs:         &seqIDs{},
		Log:         zap.New(core),
	})
	seedProduct(t, st, 1, "Coffee", "4.00", 10)

	holding := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = st.WithinTx(context.Background(), func(r repo.TxRepos) error {
			_, err := r.Products().FindByProductIDForUpdate(context.Background(), 1)
			close(holding)
			<-release
			return err
		})
	}()
	<-holding

	_, err := uc.PlaceOrder(context.Background(), usecase.PlaceOrderInput{
		Items: []usecase.OrderLineInput{{ProductID: 1, Quantity: 1}},
	})
	close(release)
	wg.Wait()

	assert.ErrorIs(t, err, usecase.ErrConcurrencyConflict)
	assert.Equal(t, []metricsCall{{result: "conflict", lines: 1}}, metrics.batches)
}

// P5 と合計金額
func TestOrderUsecase_DailyReport(t *testing.T) {
	f := newOrderFixture(t, fixedClock{testNow})
	seedProduct(t, f.st, 1, "Coffee", "4.00", 10)
	seedProduct(t, f.st, 2, "Tea", "2.50", 10)

	f.pub.On("PublishOrderPlaced", mock.Anything, mock.Anything).Return(nil)

	_, err := f.uc.PlaceOrder(context.Background(), usecase.PlaceOrderInput{
		Items: []usecase.OrderLineInput{
			{ProductID: 1, Quantity: 2},
			{ProductID: 2, Quantity: 3},
		},
	})
	require.NoError(t, err)

	first, err := f.uc.TodayReport(context.Background())
	require.NoError(t, err)
	second, err := f.uc.DailyReportByDate(context.Background(), "2026-10-17")
	require.NoError(t, err)

	assert.Equal(t, "2026-10-17", first.Date)
	assert.Equal(t, 2, first.OrderCount)
	//total_price は単価の合計、total_amount は単価×数量の合計
	assert.Equal(t, "6.50", first.TotalPrice.StringFixed(2))
	assert.Equal(t, "15.50", first.TotalAmount.StringFixed(2))
	assert.Equal(t, "Coffee", first.Orders[0].ProductName)
	assert.Equal(t, int64(3), first.Orders[1].OrderQty)
	assert.True(t, first.TotalPrice.Equal(second.TotalPrice.Decimal))
	assert.Equal(t, first.OrderCount, second.OrderCount)
}

func TestOrderUsecase_DailyReport_OtherDayIsEmpty(t *testing.T) {
	f := newOrderFixture(t, fixedClock{testNow})
	seedProduct(t, f.st, 1, "Coffee", "4.00", 10)
	f.pub.On("PublishOrderPlaced", mock.Anything, mock.Anything).Return(nil)

	_, err := f.uc.PlaceOrder(context.Background(), usecase.PlaceOrderInput{
		Items: []usecase.OrderLineInput{{ProductID: 1, Quantity: 1}},
	})
	require.NoError(t, err)

	out, err := f.uc.DailyReportByDate(context.Background(), "2026-10-16")
	require.NoError(t, err)
	assert.Equal(t, 0, out.OrderCount)
	assert.True(t, out.TotalPrice.IsZero())
	assert.True(t, out.TotalAmount.IsZero())
	assert.NotNil(t, out.Orders)
}

// 日付の境界は REPORT_TZ で切る
func TestOrderUsecase_DailyReport_UsesReportLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	st := newStore(t)
	p := seedProduct(t, st, 1, "Coffee", "4.00", 10)

	//UTC では 10/16、JST では 10/17
	ts := time.Date(2026, 10, 16, 20, 0, 0, 0, time.UTC)
	_, err := st.Orders().Create(context.Background(), model.Order{
		ProductRefID: p.ID,
		Quantity:     1,
		UnitPrice:    decimal.RequireFromString("4.00"),
		CreatedAt:    ts,
	})
	require.NoError(t, err)

	core, _ := observer.New(zap.DebugLevel)
	uc := usecase.NewOrderUsecase(usecase.OrderUsecaseDeps{
		Orders:         st.Orders(),
		Clock:          fixedClock{ts},
		Log:            zap.New(core),
		ReportLocation: tokyo,
	})

	out, err := uc.TodayReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026-10-17", out.Date)
	assert.Equal(t, 1, out.OrderCount)
}

func TestOrderUsecase_DailyReportByDate_Invalid(t *testing.T) {
	f := newOrderFixture(t, fixedClock{testNow})

	_, err := f.uc.DailyReportByDate(context.Background(), "17/10/2026")
	assertHTTPError(t, err, http.StatusBadRequest, "date")
}

// 注文一覧の取得を止めておける OrderRepository
type blockingOrders struct {
	repo.OrderRepository
	started chan struct{}
	once    sync.Once
	release chan struct{}
}

func (o *blockingOrders) ListByCreatedRange(ctx context.Context, from, to time.Time) ([]model.Order, error) {
	o.once.Do(func() { close(o.started) })
	select {
	case <-o.release:
		return o.OrderRepository.ListByCreatedRange(ctx, from, to)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// 同じ日のレポート待ちの1人がキャンセルしても、他の呼び出しは結果を受け取る
func TestOrderUsecase_DailyReport_CanceledCallerDoesNotFailOthers(t *testing.T) {
	st := newStore(t)
	p := seedProduct(t, st, 1, "Coffee", "4.00", 10)
	_, err := st.Orders().Create(context.Background(), model.Order{
		ProductRefID: p.ID,
		Quantity:     2,
		UnitPrice:    p.Price,
		CreatedAt:    testNow,
	})
	require.NoError(t, err)

	orders := &blockingOrders{
		OrderRepository: st.Orders(),
		started:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	uc := usecase.NewOrderUsecase(usecase.OrderUsecaseDeps{
		Orders:         orders,
		Clock:          fixedClock{testNow},
		Log:            zap.NewNop(),
		ReportLocation: time.UTC,
	})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := uc.TodayReport(ctxA)
		errA <- err
	}()
	<-orders.started

	type result struct {
		out usecase.DailyReportOutput
		err error
	}
	resB := make(chan result, 1)
	go func() {
		out, err := uc.TodayReport(context.Background())
		resB <- result{out, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	err = <-errA
	assertHTTPError(t, err, http.StatusServiceUnavailable, "")
	assert.ErrorIs(t, err, context.Canceled)

	close(orders.release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, 1, b.out.OrderCount)
	assert.Equal(t, "8.00", b.out.TotalAmount.StringFixed(2))
}
