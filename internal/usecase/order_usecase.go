package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"orderapi/internal/domain/model"
	repo "orderapi/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const reportDateLayout = "2006-01-02"

type OrderUsecase struct {
	intake      *OrderIntake
	reservation *StockReservation
	orders      repo.OrderRepository
	idem        repo.IdempotencyStore
	publisher   EventPublisher
	metrics     Metrics
	clock       Clock
	ids         IDGenerator
	log         *zap.Logger

	loc     *time.Location
	idemTTL time.Duration

	//同じ日のレポートを同時に取りにきたら1回にまとめる
	reports singleflight.Group
}

type OrderUsecaseDeps struct {
	Intake      *OrderIntake
	Reservation *StockReservation
	Orders      repo.OrderRepository
	Idempotency repo.IdempotencyStore
	Publisher   EventPublisher
	Metrics     Metrics
	Clock       Clock
	IDs         IDGenerator
	Log         *zap.Logger

	ReportLocation *time.Location
	IdempotencyTTL time.Duration
}

func NewOrderUsecase(d OrderUsecaseDeps) *OrderUsecase {
	loc := d.ReportLocation
	if loc == nil {
		loc = time.Local
	}
	return &OrderUsecase{
		intake:      d.Intake,
		reservation: d.Reservation,
		orders:      d.Orders,
		idem:        d.Idempotency,
		publisher:   d.Publisher,
		metrics:     d.Metrics,
		clock:       d.Clock,
		ids:         d.IDs,
		log:         d.Log,
		loc:         loc,
		idemTTL:     d.IdempotencyTTL,
	}
}

type PlaceOrderInput struct {
	Items          []OrderLineInput
	IdempotencyKey string
}

type PlacedOrderOutput struct {
	OrderID   int64        `json:"order_id"`
	ProductID int64        `json:"product_id"`
	Product   string       `json:"product"`
	Qty       int64        `json:"qty"`
	Price     model.Amount `json:"price"`
	StockLeft int64        `json:"stock_left"`
}

type PlaceOrderOutput struct {
	Message string              `json:"message"`
	Orders  []PlacedOrderOutput `json:"orders"`
}

type OrderPlacedLine struct {
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderPlacedEvent struct {
	EventID        string            `json:"event_id"`
	OccurredAt     time.Time         `json:"occurred_at"`
	Orders         []OrderPlacedLine `json:"orders"`
	StockRemaining map[int64]int64   `json:"stock_remaining"`
}

// PlaceOrder は受付チェック → 在庫確保 Tx → イベント送信。
// IdempotencyKey があれば、同じキーの2回目は1回目の結果を返す。
func (u *OrderUsecase) PlaceOrder(ctx context.Context, in PlaceOrderInput) (PlaceOrderOutput, error) {
	key := strings.TrimSpace(in.IdempotencyKey)
	if len(key) > 255 {
		return PlaceOrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid idempotency key")
	}
	if key == "" {
		return u.placeOrder(ctx, in.Items)
	}

	state, payload, err := u.idem.Begin(ctx, key, u.idemTTL)
	if err != nil {
		u.log.Error("idempotency begin failed", zap.String("key", key), zap.Error(err))
		return PlaceOrderOutput{}, NewHTTPError(http.StatusServiceUnavailable, "idempotency store unavailable")
	}
	switch state {
	case repo.IdempotencyDone:
		var out PlaceOrderOutput
		if err := json.Unmarshal(payload, &out); err != nil {
			return PlaceOrderOutput{}, NewHTTPError(http.StatusInternalServerError, "internal error")
		}
		u.log.Info("idempotent replay", zap.String("key", key))
		return out, nil
	case repo.IdempotencyInProgress:
		return PlaceOrderOutput{}, &HTTPError{
			Status:  http.StatusConflict,
			Message: "request in progress",
			Err:     ErrRequestInProgress,
		}
	}

	out, err := u.placeOrder(ctx, in.Items)
	if err != nil {
		//失敗はやり直せるようにキーを消す
		if abortErr := u.idem.Abort(ctx, key); abortErr != nil {
			u.log.Warn("idempotency abort failed", zap.String("key", key), zap.Error(abortErr))
		}
		return PlaceOrderOutput{}, err
	}

	b, err := json.Marshal(out)
	if err == nil {
		err = u.idem.Complete(ctx, key, b, u.idemTTL)
	}
	if err != nil {
		//注文は commit 済みなので結果は返す
		u.log.Warn("idempotency complete failed", zap.String("key", key), zap.Error(err))
	}
	return out, nil
}

func (u *OrderUsecase) placeOrder(ctx context.Context, items []OrderLineInput) (PlaceOrderOutput, error) {
	lines, err := u.intake.Validate(ctx, items)
	if err != nil {
		u.metrics.RecordOrderBatch(resultLabel(err), len(items))
		u.log.Info("order batch rejected at intake", zap.Int("lines", len(items)), zap.Error(err))
		return PlaceOrderOutput{}, err
	}

	start := time.Now()
	res, err := u.reservation.Reserve(ctx, lines)
	result := resultLabel(err)
	u.metrics.RecordReservation(result, time.Since(start))
	u.metrics.RecordOrderBatch(result, len(lines))
	if err != nil {
		u.log.Warn("stock reservation failed",
			zap.String("result", result),
			zap.Int("lines", len(lines)),
			zap.Error(err),
		)
		return PlaceOrderOutput{}, err
	}

	u.log.Info("order placed",
		zap.Int("orders", len(res.Orders)),
		zap.Int("products", len(res.StockRemaining)),
	)
	u.publish(ctx, res)

	return toPlaceOrderOutput(res), nil
}

// commit 後なので失敗しても注文は取り消さない
func (u *OrderUsecase) publish(ctx context.Context, res ReservationResult) {
	lines := make([]OrderPlacedLine, 0, len(res.Orders))
	for _, o := range res.Orders {
		lines = append(lines, OrderPlacedLine{
			OrderID:   o.OrderID,
			ProductID: o.ProductID,
			Quantity:  o.Quantity,
			UnitPrice: o.UnitPrice,
		})
	}
	evt := OrderPlacedEvent{
		EventID:        u.ids.NewID(),
		OccurredAt:     u.clock.Now(),
		Orders:         lines,
		StockRemaining: res.StockRemaining,
	}
	if err := u.publisher.PublishOrderPlaced(ctx, evt); err != nil {
		u.log.Warn("publish order placed failed", zap.String("event_id", evt.EventID), zap.Error(err))
	}
}

func toPlaceOrderOutput(res ReservationResult) PlaceOrderOutput {
	orders := make([]PlacedOrderOutput, 0, len(res.Orders))
	for _, o := range res.Orders {
		orders = append(orders, PlacedOrderOutput{
			OrderID:   o.OrderID,
			ProductID: o.ProductID,
			Product:   o.ProductName,
			Qty:       o.Quantity,
			Price:     model.NewAmount(o.UnitPrice),
			StockLeft: res.StockRemaining[o.ProductID],
		})
	}
	return PlaceOrderOutput{Message: "Order successful", Orders: orders}
}

// メトリクスのラベル
func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrRequestInProgress) {
		return "conflict"
	}
	if he, ok := AsHTTPError(err); ok && he.Status < http.StatusInternalServerError {
		return "rejected"
	}
	return "error"
}

type ReportOrderOutput struct {
	ID            int64        `json:"id"`
	ProductID     int64        `json:"product_id"`
	ProductName   string       `json:"product_name"`
	OrderQty      int64        `json:"order_qty"`
	OrderPrice    model.Amount `json:"order_price"`
	OrderDatetime time.Time    `json:"order_datetime"`
}

type DailyReportOutput struct {
	Date string `json:"date"`
	// 単価の合計
	TotalPrice model.Amount `json:"total_price"`
	// 単価×数量の合計
	TotalAmount model.Amount        `json:"total_amount"`
	OrderCount  int                 `json:"order_count"`
	Orders      []ReportOrderOutput `json:"orders"`
}

// 今日（REPORT_TZ 基準）の注文
func (u *OrderUsecase) TodayReport(ctx context.Context) (DailyReportOutput, error) {
	return u.DailyReport(ctx, u.clock.Now())
}

// date は YYYY-MM-DD
func (u *OrderUsecase) DailyReportByDate(ctx context.Context, date string) (DailyReportOutput, error) {
	day, err := time.ParseInLocation(reportDateLayout, strings.TrimSpace(date), u.loc)
	if err != nil {
		return DailyReportOutput{}, &HTTPError{
			Status:  http.StatusBadRequest,
			Message: "invalid date (YYYY-MM-DD)",
			Field:   "date",
		}
	}
	return u.DailyReport(ctx, day)
}

func (u *OrderUsecase) DailyReport(ctx context.Context, day time.Time) (DailyReportOutput, error) {
	d := day.In(u.loc)
	from := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, u.loc)
	to := from.AddDate(0, 0, 1)
	key := from.Format(reportDateLayout)

	//クエリは最初の呼び出しの ctx から切り離す。各呼び出しは自分の ctx で待つのをやめられる
	qctx := context.WithoutCancel(ctx)
	ch := u.reports.DoChan(key, func() (interface{}, error) {
		orders, err := u.orders.ListByCreatedRange(qctx, from, to)
		if err != nil {
			return nil, dbError(err)
		}
		return toDailyReport(key, orders), nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return DailyReportOutput{}, res.Err
		}
		return res.Val.(DailyReportOutput), nil
	case <-ctx.Done():
		return DailyReportOutput{}, &HTTPError{
			Status:  http.StatusServiceUnavailable,
			Message: "request canceled",
			Err:     ctx.Err(),
		}
	}
}

func toDailyReport(date string, orders []model.Order) DailyReportOutput {
	out := make([]ReportOrderOutput, 0, len(orders))
	for _, o := range orders {
		out = append(out, ReportOrderOutput{
			ID:            o.ID,
			ProductID:     o.Product.ProductID,
			ProductName:   o.Product.Name,
			OrderQty:      o.Quantity,
			OrderPrice:    model.NewAmount(o.UnitPrice),
			OrderDatetime: o.CreatedAt,
		})
	}
	return DailyReportOutput{
		Date:        date,
		TotalPrice:  model.NewAmount(model.SumPrice(orders)),
		TotalAmount: model.NewAmount(model.SumAmount(orders)),
		OrderCount:  len(orders),
		Orders:      out,
	}
}
