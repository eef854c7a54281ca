package handler

import (
	"net/http"

	"orderapi/internal/usecase"

	"github.com/labstack/echo/v4"
)

type OrderHandler struct {
	uc *usecase.OrderUsecase
}

func NewOrderHandler(uc *usecase.OrderUsecase) *OrderHandler {
	return &OrderHandler{uc: uc}
}

type orderLineRequest struct {
	ProductID int64 `json:"product_id"`
	OrderQty  int64 `json:"order_qty"`
}

type OrderCreateRequest struct {
	Items []orderLineRequest `json:"items"`
}

// placeMW は POST /orders だけに掛ける（レート制限など）
func (h *OrderHandler) RegisterRoutes(e *echo.Echo, placeMW ...echo.MiddlewareFunc) {
	g := e.Group("/orders")
	g.POST("", h.create, placeMW...)
	g.GET("/today", h.today)
	g.GET("/daily", h.daily)
}

func (h *OrderHandler) create(c echo.Context) error {
	var req OrderCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	items := make([]usecase.OrderLineInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, usecase.OrderLineInput{
			ProductID: it.ProductID,
			Quantity:  it.OrderQty,
		})
	}

	//二重送信防止キーはヘッダーから受け取る（bodyには入れない）
	idemKey := c.Request().Header.Get("X-Idempotency-Key")

	out, err := h.uc.PlaceOrder(c.Request().Context(), usecase.PlaceOrderInput{
		Items:          items,
		IdempotencyKey: idemKey,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *OrderHandler) today(c echo.Context) error {
	out, err := h.uc.TodayReport(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *OrderHandler) daily(c echo.Context) error {
	date := c.QueryParam("date")
	if date == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "date required", Field: "date"})
	}

	out, err := h.uc.DailyReportByDate(c.Request().Context(), date)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
