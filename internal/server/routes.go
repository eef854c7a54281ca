package server

import (
	"orderapi/internal/handler"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handlers struct {
	Product *handler.ProductHandler
	Order   *handler.OrderHandler
	Health  *handler.HealthHandler

	// POST /orders だけに掛ける
	OrderPlaceMW []echo.MiddlewareFunc
}

func RegisterRoutes(e *echo.Echo, h Handlers, gatherer prometheus.Gatherer) {
	h.Health.RegisterRoutes(e)
	h.Product.RegisterRoutes(e)
	h.Order.RegisterRoutes(e, h.OrderPlaceMW...)

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}
