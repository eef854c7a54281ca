package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

type HTTPMetrics interface {
	ObserveHTTPRequestDuration(method, path, code string, duration float64)
}

// path はルート定義（/products/:id）で集計する
func Metrics(m HTTPMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			m.ObserveHTTPRequestDuration(
				c.Request().Method,
				path,
				strconv.Itoa(status),
				time.Since(start).Seconds(),
			)
			return err
		}
	}
}
