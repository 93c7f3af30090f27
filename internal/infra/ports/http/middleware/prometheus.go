package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hoobean1996/shenbi-sub002/internal/application/metric"
)

func Prometheus() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			metric.RecordHTTPMetrics(
				c.Request().Method,
				c.Path(),
				c.Response().Status,
				time.Since(start),
			)

			return err
		}
	}
}
