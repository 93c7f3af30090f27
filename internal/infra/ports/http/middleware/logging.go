package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hoobean1996/shenbi-sub002/internal/application/constant"
)

func SlogLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			slog.Info("http request",
				slog.String("method", c.Request().Method),
				slog.String("path", c.Path()),
				slog.Int(constant.Status, c.Response().Status),
				slog.Duration("duration", time.Since(start)),
			)

			return err
		}
	}
}
