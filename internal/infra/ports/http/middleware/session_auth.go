package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hoobean1996/shenbi-sub002/internal/infra/appctx"
	"github.com/hoobean1996/shenbi-sub002/internal/usecase"
)

// SessionAuthMiddleware resolves the participant session token issued on
// create/join. Tokens arrive as a Bearer header or, for the websocket
// endpoint, as a query parameter.
func SessionAuthMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearerToken(c)
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing session token"})
			}

			sess, err := usecase.ParseSessionToken([]byte(secret), raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or expired session token"})
			}

			c.SetRequest(
				c.Request().WithContext(
					appctx.WithSession(c.Request().Context(), sess),
				),
			)

			return next(c)
		}
	}
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.QueryParam("token")
}
