package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hoobean1996/shenbi-sub002/internal/application/config"
	"github.com/hoobean1996/shenbi-sub002/internal/infra/ports/http/handlers"
	"github.com/hoobean1996/shenbi-sub002/internal/infra/ports/http/middleware"
)

func New(
	cfg *config.Config,
	roomHandler *handlers.RoomHandler,
	wsHandler *handlers.WebSocketHandler,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.SlogLogger())
	e.Use(middleware.Prometheus())

	e.GET("/healthz", func(c echo.Context) error { return c.NoContent(200) })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			// membership-establishing operations mint their own token
			v1.POST("/battles", roomHandler.CreateBattle)
			v1.POST("/battles/join", roomHandler.JoinBattle)
			v1.POST("/classrooms/:id/sessions", roomHandler.CreateClassroomSession)
			v1.POST("/sessions/join", roomHandler.JoinSession)

			// the signaling namespace for the peer star topology
			v1.GET("/ws", wsHandler.Handle)

			v1.GET("/archive/:code", roomHandler.History)

			rooms := v1.Group("/rooms")
			rooms.Use(middleware.SessionAuthMiddleware(cfg.SessionSecret))
			{
				rooms.GET("/:code", roomHandler.Fetch)
				rooms.POST("/:code/rejoin", roomHandler.Rejoin)
				rooms.PUT("/:code/level", roomHandler.SetLevel)
				rooms.POST("/:code/start", roomHandler.Start)
				rooms.POST("/:code/reset", roomHandler.Reset)
				rooms.POST("/:code/progress", roomHandler.UpdateProgress)
				rooms.POST("/:code/end", roomHandler.End)
				rooms.POST("/:code/leave", roomHandler.Leave)
			}
		}
	}

	return e
}
