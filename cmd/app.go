package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/hoobean1996/shenbi-sub002/internal/application/config"
	"github.com/hoobean1996/shenbi-sub002/internal/application/constant"
	"github.com/hoobean1996/shenbi-sub002/internal/infra/adapters/memory"
	"github.com/hoobean1996/shenbi-sub002/internal/infra/adapters/postgres"
	"github.com/hoobean1996/shenbi-sub002/internal/infra/adapters/postgres/repository"
	"github.com/hoobean1996/shenbi-sub002/internal/infra/ports/http/handlers"
	"github.com/hoobean1996/shenbi-sub002/internal/infra/ports/http/server"
	"github.com/hoobean1996/shenbi-sub002/internal/usecase"
)

func runApp() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		slog.Error("parse config", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(
		slog.New(
			slog.NewJSONHandler(
				os.Stdout,
				&slog.HandlerOptions{Level: level},
			),
		),
	)

	// the archive is the only durable piece; everything live is in memory
	var archiveRepo repository.ArchiveRepository
	if cfg.Postgres.Enabled {
		dbConn, err := postgres.NewPostgres(ctx, cfg.Postgres.DSN())
		if err != nil {
			slog.Error("connect to postgres", slog.Any(constant.Error, err))
			os.Exit(1)
		}
		defer dbConn.Close()

		archiveRepo = repository.NewArchiveRepo(dbConn)
	}

	roomRepo := memory.NewRoomRepository()
	addressRegistry := memory.NewAddressRegistry()
	wsConnRepo := memory.NewWSConnectionRepository()

	roomUsecase := usecase.NewRoomUsecase(cfg, roomRepo, archiveRepo)
	signalingUsecase := usecase.NewSignalingUsecase(addressRegistry, wsConnRepo)

	roomHandler := handlers.NewRoomHandler(roomUsecase)
	wsHandler := handlers.NewWebSocketHandler(cfg, signalingUsecase, wsConnRepo)

	echoSrv := server.New(cfg, roomHandler, wsHandler)

	go sweepRooms(ctx, cfg, roomRepo)

	echoSrvCh := make(chan error, 1)
	go func() {
		echoSrvCh <- echoSrv.Start(":" + cfg.Port)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down on signal")
	case err := <-echoSrvCh:
		slog.Error(
			"HTTP server failed",
			slog.Any(constant.Error, err),
		)
		os.Exit(1)
	}

	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer timeoutCancel()

	if err := echoSrv.Shutdown(timeoutCtx); err != nil {
		slog.Error("shutdown HTTP server", slog.Any(constant.Error, err))
	}
}

// sweepRooms drops expired rooms on a fixed cadence. Lazy expiry on access
// already hides them; the sweep reclaims the memory of rooms nobody touches
// again.
func sweepRooms(ctx context.Context, cfg *config.Config, roomRepo memory.RoomRepository) {
	ticker := time.NewTicker(cfg.Rooms.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			roomRepo.Sweep(now)
		}
	}
}
