package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/hoobean1996/shenbi-sub002/internal/application/config"
	"github.com/hoobean1996/shenbi-sub002/internal/application/constant"
	"github.com/hoobean1996/shenbi-sub002/internal/domain/events"
	"github.com/hoobean1996/shenbi-sub002/internal/infra/adapters/memory"
	"github.com/hoobean1996/shenbi-sub002/internal/usecase"
)

// WebSocketHandler is the signaling endpoint for the peer star topology.
// Each connection gets an ephemeral id; what it may do is determined purely
// by the frames it sends (publish an address, or dial one).
type WebSocketHandler struct {
	upgrader *websocket.Upgrader

	signalingUsecase usecase.SignalingUsecase

	wsConnRepo memory.WebsocketConnectionRepository
}

func NewWebSocketHandler(cfg *config.Config, signalingUsecase usecase.SignalingUsecase, wsConnRepo memory.WebsocketConnectionRepository) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.Debug {
					return true
				}

				return r.Header.Get("Origin") == cfg.Domain
			},
		},
		signalingUsecase: signalingUsecase,
		wsConnRepo:       wsConnRepo,
	}
}

func (h *WebSocketHandler) Handle(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"WebSocket upgrade error",
			slog.Any(constant.Error, err),
		)
		return err
	}
	defer ws.Close()

	connID := uuid.New()

	h.wsConnRepo.Add(connID, ws)
	defer h.wsConnRepo.Remove(connID)
	defer h.signalingUsecase.HandleDisconnect(c.Request().Context(), connID)

	if err = ws.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		return err
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			case <-c.Request().Context().Done():
				return
			}
		}
	}()

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			h.logClose(connID, err)
			return nil
		}

		signalMessage := new(events.Message)

		if err = json.Unmarshal(msg, &signalMessage); err != nil {
			slog.Error("unmarshal websocket message", slog.Any(constant.Error, err))
			return nil
		}

		if err = h.handleMessage(c.Request().Context(), connID, signalMessage); err != nil {
			slog.Error("handle message", slog.Any(constant.Error, err))
		}
	}
}

func (h *WebSocketHandler) handleMessage(
	ctx context.Context,
	connID uuid.UUID,
	msg *events.Message,
) error {
	switch msg.Type {
	case events.TypePublish:
		var ev events.PublishEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return fmt.Errorf("unmarshal publish event: %w", err)
		}
		h.signalingUsecase.HandlePublish(ctx, connID, ev)

	case events.TypeDial:
		var ev events.DialEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return fmt.Errorf("unmarshal dial event: %w", err)
		}
		h.signalingUsecase.HandleDial(ctx, connID, ev)

	case events.TypeOffer, events.TypeAnswer:
		var ev events.SDPEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return fmt.Errorf("unmarshal sdp event: %w", err)
		}
		h.signalingUsecase.HandleSDP(ctx, connID, msg.Type, ev)

	case events.TypeCandidate:
		var ev events.CandidateEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return fmt.Errorf("unmarshal ice candidate: %w", err)
		}
		h.signalingUsecase.HandleCandidate(ctx, connID, ev)

	case events.TypePing:
		h.signalingUsecase.HandlePing(ctx, connID)

	default:
		return errors.New("unknown message type")
	}

	return nil
}

func (h *WebSocketHandler) logClose(connID uuid.UUID, err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			slog.Info("signaling peer disconnected", slog.String("conn_id", connID.String()))
		default:
			slog.Error("websocket close error", slog.Int("code", closeErr.Code))
		}
	} else {
		slog.Error(
			"websocket read",
			slog.Any(constant.Error, err),
		)
	}
}
