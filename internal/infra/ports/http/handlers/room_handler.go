package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hoobean1996/shenbi-sub002/internal/application/constant"
	"github.com/hoobean1996/shenbi-sub002/internal/domain"
	"github.com/hoobean1996/shenbi-sub002/internal/infra/adapters/postgres/repository"
	"github.com/hoobean1996/shenbi-sub002/internal/infra/appctx"
	"github.com/hoobean1996/shenbi-sub002/internal/infra/ports/http/dto"
	"github.com/hoobean1996/shenbi-sub002/internal/usecase"
)

type RoomHandler struct {
	roomUsecase usecase.RoomUsecase
}

func NewRoomHandler(roomUsecase usecase.RoomUsecase) *RoomHandler {
	return &RoomHandler{roomUsecase: roomUsecase}
}

func (h *RoomHandler) CreateBattle(c echo.Context) error {
	var req dto.CreateBattleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if req.HostName == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "host_name is required"})
	}

	snap, token, err := h.roomUsecase.CreateBattle(c.Request().Context(), req.HostName)
	if err != nil {
		return h.writeError(c, "create battle", err)
	}

	return c.JSON(http.StatusCreated, dto.RoomResponse{Snapshot: snap, Token: token})
}

func (h *RoomHandler) JoinBattle(c echo.Context) error {
	var req dto.JoinRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "name is required"})
	}

	snap, token, err := h.roomUsecase.JoinBattle(c.Request().Context(), req.Code, req.Name)
	if err != nil {
		return h.writeError(c, "join battle", err)
	}

	return c.JSON(http.StatusOK, dto.RoomResponse{Snapshot: snap, Token: token})
}

func (h *RoomHandler) CreateClassroomSession(c echo.Context) error {
	classroomID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid classroom id"})
	}

	var req dto.CreateClassroomSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if req.TeacherName == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "teacher_name is required"})
	}

	snap, token, err := h.roomUsecase.CreateClassroomSession(c.Request().Context(), classroomID, req.TeacherName)
	if err != nil {
		return h.writeError(c, "create classroom session", err)
	}

	return c.JSON(http.StatusCreated, dto.RoomResponse{Snapshot: snap, Token: token})
}

func (h *RoomHandler) JoinSession(c echo.Context) error {
	var req dto.JoinRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "name is required"})
	}

	snap, token, err := h.roomUsecase.JoinByCode(c.Request().Context(), req.Code, req.Name)
	if err != nil {
		return h.writeError(c, "join session", err)
	}

	return c.JSON(http.StatusOK, dto.RoomResponse{Snapshot: snap, Token: token})
}

// Fetch returns the role-projected state of the caller's room; one call of
// this handler is one reconciliation tick for a polling client.
func (h *RoomHandler) Fetch(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return h.writeError(c, "authorize session", err)
	}

	snap, err := h.roomUsecase.Fetch(c.Request().Context(), sess)
	if err != nil {
		return h.writeError(c, "fetch room", err)
	}

	return c.JSON(http.StatusOK, dto.SnapshotResponse{Snapshot: snap})
}

// History returns the archived runs recorded under a code. Empty when the
// archive is not configured.
func (h *RoomHandler) History(c echo.Context) error {
	sessions, err := h.roomUsecase.History(c.Request().Context(), c.Param("code"))
	if err != nil {
		return h.writeError(c, "session history", err)
	}
	if sessions == nil {
		sessions = []*repository.ArchivedSession{}
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": sessions})
}

// Rejoin restores membership after a client reload, using the token the
// client kept across it.
func (h *RoomHandler) Rejoin(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return h.writeError(c, "authorize session", err)
	}

	snap, err := h.roomUsecase.Rejoin(c.Request().Context(), sess)
	if err != nil {
		return h.writeError(c, "rejoin room", err)
	}

	return c.JSON(http.StatusOK, dto.SnapshotResponse{Snapshot: snap})
}

func (h *RoomHandler) SetLevel(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return h.writeError(c, "authorize session", err)
	}

	var req dto.SetLevelRequest
	if err := c.Bind(&req); err != nil || len(req.Level) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "level is required"})
	}

	snap, err := h.roomUsecase.SetLevel(c.Request().Context(), sess, req.Level)
	if err != nil {
		return h.writeError(c, "set level", err)
	}

	return c.JSON(http.StatusOK, dto.SnapshotResponse{Snapshot: snap})
}

func (h *RoomHandler) Start(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return h.writeError(c, "authorize session", err)
	}

	var req dto.StartRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	snap, err := h.roomUsecase.Start(c.Request().Context(), sess, req.Level)
	if err != nil {
		return h.writeError(c, "start room", err)
	}

	return c.JSON(http.StatusOK, dto.SnapshotResponse{Snapshot: snap})
}

func (h *RoomHandler) Reset(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return h.writeError(c, "authorize session", err)
	}

	snap, err := h.roomUsecase.Reset(c.Request().Context(), sess)
	if err != nil {
		return h.writeError(c, "reset room", err)
	}

	return c.JSON(http.StatusOK, dto.SnapshotResponse{Snapshot: snap})
}

func (h *RoomHandler) UpdateProgress(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return h.writeError(c, "authorize session", err)
	}

	var req dto.ProgressRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	if err := h.roomUsecase.UpdateProgress(c.Request().Context(), sess, req.Stars, req.Completed); err != nil {
		return h.writeError(c, "update progress", err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *RoomHandler) End(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return h.writeError(c, "authorize session", err)
	}

	if err := h.roomUsecase.End(c.Request().Context(), sess); err != nil {
		return h.writeError(c, "end room", err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *RoomHandler) Leave(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return h.writeError(c, "authorize session", err)
	}

	if err := h.roomUsecase.Leave(c.Request().Context(), sess); err != nil {
		return h.writeError(c, "leave room", err)
	}

	return c.NoContent(http.StatusNoContent)
}

var errNoSession = errors.New("no session")

func (h *RoomHandler) session(c echo.Context) (appctx.Session, error) {
	sess, ok := appctx.SessionFrom(c.Request().Context())
	if !ok {
		return appctx.Session{}, errNoSession
	}
	// the token must belong to the room in the path
	if code := c.Param("code"); code != "" && domain.NormalizeCode(code) != sess.RoomCode {
		return appctx.Session{}, domain.ErrNotParticipant
	}
	return sess, nil
}

// writeError maps domain errors onto the HTTP taxonomy: 400 malformed
// input, 403 wrong role, 404 gone, 409 precondition violation.
func (h *RoomHandler) writeError(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, errNoSession):
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid session"})
	case errors.Is(err, domain.ErrInvalidCode):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrRoomNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotInitiator), errors.Is(err, domain.ErrNotParticipant):
		return c.JSON(http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrRoomFull),
		errors.Is(err, domain.ErrRoomClosed),
		errors.Is(err, domain.ErrBadTransition),
		errors.Is(err, domain.ErrNoLevel),
		errors.Is(err, domain.ErrLevelLocked):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		slog.Error(op, slog.Any(constant.Error, err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
