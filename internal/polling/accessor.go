package polling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hoobean1996/shenbi-sub002/internal/domain"
)

// APIError is a structured failure from the remote room accessor, carrying
// the HTTP-like status so callers can tell "retry the same action" apart
// from "the session is over".
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("room api: %d %s", e.Status, e.Message)
}

// IsNotFound reports whether the error means the room no longer exists
// (expired or deleted).
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Membership is the result of an operation that establishes the caller as a
// participant: the first snapshot plus the session token for everything
// after.
type Membership struct {
	Snapshot domain.Snapshot `json:"snapshot"`
	Token    string          `json:"token"`
}

// RoomAccessor is the remote side of the polling contract. The engine takes
// it as a constructor parameter; Client is the HTTP implementation.
type RoomAccessor interface {
	CreateBattle(ctx context.Context, hostName string) (*Membership, error)
	JoinBattle(ctx context.Context, code, name string) (*Membership, error)
	CreateClassroomSession(ctx context.Context, classroomID int64, teacherName string) (*Membership, error)
	JoinSession(ctx context.Context, code, name string) (*Membership, error)

	Fetch(ctx context.Context, token, code string) (domain.Snapshot, error)
	Rejoin(ctx context.Context, token, code string) (domain.Snapshot, error)
	SetLevel(ctx context.Context, token, code string, level json.RawMessage) (domain.Snapshot, error)
	Start(ctx context.Context, token, code string, level json.RawMessage) (domain.Snapshot, error)
	Reset(ctx context.Context, token, code string) (domain.Snapshot, error)
	UpdateProgress(ctx context.Context, token, code string, stars int, completed bool) error
	End(ctx context.Context, token, code string) error
	Leave(ctx context.Context, token, code string) error
}
