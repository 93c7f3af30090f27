package dto

import (
	"encoding/json"

	"github.com/hoobean1996/shenbi-sub002/internal/domain"
)

type CreateBattleRequest struct {
	HostName string `json:"host_name"`
}

type CreateClassroomSessionRequest struct {
	TeacherName string `json:"teacher_name"`
}

// JoinRequest joins a room by its shared code, both for battle guests and
// classroom students.
type JoinRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type SetLevelRequest struct {
	Level json.RawMessage `json:"level"`
}

type StartRequest struct {
	// Level is optional: a battle host may hand the level over at start.
	Level json.RawMessage `json:"level,omitempty"`
}

type ProgressRequest struct {
	Stars     int  `json:"stars"`
	Completed bool `json:"completed"`
}

// RoomResponse is returned by operations that establish membership: the
// role-projected snapshot plus the session token for subsequent calls.
type RoomResponse struct {
	Snapshot domain.Snapshot `json:"snapshot"`
	Token    string          `json:"token"`
}

// SnapshotResponse is returned by every room operation that yields the full
// room; acknowledgement-only operations return 204 instead.
type SnapshotResponse struct {
	Snapshot domain.Snapshot `json:"snapshot"`
}
