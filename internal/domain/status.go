package domain

// Status is the lifecycle state of a session. The idle, creating and joining
// values exist only inside a client engine; an authoritative room is born at
// waiting.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusCreating Status = "creating"
	StatusJoining  Status = "joining"
	StatusWaiting  Status = "waiting"
	StatusReady    Status = "ready"
	StatusPlaying  Status = "playing"
	StatusEnded    Status = "ended"
)

// Terminal reports whether no further transition is possible for this room
// instance. A rematch needs a fresh room code.
func (s Status) Terminal() bool {
	return s == StatusEnded
}

// EndReason explains how a room reached StatusEnded.
type EndReason string

const (
	EndCompletion EndReason = "completion"
	EndForfeit    EndReason = "forfeit"
	EndClosed     EndReason = "closed"
	EndExpired    EndReason = "expired"
)

// Kind distinguishes the two session variants. A battle caps followers at
// one; a classroom session allows many.
type Kind string

const (
	KindBattle    Kind = "battle"
	KindClassroom Kind = "classroom"
)

type Role string

const (
	RoleHost    Role = "host"
	RoleGuest   Role = "guest"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Initiator reports whether the role owns the room (sets the level, starts,
// resets and ends the session).
func (r Role) Initiator() bool {
	return r == RoleHost || r == RoleTeacher
}

func (r Role) Valid() bool {
	switch r {
	case RoleHost, RoleGuest, RoleTeacher, RoleStudent:
		return true
	}
	return false
}
