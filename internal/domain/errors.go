package domain

import "errors"

var (
	// ErrRoomNotFound - room code does not resolve to a live room (never
	// existed, expired, or deleted).
	ErrRoomNotFound = errors.New("room not found")

	// ErrRoomGone - the initiator abandoned the room before play began;
	// the repository layer must delete it outright.
	ErrRoomGone = errors.New("room gone")

	ErrRoomFull       = errors.New("room is full")
	ErrRoomClosed     = errors.New("room is closed for joining")
	ErrLevelLocked    = errors.New("level is locked once play has started")
	ErrNoLevel        = errors.New("no level set")
	ErrBadTransition  = errors.New("operation not allowed in current status")
	ErrNotInitiator   = errors.New("only the initiator may perform this action")
	ErrNotParticipant = errors.New("not a participant of this room")
	ErrInvalidCode    = errors.New("invalid room code")
	ErrCodeInUse      = errors.New("room code already in use")
)
