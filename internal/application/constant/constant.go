package constant

// slog attribute keys used across the codebase.
const (
	Error         = "error"
	RoomCode      = "room_code"
	RoomKind      = "room_kind"
	ParticipantID = "participant_id"
	Role          = "role"
	Address       = "address"
	DialID        = "dial_id"
	Status        = "status"
)
