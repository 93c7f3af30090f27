package appctx

import (
	"context"

	"github.com/google/uuid"

	"github.com/hoobean1996/shenbi-sub002/internal/domain"
)

type sessionKey struct{}

// Session identifies the calling participant within one room, as carried by
// the signed session token.
type Session struct {
	ParticipantID uuid.UUID
	RoomCode      string
	Role          domain.Role
}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func SessionFrom(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}
