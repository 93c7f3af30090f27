package usecase

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hoobean1996/shenbi-sub002/internal/domain"
	"github.com/hoobean1996/shenbi-sub002/internal/infra/appctx"
)

// SessionClaims scope a token to one participant in one room. This is not
// account authentication (that lives outside this service); it only lets the
// room API tell callers of the same room apart.
type SessionClaims struct {
	jwt.RegisteredClaims
	RoomCode string      `json:"room_code"`
	Role     domain.Role `json:"role"`
}

func IssueSessionToken(secret []byte, room *domain.Room, p *domain.Participant) (string, error) {
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID.String(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(room.ExpiresAt),
		},
		RoomCode: room.Code,
		Role:     p.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func ParseSessionToken(secret []byte, raw string) (appctx.Session, error) {
	token, err := jwt.ParseWithClaims(raw, &SessionClaims{}, func(token *jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return appctx.Session{}, fmt.Errorf("parse session token: %w", err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return appctx.Session{}, fmt.Errorf("invalid session token")
	}

	participantID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return appctx.Session{}, fmt.Errorf("invalid subject: %w", err)
	}

	return appctx.Session{
		ParticipantID: participantID,
		RoomCode:      claims.RoomCode,
		Role:          claims.Role,
	}, nil
}
