package domain

import (
	"time"

	"github.com/google/uuid"
)

type Participant struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Role           Role      `json:"role"`
	Connected      bool      `json:"connected"`
	StarsCollected int       `json:"stars_collected"`
	Completed      bool      `json:"completed"`
	JoinedAt       time.Time `json:"joined_at"`
	// UpdatedAt stays zero until the first progress update.
	UpdatedAt time.Time `json:"updated_at"`
}

func NewParticipant(name string, role Role) *Participant {
	return &Participant{
		ID:        uuid.New(),
		Name:      name,
		Role:      role,
		Connected: true,
		JoinedAt:  time.Now(),
	}
}

// Progress is the per-participant slice of state a follower sees about
// themselves. Nil in a view means no update was ever posted.
type Progress struct {
	StarsCollected int       `json:"stars_collected"`
	Completed      bool      `json:"completed"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (p *Participant) progress() *Progress {
	if p.UpdatedAt.IsZero() {
		return nil
	}
	return &Progress{
		StarsCollected: p.StarsCollected,
		Completed:      p.Completed,
		UpdatedAt:      p.UpdatedAt,
	}
}

func (p *Participant) resetProgress() {
	p.StarsCollected = 0
	p.Completed = false
	p.UpdatedAt = time.Time{}
}
