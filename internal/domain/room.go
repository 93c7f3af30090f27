package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Room is the authoritative shared record for one battle or one live
// classroom session. All transition methods reject illegal preconditions
// with a sentinel error and leave the room unchanged.
type Room struct {
	Code        string
	Kind        Kind
	Status      Status
	ClassroomID int64 // classroom kind only

	Host      *Participant
	Followers map[uuid.UUID]*Participant

	// Level is an opaque payload set by the initiator, immutable once play
	// has started.
	Level json.RawMessage

	Winner    *uuid.UUID
	EndReason EndReason

	CreatedAt time.Time
	StartedAt *time.Time
	ExpiresAt time.Time
}

func NewBattle(code, hostName string, ttl time.Duration) *Room {
	now := time.Now()
	return &Room{
		Code:      code,
		Kind:      KindBattle,
		Status:    StatusWaiting,
		Host:      NewParticipant(hostName, RoleHost),
		Followers: make(map[uuid.UUID]*Participant),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func NewClassroomSession(code string, classroomID int64, teacherName string, ttl time.Duration) *Room {
	now := time.Now()
	return &Room{
		Code:        code,
		Kind:        KindClassroom,
		Status:      StatusWaiting,
		ClassroomID: classroomID,
		Host:        NewParticipant(teacherName, RoleTeacher),
		Followers:   make(map[uuid.UUID]*Participant),
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

func (r *Room) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Join adds a follower. A battle accepts exactly one guest and only while
// waiting; a classroom accepts students until play begins.
func (r *Room) Join(name string) (*Participant, error) {
	switch r.Kind {
	case KindBattle:
		if r.Status != StatusWaiting {
			return nil, ErrRoomClosed
		}
		if len(r.Followers) >= 1 {
			return nil, ErrRoomFull
		}
		guest := NewParticipant(name, RoleGuest)
		r.Followers[guest.ID] = guest
		r.Status = StatusReady
		return guest, nil

	default:
		if r.Status != StatusWaiting && r.Status != StatusReady {
			return nil, ErrRoomClosed
		}
		student := NewParticipant(name, RoleStudent)
		r.Followers[student.ID] = student
		return student, nil
	}
}

// Rejoin marks a known participant as connected again after a refresh or a
// dropped connection. Progress is kept as-is.
func (r *Room) Rejoin(id uuid.UUID) (*Participant, error) {
	p := r.participant(id)
	if p == nil {
		return nil, ErrNotParticipant
	}
	p.Connected = true
	return p, nil
}

// SetLevel replaces the payload. Allowed only before play has started; a
// classroom session becomes ready once its first level is set.
func (r *Room) SetLevel(level json.RawMessage) error {
	if r.Status == StatusPlaying || r.Status == StatusEnded {
		return ErrLevelLocked
	}
	r.Level = level
	if r.Kind == KindClassroom && r.Status == StatusWaiting {
		r.Status = StatusReady
	}
	return nil
}

// Start moves ready -> playing. A battle host may hand the level over here
// instead of a prior SetLevel.
func (r *Room) Start(level json.RawMessage) error {
	if r.Status != StatusReady {
		return ErrBadTransition
	}
	if level != nil {
		r.Level = level
	}
	if r.Level == nil {
		return ErrNoLevel
	}
	now := time.Now()
	r.StartedAt = &now
	r.Status = StatusPlaying
	return nil
}

// Reset clears every participant's progress and the winner while keeping
// membership, the level and the room code. Lands on ready so the session can
// be started again.
func (r *Room) Reset() error {
	if r.Status != StatusPlaying && r.Status != StatusEnded {
		return ErrBadTransition
	}
	r.Host.resetProgress()
	for _, f := range r.Followers {
		f.resetProgress()
	}
	r.Winner = nil
	r.EndReason = ""
	r.StartedAt = nil
	r.Status = StatusReady
	return nil
}

// UpdateProgress records a progress ping. Stars are monotonic: a lower value
// than the recorded one is ignored without error. The first completion in a
// battle decides the winner; later completions are still recorded but do not
// change it.
func (r *Room) UpdateProgress(id uuid.UUID, stars int, completed bool) error {
	if r.Status != StatusPlaying && r.Status != StatusEnded {
		return ErrBadTransition
	}
	p := r.participant(id)
	if p == nil {
		return ErrNotParticipant
	}
	if stars > p.StarsCollected {
		p.StarsCollected = stars
	}
	if completed {
		p.Completed = true
	}
	p.UpdatedAt = time.Now()

	if r.Kind == KindBattle && completed && r.Winner == nil && r.Status == StatusPlaying {
		winner := p.ID
		r.Winner = &winner
		return r.End(EndCompletion)
	}
	return nil
}

// End is terminal and idempotent: ending an ended room keeps the first
// reason.
func (r *Room) End(reason EndReason) error {
	if r.Status == StatusEnded {
		return nil
	}
	r.Status = StatusEnded
	r.EndReason = reason
	return nil
}

// Leave applies the departure rules. Deliberately asymmetric for battles:
// the host owns the room, so a host leaving before play deletes it
// (ErrRoomGone tells the repository to drop the record), while a guest
// leaving before play reverts the room to waiting. Any departure during play
// forfeits in the other party's favor.
func (r *Room) Leave(id uuid.UUID) error {
	p := r.participant(id)
	if p == nil {
		return ErrNotParticipant
	}

	if p == r.Host {
		return r.hostLeaves()
	}
	return r.followerLeaves(p)
}

func (r *Room) hostLeaves() error {
	switch r.Status {
	case StatusWaiting, StatusReady:
		if r.Kind == KindBattle {
			return ErrRoomGone
		}
		return r.End(EndClosed)
	case StatusPlaying:
		if r.Kind == KindBattle {
			if g := r.soleFollower(); g != nil {
				winner := g.ID
				r.Winner = &winner
			}
			return r.End(EndForfeit)
		}
		return r.End(EndClosed)
	default:
		r.Host.Connected = false
		return nil
	}
}

func (r *Room) followerLeaves(p *Participant) error {
	switch r.Status {
	case StatusWaiting, StatusReady:
		if r.Kind == KindBattle {
			delete(r.Followers, p.ID)
			r.Status = StatusWaiting
			return nil
		}
		p.Connected = false
		return nil
	case StatusPlaying:
		if r.Kind == KindBattle {
			winner := r.Host.ID
			r.Winner = &winner
			p.Connected = false
			return r.End(EndForfeit)
		}
		p.Connected = false
		return nil
	default:
		p.Connected = false
		return nil
	}
}

func (r *Room) participant(id uuid.UUID) *Participant {
	if r.Host != nil && r.Host.ID == id {
		return r.Host
	}
	return r.Followers[id]
}

func (r *Room) soleFollower() *Participant {
	for _, f := range r.Followers {
		return f
	}
	return nil
}

// players are the participants whose progress counts toward the summary:
// both sides of a battle, students only in a classroom.
func (r *Room) players() []*Participant {
	ps := make([]*Participant, 0, len(r.Followers)+1)
	if r.Kind == KindBattle && r.Host != nil {
		ps = append(ps, r.Host)
	}
	for _, f := range r.Followers {
		ps = append(ps, f)
	}
	return ps
}

// Clone returns a deep copy safe to read outside the repository lock.
func (r *Room) Clone() *Room {
	c := *r
	if r.Host != nil {
		host := *r.Host
		c.Host = &host
	}
	c.Followers = make(map[uuid.UUID]*Participant, len(r.Followers))
	for id, f := range r.Followers {
		follower := *f
		c.Followers[id] = &follower
	}
	if r.Winner != nil {
		winner := *r.Winner
		c.Winner = &winner
	}
	if r.StartedAt != nil {
		started := *r.StartedAt
		c.StartedAt = &started
	}
	return &c
}

// WinnerName resolves the winner id against the participant table.
func (r *Room) WinnerName() string {
	if r.Winner == nil {
		return ""
	}
	if p := r.participant(*r.Winner); p != nil {
		return p.Name
	}
	return ""
}
