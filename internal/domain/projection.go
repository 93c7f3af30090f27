package domain

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Summary holds the aggregate counts over a room's players. It is always
// recomputed from the participant table, never stored.
type Summary struct {
	ParticipantCount int     `json:"participant_count"`
	ConnectedCount   int     `json:"connected_count"`
	CompletedCount   int     `json:"completed_count"`
	AverageStars     float64 `json:"average_stars"`
}

// Summarize computes the aggregate over the room's players: both sides of a
// battle, students only in a classroom session.
func (r *Room) Summarize() Summary {
	var s Summary
	var stars int
	for _, p := range r.players() {
		s.ParticipantCount++
		if p.Connected {
			s.ConnectedCount++
		}
		if p.Completed {
			s.CompletedCount++
		}
		stars += p.StarsCollected
	}
	if s.ParticipantCount > 0 {
		s.AverageStars = float64(stars) / float64(s.ParticipantCount)
	}
	return s
}

// Snapshot is the role-projected, immutable view of a room that both the
// polling engine and the peer engines hand to their consumers. Exactly one
// of Initiator/Follower is set, selected by Role.
type Snapshot struct {
	Role      Role           `json:"role"`
	Initiator *InitiatorView `json:"initiator,omitempty"`
	Follower  *FollowerView  `json:"follower,omitempty"`
}

// Status returns the projected room status, or StatusIdle when the snapshot
// is empty.
func (s Snapshot) Status() Status {
	switch {
	case s.Initiator != nil:
		return s.Initiator.Status
	case s.Follower != nil:
		return s.Follower.Status
	default:
		return StatusIdle
	}
}

func (s Snapshot) Code() string {
	switch {
	case s.Initiator != nil:
		return s.Initiator.Code
	case s.Follower != nil:
		return s.Follower.Code
	default:
		return ""
	}
}

// InitiatorView is the full shape: complete participant table plus the
// aggregate summary.
type InitiatorView struct {
	Code         string          `json:"code"`
	Kind         Kind            `json:"kind"`
	Status       Status          `json:"status"`
	HostName     string          `json:"host_name"`
	Level        json.RawMessage `json:"level,omitempty"`
	Participants []Participant   `json:"participants"`
	WinnerID     *uuid.UUID      `json:"winner_id,omitempty"`
	WinnerName   string          `json:"winner_name,omitempty"`
	EndReason    EndReason       `json:"end_reason,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	ExpiresAt    time.Time       `json:"expires_at"`
	Summary      Summary         `json:"summary"`
}

// FollowerView exposes only the follower's own progress plus counts; no
// other participant's identity or detail leaks through it.
type FollowerView struct {
	Code          string          `json:"code"`
	Kind          Kind            `json:"kind"`
	Status        Status          `json:"status"`
	InitiatorName string          `json:"initiator_name"`
	Level         json.RawMessage `json:"level,omitempty"`
	MyProgress    *Progress       `json:"my_progress"`
	IsWinner      bool            `json:"is_winner"`
	EndReason     EndReason       `json:"end_reason,omitempty"`
	Summary       Summary         `json:"summary"`
}

// Project builds the view of r visible to the given role. selfID matters
// only for follower roles. The returned snapshot shares no mutable state
// with the room.
func Project(r *Room, role Role, selfID uuid.UUID) Snapshot {
	if role.Initiator() {
		return Snapshot{Role: role, Initiator: projectInitiator(r)}
	}
	return Snapshot{Role: role, Follower: projectFollower(r, selfID)}
}

func projectInitiator(r *Room) *InitiatorView {
	parts := make([]Participant, 0, len(r.Followers))
	for _, f := range r.Followers {
		parts = append(parts, *f)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].JoinedAt.Before(parts[j].JoinedAt) })

	return &InitiatorView{
		Code:         r.Code,
		Kind:         r.Kind,
		Status:       r.Status,
		HostName:     r.Host.Name,
		Level:        r.Level,
		Participants: parts,
		WinnerID:     r.Winner,
		WinnerName:   r.WinnerName(),
		EndReason:    r.EndReason,
		StartedAt:    r.StartedAt,
		ExpiresAt:    r.ExpiresAt,
		Summary:      r.Summarize(),
	}
}

func projectFollower(r *Room, selfID uuid.UUID) *FollowerView {
	view := &FollowerView{
		Code:          r.Code,
		Kind:          r.Kind,
		Status:        r.Status,
		InitiatorName: r.Host.Name,
		Level:         r.Level,
		EndReason:     r.EndReason,
		Summary:       r.Summarize(),
	}
	if self := r.participant(selfID); self != nil {
		view.MyProgress = self.progress()
		view.IsWinner = r.Winner != nil && *r.Winner == selfID
	}
	return view
}
