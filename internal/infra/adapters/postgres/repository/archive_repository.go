package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hoobean1996/shenbi-sub002/internal/domain"
)

// ArchivedSession is the write-only record of a finished session. Live rooms
// never touch postgres; this exists so a finished battle or lesson can be
// reviewed after the room itself has expired.
type ArchivedSession struct {
	ID               int64           `db:"id"`
	RoomCode         string          `db:"room_code"`
	Kind             string          `db:"kind"`
	ClassroomID      *int64          `db:"classroom_id"`
	HostName         string          `db:"host_name"`
	WinnerName       *string         `db:"winner_name"`
	EndReason        string          `db:"end_reason"`
	ParticipantCount int             `db:"participant_count"`
	CompletedCount   int             `db:"completed_count"`
	AverageStars     float64         `db:"average_stars"`
	Level            json.RawMessage `db:"level"`
	CreatedAt        time.Time       `db:"created_at"`
	StartedAt        *time.Time      `db:"started_at"`
	EndedAt          time.Time       `db:"ended_at"`
}

type ArchiveRepository interface {
	Archive(ctx context.Context, room *domain.Room) error
	GetByRoomCode(ctx context.Context, code string) ([]*ArchivedSession, error)
}

type archiveRepo struct {
	db *sqlx.DB
}

func NewArchiveRepo(db *sqlx.DB) ArchiveRepository {
	return &archiveRepo{db: db}
}

func (r *archiveRepo) Archive(ctx context.Context, room *domain.Room) error {
	summary := room.Summarize()

	var classroomID *int64
	if room.Kind == domain.KindClassroom {
		id := room.ClassroomID
		classroomID = &id
	}

	var winnerName *string
	if name := room.WinnerName(); name != "" {
		winnerName = &name
	}

	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO session_archive
			(room_code, kind, classroom_id, host_name, winner_name, end_reason,
			 participant_count, completed_count, average_stars, level, created_at, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		room.Code,
		room.Kind,
		classroomID,
		room.Host.Name,
		winnerName,
		room.EndReason,
		summary.ParticipantCount,
		summary.CompletedCount,
		summary.AverageStars,
		[]byte(room.Level),
		room.CreatedAt,
		room.StartedAt,
	)

	return err
}

func (r *archiveRepo) GetByRoomCode(ctx context.Context, code string) ([]*ArchivedSession, error) {
	var sessions []*ArchivedSession

	err := r.db.SelectContext(
		ctx,
		&sessions,
		"SELECT * FROM session_archive WHERE room_code = $1 ORDER BY ended_at DESC",
		code,
	)
	if err != nil {
		return nil, err
	}

	return sessions, nil
}
