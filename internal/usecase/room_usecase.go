package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hoobean1996/shenbi-sub002/internal/application/config"
	"github.com/hoobean1996/shenbi-sub002/internal/application/constant"
	"github.com/hoobean1996/shenbi-sub002/internal/domain"
	"github.com/hoobean1996/shenbi-sub002/internal/infra/adapters/memory"
	"github.com/hoobean1996/shenbi-sub002/internal/infra/adapters/postgres/repository"
	"github.com/hoobean1996/shenbi-sub002/internal/infra/appctx"
)

// RoomUsecase is the authoritative side of the session contract: every
// transition of a live room goes through here, serialized by the room
// repository.
type RoomUsecase interface {
	CreateBattle(ctx context.Context, hostName string) (domain.Snapshot, string, error)
	JoinBattle(ctx context.Context, code, guestName string) (domain.Snapshot, string, error)
	CreateClassroomSession(ctx context.Context, classroomID int64, teacherName string) (domain.Snapshot, string, error)
	JoinByCode(ctx context.Context, code, studentName string) (domain.Snapshot, string, error)

	Fetch(ctx context.Context, sess appctx.Session) (domain.Snapshot, error)
	Rejoin(ctx context.Context, sess appctx.Session) (domain.Snapshot, error)
	SetLevel(ctx context.Context, sess appctx.Session, level json.RawMessage) (domain.Snapshot, error)
	Start(ctx context.Context, sess appctx.Session, level json.RawMessage) (domain.Snapshot, error)
	Reset(ctx context.Context, sess appctx.Session) (domain.Snapshot, error)
	UpdateProgress(ctx context.Context, sess appctx.Session, stars int, completed bool) error
	End(ctx context.Context, sess appctx.Session) error
	Leave(ctx context.Context, sess appctx.Session) error

	History(ctx context.Context, code string) ([]*repository.ArchivedSession, error)
}

type roomUsecase struct {
	cfg *config.Config

	roomRepo memory.RoomRepository

	// archiveRepo is nil when postgres is not configured; archiving is
	// best-effort either way.
	archiveRepo repository.ArchiveRepository
}

func NewRoomUsecase(cfg *config.Config, roomRepo memory.RoomRepository, archiveRepo repository.ArchiveRepository) RoomUsecase {
	return &roomUsecase{
		cfg:         cfg,
		roomRepo:    roomRepo,
		archiveRepo: archiveRepo,
	}
}

func (uc *roomUsecase) CreateBattle(ctx context.Context, hostName string) (domain.Snapshot, string, error) {
	room := uc.roomRepo.Create(func(code string) *domain.Room {
		return domain.NewBattle(code, hostName, uc.cfg.Rooms.BattleTTL)
	})

	token, err := IssueSessionToken([]byte(uc.cfg.SessionSecret), room, room.Host)
	if err != nil {
		uc.roomRepo.Delete(room.Code)
		return domain.Snapshot{}, "", fmt.Errorf("issue session token: %w", err)
	}

	return domain.Project(room, domain.RoleHost, room.Host.ID), token, nil
}

func (uc *roomUsecase) CreateClassroomSession(ctx context.Context, classroomID int64, teacherName string) (domain.Snapshot, string, error) {
	room := uc.roomRepo.Create(func(code string) *domain.Room {
		return domain.NewClassroomSession(code, classroomID, teacherName, uc.cfg.Rooms.ClassroomTTL)
	})

	token, err := IssueSessionToken([]byte(uc.cfg.SessionSecret), room, room.Host)
	if err != nil {
		uc.roomRepo.Delete(room.Code)
		return domain.Snapshot{}, "", fmt.Errorf("issue session token: %w", err)
	}

	return domain.Project(room, domain.RoleTeacher, room.Host.ID), token, nil
}

func (uc *roomUsecase) JoinBattle(ctx context.Context, code, guestName string) (domain.Snapshot, string, error) {
	return uc.join(code, guestName)
}

func (uc *roomUsecase) JoinByCode(ctx context.Context, code, studentName string) (domain.Snapshot, string, error) {
	return uc.join(code, studentName)
}

func (uc *roomUsecase) join(code, name string) (domain.Snapshot, string, error) {
	code = domain.NormalizeCode(code)
	if err := domain.ValidateCode(code); err != nil {
		return domain.Snapshot{}, "", err
	}

	var (
		snap  domain.Snapshot
		token string
	)
	err := uc.roomRepo.Mutate(code, func(room *domain.Room) error {
		follower, err := room.Join(name)
		if err != nil {
			return err
		}

		token, err = IssueSessionToken([]byte(uc.cfg.SessionSecret), room, follower)
		if err != nil {
			return fmt.Errorf("issue session token: %w", err)
		}

		snap = domain.Project(room, follower.Role, follower.ID)
		return nil
	})
	if err != nil {
		return domain.Snapshot{}, "", err
	}

	return snap, token, nil
}

func (uc *roomUsecase) Fetch(ctx context.Context, sess appctx.Session) (domain.Snapshot, error) {
	var snap domain.Snapshot
	err := uc.roomRepo.Mutate(sess.RoomCode, func(room *domain.Room) error {
		snap = domain.Project(room, sess.Role, sess.ParticipantID)
		return nil
	})
	if err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

// Rejoin restores a participant after a reload: the stored session token
// still identifies them, so only the connected flag needs flipping back.
func (uc *roomUsecase) Rejoin(ctx context.Context, sess appctx.Session) (domain.Snapshot, error) {
	return uc.mutateAndProject(ctx, sess, func(room *domain.Room) error {
		_, err := room.Rejoin(sess.ParticipantID)
		return err
	})
}

func (uc *roomUsecase) SetLevel(ctx context.Context, sess appctx.Session, level json.RawMessage) (domain.Snapshot, error) {
	if !sess.Role.Initiator() {
		return domain.Snapshot{}, domain.ErrNotInitiator
	}
	return uc.mutateAndProject(ctx, sess, func(room *domain.Room) error {
		return room.SetLevel(level)
	})
}

func (uc *roomUsecase) Start(ctx context.Context, sess appctx.Session, level json.RawMessage) (domain.Snapshot, error) {
	if !sess.Role.Initiator() {
		return domain.Snapshot{}, domain.ErrNotInitiator
	}
	return uc.mutateAndProject(ctx, sess, func(room *domain.Room) error {
		return room.Start(level)
	})
}

func (uc *roomUsecase) Reset(ctx context.Context, sess appctx.Session) (domain.Snapshot, error) {
	if !sess.Role.Initiator() {
		return domain.Snapshot{}, domain.ErrNotInitiator
	}
	return uc.mutateAndProject(ctx, sess, func(room *domain.Room) error {
		return room.Reset()
	})
}

// UpdateProgress is a best-effort ping from the client's point of view; the
// authority still validates it fully.
func (uc *roomUsecase) UpdateProgress(ctx context.Context, sess appctx.Session, stars int, completed bool) error {
	var ended *domain.Room
	err := uc.roomRepo.Mutate(sess.RoomCode, func(room *domain.Room) error {
		before := room.Status
		if err := room.UpdateProgress(sess.ParticipantID, stars, completed); err != nil {
			return err
		}
		if before != domain.StatusEnded && room.Status == domain.StatusEnded {
			ended = room.Clone()
		}
		return nil
	})
	if err != nil {
		return err
	}

	uc.archive(ctx, ended)
	return nil
}

func (uc *roomUsecase) End(ctx context.Context, sess appctx.Session) error {
	if !sess.Role.Initiator() {
		return domain.ErrNotInitiator
	}

	var ended *domain.Room
	err := uc.roomRepo.Mutate(sess.RoomCode, func(room *domain.Room) error {
		before := room.Status
		if err := room.End(domain.EndClosed); err != nil {
			return err
		}
		if before != domain.StatusEnded {
			ended = room.Clone()
		}
		return nil
	})
	if err != nil {
		return err
	}

	uc.archive(ctx, ended)
	return nil
}

func (uc *roomUsecase) Leave(ctx context.Context, sess appctx.Session) error {
	var ended *domain.Room
	err := uc.roomRepo.Mutate(sess.RoomCode, func(room *domain.Room) error {
		before := room.Status
		if err := room.Leave(sess.ParticipantID); err != nil {
			return err
		}
		if before != domain.StatusEnded && room.Status == domain.StatusEnded {
			ended = room.Clone()
		}
		return nil
	})
	if err != nil {
		return err
	}

	uc.archive(ctx, ended)
	return nil
}

func (uc *roomUsecase) mutateAndProject(_ context.Context, sess appctx.Session, fn func(*domain.Room) error) (domain.Snapshot, error) {
	var snap domain.Snapshot
	err := uc.roomRepo.Mutate(sess.RoomCode, func(room *domain.Room) error {
		if err := fn(room); err != nil {
			return err
		}
		snap = domain.Project(room, sess.Role, sess.ParticipantID)
		return nil
	})
	if err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

// History lists the archived runs of a code, newest first. Room codes are
// reused over time, so several unrelated sessions may share one.
func (uc *roomUsecase) History(ctx context.Context, code string) ([]*repository.ArchivedSession, error) {
	code = domain.NormalizeCode(code)
	if err := domain.ValidateCode(code); err != nil {
		return nil, err
	}
	if uc.archiveRepo == nil {
		return nil, nil
	}
	return uc.archiveRepo.GetByRoomCode(ctx, code)
}

// archive writes the finished session to postgres in the background. Failure
// is logged and forgotten: the archive is a record, not part of the
// session's correctness.
func (uc *roomUsecase) archive(ctx context.Context, room *domain.Room) {
	if room == nil || uc.archiveRepo == nil {
		return
	}

	go func() {
		if err := uc.archiveRepo.Archive(context.WithoutCancel(ctx), room); err != nil {
			slog.Error(
				"archive session",
				slog.Any(constant.Error, err),
				slog.String(constant.RoomCode, room.Code),
			)
		}
	}()
}
