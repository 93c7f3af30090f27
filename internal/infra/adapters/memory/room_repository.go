package memory

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hoobean1996/shenbi-sub002/internal/application/constant"
	"github.com/hoobean1996/shenbi-sub002/internal/application/metric"
	"github.com/hoobean1996/shenbi-sub002/internal/domain"
)

// RoomRepository holds the live, authoritative rooms. Rooms are short-lived
// and expire absolutely; expiry is applied lazily on Get and by Sweep.
type RoomRepository interface {
	// Create stores the room built by the factory under a fresh unique
	// code. The factory receives the code so the room carries it.
	Create(factory func(code string) *domain.Room) *domain.Room

	Get(code string) (*domain.Room, bool)
	Delete(code string)

	// Mutate runs fn against the room under the repository lock so
	// concurrent transitions serialize. fn returning domain.ErrRoomGone
	// deletes the room.
	Mutate(code string, fn func(*domain.Room) error) error

	// Sweep drops every expired room and returns how many were dropped.
	Sweep(now time.Time) int
}

type roomRepository struct {
	rooms map[string]*domain.Room
	mu    sync.RWMutex
}

func NewRoomRepository() RoomRepository {
	return &roomRepository{
		rooms: make(map[string]*domain.Room),
	}
}

func (r *roomRepository) Create(factory func(code string) *domain.Room) *domain.Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	var code string
	for {
		code = domain.GenerateCode()
		if _, taken := r.rooms[code]; !taken {
			break
		}
	}

	room := factory(code)
	r.rooms[code] = room
	r.updateGauges()

	slog.Info("room created",
		slog.String(constant.RoomCode, code),
		slog.String(constant.RoomKind, string(room.Kind)),
	)

	return room
}

func (r *roomRepository) Get(code string) (*domain.Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[code]
	if !ok {
		return nil, false
	}
	if room.Expired(time.Now()) {
		delete(r.rooms, code)
		r.updateGauges()
		return nil, false
	}
	return room, true
}

func (r *roomRepository) Delete(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.rooms, code)
	r.updateGauges()
}

func (r *roomRepository) Mutate(code string, fn func(*domain.Room) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[code]
	if !ok || room.Expired(time.Now()) {
		delete(r.rooms, code)
		r.updateGauges()
		return domain.ErrRoomNotFound
	}

	err := fn(room)
	if errors.Is(err, domain.ErrRoomGone) {
		delete(r.rooms, code)
		r.updateGauges()
		return nil
	}
	return err
}

func (r *roomRepository) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for code, room := range r.rooms {
		if room.Expired(now) {
			delete(r.rooms, code)
			dropped++
		}
	}
	if dropped > 0 {
		r.updateGauges()
		slog.Info("swept expired rooms", slog.Int("count", dropped))
	}
	return dropped
}

// callers must hold mu
func (r *roomRepository) updateGauges() {
	counts := map[domain.Kind]int{domain.KindBattle: 0, domain.KindClassroom: 0}
	for _, room := range r.rooms {
		counts[room.Kind]++
	}
	for kind, n := range counts {
		metric.SetLiveRooms(string(kind), n)
	}
}
