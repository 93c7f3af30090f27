// Package resume keeps enough of a live session on disk that a restarted
// client can rejoin the room it was in instead of starting over.
package resume

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hoobean1996/shenbi-sub002/internal/application/constant"
	"github.com/hoobean1996/shenbi-sub002/internal/domain"
)

// Ref is the minimal record needed to resume: which room, as whom, and the
// credential to get back in. One Ref is kept per room kind, so an open battle
// and an open classroom session never clobber each other.
type Ref struct {
	RoomCode    string      `json:"room_code"`
	Role        domain.Role `json:"role"`
	DisplayName string      `json:"display_name"`
	Token       string      `json:"token,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Backend is the persistence side of the store.
type Backend interface {
	Get(kind domain.Kind) (*Ref, error)
	Set(kind domain.Kind, ref Ref) error
	Clear(kind domain.Kind) error
}

// FileBackend stores one JSON file per room kind under a directory.
type FileBackend struct {
	dir string
}

func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

func (b *FileBackend) path(kind domain.Kind) string {
	return filepath.Join(b.dir, string(kind)+".json")
}

func (b *FileBackend) Get(kind domain.Kind) (*Ref, error) {
	raw, err := os.ReadFile(b.path(kind))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read resume ref: %w", err)
	}

	var ref Ref
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, fmt.Errorf("decode resume ref: %w", err)
	}
	return &ref, nil
}

func (b *FileBackend) Set(kind domain.Kind, ref Ref) error {
	if err := os.MkdirAll(b.dir, 0o700); err != nil {
		return fmt.Errorf("create resume dir: %w", err)
	}
	raw, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("encode resume ref: %w", err)
	}
	if err := os.WriteFile(b.path(kind), raw, 0o600); err != nil {
		return fmt.Errorf("write resume ref: %w", err)
	}
	return nil
}

func (b *FileBackend) Clear(kind domain.Kind) error {
	err := os.Remove(b.path(kind))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// TTLs bound how long a ref stays resumable; past its TTL the room is
// certainly gone server-side and offering a rejoin would only fail.
type TTLs struct {
	Battle    time.Duration
	Classroom time.Duration
}

// Manager fronts a Backend with an in-memory mirror and TTL expiry. Reads
// are synchronous; writes persist in the background because losing a resume
// ref is an inconvenience, not an error.
type Manager struct {
	backend Backend
	ttls    TTLs

	mu    sync.Mutex
	cache map[domain.Kind]*Ref
}

func NewManager(backend Backend, ttls TTLs) *Manager {
	return &Manager{
		backend: backend,
		ttls:    ttls,
		cache:   make(map[domain.Kind]*Ref),
	}
}

func (m *Manager) ttl(kind domain.Kind) time.Duration {
	if kind == domain.KindBattle {
		return m.ttls.Battle
	}
	return m.ttls.Classroom
}

// Load returns the resumable ref for a kind, or nil. An expired ref is
// cleared from memory and from the backend on the way out.
func (m *Manager) Load(kind domain.Kind) *Ref {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref, cached := m.cache[kind]
	if !cached {
		stored, err := m.backend.Get(kind)
		if err != nil {
			slog.Warn("load resume ref", slog.Any(constant.Error, err))
			return nil
		}
		ref = stored
		m.cache[kind] = ref
	}

	if ref == nil {
		return nil
	}
	if time.Since(ref.CreatedAt) > m.ttl(kind) {
		m.cache[kind] = nil
		go m.clearBackend(kind)
		return nil
	}

	copied := *ref
	return &copied
}

// SaveRoom records the session under its kind. The write-behind persist is
// best effort.
func (m *Manager) SaveRoom(kind domain.Kind, ref Ref) {
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = time.Now()
	}

	m.mu.Lock()
	stored := ref
	m.cache[kind] = &stored
	m.mu.Unlock()

	go func() {
		if err := m.backend.Set(kind, ref); err != nil {
			slog.Warn("persist resume ref",
				slog.Any(constant.Error, err),
				slog.String(constant.RoomCode, ref.RoomCode),
			)
		}
	}()
}

// ClearRoom drops the ref after a session ends or the user leaves.
func (m *Manager) ClearRoom(kind domain.Kind) {
	m.mu.Lock()
	m.cache[kind] = nil
	m.mu.Unlock()

	go m.clearBackend(kind)
}

func (m *Manager) clearBackend(kind domain.Kind) {
	if err := m.backend.Clear(kind); err != nil {
		slog.Warn("clear resume ref", slog.Any(constant.Error, err))
	}
}
