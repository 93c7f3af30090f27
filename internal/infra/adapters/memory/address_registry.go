package memory

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrAddressInUse - another live connection already publishes under this
// address.
var ErrAddressInUse = errors.New("address already in use")

// AddressRegistry maps published signaling addresses to the owning
// connection. One publisher per address; publication dies with the
// connection.
type AddressRegistry interface {
	Publish(address string, connID uuid.UUID) error
	Resolve(address string) (uuid.UUID, bool)
	Unpublish(address string)

	// UnpublishConn drops every address owned by connID and returns them.
	UnpublishConn(connID uuid.UUID) []string
}

type addressRegistry struct {
	// owners holds map[address]conn_id
	owners map[string]uuid.UUID
	mu     sync.RWMutex
}

func NewAddressRegistry() AddressRegistry {
	return &addressRegistry{
		owners: make(map[string]uuid.UUID),
	}
}

func (r *addressRegistry) Publish(address string, connID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.owners[address]; taken {
		return ErrAddressInUse
	}
	r.owners[address] = connID
	return nil
}

func (r *addressRegistry) Resolve(address string) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, ok := r.owners[address]
	return connID, ok
}

func (r *addressRegistry) Unpublish(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.owners, address)
}

func (r *addressRegistry) UnpublishConn(connID uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped []string
	for address, owner := range r.owners {
		if owner == connID {
			delete(r.owners, address)
			dropped = append(dropped, address)
		}
	}
	return dropped
}
