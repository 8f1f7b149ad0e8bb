package core

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	ownersMu sync.RWMutex
	owners   = make(map[uuid.UUID]interface{})
)

// IdentifierAquireNewID hands out a fresh identifier and records its owner.
func IdentifierAquireNewID(owner interface{}) uuid.UUID {
	ownersMu.Lock()
	defer ownersMu.Unlock()
	for {
		id := uuid.New()
		if _, taken := owners[id]; !taken {
			owners[id] = owner
			return id
		}
	}
}

func IdentifierOwner(id uuid.UUID) (interface{}, bool) {
	ownersMu.RLock()
	defer ownersMu.RUnlock()
	owner, ok := owners[id]
	return owner, ok
}

func IdentifierReleaseID(id uuid.UUID) error {
	ownersMu.Lock()
	defer ownersMu.Unlock()
	if _, ok := owners[id]; !ok {
		return fmt.Errorf("identifier_release_id: id '%s' is not registered. Nothing was done", id)
	}
	delete(owners, id)
	return nil
}
