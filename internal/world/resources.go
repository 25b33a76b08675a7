package world

import (
	"sync"

	"unitsync/internal/unit"
)

// Resource is a display-side handle tied to a unit, such as a camera that
// follows it.
type Resource interface {
	Release()
}

// ReleaseFunc adapts a function to Resource.
type ReleaseFunc func()

func (f ReleaseFunc) Release() { f() }

// Resources tracks per-unit resources so they can be released when the
// unit is destroyed. It is resolved once at setup and passed by reference.
type Resources struct {
	mu   sync.Mutex
	byID map[unit.ID][]Resource
}

func NewResources() *Resources {
	return &Resources{byID: make(map[unit.ID][]Resource)}
}

// Attach ties r to unit id.
func (r *Resources) Attach(id unit.ID, res Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id] = append(r.byID[id], res)
}

// Release frees every resource tied to id and returns how many were freed.
func (r *Resources) Release(id unit.ID) int {
	r.mu.Lock()
	list := r.byID[id]
	delete(r.byID, id)
	r.mu.Unlock()

	for _, res := range list {
		res.Release()
	}
	return len(list)
}

// Held counts resources still attached to id.
func (r *Resources) Held(id unit.ID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID[id])
}
