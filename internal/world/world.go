// Package world holds a set of units in spawn order together with the
// collaborators that move and sense them.
package world

import "unitsync/internal/unit"

type entry struct {
	unit    *unit.Unit
	planner *Planner
}

// World is not safe for concurrent use; callers serialize access.
type World struct {
	entries map[unit.ID]*entry
	order   []unit.ID
}

func New() *World {
	return &World{entries: make(map[unit.ID]*entry)}
}

// Add registers u and gives it a planner. It returns false if the id is taken.
func (w *World) Add(u *unit.Unit) bool {
	if _, exists := w.entries[u.ID]; exists {
		return false
	}
	w.entries[u.ID] = &entry{unit: u, planner: NewPlanner(u)}
	w.order = append(w.order, u.ID)
	return true
}

func (w *World) Get(id unit.ID) (*unit.Unit, bool) {
	e, ok := w.entries[id]
	if !ok {
		return nil, false
	}
	return e.unit, true
}

// Planner returns the movement planner of a unit, or nil if it is unknown.
func (w *World) Planner(id unit.ID) *Planner {
	e, ok := w.entries[id]
	if !ok {
		return nil
	}
	return e.planner
}

// Locate returns the current position of a unit.
func (w *World) Locate(id unit.ID) (unit.Vec3, bool) {
	e, ok := w.entries[id]
	if !ok {
		return unit.Vec3{}, false
	}
	return e.unit.Position, true
}

func (w *World) Remove(id unit.ID) (*unit.Unit, bool) {
	e, ok := w.entries[id]
	if !ok {
		return nil, false
	}
	delete(w.entries, id)
	for i, other := range w.order {
		if other == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	return e.unit, true
}

// Units returns the live units in spawn order.
func (w *World) Units() []*unit.Unit {
	out := make([]*unit.Unit, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.entries[id].unit)
	}
	return out
}

// OwnedBy returns the units whose authority is owner.
func (w *World) OwnedBy(owner string) []*unit.Unit {
	var out []*unit.Unit
	for _, id := range w.order {
		if u := w.entries[id].unit; u.Owner == owner {
			out = append(out, u)
		}
	}
	return out
}

func (w *World) Len() int { return len(w.order) }

// Step advances every planner by dt seconds.
func (w *World) Step(dt float64) {
	for _, id := range w.order {
		w.entries[id].planner.Step(dt)
	}
}
