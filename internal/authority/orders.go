package authority

import (
	"sync"

	"unitsync/internal/unit"
)

// Orders is a scripted pointer over a flat floor. Headless endpoints use it
// in place of mouse input and a physics ray cast: every pick lands on the
// floor at the pointer.
type Orders struct {
	mu      sync.Mutex
	pressed bool
	tapped  bool
	at      unit.Vec3
}

// Press holds the secondary action at a point until Release.
func (o *Orders) Press(at unit.Vec3) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pressed, o.at = true, at
}

func (o *Orders) Release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pressed = false
}

// Tap issues the secondary action at a point for a single tick.
func (o *Orders) Tap(at unit.Vec3) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tapped, o.at = true, at
}

// EndTick clears a pending tap. Call it once all owners have ticked.
func (o *Orders) EndTick() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tapped = false
}

func (o *Orders) SecondaryAction() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pressed || o.tapped
}

func (o *Orders) Position() unit.Vec3 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.at
}

func (o *Orders) Pick(pointer unit.Vec3) []Hit {
	return []Hit{{Point: pointer, Surface: SurfaceFloor}}
}
