// Package authority runs the per-tick decision phase for units this
// endpoint owns. Decisions are sent to the arbitrator through a Relay and
// only take effect when the resulting commit comes back.
package authority

import (
	"unitsync/internal/protocol"
	"unitsync/internal/unit"
)

// SurfaceFloor tags navigable floor hits.
const SurfaceFloor = "floor"

// Proximity lists nearby enemies; the first entry has priority.
type Proximity interface {
	Enemies(u *unit.Unit) []unit.Contact
}

// Planner reports movement progress.
type Planner interface {
	ReachedDestination() bool
}

// Locator resolves the current position of another unit.
type Locator interface {
	Locate(id unit.ID) (unit.Vec3, bool)
}

// Pointer is the player's pointer input.
type Pointer interface {
	SecondaryAction() bool
	Position() unit.Vec3
}

// Hit is one surface under the pointer.
type Hit struct {
	Point   unit.Vec3
	Surface string
}

// Aim casts from the pointer into the world. Hits are ordered nearest first.
type Aim interface {
	Pick(pointer unit.Vec3) []Hit
}

// Indicator shows or hides a unit's selection marker.
type Indicator interface {
	ShowSelection(id unit.ID, selected bool)
}

// Relay carries decisions to the arbitrator. Delivery is fire-and-forget.
type Relay interface {
	Move(protocol.Move)
	SelfDefense(protocol.SelfDefense)
	Attack(protocol.Attack)
	Status(protocol.StatusReport)
}

// Collaborators are all optional; a missing one skips the step it serves.
type Collaborators struct {
	Sight     Proximity
	Reach     Proximity
	Planner   Planner
	Locator   Locator
	Pointer   Pointer
	Aim       Aim
	Indicator Indicator
}

// Owner drives one unit.
type Owner struct {
	unit  *unit.Unit
	relay Relay
	c     Collaborators
}

func NewOwner(u *unit.Unit, relay Relay, c Collaborators) *Owner {
	return &Owner{unit: u, relay: relay, c: c}
}

func (o *Owner) Unit() *unit.Unit { return o.unit }

// Tick runs one decision phase.
func (o *Owner) Tick(dt float64) {
	u := o.unit

	if o.c.Indicator != nil {
		o.c.Indicator.ShowSelection(u.ID, u.IsSelected)
	}
	ordered := false
	if u.IsSelected && o.c.Pointer != nil && o.c.Pointer.SecondaryAction() {
		ordered = o.castRay()
	}

	if !u.IsDirected {
		o.selfDefense()
	}

	// The planner still measures against the old destination until the
	// order's commit comes back.
	if !ordered && o.c.Planner != nil && o.c.Planner.ReachedDestination() {
		u.IsDirected = false
	}

	o.attack()
	o.updateStatus(dt)
}

// castRay sends the unit to the nearest floor hit and reports whether it
// issued a Move.
func (o *Owner) castRay() bool {
	if o.c.Aim == nil || o.relay == nil {
		return false
	}
	for _, hit := range o.c.Aim.Pick(o.c.Pointer.Position()) {
		if hit.Surface != SurfaceFloor {
			continue
		}
		o.unit.IsDirected = true
		o.relay.Move(protocol.Move{Unit: o.unit.ID, Target: hit.Point})
		return true
	}
	return false
}

func (o *Owner) selfDefense() {
	u := o.unit
	if o.c.Sight != nil {
		if contacts := o.c.Sight.Enemies(u); len(contacts) > 0 {
			u.TargetEnemy = contacts[0].ID
		} else {
			u.TargetEnemy = ""
		}
	}

	d := protocol.SelfDefense{
		Unit:          u.ID,
		EnemyPosition: u.OldEnemyTargetPosition,
		MovePosition:  u.OldTargetPosition,
	}
	if u.TargetEnemy != "" {
		if pos, ok := o.locate(u.TargetEnemy); ok {
			d.Target = u.TargetEnemy
			d.EnemyPosition = pos
		}
	}
	if o.relay != nil {
		o.relay.SelfDefense(d)
	}
}

func (o *Owner) locate(id unit.ID) (unit.Vec3, bool) {
	if o.c.Locator == nil {
		return unit.Vec3{}, false
	}
	return o.c.Locator.Locate(id)
}

// attack hits the current target only when it is also the top-priority
// enemy in reach. The cooldown resets only when an attack is sent.
func (o *Owner) attack() {
	u := o.unit
	if o.c.Reach != nil {
		contacts := o.c.Reach.Enemies(u)
		u.Enemies = u.Enemies[:0]
		for _, c := range contacts {
			u.Enemies = append(u.Enemies, c.ID)
		}
	}

	if u.TargetEnemy == "" || u.AttackCooldownCounter > 0 {
		return
	}
	if len(u.Enemies) == 0 {
		u.TargetEnemy = ""
		return
	}
	if u.Enemies[0] != u.TargetEnemy {
		u.TargetEnemy = u.Enemies[0]
		return
	}
	if o.relay != nil {
		o.relay.Attack(protocol.Attack{Unit: u.ID, Victim: u.TargetEnemy})
	}
	u.AttackCooldownCounter = u.Stats.AttackCooldown
}

func (o *Owner) updateStatus(dt float64) {
	u := o.unit
	u.Tick(dt)
	if o.relay != nil {
		o.relay.Status(protocol.StatusReport{
			Unit:           u.ID,
			AttackCounter:  u.AttackCooldownCounter,
			RecoverCounter: u.RecoverCounter,
			Color:          u.Color,
		})
	}
}
