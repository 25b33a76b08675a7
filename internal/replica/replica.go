// Package replica applies committed facts to a local mirror of the unit
// world. The arbitrator and every observer run the same code, so a commit
// has the same effect everywhere it lands.
package replica

import (
	"fmt"
	"io"
	"log"

	"unitsync/internal/protocol"
	"unitsync/internal/unit"
	"unitsync/internal/world"
)

// Set is a mirror of every unit known to one endpoint.
type Set struct {
	world     *world.World
	resources *world.Resources
	local     string
	log       *log.Logger
}

// New wraps w. resources may be nil when the endpoint renders nothing.
func New(w *world.World, resources *world.Resources, logger *log.Logger) *Set {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Set{world: w, resources: resources, log: logger}
}

// SetLocal names the player whose units are driven by a local owner. Their
// timers are ticked by the owner, not by Step.
func (s *Set) SetLocal(playerID string) { s.local = playerID }

func (s *Set) World() *world.World { return s.world }

// Spawn adds a unit. A unit that is already known keeps its local state.
func (s *Set) Spawn(u *unit.Unit) bool {
	return s.world.Add(u)
}

// ApplyMove commits a player-directed destination. The instruction is
// suppressed when it matches the committed free-move target the planner is
// already heading to.
func (s *Set) ApplyMove(m protocol.Move) bool {
	u, ok := s.world.Get(m.Unit)
	if !ok {
		return false
	}
	if m.Target.Equal(u.OldTargetPosition) && m.Target.Equal(u.Destination) {
		return false
	}
	s.world.Planner(m.Unit).SetDestination(m.Target)
	u.OldTargetPosition = m.Target
	return true
}

// ApplySelfDefense chases the named enemy or falls back to the free-move
// position, issuing a planner instruction only when the destination changes.
func (s *Set) ApplySelfDefense(d protocol.SelfDefense) bool {
	u, ok := s.world.Get(d.Unit)
	if !ok {
		return false
	}
	planner := s.world.Planner(d.Unit)
	if d.Target == "" {
		if d.MovePosition == unit.Unset || d.MovePosition.Equal(u.Destination) {
			return false
		}
		planner.SetDestination(d.MovePosition)
		return true
	}
	if d.EnemyPosition.Equal(u.OldEnemyTargetPosition) && d.EnemyPosition.Equal(u.Destination) {
		return false
	}
	planner.SetDestination(d.EnemyPosition)
	u.OldEnemyTargetPosition = d.EnemyPosition
	return true
}

// ApplyAttack assigns the victim's authoritative health. Victims this
// endpoint does not know about are ignored.
func (s *Set) ApplyAttack(e protocol.AttackEffect) bool {
	victim, ok := s.world.Get(e.Victim)
	if !ok {
		s.log.Printf("attack %s -> %s: victim not present, skipped", e.Attacker, e.Victim)
		return false
	}
	victim.SetHealth(e.Health)
	return true
}

// ApplyStatus updates the display color.
func (s *Set) ApplyStatus(c protocol.StatusCommit) bool {
	u, ok := s.world.Get(c.Unit)
	if !ok {
		return false
	}
	u.Color = c.Color
	return true
}

// ApplyDestroy releases the unit's display resources and forgets it.
func (s *Set) ApplyDestroy(d protocol.Destroy) bool {
	if s.resources != nil {
		s.resources.Release(d.Unit)
	}
	_, ok := s.world.Remove(d.Unit)
	return ok
}

// Apply decodes and applies one commit. It reports whether local state
// changed.
func (s *Set) Apply(env protocol.Envelope) (bool, error) {
	switch env.Type {
	case protocol.TypeSpawn:
		var m protocol.Spawn
		if err := env.Unmarshal(&m); err != nil {
			return false, err
		}
		if m.Unit == nil {
			return false, fmt.Errorf("spawn without unit")
		}
		return s.Spawn(m.Unit), nil
	case protocol.TypeMove:
		var m protocol.Move
		if err := env.Unmarshal(&m); err != nil {
			return false, err
		}
		return s.ApplyMove(m), nil
	case protocol.TypeSelfDefense:
		var m protocol.SelfDefense
		if err := env.Unmarshal(&m); err != nil {
			return false, err
		}
		return s.ApplySelfDefense(m), nil
	case protocol.TypeAttack:
		var m protocol.AttackEffect
		if err := env.Unmarshal(&m); err != nil {
			return false, err
		}
		return s.ApplyAttack(m), nil
	case protocol.TypeStatus:
		var m protocol.StatusCommit
		if err := env.Unmarshal(&m); err != nil {
			return false, err
		}
		return s.ApplyStatus(m), nil
	case protocol.TypeDestroy:
		var m protocol.Destroy
		if err := env.Unmarshal(&m); err != nil {
			return false, err
		}
		return s.ApplyDestroy(m), nil
	default:
		return false, fmt.Errorf("replica: unhandled record type %q", env.Type)
	}
}

// Step moves every unit along its path and ticks the timers of units not
// driven by a local owner.
func (s *Set) Step(dt float64) {
	s.world.Step(dt)
	for _, u := range s.world.Units() {
		if s.local != "" && u.Owner == s.local {
			continue
		}
		u.Decay(dt)
	}
}
