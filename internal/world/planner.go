package world

import "unitsync/internal/unit"

// StoppingDistance is how close a unit must get to count as arrived.
const StoppingDistance = 0.1

// Planner steers a unit in a straight line toward its destination. The
// destination lives on the unit so snapshots carry it to late joiners.
type Planner struct {
	body   *unit.Unit
	issued int
}

func NewPlanner(u *unit.Unit) *Planner {
	return &Planner{body: u}
}

// SetDestination replaces the current destination.
func (p *Planner) SetDestination(dest unit.Vec3) {
	p.body.Destination = dest
	p.issued++
}

// Destination returns the committed destination, if any.
func (p *Planner) Destination() (unit.Vec3, bool) {
	if p.body.Destination == unit.Unset {
		return unit.Vec3{}, false
	}
	return p.body.Destination, true
}

// ReachedDestination reports arrival. A planner with no destination has
// nothing to reach.
func (p *Planner) ReachedDestination() bool {
	dest, ok := p.Destination()
	if !ok {
		return false
	}
	return unit.Distance(p.body.Position, dest) <= StoppingDistance
}

// Issued counts SetDestination calls.
func (p *Planner) Issued() int { return p.issued }

// Step moves the unit toward its destination without overshooting.
func (p *Planner) Step(dt float64) {
	dest, ok := p.Destination()
	if !ok || p.body.Stats.Speed <= 0 {
		return
	}
	delta := dest.Sub(p.body.Position)
	dist := delta.Len()
	if dist <= StoppingDistance {
		return
	}
	move := p.body.Stats.Speed * dt
	if move >= dist {
		p.body.Position = dest
		return
	}
	p.body.Position = p.body.Position.Add(delta.Scale(move / dist))
}
