package world

import (
	"sort"

	"unitsync/internal/unit"
)

// Proximity lists living enemies within a radius, nearest first. Ties keep
// spawn order so every endpoint ranks the same way.
type Proximity struct {
	world  *World
	radius func(*unit.Unit) float64
}

// Sight uses each unit's sight range.
func Sight(w *World) *Proximity {
	return &Proximity{world: w, radius: func(u *unit.Unit) float64 { return u.Stats.SightRange }}
}

// Reach uses each unit's attack range.
func Reach(w *World) *Proximity {
	return &Proximity{world: w, radius: func(u *unit.Unit) float64 { return u.Stats.AttackRange }}
}

func (p *Proximity) Enemies(u *unit.Unit) []unit.Contact {
	r := p.radius(u)
	type candidate struct {
		contact unit.Contact
		dist    float64
		rank    int
	}
	var found []candidate
	for i, id := range p.world.order {
		other := p.world.entries[id].unit
		if other.Team == u.Team || !other.Alive() {
			continue
		}
		dist := unit.Distance(u.Position, other.Position)
		if dist > r {
			continue
		}
		found = append(found, candidate{
			contact: unit.Contact{ID: other.ID, Position: other.Position},
			dist:    dist,
			rank:    i,
		})
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].dist != found[j].dist {
			return found[i].dist < found[j].dist
		}
		return found[i].rank < found[j].rank
	})
	out := make([]unit.Contact, len(found))
	for i, c := range found {
		out[i] = c.contact
	}
	return out
}
