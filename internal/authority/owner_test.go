package authority

import (
	"testing"

	"unitsync/internal/protocol"
	"unitsync/internal/unit"
)

// fakeRelay records every decision sent to the arbitrator.
type fakeRelay struct {
	moves    []protocol.Move
	defenses []protocol.SelfDefense
	attacks  []protocol.Attack
	statuses []protocol.StatusReport
}

func (r *fakeRelay) Move(m protocol.Move)               { r.moves = append(r.moves, m) }
func (r *fakeRelay) SelfDefense(d protocol.SelfDefense) { r.defenses = append(r.defenses, d) }
func (r *fakeRelay) Attack(a protocol.Attack)           { r.attacks = append(r.attacks, a) }
func (r *fakeRelay) Status(s protocol.StatusReport)     { r.statuses = append(r.statuses, s) }

type fakeProximity struct{ contacts []unit.Contact }

func (p *fakeProximity) Enemies(*unit.Unit) []unit.Contact { return p.contacts }

type fakePlanner struct{ reached bool }

func (p *fakePlanner) ReachedDestination() bool { return p.reached }

type fakeLocator map[unit.ID]unit.Vec3

func (l fakeLocator) Locate(id unit.ID) (unit.Vec3, bool) {
	pos, ok := l[id]
	return pos, ok
}

type fakeAim struct{ hits []Hit }

func (a *fakeAim) Pick(unit.Vec3) []Hit { return a.hits }

type fakeIndicator struct{ shown map[unit.ID]bool }

func (i *fakeIndicator) ShowSelection(id unit.ID, on bool) { i.shown[id] = on }

func testUnit() *unit.Unit {
	return unit.New("me", "p1", 0, unit.Stats{
		Key:             "footman",
		MaxHealth:       10,
		AttackCooldown:  1.5,
		RecoverCooldown: 2,
		Speed:           2,
		SightRange:      8,
		AttackRange:     2,
	}, unit.Vec3{})
}

func TestAttackHitsPriorityTargetAndResetsCooldown(t *testing.T) {
	u := testUnit()
	u.AttackCooldownCounter = 0
	u.TargetEnemy = "e1"
	relay := &fakeRelay{}
	reach := &fakeProximity{contacts: []unit.Contact{{ID: "e1"}, {ID: "e2"}}}
	o := NewOwner(u, relay, Collaborators{Reach: reach})

	o.attack()

	if len(relay.attacks) != 1 || relay.attacks[0] != (protocol.Attack{Unit: "me", Victim: "e1"}) {
		t.Fatalf("expected one attack on e1, got %+v", relay.attacks)
	}
	if u.AttackCooldownCounter != 1.5 {
		t.Fatalf("expected cooldown reset to 1.5, got %.3f", u.AttackCooldownCounter)
	}

	o.attack()
	if len(relay.attacks) != 1 {
		t.Fatalf("expected no attack while cooling down, got %d", len(relay.attacks))
	}
}

func TestAttackRetargetsWhenPriorityDiffers(t *testing.T) {
	u := testUnit()
	u.AttackCooldownCounter = 0
	u.TargetEnemy = "e2"
	relay := &fakeRelay{}
	reach := &fakeProximity{contacts: []unit.Contact{{ID: "e1"}, {ID: "e2"}}}
	o := NewOwner(u, relay, Collaborators{Reach: reach})

	o.attack()

	if len(relay.attacks) != 0 {
		t.Fatalf("expected no attack this tick, got %+v", relay.attacks)
	}
	if u.TargetEnemy != "e1" {
		t.Fatalf("expected retarget to e1, got %q", u.TargetEnemy)
	}
	if u.AttackCooldownCounter != 0 {
		t.Fatalf("expected cooldown untouched, got %.3f", u.AttackCooldownCounter)
	}

	o.attack()
	if len(relay.attacks) != 1 || relay.attacks[0].Victim != "e1" {
		t.Fatalf("expected attack on e1 next tick, got %+v", relay.attacks)
	}
}

func TestAttackClearsTargetWhenNothingInReach(t *testing.T) {
	u := testUnit()
	u.AttackCooldownCounter = 0
	u.TargetEnemy = "e1"
	o := NewOwner(u, &fakeRelay{}, Collaborators{Reach: &fakeProximity{}})

	o.attack()

	if u.TargetEnemy != "" {
		t.Fatalf("expected target cleared, got %q", u.TargetEnemy)
	}
}

func TestIdleOwnerFallsBackToFreeMovePosition(t *testing.T) {
	u := testUnit()
	u.OldTargetPosition = unit.Vec3{X: 4, Z: 4}
	relay := &fakeRelay{}
	o := NewOwner(u, relay, Collaborators{Sight: &fakeProximity{}, Locator: fakeLocator{}})

	o.Tick(0.1)

	if len(relay.defenses) != 1 {
		t.Fatalf("expected one self-defense decision, got %d", len(relay.defenses))
	}
	d := relay.defenses[0]
	if d.Target != "" || d.MovePosition != u.OldTargetPosition {
		t.Fatalf("expected fallback decision to the free-move target, got %+v", d)
	}
}

func TestSelfDefenseChasesFirstEnemyInSight(t *testing.T) {
	u := testUnit()
	relay := &fakeRelay{}
	sight := &fakeProximity{contacts: []unit.Contact{{ID: "e1", Position: unit.Vec3{X: 5}}, {ID: "e2"}}}
	locator := fakeLocator{"e1": {X: 5}, "e2": {X: 7}}
	o := NewOwner(u, relay, Collaborators{Sight: sight, Locator: locator})

	o.Tick(0.1)

	if u.TargetEnemy != "e1" {
		t.Fatalf("expected e1 targeted, got %q", u.TargetEnemy)
	}
	d := relay.defenses[0]
	if d.Target != "e1" || d.EnemyPosition != (unit.Vec3{X: 5}) {
		t.Fatalf("unexpected chase decision %+v", d)
	}
}

func TestSelfDefenseDropsUnlocatableTarget(t *testing.T) {
	u := testUnit()
	u.TargetEnemy = "gone"
	relay := &fakeRelay{}
	o := NewOwner(u, relay, Collaborators{Locator: fakeLocator{}})

	o.Tick(0.1)

	if d := relay.defenses[0]; d.Target != "" {
		t.Fatalf("expected stale target to fall back to free move, got %+v", d)
	}
}

func TestSelectedOwnerIssuesDirectedMoveOnFloorHit(t *testing.T) {
	u := testUnit()
	u.IsSelected = true
	relay := &fakeRelay{}
	orders := &Orders{}
	orders.Tap(unit.Vec3{X: 9})
	aim := &fakeAim{hits: []Hit{{Point: unit.Vec3{X: 1}, Surface: "wall"}, {Point: unit.Vec3{X: 9}, Surface: SurfaceFloor}}}
	indicator := &fakeIndicator{shown: map[unit.ID]bool{}}
	o := NewOwner(u, relay, Collaborators{Pointer: orders, Aim: aim, Indicator: indicator, Planner: &fakePlanner{}})

	o.Tick(0.1)

	if !indicator.shown["me"] {
		t.Fatalf("expected selection indicator shown")
	}
	if len(relay.moves) != 1 || relay.moves[0].Target != (unit.Vec3{X: 9}) {
		t.Fatalf("expected move to the floor hit, got %+v", relay.moves)
	}
	if !u.IsDirected {
		t.Fatalf("expected unit to be directed")
	}
	if len(relay.defenses) != 0 {
		t.Fatalf("expected no self-defense while directed, got %+v", relay.defenses)
	}

	orders.EndTick()
	o.Tick(0.1)
	if len(relay.moves) != 1 {
		t.Fatalf("expected tap to last a single tick, got %d moves", len(relay.moves))
	}
}

func TestUnselectedOwnerIgnoresPointer(t *testing.T) {
	u := testUnit()
	relay := &fakeRelay{}
	orders := &Orders{}
	orders.Press(unit.Vec3{X: 9})
	o := NewOwner(u, relay, Collaborators{Pointer: orders, Aim: orders})

	o.Tick(0.1)

	if len(relay.moves) != 0 || u.IsDirected {
		t.Fatalf("expected pointer ignored for unselected unit")
	}
}

func TestReachingDestinationEndsDirectedMode(t *testing.T) {
	u := testUnit()
	u.IsDirected = true
	planner := &fakePlanner{}
	relay := &fakeRelay{}
	o := NewOwner(u, relay, Collaborators{Planner: planner})

	o.Tick(0.1)
	if !u.IsDirected || len(relay.defenses) != 0 {
		t.Fatalf("expected unit to stay directed en route")
	}

	planner.reached = true
	o.Tick(0.1)
	if u.IsDirected {
		t.Fatalf("expected directed mode cleared on arrival")
	}
	o.Tick(0.1)
	if len(relay.defenses) != 1 {
		t.Fatalf("expected self-defense to resume, got %d decisions", len(relay.defenses))
	}
}

func TestOrderToUnitIdleAtDestinationStaysDirected(t *testing.T) {
	u := testUnit()
	u.IsSelected = true
	u.Destination = u.Position
	planner := &fakePlanner{reached: true}
	relay := &fakeRelay{}
	orders := &Orders{}
	o := NewOwner(u, relay, Collaborators{Pointer: orders, Aim: orders, Planner: planner})

	orders.Tap(unit.Vec3{X: 5})
	o.Tick(0.1)
	if !u.IsDirected || len(relay.moves) != 1 {
		t.Fatalf("expected the order to keep the unit directed, got directed=%v moves=%d", u.IsDirected, len(relay.moves))
	}
	orders.EndTick()

	u.Destination = unit.Vec3{X: 5}
	planner.reached = false
	o.Tick(0.1)
	if !u.IsDirected || len(relay.defenses) != 0 {
		t.Fatalf("expected unit still directed en route to the new point")
	}
}

func TestHeldOrderKeepsSteering(t *testing.T) {
	u := testUnit()
	u.IsSelected = true
	planner := &fakePlanner{reached: true}
	relay := &fakeRelay{}
	orders := &Orders{}
	o := NewOwner(u, relay, Collaborators{Pointer: orders, Aim: orders, Planner: planner})

	orders.Press(unit.Vec3{Z: 3})
	for i := 0; i < 3; i++ {
		o.Tick(0.1)
		orders.EndTick()
	}
	if len(relay.moves) != 3 || !u.IsDirected {
		t.Fatalf("expected a move per tick while held, got %d", len(relay.moves))
	}

	orders.Release()
	o.Tick(0.1)
	if len(relay.moves) != 3 || u.IsDirected {
		t.Fatalf("expected release to stop steering and arrival to end directed mode")
	}
}

func TestTickReportsStatusEveryTick(t *testing.T) {
	u := testUnit()
	u.TakeDamage()
	relay := &fakeRelay{}
	o := NewOwner(u, relay, Collaborators{})

	o.Tick(0.5)
	o.Tick(0.5)

	if len(relay.statuses) != 2 {
		t.Fatalf("expected two status reports, got %d", len(relay.statuses))
	}
	last := relay.statuses[1]
	if last.RecoverCounter != 0.5 || last.AttackCounter != 0.5 {
		t.Fatalf("unexpected reported timers %+v", last)
	}
	if last.Color != u.Color {
		t.Fatalf("expected reported color to match the unit")
	}
}

func TestOwnerWithoutRelayDoesNotPanic(t *testing.T) {
	u := testUnit()
	u.AttackCooldownCounter = 0
	u.TargetEnemy = "e1"
	u.IsSelected = true
	orders := &Orders{}
	orders.Press(unit.Vec3{})
	o := NewOwner(u, nil, Collaborators{
		Reach:   &fakeProximity{contacts: []unit.Contact{{ID: "e1"}}},
		Pointer: orders,
		Aim:     orders,
	})
	o.Tick(0.1)
	if u.AttackCooldownCounter == 0 {
		t.Fatalf("expected cooldown to reset even without a relay")
	}
}
