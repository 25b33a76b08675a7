package replica

import (
	"testing"

	"unitsync/internal/protocol"
	"unitsync/internal/unit"
	"unitsync/internal/world"
)

var footman = unit.Stats{
	Key:             "footman",
	MaxHealth:       10,
	AttackCooldown:  1,
	RecoverCooldown: 2,
	Speed:           2,
	SightRange:      8,
	AttackRange:     2,
	InitialColor:    unit.Color{B: 1, A: 1},
	TakeDamageColor: unit.Color{R: 1, A: 1},
}

func newSet(t *testing.T) (*Set, *world.Resources) {
	t.Helper()
	res := world.NewResources()
	s := New(world.New(), res, nil)
	s.Spawn(unit.New("a", "p1", 0, footman, unit.Vec3{}))
	s.Spawn(unit.New("b", "p2", 1, footman, unit.Vec3{X: 5}))
	return s, res
}

func mustEnvelope(t *testing.T, typ string, payload any) protocol.Envelope {
	t.Helper()
	raw, err := protocol.Encode(typ, 0, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", typ, err)
	}
	env, err := protocol.Decode(raw)
	if err != nil {
		t.Fatalf("decode %s: %v", typ, err)
	}
	return env
}

func TestRepeatedMoveIssuesOneInstruction(t *testing.T) {
	s, _ := newSet(t)
	target := unit.Vec3{X: 3, Z: 3}

	if !s.ApplyMove(protocol.Move{Unit: "a", Target: target}) {
		t.Fatalf("expected first move to be applied")
	}
	if s.ApplyMove(protocol.Move{Unit: "a", Target: target}) {
		t.Fatalf("expected identical move to be suppressed")
	}
	if got := s.World().Planner("a").Issued(); got != 1 {
		t.Fatalf("expected one planner instruction, got %d", got)
	}
	u, _ := s.World().Get("a")
	if u.OldTargetPosition != target {
		t.Fatalf("expected free-move memo %v, got %v", target, u.OldTargetPosition)
	}
}

func TestSelfDefenseWithoutEnemyFallsBackToFreeMoveTarget(t *testing.T) {
	s, _ := newSet(t)
	u, _ := s.World().Get("a")
	planner := s.World().Planner("a")
	rally := unit.Vec3{X: -4}

	// Never ordered anywhere: nothing to fall back to.
	if s.ApplySelfDefense(protocol.SelfDefense{Unit: "a", MovePosition: u.OldTargetPosition, EnemyPosition: u.OldEnemyTargetPosition}) {
		t.Fatalf("expected no instruction without a committed free-move target")
	}

	s.ApplyMove(protocol.Move{Unit: "a", Target: rally})
	if s.ApplySelfDefense(protocol.SelfDefense{Unit: "a", MovePosition: u.OldTargetPosition}) {
		t.Fatalf("expected fallback to the current destination to be suppressed")
	}

	// Chase an enemy, then lose it: the unit heads back to the rally point once.
	enemy := unit.Vec3{X: 1, Z: 1}
	if !s.ApplySelfDefense(protocol.SelfDefense{Unit: "a", Target: "b", EnemyPosition: enemy, MovePosition: rally}) {
		t.Fatalf("expected chase to be applied")
	}
	if !s.ApplySelfDefense(protocol.SelfDefense{Unit: "a", MovePosition: rally}) {
		t.Fatalf("expected fallback to rally after losing the enemy")
	}
	if s.ApplySelfDefense(protocol.SelfDefense{Unit: "a", MovePosition: rally}) {
		t.Fatalf("expected repeated fallback to be suppressed")
	}
	if got := planner.Issued(); got != 3 {
		t.Fatalf("expected 3 planner instructions, got %d", got)
	}
	if u.Destination != rally {
		t.Fatalf("expected destination %v, got %v", rally, u.Destination)
	}
}

func TestSelfDefenseSuppressesStationaryEnemy(t *testing.T) {
	s, _ := newSet(t)
	u, _ := s.World().Get("a")
	enemy := unit.Vec3{X: 5}

	for i := 0; i < 5; i++ {
		s.ApplySelfDefense(protocol.SelfDefense{Unit: "a", Target: "b", EnemyPosition: enemy, MovePosition: unit.Unset})
	}
	if got := s.World().Planner("a").Issued(); got != 1 {
		t.Fatalf("expected one instruction for a stationary enemy, got %d", got)
	}
	if u.OldEnemyTargetPosition != enemy {
		t.Fatalf("expected enemy memo %v, got %v", enemy, u.OldEnemyTargetPosition)
	}

	moved := unit.Vec3{X: 6}
	if !s.ApplySelfDefense(protocol.SelfDefense{Unit: "a", Target: "b", EnemyPosition: moved, MovePosition: unit.Unset}) {
		t.Fatalf("expected a moving enemy to be re-issued")
	}
}

func TestAttackEffectAssignsAuthoritativeHealth(t *testing.T) {
	s, _ := newSet(t)
	for _, h := range []int{9, 8, 7} {
		if !s.ApplyAttack(protocol.AttackEffect{Attacker: "a", Victim: "b", Health: h}) {
			t.Fatalf("expected attack on b to apply")
		}
	}
	b, _ := s.World().Get("b")
	if b.Health != 7 || b.RecoverCounter != 0 {
		t.Fatalf("expected health 7 and fresh flash, got %d / %.3f", b.Health, b.RecoverCounter)
	}

	// A duplicate or reordered effect cannot drift the value.
	s.ApplyAttack(protocol.AttackEffect{Attacker: "a", Victim: "b", Health: 7})
	if b.Health != 7 {
		t.Fatalf("expected health to stay 7, got %d", b.Health)
	}

	if s.ApplyAttack(protocol.AttackEffect{Attacker: "a", Victim: "ghost", Health: 1}) {
		t.Fatalf("expected attack on unknown victim to be a no-op")
	}
}

func TestDestroyReleasesResourcesAndForgetsUnit(t *testing.T) {
	s, res := newSet(t)
	released := 0
	res.Attach("b", world.ReleaseFunc(func() { released++ }))

	if !s.ApplyDestroy(protocol.Destroy{Unit: "b"}) {
		t.Fatalf("expected b to be destroyed")
	}
	if released != 1 {
		t.Fatalf("expected camera resource released, got %d", released)
	}
	if _, ok := s.World().Get("b"); ok {
		t.Fatalf("expected b to be gone")
	}
	if s.ApplyMove(protocol.Move{Unit: "b", Target: unit.Vec3{X: 1}}) {
		t.Fatalf("expected commits for a destroyed unit to be ignored")
	}
	if s.ApplyDestroy(protocol.Destroy{Unit: "b"}) {
		t.Fatalf("expected second destroy to report nothing removed")
	}
}

func TestApplyDispatchesEnvelopes(t *testing.T) {
	s, _ := newSet(t)

	spawned := unit.New("c", "p2", 1, footman, unit.Vec3{Z: 2})
	if ok, err := s.Apply(mustEnvelope(t, protocol.TypeSpawn, protocol.Spawn{Unit: spawned})); err != nil || !ok {
		t.Fatalf("spawn: ok=%v err=%v", ok, err)
	}
	if ok, err := s.Apply(mustEnvelope(t, protocol.TypeStatus, protocol.StatusCommit{Unit: "c", Color: unit.Color{G: 1, A: 1}})); err != nil || !ok {
		t.Fatalf("status: ok=%v err=%v", ok, err)
	}
	c, _ := s.World().Get("c")
	if c.Color != (unit.Color{G: 1, A: 1}) {
		t.Fatalf("expected rebroadcast color, got %+v", c.Color)
	}
	if _, err := s.Apply(mustEnvelope(t, protocol.TypeWelcome, protocol.Welcome{})); err == nil {
		t.Fatalf("expected welcome to be rejected by the replica set")
	}
}

func TestMoveAndStatusConvergeInAnyOrder(t *testing.T) {
	first, _ := newSet(t)
	second, _ := newSet(t)

	move := mustEnvelope(t, protocol.TypeMove, protocol.Move{Unit: "a", Target: unit.Vec3{X: 2}})
	status := mustEnvelope(t, protocol.TypeStatus, protocol.StatusCommit{Unit: "a", Color: unit.Color{R: 0.5, A: 1}})

	for _, env := range []protocol.Envelope{move, status} {
		if _, err := first.Apply(env); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	for _, env := range []protocol.Envelope{status, move, move} {
		if _, err := second.Apply(env); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	a1, _ := first.World().Get("a")
	a2, _ := second.World().Get("a")
	if a1.Destination != a2.Destination || a1.Color != a2.Color || a1.OldTargetPosition != a2.OldTargetPosition {
		t.Fatalf("replicas diverged: %+v vs %+v", a1, a2)
	}
}

func TestStepSkipsLocallyOwnedTimers(t *testing.T) {
	s, _ := newSet(t)
	s.SetLocal("p1")
	a, _ := s.World().Get("a")
	b, _ := s.World().Get("b")

	s.Step(0.5)
	if a.AttackCooldownCounter != 1 {
		t.Fatalf("expected local unit timer untouched, got %.3f", a.AttackCooldownCounter)
	}
	if b.AttackCooldownCounter != 0.5 {
		t.Fatalf("expected observed unit timer to tick, got %.3f", b.AttackCooldownCounter)
	}
}
