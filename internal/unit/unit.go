package unit

// Unit is the replicated combat/movement state of one unit.
//
// Fields tagged "-" are local to the endpoint holding the unit: targeting
// and selection belong to the authority owner and never cross the wire.
type Unit struct {
	ID    ID     `json:"id"`
	Key   string `json:"key"`
	Owner string `json:"owner"`
	Team  int    `json:"team"`
	Stats Stats  `json:"stats"`

	Position    Vec3 `json:"position"`
	Destination Vec3 `json:"destination"`

	Health                int     `json:"health"`
	AttackCooldownCounter float64 `json:"attack_cooldown_counter"`
	RecoverCounter        float64 `json:"recover_counter"`
	Color                 Color   `json:"color"`

	// Last committed movement destinations.
	OldTargetPosition      Vec3 `json:"old_target_position"`
	OldEnemyTargetPosition Vec3 `json:"old_enemy_target_position"`

	TargetEnemy ID   `json:"-"`
	IsDirected  bool `json:"-"`
	IsSelected  bool `json:"-"`
	Enemies     []ID `json:"-"`
}

// New builds a freshly spawned unit. Stats are expected to be validated.
func New(id ID, owner string, team int, stats Stats, pos Vec3) *Unit {
	return &Unit{
		ID:                     id,
		Key:                    stats.Key,
		Owner:                  owner,
		Team:                   team,
		Stats:                  stats,
		Position:               pos,
		Destination:            Unset,
		Health:                 stats.MaxHealth,
		AttackCooldownCounter:  stats.AttackCooldown,
		RecoverCounter:         1,
		Color:                  stats.InitialColor,
		OldTargetPosition:      Unset,
		OldEnemyTargetPosition: Unset,
	}
}

// Alive reports whether the unit still has health left.
func (u *Unit) Alive() bool { return u.Health > 0 }

// TakeDamage applies one hit. Health is not clamped at zero.
func (u *Unit) TakeDamage() {
	u.Health--
	u.RecoverCounter = 0
}

// SetHealth assigns an authoritative health value. A drop counts as a hit
// for the damage flash.
func (u *Unit) SetHealth(h int) {
	if h < u.Health {
		u.RecoverCounter = 0
	}
	u.Health = h
}

// Decay advances the attack and recovery timers by dt seconds.
func (u *Unit) Decay(dt float64) {
	if u.AttackCooldownCounter > 0 {
		u.AttackCooldownCounter -= dt
		if u.AttackCooldownCounter < 0 {
			u.AttackCooldownCounter = 0
		}
	}
	if u.RecoverCounter < 1 && u.Stats.RecoverCooldown > 0 {
		u.RecoverCounter += dt / u.Stats.RecoverCooldown
		if u.RecoverCounter > 1 {
			u.RecoverCounter = 1
		}
	}
}

// Tint recomputes the damage-flash color from the recovery counter.
func (u *Unit) Tint() Color {
	u.Color = Lerp(u.Stats.TakeDamageColor, u.Stats.InitialColor, u.RecoverCounter)
	return u.Color
}

// Tick runs one status update. The color is taken from the counters as
// they stood at the start of the tick, then the timers advance.
func (u *Unit) Tick(dt float64) {
	u.Tint()
	u.Decay(dt)
}

// Clone returns a deep copy suitable for snapshots.
func (u *Unit) Clone() *Unit {
	c := *u
	if u.Enemies != nil {
		c.Enemies = append([]ID(nil), u.Enemies...)
	}
	return &c
}
