package unit

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"
)

// Configured ranges for unit stats.
const (
	MinMaxHealth = 3
	MaxMaxHealth = 100
	MinCooldown  = 0.1
	MaxCooldown  = 100.0
)

var ErrInvalidStats = errors.New("invalid unit stats")

// ID is the network-visible handle of a unit. It never changes after spawn.
type ID string

// NewID allocates a fresh unit identity.
func NewID() ID { return ID("u_" + uuid.NewString()) }

// Contact is a nearby enemy as reported by a proximity query.
type Contact struct {
	ID       ID   `json:"id"`
	Position Vec3 `json:"position"`
}

// Stats are the per-kind constants of a unit.
type Stats struct {
	Key             string  `json:"key"`
	Name            string  `json:"name"`
	MaxHealth       int     `json:"max_health"`
	AttackCooldown  float64 `json:"attack_cooldown"`
	RecoverCooldown float64 `json:"recover_cooldown"`
	Speed           float64 `json:"speed"`
	SightRange      float64 `json:"sight_range"`
	AttackRange     float64 `json:"attack_range"`
	InitialColor    Color   `json:"initial_color"`
	TakeDamageColor Color   `json:"take_damage_color"`
}

// Validate checks the stats against the configured ranges.
func (s Stats) Validate() error {
	if s.MaxHealth < MinMaxHealth || s.MaxHealth > MaxMaxHealth {
		return fmt.Errorf("%w: %s max_health %d outside [%d,%d]", ErrInvalidStats, s.Key, s.MaxHealth, MinMaxHealth, MaxMaxHealth)
	}
	if s.AttackCooldown < MinCooldown || s.AttackCooldown > MaxCooldown {
		return fmt.Errorf("%w: %s attack_cooldown %.3f outside [%.1f,%.1f]", ErrInvalidStats, s.Key, s.AttackCooldown, MinCooldown, MaxCooldown)
	}
	if s.RecoverCooldown < MinCooldown || s.RecoverCooldown > MaxCooldown {
		return fmt.Errorf("%w: %s recover_cooldown %.3f outside [%.1f,%.1f]", ErrInvalidStats, s.Key, s.RecoverCooldown, MinCooldown, MaxCooldown)
	}
	if s.Speed < 0 || s.SightRange < 0 || s.AttackRange < 0 {
		return fmt.Errorf("%w: %s has negative speed or range", ErrInvalidStats, s.Key)
	}
	return nil
}

// Catalog maps a unit kind to its stats.
type Catalog map[string]Stats

// LoadCatalog reads a {"units": {...}} JSON document and validates every entry.
func LoadCatalog(path string) (Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read unit catalog: %w", err)
	}
	return ParseCatalog(raw)
}

// ParseCatalog decodes and validates a catalog document.
func ParseCatalog(raw []byte) (Catalog, error) {
	var doc struct {
		Units map[string]Stats `json:"units"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode unit catalog: %w", err)
	}
	c := make(Catalog, len(doc.Units))
	for k, v := range doc.Units {
		v.Key = k
		if err := v.Validate(); err != nil {
			return nil, err
		}
		c[k] = v
	}
	return c, nil
}

// Lookup returns the stats for a kind.
func (c Catalog) Lookup(key string) (Stats, bool) {
	s, ok := c[key]
	return s, ok
}

// Keys lists the catalog kinds in sorted order.
func (c Catalog) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
