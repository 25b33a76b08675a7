// Package protocol defines the named records exchanged between authority
// owners, the arbitrator and observers, and their JSON envelope.
package protocol

import (
	"encoding/json"
	"fmt"

	"unitsync/internal/unit"
)

// Record types. Decisions (owner -> arbitrator) and commits
// (arbitrator -> everyone) share names where they describe the same fact.
// Reset is a payload-less decision asking for a rematch after game over.
const (
	TypeWelcome     = "welcome"
	TypeSpawn       = "spawn"
	TypeMove        = "move"
	TypeSelfDefense = "self_defense"
	TypeAttack      = "attack"
	TypeStatus      = "status"
	TypeDestroy     = "destroy"
	TypeGameOver    = "game_over"
	TypeReset       = "reset"
)

// Envelope wraps every record on the wire.
type Envelope struct {
	Type string          `json:"type"`
	Seq  uint64          `json:"seq,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode marshals payload into an envelope of the given type.
func Encode(typ string, seq uint64, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", typ, err)
	}
	return json.Marshal(Envelope{Type: typ, Seq: seq, Data: data})
}

// Decode parses an envelope without touching its payload.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// Unmarshal decodes the payload into v.
func (e Envelope) Unmarshal(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Welcome is sent to a joining endpoint only, and to every player again
// when a rematch starts. GameOver is set when the endpoint arrives after
// the match ended; Winner is only meaningful then.
type Welcome struct {
	PlayerID string       `json:"player_id"`
	Team     int          `json:"team"`
	Token    string       `json:"token,omitempty"`
	Units    []*unit.Unit `json:"units"`
	GameOver bool         `json:"game_over,omitempty"`
	Winner   int          `json:"winner,omitempty"`
}

// Spawn announces a new unit.
type Spawn struct {
	Unit *unit.Unit `json:"unit"`
}

// Move is a player-directed destination. Used as decision and commit.
type Move struct {
	Unit   unit.ID   `json:"unit"`
	Target unit.Vec3 `json:"target"`
}

// SelfDefense chases Target at EnemyPosition, or falls back to
// MovePosition when Target is empty. Used as decision and commit.
type SelfDefense struct {
	Unit          unit.ID   `json:"unit"`
	Target        unit.ID   `json:"target,omitempty"`
	EnemyPosition unit.Vec3 `json:"enemy_position"`
	MovePosition  unit.Vec3 `json:"move_position"`
}

// Attack is the owner's request to hit Victim.
type Attack struct {
	Unit   unit.ID `json:"unit"`
	Victim unit.ID `json:"victim"`
}

// AttackEffect carries the victim's authoritative health after the hit.
type AttackEffect struct {
	Attacker unit.ID `json:"attacker"`
	Victim   unit.ID `json:"victim"`
	Health   int     `json:"health"`
}

// StatusReport is the owner's locally computed timer state.
type StatusReport struct {
	Unit           unit.ID    `json:"unit"`
	AttackCounter  float64    `json:"attack_counter"`
	RecoverCounter float64    `json:"recover_counter"`
	Color          unit.Color `json:"color"`
}

// StatusCommit rebroadcasts only the display color.
type StatusCommit struct {
	Unit  unit.ID    `json:"unit"`
	Color unit.Color `json:"color"`
}

// Destroy removes a unit. Used as request and commit.
type Destroy struct {
	Unit unit.ID `json:"unit"`
}

// GameOver is broadcast once per match.
type GameOver struct {
	Winner   int     `json:"winner"`
	Duration float64 `json:"duration"`
}
