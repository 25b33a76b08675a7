// Package metrics counts per-team match events for the post-game report.
package metrics

import (
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
)

// Category names one counter.
type Category int

const (
	Deaths Category = iota
	Splits
	Merges
	Kills
	Attacks
	AttackTime
	BattleEngagementTime
	Wins
	Losses
)

var categoryNames = [...]string{
	Deaths:               "deaths",
	Splits:               "splits",
	Merges:               "merges",
	Kills:                "kills",
	Attacks:              "attacks",
	AttackTime:           "attack_time",
	BattleEngagementTime: "battle_engagement_time",
	Wins:                 "wins",
	Losses:               "losses",
}

func (c Category) Valid() bool { return c >= 0 && int(c) < len(categoryNames) }

func (c Category) String() string {
	if !c.Valid() {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return categoryNames[c]
}

// Mode switches the sink between collecting and idle.
type Mode int

const (
	Start Mode = iota
	Stop
	Playing
	Over
)

func (m Mode) String() string {
	switch m {
	case Start:
		return "start"
	case Stop:
		return "stop"
	case Playing:
		return "playing"
	case Over:
		return "over"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Difficulty is the level a team plays at.
type Difficulty int

const (
	UnknownDifficulty Difficulty = iota - 1
	Easy
	Normal
	Hard
	Custom
)

func (d Difficulty) String() string {
	switch d {
	case Easy:
		return "Easy Difficulty"
	case Normal:
		return "Normal Difficulty"
	case Hard:
		return "Hard Difficulty"
	case Custom:
		return "Custom Difficulty"
	default:
		return "UNKNOWN LEVEL DIFFICULTY"
	}
}

// ParseDifficulty maps a config value such as "hard" to its level. An empty
// string is UnknownDifficulty.
func ParseDifficulty(s string) (Difficulty, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return UnknownDifficulty, nil
	case "easy":
		return Easy, nil
	case "normal":
		return Normal, nil
	case "hard":
		return Hard, nil
	case "custom":
		return Custom, nil
	}
	return UnknownDifficulty, fmt.Errorf("unknown difficulty %q", s)
}

const noEquation = "N/A (Not used.)"

// Team is one team's counters.
type Team struct {
	Team                 int        `json:"team"`
	Name                 string     `json:"name"`
	Difficulty           Difficulty `json:"difficulty"`
	DifficultyEquation   string     `json:"difficulty_equation"`
	Deaths               int        `json:"deaths"`
	Splits               int        `json:"splits"`
	Merges               int        `json:"merges"`
	Kills                int        `json:"kills"`
	Attacks              int        `json:"attacks"`
	Wins                 int        `json:"wins"`
	Losses               int        `json:"losses"`
	Elapsed              float64    `json:"elapsed"`
	Played               float64    `json:"played"`
	AttackTime           float64    `json:"attack_time"`
	BattleEngagementTime float64    `json:"battle_engagement_time"`
}

var defaultNames = map[int]string{0: "Yellow Team", 1: "Blue Team"}

// Sink accumulates team counters. It is safe for concurrent use.
type Sink struct {
	mu      sync.Mutex
	teams   map[int]*Team
	started bool
	playing bool
	lastDt  float64
	log     *log.Logger
}

func NewSink(logger *log.Logger) *Sink {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Sink{log: logger}
	s.reset()
	return s
}

func (s *Sink) reset() {
	s.teams = make(map[int]*Team)
	for team := range defaultNames {
		s.team(team)
	}
	s.lastDt = 0
}

// Reset clears every counter. The mode is kept.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *Sink) team(team int) *Team {
	t, ok := s.teams[team]
	if !ok {
		name, named := defaultNames[team]
		if !named {
			name = fmt.Sprintf("Team %d", team)
		}
		t = &Team{Team: team, Name: name, Difficulty: UnknownDifficulty, DifficultyEquation: noEquation}
		s.teams[team] = t
	}
	return t
}

func (s *Sink) SetMode(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch m {
	case Start:
		s.started = true
	case Stop:
		s.started = false
	case Playing:
		s.playing = true
	case Over:
		s.playing = false
	default:
		s.log.Printf("invalid mode %s", m)
	}
}

func (s *Sink) SetTeamName(team int, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.team(team).Name = name
}

// SetDifficulty records the level team plays at and the equation used to
// derive its unit attributes. An empty equation keeps the current one.
func (s *Sink) SetDifficulty(team int, level Difficulty, equation string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.team(team)
	t.Difficulty = level
	if equation != "" {
		t.DifficultyEquation = equation
	}
}

// Increment bumps a counter. Time categories add the duration of the last
// Tick. It reports false when the sink is idle or c is unknown.
func (s *Sink) Increment(c Category, team int) bool {
	return s.add(c, team, 1)
}

func (s *Sink) Decrement(c Category, team int) bool {
	return s.add(c, team, -1)
}

func (s *Sink) add(c Category, team int, sign int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started && !s.playing {
		s.log.Printf("%s for team %d ignored: metrics not enabled", c, team)
		return false
	}
	if !c.Valid() {
		s.log.Printf("invalid category %s for team %d", c, team)
		return false
	}
	t := s.team(team)
	switch c {
	case Deaths:
		t.Deaths += sign
	case Splits:
		t.Splits += sign
	case Merges:
		t.Merges += sign
	case Kills:
		t.Kills += sign
	case Attacks:
		t.Attacks += sign
	case Wins:
		t.Wins += sign
	case Losses:
		t.Losses += sign
	case AttackTime:
		t.AttackTime += float64(sign) * s.lastDt
	case BattleEngagementTime:
		t.BattleEngagementTime += float64(sign) * s.lastDt
	}
	return true
}

// Tick advances the clocks of every team.
func (s *Sink) Tick(dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastDt = dt
	if !s.started {
		return
	}
	for _, t := range s.teams {
		t.Elapsed += dt
		if s.playing {
			t.Played += dt
		}
	}
}

// Snapshot returns a copy of every team, ordered by team number.
func (s *Sink) Snapshot() []Team {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Team, 0, len(s.teams))
	for _, t := range s.teams {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Team < out[j].Team })
	return out
}
