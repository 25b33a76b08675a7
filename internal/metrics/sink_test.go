package metrics

import "testing"

func TestIncrementRefusedWhileIdle(t *testing.T) {
	s := NewSink(nil)
	if s.Increment(Kills, 0) {
		t.Fatalf("expected increment to be refused before start")
	}
	s.SetMode(Playing)
	if !s.Increment(Kills, 0) {
		t.Fatalf("expected increment while playing")
	}
	s.SetMode(Over)
	if s.Increment(Kills, 0) {
		t.Fatalf("expected increment to be refused after game over")
	}
	if got := s.Snapshot()[0].Kills; got != 1 {
		t.Fatalf("expected 1 kill, got %d", got)
	}
}

func TestInvalidCategoryIsIgnored(t *testing.T) {
	s := NewSink(nil)
	s.SetMode(Start)
	if s.Increment(Category(42), 0) {
		t.Fatalf("expected unknown category to be rejected")
	}
	if Category(42).Valid() {
		t.Fatalf("expected category 42 to be invalid")
	}
}

func TestCountersPerTeam(t *testing.T) {
	s := NewSink(nil)
	s.SetMode(Start)
	s.SetMode(Playing)

	for _, tc := range []struct {
		c    Category
		team int
	}{
		{Attacks, 0}, {Attacks, 0}, {Attacks, 1},
		{Kills, 0}, {Deaths, 1}, {Splits, 1}, {Merges, 1},
		{Wins, 0}, {Losses, 1},
	} {
		if !s.Increment(tc.c, tc.team) {
			t.Fatalf("increment %s team %d refused", tc.c, tc.team)
		}
	}
	s.Decrement(Attacks, 0)

	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 teams, got %d", len(snap))
	}
	yellow, blue := snap[0], snap[1]
	if yellow.Attacks != 1 || yellow.Kills != 1 || yellow.Wins != 1 {
		t.Fatalf("unexpected team 0 counters %+v", yellow)
	}
	if blue.Attacks != 1 || blue.Deaths != 1 || blue.Splits != 1 || blue.Merges != 1 || blue.Losses != 1 {
		t.Fatalf("unexpected team 1 counters %+v", blue)
	}
	if yellow.Name != "Yellow Team" || blue.Name != "Blue Team" {
		t.Fatalf("unexpected default names %q %q", yellow.Name, blue.Name)
	}
}

func TestTimeCategoriesUseLastTick(t *testing.T) {
	s := NewSink(nil)
	s.SetMode(Start)
	s.Tick(0.25)
	s.Increment(AttackTime, 0)
	s.Increment(BattleEngagementTime, 0)
	s.Tick(0.5)
	s.Increment(AttackTime, 0)

	team := s.Snapshot()[0]
	if team.AttackTime != 0.75 {
		t.Fatalf("expected attack time 0.75, got %.3f", team.AttackTime)
	}
	if team.BattleEngagementTime != 0.25 {
		t.Fatalf("expected engagement time 0.25, got %.3f", team.BattleEngagementTime)
	}
}

func TestTickAccumulatesElapsedAndPlayed(t *testing.T) {
	s := NewSink(nil)
	s.Tick(1)
	s.SetMode(Start)
	s.Tick(1)
	s.SetMode(Playing)
	s.Tick(1)
	s.SetMode(Over)
	s.Tick(1)

	team := s.Snapshot()[1]
	if team.Elapsed != 3 || team.Played != 1 {
		t.Fatalf("expected elapsed 3 played 1, got %.1f / %.1f", team.Elapsed, team.Played)
	}
}

func TestResetKeepsMode(t *testing.T) {
	s := NewSink(nil)
	s.SetMode(Playing)
	s.SetTeamName(5, "Red")
	s.Increment(Kills, 5)
	s.Reset()

	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected only default teams after reset, got %+v", snap)
	}
	if !s.Increment(Kills, 0) {
		t.Fatalf("expected mode to survive reset")
	}
}

func TestDifficultyDefaultsAndOverrides(t *testing.T) {
	s := NewSink(nil)
	for _, team := range s.Snapshot() {
		if team.Difficulty != UnknownDifficulty || team.DifficultyEquation != "N/A (Not used.)" {
			t.Fatalf("unexpected default difficulty %+v", team)
		}
	}

	s.SetDifficulty(1, Hard, "hp = 3 * level")
	s.SetDifficulty(1, Custom, "")
	blue := s.Snapshot()[1]
	if blue.Difficulty != Custom || blue.DifficultyEquation != "hp = 3 * level" {
		t.Fatalf("unexpected team 1 difficulty %+v", blue)
	}
	if got := blue.Difficulty.String(); got != "Custom Difficulty" {
		t.Fatalf("unexpected label %q", got)
	}

	s.Reset()
	if got := s.Snapshot()[1].Difficulty; got != UnknownDifficulty {
		t.Fatalf("expected reset to clear difficulty, got %s", got)
	}
}

func TestParseDifficulty(t *testing.T) {
	for in, want := range map[string]Difficulty{"": UnknownDifficulty, "Hard": Hard, " easy ": Easy} {
		got, err := ParseDifficulty(in)
		if err != nil || got != want {
			t.Fatalf("ParseDifficulty(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParseDifficulty("brutal"); err == nil {
		t.Fatalf("expected unknown difficulty to fail")
	}
}
