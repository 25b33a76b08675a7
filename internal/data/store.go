// Package data persists finished matches.
package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// TeamResult is one team's line in a finished match.
type TeamResult struct {
	Team    int    `json:"team"`
	Name    string `json:"name"`
	Attacks int    `json:"attacks"`
	Kills   int    `json:"kills"`
	Deaths  int    `json:"deaths"`
	Won     bool   `json:"won"`
}

// Match is a finished match.
type Match struct {
	ID         string        `json:"id"`
	Winner     int           `json:"winner"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
	Teams      []TeamResult  `json:"teams"`
}

// Record is a team's lifetime tally across matches.
type Record struct {
	Name    string `json:"name"`
	Played  int    `json:"played"`
	Wins    int    `json:"wins"`
	Kills   int    `json:"kills"`
	Deaths  int    `json:"deaths"`
	Attacks int    `json:"attacks"`
}

// Store keeps match history in Postgres or SQLite.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	driver string
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS matches (
		id TEXT PRIMARY KEY,
		winner INTEGER NOT NULL,
		duration_seconds DOUBLE PRECISION NOT NULL,
		finished_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS match_teams (
		match_id TEXT NOT NULL REFERENCES matches(id),
		team INTEGER NOT NULL,
		name TEXT NOT NULL,
		attacks INTEGER NOT NULL DEFAULT 0,
		kills INTEGER NOT NULL DEFAULT 0,
		deaths INTEGER NOT NULL DEFAULT 0,
		won BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (match_id, team)
	)`,
}

// Open picks a driver from the DSN: postgres:// and postgresql:// use
// lib/pq, anything else is a SQLite path (an optional sqlite:// prefix is
// stripped).
func Open(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("database url is required")
	}
	driver := "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "postgres"
	} else {
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", driver, err)
	}
	s, err := New(db, driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle and creates the schema.
func New(db *sql.DB, driver string) (*Store, error) {
	s := &Store{db: db, driver: driver}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rebind rewrites ? placeholders to $N for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// RecordMatch stores a match and its team lines atomically.
func (s *Store) RecordMatch(ctx context.Context, m Match) error {
	if m.ID == "" {
		return errors.New("match id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO matches (id, winner, duration_seconds, finished_at)
		VALUES (?, ?, ?, ?)
	`), m.ID, m.Winner, m.Duration.Seconds(), m.FinishedAt.UTC().UnixMilli()); err != nil {
		return fmt.Errorf("insert match %s: %w", m.ID, err)
	}
	for _, t := range m.Teams {
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO match_teams (match_id, team, name, attacks, kills, deaths, won)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`), m.ID, t.Team, t.Name, t.Attacks, t.Kills, t.Deaths, t.Won); err != nil {
			return fmt.Errorf("insert team %d: %w", t.Team, err)
		}
	}
	return tx.Commit()
}

// TeamRecord sums every match a team name has played.
func (s *Store) TeamRecord(ctx context.Context, name string) (Record, error) {
	r := Record{Name: name}
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN won THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(kills), 0),
		       COALESCE(SUM(deaths), 0),
		       COALESCE(SUM(attacks), 0)
		FROM match_teams
		WHERE name = ?
	`), name).Scan(&r.Played, &r.Wins, &r.Kills, &r.Deaths, &r.Attacks)
	if err != nil {
		return Record{}, fmt.Errorf("team record %q: %w", name, err)
	}
	return r, nil
}

// RecentMatches returns the latest matches, newest first.
func (s *Store) RecentMatches(ctx context.Context, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, winner, duration_seconds, finished_at
		FROM matches
		ORDER BY finished_at DESC, id
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, err
	}
	var out []Match
	for rows.Next() {
		var (
			m        Match
			seconds  float64
			finished int64
		)
		if err := rows.Scan(&m.ID, &m.Winner, &seconds, &finished); err != nil {
			rows.Close()
			return nil, err
		}
		m.Duration = time.Duration(seconds * float64(time.Second))
		m.FinishedAt = time.UnixMilli(finished).UTC()
		out = append(out, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		teams, err := s.teams(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Teams = teams
	}
	return out, nil
}

func (s *Store) teams(ctx context.Context, matchID string) ([]TeamResult, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT team, name, attacks, kills, deaths, won
		FROM match_teams
		WHERE match_id = ?
		ORDER BY team
	`), matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []TeamResult
	for rows.Next() {
		var t TeamResult
		if err := rows.Scan(&t.Team, &t.Name, &t.Attacks, &t.Kills, &t.Deaths, &t.Won); err != nil {
			return nil, err
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}
