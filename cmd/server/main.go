package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"unitsync/internal/auth"
	"unitsync/internal/config"
	"unitsync/internal/data"
	"unitsync/internal/metrics"
	"unitsync/internal/relay"
	"unitsync/internal/unit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	catalog, err := unit.LoadCatalog(cfg.StatsPath)
	if err != nil {
		log.Fatalf("failed to load unit stats: %v", err)
	}

	var store *data.Store
	if cfg.DatabaseURL != "" {
		store, err = data.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open match store: %v", err)
		}
		defer store.Close()
	} else {
		log.Println("DATABASE_URL not set, match history disabled")
	}

	logger := log.New(os.Stderr, "[relay] ", log.LstdFlags)
	sink := metrics.NewSink(log.New(os.Stderr, "[metrics] ", log.LstdFlags))
	game := relay.New(relay.Options{
		Catalog:  catalog,
		Roster:   cfg.Roster,
		TickRate: cfg.TickRate,
		Metrics:  sink,
		Tokens:   auth.NewTokens([]byte(cfg.JWTKey), cfg.TokenTTL),
		Logger:   logger,

		TeamNames:          cfg.TeamNames,
		Difficulty:         cfg.Difficulty,
		DifficultyEquation: cfg.DifficultyEquation,
	})
	game.OnGameOver = func(res relay.Result) {
		if store == nil {
			return
		}
		m := data.Match{
			ID:         "m_" + uuid.NewString(),
			Winner:     res.Winner,
			Duration:   res.Duration,
			FinishedAt: time.Now(),
		}
		for _, t := range res.Teams {
			m.Teams = append(m.Teams, data.TeamResult{
				Team:    t.Team,
				Name:    t.Name,
				Attacks: t.Attacks,
				Kills:   t.Kills,
				Deaths:  t.Deaths,
				Won:     t.Team == res.Winner,
			})
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.RecordMatch(ctx, m); err != nil {
			log.Printf("failed to record match %s: %v", m.ID, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go game.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", relay.NewWebsocketHandler(game, auth.NewLobby(cfg.LobbyPasswordHash)))
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, sink.Snapshot())
	})
	mux.HandleFunc("/matches", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "match history disabled", http.StatusNotFound)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if team := r.URL.Query().Get("team"); team != "" {
			rec, err := store.TeamRecord(r.Context(), team)
			if err != nil {
				http.Error(w, "lookup failed", http.StatusInternalServerError)
				return
			}
			writeJSON(w, rec)
			return
		}
		matches, err := store.RecentMatches(r.Context(), limit)
		if err != nil {
			log.Printf("recent matches: %v", err)
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, matches)
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()

	log.Println("Server starting on port " + cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("ListenAndServe: ", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
