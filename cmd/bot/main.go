// Command bot joins an arbitrator as a headless owner. Its units defend
// themselves; BOT_RALLY sends them to a point once after joining, or keeps
// steering them there for BOT_RALLY_HOLD.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"unitsync/internal/client"
	"unitsync/internal/config"
	"unitsync/internal/unit"
	"unitsync/internal/world"
)

// selectionLog logs selection changes instead of drawing a marker.
type selectionLog struct {
	mu    sync.Mutex
	shown map[unit.ID]bool
	log   *log.Logger
}

func (s *selectionLog) ShowSelection(id unit.ID, selected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.shown[id]; ok && prev == selected {
		return
	}
	s.shown[id] = selected
	if selected {
		s.log.Printf("unit %s selected", id)
	}
}

func main() {
	cfg, err := config.LoadBot()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New(os.Stderr, "[client] ", log.LstdFlags)
	ep, err := client.Dial(ctx, cfg.ServerURL, client.Options{
		Token:     cfg.Token,
		Password:  cfg.Password,
		Logger:    logger,
		Resources: world.NewResources(),
		Follow: func(u *unit.Unit) world.Resource {
			logger.Printf("following %s %s", u.Stats.Key, u.ID)
			return world.ReleaseFunc(func() { logger.Printf("stopped following %s", u.ID) })
		},
		Indicator: &selectionLog{shown: make(map[unit.ID]bool), log: logger},
	})
	if err != nil {
		log.Fatalf("connect: %v", err)
	}

	if len(cfg.Rally) == 3 {
		rally := unit.Vec3{X: cfg.Rally[0], Y: cfg.Rally[1], Z: cfg.Rally[2]}
		go func() {
			select {
			case <-ep.Welcomed():
			case <-ctx.Done():
				return
			}
			if cfg.RallyHold <= 0 {
				ep.Order(rally)
				logger.Printf("rallying to %+v", rally)
				return
			}
			ep.Hold(rally)
			logger.Printf("steering to %+v for %s", rally, cfg.RallyHold)
			select {
			case <-time.After(cfg.RallyHold):
			case <-ctx.Done():
			}
			ep.ReleaseHold()
		}()
	}

	if err := ep.Run(ctx, cfg.TickRate); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("bot stopped: %v", err)
	}
	if tok := ep.Token(); tok != "" {
		log.Printf("resume with BOT_TOKEN=%s", tok)
	}
}
