// Package client is a headless endpoint: it mirrors the arbitrator's
// commits into a local replica and drives an authority owner for every unit
// it was given.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	neturl "net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"unitsync/internal/authority"
	"unitsync/internal/protocol"
	"unitsync/internal/replica"
	"unitsync/internal/unit"
	"unitsync/internal/world"
)

type Options struct {
	// Token resumes a previous session.
	Token    string
	Password string
	Logger   *log.Logger
	// Resources receives display resources released on destroy.
	Resources *world.Resources
	// Follow, when set, builds a resource for every adopted unit. It is
	// attached to Resources and released when the unit is destroyed.
	Follow    func(u *unit.Unit) world.Resource
	Indicator authority.Indicator
}

type Endpoint struct {
	mu sync.Mutex

	conn *websocket.Conn
	in   chan protocol.Envelope
	out  chan []byte
	done chan struct{}

	readErr error

	set       *replica.Set
	owners    map[unit.ID]*authority.Owner
	orders    *authority.Orders
	resources *world.Resources
	follow    func(u *unit.Unit) world.Resource
	indicator authority.Indicator

	playerID string
	team     int
	token    string
	gameOver bool

	welcomed    chan struct{}
	welcomeOnce sync.Once

	log *log.Logger
}

// Dial connects to the arbitrator's websocket endpoint.
func Dial(ctx context.Context, wsURL string, opts Options) (*Endpoint, error) {
	u, err := neturl.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	q := u.Query()
	if opts.Password != "" {
		q.Set("password", opts.Password)
	}
	hdr := http.Header{}
	if opts.Token != "" {
		hdr.Set("Authorization", "Bearer "+opts.Token)
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), hdr)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			return nil, fmt.Errorf("dial %s: %s: %s", u.Redacted(), resp.Status, body)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	return New(conn, opts), nil
}

// New wraps an open connection. conn may be nil for an endpoint that is
// fed by hand.
func New(conn *websocket.Conn, opts Options) *Endpoint {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	resources := opts.Resources
	if resources == nil && opts.Follow != nil {
		resources = world.NewResources()
	}
	return &Endpoint{
		conn:      conn,
		in:        make(chan protocol.Envelope, 128),
		out:       make(chan []byte, 256),
		done:      make(chan struct{}),
		set:       replica.New(world.New(), resources, logger),
		owners:    make(map[unit.ID]*authority.Owner),
		orders:    &authority.Orders{},
		resources: resources,
		follow:    opts.Follow,
		indicator: opts.Indicator,
		welcomed:  make(chan struct{}),
		log:       logger,
	}
}

// Run applies commits and ticks owners until ctx ends or the connection
// drops. All replica and owner state is touched from this goroutine.
func (e *Endpoint) Run(ctx context.Context, tickRate int) error {
	if tickRate <= 0 {
		tickRate = 30
	}
	defer close(e.done)
	defer e.conn.Close()
	go e.reader()
	go e.writer()

	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()
	dt := 1.0 / float64(tickRate)
	for {
		select {
		case <-ctx.Done():
			_ = e.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return ctx.Err()
		case env, ok := <-e.in:
			if !ok {
				return e.readErr
			}
			e.handle(env)
		case <-ticker.C:
			e.tick(dt)
		}
	}
}

func (e *Endpoint) reader() {
	defer close(e.in)
	for {
		_, raw, err := e.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				e.readErr = err
			}
			return
		}
		env, err := protocol.Decode(raw)
		if err != nil {
			e.log.Printf("%v", err)
			continue
		}
		select {
		case e.in <- env:
		case <-e.done:
			return
		}
	}
}

func (e *Endpoint) writer() {
	for {
		select {
		case raw := <-e.out:
			if err := e.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				e.log.Printf("write: %v", err)
				return
			}
		case <-e.done:
			return
		}
	}
}

func (e *Endpoint) handle(env protocol.Envelope) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch env.Type {
	case protocol.TypeWelcome:
		var w protocol.Welcome
		if err := env.Unmarshal(&w); err != nil {
			e.log.Printf("%v", err)
			return
		}
		e.playerID, e.team, e.token = w.PlayerID, w.Team, w.Token
		e.gameOver = w.GameOver
		e.set.SetLocal(w.PlayerID)
		for _, u := range w.Units {
			e.set.Spawn(u)
			e.adopt(u.ID)
		}
		if w.GameOver {
			e.log.Printf("joined as %s after the match ended, team %d won", w.PlayerID, w.Winner)
		} else {
			e.log.Printf("joined as %s on team %d with %d units", w.PlayerID, w.Team, len(e.owners))
		}
		e.welcomeOnce.Do(func() { close(e.welcomed) })
	case protocol.TypeSpawn:
		var s protocol.Spawn
		if err := env.Unmarshal(&s); err != nil || s.Unit == nil {
			e.log.Printf("bad spawn: %v", err)
			return
		}
		e.set.Spawn(s.Unit)
		e.adopt(s.Unit.ID)
	case protocol.TypeDestroy:
		var d protocol.Destroy
		if err := env.Unmarshal(&d); err != nil {
			e.log.Printf("%v", err)
			return
		}
		delete(e.owners, d.Unit)
		e.set.ApplyDestroy(d)
	case protocol.TypeGameOver:
		var g protocol.GameOver
		if err := env.Unmarshal(&g); err != nil {
			e.log.Printf("%v", err)
			return
		}
		e.gameOver = true
		outcome := "lost"
		if g.Winner == e.team {
			outcome = "won"
		}
		e.log.Printf("match over after %.1fs: team %d %s", g.Duration, e.team, outcome)
	default:
		if _, err := e.set.Apply(env); err != nil {
			e.log.Printf("%v", err)
		}
	}
}

// adopt gives a locally owned unit an authority owner.
func (e *Endpoint) adopt(id unit.ID) {
	if e.playerID == "" {
		return
	}
	if _, ok := e.owners[id]; ok {
		return
	}
	w := e.set.World()
	u, ok := w.Get(id)
	if !ok || u.Owner != e.playerID {
		return
	}
	e.owners[id] = authority.NewOwner(u, e, authority.Collaborators{
		Sight:     world.Sight(w),
		Reach:     world.Reach(w),
		Planner:   w.Planner(id),
		Locator:   w,
		Pointer:   e.orders,
		Aim:       e.orders,
		Indicator: e.indicator,
	})
	if e.follow != nil {
		e.resources.Attach(id, e.follow(u))
	}
}

func (e *Endpoint) tick(dt float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.gameOver {
		for _, u := range e.set.World().OwnedBy(e.playerID) {
			if o, ok := e.owners[u.ID]; ok {
				o.Tick(dt)
			}
		}
	}
	e.orders.EndTick()
	e.set.Step(dt)
}

// Order selects every local unit and sends them to at on the next tick.
func (e *Endpoint) Order(at unit.Vec3) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, o := range e.owners {
		o.Unit().IsSelected = true
	}
	e.orders.Tap(at)
}

// Hold selects every local unit and keeps steering them to at on every tick
// until ReleaseHold.
func (e *Endpoint) Hold(at unit.Vec3) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, o := range e.owners {
		o.Unit().IsSelected = true
	}
	e.orders.Press(at)
}

func (e *Endpoint) ReleaseHold() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orders.Release()
}

// Deselect drops the selection so units go back to defending themselves.
func (e *Endpoint) Deselect() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, o := range e.owners {
		o.Unit().IsSelected = false
	}
}

// Welcomed is closed once the arbitrator has admitted this endpoint.
func (e *Endpoint) Welcomed() <-chan struct{} { return e.welcomed }

func (e *Endpoint) PlayerID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playerID
}

// Token resumes this session on a later Dial.
func (e *Endpoint) Token() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.token
}

func (e *Endpoint) Owned() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.owners)
}

// ErrBacklog is logged when decisions are produced faster than they drain.
var ErrBacklog = errors.New("client: outbound queue full")

func (e *Endpoint) send(typ string, payload any) {
	raw, err := protocol.Encode(typ, 0, payload)
	if err != nil {
		e.log.Printf("%v", err)
		return
	}
	select {
	case e.out <- raw:
	default:
		e.log.Printf("%s dropped: %v", typ, ErrBacklog)
	}
}

func (e *Endpoint) Move(m protocol.Move)               { e.send(protocol.TypeMove, m) }
func (e *Endpoint) SelfDefense(d protocol.SelfDefense) { e.send(protocol.TypeSelfDefense, d) }
func (e *Endpoint) Attack(a protocol.Attack)           { e.send(protocol.TypeAttack, a) }
func (e *Endpoint) Status(s protocol.StatusReport)     { e.send(protocol.TypeStatus, s) }
