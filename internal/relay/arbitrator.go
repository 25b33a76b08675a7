// Package relay is the arbitrator: it validates decisions from authority
// owners, applies them to its own replica and broadcasts the commits to
// every connected endpoint in a single order.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"unitsync/internal/auth"
	"unitsync/internal/metrics"
	"unitsync/internal/protocol"
	"unitsync/internal/replica"
	"unitsync/internal/unit"
	"unitsync/internal/world"
)

const (
	TickRate = 30

	// Attacks arriving faster than this share of the attacker's cooldown
	// are rejected. The slack covers jitter between owner and arbitrator.
	cooldownTolerance = 0.9

	baseDistance = 10.0
	unitSpacing  = 2.0
)

var (
	ErrNotOwner     = errors.New("relay: player does not own unit")
	ErrUnknownUnit  = errors.New("relay: unknown unit")
	ErrMatchRunning = errors.New("relay: match still running")
)

// Result describes a finished match.
type Result struct {
	Winner   int
	Duration time.Duration
	Teams    []metrics.Team
}

type Options struct {
	Catalog  unit.Catalog
	Roster   []string
	TickRate int
	Metrics  *metrics.Sink
	Tokens   *auth.Tokens
	Logger   *log.Logger
	// Now is the wall clock used for attack cooldown checks.
	Now func() time.Time

	// Report labels, applied to the metrics at the start of every match.
	// Difficulty is parsed with metrics.ParseDifficulty.
	TeamNames          []string
	Difficulty         string
	DifficultyEquation string
}

type Arbitrator struct {
	mu sync.Mutex

	state    *replica.Set
	catalog  unit.Catalog
	roster   []string
	tickRate int

	players map[*Player]bool
	owners  map[string]*Player
	teams   map[string]int

	Register   chan *Player
	Unregister chan *Player
	done       chan struct{}
	stopOnce   sync.Once

	metrics    *metrics.Sink
	teamNames  []string
	difficulty metrics.Difficulty
	equation   string

	tokens *auth.Tokens
	log    *log.Logger
	now    func() time.Time

	lastAttack map[unit.ID]time.Time
	teamsSeen  map[int]bool
	nextTeam   int
	seq        uint64

	clock     float64
	startedAt float64
	playing   bool
	gameOver  bool
	winner    int

	OnGameOver func(Result)
}

func New(opts Options) *Arbitrator {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	sink := opts.Metrics
	if sink == nil {
		sink = metrics.NewSink(logger)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	rate := opts.TickRate
	if rate <= 0 {
		rate = TickRate
	}
	a := &Arbitrator{
		state:      replica.New(world.New(), nil, logger),
		catalog:    opts.Catalog,
		roster:     opts.Roster,
		tickRate:   rate,
		players:    make(map[*Player]bool),
		owners:     make(map[string]*Player),
		teams:      make(map[string]int),
		Register:   make(chan *Player),
		Unregister: make(chan *Player),
		done:       make(chan struct{}),
		metrics:    sink,
		teamNames:  opts.TeamNames,
		equation:   opts.DifficultyEquation,
		tokens:     opts.Tokens,
		log:        logger,
		now:        now,
		lastAttack: make(map[unit.ID]time.Time),
		teamsSeen:  make(map[int]bool),
		winner:     -1,
	}
	level, err := metrics.ParseDifficulty(opts.Difficulty)
	if err != nil {
		logger.Printf("%v, reporting it as unknown", err)
	}
	a.difficulty = level
	a.armMetrics()
	return a
}

// armMetrics clears the counters, applies the report labels and starts
// collecting.
func (a *Arbitrator) armMetrics() {
	a.metrics.Reset()
	for team, name := range a.teamNames {
		if name != "" {
			a.metrics.SetTeamName(team, name)
		}
	}
	if a.difficulty != metrics.UnknownDifficulty || a.equation != "" {
		for team := 0; team < 2; team++ {
			a.metrics.SetDifficulty(team, a.difficulty, a.equation)
		}
	}
	a.metrics.SetMode(metrics.Start)
}

// Run drives connection bookkeeping and the simulation tick until ctx ends.
func (a *Arbitrator) Run(ctx context.Context) {
	defer a.stopOnce.Do(func() { close(a.done) })
	go a.handleConnections(ctx)

	ticker := time.NewTicker(time.Second / time.Duration(a.tickRate))
	defer ticker.Stop()
	dt := 1.0 / float64(a.tickRate)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Tick(dt)
		}
	}
}

func (a *Arbitrator) handleConnections(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-a.Register:
			a.Join(p)
		case p := <-a.Unregister:
			a.Leave(p)
		}
	}
}

// register hands p to the connection loop unless the arbitrator stopped.
func (a *Arbitrator) register(p *Player) bool {
	select {
	case a.Register <- p:
		return true
	case <-a.done:
		return false
	}
}

func (a *Arbitrator) unregister(p *Player) {
	select {
	case a.Unregister <- p:
	case <-a.done:
	}
}

// Join admits p. A resuming player takes over its live units; anyone else
// is put on the next team and gets the roster spawned at the team base.
// A newcomer arriving after the match ended starts a rematch first.
func (a *Arbitrator) Join(p *Player) {
	a.mu.Lock()
	defer a.mu.Unlock()

	team, known := a.teams[p.ID]
	if a.gameOver && !(known && p.Resume) {
		a.log.Printf("player %s joined a finished match, starting a rematch", p.ID)
		a.reset()
	}

	a.players[p] = true
	if known && p.Resume {
		p.Team = team
		a.owners[p.ID] = p
		a.log.Printf("player %s resumed on team %d", p.ID, team)
		a.welcome(p)
		return
	}

	p.Resume = false
	p.Team = a.nextTeam
	a.nextTeam = (a.nextTeam + 1) % 2
	a.owners[p.ID] = p
	a.teams[p.ID] = p.Team
	a.teamsSeen[p.Team] = true

	spawned := a.spawnRoster(p)
	a.welcome(p)
	for _, u := range spawned {
		a.broadcastExcept(p, protocol.TypeSpawn, protocol.Spawn{Unit: u})
	}
	a.log.Printf("player %s joined team %d with %d units", p.ID, p.Team, len(spawned))
	a.startMatch()
}

func (a *Arbitrator) startMatch() {
	if a.playing || len(a.teamsSeen) < 2 {
		return
	}
	a.playing = true
	a.startedAt = a.clock
	a.metrics.SetMode(metrics.Playing)
	a.log.Printf("match started")
}

// Reset starts a rematch: every unit is destroyed, each connected player
// gets a fresh roster on its old team and a new welcome.
func (a *Arbitrator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset()
}

func (a *Arbitrator) reset() {
	for _, u := range a.state.World().Units() {
		a.destroy(u.ID)
	}
	a.gameOver, a.winner, a.playing = false, -1, false
	a.teamsSeen = make(map[int]bool)
	a.lastAttack = make(map[unit.ID]time.Time)
	a.armMetrics()

	ids := make([]string, 0, len(a.owners))
	for id := range a.owners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := a.owners[id]
		a.teamsSeen[p.Team] = true
		a.spawnRoster(p)
	}
	for _, id := range ids {
		a.welcome(a.owners[id])
	}
	a.log.Printf("match reset with %d players", len(ids))
	a.startMatch()
}

func (a *Arbitrator) spawnRoster(p *Player) []*unit.Unit {
	x := -baseDistance
	if p.Team%2 == 1 {
		x = baseDistance
	}
	existing := 0
	for _, u := range a.state.World().Units() {
		if u.Team == p.Team {
			existing++
		}
	}

	var out []*unit.Unit
	for i, key := range a.roster {
		stats, ok := a.catalog.Lookup(key)
		if !ok {
			a.log.Printf("roster unit %q not in catalog, skipped", key)
			continue
		}
		pos := unit.Vec3{X: x, Z: float64(existing+i) * unitSpacing}
		u := unit.New(unit.NewID(), p.ID, p.Team, stats, pos)
		a.state.Spawn(u)
		out = append(out, u)
	}
	return out
}

func (a *Arbitrator) welcome(p *Player) {
	w := protocol.Welcome{PlayerID: p.ID, Team: p.Team, GameOver: a.gameOver}
	if a.gameOver {
		w.Winner = a.winner
	}
	if a.tokens != nil {
		tok, err := a.tokens.Issue(p.ID)
		if err != nil {
			a.log.Printf("issue token for %s: %v", p.ID, err)
		}
		w.Token = tok
	}
	for _, u := range a.state.World().Units() {
		w.Units = append(w.Units, u.Clone())
	}
	a.seq++
	raw, err := protocol.Encode(protocol.TypeWelcome, a.seq, w)
	if err != nil {
		a.log.Printf("encode welcome: %v", err)
		return
	}
	a.send(p, raw)
}

// Leave forgets the connection. If it still owns its player's units they
// are destroyed; a superseded connection leaves them to its successor.
func (a *Arbitrator) Leave(p *Player) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.drop(p)
	if a.owners[p.ID] != p {
		a.log.Printf("connection for %s closed", p.ID)
		return
	}
	delete(a.owners, p.ID)
	delete(a.teams, p.ID)
	for _, u := range a.state.World().OwnedBy(p.ID) {
		a.destroy(u.ID)
	}
	a.log.Printf("player %s left", p.ID)
	a.checkGameOver()
}

func (a *Arbitrator) drop(p *Player) {
	delete(a.players, p)
	if !p.closed {
		p.closed = true
		close(p.Send)
	}
}

// Handle validates and commits one decision from p.
func (a *Arbitrator) Handle(p *Player, env protocol.Envelope) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch env.Type {
	case protocol.TypeMove:
		var m protocol.Move
		if err := env.Unmarshal(&m); err != nil {
			return err
		}
		if _, err := a.owned(p, m.Unit); err != nil {
			return err
		}
		if a.state.ApplyMove(m) {
			a.broadcast(protocol.TypeMove, m)
		}
	case protocol.TypeSelfDefense:
		var d protocol.SelfDefense
		if err := env.Unmarshal(&d); err != nil {
			return err
		}
		if _, err := a.owned(p, d.Unit); err != nil {
			return err
		}
		if d.Target != "" {
			if _, ok := a.state.World().Get(d.Target); !ok {
				d.Target = ""
			}
		}
		if a.state.ApplySelfDefense(d) {
			a.broadcast(protocol.TypeSelfDefense, d)
		}
	case protocol.TypeAttack:
		var m protocol.Attack
		if err := env.Unmarshal(&m); err != nil {
			return err
		}
		attacker, err := a.owned(p, m.Unit)
		if err != nil {
			return err
		}
		a.attack(attacker, m.Victim)
	case protocol.TypeStatus:
		var s protocol.StatusReport
		if err := env.Unmarshal(&s); err != nil {
			return err
		}
		u, err := a.owned(p, s.Unit)
		if err != nil {
			return err
		}
		a.status(u, s)
	case protocol.TypeDestroy:
		var d protocol.Destroy
		if err := env.Unmarshal(&d); err != nil {
			return err
		}
		if _, err := a.owned(p, d.Unit); err != nil {
			return err
		}
		a.destroy(d.Unit)
		a.checkGameOver()
	case protocol.TypeReset:
		if a.owners[p.ID] != p {
			return fmt.Errorf("%w: reset from superseded connection", ErrNotOwner)
		}
		if !a.gameOver {
			return ErrMatchRunning
		}
		a.log.Printf("player %s asked for a rematch", p.ID)
		a.reset()
	default:
		return fmt.Errorf("relay: unexpected decision %q", env.Type)
	}
	return nil
}

func (a *Arbitrator) owned(p *Player, id unit.ID) (*unit.Unit, error) {
	u, ok := a.state.World().Get(id)
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownUnit, id)
	}
	if u.Owner != p.ID || a.owners[p.ID] != p {
		return nil, fmt.Errorf("%w %s", ErrNotOwner, id)
	}
	return u, nil
}

// attack is a silent no-op for victims that are already gone.
func (a *Arbitrator) attack(attacker *unit.Unit, victimID unit.ID) {
	if a.gameOver {
		return
	}
	victim, ok := a.state.World().Get(victimID)
	if !ok {
		return
	}
	if victim.Team == attacker.Team {
		a.log.Printf("attack %s -> %s rejected: same team", attacker.ID, victimID)
		return
	}
	if !attacker.Alive() {
		a.log.Printf("attack %s -> %s rejected: attacker is dead", attacker.ID, victimID)
		return
	}
	now := a.now()
	if last, ok := a.lastAttack[attacker.ID]; ok {
		gap := time.Duration(attacker.Stats.AttackCooldown * cooldownTolerance * float64(time.Second))
		if now.Sub(last) < gap {
			a.log.Printf("attack %s -> %s rejected: cooling down", attacker.ID, victimID)
			return
		}
	}
	a.lastAttack[attacker.ID] = now

	wasAlive := victim.Alive()
	victim.TakeDamage()
	a.metrics.Increment(metrics.Attacks, attacker.Team)
	if wasAlive && !victim.Alive() {
		a.metrics.Increment(metrics.Kills, attacker.Team)
		a.metrics.Increment(metrics.Deaths, victim.Team)
	}
	a.broadcast(protocol.TypeAttack, protocol.AttackEffect{
		Attacker: attacker.ID,
		Victim:   victim.ID,
		Health:   victim.Health,
	})
	a.checkGameOver()
}

// status stores the owner's timers, clamped to their valid ranges, and
// rebroadcasts the color when it changed.
func (a *Arbitrator) status(u *unit.Unit, s protocol.StatusReport) {
	attack := clamp(s.AttackCounter, 0, u.Stats.AttackCooldown)
	recovery := clamp(s.RecoverCounter, 0, 1)
	color := s.Color.Clamp()
	if attack != s.AttackCounter || recovery != s.RecoverCounter || color != s.Color {
		a.log.Printf("status for %s clamped", u.ID)
	}
	u.AttackCooldownCounter = attack
	u.RecoverCounter = recovery
	if color == u.Color {
		return
	}
	c := protocol.StatusCommit{Unit: u.ID, Color: color}
	a.state.ApplyStatus(c)
	a.broadcast(protocol.TypeStatus, c)
}

func (a *Arbitrator) destroy(id unit.ID) {
	if !a.state.ApplyDestroy(protocol.Destroy{Unit: id}) {
		return
	}
	delete(a.lastAttack, id)
	a.broadcast(protocol.TypeDestroy, protocol.Destroy{Unit: id})
}

// Tick advances the arbitrator's replica and the match clocks.
func (a *Arbitrator) Tick(dt float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.clock += dt
	a.state.Step(dt)
	a.metrics.Tick(dt)
	if !a.playing || a.gameOver {
		return
	}

	w := a.state.World()
	sight, reach := world.Sight(w), world.Reach(w)
	engaged := make(map[int]bool)
	attacking := make(map[int]bool)
	for _, u := range w.Units() {
		if !u.Alive() {
			continue
		}
		if len(sight.Enemies(u)) > 0 {
			engaged[u.Team] = true
		}
		if len(reach.Enemies(u)) > 0 {
			attacking[u.Team] = true
		}
	}
	for team := range engaged {
		a.metrics.Increment(metrics.BattleEngagementTime, team)
	}
	for team := range attacking {
		a.metrics.Increment(metrics.AttackTime, team)
	}
}

// checkGameOver ends the match once only one team has living units.
func (a *Arbitrator) checkGameOver() {
	if !a.playing || a.gameOver {
		return
	}
	alive := make(map[int]bool)
	for _, u := range a.state.World().Units() {
		if u.Alive() {
			alive[u.Team] = true
		}
	}
	switch len(alive) {
	case 0:
		a.finish(-1)
	case 1:
		for team := range alive {
			a.finish(team)
		}
	}
}

func (a *Arbitrator) finish(winner int) {
	if a.gameOver {
		return
	}
	a.gameOver = true
	a.winner = winner

	teams := make([]int, 0, len(a.teamsSeen))
	for team := range a.teamsSeen {
		teams = append(teams, team)
	}
	sort.Ints(teams)
	for _, team := range teams {
		if team == winner {
			a.metrics.Increment(metrics.Wins, team)
		} else {
			a.metrics.Increment(metrics.Losses, team)
		}
	}
	a.metrics.SetMode(metrics.Over)

	duration := a.clock - a.startedAt
	a.broadcast(protocol.TypeGameOver, protocol.GameOver{Winner: winner, Duration: duration})
	a.log.Printf("match over: winner team %d after %.1fs", winner, duration)

	if a.OnGameOver != nil {
		res := Result{
			Winner:   winner,
			Duration: time.Duration(duration * float64(time.Second)),
			Teams:    a.metrics.Snapshot(),
		}
		go a.OnGameOver(res)
	}
}

// GameOver reports whether the match ended and who won.
func (a *Arbitrator) GameOver() (bool, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gameOver, a.winner
}

// Units returns a snapshot of the arbitrator's replica.
func (a *Arbitrator) Units() []*unit.Unit {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*unit.Unit
	for _, u := range a.state.World().Units() {
		out = append(out, u.Clone())
	}
	return out
}

func (a *Arbitrator) broadcast(typ string, payload any) {
	a.broadcastExcept(nil, typ, payload)
}

func (a *Arbitrator) broadcastExcept(skip *Player, typ string, payload any) {
	a.seq++
	raw, err := protocol.Encode(typ, a.seq, payload)
	if err != nil {
		a.log.Printf("encode %s: %v", typ, err)
		return
	}
	for p := range a.players {
		if p == skip {
			continue
		}
		a.send(p, raw)
	}
}

// send drops an observer whose buffer is full.
func (a *Arbitrator) send(p *Player, raw []byte) {
	if p.closed {
		return
	}
	select {
	case p.Send <- raw:
	default:
		a.log.Printf("player %s is not keeping up, dropped", p.ID)
		a.drop(p)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
