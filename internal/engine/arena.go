// Package engine provides the narrative round scheduler: it draws events for
// each phase, resolves them against the live tribute pool, and applies deaths
// until one tribute remains.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/talgya/tribute-arena/internal/catalog"
	"github.com/talgya/tribute-arena/internal/narrative"
	"github.com/talgya/tribute-arena/internal/selector"
	"github.com/talgya/tribute-arena/internal/tributes"
)

var (
	// ErrArenaFinished is returned by Step once the arena has an outcome.
	ErrArenaFinished = errors.New("arena already finished")
	// ErrTooFewTributes means the roster cannot produce a contest.
	ErrTooFewTributes = errors.New("an arena needs at least two tributes")
)

// Arena owns the state of one simulation: the tribute pool, the used-event
// set and the narrative log. It is not safe for concurrent use.
type Arena struct {
	id       string
	events   *catalog.EventCatalog
	cfg      Config
	src      selector.Source
	resolver narrative.Resolver
	pool     *tributes.Pool

	byPhase map[catalog.Phase][]catalog.EventTemplate
	used    map[catalog.EventID]struct{}

	state    State
	outcome  Outcome
	winner   *tributes.Tribute
	round    int
	plan     []catalog.Phase
	phaseIdx int
	log      []LogEntry
	err      error

	// Most recently stepped phase, for paced playback.
	lastRound int
	lastPhase catalog.Phase
}

// NewArena registers the roster and prepares an arena in the Setup state.
// src is owned by the arena for its lifetime; sharing it between arenas
// breaks replay.
func NewArena(events *catalog.EventCatalog, roster []tributes.Tribute, cfg Config, src selector.Source) (*Arena, error) {
	if events == nil {
		return nil, errors.New("nil event catalog")
	}
	if src == nil {
		return nil, errors.New("nil random source")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if len(roster) < 2 {
		return nil, ErrTooFewTributes
	}
	pool, err := tributes.NewPool(roster)
	if err != nil {
		return nil, fmt.Errorf("roster: %w", err)
	}

	return &Arena{
		id:       uuid.NewString(),
		events:   events,
		cfg:      cfg,
		src:      src,
		resolver: narrative.Resolver{Objects: slices.Clone(cfg.Objects)},
		pool:     pool,
		state:    StateSetup,
	}, nil
}

// ID returns the arena's run identifier.
func (a *Arena) ID() string { return a.id }

// State returns the lifecycle state.
func (a *Arena) State() State { return a.state }

// Outcome returns how the arena ended, or OutcomePending.
func (a *Arena) Outcome() Outcome { return a.outcome }

// Round returns the current (or final) round number.
func (a *Arena) Round() int { return a.round }

// Err returns the error that aborted the arena, if any.
func (a *Arena) Err() error { return a.err }

// Done reports whether Step has nothing left to do.
func (a *Arena) Done() bool {
	return a.state == StateFinished || a.err != nil
}

// AliveCount returns how many tributes are alive.
func (a *Arena) AliveCount() int { return a.pool.AliveCount() }

// Tributes returns a snapshot of every tribute in registration order.
func (a *Arena) Tributes() []tributes.Tribute { return a.pool.Snapshot() }

// Log returns a copy of the narrative log so far.
func (a *Arena) Log() []LogEntry { return slices.Clone(a.log) }

// LastPhase returns the round and phase handled by the latest Step.
func (a *Arena) LastPhase() (int, catalog.Phase) { return a.lastRound, a.lastPhase }

// Result reports the arena's current standing. It is final once Done.
func (a *Arena) Result() Result {
	return Result{
		ID:       a.id,
		Outcome:  a.outcome,
		Winner:   a.winner,
		Rounds:   a.round,
		Log:      a.Log(),
		Tributes: a.pool.Snapshot(),
	}
}

// Run steps the arena until it finishes or aborts.
func (a *Arena) Run() (Result, error) {
	for !a.Done() {
		if _, err := a.Step(); err != nil {
			return a.Result(), err
		}
	}
	return a.Result(), nil
}

// Step runs exactly one phase. It returns the phase's log entry, or nil when
// the phase had no admissible event. Pool contract violations abort the
// arena; the same error is then returned by every later call.
func (a *Arena) Step() (*LogEntry, error) {
	if a.err != nil {
		return nil, a.err
	}
	if a.state == StateFinished {
		return nil, ErrArenaFinished
	}
	if a.state == StateSetup {
		a.setup()
	}

	phase := a.plan[a.phaseIdx]
	a.lastRound, a.lastPhase = a.round, phase

	entry, err := a.runPhase(phase)
	if err != nil {
		a.err = fmt.Errorf("round %d %s: %w", a.round, phase, err)
		slog.Error("arena aborted", "arena", a.id, "error", a.err)
		return nil, a.err
	}
	a.advance()
	return entry, nil
}

func (a *Arena) setup() {
	a.byPhase = make(map[catalog.Phase][]catalog.EventTemplate)
	for _, e := range a.events.All() {
		a.byPhase[e.Phase] = append(a.byPhase[e.Phase], e)
	}
	a.used = make(map[catalog.EventID]struct{})
	a.log = nil

	a.round = 1
	if a.cfg.Bloodbath && len(a.byPhase[catalog.PhaseArena]) > 0 {
		a.round = 0
	}
	a.plan = a.phasesFor(a.round)
	a.phaseIdx = 0
	a.state = StateRoundLoop

	slog.Debug("arena setup",
		"arena", a.id,
		"tributes", a.pool.Len(),
		"events", a.events.Len(),
		"bloodbath", a.round == 0,
	)
}

// phasesFor returns the fixed phase order of a round.
func (a *Arena) phasesFor(round int) []catalog.Phase {
	if round == 0 {
		return []catalog.Phase{catalog.PhaseArena}
	}
	plan := []catalog.Phase{catalog.PhaseDay, catalog.PhaseNight}
	if a.cfg.FeastEvery > 0 && round%a.cfg.FeastEvery == 0 {
		plan = append(plan, catalog.PhaseFeast)
	}
	return plan
}

func (a *Arena) advance() {
	a.phaseIdx++
	if a.pool.AliveCount() <= 1 {
		a.finish()
		return
	}
	if a.phaseIdx < len(a.plan) {
		return
	}

	// Round complete.
	if a.round >= a.cfg.MaxRounds || !a.canStillKill() {
		a.stalemate()
		return
	}
	a.round++
	a.plan = a.phasesFor(a.round)
	a.phaseIdx = 0
}

// canStillKill reports whether any fatal event could ever be drawn again. The
// alive count only falls and the used set only grows, so once nothing fatal
// is admissible it never will be.
func (a *Arena) canStillKill() bool {
	alive := a.pool.AliveCount()
	for _, p := range a.phasesForCycle() {
		for _, e := range a.byPhase[p] {
			if e.IsFatal() && a.admits(e, alive) {
				return true
			}
		}
	}
	return false
}

func (a *Arena) phasesForCycle() []catalog.Phase {
	if a.cfg.FeastEvery > 0 {
		return []catalog.Phase{catalog.PhaseDay, catalog.PhaseNight, catalog.PhaseFeast}
	}
	return []catalog.Phase{catalog.PhaseDay, catalog.PhaseNight}
}

func (a *Arena) admits(e catalog.EventTemplate, alive int) bool {
	if e.RequiredSlots() > alive {
		return false
	}
	_, used := a.used[e.ID]
	return !used
}

func (a *Arena) finish() {
	a.state = StateFinished
	alive := a.pool.Alive()
	if len(alive) == 1 {
		w := alive[0]
		a.winner = &w
		a.outcome = OutcomeVictor
		slog.Info("arena finished", "arena", a.id, "round", a.round, "winner", w.Name, "kills", w.Kills)
		return
	}
	a.outcome = OutcomeNoSurvivor
	slog.Info("arena finished", "arena", a.id, "round", a.round, "outcome", a.outcome)
}

func (a *Arena) stalemate() {
	a.state = StateFinished
	a.outcome = OutcomeStalemate
	slog.Info("arena stalemate", "arena", a.id, "round", a.round, "alive", a.pool.AliveCount())
}

func (a *Arena) runPhase(phase catalog.Phase) (*LogEntry, error) {
	alive := a.pool.Alive()

	var cands []selector.Candidate[catalog.EventTemplate]
	for _, e := range a.byPhase[phase] {
		if !a.admits(e, len(alive)) {
			continue
		}
		w := e.Weight
		if e.IsFatal() {
			w *= a.cfg.escalation(a.round)
		}
		cands = append(cands, selector.Candidate[catalog.EventTemplate]{Item: e, Weight: w})
	}

	tpl, err := selector.Pick(cands, a.src)
	if errors.Is(err, selector.ErrEmptyCandidateSet) {
		slog.Debug("phase skipped", "arena", a.id, "round", a.round, "phase", phase, "alive", len(alive))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if a.cfg.ExcludeUsed {
		a.used[tpl.ID] = struct{}{}
	}

	res, err := a.resolver.Resolve(tpl, alive, a.src)
	if errors.Is(err, narrative.ErrInsufficientTributes) {
		slog.Warn("event skipped", "arena", a.id, "round", a.round, "phase", phase, "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entry := LogEntry{
		Seq:          len(a.log) + 1,
		Round:        a.round,
		Phase:        phase,
		EventID:      tpl.ID,
		Text:         res.Text,
		Participants: res.Bindings,
	}
	if tpl.IsFatal() {
		cas, err := a.applyFatality(tpl.Fatal, res)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", tpl.ID, err)
		}
		entry.Casualties = cas
	}

	a.log = append(a.log, entry)
	slog.Debug("event", "arena", a.id, "label", PhaseLabel(a.round, phase), "text", entry.Text)
	return &entry, nil
}

// applyFatality turns placeholder indices into tribute ids and eliminates the
// victims as one atomic pool update.
func (a *Arena) applyFatality(f *catalog.Fatality, res narrative.Resolution) (*Casualties, error) {
	victims := make([]tributes.ID, 0, len(f.Victims))
	for _, slot := range f.Victims {
		id, ok := res.Bound(slot)
		if !ok {
			return nil, fmt.Errorf("%w: victim slot %d unbound", tributes.ErrUnknownTribute, slot)
		}
		victims = append(victims, id)
	}

	var killer *tributes.ID
	if f.Killer != 0 {
		id, ok := res.Bound(f.Killer)
		if !ok {
			return nil, fmt.Errorf("%w: killer slot %d unbound", tributes.ErrUnknownTribute, f.Killer)
		}
		killer = &id
	}

	if err := a.pool.EliminateAll(victims, a.round, killer); err != nil {
		return nil, err
	}
	if killer != nil {
		if err := a.pool.CreditKills(*killer, len(victims)); err != nil {
			return nil, err
		}
	}
	return &Casualties{Killer: killer, Victims: victims}, nil
}
