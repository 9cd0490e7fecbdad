// Narrative log and run results.
package engine

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/talgya/tribute-arena/internal/catalog"
	"github.com/talgya/tribute-arena/internal/tributes"
)

// State is the scheduler's lifecycle position.
type State uint8

const (
	StateSetup State = iota
	StateRoundLoop
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateRoundLoop:
		return "round_loop"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Outcome is how a finished arena ended.
type Outcome string

const (
	OutcomePending    Outcome = ""
	OutcomeVictor     Outcome = "victor"
	OutcomeNoSurvivor Outcome = "no_survivor"
	OutcomeStalemate  Outcome = "stalemate"
)

// Casualties records who died in one fatal event and who, if anyone, killed them.
type Casualties struct {
	Killer  *tributes.ID  `json:"killer,omitempty"`
	Victims []tributes.ID `json:"victims"`
}

// LogEntry is one rendered event. Entries are append-only.
type LogEntry struct {
	Seq          int             `json:"seq"`
	Round        int             `json:"round"`
	Phase        catalog.Phase   `json:"phase"`
	EventID      catalog.EventID `json:"event_id"`
	Text         string          `json:"text"`
	Participants []tributes.ID   `json:"participants"`
	Casualties   *Casualties     `json:"casualties,omitempty"`
}

// Fatal reports whether anyone died in this entry.
func (e LogEntry) Fatal() bool {
	return e.Casualties != nil && len(e.Casualties.Victims) > 0
}

// Result is the final report of an arena.
type Result struct {
	ID       string             `json:"id"`
	Outcome  Outcome            `json:"outcome"`
	Winner   *tributes.Tribute  `json:"winner,omitempty"`
	Rounds   int                `json:"rounds"`
	Log      []LogEntry         `json:"log"`
	Tributes []tributes.Tribute `json:"tributes"`
}

// Lines renders the log as "Label: text", one line per entry.
func (r Result) Lines() []string {
	out := make([]string, 0, len(r.Log))
	for _, e := range r.Log {
		out = append(out, PhaseLabel(e.Round, e.Phase)+": "+e.Text)
	}
	return out
}

// Fallen returns the eliminated tributes in the order the log killed them.
// Tributes whose death has no log entry sort after the logged ones of their round.
func (r Result) Fallen() []tributes.Tribute {
	killedAt := make(map[tributes.ID]int)
	for _, e := range r.Log {
		if !e.Fatal() {
			continue
		}
		for _, v := range e.Casualties.Victims {
			killedAt[v] = e.Seq
		}
	}
	seq := func(t tributes.Tribute) int {
		if s, ok := killedAt[t.ID]; ok {
			return s
		}
		return math.MaxInt
	}

	var out []tributes.Tribute
	for _, t := range r.Tributes {
		if !t.Alive && t.EliminatedInRound != nil {
			out = append(out, t)
		}
	}
	slices.SortStableFunc(out, func(a, b tributes.Tribute) int {
		return cmp.Or(
			cmp.Compare(*a.EliminatedInRound, *b.EliminatedInRound),
			cmp.Compare(seq(a), seq(b)),
		)
	})
	return out
}

// PhaseLabel returns a human-readable name for a phase, e.g. "Night 3".
func PhaseLabel(round int, phase catalog.Phase) string {
	switch phase {
	case catalog.PhaseArena:
		return "Bloodbath"
	case catalog.PhaseDay:
		return fmt.Sprintf("Day %d", round)
	case catalog.PhaseNight:
		return fmt.Sprintf("Night %d", round)
	case catalog.PhaseFeast:
		return fmt.Sprintf("Feast %d", round)
	default:
		return fmt.Sprintf("%s %d", phase, round)
	}
}
