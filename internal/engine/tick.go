// Paced playback of an arena, one phase per tick.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/talgya/tribute-arena/internal/catalog"
	"github.com/talgya/tribute-arena/internal/tributes"
)

// Frame is what a Player emits after each phase.
type Frame struct {
	Round   int               `json:"round"`
	Phase   catalog.Phase     `json:"phase"`
	Label   string            `json:"label"`
	Entry   *LogEntry         `json:"entry,omitempty"` // nil when the phase was skipped
	Alive   int               `json:"alive"`
	State   string            `json:"state"`
	Outcome Outcome           `json:"outcome,omitempty"`
	Winner  *tributes.Tribute `json:"winner,omitempty"`
}

// Player drives an arena forward at a fixed pace for live viewers.
type Player struct {
	Interval time.Duration // Base delay between phases; 0 plays as fast as possible.
	Speed    float64       // Multiplier: 2.0 plays twice as fast. <= 0 means 1.

	// OnFrame is called after every phase. A non-nil error stops playback.
	OnFrame func(Frame) error
}

// NewPlayer creates a player with a one second interval.
func NewPlayer(onFrame func(Frame) error) *Player {
	return &Player{
		Interval: time.Second,
		Speed:    1.0,
		OnFrame:  onFrame,
	}
}

// Play steps the arena until it finishes, ctx is cancelled, or OnFrame fails.
func (p *Player) Play(ctx context.Context, a *Arena) error {
	slog.Info("arena playback started", "arena", a.ID(), "interval", p.Interval, "speed", p.Speed)

	for !a.Done() {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()

		entry, err := a.Step()
		if err != nil {
			return err
		}
		if p.OnFrame != nil {
			if err := p.OnFrame(a.frame(entry)); err != nil {
				return err
			}
		}
		if a.Done() {
			break
		}

		// Sleep for the remainder of the interval, adjusted for speed.
		if wait := p.target() - time.Since(start); wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	slog.Info("arena playback stopped", "arena", a.ID(), "round", a.Round(), "outcome", a.Outcome())
	return nil
}

func (p *Player) target() time.Duration {
	speed := p.Speed
	if speed <= 0 {
		speed = 1
	}
	return time.Duration(float64(p.Interval) / speed)
}

func (a *Arena) frame(entry *LogEntry) Frame {
	round, phase := a.LastPhase()
	return Frame{
		Round:   round,
		Phase:   phase,
		Label:   PhaseLabel(round, phase),
		Entry:   entry,
		Alive:   a.AliveCount(),
		State:   a.State().String(),
		Outcome: a.Outcome(),
		Winner:  a.winner,
	}
}
