// Arena configuration.
package engine

import (
	"errors"
	"fmt"
	"math"
)

// Config controls how one arena is scheduled. The zero value is not usable;
// start from DefaultConfig.
type Config struct {
	// MaxRounds bounds the run. Reaching it without a victor is a stalemate.
	MaxRounds int `json:"max_rounds"`

	// FeastEvery adds a feast phase to every Nth round. 0 disables feasts.
	FeastEvery int `json:"feast_every"`

	// ExcludeUsed keeps an event from being drawn twice in the same arena.
	ExcludeUsed bool `json:"exclude_used"`

	// Lethality > 0 scales fatal event weights up as rounds pass:
	// weight × min(0.5 + (round-1)×0.25, 2.5) × Lethality × 2.
	// 0 draws with the authored weights.
	Lethality float64 `json:"lethality"`

	// Bloodbath opens the arena with one "arena" phase (round 0).
	Bloodbath bool `json:"bloodbath"`

	// Objects fills {O}; empty means "an object".
	Objects []string `json:"objects,omitempty"`
}

// DefaultConfig returns the stock schedule: feast every third round, no
// repeated events, at most 50 rounds.
func DefaultConfig() Config {
	return Config{
		MaxRounds:   50,
		FeastEvery:  3,
		ExcludeUsed: true,
	}
}

// Validate rejects configurations the scheduler cannot run.
func (c Config) Validate() error {
	var errs []error
	if c.MaxRounds < 1 {
		errs = append(errs, fmt.Errorf("max rounds must be at least 1, got %d", c.MaxRounds))
	}
	if c.FeastEvery < 0 {
		errs = append(errs, fmt.Errorf("feast interval must be non-negative, got %d", c.FeastEvery))
	}
	if c.Lethality < 0 || math.IsNaN(c.Lethality) || math.IsInf(c.Lethality, 0) {
		errs = append(errs, fmt.Errorf("lethality must be a non-negative number, got %v", c.Lethality))
	}
	return errors.Join(errs...)
}

// escalation is the fatal-weight multiplier for a round.
func (c Config) escalation(round int) float64 {
	if c.Lethality <= 0 {
		return 1
	}
	if round < 1 {
		round = 1
	}
	day := math.Min(0.5+float64(round-1)*0.25, 2.5)
	return day * c.Lethality * 2
}
