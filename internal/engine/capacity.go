package engine

import (
	"math"
	"slices"

	"github.com/talgya/tribute-arena/internal/catalog"
)

// MaxRoster returns the largest roster that events are guaranteed to resolve
// to a victor or no survivor under cfg.
//
// With used-event exclusion every fatal event fires at most once, so the
// catalog's kills are finite. Only fatal events needing at most two slots
// are counted: they stay admissible until the last two tributes, and each
// phase consumes one admissible event, so they are all drawn once a phase
// has had as many turns as it has events. When turns run short, the worst
// case draws every other event first. Bloodbath kills are not counted.
func MaxRoster(events *catalog.EventCatalog, cfg Config) int {
	if !cfg.ExcludeUsed {
		return math.MaxInt
	}

	turns := map[catalog.Phase]int{
		catalog.PhaseDay:   cfg.MaxRounds,
		catalog.PhaseNight: cfg.MaxRounds,
	}
	if cfg.FeastEvery > 0 {
		turns[catalog.PhaseFeast] = cfg.MaxRounds / cfg.FeastEvery
	}

	kills := 0
	for phase, n := range turns {
		pool := events.ForPhase(phase)
		var sure []int
		for _, e := range pool {
			if e.IsFatal() && e.RequiredSlots() <= 2 {
				sure = append(sure, len(e.Fatal.Victims))
			}
		}
		drawn := len(sure)
		if n < len(pool) {
			drawn = max(0, n-(len(pool)-len(sure)))
		}
		slices.Sort(sure)
		for _, v := range sure[:drawn] {
			kills += v
		}
	}
	return kills + 1
}
