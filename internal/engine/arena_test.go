package engine

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/tribute-arena/internal/catalog"
	"github.com/talgya/tribute-arena/internal/tributes"
)

// zeroSource always picks the first candidate and the first tribute.
type zeroSource struct{}

func (zeroSource) Float64() float64 { return 0 }
func (zeroSource) Intn(int) int     { return 0 }

func roster(names ...string) []tributes.Tribute {
	out := make([]tributes.Tribute, len(names))
	for i, n := range names {
		out[i] = tributes.Tribute{ID: tributes.ID(strings.ToLower(n)), Name: n, Alive: true}
	}
	return out
}

func events(t *testing.T, tpls ...catalog.EventTemplate) *catalog.EventCatalog {
	t.Helper()
	c, err := catalog.NewEventCatalog(tpls)
	require.NoError(t, err)
	return c
}

func stockEvents(t *testing.T) *catalog.EventCatalog {
	t.Helper()
	c, err := catalog.DefaultEvents()
	require.NoError(t, err)
	return c
}

func harmless(id string, phase catalog.Phase, text string) catalog.EventTemplate {
	return catalog.EventTemplate{ID: catalog.EventID(id), Phase: phase, Text: text, Weight: 1}
}

func fatal(id string, phase catalog.Phase, text string, killer int, victims ...int) catalog.EventTemplate {
	e := harmless(id, phase, text)
	e.Fatal = &catalog.Fatality{Killer: killer, Victims: victims}
	return e
}

func noFeasts() Config {
	cfg := DefaultConfig()
	cfg.FeastEvery = 0
	return cfg
}

func TestFirstRoundDayThenNightKill(t *testing.T) {
	cat := events(t,
		harmless("hunt", catalog.PhaseDay, "{P1} and {P2} hunt together."),
		fatal("ambush", catalog.PhaseNight, "{P1} ambushes {P2}.", 1, 2),
	)
	a, err := NewArena(cat, roster("Ash", "Briar", "Cato"), noFeasts(), rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	assert.Equal(t, StateSetup, a.State())

	day, err := a.Step()
	require.NoError(t, err)
	require.NotNil(t, day)
	assert.Equal(t, catalog.PhaseDay, day.Phase)
	assert.Equal(t, 1, day.Round)
	require.Len(t, day.Participants, 2)
	assert.NotEqual(t, day.Participants[0], day.Participants[1])
	assert.NotContains(t, day.Text, "{P")
	assert.False(t, day.Fatal())
	assert.Equal(t, StateRoundLoop, a.State())

	night, err := a.Step()
	require.NoError(t, err)
	require.NotNil(t, night)
	require.True(t, night.Fatal())
	killer, victim := night.Participants[0], night.Participants[1]
	assert.Equal(t, []tributes.ID{victim}, night.Casualties.Victims)
	require.NotNil(t, night.Casualties.Killer)
	assert.Equal(t, killer, *night.Casualties.Killer)
	assert.Equal(t, 2, a.AliveCount())

	byID := map[tributes.ID]tributes.Tribute{}
	for _, tr := range a.Tributes() {
		byID[tr.ID] = tr
	}
	assert.Equal(t, 1, byID[killer].Kills)
	assert.False(t, byID[victim].Alive)
	require.NotNil(t, byID[victim].EliminatedInRound)
	assert.Equal(t, 1, *byID[victim].EliminatedInRound)
	require.NotNil(t, byID[victim].EliminatedBy)
	assert.Equal(t, killer, *byID[victim].EliminatedBy)

	// Both events are spent and nothing fatal remains.
	assert.True(t, a.Done())
	assert.Equal(t, OutcomeStalemate, a.Outcome())
	assert.Equal(t, 1, a.Round())
}

func TestUsedEventsNeverRepeat(t *testing.T) {
	names := []string{"Ash", "Briar", "Cato", "Dune", "Ember", "Flint", "Gale", "Hollis", "Iris", "Juno", "Kestrel", "Lark"}
	for seed := int64(0); seed < 25; seed++ {
		a, err := NewArena(stockEvents(t), roster(names...), DefaultConfig(), rand.New(rand.NewSource(seed)))
		require.NoError(t, err)
		res, err := a.Run()
		require.NoError(t, err)

		seen := map[catalog.EventID]bool{}
		for _, e := range res.Log {
			assert.False(t, seen[e.EventID], "seed %d repeated %s", seed, e.EventID)
			seen[e.EventID] = true
		}
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	names := []string{"Ash", "Briar", "Cato", "Dune", "Ember", "Flint", "Gale", "Hollis"}
	cfg := DefaultConfig()
	cfg.Bloodbath = true
	cfg.Lethality = 1
	cfg.Objects = []string{"a knife", "a rope", "a flare"}

	run := func() Result {
		a, err := NewArena(stockEvents(t), roster(names...), cfg, rand.New(rand.NewSource(1234)))
		require.NoError(t, err)
		res, err := a.Run()
		require.NoError(t, err)
		return res
	}
	first, second := run(), run()
	assert.Equal(t, first.Log, second.Log)
	assert.Equal(t, first.Tributes, second.Tributes)
	assert.Equal(t, first.Outcome, second.Outcome)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestPoolInvariantsAcrossRuns(t *testing.T) {
	names := []string{"Ash", "Briar", "Cato", "Dune", "Ember", "Flint", "Gale", "Hollis", "Iris", "Juno"}
	cfg := DefaultConfig()
	cfg.ExcludeUsed = false

	for seed := int64(0); seed < 40; seed++ {
		a, err := NewArena(stockEvents(t), roster(names...), cfg, rand.New(rand.NewSource(seed)))
		require.NoError(t, err)

		dead := map[tributes.ID]bool{}
		prevAlive := a.AliveCount()
		steps := 0
		for !a.Done() {
			entry, err := a.Step()
			require.NoError(t, err)
			steps++
			require.LessOrEqual(t, steps, cfg.MaxRounds*3+1, "seed %d ran too long", seed)

			assert.LessOrEqual(t, a.AliveCount(), prevAlive)
			prevAlive = a.AliveCount()
			if entry == nil {
				continue
			}
			for _, p := range entry.Participants {
				assert.False(t, dead[p], "seed %d: dead tribute %s took part", seed, p)
			}
			if entry.Casualties != nil {
				for _, v := range entry.Casualties.Victims {
					assert.False(t, dead[v], "seed %d: %s eliminated twice", seed, v)
					dead[v] = true
				}
			}
		}

		res := a.Result()
		assert.LessOrEqual(t, res.Rounds, cfg.MaxRounds)
		assert.Equal(t, len(names)-len(dead), a.AliveCount())
		switch res.Outcome {
		case OutcomeVictor:
			require.NotNil(t, res.Winner)
			assert.True(t, res.Winner.Alive)
			assert.Equal(t, 1, a.AliveCount())
		case OutcomeNoSurvivor:
			assert.Nil(t, res.Winner)
			assert.Zero(t, a.AliveCount())
		case OutcomeStalemate:
			assert.Greater(t, a.AliveCount(), 1)
		default:
			t.Fatalf("seed %d: unexpected outcome %q", seed, res.Outcome)
		}
	}
}

func TestVictorTakesAllKills(t *testing.T) {
	cat := events(t, fatal("duel", catalog.PhaseDay, "{P1} bests {P2}.", 1, 2))
	cfg := noFeasts()
	cfg.ExcludeUsed = false

	a, err := NewArena(cat, roster("Ash", "Briar", "Cato", "Dune"), cfg, rand.New(rand.NewSource(9)))
	require.NoError(t, err)
	res, err := a.Run()
	require.NoError(t, err)

	assert.Equal(t, OutcomeVictor, res.Outcome)
	require.NotNil(t, res.Winner)
	total := 0
	for _, tr := range res.Tributes {
		total += tr.Kills
	}
	assert.Equal(t, 3, total)
	assert.Len(t, res.Log, 3)
}

func TestMutualDestructionLeavesNoSurvivor(t *testing.T) {
	cat := events(t, fatal("cave-in", catalog.PhaseDay, "The tunnel collapses on {P1} and {P2}.", 0, 1, 2))
	a, err := NewArena(cat, roster("Ash", "Briar"), noFeasts(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	res, err := a.Run()
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoSurvivor, res.Outcome)
	assert.Nil(t, res.Winner)
	require.Len(t, res.Log, 1)
	assert.Nil(t, res.Log[0].Casualties.Killer)
	for _, tr := range res.Tributes {
		assert.Zero(t, tr.Kills)
		assert.Nil(t, tr.EliminatedBy)
	}
}

func TestMaxRoundsEndsInStalemate(t *testing.T) {
	cat := events(t,
		harmless("rest", catalog.PhaseDay, "{P1} rests."),
		fatal("duel", catalog.PhaseDay, "{P1} bests {P2}.", 1, 2),
	)
	cfg := noFeasts()
	cfg.ExcludeUsed = false
	cfg.MaxRounds = 4

	a, err := NewArena(cat, roster("Ash", "Briar", "Cato"), cfg, zeroSource{})
	require.NoError(t, err)
	res, err := a.Run()
	require.NoError(t, err)

	assert.Equal(t, OutcomeStalemate, res.Outcome)
	assert.Equal(t, 4, res.Rounds)
	assert.Len(t, res.Log, 4)
	assert.Equal(t, 3, a.AliveCount())
}

func TestPhaseScheduleWithBloodbathAndFeasts(t *testing.T) {
	cat := events(t,
		harmless("c", catalog.PhaseArena, "{P1} sprints for the Cornucopia."),
		harmless("d", catalog.PhaseDay, "{P1} forages."),
		fatal("dk", catalog.PhaseDay, "{P1} bests {P2}.", 1, 2),
		harmless("n", catalog.PhaseNight, "{P1} sleeps."),
		harmless("f", catalog.PhaseFeast, "{P1} grabs a pack."),
	)
	cfg := DefaultConfig()
	cfg.ExcludeUsed = false
	cfg.Bloodbath = true
	cfg.FeastEvery = 2
	cfg.MaxRounds = 4

	a, err := NewArena(cat, roster("Ash", "Briar"), cfg, zeroSource{})
	require.NoError(t, err)
	res, err := a.Run()
	require.NoError(t, err)

	var got []string
	for _, e := range res.Log {
		got = append(got, PhaseLabel(e.Round, e.Phase))
	}
	assert.Equal(t, []string{
		"Bloodbath",
		"Day 1", "Night 1",
		"Day 2", "Night 2", "Feast 2",
		"Day 3", "Night 3",
		"Day 4", "Night 4", "Feast 4",
	}, got)
}

func TestBloodbathNeedsArenaEvents(t *testing.T) {
	cat := events(t, fatal("duel", catalog.PhaseDay, "{P1} bests {P2}.", 1, 2))
	cfg := noFeasts()
	cfg.Bloodbath = true

	a, err := NewArena(cat, roster("Ash", "Briar"), cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	entry, err := a.Step()
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.Round)
	assert.Equal(t, catalog.PhaseDay, entry.Phase)
}

func TestEventsNeedingTooManyTributesAreSkipped(t *testing.T) {
	cat := events(t,
		harmless("crowd", catalog.PhaseDay, "{P1}, {P2}, {P3} and {P4} argue."),
		fatal("duel", catalog.PhaseNight, "{P1} bests {P2}.", 1, 2),
	)
	cfg := noFeasts()
	cfg.ExcludeUsed = false

	a, err := NewArena(cat, roster("Ash", "Briar", "Cato"), cfg, rand.New(rand.NewSource(5)))
	require.NoError(t, err)

	entry, err := a.Step()
	require.NoError(t, err)
	assert.Nil(t, entry)
	round, phase := a.LastPhase()
	assert.Equal(t, 1, round)
	assert.Equal(t, catalog.PhaseDay, phase)

	res, err := a.Run()
	require.NoError(t, err)
	assert.Equal(t, OutcomeVictor, res.Outcome)
	for _, e := range res.Log {
		assert.NotEqual(t, catalog.EventID("crowd"), e.EventID)
	}
}

func TestStepAfterFinish(t *testing.T) {
	cat := events(t, fatal("duel", catalog.PhaseDay, "{P1} bests {P2}.", 1, 2))
	a, err := NewArena(cat, roster("Ash", "Briar"), noFeasts(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	_, err = a.Run()
	require.NoError(t, err)

	_, err = a.Step()
	assert.ErrorIs(t, err, ErrArenaFinished)
}

func TestAbortedArenaKeepsFailing(t *testing.T) {
	cat := events(t, harmless("rest", catalog.PhaseDay, "{P1} rests."))
	a, err := NewArena(cat, roster("Ash", "Briar", "Cato"), noFeasts(), zeroSource{})
	require.NoError(t, err)

	// A template that slipped past validation names a victim it never binds.
	a.setup()
	a.byPhase[catalog.PhaseDay] = []catalog.EventTemplate{
		fatal("broken", catalog.PhaseDay, "{P1} trips.", 0, 3),
	}

	_, err = a.Step()
	require.ErrorIs(t, err, tributes.ErrUnknownTribute)
	assert.True(t, a.Done())
	assert.Equal(t, 3, a.AliveCount())
	assert.Empty(t, a.Log())

	_, again := a.Step()
	assert.Equal(t, err, again)
	_, err = a.Run()
	assert.Equal(t, again, err)
}

func TestNewArenaRejects(t *testing.T) {
	cat := events(t, harmless("rest", catalog.PhaseDay, "{P1} rests."))
	src := rand.New(rand.NewSource(1))

	_, err := NewArena(nil, roster("Ash", "Briar"), DefaultConfig(), src)
	assert.Error(t, err)

	_, err = NewArena(cat, roster("Ash", "Briar"), DefaultConfig(), nil)
	assert.Error(t, err)

	_, err = NewArena(cat, roster("Ash"), DefaultConfig(), src)
	assert.ErrorIs(t, err, ErrTooFewTributes)

	dup := roster("Ash", "Briar")
	dup[1].ID = dup[0].ID
	_, err = NewArena(cat, dup, DefaultConfig(), src)
	assert.ErrorIs(t, err, tributes.ErrDuplicateTribute)

	bad := DefaultConfig()
	bad.MaxRounds = 0
	bad.FeastEvery = -1
	_, err = NewArena(cat, roster("Ash", "Briar"), bad, src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max rounds")
	assert.Contains(t, err.Error(), "feast interval")
}

func TestEscalation(t *testing.T) {
	assert.Equal(t, 1.0, Config{}.escalation(7))

	c := Config{Lethality: 1}
	assert.InDelta(t, 1.0, c.escalation(0), 1e-9)
	assert.InDelta(t, 1.0, c.escalation(1), 1e-9)
	assert.InDelta(t, 2.0, c.escalation(3), 1e-9)
	assert.InDelta(t, 5.0, c.escalation(100), 1e-9)

	half := Config{Lethality: 0.5}
	assert.InDelta(t, 2.5, half.escalation(100), 1e-9)
}

func TestPhaseLabel(t *testing.T) {
	assert.Equal(t, "Bloodbath", PhaseLabel(0, catalog.PhaseArena))
	assert.Equal(t, "Day 2", PhaseLabel(2, catalog.PhaseDay))
	assert.Equal(t, "Night 5", PhaseLabel(5, catalog.PhaseNight))
	assert.Equal(t, "Feast 3", PhaseLabel(3, catalog.PhaseFeast))
}

func TestPlayerEmitsEveryPhase(t *testing.T) {
	cat := events(t, fatal("duel", catalog.PhaseDay, "{P1} bests {P2}.", 1, 2))
	cfg := noFeasts()
	cfg.ExcludeUsed = false
	a, err := NewArena(cat, roster("Ash", "Briar", "Cato"), cfg, rand.New(rand.NewSource(2)))
	require.NoError(t, err)

	var frames []Frame
	p := NewPlayer(func(f Frame) error {
		frames = append(frames, f)
		return nil
	})
	p.Interval = 0

	require.NoError(t, p.Play(context.Background(), a))
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	assert.Equal(t, OutcomeVictor, last.Outcome)
	assert.Equal(t, "finished", last.State)
	require.NotNil(t, last.Winner)
	assert.Equal(t, 1, last.Alive)
	// Day, night, day: the second duel happens on day 2.
	assert.Equal(t, "Day 2", last.Label)
}

func TestPlayerStops(t *testing.T) {
	cat := events(t, harmless("rest", catalog.PhaseDay, "{P1} rests."), fatal("duel", catalog.PhaseNight, "{P1} bests {P2}.", 1, 2))
	cfg := noFeasts()
	cfg.ExcludeUsed = false

	t.Run("cancelled", func(t *testing.T) {
		a, err := NewArena(cat, roster("Ash", "Briar", "Cato"), cfg, rand.New(rand.NewSource(2)))
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err = NewPlayer(nil).Play(ctx, a)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, StateSetup, a.State())
	})

	t.Run("frame error", func(t *testing.T) {
		a, err := NewArena(cat, roster("Ash", "Briar", "Cato"), cfg, rand.New(rand.NewSource(2)))
		require.NoError(t, err)
		boom := errors.New("viewer went away")
		err = NewPlayer(func(Frame) error { return boom }).Play(context.Background(), a)
		assert.ErrorIs(t, err, boom)
		assert.Len(t, a.Log(), 1)
	})
}

func TestResultLinesAndFallen(t *testing.T) {
	cat := events(t, fatal("duel", catalog.PhaseDay, "{P1} bests {P2}.", 1, 2))
	cfg := noFeasts()
	cfg.ExcludeUsed = false

	a, err := NewArena(cat, roster("Ash", "Briar", "Cato"), cfg, zeroSource{})
	require.NoError(t, err)
	res, err := a.Run()
	require.NoError(t, err)

	assert.Equal(t, []string{"Day 1: Ash bests Briar.", "Day 2: Ash bests Cato."}, res.Lines())
	fallen := res.Fallen()
	require.Len(t, fallen, 2)
	assert.Equal(t, "Briar", fallen[0].Name)
	assert.Equal(t, "Cato", fallen[1].Name)
}

func TestFallenFollowsLogWithinRound(t *testing.T) {
	cat := events(t,
		fatal("duel", catalog.PhaseDay, "{P1} bests {P2}.", 1, 2),
		fatal("cold", catalog.PhaseNight, "{P1} freezes.", 0, 1),
	)
	a, err := NewArena(cat, roster("Ash", "Briar", "Cato"), noFeasts(), zeroSource{})
	require.NoError(t, err)
	res, err := a.Run()
	require.NoError(t, err)

	require.Equal(t, []string{"Day 1: Ash bests Briar.", "Night 1: Ash freezes."}, res.Lines())
	require.NotNil(t, res.Winner)
	assert.Equal(t, "Cato", res.Winner.Name)

	// Both fell in round 1; Ash is first in the roster but died second.
	fallen := res.Fallen()
	require.Len(t, fallen, 2)
	assert.Equal(t, "Briar", fallen[0].Name)
	assert.Equal(t, "Ash", fallen[1].Name)
}
