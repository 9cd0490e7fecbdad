// Command arenasim plays one arena in the terminal.
//
//	arenasim [flags] [tribute names...]
package main

import (
	"cmp"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/tribute-arena/internal/config"
	"github.com/talgya/tribute-arena/internal/engine"
	"github.com/talgya/tribute-arena/internal/entropy"
	"github.com/talgya/tribute-arena/internal/llm"
	"github.com/talgya/tribute-arena/internal/persistence"
	"github.com/talgya/tribute-arena/internal/tributes"
)

var defaultNames = []string{
	"Ash", "Briar", "Cato", "Dune", "Ember", "Fern",
	"Glimmer", "Haze", "Iris", "Jasper", "Kestrel", "Lark",
}

func main() {
	archive := flag.Bool("archive", false, "save the finished arena to the archive")
	recap := flag.Bool("recap", false, "print an LLM recap when ANTHROPIC_API_KEY is set")

	if err := config.LoadDotEnv(); err != nil {
		config.Exitf("arenasim: %v", err)
	}
	cfg, err := config.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("arenasim: %v", err)
	}

	level := slog.LevelWarn
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	events, _, err := cfg.Catalogs()
	if err != nil {
		config.Exitf("arenasim: %v", err)
	}
	ec, err := cfg.Engine()
	if err != nil {
		config.Exitf("arenasim: %v", err)
	}

	names := flag.Args()
	if len(names) == 0 {
		names = defaultNames
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seed := cfg.Seed
	if seed == 0 {
		seed = entropy.NewClient(cfg.RandomOrgKey).Seed(ctx)
	}

	a, err := engine.NewArena(events, tributes.Roster(names...), ec, entropy.NewSource(seed))
	if err != nil {
		config.Exitf("arenasim: %v", err)
	}

	fmt.Printf("%d tributes enter the arena (seed %s).\n", len(names), humanize.Comma(seed))

	// ── Play ──────────────────────────────────────────────────────────
	lastLabel := ""
	player := engine.NewPlayer(func(f engine.Frame) error {
		if f.Entry == nil {
			return nil
		}
		if f.Label != lastLabel {
			fmt.Printf("\n== %s ==\n", f.Label)
			lastLabel = f.Label
		}
		fmt.Println("  " + f.Entry.Text)
		if f.Entry.Fatal() {
			fmt.Printf("  [%d remain]\n", f.Alive)
		}
		return nil
	})
	player.Interval = cfg.Interval

	if err := player.Play(ctx, a); err != nil {
		config.Exitf("arenasim: %v", err)
	}
	res := a.Result()

	// ── Standings ─────────────────────────────────────────────────────
	fmt.Println()
	switch res.Outcome {
	case engine.OutcomeVictor:
		fmt.Printf("%s is the victor after %d rounds.\n", res.Winner.Name, res.Rounds)
	case engine.OutcomeNoSurvivor:
		fmt.Printf("No one survived. The arena fell silent after %d rounds.\n", res.Rounds)
	case engine.OutcomeStalemate:
		fmt.Printf("Stalemate after %d rounds.\n", res.Rounds)
	}
	for _, st := range standings(res.Tributes) {
		fate := "survived"
		if !st.Alive {
			fate = fmt.Sprintf("fell in round %d", *st.EliminatedInRound)
		}
		fmt.Printf("  %-5s %-12s %d kills, %s\n", humanize.Ordinal(st.place), st.Name, st.Kills, fate)
	}

	// ── Archive ───────────────────────────────────────────────────────
	if *archive {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			config.Exitf("arenasim: %v", err)
		}
		db, err := persistence.Open(cfg.DBPath)
		if err != nil {
			config.Exitf("arenasim: %v", err)
		}
		defer db.Close()
		if err := db.SaveArena(res, seed, ec); err != nil {
			config.Exitf("arenasim: archive: %v", err)
		}
		fmt.Printf("\nArchived as %s in %s.\n", res.ID, cfg.DBPath)
	}

	// ── Recap ─────────────────────────────────────────────────────────
	if *recap {
		rctx, cancel := context.WithTimeout(ctx, 45*time.Second)
		defer cancel()
		text, err := llm.GenerateRecap(rctx, llm.NewClient(cfg.AnthropicKey), llm.RecapFrom(res))
		if err != nil {
			fmt.Fprintf(os.Stderr, "recap unavailable: %v\n", err)
			return
		}
		fmt.Printf("\n%s\n", text)
	}
}

type standing struct {
	tributes.Tribute
	place int
}

// standings ranks survivors first, then the fallen by how long they lasted.
// Tributes who fell in the same round share a place.
func standings(all []tributes.Tribute) []standing {
	lasted := func(t tributes.Tribute) int {
		if t.Alive {
			return math.MaxInt
		}
		return *t.EliminatedInRound
	}
	sorted := slices.Clone(all)
	slices.SortStableFunc(sorted, func(a, b tributes.Tribute) int {
		return cmp.Compare(lasted(b), lasted(a))
	})

	out := make([]standing, len(sorted))
	for i, t := range sorted {
		place := i + 1
		if i > 0 && lasted(sorted[i-1]) == lasted(t) {
			place = out[i-1].place
		}
		out[i] = standing{Tribute: t, place: place}
	}
	return out
}
