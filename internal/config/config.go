// Package config loads arena settings from the environment, an optional .env
// file and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/talgya/tribute-arena/internal/catalog"
	"github.com/talgya/tribute-arena/internal/engine"
)

// Config holds settings shared by arenasim and arenad.
type Config struct {
	Port   int    `env:"ARENA_PORT"    envDefault:"8080"`
	DBPath string `env:"ARENA_DB_PATH" envDefault:"data/arena.db"`

	// Empty paths use the catalogs embedded in the binary.
	EventsPath string `env:"ARENA_EVENTS_PATH"`
	ItemsPath  string `env:"ARENA_ITEMS_PATH"`

	MaxRounds   int      `env:"ARENA_MAX_ROUNDS"   envDefault:"50"`
	FeastEvery  int      `env:"ARENA_FEAST_EVERY"  envDefault:"3"`
	ExcludeUsed bool     `env:"ARENA_EXCLUDE_USED" envDefault:"true"`
	Lethality   float64  `env:"ARENA_LETHALITY"    envDefault:"0"`
	Bloodbath   bool     `env:"ARENA_BLOODBATH"`
	Objects     []string `env:"ARENA_OBJECTS"      envSeparator:"," envDefault:"a knife,a coil of rope,a bow,a flare gun,a canteen,a spear,a first-aid kit"`

	RarityWeights map[string]float64 `env:"ARENA_RARITY_WEIGHTS" envSeparator:"," envKeyValSeparator:":" envDefault:"COMMON:70,RARE:20,EPIC:8,LEGENDARY:2"`

	Seed     int64         `env:"ARENA_SEED"` // 0 draws a fresh seed per arena.
	Interval time.Duration `env:"ARENA_INTERVAL" envDefault:"1s"`
	Debug    bool          `env:"ARENA_DEBUG"`

	AdminKey     string   `env:"ARENA_ADMIN_KEY"`
	CORSOrigins  []string `env:"CORS_ORIGINS" envSeparator:","`
	RandomOrgKey string   `env:"RANDOM_ORG_KEY"`
	AnthropicKey string   `env:"ANTHROPIC_API_KEY"`
}

// LoadDotEnv loads variables from the given files (default ".env") without
// overriding ones already set. Missing files are not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ParseConfig reads the environment, then lets flags in args override it.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP port")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite archive path")
	fs.StringVar(&cfg.EventsPath, "events", cfg.EventsPath, "event catalog JSON (default: built-in)")
	fs.StringVar(&cfg.ItemsPath, "items", cfg.ItemsPath, "item catalog JSON (default: built-in)")
	fs.IntVar(&cfg.MaxRounds, "max-rounds", cfg.MaxRounds, "rounds before a stalemate is declared")
	fs.IntVar(&cfg.FeastEvery, "feast-every", cfg.FeastEvery, "hold a feast every N rounds (0 disables)")
	fs.BoolVar(&cfg.ExcludeUsed, "exclude-used", cfg.ExcludeUsed, "never draw the same event twice")
	fs.Float64Var(&cfg.Lethality, "lethality", cfg.Lethality, "escalate fatal events over time (0 disables)")
	fs.BoolVar(&cfg.Bloodbath, "bloodbath", cfg.Bloodbath, "open with a bloodbath round")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed (0 = fresh)")
	fs.DurationVar(&cfg.Interval, "interval", cfg.Interval, "delay between phases when playing live")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")
	fs.Func("objects", "comma-separated objects for {O}", func(s string) error {
		cfg.Objects = splitList(s)
		return nil
	})
	fs.Func("rarity", "rarity weights, e.g. COMMON:70,RARE:20", func(s string) error {
		w, err := parseWeights(s)
		if err != nil {
			return err
		}
		cfg.RarityWeights = w
		return nil
	})
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Engine returns the scheduler configuration.
func (c Config) Engine() (engine.Config, error) {
	ec := engine.Config{
		MaxRounds:   c.MaxRounds,
		FeastEvery:  c.FeastEvery,
		ExcludeUsed: c.ExcludeUsed,
		Lethality:   c.Lethality,
		Bloodbath:   c.Bloodbath,
		Objects:     c.Objects,
	}
	if err := ec.Validate(); err != nil {
		return engine.Config{}, err
	}
	return ec, nil
}

// Weights returns the validated rarity table.
func (c Config) Weights() (catalog.RarityWeights, error) {
	return catalog.ParseRarityWeights(c.RarityWeights)
}

// Catalogs loads the configured event and item catalogs.
func (c Config) Catalogs() (*catalog.EventCatalog, *catalog.ItemCatalog, error) {
	var (
		events *catalog.EventCatalog
		items  *catalog.ItemCatalog
		err    error
	)
	if c.EventsPath != "" {
		events, err = catalog.LoadEventsFile(c.EventsPath)
	} else {
		events, err = catalog.DefaultEvents()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("event catalog: %w", err)
	}

	if c.ItemsPath != "" {
		items, err = catalog.LoadItemsFile(c.ItemsPath)
	} else {
		items, err = catalog.DefaultItems()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("item catalog: %w", err)
	}
	return events, items, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseWeights(s string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, pair := range splitList(s) {
		name, val, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("rarity weight %q: want NAME:WEIGHT", pair)
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("rarity weight %q: %w", pair, err)
		}
		out[strings.TrimSpace(name)] = w
	}
	return out, nil
}
