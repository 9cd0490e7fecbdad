// Package persistence provides the SQLite run archive: finished arenas, their
// tributes and their narrative logs.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/tribute-arena/internal/catalog"
	"github.com/talgya/tribute-arena/internal/engine"
	"github.com/talgya/tribute-arena/internal/tributes"
)

// ErrNotFound is returned when an arena id is not in the archive.
var ErrNotFound = errors.New("arena not found")

// DB wraps a SQLite connection for the run archive.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under the API.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS arenas (
		id TEXT PRIMARY KEY,
		seed INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		winner_id TEXT,
		winner_name TEXT,
		rounds INTEGER NOT NULL,
		tribute_count INTEGER NOT NULL,
		config_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tributes (
		arena_id TEXT NOT NULL REFERENCES arenas(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		alive INTEGER NOT NULL,
		kills INTEGER NOT NULL,
		eliminated_in_round INTEGER,
		eliminated_by TEXT,
		PRIMARY KEY (arena_id, id)
	);

	CREATE TABLE IF NOT EXISTS log_entries (
		arena_id TEXT NOT NULL REFERENCES arenas(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		round INTEGER NOT NULL,
		phase TEXT NOT NULL,
		event_id TEXT NOT NULL,
		text TEXT NOT NULL,
		participants_json TEXT NOT NULL,
		killer TEXT,
		victims_json TEXT,
		PRIMARY KEY (arena_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_arenas_created ON arenas(created_at);
	CREATE INDEX IF NOT EXISTS idx_tributes_kills ON tributes(kills);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Summary is one row of the arena listing.
type Summary struct {
	ID         string  `db:"id" json:"id"`
	Seed       int64   `db:"seed" json:"seed"`
	Outcome    string  `db:"outcome" json:"outcome"`
	WinnerID   *string `db:"winner_id" json:"winner_id,omitempty"`
	WinnerName *string `db:"winner_name" json:"winner_name,omitempty"`
	Rounds     int     `db:"rounds" json:"rounds"`
	Tributes   int     `db:"tribute_count" json:"tributes"`
	CreatedAt  int64   `db:"created_at" json:"created_at"`
}

// Created returns the archive time.
func (s Summary) Created() time.Time {
	return time.Unix(s.CreatedAt, 0)
}

// Archive is a fully loaded arena: enough to display or replay it.
type Archive struct {
	Summary
	Config engine.Config `json:"config"`
	Result engine.Result `json:"result"`
}

type tributeRow struct {
	Position          int     `db:"position"`
	ID                string  `db:"id"`
	Name              string  `db:"name"`
	Alive             bool    `db:"alive"`
	Kills             int     `db:"kills"`
	EliminatedInRound *int    `db:"eliminated_in_round"`
	EliminatedBy      *string `db:"eliminated_by"`
}

type entryRow struct {
	Seq          int     `db:"seq"`
	Round        int     `db:"round"`
	Phase        string  `db:"phase"`
	EventID      string  `db:"event_id"`
	Text         string  `db:"text"`
	Participants string  `db:"participants_json"`
	Killer       *string `db:"killer"`
	Victims      *string `db:"victims_json"`
}

// SaveArena archives a finished arena with the seed and config it ran with.
func (db *DB) SaveArena(res engine.Result, seed int64, cfg engine.Config) error {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var winnerID, winnerName *string
	if res.Winner != nil {
		id, name := string(res.Winner.ID), res.Winner.Name
		winnerID, winnerName = &id, &name
	}
	_, err = tx.Exec(`INSERT INTO arenas
		(id, seed, outcome, winner_id, winner_name, rounds, tribute_count, config_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, seed, string(res.Outcome), winnerID, winnerName,
		res.Rounds, len(res.Tributes), string(cfgJSON), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert arena %s: %w", res.ID, err)
	}

	stmt, err := tx.Preparex(`INSERT INTO tributes
		(arena_id, position, id, name, alive, kills, eliminated_in_round, eliminated_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, t := range res.Tributes {
		var by *string
		if t.EliminatedBy != nil {
			s := string(*t.EliminatedBy)
			by = &s
		}
		if _, err := stmt.Exec(res.ID, i, string(t.ID), t.Name, t.Alive, t.Kills, t.EliminatedInRound, by); err != nil {
			return fmt.Errorf("insert tribute %s: %w", t.ID, err)
		}
	}

	for _, e := range res.Log {
		partJSON, _ := json.Marshal(e.Participants)
		var killer, victims *string
		if e.Casualties != nil {
			if e.Casualties.Killer != nil {
				k := string(*e.Casualties.Killer)
				killer = &k
			}
			vJSON, _ := json.Marshal(e.Casualties.Victims)
			v := string(vJSON)
			victims = &v
		}
		_, err := tx.Exec(`INSERT INTO log_entries
			(arena_id, seq, round, phase, event_id, text, participants_json, killer, victims_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			res.ID, e.Seq, e.Round, string(e.Phase), string(e.EventID), e.Text,
			string(partJSON), killer, victims,
		)
		if err != nil {
			return fmt.Errorf("insert log entry %d: %w", e.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("arena archived", "arena", res.ID, "outcome", res.Outcome, "entries", len(res.Log))
	return nil
}

// LoadArena reads back one archived arena.
func (db *DB) LoadArena(id string) (*Archive, error) {
	var a Archive
	var cfgJSON string
	row := db.conn.QueryRowx(`SELECT id, seed, outcome, winner_id, winner_name, rounds,
		tribute_count, created_at, config_json FROM arenas WHERE id = ?`, id)
	err := row.Scan(&a.ID, &a.Seed, &a.Outcome, &a.WinnerID, &a.WinnerName, &a.Rounds,
		&a.Tributes, &a.CreatedAt, &cfgJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cfgJSON), &a.Config); err != nil {
		return nil, fmt.Errorf("arena %s config: %w", id, err)
	}

	var trows []tributeRow
	if err := db.conn.Select(&trows, `SELECT position, id, name, alive, kills,
		eliminated_in_round, eliminated_by FROM tributes WHERE arena_id = ? ORDER BY position`, id); err != nil {
		return nil, err
	}
	var erows []entryRow
	if err := db.conn.Select(&erows, `SELECT seq, round, phase, event_id, text,
		participants_json, killer, victims_json FROM log_entries WHERE arena_id = ? ORDER BY seq`, id); err != nil {
		return nil, err
	}

	res := engine.Result{
		ID:       a.ID,
		Outcome:  engine.Outcome(a.Outcome),
		Rounds:   a.Rounds,
		Tributes: make([]tributes.Tribute, 0, len(trows)),
		Log:      make([]engine.LogEntry, 0, len(erows)),
	}
	for _, r := range trows {
		t := tributes.Tribute{
			ID:                tributes.ID(r.ID),
			Name:              r.Name,
			Alive:             r.Alive,
			Kills:             r.Kills,
			EliminatedInRound: r.EliminatedInRound,
		}
		if r.EliminatedBy != nil {
			by := tributes.ID(*r.EliminatedBy)
			t.EliminatedBy = &by
		}
		res.Tributes = append(res.Tributes, t)
		if a.WinnerID != nil && r.ID == *a.WinnerID {
			w := t
			res.Winner = &w
		}
	}
	for _, r := range erows {
		e := engine.LogEntry{
			Seq:     r.Seq,
			Round:   r.Round,
			Phase:   catalog.Phase(r.Phase),
			EventID: catalog.EventID(r.EventID),
			Text:    r.Text,
		}
		if err := json.Unmarshal([]byte(r.Participants), &e.Participants); err != nil {
			return nil, fmt.Errorf("log entry %d participants: %w", r.Seq, err)
		}
		if r.Victims != nil {
			cas := &engine.Casualties{}
			if err := json.Unmarshal([]byte(*r.Victims), &cas.Victims); err != nil {
				return nil, fmt.Errorf("log entry %d victims: %w", r.Seq, err)
			}
			if r.Killer != nil {
				k := tributes.ID(*r.Killer)
				cas.Killer = &k
			}
			e.Casualties = cas
		}
		res.Log = append(res.Log, e)
	}
	a.Result = res
	return &a, nil
}

// RecentArenas returns the most recently archived arenas, newest first.
func (db *DB) RecentArenas(limit int) ([]Summary, error) {
	var out []Summary
	err := db.conn.Select(&out, `SELECT id, seed, outcome, winner_id, winner_name, rounds,
		tribute_count, created_at FROM arenas ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	return out, err
}

// DeleteArena removes an arena and everything recorded for it.
func (db *DB) DeleteArena(id string) error {
	res, err := db.conn.Exec("DELETE FROM arenas WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats counts archived arenas by outcome.
type Stats struct {
	Arenas      int `json:"arenas"`
	Victors     int `json:"victors"`
	NoSurvivors int `json:"no_survivors"`
	Stalemates  int `json:"stalemates"`
}

// Stats returns archive totals.
func (db *DB) Stats() (Stats, error) {
	var rows []struct {
		Outcome string `db:"outcome"`
		N       int    `db:"n"`
	}
	if err := db.conn.Select(&rows, "SELECT outcome, COUNT(*) AS n FROM arenas GROUP BY outcome"); err != nil {
		return Stats{}, err
	}
	var s Stats
	for _, r := range rows {
		s.Arenas += r.N
		switch engine.Outcome(r.Outcome) {
		case engine.OutcomeVictor:
			s.Victors = r.N
		case engine.OutcomeNoSurvivor:
			s.NoSurvivors = r.N
		case engine.OutcomeStalemate:
			s.Stalemates = r.N
		}
	}
	return s, nil
}

// Killer is a leaderboard row.
type Killer struct {
	ArenaID string `db:"arena_id" json:"arena_id"`
	ID      string `db:"id" json:"id"`
	Name    string `db:"name" json:"name"`
	Kills   int    `db:"kills" json:"kills"`
	Won     bool   `db:"won" json:"won"`
}

// TopKillers returns the tributes with the most kills across all arenas.
func (db *DB) TopKillers(limit int) ([]Killer, error) {
	var out []Killer
	err := db.conn.Select(&out, `SELECT t.arena_id, t.id, t.name, t.kills,
		(a.winner_id IS NOT NULL AND a.winner_id = t.id) AS won
		FROM tributes t JOIN arenas a ON a.id = t.arena_id
		WHERE t.kills > 0
		ORDER BY t.kills DESC, a.created_at DESC
		LIMIT ?`, limit)
	return out, err
}
