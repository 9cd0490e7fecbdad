// Package tributes provides the participant registry for one arena: who is
// still alive, who eliminated whom, and in which round.
package tributes

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrUnknownTribute means an id is not registered in the pool.
	ErrUnknownTribute = errors.New("unknown tribute")
	// ErrAlreadyEliminated guards against eliminating a tribute twice.
	ErrAlreadyEliminated = errors.New("tribute already eliminated")
	// ErrDuplicateTribute is returned when a roster repeats an id.
	ErrDuplicateTribute = errors.New("duplicate tribute id")
)

// ID is a stable tribute identifier.
type ID string

// Tribute is a participant in the arena.
type Tribute struct {
	ID    ID     `json:"id"`
	Name  string `json:"name"`
	Alive bool   `json:"alive"`
	Kills int    `json:"kills"`

	// Set exactly once, when the tribute dies.
	EliminatedInRound *int `json:"eliminated_in_round,omitempty"`
	EliminatedBy      *ID  `json:"eliminated_by,omitempty"`
}

// New creates an alive tribute with a fresh random id.
func New(name string) Tribute {
	return Tribute{
		ID:    ID(uuid.NewString()),
		Name:  name,
		Alive: true,
	}
}

// Roster builds alive tributes from display names.
func Roster(names ...string) []Tribute {
	out := make([]Tribute, 0, len(names))
	for _, n := range names {
		out = append(out, New(n))
	}
	return out
}

// Pool is the ordered, mutable tribute registry. Order is registration order
// and never changes; the alive set only shrinks.
type Pool struct {
	order []ID
	byID  map[ID]*Tribute
	alive int
}

// NewPool registers a roster. Every tribute starts alive with no kills,
// whatever state the caller passed in.
func NewPool(roster []Tribute) (*Pool, error) {
	p := &Pool{
		order: make([]ID, 0, len(roster)),
		byID:  make(map[ID]*Tribute, len(roster)),
	}
	for _, t := range roster {
		if t.ID == "" {
			return nil, fmt.Errorf("tribute %q: empty id", t.Name)
		}
		if strings.TrimSpace(t.Name) == "" {
			return nil, fmt.Errorf("tribute %s: empty name", t.ID)
		}
		if _, dup := p.byID[t.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTribute, t.ID)
		}
		p.order = append(p.order, t.ID)
		p.byID[t.ID] = &Tribute{ID: t.ID, Name: t.Name, Alive: true}
	}
	p.alive = len(roster)
	return p, nil
}

// Len returns the number of registered tributes, dead or alive.
func (p *Pool) Len() int {
	return len(p.order)
}

// AliveCount returns how many tributes are still alive.
func (p *Pool) AliveCount() int {
	return p.alive
}

// Alive returns copies of the alive tributes in registration order.
func (p *Pool) Alive() []Tribute {
	out := make([]Tribute, 0, p.alive)
	for _, id := range p.order {
		if t := p.byID[id]; t.Alive {
			out = append(out, *t)
		}
	}
	return out
}

// Get returns a copy of one tribute.
func (p *Pool) Get(id ID) (Tribute, bool) {
	t, ok := p.byID[id]
	if !ok {
		return Tribute{}, false
	}
	return t.clone(), true
}

// Eliminate marks a single tribute dead.
func (p *Pool) Eliminate(id ID, round int, killer *ID) error {
	return p.EliminateAll([]ID{id}, round, killer)
}

// EliminateAll marks every id dead in one step. All ids are checked first;
// if any is unknown, already dead or repeated, nothing changes.
func (p *Pool) EliminateAll(ids []ID, round int, killer *ID) error {
	seen := make(map[ID]bool, len(ids))
	for _, id := range ids {
		t, ok := p.byID[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownTribute, id)
		}
		if !t.Alive || seen[id] {
			return fmt.Errorf("%w: %s", ErrAlreadyEliminated, id)
		}
		seen[id] = true
	}
	if killer != nil {
		if _, ok := p.byID[*killer]; !ok {
			return fmt.Errorf("%w: killer %s", ErrUnknownTribute, *killer)
		}
	}

	for _, id := range ids {
		t := p.byID[id]
		t.Alive = false
		r := round
		t.EliminatedInRound = &r
		if killer != nil {
			k := *killer
			t.EliminatedBy = &k
		}
		p.alive--
	}
	return nil
}

// CreditKills adds n to a tribute's kill tally.
func (p *Pool) CreditKills(id ID, n int) error {
	t, ok := p.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTribute, id)
	}
	t.Kills += n
	return nil
}

// Snapshot returns copies of every tribute in registration order.
func (p *Pool) Snapshot() []Tribute {
	out := make([]Tribute, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.byID[id].clone())
	}
	return out
}

func (t *Tribute) clone() Tribute {
	c := *t
	if t.EliminatedInRound != nil {
		r := *t.EliminatedInRound
		c.EliminatedInRound = &r
	}
	if t.EliminatedBy != nil {
		k := *t.EliminatedBy
		c.EliminatedBy = &k
	}
	return c
}
