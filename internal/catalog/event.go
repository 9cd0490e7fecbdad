// Package catalog provides the immutable event and cosmetic item catalogs the
// arena draws from. Catalogs are validated once at load and read-only afterwards.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// MaxSlots is the highest participant placeholder an event may reference ({P10}).
const MaxSlots = 10

// DefaultWeight is applied to event records that omit a weight.
const DefaultWeight = 5

// Phase is the narrative time-slot an event belongs to.
type Phase string

const (
	PhaseDay   Phase = "day"
	PhaseNight Phase = "night"
	PhaseFeast Phase = "feast"
	PhaseArena Phase = "arena" // Opening bloodbath at the Cornucopia.
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseDay, PhaseNight, PhaseFeast, PhaseArena:
		return true
	}
	return false
}

// EventID identifies an event template. Authored catalogs use either strings
// or integers; both decode to the same string form.
type EventID string

// UnmarshalJSON accepts a JSON string or number.
func (id *EventID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = EventID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("event id must be a string or number: %s", string(data))
	}
	*id = EventID(n.String())
	return nil
}

// Fatality is the fatal variant of an event. Killer is a 1-based placeholder
// index, or 0 when the deaths have no attributed killer (traps, weather).
// Victims is never empty.
type Fatality struct {
	Killer  int   `json:"killer,omitempty"`
	Victims []int `json:"victims"`
}

// EventTemplate is one authored narrative event. A nil Fatal means the event
// is harmless.
type EventTemplate struct {
	ID     EventID   `json:"id"`
	Phase  Phase     `json:"phase"`
	Text   string    `json:"text"`
	Weight float64   `json:"weight"`
	Fatal  *Fatality `json:"fatal,omitempty"`
}

// IsFatal reports whether resolving the event eliminates tributes.
func (e EventTemplate) IsFatal() bool {
	return e.Fatal != nil
}

// RequiredSlots is the number of distinct alive tributes needed to bind every
// placeholder the event references.
func (e EventTemplate) RequiredSlots() int {
	slots := Placeholders(e.Text)
	if len(slots) == 0 {
		return 0
	}
	return slots[len(slots)-1]
}

var placeholderRe = regexp.MustCompile(`\{P(\d+)\}`)

// Placeholders returns the distinct participant indices referenced in text,
// ascending. Indices outside 1..MaxSlots are included so validation can reject them.
func Placeholders(text string) []int {
	var out []int
	for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out
}

// ValidationError reports a malformed event template.
type ValidationError struct {
	EventID EventID
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("event %q: %s", e.EventID, e.Reason)
}

func invalid(id EventID, format string, args ...any) error {
	return &ValidationError{EventID: id, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the template invariants: known phase, positive finite
// weight, placeholders within 1..MaxSlots, and killer/victims bound to
// placeholders present in the text.
func (e EventTemplate) Validate() error {
	if e.ID == "" {
		return invalid(e.ID, "missing id")
	}
	if !e.Phase.Valid() {
		return invalid(e.ID, "unknown phase %q", e.Phase)
	}
	if strings.TrimSpace(e.Text) == "" {
		return invalid(e.ID, "empty text")
	}
	if e.Weight <= 0 || math.IsNaN(e.Weight) || math.IsInf(e.Weight, 0) {
		return invalid(e.ID, "weight must be positive, got %v", e.Weight)
	}

	// The resolver only substitutes {P1}..{P10}; "{P01}" would render verbatim.
	for _, m := range placeholderRe.FindAllStringSubmatch(e.Text, -1) {
		if n, err := strconv.Atoi(m[1]); err != nil || strconv.Itoa(n) != m[1] {
			return invalid(e.ID, "placeholder %s is not written as {P1}..{P%d}", m[0], MaxSlots)
		}
	}

	slots := Placeholders(e.Text)
	for _, s := range slots {
		if s < 1 || s > MaxSlots {
			return invalid(e.ID, "placeholder {P%d} out of range 1..%d", s, MaxSlots)
		}
	}

	if e.Fatal == nil {
		return nil
	}
	if len(e.Fatal.Victims) == 0 {
		return invalid(e.ID, "fatal event without victims")
	}
	if e.Fatal.Killer != 0 {
		if !slices.Contains(slots, e.Fatal.Killer) {
			return invalid(e.ID, "killer {P%d} not present in text", e.Fatal.Killer)
		}
	}
	seen := make(map[int]bool, len(e.Fatal.Victims))
	for _, v := range e.Fatal.Victims {
		if !slices.Contains(slots, v) {
			return invalid(e.ID, "victim {P%d} not present in text", v)
		}
		if v == e.Fatal.Killer {
			return invalid(e.ID, "killer {P%d} is also a victim", v)
		}
		if seen[v] {
			return invalid(e.ID, "victim {P%d} listed twice", v)
		}
		seen[v] = true
	}
	return nil
}

// EventCatalog is a validated, read-only set of event templates.
type EventCatalog struct {
	events []EventTemplate
	byID   map[EventID]int
}

// NewEventCatalog validates every template and rejects duplicate ids. All
// problems are reported together.
func NewEventCatalog(events []EventTemplate) (*EventCatalog, error) {
	c := &EventCatalog{
		events: make([]EventTemplate, 0, len(events)),
		byID:   make(map[EventID]int, len(events)),
	}

	var errs []error
	for _, e := range events {
		if err := e.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := c.byID[e.ID]; dup {
			errs = append(errs, invalid(e.ID, "duplicate id"))
			continue
		}
		if e.Fatal != nil {
			victims := slices.Clone(e.Fatal.Victims)
			e.Fatal = &Fatality{Killer: e.Fatal.Killer, Victims: victims}
		}
		c.byID[e.ID] = len(c.events)
		c.events = append(c.events, e)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return c, nil
}

// Len returns the number of templates.
func (c *EventCatalog) Len() int {
	return len(c.events)
}

// All returns every template in catalog order.
func (c *EventCatalog) All() []EventTemplate {
	return slices.Clone(c.events)
}

// Get looks up a template by id.
func (c *EventCatalog) Get(id EventID) (EventTemplate, bool) {
	i, ok := c.byID[id]
	if !ok {
		return EventTemplate{}, false
	}
	return c.events[i], true
}

// ForPhase returns the templates of one phase in catalog order.
func (c *EventCatalog) ForPhase(p Phase) []EventTemplate {
	var out []EventTemplate
	for _, e := range c.events {
		if e.Phase == p {
			out = append(out, e)
		}
	}
	return out
}

// PhaseCounts returns how many templates each phase holds.
func (c *EventCatalog) PhaseCounts() map[Phase]int {
	counts := make(map[Phase]int)
	for _, e := range c.events {
		counts[e.Phase]++
	}
	return counts
}
