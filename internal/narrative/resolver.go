// Package narrative binds an event template's placeholders to live tributes
// and renders the final line of narrative text.
package narrative

import (
	"errors"
	"fmt"
	"strings"

	"github.com/talgya/tribute-arena/internal/catalog"
	"github.com/talgya/tribute-arena/internal/selector"
	"github.com/talgya/tribute-arena/internal/tributes"
)

// DefaultObject fills {O} when no object list is configured.
const DefaultObject = "an object"

const objectToken = "{O}"

// ErrInsufficientTributes means the template needs more distinct tributes
// than are alive.
var ErrInsufficientTributes = errors.New("insufficient tributes for event")

// Resolution is a rendered event with its concrete participant bindings.
type Resolution struct {
	EventID catalog.EventID
	Text    string
	Object  string // Empty when the text has no {O}.

	// Bindings[k-1] is the tribute bound to {Pk}.
	Bindings []tributes.ID
}

// Bound returns the tribute bound to a 1-based placeholder index.
func (r Resolution) Bound(slot int) (tributes.ID, bool) {
	if slot < 1 || slot > len(r.Bindings) {
		return "", false
	}
	return r.Bindings[slot-1], true
}

// Resolver renders templates. Objects, when set, supplies {O} substitutions.
type Resolver struct {
	Objects []string
}

// Resolve samples distinct alive tributes uniformly (without replacement) for
// {P1}..{Pn}, substitutes their names, then fills {O}. Random draws happen in
// a fixed order: participant slots first, object last.
func (r *Resolver) Resolve(tpl catalog.EventTemplate, alive []tributes.Tribute, src selector.Source) (Resolution, error) {
	need := tpl.RequiredSlots()
	if need > len(alive) {
		return Resolution{}, fmt.Errorf("%w: event %s needs %d, %d alive",
			ErrInsufficientTributes, tpl.ID, need, len(alive))
	}

	// Partial Fisher-Yates over an index permutation leaves the caller's slice alone.
	perm := make([]int, len(alive))
	for i := range perm {
		perm[i] = i
	}
	for i := 0; i < need; i++ {
		j := i + src.Intn(len(perm)-i)
		perm[i], perm[j] = perm[j], perm[i]
	}

	res := Resolution{
		EventID:  tpl.ID,
		Bindings: make([]tributes.ID, need),
	}
	pairs := make([]string, 0, need*2)
	for k := 0; k < need; k++ {
		t := alive[perm[k]]
		res.Bindings[k] = t.ID
		pairs = append(pairs, fmt.Sprintf("{P%d}", k+1), t.Name)
	}
	if strings.Contains(tpl.Text, objectToken) {
		res.Object = r.object(src)
		pairs = append(pairs, objectToken, res.Object)
	}

	// Single pass, so a name that looks like a placeholder is never re-expanded.
	res.Text = tpl.Text
	if len(pairs) > 0 {
		res.Text = strings.NewReplacer(pairs...).Replace(tpl.Text)
	}
	return res, nil
}

func (r *Resolver) object(src selector.Source) string {
	if len(r.Objects) == 0 {
		return DefaultObject
	}
	return r.Objects[src.Intn(len(r.Objects))]
}
