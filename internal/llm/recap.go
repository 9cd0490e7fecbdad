// Arena recaps and eulogies via Haiku.
package llm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/talgya/tribute-arena/internal/engine"
	"github.com/talgya/tribute-arena/internal/tributes"
)

// recapLines caps how much of the log goes into a prompt.
const recapLines = 60

const chronicler = `You are the announcer of a televised survival contest in which tributes are thrown into an arena until one remains. You speak with dramatic gravity but never glorify cruelty, and you never invent deaths that are not in the record.`

// ErrNotFallen is returned when a eulogy is asked for a tribute who is not
// among an arena's dead.
var ErrNotFallen = errors.New("tribute did not fall in this arena")

// RecapContext holds what the announcer needs to recap one arena.
type RecapContext struct {
	Outcome  string   // "victor", "no_survivor" or "stalemate"
	Winner   string   // Empty unless Outcome is "victor".
	Rounds   int
	Tributes int
	Lines    []string // Narrative log, one "Label: text" per entry.
	Fallen   []string // "Name (round N)" in order of death.
}

// RecapFrom flattens a finished arena into recap inputs.
func RecapFrom(res engine.Result) RecapContext {
	rc := RecapContext{
		Outcome:  string(res.Outcome),
		Rounds:   res.Rounds,
		Tributes: len(res.Tributes),
		Lines:    res.Lines(),
	}
	if res.Winner != nil {
		rc.Winner = res.Winner.Name
	}
	for _, t := range res.Fallen() {
		rc.Fallen = append(rc.Fallen, fmt.Sprintf("%s (round %d)", t.Name, *t.EliminatedInRound))
	}
	return rc
}

// GenerateRecap writes a short prose recap of a finished arena.
func GenerateRecap(ctx context.Context, client *Client, rc RecapContext) (string, error) {
	if !client.Enabled() {
		return "", ErrDisabled
	}

	var details []string
	details = append(details, fmt.Sprintf("Tributes: %d", rc.Tributes))
	details = append(details, fmt.Sprintf("Rounds: %d", rc.Rounds))
	switch rc.Outcome {
	case "victor":
		details = append(details, fmt.Sprintf("Outcome: %s is the sole survivor", rc.Winner))
	case "no_survivor":
		details = append(details, "Outcome: nobody survived")
	default:
		details = append(details, "Outcome: the arena was called off with several tributes still alive")
	}
	if len(rc.Fallen) > 0 {
		details = append(details, "Fallen: "+strings.Join(rc.Fallen, "; "))
	}

	lines := rc.Lines
	if len(lines) > recapLines {
		// Keep the opening and the ending.
		head := recapLines / 3
		tail := recapLines - head
		lines = append(append(lines[:head:head], "..."), lines[len(lines)-tail:]...)
	}

	return client.Complete(ctx, Prompt{
		System: chronicler + `

Recap the contest in 120-200 words. Follow the record in order, name the victor if there is one, and end with a single closing line. Do not use lists or headings.`,
		User:      fmt.Sprintf("%s\n\nRecord:\n%s", strings.Join(details, "\n"), strings.Join(lines, "\n")),
		MaxTokens: recapTokens,
	})
}

// Recap returns the arena's recap, generating it on first request or when
// refresh is set. cached reports whether no call was made.
func (c *Client) Recap(ctx context.Context, res engine.Result, refresh bool) (text string, cached bool, err error) {
	return c.memoize(res.ID, "recap", refresh, func() (string, error) {
		return GenerateRecap(ctx, c, RecapFrom(res))
	})
}

// EulogyContext describes one fallen tribute.
type EulogyContext struct {
	Name    string
	Round   int
	Killer  string // Empty when the arena itself killed them.
	Kills   int
	Moments []string // Log lines the tribute appeared in.
}

// EulogyFrom gathers what the log knows about one fallen tribute.
func EulogyFrom(res engine.Result, id tributes.ID) (EulogyContext, error) {
	i := slices.IndexFunc(res.Tributes, func(t tributes.Tribute) bool { return t.ID == id })
	if i < 0 {
		return EulogyContext{}, fmt.Errorf("%w: no tribute %q", ErrNotFallen, id)
	}
	t := res.Tributes[i]
	if t.Alive || t.EliminatedInRound == nil {
		return EulogyContext{}, fmt.Errorf("%w: %s is still standing", ErrNotFallen, t.Name)
	}

	ec := EulogyContext{
		Name:  t.Name,
		Round: *t.EliminatedInRound,
		Kills: t.Kills,
	}
	if t.EliminatedBy != nil {
		if k := slices.IndexFunc(res.Tributes, func(o tributes.Tribute) bool { return o.ID == *t.EliminatedBy }); k >= 0 {
			ec.Killer = res.Tributes[k].Name
		}
	}
	for _, e := range res.Log {
		if slices.Contains(e.Participants, id) {
			ec.Moments = append(ec.Moments, engine.PhaseLabel(e.Round, e.Phase)+": "+e.Text)
		}
	}
	return ec, nil
}

// GenerateEulogy writes a few sentences in memory of a fallen tribute.
func GenerateEulogy(ctx context.Context, client *Client, ec EulogyContext) (string, error) {
	if !client.Enabled() {
		return "", ErrDisabled
	}

	cause := "the arena itself"
	if ec.Killer != "" {
		cause = ec.Killer
	}
	details := []string{
		fmt.Sprintf("Name: %s", ec.Name),
		fmt.Sprintf("Fell in round %d to %s", ec.Round, cause),
		fmt.Sprintf("Kills: %d", ec.Kills),
	}
	if len(ec.Moments) > 0 {
		details = append(details, "Moments: "+strings.Join(ec.Moments, "; "))
	}

	return client.Complete(ctx, Prompt{
		System: chronicler + `

Write a 2-3 sentence eulogy for this tribute, drawing only on the moments given.`,
		User:      strings.Join(details, "\n"),
		MaxTokens: eulogyTokens,
	})
}

// Eulogy returns the eulogy for a fallen tribute, generating it once per arena.
// It fails with ErrNotFallen before any call when id is alive or unknown.
func (c *Client) Eulogy(ctx context.Context, res engine.Result, id tributes.ID) (text string, cached bool, err error) {
	ec, err := EulogyFrom(res, id)
	if err != nil {
		return "", false, err
	}
	return c.memoize(res.ID, "eulogy/"+string(id), false, func() (string, error) {
		return GenerateEulogy(ctx, c, ec)
	})
}
