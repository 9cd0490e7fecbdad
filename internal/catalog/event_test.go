package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, []int{1, 2, 10}, Placeholders("{P10} and {P2} watch {P1} and {P2} again"))
	assert.Empty(t, Placeholders("the arena is quiet"))
	assert.Equal(t, []int{11}, Placeholders("{P11} should be rejected later"))
}

func TestRequiredSlots(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"{P1} hides.", 1},
		{"{P1} and {P2} share food.", 2},
		{"{P3} was seen by {P1}.", 3},
		{"The gamemakers set off fireworks.", 0},
		{"{P1} picks up a {O}.", 1},
	}
	for _, tc := range cases {
		e := EventTemplate{ID: "x", Phase: PhaseDay, Text: tc.text, Weight: 1}
		assert.Equal(t, tc.want, e.RequiredSlots(), tc.text)
	}
}

func TestValidateRejectsMalformedTemplates(t *testing.T) {
	cases := map[string]EventTemplate{
		"missing id":     {Phase: PhaseDay, Text: "{P1}", Weight: 1},
		"unknown phase":  {ID: "a", Phase: "dusk", Text: "{P1}", Weight: 1},
		"zero weight":    {ID: "a", Phase: PhaseDay, Text: "{P1}", Weight: 0},
		"negative":       {ID: "a", Phase: PhaseDay, Text: "{P1}", Weight: -2},
		"slot range":     {ID: "a", Phase: PhaseDay, Text: "{P11}", Weight: 1},
		"padded slot":    {ID: "a", Phase: PhaseDay, Text: "{P01} trips.", Weight: 1},
		"padded killer":  {ID: "a", Phase: PhaseDay, Text: "{P1} stabs {P002}.", Weight: 1, Fatal: &Fatality{Killer: 1, Victims: []int{2}}},
		"no victims":     {ID: "a", Phase: PhaseDay, Text: "{P1}", Weight: 1, Fatal: &Fatality{Killer: 1}},
		"dangling kill":  {ID: "a", Phase: PhaseDay, Text: "{P1} falls", Weight: 1, Fatal: &Fatality{Killer: 2, Victims: []int{1}}},
		"dangling vict":  {ID: "a", Phase: PhaseDay, Text: "{P1} kills", Weight: 1, Fatal: &Fatality{Killer: 1, Victims: []int{2}}},
		"killer victim":  {ID: "a", Phase: PhaseDay, Text: "{P1} {P2}", Weight: 1, Fatal: &Fatality{Killer: 1, Victims: []int{1}}},
		"victim twice":   {ID: "a", Phase: PhaseDay, Text: "{P1} {P2}", Weight: 1, Fatal: &Fatality{Victims: []int{2, 2}}},
		"blank text":     {ID: "a", Phase: PhaseDay, Text: "  ", Weight: 1},
		"skipped victim": {ID: "a", Phase: PhaseDay, Text: "{P1} and {P3}", Weight: 1, Fatal: &Fatality{Victims: []int{2}}},
	}
	for name, e := range cases {
		err := e.Validate()
		var verr *ValidationError
		assert.True(t, errors.As(err, &verr), "%s: expected ValidationError, got %v", name, err)
	}
}

func TestValidateAcceptsWellFormedTemplates(t *testing.T) {
	good := []EventTemplate{
		{ID: "a", Phase: PhaseDay, Text: "{P1} rests.", Weight: 0.5},
		{ID: "b", Phase: PhaseNight, Text: "{P1} kills {P2}.", Weight: 5, Fatal: &Fatality{Killer: 1, Victims: []int{2}}},
		{ID: "c", Phase: PhaseFeast, Text: "{P1} steps on a mine.", Weight: 3, Fatal: &Fatality{Victims: []int{1}}},
		{ID: "d", Phase: PhaseArena, Text: "{P2} is shot by {P1}, {P3} too.", Weight: 1, Fatal: &Fatality{Killer: 1, Victims: []int{2, 3}}},
	}
	for _, e := range good {
		assert.NoError(t, e.Validate(), string(e.ID))
	}
}

func TestNewEventCatalogReportsAllProblems(t *testing.T) {
	_, err := NewEventCatalog([]EventTemplate{
		{ID: "a", Phase: PhaseDay, Text: "{P1}", Weight: 1},
		{ID: "a", Phase: PhaseDay, Text: "{P1}", Weight: 1},
		{ID: "b", Phase: PhaseDay, Text: "{P1}", Weight: -1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `event "a": duplicate id`)
	assert.Contains(t, err.Error(), `event "b": weight must be positive`)
}

func TestEventCatalogLookups(t *testing.T) {
	c, err := NewEventCatalog([]EventTemplate{
		{ID: "d1", Phase: PhaseDay, Text: "{P1}", Weight: 1},
		{ID: "n1", Phase: PhaseNight, Text: "{P1}", Weight: 1},
		{ID: "d2", Phase: PhaseDay, Text: "{P1} {P2}", Weight: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, c.Len())
	day := c.ForPhase(PhaseDay)
	require.Len(t, day, 2)
	assert.Equal(t, EventID("d1"), day[0].ID)
	assert.Equal(t, EventID("d2"), day[1].ID)
	assert.Empty(t, c.ForPhase(PhaseFeast))

	got, ok := c.Get("n1")
	require.True(t, ok)
	assert.Equal(t, PhaseNight, got.Phase)
	_, ok = c.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, map[Phase]int{PhaseDay: 2, PhaseNight: 1}, c.PhaseCounts())
}

func TestCatalogFatalityIsCopied(t *testing.T) {
	victims := []int{2}
	c, err := NewEventCatalog([]EventTemplate{
		{ID: "k", Phase: PhaseDay, Text: "{P1} {P2}", Weight: 1, Fatal: &Fatality{Killer: 1, Victims: victims}},
	})
	require.NoError(t, err)

	victims[0] = 1
	got, _ := c.Get("k")
	assert.Equal(t, []int{2}, got.Fatal.Victims)
}
