// Catalog decoding from authored JSON, plus the embedded stock catalogs.
package catalog

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

//go:embed data/events.json data/items.json
var stock embed.FS

// eventRecord is the authored shape of an event. Older exports name the
// phase field "type" and carry nullable killer/victims on every record.
type eventRecord struct {
	ID      EventID  `json:"id"`
	Phase   Phase    `json:"phase"`
	Type    Phase    `json:"type"`
	Text    string   `json:"text"`
	IsFatal bool     `json:"isFatal"`
	Killer  *int     `json:"killer"`
	Victims []int    `json:"victims"`
	Weight  *float64 `json:"weight"`
}

func (r eventRecord) template() (EventTemplate, error) {
	t := EventTemplate{
		ID:     r.ID,
		Phase:  r.Phase,
		Text:   r.Text,
		Weight: DefaultWeight,
	}
	if t.Phase == "" {
		t.Phase = r.Type
	}
	if r.Weight != nil {
		t.Weight = *r.Weight
	}

	if !r.IsFatal {
		if (r.Killer != nil && *r.Killer != 0) || len(r.Victims) > 0 {
			return t, invalid(r.ID, "killer/victims set on a non-fatal event")
		}
		return t, nil
	}

	f := &Fatality{Victims: r.Victims}
	if r.Killer != nil {
		if *r.Killer < 1 {
			return t, invalid(r.ID, "killer index must be 1-based, got %d", *r.Killer)
		}
		f.Killer = *r.Killer
	}
	t.Fatal = f
	return t, nil
}

// ParseEvents decodes a JSON array of event records and validates it.
func ParseEvents(data []byte) (*EventCatalog, error) {
	var records []eventRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}

	events := make([]EventTemplate, 0, len(records))
	var shapeErrs []error
	for _, r := range records {
		t, err := r.template()
		if err != nil {
			shapeErrs = append(shapeErrs, err)
			continue
		}
		events = append(events, t)
	}

	c, err := NewEventCatalog(events)
	if len(shapeErrs) > 0 {
		if err != nil {
			shapeErrs = append(shapeErrs, err)
		}
		return nil, errors.Join(shapeErrs...)
	}
	return c, err
}

type itemRecord struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Type     string `json:"type"`
	Rarity   string `json:"rarity"`
	Name     string `json:"name"`
	Image    string `json:"image"`
	ImageURL string `json:"imageUrl"`
}

// ParseItems decodes a JSON array of item records and validates it. Category
// and rarity names are case-insensitive.
func ParseItems(data []byte) (*ItemCatalog, error) {
	var records []itemRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}

	items := make([]Item, 0, len(records))
	for _, r := range records {
		catName := r.Category
		if catName == "" {
			catName = r.Type
		}
		cat, err := ParseCategory(catName)
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", r.ID, err)
		}
		rarity, err := ParseRarity(r.Rarity)
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", r.ID, err)
		}
		image := r.Image
		if image == "" {
			image = r.ImageURL
		}
		items = append(items, Item{
			ID:       r.ID,
			Category: cat,
			Rarity:   rarity,
			Name:     r.Name,
			Image:    image,
		})
	}
	return NewItemCatalog(items)
}

// LoadEventsFile reads and validates an event catalog from disk.
func LoadEventsFile(path string) (*EventCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return ParseEvents(data)
}

// LoadItemsFile reads and validates an item catalog from disk.
func LoadItemsFile(path string) (*ItemCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read items: %w", err)
	}
	return ParseItems(data)
}

// DefaultEvents returns the stock event catalog shipped with the binary.
func DefaultEvents() (*EventCatalog, error) {
	data, err := stock.ReadFile("data/events.json")
	if err != nil {
		return nil, err
	}
	return ParseEvents(data)
}

// DefaultItems returns the stock item catalog shipped with the binary.
func DefaultItems() (*ItemCatalog, error) {
	data, err := stock.ReadFile("data/items.json")
	if err != nil {
		return nil, err
	}
	return ParseItems(data)
}
