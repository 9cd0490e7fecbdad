// Cosmetic items: tiered avatar pieces drawn by rarity.
package catalog

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
)

// Rarity is an item's quality tier.
type Rarity string

const (
	RarityCommon    Rarity = "COMMON"
	RarityRare      Rarity = "RARE"
	RarityEpic      Rarity = "EPIC"
	RarityLegendary Rarity = "LEGENDARY"
)

// Rarities lists the tiers from most to least common.
var Rarities = []Rarity{RarityCommon, RarityRare, RarityEpic, RarityLegendary}

// ParseRarity normalises a tier name ("legendary" → LEGENDARY).
func ParseRarity(s string) (Rarity, error) {
	r := Rarity(strings.ToUpper(strings.TrimSpace(s)))
	if !slices.Contains(Rarities, r) {
		return "", fmt.Errorf("unknown rarity %q", s)
	}
	return r, nil
}

// Category is the avatar slot an item occupies.
type Category string

const (
	CategoryHair    Category = "hair"
	CategoryHat     Category = "hat"
	CategoryEyes    Category = "eyes"
	CategoryMouth   Category = "mouth"
	CategoryClothes Category = "clothes"
	CategoryBack    Category = "back"
	CategoryHand    Category = "hand"
	CategoryMask    Category = "mask"
	CategoryNeck    Category = "neck"
	CategoryGlasses Category = "glasses"
)

// Categories lists every slot in avatar layering order.
var Categories = []Category{
	CategoryBack, CategoryClothes, CategoryNeck, CategoryHair, CategoryEyes,
	CategoryMouth, CategoryMask, CategoryGlasses, CategoryHat, CategoryHand,
}

// ParseCategory normalises a slot name ("HAIR" → hair).
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(Categories, c) {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Item is one cosmetic piece.
type Item struct {
	ID       string   `json:"id"`
	Category Category `json:"category"`
	Rarity   Rarity   `json:"rarity"`
	Name     string   `json:"name,omitempty"`
	Image    string   `json:"image,omitempty"`
}

// ItemCatalog is a validated, read-only set of items indexed by category.
type ItemCatalog struct {
	items      []Item
	byCategory map[Category][]Item
}

// NewItemCatalog validates ids, categories and rarities.
func NewItemCatalog(items []Item) (*ItemCatalog, error) {
	c := &ItemCatalog{byCategory: make(map[Category][]Item)}
	seen := make(map[string]bool, len(items))

	var errs []error
	for _, it := range items {
		switch {
		case it.ID == "":
			errs = append(errs, errors.New("item with empty id"))
			continue
		case seen[it.ID]:
			errs = append(errs, fmt.Errorf("item %q: duplicate id", it.ID))
			continue
		case !slices.Contains(Categories, it.Category):
			errs = append(errs, fmt.Errorf("item %q: unknown category %q", it.ID, it.Category))
			continue
		case !slices.Contains(Rarities, it.Rarity):
			errs = append(errs, fmt.Errorf("item %q: unknown rarity %q", it.ID, it.Rarity))
			continue
		}
		seen[it.ID] = true
		c.items = append(c.items, it)
		c.byCategory[it.Category] = append(c.byCategory[it.Category], it)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return c, nil
}

// Len returns the number of items.
func (c *ItemCatalog) Len() int {
	return len(c.items)
}

// All returns every item in catalog order.
func (c *ItemCatalog) All() []Item {
	return slices.Clone(c.items)
}

// InCategory returns the items of one slot in catalog order.
func (c *ItemCatalog) InCategory(cat Category) []Item {
	return slices.Clone(c.byCategory[cat])
}

// RarityWeights maps a tier to its relative draw weight.
type RarityWeights map[Rarity]float64

// DefaultRarityWeights returns the stock 70/20/8/2 table.
func DefaultRarityWeights() RarityWeights {
	return RarityWeights{
		RarityCommon:    70,
		RarityRare:      20,
		RarityEpic:      8,
		RarityLegendary: 2,
	}
}

// ParseRarityWeights builds a table from loosely named tiers, as read from
// configuration. Every weight must be positive.
func ParseRarityWeights(raw map[string]float64) (RarityWeights, error) {
	w := make(RarityWeights, len(raw))
	for name, v := range raw {
		r, err := ParseRarity(name)
		if err != nil {
			return nil, err
		}
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("rarity %s: weight must be positive, got %v", r, v)
		}
		w[r] = v
	}
	if len(w) == 0 {
		return nil, errors.New("rarity weight table is empty")
	}
	return w, nil
}
