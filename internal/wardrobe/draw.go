// Package wardrobe draws cosmetic items for tributes, weighted by rarity tier.
package wardrobe

import (
	"errors"
	"fmt"

	"github.com/talgya/tribute-arena/internal/catalog"
	"github.com/talgya/tribute-arena/internal/selector"
)

// ErrEmptyCategory means the category has no items to draw from.
var ErrEmptyCategory = errors.New("empty item category")

// Draw returns one item from category. Each item's weight is its tier's
// weight, so a tier's share of draws follows the table scaled by how many
// items the tier has in that category. Items whose tier is missing from the
// table are never drawn.
func Draw(items *catalog.ItemCatalog, category catalog.Category, weights catalog.RarityWeights, src selector.Source) (catalog.Item, error) {
	pool := items.InCategory(category)
	if len(pool) == 0 {
		return catalog.Item{}, fmt.Errorf("%w: %s", ErrEmptyCategory, category)
	}

	cands := make([]selector.Candidate[catalog.Item], 0, len(pool))
	for _, it := range pool {
		w, ok := weights[it.Rarity]
		if !ok || w <= 0 {
			continue
		}
		cands = append(cands, selector.Candidate[catalog.Item]{Item: it, Weight: w})
	}

	it, err := selector.Pick(cands, src)
	if err != nil {
		return catalog.Item{}, fmt.Errorf("draw %s: %w", category, err)
	}
	return it, nil
}

// DrawTiered picks a tier first, using only tiers that have items in the
// category, then an item uniformly within it. Tier frequencies then match the
// table regardless of how many items each tier holds.
func DrawTiered(items *catalog.ItemCatalog, category catalog.Category, weights catalog.RarityWeights, src selector.Source) (catalog.Item, error) {
	pool := items.InCategory(category)
	if len(pool) == 0 {
		return catalog.Item{}, fmt.Errorf("%w: %s", ErrEmptyCategory, category)
	}

	byTier := make(map[catalog.Rarity][]catalog.Item)
	for _, it := range pool {
		byTier[it.Rarity] = append(byTier[it.Rarity], it)
	}
	var tiers []selector.Candidate[catalog.Rarity]
	for _, r := range catalog.Rarities {
		if w := weights[r]; w > 0 && len(byTier[r]) > 0 {
			tiers = append(tiers, selector.Candidate[catalog.Rarity]{Item: r, Weight: w})
		}
	}

	tier, err := selector.Pick(tiers, src)
	if err != nil {
		return catalog.Item{}, fmt.Errorf("draw %s: %w", category, err)
	}
	in := byTier[tier]
	return in[src.Intn(len(in))], nil
}

// Outfit maps each drawn category to its item.
type Outfit map[catalog.Category]catalog.Item

// DrawOutfit draws one item per category, in the order given. Empty
// categories are left out of the outfit; an empty list means every category.
func DrawOutfit(items *catalog.ItemCatalog, categories []catalog.Category, weights catalog.RarityWeights, src selector.Source) (Outfit, error) {
	if len(categories) == 0 {
		categories = catalog.Categories
	}
	out := make(Outfit, len(categories))
	for _, c := range categories {
		it, err := Draw(items, c, weights, src)
		if errors.Is(err, ErrEmptyCategory) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[c] = it
	}
	return out, nil
}
