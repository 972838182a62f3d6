// Package cover picks the fewest stores whose combined stock covers a
// shopping list.
//
// Minimum set cover is NP-hard, so Solve is greedy: take the store covering
// the most still-uncovered items, ties to the lowest store ID, until nothing
// more can be covered. A pruning pass then drops any chosen store whose items
// the others already cover, so no store in the result is redundant.
package cover

import (
	"errors"
	"fmt"
	"sort"

	"instockbackend/internal/inventory"
)

var (
	ErrEmptyShoppingList = errors.New("empty shopping list")
	// ErrPartialCoverage is never returned by Solve; Selection.Err exposes it
	// so callers can log or report partial results uniformly.
	ErrPartialCoverage = errors.New("partial coverage")
)

// Catalog is the slice of the inventory index the solver reads.
type Catalog interface {
	StoresFor(itemID string) ([]string, error)
}

var _ Catalog = (*inventory.Snapshot)(nil)

// Options narrows the candidate stores.
type Options struct {
	// Allow, when set, rejects stores the caller cannot use (e.g. outside a
	// search radius). Items only stocked by rejected stores end up uncovered.
	Allow func(storeID string) bool
}

// Selection is the solver output.
type Selection struct {
	// Stores in the order the greedy pass chose them.
	Stores []string
	// Coverage maps each chosen store to the requested items it stocks, sorted.
	Coverage map[string][]string
	// Uncovered lists requested items no allowed store stocks, sorted.
	Uncovered []string
	// Unknown lists requested item IDs the catalog has never seen, sorted.
	Unknown []string
}

// Partial reports whether some requested items could not be covered.
func (s Selection) Partial() bool {
	return len(s.Uncovered) > 0 || len(s.Unknown) > 0
}

// Err returns ErrPartialCoverage describing the gaps, or nil.
func (s Selection) Err() error {
	if !s.Partial() {
		return nil
	}
	return fmt.Errorf("%w: %d uncovered, %d unknown", ErrPartialCoverage, len(s.Uncovered), len(s.Unknown))
}

// Solve covers the requested items with as few stores as the greedy bound allows.
// Duplicate item IDs collapse to one requirement.
func Solve(catalog Catalog, itemIDs []string, opts Options) (Selection, error) {
	required := dedupe(itemIDs)
	if len(required) == 0 {
		return Selection{}, ErrEmptyShoppingList
	}

	sel := Selection{Coverage: make(map[string][]string)}

	// store -> set of required items it stocks
	offers := make(map[string]map[string]bool)
	for _, itemID := range required {
		stores, err := catalog.StoresFor(itemID)
		if errors.Is(err, inventory.ErrUnknownItem) {
			sel.Unknown = append(sel.Unknown, itemID)
			continue
		}
		if err != nil {
			return Selection{}, err
		}

		stocked := false
		for _, storeID := range stores {
			if opts.Allow != nil && !opts.Allow(storeID) {
				continue
			}
			if offers[storeID] == nil {
				offers[storeID] = make(map[string]bool)
			}
			offers[storeID][itemID] = true
			stocked = true
		}
		if !stocked {
			sel.Uncovered = append(sel.Uncovered, itemID)
		}
	}

	sel.Stores = greedy(offers)
	sel.Stores = prune(sel.Stores, offers)

	for _, storeID := range sel.Stores {
		sel.Coverage[storeID] = sortedKeys(offers[storeID])
	}
	return sel, nil
}

func greedy(offers map[string]map[string]bool) []string {
	candidates := sortedKeys(offers)
	uncovered := make(map[string]bool)
	for _, items := range offers {
		for itemID := range items {
			uncovered[itemID] = true
		}
	}

	var chosen []string
	used := make(map[string]bool)
	for len(uncovered) > 0 {
		best, bestGain := "", 0
		// candidates are sorted, so strict > keeps the lowest ID on ties
		for _, storeID := range candidates {
			if used[storeID] {
				continue
			}
			gain := 0
			for itemID := range offers[storeID] {
				if uncovered[itemID] {
					gain++
				}
			}
			if gain > bestGain {
				best, bestGain = storeID, gain
			}
		}
		if bestGain == 0 {
			break
		}

		used[best] = true
		chosen = append(chosen, best)
		for itemID := range offers[best] {
			delete(uncovered, itemID)
		}
	}
	return chosen
}

// prune walks the chosen stores from last to first and drops any store whose
// items are all stocked by the stores still kept.
func prune(chosen []string, offers map[string]map[string]bool) []string {
	counts := make(map[string]int)
	for _, storeID := range chosen {
		for itemID := range offers[storeID] {
			counts[itemID]++
		}
	}

	dropped := make(map[string]bool)
	for i := len(chosen) - 1; i >= 0; i-- {
		storeID := chosen[i]
		redundant := true
		for itemID := range offers[storeID] {
			if counts[itemID] < 2 {
				redundant = false
				break
			}
		}
		if !redundant {
			continue
		}
		dropped[storeID] = true
		for itemID := range offers[storeID] {
			counts[itemID]--
		}
	}

	if len(dropped) == 0 {
		return chosen
	}
	kept := make([]string, 0, len(chosen)-len(dropped))
	for _, storeID := range chosen {
		if !dropped[storeID] {
			kept = append(kept, storeID)
		}
	}
	return kept
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
