package inventory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
)

// Seed is the on-disk catalog format. Files may carry comments and trailing
// commas (HuJSON); exports are plain JSON.
type Seed struct {
	Items  []Item  `json:"items"`
	Stores []Store `json:"stores"`
	Stock  []Stock `json:"stock"`
}

// LoadSeedFile reads and validates a seed file.
func LoadSeedFile(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("failed to read seed file: %w", err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Seed{}, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}

	var seed Seed
	decoder := json.NewDecoder(bytes.NewReader(standardized))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&seed); err != nil {
		return Seed{}, fmt.Errorf("failed to decode seed file %s: %w", path, err)
	}

	if err := seed.Validate(); err != nil {
		return Seed{}, fmt.Errorf("invalid seed file %s: %w", path, err)
	}
	return seed, nil
}

// Validate checks ids, coordinates and relation references.
func (s Seed) Validate() error {
	items := make(map[string]bool, len(s.Items))
	names := make(map[string]bool, len(s.Items))
	for _, item := range s.Items {
		if item.ID == "" || nameKey(item.Name) == "" {
			return fmt.Errorf("item %+v requires id and name", item)
		}
		if names[nameKey(item.Name)] {
			return fmt.Errorf("%w: %s", ErrDuplicateItem, item.Name)
		}
		items[item.ID] = true
		names[nameKey(item.Name)] = true
	}

	stores := make(map[string]bool, len(s.Stores))
	for _, store := range s.Stores {
		if store.ID == "" {
			return fmt.Errorf("store %q requires id", store.Name)
		}
		if err := store.Location().Validate(); err != nil {
			return fmt.Errorf("store %s: %w", store.ID, err)
		}
		stores[store.ID] = true
	}

	for _, st := range s.Stock {
		if !items[st.ItemID] {
			return fmt.Errorf("%w: %s", ErrUnknownItem, st.ItemID)
		}
		if !stores[st.StoreID] {
			return fmt.Errorf("%w: %s", ErrUnknownStore, st.StoreID)
		}
	}
	return nil
}

// Apply replaces the index contents with the seed.
func (s Seed) Apply(idx *Index) error {
	return idx.Replace(s.Items, s.Stores, s.Stock)
}

// SeedFromSnapshot captures a snapshot in seed form.
func SeedFromSnapshot(snap *Snapshot) Seed {
	return Seed{
		Items:  snap.Items(),
		Stores: snap.Stores(),
		Stock:  snap.Relations(),
	}
}

// WriteSeedFile exports a snapshot. The file is replaced atomically so a
// reader never sees a partial export.
func WriteSeedFile(path string, snap *Snapshot) error {
	data, err := json.MarshalIndent(SeedFromSnapshot(snap), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode seed: %w", err)
	}
	data = append(data, '\n')

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write seed file %s: %w", path, err)
	}
	return nil
}
