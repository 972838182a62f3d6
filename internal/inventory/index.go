package inventory

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"instockbackend/internal/geo"
)

var ErrDuplicateItem = errors.New("duplicate item")

// Snapshot is an immutable view of the catalog. Solvers take one snapshot per
// request and never see a later write half-applied.
type Snapshot struct {
	version      int
	items        map[string]Item
	itemByName   map[string]string
	stores       map[string]Store
	stockByItem  map[string]map[string]Stock
	stockByStore map[string]map[string]Stock
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		items:        make(map[string]Item),
		itemByName:   make(map[string]string),
		stores:       make(map[string]Store),
		stockByItem:  make(map[string]map[string]Stock),
		stockByStore: make(map[string]map[string]Stock),
	}
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// StoresFor returns the IDs of stores stocking itemID, sorted. A registered
// item stocked nowhere yields an empty slice and no error.
func (s *Snapshot) StoresFor(itemID string) ([]string, error) {
	if _, ok := s.items[itemID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
	}
	byStore := s.stockByItem[itemID]
	ids := make([]string, 0, len(byStore))
	for storeID := range byStore {
		ids = append(ids, storeID)
	}
	sort.Strings(ids)
	return ids, nil
}

// LocationOf returns the coordinates of storeID.
func (s *Snapshot) LocationOf(storeID string) (geo.Coordinates, error) {
	store, ok := s.stores[storeID]
	if !ok {
		return geo.Coordinates{}, fmt.Errorf("%w: %s", ErrUnknownStore, storeID)
	}
	return store.Location(), nil
}

func (s *Snapshot) Item(itemID string) (Item, bool) {
	item, ok := s.items[itemID]
	return item, ok
}

// ItemByName looks an item up by name, ignoring case and surrounding space.
func (s *Snapshot) ItemByName(name string) (Item, bool) {
	id, ok := s.itemByName[nameKey(name)]
	if !ok {
		return Item{}, false
	}
	return s.items[id], true
}

func (s *Snapshot) Store(storeID string) (Store, bool) {
	store, ok := s.stores[storeID]
	return store, ok
}

// Items returns every item ordered by name.
func (s *Snapshot) Items() []Item {
	out := make([]Item, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stores returns every store ordered by ID.
func (s *Snapshot) Stores() []Store {
	out := make([]Store, 0, len(s.stores))
	for _, store := range s.stores {
		out = append(out, store)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Snapshot) StockAt(itemID, storeID string) (Stock, bool) {
	stock, ok := s.stockByItem[itemID][storeID]
	return stock, ok
}

// StockForStore lists what a store carries, ordered by item ID.
func (s *Snapshot) StockForStore(storeID string) ([]Stock, error) {
	if _, ok := s.stores[storeID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStore, storeID)
	}
	byItem := s.stockByStore[storeID]
	out := make([]Stock, 0, len(byItem))
	for _, stock := range byItem {
		out = append(out, stock)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

// Relations returns every stock relation ordered by item then store.
func (s *Snapshot) Relations() []Stock {
	var out []Stock
	for _, byStore := range s.stockByItem {
		for _, stock := range byStore {
			out = append(out, stock)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemID != out[j].ItemID {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].StoreID < out[j].StoreID
	})
	return out
}

func (s *Snapshot) Version() int {
	return s.version
}

func (s *Snapshot) Stats() Stats {
	relations := 0
	for _, byStore := range s.stockByItem {
		relations += len(byStore)
	}
	return Stats{
		Items:     len(s.items),
		Stores:    len(s.stores),
		Relations: relations,
		Version:   s.version,
	}
}

// next copies the snapshot header; maps stay shared until a writer clones the
// ones it touches.
func (s *Snapshot) next() *Snapshot {
	n := *s
	n.version++
	return &n
}

// Index publishes catalog snapshots. Reads are lock-free; writes are
// serialised and copy only the maps they change.
type Index struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

func NewIndex() *Index {
	idx := &Index{}
	idx.current.Store(emptySnapshot())
	return idx
}

// Snapshot returns the current catalog view.
func (idx *Index) Snapshot() *Snapshot {
	return idx.current.Load()
}

// AddItem registers an item. Names must be unique ignoring case.
func (idx *Index) AddItem(item Item) error {
	if item.ID == "" || nameKey(item.Name) == "" {
		return fmt.Errorf("item requires id and name")
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur := idx.current.Load()
	if existing, ok := cur.itemByName[nameKey(item.Name)]; ok && existing != item.ID {
		return fmt.Errorf("%w: %s", ErrDuplicateItem, item.Name)
	}
	if _, ok := cur.items[item.ID]; ok {
		return fmt.Errorf("%w: id %s already registered", ErrDuplicateItem, item.ID)
	}

	n := cur.next()
	n.items = maps.Clone(cur.items)
	n.itemByName = maps.Clone(cur.itemByName)
	n.items[item.ID] = item
	n.itemByName[nameKey(item.Name)] = item.ID
	idx.current.Store(n)
	return nil
}

// AddStore registers a store or replaces its metadata.
func (idx *Index) AddStore(store Store) error {
	if store.ID == "" {
		return fmt.Errorf("store requires id")
	}
	if err := store.Location().Validate(); err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur := idx.current.Load()
	n := cur.next()
	n.stores = maps.Clone(cur.stores)
	n.stores[store.ID] = store
	idx.current.Store(n)
	return nil
}

// SetStock creates or updates one item-store relation.
func (idx *Index) SetStock(stock Stock) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur := idx.current.Load()
	if _, ok := cur.items[stock.ItemID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownItem, stock.ItemID)
	}
	if _, ok := cur.stores[stock.StoreID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStore, stock.StoreID)
	}

	n := cur.next()
	n.stockByItem = withRelation(cur.stockByItem, stock.ItemID, stock.StoreID, &stock)
	n.stockByStore = withRelation(cur.stockByStore, stock.StoreID, stock.ItemID, &stock)
	idx.current.Store(n)
	return nil
}

// RemoveStock deletes one relation. It reports whether the relation existed.
func (idx *Index) RemoveStock(itemID, storeID string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur := idx.current.Load()
	if _, ok := cur.stockByItem[itemID][storeID]; !ok {
		return false
	}

	n := cur.next()
	n.stockByItem = withRelation(cur.stockByItem, itemID, storeID, nil)
	n.stockByStore = withRelation(cur.stockByStore, storeID, itemID, nil)
	idx.current.Store(n)
	return true
}

// RemoveItem deletes an item together with every relation that stocks it.
// It reports whether the item existed.
func (idx *Index) RemoveItem(itemID string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur := idx.current.Load()
	item, ok := cur.items[itemID]
	if !ok {
		return false
	}

	n := cur.next()
	n.items = maps.Clone(cur.items)
	delete(n.items, itemID)
	n.itemByName = maps.Clone(cur.itemByName)
	delete(n.itemByName, nameKey(item.Name))
	n.stockByItem, n.stockByStore = dropRelations(cur.stockByItem, cur.stockByStore, itemID)
	idx.current.Store(n)
	return true
}

// RemoveStore deletes a store together with its stock. It reports whether
// the store existed.
func (idx *Index) RemoveStore(storeID string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur := idx.current.Load()
	if _, ok := cur.stores[storeID]; !ok {
		return false
	}

	n := cur.next()
	n.stores = maps.Clone(cur.stores)
	delete(n.stores, storeID)
	n.stockByStore, n.stockByItem = dropRelations(cur.stockByStore, cur.stockByItem, storeID)
	idx.current.Store(n)
	return true
}

// Replace swaps in a whole catalog, e.g. after loading from the database.
func (idx *Index) Replace(items []Item, stores []Store, stock []Stock) error {
	n := emptySnapshot()
	for _, item := range items {
		key := nameKey(item.Name)
		if _, dup := n.itemByName[key]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateItem, item.Name)
		}
		n.items[item.ID] = item
		n.itemByName[key] = item.ID
	}
	for _, store := range stores {
		n.stores[store.ID] = store
	}
	for _, st := range stock {
		if _, ok := n.items[st.ItemID]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownItem, st.ItemID)
		}
		if _, ok := n.stores[st.StoreID]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownStore, st.StoreID)
		}
		putRelation(n.stockByItem, st.ItemID, st.StoreID, st)
		putRelation(n.stockByStore, st.StoreID, st.ItemID, st)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	n.version = idx.current.Load().version + 1
	idx.current.Store(n)
	return nil
}

func putRelation(m map[string]map[string]Stock, outer, inner string, stock Stock) {
	byInner, ok := m[outer]
	if !ok {
		byInner = make(map[string]Stock)
		m[outer] = byInner
	}
	byInner[inner] = stock
}

// withRelation returns a copy of m with m[outer][inner] set to stock, or
// removed when stock is nil. Only the outer map and one inner map are copied.
func withRelation(m map[string]map[string]Stock, outer, inner string, stock *Stock) map[string]map[string]Stock {
	out := maps.Clone(m)
	byInner := maps.Clone(m[outer])
	if byInner == nil {
		byInner = make(map[string]Stock)
	}
	if stock == nil {
		delete(byInner, inner)
	} else {
		byInner[inner] = *stock
	}
	if len(byInner) == 0 {
		delete(out, outer)
	} else {
		out[outer] = byInner
	}
	return out
}

// dropRelations returns m without m[outer] and mirror without outer in any of
// the inner maps that referenced it. Untouched inner maps stay shared.
func dropRelations(m, mirror map[string]map[string]Stock, outer string) (map[string]map[string]Stock, map[string]map[string]Stock) {
	refs, ok := m[outer]
	if !ok {
		return m, mirror
	}

	out := maps.Clone(m)
	delete(out, outer)
	outMirror := maps.Clone(mirror)
	for inner := range refs {
		byOuter := maps.Clone(mirror[inner])
		delete(byOuter, outer)
		if len(byOuter) == 0 {
			delete(outMirror, inner)
		} else {
			outMirror[inner] = byOuter
		}
	}
	return out, outMirror
}
