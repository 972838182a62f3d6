// Package optimize answers the two shopping questions over an inventory
// snapshot: which stores to visit, and in what order.
package optimize

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"instockbackend/internal/cover"
	"instockbackend/internal/geo"
	"instockbackend/internal/inventory"
	"instockbackend/internal/logger"
	"instockbackend/internal/route"
)

var (
	ErrNoKnownItems  = errors.New("no known items in shopping list")
	ErrInvalidRadius = errors.New("radius must be positive")
)

// Service runs solves against the index's current snapshot.
type Service struct {
	Index   *inventory.Index
	Orderer *route.Orderer
	// DefaultLocation anchors radius searches and routes that omit a location.
	DefaultLocation geo.Coordinates
	DefaultRadiusKm float64
}

func NewService(idx *inventory.Index, orderer *route.Orderer, defaultLocation geo.Coordinates, defaultRadiusKm float64) *Service {
	return &Service{
		Index:           idx,
		Orderer:         orderer,
		DefaultLocation: defaultLocation,
		DefaultRadiusKm: defaultRadiusKm,
	}
}

type FewestStoresRequest struct {
	ShoppingList []string         `json:"shoppingList"`
	Location     *geo.Coordinates `json:"location,omitempty"`
	Radius       *float64         `json:"radius,omitempty"`
}

// ItemStock is an item together with one store's stock of it.
type ItemStock struct {
	inventory.Item
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// StoreItems is a selected store and the requested items it supplies.
type StoreItems struct {
	inventory.Store
	Items []ItemStock `json:"items"`
}

type FewestStoresResult struct {
	Stores []StoreItems `json:"stores"`
	// Uncovered holds names of known items no (allowed) store stocks.
	Uncovered []string `json:"uncovered"`
	// Unknown holds shopping list names that match no item.
	Unknown []string `json:"unknown"`
}

// FewestStores picks the fewest stores that together stock the shopping list.
// Names are matched ignoring case; names matching nothing are reported, not
// fatal, unless nothing matches at all.
func (s *Service) FewestStores(ctx context.Context, req FewestStoresRequest) (FewestStoresResult, error) {
	if err := ctx.Err(); err != nil {
		return FewestStoresResult{}, err
	}
	snap := s.Index.Snapshot()

	names := dedupeNames(req.ShoppingList)
	if len(names) == 0 {
		return FewestStoresResult{}, cover.ErrEmptyShoppingList
	}

	result := FewestStoresResult{Stores: []StoreItems{}, Uncovered: []string{}, Unknown: []string{}}
	var itemIDs []string
	for _, name := range names {
		item, ok := snap.ItemByName(name)
		if !ok {
			result.Unknown = append(result.Unknown, name)
			continue
		}
		itemIDs = append(itemIDs, item.ID)
	}
	if len(itemIDs) == 0 {
		return result, fmt.Errorf("%w: %s", ErrNoKnownItems, strings.Join(result.Unknown, ", "))
	}

	opts, err := s.radiusFilter(snap, req)
	if err != nil {
		return FewestStoresResult{}, err
	}

	sel, err := cover.Solve(snap, itemIDs, opts)
	if err != nil {
		return FewestStoresResult{}, err
	}
	if err := sel.Err(); err != nil {
		logger.LogInfo("Fewest stores for %d items: %v", len(itemIDs), err)
	}

	for _, storeID := range sel.Stores {
		store, _ := snap.Store(storeID)
		entry := StoreItems{Store: store, Items: make([]ItemStock, 0, len(sel.Coverage[storeID]))}
		for _, itemID := range sel.Coverage[storeID] {
			item, _ := snap.Item(itemID)
			stock, _ := snap.StockAt(itemID, storeID)
			entry.Items = append(entry.Items, ItemStock{Item: item, Quantity: stock.Quantity, Price: stock.Price})
		}
		sort.Slice(entry.Items, func(i, j int) bool { return entry.Items[i].Name < entry.Items[j].Name })
		result.Stores = append(result.Stores, entry)
	}
	for _, itemID := range sel.Uncovered {
		item, _ := snap.Item(itemID)
		result.Uncovered = append(result.Uncovered, item.Name)
	}
	sort.Strings(result.Uncovered)
	sort.Strings(result.Unknown)
	return result, nil
}

// radiusFilter restricts candidate stores only when the request asks for it.
func (s *Service) radiusFilter(snap *inventory.Snapshot, req FewestStoresRequest) (cover.Options, error) {
	if req.Location == nil && req.Radius == nil {
		return cover.Options{}, nil
	}

	center := s.DefaultLocation
	if req.Location != nil {
		center = *req.Location
	}
	if err := center.Validate(); err != nil {
		return cover.Options{}, err
	}

	radius := s.DefaultRadiusKm
	if req.Radius != nil {
		radius = *req.Radius
	}
	if radius <= 0 {
		return cover.Options{}, fmt.Errorf("%w: %g", ErrInvalidRadius, radius)
	}

	bounds, err := geo.BoundingBox(center, radius)
	if err != nil {
		return cover.Options{}, err
	}
	return cover.Options{
		Allow: func(storeID string) bool {
			loc, err := snap.LocationOf(storeID)
			if err != nil || !bounds.Contains(loc) {
				return false
			}
			return geo.Within(center, loc, radius)
		},
	}, nil
}

type ShortestPathRequest struct {
	Stores   []string         `json:"stores"`
	Location *geo.Coordinates `json:"location"`
}

// ShortestPath orders the requested stores into the shortest path from the
// request location. Every store must be known.
func (s *Service) ShortestPath(ctx context.Context, req ShortestPathRequest) (route.Route, error) {
	start := s.DefaultLocation
	if req.Location != nil {
		start = *req.Location
	}
	if err := start.Validate(); err != nil {
		return route.Route{}, err
	}
	if len(req.Stores) == 0 {
		return route.Route{}, route.ErrEmptySelection
	}

	snap := s.Index.Snapshot()
	stops := make([]route.Stop, 0, len(req.Stores))
	for _, storeID := range req.Stores {
		loc, err := snap.LocationOf(storeID)
		if err != nil {
			return route.Route{}, err
		}
		stops = append(stops, route.Stop{ID: storeID, Location: loc})
	}

	r, err := s.Orderer.Order(ctx, start, stops)
	if err != nil {
		return route.Route{}, err
	}
	logger.LogDebug("Ordered %d stores with %s, distance %.3f", len(r.Stops), r.Strategy, r.Distance)
	return r, nil
}

// StoreOffer is one store's stock of a single item.
type StoreOffer struct {
	inventory.Store
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type ItemStoreList struct {
	Stores []StoreOffer `json:"stores"`
}

// StoresForItem lists the stores stocking the named item, by store ID.
func (s *Service) StoresForItem(name string) (ItemStoreList, error) {
	snap := s.Index.Snapshot()
	item, ok := snap.ItemByName(name)
	if !ok {
		return ItemStoreList{}, fmt.Errorf("%w: %s", inventory.ErrUnknownItem, name)
	}

	storeIDs, err := snap.StoresFor(item.ID)
	if err != nil {
		return ItemStoreList{}, err
	}
	list := ItemStoreList{Stores: make([]StoreOffer, 0, len(storeIDs))}
	for _, storeID := range storeIDs {
		store, _ := snap.Store(storeID)
		stock, _ := snap.StockAt(item.ID, storeID)
		list.Stores = append(list.Stores, StoreOffer{Store: store, Quantity: stock.Quantity, Price: stock.Price})
	}
	return list, nil
}

// dedupeNames trims names and collapses case variants, keeping the first
// spelling seen.
func dedupeNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		key := strings.ToLower(name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, name)
	}
	return out
}
