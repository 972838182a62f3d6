package api

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"instockbackend/internal/data"
	"instockbackend/internal/geo"
	"instockbackend/internal/inventory"
	"instockbackend/internal/logger"
	"instockbackend/internal/middleware"
	"instockbackend/internal/optimize"
	"instockbackend/internal/security"
)

// parseBody decodes client payloads, ignoring fields it does not know.
func parseBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := middleware.ParseJSONRequest(w, r, v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return nil
}

// parseStrictBody decodes store and stock maintenance payloads.
func parseStrictBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := middleware.ParseStrictJSONRequest(w, r, v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return nil
}

// =============================================================================
// OPTIMIZATION
// =============================================================================

func (h *Handler) FewestStores(w http.ResponseWriter, r *http.Request) {
	var req optimize.FewestStoresRequest
	if err := parseBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.Optimize.FewestStores(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) ShortestPath(w http.ResponseWriter, r *http.Request) {
	var req optimize.ShortestPathRequest
	if err := parseBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	rt, err := h.Optimize.ShortestPath(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rt.Stops)
}

func (h *Handler) StoresForItem(w http.ResponseWriter, r *http.Request) {
	list, err := h.Optimize.StoresForItem(r.URL.Query().Get("search_term"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, list)
}

// =============================================================================
// ITEMS
// =============================================================================

// SearchItems returns the items whose name equals search_term ignoring case.
// Names are unique, so the list holds at most one item.
func (h *Handler) SearchItems(w http.ResponseWriter, r *http.Request) {
	items := []inventory.Item{}
	if item, ok := h.Index.Snapshot().ItemByName(r.URL.Query().Get("search_term")); ok {
		items = append(items, item)
	}
	middleware.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) AllItemNames(w http.ResponseWriter, r *http.Request) {
	items := h.Index.Snapshot().Items()
	names := make([]string, len(items))
	for i, item := range items {
		names[i] = item.Name
	}
	sort.Strings(names)
	middleware.WriteJSON(w, http.StatusOK, names)
}

type createItemRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Barcode     string `json:"barcode"`
	Units       string `json:"units"`
}

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := parseBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, r, fmt.Errorf("%w: name is required", errInvalidRequest))
		return
	}
	if _, exists := h.Index.Snapshot().ItemByName(name); exists {
		writeError(w, r, fmt.Errorf("%w: %s", inventory.ErrDuplicateItem, name))
		return
	}

	item := inventory.Item{
		ID:          uuid.NewString(),
		Name:        name,
		Description: req.Description,
		Barcode:     req.Barcode,
		Units:       req.Units,
	}
	if err := h.Catalog.InsertItem(r.Context(), item); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Index.AddItem(item); err != nil {
		writeError(w, r, err)
		return
	}

	logger.LogInfo("Created item %s (%s)", item.ID, item.Name)
	middleware.WriteJSON(w, http.StatusCreated, item.ID)
}

// ItemsByID returns the requested items in request order. IDs that are not
// in the catalog are skipped.
func (h *Handler) ItemsByID(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemIDs []string `json:"itemIds"`
	}
	if err := parseBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	snap := h.Index.Snapshot()
	items := make([]inventory.Item, 0, len(req.ItemIDs))
	seen := make(map[string]bool, len(req.ItemIDs))
	for _, id := range req.ItemIDs {
		item, ok := snap.Item(id)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		items = append(items, item)
	}
	middleware.WriteJSON(w, http.StatusOK, items)
}

// DeleteItems removes items from the catalog with all their stock and
// subscriptions.
func (h *Handler) DeleteItems(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemIDs []string `json:"itemIds"`
	}
	if err := parseStrictBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	removed, err := h.Catalog.DeleteItems(r.Context(), req.ItemIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	for _, itemID := range req.ItemIDs {
		h.Index.RemoveItem(itemID)
	}

	logger.LogInfo("Deleted %d items", removed)
	middleware.WriteJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// =============================================================================
// STORES
// =============================================================================

func (h *Handler) ListStores(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, h.Index.Snapshot().Stores())
}

func (h *Handler) GetStore(w http.ResponseWriter, r *http.Request) {
	storeID := r.PathValue("storeID")
	store, ok := h.Index.Snapshot().Store(storeID)
	if !ok {
		writeError(w, r, fmt.Errorf("%w: %s", inventory.ErrUnknownStore, storeID))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, store)
}

func (h *Handler) DeleteStore(w http.ResponseWriter, r *http.Request) {
	storeID := r.PathValue("storeID")
	store, ok := h.Index.Snapshot().Store(storeID)
	if !ok {
		writeError(w, r, fmt.Errorf("%w: %s", inventory.ErrUnknownStore, storeID))
		return
	}

	deleted, err := h.Catalog.DeleteStore(r.Context(), storeID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.Index.RemoveStore(storeID)
	if !deleted {
		writeError(w, r, fmt.Errorf("%w: %s", inventory.ErrUnknownStore, storeID))
		return
	}

	logger.LogInfo("Deleted store %s (%s)", store.ID, store.Name)
	middleware.WriteJSON(w, http.StatusOK, store)
}

type createStoreRequest struct {
	Name     string  `json:"name"`
	Address  string  `json:"address"`
	City     string  `json:"city"`
	Province string  `json:"province"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	PlaceID  string  `json:"place_id"`
}

func (h *Handler) CreateStore(w http.ResponseWriter, r *http.Request) {
	var req createStoreRequest
	if err := parseStrictBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, r, fmt.Errorf("%w: name is required", errInvalidRequest))
		return
	}

	store := inventory.Store{
		ID:       uuid.NewString(),
		Name:     strings.TrimSpace(req.Name),
		Address:  req.Address,
		City:     req.City,
		Province: req.Province,
		Lat:      req.Lat,
		Lng:      req.Lng,
		PlaceID:  req.PlaceID,
	}
	if err := store.Location().Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Catalog.UpsertStore(r.Context(), store); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Index.AddStore(store); err != nil {
		writeError(w, r, err)
		return
	}

	logger.LogInfo("Created store %s (%s)", store.ID, store.Name)
	middleware.WriteJSON(w, http.StatusCreated, store)
}

// =============================================================================
// STOCK
// =============================================================================

func (h *Handler) StoreStock(w http.ResponseWriter, r *http.Request) {
	snap := h.Index.Snapshot()
	stock, err := snap.StockForStore(r.PathValue("storeID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]optimize.ItemStock, 0, len(stock))
	for _, st := range stock {
		item, _ := snap.Item(st.ItemID)
		items = append(items, optimize.ItemStock{Item: item, Quantity: st.Quantity, Price: st.Price})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	middleware.WriteJSON(w, http.StatusOK, items)
}

type stockRequest struct {
	ItemID   string          `json:"itemId"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

func (req stockRequest) validate() error {
	if req.Quantity < 0 {
		return fmt.Errorf("%w: quantity must not be negative", errInvalidRequest)
	}
	if req.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", errInvalidRequest)
	}
	return nil
}

func (h *Handler) AddStock(w http.ResponseWriter, r *http.Request) {
	var req stockRequest
	if err := parseStrictBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return
	}

	stock := inventory.Stock{
		ItemID:   req.ItemID,
		StoreID:  r.PathValue("storeID"),
		Quantity: req.Quantity,
		Price:    req.Price,
	}
	if err := h.checkRelation(stock.ItemID, stock.StoreID); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Catalog.UpsertStock(r.Context(), stock); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Index.SetStock(stock); err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, stock)
}

func (h *Handler) UpdateStock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int             `json:"quantity"`
		Price    decimal.Decimal `json:"price"`
	}
	if err := parseStrictBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	stock := inventory.Stock{
		ItemID:   r.PathValue("itemID"),
		StoreID:  r.PathValue("storeID"),
		Quantity: req.Quantity,
		Price:    req.Price,
	}
	if err := (stockRequest{Quantity: stock.Quantity, Price: stock.Price}).validate(); err != nil {
		writeError(w, r, err)
		return
	}
	if _, ok := h.Index.Snapshot().StockAt(stock.ItemID, stock.StoreID); !ok {
		writeError(w, r, fmt.Errorf("%w: %s@%s", errUnknownStock, stock.ItemID, stock.StoreID))
		return
	}

	updated, err := h.Catalog.UpdateStock(r.Context(), stock)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !updated {
		writeError(w, r, fmt.Errorf("%w: %s@%s", errUnknownStock, stock.ItemID, stock.StoreID))
		return
	}
	if err := h.Index.SetStock(stock); err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, stock)
}

func (h *Handler) RemoveStock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemIDs []string `json:"itemIds"`
	}
	if err := parseStrictBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	storeID := r.PathValue("storeID")
	if _, ok := h.Index.Snapshot().Store(storeID); !ok {
		writeError(w, r, fmt.Errorf("%w: %s", inventory.ErrUnknownStore, storeID))
		return
	}

	removed, err := h.Catalog.DeleteStock(r.Context(), storeID, req.ItemIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	for _, itemID := range req.ItemIDs {
		h.Index.RemoveStock(itemID, storeID)
	}

	logger.LogInfo("Removed %d stock relations from store %s", removed, storeID)
	middleware.WriteJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (h *Handler) checkRelation(itemID, storeID string) error {
	snap := h.Index.Snapshot()
	if _, ok := snap.Store(storeID); !ok {
		return fmt.Errorf("%w: %s", inventory.ErrUnknownStore, storeID)
	}
	if _, ok := snap.Item(itemID); !ok {
		return fmt.Errorf("%w: %s", inventory.ErrUnknownItem, itemID)
	}
	return nil
}

// =============================================================================
// USERS
// =============================================================================

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDToken string `json:"idToken"`
	}
	if err := parseBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	userID, err := security.HashIdentityToken(req.IDToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Users.UpsertUser(r.Context(), userID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDToken string `json:"idToken"`
		ItemID  string `json:"itemId"`
		StoreID string `json:"storeId"`
	}
	if err := parseBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	userID, err := security.HashIdentityToken(req.IDToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.checkRelation(req.ItemID, req.StoreID); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Users.UpsertUser(r.Context(), userID); err != nil {
		writeError(w, r, err)
		return
	}
	sub := data.Subscription{UserID: userID, ItemID: req.ItemID, StoreID: req.StoreID}
	if err := h.Users.InsertSubscription(r.Context(), sub); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSubscriptions reads the identity token from the Authorization header.
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	userID, err := security.HashIdentityToken(token)
	if err != nil {
		writeError(w, r, err)
		return
	}

	subs, err := h.Users.ListSubscriptions(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, subs)
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if _, err := data.GetDB(); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	metric := geo.Haversine
	if h.Optimize.Orderer.Metric != nil {
		metric = h.Optimize.Orderer.Metric
	}
	middleware.WriteJSON(w, code, map[string]interface{}{
		"status":    status,
		"inventory": h.Index.Snapshot().Stats(),
		"metric":    metric.Name(),
	})
}
