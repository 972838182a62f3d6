package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"instockbackend/internal/data"
	"instockbackend/internal/geo"
	"instockbackend/internal/inventory"
	"instockbackend/internal/middleware"
	"instockbackend/internal/optimize"
	"instockbackend/internal/route"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	path := filepath.Join(t.TempDir(), "api.db")
	if err := data.InitDB(data.DSN(path)); err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() { data.CloseDB() })
	if err := data.CreateTables(); err != nil {
		t.Fatalf("CreateTables: %v", err)
	}

	seed := inventory.Seed{
		Items: []inventory.Item{{ID: "item-a", Name: "ItemA"}, {ID: "item-b", Name: "ItemB"}},
		Stores: []inventory.Store{
			{ID: "Store1", Name: "One", Lat: 49.26, Lng: -123.24},
			{ID: "Store2", Name: "Two", Lat: 49.27, Lng: -123.16},
		},
		Stock: []inventory.Stock{
			{ItemID: "item-a", StoreID: "Store1", Quantity: 1, Price: decimal.RequireFromString("1.00")},
			{ItemID: "item-a", StoreID: "Store2", Quantity: 2, Price: decimal.RequireFromString("1.10")},
			{ItemID: "item-b", StoreID: "Store2", Quantity: 3, Price: decimal.RequireFromString("4.00")},
		},
	}
	catalog := data.NewCatalogRepository()
	if err := catalog.ImportSeed(context.Background(), seed); err != nil {
		t.Fatalf("ImportSeed: %v", err)
	}
	idx := inventory.NewIndex()
	if err := catalog.LoadIndex(context.Background(), idx); err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}

	anchor := geo.Coordinates{Latitude: 49.262130, Longitude: -123.250578}
	svc := optimize.NewService(idx, route.NewOrderer(geo.Haversine, 0), anchor, 5)
	return NewHandler(idx, svc)
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) middleware.APIError {
	t.Helper()
	var apiErr middleware.APIError
	if err := json.NewDecoder(rec.Body).Decode(&apiErr); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return apiErr
}

func TestFewestStoresEndpoint(t *testing.T) {
	mux := newTestHandler(t).Routes()

	rec := do(t, mux, http.MethodPost, "/api/stores/feweststores", map[string]interface{}{
		"shoppingList": []string{"ItemA", "itemb", "Ghost"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}

	var resp struct {
		Stores []struct {
			ID    string `json:"_id"`
			Lat   float64
			Items []struct {
				ID       string `json:"_id"`
				Name     string `json:"name"`
				Quantity int    `json:"quantity"`
				Price    string `json:"price"`
			} `json:"items"`
		} `json:"stores"`
		Uncovered []string `json:"uncovered"`
		Unknown   []string `json:"unknown"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Stores) != 1 || resp.Stores[0].ID != "Store2" {
		t.Fatalf("stores = %+v", resp.Stores)
	}
	if len(resp.Stores[0].Items) != 2 || resp.Stores[0].Items[1].Price != "4" {
		t.Errorf("items = %+v", resp.Stores[0].Items)
	}
	if len(resp.Unknown) != 1 || resp.Unknown[0] != "Ghost" {
		t.Errorf("unknown = %v", resp.Unknown)
	}
	if resp.Uncovered == nil || len(resp.Uncovered) != 0 {
		t.Errorf("uncovered = %#v, want empty array", resp.Uncovered)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	mux := newTestHandler(t).Routes()

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"empty shopping list", http.MethodPost, "/api/stores/feweststores",
			map[string]interface{}{"shoppingList": []string{}}, http.StatusNotFound, "empty_shopping_list"},
		{"no known items", http.MethodPost, "/api/stores/feweststores",
			map[string]interface{}{"shoppingList": []string{"Ghost"}}, http.StatusNotFound, "no_known_items"},
		{"invalid coordinates", http.MethodPost, "/api/stores/feweststores",
			map[string]interface{}{"shoppingList": []string{"ItemA"}, "location": map[string]float64{"latitude": 100, "longitude": 0}},
			http.StatusBadRequest, "invalid_coordinates"},
		{"malformed body", http.MethodPost, "/api/stores/feweststores",
			map[string]interface{}{"shoppingList": "ItemA"}, http.StatusBadRequest, "invalid_request"},
		{"empty selection", http.MethodPost, "/api/stores/shortestPath",
			map[string]interface{}{"stores": []string{}}, http.StatusBadRequest, "empty_selection"},
		{"unknown store in path", http.MethodPost, "/api/stores/shortestPath",
			map[string]interface{}{"stores": []string{"Store9"}}, http.StatusNotFound, "unknown_store"},
		{"unknown item stores", http.MethodGet, "/api/stores/item?search_term=Ghost", nil,
			http.StatusNotFound, "unknown_item"},
		{"duplicate item", http.MethodPost, "/api/items",
			map[string]string{"name": "itema"}, http.StatusConflict, "duplicate_item"},
		{"missing token", http.MethodPost, "/api/users/createUser",
			map[string]string{"idToken": ""}, http.StatusUnauthorized, "missing_token"},
		{"token without subject", http.MethodPost, "/api/users/createUser",
			map[string]string{"idToken": "not-a-jwt"}, http.StatusUnauthorized, "invalid_token"},
		{"unknown endpoint", http.MethodGet, "/api/nope", nil, http.StatusNotFound, "not_found"},
		{"unknown stock update", http.MethodPut, "/api/items/store/Store1/item-b",
			map[string]int{"quantity": 1}, http.StatusNotFound, "unknown_stock"},
		{"negative quantity", http.MethodPost, "/api/items/store/Store1",
			map[string]interface{}{"itemId": "item-b", "quantity": -1}, http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, mux, tt.method, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d; body = %s", rec.Code, tt.status, rec.Body)
			}
			apiErr := decodeError(t, rec)
			if apiErr.Code != tt.code {
				t.Errorf("code = %q, want %q", apiErr.Code, tt.code)
			}
			if apiErr.RequestID == "" {
				t.Errorf("missing request id")
			}
		})
	}
}

func TestShortestPathEndpoint(t *testing.T) {
	mux := newTestHandler(t).Routes()

	rec := do(t, mux, http.MethodPost, "/api/stores/shortestPath", map[string]interface{}{
		"stores":   []string{"Store2", "Store1"},
		"location": map[string]float64{"latitude": 49.262130, "longitude": -123.250578},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var order []string
	if err := json.NewDecoder(rec.Body).Decode(&order); err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != "Store1" || order[1] != "Store2" {
		t.Errorf("order = %v", order)
	}
}

func TestItemAndStockLifecycle(t *testing.T) {
	h := newTestHandler(t)
	mux := h.Routes()

	rec := do(t, mux, http.MethodPost, "/api/items", map[string]string{"name": "Oat Milk", "units": "1L"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create item status = %d body = %s", rec.Code, rec.Body)
	}
	var itemID string
	if err := json.NewDecoder(rec.Body).Decode(&itemID); err != nil {
		t.Fatal(err)
	}

	rec = do(t, mux, http.MethodGet, "/api/items?search_term=oat%20milk", nil)
	var found []inventory.Item
	json.NewDecoder(rec.Body).Decode(&found)
	if len(found) != 1 || found[0].ID != itemID {
		t.Fatalf("search = %+v", found)
	}

	rec = do(t, mux, http.MethodPost, "/api/items/store/Store1", map[string]interface{}{
		"itemId": itemID, "quantity": 4, "price": "3.25",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add stock status = %d body = %s", rec.Code, rec.Body)
	}
	if _, ok := h.Index.Snapshot().StockAt(itemID, "Store1"); !ok {
		t.Fatalf("stock not visible in index")
	}

	rec = do(t, mux, http.MethodPut, "/api/items/store/Store1/"+itemID, map[string]interface{}{
		"quantity": 9, "price": 3.5,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update stock status = %d body = %s", rec.Code, rec.Body)
	}
	if st, _ := h.Index.Snapshot().StockAt(itemID, "Store1"); st.Quantity != 9 {
		t.Errorf("quantity = %d after update", st.Quantity)
	}

	rec = do(t, mux, http.MethodGet, "/api/items/store/Store1", nil)
	var stock []optimize.ItemStock
	json.NewDecoder(rec.Body).Decode(&stock)
	if len(stock) != 2 {
		t.Errorf("store stock = %+v", stock)
	}

	rec = do(t, mux, http.MethodDelete, "/api/items/store/Store1", map[string][]string{"itemIds": {itemID}})
	if rec.Code != http.StatusOK {
		t.Fatalf("delete stock status = %d body = %s", rec.Code, rec.Body)
	}
	var removed map[string]int
	json.NewDecoder(rec.Body).Decode(&removed)
	if removed["removed"] != 1 {
		t.Errorf("removed = %v", removed)
	}
	if _, ok := h.Index.Snapshot().StockAt(itemID, "Store1"); ok {
		t.Errorf("stock still in index after delete")
	}

	rec = do(t, mux, http.MethodGet, "/api/items/all", nil)
	var names []string
	json.NewDecoder(rec.Body).Decode(&names)
	if len(names) != 3 || names[2] != "Oat Milk" {
		t.Errorf("names = %v", names)
	}
}

func TestDeleteItemsAndStores(t *testing.T) {
	h := newTestHandler(t)
	mux := h.Routes()

	rec := do(t, mux, http.MethodDelete, "/api/items", map[string][]string{"itemIds": {"item-b", "item-zzz"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("delete items status = %d body = %s", rec.Code, rec.Body)
	}
	var removed map[string]int
	json.NewDecoder(rec.Body).Decode(&removed)
	if removed["removed"] != 1 {
		t.Errorf("removed = %v", removed)
	}
	if _, ok := h.Index.Snapshot().Item("item-b"); ok {
		t.Errorf("item-b still in index")
	}

	// ItemB is gone from the catalog, so the list now names an unknown item
	rec = do(t, mux, http.MethodPost, "/api/stores/feweststores", map[string][]string{"shoppingList": {"ItemA", "ItemB"}})
	var res optimize.FewestStoresResult
	json.NewDecoder(rec.Body).Decode(&res)
	if len(res.Unknown) != 1 || res.Unknown[0] != "ItemB" {
		t.Errorf("unknown = %v", res.Unknown)
	}

	rec = do(t, mux, http.MethodDelete, "/api/stores/Store1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete store status = %d body = %s", rec.Code, rec.Body)
	}
	var store inventory.Store
	json.NewDecoder(rec.Body).Decode(&store)
	if store.ID != "Store1" {
		t.Errorf("deleted store = %+v", store)
	}
	stores, err := h.Index.Snapshot().StoresFor("item-a")
	if err != nil || len(stores) != 1 || stores[0] != "Store2" {
		t.Errorf("StoresFor(item-a) = %v, %v", stores, err)
	}

	rec = do(t, mux, http.MethodDelete, "/api/stores/Store1", nil)
	if rec.Code != http.StatusNotFound || decodeError(t, rec).Code != "unknown_store" {
		t.Errorf("second delete status = %d", rec.Code)
	}

	// a restart sees the same catalog
	idx := inventory.NewIndex()
	if err := data.NewCatalogRepository().LoadIndex(context.Background(), idx); err != nil {
		t.Fatal(err)
	}
	if got := idx.Snapshot().Stats(); got.Items != 1 || got.Stores != 1 || got.Relations != 1 {
		t.Errorf("reloaded stats = %+v", got)
	}
}

func TestItemsByID(t *testing.T) {
	mux := newTestHandler(t).Routes()

	rec := do(t, mux, http.MethodPost, "/api/items/multiple", map[string][]string{
		"itemIds": {"item-b", "ghost", "item-a", "item-b"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var items []inventory.Item
	json.NewDecoder(rec.Body).Decode(&items)
	if len(items) != 2 || items[0].ID != "item-b" || items[1].ID != "item-a" {
		t.Errorf("items = %+v", items)
	}
}

func TestClientPayloadsIgnoreExtraFields(t *testing.T) {
	mux := newTestHandler(t).Routes()

	rec := do(t, mux, http.MethodPost, "/api/stores/feweststores", map[string]interface{}{
		"shoppingList": []string{"ItemA"}, "clientVersion": "1.0",
	})
	if rec.Code != http.StatusOK {
		t.Errorf("feweststores status = %d body = %s", rec.Code, rec.Body)
	}

	rec = do(t, mux, http.MethodPost, "/api/stores/shortestPath", map[string]interface{}{
		"stores": []string{"Store1"}, "clientVersion": "1.0",
	})
	if rec.Code != http.StatusOK {
		t.Errorf("shortestPath status = %d body = %s", rec.Code, rec.Body)
	}

	// maintenance bodies stay strict
	rec = do(t, mux, http.MethodPost, "/api/items/store/Store1", map[string]interface{}{
		"itemId": "item-b", "quantity": 1, "qty": 2,
	})
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).Code != "invalid_request" {
		t.Errorf("strict stock status = %d", rec.Code)
	}
}

func TestCreateStore(t *testing.T) {
	h := newTestHandler(t)
	mux := h.Routes()

	rec := do(t, mux, http.MethodPost, "/api/stores", map[string]interface{}{
		"name": "Night Market", "lat": 49.2, "lng": -123.1, "place_id": "xyz",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var store inventory.Store
	json.NewDecoder(rec.Body).Decode(&store)

	rec = do(t, mux, http.MethodGet, "/api/stores/"+store.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get store status = %d", rec.Code)
	}

	rec = do(t, mux, http.MethodPost, "/api/stores", map[string]interface{}{"name": "Nowhere", "lat": 0, "lng": 200})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid store status = %d", rec.Code)
	}
}

func idToken(t *testing.T, subject string, issued time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(issued.Add(time.Hour)),
	}).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestUsersAndSubscriptions(t *testing.T) {
	mux := newTestHandler(t).Routes()
	signIn := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	tok := idToken(t, "user-42", signIn)

	rec := do(t, mux, http.MethodPost, "/api/users/createUser", map[string]string{"idToken": tok})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("createUser status = %d body = %s", rec.Code, rec.Body)
	}

	rec = do(t, mux, http.MethodPost, "/api/users/subscriptions", map[string]string{
		"idToken": tok, "itemId": "item-b", "storeId": "Store1",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("subscribe status = %d body = %s", rec.Code, rec.Body)
	}

	rec = do(t, mux, http.MethodPost, "/api/users/subscriptions", map[string]string{
		"idToken": tok, "itemId": "item-b", "storeId": "Store9",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("subscribe unknown store status = %d", rec.Code)
	}

	// the next day the client holds a freshly issued token for the same user
	later := idToken(t, "user-42", signIn.Add(24*time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/api/users/subscriptions", nil)
	req.Header.Set("Authorization", "Bearer "+later)
	list := httptest.NewRecorder()
	mux.ServeHTTP(list, req)
	if list.Code != http.StatusOK {
		t.Fatalf("list status = %d body = %s", list.Code, list.Body)
	}
	var subs []data.Subscription
	json.NewDecoder(list.Body).Decode(&subs)
	if len(subs) != 1 || subs[0].StoreID != "Store1" {
		t.Errorf("subscriptions = %+v", subs)
	}
}

func TestHealth(t *testing.T) {
	mux := newTestHandler(t).Routes()
	rec := do(t, mux, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Status    string          `json:"status"`
		Inventory inventory.Stats `json:"inventory"`
		Metric    string          `json:"metric"`
	}
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Status != "ok" || body.Inventory.Items != 2 || body.Inventory.Relations != 3 || body.Metric != "haversine" {
		t.Errorf("health = %+v", body)
	}
}
