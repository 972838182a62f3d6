// api_test.go - end-to-end flows over the real routes
package testing

import (
	"net/http"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"instockbackend/internal/inventory"
)

type fewestStoresResponse struct {
	Stores []struct {
		ID    string  `json:"_id"`
		Name  string  `json:"name"`
		Lat   float64 `json:"lat"`
		Lng   float64 `json:"lng"`
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

func (r fewestStoresResponse) storeIDs() []string {
	ids := make([]string, len(r.Stores))
	for i, s := range r.Stores {
		ids[i] = s.ID
	}
	return ids
}

type apiError struct {
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

func fewestStores(t *testing.T, suite *TestSuite, body interface{}) fewestStoresResponse {
	t.Helper()
	resp, err := suite.MakeAPIRequest(http.MethodPost, "/api/stores/feweststores", body)
	suite.AssertNoError(t, err)
	if resp.StatusCode != http.StatusOK {
		var e apiError
		suite.ParseJSONResponse(resp, &e)
		t.Fatalf("feweststores status %d: %+v", resp.StatusCode, e)
	}
	var out fewestStoresResponse
	suite.AssertNoError(t, suite.ParseJSONResponse(resp, &out))
	return out
}

func expectError(t *testing.T, suite *TestSuite, method, path string, body interface{}, status int, code string) {
	t.Helper()
	resp, err := suite.MakeAPIRequest(method, path, body)
	suite.AssertNoError(t, err)
	suite.AssertStatusCode(t, resp, status)

	var e apiError
	suite.AssertNoError(t, suite.ParseJSONResponse(resp, &e))
	if e.Code != code {
		t.Errorf("%s %s: code = %q, want %q", method, path, e.Code, code)
	}
}

func testShoppingFlow(t *testing.T, suite *TestSuite) {
	t.Run("OneStoreCoversBoth", func(t *testing.T) {
		got := fewestStores(t, suite, map[string][]string{"shoppingList": {"ItemA", "ItemB"}})
		if diff := cmp.Diff([]string{"Store2"}, got.storeIDs()); diff != "" {
			t.Errorf("stores mismatch (-want +got):\n%s", diff)
		}
		if len(got.Stores[0].Items) != 2 || got.Stores[0].Items[1].Price != "3.99" {
			t.Errorf("items = %+v", got.Stores[0].Items)
		}
	})

	t.Run("DisjointStores", func(t *testing.T) {
		got := fewestStores(t, suite, map[string][]string{"shoppingList": {"ItemB", "ItemD"}})
		ids := got.storeIDs()
		sort.Strings(ids)
		if diff := cmp.Diff([]string{"Store2", "Store3"}, ids); diff != "" {
			t.Errorf("stores mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("UnstockedItemReported", func(t *testing.T) {
		got := fewestStores(t, suite, map[string][]string{"shoppingList": {"ItemA", "ItemB", "ItemC", "Unicorn"}})
		if diff := cmp.Diff([]string{"Store2"}, got.storeIDs()); diff != "" {
			t.Errorf("stores mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"ItemC"}, got.Uncovered); diff != "" {
			t.Errorf("uncovered mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"Unicorn"}, got.Unknown); diff != "" {
			t.Errorf("unknown mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("RadiusFilter", func(t *testing.T) {
		got := fewestStores(t, suite, map[string]interface{}{
			"shoppingList": []string{"ItemA", "ItemB"},
			"location":     map[string]float64{"latitude": 49.2660, "longitude": -123.2400},
			"radius":       1,
		})
		if diff := cmp.Diff([]string{"Store1"}, got.storeIDs()); diff != "" {
			t.Errorf("stores mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"ItemB"}, got.Uncovered); diff != "" {
			t.Errorf("uncovered mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("EmptyListIsNotFound", func(t *testing.T) {
		expectError(t, suite, http.MethodPost, "/api/stores/feweststores",
			map[string][]string{"shoppingList": {}}, http.StatusNotFound, "empty_shopping_list")
	})

	t.Run("InvalidCoordinates", func(t *testing.T) {
		expectError(t, suite, http.MethodPost, "/api/stores/feweststores", map[string]interface{}{
			"shoppingList": []string{"ItemA"},
			"location":     map[string]float64{"latitude": -95, "longitude": 10},
		}, http.StatusBadRequest, "invalid_coordinates")
		expectError(t, suite, http.MethodPost, "/api/stores/shortestPath", map[string]interface{}{
			"stores":   []string{"Store1"},
			"location": map[string]float64{"latitude": 10, "longitude": 190},
		}, http.StatusBadRequest, "invalid_coordinates")
	})

	t.Run("ShortestPath", func(t *testing.T) {
		resp, err := suite.MakeAPIRequest(http.MethodPost, "/api/stores/shortestPath", map[string]interface{}{
			"stores":   []string{"Store3", "Store1", "Store2"},
			"location": map[string]float64{"latitude": DefaultAnchor.Latitude, "longitude": DefaultAnchor.Longitude},
		})
		suite.AssertNoError(t, err)
		suite.AssertStatusCode(t, resp, http.StatusOK)

		var order []string
		suite.AssertNoError(t, suite.ParseJSONResponse(resp, &order))
		if diff := cmp.Diff([]string{"Store1", "Store2", "Store3"}, order); diff != "" {
			t.Errorf("order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("ShortestPathIsPermutation", func(t *testing.T) {
		requested := []string{"Store2", "Store3", "Store1", "Store2"}
		resp, err := suite.MakeAPIRequest(http.MethodPost, "/api/stores/shortestPath", map[string]interface{}{
			"stores":   requested,
			"location": map[string]float64{"latitude": 49.29, "longitude": -123.10},
		})
		suite.AssertNoError(t, err)
		suite.AssertStatusCode(t, resp, http.StatusOK)

		var order []string
		suite.AssertNoError(t, suite.ParseJSONResponse(resp, &order))
		if diff := cmp.Diff([]string{"Store1", "Store2", "Store3"}, order, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
			t.Errorf("route is not a permutation of the distinct stores (-want +got):\n%s", diff)
		}
	})

	t.Run("StoresForItem", func(t *testing.T) {
		resp, err := suite.MakeAPIRequest(http.MethodGet, "/api/stores/item?search_term=itema", nil)
		suite.AssertNoError(t, err)
		suite.AssertStatusCode(t, resp, http.StatusOK)

		var list struct {
			Stores []struct {
				ID       string `json:"_id"`
				Quantity int    `json:"quantity"`
			} `json:"stores"`
		}
		suite.AssertNoError(t, suite.ParseJSONResponse(resp, &list))
		if len(list.Stores) != 2 || list.Stores[0].ID != "Store1" || list.Stores[0].Quantity != 5 {
			t.Errorf("stores = %+v", list.Stores)
		}
	})
}

func testCatalogGrowth(t *testing.T, suite *TestSuite) {
	itemName := suite.NextName("Oat Milk")

	resp, err := suite.MakeAPIRequest(http.MethodPost, "/api/items", map[string]string{"name": itemName, "units": "1L"})
	suite.AssertNoError(t, err)
	suite.AssertStatusCode(t, resp, http.StatusCreated)
	var itemID string
	suite.AssertNoError(t, suite.ParseJSONResponse(resp, &itemID))

	resp, err = suite.MakeAPIRequest(http.MethodPost, "/api/stores", map[string]interface{}{
		"name": "Point Grey Produce", "lat": 49.2640, "lng": -123.1850,
	})
	suite.AssertNoError(t, err)
	suite.AssertStatusCode(t, resp, http.StatusCreated)
	var store inventory.Store
	suite.AssertNoError(t, suite.ParseJSONResponse(resp, &store))

	for _, itemID := range []string{itemID, "item-a", "item-b"} {
		resp, err = suite.MakeAPIRequest(http.MethodPost, "/api/items/store/"+store.ID,
			map[string]interface{}{"itemId": itemID, "quantity": 3, "price": "2.00"})
		suite.AssertNoError(t, err)
		suite.AssertStatusCode(t, resp, http.StatusCreated)
		resp.Body.Close()
	}

	got := fewestStores(t, suite, map[string][]string{"shoppingList": {"ItemA", "ItemB", itemName}})
	if diff := cmp.Diff([]string{store.ID}, got.storeIDs()); diff != "" {
		t.Errorf("stores mismatch (-want +got):\n%s", diff)
	}

	// a restart rebuilds the same catalog from the database
	reloaded, err := suite.ReloadIndex()
	suite.AssertNoError(t, err)
	want := suite.Index.Snapshot()
	if diff := cmp.Diff(want.Items(), reloaded.Snapshot().Items()); diff != "" {
		t.Errorf("items differ after reload (-live +reloaded):\n%s", diff)
	}
	if diff := cmp.Diff(want.Stores(), reloaded.Snapshot().Stores()); diff != "" {
		t.Errorf("stores differ after reload (-live +reloaded):\n%s", diff)
	}
	if w, g := want.Stats().Relations, reloaded.Snapshot().Stats().Relations; w != g {
		t.Errorf("relations: live %d, reloaded %d", w, g)
	}
}

func testSubscriptionFlow(t *testing.T, suite *TestSuite) {
	signIn := time.Now().Add(-48 * time.Hour)
	token := IdentityToken(t, "e2e-subject", signIn)

	resp, err := suite.MakeAPIRequest(http.MethodPost, "/api/users/createUser", map[string]string{"idToken": token})
	suite.AssertNoError(t, err)
	suite.AssertStatusCode(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp, err = suite.MakeAPIRequest(http.MethodPost, "/api/users/subscriptions",
		map[string]string{"idToken": token, "itemId": "item-c", "storeId": "Store1"})
	suite.AssertNoError(t, err)
	suite.AssertStatusCode(t, resp, http.StatusNoContent)
	resp.Body.Close()

	expectError(t, suite, http.MethodPost, "/api/users/subscriptions",
		map[string]string{"idToken": token, "itemId": "item-zzz", "storeId": "Store1"},
		http.StatusNotFound, "unknown_item")

	// signing in again issues a new token for the same subject
	req, err := http.NewRequest(http.MethodGet, suite.Server.URL+"/api/users/subscriptions", nil)
	suite.AssertNoError(t, err)
	req.Header.Set("Authorization", "Bearer "+IdentityToken(t, "e2e-subject", time.Now()))
	resp, err = suite.Client.Do(req)
	suite.AssertNoError(t, err)
	suite.AssertStatusCode(t, resp, http.StatusOK)

	var subs []struct {
		ItemID  string `json:"itemId"`
		StoreID string `json:"storeId"`
	}
	suite.AssertNoError(t, suite.ParseJSONResponse(resp, &subs))
	if len(subs) != 1 || subs[0].ItemID != "item-c" {
		t.Errorf("subscriptions = %+v", subs)
	}
}
