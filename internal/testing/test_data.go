package testing

import (
	"fmt"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"instockbackend/internal/geo"
	"instockbackend/internal/inventory"
)

// DefaultAnchor is the location used when requests omit one.
var DefaultAnchor = geo.Coordinates{Latitude: 49.262130, Longitude: -123.250578}

// DefaultSeedHuJSON is the catalog every suite starts from.
const DefaultSeedHuJSON = `{
	// ItemA is stocked at both stores, ItemB only at Store2, ItemC nowhere.
	"items": [
		{"_id": "item-a", "name": "ItemA", "units": "each"},
		{"_id": "item-b", "name": "ItemB", "units": "each"},
		{"_id": "item-c", "name": "ItemC"},
		{"_id": "item-d", "name": "ItemD", "barcode": "0001234"},
	],
	"stores": [
		{"_id": "Store1", "name": "Campus Market", "city": "Vancouver", "province": "BC", "lat": 49.2660, "lng": -123.2400},
		{"_id": "Store2", "name": "Kits Corner", "city": "Vancouver", "province": "BC", "lat": 49.2680, "lng": -123.1690},
		{"_id": "Store3", "name": "Downtown Grocer", "city": "Vancouver", "province": "BC", "lat": 49.2846566, "lng": -123.1093607, "place_id": "ChIJ-downtown"},
	],
	"stock": [
		{"itemId": "item-a", "storeId": "Store1", "quantity": 5, "price": "1.25"},
		{"itemId": "item-a", "storeId": "Store2", "quantity": 2, "price": "1.40"},
		{"itemId": "item-b", "storeId": "Store2", "quantity": 7, "price": "3.99"},
		{"itemId": "item-d", "storeId": "Store3", "quantity": 1, "price": 12},
	],
}`

// GenerateSeed builds a random catalog around DefaultAnchor. Each item is
// stocked by each store with probability density.
func GenerateSeed(r *rand.Rand, items, stores int, density float64) inventory.Seed {
	var seed inventory.Seed
	for i := 0; i < items; i++ {
		seed.Items = append(seed.Items, inventory.Item{
			ID:   fmt.Sprintf("gen-item-%03d", i),
			Name: fmt.Sprintf("Generated Item %03d", i),
		})
	}
	for s := 0; s < stores; s++ {
		seed.Stores = append(seed.Stores, inventory.Store{
			ID:   fmt.Sprintf("gen-store-%03d", s),
			Name: fmt.Sprintf("Generated Store %03d", s),
			Lat:  DefaultAnchor.Latitude + (r.Float64()-0.5)*0.2,
			Lng:  DefaultAnchor.Longitude + (r.Float64()-0.5)*0.3,
		})
	}
	for _, item := range seed.Items {
		for _, store := range seed.Stores {
			if r.Float64() < density {
				seed.Stock = append(seed.Stock, inventory.Stock{
					ItemID:   item.ID,
					StoreID:  store.ID,
					Quantity: 1 + r.Intn(20),
					Price:    decimal.New(int64(50+r.Intn(2000)), -2),
				})
			}
		}
	}
	return seed
}

// IdentityToken returns a provider-style ID token for subject issued at the
// given time.
func IdentityToken(t *testing.T, subject string, issued time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "https://accounts.example.test",
		Subject:   subject,
		Audience:  jwt.ClaimStrings{"instock-mobile"},
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(issued.Add(time.Hour)),
	}).SignedString([]byte("suite-signing-key"))
	if err != nil {
		t.Fatalf("Failed to sign identity token: %v", err)
	}
	return token
}

func itemNames(seed inventory.Seed) []string {
	names := make([]string, len(seed.Items))
	for i, item := range seed.Items {
		names[i] = item.Name
	}
	return names
}

// writeSeed exports seed through the same path the --export flag uses.
func writeSeed(path string, seed inventory.Seed) error {
	idx := inventory.NewIndex()
	if err := seed.Apply(idx); err != nil {
		return err
	}
	return inventory.WriteSeedFile(path, idx.Snapshot())
}

func mustRead(t *testing.T, path string) string {
	t.Helper()
	text, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(text)
}
