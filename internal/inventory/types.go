package inventory

import (
	"errors"

	"github.com/shopspring/decimal"

	"instockbackend/internal/geo"
)

var (
	ErrUnknownItem  = errors.New("unknown item")
	ErrUnknownStore = errors.New("unknown store")
)

// Item is a catalog entry. Names are unique ignoring case.
type Item struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Barcode     string `json:"barcode,omitempty"`
	Units       string `json:"units,omitempty"`
}

// Store is a geocoded shop.
type Store struct {
	ID       string  `json:"_id"`
	Name     string  `json:"name"`
	Address  string  `json:"address,omitempty"`
	City     string  `json:"city,omitempty"`
	Province string  `json:"province,omitempty"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	PlaceID  string  `json:"place_id,omitempty"`
}

func (s Store) Location() geo.Coordinates {
	return geo.Coordinates{Latitude: s.Lat, Longitude: s.Lng}
}

// Stock says a store carries an item. Quantity and price are display data;
// the solvers only look at whether the relation exists.
type Stock struct {
	ItemID   string          `json:"itemId"`
	StoreID  string          `json:"storeId"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// Stats summarises a snapshot for health checks.
type Stats struct {
	Items     int `json:"items"`
	Stores    int `json:"stores"`
	Relations int `json:"relations"`
	Version   int `json:"version"`
}
