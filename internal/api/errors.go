package api

import (
	"errors"
	"net/http"

	"instockbackend/internal/cover"
	"instockbackend/internal/geo"
	"instockbackend/internal/inventory"
	"instockbackend/internal/logger"
	"instockbackend/internal/middleware"
	"instockbackend/internal/optimize"
	"instockbackend/internal/route"
	"instockbackend/internal/security"
)

var (
	errInvalidRequest = errors.New("invalid request")
	errUnknownStock   = errors.New("item not stocked at store")
)

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// errorMappings is checked in order; the first match wins.
var errorMappings = []errorMapping{
	{cover.ErrEmptyShoppingList, http.StatusNotFound, "empty_shopping_list", "Shopping list is empty"},
	{optimize.ErrNoKnownItems, http.StatusNotFound, "no_known_items", "None of the requested items exist"},
	{inventory.ErrUnknownItem, http.StatusNotFound, "unknown_item", "Item not found"},
	{inventory.ErrUnknownStore, http.StatusNotFound, "unknown_store", "Store not found"},
	{errUnknownStock, http.StatusNotFound, "unknown_stock", "Item is not stocked at this store"},
	{route.ErrEmptySelection, http.StatusBadRequest, "empty_selection", "No stores to route"},
	{geo.ErrInvalidCoordinates, http.StatusBadRequest, "invalid_coordinates", "Coordinates out of range"},
	{optimize.ErrInvalidRadius, http.StatusBadRequest, "invalid_radius", "Radius must be positive"},
	{security.ErrMissingIdentityToken, http.StatusUnauthorized, "missing_token", "Identity token required"},
	{security.ErrInvalidIdentityToken, http.StatusUnauthorized, "invalid_token", "Identity token is not valid"},
	{inventory.ErrDuplicateItem, http.StatusConflict, "duplicate_item", "An item with this name already exists"},
	{errInvalidRequest, http.StatusBadRequest, "invalid_request", "Request body is invalid"},
}

// writeError maps err onto the API error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, route.ErrSolverTimeout) {
		w.Header().Set("Retry-After", "1")
		middleware.WriteAPIError(w, r, http.StatusServiceUnavailable, "solver_timeout",
			"Route search took too long, try again", err.Error())
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			middleware.WriteAPIError(w, r, m.status, m.code, m.message, err.Error())
			return
		}
	}

	logger.LogError("Unhandled API error: request_id=%s path=%s error=%v",
		middleware.GetRequestID(r.Context()), r.URL.Path, err)
	middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error",
		"An internal error occurred", "")
}
