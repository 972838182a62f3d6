// Package api exposes the catalog and the shopping optimizers over HTTP.
package api

import (
	"net/http"
	"time"

	"instockbackend/internal/data"
	"instockbackend/internal/inventory"
	"instockbackend/internal/middleware"
	"instockbackend/internal/optimize"
)

// Handler serves the /api routes. Writes go to the database first and are
// applied to the index only once stored.
type Handler struct {
	Index    *inventory.Index
	Optimize *optimize.Service
	Catalog  *data.CatalogRepository
	Users    *data.UserRepository
	// UserRateLimit spaces user registration and subscription calls per
	// client IP; zero disables it.
	UserRateLimit time.Duration
}

func NewHandler(idx *inventory.Index, svc *optimize.Service) *Handler {
	return &Handler{
		Index:    idx,
		Optimize: svc,
		Catalog:  data.NewCatalogRepository(),
		Users:    data.NewUserRepository(),
	}
}

// Routes sets up all API routes
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Health)

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /items", h.SearchItems)
	apiMux.HandleFunc("POST /items", h.CreateItem)
	apiMux.HandleFunc("DELETE /items", h.DeleteItems)
	apiMux.HandleFunc("GET /items/all", h.AllItemNames)
	apiMux.HandleFunc("POST /items/multiple", h.ItemsByID)
	apiMux.HandleFunc("GET /items/store/{storeID}", h.StoreStock)
	apiMux.HandleFunc("POST /items/store/{storeID}", h.AddStock)
	apiMux.HandleFunc("PUT /items/store/{storeID}/{itemID}", h.UpdateStock)
	apiMux.HandleFunc("DELETE /items/store/{storeID}", h.RemoveStock)

	apiMux.HandleFunc("GET /stores", h.ListStores)
	apiMux.HandleFunc("POST /stores", h.CreateStore)
	apiMux.HandleFunc("GET /stores/{storeID}", h.GetStore)
	apiMux.HandleFunc("DELETE /stores/{storeID}", h.DeleteStore)
	apiMux.HandleFunc("GET /stores/item", h.StoresForItem)
	apiMux.HandleFunc("POST /stores/feweststores", h.FewestStores)
	apiMux.HandleFunc("POST /stores/shortestPath", h.ShortestPath)

	users := func(fn http.HandlerFunc) http.Handler {
		if h.UserRateLimit > 0 {
			return middleware.RateLimit(h.UserRateLimit)(fn)
		}
		return fn
	}
	apiMux.Handle("POST /users/createUser", users(h.CreateUser))
	apiMux.Handle("POST /users/subscriptions", users(h.Subscribe))
	apiMux.HandleFunc("GET /users/subscriptions", h.ListSubscriptions)

	apiMux.HandleFunc("/", notFound)

	mux.Handle("/api/", middleware.APIMiddleware(http.StripPrefix("/api", apiMux)))
	mux.HandleFunc("/", notFound)

	return mux
}

func notFound(w http.ResponseWriter, r *http.Request) {
	middleware.WriteAPIError(w, r, http.StatusNotFound, "not_found", "No such endpoint", r.Method+" "+r.URL.Path)
}
