// main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"instockbackend/internal/api"
	"instockbackend/internal/cleanup"
	"instockbackend/internal/config"
	"instockbackend/internal/data"
	"instockbackend/internal/geo"
	"instockbackend/internal/inventory"
	"instockbackend/internal/logger"
	"instockbackend/internal/optimize"
	"instockbackend/internal/route"
	"instockbackend/internal/security"
)

const (
	requestTimeout  = 15 * time.Second
	userRateLimit   = 500 * time.Millisecond
	shutdownTimeout = 10 * time.Second
)

type App struct {
	addr          string
	mux           *http.ServeMux
	connections   sync.WaitGroup
	totalRequests int64
}

func main() {
	// Step 1: Setup configuration first
	config.LoadEnv()
	if err := config.ParseFlags(os.Args[1:]); err != nil {
		log.Fatalf("Invalid command line: %v", err)
	}

	// Step 2: Setup logging
	if err := logger.SetupLogger(config.LoggerConfig()); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	// Only NOW is logging safe to use!
	logger.LogInfo("Environment loaded. Logger ready.")
	config.LogCurrentEnvironment()
	config.LoadCORSConfig()

	// Step 3: Open the database
	if err := data.InitDB(data.DSN(config.DatabasePath())); err != nil {
		logger.LogFatal("Failed to open database: %v", err)
	}
	defer data.CloseDB()
	if err := data.CreateTables(); err != nil {
		logger.LogFatal("Failed to create tables: %v", err)
	}

	// Step 4: Build the inventory index
	idx := inventory.NewIndex()
	if err := loadCatalog(context.Background(), idx); err != nil {
		logger.LogFatal("Failed to load catalog: %v", err)
	}

	if path := config.ExportFile(); path != "" {
		if err := inventory.WriteSeedFile(path, idx.Snapshot()); err != nil {
			logger.LogFatal("Failed to export catalog: %v", err)
		}
		logger.LogInfo("Catalog exported to %s", path)
		return
	}

	// Step 5: Setup app
	metric, err := geo.MetricByName(config.DistanceMetric())
	if err != nil {
		logger.LogFatal("Invalid distance metric: %v", err)
	}
	lat, lng := config.DefaultAnchor()
	anchor := geo.Coordinates{Latitude: lat, Longitude: lng}
	if err := anchor.Validate(); err != nil {
		logger.LogFatal("Invalid default location: %v", err)
	}

	svc := optimize.NewService(idx, route.NewOrderer(metric, config.ExactLimit()), anchor, config.DefaultRadiusKm())
	handler := api.NewHandler(idx, svc)
	handler.UserRateLimit = userRateLimit
	logger.LogInfo("Route orderer: metric=%s exact-limit=%d", metric.Name(), config.ExactLimit())

	app := &App{
		addr: config.ServerAddress(),
		mux:  handler.Routes(),
	}

	// Step 6: Start background tasks
	ctx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	cleanup.StartCleanupRoutine(ctx, config.SubscriptionRetentionDays())

	// Step 7: Run server
	app.Run()
}

// loadCatalog fills the index from the database, seeding the database first
// when it is empty and a seed file is configured.
func loadCatalog(ctx context.Context, idx *inventory.Index) error {
	repo := data.NewCatalogRepository()

	empty, err := repo.IsEmpty(ctx)
	if err != nil {
		return err
	}
	if empty && config.SeedFile() != "" {
		seed, err := inventory.LoadSeedFile(config.SeedFile())
		if err != nil {
			return err
		}
		if err := repo.ImportSeed(ctx, seed); err != nil {
			return err
		}
		logger.LogInfo("Seeded empty database from %s", config.SeedFile())
	}

	return repo.LoadIndex(ctx, idx)
}

// Run starts the HTTP server
func (a *App) Run() {
	server := &http.Server{
		Addr:         a.addr,
		Handler:      a.Handler(),
		ReadTimeout:  requestTimeout,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Channel to listen for shutdown signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Start server in a separate goroutine
	go func() {
		logger.LogInfo("Starting server on %s", a.addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.LogFatal("Server failed: %v", err)
		}
	}()

	// Wait for a shutdown signal
	<-stop
	logger.LogInfo("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.LogError("Server shutdown error: %v", err)
	}

	logger.LogInfo("Waiting for active connections to finish...")
	a.connections.Wait()
	logger.LogInfo("All connections closed. Total requests handled: %d", atomic.LoadInt64(&a.totalRequests))
	logger.LogInfo("Server shut down gracefully")
}

// Handler assembles all middleware around the main mux
func (a *App) Handler() http.Handler {
	var handler http.Handler = a.mux

	handler = security.AddCORSHeaders(handler)
	handler = a.trackConnections(handler)
	handler = withTimeout(handler, requestTimeout)

	return handler
}

// Middleware: timeout handler. The request context is cancelled on expiry,
// which stops an in-flight route search.
func withTimeout(h http.Handler, timeout time.Duration) http.Handler {
	return http.TimeoutHandler(h, timeout, `{"code":"timeout","message":"Request timed out"}`)
}

// Middleware: track active connections and total requests
func (a *App) trackConnections(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.connections.Add(1)
		atomic.AddInt64(&a.totalRequests, 1)
		defer a.connections.Done()

		h.ServeHTTP(w, r)
	})
}
