// test_helpers.go - end-to-end suite: temp database, seeded catalog, real routes
package testing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"instockbackend/internal/api"
	"instockbackend/internal/data"
	"instockbackend/internal/geo"
	"instockbackend/internal/inventory"
	"instockbackend/internal/optimize"
	"instockbackend/internal/route"
	"instockbackend/internal/security"
)

// TestConfig holds configuration for test runs
type TestConfig struct {
	DBPath      string
	SeedPath    string
	Metric      geo.Metric
	ExactLimit  int
	TestDataDir string
}

// TestSuite provides utilities for integration testing
type TestSuite struct {
	Config  TestConfig
	Server  *httptest.Server
	Client  *http.Client
	Index   *inventory.Index
	Handler *api.Handler
	mu      sync.Mutex
	counter int
}

// NewTestSuite creates a suite backed by a fresh database seeded from a
// HuJSON file, serving the real API routes.
func NewTestSuite(t *testing.T) *TestSuite {
	t.Helper()
	return NewTestSuiteWithSeed(t, DefaultSeedHuJSON)
}

func NewTestSuiteWithSeed(t *testing.T, seedText string) *TestSuite {
	t.Helper()
	testDir := t.TempDir()

	config := TestConfig{
		DBPath:      filepath.Join(testDir, fmt.Sprintf("test_%d.db", time.Now().UnixNano())),
		SeedPath:    filepath.Join(testDir, "seed.hujson"),
		Metric:      geo.Haversine,
		ExactLimit:  route.DefaultExactLimit,
		TestDataDir: testDir,
	}
	if err := os.WriteFile(config.SeedPath, []byte(seedText), 0644); err != nil {
		t.Fatalf("Failed to write seed file: %v", err)
	}

	suite := &TestSuite{
		Config: config,
		Client: &http.Client{Timeout: 30 * time.Second},
		Index:  inventory.NewIndex(),
	}

	if err := suite.InitDatabase(); err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}

	svc := optimize.NewService(suite.Index, route.NewOrderer(config.Metric, config.ExactLimit), DefaultAnchor, 5)
	suite.Handler = api.NewHandler(suite.Index, svc)
	suite.Server = httptest.NewServer(security.AddCORSHeaders(suite.Handler.Routes()))

	t.Cleanup(suite.Cleanup)
	return suite
}

// InitDatabase creates the schema, imports the seed file and loads the index.
func (ts *TestSuite) InitDatabase() error {
	if err := data.InitDB(data.DSN(ts.Config.DBPath)); err != nil {
		return fmt.Errorf("failed to init data package: %w", err)
	}
	if err := data.CreateTables(); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	seed, err := inventory.LoadSeedFile(ts.Config.SeedPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo := data.NewCatalogRepository()
	if err := repo.ImportSeed(ctx, seed); err != nil {
		return err
	}
	return repo.LoadIndex(ctx, ts.Index)
}

// ReloadIndex rebuilds a fresh index from the database, as a restart would.
func (ts *TestSuite) ReloadIndex() (*inventory.Index, error) {
	idx := inventory.NewIndex()
	if err := data.NewCatalogRepository().LoadIndex(context.Background(), idx); err != nil {
		return nil, err
	}
	return idx, nil
}

// Cleanup stops the server and closes the database.
func (ts *TestSuite) Cleanup() {
	if ts.Server != nil {
		ts.Server.Close()
	}
	data.CloseDB()
}

// NextName returns a unique name with the given prefix.
func (ts *TestSuite) NextName(prefix string) string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.counter++
	return fmt.Sprintf("%s %d", prefix, ts.counter)
}

// MakeAPIRequest sends a JSON request to the test server
func (ts *TestSuite) MakeAPIRequest(method, path string, body interface{}) (*http.Response, error) {
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(bodyBytes)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return ts.Client.Do(req)
}

// ParseJSONResponse parses a JSON response into the provided interface
func (ts *TestSuite) ParseJSONResponse(resp *http.Response, dest interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(dest)
}

// AssertStatusCode checks if response has expected status code
func (ts *TestSuite) AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertNoError fails the test if error is not nil
func (ts *TestSuite) AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

// AssertError fails the test if error is nil
func (ts *TestSuite) AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("Expected error but got nil")
	}
}
