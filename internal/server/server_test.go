package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/optifolio/internal/config"
	"github.com/aristath/optifolio/internal/database"
	"github.com/aristath/optifolio/internal/modules/calculations"
	"github.com/aristath/optifolio/internal/modules/market"
	"github.com/aristath/optifolio/internal/modules/optimization"
	optimizationhandlers "github.com/aristath/optifolio/internal/modules/optimization/handlers"
	portfoliohandlers "github.com/aristath/optifolio/internal/modules/portfolio/handlers"
	"github.com/aristath/optifolio/internal/modules/universe"
	universehandlers "github.com/aristath/optifolio/internal/modules/universe/handlers"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()

	dir := t.TempDir()
	cfg := &config.Config{
		DataDir:          dir,
		LogLevel:         "disabled",
		Port:             0,
		DevMode:          true,
		WeightsTolerance: config.DefaultWeightsTolerance,
		SolveTimeout:     30 * time.Second,
		ResultCacheTTL:   time.Hour,
	}

	universeDB, err := database.New(filepath.Join(dir, "universe.db"), database.ProfileStandard)
	require.NoError(t, err)
	t.Cleanup(func() { universeDB.Close() })

	historyDB, err := database.New(filepath.Join(dir, "history.db"), database.ProfileStandard)
	require.NoError(t, err)
	t.Cleanup(func() { historyDB.Close() })

	cacheDB, err := database.New(filepath.Join(dir, "cache.db"), database.ProfileCache)
	require.NoError(t, err)
	t.Cleanup(func() { cacheDB.Close() })

	repo := universe.NewRepository(universeDB.Conn(), zerolog.Nop())
	require.NoError(t, repo.InitSchema())

	store := market.NewPriceStore(historyDB.Conn(), zerolog.Nop())
	require.NoError(t, store.InitSchema())

	cache := calculations.NewCache(cacheDB.Conn())
	require.NoError(t, cache.InitSchema())

	marketSvc := market.NewService(store, universeDB.Conn(), zerolog.Nop())
	marketSvc.SetCache(cache)

	svc := optimization.NewService(
		repo, marketSvc, cache,
		cfg.WeightsTolerance, cfg.SolveTimeout, cfg.ResultCacheTTL,
		zerolog.Nop(),
	)

	return New(Config{
		Log:                 zerolog.Nop(),
		Config:              cfg,
		UniverseDB:          universeDB,
		HistoryDB:           historyDB,
		CacheDB:             cacheDB,
		OptimizationHandler: optimizationhandlers.NewHandler(svc, zerolog.Nop()),
		PortfolioHandler:    portfoliohandlers.NewHandler(marketSvc, zerolog.Nop()),
		UniverseHandler:     universehandlers.NewHandler(repo, zerolog.Nop()),
	})
}

func TestHealthEndpoint(t *testing.T) {
	srv := setupTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "optifolio", resp["service"])
}

func TestSystemStatusEndpoint(t *testing.T) {
	srv := setupTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SystemStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Databases, 3)
	for _, db := range resp.Databases {
		assert.True(t, db.Reachable)
	}
	assert.Greater(t, resp.Goroutines, 0)
}

func TestUniverseRoutesMounted(t *testing.T) {
	srv := setupTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/universes/faang", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Name    string   `json:"name"`
		Tickers []string `json:"tickers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "faang", resp.Name)
	assert.Contains(t, resp.Tickers, "NFLX")
}

func TestSolveRouteMountedReturnsClientError(t *testing.T) {
	srv := setupTestServer(t)

	// No objectives in the body; the handler must reject before solving.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/optimization/solve",
		jsonBody(t, map[string]interface{}{"tickers": []string{"AAA"}}))
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func jsonBody(t *testing.T, body map[string]interface{}) *bytes.Reader {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	return bytes.NewReader(encoded)
}
