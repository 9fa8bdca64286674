package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/aristath/optifolio/internal/modules/calculations"
	"github.com/aristath/optifolio/internal/modules/market"
	"github.com/aristath/optifolio/internal/modules/optimization"
	"github.com/aristath/optifolio/internal/modules/universe"
)

func setupTestRouter(t *testing.T) chi.Router {
	t.Helper()

	universeDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { universeDB.Close() })

	historyDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { historyDB.Close() })

	cacheDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { cacheDB.Close() })

	repo := universe.NewRepository(universeDB, zerolog.Nop())
	require.NoError(t, repo.InitSchema())

	store := market.NewPriceStore(historyDB, zerolog.Nop())
	require.NoError(t, store.InitSchema())

	cache := calculations.NewCache(cacheDB)
	require.NoError(t, cache.InitSchema())

	// Sixty days of gently diverging prices for three tickers.
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, ticker := range []string{"AAA", "BBB", "CCC"} {
		prices := make([]market.DailyPrice, 60)
		for d := range prices {
			drift := 0.1 * float64(i+1)
			wiggle := 0.5 * float64((d*(i+3))%7)
			prices[d] = market.DailyPrice{
				Date:  base.AddDate(0, 0, d).Format("2006-01-02"),
				Close: 100 + drift*float64(d) + wiggle,
			}
		}
		require.NoError(t, store.UpsertCloses(ticker, prices))
	}

	marketSvc := market.NewService(store, universeDB, zerolog.Nop())
	marketSvc.SetCache(cache)

	svc := optimization.NewService(
		repo, marketSvc, cache,
		1e-4, 30*time.Second, time.Hour,
		zerolog.Nop(),
	)

	r := chi.NewRouter()
	NewHandler(svc, zerolog.Nop()).RegisterRoutes(r)
	return r
}

func solveBody(t *testing.T, body map[string]interface{}) *bytes.Buffer {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	return bytes.NewBuffer(encoded)
}

func baseSolveRequest() map[string]interface{} {
	return map[string]interface{}{
		"tickers":    []string{"AAA", "BBB", "CCC"},
		"start_date": "2024-01-01",
		"end_date":   "2024-03-01",
		"objectives": []map[string]interface{}{{"name": "variance"}},
	}
}

func TestHandleSolveSuccess(t *testing.T) {
	router := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/optimization/solve", solveBody(t, baseSolveRequest()))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp optimization.SolveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, optimization.StatusSuccess, resp.Status)
	assert.NotEmpty(t, resp.RunID)
	assert.NotZero(t, resp.Weights.Len())
	assert.InDelta(t, 1.0, resp.Weights.Sum(), 0.001)
	assert.Equal(t, resp.Tickers, resp.Weights.Tickers())
}

func TestHandleSolveCachedSecondCall(t *testing.T) {
	router := setupTestRouter(t)

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/optimization/solve", solveBody(t, baseSolveRequest())))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/optimization/solve", solveBody(t, baseSolveRequest())))
	require.Equal(t, http.StatusOK, second.Code)

	var firstResp, secondResp optimization.SolveResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &firstResp))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &secondResp))

	assert.False(t, firstResp.Cached)
	assert.True(t, secondResp.Cached)
	assert.NotEqual(t, firstResp.RunID, secondResp.RunID)
	for _, ticker := range firstResp.Weights.Tickers() {
		w, _ := firstResp.Weights.Get(ticker)
		cached, ok := secondResp.Weights.Get(ticker)
		require.True(t, ok)
		assert.InDelta(t, w, cached, 1e-9)
	}

	// refresh=true bypasses the memoized result.
	body := baseSolveRequest()
	body["refresh"] = true
	third := httptest.NewRecorder()
	router.ServeHTTP(third, httptest.NewRequest(http.MethodPost, "/optimization/solve", solveBody(t, body)))
	require.Equal(t, http.StatusOK, third.Code)

	var thirdResp optimization.SolveResponse
	require.NoError(t, json.Unmarshal(third.Body.Bytes(), &thirdResp))
	assert.False(t, thirdResp.Cached)
}

func TestHandleSolveUnknownObjective(t *testing.T) {
	router := setupTestRouter(t)

	body := baseSolveRequest()
	body["objectives"] = []map[string]interface{}{{"name": "sortino"}}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/optimization/solve", solveBody(t, body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSolveMalformedBounds(t *testing.T) {
	router := setupTestRouter(t)

	body := baseSolveRequest()
	body["constraints"] = []map[string]interface{}{
		{"name": "sum_to_one"},
		{"name": "long_only"},
		{"name": "number_of_assets", "lower_bound": 5, "upper_bound": 2},
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/optimization/solve", solveBody(t, body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSolveInfeasible(t *testing.T) {
	router := setupTestRouter(t)

	body := baseSolveRequest()
	body["constraints"] = []map[string]interface{}{
		{"name": "sum_to_one"},
		{"name": "long_only"},
		{"name": "number_of_assets", "upper_bound": 0},
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/optimization/solve", solveBody(t, body)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "infeasible", resp["status"])
}

func TestHandleSolveMissingHistory(t *testing.T) {
	router := setupTestRouter(t)

	body := baseSolveRequest()
	body["tickers"] = []string{"AAA", "NOPE"}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/optimization/solve", solveBody(t, body)))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleSolveInvalidBody(t *testing.T) {
	router := setupTestRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/optimization/solve", bytes.NewBufferString("{not json"))
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSolveNamedUniverse(t *testing.T) {
	router := setupTestRouter(t)

	// The seeded universes reference real tickers with no local price
	// history, so resolution succeeds but input building fails upstream.
	body := map[string]interface{}{
		"universe_name": "faang",
		"objectives":    []map[string]interface{}{{"name": "variance"}},
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/optimization/solve", solveBody(t, body)))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleSolveWeightsSerializedInUniverseOrder(t *testing.T) {
	router := setupTestRouter(t)

	body := baseSolveRequest()
	body["tickers"] = []string{"CCC", "AAA", "BBB"}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/optimization/solve", solveBody(t, body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp optimization.SolveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, resp.Tickers, resp.Weights.Tickers())

	// The raw weights object must list keys in universe order, not the
	// alphabetical order a plain map would serialize with.
	raw := rec.Body.String()
	objStart := strings.Index(raw, `"weights":{`)
	require.GreaterOrEqual(t, objStart, 0)
	objEnd := strings.Index(raw[objStart:], "}")
	require.Greater(t, objEnd, 0)
	weightsObj := raw[objStart : objStart+objEnd]

	prev := -1
	for _, ticker := range resp.Tickers {
		pos := strings.Index(weightsObj, `"`+ticker+`"`)
		require.GreaterOrEqual(t, pos, 0, "ticker %s missing from weights object", ticker)
		assert.Greater(t, pos, prev, "ticker %s out of order in weights object", ticker)
		prev = pos
	}
}

func TestHandleSolveToleranceKeysCacheSeparately(t *testing.T) {
	router := setupTestRouter(t)

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/optimization/solve", solveBody(t, baseSolveRequest())))
	require.Equal(t, http.StatusOK, first.Code)

	// A different feasibility tolerance must not be served the result
	// memoized under the default one.
	body := baseSolveRequest()
	body["weights_tolerance"] = 0.01
	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/optimization/solve", solveBody(t, body)))
	require.Equal(t, http.StatusOK, second.Code)

	var secondResp optimization.SolveResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &secondResp))
	assert.False(t, secondResp.Cached)

	// The same tolerance hits its own cache entry.
	third := httptest.NewRecorder()
	router.ServeHTTP(third, httptest.NewRequest(http.MethodPost, "/optimization/solve", solveBody(t, body)))
	require.Equal(t, http.StatusOK, third.Code)

	var thirdResp optimization.SolveResponse
	require.NoError(t, json.Unmarshal(third.Body.Bytes(), &thirdResp))
	assert.True(t, thirdResp.Cached)
}

func TestHandleCatalogEndpoints(t *testing.T) {
	router := setupTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/optimization/objectives", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var objResp map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &objResp))
	assert.ElementsMatch(t, []string{"cvar", "expected_returns", "mad", "variance"}, objResp["objectives"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/optimization/constraints", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var conResp map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conResp))
	assert.ElementsMatch(t, []string{"long_only", "number_of_assets", "sum_to_one"}, conResp["constraints"])
}
