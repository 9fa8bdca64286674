package market

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/optifolio/internal/modules/calculations"
)

const (
	// TradingDaysPerYear annualizes per-day return statistics.
	TradingDaysPerYear = 252
	// emaPeriod smooths daily returns before annualizing.
	emaPeriod = 20
	// riskInputsCacheTTL bounds how long covariance results are reused.
	riskInputsCacheTTL = 24 * time.Hour
)

// RiskInputs holds the market-derived auxiliary data objectives need:
// expected returns, covariance, and historical return scenarios, all
// aligned to Tickers order.
type RiskInputs struct {
	Tickers         []string
	ExpectedReturns []float64
	Covariance      [][]float64
	Scenarios       [][]float64
}

// Service is the market-data collaborator. It resolves tickers to
// historical series and metadata; the optimization core only consumes
// its outputs.
type Service struct {
	store      *PriceStore
	universeDB *sql.DB             // securities metadata (universe.db)
	cache      *calculations.Cache // optional, for covariance caching
	log        zerolog.Logger
}

// NewService creates a new market data service
func NewService(store *PriceStore, universeDB *sql.DB, log zerolog.Logger) *Service {
	return &Service{
		store:      store,
		universeDB: universeDB,
		log:        log.With().Str("service", "market").Logger(),
	}
}

// SetCache sets the calculation cache for covariance and scenario reuse.
// Optional - without it, inputs are computed fresh each time.
func (s *Service) SetCache(cache *calculations.Cache) {
	s.cache = cache
}

// TotalReturns computes aligned simple-return series for the tickers over
// [start, end]. Tickers with fewer than RequiredPctObs observations are
// dropped from the frame.
func (s *Service) TotalReturns(tickers []string, start, end time.Time) (*ReturnsFrame, error) {
	if len(tickers) == 0 {
		return nil, fmt.Errorf("no tickers requested")
	}

	closes := make(map[string][]DailyPrice, len(tickers))
	for _, ticker := range tickers {
		prices, err := s.store.GetCloses(ticker, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to load prices for %s: %w", ticker, err)
		}
		closes[ticker] = prices
	}

	return buildReturnsFrame(closes, tickers, RequiredPctObs)
}

// BuildRiskInputs derives expected returns, an annualized covariance
// matrix, and historical scenarios for the tickers. Every requested
// ticker must survive alignment; missing data is an error rather than a
// silently shrunk universe.
func (s *Service) BuildRiskInputs(tickers []string, start, end time.Time) (*RiskInputs, error) {
	cacheKey := riskInputsKey(tickers, start, end)
	if s.cache != nil {
		var cached RiskInputs
		if err := s.cache.Get(cacheKey, &cached); err == nil {
			s.log.Debug().Str("key", cacheKey).Msg("Risk inputs cache hit")
			return &cached, nil
		}
	}

	frame, err := s.TotalReturns(tickers, start, end)
	if err != nil {
		return nil, err
	}

	if len(frame.Tickers) < len(tickers) {
		missing := diffTickers(tickers, frame.Tickers)
		return nil, fmt.Errorf("insufficient price history for: %s", strings.Join(missing, ", "))
	}

	scenarios := frame.Aligned()
	if len(scenarios) < 2 {
		return nil, fmt.Errorf("not enough aligned return observations (%d rows)", len(scenarios))
	}

	n := len(frame.Tickers)
	inputs := &RiskInputs{
		Tickers:         frame.Tickers,
		ExpectedReturns: make([]float64, n),
		Scenarios:       scenarios,
	}

	// Expected returns: EMA-smoothed daily returns, annualized
	for j := range frame.Tickers {
		series := make([]float64, len(scenarios))
		for t := range scenarios {
			series[t] = scenarios[t][j]
		}
		inputs.ExpectedReturns[j] = annualizedExpectedReturn(series)
	}

	// Covariance: gonum sample covariance over aligned rows, annualized
	data := mat.NewDense(len(scenarios), n, nil)
	for t, row := range scenarios {
		data.SetRow(t, row)
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, nil)

	inputs.Covariance = make([][]float64, n)
	for i := 0; i < n; i++ {
		inputs.Covariance[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			inputs.Covariance[i][j] = cov.At(i, j) * TradingDaysPerYear
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(cacheKey, inputs, riskInputsCacheTTL); err != nil {
			s.log.Warn().Err(err).Msg("Failed to cache risk inputs")
		}
	}

	return inputs, nil
}

// Asset returns metadata for a ticker from the securities table.
// Tickers absent from the table resolve to ErrAssetNotFound.
func (s *Service) Asset(ticker string) (Asset, error) {
	var a Asset
	err := s.universeDB.QueryRow(`
		SELECT ticker, name, sector, industry, country
		FROM securities WHERE ticker = ?
	`, ticker).Scan(&a.Ticker, &a.Name, &a.Sector, &a.Industry, &a.Country)
	if errors.Is(err, sql.ErrNoRows) {
		return Asset{}, fmt.Errorf("%s: %w", ticker, ErrAssetNotFound)
	}
	if err != nil {
		return Asset{}, fmt.Errorf("failed to query asset %s: %w", ticker, err)
	}
	return a, nil
}

// annualizedExpectedReturn smooths a daily return series with an EMA and
// annualizes the final smoothed value.
func annualizedExpectedReturn(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	period := emaPeriod
	if period > len(series) {
		period = len(series)
	}
	if period < 2 {
		return series[len(series)-1] * TradingDaysPerYear
	}
	smoothed := talib.Ema(series, period)
	last := smoothed[len(smoothed)-1]
	if math.IsNaN(last) {
		return 0
	}
	return last * TradingDaysPerYear
}

// riskInputsKey builds a deterministic cache key: sorted tickers plus the
// requested window, hashed for compactness.
func riskInputsKey(tickers []string, start, end time.Time) string {
	sorted := make([]string, len(tickers))
	copy(sorted, tickers)
	sort.Strings(sorted)

	keyData := fmt.Sprintf("%s|%s|%s",
		strings.Join(sorted, ","),
		start.UTC().Format("2006-01-02"),
		end.UTC().Format("2006-01-02"),
	)
	h := sha256.Sum256([]byte(keyData))
	return "risk_inputs:" + hex.EncodeToString(h[:16])
}

// diffTickers returns the tickers in want that are absent from have.
func diffTickers(want, have []string) []string {
	got := make(map[string]struct{}, len(have))
	for _, t := range have {
		got[t] = struct{}{}
	}
	var missing []string
	for _, t := range want {
		if _, ok := got[t]; !ok {
			missing = append(missing, t)
		}
	}
	return missing
}
