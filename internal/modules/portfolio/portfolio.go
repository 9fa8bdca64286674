// Package portfolio holds the solved portfolio result: weights aligned
// to universe order, with optional market-data binding for asset
// metadata and performance history.
package portfolio

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aristath/optifolio/internal/modules/market"
)

// DefaultRoundDecimals is the weight rounding applied when callers do
// not specify a precision.
const DefaultRoundDecimals = 5

// ErrNoMarketData is returned by operations that need asset metadata or
// price history before a market data source has been attached.
var ErrNoMarketData = errors.New("portfolio has no market data attached")

// ErrNoPositions is returned by analytics over a portfolio whose
// rounded weights are all zero.
var ErrNoPositions = errors.New("portfolio holds no positions")

// MarketData resolves tickers to metadata and historical returns. The
// binding is a pure association; attaching it triggers no lookups.
type MarketData interface {
	Asset(ticker string) (market.Asset, error)
	TotalReturns(tickers []string, start, end time.Time) (*market.ReturnsFrame, error)
}

// Portfolio is an immutable weight allocation over a universe. Weights
// are kept at full precision; rounding happens at read time.
type Portfolio struct {
	tickers []string // universe order
	weights map[string]float64
	values  map[string]float64 // objective name to weighted value
	created time.Time
	market  MarketData
}

// New creates a portfolio from tickers in universe order and the
// matching weight vector.
func New(tickers []string, weights []float64) (*Portfolio, error) {
	if len(tickers) != len(weights) {
		return nil, fmt.Errorf("got %d tickers but %d weights", len(tickers), len(weights))
	}

	byTicker := make(map[string]float64, len(tickers))
	order := make([]string, len(tickers))
	for i, t := range tickers {
		order[i] = t
		byTicker[t] = weights[i]
	}

	return &Portfolio{tickers: order, weights: byTicker, created: time.Now()}, nil
}

// FromWeights creates a portfolio directly from a ticker-keyed map. The
// iteration order of tickers fixes the universe order.
func FromWeights(tickers []string, weights map[string]float64) *Portfolio {
	order := make([]string, len(tickers))
	copy(order, tickers)
	byTicker := make(map[string]float64, len(tickers))
	for _, t := range order {
		byTicker[t] = weights[t]
	}
	return &Portfolio{tickers: order, weights: byTicker, created: time.Now()}
}

// CreatedAt reports when the portfolio object was built.
func (p *Portfolio) CreatedAt() time.Time {
	return p.created
}

// SetObjectiveValues records the objective term values evaluated at the
// solved weights, keyed by objective name.
func (p *Portfolio) SetObjectiveValues(values map[string]float64) {
	p.values = values
}

// ObjectiveValues returns a copy of the recorded objective values.
func (p *Portfolio) ObjectiveValues() map[string]float64 {
	out := make(map[string]float64, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// Weight returns the full-precision weight for a ticker, zero when the
// ticker is not part of the universe.
func (p *Portfolio) Weight(ticker string) float64 {
	return p.weights[ticker]
}

// Weights returns a copy of the full-precision weight map.
func (p *Portfolio) Weights() map[string]float64 {
	out := make(map[string]float64, len(p.weights))
	for t, w := range p.weights {
		out[t] = w
	}
	return out
}

// NonZeroWeights rounds every weight to roundTo decimals and keeps the
// entries still non-zero afterwards. Rounding happens before filtering,
// so a tiny positive weight that rounds to zero is dropped. A roundTo
// of zero disables rounding and drops exact zeros only; negative values
// fall back to DefaultRoundDecimals.
func (p *Portfolio) NonZeroWeights(roundTo int) map[string]float64 {
	if roundTo < 0 {
		roundTo = DefaultRoundDecimals
	}

	out := make(map[string]float64)
	if roundTo == 0 {
		for _, t := range p.tickers {
			if w := p.weights[t]; w != 0 {
				out[t] = w
			}
		}
		return out
	}

	scale := math.Pow(10, float64(roundTo))
	for _, t := range p.tickers {
		w := math.Round(p.weights[t]*scale) / scale
		if w != 0 {
			out[t] = w
		}
	}
	return out
}

// Tickers returns the universe tickers in their original order. With
// onlyNonZero set, tickers whose rounded weight is zero are skipped.
func (p *Portfolio) Tickers(onlyNonZero bool) []string {
	if !onlyNonZero {
		out := make([]string, len(p.tickers))
		copy(out, p.tickers)
		return out
	}

	held := p.NonZeroWeights(DefaultRoundDecimals)
	out := make([]string, 0, len(held))
	for _, t := range p.tickers {
		if _, ok := held[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// SetMarketData attaches a market data source. Pure association; the
// source is only consulted when Assets or History is called.
func (p *Portfolio) SetMarketData(md MarketData) {
	p.market = md
}

// Assets resolves metadata for every held (non-zero) position, in
// universe order, with the portfolio weight filled in.
func (p *Portfolio) Assets() ([]market.Asset, error) {
	if p.market == nil {
		return nil, ErrNoMarketData
	}

	held := p.NonZeroWeights(DefaultRoundDecimals)
	assets := make([]market.Asset, 0, len(held))
	for _, t := range p.Tickers(true) {
		asset, err := p.market.Asset(t)
		if err != nil {
			return nil, fmt.Errorf("resolving asset %s: %w", t, err)
		}
		asset.WeightInPtf = held[t]
		assets = append(assets, asset)
	}
	return assets, nil
}

// Holding is one held position.
type Holding struct {
	Ticker string  `json:"ticker"`
	Weight float64 `json:"weight"`
}

// Holdings returns the non-zero positions sorted by weight descending,
// ties broken by universe order.
func (p *Portfolio) Holdings() []Holding {
	held := p.NonZeroWeights(DefaultRoundDecimals)
	out := make([]Holding, 0, len(held))
	for _, t := range p.tickers {
		if w, ok := held[t]; ok {
			out = append(out, Holding{Ticker: t, Weight: w})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out
}

// HistoryPoint is one day of the portfolio wealth index.
type HistoryPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// History computes the growth of one unit of wealth invested at the
// allocation: 1 plus the cumulative sum of weighted simple returns over
// the window, one point per trading day.
func (p *Portfolio) History(start, end time.Time) ([]HistoryPoint, error) {
	if p.market == nil {
		return nil, ErrNoMarketData
	}

	held := p.Tickers(true)
	if len(held) == 0 {
		return nil, ErrNoPositions
	}

	frame, err := p.market.TotalReturns(held, start, end)
	if err != nil {
		return nil, fmt.Errorf("loading returns: %w", err)
	}

	weights := p.NonZeroWeights(DefaultRoundDecimals)
	points := make([]HistoryPoint, 0, len(frame.Dates))
	wealth := 1.0
	for i, date := range frame.Dates {
		dayReturn := 0.0
		for j, t := range frame.Tickers {
			r := frame.Values[i][j]
			if math.IsNaN(r) {
				continue
			}
			dayReturn += weights[t] * r
		}
		wealth += dayReturn
		points = append(points, HistoryPoint{Date: date, Value: wealth})
	}
	return points, nil
}
