// Package market implements the market-data collaborator used by the
// optimizer: historical prices, return series, and asset metadata.
package market

import "errors"

// ErrAssetNotFound is returned when a ticker has no row in the
// securities table.
var ErrAssetNotFound = errors.New("asset not found")

// DailyPrice represents a daily closing price point
type DailyPrice struct {
	Date  string  `json:"date"` // YYYY-MM-DD
	Close float64 `json:"close"`
}

// Asset describes a security in the universe, optionally annotated with
// its weight inside a solved portfolio.
type Asset struct {
	Ticker      string  `json:"ticker"`
	Name        string  `json:"name"`
	Sector      string  `json:"sector"`
	Industry    string  `json:"industry"`
	Country     string  `json:"country"`
	WeightInPtf float64 `json:"weight_in_ptf"`
}

// ReturnsFrame holds aligned simple-return series for a set of tickers.
// Rows are dates in ascending order, columns follow Tickers. Missing
// observations are NaN.
type ReturnsFrame struct {
	Dates   []string
	Tickers []string
	Values  [][]float64
}
