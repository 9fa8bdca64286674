// Package universe defines the investment universe: the ordered set of
// assets eligible for allocation in an optimization request.
package universe

import (
	"fmt"
)

// Universe is an ordered set of unique ticker identifiers. The order is
// stable and determines the index-to-ticker mapping used by the optimizer
// and result extraction.
type Universe struct {
	tickers []string
	index   map[string]int
}

// New builds a universe from tickers, deduplicating while preserving the
// first occurrence of each ticker.
func New(tickers []string) (*Universe, error) {
	if len(tickers) == 0 {
		return nil, fmt.Errorf("universe requires at least one ticker")
	}

	u := &Universe{
		tickers: make([]string, 0, len(tickers)),
		index:   make(map[string]int, len(tickers)),
	}
	for _, ticker := range tickers {
		if ticker == "" {
			return nil, fmt.Errorf("universe contains an empty ticker")
		}
		if _, seen := u.index[ticker]; seen {
			continue
		}
		u.index[ticker] = len(u.tickers)
		u.tickers = append(u.tickers, ticker)
	}
	return u, nil
}

// Size returns the number of assets in the universe.
func (u *Universe) Size() int {
	return len(u.tickers)
}

// Tickers returns a copy of the tickers in universe order.
func (u *Universe) Tickers() []string {
	out := make([]string, len(u.tickers))
	copy(out, u.tickers)
	return out
}

// Index returns the position of a ticker in the universe.
func (u *Universe) Index(ticker string) (int, bool) {
	i, ok := u.index[ticker]
	return i, ok
}

// Contains reports whether the ticker is part of the universe.
func (u *Universe) Contains(ticker string) bool {
	_, ok := u.index[ticker]
	return ok
}
