package market

import (
	"fmt"
	"math"
	"sort"
)

// RequiredPctObs is the minimum share of non-missing observations a
// ticker's return series must have to survive alignment.
const RequiredPctObs = 0.95

// buildReturnsFrame aligns per-ticker price series on the union of their
// dates and computes simple returns. Tickers with fewer than
// requiredPctObs non-missing returns are dropped.
func buildReturnsFrame(closes map[string][]DailyPrice, tickers []string, requiredPctObs float64) (*ReturnsFrame, error) {
	// Union of all observation dates
	dateSet := make(map[string]struct{})
	priceByDate := make(map[string]map[string]float64, len(tickers))
	for _, ticker := range tickers {
		byDate := make(map[string]float64, len(closes[ticker]))
		for _, p := range closes[ticker] {
			byDate[p.Date] = p.Close
			dateSet[p.Date] = struct{}{}
		}
		priceByDate[ticker] = byDate
	}

	dates := make([]string, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	if len(dates) < 2 {
		return nil, fmt.Errorf("not enough price observations to compute returns (%d dates)", len(dates))
	}

	// Simple returns; a return exists only when both consecutive closes do
	numRows := len(dates) - 1
	values := make([][]float64, numRows)
	for t := 0; t < numRows; t++ {
		row := make([]float64, len(tickers))
		for j, ticker := range tickers {
			prev, okPrev := priceByDate[ticker][dates[t]]
			curr, okCurr := priceByDate[ticker][dates[t+1]]
			if okPrev && okCurr && prev != 0 {
				row[j] = curr/prev - 1
			} else {
				row[j] = math.NaN()
			}
		}
		values[t] = row
	}

	// Drop tickers without enough observations
	minObs := int(float64(numRows) * requiredPctObs)
	kept := make([]int, 0, len(tickers))
	for j := range tickers {
		obs := 0
		for t := 0; t < numRows; t++ {
			if !math.IsNaN(values[t][j]) {
				obs++
			}
		}
		if obs >= minObs {
			kept = append(kept, j)
		}
	}

	frame := &ReturnsFrame{
		Dates:   dates[1:],
		Tickers: make([]string, len(kept)),
		Values:  make([][]float64, numRows),
	}
	for i, j := range kept {
		frame.Tickers[i] = tickers[j]
	}
	for t := 0; t < numRows; t++ {
		row := make([]float64, len(kept))
		for i, j := range kept {
			row[i] = values[t][j]
		}
		frame.Values[t] = row
	}

	return frame, nil
}

// Column returns the return series for a ticker, including NaN gaps.
func (f *ReturnsFrame) Column(ticker string) ([]float64, bool) {
	for j, t := range f.Tickers {
		if t == ticker {
			col := make([]float64, len(f.Values))
			for i := range f.Values {
				col[i] = f.Values[i][j]
			}
			return col, true
		}
	}
	return nil, false
}

// Aligned returns the rows where every ticker has an observation.
func (f *ReturnsFrame) Aligned() [][]float64 {
	var rows [][]float64
	for _, row := range f.Values {
		complete := true
		for _, v := range row {
			if math.IsNaN(v) {
				complete = false
				break
			}
		}
		if complete {
			out := make([]float64, len(row))
			copy(out, row)
			rows = append(rows, out)
		}
	}
	return rows
}
