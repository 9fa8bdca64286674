package optimization

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// OrderedWeights is a ticker-to-weight mapping that serializes as a
// JSON object whose keys appear in insertion order. encoding/json sorts
// plain map keys alphabetically, which would lose the solved universe
// order the weights are reported in.
type OrderedWeights struct {
	tickers []string
	values  map[string]float64
}

// NewOrderedWeights builds the mapping from tickers in their solved
// order, keeping only tickers present in weights.
func NewOrderedWeights(tickers []string, weights map[string]float64) OrderedWeights {
	order := make([]string, 0, len(weights))
	values := make(map[string]float64, len(weights))
	for _, t := range tickers {
		if w, ok := weights[t]; ok {
			order = append(order, t)
			values[t] = w
		}
	}
	return OrderedWeights{tickers: order, values: values}
}

// Tickers returns the tickers in insertion order.
func (ow OrderedWeights) Tickers() []string {
	out := make([]string, len(ow.tickers))
	copy(out, ow.tickers)
	return out
}

// Get returns the weight for a ticker.
func (ow OrderedWeights) Get(ticker string) (float64, bool) {
	w, ok := ow.values[ticker]
	return w, ok
}

// Len reports the number of entries.
func (ow OrderedWeights) Len() int {
	return len(ow.tickers)
}

// Sum returns the total of all weights.
func (ow OrderedWeights) Sum() float64 {
	total := 0.0
	for _, w := range ow.values {
		total += w
	}
	return total
}

// MarshalJSON emits the entries as an object in insertion order.
func (ow OrderedWeights) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, t := range ow.tickers {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(ow.values[t])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object, preserving the key order it arrives in.
func (ow *OrderedWeights) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("weights: expected a JSON object")
	}

	ow.tickers = nil
	ow.values = make(map[string]float64)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		ticker, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("weights: expected a string key")
		}
		var w float64
		if err := dec.Decode(&w); err != nil {
			return fmt.Errorf("weights: value for %s: %w", ticker, err)
		}
		ow.tickers = append(ow.tickers, ticker)
		ow.values[ticker] = w
	}

	_, err = dec.Token()
	return err
}
