package models

import "time"

// HeatmapMatrix is a dense symbol x time matrix of funding rates in percent.
// Every row has len(Times) finite cells.
type HeatmapMatrix struct {
	Symbols     []string    `json:"symbols"`
	Times       []time.Time `json:"times"`
	Values      [][]float64 `json:"values"`
	Min         float64     `json:"min"`
	Max         float64     `json:"max"`
	Dropped     []string    `json:"dropped,omitempty"`
	WindowStart time.Time   `json:"window_start"`
	WindowEnd   time.Time   `json:"window_end"`
}

// Rows returns the number of symbols in the matrix.
func (m *HeatmapMatrix) Rows() int { return len(m.Symbols) }

// Cols returns the number of timestamps in the matrix.
func (m *HeatmapMatrix) Cols() int { return len(m.Times) }

// Bounds returns the global min and max cell values.
func (m *HeatmapMatrix) Bounds() (min, max float64) { return m.Min, m.Max }

// Row returns the cells of one symbol.
func (m *HeatmapMatrix) Row(symbol string) ([]float64, bool) {
	i, ok := m.rowIndex(symbol)
	if !ok {
		return nil, false
	}
	return m.Values[i], true
}

// Value returns the cell at (symbol, t).
func (m *HeatmapMatrix) Value(symbol string, t time.Time) (float64, bool) {
	row, ok := m.Row(symbol)
	if !ok {
		return 0, false
	}
	for j, ts := range m.Times {
		if ts.Equal(t) {
			return row[j], true
		}
	}
	return 0, false
}

func (m *HeatmapMatrix) rowIndex(symbol string) (int, bool) {
	for i, s := range m.Symbols {
		if s == symbol {
			return i, true
		}
	}
	return 0, false
}
