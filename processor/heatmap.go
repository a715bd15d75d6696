package processor

import (
	"fmt"
	"math"
	"sort"
	"time"

	"fundingheat/internal/metrics"
	"fundingheat/logger"
	"fundingheat/models"
)

// DefaultWindowDays is the trailing window used by the heatmap.
const DefaultWindowDays = 90

// HeatmapMatrixBuilder pivots combined observations into a dense
// symbol x time matrix of percentages.
type HeatmapMatrixBuilder struct {
	log *logger.Log
}

func NewHeatmapMatrixBuilder() *HeatmapMatrixBuilder {
	return &HeatmapMatrixBuilder{log: logger.GetLogger()}
}

// Build keeps observations within windowDays of the newest one, scales rates
// to percent and fills gaps forward then backward along each row. Symbols with
// no observation inside the window are reported in Dropped.
func (b *HeatmapMatrixBuilder) Build(dataset models.CombinedDataset, windowDays int) (*models.HeatmapMatrix, error) {
	if windowDays <= 0 {
		return nil, fmt.Errorf("window days must be greater than 0, got %d", windowDays)
	}
	end, ok := dataset.MaxObservedAt()
	if !ok {
		return nil, models.ErrEmptyDataset
	}
	cutoff := end.Add(-time.Duration(windowDays) * 24 * time.Hour)

	colSet := make(map[int64]struct{})
	for _, o := range dataset {
		if !o.ObservedAt.Before(cutoff) {
			colSet[o.ObservedAt.UnixNano()] = struct{}{}
		}
	}
	cols := make([]int64, 0, len(colSet))
	for ns := range colSet {
		cols = append(cols, ns)
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i] < cols[j] })
	colIndex := make(map[int64]int, len(cols))
	for j, ns := range cols {
		colIndex[ns] = j
	}

	symbols := dataset.Symbols()
	rowIndex := make(map[string]int, len(symbols))
	grid := make([][]float64, len(symbols))
	for i, sym := range symbols {
		rowIndex[sym] = i
		row := make([]float64, len(cols))
		for j := range row {
			row[j] = math.NaN()
		}
		grid[i] = row
	}

	// Later duplicates overwrite earlier ones; non-finite rates leave the cell empty.
	for _, o := range dataset {
		if o.ObservedAt.Before(cutoff) {
			continue
		}
		v := o.FundingRate * 100
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		grid[rowIndex[o.Symbol]][colIndex[o.ObservedAt.UnixNano()]] = v
	}

	m := &models.HeatmapMatrix{
		Times:       make([]time.Time, len(cols)),
		WindowStart: cutoff.UTC(),
		WindowEnd:   end.UTC(),
	}
	for j, ns := range cols {
		m.Times[j] = time.Unix(0, ns).UTC()
	}
	for i, sym := range symbols {
		row := grid[i]
		if !fillRow(row) {
			m.Dropped = append(m.Dropped, sym)
			continue
		}
		m.Symbols = append(m.Symbols, sym)
		m.Values = append(m.Values, row)
	}

	if len(m.Dropped) > 0 {
		b.log.WithComponent("heatmap").WithFields(logger.Fields{
			"dropped":     m.Dropped,
			"window_days": windowDays,
		}).Warn("symbols without observations in window were dropped")
	}
	if len(m.Symbols) == 0 {
		return nil, fmt.Errorf("no observations inside %d-day window: %w", windowDays, models.ErrEmptyDataset)
	}

	m.Min, m.Max = math.Inf(1), math.Inf(-1)
	for _, row := range m.Values {
		for _, v := range row {
			m.Min = math.Min(m.Min, v)
			m.Max = math.Max(m.Max, v)
		}
	}

	metrics.SetMatrixSize(m.Rows(), m.Cols())
	return m, nil
}

// fillRow forward-fills then back-fills NaN cells in place. It reports false
// when the row has no value at all.
func fillRow(row []float64) bool {
	last, seen := math.NaN(), false
	for j, v := range row {
		if math.IsNaN(v) {
			if seen {
				row[j] = last
			}
			continue
		}
		last, seen = v, true
	}
	if !seen {
		return false
	}
	next := math.NaN()
	for j := len(row) - 1; j >= 0; j-- {
		if math.IsNaN(row[j]) {
			row[j] = next
			continue
		}
		next = row[j]
	}
	return true
}
