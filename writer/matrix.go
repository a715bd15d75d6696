package writer

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"fundingheat/logger"
	"fundingheat/models"
	"fundingheat/storage"
)

// MatrixCSVWriter renders the dense matrix as CSV: a symbol column followed by
// one column per timestamp, then min/max comment lines for the colour scale.
type MatrixCSVWriter struct {
	path string
	log  *logger.Log
}

func NewMatrixCSVWriter(path string) *MatrixCSVWriter {
	return &MatrixCSVWriter{path: path, log: logger.GetLogger()}
}

func (w *MatrixCSVWriter) Render(ctx context.Context, m *models.HeatmapMatrix) error {
	data, err := EncodeMatrixCSV(m)
	if err != nil {
		return err
	}
	if err := storage.WriteFileAtomic(w.path, data); err != nil {
		return err
	}
	w.log.WithComponent("matrix_writer").WithFields(logger.Fields{
		"path":    w.path,
		"rows":    m.Rows(),
		"columns": m.Cols(),
	}).Info("heatmap matrix written")
	return nil
}

// EncodeMatrixCSV returns the CSV form of m.
func EncodeMatrixCSV(m *models.HeatmapMatrix) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("nil matrix")
	}
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	header := make([]string, 0, m.Cols()+1)
	header = append(header, "symbol")
	for _, t := range m.Times {
		header = append(header, t.UTC().Format(time.RFC3339))
	}
	if err := cw.Write(header); err != nil {
		return nil, err
	}
	for i, sym := range m.Symbols {
		rec := make([]string, 0, m.Cols()+1)
		rec = append(rec, sym)
		for _, v := range m.Values[i] {
			rec = append(rec, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := cw.Write(rec); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}

	lo, hi := m.Bounds()
	fmt.Fprintf(&buf, "# min=%.2f%%\n# max=%.2f%%\n", lo, hi)
	return buf.Bytes(), nil
}
