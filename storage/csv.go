package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"fundingheat/models"
)

const csvExt = ".csv"

var csvHeader = []string{"symbol", "calc_time", "funding_rate"}

// CSVRepository stores one <SYMBOL>.csv file per symbol under a directory.
type CSVRepository struct {
	dir string
}

func NewCSVRepository(dir string) *CSVRepository {
	return &CSVRepository{dir: dir}
}

// Path returns the file backing symbol.
func (r *CSVRepository) Path(symbol string) string {
	return filepath.Join(r.dir, symbol+csvExt)
}

// List returns the symbols derived from the dataset file names. Only the
// exact .csv extension written by Replace is matched, so every listed symbol
// resolves through Path. A missing directory is an empty repository.
func (r *CSVRepository) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dataset directory %s: %w", r.dir, err)
	}
	var symbols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != csvExt {
			continue
		}
		symbols = append(symbols, strings.TrimSuffix(name, csvExt))
	}
	sort.Strings(symbols)
	return symbols, nil
}

// Read parses the file. The symbol always comes from the file name.
func (r *CSVRepository) Read(ctx context.Context, symbol string) (models.SymbolDataset, error) {
	path := r.Path(symbol)
	f, err := os.Open(path)
	if err != nil {
		return models.SymbolDataset{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	rd := csv.NewReader(f)
	rd.FieldsPerRecord = len(csvHeader)
	records, err := rd.ReadAll()
	if err != nil {
		return models.SymbolDataset{}, fmt.Errorf("parse %s: %w", path, err)
	}

	ds := models.SymbolDataset{Symbol: symbol}
	for i, rec := range records {
		if i == 0 && rec[0] == csvHeader[0] {
			continue
		}
		at, err := time.Parse(time.RFC3339Nano, rec[1])
		if err != nil {
			return models.SymbolDataset{}, fmt.Errorf("%s line %d: calc_time: %w", path, i+1, err)
		}
		rate, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return models.SymbolDataset{}, fmt.Errorf("%s line %d: funding_rate: %w", path, i+1, err)
		}
		ds.Observations = append(ds.Observations, models.FundingRateObservation{
			Symbol:      symbol,
			ObservedAt:  at,
			FundingRate: rate,
		})
	}
	return ds, nil
}

// Replace overwrites the symbol's file with exactly the given rows.
func (r *CSVRepository) Replace(ctx context.Context, ds models.SymbolDataset) error {
	if ds.Symbol == "" {
		return fmt.Errorf("dataset without symbol")
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, o := range ds.Observations {
		rec := []string{
			ds.Symbol,
			o.ObservedAt.UTC().Format(time.RFC3339Nano),
			strconv.FormatFloat(o.FundingRate, 'g', -1, 64),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode %s: %w", ds.Symbol, err)
	}
	return WriteFileAtomic(r.Path(ds.Symbol), buf.Bytes())
}
