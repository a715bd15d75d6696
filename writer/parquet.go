package writer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "fundingheat/config"
	"fundingheat/logger"
	"fundingheat/models"
	"fundingheat/storage"
)

// FundingRecord is one parquet row of the export.
type FundingRecord struct {
	RunID          string  `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Exchange       string  `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol         string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	CalcTime       int64   `parquet:"name=calc_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	FundingRate    float64 `parquet:"name=funding_rate, type=DOUBLE"`
	FundingRatePct float64 `parquet:"name=funding_rate_pct, type=DOUBLE"`
}

// memoryFileWriter implements source.ParquetFile over a byte buffer.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) { return mfw, nil }
func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error)   { return mfw, nil }

// Seek only reports the write position; the parquet writer never rewinds.
func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error)  { return mfw.buffer.Read(b) }
func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }
func (mfw *memoryFileWriter) Close() error                { return nil }
func (mfw *memoryFileWriter) Bytes() []byte               { return mfw.buffer.Bytes() }

// ParquetExporter writes the windowed observations of each run as a parquet
// file, locally and/or to object storage.
type ParquetExporter struct {
	cfg      appconfig.ParquetConfig
	exchange string
	version  string
	uploader Uploader
	now      func() time.Time
	log      *logger.Log
}

// NewParquetExporter returns an exporter; uploader may be nil when uploads are
// disabled.
func NewParquetExporter(cfg appconfig.ParquetConfig, exchange, version string, uploader Uploader) *ParquetExporter {
	return &ParquetExporter{
		cfg:      cfg,
		exchange: exchange,
		version:  version,
		uploader: uploader,
		now:      time.Now,
		log:      logger.GetLogger(),
	}
}

func (e *ParquetExporter) Export(ctx context.Context, runID string, dataset models.CombinedDataset, since time.Time) error {
	records := make([]FundingRecord, 0, len(dataset))
	for _, o := range dataset {
		if o.ObservedAt.Before(since) {
			continue
		}
		records = append(records, FundingRecord{
			RunID:          runID,
			Exchange:       e.exchange,
			Symbol:         o.Symbol,
			CalcTime:       o.ObservedAt.UnixMilli(),
			FundingRate:    o.FundingRate,
			FundingRatePct: o.FundingRate * 100,
		})
	}
	if len(records) == 0 {
		e.log.WithComponent("parquet_exporter").Warn("nothing to export")
		return nil
	}

	data, err := e.encode(records)
	if err != nil {
		return err
	}

	name := e.objectName(runID)
	if e.cfg.Path != "" {
		local := filepath.Join(e.cfg.Path, filepath.FromSlash(name))
		if err := storage.WriteFileAtomic(local, data); err != nil {
			return fmt.Errorf("write parquet %s: %w", local, err)
		}
		e.log.WithComponent("parquet_exporter").WithFields(logger.Fields{
			"path": local,
			"rows": len(records),
		}).Info("parquet export written")
	}
	if e.cfg.Upload && e.uploader != nil {
		meta := map[string]string{
			"content-type":        "parquet",
			"compression":         e.compression(),
			"fundingheat-version": e.version,
			"run-id":              runID,
		}
		if err := e.uploader.Upload(ctx, name, data, meta); err != nil {
			return err
		}
	}
	return nil
}

// objectName is exchange=<x>/date=<yyyy-mm-dd>/funding_<ts>_<run>.parquet.
func (e *ParquetExporter) objectName(runID string) string {
	now := e.now().UTC()
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	return strings.Join([]string{
		"exchange=" + e.exchange,
		"date=" + now.Format("2006-01-02"),
		fmt.Sprintf("funding_%s_%s.parquet", now.Format("20060102150405"), short),
	}, "/")
}

func (e *ParquetExporter) compression() string {
	if e.cfg.Compression == "" {
		return "snappy"
	}
	return strings.ToLower(e.cfg.Compression)
}

func (e *ParquetExporter) encode(records []FundingRecord) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := pqwriter.NewParquetWriter(fw, new(FundingRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch e.compression() {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, rec := range records {
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}
