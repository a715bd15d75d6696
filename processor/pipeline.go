package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fundingheat/logger"
	"fundingheat/models"
)

// Pipeline runs one load, build and render cycle.
type Pipeline struct {
	store      DatasetLoader
	builder    *HeatmapMatrixBuilder
	windowDays int
	renderers  []Renderer
	exporters  []DatasetExporter
	log        *logger.Log
}

func NewPipeline(store DatasetLoader, windowDays int, renderers []Renderer, exporters []DatasetExporter) *Pipeline {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return &Pipeline{
		store:      store,
		builder:    NewHeatmapMatrixBuilder(),
		windowDays: windowDays,
		renderers:  renderers,
		exporters:  exporters,
		log:        logger.GetLogger(),
	}
}

// Run returns the built matrix. Renderer and exporter failures do not stop the
// others; they are joined into the returned error alongside the matrix.
func (p *Pipeline) Run(ctx context.Context) (*models.HeatmapMatrix, error) {
	start := time.Now()

	res, err := p.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load funding rates: %w", err)
	}
	log := p.log.WithComponent("pipeline").WithRun(res.RunID)

	matrix, err := p.builder.Build(res.Dataset, p.windowDays)
	if err != nil {
		return nil, fmt.Errorf("build heatmap: %w", err)
	}
	log.LogMetric("pipeline", "heatmap_cells", matrix.Rows()*matrix.Cols(), "gauge", nil)

	var errs []error
	for _, r := range p.renderers {
		if err := r.Render(ctx, matrix); err != nil {
			log.WithError(err).Error("renderer failed")
			errs = append(errs, fmt.Errorf("render: %w", err))
		}
	}
	for _, e := range p.exporters {
		if err := e.Export(ctx, res.RunID, res.Dataset, matrix.WindowStart); err != nil {
			log.WithError(err).Error("export failed")
			errs = append(errs, fmt.Errorf("export: %w", err))
		}
	}

	logger.LogPerformanceEntry(log, "pipeline", "run", time.Since(start), logger.Fields{
		"symbols": matrix.Rows(),
		"columns": matrix.Cols(),
		"dropped": len(matrix.Dropped),
	})
	return matrix, errors.Join(errs...)
}
