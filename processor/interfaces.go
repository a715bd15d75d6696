package processor

import (
	"context"
	"time"

	"fundingheat/models"
)

// RankingSource returns every listed symbol with its 24h quote volume.
type RankingSource interface {
	Ranking(ctx context.Context) ([]models.RankedSymbol, error)
}

// RateSource returns up to limit funding-rate observations for symbol. An
// empty slice with a nil error means the source has no data for it.
type RateSource interface {
	FundingHistory(ctx context.Context, symbol string, limit int) ([]models.FundingRateObservation, error)
}

// SnapshotStore persists the ranked symbol snapshot. Load returns (nil, nil)
// when no snapshot has been saved yet.
type SnapshotStore interface {
	Load(ctx context.Context) (*models.RankedSymbolSnapshot, error)
	Save(ctx context.Context, snapshot *models.RankedSymbolSnapshot) error
}

// DatasetRepository holds one dataset per symbol.
type DatasetRepository interface {
	List(ctx context.Context) ([]string, error)
	Read(ctx context.Context, symbol string) (models.SymbolDataset, error)
	Replace(ctx context.Context, dataset models.SymbolDataset) error
}

// SymbolLister yields the symbols used to bootstrap an empty repository.
type SymbolLister interface {
	GetTopSymbols(ctx context.Context, n int, maxAge time.Duration) ([]string, error)
}

// DatasetLoader produces the combined dataset for one pipeline run.
type DatasetLoader interface {
	Load(ctx context.Context) (*LoadResult, error)
}

// Renderer consumes a finished matrix.
type Renderer interface {
	Render(ctx context.Context, matrix *models.HeatmapMatrix) error
}

// DatasetExporter receives the raw observations of a run, restricted to
// those at or after since.
type DatasetExporter interface {
	Export(ctx context.Context, runID string, dataset models.CombinedDataset, since time.Time) error
}
