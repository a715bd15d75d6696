package storage

import (
	"encoding/json"
	"fmt"

	"fundingheat/models"
)

func encodeSnapshot(snap *models.RankedSymbolSnapshot) ([]byte, error) {
	if snap == nil {
		return nil, fmt.Errorf("nil snapshot")
	}
	out := *snap
	if out.Version == 0 {
		out.Version = models.SnapshotVersion
	}
	out.FetchedAt = out.FetchedAt.UTC()
	if out.Symbols == nil {
		out.Symbols = []string{}
	}
	return json.MarshalIndent(&out, "", "  ")
}

func decodeSnapshot(data []byte) (*models.RankedSymbolSnapshot, error) {
	var snap models.RankedSymbolSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != models.SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	if snap.FetchedAt.IsZero() {
		return nil, fmt.Errorf("snapshot has no fetched_at")
	}
	return &snap, nil
}
