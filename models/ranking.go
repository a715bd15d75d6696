package models

import "time"

// SnapshotVersion is the current on-disk format of RankedSymbolSnapshot.
const SnapshotVersion = 1

// RankedSymbol is one entry of a volume ranking reply.
type RankedSymbol struct {
	Symbol      string  `json:"symbol"`
	QuoteVolume float64 `json:"quote_volume"`
}

// RankedSymbolSnapshot is the persisted top-volume symbol list. Symbols are in
// descending volume order with excluded pairs already removed.
type RankedSymbolSnapshot struct {
	Version   int       `json:"version"`
	FetchedAt time.Time `json:"fetched_at"`
	Symbols   []string  `json:"symbols"`
}

// Age reports how old the snapshot is relative to now.
func (s *RankedSymbolSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}

// Top returns at most n symbols from the head of the snapshot.
func (s *RankedSymbolSnapshot) Top(n int) []string {
	if n < 0 || n > len(s.Symbols) {
		n = len(s.Symbols)
	}
	out := make([]string, n)
	copy(out, s.Symbols[:n])
	return out
}
