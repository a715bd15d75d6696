package dashboard

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"fundingheat/models"
)

// matrixState holds the most recent matrix and the outcome of the last
// refresh. It is safe for concurrent use.
type matrixState struct {
	mu        sync.RWMutex
	matrix    *models.HeatmapMatrix
	builtAt   time.Time
	lastRun   time.Time
	lastError string
}

func (s *matrixState) set(m *models.HeatmapMatrix, at time.Time) {
	s.mu.Lock()
	s.matrix = m
	s.builtAt = at
	s.mu.Unlock()
}

func (s *matrixState) recordRun(at time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = at
	s.lastError = ""
	if err != nil {
		s.lastError = err.Error()
	}
}

type stateSnapshot struct {
	Matrix    *models.HeatmapMatrix
	BuiltAt   time.Time
	LastRun   time.Time
	LastError string
}

func (s *matrixState) snapshot() stateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return stateSnapshot{Matrix: s.matrix, BuiltAt: s.builtAt, LastRun: s.lastRun, LastError: s.lastError}
}

// logRecord is one captured log entry as served by /api/logs.
type logRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// logStore keeps the most recent entries of the global logger. It is attached
// as a logrus hook; close stops capture since hooks cannot be removed.
type logStore struct {
	mu      sync.RWMutex
	items   []logRecord
	limit   int
	enabled atomic.Bool
}

func newLogStore(limit int) *logStore {
	if limit <= 0 {
		limit = 200
	}
	ls := &logStore{limit: limit}
	ls.enabled.Store(true)
	return ls
}

func (s *logStore) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel, logrus.InfoLevel}
}

func (s *logStore) Fire(entry *logrus.Entry) error {
	if !s.enabled.Load() {
		return nil
	}

	record := logRecord{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}
	if component, ok := entry.Data["component"].(string); ok {
		record.Component = component
	}
	if len(entry.Data) > 0 {
		record.Fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			if k == "component" {
				continue
			}
			switch val := v.(type) {
			case error:
				record.Fields[k] = val.Error()
			case fmt.Stringer:
				record.Fields[k] = val.String()
			default:
				record.Fields[k] = val
			}
		}
	}

	s.mu.Lock()
	s.items = append(s.items, record)
	if len(s.items) > s.limit {
		s.items = append([]logRecord(nil), s.items[len(s.items)-s.limit:]...)
	}
	s.mu.Unlock()
	return nil
}

func (s *logStore) snapshot() []logRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]logRecord, len(s.items))
	copy(out, s.items)
	return out
}

func (s *logStore) close() {
	s.enabled.Store(false)
}
