package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
)

// eventRecord is the parquet row layout of an Event.
type eventRecord struct {
	ID                 string    `parquet:"id"`
	TenantID           string    `parquet:"tenant_id"`
	Timestamp          time.Time `parquet:"timestamp"`
	Query              string    `parquet:"query"`
	StrategyClassified string    `parquet:"strategy_classified"`
	StrategyUsed       string    `parquet:"strategy_used"`
	EntryEntityIDs     []string  `parquet:"entry_entity_ids"`
	HopsReached        int       `parquet:"hops_reached"`
	NodesExplored      int       `parquet:"nodes_explored"`
	Truncated          bool      `parquet:"truncated"`
	Degraded           bool      `parquet:"degraded"`
	DegradedBackends   []string  `parquet:"degraded_backends"`
	LatencyMs          int64     `parquet:"latency_ms"`
	LatencyMsByPhase   string    `parquet:"latency_ms_by_phase"` // JSON object
	ItemCount          int       `parquet:"item_count"`
	TotalTokens        int       `parquet:"total_tokens"`
}

func toRecord(ev Event) eventRecord {
	phases, _ := json.Marshal(ev.LatencyMsByPhase)
	return eventRecord{
		ID:                 ev.ID,
		TenantID:           ev.TenantID,
		Timestamp:          ev.Timestamp.UTC(),
		Query:              ev.Query,
		StrategyClassified: string(ev.StrategyClassified),
		StrategyUsed:       string(ev.StrategyUsed),
		EntryEntityIDs:     ev.EntryEntityIDs,
		HopsReached:        ev.HopsReached,
		NodesExplored:      ev.NodesExplored,
		Truncated:          ev.Truncated,
		Degraded:           ev.Degraded,
		DegradedBackends:   ev.DegradedBackends,
		LatencyMs:          ev.LatencyMs,
		LatencyMsByPhase:   string(phases),
		ItemCount:          ev.ItemCount,
		TotalTokens:        ev.TotalTokens,
	}
}

// ParquetSink buffers events and writes each full batch to a new parquet
// file under its output directory. Close flushes the remainder.
type ParquetSink struct {
	outputDir string
	batchSize int

	mu     sync.Mutex
	buffer []eventRecord
	files  []string
}

var _ Sink = (*ParquetSink)(nil)

// NewParquetSink creates the output directory if needed. batchSize <= 0
// defaults to 100.
func NewParquetSink(outputDir string, batchSize int) (*ParquetSink, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ParquetSink{
		outputDir: outputDir,
		batchSize: batchSize,
		buffer:    make([]eventRecord, 0, batchSize),
	}, nil
}

func (s *ParquetSink) Emit(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(s.buffer, toRecord(ev))
	if len(s.buffer) >= s.batchSize {
		return s.flush()
	}
	return nil
}

// Flush writes buffered events now.
func (s *ParquetSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

// flush writes the buffer to a new file. Caller must hold the lock.
func (s *ParquetSink) flush() error {
	if len(s.buffer) == 0 {
		return nil
	}
	now := time.Now()
	name := fmt.Sprintf("retrieval_events_%s_%d.parquet", now.Format("20060102_150405"), now.UnixNano())
	path := filepath.Join(s.outputDir, name)
	if err := parquet.WriteFile(path, s.buffer); err != nil {
		return fmt.Errorf("failed to write audit parquet file: %w", err)
	}
	s.files = append(s.files, path)
	s.buffer = s.buffer[:0]
	return nil
}

// Files lists the parquet files written so far.
func (s *ParquetSink) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.files...)
}

func (s *ParquetSink) Close() error {
	return s.Flush()
}
