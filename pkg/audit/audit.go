// Package audit records one event per retrieval: what the query was
// classified as, what actually served it, how deep traversal went and how
// long each phase took.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soundprediction/strata/pkg/types"
)

// Event is the audit record of a single retrieval.
type Event struct {
	ID                 string           `json:"id"`
	TenantID           string           `json:"tenant_id"`
	Timestamp          time.Time        `json:"timestamp"`
	Query              string           `json:"query"`
	StrategyClassified types.Strategy   `json:"strategy_classified"`
	StrategyUsed       types.Strategy   `json:"strategy_used"`
	EntryEntityIDs     []string         `json:"entry_entity_ids,omitempty"`
	HopsReached        int              `json:"hops_reached"`
	NodesExplored      int              `json:"nodes_explored"`
	Truncated          bool             `json:"truncated"`
	Degraded           bool             `json:"degraded"`
	DegradedBackends   []string         `json:"degraded_backends,omitempty"`
	LatencyMs          int64            `json:"latency_ms"`
	LatencyMsByPhase   map[string]int64 `json:"latency_ms_by_phase,omitempty"`
	ItemCount          int              `json:"item_count"`
	TotalTokens        int              `json:"total_tokens"`
}

// NewEvent builds the event for a finished retrieval. rc may be nil when
// assembly never ran.
func NewEvent(tenantID, query string, meta *types.RetrievalMetadata, rc *types.RetrievalContext) Event {
	ev := Event{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Timestamp: time.Now().UTC(),
		Query:     query,
	}
	if meta != nil {
		ev.StrategyClassified = meta.ClassifiedStrategy
		ev.StrategyUsed = meta.StrategyUsed
		ev.EntryEntityIDs = append([]string(nil), meta.EntryEntityIDs...)
		ev.HopsReached = meta.HopsReached
		ev.NodesExplored = meta.NodesExplored
		ev.Truncated = meta.Truncated
		ev.Degraded = meta.Degraded
		ev.DegradedBackends = append([]string(nil), meta.DegradedBackends...)
		ev.LatencyMs = meta.LatencyMsByPhase[types.PhaseTotal]
		if len(meta.LatencyMsByPhase) > 0 {
			ev.LatencyMsByPhase = make(map[string]int64, len(meta.LatencyMsByPhase))
			for k, v := range meta.LatencyMsByPhase {
				ev.LatencyMsByPhase[k] = v
			}
		}
	}
	if rc != nil {
		ev.ItemCount = len(rc.Items)
		ev.TotalTokens = rc.TotalTokens
	}
	return ev
}

// Sink receives retrieval events. Callers log emission errors and never fail
// the query on them.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
	Close() error
}

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

var _ Sink = (*LogSink)(nil)

// NewLogSink creates a LogSink logging at Info.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger, level: slog.LevelInfo}
}

func (s *LogSink) Emit(ctx context.Context, ev Event) error {
	phases := make([]string, 0, len(ev.LatencyMsByPhase))
	for phase := range ev.LatencyMsByPhase {
		phases = append(phases, phase)
	}
	sort.Strings(phases)
	latency := make([]any, 0, len(phases))
	for _, phase := range phases {
		latency = append(latency, slog.Int64(phase, ev.LatencyMsByPhase[phase]))
	}

	s.logger.Log(ctx, s.level, "retrieval",
		"event_id", ev.ID,
		"tenant_id", ev.TenantID,
		"strategy_classified", ev.StrategyClassified,
		"strategy_used", ev.StrategyUsed,
		"entry_entities", len(ev.EntryEntityIDs),
		"hops_reached", ev.HopsReached,
		"nodes_explored", ev.NodesExplored,
		"truncated", ev.Truncated,
		"degraded", ev.Degraded,
		"items", ev.ItemCount,
		"tokens", ev.TotalTokens,
		"latency_ms", ev.LatencyMs,
		slog.Group("phases_ms", latency...),
	)
	return nil
}

func (s *LogSink) Close() error { return nil }

// MultiSink fans an event out to several sinks. Every sink is attempted;
// the errors are joined.
type MultiSink []Sink

var _ Sink = MultiSink(nil)

func (m MultiSink) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink keeps events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
	// Err, when set, is returned from every Emit after recording.
	Err error
}

var _ Sink = (*MemorySink)(nil)

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Emit(ctx context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.Err
}

// Events returns a copy of the recorded events.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

func (m *MemorySink) Close() error { return nil }

// NopSink discards events.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) error { return nil }
func (NopSink) Close() error                      { return nil }
