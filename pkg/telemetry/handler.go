// Package telemetry records error-level log lines to Parquet files so failed
// queries and ingestion runs can be analysed offline next to the audit trail.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"github.com/soundprediction/strata/pkg/types"
)

// LogRecord represents a single log entry for Parquet storage
type LogRecord struct {
	ID            string    `parquet:"id"`
	Timestamp     time.Time `parquet:"timestamp"`
	Level         string    `parquet:"level"`
	Message       string    `parquet:"message"`
	TenantID      string    `parquet:"tenant_id"`
	UserID        string    `parquet:"user_id"`
	SessionID     string    `parquet:"session_id"`
	RequestSource string    `parquet:"request_source"`
	SourceFile    string    `parquet:"source_file"`
	LineNumber    int       `parquet:"line_number"`
	Attributes    string    `parquet:"attributes"` // JSON string
}

// recordBuffer is shared by a handler and every handler derived from it.
type recordBuffer struct {
	mu        sync.Mutex
	outputDir string
	batchSize int
	records   []LogRecord
}

// ParquetHandler is a slog.Handler that passes every record to next and
// buffers records at or above minLevel for Parquet output.
type ParquetHandler struct {
	next     slog.Handler
	minLevel slog.Level
	attrs    []slog.Attr
	buf      *recordBuffer
}

// NewParquetHandler creates a handler that records error-level lines under outputDir.
func NewParquetHandler(next slog.Handler, outputDir string, batchSize int) (*ParquetHandler, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ParquetHandler{
		next:     next,
		minLevel: slog.LevelError,
		buf: &recordBuffer{
			outputDir: outputDir,
			batchSize: batchSize,
			records:   make([]LogRecord, 0, batchSize),
		},
	}, nil
}

// Enabled implements slog.Handler
func (h *ParquetHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler
func (h *ParquetHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.next.Handle(ctx, r); err != nil {
		return err
	}
	if r.Level < h.minLevel {
		return nil
	}

	attrs := make(map[string]interface{}, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		attrsJSON = []byte(fmt.Sprintf(`{"marshal_error":%q}`, err.Error()))
	}

	record := LogRecord{
		ID:            uuid.New().String(),
		Timestamp:     r.Time.UTC(),
		Level:         r.Level.String(),
		Message:       r.Message,
		TenantID:      contextString(ctx, types.ContextKeyTenantID),
		UserID:        contextString(ctx, types.ContextKeyUserID),
		SessionID:     contextString(ctx, types.ContextKeySessionID),
		RequestSource: contextString(ctx, types.ContextKeyRequestSource),
		Attributes:    string(attrsJSON),
	}
	if record.TenantID == "" {
		if v, ok := attrs["tenant_id"].(string); ok {
			record.TenantID = v
		}
	}
	if r.PC != 0 {
		f, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		record.SourceFile = f.File
		record.LineNumber = f.Line
	}

	return h.buf.add(record)
}

func contextString(ctx context.Context, key types.ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// WithAttrs implements slog.Handler
func (h *ParquetHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &ParquetHandler{
		next:     h.next.WithAttrs(attrs),
		minLevel: h.minLevel,
		attrs:    merged,
		buf:      h.buf,
	}
}

// WithGroup implements slog.Handler
func (h *ParquetHandler) WithGroup(name string) slog.Handler {
	return &ParquetHandler{
		next:     h.next.WithGroup(name),
		minLevel: h.minLevel,
		attrs:    h.attrs,
		buf:      h.buf,
	}
}

// Flush writes buffered records to a new Parquet file.
func (h *ParquetHandler) Flush() error {
	h.buf.mu.Lock()
	defer h.buf.mu.Unlock()
	return h.buf.flush()
}

// Close flushes the remaining records.
func (h *ParquetHandler) Close() error {
	return h.Flush()
}

func (b *recordBuffer) add(record LogRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, record)
	if len(b.records) >= b.batchSize {
		return b.flush()
	}
	return nil
}

// flush writes the buffer; the caller holds mu.
func (b *recordBuffer) flush() error {
	if len(b.records) == 0 {
		return nil
	}
	now := time.Now()
	name := fmt.Sprintf("errors_%s_%d.parquet", now.Format("20060102_150405"), now.UnixNano())
	if err := parquet.WriteFile(filepath.Join(b.outputDir, name), b.records); err != nil {
		return fmt.Errorf("failed to write telemetry parquet file: %w", err)
	}
	b.records = b.records[:0]
	return nil
}
