// Package logger builds *slog.Logger values backed by charmbracelet/log.
//
// Terminal output is colored by level (warnings yellow, errors red). Messages
// about storage writes ("persist", "upsert", "publish") are highlighted in
// green so the offline ingestion path stands out from query traffic.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

// Format selects the line format of a logger.
type Format string

const (
	FormatText   Format = "text"
	FormatJSON   Format = "json"
	FormatLogfmt Format = "logfmt"
)

// Options configures NewLogger.
type Options struct {
	Level           slog.Level
	Format          Format
	Output          io.Writer
	ReportTimestamp bool
	ReportCaller    bool
	// Prefix is printed before every message, e.g. the component name.
	Prefix string
}

var writeKeywords = []string{"persist", "upsert", "publish", "snapshot saved"}

var (
	writeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

// NewDefaultLogger returns a colored text logger on stderr at the given level.
func NewDefaultLogger(level slog.Level) *slog.Logger {
	return NewLogger(Options{
		Level:           level,
		Format:          FormatText,
		Output:          os.Stderr,
		ReportTimestamp: true,
	})
}

// NewLogger returns a logger configured by opts.
func NewLogger(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	charm := log.NewWithOptions(out, log.Options{
		Level:           log.Level(opts.Level),
		ReportTimestamp: opts.ReportTimestamp,
		ReportCaller:    opts.ReportCaller,
		Prefix:          opts.Prefix,
		Formatter:       formatter(opts.Format),
	})

	if opts.Format == "" || opts.Format == FormatText {
		styles := log.DefaultStyles()
		for _, key := range []string{"tenant_id", "document_id", "entity_id", "phase"} {
			styles.Keys[key] = keyStyle
		}
		charm.SetStyles(styles)
		return slog.New(&highlightHandler{Handler: charm})
	}
	return slog.New(charm)
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseFormat maps a config string to a Format, defaulting to text.
func ParseFormat(format string) Format {
	switch Format(strings.ToLower(strings.TrimSpace(format))) {
	case FormatJSON:
		return FormatJSON
	case FormatLogfmt:
		return FormatLogfmt
	default:
		return FormatText
	}
}

func formatter(f Format) log.Formatter {
	switch f {
	case FormatJSON:
		return log.JSONFormatter
	case FormatLogfmt:
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}

// highlightHandler recolors info-level write messages before delegating.
type highlightHandler struct {
	slog.Handler
}

func (h *highlightHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level == slog.LevelInfo && isWriteMessage(r.Message) {
		styled := slog.NewRecord(r.Time, r.Level, writeStyle.Render(r.Message), r.PC)
		r.Attrs(func(a slog.Attr) bool {
			styled.AddAttrs(a)
			return true
		})
		r = styled
	}
	return h.Handler.Handle(ctx, r)
}

func (h *highlightHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &highlightHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *highlightHandler) WithGroup(name string) slog.Handler {
	return &highlightHandler{Handler: h.Handler.WithGroup(name)}
}

func isWriteMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, kw := range writeKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
