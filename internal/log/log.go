package log

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// DefaultKeep is how many records a RecentHandler retains.
const DefaultKeep = 20

type ring struct {
	mu   sync.Mutex
	keep int
	logs []slog.Record
}

func (r *ring) add(rec slog.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, rec)
	if len(r.logs) > r.keep {
		r.logs = r.logs[len(r.logs)-r.keep:]
	}
}

func (r *ring) snapshot() []slog.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]slog.Record(nil), r.logs...)
}

// RecentHandler is a slog.Handler that remembers the most recent records
// before passing them on, so the portal can show what happened last.
type RecentHandler struct {
	slog.Handler
	recent *ring
	attrs  []slog.Attr
}

// NewRecentHandler wraps handler and retains the last keep records.
func NewRecentHandler(handler slog.Handler, keep int) *RecentHandler {
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &RecentHandler{
		Handler: handler,
		recent:  &ring{keep: keep},
	}
}

// Handle stores the record and forwards it.
func (h *RecentHandler) Handle(ctx context.Context, r slog.Record) error {
	stored := r
	if len(h.attrs) > 0 {
		// The wrapped handler already carries these attrs.
		stored = r.Clone()
		stored.AddAttrs(h.attrs...)
	}
	h.recent.add(stored)
	return h.Handler.Handle(ctx, r)
}

// WithAttrs keeps the derived handler writing into the same history.
func (h *RecentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RecentHandler{
		Handler: h.Handler.WithAttrs(attrs),
		recent:  h.recent,
		attrs:   append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

func (h *RecentHandler) WithGroup(name string) slog.Handler {
	return &RecentHandler{
		Handler: h.Handler.WithGroup(name),
		recent:  h.recent,
		attrs:   h.attrs,
	}
}

// Logs returns the stored records, oldest first.
func (h *RecentHandler) Logs() []slog.Record {
	return h.recent.snapshot()
}

// Lines renders the stored records as single lines.
func (h *RecentHandler) Lines() []string {
	logs := h.Logs()
	lines := make([]string, 0, len(logs))
	for _, r := range logs {
		lines = append(lines, Format(r))
	}
	return lines
}

// Format renders a record as "15:04:05 LEVEL message key=value ...".
func Format(r slog.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", r.Time.Format("15:04:05"), r.Level, r.Message)
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Resolve())
		return true
	})
	return b.String()
}

var defaultHandler *RecentHandler

// Init installs a RecentHandler around handler as the default logger.
func Init(handler slog.Handler) *slog.Logger {
	defaultHandler = NewRecentHandler(handler, DefaultKeep)
	logger := slog.New(defaultHandler)
	slog.SetDefault(logger)
	return logger
}

// Logs returns the stored records of the default logger.
func Logs() []slog.Record {
	if defaultHandler == nil {
		return nil
	}
	return defaultHandler.Logs()
}

// Lines returns the stored records of the default logger, rendered.
func Lines() []string {
	if defaultHandler == nil {
		return nil
	}
	return defaultHandler.Lines()
}
