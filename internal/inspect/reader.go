// Package inspect reads hidden client-side application state out of the
// controlled document.
//
// Every query is read-only and may be repeated freely. Failures of any kind
// (script exceptions, timeouts, state not rendered yet) come back as "not
// found"; retry policy belongs to the caller.
package inspect

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ibeckermayer/slidecrawl/internal/types"
)

// Evaluator runs a script in the remote document and decodes its result.
type Evaluator interface {
	Evaluate(ctx context.Context, script string, out any) error
}

// Shape is the minimal set of fields whose presence on the first element
// identifies an array as the record array.
type Shape []string

// Matches reports whether r carries every field of the shape with a non-empty value.
func (s Shape) Matches(r types.Record) bool {
	if r == nil {
		return false
	}
	for _, f := range s {
		v, ok := r[f]
		if !ok || v == nil || v == "" {
			return false
		}
	}
	return true
}

// Script returns the traversal locating the longest array whose first element matches s.
func (s Shape) Script() string {
	fields := []string(s)
	if fields == nil {
		fields = []string{}
	}
	return fmt.Sprintf(recordsScript, jsLiteral(fields))
}

// Reader queries the remote application state.
type Reader struct {
	eval   Evaluator
	gap    GapSource
	logger *slog.Logger
}

// NewReader creates a Reader with the default field names.
func NewReader(eval Evaluator, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		eval:   eval,
		gap:    DefaultGapSource,
		logger: logger.With("component", "inspect"),
	}
}

// WithGapSource returns a copy reading the gap offset from a different component.
func (r *Reader) WithGapSource(g GapSource) *Reader {
	c := *r
	c.gap = g
	return &c
}

// LocateTotal finds the first component state exposing a total item count.
// It returns nil when none is rendered.
func (r *Reader) LocateTotal(ctx context.Context) *types.PageInfo {
	var info *types.PageInfo
	if err := r.eval.Evaluate(ctx, TotalScript(DefaultTotalFields), &info); err != nil {
		r.logger.Debug("locate total failed", "error", err)
		return nil
	}
	return info
}

// LocateRecords finds the longest array in any component state whose first
// element matches shape. It returns nil when no array matches.
func (r *Reader) LocateRecords(ctx context.Context, shape Shape) []types.Record {
	var records []types.Record
	if err := r.eval.Evaluate(ctx, shape.Script(), &records); err != nil {
		r.logger.Debug("locate records failed", "error", err)
		return nil
	}
	if len(records) == 0 || !shape.Matches(records[0]) {
		return nil
	}
	return records
}

// LocateGap reads the challenge's horizontal gap offset in pixels.
func (r *Reader) LocateGap(ctx context.Context) (int, bool) {
	var gap *int
	if err := r.eval.Evaluate(ctx, GapScript(r.gap), &gap); err != nil {
		r.logger.Debug("locate gap failed", "error", err)
		return 0, false
	}
	if gap == nil {
		return 0, false
	}
	return *gap, true
}
