package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/ibeckermayer/slidecrawl/internal/dataset"
	"github.com/ibeckermayer/slidecrawl/internal/types"
)

// maxLoggedFailures caps record-level warnings per batch.
const maxLoggedFailures = 3

// BatchResult counts the outcome of one persisted batch.
type BatchResult struct {
	Saved  int
	Failed int
}

// Persister upserts batches of one dataset's records and keeps run-level
// duplicate accounting. Not safe for concurrent use.
type Persister struct {
	sink   *Sink
	ds     dataset.Dataset
	upsert string
	logger *slog.Logger

	seen   map[string]struct{}
	unique []types.Record
	saved  int
	failed int
}

func NewPersister(sink *Sink, ds dataset.Dataset, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		sink:   sink,
		ds:     ds,
		upsert: upsertSQL(ds),
		logger: logger.With("component", "store", "dataset", ds.Name),
		seen:   make(map[string]struct{}),
	}
}

// Reset recreates the table and forgets every key seen so far.
func (p *Persister) Reset(ctx context.Context) error {
	if err := p.sink.ResetTable(ctx, p.ds); err != nil {
		return err
	}
	p.seen = make(map[string]struct{})
	p.unique = nil
	p.saved, p.failed = 0, 0
	return nil
}

type pendingRow struct {
	record types.Record
	key    string
	values []any
}

// PersistBatch upserts records in one transaction. Records with a missing key
// or an uncoercible field are skipped and counted as failures; only a
// database failure of the batch itself returns an error.
func (p *Persister) PersistBatch(ctx context.Context, records []types.Record) (BatchResult, error) {
	var res BatchResult
	if len(records) == 0 {
		return res, nil
	}

	logged := 0
	warn := func(msg, key string, err error) {
		if logged < maxLoggedFailures {
			p.logger.Warn(msg, "key", key, "error", err)
		}
		logged++
	}

	rows := make([]pendingRow, 0, len(records))
	for _, r := range records {
		key := p.ds.Key(r)
		values, err := p.ds.Row(r)
		if err != nil {
			res.Failed++
			warn("record rejected", key, err)
			continue
		}
		rows = append(rows, pendingRow{record: r, key: key, values: values})
	}

	var written []pendingRow
	rejected := res.Failed
	err := p.sink.RunBatch(ctx, func(tx *sql.Tx) error {
		// a retried batch starts over
		written = written[:0]
		res.Failed = rejected

		stmt, err := tx.PrepareContext(ctx, p.upsert)
		if err != nil {
			return fmt.Errorf("failed to prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, row := range rows {
			if _, err := stmt.ExecContext(ctx, row.values...); err != nil {
				if IsBusy(err) || ctx.Err() != nil {
					return err
				}
				res.Failed++
				warn("record write failed", row.key, err)
				continue
			}
			written = append(written, row)
		}
		return nil
	})
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to persist batch into %s: %w", p.ds.Table, err)
	}

	res.Saved = len(written)
	for _, row := range written {
		if _, ok := p.seen[row.key]; ok {
			continue
		}
		p.seen[row.key] = struct{}{}
		p.unique = append(p.unique, row.record)
	}
	p.saved += res.Saved
	p.failed += res.Failed

	if res.Failed > 0 {
		p.logger.Info("batch persisted with failures", "saved", res.Saved, "failed", res.Failed)
	}
	return res, nil
}

// Unique returns the number of distinct keys persisted since the last Reset.
func (p *Persister) Unique() int {
	return len(p.seen)
}

// Records returns the persisted records, first occurrence per key, in crawl order.
func (p *Persister) Records() []types.Record {
	return p.unique
}

// Totals returns the saved and failed record counts since the last Reset.
func (p *Persister) Totals() BatchResult {
	return BatchResult{Saved: p.saved, Failed: p.failed}
}

// Count returns the current row count of the dataset's table.
func (p *Persister) Count(ctx context.Context) (int, error) {
	return p.sink.Count(ctx, p.ds.Table)
}
