// Package scraper walks a paginated listing page by page and hands every page
// to the persister.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/ibeckermayer/slidecrawl/internal/browser"
	"github.com/ibeckermayer/slidecrawl/internal/config"
	"github.com/ibeckermayer/slidecrawl/internal/dataset"
	"github.com/ibeckermayer/slidecrawl/internal/inspect"
	"github.com/ibeckermayer/slidecrawl/internal/poll"
	"github.com/ibeckermayer/slidecrawl/internal/store"
	"github.com/ibeckermayer/slidecrawl/internal/types"
)

var (
	// ErrPageSize means the page-size control could not be used.
	ErrPageSize = errors.New("page size control not found")
	// ErrNextPage means no next-page strategy found the control.
	ErrNextPage = errors.New("next page control not found")
	// ErrStuck means the listing kept showing the same page after repeated advances.
	ErrStuck = errors.New("listing stopped advancing")
)

// firstLoadRatio is the share of the expected first page that counts as loaded.
const firstLoadRatio = 0.9

// maxStallStreak bounds consecutive reads that saw no new leading record.
const maxStallStreak = 4

// StateReader reads the listing's client-side state.
type StateReader interface {
	LocateTotal(ctx context.Context) *types.PageInfo
	LocateRecords(ctx context.Context, shape inspect.Shape) []types.Record
}

// Persister stores pages of records.
type Persister interface {
	Reset(ctx context.Context) error
	PersistBatch(ctx context.Context, records []types.Record) (store.BatchResult, error)
	Unique() int
	Totals() store.BatchResult
	Count(ctx context.Context) (int, error)
}

// Options tune one crawl.
type Options struct {
	ListingURL        string
	PageSize          int
	MaxPages          int // 0 = bounded by the total only
	PollInterval      time.Duration
	PollAttempts      int
	FirstLoadAttempts int
	TotalAttempts     int
	MaskPolls         int
	AdvanceSettle     time.Duration
	PageSettle        time.Duration
	Selectors         Selectors
}

// OptionsFromConfig builds crawl options for ds.
func OptionsFromConfig(cfg *config.Config, ds dataset.Dataset) Options {
	return Options{
		ListingURL:        cfg.SiteURL(ds.ListingPath),
		PageSize:          cfg.Crawl.PageSize,
		MaxPages:          cfg.Crawl.MaxPages,
		PollInterval:      cfg.Crawl.PollInterval.Duration,
		PollAttempts:      cfg.Crawl.PollAttempts,
		FirstLoadAttempts: cfg.Crawl.FirstLoadAttempts,
		TotalAttempts:     cfg.Crawl.TotalAttempts,
		MaskPolls:         cfg.Crawl.MaskPolls,
		AdvanceSettle:     cfg.Crawl.AdvanceSettle.Duration,
		PageSettle:        cfg.Crawl.PageSettle.Duration,
		Selectors:         DefaultSelectors,
	}
}

// Report summarizes one crawl.
type Report struct {
	Dataset    string        `json:"dataset"`
	Total      int           `json:"total"`
	TotalKnown bool          `json:"total_known"`
	PageSize   int           `json:"page_size"`
	Pages      int           `json:"pages"`
	PageSizes  []int         `json:"page_sizes"`
	Stalls     int           `json:"stalls"`
	Saved      int           `json:"saved"`
	Failed     int           `json:"failed"`
	Unique     int           `json:"unique"`
	SinkCount  int           `json:"sink_count"`
	Duration   time.Duration `json:"duration"`
}

// Crawler extracts one dataset from an authenticated session.
type Crawler struct {
	session   *browser.Session
	reader    StateReader
	persister Persister
	ds        dataset.Dataset
	opts      Options
	logger    *slog.Logger

	Sleep poll.SleepFunc
}

// New creates a new crawler
func New(session *browser.Session, reader StateReader, persister Persister, ds dataset.Dataset, opts Options, logger *slog.Logger) *Crawler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Crawler{
		session:   session,
		reader:    reader,
		persister: persister,
		ds:        ds,
		opts:      opts,
		logger:    logger.With("component", "scraper", "dataset", ds.Name),
		Sleep:     poll.Sleep,
	}
}

func (c *Crawler) poller(attempts int) poll.Poller {
	return poll.Poller{Interval: c.opts.PollInterval, Attempts: attempts, Sleep: c.Sleep}
}

// Crawl replaces the dataset's table with the listing's current contents.
// Pages persisted before a fatal error stay persisted; the returned report
// is reconciled against the sink on every path.
func (c *Crawler) Crawl(ctx context.Context) (rep Report, err error) {
	start := time.Now()
	rep = Report{Dataset: c.ds.Name, PageSize: c.opts.PageSize}

	if err := c.session.RequireAuthenticated(); err != nil {
		return rep, err
	}

	reset := false
	defer func() {
		rep.Duration = time.Since(start)
		if reset {
			c.reconcile(ctx, &rep)
		}
	}()

	if err := c.session.Navigate(ctx, c.opts.ListingURL); err != nil {
		return rep, err
	}
	if err := c.Sleep(ctx, c.opts.PageSettle); err != nil {
		return rep, err
	}

	if info, err := c.locateTotal(ctx); err != nil {
		return rep, err
	} else if info != nil {
		rep.Total, rep.TotalKnown = info.Total, true
		c.logger.Info("listing total located", "total", info.Total)
	} else {
		c.logger.Warn("listing total not found, paging until a short page")
	}

	pageSize, err := c.setPageSize(ctx)
	if err != nil {
		return rep, err
	}
	rep.PageSize = pageSize

	if err := c.awaitFirstLoad(ctx, rep.Total, rep.TotalKnown, pageSize); err != nil {
		return rep, err
	}

	if err := c.persister.Reset(ctx); err != nil {
		return rep, err
	}
	reset = true

	bound := c.pageBound(rep.Total, rep.TotalKnown, pageSize)
	c.logger.Info("crawling listing", "page_size", pageSize, "pages", boundString(bound))

	var (
		prevLeading string
		stallStreak int
	)
	for page := 1; bound == 0 || page <= bound; {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		records, fresh, err := c.readPage(ctx, page, prevLeading)
		if err != nil {
			return rep, err
		}
		if len(records) == 0 {
			c.logger.Info("no records on page, stopping", "page", page)
			break
		}

		if !fresh {
			rep.Stalls++
			stallStreak++
			// one extra read lets a slow render catch up before advancing again
			if stallStreak%2 == 1 {
				c.logger.Warn("page did not advance, reading again", "page", page, "leading_key", prevLeading)
				continue
			}
			if bound == 0 {
				c.logger.Info("page did not advance, assuming listing exhausted", "page", page)
				break
			}
			if stallStreak >= maxStallStreak {
				return rep, fmt.Errorf("%w: page %d unchanged after %d reads", ErrStuck, page, stallStreak)
			}
			c.logger.Warn("page still stale, continuing with last read", "page", page)
		} else {
			stallStreak = 0
		}

		res, err := c.persister.PersistBatch(ctx, records)
		if err != nil {
			return rep, err
		}
		totals := c.persister.Totals()
		rep.Saved, rep.Failed = totals.Saved, totals.Failed

		rep.Pages++
		rep.PageSizes = append(rep.PageSizes, len(records))
		c.logger.Info("page persisted",
			"page", page,
			"of", boundString(bound),
			"records", len(records),
			"saved", res.Saved,
			"failed", res.Failed,
			"unique", c.persister.Unique())

		if len(records) < pageSize {
			c.logger.Info("short page, listing exhausted", "page", page)
			break
		}
		if bound != 0 && page == bound {
			break
		}

		prevLeading = types.PageSnapshot{Records: records}.LeadingKey(c.ds.KeyField)
		if err := c.advance(ctx); err != nil {
			return rep, err
		}
		page++
	}

	if rep.TotalKnown && c.persister.Unique() < rep.Total {
		c.logger.Warn("fewer unique records than the listing total", "unique", c.persister.Unique(), "total", rep.Total)
	}
	return rep, nil
}

func (c *Crawler) reconcile(ctx context.Context, rep *Report) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	rep.Unique = c.persister.Unique()
	n, err := c.persister.Count(ctx)
	if err != nil {
		c.logger.Error("failed to count persisted rows", "error", err)
		return
	}
	rep.SinkCount = n
	c.logger.Info("crawl reconciled", "sink_rows", n, "unique_records", rep.Unique, "stalls", rep.Stalls)
}

func (c *Crawler) locateTotal(ctx context.Context) (*types.PageInfo, error) {
	var info *types.PageInfo
	_, _, err := c.poller(c.opts.TotalAttempts).Until(ctx, func(ctx context.Context) (bool, error) {
		info = c.reader.LocateTotal(ctx)
		return info != nil, nil
	})
	return info, err
}

// setPageSize commits the configured page size once and returns the size the
// listing actually applied.
func (c *Crawler) setPageSize(ctx context.Context) (int, error) {
	loc := c.opts.Selectors.PageSizeInput
	if err := c.session.SetValue(ctx, loc, strconv.Itoa(c.opts.PageSize)); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%w: %w", ErrPageSize, err)
	}
	if err := c.session.PressEnter(ctx, loc); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%w: %w", ErrPageSize, err)
	}
	c.logger.Info("page size committed", "page_size", c.opts.PageSize)

	if err := c.Sleep(ctx, c.opts.PageSettle); err != nil {
		return 0, err
	}
	if info := c.reader.LocateTotal(ctx); info != nil && info.PageSize > 0 && info.PageSize != c.opts.PageSize {
		c.logger.Warn("listing applied a different page size", "requested", c.opts.PageSize, "applied", info.PageSize)
		return info.PageSize, nil
	}
	return c.opts.PageSize, nil
}

// awaitFirstLoad waits until the first page holds most of its expected records.
// Running out of attempts is not an error.
func (c *Crawler) awaitFirstLoad(ctx context.Context, total int, totalKnown bool, pageSize int) error {
	expected := pageSize
	if totalKnown {
		expected = min(total, pageSize)
	}
	target := int(math.Ceil(float64(expected) * firstLoadRatio))
	if target <= 0 {
		return nil
	}

	var loaded int
	ok, n, err := c.poller(c.opts.FirstLoadAttempts).Until(ctx, func(ctx context.Context) (bool, error) {
		loaded = len(c.reader.LocateRecords(ctx, c.ds.Shape))
		return loaded >= target, nil
	})
	if err != nil {
		return err
	}
	if !ok {
		c.logger.Warn("first page still loading, continuing", "loaded", loaded, "expected", expected, "polls", n)
	}
	return nil
}

// readPage polls the listing until it shows the awaited page. Page 1 accepts
// any non-empty read; later pages need a leading key different from
// prevLeading. When the attempts run out the last read is returned with
// fresh=false.
func (c *Crawler) readPage(ctx context.Context, page int, prevLeading string) (records []types.Record, fresh bool, err error) {
	fresh, n, err := c.poller(c.opts.PollAttempts).Until(ctx, func(ctx context.Context) (bool, error) {
		recs := c.reader.LocateRecords(ctx, c.ds.Shape)
		if len(recs) == 0 {
			return false, nil
		}
		records = recs
		if page == 1 || prevLeading == "" {
			return true, nil
		}
		return recs[0].Key(c.ds.KeyField) != prevLeading, nil
	})
	if err != nil {
		return nil, false, err
	}
	c.logger.Debug("page read", "page", page, "records", len(records), "polls", n, "fresh", fresh)
	return records, fresh, nil
}

// advance waits out the loading mask and clicks the next-page control.
func (c *Crawler) advance(ctx context.Context) error {
	mask := c.opts.Selectors.LoadingMask
	cleared, _, err := c.poller(c.opts.MaskPolls).Until(ctx, func(ctx context.Context) (bool, error) {
		visible, err := c.session.Visible(ctx, mask)
		return err == nil && !visible, nil
	})
	if err != nil {
		return err
	}
	if !cleared {
		c.logger.Debug("loading mask still visible, clicking anyway")
	}

	name, err := browser.FirstOf(ctx, browser.ClickAttempts(c.session, c.opts.Selectors.NextPage...)...)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrNextPage, err)
	}
	c.logger.Debug("next page clicked", "strategy", name)

	return c.Sleep(ctx, c.opts.AdvanceSettle)
}

func (c *Crawler) pageBound(total int, totalKnown bool, pageSize int) int {
	bound := 0
	if totalKnown {
		bound = max(1, (total+pageSize-1)/pageSize)
	}
	if c.opts.MaxPages > 0 && (bound == 0 || c.opts.MaxPages < bound) {
		bound = c.opts.MaxPages
	}
	return bound
}

func boundString(bound int) string {
	if bound == 0 {
		return "?"
	}
	return strconv.Itoa(bound)
}
