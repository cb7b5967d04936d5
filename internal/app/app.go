package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ibeckermayer/slidecrawl/internal/auth"
	"github.com/ibeckermayer/slidecrawl/internal/browser"
	"github.com/ibeckermayer/slidecrawl/internal/config"
	"github.com/ibeckermayer/slidecrawl/internal/dataset"
	"github.com/ibeckermayer/slidecrawl/internal/digest"
	"github.com/ibeckermayer/slidecrawl/internal/inspect"
	"github.com/ibeckermayer/slidecrawl/internal/notifier"
	"github.com/ibeckermayer/slidecrawl/internal/poll"
	"github.com/ibeckermayer/slidecrawl/internal/scraper"
	"github.com/ibeckermayer/slidecrawl/internal/store"
)

// Launcher starts the remote browser.
type Launcher func(ctx context.Context, o browser.Options, logger *slog.Logger) (browser.Driver, error)

// LaunchChrome is the Launcher backed by a local Chrome.
func LaunchChrome(ctx context.Context, o browser.Options, logger *slog.Logger) (browser.Driver, error) {
	return browser.Launch(ctx, o, logger)
}

// App holds the application state.
type App struct {
	config      *config.Config
	cookieStore *auth.CookieStore
	notifier    *notifier.Notifier // nil when email is disabled
	logger      *slog.Logger

	Launch Launcher
	Sleep  poll.SleepFunc
}

// New creates a new App instance.
func New(cfg *config.Config, cookieStore *auth.CookieStore, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		config:      cfg,
		cookieStore: cookieStore,
		logger:      logger,
		Launch:      LaunchChrome,
		Sleep:       poll.Sleep,
	}
	if cfg.Email.Enabled {
		n, err := notifier.NewFromConfig(cfg.Email)
		if err != nil {
			return nil, fmt.Errorf("email: %w", err)
		}
		a.notifier = n
	}
	return a, nil
}

func (a *App) browserOptions(headless bool) browser.Options {
	return browser.Options{
		Headless: headless,
		Width:    a.config.Browser.WindowWidth,
		Height:   a.config.Browser.WindowHeight,
	}
}

// openSink opens the configured database, creating a local one if needed.
func (a *App) openSink(ctx context.Context, logger *slog.Logger) (*store.Sink, error) {
	dsn, err := a.config.DatabaseDSN()
	if err != nil {
		return nil, err
	}
	if err := store.EnsureDatabase(a.config.Database.Driver, dsn); err != nil {
		return nil, err
	}
	return store.Open(ctx, a.config.Database.Driver, dsn, logger)
}

// OpenSink opens the configured database for read-only tooling such as reports.
func (a *App) OpenSink(ctx context.Context) (*store.Sink, error) {
	return a.openSink(ctx, a.logger)
}

// Run logs in once and crawls every dataset in order on the same session.
// A dataset that fails is reported and the run moves on to the next one;
// cancellation stops the run. The browser is closed on every path.
func (a *App) Run(ctx context.Context, datasets []dataset.Dataset) (run digest.Run, err error) {
	if len(datasets) == 0 {
		return run, errors.New("no datasets to crawl")
	}

	run.ID = uuid.NewString()
	run.Started = time.Now()
	logger := a.logger.With("run", run.ID)

	defer func() {
		run.Finished = time.Now()
		run.Err = err
		a.notify(run, logger)
	}()

	if t := a.config.Browser.Timeout.Duration; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	sink, err := a.openSink(ctx, logger)
	if err != nil {
		return run, fmt.Errorf("failed to open database: %w", err)
	}
	defer sink.Close()

	session, err := a.start(ctx, a.config.Browser.Headless, logger)
	if err != nil {
		return run, err
	}
	defer session.Close()

	if err := a.authenticate(ctx, session, datasets[0], a.config.Browser.ReuseCookies, logger); err != nil {
		return run, err
	}

	reader := inspect.NewReader(session, logger)
	var errs []error
	for _, ds := range datasets {
		rep, err := a.crawl(ctx, session, reader, sink, ds, logger)
		run.Reports = append(run.Reports, rep)
		if err != nil {
			logger.Error("crawl failed", "dataset", ds.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", ds.Name, err))
			if ctx.Err() != nil {
				break
			}
		}
	}
	return run, errors.Join(errs...)
}

func (a *App) start(ctx context.Context, headless bool, logger *slog.Logger) (*browser.Session, error) {
	driver, err := a.Launch(ctx, a.browserOptions(headless), logger)
	if err != nil {
		return nil, err
	}
	return browser.NewSession(driver), nil
}

func (a *App) authenticate(ctx context.Context, session *browser.Session, probe dataset.Dataset, reuse bool, logger *slog.Logger) error {
	reader := inspect.NewReader(session, logger).WithGapSource(a.gapSource())
	resolver := auth.NewResolver(session, reader, auth.OptionsFromConfig(a.config), logger)
	resolver.Sleep = a.Sleep
	manager := auth.NewManager(a.cookieStore, session, logger)
	manager.Sleep = a.Sleep

	res, err := manager.Authenticate(ctx, resolver, a.config.SiteURL(probe.ListingPath), a.config.LoginURL(), reuse)
	if err != nil {
		a.saveDiagnostics(ctx, session, logger)
		return fmt.Errorf("login failed: %w", err)
	}
	logger.Info("logged in", "attempts", res.Attempts, "implicit", res.Implicit)
	return nil
}

// gapSource is the configured slider component, or the default when unset.
func (a *App) gapSource() inspect.GapSource {
	c := a.config.Challenge
	if c.SliderElement == "" || c.SliderField == "" {
		return inspect.DefaultGapSource
	}
	return inspect.GapSource{ElementID: c.SliderElement, Field: c.SliderField}
}

func (a *App) crawl(ctx context.Context, session *browser.Session, reader *inspect.Reader, sink *store.Sink, ds dataset.Dataset, logger *slog.Logger) (scraper.Report, error) {
	persister := store.NewPersister(sink, ds, logger)
	crawler := scraper.New(session, reader, persister, ds, scraper.OptionsFromConfig(a.config, ds), logger)
	crawler.Sleep = a.Sleep

	rep, err := crawler.Crawl(ctx)

	if a.config.Output.Dump && persister.Unique() > 0 {
		a.dump(ds, persister, logger)
	}
	return rep, err
}

func (a *App) dump(ds dataset.Dataset, persister *store.Persister, logger *slog.Logger) {
	dir, err := a.config.DumpDir()
	if err != nil {
		logger.Warn("no dump directory", "error", err)
		return
	}
	path, err := store.SaveDump(dir, ds.Name, persister.Records())
	if err != nil {
		logger.Warn("failed to write dump", "dataset", ds.Name, "error", err)
		return
	}
	logger.Info("dump written", "dataset", ds.Name, "path", path, "records", persister.Unique())
}

// saveDiagnostics captures the page that defeated the login.
func (a *App) saveDiagnostics(ctx context.Context, session *browser.Session, logger *slog.Logger) {
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	shot, err := session.Screenshot(ctx, browser.Locator{})
	if err != nil {
		logger.Debug("screenshot failed", "error", err)
	}
	html, err := session.HTML(ctx)
	if err != nil {
		logger.Debug("page markup unavailable", "error", err)
	}

	dir, err := a.config.DumpDir()
	if err != nil {
		logger.Warn("no dump directory", "error", err)
		return
	}
	paths, err := store.SaveDiagnostics(dir, shot, html)
	if err != nil {
		logger.Warn("failed to write diagnostics", "error", err)
	}
	if len(paths) > 0 {
		logger.Info("login diagnostics written", "paths", paths)
	}
}

func (a *App) notify(run digest.Run, logger *slog.Logger) {
	if a.notifier == nil {
		return
	}
	if err := a.notifier.SendSummary(run, a.config.Email.ToAddr); err != nil {
		logger.Warn("failed to send run summary", "error", err)
		return
	}
	logger.Info("run summary sent", "to", a.config.Email.ToAddr)
}

// Login runs the challenge in a visible browser and stores the session
// cookies for later headless runs.
func (a *App) Login(ctx context.Context, headless bool) error {
	logger := a.logger.With("run", uuid.NewString())

	session, err := a.start(ctx, headless, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := a.authenticate(ctx, session, dataset.Students, false, logger); err != nil {
		return err
	}

	manager := auth.NewManager(a.cookieStore, session, logger)
	if err := manager.Save(ctx); err != nil {
		return err
	}
	logger.Info("login successful - cookies saved")
	return nil
}

// Logout clears stored session cookies.
func (a *App) Logout() error {
	if err := a.cookieStore.Clear(); err != nil {
		return err
	}
	a.logger.Info("stored cookies cleared")
	return nil
}
