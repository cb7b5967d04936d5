package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/slidecrawl/internal/auth"
	"github.com/ibeckermayer/slidecrawl/internal/browser"
	"github.com/ibeckermayer/slidecrawl/internal/config"
	"github.com/ibeckermayer/slidecrawl/internal/dataset"
	"github.com/ibeckermayer/slidecrawl/internal/inspect"
	"github.com/ibeckermayer/slidecrawl/internal/poll"
	"github.com/ibeckermayer/slidecrawl/internal/scraper"
	"github.com/ibeckermayer/slidecrawl/internal/store"
	"github.com/ibeckermayer/slidecrawl/internal/types"
)

// fakeBrowser serves a login form without a challenge and a student listing.
type fakeBrowser struct {
	browser.Driver

	layoutBroken bool
	students     []types.Record

	location string
	pageSize int
	page     int
	closed   int
}

func (f *fakeBrowser) Navigate(_ context.Context, url string) error {
	f.location = url
	f.page = 1
	return nil
}

func (f *fakeBrowser) Location(context.Context) (string, error) { return f.location, nil }

func (f *fakeBrowser) WaitVisible(_ context.Context, loc browser.Locator, _ time.Duration) error {
	if f.layoutBroken || loc == auth.DefaultSelectors.Dialog {
		return browser.ErrNotFound
	}
	return nil
}

func (f *fakeBrowser) Visible(context.Context, browser.Locator) (bool, error) { return false, nil }

func (f *fakeBrowser) SetValue(_ context.Context, loc browser.Locator, v string) error {
	if loc == scraper.DefaultSelectors.PageSizeInput {
		_, err := fmt.Sscan(v, &f.pageSize)
		return err
	}
	return nil
}

func (f *fakeBrowser) PressEnter(context.Context, browser.Locator) error {
	f.page = 1
	return nil
}

func (f *fakeBrowser) Click(_ context.Context, loc browser.Locator) error {
	if loc == auth.DefaultSelectors.Submit {
		f.location = "https://site.test/home"
		return nil
	}
	if loc == scraper.DefaultSelectors.NextPage[0] {
		if f.page*f.pageSize < len(f.students) {
			f.page++
		}
		return nil
	}
	return browser.ErrNotFound
}

func (f *fakeBrowser) Evaluate(_ context.Context, script string, out any) error {
	var v any
	switch script {
	case inspect.TotalScript(inspect.DefaultTotalFields):
		v = types.PageInfo{Total: len(f.students), PageSize: f.pageSize, CurrentPage: f.page}
	case dataset.Students.Shape.Script():
		if f.pageSize > 0 {
			lo := min((f.page-1)*f.pageSize, len(f.students))
			hi := min(lo+f.pageSize, len(f.students))
			v = f.students[lo:hi]
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (f *fakeBrowser) Screenshot(context.Context, browser.Locator) ([]byte, error) {
	return []byte("\x89PNG"), nil
}

func (f *fakeBrowser) HTML(context.Context) (string, error) { return "<html></html>", nil }

func (f *fakeBrowser) Cookies(context.Context) ([]*network.Cookie, error) {
	return []*network.Cookie{{Name: "JSESSIONID", Value: "x", Domain: "site.test", Expires: -1}}, nil
}

func (f *fakeBrowser) SetCookies(context.Context, []*network.Cookie) error { return nil }

func (f *fakeBrowser) Close() error {
	f.closed++
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Site.BaseURL = "https://site.test"
	cfg.Site.Username = "2021001"
	cfg.Site.Password = "secret"
	cfg.Crawl.PageSize = 10
	cfg.Browser.ReuseCookies = false
	cfg.Database.DSN = filepath.Join(dir, "db", "crawl.db")
	cfg.Output.DumpDir = filepath.Join(dir, "dumps")
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, fb *fakeBrowser) *App {
	t.Helper()
	cs := auth.NewCookieStore(filepath.Join(t.TempDir(), "cookies.json"))
	a, err := New(cfg, cs, nil)
	require.NoError(t, err)
	a.Sleep = poll.NoSleep
	a.Launch = func(context.Context, browser.Options, *slog.Logger) (browser.Driver, error) {
		return fb, nil
	}
	return a
}

func students(n int) []types.Record {
	records := make([]types.Record, n)
	for i := range records {
		records[i] = types.Record{"code": fmt.Sprintf("S%03d", i), "id": float64(i + 1), "name": "student"}
	}
	return records
}

func TestRunCrawlsAndDumps(t *testing.T) {
	cfg := testConfig(t)
	fb := &fakeBrowser{students: students(25)}
	a := newTestApp(t, cfg, fb)

	run, err := a.Run(context.Background(), []dataset.Dataset{dataset.Students})
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	require.True(t, run.OK())
	require.Len(t, run.Reports, 1)

	rep := run.Reports[0]
	require.Equal(t, []int{10, 10, 5}, rep.PageSizes)
	require.Equal(t, 25, rep.SinkCount)
	require.Equal(t, 1, fb.closed)

	path, err := store.LatestDump(cfg.Output.DumpDir, "students")
	require.NoError(t, err)
	dumped, err := store.LoadDump[[]types.Record](path)
	require.NoError(t, err)
	require.Len(t, dumped, 25)
}

func TestRunLoginLayoutFailureWritesDiagnostics(t *testing.T) {
	cfg := testConfig(t)
	fb := &fakeBrowser{layoutBroken: true, students: students(5)}
	a := newTestApp(t, cfg, fb)

	run, err := a.Run(context.Background(), []dataset.Dataset{dataset.Students})
	require.ErrorIs(t, err, auth.ErrLayout)
	require.ErrorIs(t, run.Err, auth.ErrLayout)
	require.Empty(t, run.Reports)
	require.Equal(t, 1, fb.closed)

	entries, err := os.ReadDir(filepath.Join(cfg.Output.DumpDir, store.DiagnosticsDir))
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestRunLaunchFailure(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg, nil)
	a.Launch = func(context.Context, browser.Options, *slog.Logger) (browser.Driver, error) {
		return nil, fmt.Errorf("%w: no chrome", browser.ErrLaunch)
	}

	_, err := a.Run(context.Background(), dataset.All())
	require.ErrorIs(t, err, browser.ErrLaunch)
}

func TestRunWithoutDatasets(t *testing.T) {
	a := newTestApp(t, testConfig(t), &fakeBrowser{})
	_, err := a.Run(context.Background(), nil)
	require.Error(t, err)
}

func TestLoginSavesCookies(t *testing.T) {
	cfg := testConfig(t)
	fb := &fakeBrowser{}
	a := newTestApp(t, cfg, fb)

	require.NoError(t, a.Login(context.Background(), true))
	require.True(t, a.cookieStore.IsValid())
	require.Equal(t, 1, fb.closed)

	require.NoError(t, a.Logout())
	require.False(t, a.cookieStore.IsValid())
}

func TestNewRequiresMailHostWhenEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Email.Enabled = true
	_, err := New(cfg, auth.NewCookieStore(filepath.Join(t.TempDir(), "c.json")), nil)
	require.Error(t, err)
}

func TestGapSourceFromConfig(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg, &fakeBrowser{})
	require.Equal(t, inspect.DefaultGapSource, a.gapSource())

	cfg.Challenge.SliderElement = "captcha"
	cfg.Challenge.SliderField = "offsetX"
	require.Equal(t, inspect.GapSource{ElementID: "captcha", Field: "offsetX"}, a.gapSource())

	cfg.Challenge.SliderField = ""
	require.Equal(t, inspect.DefaultGapSource, a.gapSource())
}
