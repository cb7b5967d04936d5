package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// Chrome is a Driver backed by a local Chrome instance controlled through chromedp.
type Chrome struct {
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	logger    *slog.Logger
}

var _ Driver = (*Chrome)(nil)

// Launch starts Chrome and opens one tab. The browser outlives ctx's
// cancellation so it can be closed cleanly; call Close on every exit path.
func Launch(ctx context.Context, o Options, logger *slog.Logger) (*Chrome, error) {
	if logger == nil {
		logger = slog.Default()
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), AllocatorOptions(o)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...), "component", "chromedp")
		}),
	)

	cancel := func() {
		browserCancel()
		allocCancel()
	}

	// An empty Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	logger.Info("browser started", "headless", o.Headless)
	return &Chrome{ctx: browserCtx, cancel: cancel, logger: logger}, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (c *Chrome) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.logger.Info("browser closed")
	})
	return nil
}

// run executes actions in the browser context, aborting when ctx is cancelled.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return runErr(ctx, chromedp.Run(runCtx, actions...))
}

// runErr reports the caller's context error when ctx ended the run. chromedp
// only sees the cancellation of its own derived context.
func runErr(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// waitErr maps a wait that ran out of its own time to ErrNotFound.
func waitErr(ctx, waitCtx context.Context, err error, loc Locator, timeout time.Duration) error {
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s not visible after %v", ErrNotFound, loc, timeout)
	}
	return err
}

func query(loc Locator) (string, chromedp.QueryOption) {
	switch loc.By {
	case ByXPath:
		return loc.Query, chromedp.BySearch
	case ByID:
		return "#" + loc.Query, chromedp.ByQuery
	case ByJS:
		return loc.Query, chromedp.ByJSPath
	default:
		return loc.Query, chromedp.ByQuery
	}
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	if err := c.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (c *Chrome) Location(ctx context.Context) (string, error) {
	var url string
	if err := c.run(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (c *Chrome) WaitVisible(ctx context.Context, loc Locator, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	q, by := query(loc)
	err := c.run(waitCtx, chromedp.WaitVisible(q, by))
	return waitErr(ctx, waitCtx, err, loc, timeout)
}

func (c *Chrome) Visible(ctx context.Context, loc Locator) (bool, error) {
	script := `(() => {
		const el = ` + loc.Expr() + `;
		if (!el) return false;
		const s = window.getComputedStyle(el);
		if (s.display === 'none' || s.visibility === 'hidden') return false;
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	})()`
	var visible bool
	if err := c.run(ctx, chromedp.Evaluate(script, &visible)); err != nil {
		return false, err
	}
	return visible, nil
}

func (c *Chrome) SetValue(ctx context.Context, loc Locator, value string) error {
	q, by := query(loc)
	err := c.run(ctx,
		chromedp.ScrollIntoView(q, by),
		chromedp.Clear(q, by),
		chromedp.SendKeys(q, value, by),
	)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", loc, err)
	}
	return nil
}

func (c *Chrome) PressEnter(ctx context.Context, loc Locator) error {
	q, by := query(loc)
	if err := c.run(ctx, chromedp.SendKeys(q, kb.Enter, by)); err != nil {
		return fmt.Errorf("failed to press enter on %s: %w", loc, err)
	}
	return nil
}

// Click dispatches a scripted click, which also reaches elements under overlays.
func (c *Chrome) Click(ctx context.Context, loc Locator) error {
	script := `(() => {
		const el = ` + loc.Expr() + `;
		if (!el) return false;
		el.click();
		return true;
	})()`
	var clicked bool
	if err := c.run(ctx, chromedp.Evaluate(script, &clicked)); err != nil {
		return fmt.Errorf("failed to click %s: %w", loc, err)
	}
	if !clicked {
		return fmt.Errorf("%w: %s", ErrNotFound, loc)
	}
	return nil
}

type point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (c *Chrome) Center(ctx context.Context, loc Locator) (float64, float64, error) {
	script := `(() => {
		const el = ` + loc.Expr() + `;
		if (!el) return null;
		const r = el.getBoundingClientRect();
		return {x: r.left + r.width / 2, y: r.top + r.height / 2};
	})()`
	var p *point
	if err := c.run(ctx, chromedp.Evaluate(script, &p)); err != nil {
		return 0, 0, err
	}
	if p == nil {
		return 0, 0, fmt.Errorf("%w: %s", ErrNotFound, loc)
	}
	return p.X, p.Y, nil
}

func (c *Chrome) mouse(ctx context.Context, typ input.MouseType, x, y float64, buttons int64) error {
	return c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		p := input.DispatchMouseEvent(typ, x, y).
			WithButton(input.Left).
			WithButtons(buttons)
		if typ != input.MouseMoved {
			p = p.WithClickCount(1)
		}
		return p.Do(ctx)
	}))
}

func (c *Chrome) PointerDown(ctx context.Context, x, y float64) error {
	return c.mouse(ctx, input.MousePressed, x, y, 1)
}

func (c *Chrome) PointerMove(ctx context.Context, x, y float64) error {
	return c.mouse(ctx, input.MouseMoved, x, y, 1)
}

func (c *Chrome) PointerUp(ctx context.Context, x, y float64) error {
	return c.mouse(ctx, input.MouseReleased, x, y, 0)
}

func (c *Chrome) Evaluate(ctx context.Context, script string, out any) error {
	return c.run(ctx, chromedp.Evaluate(script, out))
}

func (c *Chrome) Screenshot(ctx context.Context, loc Locator) ([]byte, error) {
	var buf []byte
	var action chromedp.Action
	if loc.IsZero() {
		action = chromedp.FullScreenshot(&buf, 90)
	} else {
		q, by := query(loc)
		action = chromedp.Screenshot(q, &buf, by)
	}
	if err := c.run(ctx, action); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

func (c *Chrome) HTML(ctx context.Context) (string, error) {
	var html string
	if err := c.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// Cookies gets all cookies from the browser
func (c *Chrome) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := c.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = storage.GetCookies().Do(ctx)
			return err
		}),
	)
	return cookies, err
}

// SetCookies sets cookies in the browser context
func (c *Chrome) SetCookies(ctx context.Context, cookies []*network.Cookie) error {
	return c.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, ck := range cookies {
				p := network.SetCookie(ck.Name, ck.Value).
					WithDomain(ck.Domain).
					WithPath(ck.Path).
					WithSecure(ck.Secure).
					WithHTTPOnly(ck.HTTPOnly)
				if ck.SameSite != "" {
					p = p.WithSameSite(ck.SameSite)
				}
				if ck.Expires > 0 {
					exp := cdp.TimeSinceEpoch(time.Unix(int64(ck.Expires), 0))
					p = p.WithExpires(&exp)
				}
				if err := p.Do(ctx); err != nil {
					return err
				}
			}
			return nil
		}),
	)
}

// AuditURL is a fingerprinting page that reports common automation tells.
const AuditURL = "https://bot.sannysoft.com"

// OpenAudit launches a visible browser with the stealth options and opens
// AuditURL. The caller closes the returned browser.
func OpenAudit(ctx context.Context, o Options, logger *slog.Logger) (*Chrome, error) {
	o.Headless = false
	c, err := Launch(ctx, o, logger)
	if err != nil {
		return nil, err
	}
	if err := c.Navigate(ctx, AuditURL); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.WaitVisible(ctx, CSS("body"), 30*time.Second); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}
