package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/ibeckermayer/slidecrawl/internal/types"
)

var (
	// ErrNotFound means a required element is absent: the remote layout changed.
	ErrNotFound = errors.New("element not found")
	// ErrLaunch means the browser could not be started.
	ErrLaunch = errors.New("browser launch failed")
)

// Strategy selects how a Locator's query is interpreted.
type Strategy int

const (
	ByCSS   Strategy = iota // CSS selector
	ByXPath                 // structural path
	ByID                    // element id
	ByJS                    // script expression evaluating to an element
)

func (s Strategy) String() string {
	switch s {
	case ByXPath:
		return "xpath"
	case ByID:
		return "id"
	case ByJS:
		return "js"
	default:
		return "css"
	}
}

// Locator identifies one element in the controlled document.
type Locator struct {
	By    Strategy
	Query string
}

func CSS(q string) Locator   { return Locator{By: ByCSS, Query: q} }
func XPath(q string) Locator { return Locator{By: ByXPath, Query: q} }
func ID(q string) Locator    { return Locator{By: ByID, Query: q} }
func JS(q string) Locator    { return Locator{By: ByJS, Query: q} }

func (l Locator) String() string {
	return l.By.String() + ":" + l.Query
}

// IsZero reports whether l selects nothing (the whole page, where allowed).
func (l Locator) IsZero() bool {
	return l.Query == ""
}

// Expr returns a script expression evaluating to the element or null.
func (l Locator) Expr() string {
	q := strconv.Quote(l.Query)
	switch l.By {
	case ByXPath:
		return "document.evaluate(" + q + ", document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue"
	case ByID:
		return "document.getElementById(" + q + ")"
	case ByJS:
		return "(" + l.Query + ")"
	default:
		return "document.querySelector(" + q + ")"
	}
}

// Driver is the remote browser session as the login and crawl logic see it.
// Coordinates are CSS pixels relative to the viewport.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)

	// WaitVisible blocks until loc is visible, failing with ErrNotFound after timeout.
	WaitVisible(ctx context.Context, loc Locator, timeout time.Duration) error
	// Visible checks once, without waiting.
	Visible(ctx context.Context, loc Locator) (bool, error)

	SetValue(ctx context.Context, loc Locator, value string) error
	PressEnter(ctx context.Context, loc Locator) error
	Click(ctx context.Context, loc Locator) error
	Center(ctx context.Context, loc Locator) (x, y float64, err error)

	PointerDown(ctx context.Context, x, y float64) error
	PointerMove(ctx context.Context, x, y float64) error
	PointerUp(ctx context.Context, x, y float64) error

	// Evaluate runs a read-only script and decodes its JSON result into out.
	Evaluate(ctx context.Context, script string, out any) error

	// Screenshot captures loc, or the full page for a zero Locator.
	Screenshot(ctx context.Context, loc Locator) ([]byte, error)
	HTML(ctx context.Context) (string, error)

	Cookies(ctx context.Context) ([]*network.Cookie, error)
	SetCookies(ctx context.Context, cookies []*network.Cookie) error

	Close() error
}

// Session is one browser context and its authentication state.
// It is driven by a single goroutine; the mutex only guards status reads from reporters.
type Session struct {
	Driver

	mu     sync.Mutex
	status types.AuthStatus
}

// NewSession wraps d as an unauthenticated session.
func NewSession(d Driver) *Session {
	return &Session{Driver: d, status: types.AuthUnauthenticated}
}

func (s *Session) Status() types.AuthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) SetStatus(status types.AuthStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// Authenticated reports whether the session passed login.
func (s *Session) Authenticated() bool {
	return s.Status() == types.AuthAuthenticated
}

// RequireAuthenticated returns an error unless the session passed login.
func (s *Session) RequireAuthenticated() error {
	if st := s.Status(); st != types.AuthAuthenticated {
		return fmt.Errorf("session is %s", st)
	}
	return nil
}
