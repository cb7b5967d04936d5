package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/ibeckermayer/slidecrawl/internal/browser"
	"github.com/ibeckermayer/slidecrawl/internal/poll"
	"github.com/ibeckermayer/slidecrawl/internal/types"
)

// Manager handles authentication of one browser session: cookie reuse first,
// the login form and challenge otherwise.
type Manager struct {
	cookieStore *CookieStore
	session     *browser.Session
	logger      *slog.Logger

	// RestoreSettle is how long a restored session may take to bounce to the login page.
	RestoreSettle time.Duration
	Sleep         poll.SleepFunc
}

// NewManager creates a new auth manager
func NewManager(cookieStore *CookieStore, session *browser.Session, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cookieStore:   cookieStore,
		session:       session,
		logger:        logger.With("component", "auth"),
		RestoreSettle: 2 * time.Second,
		Sleep:         poll.Sleep,
	}
}

// Restore injects stored cookies and opens probeURL. The session counts as
// authenticated when the site does not send it back to loginURL.
func (m *Manager) Restore(ctx context.Context, probeURL, loginURL string) (bool, error) {
	if !m.cookieStore.IsValid() {
		return false, nil
	}

	u, err := url.Parse(probeURL)
	if err != nil {
		return false, fmt.Errorf("invalid probe url: %w", err)
	}
	cookies, err := m.cookieStore.ForHost(u.Hostname())
	if err != nil || len(cookies) == 0 {
		return false, nil
	}

	if err := m.session.SetCookies(ctx, cookies); err != nil {
		return false, fmt.Errorf("failed to inject cookies: %w", err)
	}
	if err := m.session.Navigate(ctx, probeURL); err != nil {
		return false, err
	}
	if err := m.Sleep(ctx, m.RestoreSettle); err != nil {
		return false, err
	}

	loc, err := m.session.Location(ctx)
	if err != nil {
		return false, err
	}
	if isLoginPage(loc, loginURL) {
		m.logger.Info("stored cookies rejected by site")
		return false, nil
	}

	m.session.SetStatus(types.AuthAuthenticated)
	m.logger.Info("session restored from stored cookies", "cookies", len(cookies))
	return true, nil
}

// Save stores the session's current cookies for later runs.
func (m *Manager) Save(ctx context.Context) error {
	if err := m.session.RequireAuthenticated(); err != nil {
		return err
	}
	cookies, err := m.session.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("failed to extract cookies: %w", err)
	}
	if err := m.cookieStore.Save(cookies); err != nil {
		return fmt.Errorf("failed to save cookies: %w", err)
	}
	return nil
}

// Authenticate restores the session from cookies when reuse is set and
// possible, and otherwise runs resolver. Fresh logins are saved for reuse.
func (m *Manager) Authenticate(ctx context.Context, resolver *Resolver, probeURL, loginURL string, reuse bool) (Result, error) {
	if reuse {
		ok, err := m.Restore(ctx, probeURL, loginURL)
		if err != nil {
			m.logger.Warn("cookie restore failed", "error", err)
		}
		if ok {
			return Result{Implicit: true}, nil
		}
	}

	res, err := resolver.Login(ctx)
	if err != nil {
		return res, err
	}
	if reuse {
		if err := m.Save(ctx); err != nil {
			m.logger.Warn("could not store cookies", "error", err)
		}
	}
	return res, nil
}
