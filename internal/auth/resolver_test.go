package auth

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/slidecrawl/internal/browser"
	"github.com/ibeckermayer/slidecrawl/internal/poll"
	"github.com/ibeckermayer/slidecrawl/internal/types"
)

const (
	loginURL = "https://site.test/login"
	homeURL  = "https://site.test/home"
)

type outcome int

const (
	pass    outcome = iota // site navigates away
	reject                 // dialog stays
	dismiss                // dialog closes, still on login page
)

// fakeSite simulates the login page and its slider challenge.
type fakeSite struct {
	browser.Driver

	layoutBroken bool
	challenge    bool
	judge        func(attempt, dx int) outcome
	moveErrOnce  error

	location   string
	dialogOpen bool
	submits    int
	refreshes  int
	drags      []int
	downX      float64

	cookies      []*network.Cookie
	requireLogin bool
}

func (f *fakeSite) Navigate(_ context.Context, url string) error {
	f.location = url
	if f.requireLogin && url != loginURL && len(f.cookies) == 0 {
		f.location = loginURL
	}
	return nil
}

func (f *fakeSite) Location(context.Context) (string, error) { return f.location, nil }

func (f *fakeSite) WaitVisible(_ context.Context, loc browser.Locator, _ time.Duration) error {
	switch loc {
	case DefaultSelectors.Dialog:
		if f.dialogOpen {
			return nil
		}
		return browser.ErrNotFound
	case DefaultSelectors.Username, DefaultSelectors.Password:
		if f.layoutBroken {
			return browser.ErrNotFound
		}
		return nil
	}
	return browser.ErrNotFound
}

func (f *fakeSite) Visible(_ context.Context, loc browser.Locator) (bool, error) {
	return loc == DefaultSelectors.Dialog && f.dialogOpen, nil
}

func (f *fakeSite) SetValue(context.Context, browser.Locator, string) error { return nil }

func (f *fakeSite) Click(_ context.Context, loc browser.Locator) error {
	switch loc {
	case DefaultSelectors.Submit:
		f.submits++
		if f.challenge {
			f.dialogOpen = true
		} else {
			f.location = homeURL
		}
	case DefaultSelectors.Refresh:
		if !f.dialogOpen {
			return browser.ErrNotFound
		}
		f.refreshes++
	default:
		return browser.ErrNotFound
	}
	return nil
}

func (f *fakeSite) Center(context.Context, browser.Locator) (float64, float64, error) {
	return 100, 200, nil
}

func (f *fakeSite) PointerDown(_ context.Context, x, _ float64) error {
	f.downX = x
	return nil
}

func (f *fakeSite) PointerMove(context.Context, float64, float64) error {
	if err := f.moveErrOnce; err != nil {
		f.moveErrOnce = nil
		return err
	}
	return nil
}

func (f *fakeSite) PointerUp(_ context.Context, x, _ float64) error {
	dx := int(x - f.downX)
	f.drags = append(f.drags, dx)
	switch f.judge(len(f.drags), dx) {
	case pass:
		f.dialogOpen = false
		f.location = homeURL
	case dismiss:
		f.dialogOpen = false
	}
	return nil
}

func (f *fakeSite) SetCookies(_ context.Context, cookies []*network.Cookie) error {
	f.cookies = cookies
	return nil
}

func (f *fakeSite) Cookies(context.Context) ([]*network.Cookie, error) {
	return []*network.Cookie{{Name: "JSESSIONID", Value: "abc", Domain: "site.test", Expires: -1}}, nil
}

type fakeGaps struct {
	gap    int
	misses int
	calls  int
}

func (g *fakeGaps) LocateGap(context.Context) (int, bool) {
	g.calls++
	if g.misses > 0 {
		g.misses--
		return 0, false
	}
	return g.gap, true
}

func testOptions() Options {
	return Options{
		LoginURL:          loginURL,
		Username:          "2021001",
		Password:          "secret",
		CalibrationOffset: 12,
		MaxAttempts:       5,
		DialogWait:        time.Second,
		SettleTime:        time.Second,
		GapPolls:          3,
		PollInterval:      time.Millisecond,
		StepDelay:         10 * time.Millisecond,
		Selectors:         DefaultSelectors,
	}
}

func newTestResolver(site *fakeSite, gaps *fakeGaps) (*Resolver, *browser.Session) {
	session := browser.NewSession(site)
	r := NewResolver(session, gaps, testOptions(), nil)
	r.Sleep = poll.NoSleep
	r.Rand = rand.New(rand.NewSource(1))
	return r, session
}

func TestLoginDragsGapPlusCalibration(t *testing.T) {
	site := &fakeSite{challenge: true, judge: func(_, dx int) outcome {
		if dx == 132 {
			return pass
		}
		return reject
	}}
	r, session := newTestResolver(site, &fakeGaps{gap: 120})

	var trace []State
	r.OnTransition = func(_, to State) { trace = append(trace, to) }

	res, err := r.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Attempts)
	require.False(t, res.Implicit)
	require.Equal(t, types.Geometry{GapOffset: 120, CalibrationOffset: 12}, res.Geometry)
	require.Equal(t, []int{132}, site.drags)
	require.True(t, session.Authenticated())
	require.Equal(t, []State{
		StateCredentialsSubmitted,
		StateChallengePresented,
		StateOffsetKnown,
		StateDragging,
		StateVerifying,
		StateSuccess,
	}, trace)
}

func TestLoginFailsAfterExactlyMaxAttempts(t *testing.T) {
	site := &fakeSite{challenge: true, judge: func(int, int) outcome { return reject }}
	r, session := newTestResolver(site, &fakeGaps{gap: 80})

	res, err := r.Login(context.Background())
	require.ErrorIs(t, err, ErrChallengeFailed)
	require.Equal(t, 5, res.Attempts)
	require.Len(t, site.drags, 5)
	require.Equal(t, 4, site.refreshes)
	require.Equal(t, 1, site.submits)
	require.Equal(t, types.AuthUnauthenticated, session.Status())
}

func TestLoginSucceedsWithinBound(t *testing.T) {
	// each script is one possible draw of attempts that pass half the time
	scripts := [][]outcome{
		{pass},
		{reject, pass},
		{reject, reject, pass},
		{reject, reject, reject, reject, pass},
	}
	for _, script := range scripts {
		site := &fakeSite{challenge: true, judge: func(attempt, _ int) outcome { return script[attempt-1] }}
		r, session := newTestResolver(site, &fakeGaps{gap: 60})

		res, err := r.Login(context.Background())
		require.NoError(t, err)
		require.Equal(t, len(script), res.Attempts)
		require.LessOrEqual(t, res.Attempts, 5)
		require.True(t, session.Authenticated())
	}
}

func TestLoginSucceedsWithRandomVerification(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	successes := 0
	for range 50 {
		site := &fakeSite{challenge: true, judge: func(int, int) outcome {
			if rng.Float64() < 0.5 {
				return pass
			}
			return reject
		}}
		r, _ := newTestResolver(site, &fakeGaps{gap: 60})

		res, err := r.Login(context.Background())
		require.LessOrEqual(t, res.Attempts, 5)
		if err == nil {
			successes++
		} else {
			require.ErrorIs(t, err, ErrChallengeFailed)
			require.Equal(t, 5, res.Attempts)
		}
	}
	// failure needs five consecutive rejections, probability 1/32 per login
	require.Greater(t, successes, 40)
}

func TestLoginWithoutChallengeIsImplicitSuccess(t *testing.T) {
	site := &fakeSite{challenge: false}
	r, session := newTestResolver(site, &fakeGaps{})

	res, err := r.Login(context.Background())
	require.NoError(t, err)
	require.True(t, res.Implicit)
	require.Zero(t, res.Attempts)
	require.Empty(t, site.drags)
	require.True(t, session.Authenticated())
}

func TestLoginMissingFormIsFatal(t *testing.T) {
	site := &fakeSite{layoutBroken: true, challenge: true}
	r, session := newTestResolver(site, &fakeGaps{gap: 10})

	_, err := r.Login(context.Background())
	require.ErrorIs(t, err, ErrLayout)
	require.Zero(t, site.submits)
	require.False(t, session.Authenticated())
}

func TestLoginRetriesWhenGapMissing(t *testing.T) {
	site := &fakeSite{challenge: true, judge: func(int, int) outcome { return pass }}
	gaps := &fakeGaps{gap: 90, misses: 3}
	r, _ := newTestResolver(site, gaps)

	res, err := r.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Attempts)
	require.Equal(t, 1, site.refreshes)
	require.Equal(t, 4, gaps.calls)
	require.Equal(t, []int{102}, site.drags)
}

func TestLoginRetriesAfterDragError(t *testing.T) {
	site := &fakeSite{
		challenge:   true,
		moveErrOnce: errors.New("pointer lost"),
		judge: func(_, dx int) outcome {
			if dx == 62 {
				return pass
			}
			return reject
		},
	}
	r, _ := newTestResolver(site, &fakeGaps{gap: 50})

	res, err := r.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Attempts)
	// the failed drag still releases the pointer
	require.Len(t, site.drags, 2)
}

func TestLoginResubmitsWhenDialogDismissed(t *testing.T) {
	outcomes := []outcome{dismiss, pass}
	site := &fakeSite{challenge: true, judge: func(attempt, _ int) outcome { return outcomes[attempt-1] }}
	r, _ := newTestResolver(site, &fakeGaps{gap: 70})

	res, err := r.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Attempts)
	require.Equal(t, 2, site.submits)
	require.Zero(t, site.refreshes)
}

func TestLoginCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	site := &fakeSite{challenge: true}
	r, _ := newTestResolver(site, &fakeGaps{})
	_, err := r.Login(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, site.submits)
}

func TestIsLoginPage(t *testing.T) {
	require.True(t, isLoginPage("https://site.test/login", loginURL))
	require.True(t, isLoginPage("https://site.test/login/", loginURL))
	require.False(t, isLoginPage("https://site.test/home", loginURL))
	require.False(t, isLoginPage("https://other.test/login", loginURL))
}
