package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/ibeckermayer/slidecrawl/internal/browser"
	"github.com/ibeckermayer/slidecrawl/internal/config"
	"github.com/ibeckermayer/slidecrawl/internal/poll"
	"github.com/ibeckermayer/slidecrawl/internal/trajectory"
	"github.com/ibeckermayer/slidecrawl/internal/types"
)

var (
	// ErrLayout means the login form could not be found. It is never retried.
	ErrLayout = errors.New("login form not found")
	// ErrChallengeFailed means every challenge attempt was rejected.
	ErrChallengeFailed = errors.New("slider challenge failed")
)

// State is a step of the challenge resolution machine.
type State int

const (
	StateInit State = iota
	StateCredentialsSubmitted
	StateChallengePresented
	StateOffsetKnown
	StateDragging
	StateVerifying
	StateRetry
	StateSuccess
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateCredentialsSubmitted:
		return "credentials_submitted"
	case StateChallengePresented:
		return "challenge_presented"
	case StateOffsetKnown:
		return "offset_known"
	case StateDragging:
		return "dragging"
	case StateVerifying:
		return "verifying"
	case StateRetry:
		return "retry"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// GapReader exposes the challenge's gap offset.
type GapReader interface {
	LocateGap(ctx context.Context) (int, bool)
}

// Selectors locate the login form and the slider challenge.
type Selectors struct {
	Username browser.Locator
	Password browser.Locator
	Submit   browser.Locator
	Dialog   browser.Locator
	Slider   browser.Locator
	Refresh  browser.Locator
}

// DefaultSelectors match the site's login page.
var DefaultSelectors = Selectors{
	Username: browser.XPath(`//input[@class="login-input user"][1]`),
	Password: browser.XPath(`//div[@class="val pwd-after"]//input`),
	Submit:   browser.XPath(`//button[@id="login"]`),
	Dialog:   browser.CSS(".el-dialog__wrapper"),
	Slider:   browser.CSS(".slide-verify-slider-mask-item"),
	Refresh:  browser.CSS(".slide-verify-refresh-icon"),
}

// Options tune one Resolver.
type Options struct {
	LoginURL string
	Username string
	Password string

	CalibrationOffset int
	MaxAttempts       int
	DialogWait        time.Duration
	SettleTime        time.Duration
	GapPolls          int
	PollInterval      time.Duration
	StepDelay         time.Duration
	FieldWait         time.Duration

	Selectors Selectors
}

// OptionsFromConfig builds resolver options from the site and challenge sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		LoginURL:          cfg.LoginURL(),
		Username:          cfg.Site.Username,
		Password:          cfg.Site.Password,
		CalibrationOffset: cfg.Challenge.CalibrationOffset,
		MaxAttempts:       cfg.Challenge.MaxAttempts,
		DialogWait:        cfg.Challenge.DialogWait.Duration,
		SettleTime:        cfg.Challenge.SettleTime.Duration,
		GapPolls:          cfg.Challenge.GapPolls,
		PollInterval:      cfg.Challenge.PollInterval.Duration,
		StepDelay:         cfg.Challenge.StepDelay.Duration,
		FieldWait:         10 * time.Second,
		Selectors:         DefaultSelectors,
	}
}

// Result describes a finished login.
type Result struct {
	Attempts int
	// Implicit is set when the site accepted the credentials without a challenge.
	Implicit bool
	Geometry types.Geometry
}

// Resolver drives the login form and slider challenge of one session.
type Resolver struct {
	session *browser.Session
	gaps    GapReader
	opts    Options
	logger  *slog.Logger

	// Sleep and Rand are replaced in tests.
	Sleep poll.SleepFunc
	Rand  *rand.Rand
	// OnTransition, if set, observes every state change.
	OnTransition func(from, to State)
}

func NewResolver(session *browser.Session, gaps GapReader, opts Options, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.GapPolls < 1 {
		opts.GapPolls = 1
	}
	return &Resolver{
		session: session,
		gaps:    gaps,
		opts:    opts,
		logger:  logger.With("component", "auth"),
		Sleep:   poll.Sleep,
		Rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Login runs the machine from Init to a terminal state. On success the
// session is marked authenticated. A missing login form returns ErrLayout;
// exhausting the attempts returns ErrChallengeFailed.
func (r *Resolver) Login(ctx context.Context) (Result, error) {
	var (
		res      Result
		state    = StateInit
		steps    []trajectory.Step
		resubmit bool
	)

	move := func(to State) {
		if r.OnTransition != nil {
			r.OnTransition(state, to)
		}
		r.logger.Debug("challenge transition", "from", state, "to", to)
		state = to
	}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		switch state {
		case StateInit:
			if err := r.session.Navigate(ctx, r.opts.LoginURL); err != nil {
				return res, err
			}
			if err := r.submitCredentials(ctx); err != nil {
				return res, err
			}
			move(StateCredentialsSubmitted)

		case StateCredentialsSubmitted:
			err := r.session.WaitVisible(ctx, r.opts.Selectors.Dialog, r.opts.DialogWait)
			switch {
			case errors.Is(err, browser.ErrNotFound):
				r.logger.Info("no challenge presented, treating login as successful")
				res.Implicit = true
				move(StateSuccess)
			case err != nil:
				return res, fmt.Errorf("failed waiting for challenge: %w", err)
			default:
				move(StateChallengePresented)
			}

		case StateChallengePresented:
			res.Attempts++
			r.logger.Info("solving challenge", "attempt", res.Attempts, "max", r.opts.MaxAttempts)

			gap, ok, err := r.pollGap(ctx)
			if err != nil {
				return res, err
			}
			if !ok {
				r.logger.Warn("gap offset not exposed", "polls", r.opts.GapPolls)
				move(StateRetry)
				continue
			}
			res.Geometry = types.Geometry{GapOffset: gap, CalibrationOffset: r.opts.CalibrationOffset}
			move(StateOffsetKnown)

		case StateOffsetKnown:
			steps = trajectory.Generate(res.Geometry.Distance(), r.Rand)
			r.logger.Info("dragging slider",
				"gap", res.Geometry.GapOffset,
				"distance", res.Geometry.Distance(),
				"steps", len(steps))
			move(StateDragging)

		case StateDragging:
			if err := r.drag(ctx, steps); err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				r.logger.Warn("drag failed", "error", err)
				move(StateRetry)
				continue
			}
			move(StateVerifying)

		case StateVerifying:
			if err := r.Sleep(ctx, r.opts.SettleTime); err != nil {
				return res, err
			}
			loc, err := r.session.Location(ctx)
			if err == nil && !isLoginPage(loc, r.opts.LoginURL) {
				move(StateSuccess)
				continue
			}
			visible, _ := r.session.Visible(ctx, r.opts.Selectors.Dialog)
			if visible {
				r.logger.Info("challenge rejected", "attempt", res.Attempts)
			} else {
				r.logger.Info("challenge closed but still on login page, resubmitting", "attempt", res.Attempts)
				resubmit = true
			}
			move(StateRetry)

		case StateRetry:
			if res.Attempts >= r.opts.MaxAttempts {
				move(StateFailed)
				continue
			}
			if resubmit {
				resubmit = false
				if err := r.submitCredentials(ctx); err != nil {
					return res, err
				}
				move(StateCredentialsSubmitted)
				continue
			}
			if err := r.session.Click(ctx, r.opts.Selectors.Refresh); err != nil {
				r.logger.Debug("refresh control not clicked", "error", err)
			}
			if err := r.Sleep(ctx, r.opts.PollInterval); err != nil {
				return res, err
			}
			move(StateChallengePresented)

		case StateSuccess:
			r.session.SetStatus(types.AuthAuthenticated)
			r.logger.Info("login succeeded", "attempts", res.Attempts)
			return res, nil

		case StateFailed:
			r.session.SetStatus(types.AuthUnauthenticated)
			return res, fmt.Errorf("%w after %d attempts", ErrChallengeFailed, res.Attempts)
		}
	}
}

func (r *Resolver) submitCredentials(ctx context.Context) error {
	sel := r.opts.Selectors
	fields := []struct {
		loc   browser.Locator
		value string
	}{
		{sel.Username, r.opts.Username},
		{sel.Password, r.opts.Password},
	}
	for _, f := range fields {
		if err := r.session.WaitVisible(ctx, f.loc, r.opts.FieldWait); err != nil {
			if errors.Is(err, browser.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrLayout, f.loc)
			}
			return err
		}
		if err := r.session.SetValue(ctx, f.loc, f.value); err != nil {
			return fmt.Errorf("%w: %v", ErrLayout, err)
		}
	}
	if err := r.session.Click(ctx, sel.Submit); err != nil {
		if errors.Is(err, browser.ErrNotFound) {
			return fmt.Errorf("%w: %v", ErrLayout, err)
		}
		return err
	}
	r.logger.Info("credentials submitted")
	return nil
}

func (r *Resolver) pollGap(ctx context.Context) (int, bool, error) {
	var gap int
	p := poll.Poller{Interval: r.opts.PollInterval, Attempts: r.opts.GapPolls, Sleep: r.Sleep}
	ok, _, err := p.Until(ctx, func(ctx context.Context) (bool, error) {
		g, found := r.gaps.LocateGap(ctx)
		gap = g
		return found, nil
	})
	return gap, ok, err
}

// drag presses the slider, replays steps as absolute pointer positions and releases.
func (r *Resolver) drag(ctx context.Context, steps []trajectory.Step) error {
	x, y, err := r.session.Center(ctx, r.opts.Selectors.Slider)
	if err != nil {
		return err
	}
	if err := r.session.PointerDown(ctx, x, y); err != nil {
		return err
	}
	cx, cy := x, y
	for i, s := range steps {
		cx += float64(s.DX)
		cy += float64(s.DY)
		if err := r.session.PointerMove(ctx, cx, cy); err != nil {
			// release so the slider is not left held
			_ = r.session.PointerUp(ctx, cx, cy)
			return fmt.Errorf("move %d/%d: %w", i+1, len(steps), err)
		}
		if i < len(steps)-1 && r.opts.StepDelay > 0 {
			if err := r.Sleep(ctx, r.opts.StepDelay); err != nil {
				return err
			}
		}
	}
	return r.session.PointerUp(ctx, cx, cy)
}

// isLoginPage reports whether loc is still the login location.
func isLoginPage(loc, loginURL string) bool {
	cur, err := url.Parse(loc)
	if err != nil {
		return true
	}
	login, err := url.Parse(loginURL)
	if err != nil {
		return strings.Contains(strings.ToLower(loc), "login")
	}
	return cur.Host == login.Host && strings.TrimSuffix(cur.Path, "/") == strings.TrimSuffix(login.Path, "/")
}
