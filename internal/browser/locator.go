package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Attempt is one independent way of performing an action on the remote page.
type Attempt struct {
	Name string
	Do   func(ctx context.Context) error
}

// FirstOf runs attempts in order and stops at the first success, returning its name.
// If every attempt fails the error wraps ErrNotFound and lists each failure.
// Context errors abort the chain immediately.
func FirstOf(ctx context.Context, attempts ...Attempt) (string, error) {
	var failures []string
	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		err := a.Do(ctx)
		if err == nil {
			return a.Name, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return "", err
			}
		}
		failures = append(failures, fmt.Sprintf("%s: %v", a.Name, err))
	}
	return "", fmt.Errorf("%w: all %d strategies failed (%s)", ErrNotFound, len(attempts), strings.Join(failures, "; "))
}

// ClickAttempts builds one click Attempt per locator, in order.
func ClickAttempts(d Driver, locs ...Locator) []Attempt {
	attempts := make([]Attempt, 0, len(locs))
	for _, loc := range locs {
		attempts = append(attempts, Attempt{
			Name: loc.String(),
			Do: func(ctx context.Context) error {
				return d.Click(ctx, loc)
			},
		})
	}
	return attempts
}
