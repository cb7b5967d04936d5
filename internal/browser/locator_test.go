package browser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/slidecrawl/internal/types"
)

func TestLocatorExpr(t *testing.T) {
	tests := []struct {
		loc  Locator
		want string
	}{
		{CSS(".el-pagination .btn-next"), `document.querySelector(".el-pagination .btn-next")`},
		{ID("slideVerify"), `document.getElementById("slideVerify")`},
		{XPath(`//button[@id="login"]`), `document.evaluate("//button[@id=\"login\"]", document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue`},
		{JS(`document.querySelector('a')`), `(document.querySelector('a'))`},
	}
	for _, tt := range tests {
		t.Run(tt.loc.String(), func(t *testing.T) {
			require.Equal(t, tt.want, tt.loc.Expr())
		})
	}
}

func TestFirstOfFirstSuccessWins(t *testing.T) {
	var calls []string
	attempt := func(name string, err error) Attempt {
		return Attempt{Name: name, Do: func(context.Context) error {
			calls = append(calls, name)
			return err
		}}
	}

	name, err := FirstOf(context.Background(),
		attempt("css", errors.New("missing")),
		attempt("role", nil),
		attempt("script", nil),
	)
	require.NoError(t, err)
	require.Equal(t, "role", name)
	require.Equal(t, []string{"css", "role"}, calls)
}

func TestFirstOfAllFail(t *testing.T) {
	fail := func(name string) Attempt {
		return Attempt{Name: name, Do: func(context.Context) error { return ErrNotFound }}
	}

	_, err := FirstOf(context.Background(), fail("a"), fail("b"))
	require.ErrorIs(t, err, ErrNotFound)
	require.Contains(t, err.Error(), "a: ")
	require.Contains(t, err.Error(), "b: ")
}

func TestFirstOfCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := FirstOf(ctx, Attempt{Name: "x", Do: func(context.Context) error { return nil }})
	require.ErrorIs(t, err, context.Canceled)
}

type clickOnly struct {
	Driver
	present map[string]bool
	clicked []string
}

func (c *clickOnly) Click(_ context.Context, loc Locator) error {
	if !c.present[loc.Query] {
		return ErrNotFound
	}
	c.clicked = append(c.clicked, loc.Query)
	return nil
}

func TestClickAttempts(t *testing.T) {
	d := &clickOnly{present: map[string]bool{"button.btn-next": true}}
	name, err := FirstOf(context.Background(), ClickAttempts(d,
		CSS(".el-pagination .btn-next"),
		CSS("button.btn-next"),
	)...)
	require.NoError(t, err)
	require.Equal(t, "css:button.btn-next", name)
	require.Equal(t, []string{"button.btn-next"}, d.clicked)
}

func TestSessionStatus(t *testing.T) {
	s := NewSession(&clickOnly{})
	require.Equal(t, types.AuthUnauthenticated, s.Status())
	require.Error(t, s.RequireAuthenticated())

	s.SetStatus(types.AuthAuthenticated)
	require.True(t, s.Authenticated())
	require.NoError(t, s.RequireAuthenticated())
}
