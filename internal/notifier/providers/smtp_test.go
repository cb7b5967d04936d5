package providers

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendBuildsMultipartMessage(t *testing.T) {
	s := NewSMTPSender("smtp.site.test", 587, "bot", "pw", "bot@site.test")

	var gotAddr string
	var gotAuth smtp.Auth
	var gotMsg string
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotMsg = addr, a, string(msg)
		require.Equal(t, "bot@site.test", from)
		require.Equal(t, []string{"ops@site.test"}, to)
		return nil
	}

	require.NoError(t, s.Send("ops@site.test", "slidecrawl ok", "<p>hi</p>", "line1\nline2"))
	require.Equal(t, "smtp.site.test:587", gotAddr)
	require.NotNil(t, gotAuth)
	require.Contains(t, gotMsg, "Subject: slidecrawl ok\r\n")
	require.Contains(t, gotMsg, "line1\r\nline2")
	require.Contains(t, gotMsg, "Content-Type: text/html")
	require.Less(t, strings.Index(gotMsg, "text/plain"), strings.Index(gotMsg, "text/html"))
	require.True(t, strings.HasSuffix(gotMsg, "--\r\n"))
}

func TestSendWithoutCredentials(t *testing.T) {
	s := NewSMTPSender("localhost", 25, "", "", "bot@site.test")
	s.sendMail = func(_ string, a smtp.Auth, _ string, _ []string, _ []byte) error {
		require.Nil(t, a)
		return errors.New("connection refused")
	}
	require.ErrorContains(t, s.Send("ops@site.test", "s", "h", "p"), "connection refused")
}
