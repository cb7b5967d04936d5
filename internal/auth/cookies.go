package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/ibeckermayer/slidecrawl/internal/config"
)

// SessionCookieMaxAge bounds how long cookies without an expiry are trusted.
const SessionCookieMaxAge = 12 * time.Hour

// CookieStore handles storage of the site's session cookies
type CookieStore struct {
	path string
	now  func() time.Time
}

// StoredCookies represents the persisted cookie data
type StoredCookies struct {
	Cookies    []*network.Cookie `json:"cookies"`
	CapturedAt time.Time         `json:"captured_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// NewCookieStore creates a cookie store at the given path
func NewCookieStore(path string) *CookieStore {
	return &CookieStore{path: path, now: time.Now}
}

// DefaultCookieStorePath returns the default path for cookie storage
func DefaultCookieStorePath() (string, error) {
	configDir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "cookies.json"), nil
}

// Save persists cookies to disk
func (cs *CookieStore) Save(cookies []*network.Cookie) error {
	dir := filepath.Dir(cs.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	now := cs.now()
	stored := StoredCookies{
		Cookies:    cookies,
		CapturedAt: now,
		ExpiresAt:  earliestExpiry(cookies, now),
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(cs.path, data, 0600)
}

// earliestExpiry is the first expiry among persistent cookies. Session
// cookies carry no expiry and are trusted for SessionCookieMaxAge.
func earliestExpiry(cookies []*network.Cookie, now time.Time) time.Time {
	expiry := now.Add(SessionCookieMaxAge)
	for _, c := range cookies {
		if c.Expires <= 0 {
			continue
		}
		exp := time.Unix(int64(c.Expires), 0)
		if exp.Before(expiry) {
			expiry = exp
		}
	}
	return expiry
}

// Load retrieves cookies from disk
func (cs *CookieStore) Load() (*StoredCookies, error) {
	data, err := os.ReadFile(cs.path)
	if err != nil {
		return nil, err
	}

	var stored StoredCookies
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}

	return &stored, nil
}

// IsValid checks if stored cookies are still valid
func (cs *CookieStore) IsValid() bool {
	stored, err := cs.Load()
	if err != nil {
		return false
	}
	return len(stored.Cookies) > 0 && cs.now().Before(stored.ExpiresAt)
}

// Clear removes stored cookies
func (cs *CookieStore) Clear() error {
	err := os.Remove(cs.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ForHost returns the stored cookies that apply to host.
func (cs *CookieStore) ForHost(host string) ([]*network.Cookie, error) {
	stored, err := cs.Load()
	if err != nil {
		return nil, err
	}

	var matched []*network.Cookie
	for _, c := range stored.Cookies {
		domain := strings.TrimPrefix(c.Domain, ".")
		if domain == host || strings.HasSuffix(host, "."+domain) {
			matched = append(matched, c)
		}
	}

	return matched, nil
}
