// Package auth persists and restores the authenticated X session cookies.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// CookieStore handles storage of X session cookies on disk.
type CookieStore struct {
	path string
}

// StoredCookies is the persisted cookie file shape.
type StoredCookies struct {
	Cookies    []*network.Cookie `json:"cookies"`
	CapturedAt time.Time         `json:"captured_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// NewCookieStore creates a cookie store at the given path.
func NewCookieStore(path string) *CookieStore {
	return &CookieStore{path: path}
}

// Save persists cookies to disk. The stored expiry is the earliest
// expiration among the auth-bearing cookies.
func (cs *CookieStore) Save(cookies []*network.Cookie) error {
	if err := os.MkdirAll(filepath.Dir(cs.path), 0o700); err != nil {
		return err
	}

	var earliest time.Time
	for _, c := range cookies {
		if c.Name == "auth_token" || c.Name == "ct0" {
			exp := time.Unix(int64(c.Expires), 0)
			if earliest.IsZero() || exp.Before(earliest) {
				earliest = exp
			}
		}
	}

	stored := StoredCookies{
		Cookies:    cookies,
		CapturedAt: time.Now(),
		ExpiresAt:  earliest,
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(cs.path, data, 0o600)
}

// Load retrieves cookies from disk.
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

// IsValid reports whether stored cookies exist, have not expired, and carry
// both auth_token and ct0.
func (cs *CookieStore) IsValid() bool {
	stored, err := cs.Load()
	if err != nil {
		return false
	}
	if time.Now().After(stored.ExpiresAt) {
		return false
	}

	hasAuthToken, hasCT0 := false, false
	for _, c := range stored.Cookies {
		switch c.Name {
		case "auth_token":
			hasAuthToken = true
		case "ct0":
			hasCT0 = true
		}
	}
	return hasAuthToken && hasCT0
}

// Clear removes stored cookies.
func (cs *CookieStore) Clear() error {
	err := os.Remove(cs.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// SessionCookies returns only the x.com/twitter.com cookies for injection.
func (cs *CookieStore) SessionCookies() ([]*network.Cookie, error) {
	stored, err := cs.Load()
	if err != nil {
		return nil, err
	}

	var out []*network.Cookie
	for _, c := range stored.Cookies {
		switch c.Domain {
		case ".x.com", "x.com", ".twitter.com", "twitter.com":
			out = append(out, c)
		}
	}
	return out, nil
}

// Inject sets the given cookies in a chromedp browser context. Must run
// before navigation.
func Inject(ctx context.Context, cookies []*network.Cookie) error {
	return chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, c := range cookies {
				err := network.SetCookie(c.Name, c.Value).
					WithDomain(c.Domain).
					WithPath(c.Path).
					WithSecure(c.Secure).
					WithHTTPOnly(c.HTTPOnly).
					WithSameSite(c.SameSite).
					Do(ctx)
				if err != nil {
					return fmt.Errorf("failed to set cookie %s: %w", c.Name, err)
				}
			}
			return nil
		}),
	)
}

// Extract reads all cookies from a chromedp browser context.
func Extract(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = storage.GetCookies().Do(ctx)
			return err
		}),
	)
	return cookies, err
}
