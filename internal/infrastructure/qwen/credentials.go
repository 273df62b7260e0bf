package qwen

import (
	"fmt"
	"net/http"
)

// Credentials owns the upstream auth material: the anti-bot token and the
// cookie blob captured from a browser session. Both are opaque to the
// gateway and loaded once at startup — there is no runtime rotation.
type Credentials struct {
	token     string
	cookie    string
	userAgent string
}

// NewCredentials validates and holds the upstream auth material.
// Fails when either the token or the cookie is absent.
func NewCredentials(token, cookie, userAgent string) (*Credentials, error) {
	if token == "" {
		return nil, fmt.Errorf("upstream token is required")
	}
	if cookie == "" {
		return nil, fmt.Errorf("upstream cookie is required")
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Credentials{token: token, cookie: cookie, userAgent: userAgent}, nil
}

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Apply sets the fixed header set every upstream call requires.
// Their absence provokes the HTML anti-bot challenge.
func (c *Credentials) Apply(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Cookie", c.cookie)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
}

// TokenPreview returns a prefix-only preview for diagnostics.
// Full values are never exposed.
func (c *Credentials) TokenPreview() string {
	return preview(c.token)
}

// CookiePreview returns a prefix-only preview for diagnostics.
func (c *Credentials) CookiePreview() string {
	return preview(c.cookie)
}

func preview(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:8] + "..."
}
