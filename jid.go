package waweb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// JID server suffixes.
const (
	UserSuffix   = "@s.whatsapp.net"
	GroupSuffix  = "@g.us"
	LegacySuffix = "@c.us"
)

// UserJID turns a bare phone number into a user JID.
func UserJID(phone string) string {
	return strings.TrimPrefix(phone, "+") + UserSuffix
}

// IsGroupJID reports whether jid addresses a group.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, GroupSuffix)
}

// ErrNotOnWhatsApp is returned when a wa.me lookup does not resolve to a
// registered account.
var ErrNotOnWhatsApp = errors.New("waweb: phone is not registered")

// waMeBase is a variable so tests can point the lookup at a local server.
var waMeBase = "https://wa.me/"

// IsOnWhatsAppNoConn checks whether a phone number is registered without an
// open connection, by following the wa.me redirect. client may be nil; a
// passed-in client must not follow redirects.
func IsOnWhatsAppNoConn(ctx context.Context, client *http.Client, phone string) (string, error) {
	if client == nil {
		client = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, waMeBase+strings.TrimPrefix(phone, "+"), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Origin", DefaultOrigin)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("wa.me lookup failed: %w", err)
	}
	defer resp.Body.Close()

	location := resp.Header.Get("Location")
	if location == "" {
		return "", ErrNotOnWhatsApp
	}
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("wa.me returned a bad location: %w", err)
	}
	if !strings.HasSuffix(u.Path, "send/") {
		return "", ErrNotOnWhatsApp
	}
	number := u.Query().Get("phone")
	if number == "" {
		return "", ErrNotOnWhatsApp
	}
	return UserJID(number), nil
}
