package ratelimit

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// Identifier names the rate-limited actor: "user:<id>" or "ip:<addr>"
type Identifier string

const (
	userPrefix = "user:"
	ipPrefix   = "ip:"
)

// RequestContext is what a protected handler knows about the caller
type RequestContext struct {
	UserID   string // empty when the request is anonymous
	RemoteIP string
}

// Resolve prefers the authenticated user so anonymous traffic from a shared IP
// cannot drain the budget of users behind it, and the other way round.
// User ids are query-escaped, so no ':' survives and no id can spell another
// identifier or a block-marker key.
func Resolve(rc RequestContext) Identifier {
	if uid := strings.TrimSpace(rc.UserID); uid != "" {
		return Identifier(userPrefix + url.QueryEscape(uid))
	}
	return Identifier(ipPrefix + canonicalIP(rc.RemoteIP))
}

func canonicalIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddr(raw); err == nil {
		return addr.Unmap().WithZone("").String()
	}
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap.Addr().Unmap().WithZone("").String()
	}
	return url.QueryEscape(raw)
}

// ParseIdentifier validates an identifier supplied by an operator and returns
// the form Resolve produces for the same client
func ParseIdentifier(s string) (Identifier, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, userPrefix):
		raw := strings.TrimPrefix(s, userPrefix)
		if raw == "" {
			return "", fmt.Errorf("identifier %q has an empty user id", s)
		}
		return Resolve(RequestContext{UserID: unescapeID(raw)}), nil
	case strings.HasPrefix(s, ipPrefix):
		raw := strings.TrimPrefix(s, ipPrefix)
		if raw == "" {
			return "", fmt.Errorf("identifier %q has an empty address", s)
		}
		return Identifier(ipPrefix + canonicalIP(unescapeID(raw))), nil
	default:
		return "", fmt.Errorf("identifier %q must start with %q or %q", s, userPrefix, ipPrefix)
	}
}

// unescapeID recovers the raw value behind an operator-supplied id. Input already
// in the escaped form Resolve emits is taken as is ("jane+doe" is "jane doe");
// anything else is a literal, percent escapes aside, so a bare '+' stays '+'.
func unescapeID(raw string) string {
	if u, err := url.QueryUnescape(raw); err == nil && url.QueryEscape(u) == raw {
		return u
	}
	if u, err := url.PathUnescape(raw); err == nil {
		return u
	}
	return raw
}

func (id Identifier) String() string {
	return string(id)
}
