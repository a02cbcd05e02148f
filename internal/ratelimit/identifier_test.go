package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		rc   RequestContext
		want Identifier
	}{
		{"user preferred over ip", RequestContext{UserID: "42", RemoteIP: "10.0.0.1"}, "user:42"},
		{"anonymous ipv4", RequestContext{RemoteIP: "203.0.113.5"}, "ip:203.0.113.5"},
		{"ipv4 mapped ipv6 collapses", RequestContext{RemoteIP: "::ffff:203.0.113.5"}, "ip:203.0.113.5"},
		{"ip with port", RequestContext{RemoteIP: "203.0.113.5:5555"}, "ip:203.0.113.5"},
		{"ipv6 compressed", RequestContext{RemoteIP: "2001:DB8:0:0::1"}, "ip:2001:db8::1"},
		{"missing ip", RequestContext{}, "ip:unknown"},
		{"blank user falls back to ip", RequestContext{UserID: "  ", RemoteIP: "10.0.0.1"}, "ip:10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.rc))
		})
	}
}

func TestResolve_UserIDCannotForgeKeys(t *testing.T) {
	id := Resolve(RequestContext{UserID: "42:blocked"})
	assert.Equal(t, Identifier("user:42%3Ablocked"), id)

	// A user literally named like an ip identifier stays in the user namespace
	spoof := Resolve(RequestContext{UserID: "ip:10.0.0.1"})
	assert.NotEqual(t, Resolve(RequestContext{RemoteIP: "10.0.0.1"}), spoof)
}

func TestParseIdentifier(t *testing.T) {
	id, err := ParseIdentifier("ip:::ffff:10.1.2.3")
	require.NoError(t, err)
	assert.Equal(t, Identifier("ip:10.1.2.3"), id)

	id, err = ParseIdentifier("user:42%3Ablocked")
	require.NoError(t, err)
	assert.Equal(t, Resolve(RequestContext{UserID: "42:blocked"}), id)

	for _, bad := range []string{"", "42", "user:", "ip:", "key:abc"} {
		_, err := ParseIdentifier(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseIdentifier_MatchesResolve(t *testing.T) {
	tests := []struct {
		name  string
		input string
		rc    RequestContext
	}{
		{"raw plus in user id", "user:alice+tag@example.com", RequestContext{UserID: "alice+tag@example.com"}},
		{"escaped plus in user id", "user:alice%2Btag%40example.com", RequestContext{UserID: "alice+tag@example.com"}},
		{"escaped percent in user id", "user:100%25", RequestContext{UserID: "100%"}},
		{"raw percent in user id", "user:100%", RequestContext{UserID: "100%"}},
		{"space in user id", "user:jane%20doe", RequestContext{UserID: "jane doe"}},
		{"canonical space in user id", "user:jane+doe", RequestContext{UserID: "jane doe"}},
		{"unknown ip bucket", "ip:unknown", RequestContext{}},
		{"non ip remote address", "ip:not-an-ip", RequestContext{RemoteIP: "not-an-ip"}},
		{"escaped non ip remote address", "ip:proxy%2Flocal", RequestContext{RemoteIP: "proxy/local"}},
		{"ip with port", "ip:10.0.0.1:443", RequestContext{RemoteIP: "10.0.0.1:443"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseIdentifier(tt.input)
			require.NoError(t, err)
			assert.Equal(t, Resolve(tt.rc), id)
		})
	}
}
