package ratelimit

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// LimitType names a protected operation class
type LimitType string

const (
	AuthLogin     LimitType = "AUTH_LOGIN"
	AuthSignup    LimitType = "AUTH_SIGNUP"
	MessageSend   LimitType = "MESSAGE_SEND"
	FileUpload    LimitType = "FILE_UPLOAD"
	DashboardRead LimitType = "DASHBOARD_READ"
	WebhookIngest LimitType = "WEBHOOK_INGEST"
)

// LimitTypes lists every known limit type in a stable order
func LimitTypes() []LimitType {
	return []LimitType{AuthLogin, AuthSignup, MessageSend, FileUpload, DashboardRead, WebhookIngest}
}

// ParseLimitType accepts any casing and rejects names outside the fixed set
func ParseLimitType(s string) (LimitType, error) {
	lt := LimitType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range LimitTypes() {
		if lt == known {
			return lt, nil
		}
	}
	return "", &ConfigurationError{LimitType: LimitType(s)}
}

type LimitPolicy struct {
	Name   LimitType     `json:"name"`
	Points int           `json:"points"`
	Window time.Duration `json:"window"`
	Block  time.Duration `json:"block"`
}

func (p LimitPolicy) Validate() error {
	if p.Points < 1 {
		return fmt.Errorf("policy %s: points must be >= 1, got %d", p.Name, p.Points)
	}
	if p.Window <= 0 {
		return fmt.Errorf("policy %s: window must be positive, got %s", p.Name, p.Window)
	}
	if p.Block < 0 {
		return fmt.Errorf("policy %s: block must not be negative, got %s", p.Name, p.Block)
	}
	return nil
}

// DefaultPolicies returns the built-in policy table
func DefaultPolicies() map[LimitType]LimitPolicy {
	return map[LimitType]LimitPolicy{
		AuthLogin:     {Name: AuthLogin, Points: 5, Window: 900 * time.Second, Block: 1800 * time.Second},
		AuthSignup:    {Name: AuthSignup, Points: 3, Window: 3600 * time.Second, Block: 3600 * time.Second},
		MessageSend:   {Name: MessageSend, Points: 60, Window: 60 * time.Second, Block: 1800 * time.Second},
		FileUpload:    {Name: FileUpload, Points: 10, Window: 3600 * time.Second, Block: 3600 * time.Second},
		DashboardRead: {Name: DashboardRead, Points: 50, Window: 60 * time.Second, Block: 300 * time.Second},
		WebhookIngest: {Name: WebhookIngest, Points: 1000, Window: 60 * time.Second, Block: 300 * time.Second},
	}
}

// PolicyOverride replaces the numbers of one built-in policy
type PolicyOverride struct {
	Points        int
	WindowSeconds int
	BlockSeconds  int
}

// Registry is the immutable policy table resolved at startup
type Registry struct {
	policies map[LimitType]LimitPolicy
}

// NewRegistry starts from the built-in table and applies overrides. Override keys
// are matched case-insensitively; an unknown key or an invalid result is an error.
func NewRegistry(overrides map[string]PolicyOverride) (*Registry, error) {
	policies := DefaultPolicies()

	for name, o := range overrides {
		lt, err := ParseLimitType(name)
		if err != nil {
			return nil, fmt.Errorf("policy override: %w", err)
		}
		policies[lt] = LimitPolicy{
			Name:   lt,
			Points: o.Points,
			Window: time.Duration(o.WindowSeconds) * time.Second,
			Block:  time.Duration(o.BlockSeconds) * time.Second,
		}
	}

	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}

	return &Registry{policies: policies}, nil
}

func (r *Registry) PolicyFor(lt LimitType) (LimitPolicy, error) {
	p, ok := r.policies[lt]
	if !ok {
		return LimitPolicy{}, &ConfigurationError{LimitType: lt}
	}
	return p, nil
}

// Policies returns every policy sorted by name
func (r *Registry) Policies() []LimitPolicy {
	out := make([]LimitPolicy, 0, len(r.policies))
	for _, p := range r.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
