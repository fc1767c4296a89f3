package auth

import (
	"errors"
	"net/http"
	"os"
	"strings"
)

var (
	ErrMissingBearer = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid token")
)

type Capability string

const (
	CapView     Capability = "view"
	CapRequest  Capability = "request"
	CapApprove  Capability = "approve"
	CapOverride Capability = "override"
)

// Context is the authorization context every workflow operation receives.
// It carries the actor identity plus the capability claims resolved at the
// edge, so the engine never inspects a session or token itself.
type Context struct {
	UserID       string
	DisplayName  string
	Capabilities map[Capability]bool
}

func (c Context) CanView() bool {
	return c.Capabilities[CapView] || c.CanRequest() || c.CanApprove()
}

func (c Context) CanRequest() bool  { return c.Capabilities[CapRequest] || c.CanOverride() }
func (c Context) CanApprove() bool  { return c.Capabilities[CapApprove] || c.CanOverride() }
func (c Context) CanOverride() bool { return c.Capabilities[CapOverride] }

func NewContext(userID, displayName string, caps ...Capability) Context {
	m := make(map[Capability]bool, len(caps))
	for _, capability := range caps {
		m[capability] = true
	}
	return Context{UserID: userID, DisplayName: displayName, Capabilities: m}
}

type Authenticator interface {
	Authenticate(r *http.Request) (Context, error)
}

// TokenEntry maps a static bearer token to an actor and their capabilities.
type TokenEntry struct {
	UserID       string
	DisplayName  string
	Capabilities []Capability
}

// StaticAuthenticator authenticates against a fixed token table, with an
// optional dev token that grants every capability. Tokens come from the
// config file, the dev token from the environment.
type StaticAuthenticator struct {
	DevToken string
	Tokens   map[string]TokenEntry
}

func NewAuthenticatorFromEnv(tokens map[string]TokenEntry) *StaticAuthenticator {
	return &StaticAuthenticator{
		DevToken: os.Getenv("APPROVALFLOW_DEV_TOKEN"),
		Tokens:   tokens,
	}
}

func (a *StaticAuthenticator) Authenticate(r *http.Request) (Context, error) {
	bearer, err := extractBearer(r)
	if err != nil {
		return Context{}, err
	}

	if a.DevToken != "" && bearer == a.DevToken {
		return NewContext("dev", "Dev User", CapView, CapRequest, CapApprove, CapOverride), nil
	}

	if entry, ok := a.Tokens[bearer]; ok {
		return NewContext(entry.UserID, entry.DisplayName, entry.Capabilities...), nil
	}

	return Context{}, ErrInvalidToken
}

func extractBearer(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingBearer
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}
