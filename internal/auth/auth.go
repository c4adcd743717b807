package auth

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/metadata"
)

// Scopes a caller may hold.
const (
	ScopePlan     = "plan:write"
	ScopeValidate = "plan:validate"
)

// AllScopes is granted to development callers.
var AllScopes = []string{ScopePlan, ScopeValidate}

// Authenticator validates incoming requests and returns the calling project.
type Authenticator interface {
	Authenticate(ctx context.Context) (*Caller, error)
}

// Caller is the authenticated project behind a request.
type Caller struct {
	ProjectID string
	Scopes    []string
}

// Can reports whether the caller holds scope.
func (c *Caller) Can(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

var (
	// ErrUnauthenticated is returned when no valid credentials are found.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is returned when the caller lacks a required scope.
	ErrForbidden = errors.New("forbidden")
)

// Require authenticates the request and checks that the caller holds scope.
func Require(ctx context.Context, a Authenticator, scope string) (*Caller, error) {
	caller, err := a.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	if !caller.Can(scope) {
		return nil, ErrForbidden
	}
	return caller, nil
}

// keyPrefixLen is the number of leading key characters stored in clear for lookup.
const keyPrefixLen = 8

// ExtractBearerToken extracts a tsk_ API key from gRPC metadata.
func ExtractBearerToken(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", ErrUnauthenticated
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return "", ErrUnauthenticated
	}
	token := values[0]
	token = strings.TrimPrefix(token, "Bearer ")
	token = strings.TrimPrefix(token, "bearer ")
	if !strings.HasPrefix(token, "tsk_") || len(token) <= keyPrefixLen {
		return "", ErrUnauthenticated
	}
	return token, nil
}
