package auth

import (
	"context"
)

// StaticAuthenticator is a development-only authenticator that accepts any
// well-formed tsk_ key and grants every scope.
type StaticAuthenticator struct{}

func NewStaticAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{}
}

func (a *StaticAuthenticator) Authenticate(ctx context.Context) (*Caller, error) {
	token, err := ExtractBearerToken(ctx)
	if err != nil {
		return nil, err
	}
	return &Caller{
		ProjectID: "static-" + token[:keyPrefixLen],
		Scopes:    AllScopes,
	}, nil
}
