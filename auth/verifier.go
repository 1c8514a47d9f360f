// Package auth turns the credential a client presents into a verified identity.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/tcriess/lightspeed-contest/types"
)

var (
	// ErrAuthenticationFailed wraps every verification failure.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrUnsupportedCredential is returned by a Verifier that does not handle the kind of credential given,
	// a Chain then tries the next one.
	ErrUnsupportedCredential = errors.New("unsupported credential")
)

// A Verifier verifies a credential (usually an ID token) and returns the identity it belongs to.
type Verifier interface {
	Verify(ctx context.Context, credential string) (types.Identity, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, credential string) (types.Identity, error)

func (f VerifierFunc) Verify(ctx context.Context, credential string) (types.Identity, error) {
	return f(ctx, credential)
}

// Chain tries its verifiers in order and returns the first verified identity.
type Chain []Verifier

func (c Chain) Verify(ctx context.Context, credential string) (types.Identity, error) {
	if credential == "" {
		return types.Identity{}, fmt.Errorf("%w: empty credential", ErrAuthenticationFailed)
	}
	var lastErr error = ErrUnsupportedCredential
	for _, v := range c {
		identity, err := v.Verify(ctx, credential)
		if err == nil {
			if identity.Id == "" {
				lastErr = errors.New("verifier returned an identity without id")
				continue
			}
			return identity, nil
		}
		if errors.Is(err, ErrUnsupportedCredential) {
			continue
		}
		lastErr = err
	}
	if errors.Is(lastErr, ErrAuthenticationFailed) {
		return types.Identity{}, lastErr
	}
	return types.Identity{}, fmt.Errorf("%w: %v", ErrAuthenticationFailed, lastErr)
}
