package connectivity

import (
	"context"
	"errors"
	"fmt"
)

// Backend failure classes. The apply job retries connection failures and
// discards the rest.
var (
	ErrAPIConnection      = errors.New("backend connection failed")
	ErrAuthentication     = errors.New("backend authentication failed")
	ErrUnsupportedBackend = errors.New("unsupported connectivity backend")
	ErrDeviceNotFound     = errors.New("device not registered with backend")
)

// Backend controls network access for a managed user's devices.
// Implementations wrap a router or network controller API.
type Backend interface {
	// Apply sets the user's network access to the given state.
	Apply(ctx context.Context, userID string, enabled bool) error

	// CheckStatus reports the user's current access state as the
	// backend sees it.
	CheckStatus(ctx context.Context, userID string) (bool, error)

	// Name identifies the backend in logs and health checks.
	Name() string
}

// NewBackend builds the configured backend by name.
func NewBackend(name string) (Backend, error) {
	switch name {
	case "mock":
		return NewMockBackend(), nil
	default:
		return nil, fmt.Errorf("%s: %w", name, ErrUnsupportedBackend)
	}
}
