package session

import (
	"context"
	"errors"

	"github.com/collabcards/dashboard/internal/models"
)

// ErrWiring matches every WiringError.
var ErrWiring = errors.New("session manager not in scope")

// WiringError reports that session state was read where no manager was
// provided. It signals a composition bug, not a runtime condition.
type WiringError struct {
	Accessor string
}

func (e *WiringError) Error() string { return e.Accessor + ": " + ErrWiring.Error() }

func (e *WiringError) Unwrap() error { return ErrWiring }

type managerKey struct{}

// WithManager scopes m to ctx and everything derived from it.
func WithManager(ctx context.Context, m *Manager) context.Context {
	return context.WithValue(ctx, managerKey{}, m)
}

// FromContext returns the manager scoped to ctx.
func FromContext(ctx context.Context) (*Manager, error) {
	m, ok := ctx.Value(managerKey{}).(*Manager)
	if !ok || m == nil {
		return nil, &WiringError{Accessor: "session.FromContext"}
	}
	return m, nil
}

// CurrentIdentity returns the identity of the manager scoped to ctx, nil when
// the session is anonymous.
func CurrentIdentity(ctx context.Context) (*models.Identity, error) {
	m, ok := ctx.Value(managerKey{}).(*Manager)
	if !ok || m == nil {
		return nil, &WiringError{Accessor: "session.CurrentIdentity"}
	}
	return m.Identity(), nil
}

// MustCurrentIdentity is CurrentIdentity that panics on a wiring error.
func MustCurrentIdentity(ctx context.Context) *models.Identity {
	id, err := CurrentIdentity(ctx)
	if err != nil {
		panic(err)
	}
	return id
}
