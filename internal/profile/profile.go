// Package profile defines the narrow port to the account directory. The
// order coordinator only needs enough of a profile to resolve notification
// recipients and instant-delivery eligibility.
package profile

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when no profile exists for the given user id.
var ErrNotFound = errors.New("profile not found")

// Profile is the subset of account data this service consumes.
type Profile struct {
	ID    string
	Name  string
	Email string
	Phone string
	Role  string
	City  string
}

// Directory resolves user ids to profiles.
type Directory interface {
	Get(ctx context.Context, userID string) (*Profile, error)
}
