package core

import (
	"context"

	"github.com/dkeye/Meet/internal/domain"
)

// IdentityProvider turns an opaque bearer credential into a stable user id.
type IdentityProvider interface {
	Verify(ctx context.Context, credential string) (domain.UserID, error)
}
