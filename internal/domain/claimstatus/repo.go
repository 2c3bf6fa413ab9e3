package claimstatus

import (
	"context"

	"github.com/google/uuid"
)

// ClaimStore persists claims. Missing claims are reported as ErrNotFound.
// Update must append the entry and set the claim fields atomically.
type ClaimStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	FindByClaimNumber(ctx context.Context, number string) (*Claim, error)
	Update(ctx context.Context, id uuid.UUID, patch *ClaimPatch) (*Claim, error)
	Query(ctx context.Context, filter ClaimFilter) ([]*Claim, error)
}
