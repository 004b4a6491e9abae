package store

import (
	"context"

	"github.com/ecoworks/retrofit/pkg/model"
)

// Page bounds a range query. A zero Limit means no bound.
type Page struct {
	Offset int
	Limit  int
}

// Slice applies the page to an already-ordered slice.
func (p Page) Slice(n int) (lo, hi int) {
	lo = p.Offset
	if lo > n {
		lo = n
	}
	hi = n
	if p.Limit > 0 && lo+p.Limit < n {
		hi = lo + p.Limit
	}
	return lo, hi
}

// Reader is the read side of the store. Every method returns snapshots
// that the caller may mutate freely without affecting stored state.
type Reader interface {
	GetPrincipal(ctx context.Context, id string) (*model.Principal, error)
	ListPrincipals(ctx context.Context) ([]*model.Principal, error)

	GetOrganization(ctx context.Context, id string) (*model.Organization, error)
	ListOrganizations(ctx context.Context) ([]*model.Organization, error)
	// OrganizationsOf returns the organisations the principal is a member of.
	OrganizationsOf(ctx context.Context, principalID string) ([]*model.Organization, error)
	// OrganizationsWhereAdmin returns the organisations the principal
	// administers.
	OrganizationsWhereAdmin(ctx context.Context, principalID string) ([]*model.Organization, error)

	GetAssessment(ctx context.Context, id string) (*model.Assessment, error)
	// AssessmentsByOwner returns assessments owned by the principal,
	// ordered by id ascending.
	AssessmentsByOwner(ctx context.Context, principalID string) ([]*model.Assessment, error)
	// AssessmentsByOrg returns assessments attached to the organisation,
	// ordered by id ascending.
	AssessmentsByOrg(ctx context.Context, orgID string) ([]*model.Assessment, error)
	// AssessmentsSharedWith returns assessments whose shared_with set
	// contains the principal, ordered by id ascending.
	AssessmentsSharedWith(ctx context.Context, principalID string) ([]*model.Assessment, error)

	GetLibrary(ctx context.Context, id string) (*model.Library, error)
	LibrariesByOwnerUser(ctx context.Context, principalID string) ([]*model.Library, error)
	LibrariesByOwnerOrg(ctx context.Context, orgID string) ([]*model.Library, error)
	// LibrariesSharedWithOrgs returns libraries shared with any of the
	// given organisations, ordered by id ascending.
	LibrariesSharedWithOrgs(ctx context.Context, orgIDs []string) ([]*model.Library, error)
	GlobalLibraries(ctx context.Context) ([]*model.Library, error)

	GetImage(ctx context.Context, id string) (*model.Image, error)
	ImagesByAssessment(ctx context.Context, assessmentID string) ([]*model.Image, error)
}

// Tx is the mutation scope handed to Store.Update. Writes stamp updated_at,
// bump the entity version and fail with a conflict when the written
// snapshot is stale. Reads inside the transaction observe earlier writes of
// the same transaction.
type Tx interface {
	GetPrincipal(id string) (*model.Principal, error)
	PutPrincipal(p *model.Principal) error

	GetOrganization(id string) (*model.Organization, error)
	PutOrganization(o *model.Organization) error
	// DeleteOrganization fails while any assessment or library references
	// the organisation.
	DeleteOrganization(id string) error

	GetAssessment(id string) (*model.Assessment, error)
	PutAssessment(a *model.Assessment) error
	// DeleteAssessment cascades to the assessment's images and returns
	// the blob keys of the deleted images.
	DeleteAssessment(id string) ([]string, error)
	AssessmentsByOrg(orgID string) ([]*model.Assessment, error)

	GetLibrary(id string) (*model.Library, error)
	PutLibrary(l *model.Library) error
	DeleteLibrary(id string) error
	// Library listings inside the transaction observe earlier writes of
	// the same transaction, like the single-entity Gets.
	LibrariesByOwnerUser(principalID string) ([]*model.Library, error)
	LibrariesByOwnerOrg(orgID string) ([]*model.Library, error)
	GlobalLibraries() ([]*model.Library, error)

	GetImage(id string) (*model.Image, error)
	PutImage(i *model.Image) error
	// DeleteImage removes the image and clears any featured_image
	// reference pointing at it.
	DeleteImage(id string) error
	ImagesByAssessment(assessmentID string) ([]*model.Image, error)
}

// Store combines snapshot reads with transactional mutation. A cancelled
// context aborts the transaction before commit; nothing is partially
// applied.
type Store interface {
	Reader
	Update(ctx context.Context, fn func(tx Tx) error) error
}
