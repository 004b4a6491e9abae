// Package visibility computes the sets of assessments and libraries a
// principal can see. Each query unions its sources, de-duplicates by id
// and returns ascending id order, so callers can paginate stably.
package visibility

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ecoworks/retrofit/pkg/model"
	"github.com/ecoworks/retrofit/pkg/oracle"
	"github.com/ecoworks/retrofit/pkg/store"
)

// AnnotatedLibrary is a visible library plus capability hints. The hints
// mirror what the permission oracle would decide for a write or share
// request; they are advisory and every mutation is still checked.
type AnnotatedLibrary struct {
	*model.Library
	CanWrite bool `json:"can_write"`
	CanShare bool `json:"can_share"`
}

// Resolver answers visibility queries against a store snapshot.
type Resolver struct {
	store store.Reader
}

// New creates a resolver over the given store.
func New(s store.Reader) *Resolver {
	return &Resolver{store: s}
}

// Assessments returns the assessments visible to the principal: owned,
// shared with them, or belonging to an organisation they administer.
func (r *Resolver) Assessments(ctx context.Context, principalID string, page store.Page) ([]*model.Assessment, error) {
	var owned, shared, administered []*model.Assessment

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		owned, err = r.store.AssessmentsByOwner(gctx, principalID)
		return err
	})
	g.Go(func() error {
		var err error
		shared, err = r.store.AssessmentsSharedWith(gctx, principalID)
		return err
	})
	g.Go(func() error {
		orgs, err := r.store.OrganizationsWhereAdmin(gctx, principalID)
		if err != nil {
			return err
		}
		for _, org := range orgs {
			as, err := r.store.AssessmentsByOrg(gctx, org.ID)
			if err != nil {
				return err
			}
			administered = append(administered, as...)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("resolving visible assessments: %w", err)
	}

	merged := dedupeAssessments(owned, shared, administered)
	lo, hi := page.Slice(len(merged))
	return merged[lo:hi], nil
}

// OrganisationAssessments returns the organisation's assessments as seen
// by the principal. Admins see every assessment in the organisation;
// everyone else sees only what they own or have been shared.
func (r *Resolver) OrganisationAssessments(ctx context.Context, principalID, orgID string, page store.Page) ([]*model.Assessment, error) {
	org, err := r.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	all, err := r.store.AssessmentsByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}

	visible := all
	if !org.HasAdmin(principalID) {
		visible = visible[:0:0]
		for _, a := range all {
			if a.OwnerID == principalID || a.IsSharedWith(principalID) {
				visible = append(visible, a)
			}
		}
	}

	lo, hi := page.Slice(len(visible))
	return visible[lo:hi], nil
}

// Libraries returns the libraries visible to the principal with
// capability hints: personally owned, owned by a member organisation,
// shared into a member organisation, and global.
func (r *Resolver) Libraries(ctx context.Context, principalID string, page store.Page) ([]AnnotatedLibrary, error) {
	principal, err := r.store.GetPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	memberOrgs, err := r.store.OrganizationsOf(ctx, principalID)
	if err != nil {
		return nil, err
	}
	orgIDs := make([]string, 0, len(memberOrgs))
	orgByID := make(map[string]*model.Organization, len(memberOrgs))
	for _, org := range memberOrgs {
		orgIDs = append(orgIDs, org.ID)
		orgByID[org.ID] = org
	}

	var personal, organisational, shared, global []*model.Library

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		personal, err = r.store.LibrariesByOwnerUser(gctx, principalID)
		return err
	})
	g.Go(func() error {
		for _, id := range orgIDs {
			ls, err := r.store.LibrariesByOwnerOrg(gctx, id)
			if err != nil {
				return err
			}
			organisational = append(organisational, ls...)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		shared, err = r.store.LibrariesSharedWithOrgs(gctx, orgIDs)
		return err
	})
	g.Go(func() error {
		var err error
		global, err = r.store.GlobalLibraries(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("resolving visible libraries: %w", err)
	}

	merged := dedupeLibraries(personal, organisational, shared, global)
	lo, hi := page.Slice(len(merged))
	merged = merged[lo:hi]

	principalOrgIDs := model.NewSet(orgIDs...)
	out := make([]AnnotatedLibrary, 0, len(merged))
	for _, l := range merged {
		env := &oracle.Env{
			Principal:       principal,
			Library:         l,
			LibraryOwnerOrg: orgByID[l.OwnerOrgID],
			PrincipalOrgIDs: principalOrgIDs,
		}
		out = append(out, AnnotatedLibrary{
			Library:  l,
			CanWrite: allows(model.ActionWriteLibrary, env),
			CanShare: allows(model.ActionShareLibrary, env),
		})
	}
	return out, nil
}

func allows(action model.Action, env *oracle.Env) bool {
	expr, ok := oracle.RuleFor(action)
	if !ok {
		return false
	}
	env.Action = action
	return oracle.Eval(expr, env)
}

func dedupeAssessments(sources ...[]*model.Assessment) []*model.Assessment {
	seen := map[string]*model.Assessment{}
	for _, src := range sources {
		for _, a := range src {
			if _, ok := seen[a.ID]; !ok {
				seen[a.ID] = a
			}
		}
	}
	out := make([]*model.Assessment, 0, len(seen))
	for _, a := range seen {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func dedupeLibraries(sources ...[]*model.Library) []*model.Library {
	seen := map[string]*model.Library{}
	for _, src := range sources {
		for _, l := range src {
			if _, ok := seen[l.ID]; !ok {
				seen[l.ID] = l
			}
		}
	}
	out := make([]*model.Library, 0, len(seen))
	for _, l := range seen {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
