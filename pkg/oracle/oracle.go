package oracle

import (
	"context"
	"fmt"

	"github.com/ecoworks/retrofit/pkg/model"
	"github.com/ecoworks/retrofit/pkg/store"
)

// Check is one permission question: may this principal perform this action
// on this resource. Target fields qualify share, reassign and promote
// actions; Method enables read/write branching for dual-method endpoints.
type Check struct {
	PrincipalID       string            `json:"principal_id"`
	Action            model.Action      `json:"action"`
	Resource          model.ResourceRef `json:"resource"`
	TargetPrincipalID string            `json:"target_principal_id,omitempty"`
	Method            string            `json:"method,omitempty"`
}

func (c Check) cacheKey() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s",
		c.PrincipalID, c.Action, c.Resource.Kind, c.Resource.ID, c.TargetPrincipalID, c.Method)
}

// Oracle decides permission checks. It is safe for concurrent use; a
// decision performs a bounded number of snapshot loads and no writes.
type Oracle struct {
	store store.Reader
	cache *DecisionCache
}

// Option configures the oracle.
type Option func(*Oracle)

// WithCache memoises decisions in the given cache. The mutation gateway
// must invalidate the cache after every committed mutation.
func WithCache(c *DecisionCache) Option {
	return func(o *Oracle) { o.cache = c }
}

// New creates an oracle over the given store.
func New(s store.Reader, opts ...Option) *Oracle {
	o := &Oracle{store: s}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Decide answers a permission check. Errors are reserved for store
// failures; every authorization outcome, including unknown resources,
// arrives as a Decision.
func (o *Oracle) Decide(ctx context.Context, check Check) (Decision, error) {
	if o.cache != nil {
		if d, ok := o.cache.Get(check.cacheKey()); ok {
			return d, nil
		}
	}

	env, early, err := o.loadEnv(ctx, check)
	if err != nil {
		return Decision{}, err
	}
	if early != nil {
		return *early, nil
	}

	d := DecideInEnv(env)

	if o.cache != nil {
		o.cache.Put(check.cacheKey(), d)
	}
	return d, nil
}

// DecideInEnv evaluates the rule for the environment's action against an
// already-loaded environment. This is the pure half of Decide; it never
// touches the store.
func DecideInEnv(env *Env) Decision {
	r, ok := rules[env.Action]
	if !ok {
		return Deny(model.ReasonBadRequest, "unknown action %q", env.Action)
	}
	if Eval(r.expr, env) {
		return Allow()
	}

	d := r.deny(env)

	// Existence masking: a principal without read permission on an
	// assessment or library learns nothing, whatever it asked for.
	if mask := readRuleForKind(kindOf(env)); mask != nil && d.Code != model.ReasonUnauthenticated {
		if !Eval(mask, env) {
			return Deny(model.ReasonNotFound, "%s not found", kindOf(env))
		}
	}
	return d
}

func kindOf(env *Env) model.ResourceKind {
	switch {
	case env.Assessment != nil:
		return model.KindAssessment
	case env.Library != nil:
		return model.KindLibrary
	case env.Org != nil:
		return model.KindOrganisation
	default:
		return model.KindNone
	}
}

// loadEnv gathers the snapshots a rule may touch. Missing resources
// short-circuit into a NOT_FOUND decision; a missing or empty principal
// short-circuits into UNAUTHENTICATED.
func (o *Oracle) loadEnv(ctx context.Context, check Check) (*Env, *Decision, error) {
	if check.PrincipalID == "" {
		d := Deny(model.ReasonUnauthenticated, "no principal bound to the call")
		return nil, &d, nil
	}
	principal, err := o.store.GetPrincipal(ctx, check.PrincipalID)
	if err != nil {
		if model.IsNotFound(err) {
			d := Deny(model.ReasonUnauthenticated, "principal %s is unknown", check.PrincipalID)
			return nil, &d, nil
		}
		return nil, nil, fmt.Errorf("loading principal: %w", err)
	}

	env := &Env{
		Principal:         principal,
		Action:            check.Action,
		Method:            check.Method,
		TargetPrincipalID: check.TargetPrincipalID,
	}

	switch check.Resource.Kind {
	case model.KindAssessment:
		a, err := o.store.GetAssessment(ctx, check.Resource.ID)
		if err != nil {
			if model.IsNotFound(err) {
				d := Deny(model.ReasonNotFound, "assessment not found")
				return nil, &d, nil
			}
			return nil, nil, fmt.Errorf("loading assessment: %w", err)
		}
		env.Assessment = a
		if a.InOrganisation() {
			org, err := o.store.GetOrganization(ctx, a.OrganizationID)
			if err != nil && !model.IsNotFound(err) {
				return nil, nil, fmt.Errorf("loading connected organisation: %w", err)
			}
			env.AssessmentOrg = org
		}

	case model.KindLibrary:
		l, err := o.store.GetLibrary(ctx, check.Resource.ID)
		if err != nil {
			if model.IsNotFound(err) {
				d := Deny(model.ReasonNotFound, "library not found")
				return nil, &d, nil
			}
			return nil, nil, fmt.Errorf("loading library: %w", err)
		}
		env.Library = l
		if l.OwnerOrgID != "" {
			org, err := o.store.GetOrganization(ctx, l.OwnerOrgID)
			if err != nil && !model.IsNotFound(err) {
				return nil, nil, fmt.Errorf("loading owning organisation: %w", err)
			}
			env.LibraryOwnerOrg = org
		}
		orgs, err := o.store.OrganizationsOf(ctx, check.PrincipalID)
		if err != nil {
			return nil, nil, fmt.Errorf("loading principal organisations: %w", err)
		}
		env.PrincipalOrgIDs = model.NewSet()
		for _, org := range orgs {
			env.PrincipalOrgIDs.Add(org.ID)
		}

	case model.KindOrganisation:
		org, err := o.store.GetOrganization(ctx, check.Resource.ID)
		if err != nil {
			if model.IsNotFound(err) {
				// Organisation endpoints do not mask, but an absent
				// organisation is still simply not found.
				d := Deny(model.ReasonNotFound, "organisation not found")
				return nil, &d, nil
			}
			return nil, nil, fmt.Errorf("loading organisation: %w", err)
		}
		env.Org = org

	case model.KindNone:
		orgs, err := o.store.OrganizationsWhereAdmin(ctx, check.PrincipalID)
		if err != nil {
			return nil, nil, fmt.Errorf("loading admin organisations: %w", err)
		}
		env.AnyAdmin = len(orgs) > 0

	default:
		return nil, nil, fmt.Errorf("unknown resource kind %q", check.Resource.Kind)
	}

	return env, nil, nil
}
