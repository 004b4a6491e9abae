package gateway

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ecoworks/retrofit/pkg/audit"
	"github.com/ecoworks/retrofit/pkg/model"
	"github.com/ecoworks/retrofit/pkg/oracle"
	"github.com/ecoworks/retrofit/pkg/store"
)

// BlobDeleter removes image payloads from blob storage after their
// database rows are gone. Failures are logged, not surfaced: the rows
// are already deleted and a janitor sweeps orphaned blobs.
type BlobDeleter interface {
	DeleteBlobs(ctx context.Context, keys []string) error
}

// Gateway applies mutations. All writes go through here; the store is
// never mutated directly by callers.
type Gateway struct {
	store  store.Store
	oracle *oracle.Oracle
	cache  *oracle.DecisionCache
	audit  audit.Logger
	log    logrus.FieldLogger
	locks  *keyedLocks
	blobs  BlobDeleter
}

// Option configures the gateway.
type Option func(*Gateway)

// WithAudit records an audit event per operation.
func WithAudit(l audit.Logger) Option {
	return func(g *Gateway) { g.audit = l }
}

// WithDecisionCache invalidates the cache after every committed
// mutation.
func WithDecisionCache(c *oracle.DecisionCache) Option {
	return func(g *Gateway) { g.cache = c }
}

// WithBlobDeleter enables blob cleanup when assessments or images are
// deleted.
func WithBlobDeleter(b BlobDeleter) Option {
	return func(g *Gateway) { g.blobs = b }
}

// WithLogger sets the application logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(g *Gateway) { g.log = l }
}

// New creates a gateway over the given store and oracle.
func New(s store.Store, o *oracle.Oracle, opts ...Option) *Gateway {
	g := &Gateway{
		store:  s,
		oracle: o,
		audit:  audit.NopLogger{},
		log:    logrus.StandardLogger(),
		locks:  newKeyedLocks(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func lockKey(ref model.ResourceRef) string {
	return string(ref.Kind) + "/" + ref.ID
}

// requireOrgMember re-checks target membership against the organisation
// snapshot inside the transaction. The oracle's pre-check can go stale
// when a membership removal commits between the decision and the write.
func requireOrgMember(tx store.Tx, orgID, target string) error {
	org, err := tx.GetOrganization(orgID)
	if err != nil {
		return err
	}
	if !org.HasMember(target) {
		return &model.Error{
			Kind:    model.KindInvariantViolation,
			Code:    model.ReasonTargetOutsideOrg,
			Message: fmt.Sprintf("target principal %s is not a member of organisation %s", target, orgID),
		}
	}
	return nil
}

// decide runs the permission check and converts a denial into its typed
// error. Denials are audited.
func (g *Gateway) decide(ctx context.Context, check oracle.Check, event audit.EventType) error {
	d, err := g.oracle.Decide(ctx, check)
	if err != nil {
		return err
	}
	if d.Allowed {
		return nil
	}
	g.record(ctx, &audit.Event{
		Type:              event,
		Status:            audit.EventStatusDenied,
		PrincipalID:       check.PrincipalID,
		ResourceKind:      check.Resource.Kind,
		ResourceID:        check.Resource.ID,
		TargetPrincipalID: check.TargetPrincipalID,
		ReasonCode:        d.Code,
		Message:           d.Message,
	})
	return d.Err()
}

// commit runs fn in a store transaction, invalidates the decision cache
// and writes the success audit event.
func (g *Gateway) commit(ctx context.Context, event *audit.Event, fn func(tx store.Tx) error) error {
	if err := g.store.Update(ctx, fn); err != nil {
		return err
	}
	g.invalidate()
	event.Status = audit.EventStatusSuccess
	g.record(ctx, event)
	return nil
}

func (g *Gateway) invalidate() {
	if g.cache != nil {
		g.cache.Invalidate()
	}
}

func (g *Gateway) record(ctx context.Context, e *audit.Event) {
	if err := g.audit.Log(ctx, e); err != nil {
		g.log.WithError(err).WithField("event_type", e.Type).Warn("failed to write audit event")
	}
}

// cleanupBlobs best-effort deletes blob payloads for removed images.
func (g *Gateway) cleanupBlobs(ctx context.Context, keys []string) {
	if g.blobs == nil || len(keys) == 0 {
		return
	}
	if err := g.blobs.DeleteBlobs(ctx, keys); err != nil {
		g.log.WithError(err).WithField("blobs", len(keys)).Warn("failed to delete image blobs")
	}
}
