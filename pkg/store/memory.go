package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ecoworks/retrofit/pkg/model"
)

// MemoryStore is the in-memory reference implementation of Store. All
// reads return deep copies; transactions stage writes against the live
// maps and merge them on commit while holding the write lock, so readers
// never observe a partial mutation.
type MemoryStore struct {
	mu          sync.RWMutex
	principals  map[string]*model.Principal
	orgs        map[string]*model.Organization
	assessments map[string]*model.Assessment
	libraries   map[string]*model.Library
	images      map[string]*model.Image
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		principals:  map[string]*model.Principal{},
		orgs:        map[string]*model.Organization{},
		assessments: map[string]*model.Assessment{},
		libraries:   map[string]*model.Library{},
		images:      map[string]*model.Image{},
	}
}

// GetPrincipal returns a snapshot of the principal.
func (s *MemoryStore) GetPrincipal(ctx context.Context, id string) (*model.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principals[id]
	if !ok {
		return nil, model.ErrNotFound("principal %s not found", id)
	}
	return p.Clone(), nil
}

// ListPrincipals returns all principals ordered by id.
func (s *MemoryStore) ListPrincipals(ctx context.Context) ([]*model.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Principal, 0, len(s.principals))
	for _, p := range s.principals {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetOrganization returns a snapshot of the organisation.
func (s *MemoryStore) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orgs[id]
	if !ok {
		return nil, model.ErrNotFound("organisation %s not found", id)
	}
	return o.Clone(), nil
}

// ListOrganizations returns all organisations ordered by id.
func (s *MemoryStore) ListOrganizations(ctx context.Context) ([]*model.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Organization, 0, len(s.orgs))
	for _, o := range s.orgs {
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// OrganizationsOf returns the organisations the principal belongs to.
func (s *MemoryStore) OrganizationsOf(ctx context.Context, principalID string) ([]*model.Organization, error) {
	return s.filterOrgs(func(o *model.Organization) bool { return o.HasMember(principalID) })
}

// OrganizationsWhereAdmin returns the organisations the principal
// administers.
func (s *MemoryStore) OrganizationsWhereAdmin(ctx context.Context, principalID string) ([]*model.Organization, error) {
	return s.filterOrgs(func(o *model.Organization) bool { return o.HasAdmin(principalID) })
}

func (s *MemoryStore) filterOrgs(keep func(*model.Organization) bool) ([]*model.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Organization
	for _, o := range s.orgs {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetAssessment returns a snapshot of the assessment.
func (s *MemoryStore) GetAssessment(ctx context.Context, id string) (*model.Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assessments[id]
	if !ok {
		return nil, model.ErrNotFound("assessment %s not found", id)
	}
	return a.Clone(), nil
}

// AssessmentsByOwner returns assessments owned by the principal.
func (s *MemoryStore) AssessmentsByOwner(ctx context.Context, principalID string) ([]*model.Assessment, error) {
	return s.filterAssessments(func(a *model.Assessment) bool { return a.OwnerID == principalID })
}

// AssessmentsByOrg returns assessments attached to the organisation.
func (s *MemoryStore) AssessmentsByOrg(ctx context.Context, orgID string) ([]*model.Assessment, error) {
	return s.filterAssessments(func(a *model.Assessment) bool { return a.OrganizationID == orgID && orgID != "" })
}

// AssessmentsSharedWith returns assessments shared with the principal.
func (s *MemoryStore) AssessmentsSharedWith(ctx context.Context, principalID string) ([]*model.Assessment, error) {
	return s.filterAssessments(func(a *model.Assessment) bool { return a.IsSharedWith(principalID) })
}

func (s *MemoryStore) filterAssessments(keep func(*model.Assessment) bool) ([]*model.Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Assessment
	for _, a := range s.assessments {
		if keep(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetLibrary returns a snapshot of the library.
func (s *MemoryStore) GetLibrary(ctx context.Context, id string) (*model.Library, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.libraries[id]
	if !ok {
		return nil, model.ErrNotFound("library %s not found", id)
	}
	return l.Clone(), nil
}

// LibrariesByOwnerUser returns the principal's personal libraries.
func (s *MemoryStore) LibrariesByOwnerUser(ctx context.Context, principalID string) ([]*model.Library, error) {
	return s.filterLibraries(func(l *model.Library) bool { return l.OwnerUserID == principalID && principalID != "" })
}

// LibrariesByOwnerOrg returns the organisation's libraries.
func (s *MemoryStore) LibrariesByOwnerOrg(ctx context.Context, orgID string) ([]*model.Library, error) {
	return s.filterLibraries(func(l *model.Library) bool { return l.OwnerOrgID == orgID && orgID != "" })
}

// LibrariesSharedWithOrgs returns libraries shared with any of the given
// organisations.
func (s *MemoryStore) LibrariesSharedWithOrgs(ctx context.Context, orgIDs []string) ([]*model.Library, error) {
	return s.filterLibraries(func(l *model.Library) bool {
		for _, orgID := range orgIDs {
			if l.IsSharedWithOrg(orgID) {
				return true
			}
		}
		return false
	})
}

// GlobalLibraries returns the unowned libraries.
func (s *MemoryStore) GlobalLibraries(ctx context.Context) ([]*model.Library, error) {
	return s.filterLibraries(func(l *model.Library) bool { return l.Shape() == model.ShapeGlobal })
}

func (s *MemoryStore) filterLibraries(keep func(*model.Library) bool) ([]*model.Library, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Library
	for _, l := range s.libraries {
		if keep(l) {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetImage returns a snapshot of the image.
func (s *MemoryStore) GetImage(ctx context.Context, id string) (*model.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.images[id]
	if !ok {
		return nil, model.ErrNotFound("image %s not found", id)
	}
	return i.Clone(), nil
}

// ImagesByAssessment returns the images attached to the assessment.
func (s *MemoryStore) ImagesByAssessment(ctx context.Context, assessmentID string) ([]*model.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Image
	for _, i := range s.images {
		if i.AssessmentID == assessmentID {
			out = append(out, i.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Update runs fn inside a transaction. Writes are staged and merged only
// after fn returns nil and the context is still live; any error discards
// the staged writes entirely.
func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newMemTx(s)
	if err := fn(tx); err != nil {
		return err
	}
	// A cancelled request must not apply a partial mutation.
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// memTx stages writes against the store while the store's write lock is
// held.
type memTx struct {
	s   *MemoryStore
	now time.Time

	putPrincipals  map[string]*model.Principal
	putOrgs        map[string]*model.Organization
	putAssessments map[string]*model.Assessment
	putLibraries   map[string]*model.Library
	putImages      map[string]*model.Image

	delOrgs        model.Set
	delAssessments model.Set
	delLibraries   model.Set
	delImages      model.Set
}

func newMemTx(s *MemoryStore) *memTx {
	return &memTx{
		s:              s,
		now:            time.Now().UTC(),
		putPrincipals:  map[string]*model.Principal{},
		putOrgs:        map[string]*model.Organization{},
		putAssessments: map[string]*model.Assessment{},
		putLibraries:   map[string]*model.Library{},
		putImages:      map[string]*model.Image{},
		delOrgs:        model.NewSet(),
		delAssessments: model.NewSet(),
		delLibraries:   model.NewSet(),
		delImages:      model.NewSet(),
	}
}

// stampAfter keeps updated_at strictly monotone per entity even when the
// wall clock does not advance between writes.
func stampAfter(now, prev time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Nanosecond)
}

func (tx *memTx) GetPrincipal(id string) (*model.Principal, error) {
	if p, ok := tx.putPrincipals[id]; ok {
		return p.Clone(), nil
	}
	if p, ok := tx.s.principals[id]; ok {
		return p.Clone(), nil
	}
	return nil, model.ErrNotFound("principal %s not found", id)
}

func (tx *memTx) PutPrincipal(p *model.Principal) error {
	c := p.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = tx.now
	}
	tx.putPrincipals[c.ID] = c
	return nil
}

func (tx *memTx) GetOrganization(id string) (*model.Organization, error) {
	if tx.delOrgs.Has(id) {
		return nil, model.ErrNotFound("organisation %s not found", id)
	}
	if o, ok := tx.putOrgs[id]; ok {
		return o.Clone(), nil
	}
	if o, ok := tx.s.orgs[id]; ok {
		return o.Clone(), nil
	}
	return nil, model.ErrNotFound("organisation %s not found", id)
}

func (tx *memTx) PutOrganization(o *model.Organization) error {
	cur, _ := tx.GetOrganization(o.ID)
	c := o.Clone()
	if err := tx.stampOrg(c, cur); err != nil {
		return err
	}
	tx.delOrgs.Remove(c.ID)
	tx.putOrgs[c.ID] = c
	return nil
}

func (tx *memTx) stampOrg(c, cur *model.Organization) error {
	if cur == nil {
		c.Version = 1
		if c.CreatedAt.IsZero() {
			c.CreatedAt = tx.now
		}
		c.UpdatedAt = tx.now
		return nil
	}
	if c.Version != cur.Version {
		return model.ErrConflict("organisation %s modified concurrently (version %d, have %d)", c.ID, cur.Version, c.Version)
	}
	c.Version = cur.Version + 1
	c.CreatedAt = cur.CreatedAt
	c.UpdatedAt = stampAfter(tx.now, cur.UpdatedAt)
	return nil
}

func (tx *memTx) DeleteOrganization(id string) error {
	if _, err := tx.GetOrganization(id); err != nil {
		return err
	}
	// Referential protect: assessments and libraries keep the
	// organisation alive.
	check := func(orgID string) error {
		if orgID == id {
			return model.ErrBadRequest("organisation %s is still referenced", id)
		}
		return nil
	}
	for _, a := range tx.s.assessments {
		if !tx.delAssessments.Has(a.ID) {
			if err := check(a.OrganizationID); err != nil {
				return err
			}
		}
	}
	for _, a := range tx.putAssessments {
		if err := check(a.OrganizationID); err != nil {
			return err
		}
	}
	for _, l := range tx.s.libraries {
		if !tx.delLibraries.Has(l.ID) {
			if err := check(l.OwnerOrgID); err != nil {
				return err
			}
		}
	}
	for _, l := range tx.putLibraries {
		if err := check(l.OwnerOrgID); err != nil {
			return err
		}
	}
	delete(tx.putOrgs, id)
	tx.delOrgs.Add(id)
	return nil
}

func (tx *memTx) GetAssessment(id string) (*model.Assessment, error) {
	if tx.delAssessments.Has(id) {
		return nil, model.ErrNotFound("assessment %s not found", id)
	}
	if a, ok := tx.putAssessments[id]; ok {
		return a.Clone(), nil
	}
	if a, ok := tx.s.assessments[id]; ok {
		return a.Clone(), nil
	}
	return nil, model.ErrNotFound("assessment %s not found", id)
}

func (tx *memTx) PutAssessment(a *model.Assessment) error {
	if a.OwnerID == "" {
		return model.ErrInvariant("assessment %s has no owner", a.ID)
	}
	cur, _ := tx.GetAssessment(a.ID)
	c := a.Clone()
	if cur == nil {
		c.Version = 1
		if c.CreatedAt.IsZero() {
			c.CreatedAt = tx.now
		}
		c.UpdatedAt = tx.now
	} else {
		if c.Version != cur.Version {
			return model.ErrConflict("assessment %s modified concurrently (version %d, have %d)", c.ID, cur.Version, c.Version)
		}
		c.Version = cur.Version + 1
		c.CreatedAt = cur.CreatedAt
		c.UpdatedAt = stampAfter(tx.now, cur.UpdatedAt)
	}
	tx.delAssessments.Remove(c.ID)
	tx.putAssessments[c.ID] = c
	return nil
}

func (tx *memTx) DeleteAssessment(id string) ([]string, error) {
	if _, err := tx.GetAssessment(id); err != nil {
		return nil, err
	}
	var blobKeys []string
	for _, img := range tx.imagesOf(id) {
		blobKeys = append(blobKeys, img.BlobKey)
		delete(tx.putImages, img.ID)
		tx.delImages.Add(img.ID)
	}
	delete(tx.putAssessments, id)
	tx.delAssessments.Add(id)
	return blobKeys, nil
}

func (tx *memTx) AssessmentsByOrg(orgID string) ([]*model.Assessment, error) {
	seen := model.NewSet()
	var out []*model.Assessment
	for id, a := range tx.putAssessments {
		seen.Add(id)
		if a.OrganizationID == orgID && orgID != "" {
			out = append(out, a.Clone())
		}
	}
	for id, a := range tx.s.assessments {
		if seen.Has(id) || tx.delAssessments.Has(id) {
			continue
		}
		if a.OrganizationID == orgID && orgID != "" {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memTx) GetLibrary(id string) (*model.Library, error) {
	if tx.delLibraries.Has(id) {
		return nil, model.ErrNotFound("library %s not found", id)
	}
	if l, ok := tx.putLibraries[id]; ok {
		return l.Clone(), nil
	}
	if l, ok := tx.s.libraries[id]; ok {
		return l.Clone(), nil
	}
	return nil, model.ErrNotFound("library %s not found", id)
}

func (tx *memTx) PutLibrary(l *model.Library) error {
	if err := l.Validate(); err != nil {
		return model.ErrInvariant("%v", err)
	}
	cur, _ := tx.GetLibrary(l.ID)
	c := l.Clone()
	if cur == nil {
		c.Version = 1
		if c.CreatedAt.IsZero() {
			c.CreatedAt = tx.now
		}
		c.UpdatedAt = tx.now
	} else {
		if c.Version != cur.Version {
			return model.ErrConflict("library %s modified concurrently (version %d, have %d)", c.ID, cur.Version, c.Version)
		}
		c.Version = cur.Version + 1
		c.CreatedAt = cur.CreatedAt
		c.UpdatedAt = stampAfter(tx.now, cur.UpdatedAt)
	}
	tx.delLibraries.Remove(c.ID)
	tx.putLibraries[c.ID] = c
	return nil
}

func (tx *memTx) LibrariesByOwnerUser(principalID string) ([]*model.Library, error) {
	return tx.filterLibraries(func(l *model.Library) bool {
		return l.OwnerUserID == principalID && principalID != ""
	}), nil
}

func (tx *memTx) LibrariesByOwnerOrg(orgID string) ([]*model.Library, error) {
	return tx.filterLibraries(func(l *model.Library) bool {
		return l.OwnerOrgID == orgID && orgID != ""
	}), nil
}

func (tx *memTx) GlobalLibraries() ([]*model.Library, error) {
	return tx.filterLibraries(func(l *model.Library) bool {
		return l.Shape() == model.ShapeGlobal
	}), nil
}

func (tx *memTx) filterLibraries(keep func(*model.Library) bool) []*model.Library {
	seen := model.NewSet()
	var out []*model.Library
	for id, l := range tx.putLibraries {
		seen.Add(id)
		if keep(l) {
			out = append(out, l.Clone())
		}
	}
	for id, l := range tx.s.libraries {
		if seen.Has(id) || tx.delLibraries.Has(id) {
			continue
		}
		if keep(l) {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (tx *memTx) DeleteLibrary(id string) error {
	if _, err := tx.GetLibrary(id); err != nil {
		return err
	}
	delete(tx.putLibraries, id)
	tx.delLibraries.Add(id)
	return nil
}

func (tx *memTx) GetImage(id string) (*model.Image, error) {
	if tx.delImages.Has(id) {
		return nil, model.ErrNotFound("image %s not found", id)
	}
	if i, ok := tx.putImages[id]; ok {
		return i.Clone(), nil
	}
	if i, ok := tx.s.images[id]; ok {
		return i.Clone(), nil
	}
	return nil, model.ErrNotFound("image %s not found", id)
}

func (tx *memTx) PutImage(i *model.Image) error {
	if _, err := tx.GetAssessment(i.AssessmentID); err != nil {
		return model.ErrBadRequest("image %s references missing assessment %s", i.ID, i.AssessmentID)
	}
	c := i.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = tx.now
	}
	tx.delImages.Remove(c.ID)
	tx.putImages[c.ID] = c
	return nil
}

func (tx *memTx) DeleteImage(id string) error {
	img, err := tx.GetImage(id)
	if err != nil {
		return err
	}
	// featured_image is SET_NULL on image deletion.
	if a, err := tx.GetAssessment(img.AssessmentID); err == nil && a.FeaturedImageID == id {
		a.FeaturedImageID = ""
		if err := tx.PutAssessment(a); err != nil {
			return err
		}
	}
	delete(tx.putImages, id)
	tx.delImages.Add(id)
	return nil
}

func (tx *memTx) ImagesByAssessment(assessmentID string) ([]*model.Image, error) {
	out := tx.imagesOf(assessmentID)
	cloned := make([]*model.Image, len(out))
	for i, img := range out {
		cloned[i] = img.Clone()
	}
	return cloned, nil
}

func (tx *memTx) imagesOf(assessmentID string) []*model.Image {
	seen := model.NewSet()
	var out []*model.Image
	for id, img := range tx.putImages {
		seen.Add(id)
		if img.AssessmentID == assessmentID {
			out = append(out, img)
		}
	}
	for id, img := range tx.s.images {
		if seen.Has(id) || tx.delImages.Has(id) {
			continue
		}
		if img.AssessmentID == assessmentID {
			out = append(out, img)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// commit merges staged writes into the live maps. Called with the write
// lock held.
func (tx *memTx) commit() {
	for id := range tx.delImages {
		delete(tx.s.images, id)
	}
	for id := range tx.delAssessments {
		delete(tx.s.assessments, id)
	}
	for id := range tx.delLibraries {
		delete(tx.s.libraries, id)
	}
	for id := range tx.delOrgs {
		delete(tx.s.orgs, id)
	}
	for id, p := range tx.putPrincipals {
		tx.s.principals[id] = p
	}
	for id, o := range tx.putOrgs {
		tx.s.orgs[id] = o
	}
	for id, a := range tx.putAssessments {
		tx.s.assessments[id] = a
	}
	for id, l := range tx.putLibraries {
		tx.s.libraries[id] = l
	}
	for id, i := range tx.putImages {
		tx.s.images[id] = i
	}
}

var _ Store = (*MemoryStore)(nil)
