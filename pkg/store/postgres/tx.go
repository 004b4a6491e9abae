package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ecoworks/retrofit/pkg/model"
	"github.com/ecoworks/retrofit/pkg/store"
)

// serializationFailure is the PostgreSQL error code raised when a
// serializable transaction cannot commit.
const serializationFailure = "40001"

// Update implements store.Store. The callback runs inside a
// serializable transaction; on success the touched cache entries are
// invalidated.
func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	dbtx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	t := &sqlTx{ctx: ctx, tx: dbtx, now: time.Now().UTC()}
	if err := fn(t); err != nil {
		dbtx.Rollback()
		return err
	}

	if err := dbtx.Commit(); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == serializationFailure {
			return model.ErrConflict("transaction could not be serialized, retry")
		}
		return fmt.Errorf("commit transaction: %w", err)
	}

	if s.cache != nil && len(t.touched) > 0 {
		s.cache.Invalidate(ctx, t.touched...)
	}
	return nil
}

// sqlTx implements store.Tx over one database transaction. Row reads
// take FOR UPDATE locks so version stamping is race free even below
// serializable isolation.
type sqlTx struct {
	ctx     context.Context
	tx      *sql.Tx
	now     time.Time
	touched []string
}

var _ store.Tx = (*sqlTx)(nil)

func (t *sqlTx) touch(key string) {
	t.touched = append(t.touched, key)
}

func stampAfter(now, prev time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Nanosecond)
}

// getForUpdate loads one entity document, locking the row.
func getForUpdate[T any](t *sqlTx, table, id, kind string) (*T, error) {
	var raw []byte
	query := fmt.Sprintf(`SELECT doc FROM %s WHERE id = $1 FOR UPDATE`, table)
	err := t.tx.QueryRowContext(t.ctx, query, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound("%s %s not found", kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	return &out, nil
}

func (t *sqlTx) GetPrincipal(id string) (*model.Principal, error) {
	return getForUpdate[model.Principal](t, "principals", id, "principal")
}

func (t *sqlTx) PutPrincipal(p *model.Principal) error {
	c := p.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = t.now
	}
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode principal %s: %w", c.ID, err)
	}
	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO principals (id, doc) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`,
		c.ID, doc)
	if err != nil {
		return fmt.Errorf("put principal %s: %w", c.ID, err)
	}
	t.touch(keyPrincipal(c.ID))
	return nil
}

func (t *sqlTx) GetOrganization(id string) (*model.Organization, error) {
	return getForUpdate[model.Organization](t, "organizations", id, "organisation")
}

func (t *sqlTx) PutOrganization(o *model.Organization) error {
	cur, _ := t.GetOrganization(o.ID)
	c := o.Clone()
	if cur == nil {
		c.Version = 1
		if c.CreatedAt.IsZero() {
			c.CreatedAt = t.now
		}
		c.UpdatedAt = t.now
	} else {
		if c.Version != cur.Version {
			return model.ErrConflict("organisation %s modified concurrently (version %d, have %d)", c.ID, cur.Version, c.Version)
		}
		c.Version = cur.Version + 1
		c.CreatedAt = cur.CreatedAt
		c.UpdatedAt = stampAfter(t.now, cur.UpdatedAt)
	}

	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode organisation %s: %w", c.ID, err)
	}
	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO organizations (id, version, doc) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version, doc = EXCLUDED.doc`,
		c.ID, c.Version, doc)
	if err != nil {
		return fmt.Errorf("put organisation %s: %w", c.ID, err)
	}
	t.touch(keyOrganization(c.ID))
	return nil
}

func (t *sqlTx) DeleteOrganization(id string) error {
	if _, err := t.GetOrganization(id); err != nil {
		return err
	}

	// Referential protect: assessments and libraries keep the
	// organisation alive.
	var referenced bool
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT EXISTS (SELECT 1 FROM assessments WHERE org_id = $1)
		    OR EXISTS (SELECT 1 FROM libraries WHERE owner_org_id = $1)`,
		id).Scan(&referenced)
	if err != nil {
		return fmt.Errorf("check organisation %s references: %w", id, err)
	}
	if referenced {
		return model.ErrBadRequest("organisation %s is still referenced", id)
	}

	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM organizations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete organisation %s: %w", id, err)
	}
	t.touch(keyOrganization(id))
	return nil
}

func (t *sqlTx) GetAssessment(id string) (*model.Assessment, error) {
	return getForUpdate[model.Assessment](t, "assessments", id, "assessment")
}

func (t *sqlTx) PutAssessment(a *model.Assessment) error {
	if a.OwnerID == "" {
		return model.ErrInvariant("assessment %s has no owner", a.ID)
	}
	cur, _ := t.GetAssessment(a.ID)
	c := a.Clone()
	if cur == nil {
		c.Version = 1
		if c.CreatedAt.IsZero() {
			c.CreatedAt = t.now
		}
		c.UpdatedAt = t.now
	} else {
		if c.Version != cur.Version {
			return model.ErrConflict("assessment %s modified concurrently (version %d, have %d)", c.ID, cur.Version, c.Version)
		}
		c.Version = cur.Version + 1
		c.CreatedAt = cur.CreatedAt
		c.UpdatedAt = stampAfter(t.now, cur.UpdatedAt)
	}

	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode assessment %s: %w", c.ID, err)
	}
	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO assessments (id, owner_id, org_id, version, doc) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			org_id = EXCLUDED.org_id,
			version = EXCLUDED.version,
			doc = EXCLUDED.doc`,
		c.ID, c.OwnerID, c.OrganizationID, c.Version, doc)
	if err != nil {
		return fmt.Errorf("put assessment %s: %w", c.ID, err)
	}
	t.touch(keyAssessment(c.ID))
	return nil
}

func (t *sqlTx) DeleteAssessment(id string) ([]string, error) {
	if _, err := t.GetAssessment(id); err != nil {
		return nil, err
	}

	images, err := t.ImagesByAssessment(id)
	if err != nil {
		return nil, err
	}
	var blobKeys []string
	for _, img := range images {
		blobKeys = append(blobKeys, img.BlobKey)
		t.touch(keyImage(img.ID))
	}

	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM images WHERE assessment_id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete images of assessment %s: %w", id, err)
	}
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM assessments WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete assessment %s: %w", id, err)
	}
	t.touch(keyAssessment(id))
	return blobKeys, nil
}

func (t *sqlTx) AssessmentsByOrg(orgID string) ([]*model.Assessment, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT doc FROM assessments WHERE org_id = $1 ORDER BY id FOR UPDATE`, orgID)
	if err != nil {
		return nil, fmt.Errorf("assessments of organisation %s: %w", orgID, err)
	}
	defer rows.Close()

	var out []*model.Assessment
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		var a model.Assessment
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode assessment: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (t *sqlTx) GetLibrary(id string) (*model.Library, error) {
	return getForUpdate[model.Library](t, "libraries", id, "library")
}

func (t *sqlTx) PutLibrary(l *model.Library) error {
	if err := l.Validate(); err != nil {
		return model.ErrInvariant("%v", err)
	}
	cur, _ := t.GetLibrary(l.ID)
	c := l.Clone()
	if cur == nil {
		c.Version = 1
		if c.CreatedAt.IsZero() {
			c.CreatedAt = t.now
		}
		c.UpdatedAt = t.now
	} else {
		if c.Version != cur.Version {
			return model.ErrConflict("library %s modified concurrently (version %d, have %d)", c.ID, cur.Version, c.Version)
		}
		c.Version = cur.Version + 1
		c.CreatedAt = cur.CreatedAt
		c.UpdatedAt = stampAfter(t.now, cur.UpdatedAt)
	}

	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode library %s: %w", c.ID, err)
	}
	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO libraries (id, owner_user_id, owner_org_id, version, doc) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			owner_user_id = EXCLUDED.owner_user_id,
			owner_org_id = EXCLUDED.owner_org_id,
			version = EXCLUDED.version,
			doc = EXCLUDED.doc`,
		c.ID, c.OwnerUserID, c.OwnerOrgID, c.Version, doc)
	if err != nil {
		return fmt.Errorf("put library %s: %w", c.ID, err)
	}
	t.touch(keyLibrary(c.ID))
	return nil
}

func (t *sqlTx) LibrariesByOwnerUser(principalID string) ([]*model.Library, error) {
	return t.listLibrariesForUpdate(
		`SELECT doc FROM libraries WHERE owner_user_id = $1 AND owner_user_id <> '' ORDER BY id FOR UPDATE`,
		principalID)
}

func (t *sqlTx) LibrariesByOwnerOrg(orgID string) ([]*model.Library, error) {
	return t.listLibrariesForUpdate(
		`SELECT doc FROM libraries WHERE owner_org_id = $1 AND owner_org_id <> '' ORDER BY id FOR UPDATE`,
		orgID)
}

func (t *sqlTx) GlobalLibraries() ([]*model.Library, error) {
	return t.listLibrariesForUpdate(
		`SELECT doc FROM libraries WHERE owner_user_id = '' AND owner_org_id = '' ORDER BY id FOR UPDATE`)
}

func (t *sqlTx) listLibrariesForUpdate(query string, args ...any) ([]*model.Library, error) {
	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list libraries: %w", err)
	}
	defer rows.Close()

	var out []*model.Library
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan library: %w", err)
		}
		var l model.Library
		if err := json.Unmarshal(raw, &l); err != nil {
			return nil, fmt.Errorf("decode library: %w", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (t *sqlTx) DeleteLibrary(id string) error {
	if _, err := t.GetLibrary(id); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM libraries WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete library %s: %w", id, err)
	}
	t.touch(keyLibrary(id))
	return nil
}

func (t *sqlTx) GetImage(id string) (*model.Image, error) {
	return getForUpdate[model.Image](t, "images", id, "image")
}

func (t *sqlTx) PutImage(i *model.Image) error {
	if _, err := t.GetAssessment(i.AssessmentID); err != nil {
		return model.ErrBadRequest("image %s references missing assessment %s", i.ID, i.AssessmentID)
	}
	c := i.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = t.now
	}
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode image %s: %w", c.ID, err)
	}
	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO images (id, assessment_id, doc) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET assessment_id = EXCLUDED.assessment_id, doc = EXCLUDED.doc`,
		c.ID, c.AssessmentID, doc)
	if err != nil {
		return fmt.Errorf("put image %s: %w", c.ID, err)
	}
	t.touch(keyImage(c.ID))
	return nil
}

func (t *sqlTx) DeleteImage(id string) error {
	img, err := t.GetImage(id)
	if err != nil {
		return err
	}

	// featured_image is SET_NULL on image deletion.
	if a, err := t.GetAssessment(img.AssessmentID); err == nil && a.FeaturedImageID == id {
		a.FeaturedImageID = ""
		if err := t.PutAssessment(a); err != nil {
			return err
		}
	}

	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM images WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete image %s: %w", id, err)
	}
	t.touch(keyImage(id))
	return nil
}

func (t *sqlTx) ImagesByAssessment(assessmentID string) ([]*model.Image, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT doc FROM images WHERE assessment_id = $1 ORDER BY id FOR UPDATE`, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("images of assessment %s: %w", assessmentID, err)
	}
	defer rows.Close()

	var out []*model.Image
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		var img model.Image
		if err := json.Unmarshal(raw, &img); err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
		out = append(out, &img)
	}
	return out, rows.Err()
}
