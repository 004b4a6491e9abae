package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ecoworks/retrofit/pkg/config"
	"github.com/ecoworks/retrofit/pkg/model"
	"github.com/ecoworks/retrofit/pkg/store"
)

// Store implements store.Store on PostgreSQL.
type Store struct {
	db    *sql.DB
	cache *Cache
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithCache attaches a Redis snapshot cache.
func WithCache(c *Cache) Option {
	return func(s *Store) { s.cache = c }
}

// NewStore wraps an existing database handle. Used by tests; production
// code goes through Open.
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to PostgreSQL, configures the pool and verifies the
// connection.
func Open(cfg config.DatabaseConfig, opts ...Option) (*Store, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.PostgresMaxConns)
	db.SetMaxIdleConns(cfg.PostgresMinConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	timeout := cfg.PostgresTimeout.Std()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return NewStore(db, opts...), nil
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS principals (
		id  TEXT PRIMARY KEY,
		doc JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS organizations (
		id      TEXT PRIMARY KEY,
		version BIGINT NOT NULL,
		doc     JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS assessments (
		id       TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		org_id   TEXT NOT NULL DEFAULT '',
		version  BIGINT NOT NULL,
		doc      JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS libraries (
		id            TEXT PRIMARY KEY,
		owner_user_id TEXT NOT NULL DEFAULT '',
		owner_org_id  TEXT NOT NULL DEFAULT '',
		version       BIGINT NOT NULL,
		doc           JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS images (
		id            TEXT PRIMARY KEY,
		assessment_id TEXT NOT NULL,
		doc           JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_assessments_owner ON assessments (owner_id)`,
	`CREATE INDEX IF NOT EXISTS idx_assessments_org ON assessments (org_id)`,
	`CREATE INDEX IF NOT EXISTS idx_assessments_shared ON assessments USING GIN ((doc->'shared_with'))`,
	`CREATE INDEX IF NOT EXISTS idx_libraries_owner_user ON libraries (owner_user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_libraries_owner_org ON libraries (owner_org_id)`,
	`CREATE INDEX IF NOT EXISTS idx_libraries_shared ON libraries USING GIN ((doc->'shared_with'))`,
	`CREATE INDEX IF NOT EXISTS idx_images_assessment ON images (assessment_id)`,
	`CREATE INDEX IF NOT EXISTS idx_organizations_members ON organizations USING GIN ((doc->'members'))`,
}

// InitSchema creates tables and indexes when they do not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// getDoc loads one entity document by primary key.
func getDoc[T any](ctx context.Context, s *Store, query, id, kind string) (*T, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(&raw)
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

// listDocs loads entity documents for an already-ordered query.
func listDocs[T any](ctx context.Context, s *Store, kind, query string, args ...any) ([]*T, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		out = append(out, &item)
	}
	return out, rows.Err()
}

// GetPrincipal implements store.Reader.
func (s *Store) GetPrincipal(ctx context.Context, id string) (*model.Principal, error) {
	if s.cache != nil {
		if p, ok := cacheGet[model.Principal](ctx, s.cache, keyPrincipal(id)); ok {
			return p, nil
		}
	}
	p, err := getDoc[model.Principal](ctx, s, `SELECT doc FROM principals WHERE id = $1`, id, "principal")
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.set(ctx, keyPrincipal(id), p)
	}
	return p, nil
}

// ListPrincipals implements store.Reader.
func (s *Store) ListPrincipals(ctx context.Context) ([]*model.Principal, error) {
	return listDocs[model.Principal](ctx, s, "principals",
		`SELECT doc FROM principals ORDER BY id`)
}

// GetOrganization implements store.Reader.
func (s *Store) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	if s.cache != nil {
		if o, ok := cacheGet[model.Organization](ctx, s.cache, keyOrganization(id)); ok {
			return o, nil
		}
	}
	o, err := getDoc[model.Organization](ctx, s, `SELECT doc FROM organizations WHERE id = $1`, id, "organisation")
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.set(ctx, keyOrganization(id), o)
	}
	return o, nil
}

// ListOrganizations implements store.Reader.
func (s *Store) ListOrganizations(ctx context.Context) ([]*model.Organization, error) {
	return listDocs[model.Organization](ctx, s, "organisations",
		`SELECT doc FROM organizations ORDER BY id`)
}

// OrganizationsOf implements store.Reader.
func (s *Store) OrganizationsOf(ctx context.Context, principalID string) ([]*model.Organization, error) {
	return listDocs[model.Organization](ctx, s, "organisations",
		`SELECT doc FROM organizations WHERE doc->'members' ? $1 ORDER BY id`, principalID)
}

// OrganizationsWhereAdmin implements store.Reader.
func (s *Store) OrganizationsWhereAdmin(ctx context.Context, principalID string) ([]*model.Organization, error) {
	return listDocs[model.Organization](ctx, s, "organisations",
		`SELECT doc FROM organizations WHERE doc->'admins' ? $1 ORDER BY id`, principalID)
}

// GetAssessment implements store.Reader.
func (s *Store) GetAssessment(ctx context.Context, id string) (*model.Assessment, error) {
	if s.cache != nil {
		if a, ok := cacheGet[model.Assessment](ctx, s.cache, keyAssessment(id)); ok {
			return a, nil
		}
	}
	a, err := getDoc[model.Assessment](ctx, s, `SELECT doc FROM assessments WHERE id = $1`, id, "assessment")
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.set(ctx, keyAssessment(id), a)
	}
	return a, nil
}

// AssessmentsByOwner implements store.Reader.
func (s *Store) AssessmentsByOwner(ctx context.Context, principalID string) ([]*model.Assessment, error) {
	return listDocs[model.Assessment](ctx, s, "assessments",
		`SELECT doc FROM assessments WHERE owner_id = $1 ORDER BY id`, principalID)
}

// AssessmentsByOrg implements store.Reader.
func (s *Store) AssessmentsByOrg(ctx context.Context, orgID string) ([]*model.Assessment, error) {
	return listDocs[model.Assessment](ctx, s, "assessments",
		`SELECT doc FROM assessments WHERE org_id = $1 ORDER BY id`, orgID)
}

// AssessmentsSharedWith implements store.Reader.
func (s *Store) AssessmentsSharedWith(ctx context.Context, principalID string) ([]*model.Assessment, error) {
	return listDocs[model.Assessment](ctx, s, "assessments",
		`SELECT doc FROM assessments WHERE doc->'shared_with' ? $1 ORDER BY id`, principalID)
}

// GetLibrary implements store.Reader.
func (s *Store) GetLibrary(ctx context.Context, id string) (*model.Library, error) {
	if s.cache != nil {
		if l, ok := cacheGet[model.Library](ctx, s.cache, keyLibrary(id)); ok {
			return l, nil
		}
	}
	l, err := getDoc[model.Library](ctx, s, `SELECT doc FROM libraries WHERE id = $1`, id, "library")
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.set(ctx, keyLibrary(id), l)
	}
	return l, nil
}

// LibrariesByOwnerUser implements store.Reader.
func (s *Store) LibrariesByOwnerUser(ctx context.Context, principalID string) ([]*model.Library, error) {
	return listDocs[model.Library](ctx, s, "libraries",
		`SELECT doc FROM libraries WHERE owner_user_id = $1 ORDER BY id`, principalID)
}

// LibrariesByOwnerOrg implements store.Reader.
func (s *Store) LibrariesByOwnerOrg(ctx context.Context, orgID string) ([]*model.Library, error) {
	return listDocs[model.Library](ctx, s, "libraries",
		`SELECT doc FROM libraries WHERE owner_org_id = $1 ORDER BY id`, orgID)
}

// LibrariesSharedWithOrgs implements store.Reader.
func (s *Store) LibrariesSharedWithOrgs(ctx context.Context, orgIDs []string) ([]*model.Library, error) {
	if len(orgIDs) == 0 {
		return nil, nil
	}
	return listDocs[model.Library](ctx, s, "libraries",
		`SELECT doc FROM libraries WHERE doc->'shared_with' ?| $1 ORDER BY id`, pq.Array(orgIDs))
}

// GlobalLibraries implements store.Reader.
func (s *Store) GlobalLibraries(ctx context.Context) ([]*model.Library, error) {
	return listDocs[model.Library](ctx, s, "libraries",
		`SELECT doc FROM libraries WHERE owner_user_id = '' AND owner_org_id = '' ORDER BY id`)
}

// GetImage implements store.Reader.
func (s *Store) GetImage(ctx context.Context, id string) (*model.Image, error) {
	if s.cache != nil {
		if i, ok := cacheGet[model.Image](ctx, s.cache, keyImage(id)); ok {
			return i, nil
		}
	}
	i, err := getDoc[model.Image](ctx, s, `SELECT doc FROM images WHERE id = $1`, id, "image")
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.set(ctx, keyImage(id), i)
	}
	return i, nil
}

// ImagesByAssessment implements store.Reader.
func (s *Store) ImagesByAssessment(ctx context.Context, assessmentID string) ([]*model.Image, error) {
	return listDocs[model.Image](ctx, s, "images",
		`SELECT doc FROM images WHERE assessment_id = $1 ORDER BY id`, assessmentID)
}
