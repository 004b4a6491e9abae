package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/ecoworks/retrofit/pkg/model"
	"github.com/ecoworks/retrofit/pkg/observability"
	"github.com/ecoworks/retrofit/pkg/store"
)

// Finding records one consistency violation discovered by a sweep.
type Finding struct {
	Kind     string `json:"kind"`
	EntityID string `json:"entity_id"`
	Detail   string `json:"detail"`
}

// SweepReport summarises one janitor pass over the store.
type SweepReport struct {
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	Organisations int           `json:"organisations"`
	Assessments   int           `json:"assessments"`
	Libraries     int           `json:"libraries"`
	Findings      []Finding     `json:"findings,omitempty"`
}

// Janitor periodically verifies store consistency and refreshes the
// entity-count gauges.
type Janitor struct {
	store   store.Store
	metrics *observability.Metrics
	log     logrus.FieldLogger
	cron    *cron.Cron
}

// NewJanitor creates a janitor. metrics may be nil when the metrics
// endpoint is disabled.
func NewJanitor(st store.Store, metrics *observability.Metrics, log logrus.FieldLogger) *Janitor {
	return &Janitor{
		store:   st,
		metrics: metrics,
		log:     log,
		cron:    cron.New(),
	}
}

// Start schedules sweeps on the given cron expression and starts the
// scheduler.
func (j *Janitor) Start(schedule string) error {
	_, err := j.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		report, err := j.Sweep(ctx)
		if err != nil {
			j.log.WithError(err).Error("consistency sweep failed")
			return
		}
		j.log.WithFields(logrus.Fields{
			"organisations": report.Organisations,
			"assessments":   report.Assessments,
			"libraries":     report.Libraries,
			"findings":      len(report.Findings),
			"duration":      report.Duration.String(),
		}).Info("consistency sweep completed")
	})
	if err != nil {
		return fmt.Errorf("schedule janitor sweep %q: %w", schedule, err)
	}
	j.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep scans the whole store once. It reads snapshots only; repairs
// are left to operators since a violation here means the gateway let
// something through.
func (j *Janitor) Sweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{StartedAt: time.Now().UTC()}

	orgs, err := j.store.ListOrganizations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list organisations: %w", err)
	}
	report.Organisations = len(orgs)

	orgByID := make(map[string]*model.Organization, len(orgs))
	for _, org := range orgs {
		orgByID[org.ID] = org
		j.checkOrganisation(report, org)
	}

	assessments, err := j.allAssessments(ctx, orgs)
	if err != nil {
		return nil, err
	}
	report.Assessments = len(assessments)
	for _, a := range assessments {
		j.checkAssessment(ctx, report, a, orgByID)
	}

	libraries, err := j.allLibraries(ctx, orgs)
	if err != nil {
		return nil, err
	}
	report.Libraries = len(libraries)
	for _, l := range libraries {
		j.checkLibrary(report, l, orgByID)
	}

	if j.metrics != nil {
		j.metrics.OrganisationsTotal.Set(float64(report.Organisations))
		j.metrics.AssessmentsTotal.Set(float64(report.Assessments))
		j.metrics.LibrariesTotal.Set(float64(report.Libraries))
	}

	report.Duration = time.Since(report.StartedAt)
	for _, f := range report.Findings {
		j.log.WithFields(logrus.Fields{
			"kind":      f.Kind,
			"entity_id": f.EntityID,
			"detail":    f.Detail,
		}).Warn("consistency violation found")
	}
	return report, nil
}

// allAssessments collects organisation-scoped and personal assessments
// without double counting.
func (j *Janitor) allAssessments(ctx context.Context, orgs []*model.Organization) ([]*model.Assessment, error) {
	seen := make(map[string]struct{})
	var out []*model.Assessment

	for _, org := range orgs {
		list, err := j.store.AssessmentsByOrg(ctx, org.ID)
		if err != nil {
			return nil, fmt.Errorf("assessments of organisation %s: %w", org.ID, err)
		}
		for _, a := range list {
			if _, ok := seen[a.ID]; ok {
				continue
			}
			seen[a.ID] = struct{}{}
			out = append(out, a)
		}
	}

	principals, err := j.store.ListPrincipals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list principals: %w", err)
	}
	for _, p := range principals {
		list, err := j.store.AssessmentsByOwner(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("assessments of principal %s: %w", p.ID, err)
		}
		for _, a := range list {
			if _, ok := seen[a.ID]; ok {
				continue
			}
			seen[a.ID] = struct{}{}
			out = append(out, a)
		}
	}
	return out, nil
}

// allLibraries collects libraries of every shape without double
// counting.
func (j *Janitor) allLibraries(ctx context.Context, orgs []*model.Organization) ([]*model.Library, error) {
	seen := make(map[string]struct{})
	var out []*model.Library
	add := func(list []*model.Library) {
		for _, l := range list {
			if _, ok := seen[l.ID]; ok {
				continue
			}
			seen[l.ID] = struct{}{}
			out = append(out, l)
		}
	}

	for _, org := range orgs {
		list, err := j.store.LibrariesByOwnerOrg(ctx, org.ID)
		if err != nil {
			return nil, fmt.Errorf("libraries of organisation %s: %w", org.ID, err)
		}
		add(list)
	}

	principals, err := j.store.ListPrincipals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list principals: %w", err)
	}
	for _, p := range principals {
		list, err := j.store.LibrariesByOwnerUser(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("libraries of principal %s: %w", p.ID, err)
		}
		add(list)
	}

	global, err := j.store.GlobalLibraries(ctx)
	if err != nil {
		return nil, fmt.Errorf("global libraries: %w", err)
	}
	add(global)
	return out, nil
}

func (j *Janitor) checkOrganisation(report *SweepReport, org *model.Organization) {
	if err := org.Validate(); err != nil {
		report.add("organisation_roles", org.ID, err.Error())
	}
}

func (j *Janitor) checkAssessment(ctx context.Context, report *SweepReport, a *model.Assessment, orgs map[string]*model.Organization) {
	if a.OwnerID == "" {
		report.add("assessment_owner", a.ID, "assessment has no owner")
	} else if _, err := j.store.GetPrincipal(ctx, a.OwnerID); err != nil {
		report.add("assessment_owner", a.ID, fmt.Sprintf("owner %s not found", a.OwnerID))
	}

	if !a.Status.Valid() {
		report.add("assessment_status", a.ID, fmt.Sprintf("unknown status %q", a.Status))
	}

	if a.InOrganisation() {
		org, ok := orgs[a.OrganizationID]
		if !ok {
			report.add("assessment_org", a.ID, fmt.Sprintf("organisation %s not found", a.OrganizationID))
		} else {
			for _, pid := range a.SharedWith.Values() {
				if !org.HasMember(pid) {
					report.add("assessment_sharing", a.ID, fmt.Sprintf("shared with %s who is not a member of %s", pid, org.ID))
				}
			}
		}
	} else if a.SharedWith.Len() > 0 {
		report.add("assessment_sharing", a.ID, "personal assessment carries sharing edges")
	}

	if a.FeaturedImageID != "" {
		img, err := j.store.GetImage(ctx, a.FeaturedImageID)
		if err != nil {
			report.add("assessment_featured_image", a.ID, fmt.Sprintf("featured image %s not found", a.FeaturedImageID))
		} else if img.AssessmentID != a.ID {
			report.add("assessment_featured_image", a.ID, fmt.Sprintf("featured image %s belongs to assessment %s", img.ID, img.AssessmentID))
		}
	}
}

func (j *Janitor) checkLibrary(report *SweepReport, l *model.Library, orgs map[string]*model.Organization) {
	if err := l.Validate(); err != nil {
		report.add("library_shape", l.ID, err.Error())
	}
	if l.OwnerOrgID != "" {
		if _, ok := orgs[l.OwnerOrgID]; !ok {
			report.add("library_owner", l.ID, fmt.Sprintf("owning organisation %s not found", l.OwnerOrgID))
		}
	}
	for _, orgID := range l.SharedWith.Values() {
		if _, ok := orgs[orgID]; !ok {
			report.add("library_sharing", l.ID, fmt.Sprintf("shared with unknown organisation %s", orgID))
		}
	}
}

func (r *SweepReport) add(kind, entityID, detail string) {
	r.Findings = append(r.Findings, Finding{Kind: kind, EntityID: entityID, Detail: detail})
}
