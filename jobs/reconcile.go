package jobs

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/ecclesia-app/ecclesia/internal/audit"
	jobmetrics "github.com/ecclesia-app/ecclesia/internal/jobs"
	"github.com/ecclesia-app/ecclesia/internal/rbac"
)

// Inconsistency reasons reported by the reconcile job.
const (
	ReasonStateDrift   = "state_drift"
	ReasonMissingAudit = "missing_audit"
	ReasonOrphanAudit  = "orphan_audit"
)

// PrincipalLister lists every stored principal.
type PrincipalLister interface {
	ListPrincipals(ctx context.Context) ([]rbac.Principal, error)
}

// AuditSnapshots returns the latest change record per target principal.
type AuditSnapshots interface {
	LatestPerTarget(ctx context.Context) (map[string]audit.Record, error)
}

// Finding describes one principal whose access disagrees with its trail.
type Finding struct {
	Principal string
	Reason    string
}

// ReconcileReport summarises one reconcile run.
type ReconcileReport struct {
	Checked  int
	Findings []Finding
}

// ReconcileJob detects principals whose stored role and overrides differ from
// the after-state of their most recent audit record.
type ReconcileJob struct {
	Principals PrincipalLister
	Audit      AuditSnapshots
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	clock      func() time.Time
}

// NewReconcileJob initialises the reconcile handler.
func NewReconcileJob(principals PrincipalLister, snapshots AuditSnapshots, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{
		Principals: principals,
		Audit:      snapshots,
		Logger:     logger,
		Metrics:    metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the asynq task.
func (j *ReconcileJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil {
		return errors.New("reconcile: handler not configured")
	}
	_, err := j.Run(ctx)
	return err
}

// Run performs one reconcile pass.
func (j *ReconcileJob) Run(ctx context.Context) (report ReconcileReport, resultErr error) {
	if j.Principals == nil || j.Audit == nil {
		return ReconcileReport{}, errors.New("reconcile: dependencies not configured")
	}
	tracker := j.metrics().Track(TaskPermissionsReconcile)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	start := j.now()
	logger := j.logger()

	report, err := j.compare(ctx)
	if err == nil && len(report.Findings) > 0 {
		// The two reads are not one snapshot, so a change committed between
		// them looks like drift. Only findings seen on a second read count.
		var again ReconcileReport
		if again, err = j.compare(ctx); err == nil {
			report.Findings = confirmed(report.Findings, again.Findings)
		}
	}
	if err != nil {
		logger.Error("reconcile load failed", slog.Any("error", err))
		return ReconcileReport{}, err
	}

	counts := make(map[string]int)
	for _, f := range report.Findings {
		counts[f.Reason]++
		logger.Warn("rbac state disagrees with audit trail",
			slog.String("principal", f.Principal),
			slog.String("reason", f.Reason))
	}
	for reason, n := range counts {
		j.metrics().AddInconsistencies(reason, n)
	}
	logger.Info("reconcile finished",
		slog.Int("checked", report.Checked),
		slog.Int("findings", len(report.Findings)),
		slog.Duration("duration", j.now().Sub(start)))
	return report, nil
}

// compare loads principals and their latest audit records concurrently and
// compares them.
func (j *ReconcileJob) compare(ctx context.Context) (ReconcileReport, error) {
	var (
		principals []rbac.Principal
		latest     map[string]audit.Record
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		principals, err = j.Principals.ListPrincipals(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		latest, err = j.Audit.LatestPerTarget(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return ReconcileReport{}, err
	}
	return Compare(principals, latest), nil
}

// confirmed keeps the findings of first that second reports again.
func confirmed(first, second []Finding) []Finding {
	again := make(map[Finding]struct{}, len(second))
	for _, f := range second {
		again[f] = struct{}{}
	}
	var out []Finding
	for _, f := range first {
		if _, ok := again[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Compare checks each principal against its latest audit record. A principal
// without history is consistent only while it holds the provisioning state.
func Compare(principals []rbac.Principal, latest map[string]audit.Record) ReconcileReport {
	report := ReconcileReport{Checked: len(principals)}
	seen := make(map[string]struct{}, len(principals))
	for _, p := range principals {
		seen[p.ID] = struct{}{}
		rec, ok := latest[p.ID]
		if !ok {
			if !provisioned(p) {
				report.Findings = append(report.Findings, Finding{Principal: p.ID, Reason: ReasonMissingAudit})
			}
			continue
		}
		if !matches(p, rec.After) {
			report.Findings = append(report.Findings, Finding{Principal: p.ID, Reason: ReasonStateDrift})
		}
	}
	var orphans []string
	for target := range latest {
		if _, ok := seen[target]; !ok {
			orphans = append(orphans, target)
		}
	}
	sort.Strings(orphans)
	for _, target := range orphans {
		report.Findings = append(report.Findings, Finding{Principal: target, Reason: ReasonOrphanAudit})
	}
	return report
}

func provisioned(p rbac.Principal) bool {
	return p.Role == rbac.DefaultRole && p.Version <= 1 &&
		len(p.Overrides.Added) == 0 && len(p.Overrides.Removed) == 0
}

func matches(p rbac.Principal, after audit.Snapshot) bool {
	if p.Role.String() != after.Role || p.Version != after.Version {
		return false
	}
	o := p.Overrides.Normalized()
	return slices.Equal(o.Added, sortedCopy(after.Added)) && slices.Equal(o.Removed, sortedCopy(after.Removed))
}

func sortedCopy(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return out
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *ReconcileJob) metrics() *jobmetrics.Metrics {
	return j.Metrics
}

func (j *ReconcileJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
