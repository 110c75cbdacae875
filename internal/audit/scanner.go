// Package audit periodically re-evaluates all constraints against a snapshot
// of existing resources, using the same match and evaluate pipeline as the
// admission gateway. It never blocks or mutates anything: each run works
// against a read-only resource listing and one policy snapshot, and replaces
// the previous report atomically so queriers never see a partial run.
package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/shrikeio/shrike/internal/eval"
	"github.com/shrikeio/shrike/internal/match"
	"github.com/shrikeio/shrike/internal/store"
	"github.com/shrikeio/shrike/internal/types"
)

// Entry is one audit finding: a constraint, a resource, a message.
type Entry struct {
	ConstraintName string            `json:"constraintName"`
	Resource       types.ResourceRef `json:"resource"`
	Message        string            `json:"message"`
}

// Report is the complete result of one audit run.
type Report struct {
	GeneratedAt   time.Time `json:"generatedAt"`
	PolicyVersion uint64    `json:"policyVersion"`
	Resources     int       `json:"resources"`
	Entries       []Entry   `json:"entries"`

	// Errors lists constraints whose evaluation failed during this run.
	Errors []string `json:"errors,omitempty"`
}

// Source lists the resources to audit. Implementations must return a
// point-in-time snapshot the scanner can read without coordination.
type Source interface {
	List(ctx context.Context) ([]*unstructured.Unstructured, error)
}

// Scanner runs audits on a cron schedule and holds the latest report.
type Scanner struct {
	store     *store.Store
	evaluator *eval.Evaluator
	source    Source
	schedule  string
	logger    *zap.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
	report  atomic.Pointer[Report]
}

// NewScanner creates a Scanner. Schedule is a cron expression; descriptors
// such as "@every 60s" are accepted.
func NewScanner(s *store.Store, evaluator *eval.Evaluator, source Source, schedule string, logger *zap.Logger) *Scanner {
	sc := &Scanner{
		store:     s,
		evaluator: evaluator,
		source:    source,
		schedule:  schedule,
		cron:      cron.New(),
		logger:    logger.Named("audit"),
	}
	sc.report.Store(&Report{})
	return sc
}

// Start schedules periodic scans until the context is cancelled. An empty
// schedule disables the scanner.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if s.schedule == "" {
		s.logger.Info("Audit schedule not configured, scanner disabled")
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid audit schedule %q: %w", s.schedule, err)
	}

	_, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Error("Audit run failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule audit: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("Audit scanner started", zap.String("schedule", s.schedule))

	go func() {
		<-ctx.Done()
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.logger.Info("Audit scanner stopped")
	}()
	return nil
}

// RunOnce performs a single scan and atomically replaces the report.
func (s *Scanner) RunOnce(ctx context.Context) error {
	start := time.Now()
	snapshot := s.store.Snapshot()

	resources, err := s.source.List(ctx)
	if err != nil {
		auditRunsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to list resources: %w", err)
	}

	report := &Report{
		GeneratedAt:   start,
		PolicyVersion: snapshot.Version(),
		Resources:     len(resources),
	}

	constraints := snapshot.Constraints()
	for _, obj := range resources {
		attrs := types.AttributesFromObject(obj)
		for _, c := range match.Filter(constraints, attrs) {
			tpl, ok := snapshot.Template(c.TemplateName)
			if !ok {
				continue
			}
			violations, err := s.evaluator.Evaluate(ctx, tpl, c, obj)
			if err != nil {
				report.Errors = append(report.Errors, err.Error())
				continue
			}
			for _, v := range violations {
				report.Entries = append(report.Entries, Entry{
					ConstraintName: v.Constraint,
					Resource:       v.Resource,
					Message:        v.Message,
				})
			}
		}
	}

	s.report.Store(report)

	auditRunsTotal.WithLabelValues("ok").Inc()
	auditViolations.Set(float64(len(report.Entries)))
	auditRunDuration.Observe(time.Since(start).Seconds())

	s.logger.Info("Audit run complete",
		zap.Int("resources", len(resources)),
		zap.Int("violations", len(report.Entries)),
		zap.Int("errors", len(report.Errors)),
		zap.Uint64("policy_version", snapshot.Version()),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// Latest returns the most recent report. Safe for concurrent use; the
// returned report is immutable.
func (s *Scanner) Latest() *Report {
	return s.report.Load()
}
