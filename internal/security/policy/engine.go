package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-hq/inkwell/internal/models"
	"github.com/inkwell-hq/inkwell/internal/security/events"
	"github.com/inkwell-hq/inkwell/internal/security/sessions"
	"github.com/inkwell-hq/inkwell/pkg/logger"
	"github.com/inkwell-hq/inkwell/pkg/metrics"
)

// Defaults applied when the Config leaves a knob unset.
const (
	DefaultMaxConcurrentSessions = 5
	DefaultStalenessThreshold    = 30 * 24 * time.Hour
	DefaultLocationThreshold     = 3
	DefaultRequireReauthAfter    = 24 * time.Hour
)

// Violation identifiers reported by Enforce. The first two revoke sessions;
// the rest are informational and revoke nothing.
const (
	ViolationConcurrentLimit      = "concurrent_session_limit"
	ViolationStaleSessions        = "stale_sessions"
	ViolationMultipleLocations    = "multiple_locations"
	ViolationSuspiciousUserAgents = "suspicious_user_agents"
	ViolationRequiresReauth       = "requires_reauthentication"
)

var suspiciousAgentMarkers = []string{"bot", "crawler", "spider"}

// Config carries the tunable policy thresholds.
type Config struct {
	MaxConcurrentSessions int
	StalenessThreshold    time.Duration
	LocationThreshold     int
	RequireReauthAfter    time.Duration
	Clock                 func() time.Time
}

// Report summarises one enforcement pass over a principal's sessions.
type Report struct {
	PrincipalID       string   `json:"principal_id"`
	Violations        []string `json:"violations"`
	Actions           []string `json:"actions"`
	RevokedSessions   int      `json:"revoked_sessions"`
	RemainingSessions int      `json:"remaining_sessions"`
	TotalSessions     int      `json:"total_sessions"`
}

// Engine applies session security policies to a principal's active sessions.
// Enforcement is idempotent: a compliant session set produces an empty report
// and touches nothing.
type Engine struct {
	registry *sessions.Registry
	events   *events.Service

	maxConcurrent     int
	staleness         time.Duration
	locationThreshold int
	requireReauth     time.Duration
	now               func() time.Time
	log               *zap.Logger
}

// NewEngine constructs a policy engine over the session registry.
func NewEngine(registry *sessions.Registry, eventLog *events.Service, cfg Config) (*Engine, error) {
	if registry == nil {
		return nil, errors.New("policy: session registry is required")
	}
	if eventLog == nil {
		return nil, errors.New("policy: event log is required")
	}

	maxConcurrent := cfg.MaxConcurrentSessions
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentSessions
	}
	staleness := cfg.StalenessThreshold
	if staleness <= 0 {
		staleness = DefaultStalenessThreshold
	}
	locationThreshold := cfg.LocationThreshold
	if locationThreshold <= 0 {
		locationThreshold = DefaultLocationThreshold
	}
	requireReauth := cfg.RequireReauthAfter
	if requireReauth <= 0 {
		requireReauth = DefaultRequireReauthAfter
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Engine{
		registry:          registry,
		events:            eventLog,
		maxConcurrent:     maxConcurrent,
		staleness:         staleness,
		locationThreshold: locationThreshold,
		requireReauth:     requireReauth,
		now:               clock,
		log:               logger.WithModule("policy"),
	}, nil
}

// Enforce evaluates every policy against the principal's active sessions and
// revokes violators. The concurrency cap is applied first, oldest activity
// evicted, then stale sessions are ended; the informational checks run over
// what survives. The pass appends one security_policy_enforced event when it
// changed or flagged anything.
func (e *Engine) Enforce(ctx context.Context, principalID string) (*Report, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return nil, errors.New("policy: principal id is required")
	}

	active, err := e.registry.ListActive(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("policy: list sessions: %w", err)
	}

	report := &Report{
		PrincipalID:   principalID,
		Violations:    []string{},
		Actions:       []string{},
		TotalSessions: len(active),
	}

	now := e.now()

	// Oldest activity goes first; the most recently used devices survive.
	surviving := append([]models.Session(nil), active...)
	sort.Slice(surviving, func(i, j int) bool {
		return surviving[i].LastActiveAt.Before(surviving[j].LastActiveAt)
	})

	if excess := len(surviving) - e.maxConcurrent; excess > 0 {
		for _, session := range surviving[:excess] {
			if err := e.revoke(ctx, session.Token, models.SessionEndConcurrentLimit); err != nil {
				return nil, err
			}
		}
		surviving = surviving[excess:]

		report.Violations = append(report.Violations, ViolationConcurrentLimit)
		report.Actions = append(report.Actions, fmt.Sprintf("revoked %d sessions over the concurrent limit", excess))
		report.RevokedSessions += excess
	}

	staleCutoff := now.Add(-e.staleness)
	kept := make([]models.Session, 0, len(surviving))
	staleRevoked := 0
	for _, session := range surviving {
		if session.LastActiveAt.Before(staleCutoff) {
			if err := e.revoke(ctx, session.Token, models.SessionEndStale); err != nil {
				return nil, err
			}
			staleRevoked++
			continue
		}
		kept = append(kept, session)
	}
	if staleRevoked > 0 {
		report.Violations = append(report.Violations, ViolationStaleSessions)
		report.Actions = append(report.Actions, fmt.Sprintf("revoked %d stale sessions", staleRevoked))
		report.RevokedSessions += staleRevoked
	}

	report.RemainingSessions = len(kept)
	report.Violations = append(report.Violations, e.observations(kept, now)...)

	if len(report.Violations) > 0 {
		e.events.RecordBestEffort(ctx, events.Entry{
			PrincipalID: principalID,
			Kind:        models.EventSecurityPolicyEnforced,
			Metadata: map[string]any{
				"violations":         report.Violations,
				"actions":            report.Actions,
				"revoked_sessions":   report.RevokedSessions,
				"remaining_sessions": report.RemainingSessions,
			},
		})
	}

	return report, nil
}

// EnforceAll runs Enforce for each principal and keeps going on individual
// failures, returning the reports that succeeded.
func (e *Engine) EnforceAll(ctx context.Context, principalIDs []string) []*Report {
	reports := make([]*Report, 0, len(principalIDs))
	for _, id := range principalIDs {
		report, err := e.Enforce(ctx, id)
		if err != nil {
			e.log.Warn("policy enforcement failed", zap.String("principal_id", id), zap.Error(err))
			continue
		}
		reports = append(reports, report)
	}
	return reports
}

func (e *Engine) revoke(ctx context.Context, token, reason string) error {
	ended, err := e.registry.End(ctx, token, reason)
	if err != nil {
		return fmt.Errorf("policy: revoke session: %w", err)
	}
	if ended {
		metrics.PolicyRevocations.WithLabelValues(reason).Inc()
	}
	return nil
}

// observations computes the informational violations over the surviving
// sessions. These never revoke anything.
func (e *Engine) observations(surviving []models.Session, now time.Time) []string {
	observed := []string{}

	locations := make(map[string]struct{})
	suspiciousAgent := false
	needsReauth := false
	reauthCutoff := now.Add(-e.requireReauth)
	for _, session := range surviving {
		if session.IPAddress != "" {
			locations[session.IPAddress] = struct{}{}
		}
		agent := strings.ToLower(session.UserAgent)
		for _, marker := range suspiciousAgentMarkers {
			if strings.Contains(agent, marker) {
				suspiciousAgent = true
				break
			}
		}
		if session.CreatedAt.Before(reauthCutoff) {
			needsReauth = true
		}
	}

	if len(locations) > e.locationThreshold {
		observed = append(observed, ViolationMultipleLocations)
	}
	if suspiciousAgent {
		observed = append(observed, ViolationSuspiciousUserAgents)
	}
	if needsReauth {
		observed = append(observed, ViolationRequiresReauth)
	}
	return observed
}
