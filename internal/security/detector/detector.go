package detector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/inkwell-hq/inkwell/internal/models"
	"github.com/inkwell-hq/inkwell/internal/security/events"
	"github.com/inkwell-hq/inkwell/pkg/metrics"
)

// Risk levels returned by Detect.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Detection factors.
const (
	FactorNewIPAddress  = "new_ip_address"
	FactorNewUserAgent  = "new_user_agent"
	FactorRapidAttempts = "rapid_login_attempts"
)

const (
	lookbackWindow = 7 * 24 * time.Hour
	historyLimit   = 10
	rapidWindow    = time.Hour
	rapidThreshold = 5
)

// Result is the verdict for a single login attempt.
type Result struct {
	IsSuspicious bool     `json:"is_suspicious"`
	Factors      []string `json:"factors"`
	RiskLevel    string   `json:"risk_level"`
}

// Detector scores login attempts against a principal's recent session history.
type Detector struct {
	events *events.Service
	now    func() time.Time
}

// Option customises the Detector.
type Option func(*Detector)

// WithClock injects a custom clock, primarily for testing.
func WithClock(clock func() time.Time) Option {
	return func(d *Detector) {
		if clock != nil {
			d.now = clock
		}
	}
}

// NewDetector constructs a suspicious-login detector over the event log.
func NewDetector(eventLog *events.Service, opts ...Option) (*Detector, error) {
	if eventLog == nil {
		return nil, errors.New("detector: event log is required")
	}

	d := &Detector{events: eventLog, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Detect compares the attempt against the last 7 days of session_created
// events (bounded to the 10 most recent). A principal with no prior history is
// never flagged: a first-ever login has nothing to compare against.
func (d *Detector) Detect(ctx context.Context, principalID, ipAddress, userAgent string) (Result, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return Result{}, errors.New("detector: principal id is required")
	}

	now := d.now()
	history, err := d.events.RecentByKind(ctx, principalID, models.EventSessionCreated, now.Add(-lookbackWindow), historyLimit)
	if err != nil {
		return Result{}, fmt.Errorf("detector: load history: %w", err)
	}

	result := Result{RiskLevel: RiskLow, Factors: []string{}}
	if len(history) == 0 {
		return result, nil
	}

	knownIPs := make(map[string]struct{}, len(history))
	knownAgents := make(map[string]struct{}, len(history))
	for _, event := range history {
		if event.IPAddress != "" {
			knownIPs[event.IPAddress] = struct{}{}
		}
		if event.UserAgent != "" {
			knownAgents[event.UserAgent] = struct{}{}
		}
	}

	if ip := strings.TrimSpace(ipAddress); ip != "" {
		if _, seen := knownIPs[ip]; !seen {
			result.Factors = append(result.Factors, FactorNewIPAddress)
		}
	}
	if agent := strings.TrimSpace(userAgent); agent != "" {
		if _, seen := knownAgents[agent]; !seen {
			result.Factors = append(result.Factors, FactorNewUserAgent)
		}
	}

	recentLogins, err := d.events.CountByKindSince(ctx, principalID, models.EventSessionCreated, now.Add(-rapidWindow))
	if err != nil {
		return Result{}, fmt.Errorf("detector: count recent logins: %w", err)
	}
	if recentLogins > rapidThreshold {
		result.Factors = append(result.Factors, FactorRapidAttempts)
	}

	switch {
	case len(result.Factors) >= 2:
		result.RiskLevel = RiskHigh
	case len(result.Factors) == 1:
		result.RiskLevel = RiskMedium
	}
	result.IsSuspicious = len(result.Factors) > 0

	if result.IsSuspicious {
		metrics.SuspiciousLogins.WithLabelValues(result.RiskLevel).Inc()
		d.events.RecordBestEffort(ctx, events.Entry{
			PrincipalID: principalID,
			Kind:        models.EventSuspiciousLogin,
			IPAddress:   ipAddress,
			UserAgent:   userAgent,
			Metadata: map[string]any{
				"factors":    result.Factors,
				"risk_level": result.RiskLevel,
			},
		})
	}

	return result, nil
}
