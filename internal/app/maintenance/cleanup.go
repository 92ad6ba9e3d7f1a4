package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/inkwell-hq/inkwell/internal/security/events"
	"github.com/inkwell-hq/inkwell/internal/security/sessions"
	syncengine "github.com/inkwell-hq/inkwell/internal/security/sync"
	"github.com/inkwell-hq/inkwell/pkg/logger"
)

const (
	defaultEventRetentionDays = 90
	defaultSyncRetentionDays  = 90
	defaultSessionSpec        = "@hourly"
	defaultEventSpec          = "@daily"
	defaultSyncSpec           = "@daily"
)

// Cleaner coordinates background maintenance: sweeping expired sessions,
// pruning old security events, and pruning old sync records.
type Cleaner struct {
	registry *sessions.Registry
	events   *events.Service
	sync     *syncengine.Engine
	cron     *cron.Cron
	now      func() time.Time
	log      *zap.Logger

	eventRetention int
	syncRetention  int

	sessionSchedule string
	eventSchedule   string
	syncSchedule    string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for scheduling and cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithEventRetentionDays adjusts how long security events are retained.
func WithEventRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.eventRetention = days
		}
	}
}

// WithSyncRetentionDays adjusts how long sync records are retained.
func WithSyncRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.syncRetention = days
		}
	}
}

// WithSessionSchedule overrides the cron specification for the session sweep.
func WithSessionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sessionSchedule = spec
		}
	}
}

// WithEventSchedule overrides the cron specification for event retention.
func WithEventSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.eventSchedule = spec
		}
	}
}

// WithSyncSchedule overrides the cron specification for sync-record retention.
func WithSyncSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.syncSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency
// results in the corresponding job being skipped.
func NewCleaner(registry *sessions.Registry, eventLog *events.Service, engine *syncengine.Engine, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		registry:        registry,
		events:          eventLog,
		sync:            engine,
		now:             time.Now,
		eventRetention:  defaultEventRetentionDays,
		syncRetention:   defaultSyncRetentionDays,
		sessionSchedule: defaultSessionSpec,
		eventSchedule:   defaultEventSpec,
		syncSchedule:    defaultSyncSpec,
		log:             logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the cleanup jobs with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if c.registry != nil {
		if _, err := c.cron.AddFunc(c.sessionSchedule, func() {
			if _, err := c.registry.CleanupExpired(context.Background()); err != nil {
				c.log.Warn("session sweep failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.events != nil && c.eventRetention > 0 {
		if _, err := c.cron.AddFunc(c.eventSchedule, func() {
			if _, err := c.events.CleanupOlderThan(context.Background(), c.eventRetention); err != nil {
				c.log.Warn("event retention failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.sync != nil && c.syncRetention > 0 {
		if _, err := c.cron.AddFunc(c.syncSchedule, func() {
			if _, err := c.sync.CleanupOlderThan(context.Background(), c.syncRetention); err != nil {
				c.log.Warn("sync record retention failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Primarily
// used in tests and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.registry != nil {
		if _, err := c.registry.CleanupExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.events != nil && c.eventRetention > 0 {
		if _, err := c.events.CleanupOlderThan(ctx, c.eventRetention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.sync != nil && c.syncRetention > 0 {
		if _, err := c.sync.CleanupOlderThan(ctx, c.syncRetention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}
