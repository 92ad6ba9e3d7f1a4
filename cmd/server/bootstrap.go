package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inkwell-hq/inkwell/internal/api"
	"github.com/inkwell-hq/inkwell/internal/app"
	"github.com/inkwell-hq/inkwell/internal/app/maintenance"
	iauth "github.com/inkwell-hq/inkwell/internal/auth"
	"github.com/inkwell-hq/inkwell/internal/database"
	"github.com/inkwell-hq/inkwell/internal/identity"
	"github.com/inkwell-hq/inkwell/internal/security/backupcode"
	"github.com/inkwell-hq/inkwell/internal/security/detector"
	"github.com/inkwell-hq/inkwell/internal/security/events"
	"github.com/inkwell-hq/inkwell/internal/security/policy"
	"github.com/inkwell-hq/inkwell/internal/security/sessions"
	syncengine "github.com/inkwell-hq/inkwell/internal/security/sync"
	"github.com/inkwell-hq/inkwell/internal/security/totp"
	"github.com/inkwell-hq/inkwell/internal/security/twofactor"
	"github.com/inkwell-hq/inkwell/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB      *gorm.DB
	Cleaner *maintenance.Cleaner
	Router  *gin.Engine
}

// bootstrapRuntime initialises the database, the security services, the
// maintenance jobs, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         cfg.Auth.JWT.Secret,
		Issuer:         cfg.Auth.JWT.Issuer,
		AccessTokenTTL: cfg.Auth.JWT.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	var idp identity.Provider
	if strings.TrimSpace(cfg.Identity.BaseURL) != "" {
		client, clientErr := identity.NewClient(identity.ClientConfig{
			BaseURL:      cfg.Identity.BaseURL,
			TokenURL:     cfg.Identity.TokenURL,
			ClientID:     cfg.Identity.ClientID,
			ClientSecret: cfg.Identity.ClientSecret,
			Timeout:      cfg.Identity.Timeout,
		})
		if clientErr != nil {
			return nil, fmt.Errorf("initialise identity client: %w", clientErr)
		}
		idp = client
	}

	eventLog, err := events.NewService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise event log: %w", err)
	}

	det, err := detector.NewDetector(eventLog)
	if err != nil {
		return nil, fmt.Errorf("initialise detector: %w", err)
	}

	registry, err := sessions.NewRegistry(stack.DB, det, eventLog, idp, sessions.Config{
		SessionTTL:          cfg.Security.Sessions.TTL,
		InactivityThreshold: cfg.Security.Sessions.InactivityThreshold,
		CleanupBatchSize:    cfg.Security.Sessions.CleanupBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise session registry: %w", err)
	}

	policyEngine, err := policy.NewEngine(registry, eventLog, policy.Config{
		MaxConcurrentSessions: cfg.Security.Policy.MaxConcurrentSessions,
		StalenessThreshold:    cfg.Security.Policy.StalenessThreshold,
		LocationThreshold:     cfg.Security.Policy.LocationThreshold,
		RequireReauthAfter:    cfg.Security.Policy.RequireReauthAfter,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise policy engine: %w", err)
	}

	backups, err := backupcode.NewManager(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise backup codes: %w", err)
	}

	twoFactorSvc, err := twofactor.NewService(
		stack.DB,
		totp.NewEngine(),
		backups,
		eventLog,
		[]byte(cfg.Security.EncryptionKey),
		twofactor.WithIssuer(cfg.Security.TwoFactorIssuer),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise two-factor service: %w", err)
	}

	var engine *syncengine.Engine
	if idp != nil {
		engine, err = syncengine.NewEngine(stack.DB, idp)
		if err != nil {
			return nil, fmt.Errorf("initialise sync engine: %w", err)
		}
	}
	if engine == nil {
		return nil, fmt.Errorf("identity.base_url must be configured for profile sync")
	}

	stack.Cleaner = maintenance.NewCleaner(registry, eventLog, engine,
		maintenance.WithSessionSchedule(cfg.Maintenance.SessionSchedule),
		maintenance.WithEventSchedule(cfg.Maintenance.EventSchedule),
		maintenance.WithSyncSchedule(cfg.Maintenance.SyncRecordSchedule),
		maintenance.WithEventRetentionDays(cfg.Maintenance.EventRetentionDays),
		maintenance.WithSyncRetentionDays(cfg.Maintenance.SyncRetentionDays),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(api.Services{
		DB:            stack.DB,
		JWT:           jwtSvc,
		Registry:      registry,
		Detector:      det,
		Events:        eventLog,
		Policy:        policyEngine,
		TwoFactor:     twoFactorSvc,
		Sync:          engine,
		WebhookSecret: cfg.Security.WebhookSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown releases runtime resources in reverse initialisation order.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if err := s.Cleaner.RunOnce(stopCtx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	closeDatabase(s.DB, log)
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	db, err := database.Open(cfg.DatabaseOptions())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected",
		zap.String("driver", strings.ToLower(strings.TrimSpace(cfg.Database.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("obtain database handle", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("close database", zap.Error(err))
	}
}
