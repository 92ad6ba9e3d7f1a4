package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	iauth "github.com/inkwell-hq/inkwell/internal/auth"
	"github.com/inkwell-hq/inkwell/internal/handlers"
	"github.com/inkwell-hq/inkwell/internal/middleware"
	"github.com/inkwell-hq/inkwell/internal/models"
	"github.com/inkwell-hq/inkwell/internal/security/detector"
	"github.com/inkwell-hq/inkwell/internal/security/events"
	"github.com/inkwell-hq/inkwell/internal/security/policy"
	"github.com/inkwell-hq/inkwell/internal/security/sessions"
	syncengine "github.com/inkwell-hq/inkwell/internal/security/sync"
	"github.com/inkwell-hq/inkwell/internal/security/twofactor"
)

// Services bundles the constructed core services the router mounts.
type Services struct {
	DB            *gorm.DB
	JWT           *iauth.JWTService
	Registry      *sessions.Registry
	Detector      *detector.Detector
	Events        *events.Service
	Policy        *policy.Engine
	TwoFactor     *twofactor.Service
	Sync          *syncengine.Engine
	WebhookSecret string
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(svc Services) (*gin.Engine, error) {
	if svc.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if svc.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	// Public endpoints
	r.GET("/health", handlers.Health())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	webhookHandler, err := handlers.NewWebhookHandler(svc.DB, svc.Registry, svc.Sync, svc.WebhookSecret)
	if err != nil {
		return nil, err
	}
	r.POST("/webhooks/identity", webhookHandler.Handle)

	// Protected routes
	api := r.Group("/api")
	api.Use(middleware.Auth(svc.JWT))

	twoFactorHandler, err := handlers.NewTwoFactorHandler(svc.TwoFactor)
	if err != nil {
		return nil, err
	}
	twofa := api.Group("/security/2fa")
	{
		twofa.POST("/enable", twoFactorHandler.Enable)
		twofa.POST("/disable", twoFactorHandler.Disable)
		twofa.POST("/verify", twoFactorHandler.Verify)
		twofa.POST("/backup-codes", twoFactorHandler.RegenerateBackupCodes)
		twofa.GET("/status", twoFactorHandler.Status)
	}

	securityHandler, err := handlers.NewSecurityHandler(svc.Policy, svc.Detector, svc.Events)
	if err != nil {
		return nil, err
	}
	api.POST("/security/policies/enforce", securityHandler.EnforcePolicies)
	api.POST("/security/suspicious-login", securityHandler.DetectSuspiciousLogin)
	api.GET("/security/events", securityHandler.ListEvents)

	sessionsHandler, err := handlers.NewSessionsHandler(svc.Registry)
	if err != nil {
		return nil, err
	}
	sess := api.Group("/sessions")
	{
		sess.POST("", sessionsHandler.Create)
		sess.POST("/activity", sessionsHandler.Activity)
		sess.POST("/:token/end", sessionsHandler.End)
		sess.GET("", sessionsHandler.ListActive)
		sess.POST("/revoke-others", sessionsHandler.RevokeOthers)
	}

	syncHandler, err := handlers.NewSyncHandler(svc.Sync)
	if err != nil {
		return nil, err
	}
	syncGroup := api.Group("/sync")
	{
		syncGroup.POST("/from-external", syncHandler.FromExternal)
		syncGroup.POST("/to-external", syncHandler.ToExternal)
		syncGroup.POST("/bidirectional", syncHandler.Bidirectional)
		syncGroup.POST("/bulk", middleware.RequireRole(models.RoleAdmin), syncHandler.Bulk)
		syncGroup.GET("/records", syncHandler.Records)
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
