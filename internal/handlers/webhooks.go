package handlers

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/inkwell-hq/inkwell/internal/models"
	"github.com/inkwell-hq/inkwell/internal/security/sessions"
	syncengine "github.com/inkwell-hq/inkwell/internal/security/sync"
	appErrors "github.com/inkwell-hq/inkwell/pkg/errors"
	"github.com/inkwell-hq/inkwell/pkg/response"
)

// WebhookSecretHeader carries the shared secret authenticating webhook calls.
const WebhookSecretHeader = "X-Inkwell-Webhook-Secret"

// WebhookHandler translates identity-provider lifecycle events into core calls.
type WebhookHandler struct {
	db       *gorm.DB
	registry *sessions.Registry
	sync     *syncengine.Engine
	secret   string
}

// NewWebhookHandler constructs the webhook ingestion handler.
func NewWebhookHandler(db *gorm.DB, registry *sessions.Registry, engine *syncengine.Engine, secret string) (*WebhookHandler, error) {
	if db == nil {
		return nil, errors.New("webhook handler: db is required")
	}
	if registry == nil {
		return nil, errors.New("webhook handler: registry is required")
	}
	if engine == nil {
		return nil, errors.New("webhook handler: sync engine is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("webhook handler: shared secret is required")
	}
	return &WebhookHandler{db: db, registry: registry, sync: engine, secret: secret}, nil
}

type webhookPayload struct {
	Event string      `json:"event" validate:"required"`
	Data  webhookData `json:"data"`
}

type webhookData struct {
	UserID       string `json:"user_id"`
	SessionToken string `json:"session_token"`
	IPAddress    string `json:"ip_address"`
	UserAgent    string `json:"user_agent"`
}

// POST /webhooks/identity
func (h *WebhookHandler) Handle(c *gin.Context) {
	provided := c.GetHeader(WebhookSecretHeader)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) != 1 {
		response.Error(c, appErrors.ErrAuthenticationRequired)
		return
	}

	var payload webhookPayload
	if !bindAndValidate(c, &payload) {
		return
	}

	ctx := requestContext(c)
	var err error
	switch payload.Event {
	case "user.created", "user.updated":
		// Lifecycle pushes are authoritative; local conflicts are overridden.
		if payload.Data.UserID == "" {
			response.Error(c, appErrors.NewValidation("user_id is required"))
			return
		}
		_, err = h.sync.SyncFromExternal(ctx, payload.Data.UserID, syncengine.Options{Force: true})

	case "user.deleted":
		err = h.deletePrincipal(c, payload.Data.UserID)

	case "session.created":
		err = h.createSession(c, payload.Data)

	case "session.ended", "session.removed", "session.revoked":
		if payload.Data.SessionToken == "" {
			response.Error(c, appErrors.NewValidation("session_token is required"))
			return
		}
		_, err = h.registry.End(ctx, payload.Data.SessionToken, endReasonFor(payload.Event))

	default:
		response.Error(c, appErrors.NewValidation(fmt.Sprintf("unknown event %q", payload.Event)))
		return
	}

	if err != nil {
		respondSyncError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"processed": payload.Event})
}

func endReasonFor(event string) string {
	switch event {
	case "session.removed":
		return models.SessionEndManualRemoval
	case "session.revoked":
		return models.SessionEndSecurityRevoked
	default:
		return models.SessionEndUserLogout
	}
}

// deletePrincipal marks the principal DELETED and revokes every session.
// Principals are never hard-deleted.
func (h *WebhookHandler) deletePrincipal(c *gin.Context, externalID string) error {
	if externalID == "" {
		return syncengine.ErrPrincipalNotFound
	}

	ctx := requestContext(c)
	var principal models.Principal
	if err := h.db.WithContext(ctx).Take(&principal, "external_id = ?", externalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return syncengine.ErrPrincipalNotFound
		}
		return fmt.Errorf("webhooks: load principal: %w", err)
	}

	if err := h.db.WithContext(ctx).
		Model(&models.Principal{}).
		Where("id = ?", principal.ID).
		Update("status", models.PrincipalStatusDeleted).Error; err != nil {
		return fmt.Errorf("webhooks: mark deleted: %w", err)
	}

	_, err := h.registry.RevokeAllOther(ctx, principal.ID, "")
	return err
}

func (h *WebhookHandler) createSession(c *gin.Context, data webhookData) error {
	if data.UserID == "" {
		return syncengine.ErrPrincipalNotFound
	}

	ctx := requestContext(c)
	var principal models.Principal
	if err := h.db.WithContext(ctx).Take(&principal, "external_id = ?", data.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return syncengine.ErrPrincipalNotFound
		}
		return fmt.Errorf("webhooks: load principal: %w", err)
	}

	_, _, err := h.registry.Create(ctx, sessions.CreateInput{
		PrincipalID: principal.ID,
		Token:       data.SessionToken,
		IPAddress:   data.IPAddress,
		UserAgent:   data.UserAgent,
	})
	return err
}
