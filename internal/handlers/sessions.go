package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/inkwell-hq/inkwell/internal/models"
	"github.com/inkwell-hq/inkwell/internal/security/sessions"
	appErrors "github.com/inkwell-hq/inkwell/pkg/errors"
	"github.com/inkwell-hq/inkwell/pkg/response"
)

// SessionsHandler exposes the session lifecycle endpoints.
type SessionsHandler struct {
	registry *sessions.Registry
}

// NewSessionsHandler constructs a SessionsHandler over the session registry.
func NewSessionsHandler(registry *sessions.Registry) (*SessionsHandler, error) {
	if registry == nil {
		return nil, errors.New("sessions handler: registry is required")
	}
	return &SessionsHandler{registry: registry}, nil
}

type createSessionRequest struct {
	PrincipalID string `json:"principal_id" validate:"omitempty,uuid4"`
	Token       string `json:"token" validate:"omitempty,max=512"`
	IPAddress   string `json:"ip_address" validate:"omitempty,max=64"`
	UserAgent   string `json:"user_agent" validate:"omitempty,max=512"`
}

type sessionActivityRequest struct {
	Token     string `json:"token" validate:"required,max=512"`
	IPAddress string `json:"ip_address" validate:"omitempty,max=64"`
	UserAgent string `json:"user_agent" validate:"omitempty,max=512"`
}

type endSessionRequest struct {
	Reason string `json:"reason" validate:"omitempty,oneof=user_logout manual_removal security_revocation"`
}

type revokeOthersRequest struct {
	KeepToken string `json:"keep_token" validate:"required,max=512"`
}

// POST /api/sessions
func (h *SessionsHandler) Create(c *gin.Context) {
	var body createSessionRequest
	if !bindAndValidate(c, &body) {
		return
	}
	principalID, ok := resolveTarget(c, body.PrincipalID)
	if !ok {
		return
	}

	session, verdict, err := h.registry.Create(requestContext(c), sessions.CreateInput{
		PrincipalID: principalID,
		Token:       body.Token,
		IPAddress:   body.IPAddress,
		UserAgent:   body.UserAgent,
	})
	if err != nil {
		if errors.Is(err, sessions.ErrPrincipalNotFound) {
			response.Error(c, appErrors.ErrNotFound)
			return
		}
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"session": session,
		"token":   session.Token,
		"verdict": verdict,
	})
}

// POST /api/sessions/activity
func (h *SessionsHandler) Activity(c *gin.Context) {
	var body sessionActivityRequest
	if !bindAndValidate(c, &body) {
		return
	}

	err := h.registry.UpdateActivity(requestContext(c), body.Token, &sessions.ActivityMetadata{
		IPAddress: body.IPAddress,
		UserAgent: body.UserAgent,
	})
	if err != nil {
		response.Error(c, appErrors.NewValidation(err.Error()))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"updated": true})
}

// POST /api/sessions/:token/end
func (h *SessionsHandler) End(c *gin.Context) {
	var body endSessionRequest
	if c.Request.ContentLength > 0 && !bindAndValidate(c, &body) {
		return
	}

	reason := body.Reason
	if reason == "" {
		reason = models.SessionEndUserLogout
	}

	ended, err := h.registry.End(requestContext(c), c.Param("token"), reason)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"ended": ended})
}

// GET /api/sessions
func (h *SessionsHandler) ListActive(c *gin.Context) {
	principalID, ok := resolveTarget(c, c.Query("principal_id"))
	if !ok {
		return
	}

	active, err := h.registry.ListActive(requestContext(c), principalID)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"sessions": active})
}

// POST /api/sessions/revoke-others
func (h *SessionsHandler) RevokeOthers(c *gin.Context) {
	var body revokeOthersRequest
	if !bindAndValidate(c, &body) {
		return
	}
	principalID, _, ok := actingPrincipal(c)
	if !ok {
		return
	}

	revoked, err := h.registry.RevokeAllOther(requestContext(c), principalID, body.KeepToken)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": revoked})
}
