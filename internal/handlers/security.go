package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/inkwell-hq/inkwell/internal/security/detector"
	"github.com/inkwell-hq/inkwell/internal/security/events"
	"github.com/inkwell-hq/inkwell/internal/security/policy"
	appErrors "github.com/inkwell-hq/inkwell/pkg/errors"
	"github.com/inkwell-hq/inkwell/pkg/response"
)

// SecurityHandler exposes the policy engine, the suspicious-login detector,
// and the security event log.
type SecurityHandler struct {
	policy   *policy.Engine
	detector *detector.Detector
	events   *events.Service
}

// NewSecurityHandler constructs a SecurityHandler from the security services.
func NewSecurityHandler(policyEngine *policy.Engine, det *detector.Detector, eventLog *events.Service) (*SecurityHandler, error) {
	if policyEngine == nil {
		return nil, errors.New("security handler: policy engine is required")
	}
	if det == nil {
		return nil, errors.New("security handler: detector is required")
	}
	if eventLog == nil {
		return nil, errors.New("security handler: event log is required")
	}
	return &SecurityHandler{policy: policyEngine, detector: det, events: eventLog}, nil
}

type enforcePoliciesRequest struct {
	PrincipalID string `json:"principal_id" validate:"omitempty,uuid4"`
}

type detectLoginRequest struct {
	PrincipalID string `json:"principal_id" validate:"omitempty,uuid4"`
	IPAddress   string `json:"ip_address" validate:"omitempty,max=64"`
	UserAgent   string `json:"user_agent" validate:"omitempty,max=512"`
}

// POST /api/security/policies/enforce
func (h *SecurityHandler) EnforcePolicies(c *gin.Context) {
	var body enforcePoliciesRequest
	if c.Request.ContentLength > 0 && !bindAndValidate(c, &body) {
		return
	}
	principalID, ok := resolveTarget(c, body.PrincipalID)
	if !ok {
		return
	}

	report, err := h.policy.Enforce(requestContext(c), principalID)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}
	response.Success(c, http.StatusOK, report)
}

// POST /api/security/suspicious-login
func (h *SecurityHandler) DetectSuspiciousLogin(c *gin.Context) {
	var body detectLoginRequest
	if !bindAndValidate(c, &body) {
		return
	}
	principalID, ok := resolveTarget(c, body.PrincipalID)
	if !ok {
		return
	}

	verdict, err := h.detector.Detect(requestContext(c), principalID, body.IPAddress, body.UserAgent)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}
	response.Success(c, http.StatusOK, verdict)
}

// GET /api/security/events
func (h *SecurityHandler) ListEvents(c *gin.Context) {
	principalID, ok := resolveTarget(c, c.Query("principal_id"))
	if !ok {
		return
	}

	limit := parseIntQuery(c, "limit", events.DefaultListLimit)
	recent, err := h.events.Recent(requestContext(c), principalID, limit)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"events": recent})
}
