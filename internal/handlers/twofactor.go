package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/inkwell-hq/inkwell/internal/security/twofactor"
	appErrors "github.com/inkwell-hq/inkwell/pkg/errors"
	"github.com/inkwell-hq/inkwell/pkg/response"
)

// TwoFactorHandler exposes the two-factor enrolment and verification endpoints.
type TwoFactorHandler struct {
	service *twofactor.Service
}

// NewTwoFactorHandler constructs a TwoFactorHandler backed by the two-factor service.
func NewTwoFactorHandler(service *twofactor.Service) (*TwoFactorHandler, error) {
	if service == nil {
		return nil, errors.New("twofactor handler: service is required")
	}
	return &TwoFactorHandler{service: service}, nil
}

type principalTargetRequest struct {
	PrincipalID string `json:"principal_id" validate:"omitempty,uuid4"`
}

type verifyTwoFactorRequest struct {
	PrincipalID string `json:"principal_id" validate:"omitempty,uuid4"`
	Code        string `json:"code" validate:"required,min=6,max=16"`
	Type        string `json:"type" validate:"required,oneof=totp backup_code"`
}

// POST /api/security/2fa/enable
func (h *TwoFactorHandler) Enable(c *gin.Context) {
	var body principalTargetRequest
	if c.Request.ContentLength > 0 && !bindAndValidate(c, &body) {
		return
	}
	principalID, ok := resolveTarget(c, body.PrincipalID)
	if !ok {
		return
	}

	enrollment, err := h.service.Enable(requestContext(c), principalID)
	if err != nil {
		respondTwoFactorError(c, err)
		return
	}
	response.Success(c, http.StatusOK, enrollment)
}

// POST /api/security/2fa/disable
func (h *TwoFactorHandler) Disable(c *gin.Context) {
	var body principalTargetRequest
	if c.Request.ContentLength > 0 && !bindAndValidate(c, &body) {
		return
	}
	principalID, ok := resolveTarget(c, body.PrincipalID)
	if !ok {
		return
	}

	if err := h.service.Disable(requestContext(c), principalID); err != nil {
		respondTwoFactorError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"disabled": true})
}

// POST /api/security/2fa/verify
func (h *TwoFactorHandler) Verify(c *gin.Context) {
	var body verifyTwoFactorRequest
	if !bindAndValidate(c, &body) {
		return
	}
	principalID, ok := resolveTarget(c, body.PrincipalID)
	if !ok {
		return
	}

	verified, err := h.service.Verify(requestContext(c), principalID, body.Code, body.Type)
	if err != nil {
		respondTwoFactorError(c, err)
		return
	}
	if !verified {
		response.Error(c, appErrors.ErrTwoFactorInvalid)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"verified":         true,
		"used_backup_code": body.Type == twofactor.MethodBackupCode,
	})
}

// POST /api/security/2fa/backup-codes
func (h *TwoFactorHandler) RegenerateBackupCodes(c *gin.Context) {
	var body principalTargetRequest
	if c.Request.ContentLength > 0 && !bindAndValidate(c, &body) {
		return
	}
	principalID, ok := resolveTarget(c, body.PrincipalID)
	if !ok {
		return
	}

	codes, err := h.service.RegenerateBackupCodes(requestContext(c), principalID)
	if err != nil {
		respondTwoFactorError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"backup_codes": codes})
}

// GET /api/security/2fa/status
func (h *TwoFactorHandler) Status(c *gin.Context) {
	principalID, ok := resolveTarget(c, c.Query("principal_id"))
	if !ok {
		return
	}

	status, err := h.service.GetStatus(requestContext(c), principalID)
	if err != nil {
		respondTwoFactorError(c, err)
		return
	}
	response.Success(c, http.StatusOK, status)
}

func respondTwoFactorError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, twofactor.ErrAlreadyEnabled):
		response.Error(c, appErrors.NewValidation("two-factor authentication is already enabled"))
	case errors.Is(err, twofactor.ErrNotEnabled):
		response.Error(c, appErrors.NewValidation("two-factor authentication is not enabled"))
	case errors.Is(err, twofactor.ErrUnknownMethod):
		response.Error(c, appErrors.NewValidation("unknown verification method"))
	case errors.Is(err, twofactor.ErrPrincipalNotFound):
		response.Error(c, appErrors.ErrNotFound)
	default:
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
	}
}
