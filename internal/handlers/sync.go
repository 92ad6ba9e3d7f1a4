package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/inkwell-hq/inkwell/internal/identity"
	syncengine "github.com/inkwell-hq/inkwell/internal/security/sync"
	appErrors "github.com/inkwell-hq/inkwell/pkg/errors"
	"github.com/inkwell-hq/inkwell/pkg/response"
)

// SyncHandler exposes the profile synchronization endpoints.
type SyncHandler struct {
	engine *syncengine.Engine
}

// NewSyncHandler constructs a SyncHandler over the sync engine.
func NewSyncHandler(engine *syncengine.Engine) (*SyncHandler, error) {
	if engine == nil {
		return nil, errors.New("sync handler: engine is required")
	}
	return &SyncHandler{engine: engine}, nil
}

type syncRequest struct {
	PrincipalID   string `json:"principal_id" validate:"omitempty,uuid4"`
	Force         bool   `json:"force"`
	SkipConflicts bool   `json:"skip_conflicts"`
}

func (r syncRequest) options() syncengine.Options {
	return syncengine.Options{Force: r.Force, SkipConflicts: r.SkipConflicts}
}

type bulkSyncRequest struct {
	ExternalIDs   []string `json:"external_ids" validate:"required,min=1,max=500,dive,min=1"`
	Force         bool     `json:"force"`
	SkipConflicts bool     `json:"skip_conflicts"`
}

// POST /api/sync/from-external
func (h *SyncHandler) FromExternal(c *gin.Context) {
	var body syncRequest
	if !bindAndValidate(c, &body) {
		return
	}
	principalID, ok := resolveTarget(c, body.PrincipalID)
	if !ok {
		return
	}

	result, err := h.engine.SyncPrincipalFromExternal(requestContext(c), principalID, body.options())
	if err != nil {
		respondSyncError(c, err)
		return
	}
	if len(result.Conflicts) > 0 && !result.ConflictsSkipped {
		c.JSON(http.StatusConflict, response.Response{
			Success: false,
			Data:    result,
			Error: &response.ErrorInfo{
				Code:    appErrors.ErrConflict.Code,
				Message: appErrors.ErrConflict.Message,
			},
		})
		return
	}
	response.Success(c, http.StatusOK, result)
}

// POST /api/sync/to-external
func (h *SyncHandler) ToExternal(c *gin.Context) {
	var body syncRequest
	if !bindAndValidate(c, &body) {
		return
	}
	principalID, ok := resolveTarget(c, body.PrincipalID)
	if !ok {
		return
	}

	result, err := h.engine.SyncToExternal(requestContext(c), principalID)
	if err != nil {
		respondSyncError(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// POST /api/sync/bidirectional
func (h *SyncHandler) Bidirectional(c *gin.Context) {
	var body syncRequest
	if !bindAndValidate(c, &body) {
		return
	}
	principalID, ok := resolveTarget(c, body.PrincipalID)
	if !ok {
		return
	}

	result, err := h.engine.BidirectionalSync(requestContext(c), principalID, body.options())
	if err != nil {
		respondSyncError(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// POST /api/sync/bulk (admin only, enforced in routing)
func (h *SyncHandler) Bulk(c *gin.Context) {
	var body bulkSyncRequest
	if !bindAndValidate(c, &body) {
		return
	}

	results := h.engine.BulkSync(requestContext(c), body.ExternalIDs, syncengine.Options{
		Force:         body.Force,
		SkipConflicts: body.SkipConflicts,
	})

	succeeded := 0
	for _, result := range results {
		if result.Success {
			succeeded++
		}
	}
	response.Success(c, http.StatusOK, gin.H{
		"results":   results,
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
	})
}

// GET /api/sync/records
func (h *SyncHandler) Records(c *gin.Context) {
	principalID, ok := resolveTarget(c, c.Query("principal_id"))
	if !ok {
		return
	}

	records, err := h.engine.Records(requestContext(c), principalID, parseIntQuery(c, "limit", 50))
	if err != nil {
		respondSyncError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"records": records})
}

func respondSyncError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, syncengine.ErrPrincipalNotFound), errors.Is(err, identity.ErrUserNotFound):
		response.Error(c, appErrors.ErrNotFound)
	case errors.Is(err, identity.ErrUnavailable):
		response.Error(c, appErrors.ErrExternalService.WithInternal(err))
	default:
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
	}
}
