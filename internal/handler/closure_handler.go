package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/scheduler"
	"github.com/stemsi/exstem-assessment/internal/service"
)

// ClosureHandler receives closure invocations from the external scheduler
// target (the EventBridge-invoked function forwards its payload here).
type ClosureHandler struct {
	assessmentService *service.AssessmentService
	log               zerolog.Logger
}

// NewClosureHandler creates a new ClosureHandler.
func NewClosureHandler(assessmentService *service.AssessmentService, log zerolog.Logger) *ClosureHandler {
	return &ClosureHandler{
		assessmentService: assessmentService,
		log:               log.With().Str("component", "closure_handler").Logger(),
	}
}

// HandleClosure godoc
// POST /internal/v1/closures
// Body: {"assessmentId":"..."}. A 5xx tells the caller to retry.
func (h *ClosureHandler) HandleClosure(c *gin.Context) {
	var p scheduler.Payload
	if err := c.ShouldBindJSON(&p); err != nil || p.AssessmentID == uuid.Nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	report, err := h.assessmentService.Close(c.Request.Context(), p.AssessmentID)
	if err != nil {
		h.log.Warn().Err(err).Str("assessment_id", p.AssessmentID.String()).Msg("Closure invocation failed")
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"closure": report})
}
