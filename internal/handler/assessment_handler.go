package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/middleware"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/repository"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/service"
	"github.com/stemsi/exstem-assessment/internal/validator"
)

// AssessmentHandler handles assessment authoring and reporting for admins.
type AssessmentHandler struct {
	assessmentService *service.AssessmentService
	log               zerolog.Logger
}

// NewAssessmentHandler creates a new AssessmentHandler.
func NewAssessmentHandler(assessmentService *service.AssessmentService, log zerolog.Logger) *AssessmentHandler {
	return &AssessmentHandler{
		assessmentService: assessmentService,
		log:               log.With().Str("component", "assessment_handler").Logger(),
	}
}

// ListAssessments godoc
// GET /api/v1/admin/assessments?q=&active=&page=&per_page=
func (h *AssessmentHandler) ListAssessments(c *gin.Context) {
	var q model.ListAssessmentsQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PerPage == 0 {
		q.PerPage = 10
	}

	items, total, err := h.assessmentService.List(c.Request.Context(), repository.AssessmentQuery{
		Search:     q.Search,
		ActiveOnly: q.ActiveOnly,
		Page:       q.Page,
		PerPage:    q.PerPage,
	})
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK,
		gin.H{"assessments": items},
		response.NewPagination(q.Page, q.PerPage, total))
}

// CreateAssessment godoc
// POST /api/v1/admin/assessments
// Creates an assessment with its sections, questions and options, and arms its closure.
func (h *AssessmentHandler) CreateAssessment(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateAssessmentRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	assessment, err := h.assessmentService.Create(c.Request.Context(), &req)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	h.log.Info().
		Int("admin_id", claims.UserID).
		Str("assessment_id", assessment.ID.String()).
		Msg("Assessment created")

	response.Success(c, http.StatusCreated, gin.H{"assessment": assessment})
}

// GetAssessment godoc
// GET /api/v1/admin/assessments/:assessment_id
func (h *AssessmentHandler) GetAssessment(c *gin.Context) {
	assessmentID, ok := paramUUID(c, "assessment_id")
	if !ok {
		return
	}

	assessment, err := h.assessmentService.Get(c.Request.Context(), assessmentID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"assessment": assessment})
}

// UpdateSchedule godoc
// PATCH /api/v1/admin/assessments/:assessment_id/schedule
// Moves the window of an assessment that has not started yet.
func (h *AssessmentHandler) UpdateSchedule(c *gin.Context) {
	assessmentID, ok := paramUUID(c, "assessment_id")
	if !ok {
		return
	}

	var req model.UpdateScheduleRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	assessment, err := h.assessmentService.UpdateSchedule(c.Request.Context(), assessmentID, &req)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"assessment": assessment})
}

// DeleteAssessment godoc
// DELETE /api/v1/admin/assessments/:assessment_id
func (h *AssessmentHandler) DeleteAssessment(c *gin.Context) {
	assessmentID, ok := paramUUID(c, "assessment_id")
	if !ok {
		return
	}

	if err := h.assessmentService.Delete(c.Request.Context(), assessmentID); err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Ujian dihapus"})
}

// GetResults godoc
// GET /api/v1/admin/assessments/:assessment_id/results
// Available once the assessment window has ended.
func (h *AssessmentHandler) GetResults(c *gin.Context) {
	assessmentID, ok := paramUUID(c, "assessment_id")
	if !ok {
		return
	}

	results, err := h.assessmentService.Results(c.Request.Context(), assessmentID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"results": results})
}

// CloseAssessment godoc
// POST /api/v1/admin/assessments/:assessment_id/close
// Runs the closure by hand, e.g. after a missed scheduler delivery.
func (h *AssessmentHandler) CloseAssessment(c *gin.Context) {
	assessmentID, ok := paramUUID(c, "assessment_id")
	if !ok {
		return
	}

	report, err := h.assessmentService.Close(c.Request.Context(), assessmentID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"closure": report})
}
