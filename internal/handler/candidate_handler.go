package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/middleware"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/service"
	"github.com/stemsi/exstem-assessment/internal/validator"
)

// CandidateHandler handles the candidate-facing assessment session endpoints.
type CandidateHandler struct {
	sessionService *service.SessionService
	log            zerolog.Logger
}

// NewCandidateHandler creates a new CandidateHandler.
func NewCandidateHandler(sessionService *service.SessionService, log zerolog.Logger) *CandidateHandler {
	return &CandidateHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "candidate_handler").Logger(),
	}
}

// GetAssessment godoc
// GET /api/v1/candidate/assessments/:assessment_id
// Returns the assessment if it is active and currently open.
func (h *CandidateHandler) GetAssessment(c *gin.Context) {
	assessmentID, ok := paramUUID(c, "assessment_id")
	if !ok {
		return
	}

	assessment, err := h.sessionService.ValidateAssessmentWindow(c.Request.Context(), assessmentID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"assessment": assessment})
}

// StartAssessment godoc
// POST /api/v1/candidate/assessments/:assessment_id/start
// Idempotent: returns the existing session if already started.
func (h *CandidateHandler) StartAssessment(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentID, ok := paramUUID(c, "assessment_id")
	if !ok {
		return
	}

	status, err := h.sessionService.StartAssessment(c.Request.Context(), assessmentID, claims.UserID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	h.log.Info().
		Int("candidate_id", claims.UserID).
		Str("assessment_id", assessmentID.String()).
		Msg("Assessment started")

	response.Success(c, http.StatusOK, gin.H{"status": status})
}

// GetProgress godoc
// GET /api/v1/candidate/assessments/:assessment_id/progress
func (h *CandidateHandler) GetProgress(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentID, ok := paramUUID(c, "assessment_id")
	if !ok {
		return
	}

	progress, err := h.sessionService.GetProgress(c.Request.Context(), assessmentID, claims.UserID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"progress": progress})
}

// StartSection godoc
// POST /api/v1/candidate/assessments/:assessment_id/sections/:section_number/start
// Returns the section's questions in the candidate's shuffled order.
func (h *CandidateHandler) StartSection(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentID, ok := paramUUID(c, "assessment_id")
	if !ok {
		return
	}
	section, ok := paramSection(c)
	if !ok {
		return
	}

	paper, err := h.sessionService.StartSection(c.Request.Context(), assessmentID, claims.UserID, section)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"section": paper})
}

// EndSection godoc
// POST /api/v1/candidate/assessments/:assessment_id/sections/:section_number/end
func (h *CandidateHandler) EndSection(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentID, ok := paramUUID(c, "assessment_id")
	if !ok {
		return
	}
	section, ok := paramSection(c)
	if !ok {
		return
	}

	status, err := h.sessionService.EndSection(c.Request.Context(), assessmentID, claims.UserID, section)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"section": status})
}

// AttemptQuestion godoc
// PUT /api/v1/candidate/assessments/:assessment_id/questions/:question_id/attempt
// Records or replaces the candidate's answer.
func (h *CandidateHandler) AttemptQuestion(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentID, ok := paramUUID(c, "assessment_id")
	if !ok {
		return
	}
	questionID, ok := paramUUID(c, "question_id")
	if !ok {
		return
	}

	var req model.AttemptQuestionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.sessionService.AttemptQuestion(c.Request.Context(), assessmentID, claims.UserID, questionID, req.SelectedOptionID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// DeleteAttempt godoc
// DELETE /api/v1/candidate/assessments/:assessment_id/questions/:question_id/attempt
func (h *CandidateHandler) DeleteAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentID, ok := paramUUID(c, "assessment_id")
	if !ok {
		return
	}
	questionID, ok := paramUUID(c, "question_id")
	if !ok {
		return
	}

	if err := h.sessionService.DeleteAttempt(c.Request.Context(), assessmentID, claims.UserID, questionID); err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Jawaban dihapus"})
}

// EndAssessment godoc
// POST /api/v1/candidate/assessments/:assessment_id/end
// Submits the assessment along with any section still in progress.
func (h *CandidateHandler) EndAssessment(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentID, ok := paramUUID(c, "assessment_id")
	if !ok {
		return
	}

	status, err := h.sessionService.EndAssessment(c.Request.Context(), assessmentID, claims.UserID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	h.log.Info().
		Int("candidate_id", claims.UserID).
		Str("assessment_id", assessmentID.String()).
		Msg("Assessment submitted")

	response.Success(c, http.StatusOK, gin.H{"status": status})
}
