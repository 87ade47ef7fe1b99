package model

import (
	"time"

	"github.com/google/uuid"
)

// Assessment is a timed exam definition with a start/end window.
type Assessment struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	Name            string     `db:"name" json:"name"`
	IsActive        bool       `db:"is_active" json:"is_active"`
	StartAt         time.Time  `db:"start_at" json:"start_at"`
	EndAt           time.Time  `db:"end_at" json:"end_at"`
	DurationMinutes int        `db:"duration_minutes" json:"duration_minutes"`
	ClosedAt        *time.Time `db:"closed_at" json:"closed_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// HasStarted reports whether the window has opened at now.
func (a *Assessment) HasStarted(now time.Time) bool {
	return !now.Before(a.StartAt)
}

// HasEnded reports whether the window has closed at now.
func (a *Assessment) HasEnded(now time.Time) bool {
	return now.After(a.EndAt)
}

// Section is an ordinal grouping of questions within an assessment.
type Section struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AssessmentID  uuid.UUID `db:"assessment_id" json:"assessment_id"`
	SectionNumber int       `db:"section_number" json:"section_number"`
	Title         string    `db:"title" json:"title"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// CreateAssessmentRequest is the payload for authoring an assessment with its content.
type CreateAssessmentRequest struct {
	Name            string                 `json:"name" binding:"required,notblank,min=3,max=255"`
	StartAt         time.Time              `json:"start_at" binding:"required"`
	EndAt           time.Time              `json:"end_at" binding:"required,gtfield=StartAt"`
	DurationMinutes int                    `json:"duration_minutes" binding:"required,min=1,max=480"`
	Sections        []CreateSectionRequest `json:"sections" binding:"required,min=1,dive"`
}

// CreateSectionRequest describes one section of a new assessment.
type CreateSectionRequest struct {
	SectionNumber int                     `json:"section_number" binding:"required,min=1"`
	Title         string                  `json:"title" binding:"omitempty,max=255"`
	Questions     []CreateQuestionRequest `json:"questions" binding:"required,min=1,dive"`
}

// CreateQuestionRequest describes one question and its options.
type CreateQuestionRequest struct {
	QuestionText string                `json:"question_text" binding:"required,notblank,max=2000"`
	Options      []CreateOptionRequest `json:"options" binding:"required,min=2,dive"`
}

// CreateOptionRequest describes one answer option.
type CreateOptionRequest struct {
	OptionText string `json:"option_text" binding:"required,notblank,max=1000"`
	IsCorrect  bool   `json:"is_correct"`
}

// UpdateScheduleRequest moves the window of an assessment that has not started yet.
type UpdateScheduleRequest struct {
	StartAt *time.Time `json:"start_at" binding:"omitempty"`
	EndAt   time.Time  `json:"end_at" binding:"required"`
}

// ListAssessmentsQuery is the query string of the admin listing.
type ListAssessmentsQuery struct {
	Search     string `form:"q" binding:"omitempty,max=100"`
	ActiveOnly bool   `form:"active"`
	Page       int    `form:"page" binding:"omitempty,min=1"`
	PerPage    int    `form:"per_page" binding:"omitempty,min=1,max=100"`
}
