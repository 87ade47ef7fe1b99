package model

import (
	"time"

	"github.com/google/uuid"
)

// AssessmentStatus is the whole-exam attempt state of one candidate.
// Rows are append-only: started_at is set once and submitted_at only moves from nil to a value.
type AssessmentStatus struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	AssessmentID uuid.UUID  `db:"assessment_id" json:"assessment_id"`
	CandidateID  int        `db:"candidate_id" json:"candidate_id"`
	StartedAt    time.Time  `db:"started_at" json:"started_at"`
	SubmittedAt  *time.Time `db:"submitted_at" json:"submitted_at,omitempty"`
}

// IsSubmitted reports whether the attempt reached its terminal state.
func (s *AssessmentStatus) IsSubmitted() bool {
	return s.SubmittedAt != nil
}

// SectionStatus tracks one section a candidate has started.
type SectionStatus struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	AssessmentID  uuid.UUID  `db:"assessment_id" json:"assessment_id"`
	CandidateID   int        `db:"candidate_id" json:"candidate_id"`
	SectionNumber int        `db:"section_number" json:"section_number"`
	IsSubmitted   bool       `db:"is_submitted" json:"is_submitted"`
	StartedAt     time.Time  `db:"started_at" json:"started_at"`
	SubmittedAt   *time.Time `db:"submitted_at" json:"submitted_at,omitempty"`
}

// QuestionAttempt is the candidate's current answer to a question.
type QuestionAttempt struct {
	ID               uuid.UUID `db:"id" json:"id"`
	AssessmentID     uuid.UUID `db:"assessment_id" json:"assessment_id"`
	CandidateID      int       `db:"candidate_id" json:"candidate_id"`
	QuestionID       uuid.UUID `db:"question_id" json:"question_id"`
	SelectedOptionID uuid.UUID `db:"selected_option_id" json:"selected_option_id"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// AttemptQuestionRequest is the payload for answering a question.
type AttemptQuestionRequest struct {
	SelectedOptionID uuid.UUID `json:"selected_option_id" binding:"required"`
}

// SectionPaper is the candidate-specific view of a started section.
type SectionPaper struct {
	AssessmentID  uuid.UUID           `json:"assessment_id"`
	SectionNumber int                 `json:"section_number"`
	Status        SectionStatus       `json:"status"`
	Questions     []CandidateQuestion `json:"questions"`
}

// SessionProgress lets a reloading client restore its state.
type SessionProgress struct {
	Assessment *AssessmentStatus `json:"assessment"`
	Sections   []SectionStatus   `json:"sections"`
	Attempts   []QuestionAttempt `json:"attempts"`
}
