package model

import (
	"time"

	"github.com/google/uuid"
)

// Question is authoring-time content, immutable while candidates attempt it.
type Question struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AssessmentID  uuid.UUID `db:"assessment_id" json:"assessment_id"`
	SectionNumber int       `db:"section_number" json:"section_number"`
	QuestionText  string    `db:"question_text" json:"question_text"`
	OrderNum      int       `db:"order_num" json:"order_num"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	Options       []Option  `db:"-" json:"options"`
}

// Option is one selectable answer of a question.
type Option struct {
	ID           uuid.UUID `db:"id" json:"id"`
	QuestionID   uuid.UUID `db:"question_id" json:"question_id"`
	AssessmentID uuid.UUID `db:"assessment_id" json:"assessment_id"`
	OptionText   string    `db:"option_text" json:"option_text"`
	OrderNum     int       `db:"order_num" json:"order_num"`
	IsCorrect    bool      `db:"is_correct" json:"is_correct"`
}

// CandidateQuestion is a question as sent to a candidate, without the answer key.
type CandidateQuestion struct {
	ID            uuid.UUID         `json:"id"`
	SectionNumber int               `json:"section_number"`
	QuestionText  string            `json:"question_text"`
	Options       []CandidateOption `json:"options"`
}

// CandidateOption is an option as sent to a candidate.
type CandidateOption struct {
	ID         uuid.UUID `json:"id"`
	OptionText string    `json:"option_text"`
}

// ForCandidate strips the answer key from q.
func (q *Question) ForCandidate() CandidateQuestion {
	opts := make([]CandidateOption, len(q.Options))
	for i, o := range q.Options {
		opts[i] = CandidateOption{ID: o.ID, OptionText: o.OptionText}
	}
	return CandidateQuestion{
		ID:            q.ID,
		SectionNumber: q.SectionNumber,
		QuestionText:  q.QuestionText,
		Options:       opts,
	}
}
