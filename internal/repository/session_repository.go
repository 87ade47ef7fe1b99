package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/model"
)

var AssessmentStatusTable = Table[model.AssessmentStatus]{
	Name:    "assessment_statuses",
	Columns: []string{"id", "assessment_id", "candidate_id", "started_at", "submitted_at"},
	Values: func(s *model.AssessmentStatus) []any {
		return []any{s.ID, s.AssessmentID, s.CandidateID, s.StartedAt, s.SubmittedAt}
	},
}

var SectionStatusTable = Table[model.SectionStatus]{
	Name:    "section_statuses",
	Columns: []string{"id", "assessment_id", "candidate_id", "section_number", "is_submitted", "started_at", "submitted_at"},
	Values: func(s *model.SectionStatus) []any {
		return []any{s.ID, s.AssessmentID, s.CandidateID, s.SectionNumber, s.IsSubmitted, s.StartedAt, s.SubmittedAt}
	},
}

var QuestionAttemptTable = Table[model.QuestionAttempt]{
	Name:    "question_attempts",
	Columns: []string{"id", "assessment_id", "candidate_id", "question_id", "selected_option_id", "created_at", "updated_at"},
	Values: func(a *model.QuestionAttempt) []any {
		return []any{a.ID, a.AssessmentID, a.CandidateID, a.QuestionID, a.SelectedOptionID, a.CreatedAt, a.UpdatedAt}
	},
}

// Session rows are cached under two scopes: one per candidate for the candidate's
// own reads, and one roster scope per assessment for reporting.
func candidateScope(assessmentID uuid.UUID, candidateID int) string {
	return config.CacheKey.CandidateScope(assessmentID.String(), candidateID)
}

func rosterScope(assessmentID uuid.UUID) string {
	return config.CacheKey.AssessmentScope(assessmentID.String()) + ":roster"
}

func candidateWrite[T any](r *CachedRepository[T], assessmentID uuid.UUID, candidateID int) Invalidation {
	return Invalidate(r.ScopeLists(candidateScope(assessmentID, candidateID)), r.ScopeLists(rosterScope(assessmentID)))
}

// assessmentWrite covers every candidate scope of the assessment as well as the roster.
func assessmentWrite[T any](r *CachedRepository[T], assessmentID uuid.UUID) Invalidation {
	return Invalidate(r.ScopeLists(config.CacheKey.AssessmentScope(assessmentID.String())))
}

// ─── AssessmentStatus ───────────────────────────────────────────────

// AssessmentStatusRepository handles whole-exam attempt state.
type AssessmentStatusRepository struct {
	repo *CachedRepository[model.AssessmentStatus]
}

func NewAssessmentStatusRepository(d Deps, store Store[model.AssessmentStatus]) *AssessmentStatusRepository {
	return &AssessmentStatusRepository{repo: newCached(d, store, "assessment_status")}
}

func (r *AssessmentStatusRepository) byCandidate(assessmentID uuid.UUID, candidateID int) FindOptions {
	return FindOptions{
		Scope:   candidateScope(assessmentID, candidateID),
		Filters: []Filter{Eq("assessment_id", assessmentID), Eq("candidate_id", candidateID)},
	}
}

// Find returns the candidate's status or ErrNotFound.
func (r *AssessmentStatusRepository) Find(ctx context.Context, assessmentID uuid.UUID, candidateID int) (*model.AssessmentStatus, error) {
	return r.repo.FindOne(ctx, r.byCandidate(assessmentID, candidateID))
}

// Lock reads the candidate's status with a row lock. Transitions of one candidate
// serialize on this row, so call it first inside the transaction.
func (r *AssessmentStatusRepository) Lock(ctx context.Context, assessmentID uuid.UUID, candidateID int) (*model.AssessmentStatus, error) {
	q := r.byCandidate(assessmentID, candidateID)
	q.ForUpdate = true
	return r.repo.FindOne(ctx, q)
}

// Start inserts s unless the candidate already has a status. It reports whether s was inserted.
func (r *AssessmentStatusRepository) Start(ctx context.Context, s *model.AssessmentStatus) (bool, error) {
	return r.repo.CreateIfAbsent(ctx, s, []string{"assessment_id", "candidate_id"},
		candidateWrite(r.repo, s.AssessmentID, s.CandidateID))
}

// Submit sets submitted_at if it is still unset. A nil status means another call already submitted.
func (r *AssessmentStatusRepository) Submit(ctx context.Context, assessmentID uuid.UUID, candidateID int, now time.Time) (*model.AssessmentStatus, error) {
	rows, err := r.repo.UpdateWhere(ctx,
		[]Filter{Eq("assessment_id", assessmentID), Eq("candidate_id", candidateID), IsNull("submitted_at")},
		map[string]any{"submitted_at": now},
		candidateWrite(r.repo, assessmentID, candidateID),
	)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// SubmitAll submits every open attempt of the assessment.
func (r *AssessmentStatusRepository) SubmitAll(ctx context.Context, assessmentID uuid.UUID, now time.Time) ([]model.AssessmentStatus, error) {
	return r.repo.UpdateWhere(ctx,
		[]Filter{Eq("assessment_id", assessmentID), IsNull("submitted_at")},
		map[string]any{"submitted_at": now},
		assessmentWrite(r.repo, assessmentID),
	)
}

// Roster lists every candidate status of an assessment.
func (r *AssessmentStatusRepository) Roster(ctx context.Context, assessmentID uuid.UUID) ([]model.AssessmentStatus, error) {
	return r.repo.FindAll(ctx, FindOptions{
		Scope:   rosterScope(assessmentID),
		Filters: []Filter{Eq("assessment_id", assessmentID)},
		Sort:    []Sort{{Column: "candidate_id"}},
	})
}

// ─── SectionStatus ──────────────────────────────────────────────────

// SectionStatusRepository handles per-section progress.
type SectionStatusRepository struct {
	repo *CachedRepository[model.SectionStatus]
}

func NewSectionStatusRepository(d Deps, store Store[model.SectionStatus]) *SectionStatusRepository {
	return &SectionStatusRepository{repo: newCached(d, store, "section_status")}
}

// ForCandidate lists the sections a candidate has started, by section number.
func (r *SectionStatusRepository) ForCandidate(ctx context.Context, assessmentID uuid.UUID, candidateID int) ([]model.SectionStatus, error) {
	return r.repo.FindAll(ctx, FindOptions{
		Scope:   candidateScope(assessmentID, candidateID),
		Filters: []Filter{Eq("assessment_id", assessmentID), Eq("candidate_id", candidateID)},
		Sort:    []Sort{{Column: "section_number"}},
	})
}

// Open inserts s unless the section is already started. A second open section
// for the same candidate violates a partial unique index and yields ErrConflict.
func (r *SectionStatusRepository) Open(ctx context.Context, s *model.SectionStatus) (bool, error) {
	return r.repo.CreateIfAbsent(ctx, s, []string{"assessment_id", "candidate_id", "section_number"},
		candidateWrite(r.repo, s.AssessmentID, s.CandidateID))
}

// Submit flips is_submitted once. A nil status means the section was not open.
func (r *SectionStatusRepository) Submit(ctx context.Context, assessmentID uuid.UUID, candidateID, section int, now time.Time) (*model.SectionStatus, error) {
	rows, err := r.repo.UpdateWhere(ctx,
		[]Filter{
			Eq("assessment_id", assessmentID),
			Eq("candidate_id", candidateID),
			Eq("section_number", section),
			Eq("is_submitted", false),
		},
		map[string]any{"is_submitted": true, "submitted_at": now},
		candidateWrite(r.repo, assessmentID, candidateID),
	)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// SubmitOpen submits the candidate's open section, if any.
func (r *SectionStatusRepository) SubmitOpen(ctx context.Context, assessmentID uuid.UUID, candidateID int, now time.Time) ([]model.SectionStatus, error) {
	return r.repo.UpdateWhere(ctx,
		[]Filter{Eq("assessment_id", assessmentID), Eq("candidate_id", candidateID), Eq("is_submitted", false)},
		map[string]any{"is_submitted": true, "submitted_at": now},
		candidateWrite(r.repo, assessmentID, candidateID),
	)
}

// SubmitAll submits every open section of the assessment.
func (r *SectionStatusRepository) SubmitAll(ctx context.Context, assessmentID uuid.UUID, now time.Time) ([]model.SectionStatus, error) {
	return r.repo.UpdateWhere(ctx,
		[]Filter{Eq("assessment_id", assessmentID), Eq("is_submitted", false)},
		map[string]any{"is_submitted": true, "submitted_at": now},
		assessmentWrite(r.repo, assessmentID),
	)
}

// ─── QuestionAttempt ────────────────────────────────────────────────

// AttemptRepository handles candidate answers.
type AttemptRepository struct {
	repo *CachedRepository[model.QuestionAttempt]
}

func NewAttemptRepository(d Deps, store Store[model.QuestionAttempt]) *AttemptRepository {
	return &AttemptRepository{repo: newCached(d, store, "attempt")}
}

// Save upserts the candidate's answer to a question.
func (r *AttemptRepository) Save(ctx context.Context, a *model.QuestionAttempt) error {
	return r.repo.Upsert(ctx, a,
		[]string{"assessment_id", "candidate_id", "question_id"},
		[]string{"selected_option_id", "updated_at"},
		candidateWrite(r.repo, a.AssessmentID, a.CandidateID),
	)
}

// Remove deletes the candidate's answer. It reports whether one existed.
func (r *AttemptRepository) Remove(ctx context.Context, assessmentID uuid.UUID, candidateID int, questionID uuid.UUID) (bool, error) {
	n, err := r.repo.DeleteWhere(ctx,
		[]Filter{Eq("assessment_id", assessmentID), Eq("candidate_id", candidateID), Eq("question_id", questionID)},
		candidateWrite(r.repo, assessmentID, candidateID),
	)
	return n > 0, err
}

// ForCandidate lists the candidate's current answers.
func (r *AttemptRepository) ForCandidate(ctx context.Context, assessmentID uuid.UUID, candidateID int) ([]model.QuestionAttempt, error) {
	return r.repo.FindAll(ctx, FindOptions{
		Scope:   candidateScope(assessmentID, candidateID),
		Filters: []Filter{Eq("assessment_id", assessmentID), Eq("candidate_id", candidateID)},
		Sort:    []Sort{{Column: "created_at"}},
	})
}

// Roster lists every answer given in the assessment.
func (r *AttemptRepository) Roster(ctx context.Context, assessmentID uuid.UUID) ([]model.QuestionAttempt, error) {
	return r.repo.FindAll(ctx, FindOptions{
		Scope:   rosterScope(assessmentID),
		Filters: []Filter{Eq("assessment_id", assessmentID)},
		Sort:    []Sort{{Column: "candidate_id"}, {Column: "created_at"}},
	})
}
