package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/repository"
	"github.com/stemsi/exstem-assessment/internal/shuffle"
)

// SessionService is the candidate-side state machine.
//
// Per candidate the assessment moves NotStarted -> Started -> Submitted and each
// section NotStarted -> InProgress -> Submitted, with at most one section in progress.
// Every transition runs in a transaction that first locks the candidate's
// AssessmentStatus row, so concurrent requests of one candidate serialize at the
// database rather than relying on request order.
type SessionService struct {
	repos    *repository.Repositories
	tx       repository.Transactor
	shuffler *shuffle.Engine
	now      func() time.Time
	log      zerolog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(repos *repository.Repositories, tx repository.Transactor, shuffler *shuffle.Engine, log zerolog.Logger) *SessionService {
	return &SessionService{
		repos:    repos,
		tx:       tx,
		shuffler: shuffler,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.With().Str("component", "session_service").Logger(),
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	s.now = now
	return s
}

// ─── Guards ─────────────────────────────────────────────────────────

func loadAssessment(ctx context.Context, repos *repository.Repositories, id uuid.UUID) (*model.Assessment, error) {
	a, err := repos.Assessments.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAssessmentNotFound
	}
	if err != nil {
		return nil, dependency("load assessment", err)
	}
	if !a.IsActive {
		return nil, ErrAssessmentNotFound
	}
	return a, nil
}

func checkWindow(a *model.Assessment, now time.Time) error {
	if !a.HasStarted(now) {
		return ErrAssessmentNotStarted
	}
	if a.HasEnded(now) {
		return ErrAssessmentEnded
	}
	return nil
}

// ValidateAssessmentWindow returns the assessment if now lies within [start_at, end_at].
func (s *SessionService) ValidateAssessmentWindow(ctx context.Context, assessmentID uuid.UUID) (*model.Assessment, error) {
	a, err := loadAssessment(ctx, s.repos, assessmentID)
	if err != nil {
		return nil, err
	}
	if err := checkWindow(a, s.now()); err != nil {
		return nil, err
	}
	return a, nil
}

// ValidateAssessmentEnded is the guard for reporting paths: it fails until end_at has passed.
func (s *SessionService) ValidateAssessmentEnded(ctx context.Context, assessmentID uuid.UUID) (*model.Assessment, error) {
	return validateEnded(ctx, s.repos, assessmentID, s.now())
}

func validateEnded(ctx context.Context, repos *repository.Repositories, assessmentID uuid.UUID, now time.Time) (*model.Assessment, error) {
	a, err := loadAssessment(ctx, repos, assessmentID)
	if err != nil {
		return nil, err
	}
	if a.ClosedAt == nil && now.Before(a.EndAt) {
		return nil, ErrAssessmentNotEnded
	}
	return a, nil
}

// lockOpenSession locks the candidate's status row and requires it to be started and not submitted.
func (s *SessionService) lockOpenSession(ctx context.Context, assessmentID uuid.UUID, candidateID int) (*model.AssessmentStatus, error) {
	st, err := s.repos.Statuses.Lock(ctx, assessmentID, candidateID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSessionNotStarted
	}
	if err != nil {
		return nil, dependency("lock assessment status", err)
	}
	if st.IsSubmitted() {
		return nil, ErrSessionSubmitted
	}
	return st, nil
}

// sectionState returns the candidate's status for one section, or nil if it was never started.
func (s *SessionService) sectionState(ctx context.Context, assessmentID uuid.UUID, candidateID, section int) (*model.SectionStatus, []model.SectionStatus, error) {
	all, err := s.repos.Sections.ForCandidate(ctx, assessmentID, candidateID)
	if err != nil {
		return nil, nil, dependency("load section statuses", err)
	}
	for i := range all {
		if all[i].SectionNumber == section {
			return &all[i], all, nil
		}
	}
	return nil, all, nil
}

// ─── Transitions ────────────────────────────────────────────────────

// StartAssessment creates the candidate's AssessmentStatus on first call.
// Later calls return the existing status untouched.
func (s *SessionService) StartAssessment(ctx context.Context, assessmentID uuid.UUID, candidateID int) (*model.AssessmentStatus, error) {
	if _, err := s.ValidateAssessmentWindow(ctx, assessmentID); err != nil {
		return nil, err
	}

	st := &model.AssessmentStatus{
		ID:           uuid.New(),
		AssessmentID: assessmentID,
		CandidateID:  candidateID,
		StartedAt:    s.now(),
	}
	created, err := s.repos.Statuses.Start(ctx, st)
	if err != nil {
		return nil, dependency("start assessment", err)
	}
	if created {
		s.log.Info().
			Str("assessment_id", assessmentID.String()).
			Int("candidate_id", candidateID).
			Msg("Assessment started")
		return st, nil
	}

	existing, err := s.repos.Statuses.Find(ctx, assessmentID, candidateID)
	if err != nil {
		return nil, dependency("load assessment status", err)
	}
	return existing, nil
}

// StartSection opens a section and returns its questions in the candidate's order.
// Starting the section that is already open resumes it with the same order.
func (s *SessionService) StartSection(ctx context.Context, assessmentID uuid.UUID, candidateID, section int) (*model.SectionPaper, error) {
	a, err := s.ValidateAssessmentWindow(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.repos.Content.Section(ctx, assessmentID, section); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSectionNotFound
		}
		return nil, dependency("load section", err)
	}

	var status *model.SectionStatus
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.lockOpenSession(ctx, assessmentID, candidateID); err != nil {
			return err
		}
		now := s.now()
		if err := checkWindow(a, now); err != nil {
			return err
		}

		current, all, err := s.sectionState(ctx, assessmentID, candidateID, section)
		if err != nil {
			return err
		}
		if current != nil {
			if current.IsSubmitted {
				return ErrSectionAlreadySubmitted
			}
			status = current
			return nil
		}
		for _, other := range all {
			if !other.IsSubmitted {
				return ErrPreviousSectionNotSubmitted
			}
		}

		status = &model.SectionStatus{
			ID:            uuid.New(),
			AssessmentID:  assessmentID,
			CandidateID:   candidateID,
			SectionNumber: section,
			StartedAt:     now,
		}
		if _, err := s.repos.Sections.Open(ctx, status); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrPreviousSectionNotSubmitted
			}
			return dependency("open section", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	questions, err := s.repos.Content.SectionQuestions(ctx, assessmentID, section)
	if err != nil {
		return nil, dependency("load questions", err)
	}
	return &model.SectionPaper{
		AssessmentID:  assessmentID,
		SectionNumber: section,
		Status:        *status,
		Questions:     s.order(assessmentID, candidateID, questions),
	}, nil
}

// order applies the candidate's permutation to the questions and, scoped by
// question, to each question's options.
func (s *SessionService) order(assessmentID uuid.UUID, candidateID int, questions []model.Question) []model.CandidateQuestion {
	ordered := shuffle.ForCandidate(s.shuffler, candidateID, assessmentID, questions)
	out := make([]model.CandidateQuestion, len(ordered))
	for i := range ordered {
		q := ordered[i]
		q.Options = shuffle.ForCandidateWithin(s.shuffler, candidateID, assessmentID, q.ID.String(), q.Options)
		out[i] = q.ForCandidate()
	}
	return out
}

// answerable checks that the question belongs to the assessment and returns it.
func (s *SessionService) answerable(ctx context.Context, assessmentID, questionID uuid.UUID) (*model.Question, error) {
	q, err := s.repos.Content.Question(ctx, questionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrQuestionNotFound
	}
	if err != nil {
		return nil, dependency("load question", err)
	}
	if q.AssessmentID != assessmentID {
		return nil, ErrQuestionNotFound
	}
	return q, nil
}

// requireInProgress checks the question's section is started and not submitted.
func (s *SessionService) requireInProgress(ctx context.Context, a *model.Assessment, candidateID, section int) error {
	if _, err := s.lockOpenSession(ctx, a.ID, candidateID); err != nil {
		return err
	}
	if err := checkWindow(a, s.now()); err != nil {
		return err
	}
	current, _, err := s.sectionState(ctx, a.ID, candidateID, section)
	if err != nil {
		return err
	}
	if current == nil {
		return ErrSectionNotStarted
	}
	if current.IsSubmitted {
		return ErrSectionAlreadySubmitted
	}
	return nil
}

// AttemptQuestion records or replaces the candidate's answer.
func (s *SessionService) AttemptQuestion(ctx context.Context, assessmentID uuid.UUID, candidateID int, questionID, optionID uuid.UUID) (*model.QuestionAttempt, error) {
	a, err := s.ValidateAssessmentWindow(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	q, err := s.answerable(ctx, assessmentID, questionID)
	if err != nil {
		return nil, err
	}
	opt, err := s.repos.Content.Option(ctx, optionID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && opt.QuestionID != questionID) {
		return nil, ErrOptionNotFound
	}
	if err != nil {
		return nil, dependency("load option", err)
	}

	var attempt *model.QuestionAttempt
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.requireInProgress(ctx, a, candidateID, q.SectionNumber); err != nil {
			return err
		}
		now := s.now()
		attempt = &model.QuestionAttempt{
			ID:               uuid.New(),
			AssessmentID:     assessmentID,
			CandidateID:      candidateID,
			QuestionID:       questionID,
			SelectedOptionID: optionID,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.repos.Attempts.Save(ctx, attempt); err != nil {
			return dependency("save attempt", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return attempt, nil
}

// DeleteAttempt removes the candidate's answer while its section is still open.
func (s *SessionService) DeleteAttempt(ctx context.Context, assessmentID uuid.UUID, candidateID int, questionID uuid.UUID) error {
	a, err := s.ValidateAssessmentWindow(ctx, assessmentID)
	if err != nil {
		return err
	}
	q, err := s.answerable(ctx, assessmentID, questionID)
	if err != nil {
		return err
	}

	return s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.requireInProgress(ctx, a, candidateID, q.SectionNumber); err != nil {
			return err
		}
		removed, err := s.repos.Attempts.Remove(ctx, assessmentID, candidateID, questionID)
		if err != nil {
			return dependency("delete attempt", err)
		}
		if !removed {
			return ErrAttemptNotFound
		}
		return nil
	})
}

// EndSection submits a section. Submission is terminal: a second call fails with
// ErrSectionAlreadySubmitted, and concurrent calls resolve to exactly one winner.
func (s *SessionService) EndSection(ctx context.Context, assessmentID uuid.UUID, candidateID, section int) (*model.SectionStatus, error) {
	a, err := s.ValidateAssessmentWindow(ctx, assessmentID)
	if err != nil {
		return nil, err
	}

	var submitted *model.SectionStatus
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.lockOpenSession(ctx, assessmentID, candidateID); err != nil {
			return err
		}
		now := s.now()
		if err := checkWindow(a, now); err != nil {
			return err
		}
		var err error
		submitted, err = s.repos.Sections.Submit(ctx, assessmentID, candidateID, section, now)
		if err != nil {
			return dependency("submit section", err)
		}
		if submitted != nil {
			return nil
		}

		current, _, err := s.sectionState(ctx, assessmentID, candidateID, section)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrSectionNotStarted
		}
		return ErrSectionAlreadySubmitted
	})
	if err != nil {
		return nil, err
	}
	return submitted, nil
}

// EndAssessment submits the candidate's attempt and any section left open.
// It is not gated by the window so a candidate may finish early or slightly late,
// and it is idempotent: once set, submitted_at never changes.
func (s *SessionService) EndAssessment(ctx context.Context, assessmentID uuid.UUID, candidateID int) (*model.AssessmentStatus, error) {
	if _, err := loadAssessment(ctx, s.repos, assessmentID); err != nil {
		return nil, err
	}

	var result *model.AssessmentStatus
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		st, err := s.repos.Statuses.Lock(ctx, assessmentID, candidateID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotStarted
		}
		if err != nil {
			return dependency("lock assessment status", err)
		}
		if st.IsSubmitted() {
			result = st
			return nil
		}

		now := s.now()
		if now.Before(st.StartedAt) {
			now = st.StartedAt
		}
		if _, err := s.repos.Sections.SubmitOpen(ctx, assessmentID, candidateID, now); err != nil {
			return dependency("submit open sections", err)
		}
		result, err = s.repos.Statuses.Submit(ctx, assessmentID, candidateID, now)
		if err != nil {
			return dependency("submit assessment", err)
		}
		if result == nil {
			// Lost the compare-and-set to a concurrent closer.
			result, err = s.repos.Statuses.Lock(ctx, assessmentID, candidateID)
			if err != nil {
				return dependency("reload assessment status", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetProgress returns everything a reloading client needs to restore its state.
func (s *SessionService) GetProgress(ctx context.Context, assessmentID uuid.UUID, candidateID int) (*model.SessionProgress, error) {
	if _, err := loadAssessment(ctx, s.repos, assessmentID); err != nil {
		return nil, err
	}

	progress := &model.SessionProgress{Sections: []model.SectionStatus{}, Attempts: []model.QuestionAttempt{}}
	st, err := s.repos.Statuses.Find(ctx, assessmentID, candidateID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return progress, nil
	case err != nil:
		return nil, dependency("load assessment status", err)
	}
	progress.Assessment = st

	sections, err := s.repos.Sections.ForCandidate(ctx, assessmentID, candidateID)
	if err != nil {
		return nil, dependency("load section statuses", err)
	}
	attempts, err := s.repos.Attempts.ForCandidate(ctx, assessmentID, candidateID)
	if err != nil {
		return nil, dependency("load attempts", err)
	}
	if sections != nil {
		progress.Sections = sections
	}
	if attempts != nil {
		progress.Attempts = attempts
	}
	return progress, nil
}
