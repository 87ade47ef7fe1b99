package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/repository"
	ws "github.com/stemsi/exstem-assessment/internal/websocket"
)

// ClosureScheduler arms the external trigger that closes an assessment at its deadline.
type ClosureScheduler interface {
	Schedule(ctx context.Context, assessmentID uuid.UUID, endAt time.Time) error
	Reschedule(ctx context.Context, assessmentID uuid.UUID, endAt time.Time) error
	Cancel(ctx context.Context, assessmentID uuid.UUID) error
}

// AssessmentResults is the raw outcome of an ended assessment.
type AssessmentResults struct {
	Assessment model.Assessment         `json:"assessment"`
	Statuses   []model.AssessmentStatus `json:"statuses"`
	Attempts   []model.QuestionAttempt  `json:"attempts"`
}

// CloseReport summarizes one closure.
type CloseReport struct {
	AssessmentID      uuid.UUID `json:"assessment_id"`
	ClosedAt          time.Time `json:"closed_at"`
	AlreadyClosed     bool      `json:"already_closed"`
	SubmittedAttempts int       `json:"submitted_attempts"`
	SubmittedSections int       `json:"submitted_sections"`
}

// AssessmentService handles authoring, scheduling and closing of assessments.
type AssessmentService struct {
	repos   *repository.Repositories
	tx      repository.Transactor
	closure ClosureScheduler
	rdb     *redis.Client
	now     func() time.Time
	log     zerolog.Logger
}

// NewAssessmentService creates a new AssessmentService. rdb may be nil, in which
// case closure events are not published.
func NewAssessmentService(repos *repository.Repositories, tx repository.Transactor, closure ClosureScheduler, rdb *redis.Client, log zerolog.Logger) *AssessmentService {
	return &AssessmentService{
		repos:   repos,
		tx:      tx,
		closure: closure,
		rdb:     rdb,
		now:     func() time.Time { return time.Now().UTC() },
		log:     log.With().Str("component", "assessment_service").Logger(),
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *AssessmentService) WithClock(now func() time.Time) *AssessmentService {
	s.now = now
	return s
}

// Get returns an active assessment.
func (s *AssessmentService) Get(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	return loadAssessment(ctx, s.repos, id)
}

// List returns a page of assessments and the total number of matches.
func (s *AssessmentService) List(ctx context.Context, q repository.AssessmentQuery) ([]model.Assessment, int64, error) {
	items, total, err := s.repos.Assessments.List(ctx, q)
	if err != nil {
		return nil, 0, dependency("list assessments", err)
	}
	if items == nil {
		items = []model.Assessment{}
	}
	return items, total, nil
}

// Create stores an assessment with all of its content and arms its closure rule,
// all or nothing: a scheduler failure rolls the rows back.
func (s *AssessmentService) Create(ctx context.Context, req *model.CreateAssessmentRequest) (*model.Assessment, error) {
	now := s.now()
	a := &model.Assessment{
		ID:              uuid.New(),
		Name:            req.Name,
		IsActive:        true,
		StartAt:         req.StartAt.UTC(),
		EndAt:           req.EndAt.UTC(),
		DurationMinutes: req.DurationMinutes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if !a.EndAt.After(a.StartAt) || !a.EndAt.After(now) {
		return nil, ErrInvalidWindow
	}
	sections, questions, options, err := buildContent(a.ID, req.Sections, now)
	if err != nil {
		return nil, err
	}

	// armed is set once the scheduler was called; from then on any failure,
	// including the commit itself, may leave a rule for rows that do not exist.
	armed := false
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.repos.Assessments.Insert(ctx, a); err != nil {
			return dependency("insert assessment", err)
		}
		if err := s.repos.Content.InsertAll(ctx, sections, questions, options); err != nil {
			return dependency("insert content", err)
		}
		armed = true
		if err := s.closure.Schedule(ctx, a.ID, a.EndAt); err != nil {
			return dependency("schedule closure", err)
		}
		return nil
	})
	if err != nil {
		if armed {
			if cerr := s.closure.Cancel(context.WithoutCancel(ctx), a.ID); cerr != nil {
				s.log.Warn().Err(cerr).Str("assessment_id", a.ID.String()).Msg("Cleanup of partial closure rule failed")
			}
		}
		return nil, err
	}

	s.log.Info().
		Str("assessment_id", a.ID.String()).
		Int("sections", len(sections)).
		Int("questions", len(questions)).
		Msg("Assessment created")
	return a, nil
}

func buildContent(assessmentID uuid.UUID, reqs []model.CreateSectionRequest, now time.Time) ([]*model.Section, []*model.Question, []*model.Option, error) {
	ordered := append([]model.CreateSectionRequest(nil), reqs...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].SectionNumber < ordered[j].SectionNumber })

	var (
		sections  []*model.Section
		questions []*model.Question
		options   []*model.Option
	)
	for i, sr := range ordered {
		if sr.SectionNumber < 1 || (i > 0 && ordered[i-1].SectionNumber == sr.SectionNumber) {
			return nil, nil, nil, ErrInvalidContent
		}
		sections = append(sections, &model.Section{
			ID:            uuid.New(),
			AssessmentID:  assessmentID,
			SectionNumber: sr.SectionNumber,
			Title:         sr.Title,
			CreatedAt:     now,
		})
		for qi, qr := range sr.Questions {
			q := &model.Question{
				ID:            uuid.New(),
				AssessmentID:  assessmentID,
				SectionNumber: sr.SectionNumber,
				QuestionText:  qr.QuestionText,
				OrderNum:      qi + 1,
				CreatedAt:     now,
			}
			questions = append(questions, q)

			correct := 0
			for oi, opt := range qr.Options {
				if opt.IsCorrect {
					correct++
				}
				options = append(options, &model.Option{
					ID:           uuid.New(),
					QuestionID:   q.ID,
					AssessmentID: assessmentID,
					OptionText:   opt.OptionText,
					OrderNum:     oi + 1,
					IsCorrect:    opt.IsCorrect,
				})
			}
			if len(qr.Options) < 2 || correct == 0 {
				return nil, nil, nil, ErrInvalidContent
			}
		}
		if len(sr.Questions) == 0 {
			return nil, nil, nil, ErrInvalidContent
		}
	}
	if len(sections) == 0 {
		return nil, nil, nil, ErrInvalidContent
	}
	return sections, questions, options, nil
}

// UpdateSchedule moves the window of an assessment that has not started and
// moves its closure rule with it.
func (s *AssessmentService) UpdateSchedule(ctx context.Context, id uuid.UUID, req *model.UpdateScheduleRequest) (*model.Assessment, error) {
	a, err := loadAssessment(ctx, s.repos, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if a.HasStarted(now) {
		return nil, ErrScheduleLocked
	}

	startAt := a.StartAt
	if req.StartAt != nil {
		startAt = req.StartAt.UTC()
	}
	endAt := req.EndAt.UTC()
	if !startAt.After(now) || !endAt.After(startAt) {
		return nil, ErrInvalidWindow
	}

	var updated *model.Assessment
	moved := false
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.repos.Assessments.UpdateWindow(ctx, id, startAt, endAt, now)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrScheduleLocked
		}
		if err != nil {
			return dependency("update window", err)
		}
		if err := s.closure.Reschedule(ctx, id, endAt); err != nil {
			return dependency("reschedule closure", err)
		}
		moved = true
		return nil
	})
	if err != nil {
		if moved {
			// The commit failed after the rule moved; put it back on the stored end_at.
			if rerr := s.closure.Reschedule(context.WithoutCancel(ctx), id, a.EndAt); rerr != nil {
				s.log.Error().Err(rerr).AnErr("cause", err).
					Str("assessment_id", id.String()).
					Time("end_at", a.EndAt).
					Msg("Closure rule could not be restored after a failed update")
			}
		}
		return nil, err
	}
	return updated, nil
}

// Delete removes an assessment that has not started, together with its closure rule.
func (s *AssessmentService) Delete(ctx context.Context, id uuid.UUID) error {
	a, err := loadAssessment(ctx, s.repos, id)
	if err != nil {
		return err
	}
	if a.HasStarted(s.now()) {
		return ErrScheduleLocked
	}

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.repos.Assessments.Remove(ctx, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrAssessmentNotFound
			}
			return dependency("delete assessment", err)
		}
		s.repos.Content.Evict(ctx, id)
		return nil
	})
	if err != nil {
		return err
	}

	// The rule goes only once the rows are gone. A leftover rule fires into a
	// missing assessment, which Close reports as not found.
	if err := s.closure.Cancel(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("assessment_id", id.String()).Msg("Closure rule not removed")
	}
	return nil
}

// Results returns every candidate's status and answers once the assessment has ended.
func (s *AssessmentService) Results(ctx context.Context, id uuid.UUID) (*AssessmentResults, error) {
	a, err := validateEnded(ctx, s.repos, id, s.now())
	if err != nil {
		return nil, err
	}
	statuses, err := s.repos.Statuses.Roster(ctx, id)
	if err != nil {
		return nil, dependency("load statuses", err)
	}
	attempts, err := s.repos.Attempts.Roster(ctx, id)
	if err != nil {
		return nil, dependency("load attempts", err)
	}
	res := &AssessmentResults{Assessment: *a, Statuses: statuses, Attempts: attempts}
	if res.Statuses == nil {
		res.Statuses = []model.AssessmentStatus{}
	}
	if res.Attempts == nil {
		res.Attempts = []model.QuestionAttempt{}
	}
	return res, nil
}

// Close finalizes an assessment once its deadline passed: every open attempt and
// section is submitted, closed_at is stamped and the closure rule is removed.
// It is safe to call repeatedly; the scheduler delivers at least once.
func (s *AssessmentService) Close(ctx context.Context, id uuid.UUID) (*CloseReport, error) {
	a, err := loadAssessment(ctx, s.repos, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if now.Before(a.EndAt) {
		return nil, ErrAssessmentNotEnded
	}

	report := &CloseReport{AssessmentID: id, ClosedAt: now}
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		statuses, err := s.repos.Statuses.SubmitAll(ctx, id, now)
		if err != nil {
			return dependency("submit attempts", err)
		}
		sections, err := s.repos.Sections.SubmitAll(ctx, id, now)
		if err != nil {
			return dependency("submit sections", err)
		}
		stamped, err := s.repos.Assessments.MarkClosed(ctx, id, now)
		if err != nil {
			return dependency("mark closed", err)
		}
		report.SubmittedAttempts = len(statuses)
		report.SubmittedSections = len(sections)
		report.AlreadyClosed = !stamped
		return nil
	})
	if err != nil {
		return nil, err
	}
	if report.AlreadyClosed && a.ClosedAt != nil {
		report.ClosedAt = *a.ClosedAt
	}

	if err := s.closure.Cancel(ctx, id); err != nil {
		// A leftover rule only re-delivers a closure, which is a no-op now.
		s.log.Warn().Err(err).Str("assessment_id", id.String()).Msg("Closure rule not removed")
	}
	s.publishClosed(ctx, report)

	s.log.Info().
		Str("assessment_id", id.String()).
		Int("submitted_attempts", report.SubmittedAttempts).
		Int("submitted_sections", report.SubmittedSections).
		Bool("already_closed", report.AlreadyClosed).
		Msg("Assessment closed")
	return report, nil
}

func (s *AssessmentService) publishClosed(ctx context.Context, report *CloseReport) {
	if s.rdb == nil {
		return
	}
	raw, err := json.Marshal(ws.AssessmentClosedEvent{
		Event:             ws.EventAssessmentClosed,
		AssessmentID:      report.AssessmentID,
		ClosedAt:          report.ClosedAt,
		SubmittedAttempts: report.SubmittedAttempts,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("assessment_id", report.AssessmentID.String()).Msg("Encode closure event failed")
		return
	}
	channel := config.CacheKey.AssessmentEventsChannel(report.AssessmentID.String())
	if err := s.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		s.log.Warn().Err(err).Str("channel", channel).Msg("Publish closure event failed")
	}
}
