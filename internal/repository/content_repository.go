package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/model"
)

var SectionTable = Table[model.Section]{
	Name:    "sections",
	Columns: []string{"id", "assessment_id", "section_number", "title", "created_at"},
	Values: func(s *model.Section) []any {
		return []any{s.ID, s.AssessmentID, s.SectionNumber, s.Title, s.CreatedAt}
	},
}

var QuestionTable = Table[model.Question]{
	Name:    "questions",
	Columns: []string{"id", "assessment_id", "section_number", "question_text", "order_num", "created_at"},
	Values: func(q *model.Question) []any {
		return []any{q.ID, q.AssessmentID, q.SectionNumber, q.QuestionText, q.OrderNum, q.CreatedAt}
	},
}

var OptionTable = Table[model.Option]{
	Name:    "options",
	Columns: []string{"id", "question_id", "assessment_id", "option_text", "order_num", "is_correct"},
	Values: func(o *model.Option) []any {
		return []any{o.ID, o.QuestionID, o.AssessmentID, o.OptionText, o.OrderNum, o.IsCorrect}
	},
}

// ContentRepository reads and writes authoring-time content: sections, questions, options.
// Content is immutable while candidates attempt it, so reads are cached per assessment.
type ContentRepository struct {
	sections  *CachedRepository[model.Section]
	questions *CachedRepository[model.Question]
	options   *CachedRepository[model.Option]
}

// NewContentRepository creates a new ContentRepository.
func NewContentRepository(d Deps, sections Store[model.Section], questions Store[model.Question], options Store[model.Option]) *ContentRepository {
	return &ContentRepository{
		sections:  newCached(d, sections, "section"),
		questions: newCached(d, questions, "question"),
		options:   newCached(d, options, "option"),
	}
}

func assessmentScope(id uuid.UUID) string {
	return config.CacheKey.AssessmentScope(id.String())
}

// Sections lists the sections of an assessment in traversal order.
func (r *ContentRepository) Sections(ctx context.Context, assessmentID uuid.UUID) ([]model.Section, error) {
	return r.sections.FindAll(ctx, FindOptions{
		Scope:   assessmentScope(assessmentID),
		Filters: []Filter{Eq("assessment_id", assessmentID)},
		Sort:    []Sort{{Column: "section_number"}},
	})
}

// Section returns one section by number.
func (r *ContentRepository) Section(ctx context.Context, assessmentID uuid.UUID, number int) (*model.Section, error) {
	return r.sections.FindOne(ctx, FindOptions{
		Scope:   assessmentScope(assessmentID),
		Filters: []Filter{Eq("assessment_id", assessmentID), Eq("section_number", number)},
	})
}

// Question returns one question without its options.
func (r *ContentRepository) Question(ctx context.Context, id uuid.UUID) (*model.Question, error) {
	return r.questions.FindByID(ctx, id)
}

// Option returns one option.
func (r *ContentRepository) Option(ctx context.Context, id uuid.UUID) (*model.Option, error) {
	return r.options.FindByID(ctx, id)
}

// SectionQuestions returns the questions of one section in authoring order, each with its options.
func (r *ContentRepository) SectionQuestions(ctx context.Context, assessmentID uuid.UUID, number int) ([]model.Question, error) {
	questions, err := r.questions.FindAll(ctx, FindOptions{
		Scope:   assessmentScope(assessmentID),
		Filters: []Filter{Eq("assessment_id", assessmentID), Eq("section_number", number)},
		Sort:    []Sort{{Column: "order_num"}},
	})
	if err != nil || len(questions) == 0 {
		return questions, err
	}

	options, err := r.AssessmentOptions(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	byQuestion := make(map[uuid.UUID][]model.Option, len(questions))
	for _, o := range options {
		byQuestion[o.QuestionID] = append(byQuestion[o.QuestionID], o)
	}
	for i := range questions {
		questions[i].Options = byQuestion[questions[i].ID]
	}
	return questions, nil
}

// AssessmentOptions returns every option of an assessment, including the answer key.
func (r *ContentRepository) AssessmentOptions(ctx context.Context, assessmentID uuid.UUID) ([]model.Option, error) {
	return r.options.FindAll(ctx, FindOptions{
		Scope:   assessmentScope(assessmentID),
		Filters: []Filter{Eq("assessment_id", assessmentID)},
		Sort:    []Sort{{Column: "question_id"}, {Column: "order_num"}},
	})
}

// InsertAll stores the content of a new assessment. Run it inside the transaction
// that creates the assessment so a partial authoring never becomes visible.
func (r *ContentRepository) InsertAll(ctx context.Context, sections []*model.Section, questions []*model.Question, options []*model.Option) error {
	if len(sections) == 0 {
		return nil
	}
	scope := assessmentScope(sections[0].AssessmentID)

	if err := r.sections.BulkCreate(ctx, sections, Invalidate(r.sections.ScopeLists(scope))); err != nil {
		return err
	}
	if err := r.questions.BulkCreate(ctx, questions, Invalidate(r.questions.ScopeLists(scope))); err != nil {
		return err
	}
	return r.options.BulkCreate(ctx, options, Invalidate(r.options.ScopeLists(scope)))
}

// Evict drops every cached content entry of an assessment. The rows themselves
// are removed by the assessments foreign key cascade.
func (r *ContentRepository) Evict(ctx context.Context, assessmentID uuid.UUID) {
	scope := assessmentScope(assessmentID)
	r.sections.invalidate(ctx, Invalidate(r.sections.ScopeLists(scope)))
	r.questions.invalidate(ctx, Invalidate(r.questions.ScopeLists(scope)))
	r.options.invalidate(ctx, Invalidate(r.options.ScopeLists(scope)))
}
