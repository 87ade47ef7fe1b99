package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// AssessmentTable maps model.Assessment onto the assessments table.
var AssessmentTable = Table[model.Assessment]{
	Name:         "assessments",
	Columns:      []string{"id", "name", "is_active", "start_at", "end_at", "duration_minutes", "closed_at", "created_at", "updated_at"},
	SearchColumn: "search_vector",
	Values: func(a *model.Assessment) []any {
		return []any{a.ID, a.Name, a.IsActive, a.StartAt, a.EndAt, a.DurationMinutes, a.ClosedAt, a.CreatedAt, a.UpdatedAt}
	},
}

// AssessmentQuery filters the assessment listing.
type AssessmentQuery struct {
	Search     string
	ActiveOnly bool
	Page       int
	PerPage    int
}

// AssessmentRepository handles assessment data access.
type AssessmentRepository struct {
	*CachedRepository[model.Assessment]
}

// NewAssessmentRepository creates a new AssessmentRepository.
func NewAssessmentRepository(d Deps, store Store[model.Assessment]) *AssessmentRepository {
	return &AssessmentRepository{newCached(d, store, "assessment")}
}

func (r *AssessmentRepository) touched(id uuid.UUID) Invalidation {
	return Invalidate(r.IDKey(id), r.AllLists())
}

// List returns a page of assessments, newest window first, and the number of
// assessments matching the query across all pages.
func (r *AssessmentRepository) List(ctx context.Context, q AssessmentQuery) ([]model.Assessment, int64, error) {
	opts := FindOptions{
		Search: q.Search,
		Sort:   []Sort{{Column: "start_at", Desc: true}},
	}
	if q.ActiveOnly {
		opts.Filters = append(opts.Filters, Eq("is_active", true))
	}
	total, err := r.Count(ctx, opts)
	if err != nil || total == 0 {
		return nil, 0, err
	}
	items, err := r.FindAll(ctx, opts.Paginate(q.Page, q.PerPage))
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Insert stores a new assessment.
func (r *AssessmentRepository) Insert(ctx context.Context, a *model.Assessment) error {
	return r.Create(ctx, a, Invalidate(r.AllLists()))
}

// UpdateWindow moves the window of an assessment that has not started at now.
// It returns ErrNotFound when the row is missing or the window already opened.
func (r *AssessmentRepository) UpdateWindow(ctx context.Context, id uuid.UUID, startAt, endAt, now time.Time) (*model.Assessment, error) {
	rows, err := r.UpdateWhere(ctx,
		[]Filter{Eq("id", id), Gt("start_at", now)},
		map[string]any{"start_at": startAt, "end_at": endAt, "updated_at": now},
		r.touched(id),
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// Remove deletes an assessment; content and status rows cascade.
func (r *AssessmentRepository) Remove(ctx context.Context, id uuid.UUID) error {
	return r.Delete(ctx, id, r.touched(id))
}

// MarkClosed stamps closed_at once. It reports whether this call did the stamping.
func (r *AssessmentRepository) MarkClosed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	rows, err := r.UpdateWhere(ctx,
		[]Filter{Eq("id", id), IsNull("closed_at")},
		map[string]any{"closed_at": now, "updated_at": now},
		r.touched(id),
	)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}
