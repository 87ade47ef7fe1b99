package repository

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/cache"
	"github.com/stemsi/exstem-assessment/internal/database"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// Deps bundles what every entity repository needs besides its Store.
type Deps struct {
	Cache  cache.Store
	Tx     Transactor
	TTL    time.Duration
	Prefix string
	Log    zerolog.Logger
}

func newCached[T any](d Deps, store Store[T], entity string) *CachedRepository[T] {
	prefix := entity
	if d.Prefix != "" {
		prefix = d.Prefix + ":" + entity
	}
	return NewCachedRepository(store, d.Cache, d.Tx, prefix, d.TTL, d.Log)
}

// Stores supplies the backing Store of every entity.
type Stores struct {
	Assessments     Store[model.Assessment]
	Sections        Store[model.Section]
	Questions       Store[model.Question]
	Options         Store[model.Option]
	Statuses        Store[model.AssessmentStatus]
	SectionStatuses Store[model.SectionStatus]
	Attempts        Store[model.QuestionAttempt]
}

// PgStores returns PostgreSQL-backed stores sharing one Transactor.
func PgStores(tx *database.Transactor) Stores {
	return Stores{
		Assessments:     NewPgStore(AssessmentTable, tx),
		Sections:        NewPgStore(SectionTable, tx),
		Questions:       NewPgStore(QuestionTable, tx),
		Options:         NewPgStore(OptionTable, tx),
		Statuses:        NewPgStore(AssessmentStatusTable, tx),
		SectionStatuses: NewPgStore(SectionStatusTable, tx),
		Attempts:        NewPgStore(QuestionAttemptTable, tx),
	}
}

// Repositories groups the entity repositories used by the services.
type Repositories struct {
	Assessments *AssessmentRepository
	Content     *ContentRepository
	Statuses    *AssessmentStatusRepository
	Sections    *SectionStatusRepository
	Attempts    *AttemptRepository
}

// NewRepositories wires every entity repository over s.
func NewRepositories(d Deps, s Stores) *Repositories {
	return &Repositories{
		Assessments: NewAssessmentRepository(d, s.Assessments),
		Content:     NewContentRepository(d, s.Sections, s.Questions, s.Options),
		Statuses:    NewAssessmentStatusRepository(d, s.Statuses),
		Sections:    NewSectionStatusRepository(d, s.SectionStatuses),
		Attempts:    NewAttemptRepository(d, s.Attempts),
	}
}
