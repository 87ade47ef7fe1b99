package service

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/cache"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/repository"
	"github.com/stemsi/exstem-assessment/internal/repository/repotest"
	"github.com/stemsi/exstem-assessment/internal/scheduler"
	"github.com/stemsi/exstem-assessment/internal/shuffle"
)

var (
	t0           = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	testAssessID = uuid.MustParse("8a1c3f0e-2b4d-4e6f-9a8b-7c6d5e4f3a21")
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type memStores struct {
	assessments     *repotest.MemStore[model.Assessment]
	sections        *repotest.MemStore[model.Section]
	questions       *repotest.MemStore[model.Question]
	options         *repotest.MemStore[model.Option]
	statuses        *repotest.MemStore[model.AssessmentStatus]
	sectionStatuses *repotest.MemStore[model.SectionStatus]
	attempts        *repotest.MemStore[model.QuestionAttempt]
}

type env struct {
	tx          *repotest.Transactor
	mem         memStores
	repos       *repository.Repositories
	mr          *miniredis.Miniredis
	rdb         *redis.Client
	backend     *scheduler.RedisBackend
	clock       *clock
	sessions    *SessionService
	assessments *AssessmentService
}

// newEnv wires the services over in-memory stores with the same unique
// indexes as the schema, a miniredis cache and the Redis scheduler backend.
func newEnv(t *testing.T) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tx := repotest.NewTransactor()
	mem := memStores{
		assessments: repotest.NewMemStore[model.Assessment](tx, repotest.WithSearch[model.Assessment]("name")),
		sections:    repotest.NewMemStore[model.Section](tx),
		questions:   repotest.NewMemStore[model.Question](tx),
		options:     repotest.NewMemStore[model.Option](tx),
		statuses: repotest.NewMemStore[model.AssessmentStatus](tx, repotest.WithUnique(repotest.Unique[model.AssessmentStatus]{
			Name: "assessment_statuses_candidate_key", Columns: []string{"assessment_id", "candidate_id"},
		})),
		sectionStatuses: repotest.NewMemStore[model.SectionStatus](tx,
			repotest.WithUnique(repotest.Unique[model.SectionStatus]{
				Name: "section_statuses_section_key", Columns: []string{"assessment_id", "candidate_id", "section_number"},
			}),
			repotest.WithUnique(repotest.Unique[model.SectionStatus]{
				Name:    "section_statuses_one_open",
				Columns: []string{"assessment_id", "candidate_id"},
				When:    func(s *model.SectionStatus) bool { return !s.IsSubmitted },
			}),
		),
		attempts: repotest.NewMemStore[model.QuestionAttempt](tx, repotest.WithUnique(repotest.Unique[model.QuestionAttempt]{
			Name: "question_attempts_answer_key", Columns: []string{"assessment_id", "candidate_id", "question_id"},
		})),
	}

	repos := repository.NewRepositories(repository.Deps{
		Cache:  cache.NewRedisStore(rdb),
		Tx:     tx,
		Prefix: "repo",
		Log:    zerolog.Nop(),
	}, repository.Stores{
		Assessments:     mem.assessments,
		Sections:        mem.sections,
		Questions:       mem.questions,
		Options:         mem.options,
		Statuses:        mem.statuses,
		SectionStatuses: mem.sectionStatuses,
		Attempts:        mem.attempts,
	})

	clk := &clock{t: t0.Add(10 * time.Minute)}
	backend := scheduler.NewRedisBackend(rdb)
	closure := scheduler.NewClosureScheduler(backend, "closure-worker", "local", zerolog.Nop())

	return &env{
		tx:          tx,
		mem:         mem,
		repos:       repos,
		mr:          mr,
		rdb:         rdb,
		backend:     backend,
		clock:       clk,
		sessions:    NewSessionService(repos, tx, shuffle.New(nil), zerolog.Nop()).WithClock(clk.now),
		assessments: NewAssessmentService(repos, tx, closure, rdb, zerolog.Nop()).WithClock(clk.now),
	}
}

type seeded struct {
	assessment model.Assessment
	// questions[section] in authoring order, each with its options.
	questions map[int][]model.Question
}

// seed stores an assessment open from t0 to t0+2h with the given number of
// sections, questions per section and three options per question (first correct).
func (e *env) seed(t *testing.T, sections, perSection int) *seeded {
	t.Helper()
	a := model.Assessment{
		ID:              testAssessID,
		Name:            "Ujian Tengah Semester Fisika",
		IsActive:        true,
		StartAt:         t0,
		EndAt:           t0.Add(2 * time.Hour),
		DurationMinutes: 120,
		CreatedAt:       t0.Add(-24 * time.Hour),
		UpdatedAt:       t0.Add(-24 * time.Hour),
	}
	e.mem.assessments.Put(a)

	out := &seeded{assessment: a, questions: map[int][]model.Question{}}
	for s := 1; s <= sections; s++ {
		e.mem.sections.Put(model.Section{ID: uuid.New(), AssessmentID: a.ID, SectionNumber: s, Title: fmt.Sprintf("Bagian %d", s)})
		for q := 1; q <= perSection; q++ {
			question := model.Question{
				ID:            uuid.New(),
				AssessmentID:  a.ID,
				SectionNumber: s,
				QuestionText:  fmt.Sprintf("Soal %d.%d", s, q),
				OrderNum:      q,
			}
			for o := 1; o <= 3; o++ {
				question.Options = append(question.Options, model.Option{
					ID:           uuid.New(),
					QuestionID:   question.ID,
					AssessmentID: a.ID,
					OptionText:   fmt.Sprintf("Pilihan %d", o),
					OrderNum:     o,
					IsCorrect:    o == 1,
				})
			}
			stored := question
			stored.Options = nil
			e.mem.questions.Put(stored)
			e.mem.options.Put(question.Options...)
			out.questions[s] = append(out.questions[s], question)
		}
	}
	return out
}

func wantCode(t *testing.T, err error, want *Error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", want.Code)
	}
	if CodeOf(err) != want.Code {
		t.Fatalf("expected %s, got %v", want.Code, err)
	}
	if KindOf(err) != want.Kind {
		t.Fatalf("expected kind %s, got %s", want.Kind, KindOf(err))
	}
}
