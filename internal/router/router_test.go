package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/cache"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/handler"
	"github.com/stemsi/exstem-assessment/internal/middleware"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/repository"
	"github.com/stemsi/exstem-assessment/internal/repository/repotest"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/scheduler"
	"github.com/stemsi/exstem-assessment/internal/service"
	"github.com/stemsi/exstem-assessment/internal/shuffle"
	"github.com/stemsi/exstem-assessment/internal/validator"
)

const (
	jwtSecret     = "router-test-secret"
	closureSecret = "closure-test-secret"
	candidateID   = 5150
)

var t0 = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

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

type app struct {
	engine    *gin.Engine
	clock     *clock
	rdb       *redis.Client
	admin     string
	candidate string
}

func newApp(t *testing.T) *app {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tx := repotest.NewTransactor()
	repos := repository.NewRepositories(repository.Deps{
		Cache: cache.NewRedisStore(rdb),
		Tx:    tx,
		Log:   zerolog.Nop(),
	}, repository.Stores{
		Assessments: repotest.NewMemStore[model.Assessment](tx, repotest.WithSearch[model.Assessment]("name")),
		Sections:    repotest.NewMemStore[model.Section](tx),
		Questions:   repotest.NewMemStore[model.Question](tx),
		Options:     repotest.NewMemStore[model.Option](tx),
		Statuses: repotest.NewMemStore[model.AssessmentStatus](tx, repotest.WithUnique(repotest.Unique[model.AssessmentStatus]{
			Name: "assessment_statuses_candidate_key", Columns: []string{"assessment_id", "candidate_id"},
		})),
		SectionStatuses: repotest.NewMemStore[model.SectionStatus](tx,
			repotest.WithUnique(repotest.Unique[model.SectionStatus]{
				Name: "section_statuses_section_key", Columns: []string{"assessment_id", "candidate_id", "section_number"},
			}),
			repotest.WithUnique(repotest.Unique[model.SectionStatus]{
				Name:    "section_statuses_one_open",
				Columns: []string{"assessment_id", "candidate_id"},
				When:    func(s *model.SectionStatus) bool { return !s.IsSubmitted },
			}),
		),
		Attempts: repotest.NewMemStore[model.QuestionAttempt](tx, repotest.WithUnique(repotest.Unique[model.QuestionAttempt]{
			Name: "question_attempts_answer_key", Columns: []string{"assessment_id", "candidate_id", "question_id"},
		})),
	})

	clk := &clock{t: t0}
	closure := scheduler.NewClosureScheduler(scheduler.NewRedisBackend(rdb), "closure-worker", "local", zerolog.Nop())
	sessions := service.NewSessionService(repos, tx, shuffle.New(nil), zerolog.Nop()).WithClock(clk.now)
	assessments := service.NewAssessmentService(repos, tx, closure, rdb, zerolog.Nop()).WithClock(clk.now)

	validator.Setup()
	cfg := &config.Config{GinMode: gin.TestMode, ClosureCallbackSecret: closureSecret}
	handlers := &Handlers{
		Candidate:  handler.NewCandidateHandler(sessions, zerolog.Nop()),
		Assessment: handler.NewAssessmentHandler(assessments, zerolog.Nop()),
		Closure:    handler.NewClosureHandler(assessments, zerolog.Nop()),
		WS:         handler.NewWSHandler(rdb, sessions, zerolog.Nop(), nil),
		System:     handler.NewSystemHandler(rdb, zerolog.Nop()),
	}
	engine := SetupRouter(service.NewTokenVerifier(jwtSecret), middleware.NewRateLimiter(100, time.Minute), handlers, cfg)

	return &app{
		engine:    engine,
		clock:     clk,
		rdb:       rdb,
		admin:     sign(t, service.TokenTypeAdmin, 1, service.PermissionAssessmentRead, service.PermissionAssessmentWrite, service.PermissionAssessmentResult),
		candidate: sign(t, service.TokenTypeCandidate, candidateID),
	}
}

func sign(t *testing.T, tt service.TokenType, userID int, perms ...string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, service.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		TokenType:        tt,
		UserID:           userID,
		Permissions:      perms,
	}).SignedString([]byte(jwtSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

type envelope struct {
	Data       json.RawMessage      `json:"data"`
	Error      *response.ErrorBody  `json:"error"`
	Pagination *response.Pagination `json:"pagination"`
}

func (a *app) do(t *testing.T, method, path, token string, body any, headers ...string) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
	}
	return w.Code, env
}

func expectError(t *testing.T, status int, env envelope, wantStatus int, wantCode response.ErrCode) {
	t.Helper()
	if status != wantStatus || env.Error == nil || env.Error.Code != wantCode {
		t.Fatalf("got %d %+v, want %d %s", status, env.Error, wantStatus, wantCode)
	}
}

func createBody(start, end time.Time) model.CreateAssessmentRequest {
	req := model.CreateAssessmentRequest{
		Name:            "Ujian Akhir Kimia",
		StartAt:         start,
		EndAt:           end,
		DurationMinutes: 90,
	}
	for s := 1; s <= 2; s++ {
		sec := model.CreateSectionRequest{SectionNumber: s}
		for q := 1; q <= 2; q++ {
			sec.Questions = append(sec.Questions, model.CreateQuestionRequest{
				QuestionText: fmt.Sprintf("Soal %d.%d", s, q),
				Options: []model.CreateOptionRequest{
					{OptionText: "Benar", IsCorrect: true},
					{OptionText: "Salah"},
				},
			})
		}
		req.Sections = append(req.Sections, sec)
	}
	return req
}

func TestAssessmentLifecycleOverHTTP(t *testing.T) {
	a := newApp(t)

	status, env := a.do(t, http.MethodPost, "/api/v1/admin/assessments", a.admin, createBody(t0.Add(time.Hour), t0.Add(3*time.Hour)))
	if status != http.StatusCreated {
		t.Fatalf("create: %d %+v", status, env.Error)
	}
	var created struct {
		Assessment model.Assessment `json:"assessment"`
	}
	_ = json.Unmarshal(env.Data, &created)
	id := created.Assessment.ID.String()
	base := "/api/v1/candidate/assessments/" + id

	status, env = a.do(t, http.MethodGet, base, a.candidate, nil)
	expectError(t, status, env, http.StatusUnprocessableEntity, response.ErrAssessmentNotStarted)

	a.clock.set(t0.Add(90 * time.Minute))

	if status, env = a.do(t, http.MethodPost, base+"/start", a.candidate, nil); status != http.StatusOK {
		t.Fatalf("start: %d %+v", status, env.Error)
	}

	status, env = a.do(t, http.MethodPost, base+"/sections/1/start", a.candidate, nil)
	if status != http.StatusOK {
		t.Fatalf("start section: %d %+v", status, env.Error)
	}
	var paper struct {
		Section model.SectionPaper `json:"section"`
	}
	_ = json.Unmarshal(env.Data, &paper)
	if len(paper.Section.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(paper.Section.Questions))
	}
	if bytes.Contains(env.Data, []byte("is_correct")) {
		t.Fatalf("answer key leaked to the candidate")
	}

	status, env = a.do(t, http.MethodPost, base+"/sections/2/start", a.candidate, nil)
	expectError(t, status, env, http.StatusConflict, response.ErrPreviousSectionNotSubmitted)

	q := paper.Section.Questions[0]
	attemptPath := base + "/questions/" + q.ID.String() + "/attempt"
	if status, env = a.do(t, http.MethodPut, attemptPath, a.candidate, model.AttemptQuestionRequest{SelectedOptionID: q.Options[0].ID}); status != http.StatusOK {
		t.Fatalf("attempt: %d %+v", status, env.Error)
	}

	status, env = a.do(t, http.MethodPut, attemptPath, a.candidate, model.AttemptQuestionRequest{SelectedOptionID: uuid.New()})
	expectError(t, status, env, http.StatusNotFound, response.ErrOptionNotFound)

	status, env = a.do(t, http.MethodPut, base+"/questions/not-a-uuid/attempt", a.candidate, model.AttemptQuestionRequest{SelectedOptionID: q.Options[0].ID})
	expectError(t, status, env, http.StatusBadRequest, response.ErrInvalidID)

	status, env = a.do(t, http.MethodPut, attemptPath, a.candidate, map[string]string{})
	expectError(t, status, env, http.StatusBadRequest, response.ErrValidation)

	// The scheduler callback is refused without the secret and before the deadline.
	closure := map[string]string{"assessmentId": id}
	status, env = a.do(t, http.MethodPost, "/internal/v1/closures", "", closure)
	expectError(t, status, env, http.StatusUnauthorized, response.ErrClosureSecret)
	status, env = a.do(t, http.MethodPost, "/internal/v1/closures", "", closure, middleware.ClosureSecretHeader, closureSecret)
	expectError(t, status, env, http.StatusUnprocessableEntity, response.ErrAssessmentNotEnded)

	status, env = a.do(t, http.MethodGet, "/api/v1/admin/assessments/"+id+"/results", a.admin, nil)
	expectError(t, status, env, http.StatusUnprocessableEntity, response.ErrAssessmentNotEnded)

	a.clock.set(t0.Add(3 * time.Hour))

	status, env = a.do(t, http.MethodPost, "/internal/v1/closures", "", closure, middleware.ClosureSecretHeader, closureSecret)
	if status != http.StatusOK {
		t.Fatalf("closure: %d %+v", status, env.Error)
	}
	var report struct {
		Closure service.CloseReport `json:"closure"`
	}
	_ = json.Unmarshal(env.Data, &report)
	if report.Closure.SubmittedAttempts != 1 || report.Closure.SubmittedSections != 1 {
		t.Fatalf("unexpected report %+v", report.Closure)
	}

	status, env = a.do(t, http.MethodGet, "/api/v1/admin/assessments/"+id+"/results", a.admin, nil)
	if status != http.StatusOK {
		t.Fatalf("results: %d %+v", status, env.Error)
	}
	var results struct {
		Results service.AssessmentResults `json:"results"`
	}
	_ = json.Unmarshal(env.Data, &results)
	if len(results.Results.Statuses) != 1 || results.Results.Statuses[0].SubmittedAt == nil {
		t.Fatalf("closure did not submit the candidate: %+v", results.Results.Statuses)
	}
	if len(results.Results.Attempts) != 1 {
		t.Fatalf("expected one recorded answer, got %d", len(results.Results.Attempts))
	}
}

func TestAdminRoutesRequirePermissions(t *testing.T) {
	a := newApp(t)
	reader := sign(t, service.TokenTypeAdmin, 2, service.PermissionAssessmentRead)

	status, env := a.do(t, http.MethodPost, "/api/v1/admin/assessments", reader, createBody(t0.Add(time.Hour), t0.Add(2*time.Hour)))
	expectError(t, status, env, http.StatusForbidden, response.ErrPermissionDenied)

	status, env = a.do(t, http.MethodGet, "/api/v1/admin/assessments", a.candidate, nil)
	expectError(t, status, env, http.StatusForbidden, response.ErrAdminAccessOnly)

	if status, env = a.do(t, http.MethodGet, "/api/v1/admin/assessments?q=kimia", reader, nil); status != http.StatusOK {
		t.Fatalf("list: %d %+v", status, env.Error)
	}

	status, env = a.do(t, http.MethodGet, "/api/v1/admin/assessments?per_page=1000", reader, nil)
	expectError(t, status, env, http.StatusBadRequest, response.ErrValidation)
}

func TestListAssessmentsPaginates(t *testing.T) {
	a := newApp(t)
	for i := 0; i < 3; i++ {
		body := createBody(t0.Add(time.Duration(i+1)*time.Hour), t0.Add(time.Duration(i+3)*time.Hour))
		if status, env := a.do(t, http.MethodPost, "/api/v1/admin/assessments", a.admin, body); status != http.StatusCreated {
			t.Fatalf("create: %d %+v", status, env.Error)
		}
	}

	status, env := a.do(t, http.MethodGet, "/api/v1/admin/assessments?page=2&per_page=2", a.admin, nil)
	if status != http.StatusOK {
		t.Fatalf("list: %d %+v", status, env.Error)
	}
	var data struct {
		Assessments []model.Assessment `json:"assessments"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(data.Assessments) != 1 {
		t.Fatalf("expected 1 assessment on page 2, got %d", len(data.Assessments))
	}
	want := response.Pagination{Page: 2, PerPage: 2, TotalItems: 3, TotalPages: 2}
	if env.Pagination == nil || *env.Pagination != want {
		t.Fatalf("pagination %+v, want %+v", env.Pagination, want)
	}

	status, env = a.do(t, http.MethodGet, "/api/v1/admin/assessments?q=sejarah", a.admin, nil)
	if status != http.StatusOK || env.Pagination == nil || env.Pagination.TotalItems != 0 || env.Pagination.Page != 1 {
		t.Fatalf("empty listing: %d %+v", status, env.Pagination)
	}
}

func TestCreateValidation(t *testing.T) {
	a := newApp(t)

	body := createBody(t0.Add(time.Hour), t0.Add(2*time.Hour))
	body.Name = "   "
	status, env := a.do(t, http.MethodPost, "/api/v1/admin/assessments", a.admin, body)
	expectError(t, status, env, http.StatusBadRequest, response.ErrValidation)
	if _, ok := env.Error.Fields["name"]; !ok {
		t.Fatalf("expected a name field error, got %v", env.Error.Fields)
	}

	body = createBody(t0.Add(time.Hour), t0.Add(2*time.Hour))
	body.Sections[0].Questions[0].Options[0].IsCorrect = false
	status, env = a.do(t, http.MethodPost, "/api/v1/admin/assessments", a.admin, body)
	expectError(t, status, env, http.StatusBadRequest, response.ErrInvalidContent)
}

func TestCandidateResponsesAreNotCached(t *testing.T) {
	a := newApp(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/candidate/assessments/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", "Bearer "+a.candidate)
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status %d", w.Code)
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("candidate response is cacheable")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing request id")
	}
}
