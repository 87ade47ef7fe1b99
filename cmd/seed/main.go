package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/stemsi/exstem-assessment/internal/cache"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/database"
	"github.com/stemsi/exstem-assessment/internal/logger"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/repository"
	"github.com/stemsi/exstem-assessment/internal/scheduler"
	"github.com/stemsi/exstem-assessment/internal/service"
)

// Seeds a demo assessment whose window opens shortly after the seed runs.
// The closure rule is armed on the local Redis scheduler.
func main() {
	var (
		name       string
		startIn    time.Duration
		length     time.Duration
		sections   int
		perSection int
	)
	flag.StringVar(&name, "name", "Ujian Percobaan", "Assessment name")
	flag.DurationVar(&startIn, "start-in", 5*time.Minute, "Delay before the window opens")
	flag.DurationVar(&length, "length", 2*time.Hour, "Window length")
	flag.IntVar(&sections, "sections", 2, "Number of sections")
	flag.IntVar(&perSection, "questions", 5, "Questions per section")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	tx := database.NewTransactor(pool)
	repos := repository.NewRepositories(repository.Deps{
		Cache:  cache.NewRedisStore(rdb),
		Tx:     tx,
		TTL:    cfg.CacheTTL,
		Prefix: cfg.CacheKeyPrefix,
		Log:    log,
	}, repository.PgStores(tx))
	closure := scheduler.NewClosureScheduler(scheduler.NewRedisBackend(rdb), "closure-worker", "local", log)
	assessments := service.NewAssessmentService(repos, tx, closure, nil, log)

	startAt := time.Now().UTC().Add(startIn).Truncate(time.Minute)
	req := &model.CreateAssessmentRequest{
		Name:            name,
		StartAt:         startAt,
		EndAt:           startAt.Add(length),
		DurationMinutes: int(length.Minutes()),
	}
	for s := 1; s <= sections; s++ {
		sec := model.CreateSectionRequest{SectionNumber: s, Title: fmt.Sprintf("Bagian %d", s)}
		for q := 1; q <= perSection; q++ {
			a, b := s*10+q, q+3
			sec.Questions = append(sec.Questions, model.CreateQuestionRequest{
				QuestionText: fmt.Sprintf("Berapakah %d + %d?", a, b),
				Options: []model.CreateOptionRequest{
					{OptionText: fmt.Sprint(a + b), IsCorrect: true},
					{OptionText: fmt.Sprint(a + b + 1)},
					{OptionText: fmt.Sprint(a + b - 1)},
					{OptionText: fmt.Sprint(a * b)},
				},
			})
		}
		req.Sections = append(req.Sections, sec)
	}

	fmt.Println("=== Seeding Demo Assessment ===")
	a, err := assessments.Create(ctx, req)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create assessment")
	}

	fmt.Printf("Created assessment %s\n", a.ID)
	fmt.Printf("  window:    %s .. %s\n", a.StartAt.Format(time.RFC3339), a.EndAt.Format(time.RFC3339))
	fmt.Printf("  sections:  %d x %d questions\n", sections, perSection)
}
