package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/scheduler"
	"github.com/stemsi/exstem-assessment/internal/service"
)

const (
	ClosurePollTimeout  = 1 * time.Second
	ClosureRetryBackoff = 1 * time.Minute
)

// Closer finalizes an assessment.
type Closer interface {
	Close(ctx context.Context, id uuid.UUID) (*service.CloseReport, error)
}

// Rearmer moves an assessment's closure rule to a new time.
type Rearmer interface {
	Reschedule(ctx context.Context, assessmentID uuid.UUID, at time.Time) error
}

// ClosureWorker consumes closure payloads and closes the assessments they name.
// Closing is idempotent, so duplicate deliveries are harmless.
type ClosureWorker struct {
	closer  Closer
	rearm   Rearmer
	rdb     *redis.Client
	backoff time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

func NewClosureWorker(closer Closer, rearm Rearmer, rdb *redis.Client, log zerolog.Logger) *ClosureWorker {
	return &ClosureWorker{
		closer:  closer,
		rearm:   rearm,
		rdb:     rdb,
		backoff: ClosureRetryBackoff,
		now:     func() time.Time { return time.Now().UTC() },
		log:     log.With().Str("component", "closure_worker").Logger(),
	}
}

func (w *ClosureWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ClosureWorker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. ClosureWorker stopped")
			return

		default:
			item, err := w.rdb.BLPop(ctx, ClosurePollTimeout, config.WorkerKey.ClosureQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			w.Handle(ctx, []byte(item[1]))
		}
	}
}

// Handle processes one raw payload. Failures that may clear up on their own
// re-arm the rule after the backoff; anything else is logged and dropped.
func (w *ClosureWorker) Handle(ctx context.Context, raw []byte) {
	var p scheduler.Payload
	if err := json.Unmarshal(raw, &p); err != nil || p.AssessmentID == uuid.Nil {
		w.log.Error().Err(err).Bytes("payload", raw).Msg("Invalid JSON payload")
		return
	}
	log := w.log.With().Str("assessment_id", p.AssessmentID.String()).Logger()

	report, err := w.closer.Close(ctx, p.AssessmentID)
	if err == nil {
		log.Info().
			Int("submitted_attempts", report.SubmittedAttempts).
			Bool("already_closed", report.AlreadyClosed).
			Msg("Closure processed")
		return
	}

	switch service.KindOf(err) {
	case service.KindNotFound:
		log.Warn().Err(err).Msg("Closure for a missing assessment dropped")
	case service.KindDependencyFailure, service.KindWindowViolation:
		at := w.now().Add(w.backoff)
		if rerr := w.rearm.Reschedule(ctx, p.AssessmentID, at); rerr != nil {
			log.Error().Err(rerr).AnErr("cause", err).Msg("Closure failed and could not be re-armed")
			return
		}
		log.Warn().Err(err).Time("retry_at", at).Msg("Closure failed, re-armed")
	default:
		log.Error().Err(err).Msg("Closure failed")
	}
}
