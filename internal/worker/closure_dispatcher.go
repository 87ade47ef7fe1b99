package worker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/scheduler"
)

const SweepTimeout = 30 * time.Second

// RuleSource is the local rule store swept for due closures.
type RuleSource interface {
	ClaimDue(ctx context.Context, now time.Time) ([]scheduler.Invocation, error)
	PutRule(ctx context.Context, name, expression string, at time.Time) (string, error)
}

// ClosureDispatcher periodically claims due closure rules and hands their
// payloads to the ClosureWorker queue. It stands in for EventBridge when the
// Redis scheduler backend is configured.
type ClosureDispatcher struct {
	rules    RuleSource
	rdb      *redis.Client
	targetID string
	spec     string
	now      func() time.Time
	log      zerolog.Logger
}

func NewClosureDispatcher(rules RuleSource, rdb *redis.Client, targetID, spec string, log zerolog.Logger) *ClosureDispatcher {
	return &ClosureDispatcher{
		rules:    rules,
		rdb:      rdb,
		targetID: targetID,
		spec:     spec,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.With().Str("component", "closure_dispatcher").Logger(),
	}
}

// Start runs Sweep on the cron spec until ctx is cancelled.
func (d *ClosureDispatcher) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(d.spec, func() {
		sctx, cancel := context.WithTimeout(ctx, SweepTimeout)
		defer cancel()
		if _, err := d.Sweep(sctx, d.now()); err != nil && ctx.Err() == nil {
			d.log.Error().Err(err).Msg("Sweep failed")
		}
	}); err != nil {
		return err
	}

	d.log.Info().Str("spec", d.spec).Msg("ClosureDispatcher started")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	d.log.Info().Msg("ClosureDispatcher stopped")
	return nil
}

// Sweep enqueues every invocation due at now and returns how many were enqueued.
func (d *ClosureDispatcher) Sweep(ctx context.Context, now time.Time) (int, error) {
	due, err := d.rules.ClaimDue(ctx, now)
	if err != nil && len(due) == 0 {
		return 0, err
	}

	queued := 0
	for _, inv := range due {
		if inv.TargetID != d.targetID {
			d.log.Warn().Str("rule", inv.Rule).Str("target", inv.TargetID).Msg("Skipping invocation for unknown target")
			continue
		}
		if perr := d.rdb.RPush(ctx, config.WorkerKey.ClosureQueue, inv.Payload).Err(); perr != nil {
			// The claim already removed the rule from the index; put it back for the next sweep.
			d.log.Error().Err(perr).Str("rule", inv.Rule).Msg("Enqueue failed, re-arming rule")
			if _, rerr := d.rules.PutRule(ctx, inv.Rule, scheduler.Expression(now), now); rerr != nil {
				d.log.Error().Err(rerr).Str("rule", inv.Rule).Msg("Re-arm failed")
			}
			continue
		}
		queued++
	}
	if queued > 0 {
		d.log.Info().Int("count", queued).Msg("Closure invocations enqueued")
	}
	return queued, err
}
