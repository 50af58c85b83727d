package settlement

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// BatchRunner is what the scheduler triggers.
type BatchRunner interface {
	ProcessBatch(ctx context.Context) (*BatchSummary, error)
}

// Processor triggers the daily settlement batch on a cron schedule.
type Processor struct {
	runner   BatchRunner
	schedule string
	loc      *time.Location
}

func NewProcessor(runner BatchRunner, schedule string, loc *time.Location) *Processor {
	if loc == nil {
		loc = time.UTC
	}
	return &Processor{
		runner:   runner,
		schedule: schedule,
		loc:      loc,
	}
}

// Start runs the schedule until ctx is cancelled, then waits for a batch in
// flight to finish.
func (p *Processor) Start(ctx context.Context) error {
	logger := log.With().Str("component", "settlement_processor").Logger()

	c := cron.New(cron.WithLocation(p.loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(p.schedule, func() { p.run(ctx) }); err != nil {
		return errors.Wrapf(err, "parse settlement schedule %q", p.schedule)
	}

	logger.Info().
		Str("schedule", p.schedule).
		Str("time_zone", p.loc.String()).
		Msg("starting settlement processor")
	c.Start()

	<-ctx.Done()
	logger.Info().Msg("shutting down settlement processor")
	<-c.Stop().Done()
	return nil
}

func (p *Processor) run(ctx context.Context) {
	logger := log.With().Str("component", "settlement_processor").Logger()

	// ProcessBatch detaches from ctx, so shutdown does not cut a run short.
	summary, err := p.runner.ProcessBatch(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to process settlement batch")
		return
	}
	logger.Info().
		Str("batch_id", summary.BatchID).
		Bool("existing", summary.Existing).
		Int("success_count", summary.SuccessCount).
		Int("failed_count", summary.FailedCount).
		Msg("scheduled settlement batch finished")
}
