package settlement

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// finishTimeout bounds the bookkeeping writes made after the batch deadline.
const finishTimeout = 10 * time.Second

// BatchIDFor names the batch for t's calendar day.
func BatchIDFor(t time.Time) string {
	return "BATCH-" + t.Format("2006-01-02")
}

// ProcessBatch pays out every PENDING settlement once per calendar day. A
// second call on the same day returns the existing batch untouched. Item
// failures are counted, never propagated. The run is detached from ctx's
// cancellation so a caller going away cannot strand the batch; it is bounded
// by the service's batch timeout instead.
func (s *Service) ProcessBatch(ctx context.Context) (*BatchSummary, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.batchTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "settlement.ProcessBatch")
	defer span.End()

	now := s.clock().In(s.loc)
	batchID := BatchIDFor(now)
	span.SetAttributes(attribute.String("batch.id", batchID))

	logger := log.With().
		Str("batch_id", batchID).
		Str("component", "settlement_batch").
		Logger()

	existing, err := s.db.FindBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logger.Info().Str("status", string(existing.Status)).Msg("batch already exists for today")
		return summaryOf(existing, true), nil
	}

	batch := &Batch{
		BatchID:     batchID,
		Status:      StatusProcessing,
		TotalAmount: decimal.Zero,
		StartedAt:   now.UTC(),
	}
	if err := s.db.CreateBatch(ctx, batch); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			winner, findErr := s.db.FindBatch(ctx, batchID)
			if findErr != nil {
				return nil, findErr
			}
			if winner != nil {
				logger.Info().Msg("batch created concurrently, returning existing")
				return summaryOf(winner, true), nil
			}
		}
		return nil, errors.Wrap(err, "create settlement batch")
	}

	pending, err := s.db.GetPendingSettlements(ctx)
	if err != nil {
		return nil, err
	}
	batch.TotalCount = len(pending)
	logger.Info().Int("pending_count", len(pending)).Msg("processing settlement batch")

	for i := range pending {
		st := &pending[i]
		if err := s.processItem(ctx, logger, batchID, st); err != nil {
			batch.FailedCount++
			continue
		}
		batch.SuccessCount++
		batch.TotalAmount = batch.TotalAmount.Add(st.ProviderPayout)
	}

	completedAt := s.clock().UTC()
	batch.Status = StatusCompleted
	batch.CompletedAt = &completedAt
	finishCtx, finishCancel := freshContext(ctx)
	defer finishCancel()
	if err := s.db.UpdateBatch(finishCtx, batch); err != nil {
		return nil, errors.Wrap(err, "finalize settlement batch")
	}

	logger.Info().
		Int("total_count", batch.TotalCount).
		Int("success_count", batch.SuccessCount).
		Int("failed_count", batch.FailedCount).
		Str("total_amount", batch.TotalAmount.StringFixed(2)).
		Msg("settlement batch completed")

	return summaryOf(batch, false), nil
}

// processItem pays one settlement. Each status change is its own statement so
// a failure leaves siblings untouched.
func (s *Service) processItem(ctx context.Context, logger zerolog.Logger, batchID string, st *Settlement) error {
	logger = logger.With().Str("settlement_id", st.SettlementID).Logger()

	if err := s.db.UpdateSettlementStatus(ctx, nil, st.SettlementID, StatusPending, map[string]interface{}{
		"status":   StatusProcessing,
		"batch_id": batchID,
	}); err != nil {
		logger.Warn().Err(err).Msg("settlement could not be claimed")
		return err
	}

	ref, err := s.payout(ctx, st)
	if err != nil {
		logger.Error().Err(err).Msg("payout failed")
		reason := truncateReason(err.Error())
		if updErr := s.finish(ctx, st.SettlementID, map[string]interface{}{
			"status":         StatusFailed,
			"batch_id":       batchID,
			"failure_reason": reason,
		}); updErr != nil {
			logger.Error().Err(updErr).Msg("failed to mark settlement failed")
		}
		return err
	}

	processedAt := s.clock().UTC()
	if err := s.finish(ctx, st.SettlementID, map[string]interface{}{
		"status":       StatusCompleted,
		"batch_id":     batchID,
		"processed_at": processedAt,
		"payout_ref":   ref,
	}); err != nil {
		logger.Error().Err(err).Str("payout_ref", ref).Msg("payout sent but settlement could not be marked completed")
		return err
	}

	logger.Info().Str("payout_ref", ref).Str("amount", st.ProviderPayout.StringFixed(2)).Msg("settlement paid out")
	return nil
}

// finish moves a claimed settlement to its terminal state. When the batch
// deadline has already passed the write is retried on a fresh context.
func (s *Service) finish(ctx context.Context, settlementID string, fields map[string]interface{}) error {
	err := s.db.UpdateSettlementStatus(ctx, nil, settlementID, StatusProcessing, fields)
	if err == nil || ctx.Err() == nil {
		return err
	}
	retryCtx, cancel := freshContext(ctx)
	defer cancel()
	return s.db.UpdateSettlementStatus(retryCtx, nil, settlementID, StatusProcessing, fields)
}

func freshContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
}

func (s *Service) payout(ctx context.Context, st *Settlement) (ref string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("payout panicked: %v", r)
		}
	}()
	return s.gateway.Payout(ctx, st.SettlementID, st.ProviderID, st.ProviderPayout)
}

func truncateReason(s string) string {
	r := []rune(s)
	if len(r) <= MaxFailureReasonLength {
		return s
	}
	return string(r[:MaxFailureReasonLength])
}

// ListBatches returns the most recent batches first.
func (s *Service) ListBatches(ctx context.Context, limit int) ([]Batch, error) {
	return s.db.ListBatches(ctx, limit)
}
