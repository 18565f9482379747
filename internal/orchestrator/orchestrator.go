package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"brokerops/internal/ack"
	"brokerops/internal/classify"
	"brokerops/internal/entity"
	"brokerops/internal/intake"
	"brokerops/internal/logger"
	"brokerops/internal/store"
	pkgerrors "brokerops/pkg/errors"
	"brokerops/pkg/logging"
	"brokerops/pkg/metrics"
)

// AckDispatcher is the outbound notification contract consumed by the
// pipeline.
type AckDispatcher interface {
	Dispatch(ctx context.Context, outcome ack.Outcome) error
}

// Options bound the pipeline's resource usage and behavior.
type Options struct {
	MaxConcurrentBatches int64
	ConfidenceThreshold  float64
}

// Orchestrator drives the fixed per-batch pipeline:
// validate, classify, store, resolve entity, acknowledge. Stages run
// sequentially for one batch; concurrent batches are bounded by a
// weighted semaphore to protect the classifier.
type Orchestrator struct {
	validator  *Validator
	classifier classify.Classifier
	repo       store.Repository
	archiver   store.Archiver
	entities   *entity.Service
	dispatcher AckDispatcher
	alerter    Alerter
	sem        *semaphore.Weighted
	threshold  float64
	logger     logger.Logger
}

func New(
	validator *Validator,
	classifier classify.Classifier,
	repo store.Repository,
	archiver store.Archiver,
	entities *entity.Service,
	dispatcher AckDispatcher,
	alerter Alerter,
	opts Options,
	log logger.Logger,
) *Orchestrator {
	if opts.MaxConcurrentBatches <= 0 {
		opts.MaxConcurrentBatches = 4
	}
	if archiver == nil {
		archiver = store.NopArchiver{}
	}
	return &Orchestrator{
		validator:  validator,
		classifier: classifier,
		repo:       repo,
		archiver:   archiver,
		entities:   entities,
		dispatcher: dispatcher,
		alerter:    alerter,
		sem:        semaphore.NewWeighted(opts.MaxConcurrentBatches),
		threshold:  opts.ConfidenceThreshold,
		logger:     log,
	}
}

// Process runs the pipeline for one closed batch. It is the hand-off
// target of the batching queue: an error return makes the queue retry
// the hand-off, and the checkpoint makes that retry resume from the
// failed stage instead of re-running completed ones.
func (o *Orchestrator) Process(ctx context.Context, batch *intake.MessageBatch) error {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("pipeline slot unavailable: %w", err)
	}
	defer o.sem.Release(1)

	ctx = logging.WithBatchID(ctx, batch.ID)
	ctx = logging.WithQueueKey(ctx, batch.Key.String())

	run, err := o.loadOrCreateRun(ctx, batch)
	if err != nil {
		return err
	}

	err = o.advance(ctx, batch, run)
	if err != nil {
		metrics.PipelineBatchesTotal.WithLabelValues("failed").Inc()
		return err
	}
	if Stage(run.Stage) == StageSkipped {
		metrics.PipelineBatchesTotal.WithLabelValues("skipped").Inc()
	} else {
		metrics.PipelineBatchesTotal.WithLabelValues("done").Inc()
	}
	return nil
}

func (o *Orchestrator) loadOrCreateRun(ctx context.Context, batch *intake.MessageBatch) (*store.BatchRun, error) {
	run, err := o.repo.LoadBatchRun(ctx, batch.ID)
	if err == nil {
		run.Attempts++
		return run, nil
	}
	if !pkgerrors.IsNotFound(err) {
		return nil, fmt.Errorf("failed to load batch checkpoint: %w", err)
	}

	rawBatch, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}
	run = &store.BatchRun{
		BatchID:        batch.ID,
		IdempotencyKey: batch.IdempotencyKey(),
		Stage:          string(StageReceived),
		Attempts:       1,
		RawBatch:       rawBatch,
	}
	if err := o.repo.SaveBatchRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create batch checkpoint: %w", err)
	}

	// First sight of this batch: archive the raw content before any
	// stage can fail. Best-effort.
	if err := o.archiver.ArchiveBatch(ctx, batch); err != nil {
		o.logger.WarnwCtx(ctx, "Raw batch archival failed", "error", err)
	}
	return run, nil
}

// advance walks the batch through the remaining stages, checkpointing
// after each one. On failure the checkpoint records the stage so a
// retry picks up exactly there.
func (o *Orchestrator) advance(ctx context.Context, batch *intake.MessageBatch, run *store.BatchRun) error {
	stage := Stage(run.Stage)
	if stage == StageDone || stage == StageSkipped {
		o.logger.InfowCtx(ctx, "Batch already completed, nothing to do", "stage", run.Stage)
		return nil
	}

	// Validate.
	if !stage.reached(StageValidated) {
		if o.validator != nil && o.validator.ShouldSkip(ctx, batch) {
			o.logger.InfowCtx(ctx, "Batch skipped, all content filtered",
				"message_count", len(batch.Messages),
			)
			return o.checkpoint(ctx, run, StageSkipped, nil)
		}
		if err := o.checkpoint(ctx, run, StageValidated, nil); err != nil {
			return err
		}
	}

	// Classify, with one retry. The result is cached in the checkpoint
	// so a later stage failure never re-classifies.
	var result *classify.Result
	if len(run.Classification) > 0 {
		if err := json.Unmarshal(run.Classification, &result); err != nil {
			return o.fail(ctx, batch, run, failAt(StageClassified, fmt.Errorf("corrupt cached classification: %w", err)))
		}
	}
	if !Stage(run.Stage).reached(StageClassified) {
		var err error
		result, err = o.classifyOnce(ctx, batch)
		if err != nil {
			return o.fail(ctx, batch, run, failAt(StageClassified, err))
		}

		if result.Confidence < o.threshold && result.MessageType != classify.TypeIgnore {
			o.logger.InfowCtx(ctx, "Confidence below threshold, forcing ignore",
				"raw_type", result.MessageType,
				"confidence", result.Confidence,
				"threshold", o.threshold,
			)
			result = &classify.Result{
				MessageType:     classify.TypeIgnore,
				Confidence:      result.Confidence,
				ExtractedFields: classify.Fields{},
				SourceBatchID:   result.SourceBatchID,
			}
		}

		cached, err := json.Marshal(result)
		if err != nil {
			return o.fail(ctx, batch, run, failAt(StageClassified, fmt.Errorf("failed to encode classification: %w", err)))
		}
		run.Classification = cached
		if err := o.checkpoint(ctx, run, StageClassified, nil); err != nil {
			return err
		}
	}
	if result == nil {
		return o.fail(ctx, batch, run, failAt(StageClassified, fmt.Errorf("checkpoint past classification holds no cached result")))
	}

	// Store the classification with the raw batch for audit.
	if !Stage(run.Stage).reached(StageStored) {
		rec := &store.ClassificationRecord{
			IdempotencyKey: run.IdempotencyKey,
			BatchID:        batch.ID,
			QueueKey:       batch.Key.String(),
			Source:         batch.Source(),
			MessageType:    string(result.MessageType),
			Confidence:     result.Confidence,
			Fields:         mustJSON(result.ExtractedFields),
			RawBatch:       run.RawBatch,
		}
		if _, err := o.repo.StoreClassification(ctx, rec); err != nil {
			return o.fail(ctx, batch, run, failAt(StageStored, err))
		}
		if err := o.checkpoint(ctx, run, StageStored, nil); err != nil {
			return err
		}
	}

	// Resolve the domain entity.
	if !Stage(run.Stage).reached(StageEntityResolved) {
		res, err := o.entities.Resolve(ctx, result, run.IdempotencyKey)
		if err != nil {
			return o.fail(ctx, batch, run, failAt(StageEntityResolved, err))
		}
		if res.Partial {
			o.alert(ctx, batch, Alert{
				Reason: AlertPartialEnrichment,
				Detail: fmt.Sprintf("listing %s has %d of %d templated activities", res.ID, res.ActivitiesCreated, res.ActivitiesExpected),
			})
		}
		run.EntityKind = res.Kind
		run.EntityID = res.ID
		run.LastError = ""
		if err := o.checkpoint(ctx, run, StageEntityResolved, nil); err != nil {
			return err
		}

		if result.MessageType == classify.TypeEscalation {
			o.alert(ctx, batch, Alert{
				Reason: AlertEscalation,
				Detail: firstLine(batch),
			})
		}
	}

	// Acknowledge. A dispatch failure never rolls back the entity: the
	// run stays checkpointed at EntityResolved so only the
	// acknowledgment is re-attempted.
	if !Stage(run.Stage).reached(StageAcknowledged) {
		outcome := ack.Outcome{
			BatchID:   batch.ID,
			ChannelID: batch.Key.ChannelID,
			ThreadRef: batch.ThreadRef(),
		}
		if run.EntityKind != "" {
			outcome.Kind = run.EntityKind
			outcome.Summary = o.entitySummary(ctx, run)
		}
		// Ignore, questions and status updates resolve to no entity and
		// get no reply; only entity outcomes reach the dispatcher.
		if err := o.dispatchOutcome(ctx, outcome); err != nil {
			o.alert(ctx, batch, Alert{
				Stage:  string(StageAcknowledged),
				Reason: AlertAckDropped,
				Detail: err.Error(),
			})
			run.LastError = err.Error()
			if saveErr := o.repo.SaveBatchRun(ctx, run); saveErr != nil {
				o.logger.ErrorwCtx(ctx, "Failed to checkpoint ack failure", "error", saveErr)
			}
			metrics.PipelineStageFailuresTotal.WithLabelValues(string(StageAcknowledged)).Inc()
			return failAt(StageAcknowledged, err)
		}
		if err := o.checkpoint(ctx, run, StageAcknowledged, nil); err != nil {
			return err
		}
	}

	return o.checkpoint(ctx, run, StageDone, nil)
}

// dispatchOutcome hands an outcome to the dispatcher unless it is
// intentional silence.
func (o *Orchestrator) dispatchOutcome(ctx context.Context, outcome ack.Outcome) error {
	if outcome.None() {
		return nil
	}
	return o.dispatcher.Dispatch(ctx, outcome)
}

// classifyOnce runs the classifier with a single retry on failure.
func (o *Orchestrator) classifyOnce(ctx context.Context, batch *intake.MessageBatch) (*classify.Result, error) {
	text := classify.CombineMessages(batch)
	bctx := classify.ContextFor(batch)

	result, err := o.classifier.Classify(ctx, text, bctx)
	if err == nil {
		return result, nil
	}
	o.logger.WarnwCtx(ctx, "Classification failed, retrying once", "error", err)
	metrics.RetryAttemptsTotal.WithLabelValues("classify").Inc()

	result, err = o.classifier.Classify(ctx, text, bctx)
	if err != nil {
		return nil, fmt.Errorf("classification failed after retry: %w", err)
	}
	return result, nil
}

func (o *Orchestrator) checkpoint(ctx context.Context, run *store.BatchRun, stage Stage, stageErr error) error {
	run.Stage = string(stage)
	if stageErr != nil {
		run.LastError = stageErr.Error()
	}
	if err := o.repo.SaveBatchRun(ctx, run); err != nil {
		return fmt.Errorf("failed to checkpoint stage %s: %w", stage, err)
	}
	return nil
}

// fail records the failure against the stage it happened in. The stage
// field keeps the last COMPLETED stage so a retry resumes correctly.
func (o *Orchestrator) fail(ctx context.Context, batch *intake.MessageBatch, run *store.BatchRun, stageErr *StageError) error {
	run.LastError = stageErr.Error()
	if err := o.repo.SaveBatchRun(ctx, run); err != nil {
		o.logger.ErrorwCtx(ctx, "Failed to checkpoint stage failure", "error", err)
	}

	metrics.PipelineStageFailuresTotal.WithLabelValues(string(stageErr.Stage)).Inc()
	o.logger.ErrorwCtx(ctx, "Pipeline stage failed",
		"stage", stageErr.Stage,
		"attempts", run.Attempts,
		"error", stageErr.Err,
	)
	o.alert(ctx, batch, Alert{
		Stage:  string(stageErr.Stage),
		Reason: AlertStageFailed,
		Detail: stageErr.Err.Error(),
	})
	return stageErr
}

func (o *Orchestrator) alert(ctx context.Context, batch *intake.MessageBatch, alert Alert) {
	alert.BatchID = batch.ID
	alert.QueueKey = batch.Key.String()
	alert.Timestamp = time.Now()
	if err := o.alerter.Alert(ctx, alert); err != nil {
		o.logger.ErrorwCtx(ctx, "Failed to publish operator alert",
			"reason", alert.Reason,
			"error", err,
		)
	}
}

// entitySummary rebuilds the acknowledgment detail when resuming past
// entity resolution, where the in-memory Resolution is gone.
func (o *Orchestrator) entitySummary(ctx context.Context, run *store.BatchRun) string {
	switch run.EntityKind {
	case store.EntityKindListing:
		listing, err := o.repo.FindListingByKey(ctx, run.IdempotencyKey)
		if err != nil {
			return ""
		}
		if listing.ListingType == "" {
			return listing.Address
		}
		return listing.ListingType + " - " + listing.Address
	case store.EntityKindTask:
		task, err := o.repo.FindTaskByKey(ctx, run.IdempotencyKey)
		if err != nil {
			return ""
		}
		return task.Title
	default:
		return ""
	}
}

func firstLine(batch *intake.MessageBatch) string {
	if len(batch.Messages) == 0 {
		return ""
	}
	text := batch.Messages[0].Text
	if runes := []rune(text); len(runes) > 200 {
		text = string(runes[:200])
	}
	return text
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
