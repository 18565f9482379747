package ack

import (
	"context"
	"fmt"
	"time"

	"github.com/slack-go/slack"

	"brokerops/internal/constants"
	"brokerops/internal/entity"
	"brokerops/internal/logger"
	"brokerops/internal/store"
	"brokerops/pkg/metrics"
	"brokerops/pkg/retry"
)

// Outcome is the transient description of what should be posted back to
// the source channel for one orchestration run.
type Outcome struct {
	BatchID   string
	ChannelID string
	ThreadRef string
	Kind      string // "", store.EntityKindListing, or store.EntityKindTask
	Summary   string
}

// OutcomeFor derives the acknowledgment from an entity resolution.
// Ignore, questions and status updates are intentional silence.
func OutcomeFor(batchID, channelID, threadRef string, res *entity.Resolution) Outcome {
	out := Outcome{BatchID: batchID, ChannelID: channelID, ThreadRef: threadRef}
	if res != nil && !res.None() {
		out.Kind = res.Kind
		out.Summary = res.Summary
	}
	return out
}

// None reports whether nothing should be posted.
func (o Outcome) None() bool { return o.Kind == "" }

func (o Outcome) text() string {
	switch o.Kind {
	case store.EntityKindListing:
		return fmt.Sprintf("🏠 Listing detected: %s", o.Summary)
	case store.EntityKindTask:
		return fmt.Sprintf("✅ Task detected: %s", o.Summary)
	default:
		return ""
	}
}

// Poster is the outbound transport contract. *slack.Client satisfies it.
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Dispatcher posts outcome notifications, exactly once per batch. The
// sent-set claim makes retries (including a re-run of the whole
// pipeline) idempotent.
type Dispatcher struct {
	poster  Poster
	claimer store.Claimer
	policy  retry.Policy
	sentTTL time.Duration
	logger  logger.Logger
}

type Options struct {
	MaxRetries     int
	InitialBackoff time.Duration
	SentTTL        time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxRetries:     constants.DefaultAckMaxRetries,
		InitialBackoff: constants.DefaultAckInitialBackoff,
		SentTTL:        constants.DefaultAckSentTTL,
	}
}

func NewDispatcher(poster Poster, claimer store.Claimer, opts Options, log logger.Logger) *Dispatcher {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = constants.DefaultAckMaxRetries
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = constants.DefaultAckInitialBackoff
	}
	if opts.SentTTL <= 0 {
		opts.SentTTL = constants.DefaultAckSentTTL
	}

	policy := retry.Policy{
		MaxAttempts:     opts.MaxRetries,
		InitialInterval: opts.InitialBackoff,
		MaxInterval:     opts.InitialBackoff * 8,
		Multiplier:      2.0,
	}
	return &Dispatcher{
		poster:  poster,
		claimer: claimer,
		policy:  policy,
		sentTTL: opts.SentTTL,
		logger:  log,
	}
}

// Dispatch posts the outcome to its channel. A none outcome posts
// nothing and succeeds. Transport errors are retried with exponential
// backoff; exhausting retries is reported to the caller but must never
// roll back the entity the outcome describes.
func (d *Dispatcher) Dispatch(ctx context.Context, outcome Outcome) error {
	if outcome.None() {
		metrics.AckDispatchesTotal.WithLabelValues("silent").Inc()
		return nil
	}

	sentKey := constants.CacheKeyPrefixAck + outcome.BatchID
	claimed, err := d.claimer.Claim(ctx, sentKey, d.sentTTL)
	if err != nil {
		return fmt.Errorf("ack sent-set check failed: %w", err)
	}
	if !claimed {
		d.logger.InfowCtx(ctx, "Acknowledgment already sent, skipping",
			"batch_id", outcome.BatchID,
		)
		metrics.AckDispatchesTotal.WithLabelValues("duplicate").Inc()
		return nil
	}

	opts := []slack.MsgOption{slack.MsgOptionText(outcome.text(), false)}
	if outcome.ThreadRef != "" {
		opts = append(opts, slack.MsgOptionTS(outcome.ThreadRef))
	}

	err = retry.RetryWithCallback(ctx, d.policy, func() error {
		_, _, err := d.poster.PostMessageContext(ctx, outcome.ChannelID, opts...)
		return err
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues("ack").Inc()
		d.logger.WarnwCtx(ctx, "Acknowledgment post failed, retrying",
			"batch_id", outcome.BatchID,
			"channel_id", outcome.ChannelID,
			"attempt", attempt,
			"next_attempt_in", nextDelay,
			"error", err,
		)
	})
	if err != nil {
		metrics.AckDispatchesTotal.WithLabelValues("failed").Inc()
		// Give the claim back so a resumed run can post the message;
		// leaving it claimed would record the batch as acknowledged
		// without anything ever reaching the channel.
		if relErr := d.claimer.Release(ctx, sentKey); relErr != nil {
			d.logger.ErrorwCtx(ctx, "Failed to release sent claim",
				"batch_id", outcome.BatchID,
				"error", relErr,
			)
		}
		d.logger.ErrorwCtx(ctx, "Acknowledgment dropped after retries",
			"batch_id", outcome.BatchID,
			"channel_id", outcome.ChannelID,
			"error", err,
		)
		return fmt.Errorf("acknowledgment failed after retries: %w", err)
	}

	metrics.AckDispatchesTotal.WithLabelValues("sent").Inc()
	d.logger.InfowCtx(ctx, "Acknowledgment posted",
		"batch_id", outcome.BatchID,
		"channel_id", outcome.ChannelID,
		"kind", outcome.Kind,
	)
	return nil
}
