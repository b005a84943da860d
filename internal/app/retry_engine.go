package app

import (
	"context"
	"fmt"

	"github.com/muratdemir0/gopulse-mailer/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const DefaultBatchSize = 10

type RetryConfig struct {
	Policy    domain.RetryPolicy
	BatchSize uint
}

// RetryEngine delivers a bounded batch of eligible messages per invocation
// and persists each outcome as soon as it is known. Failed messages are
// rescheduled with linear backoff until the policy is exhausted.
type RetryEngine struct {
	repo      domain.MessageRepository
	transport domain.Transport
	policy    domain.RetryPolicy
	batchSize uint
	engineOptions
}

func NewRetryEngine(repo domain.MessageRepository, transport domain.Transport, cfg RetryConfig, opts ...EngineOption) *RetryEngine {
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy.MaxAttempts = domain.DefaultMaxRetryAttempts
	}
	if cfg.Policy.Delay <= 0 {
		cfg.Policy.Delay = domain.DefaultRetryDelay
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	return &RetryEngine{
		repo:          repo,
		transport:     transport,
		policy:        cfg.Policy,
		batchSize:     cfg.BatchSize,
		engineOptions: buildOptions("retry_engine", opts),
	}
}

// Process only returns an error when the eligible batch cannot be read.
func (e *RetryEngine) Process(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "RetryEngine.Process")
	defer span.End()

	messages, err := e.repo.FindEligible(ctx, e.clock.Now(), e.policy.MaxAttempts, e.batchSize)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("find eligible messages: %w", err)
	}
	if len(messages) == 0 {
		e.logger.Debug("No eligible messages")
		return nil
	}

	e.logger.Info("Processing eligible messages", "count", len(messages))

	sent := 0
	for _, message := range messages {
		if e.process(ctx, message) {
			sent++
		}
	}

	span.SetAttributes(
		attribute.Int("mailer.eligible", len(messages)),
		attribute.Int("mailer.sent", sent),
	)
	e.logger.Info("Completed processing eligible messages", "total", len(messages), "sent", sent)
	return nil
}

func (e *RetryEngine) process(ctx context.Context, message domain.Message) bool {
	ctx, span := e.tracer.Start(ctx, "RetryEngine.deliver")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("mailer.message_id", message.ID),
		attribute.Int("mailer.retry_count", message.RetryCount),
	)

	out := tryAttempt(ctx, e.transport, message.Envelope())
	now := e.clock.Now()

	if out.delivered {
		if err := message.MarkSent(now); err != nil {
			e.logger.Error("Error marking message as sent", "message_id", message.ID, "error", err)
			return false
		}
		if err := e.repo.Save(ctx, message); err != nil {
			span.SetStatus(codes.Error, err.Error())
			e.logger.Error("Error saving sent message", "message_id", message.ID, "error", err)
			return false
		}
		e.logger.Info("Successfully sent message", "message_id", message.ID, "recipient", message.Recipient)
		e.notifySent(message)
		return true
	}

	span.SetStatus(codes.Error, out.reason)
	if err := message.RecordFailedAttempt(now, out.reason, e.policy); err != nil {
		e.logger.Error("Error recording failed attempt", "message_id", message.ID, "error", err)
		return false
	}
	if err := e.repo.Save(ctx, message); err != nil {
		e.logger.Error("Error saving failed message", "message_id", message.ID, "error", err)
		return false
	}

	if message.Status == domain.MessageStatusExhausted {
		e.logger.Warn("Message exhausted retry attempts",
			"message_id", message.ID,
			"retry_count", message.RetryCount,
			"error", out.reason)
	} else {
		e.logger.Warn("Message delivery failed, retry scheduled",
			"message_id", message.ID,
			"retry_count", message.RetryCount,
			"next_retry_at", message.NextRetryAt.Time,
			"error", out.reason)
	}
	return false
}
