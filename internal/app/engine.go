package app

import (
	"context"
	"fmt"

	"github.com/muratdemir0/gopulse-mailer/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// QueueEngine drains every pending message in one pass and commits the
// batch's outcomes together.
type QueueEngine struct {
	repo      domain.MessageRepository
	transport domain.Transport
	engineOptions
}

func NewQueueEngine(repo domain.MessageRepository, transport domain.Transport, opts ...EngineOption) *QueueEngine {
	return &QueueEngine{
		repo:          repo,
		transport:     transport,
		engineOptions: buildOptions("queue_engine", opts),
	}
}

// Process attempts delivery of all pending messages, oldest first, and
// returns how many were delivered. A failed delivery never stops the batch.
// If the final commit fails the error is returned and no outcome of this
// batch is persisted, so delivered messages will be sent again.
func (e *QueueEngine) Process(ctx context.Context) (int, error) {
	ctx, span := e.tracer.Start(ctx, "QueueEngine.Process")
	defer span.End()

	messages, err := e.repo.FindPending(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("find pending messages: %w", err)
	}
	if len(messages) == 0 {
		e.logger.Debug("No pending messages")
		return 0, nil
	}

	e.logger.Info("Processing pending messages", "count", len(messages))

	sent := 0
	changed := make([]domain.Message, 0, len(messages))
	var delivered []domain.Message
	for _, message := range messages {
		out := e.deliver(ctx, message)
		if out.delivered {
			if err := message.MarkSent(e.clock.Now()); err != nil {
				e.logger.Error("Error marking message as sent", "message_id", message.ID, "error", err)
				continue
			}
			sent++
			delivered = append(delivered, message)
		} else {
			e.logger.Warn("Message delivery failed", "message_id", message.ID, "error", out.reason)
			if err := message.MarkFailed(out.reason); err != nil {
				e.logger.Error("Error marking message as failed", "message_id", message.ID, "error", err)
				continue
			}
		}
		changed = append(changed, message)
	}

	if err := e.repo.SaveAll(ctx, changed); err != nil {
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("Error committing batch", "count", len(changed), "error", err)
		return 0, fmt.Errorf("commit batch: %w", err)
	}

	for _, message := range delivered {
		e.notifySent(message)
	}

	span.SetAttributes(
		attribute.Int("mailer.pending", len(messages)),
		attribute.Int("mailer.sent", sent),
	)
	e.logger.Info("Completed processing pending messages", "total", len(messages), "sent", sent)
	return sent, nil
}

func (e *QueueEngine) deliver(ctx context.Context, message domain.Message) outcome {
	ctx, span := e.tracer.Start(ctx, "QueueEngine.deliver")
	defer span.End()
	span.SetAttributes(attribute.Int64("mailer.message_id", message.ID))

	out := attempt(ctx, e.transport, message.Envelope())
	if !out.delivered {
		span.SetStatus(codes.Error, out.reason)
	}
	return out
}
