package app

import (
	"log/slog"

	"github.com/muratdemir0/gopulse-mailer/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/muratdemir0/gopulse-mailer/internal/app"

// SentHook is called after a delivered message has been persisted.
type SentHook func(message domain.Message)

type engineOptions struct {
	clock  domain.Clock
	logger *slog.Logger
	tracer trace.Tracer
	onSent []SentHook
}

type EngineOption func(*engineOptions)

func WithClock(clock domain.Clock) EngineOption {
	return func(o *engineOptions) { o.clock = clock }
}

func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) { o.logger = logger }
}

// WithSentHook adds a hook; hooks run in the order they were added.
func WithSentHook(hook SentHook) EngineOption {
	return func(o *engineOptions) { o.onSent = append(o.onSent, hook) }
}

func buildOptions(component string, opts []EngineOption) engineOptions {
	o := engineOptions{
		clock:  domain.SystemClock{},
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With(slog.String("component", component))
	return o
}

func (o engineOptions) notifySent(message domain.Message) {
	for _, hook := range o.onSent {
		hook(message)
	}
}
