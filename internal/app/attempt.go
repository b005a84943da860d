package app

import (
	"context"
	"fmt"

	"github.com/muratdemir0/gopulse-mailer/internal/domain"
)

// DeliveryFailedReason is stored when a transport rejects a message without
// reporting a fault.
const DeliveryFailedReason = "email delivery failed"

type outcome struct {
	delivered bool
	reason    string
}

// attempt hands one envelope to the transport's Send and records the failure
// description as the reason. A panicking transport counts as a fault.
func attempt(ctx context.Context, transport domain.Transport, envelope domain.Envelope) (out outcome) {
	defer recoverOutcome(&out)

	if err := transport.Send(ctx, envelope); err != nil {
		return outcome{reason: err.Error()}
	}
	return outcome{delivered: true}
}

// tryAttempt prefers TrySend when the transport supports it, so an ordinary
// rejection is stored as DeliveryFailedReason and only faults keep their text.
// Other transports fall back to attempt.
func tryAttempt(ctx context.Context, transport domain.Transport, envelope domain.Envelope) (out outcome) {
	reporting, ok := transport.(domain.ReportingTransport)
	if !ok {
		return attempt(ctx, transport, envelope)
	}

	defer recoverOutcome(&out)

	delivered, err := reporting.TrySend(ctx, envelope)
	switch {
	case err != nil:
		return outcome{reason: err.Error()}
	case !delivered:
		return outcome{reason: DeliveryFailedReason}
	}
	return outcome{delivered: true}
}

func recoverOutcome(out *outcome) {
	if r := recover(); r != nil {
		*out = outcome{reason: fmt.Sprintf("transport panic: %v", r)}
	}
}
