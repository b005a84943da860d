//go:build unit

package app

import (
	"context"
	"errors"
	"testing"

	"github.com/muratdemir0/gopulse-mailer/internal/adapters/mailtest"
	"github.com/muratdemir0/gopulse-mailer/internal/domain"
	"github.com/stretchr/testify/assert"
)

var testEnvelope = domain.Envelope{Recipient: "a@example.com", Subject: "S", Body: "B"}

func TestAttempt(t *testing.T) {
	tests := []struct {
		name      string
		transport domain.Transport
		want      outcome
	}{
		{
			name:      "send succeeds",
			transport: mailtest.NewRecorder(),
			want:      outcome{delivered: true},
		},
		{
			name:      "send error",
			transport: mailtest.FailingTransport{Err: errors.New("SMTP timeout")},
			want:      outcome{reason: "SMTP timeout"},
		},
		{
			name:      "reporting transport still uses send",
			transport: mailtest.RejectingTransport{Reply: "rcpt to: 550 mailbox unavailable"},
			want:      outcome{reason: "rcpt to: 550 mailbox unavailable"},
		},
		{
			name: "panic",
			transport: mailtest.Func(func(context.Context, domain.Envelope) error {
				panic(errors.New("index out of range"))
			}),
			want: outcome{reason: "transport panic: index out of range"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, attempt(context.Background(), tt.transport, testEnvelope))
		})
	}
}

func TestTryAttempt(t *testing.T) {
	tests := []struct {
		name      string
		transport domain.Transport
		want      outcome
	}{
		{
			name: "try send accepted",
			transport: mailtest.ReportingFunc(func(context.Context, domain.Envelope) (bool, error) {
				return true, nil
			}),
			want: outcome{delivered: true},
		},
		{
			name:      "try send rejected",
			transport: mailtest.RejectingTransport{Reply: "rcpt to: 550 mailbox unavailable"},
			want:      outcome{reason: DeliveryFailedReason},
		},
		{
			name: "try send fault wins over result",
			transport: mailtest.ReportingFunc(func(context.Context, domain.Envelope) (bool, error) {
				return true, errors.New("broken pipe")
			}),
			want: outcome{reason: "broken pipe"},
		},
		{
			name: "try send panic",
			transport: mailtest.ReportingFunc(func(context.Context, domain.Envelope) (bool, error) {
				panic("nil map")
			}),
			want: outcome{reason: "transport panic: nil map"},
		},
		{
			name:      "plain transport falls back to send",
			transport: mailtest.FailingTransport{Err: errors.New("SMTP timeout")},
			want:      outcome{reason: "SMTP timeout"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tryAttempt(context.Background(), tt.transport, testEnvelope))
		})
	}
}
