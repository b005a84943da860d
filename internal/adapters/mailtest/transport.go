// Package mailtest provides Transport doubles for exercising the queue engines.
package mailtest

import (
	"context"
	"errors"
	"sync"

	"github.com/muratdemir0/gopulse-mailer/internal/domain"
)

// Recorder records every envelope it is handed, in call order. Failures maps
// a recipient to the error its delivery should return.
type Recorder struct {
	mu       sync.Mutex
	sent     []domain.Envelope
	Failures map[string]error
}

func NewRecorder() *Recorder {
	return &Recorder{Failures: make(map[string]error)}
}

func (r *Recorder) FailFor(recipient string, err error) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failures[recipient] = err
	return r
}

func (r *Recorder) Send(_ context.Context, envelope domain.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sent = append(r.sent, envelope)
	if err, ok := r.Failures[envelope.Recipient]; ok {
		return err
	}
	return nil
}

// Recipients returns the recipients in the order Send was called.
func (r *Recorder) Recipients() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	recipients := make([]string, len(r.sent))
	for i, e := range r.sent {
		recipients[i] = e.Recipient
	}
	return recipients
}

func (r *Recorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

var ErrAlwaysFails = errors.New("mailtest: delivery failed")

// FailingTransport fails every delivery with Err, or ErrAlwaysFails.
type FailingTransport struct {
	Err error
}

func (f FailingTransport) Send(context.Context, domain.Envelope) error {
	if f.Err != nil {
		return f.Err
	}
	return ErrAlwaysFails
}

// ReportingFunc adapts a function to domain.ReportingTransport.
type ReportingFunc func(ctx context.Context, envelope domain.Envelope) (bool, error)

func (f ReportingFunc) TrySend(ctx context.Context, envelope domain.Envelope) (bool, error) {
	return f(ctx, envelope)
}

func (f ReportingFunc) Send(ctx context.Context, envelope domain.Envelope) error {
	ok, err := f(ctx, envelope)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlwaysFails
	}
	return nil
}

// RejectingTransport rejects every delivery. Send returns Reply as the
// error while TrySend reports a plain rejection.
type RejectingTransport struct {
	Reply string
}

func (r RejectingTransport) Send(context.Context, domain.Envelope) error {
	return errors.New(r.Reply)
}

func (r RejectingTransport) TrySend(context.Context, domain.Envelope) (bool, error) {
	return false, nil
}

// Func adapts a function to domain.Transport.
type Func func(ctx context.Context, envelope domain.Envelope) error

func (f Func) Send(ctx context.Context, envelope domain.Envelope) error {
	return f(ctx, envelope)
}
