package domain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusExhausted MessageStatus = "exhausted"
)

func (s MessageStatus) Valid() bool {
	switch s {
	case MessageStatusPending, MessageStatusSent, MessageStatusFailed, MessageStatusExhausted:
		return true
	}
	return false
}

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrAlreadySent     = errors.New("message already sent")
	ErrInvalidMessage  = errors.New("invalid message")
)

// Message is a queued outbound email. Content fields are immutable after
// creation; only the queue engines mutate the delivery state.
type Message struct {
	ID           int64
	Recipient    string
	Subject      string
	Body         string
	Status       MessageStatus
	CreatedAt    time.Time
	SentAt       sql.NullTime
	ErrorMessage sql.NullString
	RetryCount   int
	NextRetryAt  sql.NullTime
	ExhaustedAt  sql.NullTime
	UpdatedAt    sql.NullTime
}

// NewMessage validates the content fields and returns a pending message.
func NewMessage(recipient, subject, body string) (Message, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return Message{}, fmt.Errorf("%w: recipient is required", ErrInvalidMessage)
	}
	if _, err := mail.ParseAddress(recipient); err != nil {
		return Message{}, fmt.Errorf("%w: recipient: %v", ErrInvalidMessage, err)
	}
	if strings.TrimSpace(subject) == "" {
		return Message{}, fmt.Errorf("%w: subject is required", ErrInvalidMessage)
	}
	if strings.TrimSpace(body) == "" {
		return Message{}, fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}

	return Message{
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		Status:    MessageStatusPending,
	}, nil
}

// Sent reports whether the message has been delivered. Once true it never
// becomes false again.
func (m Message) Sent() bool {
	return m.Status == MessageStatusSent
}

func (m Message) Envelope() Envelope {
	return Envelope{
		Recipient: m.Recipient,
		Subject:   m.Subject,
		Body:      m.Body,
	}
}

// MarkSent records a successful delivery at the given time.
func (m *Message) MarkSent(at time.Time) error {
	if m.Sent() {
		return ErrAlreadySent
	}
	m.Status = MessageStatusSent
	m.SentAt = sql.NullTime{Time: at, Valid: true}
	m.ErrorMessage = sql.NullString{}
	m.NextRetryAt = sql.NullTime{}
	m.ExhaustedAt = sql.NullTime{}
	return nil
}

// MarkFailed records a failed attempt without touching retry bookkeeping.
// The message stays eligible for the next run.
func (m *Message) MarkFailed(reason string) error {
	if m.Sent() {
		return ErrAlreadySent
	}
	if m.Status != MessageStatusExhausted {
		m.Status = MessageStatusFailed
	}
	m.ErrorMessage = sql.NullString{String: reason, Valid: true}
	return nil
}

// RecordFailedAttempt increments the retry count and either schedules the
// next attempt or freezes the message as exhausted.
func (m *Message) RecordFailedAttempt(at time.Time, reason string, policy RetryPolicy) error {
	if err := m.MarkFailed(reason); err != nil {
		return err
	}

	m.RetryCount++
	if m.RetryCount < policy.MaxAttempts {
		m.NextRetryAt = sql.NullTime{Time: policy.NextAttemptAt(at, m.RetryCount), Valid: true}
		return nil
	}

	m.Status = MessageStatusExhausted
	m.NextRetryAt = sql.NullTime{}
	m.ExhaustedAt = sql.NullTime{Time: at, Valid: true}
	return nil
}

// Envelope is the content handed to a Transport.
type Envelope struct {
	Recipient string
	Subject   string
	Body      string
}

type MessageRepository interface {
	Create(ctx context.Context, message *Message) error
	Get(ctx context.Context, id int64) (Message, error)
	FindPending(ctx context.Context) ([]Message, error)
	FindEligible(ctx context.Context, now time.Time, maxAttempts int, limit uint) ([]Message, error)
	Save(ctx context.Context, message Message) error
	SaveAll(ctx context.Context, messages []Message) error
	ListByStatus(ctx context.Context, status MessageStatus, limit, offset uint) ([]Message, error)
}
