package rest

import (
	"time"

	"github.com/muratdemir0/gopulse-mailer/internal/domain"
)

type EnqueueMessageRequest struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

type MessageResponse struct {
	ID           int64   `json:"id"`
	Recipient    string  `json:"recipient"`
	Subject      string  `json:"subject"`
	Body         string  `json:"body"`
	Status       string  `json:"status"`
	Sent         bool    `json:"sent"`
	SentAt       *string `json:"sentAt,omitempty"`
	RetryCount   int     `json:"retryCount"`
	NextRetryAt  *string `json:"nextRetryAt,omitempty"`
	ExhaustedAt  *string `json:"exhaustedAt,omitempty"`
	CreatedAt    string  `json:"createdAt"`
	UpdatedAt    *string `json:"updatedAt,omitempty"`
	ErrorMessage *string `json:"errorMessage,omitempty"`
}

type MessagesListResponse struct {
	Messages []MessageResponse `json:"messages"`
	Count    int               `json:"count"`
}

type ProcessResponse struct {
	Sent int `json:"sent"`
}

type ReceiptResponse struct {
	MessageID int64  `json:"messageId"`
	Recipient string `json:"recipient"`
	SentAt    string `json:"sentAt"`
}

func ToMessageResponse(msg domain.Message) MessageResponse {
	resp := MessageResponse{
		ID:         msg.ID,
		Recipient:  msg.Recipient,
		Subject:    msg.Subject,
		Body:       msg.Body,
		Status:     string(msg.Status),
		Sent:       msg.Sent(),
		RetryCount: msg.RetryCount,
		CreatedAt:  msg.CreatedAt.Format(time.RFC3339),
	}

	resp.SentAt = formatNullTime(msg.SentAt.Time, msg.SentAt.Valid)
	resp.NextRetryAt = formatNullTime(msg.NextRetryAt.Time, msg.NextRetryAt.Valid)
	resp.ExhaustedAt = formatNullTime(msg.ExhaustedAt.Time, msg.ExhaustedAt.Valid)
	resp.UpdatedAt = formatNullTime(msg.UpdatedAt.Time, msg.UpdatedAt.Valid)

	if msg.ErrorMessage.Valid {
		resp.ErrorMessage = &msg.ErrorMessage.String
	}

	return resp
}

func ToMessageResponses(messages []domain.Message) []MessageResponse {
	responses := make([]MessageResponse, len(messages))
	for i, msg := range messages {
		responses[i] = ToMessageResponse(msg)
	}
	return responses
}

func ToReceiptResponse(receipt domain.Receipt) ReceiptResponse {
	return ReceiptResponse{
		MessageID: receipt.MessageID,
		Recipient: receipt.Recipient,
		SentAt:    receipt.SentAt.Format(time.RFC3339),
	}
}

func formatNullTime(t time.Time, valid bool) *string {
	if !valid {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
