package domain

import (
	"context"
	"errors"
	"time"
)

var ErrReceiptNotFound = errors.New("receipt not found")

// Receipt is the delivery record kept for a sent message.
type Receipt struct {
	MessageID int64     `json:"messageId"`
	Recipient string    `json:"recipient"`
	SentAt    time.Time `json:"sentAt"`
}

func (m Message) Receipt() (Receipt, bool) {
	if !m.Sent() || !m.SentAt.Valid {
		return Receipt{}, false
	}
	return Receipt{
		MessageID: m.ID,
		Recipient: m.Recipient,
		SentAt:    m.SentAt.Time,
	}, true
}

type ReceiptStore interface {
	Put(ctx context.Context, receipt Receipt) error
	Get(ctx context.Context, messageID int64) (Receipt, error)
}
