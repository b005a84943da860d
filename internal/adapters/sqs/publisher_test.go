//go:build unit

package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/muratdemir0/gopulse-mailer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSQSClient struct {
	mock.Mock
}

func (m *mockSQSClient) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) != nil {
		return args.Get(0).(*sqs.SendMessageOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

var receipt = domain.Receipt{
	MessageID: 42,
	Recipient: "jane@example.com",
	SentAt:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
}

func TestPublisher_PublishSent(t *testing.T) {
	client := new(mockSQSClient)
	publisher := &Publisher{client: client, queueURL: "https://sqs.example.com/mail-events"}

	client.On("SendMessage", mock.Anything, mock.MatchedBy(func(input *sqs.SendMessageInput) bool {
		if *input.QueueUrl != "https://sqs.example.com/mail-events" {
			return false
		}
		var event sentEvent
		if err := json.Unmarshal([]byte(*input.MessageBody), &event); err != nil {
			return false
		}
		return event.Type == EventTypeSent &&
			event.MessageID == 42 &&
			event.Recipient == "jane@example.com" &&
			event.SentAt.Equal(receipt.SentAt) &&
			*input.MessageAttributes["EventType"].StringValue == EventTypeSent &&
			*input.MessageAttributes["MessageID"].StringValue == "42"
	})).Return(&sqs.SendMessageOutput{MessageId: aws.String("sqs-1")}, nil)

	require.NoError(t, publisher.PublishSent(context.Background(), receipt))
	client.AssertExpectations(t)
}

func TestPublisher_PublishSentFailure(t *testing.T) {
	client := new(mockSQSClient)
	publisher := &Publisher{client: client, queueURL: "https://sqs.example.com/mail-events"}

	client.On("SendMessage", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

	err := publisher.PublishSent(context.Background(), receipt)
	assert.EqualError(t, err, "failed to send message to SQS: throttled")
}

func TestNewPublisher_RequiresQueueURL(t *testing.T) {
	_, err := NewPublisher(context.Background(), Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
