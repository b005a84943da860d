// Package sqs publishes delivery events to an Amazon SQS queue so other
// services can react to sent mail.
package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/muratdemir0/gopulse-mailer/internal/domain"
)

const EventTypeSent = "email.sent"

var ErrInvalidConfig = errors.New("sqs: invalid config")

type Config struct {
	QueueURL string
	Region   string
	// Endpoint overrides the AWS endpoint, e.g. for LocalStack.
	Endpoint string
}

type sendMessageAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type Publisher struct {
	client   sendMessageAPI
	queueURL string
}

type sentEvent struct {
	Type      string    `json:"type"`
	MessageID int64     `json:"messageId"`
	Recipient string    `json:"recipient"`
	SentAt    time.Time `json:"sentAt"`
}

func NewPublisher(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("%w: queue url is required", ErrInvalidConfig)
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Publisher{
		client:   client,
		queueURL: cfg.QueueURL,
	}, nil
}

func (p *Publisher) PublishSent(ctx context.Context, receipt domain.Receipt) error {
	body, err := json.Marshal(sentEvent{
		Type:      EventTypeSent,
		MessageID: receipt.MessageID,
		Recipient: receipt.Recipient,
		SentAt:    receipt.SentAt,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"EventType": {
				DataType:    aws.String("String"),
				StringValue: aws.String(EventTypeSent),
			},
			"MessageID": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.FormatInt(receipt.MessageID, 10)),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("failed to send message to SQS: %w", err)
	}
	return nil
}
