package postmark

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/mrz1836/postmark"
	"github.com/muratdemir0/gopulse-mailer/internal/adapters/ohttp"
	"github.com/muratdemir0/gopulse-mailer/internal/domain"
)

var (
	ErrInvalidConfig = errors.New("postmark: invalid config")
	ErrRejected      = errors.New("postmark: message rejected")
)

type Config struct {
	ServerToken  string
	AccountToken string
	From         string
	ReplyTo      string
	Stream       string
	Timeout      time.Duration
}

type emailSender interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// Client sends queued messages through the Postmark transactional API.
type Client struct {
	api emailSender
	cfg Config
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("%w: server token is required", ErrInvalidConfig)
	}
	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("%w: from address: %v", ErrInvalidConfig, err)
	}

	api := postmark.NewClient(cfg.ServerToken, cfg.AccountToken)
	api.HTTPClient = ohttp.NewClient(ohttp.Config{Timeout: cfg.Timeout}).StandardClient()

	return &Client{
		api: api,
		cfg: cfg,
	}, nil
}

func (c *Client) Send(ctx context.Context, envelope domain.Envelope) error {
	resp, err := c.send(ctx, envelope)
	if resp.ErrorCode > 0 {
		return fmt.Errorf("%w: %d %s", ErrRejected, resp.ErrorCode, resp.Message)
	}
	if err != nil {
		return fmt.Errorf("postmark request: %w", err)
	}
	return nil
}

// TrySend returns false when Postmark answers with an API error code and an
// error when the request itself failed. The client reports API error codes
// through both the response and the error, so the code is checked first.
func (c *Client) TrySend(ctx context.Context, envelope domain.Envelope) (bool, error) {
	err := c.Send(ctx, envelope)
	if errors.Is(err, ErrRejected) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) send(ctx context.Context, envelope domain.Envelope) (postmark.EmailResponse, error) {
	return c.api.SendEmail(ctx, postmark.Email{
		From:          c.cfg.From,
		ReplyTo:       c.cfg.ReplyTo,
		To:            envelope.Recipient,
		Subject:       envelope.Subject,
		TextBody:      envelope.Body,
		MessageStream: c.cfg.Stream,
	})
}
