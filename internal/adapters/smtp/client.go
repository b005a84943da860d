package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/muratdemir0/gopulse-mailer/internal/domain"
)

const (
	TLSModeNone     = "none"
	TLSModeStartTLS = "starttls"
	TLSModeImplicit = "implicit"

	DefaultPort        = 587
	DefaultDialTimeout = 30 * time.Second
	DefaultSendTimeout = 2 * time.Minute
	DefaultHeloName    = "localhost"
)

var ErrInvalidConfig = errors.New("smtp: invalid config")

type Config struct {
	Host               string
	Port               int
	Username           string
	Password           string
	From               string
	HeloName           string
	TLSMode            string
	InsecureSkipVerify bool
	DialTimeout        time.Duration
	SendTimeout        time.Duration
	DKIM               DKIMConfig
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.HeloName == "" {
		c.HeloName = DefaultHeloName
	}
	if c.TLSMode == "" {
		c.TLSMode = TLSModeStartTLS
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	return c
}

// Client relays messages through a single SMTP submission server.
type Client struct {
	cfg    Config
	from   mail.Address
	signer *dkimSigner
	logger *slog.Logger
	now    func() time.Time
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	cfg = cfg.withDefaults()

	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("%w: from address: %v", ErrInvalidConfig, err)
	}
	switch cfg.TLSMode {
	case TLSModeNone, TLSModeStartTLS, TLSModeImplicit:
	default:
		return nil, fmt.Errorf("%w: unknown tls mode %q", ErrInvalidConfig, cfg.TLSMode)
	}

	signer, err := newDKIMSigner(cfg.DKIM)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:    cfg,
		from:   *from,
		signer: signer,
		logger: logger.With(slog.String("component", "smtp_client")),
		now:    time.Now,
	}, nil
}

// Send delivers one message and returns any failure as an error.
func (c *Client) Send(ctx context.Context, envelope domain.Envelope) error {
	data, err := buildMessage(c.from, envelope, c.now())
	if err != nil {
		return err
	}

	data, err = c.signer.sign(data)
	if err != nil {
		return err
	}

	return c.deliver(ctx, envelope.Recipient, data)
}

// TrySend reports an SMTP protocol rejection as false and keeps errors for
// connection level faults.
func (c *Client) TrySend(ctx context.Context, envelope domain.Envelope) (bool, error) {
	err := c.Send(ctx, envelope)
	if err == nil {
		return true, nil
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		c.logger.Warn("Message rejected by SMTP server",
			"recipient", envelope.Recipient,
			"code", protoErr.Code,
			"reply", protoErr.Msg)
		return false, nil
	}
	return false, err
}

func (c *Client) deliver(ctx context.Context, recipient string, data []byte) error {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))

	conn, err := c.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close() //nolint:errcheck

	deadline := time.Now().Add(c.cfg.SendTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, c.cfg.Host)
	if err != nil {
		return fmt.Errorf("new client: %w", err)
	}
	defer client.Close() //nolint:errcheck

	if err := client.Hello(c.cfg.HeloName); err != nil {
		return fmt.Errorf("helo: %w", err)
	}

	if c.cfg.TLSMode == TLSModeStartTLS {
		ok, _ := client.Extension("STARTTLS")
		if !ok {
			return errors.New("starttls: not supported by server")
		}
		if err := client.StartTLS(c.tlsConfig()); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if c.cfg.Username != "" {
		auth := smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(c.from.Address); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	rcpt, err := mail.ParseAddress(recipient)
	if err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	if err := client.Rcpt(rcpt.Address); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data start: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("data write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("data close: %w", err)
	}

	// The server accepted the message once DATA was closed.
	if err := client.Quit(); err != nil {
		c.logger.Warn("Error closing SMTP session after delivery", "recipient", recipient, "error", err)
	}
	return nil
}

func (c *Client) dial(ctx context.Context, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: c.cfg.DialTimeout}
	if c.cfg.TLSMode == TLSModeImplicit {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: c.tlsConfig()}
		return tlsDialer.DialContext(ctx, "tcp", addr)
	}
	return dialer.DialContext(ctx, "tcp", addr)
}

func (c *Client) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         c.cfg.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.cfg.InsecureSkipVerify, //nolint:gosec
	}
}
