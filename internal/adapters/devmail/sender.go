// Package devmail is a Transport for local development. Messages are written
// to a directory as .eml files instead of being sent.
package devmail

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/muratdemir0/gopulse-mailer/internal/domain"
)

type Sender struct {
	dir    string
	from   string
	logger *slog.Logger
	seq    atomic.Uint64
}

func NewSender(dir, from string, logger *slog.Logger) *Sender {
	return &Sender{
		dir:    dir,
		from:   from,
		logger: logger.With(slog.String("component", "dev_mail")),
	}
}

func (s *Sender) Send(_ context.Context, envelope domain.Envelope) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create mail directory: %w", err)
	}

	now := time.Now()
	name := fmt.Sprintf("%s_%03d_%s.eml", now.Format("2006_01_02_150405"), s.seq.Add(1)%1000, sanitizeFilename(envelope.Subject))
	path := filepath.Join(s.dir, name)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", envelope.Recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", envelope.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n\r\n", now.Format(time.RFC1123Z))
	b.WriteString(envelope.Body)

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write message file: %w", err)
	}

	s.logger.Info("Message written to disk", "recipient", envelope.Recipient, "path", path)
	return nil
}

var sanitizeRegex = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)

func sanitizeFilename(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = sanitizeRegex.ReplaceAllString(s, "")

	const maxLength = 80
	if len(s) > maxLength {
		s = s[:maxLength]
	}
	if s == "" {
		s = "email"
	}
	return strings.ToLower(s)
}
