//go:build unit

package devmail_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/muratdemir0/gopulse-mailer/internal/adapters/devmail"
	"github.com/muratdemir0/gopulse-mailer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSender_Send(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "outbox")
	sender := devmail.NewSender(dir, "noreply@example.com", slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := sender.Send(context.Background(), domain.Envelope{
		Recipient: "jane@example.com",
		Subject:   "Your Receipt #42!",
		Body:      "Thanks",
	})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), "_your_receipt_42.eml"), entries[0].Name())

	content, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(content), "To: jane@example.com\r\n")
	assert.True(t, strings.HasSuffix(string(content), "\r\n\r\nThanks"))
}
