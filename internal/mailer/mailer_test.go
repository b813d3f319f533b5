package mailer

import (
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keymanager/internal/models"
)

func TestSend_NoHostFailsFast(t *testing.T) {
	t.Parallel()

	m := New(slog.Default(), models.SMTPSettings{})

	err := m.Send(Config{From: "ops@example.com"}, Event{ProductName: "Windows 11 Pro"}, models.User{})
	require.ErrorIs(t, err, ErrNoHost)
}

func TestRecipients(t *testing.T) {
	t.Parallel()

	cfg := Config{From: "ops@example.com"}

	email := "admin@example.com"
	assert.Equal(t, []string{"ops@example.com", "admin@example.com"},
		recipients(cfg, models.User{Email: &email}))

	same := "ops@example.com"
	assert.Equal(t, []string{"ops@example.com"},
		recipients(cfg, models.User{Email: &same}))

	assert.Equal(t, []string{"ops@example.com"},
		recipients(cfg, models.User{}))
}

func TestBody(t *testing.T) {
	t.Parallel()

	ev := Event{
		ProductName:  "Windows 11 Pro",
		CategoryName: "Operating Systems",
		ISODownload:  true,
		UsedAt:       time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}

	got := body(ev)
	assert.Contains(t, got, "Product:  Windows 11 Pro")
	assert.Contains(t, got, "Category: Operating Systems")
	assert.Contains(t, got, "Version:  N/A")
	assert.Contains(t, got, "Vendor:   N/A")
	assert.Contains(t, got, "ISO download requested")
	assert.Contains(t, got, "14/03/2026 09:30:00")

	assert.Contains(t, body(Event{}), "No ISO download requested")
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cfg := Config{Host: "mail.example.com", Port: 587}

	authRes := classify(cfg, &textproto.Error{Code: 535, Msg: "authentication failed"})
	assert.False(t, authRes.Success)
	assert.Equal(t, "SMTP authentication failed", authRes.Message)

	connRes := classify(cfg, &net.OpError{Op: "dial", Err: &net.DNSError{Err: "no such host", IsTimeout: true}})
	assert.False(t, connRes.Success)
	assert.Equal(t, "SMTP connection failed", connRes.Message)

	eofRes := classify(cfg, io.EOF)
	assert.False(t, eofRes.Success)
	assert.Equal(t, "SMTP server disconnected", eofRes.Message)

	otherRes := classify(cfg, assert.AnError)
	assert.False(t, otherRes.Success)
	assert.Equal(t, "SMTP test failed", otherRes.Message)
}

func TestTest_NoHost(t *testing.T) {
	t.Parallel()

	m := New(slog.Default(), models.SMTPSettings{})

	res := m.Test(Config{})
	assert.False(t, res.Success)
	assert.Equal(t, "SMTP host is required for the test", res.Message)
}
