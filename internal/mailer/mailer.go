package mailer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"strings"
	"time"

	"gopkg.in/gomail.v2"

	"keymanager/internal/models"
)

// ErrNoHost is returned when no tier of the override chain supplied an
// SMTP host. Sending is skipped without a connection attempt.
var ErrNoHost = errors.New("smtp host is not configured")

// Event describes a single license use for the notification message.
type Event struct {
	ProductName  string
	Version      string
	Vendor       string
	CategoryName string
	ISODownload  bool
	UsedAt       time.Time
}

// TestResult reports the outcome of a dry-run connection test. It is
// always returned with HTTP 200; Success distinguishes pass from fail.
type TestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Details string `json:"details"`
}

type Mailer struct {
	log    *slog.Logger
	system models.SMTPSettings
}

func New(log *slog.Logger, system models.SMTPSettings) *Mailer {
	return &Mailer{
		log:    log,
		system: system,
	}
}

// Resolve applies the override chain with this mailer's system defaults as
// the last tier.
func (m *Mailer) Resolve(request, user models.SMTPSettings) Config {
	return Resolve(request, user, m.system)
}

// Send composes the usage notification and transmits it synchronously.
// Delivery goes to the from-address and, when distinct, the acting user's
// email. Authentication is attempted only when both username and password
// are present. Every failure comes back as an error value; there is no
// retry and no queue.
func (m *Mailer) Send(cfg Config, ev Event, user models.User) error {
	const op = "mailer.Send"

	if cfg.Host == "" {
		return ErrNoHost
	}

	to := recipients(cfg, user)

	msg := gomail.NewMessage()
	msg.SetHeader("From", cfg.From)
	msg.SetHeader("To", to...)
	msg.SetHeader("Subject", "License used: "+ev.ProductName)
	msg.SetBody("text/plain", body(ev))

	if err := dialer(cfg).DialAndSend(msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Test opens a connection with the resolved configuration, negotiates TLS
// and authentication, and closes without sending. Failures are classified
// so the caller can tell bad credentials from an unreachable server.
func (m *Mailer) Test(cfg Config) TestResult {
	if cfg.Host == "" {
		return TestResult{
			Success: false,
			Message: "SMTP host is required for the test",
			Details: "no host was supplied by the request, the user settings, or the system defaults",
		}
	}

	conn, err := dialer(cfg).Dial()
	if err != nil {
		return classify(cfg, err)
	}
	conn.Close()

	auth := "no authentication tested"
	if cfg.Username != "" && cfg.Password != "" {
		auth = "authentication succeeded"
	}

	return TestResult{
		Success: true,
		Message: "SMTP connection test succeeded",
		Details: fmt.Sprintf("connected to %s:%d, tls=%t, %s", cfg.Host, cfg.Port, cfg.UseTLS, auth),
	}
}

func dialer(cfg Config) *gomail.Dialer {
	username, password := "", ""
	if cfg.Username != "" && cfg.Password != "" {
		username, password = cfg.Username, cfg.Password
	}

	// gomail dials with a 10 second timeout, negotiates STARTTLS when the
	// server offers it, and switches to implicit TLS on port 465.
	return gomail.NewDialer(cfg.Host, cfg.Port, username, password)
}

func recipients(cfg Config, user models.User) []string {
	to := []string{cfg.From}
	if user.Email != nil && *user.Email != "" && *user.Email != cfg.From {
		to = append(to, *user.Email)
	}
	return to
}

func body(ev Event) string {
	iso := "No ISO download requested"
	if ev.ISODownload {
		iso = "ISO download requested"
	}

	var b strings.Builder
	b.WriteString("Hello,\n\n")
	b.WriteString("A license was used in the system:\n\n")
	fmt.Fprintf(&b, "Product:  %s\n", orNA(ev.ProductName))
	fmt.Fprintf(&b, "Version:  %s\n", orNA(ev.Version))
	fmt.Fprintf(&b, "Vendor:   %s\n", orNA(ev.Vendor))
	fmt.Fprintf(&b, "Category: %s\n", orNA(ev.CategoryName))
	fmt.Fprintf(&b, "Used at:  %s\n\n", ev.UsedAt.Format("02/01/2006 15:04:05"))
	b.WriteString(iso + "\n\n")
	b.WriteString("Regards,\nLicense manager\n")
	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func classify(cfg Config, err error) TestResult {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch tpErr.Code {
		case 454, 530, 534, 535:
			return TestResult{
				Success: false,
				Message: "SMTP authentication failed",
				Details: "username or password was rejected, check the credentials",
			}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return TestResult{
			Success: false,
			Message: "SMTP connection failed",
			Details: fmt.Sprintf("could not connect to %s:%d: %v", cfg.Host, cfg.Port, err),
		}
	}

	if errors.Is(err, io.EOF) {
		return TestResult{
			Success: false,
			Message: "SMTP server disconnected",
			Details: "the server closed the connection unexpectedly",
		}
	}

	return TestResult{
		Success: false,
		Message: "SMTP test failed",
		Details: err.Error(),
	}
}
