package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/mcpwatch/mcpwatch/services/notifier/internal/model"
)

// Mailer sends a single email. Implemented over SMTP in production and
// faked in tests.
type Mailer interface {
	SendMail(ctx context.Context, to, subject, body string) error
}

// DigestQueue buffers digest items until the channel's frequency window
// elapses.
type DigestQueue interface {
	Enqueue(ctx context.Context, ch model.Channel, message string) error
}

// EmailSender queues or sends mail depending on the channel's digest
// frequency: immediate goes straight out, everything else is buffered for
// the digest flusher.
type EmailSender struct {
	mailer  Mailer
	digests DigestQueue
	logger  *slog.Logger
}

func NewEmailSender(mailer Mailer, digests DigestQueue, logger *slog.Logger) *EmailSender {
	return &EmailSender{mailer: mailer, digests: digests, logger: logger}
}

func (s *EmailSender) Send(ctx context.Context, n *model.Notification, sub model.Subscription, ch model.Channel) error {
	if ch.Config.Address == "" {
		return fmt.Errorf("email channel %s has no address configured", ch.ID)
	}

	message := FormatMessage(n.Event)

	frequency := ch.Config.Digest
	if frequency == "" || frequency == model.DigestImmediate {
		subject := fmt.Sprintf("[mcpwatch] %s: %s", n.Event.ChangeType, n.Event.ServerName)
		return s.mailer.SendMail(ctx, ch.Config.Address, subject, message)
	}

	if err := s.digests.Enqueue(ctx, ch, message); err != nil {
		return fmt.Errorf("failed to queue digest item: %w", err)
	}
	s.logger.Debug("Digest item queued",
		slog.String("channel_id", ch.ID),
		slog.String("frequency", string(frequency)))
	return nil
}

// SMTPMailer sends mail through a plain SMTP relay.
type SMTPMailer struct {
	host string
	port string
	user string
	pass string
	from string
}

func NewSMTPMailer(host, port, user, pass, from string) *SMTPMailer {
	return &SMTPMailer{host: host, port: port, user: user, pass: pass, from: from}
}

func (m *SMTPMailer) SendMail(ctx context.Context, to, subject, body string) error {
	if m.host == "" {
		return fmt.Errorf("SMTP host not configured")
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", m.from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)
	msg.WriteString("\r\n")

	addr := m.host + ":" + m.port
	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.pass, m.host)
	}

	// smtp.SendMail has no context support; run it in a goroutine so
	// cancellation still bounds the attempt.
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, m.from, []string{to}, []byte(msg.String()))
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
