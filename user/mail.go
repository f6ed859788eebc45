package user

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"
)

// Mailer delivers password retrieval messages.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer writes messages to the logger instead of sending them. It is the
// mailer of development servers.
type LogMailer struct {
	Logger zerolog.Logger
}

// Send implements Mailer.
func (m LogMailer) Send(_ context.Context, to, subject, body string) error {
	m.Logger.Info().Str("to", to).Str("subject", subject).Msg(body)
	return nil
}

// SMTPMailer sends plain text mail through an SMTP relay.
type SMTPMailer struct {
	Addr string
	From string
	Auth smtp.Auth
}

// Send implements Mailer. The context is only checked before dialing since
// net/smtp has no cancellation.
func (m SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", m.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)
	return smtp.SendMail(m.Addr, m.Auth, m.From, []string{to}, []byte(msg.String()))
}
