package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"

	"ms-payouts/internal/config"

	"github.com/domodwyer/mailyak/v3"
)

type Email struct {
	To      string
	Subject string
	HTML    string
	Plain   string
}

type Mailer interface {
	Send(ctx context.Context, e Email) error
}

type SMTPMailer struct {
	addr     string
	auth     smtp.Auth
	from     string
	fromName string
}

func NewSMTPMailer(cfg config.EmailConfig) *SMTPMailer {
	var auth smtp.Auth
	if cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
	}
	return &SMTPMailer{
		addr:     net.JoinHostPort(cfg.SMTPHost, cfg.SMTPPort),
		auth:     auth,
		from:     cfg.From,
		fromName: "Evently",
	}
}

func (m *SMTPMailer) compose(e Email) *mailyak.MailYak {
	mail := mailyak.New(m.addr, m.auth)
	mail.To(e.To)
	mail.From(m.from)
	mail.FromName(m.fromName)
	mail.Subject(e.Subject)
	mail.HTML().Set(e.HTML)
	if e.Plain != "" {
		mail.Plain().Set(e.Plain)
	}
	return mail
}

// Send delivers e. mailyak has no context support; ctx is checked up front.
func (m *SMTPMailer) Send(ctx context.Context, e Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.compose(e).Send(); err != nil {
		return fmt.Errorf("send mail to %s: %w", e.To, err)
	}
	return nil
}
