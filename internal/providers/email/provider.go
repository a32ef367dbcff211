package email

import (
	"context"
	"fmt"
	"net/smtp"

	"go.uber.org/zap"
)

type Provider interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	ReplyTo  string
}

type SMTPProvider struct {
	cfg Config
}

func NewSMTP(cfg Config) *SMTPProvider {
	return &SMTPProvider{cfg: cfg}
}

func (p *SMTPProvider) Send(ctx context.Context, to, subject, htmlBody string) error {
	auth := smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	headers := fmt.Sprintf("From: %s <%s>\r\nTo: %s\r\nSubject: %s\r\n", p.cfg.FromName, p.cfg.From, to, subject)
	if p.cfg.ReplyTo != "" {
		headers += fmt.Sprintf("Reply-To: %s\r\n", p.cfg.ReplyTo)
	}
	headers += "MIME-Version: 1.0\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n"

	return smtp.SendMail(addr, auth, p.cfg.From, []string{to}, []byte(headers+htmlBody))
}

// NoOpProvider swallows sends; used when SMTP is not configured so the
// care-plan pipeline still completes.
type NoOpProvider struct {
	log *zap.Logger
}

func NewNoOp(log *zap.Logger) *NoOpProvider {
	return &NoOpProvider{log: log.Named("providers.email")}
}

func (p *NoOpProvider) Send(ctx context.Context, to, subject, htmlBody string) error {
	p.log.Info("email delivery skipped, smtp not configured",
		zap.String("to", to),
		zap.String("subject", subject),
	)
	return nil
}
