// Package notifier delivers account emails. Callers treat delivery as
// best-effort: the auth flows log failures and carry on.
package notifier

import (
	"context"
	"fmt"
	"net"
	"net/smtp"

	"github.com/sirupsen/logrus"

	"github.com/stackforge/auth-service/config"
)

type Notifier interface {
	SendWelcome(ctx context.Context, email, name string) error
	SendPasswordReset(ctx context.Context, email, name, resetURL string) error
}

// SMTPNotifier sends mail through a plain SMTP relay.
type SMTPNotifier struct {
	cfg config.MailConfig
}

func NewSMTPNotifier(cfg config.MailConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg}
}

func (n *SMTPNotifier) SendWelcome(ctx context.Context, email, name string) error {
	subject := "Welcome"
	body := fmt.Sprintf("Hi %s,\r\n\r\nYour account has been created.\r\n", name)
	return n.send(ctx, email, subject, body)
}

func (n *SMTPNotifier) SendPasswordReset(ctx context.Context, email, name, resetURL string) error {
	subject := "Password reset"
	body := fmt.Sprintf("Hi %s,\r\n\r\nReset your password using the link below. The link expires shortly.\r\n\r\n%s\r\n", name, resetURL)
	return n.send(ctx, email, subject, body)
}

func (n *SMTPNotifier) send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(n.cfg.Host, n.cfg.Port)
	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", n.cfg.From, to, subject, body))

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	return smtp.SendMail(addr, auth, n.cfg.From, []string{to}, msg)
}

// LogNotifier is the development stand-in: it records what would have been
// sent and always succeeds.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) SendWelcome(_ context.Context, email, name string) error {
	logrus.WithFields(logrus.Fields{"email": email, "name": name}).Info("welcome email (log only)")
	return nil
}

func (n *LogNotifier) SendPasswordReset(_ context.Context, email, _ string, resetURL string) error {
	logrus.WithFields(logrus.Fields{"email": email, "reset_url": resetURL}).Info("password reset email (log only)")
	return nil
}
