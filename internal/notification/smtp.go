package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// SMTPConfig configures the outbound email transport. An empty host
// selects the logging transport, which only records what would have
// been sent.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

func newSMTPConfig(v *viper.Viper) (SMTPConfig, error) {
	var conf SMTPConfig
	if err := v.UnmarshalKey("smtp", &conf); err != nil {
		return SMTPConfig{}, fmt.Errorf("failed to unmarshal smtp config: %w", err)
	}
	if conf.Port == 0 {
		conf.Port = 587
	}
	if conf.From == "" {
		conf.From = "no-reply@observashop.dev"
	}
	return conf, nil
}

// Transport delivers a rendered notification to its recipient.
type Transport interface {
	Deliver(ctx context.Context, recipient, subject, body string) error
}

func newTransport(conf SMTPConfig, log *zap.Logger) Transport {
	if conf.Host == "" {
		log.Warn("smtp host not configured, emails will only be logged")
		return &logTransport{log: log}
	}
	return &smtpTransport{conf: conf, send: smtp.SendMail}
}

type smtpTransport struct {
	conf SMTPConfig
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

func (t *smtpTransport) Deliver(ctx context.Context, recipient, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if t.conf.Username != "" {
		auth = smtp.PlainAuth("", t.conf.Username, t.conf.Password, t.conf.Host)
	}

	addr := fmt.Sprintf("%s:%d", t.conf.Host, t.conf.Port)
	message := buildMessage(t.conf.From, recipient, subject, body)
	if err := t.send(addr, auth, t.conf.From, []string{recipient}, message); err != nil {
		return fmt.Errorf("send email to %s: %w", recipient, err)
	}
	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// logTransport stands in for SMTP in local development.
type logTransport struct {
	log *zap.Logger
}

func (t *logTransport) Deliver(ctx context.Context, recipient, subject, body string) error {
	t.log.Info("email delivery skipped",
		zap.String("recipient", recipient),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(body)))
	return nil
}
