// Package mailer sends plain-text email over SMTP.
package mailer

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/lborres/kapitbahay/core"
)

// Config holds the SMTP settings
type Config struct {
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
	From     string `yaml:"from" env:"FROM"`
}

// Enabled reports whether a host is configured
func (c Config) Enabled() bool {
	return c.Host != ""
}

func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: missing SMTP host", core.ErrInvalidMailConfig)
	}
	if c.Port == 0 {
		return fmt.Errorf("%w: missing SMTP port", core.ErrInvalidMailConfig)
	}
	if c.From == "" {
		return fmt.Errorf("%w: missing sender address", core.ErrInvalidMailConfig)
	}
	return nil
}

// SMTP is a core.Mailer backed by gomail
type SMTP struct {
	from   string
	dialer *gomail.Dialer
}

var _ core.Mailer = (*SMTP)(nil)

func New(cfg Config) (*SMTP, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SMTP{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}, nil
}

// Send delivers msg. gomail has no context support, so ctx is only
// checked before dialing.
func (m *SMTP) Send(ctx context.Context, msg core.Email) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("no recipients specified")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.dialer.DialAndSend(m.message(msg))
}

func (m *SMTP) message(msg core.Email) *gomail.Message {
	out := gomail.NewMessage()
	out.SetHeader("From", m.from)
	out.SetHeader("To", msg.To...)
	out.SetHeader("Subject", msg.Subject)
	out.SetBody("text/plain", msg.Body)
	return out
}
