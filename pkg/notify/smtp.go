package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

// DefaultSMTPTimeout bounds a delivery when the caller's context has no
// earlier deadline.
const DefaultSMTPTimeout = 30 * time.Second

// SMTPConfig configures SMTP delivery.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// Validate checks that the config can be used to send mail.
func (c SMTPConfig) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("smtp host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("smtp port %d is out of range", c.Port)
	}
	if strings.TrimSpace(c.From) == "" {
		return errors.New("smtp from address is required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("smtp timeout %s is negative", c.Timeout)
	}
	return nil
}

type sendFunc func(ctx context.Context, m *mail.Msg) error

// SMTPNotifier delivers notifications as plain-text mail.
type SMTPNotifier struct {
	cfg  SMTPConfig
	send sendFunc
	now  func() time.Time
}

// NewSMTPNotifier validates cfg and returns a notifier.
func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultSMTPTimeout
	}
	n := &SMTPNotifier{cfg: cfg, now: time.Now}
	n.send = n.dialAndSend
	return n, nil
}

// Notify sends msg and returns once the relay accepted it, ctx ended or
// the configured timeout passed.
func (n *SMTPNotifier) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	recipients := Recipients(msg.Recipients)
	if len(recipients) == 0 {
		return ErrNoRecipients
	}

	m, err := n.compose(msg.Subject, msg.Body, recipients)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()
	if err := n.send(ctx, m); err != nil {
		return fmt.Errorf("send mail via %s:%d: %w", n.cfg.Host, n.cfg.Port, err)
	}
	return nil
}

func (n *SMTPNotifier) compose(subject, body string, to []string) (*mail.Msg, error) {
	m := mail.NewMsg(mail.WithEncoding(mail.NoEncoding))
	if err := m.From(n.cfg.From); err != nil {
		return nil, fmt.Errorf("smtp from address: %w", err)
	}
	if err := m.To(to...); err != nil {
		return nil, fmt.Errorf("smtp recipients: %w", err)
	}
	m.Subject(subject)
	m.SetDateWithValue(n.now())
	m.SetBodyString(mail.TypeTextPlain, body)
	return m, nil
}

func (n *SMTPNotifier) dialAndSend(ctx context.Context, m *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(n.cfg.Port),
		mail.WithTimeout(n.cfg.Timeout),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if n.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.cfg.Username),
			mail.WithPassword(n.cfg.Password),
		)
	}
	c, err := mail.NewClient(n.cfg.Host, opts...)
	if err != nil {
		return err
	}
	return c.DialAndSendWithContext(ctx, m)
}
