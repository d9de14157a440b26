package mail

import (
	"fmt"
	"strings"

	"github.com/go-mail/mail"

	"signalbridge/conf"
)

// Notifier 通过 SMTP 发送告警邮件
type Notifier struct {
	dialer     *mail.Dialer
	sender     string
	recipients []string
}

// NewNotifier 未配置 SMTP 或收件人时返回 nil
func NewNotifier(cfg conf.EmailConfig) *Notifier {
	if cfg.Host == "" || len(cfg.Recipients) == 0 {
		return nil
	}
	sender := cfg.Sender
	if sender == "" {
		sender = cfg.Username
	}
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.StartTLSPolicy = mail.OpportunisticStartTLS
	return &Notifier{dialer: d, sender: sender, recipients: cfg.Recipients}
}

func (n *Notifier) Send(subject, body string) error {
	m := n.build(subject, body)
	if err := n.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send mail to %s: %w", strings.Join(n.recipients, ","), err)
	}
	return nil
}

func (n *Notifier) build(subject, body string) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", n.sender)
	m.SetHeader("To", n.recipients...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	return m
}
