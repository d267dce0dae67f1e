package channels

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/alexnthnz/notification-engine/internal/config"
	"github.com/alexnthnz/notification-engine/internal/notification"
	mail "github.com/go-mail/mail/v2"
	"go.uber.org/zap"
)

// mailSender is satisfied by *mail.Dialer
type mailSender interface {
	DialAndSend(m ...*mail.Message) error
}

// SMTPChannel handles email notifications over plain SMTP
type SMTPChannel struct {
	sender mailSender
	host   string
	from   string
	logger *zap.Logger
}

// NewSMTPChannel creates an SMTP email channel. An empty host yields a channel
// that fails every send with a configuration error.
func NewSMTPChannel(cfg config.SMTPConfig, sender config.EmailConfig, timeout time.Duration, logger *zap.Logger) *SMTPChannel {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.StartTLSPolicy = mail.OpportunisticStartTLS
	d.TLSConfig = &tls.Config{ServerName: cfg.Host}
	if timeout > 0 {
		d.Timeout = timeout
	}

	from := sender.From
	if sender.FromName != "" {
		from = fmt.Sprintf("%s <%s>", sender.FromName, sender.From)
	}
	return &SMTPChannel{
		sender: d,
		host:   cfg.Host,
		from:   from,
		logger: logger,
	}
}

// SendNotification sends an email notification
func (s *SMTPChannel) SendNotification(ctx context.Context, n notification.Notification, user notification.User) (*notification.DeliveryReport, error) {
	const op = "send email"

	if s.host == "" {
		return nil, notification.ConfigurationError(op, "smtp host is not configured")
	}
	if user.Email == "" {
		return nil, recipientError(op, notification.ChannelEmail)
	}

	subject, body := emailContent(n)
	m := mail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", user.Email)
	m.SetHeader("Subject", subject)
	m.SetHeader("X-Notification-ID", n.ID)
	m.SetBody("text/plain", body)

	if err := s.sender.DialAndSend(m); err != nil {
		s.logger.Warn("SMTP send failed", zap.String("id", n.ID), zap.Error(err))
		return nil, notification.TransportError(op, err)
	}

	s.logger.Info("Email notification sent", zap.String("id", n.ID), zap.String("host", s.host))
	return &notification.DeliveryReport{
		NotificationID: n.ID,
		Channel:        notification.ChannelEmail,
		Status:         notification.StatusSent,
	}, nil
}

// GetChannelType returns the channel type
func (s *SMTPChannel) GetChannelType() notification.Channel {
	return notification.ChannelEmail
}
