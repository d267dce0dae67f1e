package channels

import (
	"context"
	"fmt"
	"net/http"

	"github.com/alexnthnz/notification-engine/internal/config"
	"github.com/alexnthnz/notification-engine/internal/notification"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

// EmailChannel handles email notifications using SendGrid
type EmailChannel struct {
	client *sendgrid.Client
	apiKey string
	from   *mail.Email
	logger *zap.Logger
}

// EmailOption configures an EmailChannel
type EmailOption func(*EmailChannel)

// WithSendGridEndpoint points the client at another mail send URL
func WithSendGridEndpoint(url string) EmailOption {
	return func(e *EmailChannel) {
		e.client.BaseURL = url
	}
}

// NewEmailChannel creates a new email channel. An empty API key yields a channel
// that fails every send with a configuration error.
func NewEmailChannel(cfg config.SendGridConfig, sender config.EmailConfig, logger *zap.Logger, opts ...EmailOption) *EmailChannel {
	e := &EmailChannel{
		client: sendgrid.NewSendClient(cfg.APIKey),
		apiKey: cfg.APIKey,
		from:   mail.NewEmail(sender.FromName, sender.From),
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SendNotification sends an email notification
func (e *EmailChannel) SendNotification(ctx context.Context, n notification.Notification, user notification.User) (*notification.DeliveryReport, error) {
	const op = "send email"

	if e.apiKey == "" {
		return nil, notification.ConfigurationError(op, "sendgrid api key is not configured")
	}
	if user.Email == "" {
		return nil, recipientError(op, notification.ChannelEmail)
	}

	subject, body := emailContent(n)
	to := mail.NewEmail("", user.Email)
	message := mail.NewSingleEmail(e.from, subject, to, body, body)

	// Custom headers for tracking
	message.SetHeader("X-Notification-ID", n.ID)
	message.SetHeader("X-User-ID", n.UserID)

	response, err := e.client.SendWithContext(ctx, message)
	if err != nil {
		e.logger.Warn("SendGrid request failed", zap.String("id", n.ID), zap.Error(err))
		return nil, notification.TransportError(op, err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		var messageID string
		if ids, ok := response.Headers["X-Message-Id"]; ok && len(ids) > 0 {
			messageID = ids[0]
		}
		e.logger.Info("Email notification sent",
			zap.String("id", n.ID),
			zap.String("sendgrid_id", messageID),
		)
		return &notification.DeliveryReport{
			NotificationID: n.ID,
			Channel:        notification.ChannelEmail,
			ExternalID:     messageID,
			Status:         notification.StatusSent,
		}, nil
	}

	errorMsg := fmt.Sprintf("sendgrid returned status %d: %s", response.StatusCode, response.Body)
	e.logger.Warn("Email notification rejected", zap.String("id", n.ID), zap.Int("status", response.StatusCode))

	// Rejected credentials cannot recover without an operator.
	if response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden {
		return nil, notification.ConfigurationError(op, "%s", errorMsg)
	}
	return nil, notification.TransportError(op, fmt.Errorf("%s", errorMsg))
}

// GetChannelType returns the channel type
func (e *EmailChannel) GetChannelType() notification.Channel {
	return notification.ChannelEmail
}
