package channels

import (
	"context"
	"fmt"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/alexnthnz/notification-engine/internal/config"
	"github.com/alexnthnz/notification-engine/internal/notification"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// messagingClient is satisfied by *messaging.Client
type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// PushChannel handles push notifications using Firebase Cloud Messaging
type PushChannel struct {
	client messagingClient
	logger *zap.Logger
}

// NewPushChannel creates a new push notification channel
func NewPushChannel(ctx context.Context, cfg config.FirebaseConfig, logger *zap.Logger) (*PushChannel, error) {
	if _, err := os.Stat(cfg.CredentialsPath); os.IsNotExist(err) {
		return nil, notification.ConfigurationError("init push", "firebase credentials file not found at %s", cfg.CredentialsPath)
	}

	opt := option.WithCredentialsFile(cfg.CredentialsPath)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Firebase messaging client: %w", err)
	}

	return &PushChannel{client: client, logger: logger}, nil
}

// SendNotification sends a push notification to the user's device token
func (p *PushChannel) SendNotification(ctx context.Context, n notification.Notification, user notification.User) (*notification.DeliveryReport, error) {
	const op = "send push"

	if user.PushToken == "" {
		return nil, recipientError(op, notification.ChannelPush)
	}

	response, err := p.client.Send(ctx, buildPushMessage(n, user.PushToken))
	if err != nil {
		p.logger.Warn("FCM send failed", zap.String("id", n.ID), zap.Error(err))
		if messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err) {
			return nil, &notification.Error{Kind: notification.ErrConfiguration, Op: op, Msg: "device token rejected", Err: ErrNoRecipient}
		}
		return nil, notification.TransportError(op, err)
	}

	p.logger.Info("Push notification sent", zap.String("id", n.ID), zap.String("fcm_id", response))
	return &notification.DeliveryReport{
		NotificationID: n.ID,
		Channel:        notification.ChannelPush,
		ExternalID:     response,
		Status:         notification.StatusSent,
	}, nil
}

// GetChannelType returns the channel type
func (p *PushChannel) GetChannelType() notification.Channel {
	return notification.ChannelPush
}

func buildPushMessage(n notification.Notification, token string) *messaging.Message {
	data := make(map[string]string, len(n.Metadata)+4)
	for k, v := range n.Metadata {
		data[k] = v
	}
	data["notification_id"] = n.ID
	data["user_id"] = n.UserID
	data["type"] = string(n.Type)
	if n.ActionURL != "" {
		data["action_url"] = n.ActionURL
	}

	androidPriority := "normal"
	apnsPriority := "5"
	if n.Priority == notification.PriorityHigh || n.Priority == notification.PriorityUrgent {
		androidPriority = "high"
		apnsPriority = "10"
	}

	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Message,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: androidPriority,
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority": apnsPriority,
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: n.Title,
						Body:  n.Message,
					},
					Sound: "default",
				},
			},
		},
	}
}

// StubPushChannel stands in for FCM when no credentials are configured. It logs
// the notification and reports success.
type StubPushChannel struct {
	logger *zap.Logger
}

// NewStubPushChannel creates a push channel that never leaves the process
func NewStubPushChannel(logger *zap.Logger) *StubPushChannel {
	return &StubPushChannel{logger: logger}
}

// SendNotification logs the push and reports success
func (s *StubPushChannel) SendNotification(ctx context.Context, n notification.Notification, user notification.User) (*notification.DeliveryReport, error) {
	if user.PushToken == "" {
		return nil, recipientError("send push", notification.ChannelPush)
	}
	s.logger.Info("Push notification (stub)",
		zap.String("id", n.ID),
		zap.String("user_id", n.UserID),
		zap.String("title", n.Title),
	)
	return &notification.DeliveryReport{
		NotificationID: n.ID,
		Channel:        notification.ChannelPush,
		ExternalID:     "stub-" + n.ID,
		Status:         notification.StatusSent,
	}, nil
}

// GetChannelType returns the channel type
func (s *StubPushChannel) GetChannelType() notification.Channel {
	return notification.ChannelPush
}
