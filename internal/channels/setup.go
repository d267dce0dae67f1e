package channels

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/alexnthnz/notification-engine/internal/config"
	"github.com/alexnthnz/notification-engine/internal/monitoring"
)

// NewChannelManagerFromConfig registers the configured providers: the selected email
// provider, Firebase push (or the stub without credentials) and the in-app hub.
func NewChannelManagerFromConfig(ctx context.Context, cfg *config.Config, hub *Hub, logger *zap.Logger, metrics *monitoring.Metrics) (*ChannelManager, error) {
	manager := NewChannelManager(cfg.Dispatch.SendTimeout, logger, metrics)

	switch cfg.Channels.Email.Provider {
	case "smtp":
		manager.RegisterChannel(NewSMTPChannel(cfg.Channels.SMTP, cfg.Channels.Email, cfg.Dispatch.SendTimeout, logger))
	default:
		manager.RegisterChannel(NewEmailChannel(cfg.Channels.SendGrid, cfg.Channels.Email, logger))
	}

	if cfg.Channels.Firebase.CredentialsPath != "" {
		push, err := NewPushChannel(ctx, cfg.Channels.Firebase, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize push channel: %w", err)
		}
		manager.RegisterChannel(push)
	} else {
		logger.Warn("Firebase credentials not configured, push notifications are logged only")
		manager.RegisterChannel(NewStubPushChannel(logger))
	}

	if hub != nil {
		manager.RegisterChannel(hub)
	}
	return manager, nil
}
