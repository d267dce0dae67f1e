package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alexnthnz/notification-engine/internal/monitoring"
	"github.com/alexnthnz/notification-engine/internal/notification"
	"go.uber.org/zap"
)

// ErrNoRecipient marks a configuration error scoped to one user, such as a
// missing email address. It never disables the channel for other users.
var ErrNoRecipient = errors.New("recipient has no address for this channel")

// Channel represents a notification channel interface
type Channel interface {
	SendNotification(ctx context.Context, n notification.Notification, user notification.User) (*notification.DeliveryReport, error)
	GetChannelType() notification.Channel
}

var (
	_ Channel = (*EmailChannel)(nil)
	_ Channel = (*SMTPChannel)(nil)
	_ Channel = (*PushChannel)(nil)
	_ Channel = (*StubPushChannel)(nil)
	_ Channel = (*Hub)(nil)
)

// ChannelManager routes sends to registered channels. Every send is bounded by
// a timeout, and a channel that reports a configuration error is short-circuited
// for the rest of the process lifetime.
type ChannelManager struct {
	mu         sync.RWMutex
	channels   map[notification.Channel]Channel
	configErrs map[notification.Channel]error
	timeout    time.Duration
	logger     *zap.Logger
	metrics    *monitoring.Metrics
}

// NewChannelManager creates a new channel manager. metrics may be nil.
func NewChannelManager(timeout time.Duration, logger *zap.Logger, metrics *monitoring.Metrics) *ChannelManager {
	return &ChannelManager{
		channels:   make(map[notification.Channel]Channel),
		configErrs: make(map[notification.Channel]error),
		timeout:    timeout,
		logger:     logger,
		metrics:    metrics,
	}
}

// RegisterChannel registers a channel with the manager, replacing any previous
// one of the same type and clearing its cached configuration error.
func (m *ChannelManager) RegisterChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.GetChannelType()] = ch
	delete(m.configErrs, ch.GetChannelType())
}

// GetChannel retrieves a channel by type
func (m *ChannelManager) GetChannel(t notification.Channel) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[t]
	return ch, ok
}

// Disabled returns the cached configuration error of a channel, if any
func (m *ChannelManager) Disabled(t notification.Channel) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.configErrs[t]
}

// SendNotification delivers n through the channel of type t. Returned errors
// are always *notification.Error with kind ErrConfiguration or ErrTransport.
func (m *ChannelManager) SendNotification(ctx context.Context, t notification.Channel, n notification.Notification, user notification.User) (*notification.DeliveryReport, error) {
	op := "send " + string(t)

	if err := m.Disabled(t); err != nil {
		m.record(t, err, 0)
		return failedReport(n.ID, t, err), err
	}

	ch, ok := m.GetChannel(t)
	if !ok {
		err := notification.ConfigurationError(op, "no adapter registered for channel %s", t)
		m.disable(t, err)
		m.record(t, err, 0)
		return failedReport(n.ID, t, err), err
	}

	start := time.Now()
	report, err := m.sendWithTimeout(ctx, ch, n, user)
	elapsed := time.Since(start)

	if err != nil {
		err = classify(op, err)
		if errors.Is(err, notification.ErrConfiguration) && !errors.Is(err, ErrNoRecipient) {
			m.disable(t, err)
		}
		m.record(t, err, elapsed)
		if report == nil {
			report = failedReport(n.ID, t, err)
		}
		return report, err
	}

	m.record(t, nil, elapsed)
	if report == nil {
		report = &notification.DeliveryReport{NotificationID: n.ID, Status: notification.StatusSent}
	}
	report.Channel = t
	return report, nil
}

type sendResult struct {
	report *notification.DeliveryReport
	err    error
}

// sendWithTimeout runs the adapter in its own goroutine so that an adapter
// ignoring its context still cannot hold the caller past the timeout.
func (m *ChannelManager) sendWithTimeout(ctx context.Context, ch Channel, n notification.Notification, user notification.User) (*notification.DeliveryReport, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	done := make(chan sendResult, 1)
	go func() {
		report, err := ch.SendNotification(ctx, n, user)
		done <- sendResult{report: report, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() != nil {
			return res.report, m.timeoutError(ctx, ch.GetChannelType())
		}
		return res.report, res.err
	case <-ctx.Done():
		return nil, m.timeoutError(ctx, ch.GetChannelType())
	}
}

func (m *ChannelManager) timeoutError(ctx context.Context, t notification.Channel) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return notification.TransportError("send "+string(t), fmt.Errorf("timed out after %s", m.timeout))
	}
	return notification.TransportError("send "+string(t), ctx.Err())
}

func (m *ChannelManager) disable(t notification.Channel, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.configErrs[t]; !exists {
		m.configErrs[t] = err
		m.logger.Error("Channel disabled by configuration error",
			zap.String("channel", string(t)),
			zap.Error(err),
		)
	}
}

func (m *ChannelManager) record(t notification.Channel, err error, elapsed time.Duration) {
	if m.metrics == nil {
		return
	}
	if elapsed > 0 {
		m.metrics.RecordChannelDuration(string(t), elapsed)
	}
	if err == nil {
		m.metrics.RecordNotificationSent(string(t), string(notification.StatusSent))
		return
	}
	m.metrics.RecordNotificationSent(string(t), string(notification.StatusFailed))
	m.metrics.RecordNotificationFailed(string(t), ErrorType(err))
}

// ErrorType returns a short label for the kind of err, used in metrics
func ErrorType(err error) string {
	switch notification.Kind(err) {
	case notification.ErrConfiguration:
		return "configuration"
	case notification.ErrTransport:
		return "transport"
	case notification.ErrValidation:
		return "validation"
	default:
		return "internal"
	}
}

// classify keeps typed errors and treats anything else as a transport failure
func classify(op string, err error) error {
	var typed *notification.Error
	if errors.As(err, &typed) {
		return err
	}
	return notification.TransportError(op, err)
}

func failedReport(id string, t notification.Channel, err error) *notification.DeliveryReport {
	return &notification.DeliveryReport{
		NotificationID: id,
		Channel:        t,
		Status:         notification.StatusFailed,
		ErrorMessage:   err.Error(),
	}
}

func recipientError(op string, t notification.Channel) error {
	return &notification.Error{
		Kind: notification.ErrConfiguration,
		Op:   op,
		Msg:  fmt.Sprintf("user has no %s address", t),
		Err:  ErrNoRecipient,
	}
}

// emailContent returns the subject and body of the email for n
func emailContent(n notification.Notification) (subject, body string) {
	subject, body = n.EmailSubject, n.EmailBody
	if subject == "" {
		subject = n.Title
	}
	if body == "" {
		body = n.Message
	}
	return subject, body
}
