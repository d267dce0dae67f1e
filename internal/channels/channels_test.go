package channels

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alexnthnz/notification-engine/internal/config"
	"github.com/alexnthnz/notification-engine/internal/monitoring"
	"github.com/alexnthnz/notification-engine/internal/notification"
	mail "github.com/go-mail/mail/v2"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeChannel struct {
	kind  notification.Channel
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (f *fakeChannel) SendNotification(ctx context.Context, n notification.Notification, user notification.User) (*notification.DeliveryReport, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &notification.DeliveryReport{NotificationID: n.ID, Status: notification.StatusSent}, nil
}

func (f *fakeChannel) GetChannelType() notification.Channel { return f.kind }

func testNotification() notification.Notification {
	return notification.Notification{
		ID:       "n-1",
		UserID:   "u-1",
		Type:     notification.TypeTaskAssigned,
		Priority: notification.PriorityHigh,
		Title:    "New task",
		Message:  "You have a new task",
	}
}

func TestManager_Success(t *testing.T) {
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	m := NewChannelManager(time.Second, zaptest.NewLogger(t), metrics)
	m.RegisterChannel(&fakeChannel{kind: notification.ChannelInApp})

	report, err := m.SendNotification(context.Background(), notification.ChannelInApp, testNotification(), notification.User{ID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, notification.ChannelInApp, report.Channel)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NotificationsSent.WithLabelValues("in_app", "sent")))
}

func TestManager_Unregistered(t *testing.T) {
	m := NewChannelManager(time.Second, zaptest.NewLogger(t), nil)

	report, err := m.SendNotification(context.Background(), notification.ChannelPush, testNotification(), notification.User{})
	assert.ErrorIs(t, err, notification.ErrConfiguration)
	assert.Equal(t, notification.StatusFailed, report.Status)
}

func TestManager_TimeoutIsTransportError(t *testing.T) {
	m := NewChannelManager(20*time.Millisecond, zaptest.NewLogger(t), nil)
	m.RegisterChannel(&fakeChannel{kind: notification.ChannelEmail, delay: 500 * time.Millisecond})

	start := time.Now()
	_, err := m.SendNotification(context.Background(), notification.ChannelEmail, testNotification(), notification.User{Email: "a@b.c"})
	assert.ErrorIs(t, err, notification.ErrTransport)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.Contains(t, err.Error(), "timed out")
}

func TestManager_ConfigurationErrorShortCircuits(t *testing.T) {
	m := NewChannelManager(time.Second, zaptest.NewLogger(t), nil)
	ch := &fakeChannel{kind: notification.ChannelEmail, err: notification.ConfigurationError("send email", "no api key")}
	m.RegisterChannel(ch)

	for i := 0; i < 3; i++ {
		_, err := m.SendNotification(context.Background(), notification.ChannelEmail, testNotification(), notification.User{Email: "a@b.c"})
		assert.ErrorIs(t, err, notification.ErrConfiguration)
	}
	assert.Equal(t, int32(1), ch.calls.Load(), "adapter is not called again once misconfigured")
	assert.Error(t, m.Disabled(notification.ChannelEmail))
}

func TestManager_RecipientErrorDoesNotDisableChannel(t *testing.T) {
	m := NewChannelManager(time.Second, zaptest.NewLogger(t), nil)
	m.RegisterChannel(NewStubPushChannel(zaptest.NewLogger(t)))

	_, err := m.SendNotification(context.Background(), notification.ChannelPush, testNotification(), notification.User{ID: "u-1"})
	assert.ErrorIs(t, err, notification.ErrConfiguration)
	assert.ErrorIs(t, err, ErrNoRecipient)
	assert.NoError(t, m.Disabled(notification.ChannelPush))

	_, err = m.SendNotification(context.Background(), notification.ChannelPush, testNotification(), notification.User{ID: "u-1", PushToken: "tok"})
	assert.NoError(t, err)
}

func TestManager_PlainErrorsBecomeTransport(t *testing.T) {
	m := NewChannelManager(time.Second, zaptest.NewLogger(t), nil)
	m.RegisterChannel(&fakeChannel{kind: notification.ChannelPush, err: errors.New("connection reset")})

	_, err := m.SendNotification(context.Background(), notification.ChannelPush, testNotification(), notification.User{PushToken: "t"})
	assert.ErrorIs(t, err, notification.ErrTransport)
	assert.NoError(t, m.Disabled(notification.ChannelPush))
}

func TestEmailChannel_NoCredentials(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	e := NewEmailChannel(config.SendGridConfig{}, config.EmailConfig{From: "noreply@example.com"}, zaptest.NewLogger(t),
		WithSendGridEndpoint(srv.URL))

	_, err := e.SendNotification(context.Background(), testNotification(), notification.User{Email: "a@b.c"})
	assert.ErrorIs(t, err, notification.ErrConfiguration)
	assert.Equal(t, int32(0), hits.Load(), "no network call without credentials")
}

func TestEmailChannel_SendGridResponses(t *testing.T) {
	status := http.StatusAccepted
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		w.Header().Set("X-Message-Id", "sg-123")
		w.WriteHeader(status)
	}))
	defer srv.Close()

	e := NewEmailChannel(config.SendGridConfig{APIKey: "key"}, config.EmailConfig{From: "noreply@example.com"}, zaptest.NewLogger(t),
		WithSendGridEndpoint(srv.URL))
	user := notification.User{ID: "u-1", Email: "someone@example.com"}

	report, err := e.SendNotification(context.Background(), testNotification(), user)
	require.NoError(t, err)
	assert.Equal(t, "sg-123", report.ExternalID)

	_, err = e.SendNotification(context.Background(), testNotification(), notification.User{ID: "u-1"})
	assert.ErrorIs(t, err, ErrNoRecipient)

	status = http.StatusServiceUnavailable
	_, err = e.SendNotification(context.Background(), testNotification(), user)
	assert.ErrorIs(t, err, notification.ErrTransport)

	status = http.StatusUnauthorized
	_, err = e.SendNotification(context.Background(), testNotification(), user)
	assert.ErrorIs(t, err, notification.ErrConfiguration)
}

type captureSender struct {
	messages []*mail.Message
	err      error
}

func (c *captureSender) DialAndSend(m ...*mail.Message) error {
	c.messages = append(c.messages, m...)
	return c.err
}

func TestSMTPChannel(t *testing.T) {
	ch := NewSMTPChannel(config.SMTPConfig{Host: "smtp.example.com", Port: 587}, config.EmailConfig{From: "noreply@example.com", FromName: "Notifier"}, time.Second, zaptest.NewLogger(t))
	sender := &captureSender{}
	ch.sender = sender

	n := testNotification()
	n.EmailSubject = "Rendered subject"
	_, err := ch.SendNotification(context.Background(), n, notification.User{Email: "someone@example.com"})
	require.NoError(t, err)
	require.Len(t, sender.messages, 1)
	assert.Equal(t, []string{"Rendered subject"}, sender.messages[0].GetHeader("Subject"))
	assert.Equal(t, []string{"Notifier <noreply@example.com>"}, sender.messages[0].GetHeader("From"))

	sender.err = errors.New("421 try later")
	_, err = ch.SendNotification(context.Background(), n, notification.User{Email: "someone@example.com"})
	assert.ErrorIs(t, err, notification.ErrTransport)

	unconfigured := NewSMTPChannel(config.SMTPConfig{}, config.EmailConfig{From: "x@example.com"}, time.Second, zaptest.NewLogger(t))
	_, err = unconfigured.SendNotification(context.Background(), n, notification.User{Email: "someone@example.com"})
	assert.ErrorIs(t, err, notification.ErrConfiguration)
}

func TestBuildPushMessage(t *testing.T) {
	n := testNotification()
	n.Metadata = map[string]string{"task_id": "42"}
	msg := buildPushMessage(n, "token-1")

	assert.Equal(t, "token-1", msg.Token)
	assert.Equal(t, "high", msg.Android.Priority)
	assert.Equal(t, "42", msg.Data["task_id"])
	assert.Equal(t, "n-1", msg.Data["notification_id"])
	assert.Equal(t, "New task", msg.Notification.Title)
}

func TestHub_PushesToLiveSessions(t *testing.T) {
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	hub := NewHub(config.WebSocketConfig{}, zaptest.NewLogger(t), metrics)
	defer hub.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, r.URL.Query().Get("user"))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user=u-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var welcome Event
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, "connected", welcome.Type)
	require.Eventually(t, func() bool { return hub.Sessions("u-1") == 1 }, time.Second, 10*time.Millisecond)

	report, err := hub.SendNotification(context.Background(), testNotification(), notification.User{ID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, notification.StatusDelivered, report.Status)

	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "notification", got.Type)
	require.NotNil(t, got.Notification)
	assert.Equal(t, "n-1", got.Notification.ID)
	assert.Equal(t, notification.StatusSent, got.Notification.Status)
	assert.True(t, got.Notification.InAppSent)
	assert.NotNil(t, got.Notification.SentAt)

	offline, err := hub.SendNotification(context.Background(), notification.Notification{ID: "n-2", UserID: "u-2"}, notification.User{ID: "u-2"})
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSent, offline.Status)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Sessions("u-1") == 0 }, time.Second, 10*time.Millisecond)
}

func TestChannelManager_RegisterChannelByType(t *testing.T) {
	logger := zaptest.NewLogger(t)
	m := NewChannelManager(time.Second, logger, nil)
	hub := NewHub(config.WebSocketConfig{}, logger, nil)
	defer hub.Close()

	for _, ch := range []Channel{
		NewSMTPChannel(config.SMTPConfig{}, config.EmailConfig{}, time.Second, logger),
		NewStubPushChannel(logger),
		hub,
	} {
		m.RegisterChannel(ch)
	}

	for _, want := range []notification.Channel{notification.ChannelEmail, notification.ChannelPush, notification.ChannelInApp} {
		ch, ok := m.GetChannel(want)
		require.True(t, ok, want)
		assert.Equal(t, want, ch.GetChannelType())
	}

	// a later registration replaces the adapter of the same type
	replacement := &fakeChannel{kind: notification.ChannelEmail}
	m.RegisterChannel(replacement)
	report, err := m.SendNotification(context.Background(), notification.ChannelEmail, testNotification(), notification.User{Email: "a@b.c"})
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSent, report.Status)
	assert.Equal(t, int32(1), replacement.calls.Load())
}

func TestHub_PushedCopyReadsAsSent(t *testing.T) {
	n := testNotification()
	n.Status = notification.StatusPending
	n.RetryCount = 1

	got := pushed(n)
	assert.Equal(t, notification.StatusSent, got.Status)
	assert.True(t, got.InAppSent)
	require.NotNil(t, got.SentAt)
	assert.Equal(t, notification.StatusPending, n.Status)
	assert.False(t, n.InAppSent)

	retry := testNotification()
	retry.Status = notification.StatusFailed
	assert.Equal(t, notification.StatusSent, pushed(retry).Status)

	sentAt := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	read := testNotification()
	read.Status = notification.StatusRead
	read.SentAt = &sentAt
	got = pushed(read)
	assert.Equal(t, notification.StatusRead, got.Status)
	assert.Equal(t, sentAt, *got.SentAt)
}

func TestNewChannelManagerFromConfig(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := &config.Config{}
	cfg.Dispatch.SendTimeout = time.Second
	cfg.Channels.Email.Provider = "smtp"

	hub := NewHub(config.WebSocketConfig{}, logger, nil)
	defer hub.Close()

	m, err := NewChannelManagerFromConfig(context.Background(), cfg, hub, logger, nil)
	require.NoError(t, err)

	email, ok := m.GetChannel(notification.ChannelEmail)
	require.True(t, ok)
	assert.IsType(t, &SMTPChannel{}, email)
	push, ok := m.GetChannel(notification.ChannelPush)
	require.True(t, ok)
	assert.IsType(t, &StubPushChannel{}, push)
	_, ok = m.GetChannel(notification.ChannelInApp)
	assert.True(t, ok)

	cfg.Channels.Email.Provider = "sendgrid"
	cfg.Channels.Firebase.CredentialsPath = t.TempDir() + "/missing.json"
	_, err = NewChannelManagerFromConfig(context.Background(), cfg, nil, logger, nil)
	assert.ErrorIs(t, err, notification.ErrConfiguration)
}
