package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alexnthnz/notification-engine/internal/channels"
	"github.com/alexnthnz/notification-engine/internal/monitoring"
	"github.com/alexnthnz/notification-engine/internal/notification"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SuppressedReason is recorded on notifications whose requested channels were
// all disabled by the recipient
const SuppressedReason = "suppressed by user notification settings"

// Retry metric reasons
const (
	retryScheduled = "scheduled"
	retryManual    = "manual"
)

// Sender delivers one notification through one channel. *channels.ChannelManager
// satisfies it.
type Sender interface {
	SendNotification(ctx context.Context, t notification.Channel, n notification.Notification, user notification.User) (*notification.DeliveryReport, error)
}

var _ Sender = (*channels.ChannelManager)(nil)

// Options tunes an Engine
type Options struct {
	MaxRetries      int
	Lease           time.Duration
	SendConcurrency int
}

// Engine creates notifications and runs dispatch attempts. At most one attempt
// per notification id is in flight: the in-process KeyedLock rejects a second
// local attempt and the store lease rejects attempts from other processes.
type Engine struct {
	store   notification.Store
	service *notification.Service
	sender  Sender
	locks   *KeyedLock
	logger  *zap.Logger
	metrics *monitoring.Metrics
	opts    Options
	owner   string
}

// NewEngine creates a dispatch engine. metrics may be nil.
func NewEngine(store notification.Store, service *notification.Service, sender Sender, logger *zap.Logger, metrics *monitoring.Metrics, opts Options) *Engine {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = notification.DefaultMaxRetries
	}
	if opts.Lease <= 0 {
		opts.Lease = time.Minute
	}
	if opts.SendConcurrency <= 0 {
		opts.SendConcurrency = 16
	}
	return &Engine{
		store:   store,
		service: service,
		sender:  sender,
		locks:   NewKeyedLock(),
		logger:  logger,
		metrics: metrics,
		opts:    opts,
		owner:   uuid.New().String(),
	}
}

// CreateNotification validates and stores a PENDING notification, then
// dispatches it right away when it is due. A failed dispatch does not fail the
// creation; the record stays queryable in FAILED state.
func (e *Engine) CreateNotification(ctx context.Context, req notification.CreateRequest) (*notification.Notification, error) {
	const op = "create notification"

	if err := req.Validate(); err != nil {
		return nil, err
	}
	chs, _ := notification.ParseChannels(req.Channels)

	priority := req.Priority
	if req.TemplateName != "" {
		tpl, err := e.service.ActiveTemplate(ctx, req.TemplateName)
		if err != nil {
			return nil, err
		}
		if priority == "" {
			priority = tpl.DefaultPriority
		}
	}
	if priority == "" {
		priority = notification.PriorityMedium
	}

	maxRetries := req.MaxRetries
	if maxRetries == 0 {
		maxRetries = e.opts.MaxRetries
	}

	now := e.service.Now()
	n := &notification.Notification{
		ID:              uuid.New().String(),
		UserID:          req.UserID,
		Type:            req.Type,
		Priority:        priority,
		Title:           req.Title,
		Message:         req.Message,
		Channels:        chs,
		TemplateName:    req.TemplateName,
		TemplateContext: req.Context,
		Status:          notification.StatusPending,
		ResourceType:    req.ResourceType,
		ResourceID:      req.ResourceID,
		ActionURL:       req.ActionURL,
		ActionText:      req.ActionText,
		Metadata:        req.Metadata,
		ScheduledAt:     req.ScheduledAt,
		ExpiresAt:       req.ExpiresAt,
		MaxRetries:      maxRetries,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := e.store.Create(ctx, n); err != nil {
		e.logger.Error("Failed to store notification", zap.String("user_id", n.UserID), zap.Error(err))
		return nil, notification.InternalError(op, err)
	}
	e.service.InvalidateUser(ctx, n.UserID)
	e.logger.Info("Notification created",
		zap.String("id", n.ID),
		zap.String("user_id", n.UserID),
		zap.String("type", string(n.Type)),
	)

	if !n.Due(now) {
		return n, nil
	}

	dispatched, err := e.Dispatch(ctx, n.ID)
	if err != nil {
		if !errors.Is(err, notification.ErrDispatchInProgress) {
			e.logger.Warn("Immediate dispatch failed", zap.String("id", n.ID), zap.Error(err))
		}
		return e.latest(ctx, n), nil
	}
	return dispatched, nil
}

// Dispatch runs one attempt for the notification. It fails with
// ErrDispatchInProgress when another attempt holds the notification and with
// ErrInvalidTransition when the record is not eligible.
func (e *Engine) Dispatch(ctx context.Context, id string) (*notification.Notification, error) {
	return e.attempt(ctx, id, retryScheduled)
}

// attempt runs one dispatch attempt. retryReason labels the retry metric when
// the record was FAILED before the attempt.
func (e *Engine) attempt(ctx context.Context, id, retryReason string) (*notification.Notification, error) {
	const op = "dispatch notification"
	start := time.Now()

	unlock, ok := e.locks.TryLock(id)
	if !ok {
		return nil, &notification.Error{Kind: notification.ErrDispatchInProgress, Op: op}
	}
	defer unlock()

	now := e.service.Now()
	acquired, err := e.store.AcquireDispatch(ctx, id, e.owner, now.Add(e.opts.Lease), now)
	if err != nil {
		return nil, e.storeError(op, err)
	}
	if !acquired {
		n, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, e.storeError(op, err)
		}
		if !n.Eligible() {
			return nil, &notification.Error{Kind: notification.ErrInvalidTransition, Op: op, Msg: "notification is " + string(n.Status)}
		}
		return nil, &notification.Error{Kind: notification.ErrDispatchInProgress, Op: op}
	}

	n, err := e.store.Get(ctx, id)
	if err != nil {
		e.release(id)
		return nil, e.storeError(op, err)
	}
	if n.IsExpired(now) {
		e.release(id)
		return nil, &notification.Error{Kind: notification.ErrInvalidTransition, Op: op, Msg: "notification has expired"}
	}
	if !n.Due(now) {
		e.release(id)
		return nil, &notification.Error{Kind: notification.ErrInvalidTransition, Op: op, Msg: "notification is scheduled for later"}
	}
	wasRetry := n.Status == notification.StatusFailed

	targets, explicit, err := e.resolveChannels(ctx, n)
	if err != nil {
		e.release(id)
		return nil, err
	}

	if len(targets) == 0 && explicit {
		n.Suppress(SuppressedReason, e.service.Now())
		return e.finish(ctx, n, op, start)
	}

	e.render(ctx, n)

	user, err := e.recipient(ctx, n.UserID)
	if err != nil {
		e.release(id)
		return nil, err
	}

	results := e.fanOut(ctx, *n, *user, targets)
	n.ApplyOutcome(results, e.service.Now())

	if e.metrics != nil && wasRetry {
		e.metrics.RecordRetry(retryReason)
	}
	return e.finish(ctx, n, op, start)
}

// Retry runs an attempt for a FAILED notification that still has retries left
func (e *Engine) Retry(ctx context.Context, id, userID string) (*notification.Notification, error) {
	n, err := e.service.GetNotification(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if !n.CanRetry() {
		return nil, &notification.Error{
			Kind: notification.ErrInvalidTransition,
			Op:   "retry notification",
			Msg:  "only failed notifications with retries left can be retried",
		}
	}
	return e.attempt(ctx, id, retryManual)
}

// Cancel moves a PENDING or retryable FAILED notification to CANCELLED. It has
// no effect on an attempt that already started.
func (e *Engine) Cancel(ctx context.Context, id, userID string) (*notification.Notification, error) {
	const op = "cancel notification"

	cancelled, err := e.store.CancelPending(ctx, id, userID, e.service.Now())
	if err != nil {
		return nil, e.storeError(op, err)
	}
	n, err := e.service.GetNotification(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		if n.CanCancel() {
			return nil, &notification.Error{Kind: notification.ErrDispatchInProgress, Op: op}
		}
		return nil, &notification.Error{Kind: notification.ErrInvalidTransition, Op: op, Msg: "notification is " + string(n.Status)}
	}

	e.service.InvalidateUser(ctx, userID)
	e.logger.Info("Notification cancelled", zap.String("id", id), zap.String("user_id", userID))
	return n, nil
}

// SendNow creates one notification per target user and dispatches the due ones.
// Targets are independent: one failing target never stops the others.
// requesterID is the target when the request names none.
func (e *Engine) SendNow(ctx context.Context, req notification.SendRequest, requesterID string) (*notification.SendResult, error) {
	if len(req.UserIDs) == 0 && requesterID != "" {
		req.UserIDs = []string{requesterID}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	notifType := notification.TypeReminder
	if req.TemplateName != "" {
		tpl, err := e.service.ActiveTemplate(ctx, req.TemplateName)
		if err != nil {
			return nil, err
		}
		notifType = tpl.Type
	}

	var sent, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(e.opts.SendConcurrency)

	for _, userID := range req.UserIDs {
		userID := userID
		g.Go(func() error {
			n, err := e.CreateNotification(ctx, notification.CreateRequest{
				UserID:       userID,
				Title:        req.Title,
				Message:      req.Message,
				Type:         notifType,
				Priority:     req.Priority,
				Channels:     req.Channels,
				TemplateName: req.TemplateName,
				Context:      req.Context,
				ScheduledAt:  req.ScheduledAt,
			})
			if err != nil || n.Status == notification.StatusFailed {
				failed.Add(1)
				if err != nil {
					e.logger.Warn("Send to user failed", zap.String("user_id", userID), zap.Error(err))
				}
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result := &notification.SendResult{
		SentCount:   int(sent.Load()),
		FailedCount: int(failed.Load()),
		TotalCount:  len(req.UserIDs),
	}
	e.logger.Info("Bulk send finished",
		zap.Int("sent", result.SentCount),
		zap.Int("failed", result.FailedCount),
		zap.Int("total", result.TotalCount),
	)
	return result, nil
}

// HandleJob is the worker pool handler
func (e *Engine) HandleJob(ctx context.Context, job Job) {
	_, err := e.Dispatch(ctx, job.NotificationID)
	switch {
	case err == nil:
	case errors.Is(err, notification.ErrDispatchInProgress),
		errors.Is(err, notification.ErrInvalidTransition),
		errors.Is(err, notification.ErrNotFound):
		e.logger.Debug("Dispatch job skipped", zap.String("id", job.NotificationID), zap.Error(err))
	default:
		e.logger.Error("Dispatch job failed", zap.String("id", job.NotificationID), zap.Error(err))
	}
}

// resolveChannels returns the channels to attempt and whether they came from
// an explicit request. Without an explicit set the template defaults, or
// in-app, apply, and in-app is used when settings disable all of them.
func (e *Engine) resolveChannels(ctx context.Context, n *notification.Notification) ([]notification.Channel, bool, error) {
	setting, err := e.service.EffectiveSetting(ctx, n.UserID, n.Type)
	if err != nil {
		return nil, false, err
	}

	explicit := len(n.Channels) > 0
	requested := n.Channels
	if !explicit {
		requested = []notification.Channel{notification.ChannelInApp}
		if n.TemplateName != "" {
			if tpl, err := e.service.GetTemplate(ctx, n.TemplateName); err == nil && len(tpl.DefaultChannels) > 0 {
				requested = tpl.DefaultChannels
			}
		}
	}

	out := make([]notification.Channel, 0, len(requested))
	for _, ch := range requested {
		if setting.Enabled(ch) {
			out = append(out, ch)
		}
	}
	if len(out) == 0 && !explicit {
		out = []notification.Channel{notification.ChannelInApp}
	}

	if setting.InQuietHours(e.service.Now()) {
		e.logger.Debug("Dispatching inside quiet hours", zap.String("id", n.ID), zap.String("user_id", n.UserID))
	}
	return out, explicit, nil
}

// render fills empty content fields from the template. Explicit title and
// message win over rendered values. Rendering problems never fail the attempt.
func (e *Engine) render(ctx context.Context, n *notification.Notification) {
	if n.TemplateName == "" {
		return
	}

	var rendered notification.Rendered
	tpl, err := e.service.ActiveTemplate(ctx, n.TemplateName)
	if err != nil {
		e.logger.Warn("Template unavailable, using fallback content",
			zap.String("id", n.ID),
			zap.String("template", n.TemplateName),
			zap.Error(err),
		)
		rendered = notification.Rendered{Title: notification.FallbackTitle, Message: notification.FallbackMessage}
	} else {
		rendered, err = notification.RenderOrFallback(tpl, n.TemplateContext)
		if err != nil {
			e.logger.Warn("Template rendering failed, using fallback content",
				zap.String("id", n.ID),
				zap.String("template", n.TemplateName),
				zap.Error(err),
			)
		}
	}

	if n.Title == "" {
		n.Title = rendered.Title
	}
	if n.Message == "" {
		n.Message = rendered.Message
	}
	if n.EmailSubject == "" {
		n.EmailSubject = rendered.EmailSubject
	}
	if n.EmailBody == "" {
		n.EmailBody = rendered.EmailBody
	}
}

// recipient looks up the user's addresses. An unknown user can still receive
// in-app notifications; address-based channels fail for that user only.
func (e *Engine) recipient(ctx context.Context, userID string) (*notification.User, error) {
	user, err := e.store.GetUser(ctx, userID)
	if errors.Is(err, notification.ErrNotFound) {
		return &notification.User{ID: userID}, nil
	}
	if err != nil {
		return nil, e.storeError("get recipient", err)
	}
	return user, nil
}

func (e *Engine) fanOut(ctx context.Context, n notification.Notification, user notification.User, targets []notification.Channel) []notification.ChannelResult {
	results := make([]notification.ChannelResult, len(targets))
	var wg sync.WaitGroup
	for i, ch := range targets {
		wg.Add(1)
		go func(i int, ch notification.Channel) {
			defer wg.Done()
			report, err := e.sender.SendNotification(ctx, ch, n, user)
			results[i] = notification.ChannelResult{Channel: ch, Report: report, Err: err}
			if err != nil {
				e.logger.Warn("Channel send failed",
					zap.String("id", n.ID),
					zap.String("channel", string(ch)),
					zap.String("error_type", channels.ErrorType(err)),
					zap.Error(err),
				)
			}
		}(i, ch)
	}
	wg.Wait()
	return results
}

// finish persists the outcome in one write. The write outlives a cancelled
// request so a finished attempt is never lost.
func (e *Engine) finish(ctx context.Context, n *notification.Notification, op string, start time.Time) (*notification.Notification, error) {
	stored, err := e.store.FinishDispatch(context.WithoutCancel(ctx), n, e.owner)
	if err != nil {
		return nil, e.storeError(op, err)
	}

	e.service.InvalidateUser(ctx, stored.UserID)
	if e.metrics != nil {
		e.metrics.RecordDispatch(string(stored.Status))
		e.metrics.RecordProcessingDuration("dispatch", time.Since(start))
		if stored.Status == notification.StatusFailed && stored.IsTerminal() {
			e.metrics.RecordTerminalFailure()
		}
	}

	fields := []zap.Field{
		zap.String("id", stored.ID),
		zap.String("user_id", stored.UserID),
		zap.String("status", string(stored.Status)),
		zap.Int("retry_count", stored.RetryCount),
	}
	switch {
	case stored.Status == notification.StatusFailed && stored.IsTerminal():
		e.logger.Error("Notification failed permanently", append(fields, zap.String("last_error", stored.LastError))...)
	case stored.Status == notification.StatusFailed:
		e.logger.Warn("Notification dispatch failed", append(fields, zap.String("last_error", stored.LastError))...)
	default:
		e.logger.Info("Notification dispatched", fields...)
	}
	return stored, nil
}

func (e *Engine) release(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.ReleaseDispatch(ctx, id, e.owner); err != nil {
		e.logger.Warn("Failed to release dispatch lease", zap.String("id", id), zap.Error(err))
	}
}

func (e *Engine) latest(ctx context.Context, fallback *notification.Notification) *notification.Notification {
	n, err := e.store.Get(ctx, fallback.ID)
	if err != nil {
		return fallback
	}
	return n
}

func (e *Engine) storeError(op string, err error) error {
	var typed *notification.Error
	if errors.As(err, &typed) {
		return err
	}
	e.logger.Error("Store operation failed", zap.String("op", op), zap.Error(err))
	return notification.InternalError(op, err)
}
