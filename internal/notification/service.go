package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Cache is a best-effort JSON cache. Correctness never depends on it.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Service serves reads, read/archive/delete operations, stats, templates and settings
type Service struct {
	store        Store
	cache        Cache
	logger       *zap.Logger
	statsTTL     time.Duration
	settingsTTL  time.Duration
	cacheTimeout time.Duration
	now          func() time.Time
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithCache enables caching of stats and settings
func WithCache(c Cache, statsTTL, settingsTTL time.Duration) ServiceOption {
	return func(s *Service) {
		s.cache = c
		if statsTTL > 0 {
			s.statsTTL = statsTTL
		}
		if settingsTTL > 0 {
			s.settingsTTL = settingsTTL
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new notification service
func NewService(store Store, logger *zap.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:        store,
		logger:       logger,
		statsTTL:     5 * time.Minute,
		settingsTTL:  time.Hour,
		cacheTimeout: 200 * time.Millisecond,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the service clock
func (s *Service) Now() time.Time {
	return s.now()
}

// GetNotification returns a notification owned by userID
func (s *Service) GetNotification(ctx context.Context, id, userID string) (*Notification, error) {
	n, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.storeError("get notification", err)
	}
	if n.UserID != userID || n.IsDeleted {
		return nil, NotFoundError("get notification", "notification")
	}
	return n, nil
}

// ListNotifications returns one filtered, sorted page of a user's notifications
func (s *Service) ListNotifications(ctx context.Context, userID string, f ListFilter) (*ListResult, error) {
	if userID == "" {
		return nil, ValidationError("list notifications", "user_id is required")
	}
	if err := f.Normalize(); err != nil {
		return nil, err
	}

	records, total, err := s.store.List(ctx, userID, f)
	if err != nil {
		return nil, s.storeError("list notifications", err)
	}
	return &ListResult{
		Notifications: records,
		Page:          NewPage(f.Page, f.PageSize, total),
	}, nil
}

// MarkRead marks a notification read. Calling it again leaves read_at untouched.
func (s *Service) MarkRead(ctx context.Context, id, userID string) (*Notification, error) {
	changed, err := s.store.MarkRead(ctx, id, userID, s.now())
	if err != nil {
		return nil, s.storeError("mark read", err)
	}
	if changed {
		s.InvalidateUser(ctx, userID)
		s.logger.Info("Notification marked read", zap.String("id", id), zap.String("user_id", userID))
	}
	return s.GetNotification(ctx, id, userID)
}

// MarkAllRead marks every unread notification of the user read and returns how many changed
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ValidationError("mark all read", "user_id is required")
	}
	count, err := s.store.MarkAllRead(ctx, userID, s.now())
	if err != nil {
		return 0, s.storeError("mark all read", err)
	}
	if count > 0 {
		s.InvalidateUser(ctx, userID)
	}
	s.logger.Info("Marked all notifications read", zap.String("user_id", userID), zap.Int("count", count))
	return count, nil
}

// Archive sets the archive flag of a notification
func (s *Service) Archive(ctx context.Context, id, userID string) error {
	if err := s.store.Archive(ctx, id, userID, s.now()); err != nil {
		return s.storeError("archive notification", err)
	}
	s.InvalidateUser(ctx, userID)
	return nil
}

// Delete soft-deletes a notification, or removes it for good when permanent is set
func (s *Service) Delete(ctx context.Context, id, userID string, permanent bool) error {
	var err error
	if permanent {
		err = s.store.Purge(ctx, id, userID)
	} else {
		err = s.store.SoftDelete(ctx, id, userID, s.now())
	}
	if err != nil {
		return s.storeError("delete notification", err)
	}
	s.InvalidateUser(ctx, userID)
	s.logger.Info("Notification deleted",
		zap.String("id", id),
		zap.String("user_id", userID),
		zap.Bool("permanent", permanent),
	)
	return nil
}

// GetStats returns aggregate counts for a user, served from cache when possible
func (s *Service) GetStats(ctx context.Context, userID string) (*Stats, error) {
	if userID == "" {
		return nil, ValidationError("get stats", "user_id is required")
	}

	key := statsKey(userID)
	var cached Stats
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	stats, err := s.store.Stats(ctx, userID)
	if err != nil {
		return nil, s.storeError("get stats", err)
	}
	s.cacheSet(ctx, key, stats, s.statsTTL)
	return stats, nil
}

// InvalidateUser drops cached aggregates of a user
func (s *Service) InvalidateUser(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cacheTimeout)
	defer cancel()
	if err := s.cache.Delete(ctx, statsKey(userID)); err != nil {
		s.logger.Warn("Failed to invalidate stats cache", zap.String("user_id", userID), zap.Error(err))
	}
}

// CreateTemplate validates and stores a new active template
func (s *Service) CreateTemplate(ctx context.Context, in TemplateInput) (*Template, error) {
	const op = "create template"

	if err := validateStruct(op, &in); err != nil {
		return nil, err
	}
	if !in.Type.Valid() {
		return nil, ValidationError(op, "unknown notification type %q", in.Type)
	}
	if in.DefaultPriority == "" {
		in.DefaultPriority = PriorityMedium
	}
	if !in.DefaultPriority.Valid() {
		return nil, ValidationError(op, "unknown priority %q", in.DefaultPriority)
	}
	channels, err := ParseChannels(in.DefaultChannels)
	if err != nil {
		return nil, ValidationError(op, "%v", err)
	}
	for _, body := range []string{in.TitleTemplate, in.MessageTemplate, in.EmailSubjectTemplate, in.EmailBodyTemplate} {
		if err := CheckTemplate(body); err != nil {
			return nil, ValidationError(op, "%v", err)
		}
	}

	now := s.now()
	t := &Template{
		ID:                   uuid.New().String(),
		Name:                 in.Name,
		Type:                 in.Type,
		TitleTemplate:        in.TitleTemplate,
		MessageTemplate:      in.MessageTemplate,
		EmailSubjectTemplate: in.EmailSubjectTemplate,
		EmailBodyTemplate:    in.EmailBodyTemplate,
		DefaultChannels:      channels,
		DefaultPriority:      in.DefaultPriority,
		IsActive:             true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.store.CreateTemplate(ctx, t); err != nil {
		return nil, s.storeError(op, err)
	}
	s.logger.Info("Template created", zap.String("name", t.Name), zap.String("type", string(t.Type)))
	return t, nil
}

// GetTemplate returns a template by name, active or not
func (s *Service) GetTemplate(ctx context.Context, name string) (*Template, error) {
	t, err := s.store.GetTemplate(ctx, name)
	if err != nil {
		return nil, s.storeError("get template", err)
	}
	return t, nil
}

// ActiveTemplate returns a template only if it is active
func (s *Service) ActiveTemplate(ctx context.Context, name string) (*Template, error) {
	t, err := s.GetTemplate(ctx, name)
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, NotFoundError("get template", "active template")
	}
	return t, nil
}

// ListTemplates lists templates ordered by name
func (s *Service) ListTemplates(ctx context.Context, activeOnly bool) ([]Template, error) {
	ts, err := s.store.ListTemplates(ctx, activeOnly)
	if err != nil {
		return nil, s.storeError("list templates", err)
	}
	return ts, nil
}

// DeactivateTemplate retires a template. Templates are never hard-deleted.
func (s *Service) DeactivateTemplate(ctx context.Context, name string) error {
	if err := s.store.DeactivateTemplate(ctx, name, s.now()); err != nil {
		return s.storeError("deactivate template", err)
	}
	s.logger.Info("Template deactivated", zap.String("name", name))
	return nil
}

// EffectiveSetting returns the user's setting for t, or the all-enabled default
func (s *Service) EffectiveSetting(ctx context.Context, userID string, t Type) (*Setting, error) {
	key := settingsKey(userID, t)
	var cached Setting
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	st, err := s.store.GetSetting(ctx, userID, t)
	if errors.Is(err, ErrNotFound) {
		st = DefaultSetting(userID, t)
	} else if err != nil {
		return nil, s.storeError("get setting", err)
	}
	s.cacheSet(ctx, key, st, s.settingsTTL)
	return st, nil
}

// ListSettings returns the stored settings of a user
func (s *Service) ListSettings(ctx context.Context, userID string) ([]Setting, error) {
	settings, err := s.store.ListSettings(ctx, userID)
	if err != nil {
		return nil, s.storeError("list settings", err)
	}
	return settings, nil
}

// UpdateSetting creates or replaces a user's preference for one type
func (s *Service) UpdateSetting(ctx context.Context, in SettingInput) (*Setting, error) {
	const op = "update setting"

	if err := validateStruct(op, &in); err != nil {
		return nil, err
	}
	if !in.Type.Valid() {
		return nil, ValidationError(op, "unknown notification type %q", in.Type)
	}
	if (in.QuietHoursStart == "") != (in.QuietHoursEnd == "") {
		return nil, ValidationError(op, "quiet hours need both start and end")
	}

	now := s.now()
	st := &Setting{
		UserID:          in.UserID,
		Type:            in.Type,
		EmailEnabled:    in.EmailEnabled,
		PushEnabled:     in.PushEnabled,
		InAppEnabled:    in.InAppEnabled,
		QuietHoursStart: in.QuietHoursStart,
		QuietHoursEnd:   in.QuietHoursEnd,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.UpsertSetting(ctx, st); err != nil {
		return nil, s.storeError(op, err)
	}
	if s.cache != nil {
		ctx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
		defer cancel()
		if err := s.cache.Delete(ctx, settingsKey(in.UserID, in.Type)); err != nil {
			s.logger.Warn("Failed to invalidate settings cache", zap.String("user_id", in.UserID), zap.Error(err))
		}
	}
	return st, nil
}

func (s *Service) cacheGet(ctx context.Context, key string, dst any) bool {
	if s.cache == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
	defer cancel()

	hit, err := s.cache.GetJSON(ctx, key, dst)
	if err != nil {
		s.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return hit
}

func (s *Service) cacheSet(ctx context.Context, key string, v any, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
	defer cancel()

	if err := s.cache.SetJSON(ctx, key, v, ttl); err != nil {
		s.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// storeError passes classified errors through and hides everything else behind InternalError
func (s *Service) storeError(op string, err error) error {
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	s.logger.Error("Store operation failed", zap.String("op", op), zap.Error(err))
	return InternalError(op, err)
}

func statsKey(userID string) string {
	return fmt.Sprintf("notification_stats:%s", userID)
}

func settingsKey(userID string, t Type) string {
	return fmt.Sprintf("notification_settings:%s:%s", userID, t)
}
