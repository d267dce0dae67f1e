package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockCache struct {
	mock.Mock
}

func (m *mockCache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	args := m.Called(ctx, key, dst)
	return args.Bool(0), args.Error(1)
}

func (m *mockCache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	args := m.Called(ctx, key, v, ttl)
	return args.Error(0)
}

func (m *mockCache) Delete(ctx context.Context, keys ...string) error {
	args := m.Called(ctx, keys)
	return args.Error(0)
}

var fixedNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	opts = append([]ServiceOption{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewService(store, zaptest.NewLogger(t), opts...), store
}

func TestService_GetNotificationOwnership(t *testing.T) {
	svc, store := newTestService(t)
	ids := seed(t, store, "owner", 1, fixedNow, nil)

	n, err := svc.GetNotification(context.Background(), ids[0], "owner")
	require.NoError(t, err)
	assert.Equal(t, "owner", n.UserID)

	_, err = svc.GetNotification(context.Background(), ids[0], "intruder")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.GetNotification(context.Background(), "missing", "owner")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_ListUnreadPage(t *testing.T) {
	svc, store := newTestService(t)
	seed(t, store, "user-1", 25, fixedNow.Add(-time.Hour), nil)

	unread := false
	res, err := svc.ListNotifications(context.Background(), "user-1", ListFilter{IsRead: &unread, PageSize: 20})
	require.NoError(t, err)

	assert.Len(t, res.Notifications, 20)
	assert.Equal(t, 25, res.Total)
	assert.Equal(t, 2, res.TotalPages)
	assert.True(t, res.HasNext)
	assert.False(t, res.HasPrev)
}

func TestService_ListValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ListNotifications(ctx, "", ListFilter{})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.ListNotifications(ctx, "u", ListFilter{PageSize: MaxPageSize + 1})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.ListNotifications(ctx, "u", ListFilter{SortBy: "title"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestService_MarkReadIsIdempotent(t *testing.T) {
	svc, store := newTestService(t)
	id := seed(t, store, "u", 1, fixedNow.Add(-time.Minute), nil)[0]

	first, err := svc.MarkRead(context.Background(), id, "u")
	require.NoError(t, err)
	require.NotNil(t, first.ReadAt)
	assert.True(t, first.IsRead)

	second, err := svc.MarkRead(context.Background(), id, "u")
	require.NoError(t, err)
	assert.Equal(t, *first.ReadAt, *second.ReadAt)
}

func TestService_MarkAllReadInvalidatesStats(t *testing.T) {
	cache := new(mockCache)
	svc, store := newTestService(t, WithCache(cache, 0, 0))
	seed(t, store, "u", 3, fixedNow.Add(-time.Hour), nil)

	cache.On("Delete", mock.Anything, []string{"notification_stats:u"}).Return(nil).Once()

	count, err := svc.MarkAllRead(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = svc.MarkAllRead(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	cache.AssertExpectations(t)
}

func TestService_GetStatsReadThrough(t *testing.T) {
	cache := new(mockCache)
	svc, store := newTestService(t, WithCache(cache, 0, 0))
	seed(t, store, "u", 4, fixedNow.Add(-time.Hour), nil)

	cache.On("GetJSON", mock.Anything, "notification_stats:u", mock.Anything).Return(false, nil).Once()
	cache.On("SetJSON", mock.Anything, "notification_stats:u", mock.AnythingOfType("*notification.Stats"), 5*time.Minute).
		Return(nil).Once()

	stats, err := svc.GetStats(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 4, stats.Unread)

	cache.On("GetJSON", mock.Anything, "notification_stats:u", mock.Anything).
		Run(func(args mock.Arguments) {
			dst := args.Get(2).(*Stats)
			*dst = Stats{Total: 99}
		}).
		Return(true, nil).Once()

	stats, err = svc.GetStats(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, 99, stats.Total, "served from cache")

	cache.AssertExpectations(t)
}

func TestService_CacheFailureFallsBackToStore(t *testing.T) {
	cache := new(mockCache)
	svc, store := newTestService(t, WithCache(cache, 0, 0))
	seed(t, store, "u", 2, fixedNow.Add(-time.Hour), nil)

	cache.On("GetJSON", mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("connection refused"))
	cache.On("SetJSON", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	stats, err := svc.GetStats(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
}

func TestService_DeleteSoftAndPermanent(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	ids := seed(t, store, "u", 2, fixedNow.Add(-time.Hour), nil)

	require.NoError(t, svc.Delete(ctx, ids[0], "u", false))
	_, err := svc.GetNotification(ctx, ids[0], "u")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.Delete(ctx, ids[1], "u", true))
	_, err = store.Get(ctx, ids[1])
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, svc.Delete(ctx, ids[1], "u", true), ErrNotFound)
}

func TestService_Templates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	in := TemplateInput{
		Name:            "task_assigned",
		Type:            TypeTaskAssigned,
		TitleTemplate:   "New task: {task_title}",
		MessageTemplate: "{assigner_name} assigned you {task_title}",
		DefaultChannels: []string{"in_app", "email"},
	}
	tpl, err := svc.CreateTemplate(ctx, in)
	require.NoError(t, err)
	assert.True(t, tpl.IsActive)
	assert.Equal(t, PriorityMedium, tpl.DefaultPriority)
	assert.Equal(t, []Channel{ChannelInApp, ChannelEmail}, tpl.DefaultChannels)

	_, err = svc.CreateTemplate(ctx, in)
	assert.ErrorIs(t, err, ErrValidation, "duplicate names are rejected")

	bad := in
	bad.Name = "broken"
	bad.TitleTemplate = "Hello {name"
	_, err = svc.CreateTemplate(ctx, bad)
	assert.ErrorIs(t, err, ErrValidation)

	bad = in
	bad.Name = "no_body"
	bad.MessageTemplate = ""
	_, err = svc.CreateTemplate(ctx, bad)
	assert.ErrorIs(t, err, ErrValidation)

	require.NoError(t, svc.DeactivateTemplate(ctx, "task_assigned"))
	_, err = svc.ActiveTemplate(ctx, "task_assigned")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := svc.GetTemplate(ctx, "task_assigned")
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	active, err := svc.ListTemplates(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestService_Settings(t *testing.T) {
	cache := new(mockCache)
	svc, _ := newTestService(t, WithCache(cache, 0, 0))
	ctx := context.Background()
	key := "notification_settings:u:task_assigned"

	cache.On("GetJSON", mock.Anything, key, mock.Anything).Return(false, nil)
	cache.On("SetJSON", mock.Anything, key, mock.Anything, time.Hour).Return(nil)

	def, err := svc.EffectiveSetting(ctx, "u", TypeTaskAssigned)
	require.NoError(t, err)
	assert.True(t, def.EmailEnabled)
	assert.True(t, def.PushEnabled)
	assert.True(t, def.InAppEnabled)

	cache.On("Delete", mock.Anything, []string{key}).Return(nil).Once()
	st, err := svc.UpdateSetting(ctx, SettingInput{
		UserID:          "u",
		Type:            TypeTaskAssigned,
		InAppEnabled:    true,
		QuietHoursStart: "22:00",
		QuietHoursEnd:   "07:00",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, st.ID)
	assert.False(t, st.EmailEnabled)

	eff, err := svc.EffectiveSetting(ctx, "u", TypeTaskAssigned)
	require.NoError(t, err)
	assert.False(t, eff.EmailEnabled)
	assert.Equal(t, "22:00", eff.QuietHoursStart)

	_, err = svc.UpdateSetting(ctx, SettingInput{UserID: "u", Type: TypeTaskAssigned, QuietHoursStart: "25:00", QuietHoursEnd: "07:00"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.UpdateSetting(ctx, SettingInput{UserID: "u", Type: TypeTaskAssigned, QuietHoursStart: "22:00"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.UpdateSetting(ctx, SettingInput{UserID: "u", Type: "bogus"})
	assert.ErrorIs(t, err, ErrValidation)

	cache.AssertExpectations(t)
}
