package database

import (
	"context"
	"database/sql/driver"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/alexnthnz/notification-engine/internal/notification"
)

var testNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func setupMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewPostgresStore(db, zaptest.NewLogger(t)), mock
}

func notificationColumnNames() []string {
	parts := strings.Split(notificationColumns, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func notificationRow(id, userID, status string) []driver.Value {
	return []driver.Value{
		id, userID, "task_assigned", "high", "Task assigned", "You have a new task", "", "",
		"{in_app,email}", "task_assigned", []byte(`{"name":"Ann"}`), status, false, false, true,
		"task", "42", "", "", nil, nil, testNow, nil, nil,
		false, false, false, int64(0), int64(3), "", testNow.Add(-time.Minute), testNow,
	}
}

func TestGetNotification(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM notifications WHERE id = $1`)).
		WithArgs("n-1").
		WillReturnRows(sqlmock.NewRows(notificationColumnNames()).AddRow(notificationRow("n-1", "user-1", "sent")...))

	n, err := store.Get(context.Background(), "n-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", n.UserID)
	assert.Equal(t, notification.StatusSent, n.Status)
	assert.Equal(t, notification.PriorityHigh, n.Priority)
	assert.Equal(t, []notification.Channel{notification.ChannelInApp, notification.ChannelEmail}, n.Channels)
	assert.Equal(t, map[string]string{"name": "Ann"}, n.TemplateContext)
	require.NotNil(t, n.SentAt)
	assert.True(t, n.SentAt.Equal(testNow))
	assert.Nil(t, n.ReadAt)
	assert.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectQuery(regexp.QuoteMeta(`FROM notifications WHERE id = $1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(notificationColumnNames()))

	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, notification.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListNotifications_SkipsCorruptRows(t *testing.T) {
	store, mock := setupMockStore(t)
	unread := false
	filter := notification.ListFilter{IsRead: &unread, Page: 2, PageSize: 2, SortBy: "created_at", SortOrder: "desc"}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_deleted AND is_read = $2`)).
		WithArgs("user-1", false).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(5)))

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY created_at DESC, id LIMIT $3 OFFSET $4`)).
		WithArgs("user-1", false, 2, 2).
		WillReturnRows(sqlmock.NewRows(notificationColumnNames()).
			AddRow(notificationRow("n-3", "user-1", "sent")...).
			AddRow(notificationRow("n-4", "user-1", "bogus")...))

	page, total, err := store.List(context.Background(), "user-1", filter)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 1)
	assert.Equal(t, "n-3", page[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListConditions(t *testing.T) {
	archived := true
	where, args := listConditions("user-1", notification.ListFilter{
		Type:       notification.TypeSecurityAlert,
		IsArchived: &archived,
		Search:     "password",
	})

	assert.Equal(t, "user_id = $1 AND NOT is_deleted AND notification_type = $2 AND is_archived = $3 AND (title ILIKE $4 OR message ILIKE $4)", where)
	assert.Equal(t, []any{"user-1", "security_alert", true, "%password%"}, args)
}

func TestOrderBy(t *testing.T) {
	assert.Equal(t, "sent_at ASC NULLS LAST, id", orderBy(notification.SortSentAt, true))
	assert.Equal(t, "created_at DESC, id", orderBy(notification.SortCreatedAt, false))
	assert.Contains(t, orderBy(notification.SortPriority, false), "END DESC, created_at DESC")
}

func TestStats(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`GROUP BY status, notification_type, priority, is_read, is_archived`)).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "notification_type", "priority", "is_read", "is_archived", "count"}).
			AddRow("sent", "task_assigned", "high", false, false, int64(3)).
			AddRow("read", "security_alert", "urgent", true, true, int64(2)))

	stats, err := store.Stats(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 3, stats.Unread)
	assert.Equal(t, 2, stats.Read)
	assert.Equal(t, 2, stats.Archived)
	assert.Equal(t, 3, stats.ByCategory[notification.CategoryTask])
	assert.Equal(t, 2, stats.ByCategory[notification.CategorySecurity])
	assert.Equal(t, 0, stats.ByStatus[notification.StatusFailed])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRead(t *testing.T) {
	store, mock := setupMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(`status = CASE WHEN status IN ('sent', 'delivered') THEN 'read' ELSE status END`)).
		WithArgs("n-1", "user-1", testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	changed, err := store.MarkRead(ctx, "n-1", "user-1", testNow)
	require.NoError(t, err)
	assert.True(t, changed)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE notifications`)).
		WithArgs("n-1", "user-1", testNow).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM notifications WHERE id = $1 AND user_id = $2 AND NOT is_deleted)`)).
		WithArgs("n-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	changed, err = store.MarkRead(ctx, "n-1", "user-1", testNow)
	require.NoError(t, err)
	assert.False(t, changed, "already read")

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE notifications`)).
		WithArgs("n-1", "intruder", testNow).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(`)).
		WithArgs("n-1", "intruder").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err = store.MarkRead(ctx, "n-1", "intruder", testNow)
	assert.ErrorIs(t, err, notification.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkAllRead_OnlyDeliveredBecomeRead(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec(`(?s)` + regexp.QuoteMeta(`status = CASE WHEN status IN ('sent', 'delivered') THEN 'read' ELSE status END`) + `.*` +
		regexp.QuoteMeta(`WHERE user_id = $1 AND NOT is_deleted AND NOT is_read`)).
		WithArgs("user-1", testNow).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := store.MarkAllRead(context.Background(), "user-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArchive_NotFound(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE notifications SET is_archived = true, updated_at = $3 WHERE id = $1 AND user_id = $2 AND NOT is_deleted`)).
		WithArgs("n-1", "user-1", testNow).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Archive(context.Background(), "n-1", "user-1", testNow)
	assert.ErrorIs(t, err, notification.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireDispatch(t *testing.T) {
	store, mock := setupMockStore(t)
	ctx := context.Background()
	until := testNow.Add(time.Minute)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE notifications SET lease_owner = $2, lease_until = $3`)).
		WithArgs("n-1", "owner-a", until, testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.AcquireDispatch(ctx, "n-1", "owner-a", until, testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE notifications SET lease_owner = $2, lease_until = $3`)).
		WithArgs("n-1", "owner-b", until, testNow).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM notifications WHERE id = $1)`)).
		WithArgs("n-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err = store.AcquireDispatch(ctx, "n-1", "owner-b", until, testNow)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishDispatch(t *testing.T) {
	store, mock := setupMockStore(t)
	sentAt := testNow
	outcome := &notification.Notification{
		ID: "n-1", UserID: "user-1", Title: "Task assigned", Message: "You have a new task",
		Status: notification.StatusSent, InAppSent: true, SentAt: &sentAt, UpdatedAt: testNow,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT lease_owner FROM notifications WHERE id = $1 FOR UPDATE`)).
		WithArgs("n-1").
		WillReturnRows(sqlmock.NewRows([]string{"lease_owner"}).AddRow("owner-a"))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM notifications WHERE id = $1`)).
		WithArgs("n-1").
		WillReturnRows(sqlmock.NewRows(notificationColumnNames()).AddRow(notificationRow("n-1", "user-1", "pending")...))
	mock.ExpectExec(regexp.QuoteMeta(`read_at = $14, lease_owner = NULL, lease_until = NULL`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	stored, err := store.FinishDispatch(context.Background(), outcome, "owner-a")
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSent, stored.Status)
	assert.True(t, stored.InAppSent)
	assert.Equal(t, "task", stored.ResourceType, "fields outside the attempt are kept")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishDispatch_LeaseLost(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT lease_owner FROM notifications WHERE id = $1 FOR UPDATE`)).
		WithArgs("n-1").
		WillReturnRows(sqlmock.NewRows([]string{"lease_owner"}).AddRow("owner-b"))
	mock.ExpectRollback()

	_, err := store.FinishDispatch(context.Background(), &notification.Notification{ID: "n-1"}, "owner-a")
	assert.ErrorIs(t, err, notification.ErrDispatchInProgress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDue(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM notifications`)).
		WithArgs(testNow, testNow.Add(-30*time.Second), 10).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("n-1").AddRow("n-2"))

	ids, err := store.Due(context.Background(), testNow, 30*time.Second, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"n-1", "n-2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTemplate_Duplicate(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO notification_templates`)).
		WillReturnError(&pq.Error{Code: uniqueViolation})

	err := store.CreateTemplate(context.Background(), &notification.Template{ID: "t-1", Name: "welcome"})
	assert.ErrorIs(t, err, notification.ErrValidation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSetting_NotFound(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM notification_settings WHERE user_id = $1 AND notification_type = $2`)).
		WithArgs("user-1", "welcome").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetSetting(context.Background(), "user-1", notification.TypeWelcome)
	assert.ErrorIs(t, err, notification.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
