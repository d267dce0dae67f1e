package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexnthnz/notification-engine/internal/notification"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const notificationColumns = `id, user_id, notification_type, priority, title, message, email_subject, email_body,
		channels, template_name, template_context, status, email_sent, push_sent, in_app_sent,
		resource_type, resource_id, action_url, action_text, metadata, scheduled_at, sent_at, read_at, expires_at,
		is_read, is_archived, is_deleted, retry_count, max_retries, last_error, created_at, updated_at`

const eligibleCondition = `NOT is_deleted AND (status = 'pending' OR (status = 'failed' AND retry_count < max_retries))`

// uniqueViolation is the PostgreSQL error code for unique constraint violations
const uniqueViolation = "23505"

// PostgresStore implements notification.Store on PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ notification.Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store on an open database
func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*notification.Notification, error) {
	var (
		n                                      notification.Notification
		channels                               pq.StringArray
		templateContext, metadata              []byte
		scheduledAt, sentAt, readAt, expiresAt sql.NullTime
		notifType, priority, status            string
	)
	err := row.Scan(
		&n.ID, &n.UserID, &notifType, &priority, &n.Title, &n.Message, &n.EmailSubject, &n.EmailBody,
		&channels, &n.TemplateName, &templateContext, &status, &n.EmailSent, &n.PushSent, &n.InAppSent,
		&n.ResourceType, &n.ResourceID, &n.ActionURL, &n.ActionText, &metadata, &scheduledAt, &sentAt, &readAt, &expiresAt,
		&n.IsRead, &n.IsArchived, &n.IsDeleted, &n.RetryCount, &n.MaxRetries, &n.LastError, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.Type = notification.Type(notifType)
	n.Priority = notification.Priority(priority)
	n.Status = notification.NotificationStatus(status)
	if !n.Status.Valid() {
		return nil, fmt.Errorf("notification %s has unknown status %q", n.ID, status)
	}
	for _, c := range channels {
		n.Channels = append(n.Channels, notification.Channel(c))
	}
	if err := unmarshalMap(templateContext, &n.TemplateContext); err != nil {
		return nil, fmt.Errorf("notification %s template_context: %w", n.ID, err)
	}
	if err := unmarshalMap(metadata, &n.Metadata); err != nil {
		return nil, fmt.Errorf("notification %s metadata: %w", n.ID, err)
	}
	n.ScheduledAt = nullTime(scheduledAt)
	n.SentAt = nullTime(sentAt)
	n.ReadAt = nullTime(readAt)
	n.ExpiresAt = nullTime(expiresAt)
	return &n, nil
}

// Create stores a new notification
func (s *PostgresStore) Create(ctx context.Context, n *notification.Notification) error {
	templateContext, err := marshalMap(n.TemplateContext)
	if err != nil {
		return err
	}
	metadata, err := marshalMap(n.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32)`

	_, err = s.db.ExecContext(ctx, query,
		n.ID, n.UserID, string(n.Type), string(n.Priority), n.Title, n.Message, n.EmailSubject, n.EmailBody,
		channelArray(n.Channels), n.TemplateName, templateContext, string(n.Status), n.EmailSent, n.PushSent, n.InAppSent,
		n.ResourceType, n.ResourceID, n.ActionURL, n.ActionText, metadata, n.ScheduledAt, n.SentAt, n.ReadAt, n.ExpiresAt,
		n.IsRead, n.IsArchived, n.IsDeleted, n.RetryCount, n.MaxRetries, n.LastError, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// Get returns a notification by id
func (s *PostgresStore) Get(ctx context.Context, id string) (*notification.Notification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notification.NotFoundError("get notification", "notification")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

// List returns one page of a user's notifications. Rows that cannot be decoded
// are logged and skipped.
func (s *PostgresStore) List(ctx context.Context, userID string, f notification.ListFilter) ([]notification.Notification, int, error) {
	where, args := listConditions(userID, f)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	args = append(args, f.PageSize, f.Offset())
	query := fmt.Sprintf(`SELECT %s FROM notifications WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		notificationColumns, where, orderBy(f.SortBy, f.SortOrder == "asc"), len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]notification.Notification, 0, f.PageSize)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			s.logger.Warn("Skipping unreadable notification row", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read notifications: %w", err)
	}
	return out, total, nil
}

func listConditions(userID string, f notification.ListFilter) (string, []any) {
	conds := []string{"user_id = $1", "NOT is_deleted"}
	args := []any{userID}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Type != "" {
		add("notification_type = $%d", string(f.Type))
	}
	if f.Priority != "" {
		add("priority = $%d", string(f.Priority))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.IsRead != nil {
		add("is_read = $%d", *f.IsRead)
	}
	if f.IsArchived != nil {
		add("is_archived = $%d", *f.IsArchived)
	}
	if f.ResourceType != "" {
		add("resource_type = $%d", f.ResourceType)
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		conds = append(conds, fmt.Sprintf("(title ILIKE $%d OR message ILIKE $%d)", len(args), len(args)))
	}
	return strings.Join(conds, " AND "), args
}

// orderBy maps a validated sort field to SQL. Unset timestamps sort last.
func orderBy(field string, asc bool) string {
	dir := "DESC"
	if asc {
		dir = "ASC"
	}
	switch field {
	case notification.SortPriority:
		return fmt.Sprintf(`CASE priority WHEN 'low' THEN 1 WHEN 'medium' THEN 2 WHEN 'high' THEN 3 WHEN 'urgent' THEN 4 ELSE 0 END %s, created_at DESC`, dir)
	case notification.SortUpdatedAt, notification.SortSentAt, notification.SortReadAt:
		return fmt.Sprintf("%s %s NULLS LAST, id", field, dir)
	default:
		return fmt.Sprintf("created_at %s, id", dir)
	}
}

// Stats aggregates a user's non-deleted notifications
func (s *PostgresStore) Stats(ctx context.Context, userID string) (*notification.Stats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, notification_type, priority, is_read, is_archived, COUNT(*)
		FROM notifications
		WHERE user_id = $1 AND NOT is_deleted
		GROUP BY status, notification_type, priority, is_read, is_archived`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate notifications: %w", err)
	}
	defer rows.Close()

	stats := notification.NewStats()
	for rows.Next() {
		var (
			status, notifType, priority string
			isRead, isArchived          bool
			count                       int
		)
		if err := rows.Scan(&status, &notifType, &priority, &isRead, &isArchived, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats.Total += count
		if isRead {
			stats.Read += count
		} else {
			stats.Unread += count
		}
		if isArchived {
			stats.Archived += count
		}
		stats.ByStatus[notification.NotificationStatus(status)] += count
		stats.ByCategory[notification.Type(notifType).Category()] += count
		stats.ByPriority[notification.Priority(priority)] += count
	}
	return stats, rows.Err()
}

// markReadSet keeps read_at at or after sent_at and created_at
const markReadSet = `
		SET is_read = true,
			read_at = GREATEST($%[1]d::timestamptz, sent_at, created_at),
			status = CASE WHEN status IN ('sent', 'delivered') THEN 'read' ELSE status END,
			updated_at = $%[1]d`

// MarkRead marks one notification read
func (s *PostgresStore) MarkRead(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	query := `UPDATE notifications` + fmt.Sprintf(markReadSet, 3) + `
		WHERE id = $1 AND user_id = $2 AND NOT is_deleted AND NOT is_read`

	affected, err := s.exec(ctx, query, id, userID, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification read: %w", err)
	}
	if affected > 0 {
		return true, nil
	}
	if err := s.mustOwn(ctx, id, userID, "mark read"); err != nil {
		return false, err
	}
	return false, nil
}

// MarkAllRead marks every unread notification of the user read in one statement
func (s *PostgresStore) MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error) {
	query := `UPDATE notifications` + fmt.Sprintf(markReadSet, 2) + `
		WHERE user_id = $1 AND NOT is_deleted AND NOT is_read`

	affected, err := s.exec(ctx, query, userID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return int(affected), nil
}

// Archive sets the archive flag
func (s *PostgresStore) Archive(ctx context.Context, id, userID string, at time.Time) error {
	return s.updateOwned(ctx, "archive notification",
		`UPDATE notifications SET is_archived = true, updated_at = $3 WHERE id = $1 AND user_id = $2 AND NOT is_deleted`,
		id, userID, at)
}

// SoftDelete hides a notification
func (s *PostgresStore) SoftDelete(ctx context.Context, id, userID string, at time.Time) error {
	return s.updateOwned(ctx, "delete notification",
		`UPDATE notifications SET is_deleted = true, updated_at = $3 WHERE id = $1 AND user_id = $2 AND NOT is_deleted`,
		id, userID, at)
}

// Purge permanently removes a notification
func (s *PostgresStore) Purge(ctx context.Context, id, userID string) error {
	return s.updateOwned(ctx, "purge notification",
		`DELETE FROM notifications WHERE id = $1 AND user_id = $2`,
		id, userID)
}

// AcquireDispatch takes the dispatch lease
func (s *PostgresStore) AcquireDispatch(ctx context.Context, id, owner string, until, now time.Time) (bool, error) {
	affected, err := s.exec(ctx, `
		UPDATE notifications SET lease_owner = $2, lease_until = $3
		WHERE id = $1 AND `+eligibleCondition+` AND (lease_until IS NULL OR lease_until <= $4)`,
		id, owner, until, now)
	if err != nil {
		return false, fmt.Errorf("failed to acquire dispatch lease: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM notifications WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check notification: %w", err)
	}
	if !exists {
		return false, notification.NotFoundError("acquire dispatch", "notification")
	}
	return false, nil
}

// FinishDispatch merges the outcome into the locked row and clears the lease in one transaction
func (s *PostgresStore) FinishDispatch(ctx context.Context, outcome *notification.Notification, owner string) (*notification.Notification, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var leaseOwner sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT lease_owner FROM notifications WHERE id = $1 FOR UPDATE`, outcome.ID).Scan(&leaseOwner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notification.NotFoundError("finish dispatch", "notification")
		}
		return nil, fmt.Errorf("failed to lock notification: %w", err)
	}
	if !leaseOwner.Valid || leaseOwner.String != owner {
		return nil, &notification.Error{Kind: notification.ErrDispatchInProgress, Op: "finish dispatch", Msg: "dispatch lease lost"}
	}

	current, err := scanNotification(tx.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, outcome.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to read notification: %w", err)
	}
	current.MergeDispatch(outcome)

	_, err = tx.ExecContext(ctx, `
		UPDATE notifications SET
			title = $2, message = $3, email_subject = $4, email_body = $5,
			email_sent = $6, push_sent = $7, in_app_sent = $8,
			status = $9, retry_count = $10, last_error = $11, sent_at = $12, updated_at = $13,
			read_at = $14, lease_owner = NULL, lease_until = NULL
		WHERE id = $1`,
		current.ID, current.Title, current.Message, current.EmailSubject, current.EmailBody,
		current.EmailSent, current.PushSent, current.InAppSent,
		string(current.Status), current.RetryCount, current.LastError, current.SentAt, current.UpdatedAt,
		current.ReadAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store dispatch outcome: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit dispatch outcome: %w", err)
	}
	return current, nil
}

// ReleaseDispatch drops the lease if owner still holds it
func (s *PostgresStore) ReleaseDispatch(ctx context.Context, id, owner string) error {
	if _, err := s.exec(ctx, `UPDATE notifications SET lease_owner = NULL, lease_until = NULL WHERE id = $1 AND lease_owner = $2`, id, owner); err != nil {
		return fmt.Errorf("failed to release dispatch lease: %w", err)
	}
	return nil
}

// CancelPending cancels a notification no attempt is holding
func (s *PostgresStore) CancelPending(ctx context.Context, id, userID string, now time.Time) (bool, error) {
	affected, err := s.exec(ctx, `
		UPDATE notifications SET status = 'cancelled', updated_at = $3
		WHERE id = $1 AND user_id = $2 AND `+eligibleCondition+` AND (lease_until IS NULL OR lease_until <= $3)`,
		id, userID, now)
	if err != nil {
		return false, fmt.Errorf("failed to cancel notification: %w", err)
	}
	if affected > 0 {
		return true, nil
	}
	if err := s.mustOwn(ctx, id, userID, "cancel notification"); err != nil {
		return false, err
	}
	return false, nil
}

// Due returns ids ready for a dispatch attempt, oldest first
func (s *PostgresStore) Due(ctx context.Context, now time.Time, backoff time.Duration, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM notifications
		WHERE `+eligibleCondition+`
			AND (scheduled_at IS NULL OR scheduled_at <= $1)
			AND (expires_at IS NULL OR expires_at >= $1)
			AND (lease_until IS NULL OR lease_until <= $1)
			AND (status = 'pending' OR updated_at <= $2)
		ORDER BY created_at
		LIMIT $3`,
		now, now.Add(-backoff), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due notifications: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan notification id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const templateColumns = `id, name, notification_type, title_template, message_template, email_subject_template,
		email_body_template, default_channels, default_priority, is_active, created_at, updated_at`

func scanTemplate(row rowScanner) (*notification.Template, error) {
	var (
		t                   notification.Template
		channels            pq.StringArray
		notifType, priority string
	)
	if err := row.Scan(&t.ID, &t.Name, &notifType, &t.TitleTemplate, &t.MessageTemplate, &t.EmailSubjectTemplate,
		&t.EmailBodyTemplate, &channels, &priority, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Type = notification.Type(notifType)
	t.DefaultPriority = notification.Priority(priority)
	for _, c := range channels {
		t.DefaultChannels = append(t.DefaultChannels, notification.Channel(c))
	}
	return &t, nil
}

// CreateTemplate stores a template. Names are unique.
func (s *PostgresStore) CreateTemplate(ctx context.Context, t *notification.Template) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_templates (`+templateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.Name, string(t.Type), t.TitleTemplate, t.MessageTemplate, t.EmailSubjectTemplate,
		t.EmailBodyTemplate, channelArray(t.DefaultChannels), string(t.DefaultPriority), t.IsActive, t.CreatedAt, t.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return notification.ValidationError("create template", "template %q already exists", t.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to insert template: %w", err)
	}
	return nil
}

// GetTemplate returns a template by name
func (s *PostgresStore) GetTemplate(ctx context.Context, name string) (*notification.Template, error) {
	t, err := scanTemplate(s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM notification_templates WHERE name = $1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notification.NotFoundError("get template", "template")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return t, nil
}

// ListTemplates returns templates ordered by name
func (s *PostgresStore) ListTemplates(ctx context.Context, activeOnly bool) ([]notification.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM notification_templates`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	out := make([]notification.Template, 0)
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// DeactivateTemplate flags a template inactive
func (s *PostgresStore) DeactivateTemplate(ctx context.Context, name string, at time.Time) error {
	affected, err := s.exec(ctx, `UPDATE notification_templates SET is_active = false, updated_at = $2 WHERE name = $1`, name, at)
	if err != nil {
		return fmt.Errorf("failed to deactivate template: %w", err)
	}
	if affected == 0 {
		return notification.NotFoundError("deactivate template", "template")
	}
	return nil
}

const settingColumns = `id, user_id, notification_type, email_enabled, push_enabled, in_app_enabled,
		quiet_hours_start, quiet_hours_end, created_at, updated_at`

func scanSetting(row rowScanner) (*notification.Setting, error) {
	var (
		st        notification.Setting
		notifType string
	)
	if err := row.Scan(&st.ID, &st.UserID, &notifType, &st.EmailEnabled, &st.PushEnabled, &st.InAppEnabled,
		&st.QuietHoursStart, &st.QuietHoursEnd, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.Type = notification.Type(notifType)
	return &st, nil
}

// GetSetting returns the stored setting for one user and type
func (s *PostgresStore) GetSetting(ctx context.Context, userID string, t notification.Type) (*notification.Setting, error) {
	st, err := scanSetting(s.db.QueryRowContext(ctx,
		`SELECT `+settingColumns+` FROM notification_settings WHERE user_id = $1 AND notification_type = $2`,
		userID, string(t)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notification.NotFoundError("get setting", "setting")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	return st, nil
}

// ListSettings returns a user's stored settings ordered by type
func (s *PostgresStore) ListSettings(ctx context.Context, userID string) ([]notification.Setting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+settingColumns+` FROM notification_settings WHERE user_id = $1 ORDER BY notification_type`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	out := make([]notification.Setting, 0)
	for rows.Next() {
		st, err := scanSetting(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// UpsertSetting creates or replaces the setting for (user, type)
func (s *PostgresStore) UpsertSetting(ctx context.Context, st *notification.Setting) error {
	if st.ID == "" {
		st.ID = uuid.New().String()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO notification_settings (`+settingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, notification_type) DO UPDATE SET
			email_enabled = EXCLUDED.email_enabled,
			push_enabled = EXCLUDED.push_enabled,
			in_app_enabled = EXCLUDED.in_app_enabled,
			quiet_hours_start = EXCLUDED.quiet_hours_start,
			quiet_hours_end = EXCLUDED.quiet_hours_end,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`,
		st.ID, st.UserID, string(st.Type), st.EmailEnabled, st.PushEnabled, st.InAppEnabled,
		st.QuietHoursStart, st.QuietHoursEnd, st.CreatedAt, st.UpdatedAt,
	).Scan(&st.ID, &st.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert setting: %w", err)
	}
	return nil
}

// GetUser returns a recipient's addresses
func (s *PostgresStore) GetUser(ctx context.Context, id string) (*notification.User, error) {
	var u notification.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, push_token, created_at, updated_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.PushToken, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notification.NotFoundError("get user", "user")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// UpsertUser registers or updates a recipient
func (s *PostgresStore) UpsertUser(ctx context.Context, u notification.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, push_token, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, push_token = EXCLUDED.push_token, updated_at = NOW()`,
		u.ID, u.Email, u.PushToken)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PostgresStore) updateOwned(ctx context.Context, op, query string, args ...any) error {
	affected, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if affected == 0 {
		return notification.NotFoundError(op, "notification")
	}
	return nil
}

// mustOwn returns NotFound unless id is a live notification of userID
func (s *PostgresStore) mustOwn(ctx context.Context, id, userID, op string) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM notifications WHERE id = $1 AND user_id = $2 AND NOT is_deleted)`, id, userID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check notification: %w", err)
	}
	if !exists {
		return notification.NotFoundError(op, "notification")
	}
	return nil
}

func channelArray(chs []notification.Channel) pq.StringArray {
	out := make(pq.StringArray, 0, len(chs))
	for _, c := range chs {
		out = append(out, string(c))
	}
	return out
}

func marshalMap(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode map: %w", err)
	}
	return b, nil
}

func unmarshalMap(b []byte, dst *map[string]string) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
