package notification

import (
	"context"
	"time"
)

// NotificationStore persists notifications. All record writes are last-write-wins;
// dispatch exclusivity is enforced through the lease methods.
type NotificationStore interface {
	// Create stores a new notification.
	Create(ctx context.Context, n *Notification) error

	// Get returns a notification by id, including soft-deleted ones.
	Get(ctx context.Context, id string) (*Notification, error)

	// List returns one page of a user's non-deleted notifications and the total match count.
	List(ctx context.Context, userID string, f ListFilter) ([]Notification, int, error)

	// Stats aggregates a user's non-deleted notifications.
	Stats(ctx context.Context, userID string) (*Stats, error)

	// MarkRead marks one notification read. Returns false when it was already read.
	MarkRead(ctx context.Context, id, userID string, at time.Time) (bool, error)

	// MarkAllRead marks every unread, non-deleted notification of the user read in one write.
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error)

	// Archive sets the archive flag.
	Archive(ctx context.Context, id, userID string, at time.Time) error

	// SoftDelete hides a notification from normal queries.
	SoftDelete(ctx context.Context, id, userID string, at time.Time) error

	// Purge permanently removes a notification.
	Purge(ctx context.Context, id, userID string) error

	// AcquireDispatch takes the dispatch lease of an eligible notification. It returns
	// false when the record is not eligible or another owner holds a live lease.
	AcquireDispatch(ctx context.Context, id, owner string, until, now time.Time) (bool, error)

	// FinishDispatch merges the attempt outcome into the stored record and releases the
	// lease in a single write. Fails when owner no longer holds the lease.
	FinishDispatch(ctx context.Context, outcome *Notification, owner string) (*Notification, error)

	// ReleaseDispatch drops the lease without changing the record.
	ReleaseDispatch(ctx context.Context, id, owner string) error

	// CancelPending moves a cancellable notification to CANCELLED if no dispatch holds a
	// live lease. Returns false when nothing was changed.
	CancelPending(ctx context.Context, id, userID string, now time.Time) (bool, error)

	// Due returns ids of notifications ready for a dispatch attempt: PENDING ones whose
	// schedule is reached and FAILED ones with retries left whose last attempt is older
	// than backoff.
	Due(ctx context.Context, now time.Time, backoff time.Duration, limit int) ([]string, error)
}

// TemplateStore persists templates
type TemplateStore interface {
	CreateTemplate(ctx context.Context, t *Template) error
	GetTemplate(ctx context.Context, name string) (*Template, error)
	ListTemplates(ctx context.Context, activeOnly bool) ([]Template, error)
	DeactivateTemplate(ctx context.Context, name string, at time.Time) error
}

// SettingStore persists per-user, per-type preferences
type SettingStore interface {
	GetSetting(ctx context.Context, userID string, t Type) (*Setting, error)
	ListSettings(ctx context.Context, userID string) ([]Setting, error)
	UpsertSetting(ctx context.Context, s *Setting) error
}

// UserDirectory resolves the addresses channels need to reach a user
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*User, error)
}

// Store is everything the engine and the query service persist
type Store interface {
	NotificationStore
	TemplateStore
	SettingStore
	UserDirectory
}
