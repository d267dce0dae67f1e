package notification

import (
	"strings"
	"time"
)

// Type is the domain classification of a notification
type Type string

const (
	TypeTaskCreated       Type = "task_created"
	TypeTaskUpdated       Type = "task_updated"
	TypeTaskCompleted     Type = "task_completed"
	TypeTaskOverdue       Type = "task_overdue"
	TypeTaskDueSoon       Type = "task_due_soon"
	TypeTaskAssigned      Type = "task_assigned"
	TypeTaskCommented     Type = "task_commented"
	TypeSystemMaintenance Type = "system_maintenance"
	TypeSystemUpdate      Type = "system_update"
	TypeSecurityAlert     Type = "security_alert"
	TypeWelcome           Type = "welcome"
	TypeReminder          Type = "reminder"
)

var knownTypes = map[Type]Category{
	TypeTaskCreated:       CategoryTask,
	TypeTaskUpdated:       CategoryTask,
	TypeTaskCompleted:     CategoryTask,
	TypeTaskOverdue:       CategoryTask,
	TypeTaskDueSoon:       CategoryTask,
	TypeTaskAssigned:      CategoryTask,
	TypeTaskCommented:     CategoryTask,
	TypeSystemMaintenance: CategorySystem,
	TypeSystemUpdate:      CategorySystem,
	TypeSecurityAlert:     CategorySecurity,
	TypeWelcome:           CategoryOther,
	TypeReminder:          CategoryOther,
}

// Valid reports whether t is one of the known notification types
func (t Type) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// Category returns the broad category used by stats
func (t Type) Category() Category {
	if c, ok := knownTypes[t]; ok {
		return c
	}
	return CategoryOther
}

// Category groups notification types for aggregate reporting
type Category string

const (
	CategoryTask     Category = "task"
	CategorySystem   Category = "system"
	CategorySecurity Category = "security"
	CategoryOther    Category = "other"
)

// Priority of a notification. Ordering only matters for sorting.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var priorityRanks = map[Priority]int{
	PriorityLow:    1,
	PriorityMedium: 2,
	PriorityHigh:   3,
	PriorityUrgent: 4,
}

// Valid reports whether p is a known priority
func (p Priority) Valid() bool {
	_, ok := priorityRanks[p]
	return ok
}

// Rank returns the sort rank of p, 0 for unknown priorities
func (p Priority) Rank() int {
	return priorityRanks[p]
}

// Priorities lists every priority in ascending order
func Priorities() []Priority {
	return []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}
}

// NotificationStatus represents the lifecycle status of a notification
type NotificationStatus string

const (
	StatusPending   NotificationStatus = "pending"
	StatusSent      NotificationStatus = "sent"
	StatusDelivered NotificationStatus = "delivered"
	StatusRead      NotificationStatus = "read"
	StatusFailed    NotificationStatus = "failed"
	StatusCancelled NotificationStatus = "cancelled"
)

// Statuses lists every status
func Statuses() []NotificationStatus {
	return []NotificationStatus{StatusPending, StatusSent, StatusDelivered, StatusRead, StatusFailed, StatusCancelled}
}

// Valid reports whether s is a known status
func (s NotificationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusRead, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Delivered reports whether s is a state READ may follow
func (s NotificationStatus) Delivered() bool {
	return s == StatusSent || s == StatusDelivered
}

// Channel is a delivery medium
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

// AllChannels lists every supported channel
func AllChannels() []Channel {
	return []Channel{ChannelEmail, ChannelPush, ChannelInApp}
}

// ParseChannel normalizes a channel name. "websocket" is accepted for in_app.
func ParseChannel(s string) (Channel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "email":
		return ChannelEmail, true
	case "push":
		return ChannelPush, true
	case "in_app", "in-app", "inapp", "websocket":
		return ChannelInApp, true
	}
	return "", false
}

// Notification represents a single delivery unit owned by one user
type Notification struct {
	ID              string             `json:"id" db:"id"`
	UserID          string             `json:"user_id" db:"user_id"`
	Type            Type               `json:"type" db:"notification_type"`
	Priority        Priority           `json:"priority" db:"priority"`
	Title           string             `json:"title" db:"title"`
	Message         string             `json:"message" db:"message"`
	EmailSubject    string             `json:"email_subject,omitempty" db:"email_subject"`
	EmailBody       string             `json:"email_body,omitempty" db:"email_body"`
	Channels        []Channel          `json:"channels,omitempty" db:"channels"`
	TemplateName    string             `json:"template_name,omitempty" db:"template_name"`
	TemplateContext map[string]string  `json:"template_context,omitempty" db:"template_context"`
	Status          NotificationStatus `json:"status" db:"status"`
	EmailSent       bool               `json:"email_sent" db:"email_sent"`
	PushSent        bool               `json:"push_sent" db:"push_sent"`
	InAppSent       bool               `json:"in_app_sent" db:"in_app_sent"`
	ResourceType    string             `json:"resource_type,omitempty" db:"resource_type"`
	ResourceID      string             `json:"resource_id,omitempty" db:"resource_id"`
	ActionURL       string             `json:"action_url,omitempty" db:"action_url"`
	ActionText      string             `json:"action_text,omitempty" db:"action_text"`
	Metadata        map[string]string  `json:"metadata,omitempty" db:"metadata"`
	ScheduledAt     *time.Time         `json:"scheduled_at,omitempty" db:"scheduled_at"`
	SentAt          *time.Time         `json:"sent_at,omitempty" db:"sent_at"`
	ReadAt          *time.Time         `json:"read_at,omitempty" db:"read_at"`
	ExpiresAt       *time.Time         `json:"expires_at,omitempty" db:"expires_at"`
	IsRead          bool               `json:"is_read" db:"is_read"`
	IsArchived      bool               `json:"is_archived" db:"is_archived"`
	IsDeleted       bool               `json:"-" db:"is_deleted"`
	RetryCount      int                `json:"retry_count" db:"retry_count"`
	MaxRetries      int                `json:"max_retries" db:"max_retries"`
	LastError       string             `json:"last_error,omitempty" db:"last_error"`
	CreatedAt       time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at" db:"updated_at"`
}

// DefaultMaxRetries is used when a request does not set its own bound
const DefaultMaxRetries = 3

// ChannelList returns the requested channels, or the in-app default when none were requested
func (n *Notification) ChannelList() []Channel {
	if len(n.Channels) == 0 {
		return []Channel{ChannelInApp}
	}
	return n.Channels
}

// ChannelSent reports the sent flag of ch
func (n *Notification) ChannelSent(ch Channel) bool {
	switch ch {
	case ChannelEmail:
		return n.EmailSent
	case ChannelPush:
		return n.PushSent
	case ChannelInApp:
		return n.InAppSent
	}
	return false
}

// setChannelSent flips the sent flag of ch. Flags never go back to false.
func (n *Notification) setChannelSent(ch Channel) {
	switch ch {
	case ChannelEmail:
		n.EmailSent = true
	case ChannelPush:
		n.PushSent = true
	case ChannelInApp:
		n.InAppSent = true
	}
}

// IsExpired reports whether the notification is past its expiry at now
func (n *Notification) IsExpired(now time.Time) bool {
	return n.ExpiresAt != nil && now.After(*n.ExpiresAt)
}

// User is the recipient directory entry used by channels to address a user
type User struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	PushToken string    `json:"push_token,omitempty" db:"push_token"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Template is a named, reusable content pattern
type Template struct {
	ID                   string    `json:"id" db:"id"`
	Name                 string    `json:"name" db:"name"`
	Type                 Type      `json:"type" db:"notification_type"`
	TitleTemplate        string    `json:"title_template" db:"title_template"`
	MessageTemplate      string    `json:"message_template" db:"message_template"`
	EmailSubjectTemplate string    `json:"email_subject_template,omitempty" db:"email_subject_template"`
	EmailBodyTemplate    string    `json:"email_body_template,omitempty" db:"email_body_template"`
	DefaultChannels      []Channel `json:"default_channels,omitempty" db:"default_channels"`
	DefaultPriority      Priority  `json:"default_priority" db:"default_priority"`
	IsActive             bool      `json:"is_active" db:"is_active"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
}

// Setting is a per-user, per-type channel preference
type Setting struct {
	ID              string    `json:"id" db:"id"`
	UserID          string    `json:"user_id" db:"user_id"`
	Type            Type      `json:"type" db:"notification_type"`
	EmailEnabled    bool      `json:"email_enabled" db:"email_enabled"`
	PushEnabled     bool      `json:"push_enabled" db:"push_enabled"`
	InAppEnabled    bool      `json:"in_app_enabled" db:"in_app_enabled"`
	QuietHoursStart string    `json:"quiet_hours_start,omitempty" db:"quiet_hours_start"`
	QuietHoursEnd   string    `json:"quiet_hours_end,omitempty" db:"quiet_hours_end"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultSetting returns the setting that applies when a user stored none: everything enabled
func DefaultSetting(userID string, t Type) *Setting {
	return &Setting{
		UserID:       userID,
		Type:         t,
		EmailEnabled: true,
		PushEnabled:  true,
		InAppEnabled: true,
	}
}

// Enabled reports whether ch is enabled by the setting
func (s *Setting) Enabled(ch Channel) bool {
	switch ch {
	case ChannelEmail:
		return s.EmailEnabled
	case ChannelPush:
		return s.PushEnabled
	case ChannelInApp:
		return s.InAppEnabled
	}
	return false
}

// InQuietHours reports whether the local clock time of t falls inside the quiet window.
// Windows may wrap midnight. Quiet hours are advisory only.
func (s *Setting) InQuietHours(t time.Time) bool {
	if s.QuietHoursStart == "" || s.QuietHoursEnd == "" {
		return false
	}
	start, err1 := parseClock(s.QuietHoursStart)
	end, err2 := parseClock(s.QuietHoursEnd)
	if err1 != nil || err2 != nil || start == end {
		return false
	}
	now := t.Hour()*60 + t.Minute()
	if start < end {
		return now >= start && now < end
	}
	return now >= start || now < end
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// DeliveryReport represents the outcome of one channel send
type DeliveryReport struct {
	NotificationID string             `json:"notification_id"`
	Channel        Channel            `json:"channel"`
	ExternalID     string             `json:"external_id,omitempty"`
	Status         NotificationStatus `json:"status"`
	ErrorMessage   string             `json:"error_message,omitempty"`
}

// Stats aggregates one user's non-deleted notifications
type Stats struct {
	Total    int `json:"total_notifications"`
	Unread   int `json:"unread_notifications"`
	Read     int `json:"read_notifications"`
	Archived int `json:"archived_notifications"`

	ByStatus   map[NotificationStatus]int `json:"by_status"`
	ByCategory map[Category]int           `json:"by_category"`
	ByPriority map[Priority]int           `json:"by_priority"`
}

// NewStats returns a Stats with every partition initialized to zero
func NewStats() *Stats {
	s := &Stats{
		ByStatus:   make(map[NotificationStatus]int),
		ByCategory: make(map[Category]int),
		ByPriority: make(map[Priority]int),
	}
	for _, st := range Statuses() {
		s.ByStatus[st] = 0
	}
	for _, c := range []Category{CategoryTask, CategorySystem, CategorySecurity, CategoryOther} {
		s.ByCategory[c] = 0
	}
	for _, p := range Priorities() {
		s.ByPriority[p] = 0
	}
	return s
}

// Add counts n into the stats
func (s *Stats) Add(n *Notification) {
	s.Total++
	if n.IsRead {
		s.Read++
	} else {
		s.Unread++
	}
	if n.IsArchived {
		s.Archived++
	}
	s.ByStatus[n.Status]++
	s.ByCategory[n.Type.Category()]++
	s.ByPriority[n.Priority]++
}
