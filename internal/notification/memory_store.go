package notification

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type lease struct {
	owner string
	until time.Time
}

// MemoryStore is an in-memory Store. Suitable for development and tests; every
// instance owns its own state.
type MemoryStore struct {
	mu            sync.RWMutex
	notifications map[string]*Notification
	leases        map[string]lease
	templates     map[string]*Template
	settings      map[string]*Setting
	users         map[string]*User
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		notifications: make(map[string]*Notification),
		leases:        make(map[string]lease),
		templates:     make(map[string]*Template),
		settings:      make(map[string]*Setting),
		users:         make(map[string]*User),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(ctx context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == "" {
		return errors.New("notification ID is required")
	}
	if n.UserID == "" {
		return errors.New("user ID is required")
	}
	if _, exists := s.notifications[n.ID]; exists {
		return errors.New("duplicate notification ID " + n.ID)
	}
	s.notifications[n.ID] = n.clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.notifications[id]
	if !ok {
		return nil, NotFoundError("get notification", "notification")
	}
	return n.clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, userID string, f ListFilter) ([]Notification, int, error) {
	s.mu.RLock()
	matched := make([]*Notification, 0)
	for _, n := range s.notifications {
		if n.UserID == userID && !n.IsDeleted && f.matches(n) {
			matched = append(matched, n.clone())
		}
	}
	s.mu.RUnlock()

	sortNotifications(matched, f.SortBy, f.SortOrder == "asc")

	total := len(matched)
	start := f.Offset()
	if start > total {
		start = total
	}
	end := start + f.PageSize
	if end > total || f.PageSize <= 0 {
		end = total
	}

	page := make([]Notification, 0, end-start)
	for _, n := range matched[start:end] {
		page = append(page, *n)
	}
	return page, total, nil
}

func (s *MemoryStore) Stats(ctx context.Context, userID string) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := NewStats()
	for _, n := range s.notifications {
		if n.UserID == userID && !n.IsDeleted {
			stats.Add(n)
		}
	}
	return stats, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.owned(id, userID, "mark read")
	if err != nil {
		return false, err
	}
	return n.MarkRead(at), nil
}

func (s *MemoryStore) MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, n := range s.notifications {
		if n.UserID == userID && !n.IsDeleted && n.MarkRead(at) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) Archive(ctx context.Context, id, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.owned(id, userID, "archive notification")
	if err != nil {
		return err
	}
	n.IsArchived = true
	n.UpdatedAt = at
	return nil
}

func (s *MemoryStore) SoftDelete(ctx context.Context, id, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.owned(id, userID, "delete notification")
	if err != nil {
		return err
	}
	n.IsDeleted = true
	n.UpdatedAt = at
	return nil
}

func (s *MemoryStore) Purge(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return NotFoundError("purge notification", "notification")
	}
	delete(s.notifications, id)
	delete(s.leases, id)
	return nil
}

func (s *MemoryStore) AcquireDispatch(ctx context.Context, id, owner string, until, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return false, NotFoundError("acquire dispatch", "notification")
	}
	if !n.Eligible() {
		return false, nil
	}
	if l, held := s.leases[id]; held && l.until.After(now) {
		return false, nil
	}
	s.leases[id] = lease{owner: owner, until: until}
	return true, nil
}

func (s *MemoryStore) FinishDispatch(ctx context.Context, outcome *Notification, owner string) (*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, held := s.leases[outcome.ID]
	if !held || l.owner != owner {
		return nil, &Error{Kind: ErrDispatchInProgress, Op: "finish dispatch", Msg: "dispatch lease lost"}
	}
	delete(s.leases, outcome.ID)

	n, ok := s.notifications[outcome.ID]
	if !ok {
		return nil, NotFoundError("finish dispatch", "notification")
	}
	n.MergeDispatch(outcome)
	return n.clone(), nil
}

func (s *MemoryStore) ReleaseDispatch(ctx context.Context, id, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, held := s.leases[id]; held && l.owner == owner {
		delete(s.leases, id)
	}
	return nil
}

func (s *MemoryStore) CancelPending(ctx context.Context, id, userID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.owned(id, userID, "cancel notification")
	if err != nil {
		return false, err
	}
	if l, held := s.leases[id]; held && l.until.After(now) {
		return false, nil
	}
	if !n.CanCancel() {
		return false, nil
	}
	n.Status = StatusCancelled
	n.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) Due(ctx context.Context, now time.Time, backoff time.Duration, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	due := make([]*Notification, 0)
	for id, n := range s.notifications {
		if !n.Eligible() || !n.Due(now) || n.IsExpired(now) {
			continue
		}
		if l, held := s.leases[id]; held && l.until.After(now) {
			continue
		}
		if n.Status == StatusFailed && n.UpdatedAt.After(now.Add(-backoff)) {
			continue
		}
		due = append(due, n)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })

	ids := make([]string, 0, len(due))
	for _, n := range due {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, n.ID)
	}
	return ids, nil
}

func (s *MemoryStore) CreateTemplate(ctx context.Context, t *Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.templates[t.Name]; exists {
		return ValidationError("create template", "template %q already exists", t.Name)
	}
	cp := *t
	cp.DefaultChannels = append([]Channel(nil), t.DefaultChannels...)
	s.templates[t.Name] = &cp
	return nil
}

func (s *MemoryStore) GetTemplate(ctx context.Context, name string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[name]
	if !ok {
		return nil, NotFoundError("get template", "template")
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTemplates(ctx context.Context, activeOnly bool) ([]Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Template, 0, len(s.templates))
	for _, t := range s.templates {
		if activeOnly && !t.IsActive {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) DeactivateTemplate(ctx context.Context, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.templates[name]
	if !ok {
		return NotFoundError("deactivate template", "template")
	}
	t.IsActive = false
	t.UpdatedAt = at
	return nil
}

func (s *MemoryStore) GetSetting(ctx context.Context, userID string, t Type) (*Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.settings[settingKey(userID, t)]
	if !ok {
		return nil, NotFoundError("get setting", "setting")
	}
	cp := *st
	return &cp, nil
}

func (s *MemoryStore) ListSettings(ctx context.Context, userID string) ([]Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Setting, 0)
	for _, st := range s.settings {
		if st.UserID == userID {
			out = append(out, *st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

func (s *MemoryStore) UpsertSetting(ctx context.Context, st *Setting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := settingKey(st.UserID, st.Type)
	cp := *st
	if existing, ok := s.settings[key]; ok {
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
	} else if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	s.settings[key] = &cp
	*st = cp
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, NotFoundError("get user", "user")
	}
	cp := *u
	return &cp, nil
}

// PutUser registers a recipient in the directory
func (s *MemoryStore) PutUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
}

// owned returns the live record if it exists, belongs to userID and is not deleted.
// Callers hold the write lock.
func (s *MemoryStore) owned(id, userID, op string) (*Notification, error) {
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID || n.IsDeleted {
		return nil, NotFoundError(op, "notification")
	}
	return n, nil
}

func settingKey(userID string, t Type) string {
	return userID + "|" + string(t)
}

func (f *ListFilter) matches(n *Notification) bool {
	if f.Type != "" && n.Type != f.Type {
		return false
	}
	if f.Priority != "" && n.Priority != f.Priority {
		return false
	}
	if f.Status != "" && n.Status != f.Status {
		return false
	}
	if f.IsRead != nil && n.IsRead != *f.IsRead {
		return false
	}
	if f.IsArchived != nil && n.IsArchived != *f.IsArchived {
		return false
	}
	if f.ResourceType != "" && n.ResourceType != f.ResourceType {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(n.Title), q) && !strings.Contains(strings.ToLower(n.Message), q) {
			return false
		}
	}
	return true
}

// sortNotifications orders by field; unset timestamps always sort last
func sortNotifications(ns []*Notification, field string, asc bool) {
	timeOf := func(n *Notification) *time.Time {
		switch field {
		case SortSentAt:
			return n.SentAt
		case SortReadAt:
			return n.ReadAt
		case SortUpdatedAt:
			return &n.UpdatedAt
		default:
			return &n.CreatedAt
		}
	}

	sort.SliceStable(ns, func(i, j int) bool {
		a, b := ns[i], ns[j]
		if field == SortPriority {
			ra, rb := a.Priority.Rank(), b.Priority.Rank()
			if ra != rb {
				if asc {
					return ra < rb
				}
				return ra > rb
			}
			return a.CreatedAt.After(b.CreatedAt)
		}

		ta, tb := timeOf(a), timeOf(b)
		switch {
		case ta == nil && tb == nil:
			return a.CreatedAt.After(b.CreatedAt)
		case ta == nil:
			return false
		case tb == nil:
			return true
		case ta.Equal(*tb):
			return a.ID < b.ID
		case asc:
			return ta.Before(*tb)
		default:
			return ta.After(*tb)
		}
	})
}

func (n *Notification) clone() *Notification {
	cp := *n
	cp.Channels = append([]Channel(nil), n.Channels...)
	if n.TemplateContext != nil {
		cp.TemplateContext = make(map[string]string, len(n.TemplateContext))
		for k, v := range n.TemplateContext {
			cp.TemplateContext[k] = v
		}
	}
	if n.Metadata != nil {
		cp.Metadata = make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			cp.Metadata[k] = v
		}
	}
	cp.ScheduledAt = cloneTime(n.ScheduledAt)
	cp.SentAt = cloneTime(n.SentAt)
	cp.ReadAt = cloneTime(n.ReadAt)
	cp.ExpiresAt = cloneTime(n.ExpiresAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
