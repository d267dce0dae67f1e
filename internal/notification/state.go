package notification

import (
	"time"
)

// ChannelResult is the outcome of one channel within a dispatch attempt
type ChannelResult struct {
	Channel Channel
	Report  *DeliveryReport
	Err     error
}

// Succeeded reports whether the channel confirmed the send
func (r ChannelResult) Succeeded() bool {
	return r.Err == nil
}

// Eligible reports whether a dispatch attempt may start from the current state:
// PENDING, or FAILED with retries left. Deleted records are never dispatched.
func (n *Notification) Eligible() bool {
	if n.IsDeleted {
		return false
	}
	return n.Status == StatusPending || n.CanRetry()
}

// Due reports whether the scheduled time has been reached at now
func (n *Notification) Due(now time.Time) bool {
	return n.ScheduledAt == nil || !n.ScheduledAt.After(now)
}

// CanRetry reports whether a failed notification may be attempted again
func (n *Notification) CanRetry() bool {
	return n.Status == StatusFailed && n.RetryCount < n.MaxRetries
}

// CanCancel reports whether the notification is in a non-terminal, unsent state
func (n *Notification) CanCancel() bool {
	return !n.IsDeleted && (n.Status == StatusPending || n.CanRetry())
}

// IsTerminal reports whether no further automatic transition will happen
func (n *Notification) IsTerminal() bool {
	switch n.Status {
	case StatusCancelled:
		return true
	case StatusFailed:
		return n.RetryCount >= n.MaxRetries
	}
	return false
}

// ApplyOutcome folds the per-channel results of one attempt into the record.
// At least one success moves the record to SENT; otherwise it becomes FAILED and
// consumes one retry.
func (n *Notification) ApplyOutcome(results []ChannelResult, now time.Time) {
	var (
		succeeded bool
		lastErr   string
	)
	for _, r := range results {
		if r.Succeeded() {
			succeeded = true
			n.setChannelSent(r.Channel)
			continue
		}
		lastErr = string(r.Channel) + ": " + r.Err.Error()
	}

	if lastErr != "" {
		n.LastError = lastErr
	}
	n.UpdatedAt = now

	if succeeded {
		sentAt := now
		if sentAt.Before(n.CreatedAt) {
			sentAt = n.CreatedAt
		}
		n.Status = StatusSent
		n.SentAt = &sentAt
		return
	}

	n.Status = StatusFailed
	if n.RetryCount < n.MaxRetries {
		n.RetryCount++
	}
}

// Suppress ends a notification whose every channel was disabled by the user's settings
func (n *Notification) Suppress(reason string, now time.Time) {
	n.Status = StatusCancelled
	n.LastError = reason
	n.UpdatedAt = now
}

// MarkRead sets the read flag once. It returns false when the record was already read.
// Only a SENT or DELIVERED record moves to READ; pending, failed and cancelled
// records keep their status so they stay schedulable or visible as failures.
func (n *Notification) MarkRead(now time.Time) bool {
	if n.IsRead {
		return false
	}
	readAt := now
	if n.SentAt != nil && readAt.Before(*n.SentAt) {
		readAt = *n.SentAt
	}
	if readAt.Before(n.CreatedAt) {
		readAt = n.CreatedAt
	}
	n.IsRead = true
	n.ReadAt = &readAt
	if n.Status.Delivered() {
		n.Status = StatusRead
	}
	n.UpdatedAt = now
	return true
}

// MergeDispatch copies the dispatch-owned fields of outcome onto n, which holds the
// latest stored state. Read, archive and delete flags written concurrently are kept.
func (n *Notification) MergeDispatch(outcome *Notification) {
	n.Title = outcome.Title
	n.Message = outcome.Message
	n.EmailSubject = outcome.EmailSubject
	n.EmailBody = outcome.EmailBody
	n.EmailSent = n.EmailSent || outcome.EmailSent
	n.PushSent = n.PushSent || outcome.PushSent
	n.InAppSent = n.InAppSent || outcome.InAppSent
	n.RetryCount = outcome.RetryCount
	n.LastError = outcome.LastError
	n.Status = outcome.Status
	if outcome.SentAt != nil {
		sentAt := *outcome.SentAt
		n.SentAt = &sentAt
	}
	n.UpdatedAt = outcome.UpdatedAt

	if n.IsRead && n.Status.Delivered() {
		n.Status = StatusRead
		if n.SentAt != nil && n.ReadAt != nil && n.SentAt.After(*n.ReadAt) {
			readAt := *n.SentAt
			n.ReadAt = &readAt
		}
	}
}
