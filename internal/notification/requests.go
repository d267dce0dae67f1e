package notification

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// CreateRequest is the input of a single notification creation
type CreateRequest struct {
	UserID       string            `json:"user_id" validate:"required"`
	Title        string            `json:"title" validate:"max=200"`
	Message      string            `json:"message"`
	Type         Type              `json:"type" validate:"required"`
	Priority     Priority          `json:"priority,omitempty"`
	Channels     []string          `json:"channels,omitempty" validate:"omitempty,dive,required"`
	ResourceType string            `json:"resource_type,omitempty" validate:"max=50"`
	ResourceID   string            `json:"resource_id,omitempty"`
	ScheduledAt  *time.Time        `json:"scheduled_at,omitempty"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	ActionURL    string            `json:"action_url,omitempty" validate:"omitempty,max=500"`
	ActionText   string            `json:"action_text,omitempty" validate:"max=100"`
	TemplateName string            `json:"template_name,omitempty"`
	Context      map[string]string `json:"context,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	MaxRetries   int               `json:"max_retries,omitempty" validate:"gte=0,lte=20"`
}

// Validate checks the request. Title and message are required unless a template supplies them.
func (r *CreateRequest) Validate() error {
	const op = "create notification"

	if err := validateStruct(op, r); err != nil {
		return err
	}
	if !r.Type.Valid() {
		return ValidationError(op, "unknown notification type %q", r.Type)
	}
	if r.Priority != "" && !r.Priority.Valid() {
		return ValidationError(op, "unknown priority %q", r.Priority)
	}
	if r.TemplateName == "" {
		if strings.TrimSpace(r.Title) == "" {
			return ValidationError(op, "title is required")
		}
		if strings.TrimSpace(r.Message) == "" {
			return ValidationError(op, "message is required")
		}
	}
	if _, err := ParseChannels(r.Channels); err != nil {
		return ValidationError(op, "%v", err)
	}
	if r.ExpiresAt != nil && r.ScheduledAt != nil && r.ExpiresAt.Before(*r.ScheduledAt) {
		return ValidationError(op, "expires_at must be after scheduled_at")
	}
	return nil
}

// SendRequest is the input of a bulk send to several users
type SendRequest struct {
	TemplateName string            `json:"template_name,omitempty"`
	Title        string            `json:"title,omitempty" validate:"max=200"`
	Message      string            `json:"message,omitempty"`
	UserIDs      []string          `json:"user_ids" validate:"required,min=1,max=1000,dive,required"`
	Channels     []string          `json:"channels,omitempty" validate:"omitempty,dive,required"`
	Priority     Priority          `json:"priority,omitempty"`
	Context      map[string]string `json:"context,omitempty"`
	ScheduledAt  *time.Time        `json:"scheduled_at,omitempty"`
}

// Validate checks the request
func (r *SendRequest) Validate() error {
	const op = "send notifications"

	if err := validateStruct(op, r); err != nil {
		return err
	}
	if r.TemplateName == "" && (strings.TrimSpace(r.Title) == "" || strings.TrimSpace(r.Message) == "") {
		return ValidationError(op, "title and message are required without a template")
	}
	if r.Priority != "" && !r.Priority.Valid() {
		return ValidationError(op, "unknown priority %q", r.Priority)
	}
	if _, err := ParseChannels(r.Channels); err != nil {
		return ValidationError(op, "%v", err)
	}
	return nil
}

// SendResult summarizes a bulk send
type SendResult struct {
	SentCount   int `json:"sent_count"`
	FailedCount int `json:"failed_count"`
	TotalCount  int `json:"total_count"`
}

// TemplateInput is the input of template creation
type TemplateInput struct {
	Name                 string   `json:"name" validate:"required,max=100"`
	Type                 Type     `json:"type" validate:"required"`
	TitleTemplate        string   `json:"title_template" validate:"required,max=200"`
	MessageTemplate      string   `json:"message_template" validate:"required"`
	EmailSubjectTemplate string   `json:"email_subject_template,omitempty" validate:"max=200"`
	EmailBodyTemplate    string   `json:"email_body_template,omitempty"`
	DefaultChannels      []string `json:"default_channels,omitempty" validate:"omitempty,dive,required"`
	DefaultPriority      Priority `json:"default_priority,omitempty"`
}

// SettingInput updates one user's preference for one type
type SettingInput struct {
	UserID          string `json:"user_id" validate:"required"`
	Type            Type   `json:"type" validate:"required"`
	EmailEnabled    bool   `json:"email_enabled"`
	PushEnabled     bool   `json:"push_enabled"`
	InAppEnabled    bool   `json:"in_app_enabled"`
	QuietHoursStart string `json:"quiet_hours_start,omitempty" validate:"omitempty,datetime=15:04"`
	QuietHoursEnd   string `json:"quiet_hours_end,omitempty" validate:"omitempty,datetime=15:04"`
}

// ParseChannels normalizes channel names, dropping duplicates
func ParseChannels(names []string) ([]Channel, error) {
	if len(names) == 0 {
		return nil, nil
	}
	seen := make(map[Channel]bool, len(names))
	out := make([]Channel, 0, len(names))
	for _, name := range names {
		ch, ok := ParseChannel(name)
		if !ok {
			return nil, fmt.Errorf("unknown channel %q", name)
		}
		if !seen[ch] {
			seen[ch] = true
			out = append(out, ch)
		}
	}
	return out, nil
}

func validateStruct(op string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
		}
		return ValidationError(op, "%s", strings.Join(msgs, "; "))
	}
	return ValidationError(op, "%v", err)
}
