package notification

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTemplateSyntax is returned for templates with broken placeholders
var ErrTemplateSyntax = errors.New("template syntax error")

// Fallback content used when a template cannot be rendered
const (
	FallbackTitle   = "[template error]"
	FallbackMessage = "template rendering failed"
)

// Rendered holds the output of a template render
type Rendered struct {
	Title        string `json:"title"`
	Message      string `json:"message"`
	EmailSubject string `json:"email_subject,omitempty"`
	EmailBody    string `json:"email_body,omitempty"`
}

// Render substitutes {name} placeholders in every field of tpl.
// Placeholders without a value in vars are left as literal text.
func Render(tpl *Template, vars map[string]string) (Rendered, error) {
	var (
		out Rendered
		err error
	)
	if out.Title, err = substitute(tpl.TitleTemplate, vars); err != nil {
		return Rendered{}, fmt.Errorf("title: %w", err)
	}
	if out.Message, err = substitute(tpl.MessageTemplate, vars); err != nil {
		return Rendered{}, fmt.Errorf("message: %w", err)
	}
	if out.EmailSubject, err = substitute(tpl.EmailSubjectTemplate, vars); err != nil {
		return Rendered{}, fmt.Errorf("email subject: %w", err)
	}
	if out.EmailBody, err = substitute(tpl.EmailBodyTemplate, vars); err != nil {
		return Rendered{}, fmt.Errorf("email body: %w", err)
	}
	return out, nil
}

// RenderOrFallback renders tpl and returns the fallback payload together with the
// render error when the template is malformed. Callers log the error and carry on.
func RenderOrFallback(tpl *Template, vars map[string]string) (Rendered, error) {
	out, err := Render(tpl, vars)
	if err != nil {
		return Rendered{Title: FallbackTitle, Message: FallbackMessage}, err
	}
	return out, nil
}

// CheckTemplate validates placeholder syntax without rendering
func CheckTemplate(s string) error {
	_, err := substitute(s, nil)
	return err
}

func substitute(s string, vars map[string]string) (string, error) {
	if !strings.ContainsAny(s, "{}") {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		c := s[i]
		if c != '{' {
			b.WriteByte(c)
			i++
			continue
		}
		// "{{" is an escaped brace
		if i+1 < len(s) && s[i+1] == '{' {
			b.WriteByte('{')
			i += 2
			continue
		}
		end := strings.IndexByte(s[i+1:], '}')
		if end < 0 {
			return "", fmt.Errorf("%w: unterminated placeholder at offset %d", ErrTemplateSyntax, i)
		}
		name := s[i+1 : i+1+end]
		if name == "" {
			return "", fmt.Errorf("%w: empty placeholder at offset %d", ErrTemplateSyntax, i)
		}
		if strings.IndexByte(name, '{') >= 0 {
			return "", fmt.Errorf("%w: nested placeholder at offset %d", ErrTemplateSyntax, i)
		}
		if v, ok := vars[strings.TrimSpace(name)]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+end+2])
		}
		i += end + 2
	}
	return b.String(), nil
}
