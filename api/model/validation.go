package model

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

var validRequestIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// ValidationError is a caller mistake; the message is returned verbatim.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks the request before any work is done. Missing fields are
// reported together so a caller can fix them in one round trip.
func (r *RunRequest) Validate() error {
	var missing []string
	if r.RequestID == "" {
		missing = append(missing, "requestId")
	}
	if r.Project == "" {
		missing = append(missing, "project")
	}
	if r.Kind == KindManual && r.Content == "" {
		missing = append(missing, "content")
	}
	if len(missing) > 0 {
		return invalid(missing[0], "Missing required fields: %s", strings.Join(missing, ", "))
	}

	switch r.Kind {
	case KindManual, KindProject:
	default:
		return invalid("kind", "unknown run kind %q", r.Kind)
	}
	if !validRequestIDRe.MatchString(r.RequestID) {
		return invalid("requestId", "invalid requestId %q", r.RequestID)
	}
	if err := ValidateProject(r.Project); err != nil {
		return err
	}
	if r.Timeout < 0 {
		return invalid("timeoutSeconds", "timeoutSeconds must not be negative")
	}
	return nil
}

// ValidateProject rejects project names that would escape the test root.
func ValidateProject(project string) error {
	if filepath.IsAbs(project) || strings.HasPrefix(project, "/") {
		return invalid("project", "project must be a relative path")
	}
	clean := path.Clean(filepath.ToSlash(project))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return invalid("project", "project %q is outside the test root", project)
	}
	for _, part := range strings.Split(clean, "/") {
		if strings.HasPrefix(part, ".") {
			return invalid("project", "project %q contains a hidden path segment", project)
		}
	}
	return nil
}
