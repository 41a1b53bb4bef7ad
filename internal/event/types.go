package event

import (
	"errors"
	"strings"
)

type Kind string

const (
	KindCreated Kind = "created"
	KindUpdated Kind = "updated"
)

var ErrUnknownEventKind = errors.New("unknown event kind")

// Record is a task document as decoded from JSON.
type Record map[string]any

// TaskEvent is a before/after snapshot of one task document.
type TaskEvent struct {
	Kind   Kind
	TaskID string
	Before Record
	After  Record
}

type Class int

const (
	NoOp Class = iota
	Created
	CompletedTransition
	AdminEdit
)

func (c Class) String() string {
	switch c {
	case Created:
		return "created"
	case CompletedTransition:
		return "completed"
	case AdminEdit:
		return "admin_edit"
	default:
		return "noop"
	}
}

// MetaKind is the value written to meta.kind and the push data "type".
func (c Class) MetaKind() string {
	switch c {
	case Created:
		return "task_created"
	case CompletedTransition:
		return "task_completed"
	case AdminEdit:
		return "task_updated"
	default:
		return ""
	}
}

// Outcome is what a task event turns into.
type Outcome struct {
	Class Class
	Title string
	Body  string
	Meta  map[string]any

	// Usernames are the recipients for Created and AdminEdit.
	Usernames []string
	// ToAdmins is set for CompletedTransition.
	ToAdmins bool

	ChangedKeys []string
}

func (r Record) str(key string) string {
	if r == nil {
		return ""
	}
	s, _ := r[key].(string)
	return strings.TrimSpace(s)
}

func (r Record) present(key string) bool {
	if r == nil {
		return false
	}
	v, ok := r[key]
	return ok && v != nil
}

func (r Record) strings(key string) []string {
	if r == nil {
		return nil
	}
	var out []string
	switch v := r[key].(type) {
	case []string:
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
	}
	return out
}
