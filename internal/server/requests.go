package server

import (
	"strings"
	"unicode/utf8"

	"github.com/mithileshchellappan/pushrelay/internal/delivery"
	"github.com/mithileshchellappan/pushrelay/internal/event"
	"github.com/mithileshchellappan/pushrelay/internal/recipient"
)

const (
	defaultTitle   = "Notification"
	adminChatTitle = "رسالة جديدة في شات الأدمنية"
	adminChatType  = "admin_chat"
	adminChatLimit = 120
)

// ValidationError is a malformed request body.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(msg string) error { return &ValidationError{Message: msg} }

type messageFields struct {
	Title *string        `json:"title"`
	Body  *string        `json:"body"`
	Data  map[string]any `json:"data"`
}

func (m messageFields) message(title string) delivery.Message {
	if m.Title != nil && *m.Title != "" {
		title = *m.Title
	}
	body := ""
	if m.Body != nil {
		body = *m.Body
	}
	return delivery.NewMessage(title, body, m.Data)
}

// sendRequest is the body of POST /send. To is decoded loosely so a
// non-string value is reported as a validation error.
type sendRequest struct {
	To any `json:"to"`
	messageFields
}

func (r sendRequest) intent() (recipient.SingleToken, error) {
	to, ok := r.To.(string)
	if !ok || strings.TrimSpace(to) == "" {
		return recipient.SingleToken{}, invalid("Missing 'to' token")
	}
	return recipient.SingleToken{Token: strings.TrimSpace(to), Message: r.message(defaultTitle)}, nil
}

// sendAdminsRequest is the body of POST /send_admins. SenderEmail and Text
// carry the admin-chat form: the sender is excluded and the text becomes
// the body.
type sendAdminsRequest struct {
	messageFields
	ExcludeUID     string  `json:"excludeUid"`
	ExcludeOwnerID string  `json:"excludeOwnerId"`
	ExcludeEmail   string  `json:"excludeEmail"`
	SenderEmail    string  `json:"senderEmail"`
	Text           *string `json:"text"`
}

func (r sendAdminsRequest) intent() (recipient.AdminBroadcast, error) {
	owner := r.ExcludeOwnerID
	if owner == "" {
		owner = r.ExcludeUID
	}
	email := r.ExcludeEmail
	if email == "" {
		email = r.SenderEmail
	}

	if r.Text != nil {
		if strings.TrimSpace(*r.Text) == "" {
			return recipient.AdminBroadcast{}, invalid("Missing text")
		}
		data := map[string]any{"type": adminChatType}
		for k, v := range r.Data {
			data[k] = v
		}
		if r.SenderEmail != "" {
			data["senderEmail"] = r.SenderEmail
		}
		title := adminChatTitle
		if r.Title != nil && *r.Title != "" {
			title = *r.Title
		}
		return recipient.AdminBroadcast{
			ExcludeOwnerID: owner,
			ExcludeEmail:   email,
			Message:        delivery.NewMessage(title, truncate(*r.Text, adminChatLimit), data),
		}, nil
	}

	return recipient.AdminBroadcast{
		ExcludeOwnerID: owner,
		ExcludeEmail:   email,
		Message:        r.message(defaultTitle),
	}, nil
}

type sendUsernamesRequest struct {
	Usernames []string `json:"usernames"`
	messageFields
}

func (r sendUsernamesRequest) intent() (recipient.UsernameList, error) {
	if len(recipient.NormalizeUsernames(r.Usernames)) == 0 {
		return recipient.UsernameList{}, invalid("Missing 'usernames'")
	}
	return recipient.UsernameList{
		Usernames: r.Usernames,
		Lookup:    recipient.LookupByUsername,
		Message:   r.message(defaultTitle),
	}, nil
}

type taskEventRequest struct {
	Type   string       `json:"type"`
	TaskID string       `json:"taskId"`
	Before event.Record `json:"before"`
	After  event.Record `json:"after"`
}

func (r taskEventRequest) event() (event.TaskEvent, error) {
	if strings.TrimSpace(r.Type) == "" {
		return event.TaskEvent{}, invalid("Missing 'type'")
	}
	if strings.TrimSpace(r.TaskID) == "" {
		return event.TaskEvent{}, invalid("Missing 'taskId'")
	}
	if r.After == nil {
		return event.TaskEvent{}, invalid("Missing 'after'")
	}
	before := r.Before
	if before == nil {
		before = event.Record{}
	}
	return event.TaskEvent{
		Kind:   event.Kind(strings.ToLower(strings.TrimSpace(r.Type))),
		TaskID: strings.TrimSpace(r.TaskID),
		Before: before,
		After:  r.After,
	}, nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
