package delivery

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Message is the platform-neutral notification content. Data values are
// already strings, as FCM requires.
type Message struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`

	// Priority is passed to Android; empty means "high".
	Priority string `json:"priority,omitempty"`
}

func NewMessage(title, body string, data map[string]any) Message {
	return Message{Title: title, Body: body, Data: StringifyData(data)}
}

// StringifyData coerces arbitrary JSON-ish values to strings: nil becomes "",
// scalars their plain text form, objects and arrays their JSON encoding.
func StringifyData(data map[string]any) map[string]string {
	out := make(map[string]string, len(data))
	for k, v := range data {
		out[k] = stringify(v)
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case fmt.Stringer:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
