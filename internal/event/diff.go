package event

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ChangedKeys returns the sorted top-level keys whose values differ between
// before and after. Nested maps are compared independent of key order and
// timestamps by instant. A missing key equals an explicit null.
func ChangedKeys(before, after Record) []string {
	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}

	var changed []string
	for k := range keys {
		if canonical(before[k]) != canonical(after[k]) {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

func canonical(v any) string {
	b, err := json.Marshal(normalize(v))
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(b)
}

type instant struct {
	Nanos int64 `json:"$instant"`
}

// normalize rewrites v into a form whose JSON encoding is canonical:
// encoding/json sorts map keys, numbers become float64, timestamps become
// an instant.
func normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return instant{Nanos: t.UnixNano()}
	case *time.Time:
		if t == nil {
			return nil
		}
		return instant{Nanos: t.UnixNano()}
	case string:
		if ts, ok := parseTimestamp(t); ok {
			return instant{Nanos: ts.UnixNano()}
		}
		return t
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case map[string]any:
		if ts, ok := timestampMap(t); ok {
			return ts
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case Record:
		return normalize(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return t
	}
}

func parseTimestamp(s string) (time.Time, bool) {
	if len(s) < len("2006-01-02T15:04:05Z") || s[4] != '-' || s[10] != 'T' {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	return ts, err == nil
}

// timestampMap recognises serialized Firestore timestamps:
// {"_seconds":..,"_nanoseconds":..} or {"seconds":..,"nanoseconds":..}.
func timestampMap(m map[string]any) (instant, bool) {
	if len(m) != 2 {
		return instant{}, false
	}
	for _, prefix := range []string{"_", ""} {
		sec, ok1 := number(m[prefix+"seconds"])
		nsec, ok2 := number(m[prefix+"nanoseconds"])
		if ok1 && ok2 {
			return instant{Nanos: int64(sec)*int64(time.Second) + int64(nsec)}, true
		}
	}
	return instant{}, false
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
