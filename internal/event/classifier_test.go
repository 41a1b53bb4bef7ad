package event

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(t *testing.T, s string) Record {
	t.Helper()
	var r Record
	require.NoError(t, json.Unmarshal([]byte(s), &r))
	return r
}

func TestClassifyCreatedIndividual(t *testing.T) {
	out, err := Classify(TaskEvent{
		Kind:   KindCreated,
		TaskID: "t1",
		After:  record(t, `{"visibleTo":["ali"],"title":"Draft contract"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, Created, out.Class)
	assert.Equal(t, []string{"ali"}, out.Usernames)
	assert.False(t, out.ToAdmins)
	assert.Equal(t, "مهمة جديدة", out.Title)
	assert.Contains(t, out.Body, "Draft contract")
	assert.Equal(t, "task_created", out.Meta["kind"])
	assert.Equal(t, "t1", out.Meta["taskId"])
	assert.NotContains(t, out.Meta, "changedKeys")
}

func TestClassifyCreatedGroupFallsBackToAssignee(t *testing.T) {
	out, err := Classify(TaskEvent{
		Kind:  KindCreated,
		After: record(t, `{"visibleTo":[],"assigneeUsername":"sara","groupName":"Litigation","title":"Hearing"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, Created, out.Class)
	assert.Equal(t, []string{"sara"}, out.Usernames)
	assert.Equal(t, "مهمة جماعية جديدة", out.Title)
	assert.Contains(t, out.Body, "Litigation")
	assert.Equal(t, "Litigation", out.Meta["groupName"])
}

func TestClassifyCreatedWithoutRecipientsIsNoOp(t *testing.T) {
	out, err := Classify(TaskEvent{Kind: KindCreated, After: record(t, `{"title":"x"}`)})
	require.NoError(t, err)
	assert.Equal(t, NoOp, out.Class)
}

func TestClassifyCompletedByStatus(t *testing.T) {
	out, err := Classify(TaskEvent{
		Kind:   KindUpdated,
		TaskID: "t1",
		Before: record(t, `{"status":"open"}`),
		After:  record(t, `{"status":"completed"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, CompletedTransition, out.Class)
	assert.True(t, out.ToAdmins)
	assert.Empty(t, out.Usernames)
	assert.Equal(t, "task_completed", out.Meta["kind"])
	assert.Equal(t, "completed", out.Meta["status"])
}

func TestClassifyCompletedStatusCaseInsensitive(t *testing.T) {
	for _, s := range []string{"DONE", "Finished", " completed "} {
		out, err := Classify(TaskEvent{
			Kind:   KindUpdated,
			Before: Record{"status": "in_progress"},
			After:  Record{"status": s},
		})
		require.NoError(t, err)
		assert.Equal(t, CompletedTransition, out.Class, s)
	}
}

func TestClassifyCompletedByCompletionField(t *testing.T) {
	out, err := Classify(TaskEvent{
		Kind:   KindUpdated,
		Before: record(t, `{"completion":null,"title":"A"}`),
		After:  record(t, `{"completion":{"by":"ali"},"title":"A"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, CompletedTransition, out.Class)
}

func TestClassifyAlreadyCompletedIsNotTransition(t *testing.T) {
	out, err := Classify(TaskEvent{
		Kind:   KindUpdated,
		Before: Record{"status": "done", "visibleTo": []any{"ali"}},
		After:  Record{"status": "completed", "visibleTo": []any{"ali"}},
	})
	require.NoError(t, err)
	assert.Equal(t, NoOp, out.Class)
}

func TestClassifyCompletionBeatsAdminEdit(t *testing.T) {
	out, err := Classify(TaskEvent{
		Kind:   KindUpdated,
		Before: record(t, `{"title":"A","visibleTo":["ali"],"status":"open"}`),
		After:  record(t, `{"title":"B","visibleTo":["ali"],"status":"completed"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, CompletedTransition, out.Class)

	out, err = Classify(TaskEvent{
		Kind:   KindUpdated,
		Before: record(t, `{"title":"A"}`),
		After:  record(t, `{"title":"A","status":"completed"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, CompletedTransition, out.Class)
}

func TestClassifyAdminEdit(t *testing.T) {
	out, err := Classify(TaskEvent{
		Kind:   KindUpdated,
		TaskID: "t9",
		Before: record(t, `{"title":"A","visibleTo":["ali","sara"],"dueDate":"x","updatedAt":1}`),
		After:  record(t, `{"title":"B","visibleTo":["ali","sara"],"dueDate":"y","updatedAt":2}`),
	})
	require.NoError(t, err)
	assert.Equal(t, AdminEdit, out.Class)
	assert.Equal(t, []string{"dueDate", "title"}, out.ChangedKeys)
	assert.Equal(t, []string{"dueDate", "title"}, out.Meta["changedKeys"])
	assert.Equal(t, []string{"ali", "sara"}, out.Usernames)
	assert.Equal(t, "task_updated", out.Meta["kind"])
}

func TestClassifyIgnoredKeysOnlyIsNoOp(t *testing.T) {
	out, err := Classify(TaskEvent{
		Kind:   KindUpdated,
		Before: record(t, `{"status":"open","updatedAt":1,"visibleTo":["ali"]}`),
		After:  record(t, `{"status":"in_review","updatedAt":2,"visibleTo":["ali"]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, NoOp, out.Class)
}

func TestClassifyAdminEditWithoutRecipientsIsNoOp(t *testing.T) {
	out, err := Classify(TaskEvent{
		Kind:   KindUpdated,
		Before: Record{"title": "A"},
		After:  Record{"title": "B"},
	})
	require.NoError(t, err)
	assert.Equal(t, NoOp, out.Class)
}

func TestClassifyUnknownKind(t *testing.T) {
	_, err := Classify(TaskEvent{Kind: "deleted"})
	assert.True(t, errors.Is(err, ErrUnknownEventKind))
}

func TestChangedKeysIgnoresNestedKeyOrder(t *testing.T) {
	before := record(t, `{"a":{"x":1,"y":2}}`)
	after := record(t, `{"a":{"y":2,"x":1}}`)
	assert.Empty(t, ChangedKeys(before, after))

	after = record(t, `{"a":{"y":2,"x":3}}`)
	assert.Equal(t, []string{"a"}, ChangedKeys(before, after))
}

func TestChangedKeysTimestampsByInstant(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	before := Record{
		"due":     map[string]any{"_seconds": float64(ts.Unix()), "_nanoseconds": float64(0)},
		"start":   "2024-05-01T10:00:00Z",
		"checked": ts,
	}
	after := Record{
		"due":     ts,
		"start":   "2024-05-01T13:00:00+03:00",
		"checked": map[string]any{"seconds": float64(ts.Unix()), "nanoseconds": float64(0)},
	}
	assert.Empty(t, ChangedKeys(before, after))
}

func TestChangedKeysMissingEqualsNull(t *testing.T) {
	assert.Empty(t, ChangedKeys(Record{"note": nil}, Record{}))
	assert.Equal(t, []string{"note"}, ChangedKeys(Record{}, Record{"note": "x"}))
}

func TestClassifyDeterministic(t *testing.T) {
	ev := TaskEvent{
		Kind:   KindUpdated,
		Before: record(t, `{"b":1,"a":2,"c":{"z":1},"visibleTo":["ali"]}`),
		After:  record(t, `{"b":2,"a":3,"c":{"z":2},"visibleTo":["ali"]}`),
	}
	first, err := Classify(ev)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Classify(ev)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, []string{"a", "b", "c"}, first.ChangedKeys)
}
