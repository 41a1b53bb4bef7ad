// Package event decides what a task change means for notifications.
package event

import (
	"fmt"
	"strings"
)

var completionStatuses = map[string]struct{}{
	"completed": {},
	"done":      {},
	"finished":  {},
}

// ignoredKeys never count as an admin edit on their own.
var ignoredKeys = map[string]struct{}{
	"status":     {},
	"completion": {},
	"updatedAt":  {},
}

// IsCompletionStatus reports whether status is terminal, ignoring case.
func IsCompletionStatus(status string) bool {
	_, ok := completionStatuses[strings.ToLower(strings.TrimSpace(status))]
	return ok
}

// rules are evaluated in order; the first that applies wins.
var rules = []func(ev TaskEvent) (Outcome, bool){
	ruleCreated,
	ruleCompleted,
	ruleAdminEdit,
}

// Classify maps a task event to exactly one outcome. Events of any kind
// other than created/updated fail with ErrUnknownEventKind.
func Classify(ev TaskEvent) (Outcome, error) {
	switch ev.Kind {
	case KindCreated, KindUpdated:
	default:
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownEventKind, string(ev.Kind))
	}

	for _, r := range rules {
		if out, ok := r(ev); ok {
			return out, nil
		}
	}
	return Outcome{Class: NoOp}, nil
}

func ruleCreated(ev TaskEvent) (Outcome, bool) {
	if ev.Kind != KindCreated {
		return Outcome{}, false
	}
	recipients := Recipients(ev.After)
	if len(recipients) == 0 {
		return Outcome{Class: NoOp}, true
	}
	out := newOutcome(Created, ev, nil)
	out.Usernames = recipients
	return out, true
}

func ruleCompleted(ev TaskEvent) (Outcome, bool) {
	if ev.Kind != KindUpdated {
		return Outcome{}, false
	}
	statusDone := !IsCompletionStatus(ev.Before.str("status")) && IsCompletionStatus(ev.After.str("status"))
	completionSet := !ev.Before.present("completion") && ev.After.present("completion")
	if !statusDone && !completionSet {
		return Outcome{}, false
	}
	out := newOutcome(CompletedTransition, ev, nil)
	out.ToAdmins = true
	return out, true
}

func ruleAdminEdit(ev TaskEvent) (Outcome, bool) {
	if ev.Kind != KindUpdated {
		return Outcome{}, false
	}
	var changed []string
	for _, k := range ChangedKeys(ev.Before, ev.After) {
		if _, skip := ignoredKeys[k]; !skip {
			changed = append(changed, k)
		}
	}
	recipients := Recipients(ev.After)
	if len(changed) == 0 || len(recipients) == 0 {
		return Outcome{Class: NoOp}, true
	}
	out := newOutcome(AdminEdit, ev, changed)
	out.Usernames = recipients
	return out, true
}

// Recipients are the task's visibleTo usernames, or its assignee when
// visibleTo is empty.
func Recipients(after Record) []string {
	if v := after.strings("visibleTo"); len(v) > 0 {
		return v
	}
	if a := after.str("assigneeUsername"); a != "" {
		return []string{a}
	}
	return nil
}

func newOutcome(class Class, ev TaskEvent, changed []string) Outcome {
	f := fieldsOf(ev)
	title, body := render(class, f)

	meta := map[string]any{
		"kind":             class.MetaKind(),
		"taskId":           ev.TaskID,
		"groupName":        f.group,
		"assigneeUsername": f.assignee,
		"status":           f.status,
	}
	if changed != nil {
		meta["changedKeys"] = changed
	}

	return Outcome{
		Class:       class,
		Title:       title,
		Body:        body,
		Meta:        meta,
		ChangedKeys: changed,
	}
}

type fields struct {
	title    string
	assignee string
	group    string
	status   string
}

// fieldsOf reads display fields from after, falling back to before for
// partial snapshots.
func fieldsOf(ev TaskEvent) fields {
	pick := func(key string) string {
		if v := ev.After.str(key); v != "" {
			return v
		}
		return ev.Before.str(key)
	}
	return fields{
		title:    pick("title"),
		assignee: pick("assigneeUsername"),
		group:    pick("groupName"),
		status:   ev.After.str("status"),
	}
}
