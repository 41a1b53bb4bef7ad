// Package storagetest provides an in-memory storage.Store for tests.
package storagetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mithileshchellappan/pushrelay/internal/storage"
)

// Memory is a storage.Store held in maps. It records the size of every
// set-membership query and can be told to fail specific operations.
type Memory struct {
	mu            sync.Mutex
	tokens        map[string]storage.PushToken
	owners        map[string]string
	notifications []storage.InAppNotification

	UsernameQueries []int
	OwnerQueries    []int
	OwnerReads      int
	RoleQueries     int

	FailOn map[string]error
}

func NewMemory() *Memory {
	return &Memory{
		tokens: make(map[string]storage.PushToken),
		owners: make(map[string]string),
		FailOn: make(map[string]error),
	}
}

// AddToken stores a token record keyed by owner id.
func (m *Memory) AddToken(t storage.PushToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[t.OwnerID] = t
}

// AddOwner maps ownerID to username in lawyer_uids.
func (m *Memory) AddOwner(ownerID, username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[ownerID] = username
}

// AddUser registers an owner with a username and a token in one go.
func (m *Memory) AddUser(ownerID, username string, role storage.Role, token string) {
	m.AddOwner(ownerID, username)
	m.AddToken(storage.PushToken{OwnerID: ownerID, Username: username, Role: role, Token: token})
}

func (m *Memory) Notifications() []storage.InAppNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.InAppNotification(nil), m.notifications...)
}

func (m *Memory) fail(op string) error {
	if err, ok := m.FailOn[op]; ok {
		return &storage.StoreError{Op: op, Err: err}
	}
	return nil
}

func (m *Memory) sortedTokens() []storage.PushToken {
	out := make([]storage.PushToken, 0, len(m.tokens))
	for _, t := range m.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerID < out[j].OwnerID })
	return out
}

func (m *Memory) TokensByRole(ctx context.Context, role storage.Role) ([]storage.PushToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RoleQueries++
	if err := m.fail("TokensByRole"); err != nil {
		return nil, err
	}
	var out []storage.PushToken
	for _, t := range m.sortedTokens() {
		if t.Role == role {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) TokensByUsernames(ctx context.Context, usernames []string) ([]storage.PushToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UsernameQueries = append(m.UsernameQueries, len(usernames))
	if err := m.fail("TokensByUsernames"); err != nil {
		return nil, err
	}
	if len(usernames) > storage.MaxUsernamesPerTokenQuery {
		return nil, &storage.StoreError{Op: "TokensByUsernames", Err: fmt.Errorf("%w: %d", storage.Errors.BatchTooLarge, len(usernames))}
	}
	want := make(map[string]bool, len(usernames))
	for _, u := range usernames {
		want[u] = true
	}
	var out []storage.PushToken
	for _, t := range m.sortedTokens() {
		if want[t.Username] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) TokensByOwnerIDs(ctx context.Context, ownerIDs []string) ([]storage.PushToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OwnerReads += len(ownerIDs)
	if err := m.fail("TokensByOwnerIDs"); err != nil {
		return nil, err
	}
	var out []storage.PushToken
	for _, id := range ownerIDs {
		if t, ok := m.tokens[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) OwnerIDsByUsernames(ctx context.Context, usernames []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OwnerQueries = append(m.OwnerQueries, len(usernames))
	if err := m.fail("OwnerIDsByUsernames"); err != nil {
		return nil, err
	}
	if len(usernames) > storage.MaxUsernamesPerOwnerQuery {
		return nil, &storage.StoreError{Op: "OwnerIDsByUsernames", Err: fmt.Errorf("%w: %d", storage.Errors.BatchTooLarge, len(usernames))}
	}
	want := make(map[string]bool, len(usernames))
	for _, u := range usernames {
		want[u] = true
	}
	out := make(map[string]string)
	for owner, username := range m.owners {
		if want[username] {
			out[username] = owner
		}
	}
	return out, nil
}

func (m *Memory) AddNotification(ctx context.Context, n *storage.InAppNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("AddNotification"); err != nil {
		return err
	}
	n.ID = fmt.Sprintf("n%d", len(m.notifications)+1)
	m.notifications = append(m.notifications, *n)
	return nil
}

func (m *Memory) Close() error { return nil }
