package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Collection names shared by every backend.
const (
	TokensCollection        = "fcm_tokens"
	OwnersCollection        = "lawyer_uids"
	NotificationsCollection = "notifications"
)

// Per-round-trip ceilings for set-membership queries.
const (
	MaxUsernamesPerTokenQuery = 10
	MaxUsernamesPerOwnerQuery = 30
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleLawyer Role = "lawyer"
	RoleOther  Role = "other"
)

// PushToken is a device registration owned by one user.
type PushToken struct {
	OwnerID  string
	Username string
	Role     Role
	Token    string
	Email    string
}

// InAppNotification is one entry of the append-only notification log.
type InAppNotification struct {
	ID         string
	ToRole     string
	ToUsername string
	Title      string
	Body       string
	Read       bool
	CreatedAt  time.Time
	Meta       map[string]any
}

// Store is the document store the relay reads recipients from and appends
// notifications to. Set-membership lookups take at most the batch sizes
// above; callers batch.
type Store interface {
	TokensByRole(ctx context.Context, role Role) ([]PushToken, error)
	TokensByUsernames(ctx context.Context, usernames []string) ([]PushToken, error)
	TokensByOwnerIDs(ctx context.Context, ownerIDs []string) ([]PushToken, error)
	OwnerIDsByUsernames(ctx context.Context, usernames []string) (map[string]string, error)
	AddNotification(ctx context.Context, n *InAppNotification) error
	Close() error
}

var Errors = struct {
	AlreadyExists error
	BatchTooLarge error
}{
	AlreadyExists: errors.New("already exists"),
	BatchTooLarge: errors.New("batch exceeds query limit"),
}

// StoreError wraps any I/O failure of the document store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

func checkBatch(op string, n, limit int) error {
	if n > limit {
		return &StoreError{Op: op, Err: fmt.Errorf("%w: %d > %d", Errors.BatchTooLarge, n, limit)}
	}
	return nil
}
