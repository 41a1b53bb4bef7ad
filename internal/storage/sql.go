package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations
var migrations embed.FS

// SQLStore keeps the same collections as relational tables. It runs on
// SQLite for local use and tests, and on Postgres for shared deployments.
// Queries are written with ? placeholders and rebound per driver.
type SQLStore struct {
	db *sqlx.DB
}

type tokenRow struct {
	OwnerID  string `db:"owner_id"`
	Token    string `db:"token"`
	Role     string `db:"role"`
	Username string `db:"username"`
	Email    string `db:"email"`
}

func (r tokenRow) token() PushToken {
	return PushToken{
		OwnerID:  r.OwnerID,
		Username: r.Username,
		Role:     Role(r.Role),
		Token:    strings.TrimSpace(r.Token),
		Email:    r.Email,
	}
}

type notificationRow struct {
	ID         string `db:"id"`
	ToRole     string `db:"to_role"`
	ToUsername string `db:"to_username"`
	Title      string `db:"title"`
	Body       string `db:"body"`
	Read       bool   `db:"read"`
	CreatedAt  string `db:"created_at"`
	Meta       string `db:"meta"`
}

const tokenColumns = "owner_id, token, role, username, email"

func migrateUp(db database.Driver, name, dir string) error {
	src, err := iofs.New(migrations, dir)
	if err != nil {
		return fmt.Errorf("could not open migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, name, db)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run database migrations: %w", err)
	}
	return nil
}

func (s *SQLStore) TokensByRole(ctx context.Context, role Role) ([]PushToken, error) {
	query := "SELECT " + tokenColumns + " FROM fcm_tokens WHERE role = ? ORDER BY owner_id"
	tokens, err := s.selectTokens(ctx, query, string(role))
	return tokens, wrap("tokens by role", err)
}

func (s *SQLStore) TokensByUsernames(ctx context.Context, usernames []string) ([]PushToken, error) {
	if err := checkBatch("tokens by usernames", len(usernames), MaxUsernamesPerTokenQuery); err != nil {
		return nil, err
	}
	if len(usernames) == 0 {
		return nil, nil
	}
	query := "SELECT " + tokenColumns + " FROM fcm_tokens WHERE username IN (?) ORDER BY owner_id"
	tokens, err := s.selectTokens(ctx, query, usernames)
	return tokens, wrap("tokens by usernames", err)
}

func (s *SQLStore) TokensByOwnerIDs(ctx context.Context, ownerIDs []string) ([]PushToken, error) {
	query := s.db.Rebind("SELECT " + tokenColumns + " FROM fcm_tokens WHERE owner_id = ?")

	var tokens []PushToken
	for _, id := range ownerIDs {
		var row tokenRow
		err := s.db.GetContext(ctx, &row, query, id)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, wrap("tokens by owner ids", err)
		}
		tokens = append(tokens, row.token())
	}
	return tokens, nil
}

func (s *SQLStore) OwnerIDsByUsernames(ctx context.Context, usernames []string) (map[string]string, error) {
	if err := checkBatch("owner ids by usernames", len(usernames), MaxUsernamesPerOwnerQuery); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(usernames))
	if len(usernames) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In("SELECT owner_id, username FROM lawyer_uids WHERE username IN (?)", usernames)
	if err != nil {
		return nil, wrap("owner ids by usernames", err)
	}

	var rows []struct {
		OwnerID  string `db:"owner_id"`
		Username string `db:"username"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, wrap("owner ids by usernames", err)
	}
	for _, r := range rows {
		out[r.Username] = r.OwnerID
	}
	return out, nil
}

func (s *SQLStore) AddNotification(ctx context.Context, n *InAppNotification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(n.Meta)
	if err != nil {
		return wrap("add notification", err)
	}

	query := `INSERT INTO notifications(id, to_role, to_username, title, body, read, created_at, meta)
		VALUES(:id, :to_role, :to_username, :title, :body, :read, :created_at, :meta)`
	_, err = s.db.NamedExecContext(ctx, query, notificationRow{
		ID:         n.ID,
		ToRole:     n.ToRole,
		ToUsername: n.ToUsername,
		Title:      n.Title,
		Body:       n.Body,
		Read:       n.Read,
		CreatedAt:  n.CreatedAt.Format(time.RFC3339Nano),
		Meta:       string(meta),
	})
	if err != nil {
		if isUniqueViolation(err) {
			return Errors.AlreadyExists
		}
		return wrap("add notification", err)
	}
	return nil
}

// UpsertToken registers or replaces the device token of an owner.
func (s *SQLStore) UpsertToken(ctx context.Context, t PushToken) error {
	query := `INSERT INTO fcm_tokens(owner_id, token, role, username, email)
		VALUES(:owner_id, :token, :role, :username, :email)
		ON CONFLICT(owner_id) DO UPDATE SET token = excluded.token, role = excluded.role,
		username = excluded.username, email = excluded.email`
	_, err := s.db.NamedExecContext(ctx, query, tokenRow{
		OwnerID:  t.OwnerID,
		Token:    strings.TrimSpace(t.Token),
		Role:     string(t.Role),
		Username: t.Username,
		Email:    t.Email,
	})
	return wrap("upsert token", err)
}

// SetOwnerUsername maps an owner id to its username in lawyer_uids.
func (s *SQLStore) SetOwnerUsername(ctx context.Context, ownerID, username string) error {
	query := s.db.Rebind(`INSERT INTO lawyer_uids(owner_id, username) VALUES(?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET username = excluded.username`)
	_, err := s.db.ExecContext(ctx, query, ownerID, username)
	return wrap("set owner username", err)
}

// Notifications lists the log in insertion order.
func (s *SQLStore) Notifications(ctx context.Context) ([]InAppNotification, error) {
	var rows []notificationRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT id, to_role, to_username, title, body, read, created_at, meta FROM notifications ORDER BY seq")
	if err != nil {
		return nil, wrap("list notifications", err)
	}

	out := make([]InAppNotification, 0, len(rows))
	for _, r := range rows {
		n := InAppNotification{
			ID:         r.ID,
			ToRole:     r.ToRole,
			ToUsername: r.ToUsername,
			Title:      r.Title,
			Body:       r.Body,
			Read:       r.Read,
		}
		if n.CreatedAt, err = time.Parse(time.RFC3339Nano, r.CreatedAt); err != nil {
			return nil, wrap("list notifications", err)
		}
		if err := json.Unmarshal([]byte(r.Meta), &n.Meta); err != nil {
			return nil, wrap("list notifications", err)
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// selectTokens expands slice arguments into IN lists before rebinding.
func (s *SQLStore) selectTokens(ctx context.Context, query string, args ...any) ([]PushToken, error) {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}

	var rows []tokenRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	tokens := make([]PushToken, 0, len(rows))
	for _, r := range rows {
		tokens = append(tokens, r.token())
	}
	return tokens, nil
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key")
}
