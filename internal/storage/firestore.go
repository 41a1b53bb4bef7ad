package storage

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

type tokenDoc struct {
	Token    string `firestore:"token"`
	Role     string `firestore:"role"`
	Username string `firestore:"username"`
	UID      string `firestore:"uid"`
	Email    string `firestore:"email"`
}

type ownerDoc struct {
	Username string `firestore:"username"`
}

type notificationDoc struct {
	ToRole     string         `firestore:"toRole,omitempty"`
	ToUsername string         `firestore:"toUsername,omitempty"`
	Title      string         `firestore:"title"`
	Body       string         `firestore:"body"`
	Read       bool           `firestore:"read"`
	CreatedAt  time.Time      `firestore:"createdAt,serverTimestamp"`
	Meta       map[string]any `firestore:"meta"`
}

// FirestoreStore reads fcm_tokens/lawyer_uids and appends to notifications.
// Token documents are keyed by owner id.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) TokensByRole(ctx context.Context, role Role) ([]PushToken, error) {
	q := s.client.Collection(TokensCollection).Where("role", "==", string(role))
	tokens, err := s.collectTokens(ctx, q)
	return tokens, wrap("tokens by role", err)
}

func (s *FirestoreStore) TokensByUsernames(ctx context.Context, usernames []string) ([]PushToken, error) {
	if err := checkBatch("tokens by usernames", len(usernames), MaxUsernamesPerTokenQuery); err != nil {
		return nil, err
	}
	if len(usernames) == 0 {
		return nil, nil
	}
	q := s.client.Collection(TokensCollection).Where("username", "in", usernames)
	tokens, err := s.collectTokens(ctx, q)
	return tokens, wrap("tokens by usernames", err)
}

func (s *FirestoreStore) TokensByOwnerIDs(ctx context.Context, ownerIDs []string) ([]PushToken, error) {
	if len(ownerIDs) == 0 {
		return nil, nil
	}
	refs := make([]*firestore.DocumentRef, 0, len(ownerIDs))
	for _, id := range ownerIDs {
		refs = append(refs, s.client.Collection(TokensCollection).Doc(id))
	}

	snaps, err := s.client.GetAll(ctx, refs)
	if err != nil {
		return nil, wrap("tokens by owner ids", err)
	}

	var tokens []PushToken
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		t, err := decodeToken(snap)
		if err != nil {
			return nil, wrap("tokens by owner ids", err)
		}
		// point reads are keyed by owner id, whatever the uid field says
		t.OwnerID = snap.Ref.ID
		tokens = append(tokens, t)
	}
	return tokens, nil
}

func (s *FirestoreStore) OwnerIDsByUsernames(ctx context.Context, usernames []string) (map[string]string, error) {
	if err := checkBatch("owner ids by usernames", len(usernames), MaxUsernamesPerOwnerQuery); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(usernames))
	if len(usernames) == 0 {
		return out, nil
	}

	iter := s.client.Collection(OwnersCollection).Where("username", "in", usernames).Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, wrap("owner ids by usernames", err)
		}
		var doc ownerDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, wrap("owner ids by usernames", err)
		}
		if doc.Username != "" {
			out[doc.Username] = snap.Ref.ID
		}
	}
	return out, nil
}

func (s *FirestoreStore) AddNotification(ctx context.Context, n *InAppNotification) error {
	doc := notificationDoc{
		ToRole:     n.ToRole,
		ToUsername: n.ToUsername,
		Title:      n.Title,
		Body:       n.Body,
		Read:       n.Read,
		Meta:       n.Meta,
	}
	ref, _, err := s.client.Collection(NotificationsCollection).Add(ctx, doc)
	if err != nil {
		return wrap("add notification", err)
	}
	n.ID = ref.ID
	return nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func (s *FirestoreStore) collectTokens(ctx context.Context, q firestore.Query) ([]PushToken, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var tokens []PushToken
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			return tokens, nil
		}
		if err != nil {
			return nil, err
		}
		t, err := decodeToken(snap)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
}

func decodeToken(snap *firestore.DocumentSnapshot) (PushToken, error) {
	var doc tokenDoc
	if err := snap.DataTo(&doc); err != nil {
		return PushToken{}, err
	}
	owner := doc.UID
	if owner == "" {
		owner = snap.Ref.ID
	}
	return PushToken{
		OwnerID:  owner,
		Username: doc.Username,
		Role:     Role(doc.Role),
		Token:    strings.TrimSpace(doc.Token),
		Email:    doc.Email,
	}, nil
}
