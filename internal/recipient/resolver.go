// Package recipient turns notification intents into deduplicated token sets.
package recipient

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mithileshchellappan/pushrelay/internal/storage"
	"github.com/mithileshchellappan/pushrelay/internal/tokens"
)

// Resolution is the outcome of resolving one intent.
type Resolution struct {
	Tokens *tokens.Set
	// Unresolved counts requested usernames that produced no token.
	Unresolved int
}

type Resolver struct {
	adapter *tokens.Adapter
	log     zerolog.Logger
}

func NewResolver(adapter *tokens.Adapter, log zerolog.Logger) *Resolver {
	return &Resolver{adapter: adapter, log: log.With().Str("component", "resolver").Logger()}
}

func (r *Resolver) Resolve(ctx context.Context, intent Intent) (Resolution, error) {
	switch in := intent.(type) {
	case SingleToken:
		return Resolution{Tokens: tokens.NewSet(in.Token)}, nil
	case AdminBroadcast:
		set, err := r.Admins(ctx, in.ExcludeOwnerID, in.ExcludeEmail)
		return Resolution{Tokens: set}, err
	case UsernameList:
		return r.Usernames(ctx, in.Usernames, in.Lookup)
	default:
		return Resolution{}, fmt.Errorf("unsupported intent %T", intent)
	}
}

// Admins returns the tokens of every admin except the excluded owner/email.
func (r *Resolver) Admins(ctx context.Context, excludeOwnerID, excludeEmail string) (*tokens.Set, error) {
	records, err := r.adapter.RecordsForRole(ctx, storage.RoleAdmin)
	if err != nil {
		return nil, err
	}

	excludeOwnerID = strings.TrimSpace(excludeOwnerID)
	excludeEmail = strings.TrimSpace(excludeEmail)

	set := &tokens.Set{}
	for _, rec := range records {
		if excludeOwnerID != "" && rec.OwnerID == excludeOwnerID {
			continue
		}
		if excludeEmail != "" && strings.EqualFold(strings.TrimSpace(rec.Email), excludeEmail) {
			continue
		}
		set.Add(rec.Token)
	}
	return set, nil
}

// Usernames resolves a username list through the chosen lookup path.
// Usernames without a token are dropped and counted, not reported as errors.
func (r *Resolver) Usernames(ctx context.Context, usernames []string, lookup Lookup) (Resolution, error) {
	names := NormalizeUsernames(usernames)
	if len(names) == 0 {
		return Resolution{Tokens: &tokens.Set{}}, nil
	}

	var (
		set     *tokens.Set
		covered map[string]bool
		err     error
	)
	switch lookup {
	case LookupByOwnerID:
		set, covered, err = r.viaOwners(ctx, names)
	default:
		set, covered, err = r.viaUsernames(ctx, names)
	}
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{Tokens: set, Unresolved: len(names) - len(covered)}
	if res.Unresolved > 0 {
		r.log.Info().Int("requested", len(names)).Int("unresolved", res.Unresolved).
			Str("lookup", lookup.String()).Msg("usernames without push token")
	}
	return res, nil
}

func (r *Resolver) viaUsernames(ctx context.Context, names []string) (*tokens.Set, map[string]bool, error) {
	records, err := r.adapter.RecordsForUsernames(ctx, names)
	if err != nil {
		return nil, nil, err
	}
	set := &tokens.Set{}
	covered := make(map[string]bool)
	for _, rec := range records {
		set.Add(rec.Token)
		covered[strings.ToLower(rec.Username)] = true
	}
	return set, covered, nil
}

func (r *Resolver) viaOwners(ctx context.Context, names []string) (*tokens.Set, map[string]bool, error) {
	owners, err := r.adapter.OwnerIDsForUsernames(ctx, names)
	if err != nil {
		return nil, nil, err
	}

	byOwner := make(map[string]string, len(owners))
	ids := make([]string, 0, len(owners))
	for _, name := range names {
		if owner, ok := owners[name]; ok {
			byOwner[owner] = name
			ids = append(ids, owner)
		}
	}

	records, err := r.adapter.RecordsForOwnerIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	set := &tokens.Set{}
	covered := make(map[string]bool)
	for _, rec := range records {
		set.Add(rec.Token)
		if name, ok := byOwner[rec.OwnerID]; ok {
			covered[name] = true
		}
	}
	return set, covered, nil
}

// NormalizeUsernames trims, lowercases and deduplicates, keeping first-seen order.
func NormalizeUsernames(usernames []string) []string {
	seen := make(map[string]struct{}, len(usernames))
	out := make([]string, 0, len(usernames))
	for _, u := range usernames {
		u = strings.ToLower(strings.TrimSpace(u))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
