// Package tokens reads push tokens out of the document store, batching
// set-membership queries under the store's per-call ceilings.
package tokens

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mithileshchellappan/pushrelay/internal/storage"
)

type Adapter struct {
	store       storage.Store
	concurrency int
	log         zerolog.Logger
}

func NewAdapter(store storage.Store, concurrency int, log zerolog.Logger) *Adapter {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Adapter{
		store:       store,
		concurrency: concurrency,
		log:         log.With().Str("component", "tokens").Logger(),
	}
}

// RecordsForRole returns every token record with the given role whose token
// is not blank, one per owner.
func (a *Adapter) RecordsForRole(ctx context.Context, role storage.Role) ([]storage.PushToken, error) {
	records, err := a.store.TokensByRole(ctx, role)
	if err != nil {
		return nil, err
	}
	return uniqueByOwner(records), nil
}

func (a *Adapter) TokensForRole(ctx context.Context, role storage.Role) (*Set, error) {
	records, err := a.RecordsForRole(ctx, role)
	if err != nil {
		return nil, err
	}
	return setOf(records), nil
}

// OwnerIDsForUsernames resolves usernames to owner ids. Usernames without an
// owner are absent from the result.
func (a *Adapter) OwnerIDsForUsernames(ctx context.Context, usernames []string) (map[string]string, error) {
	batches := chunk(uniqueStrings(usernames), storage.MaxUsernamesPerOwnerQuery)
	results := make([]map[string]string, len(batches))

	err := a.forEach(ctx, len(batches), func(ctx context.Context, i int) error {
		m, err := a.store.OwnerIDsByUsernames(ctx, batches[i])
		results[i] = m
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]string)
	for _, m := range results {
		for username, owner := range m {
			out[username] = owner
		}
	}
	a.log.Debug().Int("usernames", len(usernames)).Int("resolved", len(out)).Int("batches", len(batches)).Msg("owner lookup")
	return out, nil
}

// TokensForOwnerIDs reads the token document of each owner.
func (a *Adapter) TokensForOwnerIDs(ctx context.Context, ownerIDs []string) (*Set, error) {
	records, err := a.RecordsForOwnerIDs(ctx, ownerIDs)
	if err != nil {
		return nil, err
	}
	return setOf(records), nil
}

// RecordsForOwnerIDs point-reads the token documents of the given owners.
// Owners without a document or with a blank token are skipped.
func (a *Adapter) RecordsForOwnerIDs(ctx context.Context, ownerIDs []string) ([]storage.PushToken, error) {
	ids := uniqueStrings(ownerIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	records, err := a.store.TokensByOwnerIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return uniqueByOwner(records), nil
}

// TokensForUsernames queries tokens by username, at most
// storage.MaxUsernamesPerTokenQuery usernames per round trip.
func (a *Adapter) TokensForUsernames(ctx context.Context, usernames []string) (*Set, error) {
	records, err := a.RecordsForUsernames(ctx, usernames)
	if err != nil {
		return nil, err
	}
	return setOf(records), nil
}

func (a *Adapter) RecordsForUsernames(ctx context.Context, usernames []string) ([]storage.PushToken, error) {
	batches := chunk(uniqueStrings(usernames), storage.MaxUsernamesPerTokenQuery)
	results := make([][]storage.PushToken, len(batches))

	err := a.forEach(ctx, len(batches), func(ctx context.Context, i int) error {
		records, err := a.store.TokensByUsernames(ctx, batches[i])
		results[i] = records
		return err
	})
	if err != nil {
		return nil, err
	}

	var all []storage.PushToken
	for _, r := range results {
		all = append(all, r...)
	}
	return uniqueByOwner(all), nil
}

// forEach runs fn for 0..n-1 with bounded concurrency. A failing batch does
// not cancel the others; the first error is returned once all are done.
func (a *Adapter) forEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}
	if n == 1 || a.concurrency == 1 {
		var first error
		for i := 0; i < n; i++ {
			if err := fn(ctx, i); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error { return fn(ctx, i) })
	}
	return g.Wait()
}

func uniqueByOwner(records []storage.PushToken) []storage.PushToken {
	seen := make(map[string]struct{}, len(records))
	out := make([]storage.PushToken, 0, len(records))
	for _, r := range records {
		r.Token = strings.TrimSpace(r.Token)
		if r.Token == "" {
			continue
		}
		key := r.OwnerID
		if key == "" {
			key = "token:" + r.Token
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

func setOf(records []storage.PushToken) *Set {
	s := &Set{}
	for _, r := range records {
		s.Add(r.Token)
	}
	return s
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func chunk(values []string, size int) [][]string {
	var out [][]string
	for i := 0; i < len(values); i += size {
		end := i + size
		if end > len(values) {
			end = len(values)
		}
		out = append(out, values[i:end])
	}
	return out
}
