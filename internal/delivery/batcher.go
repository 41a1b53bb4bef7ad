// Package delivery fans a message out to a token set through a push gateway.
package delivery

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// MaxMulticast is the provider's ceiling on tokens per multicast call.
const MaxMulticast = 500

// MulticastResult holds per-call counts reported by the provider.
type MulticastResult struct {
	SuccessCount int
	FailureCount int
}

// Gateway is the push-delivery provider.
type Gateway interface {
	Send(ctx context.Context, token string, msg Message) (string, error)
	SendMulticast(ctx context.Context, tokens []string, msg Message) (MulticastResult, error)
}

type Result struct {
	TotalTokens  int `json:"total"`
	SuccessCount int `json:"success"`
	FailureCount int `json:"failure"`
}

func (r *Result) Add(o Result) {
	r.TotalTokens += o.TotalTokens
	r.SuccessCount += o.SuccessCount
	r.FailureCount += o.FailureCount
}

// GatewayError is a transport-level failure of the provider. Counts of chunks
// that finished before the failure stay in the Result returned alongside it.
type GatewayError struct {
	Chunk int
	Err   error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway: chunk %d: %v", e.Chunk, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

type Batcher struct {
	gateway     Gateway
	chunkSize   int
	concurrency int
	log         zerolog.Logger
}

type Option func(*Batcher)

// WithConcurrency lets up to n chunks be in flight at once.
func WithConcurrency(n int) Option {
	return func(b *Batcher) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithChunkSize lowers the chunk size below MaxMulticast.
func WithChunkSize(n int) Option {
	return func(b *Batcher) {
		if n > 0 && n <= MaxMulticast {
			b.chunkSize = n
		}
	}
}

func NewBatcher(gateway Gateway, log zerolog.Logger, opts ...Option) *Batcher {
	b := &Batcher{
		gateway:     gateway,
		chunkSize:   MaxMulticast,
		concurrency: 1,
		log:         log.With().Str("component", "delivery").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Send delivers msg to a single token and returns the provider message id.
func (b *Batcher) Send(ctx context.Context, token string, msg Message) (string, error) {
	id, err := b.gateway.Send(ctx, token, msg)
	if err != nil {
		return "", &GatewayError{Err: err}
	}
	return id, nil
}

// Deliver sends msg to every token, one multicast per chunk. Per-token
// failures are counted. A transport error is returned as *GatewayError with
// the counts gathered so far.
func (b *Batcher) Deliver(ctx context.Context, tokens []string, msg Message) (Result, error) {
	if len(tokens) == 0 {
		return Result{}, nil
	}

	chunks := Chunks(tokens, b.chunkSize)
	results := make([]Result, len(chunks))
	errs := make([]error, len(chunks))

	if b.concurrency == 1 || len(chunks) == 1 {
		for i, c := range chunks {
			results[i], errs[i] = b.sendChunk(ctx, i, c, msg)
			if errs[i] != nil {
				break
			}
		}
	} else {
		// each goroutine owns its slot; siblings keep running when one fails
		var g errgroup.Group
		g.SetLimit(b.concurrency)
		for i, c := range chunks {
			i, c := i, c
			g.Go(func() error {
				results[i], errs[i] = b.sendChunk(ctx, i, c, msg)
				return nil
			})
		}
		_ = g.Wait()
	}

	var total Result
	for _, r := range results {
		total.Add(r)
	}
	total.TotalTokens = len(tokens)
	err := firstGatewayError(errs)

	ev := b.log.Debug()
	if err != nil {
		ev = b.log.Warn().Err(err)
	}
	ev.Int("tokens", len(tokens)).Int("chunks", len(chunks)).
		Int("success", total.SuccessCount).Int("failure", total.FailureCount).Msg("multicast delivered")

	return total, err
}

func (b *Batcher) sendChunk(ctx context.Context, i int, tokens []string, msg Message) (Result, error) {
	resp, err := b.gateway.SendMulticast(ctx, tokens, msg)
	if err != nil {
		return Result{}, &GatewayError{Chunk: i, Err: err}
	}
	return Result{
		TotalTokens:  len(tokens),
		SuccessCount: resp.SuccessCount,
		FailureCount: resp.FailureCount,
	}, nil
}

func firstGatewayError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Chunks splits tokens into consecutive slices of at most size elements.
func Chunks(tokens []string, size int) [][]string {
	if size <= 0 {
		size = MaxMulticast
	}
	out := make([][]string, 0, (len(tokens)+size-1)/size)
	for i := 0; i < len(tokens); i += size {
		end := i + size
		if end > len(tokens) {
			end = len(tokens)
		}
		out = append(out, tokens[i:end])
	}
	return out
}
