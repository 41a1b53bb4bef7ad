package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/mithileshchellappan/pushrelay/internal/delivery"
	"github.com/mithileshchellappan/pushrelay/internal/dispatch"
	"github.com/mithileshchellappan/pushrelay/internal/event"
	"github.com/mithileshchellappan/pushrelay/internal/recipient"
	"github.com/mithileshchellappan/pushrelay/internal/storage"
	"github.com/mithileshchellappan/pushrelay/internal/tokens"
)

type Options struct {
	DeliveryConcurrency int
	LookupConcurrency   int
}

// RelayService is the operation set behind the HTTP endpoints.
type RelayService struct {
	resolver   *recipient.Resolver
	batcher    *delivery.Batcher
	dispatcher *dispatch.Dispatcher
	log        zerolog.Logger
}

func NewRelayService(store storage.Store, gateway delivery.Gateway, opts Options, log zerolog.Logger) *RelayService {
	adapter := tokens.NewAdapter(store, opts.LookupConcurrency, log)
	resolver := recipient.NewResolver(adapter, log)
	batcher := delivery.NewBatcher(gateway, log, delivery.WithConcurrency(opts.DeliveryConcurrency))

	return &RelayService{
		resolver:   resolver,
		batcher:    batcher,
		dispatcher: dispatch.New(store, resolver, batcher, log),
		log:        log.With().Str("component", "service").Logger(),
	}
}

// SendToToken delivers to one device and returns the provider message id.
func (s *RelayService) SendToToken(ctx context.Context, in recipient.SingleToken) (string, error) {
	return s.batcher.Send(ctx, in.Token, in.Message)
}

// SendToAdmins delivers to every admin token except the excluded sender.
// An empty admin set yields a zero result, not an error.
func (s *RelayService) SendToAdmins(ctx context.Context, in recipient.AdminBroadcast) (delivery.Result, error) {
	res, err := s.resolver.Resolve(ctx, in)
	if err != nil {
		return delivery.Result{}, err
	}
	if res.Tokens.Len() == 0 {
		s.log.Info().Msg("no admin tokens")
		return delivery.Result{}, nil
	}
	return s.batcher.Deliver(ctx, res.Tokens.Slice(), in.Message)
}

type UsernamesResult struct {
	delivery.Result
	Unresolved int `json:"unresolved"`
}

func (s *RelayService) SendToUsernames(ctx context.Context, in recipient.UsernameList) (UsernamesResult, error) {
	res, err := s.resolver.Resolve(ctx, in)
	if err != nil {
		return UsernamesResult{}, err
	}
	dr, err := s.batcher.Deliver(ctx, res.Tokens.Slice(), in.Message)
	return UsernamesResult{Result: dr, Unresolved: res.Unresolved}, err
}

// HandleTaskEvent classifies a task change and dispatches the outcome.
func (s *RelayService) HandleTaskEvent(ctx context.Context, ev event.TaskEvent) (event.Outcome, dispatch.Report, error) {
	out, err := event.Classify(ev)
	if err != nil {
		return out, dispatch.Report{}, err
	}
	if out.Class == event.NoOp {
		s.log.Debug().Str("task_id", ev.TaskID).Str("kind", string(ev.Kind)).Msg("task event ignored")
		return out, dispatch.Report{}, nil
	}
	rep, err := s.dispatcher.Dispatch(ctx, out)
	return out, rep, err
}
