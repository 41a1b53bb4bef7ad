// Package provider owns the process-wide store and gateway clients. They are
// built on first use, at most once successfully, and never replaced.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	firebase "firebase.google.com/go/v4"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"

	"github.com/mithileshchellappan/pushrelay/internal/config"
	"github.com/mithileshchellappan/pushrelay/internal/delivery"
	"github.com/mithileshchellappan/pushrelay/internal/fcm"
	"github.com/mithileshchellappan/pushrelay/internal/service"
	"github.com/mithileshchellappan/pushrelay/internal/storage"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Builder constructs the relay service and whatever must be closed with it.
type Builder func(ctx context.Context) (*service.RelayService, io.Closer, error)

type Provider struct {
	mu     sync.Mutex
	build  Builder
	relay  *service.RelayService
	closer io.Closer
	closed bool
}

func New(build Builder) *Provider {
	return &Provider{build: build}
}

// Relay returns the shared service, building it on the first call. A failed
// build is not cached; the next request tries again.
func (p *Provider) Relay(ctx context.Context) (*service.RelayService, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.relay != nil {
		return p.relay, nil
	}
	if p.closed {
		return nil, errors.New("provider closed")
	}

	relay, closer, err := p.build(ctx)
	if err != nil {
		return nil, err
	}
	p.relay, p.closer = relay, closer
	return relay, nil
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

// FromConfig wires the store and gateway drivers named in cfg.
func FromConfig(cfg *config.Config, log zerolog.Logger) *Provider {
	return New(func(ctx context.Context) (*service.RelayService, io.Closer, error) {
		var app *firebase.App
		if cfg.NeedsFirebase() {
			a, err := newFirebaseApp(ctx, cfg)
			if err != nil {
				return nil, nil, err
			}
			app = a
		}

		store, err := newStore(ctx, cfg, app)
		if err != nil {
			return nil, nil, err
		}

		gateway, err := newGateway(ctx, cfg, app, log)
		if err != nil {
			store.Close()
			return nil, nil, err
		}

		log.Info().Str("store", cfg.StoreDriver).Str("gateway", cfg.GatewayDriver).Msg("clients initialized")

		relay := service.NewRelayService(store, gateway, service.Options{
			DeliveryConcurrency: cfg.DeliveryConcurrency,
			LookupConcurrency:   cfg.LookupConcurrency,
		}, log)
		return relay, store, nil
	})
}

func newFirebaseApp(ctx context.Context, cfg *config.Config) (*firebase.App, error) {
	saJSON, err := cfg.ServiceAccount()
	if err != nil {
		return nil, err
	}

	creds, err := google.CredentialsFromJSON(ctx, saJSON, cloudPlatformScope)
	if err != nil {
		return nil, &config.Error{Key: "FIREBASE_SERVICE_ACCOUNT_JSON", Reason: "is not valid service account JSON"}
	}

	projectID := cfg.FirebaseProjectID
	if projectID == "" {
		projectID = creds.ProjectID
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}
	return app, nil
}

func newStore(ctx context.Context, cfg *config.Config, app *firebase.App) (storage.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		return storage.NewSQLStore(cfg.DatabaseURL)
	case config.StorePostgres:
		return storage.NewPostgresStore(cfg.DatabaseURL)
	case config.StoreFirestore:
		client, err := app.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("error getting firestore client: %w", err)
		}
		return storage.NewFirestoreStore(client), nil
	default:
		return nil, &config.Error{Key: "STORE_DRIVER", Reason: "unsupported"}
	}
}

func newGateway(ctx context.Context, cfg *config.Config, app *firebase.App, log zerolog.Logger) (delivery.Gateway, error) {
	switch cfg.GatewayDriver {
	case config.GatewayLog:
		return fcm.NewLogClient(log), nil
	case config.GatewayFCM:
		client, err := app.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("error getting messaging client: %w", err)
		}
		return fcm.NewClient(client), nil
	default:
		return nil, &config.Error{Key: "GATEWAY_DRIVER", Reason: "unsupported"}
	}
}
