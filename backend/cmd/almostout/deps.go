package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/api/option"

	"github.com/almostout/almostout/backend/internal/activity"
	"github.com/almostout/almostout/backend/internal/config"
	"github.com/almostout/almostout/backend/internal/identity"
	"github.com/almostout/almostout/backend/internal/invite"
	"github.com/almostout/almostout/backend/internal/lists"
	"github.com/almostout/almostout/backend/internal/metrics"
	"github.com/almostout/almostout/backend/internal/notify"
	"github.com/almostout/almostout/backend/internal/server/handlers"
	"github.com/almostout/almostout/backend/internal/stats"
	"github.com/almostout/almostout/backend/internal/storage/docstore"
	"github.com/almostout/almostout/backend/internal/storage/docstore/fsstore"
	"github.com/almostout/almostout/backend/internal/storage/docstore/memstore"
	"github.com/almostout/almostout/backend/internal/sweeper"
)

// deps holds every long lived component of the process.
type deps struct {
	store    docstore.Store
	registry *prometheus.Registry
	metrics  *metrics.Collector
	verifier identity.Verifier
	notifier *notify.Dispatcher
	services *handlers.Services
	stats    *stats.Recalculator
	activity *activity.Logger
	sweeper  *sweeper.Sweeper
}

func newDeps(ctx context.Context, cfg *config.Config) (*deps, error) {
	d := &deps{registry: prometheus.NewRegistry()}
	d.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	d.metrics = metrics.NewCollector(d.registry)

	var app *firebase.App
	if cfg.Firebase.ProjectID != "" {
		var opts []option.ClientOption
		if cfg.Firebase.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
		}
		var err error
		app, err = firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.Firebase.ProjectID}, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize firebase: %w", err)
		}
	}

	switch cfg.Backend {
	case config.BackendFirestore:
		client, err := app.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to open firestore: %w", err)
		}
		d.store = fsstore.New(client)
	default:
		s, err := memstore.New(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open memory store: %w", err)
		}
		d.store = s
	}

	if err := d.initIdentity(ctx, cfg, app); err != nil {
		_ = d.store.Close()
		return nil, err
	}
	if err := d.initNotifier(ctx, cfg, app); err != nil {
		_ = d.store.Close()
		return nil, err
	}

	d.services = &handlers.Services{
		Store: d.store,
		Lists: lists.New(d.store, d.notifier),
		Invites: invite.New(d.store, invite.Options{
			AppDomain:         cfg.App.Domain,
			AppScheme:         cfg.App.Scheme,
			DefaultExpiration: cfg.DefaultExpiration(),
			Notifier:          d.notifier,
			Recorder:          d.metrics,
		}),
	}
	d.stats = stats.New(d.store, d.metrics)
	d.activity = activity.New(d.store, d.metrics)
	d.sweeper = sweeper.New(d.store)
	d.sweeper.Hour = cfg.Sweep.Hour
	d.sweeper.Minute = cfg.Sweep.Minute
	d.sweeper.BatchSize = cfg.Sweep.BatchSize
	d.sweeper.Recorder = d.metrics
	return d, nil
}

func (d *deps) initIdentity(ctx context.Context, cfg *config.Config, app *firebase.App) error {
	if cfg.Auth.JWTSecret != "" {
		v, err := identity.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.JWTIssuer)
		if err != nil {
			return err
		}
		d.verifier = v
		slog.InfoContext(ctx, "Using local JWT tokens", "issuer", cfg.Auth.JWTIssuer)
		return nil
	}
	if app == nil {
		return errors.New("no token verifier: set auth.jwt_secret or firebase.project_id")
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize firebase auth: %w", err)
	}
	v := identity.NewFirebaseVerifier(client)
	v.CheckRevoked = cfg.Auth.CheckRevoked
	d.verifier = v
	return nil
}

func (d *deps) initNotifier(ctx context.Context, cfg *config.Config, app *firebase.App) error {
	var mobile notify.MobileSender
	if app != nil {
		client, err := app.Messaging(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize firebase messaging: %w", err)
		}
		mobile = notify.NewFCMSender(client)
	}
	var web notify.WebSender
	if s := notify.NewWebPushSender(notify.VAPIDKeys{Public: cfg.WebPush.PublicKey, Private: cfg.WebPush.PrivateKey}, cfg.WebPush.Subscriber); s != nil {
		web = s
	}
	if mobile == nil && web == nil {
		slog.WarnContext(ctx, "Push notifications disabled, no sender configured")
	}
	d.notifier = notify.NewDispatcher(d.store, mobile, web, d.metrics)
	return nil
}

// Close waits for in flight notifications and closes the store.
func (d *deps) Close() {
	d.notifier.Wait()
	if err := d.store.Close(); err != nil {
		slog.Error("Failed to close store", "err", err)
	}
}
