package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/PratikDhanave/record-ingestion-service/internal/config"
	"github.com/PratikDhanave/record-ingestion-service/internal/ingest"
	"github.com/PratikDhanave/record-ingestion-service/internal/ledger"
	"github.com/PratikDhanave/record-ingestion-service/internal/publish"
	"github.com/PratikDhanave/record-ingestion-service/internal/store"
	"github.com/PratikDhanave/record-ingestion-service/internal/validate"
)

// app holds the long-lived clients shared by every command.
type app struct {
	cfg       config.Config
	log       *slog.Logger
	store     store.Store
	ledger    ledger.Ledger
	publisher publish.Publisher
	closers   []func() error
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// newApp loads config and connects store, ledger and publisher.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: newLogger(cfg.LogLevel)}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("store: %w", err)
	}
	if err := a.openLedger(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("ledger: %w", err)
	}
	if err := a.openPublisher(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("publisher: %w", err)
	}
	a.log.Info("backends ready",
		"store", cfg.StoreBackend, "ledger", cfg.LedgerBackend, "publisher", cfg.PublisherBackend)
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.StoreBackend {
	case config.BackendGCS:
		s, err := store.NewGCSStore(ctx, a.cfg.GCSBucket)
		if err != nil {
			return err
		}
		a.store = s
		a.closers = append(a.closers, s.Close)
	case config.BackendMemory:
		a.store = store.NewMemoryStore()
	default:
		s, err := store.NewFSStore(a.cfg.StoreDir)
		if err != nil {
			return err
		}
		a.store = s
	}
	return nil
}

func (a *app) openLedger(ctx context.Context) error {
	switch a.cfg.LedgerBackend {
	case config.BackendPostgres:
		l, err := ledger.NewPostgresLedger(a.cfg.DBURL, a.cfg.ReservationTTL)
		if err != nil {
			return err
		}
		a.ledger = l
	case config.BackendMemory:
		a.ledger = ledger.NewMemoryLedger(a.cfg.ReservationTTL)
	default:
		l, err := ledger.NewSQLiteLedger(a.cfg.SQLitePath, a.cfg.ReservationTTL)
		if err != nil {
			return err
		}
		a.ledger = l
	}
	a.closers = append(a.closers, a.ledger.Close)

	// Ensure required tables/indexes exist so a fresh database is enough.
	if pg, ok := a.ledger.(*ledger.PostgresLedger); ok {
		return pg.EnsureSchema(ctx)
	}
	return nil
}

func (a *app) openPublisher(ctx context.Context) error {
	switch a.cfg.PublisherBackend {
	case config.BackendPubSub:
		p, err := publish.NewPubSubPublisher(ctx, a.cfg.GCPProjectID, a.cfg.PubSubTopic)
		if err != nil {
			return err
		}
		a.publisher = p
	case config.BackendMemory:
		a.publisher = publish.NewMemoryPublisher()
	default:
		a.publisher = publish.NewLogPublisher(a.log)
	}
	a.closers = append(a.closers, a.publisher.Close)
	return nil
}

func (a *app) orchestrator() *ingest.Orchestrator {
	v := validate.New(a.cfg.Limits())
	return ingest.New(v, a.ledger, a.store, a.publisher, ingest.Options{
		Workers:        a.cfg.Workers,
		PublishTimeout: a.cfg.PublishTimeout,
		Logger:         a.log,
	})
}

func (a *app) reconciler() *ingest.Reconciler {
	return ingest.NewReconciler(a.ledger, a.publisher, a.log, a.cfg.ReconcileBatch, a.cfg.PublishTimeout)
}

// Close releases clients in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.log != nil {
			a.log.Warn("close failed", "error", err)
		}
	}
}
