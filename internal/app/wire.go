package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xelth-com/chatrelay/internal/bus"
	"github.com/xelth-com/chatrelay/internal/codec"
	"github.com/xelth-com/chatrelay/internal/config"
	"github.com/xelth-com/chatrelay/internal/database"
	"github.com/xelth-com/chatrelay/internal/handlers"
	"github.com/xelth-com/chatrelay/internal/models"
	"github.com/xelth-com/chatrelay/internal/services/relay"
	"github.com/xelth-com/chatrelay/internal/store"
	"github.com/xelth-com/chatrelay/internal/websocket"
)

// Wire bundles the stores, services and transport of one relay process.
type Wire struct {
	Codec       *codec.Codec
	Provisioned bool
	Store       *store.MessageStore
	Bus         *bus.Bus[models.Message]
	Relay       *relay.Service
	Hub         *websocket.Hub
	Router      *handlers.Router

	db *database.DB
}

// NewWire constructs the dependency graph from cfg.
func NewWire(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Wire, error) {
	if log == nil {
		log = zap.NewNop()
	}

	c, provisioned, err := codec.FromConfig(cfg.EncKey, cfg.DeriveKey, log.Named("codec"))
	if err != nil {
		return nil, err
	}

	backend, db, err := openBackend(cfg, log)
	if err != nil {
		return nil, err
	}

	st := store.Open(ctx, c, backend, store.WithLogger(log.Named("store")))
	b := bus.New[models.Message](cfg.Realtime.SubscriberBuffer, log.Named("bus"))
	svc := relay.NewService(st, b, log.Named("relay"))
	hub := websocket.NewHub(svc, log.Named("ws"))

	return &Wire{
		Codec:       c,
		Provisioned: provisioned,
		Store:       st,
		Bus:         b,
		Relay:       svc,
		Hub:         hub,
		Router:      handlers.NewRouter(svc, hub, log.Named("http")),
		db:          db,
	}, nil
}

// Close releases the database, if one was opened.
func (w *Wire) Close() error {
	if w.db == nil {
		return nil
	}
	return w.db.Close()
}

func openBackend(cfg *config.Config, log *zap.Logger) (store.Backend, *database.DB, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		log.Warn("memory store selected, messages are lost on exit")
		return store.MemoryBackend{}, nil, nil

	case config.BackendFile:
		return store.NewFileBackend(cfg.Store.MessagesFile), nil, nil

	case config.BackendSQLite:
		db, err := database.OpenSQLite(cfg.Store.SQLitePath, log.Named("db"))
		if err != nil {
			return nil, nil, err
		}
		backend, err := store.NewSQLBackend(db.DB)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return backend, db, nil

	case config.BackendPostgres:
		db, err := database.Connect(cfg.Database, log.Named("db"))
		if err != nil {
			return nil, nil, err
		}
		backend, err := store.NewSQLBackend(db.DB)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return backend, db, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}
