// Package client assembles the conversation runtime from configuration:
// a durable storage backend, the conversation store with its event bus,
// the remote exchange client and the request lifecycle controller. It is
// a library facade, not a process entry point; the render surface and UI
// shell import it.
package client

import (
	"fmt"
	"time"

	"datasoph/client/config"
	"datasoph/client/conversation"
	"datasoph/client/logging"
	"datasoph/client/remote"
	"datasoph/client/request"
	"datasoph/client/storage"
)

// Runtime bundles the wired components.
type Runtime struct {
	Config     *config.Config
	Bus        *conversation.Bus
	Store      *conversation.Store
	Controller *request.Controller

	backend storage.Store
}

// New wires a runtime against the HTTP exchange at cfg.APIBaseURL.
func New(cfg *config.Config) (*Runtime, error) {
	return NewWithExchanger(cfg, remote.NewClient(cfg.APIBaseURL))
}

// NewWithExchanger is New with the transport supplied by the caller,
// which is how tests plug in a fake service.
func NewWithExchanger(cfg *config.Config, exchange remote.Exchanger) (*Runtime, error) {
	log := logging.Setup(cfg.LogLevel)

	backend, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}

	bus := conversation.NewBus()
	store := conversation.NewStore(backend, bus, conversation.Options{
		MessageWindow: cfg.MessageWindow,
		SessionLimit:  cfg.SessionLimit,
		Logger:        log,
	})
	controller := request.NewController(store, exchange, request.Options{
		UserID:        cfg.UserID,
		StageInterval: time.Duration(cfg.StageIntervalMS) * time.Millisecond,
		Logger:        log,
	})

	return &Runtime{
		Config:     cfg,
		Bus:        bus,
		Store:      store,
		Controller: controller,
		backend:    backend,
	}, nil
}

// Close detaches the store and releases the storage backend.
func (r *Runtime) Close() error {
	r.Store.Close()
	return r.backend.Close()
}

func openBackend(cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case "memory":
		return storage.NewMemoryStore(cfg.StorageQuotaBytes), nil
	case "sqlite":
		return storage.NewSQLiteStore(cfg.StoragePath, cfg.StorageQuotaBytes, nil)
	case "file", "":
		return storage.NewFileStore(cfg.StoragePath, cfg.StorageQuotaBytes, nil)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
