package badger

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catena/internal/common"
	"github.com/ternarybob/catena/internal/interfaces"
)

// Manager composes the individual stores over one Badger database plus the
// filesystem-backed artifact store.
type Manager struct {
	db              *BadgerDB
	logger          arbor.ILogger
	jobStorage      interfaces.JobStorage
	taskStorage     interfaces.TaskStorage
	linkStorage     interfaces.LinkStorage
	productStorage  interfaces.ProductStorage
	artifactStorage interfaces.ArtifactStorage
}

// NewManager creates the storage manager and all stores
func NewManager(logger arbor.ILogger, config *common.StorageConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, &config.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize badger: %w", err)
	}

	artifacts, err := NewArtifactStorage(config.Artifacts, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize artifact storage: %w", err)
	}

	return &Manager{
		db:              db,
		logger:          logger,
		jobStorage:      NewJobStorage(db, logger),
		taskStorage:     NewTaskStorage(db, logger),
		linkStorage:     NewLinkStorage(db, logger),
		productStorage:  NewProductStorage(db, logger),
		artifactStorage: artifacts,
	}, nil
}

func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.jobStorage
}

func (m *Manager) TaskStorage() interfaces.TaskStorage {
	return m.taskStorage
}

func (m *Manager) LinkStorage() interfaces.LinkStorage {
	return m.linkStorage
}

func (m *Manager) ProductStorage() interfaces.ProductStorage {
	return m.productStorage
}

func (m *Manager) ArtifactStorage() interfaces.ArtifactStorage {
	return m.artifactStorage
}

// DB exposes the underlying connection for the queue manager
func (m *Manager) DB() *BadgerDB {
	return m.db
}

func (m *Manager) Close() error {
	return m.db.Close()
}
