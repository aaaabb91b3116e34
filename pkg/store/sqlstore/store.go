package sqlstore

import (
	"context"

	"bothost/pkg/config"
)

// Store aggregates all repositories
type Store struct {
	ds *Datastore

	Deployment   *DeploymentRepository
	Node         *NodeRepository
	Event        *EventRepository
	Notification *NotificationRepository
	Analytics    *AnalyticsRepository
	Trial        *TrialRepository
	Sale         *SaleRepository
	Exporter     *Exporter
}

// New opens the datastore and migrates the schema
func New(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	ds, err := NewDatastore(cfg)
	if err != nil {
		return nil, err
	}
	if err := ds.Migrate(ctx); err != nil {
		_ = ds.Close()
		return nil, err
	}
	return NewWithDatastore(ds), nil
}

// NewWithDatastore builds repositories on an opened datastore
func NewWithDatastore(ds *Datastore) *Store {
	return &Store{
		ds:           ds,
		Deployment:   NewDeploymentRepository(ds),
		Node:         NewNodeRepository(ds),
		Event:        NewEventRepository(ds),
		Notification: NewNotificationRepository(ds),
		Analytics:    NewAnalyticsRepository(ds),
		Trial:        NewTrialRepository(ds),
		Sale:         NewSaleRepository(ds),
		Exporter:     NewExporter(ds),
	}
}

// Datastore returns the underlying datastore for transaction support
func (s *Store) Datastore() *Datastore {
	return s.ds
}

// ExecTx runs fn in one transaction shared by every repository
func (s *Store) ExecTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.ds.ExecTx(ctx, fn)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.ds.Close()
}
