package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-fulfillment/internal/domain/coupon"
	"github.com/xenking/kart-fulfillment/internal/domain/order"
	"github.com/xenking/kart-fulfillment/internal/domain/tracking"
	"github.com/xenking/kart-fulfillment/internal/storage/mongodb"
	"github.com/xenking/kart-fulfillment/internal/storage/postgres"
	"github.com/xenking/kart-fulfillment/pkg/health"
)

// Storage is the system of record behind the domain services.
type Storage struct {
	Coupons  coupon.Repository
	Orders   order.Repository
	Trackers tracking.Repository
	// Check pings the underlying database.
	Check health.CheckFunc

	close func() error
}

// Close releases the database connections.
func (s *Storage) Close() error {
	return s.close()
}

// OpenStorage connects the configured driver and prepares its schema:
// migrations for PostgreSQL, indexes for MongoDB.
func OpenStorage(ctx context.Context, cfg StorageConfig) (*Storage, error) {
	switch cfg.Driver {
	case DriverMongoDB:
		db, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, errors.Wrap(err, "connect mongodb")
		}
		client := db.Client()
		closeFn := func() error {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(disconnectCtx)
		}
		if err := mongodb.EnsureIndexes(ctx, db); err != nil {
			_ = closeFn()
			return nil, errors.Wrap(err, "ensure indexes")
		}
		return &Storage{
			Coupons:  mongodb.NewCouponRepository(db),
			Orders:   mongodb.NewOrderRepository(db),
			Trackers: mongodb.NewTrackerRepository(db),
			Check:    health.MongoCheck(client),
			close:    closeFn,
		}, nil

	case DriverPostgres:
		if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, errors.Wrap(err, "run migrations")
		}
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		return &Storage{
			Coupons:  postgres.NewCouponRepository(pool),
			Orders:   postgres.NewOrderRepository(pool),
			Trackers: postgres.NewTrackerRepository(pool),
			Check:    health.PingCheck(pool),
			close: func() error {
				pool.Close()
				return nil
			},
		}, nil
	}
	return nil, errors.Errorf("unknown storage driver %q", cfg.Driver)
}
