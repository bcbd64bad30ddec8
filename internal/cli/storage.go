// Package cli holds flag handling shared by the maintenance commands.
package cli

import (
	"flag"
	"os"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-fulfillment/internal/app"
)

// StorageFlags registers the storage connection flags on fs.
func StorageFlags(fs *flag.FlagSet) *app.StorageConfig {
	cfg := &app.StorageConfig{}
	fs.StringVar(&cfg.Driver, "driver", app.DriverPostgres, "storage driver: postgres or mongodb")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	fs.StringVar(&cfg.MongoURI, "mongo-uri", "", "MongoDB connection URI (or MONGODB_URI env)")
	fs.StringVar(&cfg.MongoDatabase, "mongo-db", "kart", "MongoDB database name")
	return cfg
}

// ResolveStorage fills connection strings left empty from the platform
// environment and checks the driver has what it needs.
func ResolveStorage(cfg *app.StorageConfig) error {
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.MongoURI == "" {
		cfg.MongoURI = os.Getenv("MONGODB_URI")
	}
	switch cfg.Driver {
	case app.DriverPostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("database URL is required: set --database-url or DATABASE_URL")
		}
	case app.DriverMongoDB:
		if cfg.MongoURI == "" {
			return errors.New("mongo URI is required: set --mongo-uri or MONGODB_URI")
		}
	default:
		return errors.Errorf("unknown storage driver %q", cfg.Driver)
	}
	return nil
}
