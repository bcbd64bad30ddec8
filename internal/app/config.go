package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-fulfillment/internal/domain/shipping"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMongoDB  = "mongodb"
)

// Config holds the complete application configuration, loadable from
// environment variables (KART_ prefix), flags, or YAML config files.
type Config struct {
	Addr      string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage   StorageConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Warehouse WarehouseConfig
	Shipping  ShippingConfig
	Checkout  CheckoutConfig
	Tracking  TrackingConfig
	Repair    RepairConfig
	Discount  DiscountConfig
	RateLimit RateLimitConfig
	Graceful  GracefulConfig
}

// StorageConfig selects the system of record.
type StorageConfig struct {
	Driver        string `default:"postgres" usage:"Storage driver: postgres or mongodb"`
	DatabaseURL   string `usage:"PostgreSQL connection URL (KART_STORAGE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	MongoURI      string `usage:"MongoDB connection URI (KART_STORAGE_MONGO_URI or MONGODB_URI)" flag:"mongo-uri"`
	MongoDatabase string `default:"kart" usage:"MongoDB database name"`
}

// RedisConfig enables the cart store and tracker cache when URL is set.
type RedisConfig struct {
	URL        string        `usage:"Redis URL (KART_REDIS_URL or REDIS_URL); empty disables caching" flag:"redis-url"`
	CartTTL    time.Duration `default:"24h" usage:"Cart snapshot lifetime"`
	TrackerTTL time.Duration `default:"5m"  usage:"Tracker cache lifetime"`
}

// KafkaConfig enables order event publishing when Brokers is set.
type KafkaConfig struct {
	Brokers  []string `usage:"Kafka bootstrap brokers; empty disables publishing"`
	Topic    string   `default:"orders" usage:"Order events topic"`
	ClientID string   `default:"kart-fulfillment" usage:"Kafka client ID"`
}

// WarehouseConfig is where every shipment starts.
type WarehouseConfig struct {
	Latitude  float64 `default:"12.9716" usage:"Warehouse latitude"`
	Longitude float64 `default:"77.5946" usage:"Warehouse longitude"`
	Address   string  `default:"Central Warehouse, Bengaluru" usage:"Warehouse address shown on new trackers"`
}

// ShippingConfig is the shipping tariff.
type ShippingConfig struct {
	BaseCost      string  `default:"50" usage:"Flat shipping cost"`
	PerKM         string  `default:"2"  usage:"Cost per kilometre"`
	PerKG         string  `default:"10" usage:"Cost per kilogram"`
	DefaultWeight float64 `default:"1"  usage:"Weight in kg assumed when the cart has none"`
	SpeedKMH      float64 `default:"50" usage:"Average transit speed"`
	HoursPerDay   float64 `default:"8"  usage:"Driving hours per day"`
	JitterMinDays int     `default:"1"  usage:"Minimum processing days added to ETA"`
	JitterMaxDays int     `default:"2"  usage:"Maximum processing days added to ETA"`
}

// CheckoutConfig tunes order assembly.
type CheckoutConfig struct {
	TaxRate          string `default:"0" usage:"Tax rate applied to the subtotal, e.g. 0.18"`
	TrackingAttempts int    `default:"5" usage:"Tracking number draws before giving up"`
	ExpectedOrders   uint   `default:"100000" usage:"Sizing hint for the local tracking number filter"`
}

// TrackingConfig tunes tracker updates.
type TrackingConfig struct {
	StrictTransitions bool `default:"false" usage:"Reject status changes that move backwards or leave a terminal state"`
}

// RepairConfig tunes the background tracker repair loop.
type RepairConfig struct {
	Enabled  bool          `default:"true" usage:"Run the tracker repair loop"`
	Interval time.Duration `default:"1m"  usage:"Repair pass interval"`
	Grace    time.Duration `default:"30s" usage:"Minimum order age before repair"`
	Batch    int           `default:"100" usage:"Orders per repair pass"`
}

// DiscountConfig controls the accelerated discount backend.
type DiscountConfig struct {
	Native          bool   `default:"true" usage:"Use the native discount backend when compiled in"`
	BreakerFailures uint32 `default:"5"    usage:"Consecutive backend failures that open the breaker"`
}

// RateLimitConfig controls the per-client token bucket.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KART",
		Files:     []string{"config.yaml", "/etc/kart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("database URL is required: set KART_STORAGE_DATABASE_URL or DATABASE_URL")
		}
	case DriverMongoDB:
		if c.Storage.MongoURI == "" {
			return errors.New("mongo URI is required: set KART_STORAGE_MONGO_URI or MONGODB_URI")
		}
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if _, err := c.taxRate(); err != nil {
		return err
	}
	if _, err := c.shipping(); err != nil {
		return err
	}
	if !c.origin().Valid() {
		return errors.Errorf("warehouse coordinates out of range: %v,%v", c.Warehouse.Latitude, c.Warehouse.Longitude)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's KART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	fallback := func(dst *string, env string) {
		if *dst == "" {
			*dst = os.Getenv(env)
		}
	}
	fallback(&c.Storage.DatabaseURL, "DATABASE_URL")
	fallback(&c.Storage.MongoURI, "MONGODB_URI")
	fallback(&c.Redis.URL, "REDIS_URL")
	if len(c.Kafka.Brokers) == 0 {
		if v := os.Getenv("KAFKA_BROKERS"); v != "" {
			c.Kafka.Brokers = strings.Split(v, ",")
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) origin() shipping.Coordinates {
	return shipping.Coordinates{Latitude: c.Warehouse.Latitude, Longitude: c.Warehouse.Longitude}
}

func (c *Config) taxRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.Checkout.TaxRate)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "checkout tax rate %q", c.Checkout.TaxRate)
	}
	if rate.IsNegative() {
		return decimal.Zero, errors.Errorf("checkout tax rate %s is negative", rate)
	}
	return rate, nil
}

func (c *Config) shipping() (shipping.Config, error) {
	sc := c.Shipping
	out := shipping.Config{
		DefaultWeight: sc.DefaultWeight,
		SpeedKMH:      sc.SpeedKMH,
		HoursPerDay:   sc.HoursPerDay,
		JitterMinDays: sc.JitterMinDays,
		JitterMaxDays: sc.JitterMaxDays,
	}
	for _, f := range []struct {
		name string
		src  string
		dst  *decimal.Decimal
	}{
		{"base cost", sc.BaseCost, &out.BaseCost},
		{"per km", sc.PerKM, &out.PerKM},
		{"per kg", sc.PerKG, &out.PerKG},
	} {
		v, err := decimal.NewFromString(f.src)
		if err != nil {
			return out, errors.Wrapf(err, "shipping %s %q", f.name, f.src)
		}
		*f.dst = v
	}
	if out.SpeedKMH <= 0 || out.HoursPerDay <= 0 {
		return out, errors.New("shipping speed and hours per day must be positive")
	}
	if out.JitterMinDays < 0 || out.JitterMaxDays < out.JitterMinDays {
		return out, errors.Errorf("shipping jitter range [%d, %d] is invalid", out.JitterMinDays, out.JitterMaxDays)
	}
	return out, nil
}
