package appconf

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all the configuration settings for the server and the tracker client.
// Values come from the YAML file first, then FLEETLIVE_* environment variables, then
// command-line flags applied by each binary.
type Config struct {
	Env      Environment     `yaml:"-"`
	EnvName  string          `yaml:"env" validate:"omitempty,oneof=development test production prod"`
	Server   ServerConfig    `yaml:"server"`
	Store    StoreConfig     `yaml:"store"`
	Hub      HubConfig       `yaml:"hub"`
	Auth     AuthConfig      `yaml:"auth"`
	Geocode  GeocodeConfig   `yaml:"geocode"`
	Feed     FeedConfig      `yaml:"feed"`
	Vehicles []VehicleConfig `yaml:"vehicles" validate:"dive"`
}

type ServerConfig struct {
	Port int `yaml:"port" validate:"gte=0,lte=65535"`
	// RateLimit is the number of ingest requests per second allowed per subject.
	RateLimit int `yaml:"rateLimit" validate:"gte=0"`
}

type StoreConfig struct {
	Driver string `yaml:"driver" validate:"omitempty,oneof=sqlite postgres"`
	DSN    string `yaml:"dsn"`
}

type HubConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval" validate:"gte=0"`
	SendQueue         int           `yaml:"sendQueue" validate:"gte=0"`
}

// TokenConfig binds a bearer token to a subject and role. Token minting happens
// elsewhere; the server only checks presented tokens against this table.
type TokenConfig struct {
	Token   string `yaml:"token" validate:"required"`
	Subject string `yaml:"subject" validate:"required"`
	Role    string `yaml:"role" validate:"required"`
}

type AuthConfig struct {
	Tokens []TokenConfig `yaml:"tokens" validate:"dive"`
}

type GeocodeConfig struct {
	NominatimURL string        `yaml:"nominatimURL" validate:"omitempty,url"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
}

type FeedConfig struct {
	VehiclePositionsURL string        `yaml:"vehiclePositionsURL" validate:"omitempty,url"`
	Interval            time.Duration `yaml:"interval" validate:"gte=0"`
	AuthHeaderKey       string        `yaml:"authHeaderKey"`
	AuthHeaderValue     string        `yaml:"authHeaderValue"`
	// VehicleMap maps feed vehicle ids to fleet vehicle ids.
	VehicleMap map[string]int64 `yaml:"vehicleMap"`
}

type VehicleConfig struct {
	ID       int64  `yaml:"id" validate:"gt=0"`
	Label    string `yaml:"label"`
	Plate    string `yaml:"plate"`
	DriverID *int64 `yaml:"driverId" validate:"omitempty,gt=0"`
}

// FeedEnabled reports whether a GTFS-Realtime vehicle positions feed is configured.
func (c FeedConfig) FeedEnabled() bool {
	return c.VehiclePositionsURL != ""
}

const (
	DefaultPort              = 4000
	DefaultRateLimit         = 10
	DefaultStoreDriver       = "sqlite"
	DefaultStoreDSN          = "fleetlive.db"
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultSendQueue         = 64
	DefaultGeocodeTimeout    = 10 * time.Second
	DefaultFeedInterval      = 30 * time.Second
)

// Load reads an optional .env file, the YAML file at path (skipped when path is empty),
// applies FLEETLIVE_* overrides and defaults, and validates the result.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct tags on the whole configuration tree.
func Validate(cfg Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("FLEETLIVE_ENV"); v != "" {
		cfg.EnvName = v
	}
	if v := os.Getenv("FLEETLIVE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FLEETLIVE_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("FLEETLIVE_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("FLEETLIVE_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("FLEETLIVE_NOMINATIM_URL"); v != "" {
		cfg.Geocode.NominatimURL = v
	}
	if v := os.Getenv("FLEETLIVE_FEED_URL"); v != "" {
		cfg.Feed.VehiclePositionsURL = v
	}
	return nil
}

func applyDefaults(cfg *Config) {
	cfg.Env = EnvFlagToEnvironment(cfg.EnvName)
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = DefaultRateLimit
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DefaultStoreDriver
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = DefaultStoreDSN
		if cfg.Env == Test {
			cfg.Store.DSN = ":memory:"
		}
	}
	if cfg.Hub.HeartbeatInterval == 0 {
		cfg.Hub.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Hub.SendQueue == 0 {
		cfg.Hub.SendQueue = DefaultSendQueue
	}
	if cfg.Geocode.Timeout == 0 {
		cfg.Geocode.Timeout = DefaultGeocodeTimeout
	}
	if cfg.Feed.Interval == 0 {
		cfg.Feed.Interval = DefaultFeedInterval
	}
}
