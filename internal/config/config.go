// Package config provides configuration management for the game engine,
// loading a YAML file and applying environment variable overrides.
package config

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	contextutils "levelquest/internal/utils"

	"gopkg.in/yaml.v3"
)

// Store backends understood by StoreConfig.Backend
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMongo    = "mongo"
	StoreBackendMemory   = "memory"
)

// Config represents the application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server" yaml:"server"`

	// Database configuration (content catalog and the postgres store backend)
	Database DatabaseConfig `json:"database" yaml:"database"`

	// Store selects where sessions and aggregates live
	Store StoreConfig `json:"store" yaml:"store"`

	// Game rules and background job tuning
	Game GameConfig `json:"game" yaml:"game"`

	// Events configures realtime and broker notifications
	Events EventsConfig `json:"events" yaml:"events"`

	// OpenTelemetry configuration
	OpenTelemetry OpenTelemetryConfig `json:"open_telemetry" yaml:"open_telemetry"`

	IsTest bool `json:"is_test" yaml:"is_test"`
}

// ServerConfig holds HTTP server and worker settings
type ServerConfig struct {
	Port          string   `json:"port" yaml:"port"`
	WorkerPort    string   `json:"worker_port" yaml:"worker_port"`
	SessionSecret string   `json:"session_secret" yaml:"session_secret"`
	Debug         bool     `json:"debug" yaml:"debug"`
	LogLevel      string   `json:"log_level" yaml:"log_level"`
	CORSOrigins   []string `json:"cors_origins" yaml:"cors_origins"`
	// TrustUserHeader accepts the learner id from the X-User-ID header set by an upstream gateway
	TrustUserHeader bool `json:"trust_user_header" yaml:"trust_user_header"`
	// EmbedWorker runs the sweeper inside the API process
	EmbedWorker bool `json:"embed_worker" yaml:"embed_worker"`
	// WorkerInternalURL is where /v1/version looks up a standalone worker
	WorkerInternalURL string `json:"worker_internal_url" yaml:"worker_internal_url"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string        `json:"url" yaml:"url"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`       // Maximum number of open connections to the database
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`       // Maximum number of idle connections in the pool
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"` // Maximum amount of time a connection may be reused
	RunMigrations   bool          `json:"run_migrations" yaml:"run_migrations"`
}

// StoreConfig selects the session/aggregate persistence backend
type StoreConfig struct {
	Backend       string `json:"backend" yaml:"backend"` // postgres, mongo or memory
	MongoURI      string `json:"mongo_uri" yaml:"mongo_uri"`
	MongoDatabase string `json:"mongo_database" yaml:"mongo_database"`
	// CatalogSeedFile populates the in-memory content catalog used by the memory backend
	CatalogSeedFile string `json:"catalog_seed_file" yaml:"catalog_seed_file"`
}

// GameConfig holds the session rules and background job tuning
type GameConfig struct {
	SessionTTL               time.Duration `json:"session_ttl" yaml:"session_ttl"`
	SweepInterval            time.Duration `json:"sweep_interval" yaml:"sweep_interval"`
	MaxCommitRetries         int           `json:"max_commit_retries" yaml:"max_commit_retries"`
	Timezone                 string        `json:"timezone" yaml:"timezone"` // calendar used for streaks and daily activity
	AggregationRetryInterval time.Duration `json:"aggregation_retry_interval" yaml:"aggregation_retry_interval"`
	AggregationGrace         time.Duration `json:"aggregation_grace" yaml:"aggregation_grace"` // completed sessions younger than this are left to the request path
	RecentAttempts           int           `json:"recent_attempts" yaml:"recent_attempts"`
	MaxHistory               int           `json:"max_history" yaml:"max_history"` // worker run history kept in memory
}

// EventsConfig configures outbound notifications
type EventsConfig struct {
	AMQPURL          string `json:"amqp_url" yaml:"amqp_url"`
	AMQPExchange     string `json:"amqp_exchange" yaml:"amqp_exchange"`
	WebsocketEnabled bool   `json:"websocket_enabled" yaml:"websocket_enabled"`
}

// OpenTelemetryConfig holds OpenTelemetry configuration
type OpenTelemetryConfig struct {
	Endpoint       string            `json:"endpoint" yaml:"endpoint"`               // Default: "localhost:4317"
	Protocol       string            `json:"protocol" yaml:"protocol"`               // "grpc" or "http", default: "grpc"
	Insecure       bool              `json:"insecure" yaml:"insecure"`               // Default: true (for localhost)
	Headers        map[string]string `json:"headers" yaml:"headers"`                 // For authenticated endpoints
	ServiceName    string            `json:"service_name" yaml:"service_name"`       // Default: "levelquest-api" or "levelquest-worker"
	ServiceVersion string            `json:"service_version" yaml:"service_version"` // From version package
	EnableTracing  bool              `json:"enable_tracing" yaml:"enable_tracing"`
	EnableMetrics  bool              `json:"enable_metrics" yaml:"enable_metrics"`
	EnableLogging  bool              `json:"enable_logging" yaml:"enable_logging"`
	SamplingRate   float64           `json:"sampling_rate" yaml:"sampling_rate"` // Default: 1.0 (100%)
}

// NewConfig loads configuration from the config file and applies environment overrides
func NewConfig() (result0 *Config, err error) {
	config, err := loadConfigWithOverrides()
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to load config: %w", err)
	}

	config.overrideFromEnv()
	config.applyDefaults()

	return config, nil
}

// Default returns a configuration populated only with defaults, used by tests and the memory backend
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.WorkerPort == "" {
		c.Server.WorkerPort = "8081"
	}
	if c.Server.WorkerInternalURL == "" {
		c.Server.WorkerInternalURL = "http://localhost:" + c.Server.WorkerPort
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = DatabaseConnMaxLifetime
	}
	if c.Store.Backend == "" {
		c.Store.Backend = StoreBackendPostgres
	}
	if c.Store.MongoDatabase == "" {
		c.Store.MongoDatabase = "levelquest"
	}
	if c.Game.SessionTTL == 0 {
		c.Game.SessionTTL = DefaultSessionTTL
	}
	if c.Game.SweepInterval == 0 {
		c.Game.SweepInterval = DefaultSweepInterval
	}
	if c.Game.MaxCommitRetries == 0 {
		c.Game.MaxCommitRetries = DefaultMaxCommitRetries
	}
	if c.Game.Timezone == "" {
		c.Game.Timezone = "UTC"
	}
	if c.Game.AggregationRetryInterval == 0 {
		c.Game.AggregationRetryInterval = DefaultAggregationRetryInterval
	}
	if c.Game.AggregationGrace == 0 {
		c.Game.AggregationGrace = DefaultAggregationGrace
	}
	if c.Game.RecentAttempts == 0 {
		c.Game.RecentAttempts = DefaultRecentAttempts
	}
	if c.Game.MaxHistory == 0 {
		c.Game.MaxHistory = DefaultWorkerHistory
	}
	if c.Events.AMQPExchange == "" {
		c.Events.AMQPExchange = DefaultAMQPExchange
	}
	if c.OpenTelemetry.Protocol == "" {
		c.OpenTelemetry.Protocol = "grpc"
	}
	if c.OpenTelemetry.SamplingRate == 0 {
		c.OpenTelemetry.SamplingRate = 1.0
	}
}

// overrideFromEnv overrides config values with environment variables if they are set
func (c *Config) overrideFromEnv() {
	overrideStructFromEnv(c)
}

// overrideStructFromEnv recursively overrides struct fields with environment variables.
// The variable name is the upper-cased yaml path, e.g. GAME_SESSION_TTL.
func overrideStructFromEnv(v interface{}) {
	overrideStructFromEnvWithPrefix(v, "")
}

var durationType = reflect.TypeOf(time.Duration(0))

func overrideStructFromEnvWithPrefix(v interface{}, prefix string) {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return
	}

	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		if !field.CanSet() {
			continue
		}

		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}

		envKey := strings.ToUpper(strings.ReplaceAll(yamlTag, "-", "_"))
		if prefix != "" {
			envKey = prefix + "_" + envKey
		}

		envVal := os.Getenv(envKey)

		if field.Type() == durationType {
			if envVal != "" {
				if d, err := time.ParseDuration(envVal); err == nil {
					field.SetInt(int64(d))
				}
			}
			continue
		}

		switch field.Kind() {
		case reflect.String:
			if envVal != "" {
				field.SetString(envVal)
			}
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if envVal != "" {
				if intVal, err := strconv.ParseInt(envVal, 10, 64); err == nil {
					field.SetInt(intVal)
				}
			}
		case reflect.Float32, reflect.Float64:
			if envVal != "" {
				if floatVal, err := strconv.ParseFloat(envVal, 64); err == nil {
					field.SetFloat(floatVal)
				}
			}
		case reflect.Bool:
			if envVal != "" {
				if boolVal, err := strconv.ParseBool(envVal); err == nil {
					field.SetBool(boolVal)
				}
			}
		case reflect.Slice:
			if envVal != "" && field.Type().Elem().Kind() == reflect.String {
				field.Set(reflect.ValueOf(strings.Split(envVal, ",")))
			}
		case reflect.Struct:
			if field.CanAddr() {
				overrideStructFromEnvWithPrefix(field.Addr().Interface(), envKey)
			}
		case reflect.Ptr:
			if !field.IsNil() && field.Elem().Kind() == reflect.Struct {
				overrideStructFromEnvWithPrefix(field.Interface(), envKey)
			}
		}
	}
}

// loadConfigWithOverrides loads the config file named by LEVELQUEST_CONFIG_FILE, or config.yaml.
// A missing default config.yaml is not an error; defaults and environment variables apply.
func loadConfigWithOverrides() (result0 *Config, err error) {
	if envPath := os.Getenv("LEVELQUEST_CONFIG_FILE"); envPath != "" {
		config, err := loadConfigFromFile(envPath)
		if err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to load config from %s: %w", envPath, err)
		}
		return config, nil
	}

	config, err := loadConfigFromFile("config.yaml")
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	return config, err
}

// loadConfigFromFile loads configuration from a specific file
func loadConfigFromFile(path string) (result0 *Config, err error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(yamlFile, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
