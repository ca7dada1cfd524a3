// Package config loads ocifs configuration.
//
// Values come from, in increasing precedence: built-in defaults, OCIFS_*
// environment variables, the YAML file named by --config or OCIFS_CONFIG,
// and finally command line flags, which the CLI applies on top of the
// loaded Config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ocifs/ocifs-go/internal/storage"
)

const (
	BackendOCI      = "oci"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongoDB  = "mongodb"
)

// Config is the ocifs configuration.
type Config struct {
	// Backend selects the object store: oci, memory, postgres or mongodb.
	Backend string `yaml:"backend"`

	Region        string `yaml:"region"`
	Namespace     string `yaml:"namespace"`
	CompartmentID string `yaml:"compartment_id"`
	// EndpointTemplate may reference {namespace} and {region}.
	EndpointTemplate string `yaml:"endpoint_template"`
	// Endpoint overrides the template for every namespace.
	Endpoint string `yaml:"endpoint"`

	Credentials CredentialsConfig `yaml:"credentials"`
	Lake        LakeConfig        `yaml:"lake"`
	Upload      UploadConfig      `yaml:"upload"`
	Cache       CacheConfig       `yaml:"cache"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Mongo       MongoConfig       `yaml:"mongo"`
	Log         LogConfig         `yaml:"log"`

	// MetricsAddr serves Prometheus metrics when set, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`
}

// CredentialsConfig holds customer secret keys. A passwd file takes
// precedence over inline keys.
type CredentialsConfig struct {
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	PasswdFile      string `yaml:"passwd_file"`
}

// LakeConfig overrides the lake service endpoints.
type LakeConfig struct {
	// LakehouseTemplate may reference {region}.
	LakehouseTemplate string `yaml:"lakehouse_template"`
	// ObjectStorageTemplate may reference {region}.
	ObjectStorageTemplate string `yaml:"object_storage_template"`
	RetryMax              int    `yaml:"retry_max"`
}

// UploadConfig tunes the write and read engines.
type UploadConfig struct {
	BlockSize         int64 `yaml:"block_size"`
	Retries           int   `yaml:"retries"`
	FetchAttempts     int   `yaml:"fetch_attempts"`
	DeleteConcurrency int   `yaml:"delete_concurrency"`
}

// CacheConfig sizes the mount caches.
type CacheConfig struct {
	// StatTTL is how long a mount trusts file attributes, e.g. "30s".
	StatTTL string `yaml:"stat_ttl"`
	// Blocks is the number of read blocks a mount keeps.
	Blocks int `yaml:"blocks"`
}

type PostgresConfig struct {
	ConnStr string `yaml:"conn_str"`
	Table   string `yaml:"table"`
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendOCI,
		Lake: LakeConfig{
			RetryMax: 4,
		},
		Upload: UploadConfig{
			BlockSize:         5 << 20,
			Retries:           5,
			FetchAttempts:     10,
			DeleteConcurrency: 8,
		},
		Cache: CacheConfig{
			StatTTL: "30s",
			Blocks:  64,
		},
		Postgres: PostgresConfig{Table: "objects"},
		Mongo:    MongoConfig{Database: "ocifs", Collection: "objects"},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds a Config from defaults, the environment and, when path is
// not empty, the YAML file at path. An empty path falls back to
// OCIFS_CONFIG.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if path == "" {
		path = os.Getenv("OCIFS_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	strs := map[string]*string{
		"OCIFS_BACKEND":                 &c.Backend,
		"OCIFS_REGION":                  &c.Region,
		"OCIFS_NAMESPACE":               &c.Namespace,
		"OCIFS_COMPARTMENT_ID":          &c.CompartmentID,
		"OCIFS_ENDPOINT_TEMPLATE":       &c.EndpointTemplate,
		"OCIFS_ENDPOINT":                &c.Endpoint,
		"OCIFS_PASSWD_FILE":             &c.Credentials.PasswdFile,
		"OCIFS_LAKEHOUSE_TEMPLATE":      &c.Lake.LakehouseTemplate,
		"OCIFS_OBJECT_STORAGE_TEMPLATE": &c.Lake.ObjectStorageTemplate,
		"OCIFS_STAT_TTL":                &c.Cache.StatTTL,
		"OCIFS_POSTGRES_CONN_STR":       &c.Postgres.ConnStr,
		"OCIFS_MONGO_URI":               &c.Mongo.URI,
		"OCIFS_LOG_LEVEL":               &c.Log.Level,
		"OCIFS_LOG_FORMAT":              &c.Log.Format,
		"OCIFS_METRICS_ADDR":            &c.MetricsAddr,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"OCIFS_RETRIES":        &c.Upload.Retries,
		"OCIFS_FETCH_ATTEMPTS": &c.Upload.FetchAttempts,
		"OCIFS_CACHE_BLOCKS":   &c.Cache.Blocks,
	}
	for name, dst := range ints {
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
		*dst = n
	}

	if v, ok := lookup("OCIFS_BLOCK_SIZE"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid OCIFS_BLOCK_SIZE %q: %w", v, err)
		}
		c.Upload.BlockSize = n
	}
	return nil
}

// Validate checks the backend and the values flags cannot express wrongly.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOCI:
		if c.Region == "" {
			return fmt.Errorf("region is required for the %s backend", BackendOCI)
		}
	case BackendMemory:
	case BackendPostgres:
		if c.Postgres.ConnStr == "" {
			return fmt.Errorf("postgres.conn_str is required for the %s backend", BackendPostgres)
		}
	case BackendMongoDB:
		if c.Mongo.URI == "" {
			return fmt.Errorf("mongo.uri is required for the %s backend", BackendMongoDB)
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if _, err := c.StatTTL(); err != nil {
		return err
	}
	return nil
}

// StatTTL parses Cache.StatTTL. An empty value disables expiry.
func (c *Config) StatTTL() (time.Duration, error) {
	if c.Cache.StatTTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Cache.StatTTL)
	if err != nil {
		return 0, fmt.Errorf("invalid cache.stat_ttl %q: %w", c.Cache.StatTTL, err)
	}
	return d, nil
}

// StorageConfig describes the database backed store for the memory,
// postgres and mongodb backends.
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Type:            storage.BackendType(c.Backend),
		PostgresConnStr: c.Postgres.ConnStr,
		PostgresTable:   c.Postgres.Table,
		MongoURI:        c.Mongo.URI,
		MongoDatabase:   c.Mongo.Database,
		MongoCollection: c.Mongo.Collection,
	}
}
