package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// envConfig lists the NODESTORE_* variables read by WithEnv.
type envConfig struct {
	Environment string `env:"NODESTORE_ENVIRONMENT" env-description:"development, production or testing"`

	DatabaseURL      string `env:"NODESTORE_DATABASE_URL" env-description:"memory, flatfile://, sqlite://, postgres://, mongodb:// or neo4j:// URL"`
	DatabaseName     string `env:"NODESTORE_DATABASE_NAME" env-description:"mongo or neo4j database name"`
	DatabaseSchema   string `env:"NODESTORE_DATABASE_SCHEMA" env-description:"postgres search_path"`
	DatabaseUser     string `env:"NODESTORE_DATABASE_USER" env-description:"neo4j user"`
	DatabasePassword string `env:"NODESTORE_DATABASE_PASSWORD" env-description:"neo4j password"`

	StorageURL        string `env:"NODESTORE_STORAGE_URL" env-description:"memory://, file:///path or s3://bucket?region=...&endpoint=..."`
	EncryptionKeyFile string `env:"NODESTORE_ENCRYPTION_KEY_FILE" env-description:"age identity file encrypting blobs"`

	AspectsFile       string `env:"NODESTORE_ASPECTS_FILE" env-description:"aspect catalogue (yaml or json)"`
	EventsURL         string `env:"NODESTORE_EVENTS_URL" env-description:"CloudEvents HTTP target"`
	EventLogging      string `env:"NODESTORE_EVENT_LOGGING" env-description:"log lifecycle events (bool)"`
	Metrics           string `env:"NODESTORE_METRICS" env-description:"instrument the repository (bool)"`
	DeleteConcurrency string `env:"NODESTORE_DELETE_CONCURRENCY" env-description:"parallel deletes per folder level"`
}

// EnvUsage describes the variables understood by WithEnv.
func EnvUsage() (string, error) {
	var env envConfig
	return cleanenv.GetDescription(&env, nil)
}

// WithEnv applies NODESTORE_* environment variable overrides.
//
// The database and blob store are selected by URL:
//
//	NODESTORE_DATABASE_URL  memory | flatfile:///srv/nodes.yaml | sqlite:///srv/nodes.db |
//	                        postgres://... | mongodb://... | neo4j://... (bolt:// too)
//	NODESTORE_STORAGE_URL   memory:// | file:///srv/blobs | s3://bucket?region=us-east-1
//
// S3 credentials come from AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		var env envConfig
		if err := cleanenv.ReadEnv(&env); err != nil {
			return fmt.Errorf("reading environment: %w", err)
		}

		if env.Environment != "" {
			c.Environment = env.Environment
		}
		if err := applyDatabaseURL(env.DatabaseURL, c); err != nil {
			return err
		}
		if env.DatabaseName != "" {
			c.Database.Name = env.DatabaseName
		}
		if env.DatabaseSchema != "" {
			c.Database.Schema = env.DatabaseSchema
		}
		if env.DatabaseUser != "" {
			c.Database.Username = env.DatabaseUser
		}
		if env.DatabasePassword != "" {
			c.Database.Password = env.DatabasePassword
		}

		if err := applyStorageURL(env.StorageURL, c); err != nil {
			return err
		}
		if env.EncryptionKeyFile != "" {
			c.Storage.EncryptionKeyFile = env.EncryptionKeyFile
		}

		if env.AspectsFile != "" {
			c.AspectsFile = env.AspectsFile
		}
		if env.EventsURL != "" {
			c.Events.URL = env.EventsURL
		}
		if err := parseBool("NODESTORE_EVENT_LOGGING", env.EventLogging, &c.Events.Logging); err != nil {
			return err
		}
		if err := parseBool("NODESTORE_METRICS", env.Metrics, &c.EnableMetrics); err != nil {
			return err
		}
		if env.DeleteConcurrency != "" {
			n, err := strconv.Atoi(env.DeleteConcurrency)
			if err != nil {
				return fmt.Errorf("invalid integer for NODESTORE_DELETE_CONCURRENCY: %w", err)
			}
			c.DeleteConcurrency = n
		}
		return nil
	}
}

func parseBool(key, raw string, dst *bool) error {
	if raw == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid boolean for %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

// applyDatabaseURL derives the database type from the URL scheme. Empty
// values leave the configuration unchanged.
func applyDatabaseURL(raw string, c *ServerConfig) error {
	switch {
	case raw == "":
		return nil
	case raw == "memory" || raw == "memory://":
		c.Database.Type = DatabaseMemory
		c.Database.URL = ""
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		c.Database.Type = DatabasePostgres
		c.Database.URL = raw
	case strings.HasPrefix(raw, "mongodb://"), strings.HasPrefix(raw, "mongodb+srv://"):
		c.Database.Type = DatabaseMongo
		c.Database.URL = raw
	case strings.HasPrefix(raw, "neo4j://"), strings.HasPrefix(raw, "neo4j+s://"), strings.HasPrefix(raw, "bolt://"):
		c.Database.Type = DatabaseNeo4j
		c.Database.URL = raw
	case strings.HasPrefix(raw, "sqlite://"):
		path := strings.TrimPrefix(raw, "sqlite://")
		if path == "" {
			return fmt.Errorf("sqlite path cannot be empty in database url")
		}
		c.Database.Type = DatabaseSQLite
		c.Database.URL = path
	case strings.HasPrefix(raw, "flatfile://"):
		path := strings.TrimPrefix(raw, "flatfile://")
		if path == "" {
			return fmt.Errorf("flatfile path cannot be empty in database url")
		}
		c.Database.Type = DatabaseFlatfile
		c.Database.URL = path
	default:
		return fmt.Errorf("unsupported database url format: %s", raw)
	}
	return nil
}

// applyStorageURL derives the blob store from the URL scheme. Empty values
// leave the configuration unchanged.
func applyStorageURL(raw string, c *ServerConfig) error {
	switch {
	case raw == "":
		return nil
	case raw == "memory" || raw == "memory://":
		c.Storage.Type = StorageMemory
		c.Storage.Config = map[string]interface{}{}
		return nil
	case strings.HasPrefix(raw, "file://"):
		path := strings.TrimPrefix(raw, "file://")
		if path == "" {
			return fmt.Errorf("filesystem path cannot be empty in storage url")
		}
		c.Storage.Type = StorageFS
		c.Storage.Config = map[string]interface{}{"base_dir": filepath.Clean(path)}
		return nil
	case strings.HasPrefix(raw, "s3://"):
		return applyS3Storage(raw, c)
	}
	return fmt.Errorf("unsupported storage url format: %s (use 'memory://', 'file://...', or 's3://...')", raw)
}

// applyS3Storage configures S3 storage from a URL of the form
// s3://bucket/prefix?region=us-east-1&endpoint=http://localhost:9000&path_style=true
func applyS3Storage(raw string, c *ServerConfig) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid storage url: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("S3 bucket name cannot be empty in storage url")
	}

	cfg := map[string]interface{}{
		"bucket": u.Host,
		"region": "us-east-1",
	}
	if prefix := strings.Trim(u.Path, "/"); prefix != "" {
		cfg["prefix"] = prefix
	}
	q := u.Query()
	if v := q.Get("region"); v != "" {
		cfg["region"] = v
	}
	if v := q.Get("endpoint"); v != "" {
		cfg["endpoint"] = v
	}
	if v := q.Get("path_style"); v != "" {
		cfg["use_path_style"] = v
	}
	if v := q.Get("create_bucket"); v != "" {
		cfg["create_bucket_if_not_exist"] = v
	}

	if accessKey, ok := os.LookupEnv("AWS_ACCESS_KEY_ID"); ok && accessKey != "" {
		cfg["access_key_id"] = accessKey
	}
	if secretKey, ok := os.LookupEnv("AWS_SECRET_ACCESS_KEY"); ok && secretKey != "" {
		cfg["secret_access_key"] = secretKey
	}
	if region, ok := os.LookupEnv("AWS_REGION"); ok && region != "" && q.Get("region") == "" {
		cfg["region"] = region
	}

	c.Storage.Type = StorageS3
	c.Storage.Config = cfg
	return nil
}
