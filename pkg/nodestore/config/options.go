package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/tendant/nodestore/pkg/nodestore"
)

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabase configures the node repository backend. url is a file path
// for sqlite and flatfile.
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		if !databaseTypes[dbType] {
			return fmt.Errorf("unsupported database type: %s", dbType)
		}
		if dbType != DatabaseMemory && url == "" {
			return fmt.Errorf("database URL is required for %s", dbType)
		}
		c.Database.Type = dbType
		c.Database.URL = url
		return nil
	}
}

// WithDatabaseURL selects the backend from a URL as WithEnv does.
func WithDatabaseURL(url string) Option {
	return func(c *ServerConfig) error {
		if url == "" {
			return fmt.Errorf("database URL cannot be empty")
		}
		return applyDatabaseURL(url, c)
	}
}

// WithDatabaseName sets the mongo or neo4j database name
func WithDatabaseName(name string) Option {
	return func(c *ServerConfig) error {
		c.Database.Name = name
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.Database.Schema = schema
		return nil
	}
}

// WithDatabaseCredentials sets neo4j credentials
func WithDatabaseCredentials(username, password string) Option {
	return func(c *ServerConfig) error {
		c.Database.Username = username
		c.Database.Password = password
		return nil
	}
}

// WithAutoMigrate toggles migrations, index and constraint creation at build time
func WithAutoMigrate(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.Database.AutoMigrate = enabled
		return nil
	}
}

// WithFlatfileBackups enables periodic snapshot backups keeping retain copies
func WithFlatfileBackups(interval time.Duration, retain int) Option {
	return func(c *ServerConfig) error {
		if interval <= 0 {
			return fmt.Errorf("backup interval must be positive, got: %s", interval)
		}
		c.Database.BackupInterval = interval
		if retain > 0 {
			c.Database.BackupRetain = retain
		}
		return nil
	}
}

// WithFlatfileWatch reloads the snapshot when other processes change it
func WithFlatfileWatch(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.Database.Watch = enabled
		return nil
	}
}

// WithStorageURL selects the blob store from a URL as WithEnv does.
func WithStorageURL(url string) Option {
	return func(c *ServerConfig) error {
		if url == "" {
			return fmt.Errorf("storage URL cannot be empty")
		}
		return applyStorageURL(url, c)
	}
}

// WithMemoryStorage keeps blobs in memory (for testing)
func WithMemoryStorage() Option {
	return func(c *ServerConfig) error {
		c.Storage.Type = StorageMemory
		c.Storage.Config = map[string]interface{}{}
		return nil
	}
}

// WithFilesystemStorage stores blobs under baseDir
func WithFilesystemStorage(baseDir string) Option {
	return func(c *ServerConfig) error {
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.Storage.Type = StorageFS
		c.Storage.Config = map[string]interface{}{"base_dir": baseDir}
		return nil
	}
}

// WithS3Storage stores blobs in an S3 bucket
func WithS3Storage(bucket, region string) Option {
	return func(c *ServerConfig) error {
		if bucket == "" {
			return fmt.Errorf("S3 bucket cannot be empty")
		}
		if region == "" {
			region = "us-east-1"
		}
		c.Storage.Type = StorageS3
		c.Storage.Config = map[string]interface{}{
			"bucket": bucket,
			"region": region,
		}
		return nil
	}
}

// WithS3Endpoint sets a custom S3 endpoint (for MinIO, LocalStack, etc.)
func WithS3Endpoint(endpoint string, usePathStyle bool) Option {
	return func(c *ServerConfig) error {
		if c.Storage.Type != StorageS3 {
			return fmt.Errorf("S3 endpoint requires s3 storage, got: %s", c.Storage.Type)
		}
		c.Storage.Config["endpoint"] = endpoint
		c.Storage.Config["use_path_style"] = usePathStyle
		return nil
	}
}

// WithS3Credentials sets AWS credentials for S3 storage
func WithS3Credentials(accessKeyID, secretAccessKey string) Option {
	return func(c *ServerConfig) error {
		if c.Storage.Type != StorageS3 {
			return fmt.Errorf("S3 credentials require s3 storage, got: %s", c.Storage.Type)
		}
		c.Storage.Config["access_key_id"] = accessKeyID
		c.Storage.Config["secret_access_key"] = secretAccessKey
		return nil
	}
}

// WithEncryption encrypts blobs with the age identity in keyFile
func WithEncryption(keyFile string) Option {
	return func(c *ServerConfig) error {
		if keyFile == "" {
			return fmt.Errorf("encryption key file cannot be empty")
		}
		c.Storage.EncryptionKeyFile = keyFile
		return nil
	}
}

// WithAspectsFile loads aspect schemas from a YAML or JSON catalogue
func WithAspectsFile(path string) Option {
	return func(c *ServerConfig) error {
		if path == "" {
			return fmt.Errorf("aspects file cannot be empty")
		}
		c.AspectsFile = path
		return nil
	}
}

// WithEventLogging enables or disables event logging
func WithEventLogging(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.Events.Logging = enabled
		return nil
	}
}

// WithCloudEvents publishes lifecycle events to an HTTP CloudEvents target
func WithCloudEvents(target, source string) Option {
	return func(c *ServerConfig) error {
		if target == "" {
			return fmt.Errorf("CloudEvents target cannot be empty")
		}
		c.Events.URL = target
		if source != "" {
			c.Events.Source = source
		}
		return nil
	}
}

// WithMetrics instruments the repository, registering collectors with reg
// or the default registry when reg is nil
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *ServerConfig) error {
		c.EnableMetrics = true
		c.Registerer = reg
		return nil
	}
}

// WithLogger sets the logger handed to the service and backends
func WithLogger(logger nodestore.Logger) Option {
	return func(c *ServerConfig) error {
		c.Logger = logger
		return nil
	}
}

// WithDeleteConcurrency bounds parallel deletes per folder level
func WithDeleteConcurrency(n int) Option {
	return func(c *ServerConfig) error {
		if n <= 0 {
			return fmt.Errorf("delete concurrency must be positive, got: %d", n)
		}
		c.DeleteConcurrency = n
		return nil
	}
}

// WithDefaults resets everything applied so far to library defaults
func WithDefaults() Option {
	return func(c *ServerConfig) error {
		*c = defaults()
		return nil
	}
}

// WithFile overlays a TOML or YAML configuration file. Keys missing from
// the file keep their current values.
func WithFile(path string) Option {
	return func(c *ServerConfig) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}

		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".toml":
			if _, err := toml.Decode(string(data), c); err != nil {
				return fmt.Errorf("parsing %s: %w", path, err)
			}
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, c); err != nil {
				return fmt.Errorf("parsing %s: %w", path, err)
			}
		default:
			return fmt.Errorf("unsupported config file extension %q", ext)
		}

		if c.Storage.Config == nil {
			c.Storage.Config = map[string]interface{}{}
		}
		return nil
	}
}
