package config

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/tendant/nodestore/pkg/nodestore"
	"github.com/tendant/nodestore/pkg/nodestore/aspects"
	cloudeventsink "github.com/tendant/nodestore/pkg/nodestore/events/cloudevents"
	"github.com/tendant/nodestore/pkg/nodestore/repo/flatfile"
	"github.com/tendant/nodestore/pkg/nodestore/repo/instrumented"
	"github.com/tendant/nodestore/pkg/nodestore/repo/memory"
	mongorepo "github.com/tendant/nodestore/pkg/nodestore/repo/mongo"
	neo4jrepo "github.com/tendant/nodestore/pkg/nodestore/repo/neo4j"
	repopg "github.com/tendant/nodestore/pkg/nodestore/repo/postgres"
	"github.com/tendant/nodestore/pkg/nodestore/repo/sqlite"
	"github.com/tendant/nodestore/pkg/nodestore/storage/encrypted"
	fsstorage "github.com/tendant/nodestore/pkg/nodestore/storage/fs"
	memorystorage "github.com/tendant/nodestore/pkg/nodestore/storage/memory"
	s3storage "github.com/tendant/nodestore/pkg/nodestore/storage/s3"
)

// Supported backend types.
const (
	DatabaseMemory   = "memory"
	DatabaseFlatfile = "flatfile"
	DatabaseSQLite   = "sqlite"
	DatabasePostgres = "postgres"
	DatabaseMongo    = "mongo"
	DatabaseNeo4j    = "neo4j"

	StorageMemory = "memory"
	StorageFS     = "fs"
	StorageS3     = "s3"
)

var (
	databaseTypes = map[string]bool{
		DatabaseMemory: true, DatabaseFlatfile: true, DatabaseSQLite: true,
		DatabasePostgres: true, DatabaseMongo: true, DatabaseNeo4j: true,
	}
	storageTypes = map[string]bool{StorageMemory: true, StorageFS: true, StorageS3: true}
	environments = map[string]bool{"development": true, "production": true, "testing": true}
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Environment: "development",
		Database: DatabaseConfig{
			Type:         DatabaseMemory,
			Name:         "nodestore",
			Schema:       "nodestore",
			AutoMigrate:  true,
			BackupRetain: 5,
		},
		Storage: StorageBackendConfig{
			Type:   StorageMemory,
			Config: map[string]interface{}{},
		},
		Events: EventsConfig{
			Logging: true,
			Source:  cloudeventsink.DefaultSource,
		},
		DeleteConcurrency: 8,
	}
}

// ServerConfig represents configuration for a node store service
type ServerConfig struct {
	Environment string `toml:"environment" yaml:"environment"` // development, production, testing

	Database DatabaseConfig       `toml:"database" yaml:"database"`
	Storage  StorageBackendConfig `toml:"storage" yaml:"storage"`
	Events   EventsConfig         `toml:"events" yaml:"events"`

	// AspectsFile is a YAML or JSON aspect catalogue.
	AspectsFile string `toml:"aspects_file" yaml:"aspects_file"`

	EnableMetrics     bool `toml:"enable_metrics" yaml:"enable_metrics"`
	DeleteConcurrency int  `toml:"delete_concurrency" yaml:"delete_concurrency"`

	Logger     nodestore.Logger      `toml:"-" yaml:"-"`
	Registerer prometheus.Registerer `toml:"-" yaml:"-"`
}

// DatabaseConfig selects and configures the node repository.
type DatabaseConfig struct {
	Type string `toml:"type" yaml:"type"`
	// URL is a connection string, or a file path for sqlite and flatfile.
	URL string `toml:"url" yaml:"url"`

	Name        string `toml:"name" yaml:"name"`     // mongo and neo4j database
	Schema      string `toml:"schema" yaml:"schema"` // postgres search_path
	Username    string `toml:"username" yaml:"username"`
	Password    string `toml:"password" yaml:"password"`
	AutoMigrate bool   `toml:"auto_migrate" yaml:"auto_migrate"`

	// Flatfile maintenance
	BackupInterval time.Duration `toml:"backup_interval" yaml:"backup_interval"`
	BackupRetain   int           `toml:"backup_retain" yaml:"backup_retain"`
	Watch          bool          `toml:"watch" yaml:"watch"`
}

// StorageBackendConfig represents configuration for the blob store
type StorageBackendConfig struct {
	Type   string                 `toml:"type" yaml:"type"` // "memory", "fs", "s3"
	Config map[string]interface{} `toml:"config" yaml:"config"`
	// EncryptionKeyFile, when set, encrypts blobs with the age identity it holds.
	EncryptionKeyFile string `toml:"encryption_key_file" yaml:"encryption_key_file"`
}

// EventsConfig selects the event sinks.
type EventsConfig struct {
	Logging bool   `toml:"logging" yaml:"logging"`
	URL     string `toml:"url" yaml:"url"` // CloudEvents HTTP target
	Source  string `toml:"source" yaml:"source"`
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if !environments[c.Environment] {
		return fmt.Errorf("environment must be development, production or testing, got %q", c.Environment)
	}

	if !databaseTypes[c.Database.Type] {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.Database.Type != DatabaseMemory && c.Database.URL == "" {
		return fmt.Errorf("database url is required when using %s", c.Database.Type)
	}
	if c.Database.BackupInterval < 0 {
		return errors.New("backup interval cannot be negative")
	}

	if !storageTypes[c.Storage.Type] {
		return fmt.Errorf("unsupported storage backend type: %s", c.Storage.Type)
	}
	if c.Storage.Type == StorageFS && getString(c.Storage.Config, "base_dir", "") == "" {
		return errors.New("base_dir is required for fs storage")
	}
	if c.Storage.Type == StorageS3 && getString(c.Storage.Config, "bucket", "") == "" {
		return errors.New("bucket is required for s3 storage")
	}

	if c.DeleteConcurrency <= 0 {
		return fmt.Errorf("delete concurrency must be positive, got: %d", c.DeleteConcurrency)
	}

	return nil
}

// Runtime is a built service together with the resources it owns.
type Runtime struct {
	Service    nodestore.Service
	Repository nodestore.NodeRepository
	BlobStore  nodestore.BlobStore
	Aspects    *aspects.Registry

	closers []func() error
}

// Close releases repository connections and background workers.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *Runtime) onClose(fn func() error) {
	r.closers = append(r.closers, fn)
}

// BuildService creates a Service instance from the server configuration.
// Use Build when the repository connection must be released.
func (c *ServerConfig) BuildService() (nodestore.Service, error) {
	rt, err := c.Build(context.Background())
	if err != nil {
		return nil, err
	}
	return rt.Service, nil
}

// Build wires the repository, blob store, aspects and event sinks into a
// service.
func (c *ServerConfig) Build(ctx context.Context) (*Runtime, error) {
	logger := c.logger()
	rt := &Runtime{}

	repo, err := c.buildRepository(ctx, rt, logger)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	if c.EnableMetrics {
		reg := c.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		metrics, err := instrumented.NewMetrics(reg)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		repo = instrumented.New(repo, metrics, c.Database.Type)
	}
	rt.Repository = repo

	store, err := c.buildStorageBackend(c.Storage)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build storage backend %s: %w", c.Storage.Type, err)
	}
	rt.BlobStore = store

	rt.Aspects = aspects.NewRegistry()
	if c.AspectsFile != "" {
		if rt.Aspects, err = aspects.LoadFile(c.AspectsFile); err != nil {
			rt.Close()
			return nil, err
		}
	}

	sink, err := c.buildEventSink(logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	svc, err := nodestore.New(
		nodestore.WithRepository(repo),
		nodestore.WithBlobStore(store),
		nodestore.WithAspectResolver(rt.Aspects),
		nodestore.WithEventSink(sink),
		nodestore.WithLogger(logger),
		nodestore.WithDeleteConcurrency(c.DeleteConcurrency),
	)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Service = svc
	return rt, nil
}

func (c *ServerConfig) logger() nodestore.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop().Sugar()
}

// buildRepository creates a NodeRepository based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context, rt *Runtime, logger nodestore.Logger) (nodestore.NodeRepository, error) {
	db := c.Database
	switch db.Type {
	case DatabaseMemory:
		return memory.New(), nil

	case DatabaseFlatfile:
		repo, err := flatfile.Open(flatfile.Config{
			Path:           db.URL,
			BackupInterval: db.BackupInterval,
			BackupRetain:   db.BackupRetain,
			Logger:         logger,
		})
		if err != nil {
			return nil, err
		}
		rt.onClose(repo.Close)
		if db.Watch {
			if err := repo.Watch(ctx, nil); err != nil {
				return nil, err
			}
		}
		return repo, nil

	case DatabaseSQLite:
		repo, err := sqlite.Open(db.URL)
		if err != nil {
			return nil, err
		}
		rt.onClose(repo.Close)
		return repo, nil

	case DatabasePostgres:
		pool, err := newPostgresPool(ctx, db.URL, db.Schema)
		if err != nil {
			return nil, err
		}
		rt.onClose(func() error { pool.Close(); return nil })
		if db.AutoMigrate {
			if err := repopg.Migrate(pool); err != nil {
				return nil, fmt.Errorf("failed to migrate postgres: %w", err)
			}
		}
		return repopg.NewWithPool(pool), nil

	case DatabaseMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(db.URL))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		rt.onClose(func() error { return client.Disconnect(context.Background()) })
		if err := client.Ping(ctx, nil); err != nil {
			return nil, fmt.Errorf("mongo ping failed: %w", err)
		}
		repo := mongorepo.New(client.Database(db.Name))
		if db.AutoMigrate {
			if err := repo.EnsureIndexes(ctx); err != nil {
				return nil, err
			}
		}
		return repo, nil

	case DatabaseNeo4j:
		repo, err := neo4jrepo.New(ctx, neo4jrepo.Config{
			URI:      db.URL,
			Username: db.Username,
			Password: db.Password,
			Database: db.Name,
		})
		if err != nil {
			return nil, err
		}
		rt.onClose(func() error { return repo.Close(context.Background()) })
		if db.AutoMigrate {
			if err := repo.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		return repo, nil

	default:
		return nil, fmt.Errorf("unsupported database type: %s", db.Type)
	}
}

func newPostgresPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// PingPostgres verifies connectivity to Postgres and optionally sets search_path for the session.
func PingPostgres(databaseURL, schema string) error {
	if databaseURL == "" {
		return errors.New("database_url is required")
	}
	pool, err := newPostgresPool(context.Background(), databaseURL, schema)
	if err != nil {
		return err
	}
	defer pool.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// buildStorageBackend creates a BlobStore based on the backend configuration
func (c *ServerConfig) buildStorageBackend(config StorageBackendConfig) (nodestore.BlobStore, error) {
	var store nodestore.BlobStore
	switch config.Type {
	case StorageMemory:
		store = memorystorage.New()

	case StorageFS:
		backend, err := fsstorage.New(fsstorage.Config{
			BaseDir:     getString(config.Config, "base_dir", "./data/storage"),
			ShardLength: getInt(config.Config, "shard_length", 0),
		})
		if err != nil {
			return nil, err
		}
		store = backend

	case StorageS3:
		backend, err := s3storage.New(s3storage.Config{
			Region:                 getString(config.Config, "region", "us-east-1"),
			Bucket:                 getString(config.Config, "bucket", ""),
			Prefix:                 getString(config.Config, "prefix", ""),
			AccessKeyID:            getString(config.Config, "access_key_id", ""),
			SecretAccessKey:        getString(config.Config, "secret_access_key", ""),
			Endpoint:               getString(config.Config, "endpoint", ""),
			UsePathStyle:           getBool(config.Config, "use_path_style", false),
			EnableSSE:              getBool(config.Config, "enable_sse", false),
			SSEAlgorithm:           getString(config.Config, "sse_algorithm", "AES256"),
			SSEKMSKeyID:            getString(config.Config, "sse_kms_key_id", ""),
			CreateBucketIfNotExist: getBool(config.Config, "create_bucket_if_not_exist", false),
		})
		if err != nil {
			return nil, err
		}
		store = backend

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", config.Type)
	}

	if config.EncryptionKeyFile != "" {
		return encrypted.NewFromFile(store, config.EncryptionKeyFile)
	}
	return store, nil
}

func (c *ServerConfig) buildEventSink(logger nodestore.Logger) (nodestore.EventSink, error) {
	var sinks nodestore.MultiEventSink
	if c.Events.Logging {
		sinks = append(sinks, nodestore.NewLoggingEventSink(logger))
	}
	if c.Events.URL != "" {
		sink, err := cloudeventsink.NewHTTP(c.Events.URL, c.Events.Source)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}

	switch len(sinks) {
	case 0:
		return nodestore.NewNoopEventSink(), nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

func getString(config map[string]interface{}, key string, defaultValue string) string {
	if value, exists := config[key]; exists {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return defaultValue
}

func getBool(config map[string]interface{}, key string, defaultValue bool) bool {
	if value, exists := config[key]; exists {
		if b, ok := value.(bool); ok {
			return b
		}
		if str, ok := value.(string); ok {
			if b, err := strconv.ParseBool(str); err == nil {
				return b
			}
		}
	}
	return defaultValue
}

func getInt(config map[string]interface{}, key string, defaultValue int) int {
	if value, exists := config[key]; exists {
		switch v := value.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		case string:
			if i, err := strconv.Atoi(v); err == nil {
				return i
			}
		}
	}
	return defaultValue
}
