package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tendant/nodestore/pkg/nodestore"
	"github.com/tendant/nodestore/pkg/nodestore/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	verbose    bool
	user       string
	groups     []string
}

func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "nodestore",
		Short: "Hierarchical node store CLI",
		Long: `Command line interface to a node store.

The repository and blob store are selected by NODESTORE_DATABASE_URL and
NODESTORE_STORAGE_URL or a --config file. Run "nodestore env" for the full
list of variables. In-memory storage is used when nothing is configured.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "config file (.toml, .yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&flags.user, "as", os.Getenv("USER"), "acting user (node owner)")
	rootCmd.PersistentFlags().StringSliceVar(&flags.groups, "groups", nil, "groups of the acting user")

	rootCmd.AddCommand(
		NewCreateCommand(flags),
		NewMkdirCommand(flags),
		NewUploadCommand(flags),
		NewGetCommand(flags),
		NewUpdateCommand(flags),
		NewListCommand(flags),
		NewFindCommand(flags),
		NewEvaluateCommand(flags),
		NewBreadcrumbsCommand(flags),
		NewDeleteCommand(flags),
		NewCopyCommand(flags),
		NewDuplicateCommand(flags),
		NewExportCommand(flags),
		NewKeygenCommand(),
		NewEnvCommand(),
	)

	return rootCmd
}

// app is a configured service bound to one command invocation.
type app struct {
	rt     *config.Runtime
	ctx    context.Context
	out    io.Writer
	logger *zap.SugaredLogger
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.DisableStacktrace = !verbose
	return cfg.Build()
}

// openApp loads configuration from the optional file then the environment
// and builds the service. The caller must call close.
func openApp(cmd *cobra.Command, flags *globalFlags) (*app, error) {
	logger, err := newLogger(flags.verbose)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	sugar := logger.Sugar()

	opts := []config.Option{config.WithLogger(sugar)}
	if flags.configFile != "" {
		opts = append(opts, config.WithFile(flags.configFile))
	}
	opts = append(opts, config.WithEnv())

	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	sugar.Debugw("Configuration loaded",
		"database", cfg.Database.Type,
		"storage", cfg.Storage.Type,
		"encrypted", cfg.Storage.EncryptionKeyFile != "",
	)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := cfg.Build(ctx)
	if err != nil {
		return nil, err
	}

	if flags.user != "" || len(flags.groups) > 0 {
		ctx = nodestore.WithPrincipal(ctx, nodestore.Principal{Email: flags.user, Groups: flags.groups})
	}
	return &app{rt: rt, ctx: ctx, out: cmd.OutOrStdout(), logger: sugar}, nil
}

func (a *app) close() {
	if err := a.rt.Close(); err != nil {
		a.logger.Warnf("Closing resources: %v", err)
	}
	_ = a.logger.Sync()
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// run opens the app, executes fn and closes the app.
func run(cmd *cobra.Command, flags *globalFlags, fn func(a *app) error) error {
	a, err := openApp(cmd, flags)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

// parseProperties turns key=value pairs into properties. Values are read
// as JSON when they parse, as strings otherwise.
func parseProperties(pairs []string) (nodestore.Properties, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	props := make(nodestore.Properties, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("property %q must be key=value", pair)
		}
		var v nodestore.Value
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = nodestore.String(raw)
		}
		props[key] = v
	}
	return props, nil
}

func parseFilters(raw string) (nodestore.Filters, error) {
	if raw == "" {
		return nil, nil
	}
	var filters nodestore.Filters
	if err := json.Unmarshal([]byte(raw), &filters); err != nil {
		return nil, fmt.Errorf("invalid filter expression: %w", err)
	}
	return filters, nil
}

func parseAggregations(raw string) ([]nodestore.Aggregation, error) {
	if raw == "" {
		return nil, nil
	}
	var aggs []nodestore.Aggregation
	if err := json.Unmarshal([]byte(raw), &aggs); err != nil {
		return nil, fmt.Errorf("invalid aggregations: %w", err)
	}
	return aggs, nil
}
