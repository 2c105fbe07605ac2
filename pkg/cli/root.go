package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jdziat/simple-durable-workflows/pkg/config"
	"github.com/jdziat/simple-durable-workflows/pkg/registry"
	"github.com/jdziat/simple-durable-workflows/pkg/schedule"
	"github.com/jdziat/simple-durable-workflows/pkg/storage"
	"github.com/jdziat/simple-durable-workflows/pkg/worker"
)

// Option configures the command line.
type Option func(*app)

// WithSetup runs fn on every registry the binary builds, before the catalog
// modules are loaded. Use it to Provide dependencies.
func WithSetup(fn func(*registry.Registry)) Option {
	return func(a *app) { a.setup = fn }
}

// WithSchedules adds recurring workflows launched by "durable run".
func WithSchedules(entries ...schedule.Entry) Option {
	return func(a *app) { a.schedules = append(a.schedules, entries...) }
}

type app struct {
	catalog   *registry.Catalog
	setup     func(*registry.Registry)
	schedules []schedule.Entry

	loader     *config.Loader
	configFile string
	cfg        *config.Config
	logger     *slog.Logger
}

// NewRootCommand creates the root command for catalog.
func NewRootCommand(catalog *registry.Catalog, opts ...Option) *cobra.Command {
	a := &app{catalog: catalog, loader: config.NewLoader()}
	for _, opt := range opts {
		opt(a)
	}

	cmd := &cobra.Command{
		Use:   "durable",
		Short: "Durable workflow engine",
		Long: `durable runs workflows whose progress survives crashes and restarts.

Run 'durable migrate' once to create the tables, then 'durable run' to start
the supervisor and its worker processes.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.load(cmd) },
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Path to config file (default: ./durable.yaml or ~/.config/durable/durable.yaml)")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("log-format", "", "Log format: text or json")
	flags.String("db-driver", "", "Database driver: sqlite or postgres")
	flags.String("db-dsn", "", "Database connection string")
	flags.String("db-path", "", "SQLite database file, used when --db-dsn is empty")
	flags.StringSlice("modules", nil, "Catalog modules to load (default: all)")
	a.bind(flags, map[string]string{
		"log.level":       "log-level",
		"log.format":      "log-format",
		"database.driver": "db-driver",
		"database.dsn":    "db-dsn",
		"database.path":   "db-path",
		"modules":         "modules",
	})

	cmd.AddCommand(
		a.newRunCommand(),
		a.newWorkerCommand(),
		a.newSubmitCommand(),
		a.newStatusCommand(),
		a.newMigrateCommand(),
		a.newConfigCommand(),
	)
	return cmd
}

// bind maps config keys to flags of the same command.
func (a *app) bind(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := a.loader.Viper().BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("cli: bind %s: %v", name, err))
		}
	}
}

func (a *app) load(cmd *cobra.Command) error {
	if a.configFile != "" {
		a.loader.WithConfigFile(a.configFile)
	}
	cfg, err := a.loader.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = cfg.Log.Logger(cmd.ErrOrStderr())
	return nil
}

func (a *app) openStore(ctx context.Context) (*storage.Store, error) {
	return a.cfg.Database.OpenStore(ctx, a.logger)
}

func (a *app) registry() (*registry.Registry, error) {
	reg, err := a.catalog.Build(a.setup, a.cfg.Modules...)
	if err != nil {
		return nil, err
	}
	reg.SetLogger(a.logger)
	return reg, nil
}

// Execute runs cmd until it returns or the process is interrupted, and
// returns the exit code. Worker exits carry their own code.
func Execute(cmd *cobra.Command) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.ExecuteContext(ctx)
	var exit *worker.ExitError
	if err != nil && !errors.As(err, &exit) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
	}
	return worker.ExitCode(err)
}

// Main builds the root command for catalog and executes it.
func Main(catalog *registry.Catalog, opts ...Option) int {
	return Execute(NewRootCommand(catalog, opts...))
}
