package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jdziat/simple-durable-workflows/pkg/config"
	"github.com/jdziat/simple-durable-workflows/pkg/supervisor"
)

func (a *app) newRunCommand() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the supervisor and its worker processes",
		Long: `Run starts the configured number of action and instance worker
processes and replaces each one whenever it exits. It also reclaims work from
dead workers, promotes scheduled instances and launches recurring workflows.

Workers are started as '<this binary> worker <kind>' with the same
configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			if migrate {
				if err := store.Migrate(ctx); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}

			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("locating executable: %w", err)
			}
			opts := a.cfg.SupervisorOptions(a.logger)
			opts = append(opts,
				supervisor.WithCommand(a.workerCommand(exe)),
				supervisor.WithEnv(childEnv(a.cfg)...),
			)
			sup := supervisor.New(store, opts...)
			for _, e := range a.schedules {
				if err := sup.AddSchedule(e); err != nil {
					return err
				}
			}

			err = sup.Run(ctx)
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&migrate, "migrate", true, "Create or update tables before starting")
	flags.Int("action-workers", 0, "Number of action worker processes")
	flags.Int("instance-workers", 0, "Number of instance worker processes")
	flags.String("admin-addr", "", "Listen address of the admin server, e.g. :8080")
	a.bind(flags, map[string]string{
		"supervisor.action_workers":   "action-workers",
		"supervisor.instance_workers": "instance-workers",
		"supervisor.admin_addr":       "admin-addr",
	})
	return cmd
}

// workerCommand returns the argv builder for worker processes of exe.
func (a *app) workerCommand(exe string) supervisor.CommandFunc {
	return func(kind string) []string {
		argv := []string{exe, "worker", kind}
		if used := a.loader.ConfigFileUsed(); used != "" {
			argv = append(argv, "--config", used)
		}
		if len(a.cfg.Modules) > 0 {
			argv = append(argv, "--modules", strings.Join(a.cfg.Modules, ","))
		}
		return argv
	}
}

// childEnv pins the resolved database and log settings for worker processes,
// so flags given to the supervisor reach them too.
func childEnv(cfg *config.Config) []string {
	env := func(key, value string) string {
		return config.EnvPrefix + "_" + key + "=" + value
	}
	return []string{
		env("DATABASE_DRIVER", cfg.Database.Driver),
		env("DATABASE_DSN", cfg.Database.DSN),
		env("DATABASE_PATH", cfg.Database.Path),
		env("LOG_LEVEL", cfg.Log.Level),
		env("LOG_FORMAT", cfg.Log.Format),
	}
}
