package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jdziat/simple-durable-workflows/pkg/supervisor"
	"github.com/jdziat/simple-durable-workflows/pkg/worker"
)

func (a *app) newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker {action|instance}",
		Short: "Run a single worker process",
		Long: `Worker runs one action or instance worker until it is interrupted, it
has run its task budget or an action exceeds its hard timeout. The exit code
tells the supervisor why: 0 on shutdown, 75 when recycled, 124 after a hard
timeout.

Usually started by 'durable run' rather than by hand.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{supervisor.KindAction, supervisor.KindInstance},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := args[0]
			opts, err := a.cfg.WorkerOptions(kind, a.logger)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			reg, err := a.registry()
			if err != nil {
				return err
			}

			var w interface{ Run(context.Context) error }
			if kind == supervisor.KindAction {
				w = worker.NewActionWorker(store, reg, opts...)
			} else {
				w = worker.NewInstanceWorker(store, reg, opts...)
			}
			return w.Run(ctx)
		},
	}
}
