package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdziat/simple-durable-workflows/pkg/queue"
)

func (a *app) newSubmitCommand() *cobra.Command {
	var (
		queueName string
		id        string
		delay     time.Duration
		wait      bool
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit WORKFLOW [PAYLOAD]",
		Short: "Start a workflow instance",
		Long: `Submit queues a new instance of WORKFLOW. PAYLOAD is the JSON input
of the workflow and defaults to null.

With --wait the command blocks until the instance is done and prints its
result.`,
		Example: `  durable submit billing.charge_customer '{"customer":"c_42","cents":1999}'
  durable submit reports.nightly --delay 1h`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			reg, err := a.registry()
			if err != nil {
				return err
			}
			def, err := reg.Workflow(args[0])
			if err != nil {
				return err
			}
			payload := json.RawMessage("null")
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("payload is not valid JSON")
				}
				payload = json.RawMessage(args[1])
			}

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			var opts []queue.Option
			if queueName != "" {
				opts = append(opts, queue.Queue(queueName))
			}
			if id != "" {
				opts = append(opts, queue.WithID(id))
			}
			if delay > 0 {
				opts = append(opts, queue.Delay(delay))
			}
			h, err := queue.QueueNew(ctx, store, def, payload, opts...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, h.ID)
			if !wait {
				return nil
			}

			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			result, err := h.Wait(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(result))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&queueName, "queue", "", "Queue to run on (default: the workflow's queue)")
	flags.StringVar(&id, "id", "", "Instance id; submitting an id twice fails")
	flags.DurationVar(&delay, "delay", 0, "Start no earlier than this long from now")
	flags.BoolVar(&wait, "wait", false, "Wait for the result")
	flags.DurationVar(&timeout, "timeout", 0, "Give up waiting after this long")
	return cmd
}
