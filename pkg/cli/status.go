package cli

import (
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
)

type actionView struct {
	ID       string `yaml:"id"`
	State    string `yaml:"state"`
	Action   string `yaml:"action"`
	Status   string `yaml:"status"`
	Attempts int    `yaml:"attempts"`
	Final    string `yaml:"final_result,omitempty"`
}

type instanceView struct {
	ID        string       `yaml:"id"`
	Workflow  string       `yaml:"workflow"`
	Queue     string       `yaml:"queue"`
	Status    string       `yaml:"status"`
	Launch    *time.Time   `yaml:"launch_time,omitempty"`
	End       *time.Time   `yaml:"end_time,omitempty"`
	Result    string       `yaml:"result,omitempty"`
	Exception string       `yaml:"exception,omitempty"`
	Actions   []actionView `yaml:"actions,omitempty"`
}

func (a *app) newStatusCommand() *cobra.Command {
	var actions bool
	cmd := &cobra.Command{
		Use:   "status INSTANCE",
		Short: "Show a workflow instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			inst, err := store.GetInstance(ctx, args[0])
			if err != nil {
				return err
			}
			view := newInstanceView(inst)
			if actions {
				rows, err := store.ListActions(ctx, inst.ID)
				if err != nil {
					return err
				}
				for _, row := range rows {
					view.Actions = append(view.Actions, newActionView(row))
				}
			}

			out, err := yaml.Marshal(view)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().BoolVar(&actions, "actions", false, "Include the instance's actions")
	return cmd
}

func newInstanceView(inst *core.WorkflowInstance) instanceView {
	return instanceView{
		ID:        inst.ID,
		Workflow:  inst.RegistryID,
		Queue:     inst.WorkflowName,
		Status:    string(inst.Status),
		Launch:    inst.LaunchTime,
		End:       inst.EndTime,
		Result:    string(inst.ResultBody),
		Exception: inst.Exception,
	}
}

func newActionView(row *core.DaemonAction) actionView {
	v := actionView{
		ID:       row.ID,
		State:    row.State,
		Action:   row.RegistryID,
		Status:   string(row.Status),
		Attempts: row.RetryCurrentAttempt,
	}
	if row.FinalResultID != nil {
		v.Final = *row.FinalResultID
	}
	return v
}
