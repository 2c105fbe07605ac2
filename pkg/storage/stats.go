package storage

import (
	"context"

	"gorm.io/gorm"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
)

// QueueDepth counts the rows of one table in one queue and status.
type QueueDepth struct {
	Table  string      `json:"table"`
	Queue  string      `json:"queue"`
	Status core.Status `json:"status"`
	Count  int64       `json:"count"`
}

// QueueDepths counts instances and actions by queue and status. Actions are
// counted under their instance's queue.
func (s *Store) QueueDepths(ctx context.Context) ([]QueueDepth, error) {
	var out []QueueDepth
	err := s.readTx(ctx, func(tx *gorm.DB) error {
		var instances []QueueDepth
		err := tx.Model(&core.WorkflowInstance{}).
			Select("workflow_name AS queue, status, COUNT(*) AS count").
			Group("workflow_name, status").
			Order("workflow_name, status").
			Scan(&instances).Error
		if err != nil {
			return err
		}
		for i := range instances {
			instances[i].Table = core.TableWorkflowInstances
		}

		var actions []QueueDepth
		err = tx.Table(core.TableDaemonActions+" AS a").
			Joins("JOIN "+core.TableWorkflowInstances+" AS i ON i.id = a.instance_id").
			Select("i.workflow_name AS queue, a.status AS status, COUNT(*) AS count").
			Group("i.workflow_name, a.status").
			Order("i.workflow_name, a.status").
			Scan(&actions).Error
		if err != nil {
			return err
		}
		for i := range actions {
			actions[i].Table = core.TableDaemonActions
		}
		out = append(instances, actions...)
		return nil
	})
	return out, err
}
