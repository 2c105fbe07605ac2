// Package storagetest opens isolated stores for tests.
package storagetest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
	"github.com/jdziat/simple-durable-workflows/pkg/storage"
)

// Open returns a migrated store. When TEST_DATABASE_URL is set it connects
// to PostgreSQL and empties the tables before and after the test; otherwise
// it opens a fresh SQLite file under t.TempDir().
func Open(t testing.TB, opts ...storage.Option) *storage.Store {
	t.Helper()
	opts = append([]storage.Option{storage.WithPollInterval(20 * time.Millisecond)}, opts...)

	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		require.NoError(t, err, "open postgres test db")
		s := storage.New(db, opts...)
		require.NoError(t, s.Migrate(context.Background()))
		truncate(t, db)
		t.Cleanup(func() {
			truncate(t, db)
			_ = s.Close()
		})
		return s
	}

	path := filepath.Join(t.TempDir(), "durable.db")
	db, err := gorm.Open(sqlite.Open(storage.SQLiteDSN(path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open sqlite test db")
	s := storage.New(db, opts...)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Path returns the SQLite file backing s, for handing to subprocesses.
func Path(t testing.TB, s *storage.Store) string {
	t.Helper()
	var file string
	row := s.DB().Raw("SELECT file FROM pragma_database_list WHERE name = 'main'").Row()
	require.NoError(t, row.Scan(&file))
	return file
}

func truncate(t testing.TB, db *gorm.DB) {
	t.Helper()
	for _, tbl := range []string{
		core.TableStatusEvents,
		core.TableActionResults,
		core.TableDaemonActions,
		core.TableWorkflowInstances,
		core.TableWorkerStatuses,
	} {
		db.Exec("DELETE FROM " + tbl)
	}
}

// Instance queues a workflow instance on queue and returns it.
func Instance(t testing.TB, s *storage.Store, queue string) *core.WorkflowInstance {
	t.Helper()
	inst := &core.WorkflowInstance{
		WorkflowName: queue,
		RegistryID:   queue,
		InputBody:    []byte(`{}`),
	}
	require.NoError(t, s.QueueInstance(context.Background(), inst))
	return inst
}

// Worker registers a worker status row and returns its id.
func Worker(t testing.TB, s *storage.Store, action bool) string {
	t.Helper()
	w := &core.WorkerStatus{IsActionWorker: action, IsInstanceWorker: !action}
	require.NoError(t, s.RegisterWorker(context.Background(), w))
	return w.ID
}
