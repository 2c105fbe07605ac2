package workflows

import (
	"gorm.io/gorm"

	"github.com/jdziat/simple-durable-workflows/pkg/storage"
)

type (
	// Store persists instances, actions, results and worker heartbeats.
	Store = storage.Store

	// StoreOption configures a Store.
	StoreOption = storage.Option

	// PoolConfig holds database connection pool settings.
	PoolConfig = storage.PoolConfig
)

// Open connects to driver ("sqlite" or "postgres") at dsn.
func Open(driver, dsn string, opts ...StoreOption) (*Store, error) {
	return storage.Open(driver, dsn, opts...)
}

// NewStore wraps an existing GORM connection.
func NewStore(db *gorm.DB, opts ...StoreOption) *Store {
	return storage.New(db, opts...)
}

// SQLiteDSN returns a DSN for a SQLite file shared by several processes.
func SQLiteDSN(path string) string {
	return storage.SQLiteDSN(path)
}

// IsDuplicate reports whether err is a primary key collision, such as
// queueing an instance id twice.
func IsDuplicate(err error) bool {
	return storage.IsDuplicate(err)
}
