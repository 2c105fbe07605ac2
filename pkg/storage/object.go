package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
)

// Row constrains the models WithObject can lock.
type Row[T any] interface {
	*T
	core.Tracked
}

// WithObject loads the row with id under a write lock, hands it to fn for
// mutation and saves it when fn succeeds. Nothing is written when fn returns
// an error or panics. A status change made by fn appends a StatusEvent in
// the same transaction.
func WithObject[T any, PT Row[T]](ctx context.Context, s *Store, id string, fn func(tx *gorm.DB, row PT) error) (PT, error) {
	var row T
	err := s.transaction(ctx, func(tx *gorm.DB, events *eventBatch) error {
		return s.lockedUpdate(tx, events, PT(&row), id, func(r core.Tracked) error {
			return fn(tx, r.(PT))
		})
	})
	if err != nil {
		return nil, err
	}
	return PT(&row), nil
}

// lockedUpdate is the body of WithObject, reusable inside larger
// transactions.
func (s *Store) lockedUpdate(tx *gorm.DB, events *eventBatch, row core.Tracked, id string, fn func(core.Tracked) error) error {
	q := tx
	if s.dialect == DialectPostgres {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.First(row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s %s", core.ErrNotFound, row.TableName(), id)
		}
		return err
	}

	before := row.GetStatus()
	if err := fn(row); err != nil {
		return err
	}
	if err := tx.Save(row).Error; err != nil {
		return err
	}
	if row.GetStatus() == before {
		return nil
	}
	queue, err := queueFor(tx, row)
	if err != nil {
		return err
	}
	return s.appendEvent(tx, events, row, queue)
}
