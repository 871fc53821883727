package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

// taskKey generates the bbolt key for a task id.
// Zero-padded so lexicographic key order matches id order.
func taskKey(id int64) []byte {
	return []byte(fmt.Sprintf("%020d", id))
}

// CreateTask assigns the next task id and stores the record. The id,
// created and updated fields are set on the passed record.
func (m *Manager) CreateTask(ctx context.Context, record *TaskRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	record.Created = now
	record.Updated = now

	return m.db.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(TasksBucket))

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate task id: %w", err)
		}
		record.ID = int64(seq)

		data, err := record.MarshalBinary()
		if err != nil {
			return err
		}
		return bucket.Put(taskKey(record.ID), data)
	})
}

// GetTask retrieves a task by id. Tasks owned by other users are reported
// as not found, never as forbidden.
func (m *Manager) GetTask(ctx context.Context, userID string, id int64) (*TaskRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var record *TaskRecord

	err := m.db.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(TasksBucket)).Get(taskKey(id))
		if data == nil {
			return ErrNotFound
		}

		record = &TaskRecord{}
		if err := record.UnmarshalBinary(data); err != nil {
			return err
		}
		if record.UserID != userID {
			record = nil
			return ErrNotFound
		}
		return nil
	})

	return record, err
}

// UpdateTask applies mutate to a task inside a single transaction and
// returns the stored result. The ownership check and the write commit
// atomically; a mutate error aborts the transaction.
func (m *Manager) UpdateTask(ctx context.Context, userID string, id int64, mutate func(*TaskRecord) error) (*TaskRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var updated *TaskRecord

	err := m.db.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(TasksBucket))
		data := bucket.Get(taskKey(id))
		if data == nil {
			return ErrNotFound
		}

		record := &TaskRecord{}
		if err := record.UnmarshalBinary(data); err != nil {
			return err
		}
		if record.UserID != userID {
			return ErrNotFound
		}

		if err := mutate(record); err != nil {
			return err
		}
		record.Updated = time.Now()

		newData, err := record.MarshalBinary()
		if err != nil {
			return err
		}
		if err := bucket.Put(taskKey(id), newData); err != nil {
			return err
		}

		updated = record
		return nil
	})

	return updated, err
}

// DeleteTask removes a task owned by the user
func (m *Manager) DeleteTask(ctx context.Context, userID string, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.db.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(TasksBucket))
		data := bucket.Get(taskKey(id))
		if data == nil {
			return ErrNotFound
		}

		record := &TaskRecord{}
		if err := record.UnmarshalBinary(data); err != nil {
			return err
		}
		if record.UserID != userID {
			return ErrNotFound
		}

		return bucket.Delete(taskKey(id))
	})
}

// ListTasks returns one page of the user's tasks matching the filter,
// ordered by priority descending then creation time ascending, together
// with the total number of matching records.
func (m *Manager) ListTasks(ctx context.Context, userID string, filter TaskFilter) ([]*TaskRecord, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	filter.Validate()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []*TaskRecord

	err := m.db.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket([]byte(TasksBucket)).Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var record TaskRecord
			if err := record.UnmarshalBinary(v); err != nil {
				m.logger.Warnw("Failed to unmarshal task record",
					"key", string(k),
					"error", err)
				continue
			}
			if record.UserID != userID || !filter.Matches(&record) {
				continue
			}
			matches = append(matches, &record)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	// Cursor order is id order, so ties on priority keep creation order
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Priority != matches[j].Priority {
			return matches[i].Priority > matches[j].Priority
		}
		return matches[i].Created.Before(matches[j].Created)
	})

	total := len(matches)

	if filter.Offset >= total {
		return nil, total, nil
	}
	matches = matches[filter.Offset:]
	if len(matches) > filter.Limit {
		matches = matches[:filter.Limit]
	}

	return matches, total, nil
}

// ForEachUserTask calls fn for every task owned by the user, in id order
func (m *Manager) ForEachUserTask(ctx context.Context, userID string, fn func(*TaskRecord) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.db.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket([]byte(TasksBucket)).Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var record TaskRecord
			if err := record.UnmarshalBinary(v); err != nil {
				m.logger.Warnw("Failed to unmarshal task record",
					"key", string(k),
					"error", err)
				continue
			}
			if record.UserID != userID {
				continue
			}
			if err := fn(&record); err != nil {
				return err
			}
		}
		return nil
	})
}

// ForEachTask calls fn for every task of every user, in id order.
// Used for search index rebuilds.
func (m *Manager) ForEachTask(ctx context.Context, fn func(*TaskRecord) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.db.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket([]byte(TasksBucket)).Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var record TaskRecord
			if err := record.UnmarshalBinary(v); err != nil {
				m.logger.Warnw("Failed to unmarshal task record",
					"key", string(k),
					"error", err)
				continue
			}
			if err := fn(&record); err != nil {
				return err
			}
		}
		return nil
	})
}
