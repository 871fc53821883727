package storage

import (
	"bytes"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.etcd.io/bbolt"
)

// Activity keys are "{unixnano:020d}_{ulid}" so lexicographic order equals
// chronological order and range scans can stop at a time cutoff.
func activityKey(timestamp time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d_%s", timestamp.UnixNano(), id))
}

// SaveActivity appends one audit record, assigning a ULID and timestamp
// when the caller left them unset.
func (m *Manager) SaveActivity(record *ActivityRecord) error {
	if record == nil {
		return fmt.Errorf("activity record cannot be nil")
	}
	if record.ID == "" {
		record.ID = ulid.Make().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	data, err := record.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal activity record: %w", err)
	}
	key := activityKey(record.Timestamp, record.ID)

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.db.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(ActivityRecordsBucket)).Put(key, data)
	})
}

// SaveActivityAsync records an audit event off the request path. Failures
// are logged and dropped; auditing never fails a request.
func (m *Manager) SaveActivityAsync(record *ActivityRecord) {
	go func() {
		if err := m.SaveActivity(record); err != nil {
			m.logger.Errorw("Dropping activity record",
				"type", record.Type,
				"error", err)
		}
	}()
}

// ListActivities returns one page of audit records matching the filter,
// newest first, plus the total match count across all pages.
func (m *Manager) ListActivities(filter ActivityFilter) ([]*ActivityRecord, int, error) {
	filter.Validate()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var page []*ActivityRecord
	var total int

	err := m.db.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(ActivityRecordsBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			rec := m.decodeActivity(k, v)
			if rec == nil || !filter.Matches(rec) {
				continue
			}
			// The page window is [Offset, Offset+Limit); total counts past it.
			total++
			if total > filter.Offset && len(page) < filter.Limit {
				page = append(page, rec)
			}
		}
		return nil
	})

	return page, total, err
}

// decodeActivity unmarshals one stored record, logging and skipping
// anything undecodable so one bad row cannot wedge a listing.
func (m *Manager) decodeActivity(k, v []byte) *ActivityRecord {
	var rec ActivityRecord
	if err := rec.UnmarshalBinary(v); err != nil {
		m.logger.Warnw("Skipping undecodable activity record",
			"key", string(k),
			"error", err)
		return nil
	}
	return &rec
}

// CountActivities reports how many audit records the store holds.
func (m *Manager) CountActivities() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	err := m.db.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket([]byte(ActivityRecordsBucket)).Stats().KeyN
		return nil
	})
	return count, err
}

// PruneOldActivities deletes audit records older than maxAge and reports
// how many were removed.
func (m *Manager) PruneOldActivities(maxAge time.Duration) (int, error) {
	cutoff := activityKey(time.Now().UTC().Add(-maxAge), "")

	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	err := m.db.db.Update(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(ActivityRecordsBucket)).Cursor()
		// Chronological keys: everything before the cutoff key has expired.
		k, _ := c.First()
		for k != nil && bytes.Compare(k, cutoff) < 0 {
			if err := c.Delete(); err != nil {
				return fmt.Errorf("failed to delete old activity: %w", err)
			}
			deleted++
			k, _ = c.Next()
		}
		return nil
	})
	if err != nil {
		return deleted, err
	}

	if deleted > 0 {
		m.logger.Infow("Pruned expired activity records",
			"deleted", deleted,
			"max_age", maxAge.String())
	}
	return deleted, nil
}
