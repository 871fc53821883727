package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Manager provides a unified interface for storage operations
type Manager struct {
	db     *BoltDB
	mu     sync.RWMutex
	logger *zap.SugaredLogger
}

// NewManager creates a new storage manager
func NewManager(dataDir string, logger *zap.SugaredLogger) (*Manager, error) {
	db, err := NewBoltDB(dataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create bolt database: %w", err)
	}

	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// Close closes the storage manager
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// GetSchemaVersion returns the current schema version
func (m *Manager) GetSchemaVersion() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.db.GetSchemaVersion()
}

// User operations

// SaveUser inserts or replaces a user record
func (m *Manager) SaveUser(ctx context.Context, record *UserRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if record.Created.IsZero() {
		record.Created = now
	}
	record.Updated = now

	return m.db.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(UsersBucket))
		data, err := record.MarshalBinary()
		if err != nil {
			return err
		}
		return bucket.Put([]byte(record.ID), data)
	})
}

// GetUser retrieves a user record by ID
func (m *Manager) GetUser(ctx context.Context, id string) (*UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var record *UserRecord

	err := m.db.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(UsersBucket)).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}

		record = &UserRecord{}
		return record.UnmarshalBinary(data)
	})

	return record, err
}

// GetUserByGoogleSub retrieves a user record by Google subject identifier
func (m *Manager) GetUserByGoogleSub(ctx context.Context, sub string) (*UserRecord, error) {
	return m.findUser(ctx, func(r *UserRecord) bool { return r.GoogleSub == sub })
}

// GetUserByEmail retrieves a user record by email address
func (m *Manager) GetUserByEmail(ctx context.Context, email string) (*UserRecord, error) {
	return m.findUser(ctx, func(r *UserRecord) bool { return r.Email == email })
}

func (m *Manager) findUser(ctx context.Context, match func(*UserRecord) bool) (*UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var record *UserRecord

	err := m.db.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket([]byte(UsersBucket)).Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var r UserRecord
			if err := r.UnmarshalBinary(v); err != nil {
				return err
			}
			if match(&r) {
				record = &r
				return nil
			}
		}
		return ErrNotFound
	})

	return record, err
}

// DeleteUser removes a user and cascades its sessions in one transaction.
// Deletion is refused while the user still owns tasks.
func (m *Manager) DeleteUser(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.db.db.Update(func(tx *bbolt.Tx) error {
		users := tx.Bucket([]byte(UsersBucket))
		if users.Get([]byte(id)) == nil {
			return ErrNotFound
		}

		var taskCount int
		tasks := tx.Bucket([]byte(TasksBucket)).Cursor()
		for k, v := tasks.First(); k != nil; k, v = tasks.Next() {
			var t TaskRecord
			if err := t.UnmarshalBinary(v); err != nil {
				return err
			}
			if t.UserID == id {
				taskCount++
			}
		}
		if taskCount > 0 {
			return fmt.Errorf("user still owns %d tasks", taskCount)
		}

		sessions := tx.Bucket([]byte(SessionsBucket))
		var stale [][]byte
		cursor := sessions.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var s SessionRecord
			if err := s.UnmarshalBinary(v); err != nil {
				return err
			}
			if s.UserID == id {
				stale = append(stale, append([]byte{}, k...))
			}
		}
		for _, key := range stale {
			if err := sessions.Delete(key); err != nil {
				return err
			}
		}

		return users.Delete([]byte(id))
	})
}

// Session operations

// SaveSession inserts or replaces a session record
func (m *Manager) SaveSession(ctx context.Context, record *SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if record.Created.IsZero() {
		record.Created = now
	}
	if record.LastActivity.IsZero() {
		record.LastActivity = now
	}

	return m.db.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(SessionsBucket))
		data, err := record.MarshalBinary()
		if err != nil {
			return err
		}
		return bucket.Put([]byte(record.ID), data)
	})
}

// GetSession retrieves a session record by ID
func (m *Manager) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var record *SessionRecord

	err := m.db.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(SessionsBucket)).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}

		record = &SessionRecord{}
		return record.UnmarshalBinary(data)
	})

	return record, err
}

// TouchSession updates the last-activity timestamp of a session
func (m *Manager) TouchSession(ctx context.Context, id string, at time.Time) error {
	return m.mutateSession(ctx, id, func(record *SessionRecord) {
		record.LastActivity = at
	})
}

// UpdateSessionTokens replaces the sealed access token, both expiry stamps
// and the last-activity timestamp in a single transaction, so a session
// refreshed with a new token is valid exactly as long as that token. The
// refresh token is left untouched.
func (m *Manager) UpdateSessionTokens(ctx context.Context, id string, sealedAccess []byte, tokenExpiry, at time.Time) error {
	return m.mutateSession(ctx, id, func(record *SessionRecord) {
		record.AccessToken = sealedAccess
		record.TokenExpiry = tokenExpiry
		record.ExpiresAt = tokenExpiry
		record.LastActivity = at
	})
}

func (m *Manager) mutateSession(ctx context.Context, id string, mutate func(*SessionRecord)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.db.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(SessionsBucket))
		data := bucket.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}

		record := &SessionRecord{}
		if err := record.UnmarshalBinary(data); err != nil {
			return err
		}

		mutate(record)

		newData, err := record.MarshalBinary()
		if err != nil {
			return err
		}
		return bucket.Put([]byte(id), newData)
	})
}

// DeleteSession removes a session record and reports whether one was
// actually there. Deleting a missing session is not an error.
func (m *Manager) DeleteSession(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := false
	err := m.db.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(SessionsBucket))
		if bucket.Get([]byte(id)) == nil {
			return nil
		}
		removed = true
		return bucket.Delete([]byte(id))
	})
	return removed, err
}

// ListSessionsByUser returns all sessions belonging to a user
func (m *Manager) ListSessionsByUser(ctx context.Context, userID string) ([]*SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var records []*SessionRecord

	err := m.db.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(SessionsBucket)).ForEach(func(_, v []byte) error {
			var record SessionRecord
			if err := record.UnmarshalBinary(v); err != nil {
				return err
			}
			if record.UserID == userID {
				records = append(records, &record)
			}
			return nil
		})
	})

	return records, err
}

// CountSessions returns the number of stored sessions, expired included
func (m *Manager) CountSessions(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int
	err := m.db.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket([]byte(SessionsBucket)).Stats().KeyN
		return nil
	})
	return count, err
}

// DeleteExpiredSessions removes every session whose expiry is at or before
// now and returns the number of records deleted.
func (m *Manager) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int

	err := m.db.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(SessionsBucket))

		var expired [][]byte
		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var record SessionRecord
			if err := record.UnmarshalBinary(v); err != nil {
				m.logger.Warnw("Failed to unmarshal session record", "error", err)
				continue
			}
			if !now.Before(record.ExpiresAt) {
				expired = append(expired, append([]byte{}, k...))
			}
		}

		for _, key := range expired {
			if err := bucket.Delete(key); err != nil {
				return fmt.Errorf("failed to delete expired session: %w", err)
			}
			deleted++
		}

		return nil
	})

	if err != nil {
		return deleted, err
	}

	if deleted > 0 {
		m.logger.Infow("Pruned expired sessions", "deleted", deleted)
	}

	return deleted, nil
}

// Client operations

// SaveClient inserts or replaces a registered client record
func (m *Manager) SaveClient(ctx context.Context, record *ClientRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if record.Created.IsZero() {
		record.Created = time.Now()
	}

	return m.db.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ClientsBucket))
		data, err := record.MarshalBinary()
		if err != nil {
			return err
		}
		return bucket.Put([]byte(record.ID), data)
	})
}

// GetClient retrieves a registered client record by ID
func (m *Manager) GetClient(ctx context.Context, id string) (*ClientRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var record *ClientRecord

	err := m.db.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(ClientsBucket)).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}

		record = &ClientRecord{}
		return record.UnmarshalBinary(data)
	})

	return record, err
}

// TouchClientUsage updates the last-used timestamp of a client
func (m *Manager) TouchClientUsage(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.db.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ClientsBucket))
		data := bucket.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}

		record := &ClientRecord{}
		if err := record.UnmarshalBinary(data); err != nil {
			return err
		}
		record.LastUsed = at

		newData, err := record.MarshalBinary()
		if err != nil {
			return err
		}
		return bucket.Put([]byte(id), newData)
	})
}

// DeleteClient removes a client registration. Missing clients surface as
// ErrNotFound so revocation can report whether anything was removed.
func (m *Manager) DeleteClient(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.db.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ClientsBucket))
		if bucket.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return bucket.Delete([]byte(id))
	})
}

// ListClients returns registered clients, newest first. An empty platform
// returns all clients.
func (m *Manager) ListClients(ctx context.Context, platform string) ([]*ClientRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var records []*ClientRecord

	err := m.db.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(ClientsBucket)).ForEach(func(_, v []byte) error {
			var record ClientRecord
			if err := record.UnmarshalBinary(v); err != nil {
				return err
			}
			if platform == "" || record.Platform == platform {
				records = append(records, &record)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Created.After(records[j].Created)
	})

	return records, nil
}

// DeleteExpiredClients removes every client registration whose expiry is at
// or before now and returns the number of records deleted.
func (m *Manager) DeleteExpiredClients(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int

	err := m.db.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ClientsBucket))

		var expired [][]byte
		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var record ClientRecord
			if err := record.UnmarshalBinary(v); err != nil {
				m.logger.Warnw("Failed to unmarshal client record", "error", err)
				continue
			}
			if !now.Before(record.ExpiresAt) {
				expired = append(expired, append([]byte{}, k...))
			}
		}

		for _, key := range expired {
			if err := bucket.Delete(key); err != nil {
				return fmt.Errorf("failed to delete expired client: %w", err)
			}
			deleted++
		}

		return nil
	})

	if err != nil {
		return deleted, err
	}

	if deleted > 0 {
		m.logger.Infow("Pruned expired client registrations", "deleted", deleted)
	}

	return deleted, nil
}
