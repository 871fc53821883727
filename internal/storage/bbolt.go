package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"
	"go.uber.org/zap"

	"taskmcp-go/internal/config"
)

// BoltDB owns the bolt file handle and the bucket schema.
type BoltDB struct {
	db     *bbolt.DB
	logger *zap.SugaredLogger
}

// NewBoltDB opens (or creates) the task database in dataDir and makes
// sure every bucket exists.
func NewBoltDB(dataDir string, logger *zap.SugaredLogger) (*BoltDB, error) {
	db, err := openWithRecovery(config.DatabasePath(dataDir), logger)
	if err != nil {
		return nil, err
	}

	b := &BoltDB{db: db, logger: logger}
	if err := b.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	return b, nil
}

// openWithRecovery opens the bolt file. A stale flock left by a
// crashed process surfaces as a timeout; the locked file is then set
// aside under a .backup name and one fresh open is attempted.
func openWithRecovery(dbPath string, logger *zap.SugaredLogger) (*bbolt.DB, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 10 * time.Second})
	if err == nil {
		return db, nil
	}
	logger.Warnf("Failed to open database on first attempt: %v", err)

	if !errors.Is(err, bolterrors.ErrTimeout) {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	logger.Info("Database timeout detected, attempting recovery...")
	if _, statErr := os.Stat(dbPath); statErr == nil {
		backupPath := dbPath + ".backup." + time.Now().Format("20060102-150405")
		logger.Infof("Setting locked database aside at %s", backupPath)

		if cpErr := copyFile(dbPath, backupPath); cpErr != nil {
			logger.Warnf("Failed to create backup: %v", cpErr)
		}
		if rmErr := os.Remove(dbPath); rmErr != nil {
			logger.Warnf("Failed to remove locked database file: %v", rmErr)
		}
	}

	db, err = bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database after recovery attempt: %w", err)
	}
	return db, nil
}

// Close closes the database
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// initBuckets creates the bucket set and stamps the schema version.
func (b *BoltDB) initBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range []string{
			UsersBucket,
			SessionsBucket,
			ClientsBucket,
			TasksBucket,
			ActivityRecordsBucket,
			MetaBucket,
		} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		version := make([]byte, 8)
		binary.LittleEndian.PutUint64(version, CurrentSchemaVersion)
		return tx.Bucket([]byte(MetaBucket)).Put([]byte(SchemaVersionKey), version)
	})
}

// GetSchemaVersion reads the schema stamp from the meta bucket. A
// missing stamp reads as 0.
func (b *BoltDB) GetSchemaVersion() (uint64, error) {
	var version uint64
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(MetaBucket))
		if bucket == nil {
			return fmt.Errorf("meta bucket not found")
		}
		if raw := bucket.Get([]byte(SchemaVersionKey)); raw != nil {
			version = binary.LittleEndian.Uint64(raw)
		}
		return nil
	})
	return version, err
}

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	return err
}
