package index

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"taskmcp-go/internal/storage"
)

// Manager provides a unified interface for task indexing operations
type Manager struct {
	taskIndex *TaskIndex
	mu        sync.RWMutex
	logger    *zap.SugaredLogger
}

// NewManager creates a new index manager
func NewManager(dataDir string, logger *zap.SugaredLogger) (*Manager, error) {
	taskIndex, err := NewTaskIndex(dataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create task index: %w", err)
	}

	return &Manager{
		taskIndex: taskIndex,
		logger:    logger,
	}, nil
}

// Close closes the index manager
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.taskIndex != nil {
		return m.taskIndex.Close()
	}
	return nil
}

// IndexTask indexes a single task, replacing any previous version
func (m *Manager) IndexTask(task *storage.TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.taskIndex.IndexTask(task)
}

// DeleteTask removes a task from the index
func (m *Manager) DeleteTask(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.taskIndex.DeleteTask(id)
}

// Search returns the ids of the user's tasks matching the query
func (m *Manager) Search(userID, query string) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.taskIndex.SearchIDs(userID, query)
}

// DocCount returns the number of indexed documents
func (m *Manager) DocCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.taskIndex.DocCount()
}

// Rebuild drops the index and re-indexes every task in storage. Returns
// the number of tasks indexed.
func (m *Manager) Rebuild(ctx context.Context, store *storage.Manager) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var tasks []*storage.TaskRecord
	err := store.ForEachTask(ctx, func(task *storage.TaskRecord) error {
		tasks = append(tasks, task)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan tasks: %w", err)
	}

	if err := m.taskIndex.Reset(); err != nil {
		return 0, err
	}
	if err := m.taskIndex.BatchIndex(tasks); err != nil {
		return 0, err
	}

	m.logger.Infow("Task index rebuilt", "tasks", len(tasks))
	return len(tasks), nil
}
