package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveActivity_GeneratesIDAndTimestamp(t *testing.T) {
	manager := setupTestStorage(t)

	record := &ActivityRecord{
		Type:   ActivityTypeLogin,
		Status: ActivityStatusSuccess,
		UserID: "user-1",
	}
	require.NoError(t, manager.SaveActivity(record))

	assert.NotEmpty(t, record.ID)
	assert.False(t, record.Timestamp.IsZero())

	count, err := manager.CountActivities()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSaveActivity_NilRecord(t *testing.T) {
	manager := setupTestStorage(t)

	require.Error(t, manager.SaveActivity(nil))
}

func TestListActivities_NewestFirst(t *testing.T) {
	manager := setupTestStorage(t)
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		require.NoError(t, manager.SaveActivity(&ActivityRecord{
			Type:      ActivityTypeToolCall,
			Status:    ActivityStatusSuccess,
			UserID:    "user-1",
			ToolName:  fmt.Sprintf("task_tool_%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	records, total, err := manager.ListActivities(DefaultActivityFilter())
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, records, 5)
	assert.Equal(t, "task_tool_4", records[0].ToolName)
	assert.Equal(t, "task_tool_0", records[4].ToolName)
}

func TestListActivities_FilterAndPagination(t *testing.T) {
	manager := setupTestStorage(t)
	base := time.Now().UTC().Add(-time.Hour)

	seed := []*ActivityRecord{
		{Type: ActivityTypeLogin, Status: ActivityStatusSuccess, UserID: "alice", Timestamp: base},
		{Type: ActivityTypeLogin, Status: ActivityStatusError, UserID: "alice", Timestamp: base.Add(time.Minute)},
		{Type: ActivityTypeLogout, Status: ActivityStatusSuccess, UserID: "alice", Timestamp: base.Add(2 * time.Minute)},
		{Type: ActivityTypeLogin, Status: ActivityStatusSuccess, UserID: "bob", Timestamp: base.Add(3 * time.Minute)},
	}
	for _, r := range seed {
		require.NoError(t, manager.SaveActivity(r))
	}

	records, total, err := manager.ListActivities(ActivityFilter{Type: string(ActivityTypeLogin), Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, records, 3)

	records, total, err = manager.ListActivities(ActivityFilter{UserID: "alice", Status: ActivityStatusSuccess, Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, ActivityTypeLogout, records[0].Type)

	// Pagination reports the full matching total
	records, total, err = manager.ListActivities(ActivityFilter{UserID: "alice", Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, records, 1)
	assert.Equal(t, ActivityStatusError, records[0].Status)
}

func TestPruneOldActivities(t *testing.T) {
	manager := setupTestStorage(t)
	now := time.Now().UTC()

	require.NoError(t, manager.SaveActivity(&ActivityRecord{
		Type: ActivityTypeCleanup, Status: ActivityStatusSuccess, Timestamp: now.Add(-48 * time.Hour),
	}))
	require.NoError(t, manager.SaveActivity(&ActivityRecord{
		Type: ActivityTypeCleanup, Status: ActivityStatusSuccess, Timestamp: now.Add(-36 * time.Hour),
	}))
	require.NoError(t, manager.SaveActivity(&ActivityRecord{
		Type: ActivityTypeCleanup, Status: ActivityStatusSuccess, Timestamp: now.Add(-time.Hour),
	}))

	deleted, err := manager.PruneOldActivities(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	count, err := manager.CountActivities()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestActivityFilter_Validate(t *testing.T) {
	tests := []struct {
		name       string
		filter     ActivityFilter
		wantLimit  int
		wantOffset int
	}{
		{
			name:       "default values",
			filter:     ActivityFilter{},
			wantLimit:  50,
			wantOffset: 0,
		},
		{
			name:       "limit over 100 capped",
			filter:     ActivityFilter{Limit: 200},
			wantLimit:  100,
			wantOffset: 0,
		},
		{
			name:       "negative offset becomes 0",
			filter:     ActivityFilter{Limit: 50, Offset: -10},
			wantLimit:  50,
			wantOffset: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.filter.Validate()
			assert.Equal(t, tt.wantLimit, tt.filter.Limit)
			assert.Equal(t, tt.wantOffset, tt.filter.Offset)
		})
	}
}
