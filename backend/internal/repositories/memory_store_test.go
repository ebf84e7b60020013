package repositories

import (
	"context"
	"testing"
	"time"

	"collab-board/backend/internal/models"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_UpdateTaskCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	task := sampleTask()
	task.Version = 1
	require.NoError(t, store.CreateTask(ctx, task, sampleEntry(task.ID)))

	next := task
	next.Version = 2
	next.Status = models.StatusDone
	require.NoError(t, store.UpdateTask(ctx, next, 1, sampleEntry(task.ID)))

	stale := task
	stale.Version = 2
	stale.Title = "Lost write"
	assert.ErrorIs(t, store.UpdateTask(ctx, stale, 1, sampleEntry(task.ID)), ErrStaleVersion)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, got.Status)
	assert.Equal(t, "Report Bug", got.Title)
	assert.Len(t, store.Actions(), 2)

	missing := sampleTask()
	assert.ErrorIs(t, store.UpdateTask(ctx, missing, 1, sampleEntry(missing.ID)), ErrNotFound)
}

func TestMemoryStore_DuplicateTitle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	first := sampleTask()
	require.NoError(t, store.CreateTask(ctx, first, sampleEntry(first.ID)))

	second := sampleTask()
	assert.ErrorIs(t, store.CreateTask(ctx, second, sampleEntry(second.ID)), ErrDuplicate)

	other := sampleTask()
	other.Title = "Other"
	require.NoError(t, store.CreateTask(ctx, other, sampleEntry(other.ID)))

	renamed := other
	renamed.Title = first.Title
	renamed.Version = other.Version + 1
	assert.ErrorIs(t, store.UpdateTask(ctx, renamed, other.Version, sampleEntry(other.ID)), ErrDuplicate)
	assert.Len(t, store.Actions(), 2)
}

func TestMemoryStore_DeleteKeepsOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var ids []uuid.UUID
	for _, title := range []string{"a", "b", "c"} {
		task := sampleTask()
		task.Title = title
		require.NoError(t, store.CreateTask(ctx, task, sampleEntry(task.ID)))
		ids = append(ids, task.ID)
	}

	deleted, err := store.DeleteTask(ctx, ids[1], sampleEntry(ids[1]))
	require.NoError(t, err)
	assert.Equal(t, "b", deleted.Title)

	_, err = store.DeleteTask(ctx, ids[1], sampleEntry(ids[1]))
	assert.ErrorIs(t, err, ErrNotFound)

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "a", tasks[0].Title)
	assert.Equal(t, "c", tasks[1].Title)
}

func TestMemoryStore_CountOpenTasksByAssignee(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	alice := uuid.Must(uuid.NewV4())

	for i, status := range []string{models.StatusTodo, models.StatusInProgress, models.StatusDone} {
		task := sampleTask()
		task.Title = status
		task.Status = status
		task.AssignedUser = &alice
		if i == 0 {
			task.AssignedUser = nil
		}
		require.NoError(t, store.CreateTask(ctx, task, sampleEntry(task.ID)))
	}

	counts, err := store.CountOpenTasksByAssignee(ctx, models.OpenStatuses)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[alice])
	assert.Len(t, counts, 1)
}

func TestMemoryStore_RecentActions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	user := models.User{ID: uuid.Must(uuid.NewV4()), Username: "alice", Password: "x"}
	require.NoError(t, store.CreateUser(ctx, user))

	kept := sampleTask()
	kept.Title = "kept"
	gone := sampleTask()
	gone.Title = "gone"
	for _, task := range []models.Task{kept, gone} {
		entry := sampleEntry(task.ID)
		entry.UserID = user.ID
		require.NoError(t, store.CreateTask(ctx, task, entry))
	}
	_, err := store.DeleteTask(ctx, gone.ID, models.ActionLog{ID: uuid.Must(uuid.NewV4()), UserID: user.ID, TaskID: gone.ID, Action: "Deleted task: gone"})
	require.NoError(t, err)

	views, err := store.RecentActions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "Deleted task: gone", views[0].Action)
	assert.Empty(t, views[0].TaskTitle)
	assert.Equal(t, "alice", views[0].Username)
	assert.Empty(t, views[1].TaskTitle)

	views, err = store.RecentActions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, "kept", views[2].TaskTitle)
}

func TestMemoryStore_UsersInCreationOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Unix(100, 0)

	require.NoError(t, store.CreateUser(ctx, models.User{ID: uuid.Must(uuid.NewV4()), Username: "late", CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, store.CreateUser(ctx, models.User{ID: uuid.Must(uuid.NewV4()), Username: "early", CreatedAt: base}))
	assert.ErrorIs(t, store.CreateUser(ctx, models.User{ID: uuid.Must(uuid.NewV4()), Username: "early"}), ErrDuplicate)

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "early", users[0].Username)
	assert.Equal(t, "late", users[1].Username)
}

func TestMemoryStore_ConsumeTokenOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	userID := uuid.Must(uuid.NewV4())
	token := models.Token{ID: uuid.Must(uuid.NewV4()), UserID: userID, JTI: uuid.Must(uuid.NewV4()), ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, store.SaveToken(ctx, token))

	_, err := store.ConsumeToken(ctx, token.JTI, uuid.Must(uuid.NewV4()), now)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.ConsumeToken(ctx, token.JTI, userID, now.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := store.ConsumeToken(ctx, token.JTI, userID, now)
	require.NoError(t, err)
	assert.Equal(t, token.ID, got.ID)

	_, err = store.ConsumeToken(ctx, token.JTI, userID, now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_RecentActionsNonPositiveLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	task := sampleTask()
	require.NoError(t, store.CreateTask(ctx, task, sampleEntry(task.ID)))

	for _, limit := range []int{0, -1} {
		views, err := store.RecentActions(ctx, limit)
		require.NoError(t, err)
		assert.Empty(t, views)
	}
}
