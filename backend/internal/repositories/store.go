package repositories

import (
	"context"
	"errors"
	"time"

	"collab-board/backend/internal/models"

	"github.com/gofrs/uuid"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicate    = errors.New("duplicate key")
	ErrStaleVersion = errors.New("stale version")
)

// TaskStore owns the canonical task records and the action log. Every
// mutating call writes the task change and its log entry as one unit.
type TaskStore interface {
	GetTask(ctx context.Context, id uuid.UUID) (models.Task, error)
	ListTasks(ctx context.Context) ([]models.Task, error)
	FindTaskByTitle(ctx context.Context, title string) (models.Task, error)
	CreateTask(ctx context.Context, task models.Task, entry models.ActionLog) error
	// UpdateTask persists task only if the stored version still equals
	// expectedVersion, returning ErrStaleVersion otherwise.
	UpdateTask(ctx context.Context, task models.Task, expectedVersion int, entry models.ActionLog) error
	DeleteTask(ctx context.Context, id uuid.UUID, entry models.ActionLog) (models.Task, error)
	CountOpenTasksByAssignee(ctx context.Context, statuses []string) (map[uuid.UUID]int64, error)
	RecentActions(ctx context.Context, limit int) ([]models.ActionLogView, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (models.User, error)
	FindUserByUsername(ctx context.Context, username string) (models.User, error)
	// ListUsers returns users in creation order, ties broken by id.
	ListUsers(ctx context.Context) ([]models.User, error)
}

type TokenStore interface {
	SaveToken(ctx context.Context, token models.Token) error
	// ConsumeToken deletes and returns a live refresh token record.
	ConsumeToken(ctx context.Context, jti, userID uuid.UUID, now time.Time) (models.Token, error)
	DeleteToken(ctx context.Context, jti uuid.UUID) error
}

type Store interface {
	TaskStore
	UserStore
	TokenStore
	Ping(ctx context.Context) error
}
