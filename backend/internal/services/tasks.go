package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collab-board/backend/internal/broadcast"
	"collab-board/backend/internal/models"
	"collab-board/backend/internal/monitoring"
	"collab-board/backend/internal/repositories"

	"github.com/gofrs/uuid"
)

type ResolutionStrategy string

const (
	ResolveMerge     ResolutionStrategy = "merge"
	ResolveOverwrite ResolutionStrategy = "overwrite"
)

type Resolution struct {
	Strategy ResolutionStrategy
	Fields   models.TaskFields
}

type CreateTaskInput struct {
	Title       string
	Description string
	Status      string
	Priority    string
}

// Publisher is the fan-out side of a committed mutation.
type Publisher interface {
	Publish(task models.Task, action string) broadcast.Event
}

type BoardStore interface {
	repositories.TaskStore
	repositories.UserStore
}

type TaskService interface {
	ListTasks(ctx context.Context) ([]models.Task, error)
	GetTask(ctx context.Context, id uuid.UUID) (models.Task, error)
	CreateTask(ctx context.Context, actor uuid.UUID, input CreateTaskInput) (models.Task, error)
	AttemptUpdate(ctx context.Context, actor, id uuid.UUID, fields models.TaskFields, clientVersion int) (models.Task, error)
	ResolveConflict(ctx context.Context, actor, id uuid.UUID, res Resolution) (models.Task, error)
	SmartAssign(ctx context.Context, actor, id uuid.UUID) (models.Task, error)
	DeleteTask(ctx context.Context, actor, id uuid.UUID) (models.Task, error)
	RecentActions(ctx context.Context, limit int) ([]models.ActionLogView, error)
	ListUsers(ctx context.Context) ([]models.UserSummary, error)
}

type TaskServiceImpl struct {
	store     BoardStore
	publisher Publisher
	locks     *keyedMutex
	now       func() time.Time
}

func NewTaskService(store BoardStore, publisher Publisher) *TaskServiceImpl {
	return &TaskServiceImpl{
		store:     store,
		publisher: publisher,
		locks:     newKeyedMutex(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *TaskServiceImpl) ListTasks(ctx context.Context) ([]models.Task, error) {
	return s.store.ListTasks(ctx)
}

func (s *TaskServiceImpl) GetTask(ctx context.Context, id uuid.UUID) (models.Task, error) {
	task, err := s.store.GetTask(ctx, id)
	return task, mapStoreError(err)
}

const (
	DefaultActionLimit = 20
	MaxActionLimit     = 100
)

// RecentActions returns the newest log entries first. A non-positive limit
// means the default and anything above MaxActionLimit is capped.
func (s *TaskServiceImpl) RecentActions(ctx context.Context, limit int) ([]models.ActionLogView, error) {
	switch {
	case limit <= 0:
		limit = DefaultActionLimit
	case limit > MaxActionLimit:
		limit = MaxActionLimit
	}
	return s.store.RecentActions(ctx, limit)
}

func (s *TaskServiceImpl) ListUsers(ctx context.Context) ([]models.UserSummary, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]models.UserSummary, 0, len(users))
	for _, u := range users {
		summaries = append(summaries, models.UserSummary{ID: u.ID, Username: u.Username})
	}
	return summaries, nil
}

func (s *TaskServiceImpl) CreateTask(ctx context.Context, actor uuid.UUID, input CreateTaskInput) (models.Task, error) {
	if input.Title == "" {
		return models.Task{}, ErrTitleRequired
	}
	if err := validateFields(models.TaskFields{Status: input.Status, Priority: input.Priority}); err != nil {
		return models.Task{}, err
	}
	if err := s.checkTitle(ctx, input.Title, uuid.Nil); err != nil {
		return models.Task{}, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return models.Task{}, fmt.Errorf("failed to generate task id: %w", err)
	}

	assignee := actor
	task := models.Task{
		ID:           id,
		Title:        input.Title,
		Description:  input.Description,
		AssignedUser: &assignee,
		Status:       withDefault(input.Status, models.StatusTodo),
		Priority:     withDefault(input.Priority, models.PriorityMedium),
		LastModified: s.now(),
		Version:      1,
	}

	if err := s.store.CreateTask(ctx, task, s.entry(actor, id, "Created task")); err != nil {
		return models.Task{}, mapStoreError(err)
	}

	s.publish(task, models.ActionCreate)
	return task, nil
}

// AttemptUpdate applies fields only if clientVersion matches the stored
// version. A stale version yields a *ConflictError and no side effects.
// Empty fields keep their current value, so a client cannot clear a field
// through this path.
func (s *TaskServiceImpl) AttemptUpdate(ctx context.Context, actor, id uuid.UUID, fields models.TaskFields, clientVersion int) (models.Task, error) {
	if err := validateFields(fields); err != nil {
		return models.Task{}, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	current, err := s.store.GetTask(ctx, id)
	if err != nil {
		return models.Task{}, mapStoreError(err)
	}
	if current.Version != clientVersion {
		monitoring.Conflicts.Inc()
		return models.Task{}, &ConflictError{Current: current, Proposed: fields}
	}

	next := mergeFields(current, fields)
	if next.Title != current.Title {
		if err := s.checkTitle(ctx, next.Title, id); err != nil {
			return models.Task{}, err
		}
	}
	next.Version = current.Version + 1
	next.LastModified = s.now()

	err = s.store.UpdateTask(ctx, next, current.Version, s.entry(actor, id, "Updated task: "+next.Title))
	if errors.Is(err, repositories.ErrStaleVersion) {
		// Another process committed between our read and write.
		latest, gerr := s.store.GetTask(ctx, id)
		if gerr != nil {
			return models.Task{}, mapStoreError(gerr)
		}
		monitoring.Conflicts.Inc()
		return models.Task{}, &ConflictError{Current: latest, Proposed: fields}
	}
	if err != nil {
		return models.Task{}, mapStoreError(err)
	}

	s.publish(next, models.ActionUpdate)
	return next, nil
}

// ResolveConflict applies a human-acknowledged resolution without a version
// check. Overwrite replaces the editable fields wholesale; merge applies only
// the fields the client filled in and keeps the stored values for the rest.
func (s *TaskServiceImpl) ResolveConflict(ctx context.Context, actor, id uuid.UUID, res Resolution) (models.Task, error) {
	if res.Strategy != ResolveMerge && res.Strategy != ResolveOverwrite {
		return models.Task{}, ErrInvalidResolution
	}
	if err := validateFields(res.Fields); err != nil {
		return models.Task{}, err
	}

	return s.mutate(ctx, actor, id, models.ActionResolve, func(current models.Task) (models.Task, string, error) {
		var next models.Task
		if res.Strategy == ResolveOverwrite {
			next = overwriteFields(current, res.Fields)
		} else {
			next = mergeFields(current, res.Fields)
		}
		if next.Title != current.Title {
			if err := s.checkTitle(ctx, next.Title, id); err != nil {
				return models.Task{}, "", err
			}
		}
		return next, "Resolved conflict for task: " + next.Title, nil
	})
}

// SmartAssign hands the task to the user with the fewest open tasks. Users
// are enumerated in creation order, so ties go to the oldest account.
func (s *TaskServiceImpl) SmartAssign(ctx context.Context, actor, id uuid.UUID) (models.Task, error) {
	return s.mutate(ctx, actor, id, models.ActionSmartAssign, func(current models.Task) (models.Task, string, error) {
		users, err := s.store.ListUsers(ctx)
		if err != nil {
			return models.Task{}, "", err
		}
		if len(users) == 0 {
			return models.Task{}, "", ErrNoUsers
		}
		counts, err := s.store.CountOpenTasksByAssignee(ctx, models.OpenStatuses)
		if err != nil {
			return models.Task{}, "", err
		}

		selected := users[0]
		fewest := counts[selected.ID]
		for _, u := range users[1:] {
			if c := counts[u.ID]; c < fewest {
				fewest = c
				selected = u
			}
		}

		next := current
		assignee := selected.ID
		next.AssignedUser = &assignee
		return next, "Smart assigned task: " + next.Title, nil
	})
}

func (s *TaskServiceImpl) DeleteTask(ctx context.Context, actor, id uuid.UUID) (models.Task, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	current, err := s.store.GetTask(ctx, id)
	if err != nil {
		return models.Task{}, mapStoreError(err)
	}

	deleted, err := s.store.DeleteTask(ctx, id, s.entry(actor, id, "Deleted task: "+current.Title))
	if err != nil {
		return models.Task{}, mapStoreError(err)
	}

	s.publish(deleted, models.ActionDelete)
	return deleted, nil
}

type mutation func(current models.Task) (next models.Task, description string, err error)

// mutate runs an unconditional read-modify-write under the task lock,
// re-reading when a concurrent writer in another process wins the CAS. Each
// lost CAS means someone else committed, so it retries for as long as the
// task exists and the request is alive.
func (s *TaskServiceImpl) mutate(ctx context.Context, actor, id uuid.UUID, action string, fn mutation) (models.Task, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	for {
		if err := ctx.Err(); err != nil {
			return models.Task{}, fmt.Errorf("%w: %v", ErrTaskBusy, err)
		}

		current, err := s.store.GetTask(ctx, id)
		if err != nil {
			return models.Task{}, mapStoreError(err)
		}

		next, description, err := fn(current)
		if err != nil {
			return models.Task{}, mapStoreError(err)
		}
		next.ID = current.ID
		next.Version = current.Version + 1
		next.LastModified = s.now()

		err = s.store.UpdateTask(ctx, next, current.Version, s.entry(actor, id, description))
		if errors.Is(err, repositories.ErrStaleVersion) {
			continue
		}
		if err != nil {
			return models.Task{}, mapStoreError(err)
		}

		s.publish(next, action)
		return next, nil
	}
}

func (s *TaskServiceImpl) publish(task models.Task, action string) {
	monitoring.Mutations.WithLabelValues(action).Inc()
	if s.publisher != nil {
		s.publisher.Publish(task, action)
	}
}

func (s *TaskServiceImpl) entry(actor, taskID uuid.UUID, description string) models.ActionLog {
	return models.ActionLog{
		ID:        uuid.Must(uuid.NewV4()),
		Action:    description,
		UserID:    actor,
		TaskID:    taskID,
		Timestamp: s.now(),
	}
}

// checkTitle rejects column names and titles held by a task other than self.
func (s *TaskServiceImpl) checkTitle(ctx context.Context, title string, self uuid.UUID) error {
	if models.IsColumn(title) {
		return ErrReservedName
	}
	existing, err := s.store.FindTaskByTitle(ctx, title)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID != self:
		return ErrDuplicateTitle
	}
	return nil
}

func validateFields(f models.TaskFields) error {
	if f.Status != "" && !models.IsColumn(f.Status) {
		return ErrInvalidStatus
	}
	if f.Priority != "" && !models.IsPriority(f.Priority) {
		return ErrInvalidPriority
	}
	return nil
}

func mergeFields(current models.Task, f models.TaskFields) models.Task {
	next := current
	next.Title = withDefault(f.Title, current.Title)
	next.Description = withDefault(f.Description, current.Description)
	next.Status = withDefault(f.Status, current.Status)
	next.Priority = withDefault(f.Priority, current.Priority)
	return next
}

// overwriteFields replaces every editable field. Title is required, so an
// empty title keeps the stored one; empty enums fall back to their defaults.
func overwriteFields(current models.Task, f models.TaskFields) models.Task {
	next := current
	next.Title = withDefault(f.Title, current.Title)
	next.Description = f.Description
	next.Status = withDefault(f.Status, models.StatusTodo)
	next.Priority = withDefault(f.Priority, models.PriorityMedium)
	return next
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrNotFound):
		return ErrTaskNotFound
	case errors.Is(err, repositories.ErrDuplicate):
		return ErrDuplicateTitle
	case errors.Is(err, repositories.ErrStaleVersion):
		return ErrTaskBusy
	}
	return err
}
