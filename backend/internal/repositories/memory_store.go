package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"collab-board/backend/internal/models"

	"github.com/gofrs/uuid"
)

// MemoryStore is a process-local Store. A single mutex makes every
// read-compare-write atomic, which gives the same compare-and-swap
// guarantee the SQL store gets from its conditional UPDATE.
type MemoryStore struct {
	mu      sync.RWMutex
	tasks   map[uuid.UUID]models.Task
	order   []uuid.UUID
	actions []models.ActionLog
	users   []models.User
	tokens  map[uuid.UUID]models.Token
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:  make(map[uuid.UUID]models.Task),
		tokens: make(map[uuid.UUID]models.Token),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, id uuid.UUID) (models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return models.Task{}, ErrNotFound
	}
	return task, nil
}

func (s *MemoryStore) ListTasks(ctx context.Context) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]models.Task, 0, len(s.order))
	for _, id := range s.order {
		tasks = append(tasks, s.tasks[id])
	}
	return tasks, nil
}

func (s *MemoryStore) FindTaskByTitle(ctx context.Context, title string) (models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		if s.tasks[id].Title == title {
			return s.tasks[id], nil
		}
	}
	return models.Task{}, ErrNotFound
}

func (s *MemoryStore) CreateTask(ctx context.Context, task models.Task, entry models.ActionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return ErrDuplicate
	}
	if s.titleTakenLocked(task.Title, task.ID) {
		return ErrDuplicate
	}
	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)
	s.actions = append(s.actions, entry)
	return nil
}

func (s *MemoryStore) UpdateTask(ctx context.Context, task models.Task, expectedVersion int, entry models.ActionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tasks[task.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrStaleVersion
	}
	if s.titleTakenLocked(task.Title, task.ID) {
		return ErrDuplicate
	}
	s.tasks[task.ID] = task
	s.actions = append(s.actions, entry)
	return nil
}

func (s *MemoryStore) DeleteTask(ctx context.Context, id uuid.UUID, entry models.ActionLog) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return models.Task{}, ErrNotFound
	}
	delete(s.tasks, id)
	for i, tid := range s.order {
		if tid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.actions = append(s.actions, entry)
	return task, nil
}

func (s *MemoryStore) CountOpenTasksByAssignee(ctx context.Context, statuses []string) (map[uuid.UUID]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	open := make(map[string]bool, len(statuses))
	for _, st := range statuses {
		open[st] = true
	}
	counts := make(map[uuid.UUID]int64)
	for _, task := range s.tasks {
		if task.AssignedUser != nil && open[task.Status] {
			counts[*task.AssignedUser]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) RecentActions(ctx context.Context, limit int) ([]models.ActionLogView, error) {
	if limit <= 0 {
		return []models.ActionLogView{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	usernames := make(map[uuid.UUID]string, len(s.users))
	for _, u := range s.users {
		usernames[u.ID] = u.Username
	}

	views := make([]models.ActionLogView, 0, min(limit, len(s.actions)))
	for i := len(s.actions) - 1; i >= 0 && len(views) < limit; i-- {
		a := s.actions[i]
		view := models.ActionLogView{
			ID:        a.ID,
			Action:    a.Action,
			UserID:    a.UserID,
			Username:  usernames[a.UserID],
			TaskID:    a.TaskID,
			Timestamp: a.Timestamp,
		}
		if task, ok := s.tasks[a.TaskID]; ok {
			view.TaskTitle = task.Title
		}
		views = append(views, view)
	}
	return views, nil
}

// Actions returns a copy of the raw action log in insertion order.
func (s *MemoryStore) Actions() []models.ActionLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.ActionLog(nil), s.actions...)
}

func (s *MemoryStore) CreateUser(ctx context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.ID == user.ID || u.Username == user.Username {
			return ErrDuplicate
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	s.users = append(s.users, user)
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id uuid.UUID) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return models.User{}, ErrNotFound
}

func (s *MemoryStore) FindUserByUsername(ctx context.Context, username string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return models.User{}, ErrNotFound
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]models.User, error) {
	s.mu.RLock()
	users := append([]models.User(nil), s.users...)
	s.mu.RUnlock()

	sort.SliceStable(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.Before(users[j].CreatedAt)
		}
		return users[i].ID.String() < users[j].ID.String()
	})
	return users, nil
}

func (s *MemoryStore) SaveToken(ctx context.Context, token models.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[token.JTI]; exists {
		return ErrDuplicate
	}
	s.tokens[token.JTI] = token
	return nil
}

func (s *MemoryStore) ConsumeToken(ctx context.Context, jti, userID uuid.UUID, now time.Time) (models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[jti]
	if !ok || token.UserID != userID || !token.ExpiresAt.After(now) {
		return models.Token{}, ErrNotFound
	}
	delete(s.tokens, jti)
	return token, nil
}

func (s *MemoryStore) DeleteToken(ctx context.Context, jti uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, jti)
	return nil
}

func (s *MemoryStore) titleTakenLocked(title string, except uuid.UUID) bool {
	for id, t := range s.tasks {
		if id != except && t.Title == title {
			return true
		}
	}
	return false
}
