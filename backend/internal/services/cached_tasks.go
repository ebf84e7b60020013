package services

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"collab-board/backend/internal/broadcast"
	"collab-board/backend/internal/cache"
	"collab-board/backend/internal/models"

	"github.com/gofrs/uuid"
)

const boardCacheKey = "board:tasks"

// CachedTaskService serves the full board from cache and drops the cached
// board whenever a task changes. It is also a broadcast observer, so changes
// relayed from other instances invalidate the local copy too.
type CachedTaskService struct {
	TaskService
	cache cache.Cache
	ttl   time.Duration

	// generation moves on every change notice and applied trails it until the
	// cached board is actually gone. Reads skip the cache while they differ,
	// and a board read that raced with a change is not written back.
	generation atomic.Uint64
	applied    atomic.Uint64
	dirty      chan struct{}
}

func NewCachedTaskService(inner TaskService, c cache.Cache, ttl time.Duration) *CachedTaskService {
	return &CachedTaskService{
		TaskService: inner,
		cache:       c,
		ttl:         ttl,
		dirty:       make(chan struct{}, 1),
	}
}

func (s *CachedTaskService) ListTasks(ctx context.Context) ([]models.Task, error) {
	gen := s.generation.Load()
	if s.applied.Load() == gen {
		var tasks []models.Task
		if err := s.cache.Get(boardCacheKey, &tasks); err == nil {
			return tasks, nil
		}
	}

	tasks, err := s.TaskService.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	if s.generation.Load() == gen {
		if err := s.cache.Set(boardCacheKey, tasks, s.ttl); err != nil {
			log.Printf("⚠️  Failed to cache board: %v", err)
		}
	}
	return tasks, nil
}

func (s *CachedTaskService) CreateTask(ctx context.Context, actor uuid.UUID, input CreateTaskInput) (models.Task, error) {
	task, err := s.TaskService.CreateTask(ctx, actor, input)
	s.invalidateOn(err)
	return task, err
}

func (s *CachedTaskService) AttemptUpdate(ctx context.Context, actor, id uuid.UUID, fields models.TaskFields, clientVersion int) (models.Task, error) {
	task, err := s.TaskService.AttemptUpdate(ctx, actor, id, fields, clientVersion)
	s.invalidateOn(err)
	return task, err
}

func (s *CachedTaskService) ResolveConflict(ctx context.Context, actor, id uuid.UUID, res Resolution) (models.Task, error) {
	task, err := s.TaskService.ResolveConflict(ctx, actor, id, res)
	s.invalidateOn(err)
	return task, err
}

func (s *CachedTaskService) SmartAssign(ctx context.Context, actor, id uuid.UUID) (models.Task, error) {
	task, err := s.TaskService.SmartAssign(ctx, actor, id)
	s.invalidateOn(err)
	return task, err
}

func (s *CachedTaskService) DeleteTask(ctx context.Context, actor, id uuid.UUID) (models.Task, error) {
	task, err := s.TaskService.DeleteTask(ctx, actor, id)
	s.invalidateOn(err)
	return task, err
}

func (s *CachedTaskService) invalidateOn(err error) {
	if err != nil {
		return
	}
	s.drop(s.generation.Add(1))
}

// drop deletes the cached board and records gen as applied.
func (s *CachedTaskService) drop(gen uint64) {
	if err := s.cache.Delete(boardCacheKey); err != nil {
		log.Printf("⚠️  Failed to invalidate cached board: %v", err)
	}
	for {
		cur := s.applied.Load()
		if gen <= cur || s.applied.CompareAndSwap(cur, gen) {
			return
		}
	}
}

func (s *CachedTaskService) ID() string {
	return "board-cache"
}

// Enqueue marks the board dirty without blocking the broadcaster; Run does
// the actual delete.
func (s *CachedTaskService) Enqueue(ev broadcast.Event) bool {
	s.generation.Add(1)
	select {
	case s.dirty <- struct{}{}:
	default:
	}
	return true
}

func (s *CachedTaskService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.dirty:
			s.drop(s.generation.Load())
		}
	}
}
