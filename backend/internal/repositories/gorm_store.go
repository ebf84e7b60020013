package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collab-board/backend/internal/models"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) GetTask(ctx context.Context, id uuid.UUID) (models.Task, error) {
	var task models.Task
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&task).Error
	return task, translate(err)
}

func (s *GormStore) ListTasks(ctx context.Context) ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.WithContext(ctx).Order("last_modified ASC").Find(&tasks).Error
	return tasks, translate(err)
}

func (s *GormStore) FindTaskByTitle(ctx context.Context, title string) (models.Task, error) {
	var task models.Task
	err := s.db.WithContext(ctx).Where("title = ?", title).First(&task).Error
	return task, translate(err)
}

func (s *GormStore) CreateTask(ctx context.Context, task models.Task, entry models.ActionLog) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&task).Error; err != nil {
			return translate(err)
		}
		return translate(tx.Create(&entry).Error)
	})
}

func (s *GormStore) UpdateTask(ctx context.Context, task models.Task, expectedVersion int, entry models.ActionLog) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Task{}).
			Where("id = ? AND version = ?", task.ID, expectedVersion).
			Updates(map[string]interface{}{
				"title":         task.Title,
				"description":   task.Description,
				"assigned_user": task.AssignedUser,
				"status":        task.Status,
				"priority":      task.Priority,
				"last_modified": task.LastModified,
				"version":       task.Version,
			})
		if res.Error != nil {
			return translate(res.Error)
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&models.Task{}).Where("id = ?", task.ID).Count(&n).Error; err != nil {
				return translate(err)
			}
			if n == 0 {
				return ErrNotFound
			}
			return ErrStaleVersion
		}
		return translate(tx.Create(&entry).Error)
	})
}

func (s *GormStore) DeleteTask(ctx context.Context, id uuid.UUID, entry models.ActionLog) (models.Task, error) {
	var task models.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&task).Error; err != nil {
			return translate(err)
		}
		if err := tx.Where("id = ?", id).Delete(&models.Task{}).Error; err != nil {
			return translate(err)
		}
		return translate(tx.Create(&entry).Error)
	})
	return task, err
}

func (s *GormStore) CountOpenTasksByAssignee(ctx context.Context, statuses []string) (map[uuid.UUID]int64, error) {
	var rows []struct {
		AssignedUser uuid.UUID
		Count        int64
	}
	err := s.db.WithContext(ctx).Model(&models.Task{}).
		Select("assigned_user, count(*) AS count").
		Where("status IN ? AND assigned_user IS NOT NULL", statuses).
		Group("assigned_user").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	counts := make(map[uuid.UUID]int64, len(rows))
	for _, r := range rows {
		counts[r.AssignedUser] = r.Count
	}
	return counts, nil
}

func (s *GormStore) RecentActions(ctx context.Context, limit int) ([]models.ActionLogView, error) {
	var views []models.ActionLogView
	err := s.db.WithContext(ctx).Raw(`SELECT a.id, a.action, a.user_id, COALESCE(u.username, '') AS username,
		a.task_id, COALESCE(t.title, '') AS task_title, a.timestamp
		FROM action_logs a
		LEFT JOIN users u ON u.id = a.user_id
		LEFT JOIN tasks t ON t.id = a.task_id
		ORDER BY a.timestamp DESC
		LIMIT ?`, limit).Scan(&views).Error
	return views, translate(err)
}

func (s *GormStore) CreateUser(ctx context.Context, user models.User) error {
	return translate(s.db.WithContext(ctx).Create(&user).Error)
}

func (s *GormStore) GetUser(ctx context.Context, id uuid.UUID) (models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	return user, translate(err)
}

func (s *GormStore) FindUserByUsername(ctx context.Context, username string) (models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	return user, translate(err)
}

func (s *GormStore) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&users).Error
	return users, translate(err)
}

func (s *GormStore) SaveToken(ctx context.Context, token models.Token) error {
	return translate(s.db.WithContext(ctx).Create(&token).Error)
}

func (s *GormStore) ConsumeToken(ctx context.Context, jti, userID uuid.UUID, now time.Time) (models.Token, error) {
	var token models.Token
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("jti = ? AND user_id = ? AND expires_at > ?", jti, userID, now).First(&token).Error
		if err != nil {
			return translate(err)
		}
		return translate(tx.Delete(&token).Error)
	})
	return token, err
}

func (s *GormStore) DeleteToken(ctx context.Context, jti uuid.UUID) error {
	return translate(s.db.WithContext(ctx).Where("jti = ?", jti).Delete(&models.Token{}).Error)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDuplicate), errors.Is(err, ErrStaleVersion):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return fmt.Errorf("storage failure: %w", err)
	}
}
