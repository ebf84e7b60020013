package models

import (
	"time"

	"github.com/gofrs/uuid"
)

// Action kinds carried by both the action log and broadcast events.
const (
	ActionCreate      = "create"
	ActionUpdate      = "update"
	ActionDelete      = "delete"
	ActionResolve     = "resolve"
	ActionSmartAssign = "smart-assign"
)

// ActionLog is written once per accepted mutation and never modified.
type ActionLog struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	Action    string    `json:"action" gorm:"not null"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:uuid;not null"`
	TaskID    uuid.UUID `json:"task_id" gorm:"type:uuid;not null;index"`
	Timestamp time.Time `json:"timestamp" gorm:"not null;index"`
}

func (ActionLog) TableName() string {
	return "action_logs"
}

// ActionLogView is an ActionLog with the user and task references resolved.
// TaskTitle is empty when the task has since been deleted.
type ActionLogView struct {
	ID        uuid.UUID `json:"id"`
	Action    string    `json:"action"`
	UserID    uuid.UUID `json:"user_id"`
	Username  string    `json:"username"`
	TaskID    uuid.UUID `json:"task_id"`
	TaskTitle string    `json:"task_title,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
