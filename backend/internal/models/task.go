package models

import (
	"time"

	"github.com/gofrs/uuid"
)

const (
	StatusTodo       = "Todo"
	StatusInProgress = "In Progress"
	StatusDone       = "Done"

	PriorityLow    = "Low"
	PriorityMedium = "Medium"
	PriorityHigh   = "High"
)

// Columns is the fixed, ordered set of board columns. Task titles may not
// collide with any of them.
var Columns = []string{StatusTodo, StatusInProgress, StatusDone}

// OpenStatuses are the non-terminal statuses counted as workload.
var OpenStatuses = []string{StatusTodo, StatusInProgress}

var Priorities = []string{PriorityLow, PriorityMedium, PriorityHigh}

type Task struct {
	ID           uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid"`
	Title        string     `json:"title" gorm:"not null;uniqueIndex"`
	Description  string     `json:"description"`
	AssignedUser *uuid.UUID `json:"assigned_user,omitempty" gorm:"type:uuid;index"`
	Status       string     `json:"status" gorm:"not null"`
	Priority     string     `json:"priority" gorm:"not null"`
	LastModified time.Time  `json:"last_modified" gorm:"not null"`
	Version      int        `json:"version" gorm:"not null"`
}

// TaskFields is the editable subset of a task a client proposes. An empty
// value means "leave unchanged" on the regular update path.
type TaskFields struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

func IsColumn(name string) bool {
	for _, c := range Columns {
		if c == name {
			return true
		}
	}
	return false
}

func IsPriority(p string) bool {
	for _, v := range Priorities {
		if v == p {
			return true
		}
	}
	return false
}
