package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"collab-board/backend/internal/broadcast"
	"collab-board/backend/internal/config"
	"collab-board/backend/internal/middleware"
	"collab-board/backend/internal/models"
	"collab-board/backend/internal/repositories"
	"collab-board/backend/internal/services"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testApp struct {
	router *gin.Engine
	store  *repositories.MemoryStore
	hub    *broadcast.Broadcaster
	tasks  services.TaskService
	actor  uuid.UUID
}

func setupTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repositories.NewMemoryStore()
	hub := broadcast.NewBroadcaster(nil, "test")
	taskService := services.NewTaskService(store, hub)

	actor := uuid.Must(uuid.NewV4())
	require.NoError(t, store.CreateUser(context.Background(), models.User{ID: actor, Username: "alice", Password: "x", CreatedAt: time.Unix(1, 0)}))

	authCfg := config.AuthConfig{JWTSecret: "test-secret", Issuer: "test", AccessTTL: time.Hour, RefreshTTL: time.Hour}
	authHandler := NewAuthHandler(services.NewAuthService(store, authCfg))
	registerHandler := NewRegisterHandler(services.NewRegisterService(store))
	taskHandler := NewTaskHandler(taskService)
	boardHandler := NewBoardHandler(taskService)
	eventsHandler := NewEventsHandler(hub, taskService, EventsConfig{QueueSize: 16, PingInterval: time.Second})

	r := gin.New()
	v1 := r.Group("/api/v1")
	v1.POST("/auth/register", registerHandler.Registration)
	v1.POST("/auth/login", authHandler.Token)
	v1.POST("/auth/refresh", authHandler.Refresh)

	protected := v1.Group("")
	protected.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, actor)
		c.Next()
	})
	protected.GET("/users", boardHandler.GetUsers)
	protected.GET("/actions", boardHandler.GetActions)
	protected.GET("/ws", eventsHandler.Stream)
	tasks := protected.Group("/tasks")
	tasks.GET("", taskHandler.GetTasks)
	tasks.POST("", taskHandler.CreateTask)
	tasks.GET("/:id", taskHandler.GetTaskByID)
	tasks.PUT("/:id", taskHandler.UpdateTask)
	tasks.DELETE("/:id", taskHandler.DeleteTask)
	tasks.POST("/:id/resolve-conflict", taskHandler.ResolveConflict)
	tasks.POST("/:id/smart-assign", taskHandler.SmartAssign)

	return &testApp{router: r, store: store, hub: hub, tasks: taskService, actor: actor}
}

func (a *testApp) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testApp) createTask(t *testing.T, title string) models.Task {
	t.Helper()
	w := a.do(t, "POST", "/api/v1/tasks", gin.H{"title": title, "description": "d"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var task models.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &task))
	return task
}

func TestCreateTaskHandler(t *testing.T) {
	app := setupTestApp(t)

	task := app.createTask(t, "Report Bug")
	assert.Equal(t, 1, task.Version)
	assert.Equal(t, models.StatusTodo, task.Status)
	assert.Equal(t, models.PriorityMedium, task.Priority)

	tests := []struct {
		name    string
		body    gin.H
		want    int
		message string
	}{
		{"reserved name", gin.H{"title": "Todo"}, http.StatusBadRequest, "Title cannot match column names"},
		{"duplicate", gin.H{"title": "Report Bug"}, http.StatusConflict, "Task title must be unique"},
		{"missing title", gin.H{"description": "x"}, http.StatusBadRequest, ""},
		{"bad priority", gin.H{"title": "x", "priority": "Urgent"}, http.StatusBadRequest, "invalid priority"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := app.do(t, "POST", "/api/v1/tasks", tt.body)
			assert.Equal(t, tt.want, w.Code)
			if tt.message != "" {
				assert.Contains(t, w.Body.String(), tt.message)
			}
		})
	}
}

func TestUpdateTaskHandler_Conflict(t *testing.T) {
	app := setupTestApp(t)
	task := app.createTask(t, "Report Bug")
	path := "/api/v1/tasks/" + task.ID.String()

	w := app.do(t, "PUT", path, gin.H{"status": models.StatusInProgress, "version": 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated models.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, 2, updated.Version)

	w = app.do(t, "PUT", path, gin.H{"title": "Stale edit", "version": 1})
	require.Equal(t, http.StatusConflict, w.Code)

	var conflict struct {
		Message  string            `json:"message"`
		Current  models.Task       `json:"current"`
		Proposed models.TaskFields `json:"proposed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conflict))
	assert.Equal(t, "Conflict detected", conflict.Message)
	assert.Equal(t, 2, conflict.Current.Version)
	assert.Equal(t, models.StatusInProgress, conflict.Current.Status)
	assert.Equal(t, "Stale edit", conflict.Proposed.Title)

	w = app.do(t, "PUT", path, gin.H{"title": "No version"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(t, "PUT", "/api/v1/tasks/"+uuid.Must(uuid.NewV4()).String(), gin.H{"title": "x", "version": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = app.do(t, "PUT", "/api/v1/tasks/not-a-uuid", gin.H{"title": "x", "version": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResolveConflictHandler(t *testing.T) {
	app := setupTestApp(t)
	task := app.createTask(t, "Report Bug")
	path := "/api/v1/tasks/" + task.ID.String() + "/resolve-conflict"

	w := app.do(t, "POST", path, gin.H{"merge": true, "priority": models.PriorityHigh})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var merged models.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &merged))
	assert.Equal(t, 2, merged.Version)
	assert.Equal(t, "d", merged.Description)
	assert.Equal(t, models.PriorityHigh, merged.Priority)

	w = app.do(t, "POST", path, gin.H{"strategy": "overwrite", "title": "Report Bug", "status": models.StatusDone})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var overwritten models.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &overwritten))
	assert.Equal(t, 3, overwritten.Version)
	assert.Equal(t, "", overwritten.Description)
	assert.Equal(t, models.PriorityMedium, overwritten.Priority)

	w = app.do(t, "POST", path, gin.H{"strategy": "coin-flip"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSmartAssignHandler(t *testing.T) {
	app := setupTestApp(t)
	idle := uuid.Must(uuid.NewV4())
	require.NoError(t, app.store.CreateUser(context.Background(), models.User{ID: idle, Username: "bob", Password: "x", CreatedAt: time.Unix(2, 0)}))

	task := app.createTask(t, "Report Bug")
	w := app.do(t, "POST", "/api/v1/tasks/"+task.ID.String()+"/smart-assign", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var assigned models.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &assigned))
	require.NotNil(t, assigned.AssignedUser)
	assert.Equal(t, idle, *assigned.AssignedUser)
}

func TestDeleteTaskHandler(t *testing.T) {
	app := setupTestApp(t)
	task := app.createTask(t, "Report Bug")
	path := "/api/v1/tasks/" + task.ID.String()

	w := app.do(t, "DELETE", path, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = app.do(t, "DELETE", path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = app.do(t, "GET", path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBoardHandlers(t *testing.T) {
	app := setupTestApp(t)
	for _, title := range []string{"a", "b", "c"} {
		app.createTask(t, title)
	}

	w := app.do(t, "GET", "/api/v1/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tasks []models.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tasks))
	assert.Len(t, tasks, 3)

	w = app.do(t, "GET", "/api/v1/actions?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var actions []models.ActionLogView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &actions))
	require.Len(t, actions, 2)
	assert.Equal(t, "c", actions[0].TaskTitle)
	assert.Equal(t, "alice", actions[0].Username)

	w = app.do(t, "GET", "/api/v1/actions?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(t, "GET", "/api/v1/users", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "password")
	assert.Contains(t, w.Body.String(), "alice")
}

func TestAuthHandlers(t *testing.T) {
	app := setupTestApp(t)

	w := app.do(t, "POST", "/api/v1/auth/register", gin.H{"username": "carol", "password": "password123"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = app.do(t, "POST", "/api/v1/auth/register", gin.H{"username": "carol", "password": "password123"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = app.do(t, "POST", "/api/v1/auth/register", gin.H{"username": "dan", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(t, "POST", "/api/v1/auth/register", gin.H{"username": "  a ", "password": "password123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "3 to 50")

	w = app.do(t, "POST", "/api/v1/auth/login", gin.H{"username": "carol", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = app.do(t, "POST", "/api/v1/auth/login", gin.H{"username": "carol", "password": "password123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var login struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	assert.NotEmpty(t, login.AccessToken)

	w = app.do(t, "POST", "/api/v1/auth/refresh", gin.H{"refresh_token": login.RefreshToken})
	assert.Equal(t, http.StatusOK, w.Code)

	w = app.do(t, "POST", "/api/v1/auth/refresh", gin.H{"refresh_token": login.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEventsHandler_SnapshotThenUpdates(t *testing.T) {
	app := setupTestApp(t)
	existing := app.createTask(t, "Existing")

	srv := httptest.NewServer(app.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var snapshot Snapshot
	require.NoError(t, wsjson.Read(ctx, conn, &snapshot))
	assert.Equal(t, "snapshot", snapshot.Type)
	require.Len(t, snapshot.Tasks, 1)
	assert.Equal(t, existing.ID, snapshot.Tasks[0].ID)

	_, err = app.tasks.AttemptUpdate(ctx, app.actor, existing.ID, models.TaskFields{Status: models.StatusDone}, 1)
	require.NoError(t, err)

	var ev broadcast.Event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, broadcast.EventTaskUpdate, ev.Type)
	assert.Equal(t, models.ActionUpdate, ev.Action)
	assert.Equal(t, 2, ev.Task.Version)
	assert.Empty(t, ev.Origin)

	conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool {
		return app.hub.ObserverCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleTaskError_BusyIsRetryable(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	handleTaskError(c, fmt.Errorf("%w: %v", services.ErrTaskBusy, context.DeadlineExceeded))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}
