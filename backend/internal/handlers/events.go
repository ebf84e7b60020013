package handlers

import (
	"context"
	"log"
	"net/url"
	"time"

	"collab-board/backend/internal/broadcast"
	"collab-board/backend/internal/middleware"
	"collab-board/backend/internal/models"
	"collab-board/backend/internal/services"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

const writeTimeout = 10 * time.Second

// Snapshot is the first message on every connection. Events queued while it
// was being built may predate it; clients drop events whose task version is
// below what they already hold.
type Snapshot struct {
	Type  string        `json:"type"`
	Tasks []models.Task `json:"tasks"`
}

type EventsConfig struct {
	QueueSize      int
	PingInterval   time.Duration
	AllowedOrigins []string
}

// EventsHandler streams broadcast events to one WebSocket observer per
// connection.
type EventsHandler struct {
	hub            *broadcast.Broadcaster
	taskService    services.TaskService
	queueSize      int
	pingInterval   time.Duration
	originPatterns []string
}

func NewEventsHandler(hub *broadcast.Broadcaster, taskService services.TaskService, cfg EventsConfig) *EventsHandler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &EventsHandler{
		hub:            hub,
		taskService:    taskService,
		queueSize:      cfg.QueueSize,
		pingInterval:   cfg.PingInterval,
		originPatterns: originHosts(cfg.AllowedOrigins),
	}
}

func (h *EventsHandler) Stream(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		log.Printf("⚠️  WebSocket accept failed for %s: %v", userID, err)
		return
	}
	defer conn.CloseNow()

	// Subscribe before reading the board so no commit falls between them.
	sub := h.hub.Subscribe(userID.String()+"/"+uuid.Must(uuid.NewV4()).String(), h.queueSize)
	defer h.hub.Unsubscribe(sub)

	// Clients never send; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(c.Request.Context())

	tasks, err := h.taskService.ListTasks(ctx)
	if err != nil {
		log.Printf("❌ Failed to load board snapshot: %v", err)
		conn.Close(websocket.StatusInternalError, "failed to load board")
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	if err := h.write(ctx, conn, Snapshot{Type: "snapshot", Tasks: tasks}); err != nil {
		return
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "observer closed")
				return
			}
			ev.Origin = ""
			if err := h.write(ctx, conn, ev); err != nil {
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *EventsHandler) write(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, v)
}

// originHosts turns configured CORS origins into websocket origin patterns,
// which match on host only.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
		} else {
			hosts = append(hosts, o)
		}
	}
	return hosts
}
