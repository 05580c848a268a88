package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/pairgate/core"
	"go.uber.org/zap"
)

// SessionManager is the lifecycle controller as seen by the control surface
type SessionManager interface {
	Connect(ctx context.Context, id core.Identity) core.ConnectResult
	Info(ctx context.Context, id core.Identity) (core.SessionInfo, error)
	List(ctx context.Context) ([]core.SessionInfo, error)
	Delete(ctx context.Context, id core.Identity) error
	Stats(ctx context.Context) (core.Stats, error)
}

// SessionHandlers contains HTTP handlers for session endpoints
type SessionHandlers struct {
	manager   SessionManager
	log       *zap.Logger
	startedAt time.Time
}

// NewSessionHandlers creates new session handlers
func NewSessionHandlers(manager SessionManager, log *zap.Logger) *SessionHandlers {
	return &SessionHandlers{
		manager:   manager,
		log:       log,
		startedAt: time.Now(),
	}
}

// Health reports liveness and uptime
func (h *SessionHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.startedAt).Seconds(),
	})
}

// Connect starts or resumes the session of the identity in the path
func (h *SessionHandlers) Connect(c *gin.Context) {
	id, ok := h.identity(c, c.Param("identity"))
	if !ok {
		return
	}
	h.connect(c, id)
}

// Info reports the stored state of one identity
func (h *SessionHandlers) Info(c *gin.Context) {
	id, ok := h.identity(c, c.Param("identity"))
	if !ok {
		return
	}
	h.info(c, id)
}

// List reports every known identity
func (h *SessionHandlers) List(c *gin.Context) {
	infos, err := h.manager.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	views := make([]SessionView, 0, len(infos))
	for _, info := range infos {
		views = append(views, NewSessionView(info))
	}
	c.JSON(http.StatusOK, ListResponse{Status: "success", Total: len(views), Sessions: views})
}

// Delete removes every piece of state kept for the identity in the path
func (h *SessionHandlers) Delete(c *gin.Context) {
	id, ok := h.identity(c, c.Param("identity"))
	if !ok {
		return
	}
	h.delete(c, id)
}

// Stats counts known and connected identities
func (h *SessionHandlers) Stats(c *gin.Context) {
	stats, err := h.manager.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": StatsView{
			Stats:     stats,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// GetCode serves the single-endpoint API: ?number=&action=connect|list|info|delete
func (h *SessionHandlers) GetCode(c *gin.Context) {
	action := c.DefaultQuery("action", "connect")
	if action == "list" {
		h.List(c)
		return
	}

	number := c.Query("number")
	if number == "" {
		c.JSON(http.StatusBadRequest, errorBody(`parameter "number" is required for this action`))
		return
	}
	id, ok := h.identity(c, number)
	if !ok {
		return
	}

	switch action {
	case "connect":
		h.connect(c, id)
	case "info":
		h.info(c, id)
	case "delete":
		h.delete(c, id)
	default:
		c.JSON(http.StatusBadRequest, errorBody(fmt.Sprintf("unknown action %q", action)))
	}
}

func (h *SessionHandlers) connect(c *gin.Context, id core.Identity) {
	res := h.manager.Connect(c.Request.Context(), id)
	if res.Kind == core.ResultError {
		h.fail(c, res.Err)
		return
	}

	status := http.StatusOK
	if res.Kind == core.ResultWaiting {
		status = http.StatusAccepted
	}
	c.JSON(status, NewConnectResponse(res))
}

func (h *SessionHandlers) info(c *gin.Context, id core.Identity) {
	info, err := h.manager.Info(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "session": NewSessionView(info)})
}

func (h *SessionHandlers) delete(c *gin.Context, id core.Identity) {
	if err := h.manager.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": fmt.Sprintf("session for %s deleted", id),
	})
}

func (h *SessionHandlers) identity(c *gin.Context, raw string) (core.Identity, bool) {
	id, err := core.ParseIdentity(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return "", false
	}
	return id, true
}

// fail maps an error to a status code and writes it
func (h *SessionHandlers) fail(c *gin.Context, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, errorBody(message))
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrInvalidIdentity):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, core.ErrLoggedOut):
		return http.StatusConflict, "session was logged out and has been cleared"
	case errors.Is(err, core.ErrSessionDeleted):
		return http.StatusConflict, "session was deleted"
	case errors.Is(err, core.ErrSetupFailed), errors.Is(err, core.ErrPairingFailed):
		return http.StatusBadGateway, "failed to connect to the messaging service"
	case errors.Is(err, core.ErrReconnectExhausted):
		return http.StatusBadGateway, "gave up reconnecting to the messaging service"
	case errors.Is(err, core.ErrStoreUnavailable), errors.Is(err, core.ErrShuttingDown):
		return http.StatusServiceUnavailable, "service temporarily unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "request cancelled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
