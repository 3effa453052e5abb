package http

import (
	"net/http"

	"coachroom/internal/core/domain"
	"coachroom/internal/core/ports"
	"coachroom/internal/infrastructure/events"
	"coachroom/internal/infrastructure/middleware"
	"coachroom/pkg/errors"
	"coachroom/pkg/utils"
	"coachroom/pkg/validation"

	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	sessions ports.SessionService
	streamer *events.Streamer
}

func NewSessionHandler(sessions ports.SessionService, streamer *events.Streamer) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		streamer: streamer,
	}
}

// SetupRoutes registers the session routes on an authenticated group.
// wsLimit guards the event stream upgrade.
func (h *SessionHandler) SetupRoutes(api *gin.RouterGroup, wsLimit gin.HandlerFunc) {
	api.POST("/sessions", h.OpenSession)
	api.GET("/sessions/:id", h.GetSession)
	api.DELETE("/sessions/:id", h.CloseSession)
	api.POST("/sessions/:id/probe", h.ProbeEquipment)
	api.POST("/sessions/:id/start", h.StartSession)
	api.POST("/sessions/:id/stop", h.StopSession)
	api.POST("/sessions/:id/reset", h.ResetSession)
	api.POST("/sessions/:id/next", h.NextQuestion)
	api.GET("/sessions/:id/clock", h.GetClock)
	api.GET("/sessions/:id/events", wsLimit, h.StreamEvents)
}

type OpenSessionRequest struct {
	Flow string `json:"flow" binding:"required"`
}

type ClockResponse struct {
	State          domain.SessionState `json:"state"`
	ElapsedSeconds int                 `json:"elapsed_seconds"`
	Display        string              `json:"display"`
}

func sessionID(c *gin.Context) (domain.SessionID, bool) {
	id := c.Param("id")
	if err := validation.ValidateSessionID(id); err != nil {
		fail(c, errors.NewNotFoundError("session"))
		return "", false
	}
	return domain.SessionID(id), true
}

func (h *SessionHandler) OpenSession(c *gin.Context) {
	var req OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.NewInvalidInputError("flow is required"))
		return
	}
	if err := validation.ValidateFlow(req.Flow); err != nil {
		fail(c, errors.NewInvalidInputError(err.Error()))
		return
	}

	snapshot, err := h.sessions.Open(c.Request.Context(), middleware.UserID(c), domain.FlowKind(req.Flow))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": snapshot})
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	snapshot, err := h.sessions.Get(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": snapshot})
}

func (h *SessionHandler) CloseSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if err := h.sessions.Close(c.Request.Context(), middleware.UserID(c), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ProbeEquipment always answers 200; a refused device shows up as false in
// the equipment record.
func (h *SessionHandler) ProbeEquipment(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	status, err := h.sessions.Probe(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"equipment": status, "ready": status.Ready()})
}

func (h *SessionHandler) StartSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	recording, err := h.sessions.Start(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recording": recording})
}

func (h *SessionHandler) StopSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	summary, err := h.sessions.Stop(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

func (h *SessionHandler) ResetSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	owner := middleware.UserID(c)
	if err := h.sessions.Reset(c.Request.Context(), owner, id); err != nil {
		fail(c, err)
		return
	}
	snapshot, err := h.sessions.Get(c.Request.Context(), owner, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": snapshot})
}

func (h *SessionHandler) NextQuestion(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	snapshot, err := h.sessions.NextQuestion(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": snapshot})
}

// GetClock ticks the session clock and returns it as mm:ss.
func (h *SessionHandler) GetClock(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	owner := middleware.UserID(c)
	elapsed, err := h.sessions.Tick(c.Request.Context(), owner, id)
	if err != nil {
		fail(c, err)
		return
	}
	snapshot, err := h.sessions.Get(c.Request.Context(), owner, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ClockResponse{
		State:          snapshot.State,
		ElapsedSeconds: elapsed,
		Display:        utils.FormatClock(elapsed),
	})
}

// StreamEvents upgrades to a WebSocket carrying the session's events,
// starting with its current state.
func (h *SessionHandler) StreamEvents(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	snapshot, err := h.sessions.Get(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		fail(c, err)
		return
	}

	elapsed := snapshot.Clock.ElapsedSeconds
	equipment := snapshot.Equipment
	initial := &domain.Event{
		Type:      domain.EventStateChanged,
		Topic:     string(id),
		State:     snapshot.State,
		Elapsed:   &elapsed,
		Equipment: &equipment,
		Summary:   snapshot.LastSummary,
		Timestamp: snapshot.OpenedAt,
	}
	h.streamer.Serve(c.Writer, c.Request, string(id), initial)
}
