package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/Meet/internal/adapters/signal"
	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	orch    *orch.Orchestrator
	limiter *signal.RoomRateLimiter
	ice     []webrtc.ICEServer
}

type loginRequest struct {
	Credential string `json:"credential" binding:"required"`
}

func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, orch.ReasonBadPayload)
		return
	}
	userID, err := h.orch.Verify(c.Request.Context(), req.Credential)
	if err != nil {
		abortError(c, http.StatusUnauthorized, orch.ReasonOf(err))
		return
	}
	s := sessions.Default(c)
	s.Set(credentialKey, req.Credential)
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("session save")
		abortError(c, http.StatusInternalServerError, orch.ReasonUnavailable)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": userID})
}

func (h *handlers) logout(c *gin.Context) {
	s := sessions.Default(c)
	s.Clear()
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("session clear")
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) listICEServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"iceServers": h.ice})
}

func callerID(c *gin.Context) domain.UserID {
	return domain.UserID(c.GetString(userIDKey))
}

func (h *handlers) createMeeting(c *gin.Context) {
	userID := callerID(c)
	if h.limiter != nil && !h.limiter.Allow(userID) {
		abortError(c, http.StatusTooManyRequests, orch.ReasonRateLimited)
		return
	}
	m := h.orch.MemberFor(c.Request.Context(), userID)
	id, res := h.orch.Create(m)
	log.Info().Str("module", "adapters.http").Str("user", string(userID)).Str("room", string(id)).Msg("meeting created")
	c.JSON(http.StatusCreated, gin.H{
		"roomId":           id,
		"callHandle":       res.Self.CallHandle,
		"participantCount": res.Count,
	})
}

func (h *handlers) joinMeeting(c *gin.Context) {
	userID := callerID(c)
	id := domain.RoomID(c.Param("id"))
	m := h.orch.MemberFor(c.Request.Context(), userID)
	res, err := h.orch.Join(m, id)
	if err != nil {
		abortError(c, statusOf(err), orch.ReasonOf(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"roomId":           id,
		"callHandle":       res.Self.CallHandle,
		"existingUsers":    domain.Handles(res.Existing),
		"participantCount": res.Count,
	})
}

func (h *handlers) leaveMeeting(c *gin.Context) {
	id := domain.RoomID(c.Param("id"))
	remaining, _ := h.orch.Leave(callerID(c), id)
	c.JSON(http.StatusOK, gin.H{"roomId": id, "remainingCount": remaining})
}

func (h *handlers) getMeeting(c *gin.Context) {
	id := domain.RoomID(c.Param("id"))
	members, ok := h.orch.Rooms.Members(id)
	if !ok {
		abortError(c, http.StatusNotFound, orch.ReasonRoomNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"roomId":           id,
		"participantCount": len(members),
		"callHandles":      domain.Handles(members),
	})
}

func (h *handlers) listMeetings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"meetings": h.orch.Rooms.List()})
}

func abortError(c *gin.Context, status int, reason string) {
	c.AbortWithStatusJSON(status, gin.H{"error": reason})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyJoined):
		return http.StatusConflict
	}
	return http.StatusBadRequest
}
