package relay

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/arklight/callwire/internal/core"
	"github.com/arklight/callwire/internal/domain"
)

type callRef struct {
	CallID domain.CallID `json:"callId"`
	Reason string        `json:"reason,omitempty"`
}

func fail(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"success": false, "error": msg})
}

// identity resolves the caller from the X-User-ID header. The username
// comes from the user's live socket when one exists.
func (h *Hub) identity(c *gin.Context) (domain.User, bool) {
	uid := domain.UserID(c.GetHeader("X-User-ID"))
	if uid == "" {
		fail(c, http.StatusUnauthorized, "missing X-User-ID")
		return domain.User{}, false
	}
	user := domain.User{ID: uid, Username: string(uid)}
	if conn := h.primaryConn(uid); conn != nil {
		user.Username = conn.user.Username
	}
	return user, true
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrBadTarget):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnknownGroup), errors.Is(err, ErrUnknownCall):
		return http.StatusNotFound
	case errors.Is(err, ErrNotInvited):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func (h *Hub) handleInitiate(c *gin.Context) {
	user, ok := h.identity(c)
	if !ok {
		return
	}
	var req core.InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "bad payload")
		return
	}
	sess, err := h.InitiateCall(user, req.ReceiverID, req.GroupID, req.CallType)
	if err != nil {
		fail(c, statusOf(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "call": sess})
}

func (h *Hub) handleAnswer(c *gin.Context) {
	user, ok := h.identity(c)
	if !ok {
		return
	}
	var ref callRef
	if err := c.ShouldBindJSON(&ref); err != nil || ref.CallID == "" {
		fail(c, http.StatusBadRequest, "bad payload")
		return
	}
	if err := h.AnswerCall(user, ref.CallID); err != nil {
		fail(c, statusOf(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Hub) handleDecline(c *gin.Context) {
	user, ok := h.identity(c)
	if !ok {
		return
	}
	var ref callRef
	if err := c.ShouldBindJSON(&ref); err != nil || ref.CallID == "" {
		fail(c, http.StatusBadRequest, "bad payload")
		return
	}
	if err := h.DeclineCall(user, ref.CallID, ref.Reason); err != nil {
		fail(c, statusOf(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Hub) handleEnd(c *gin.Context) {
	user, ok := h.identity(c)
	if !ok {
		return
	}
	var ref callRef
	if err := c.ShouldBindJSON(&ref); err != nil || ref.CallID == "" {
		fail(c, http.StatusBadRequest, "bad payload")
		return
	}
	if err := h.EndCall(user.ID, ref.CallID); err != nil {
		fail(c, statusOf(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Hub) handleCreateGroup(c *gin.Context) {
	if _, ok := h.identity(c); !ok {
		return
	}
	var g domain.Group
	if err := c.ShouldBindJSON(&g); err != nil || g.ID == "" || len(g.Members) == 0 {
		fail(c, http.StatusBadRequest, "bad payload")
		return
	}
	if len(g.Name) > domain.MaxGroupNameLen {
		g.Name = g.Name[:domain.MaxGroupNameLen]
	}
	h.CreateGroup(&g)
	log.Info().Str("module", "relay").Str("group_id", string(g.ID)).Int("members", len(g.Members)).Msg("group registered")
	c.JSON(http.StatusOK, gin.H{"success": true})
}
