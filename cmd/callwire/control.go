package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklight/callwire/internal/call"
	"github.com/arklight/callwire/internal/config"
	"github.com/arklight/callwire/internal/core"
)

// setupControlRouter exposes the local control surface a UI drives the
// daemon with. It binds to loopback only.
func setupControlRouter(cfg *config.Config, coord *call.Coordinator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.POST("/call/start", func(c *gin.Context) {
		var req core.InitiateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "bad payload"})
			return
		}
		coord.PrepareOutgoing(req)
		sess, err := coord.Initiate(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "call": sess})
	})

	r.POST("/call/answer", func(c *gin.Context) {
		if err := coord.Answer(c.Request.Context()); err != nil {
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	r.POST("/call/decline", func(c *gin.Context) {
		var body struct {
			Reason string `json:"reason"`
		}
		_ = c.ShouldBindJSON(&body)
		if err := coord.Decline(c.Request.Context(), body.Reason); err != nil {
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	r.POST("/call/cancel", func(c *gin.Context) {
		if err := coord.Cancel(c.Request.Context()); err != nil {
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	r.POST("/call/hangup", func(c *gin.Context) {
		if err := coord.End(c.Request.Context()); err != nil {
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	r.POST("/call/toggle-audio", func(c *gin.Context) {
		muted, err := coord.ToggleMute()
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "isMuted": muted})
	})

	r.POST("/call/toggle-video", func(c *gin.Context) {
		enabled, err := coord.ToggleVideo()
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "isVideoEnabled": enabled})
	})

	r.GET("/call/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, coord.Snapshot())
	})

	return r
}
