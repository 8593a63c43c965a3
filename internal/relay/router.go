package relay

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/arklight/callwire/internal/config"
	"github.com/arklight/callwire/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware pins an anonymous identity to the browser so a user
// without explicit credentials keeps the same id across reconnects.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, hub *Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("CallwireSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/ws", func(c *gin.Context) {
		uid := c.Query("userId")
		if uid == "" {
			uid = c.GetString("client_token")
		}
		name := c.Query("username")
		if name == "" {
			name = uid
		}
		user, err := domain.NewUser(domain.UserID(uid), name)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error().Err(err).Str("module", "relay").Msg("ws upgrade")
			return
		}
		hub.Serve(ctx, *user, ws)
	})

	r.POST("/call/initiate", hub.handleInitiate)
	r.POST("/call/answer", hub.handleAnswer)
	r.POST("/call/decline", hub.handleDecline)
	r.POST("/call/end", hub.handleEnd)
	r.POST("/group", hub.handleCreateGroup)

	log.Info().Str("module", "relay").Msg("router setup")
	return r
}
