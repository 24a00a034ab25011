package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/chatstore/internal/chat"
	"github.com/suPer8Hu/chatstore/internal/config"
	"github.com/suPer8Hu/chatstore/internal/httpapi/common"
	"github.com/suPer8Hu/chatstore/internal/httpapi/handlers"
	"github.com/suPer8Hu/chatstore/internal/httpapi/middleware"
	"github.com/suPer8Hu/chatstore/internal/queue"
)

func NewRouter(svc *chat.Service, repo *chat.Repo, pub *queue.Publisher, cfg config.Config, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(svc, repo, pub, log)

	r.GET("/ping", h.Ping)
	r.GET("/limits/:class", h.LimitInfo)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.POST("/chat/sessions", h.CreateSession)
	authGroup.GET("/chat/sessions", h.ListSessions)
	authGroup.POST("/chat/messages", h.SendMessage)
	authGroup.GET("/chat/sessions/:session_id/messages", h.GetHistory)
	authGroup.PATCH("/chat/sessions/:session_id", h.RenameSession)
	authGroup.DELETE("/chat/sessions/:session_id", h.DeleteSession)
	authGroup.DELETE("/chat/sessions", h.DeleteAllSessions)
	authGroup.GET("/chat/search", h.SearchHistory)

	return r
}
