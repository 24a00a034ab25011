package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/chatstore/internal/chat"
	"github.com/suPer8Hu/chatstore/internal/httpapi/common"
	"github.com/suPer8Hu/chatstore/internal/queue"
)

type Handler struct {
	Svc  *chat.Service
	Repo *chat.Repo
	Pub  *queue.Publisher // nil when the reply pipeline is disabled
	Log  zerolog.Logger
}

func NewHandler(svc *chat.Service, repo *chat.Repo, pub *queue.Publisher, log zerolog.Logger) *Handler {
	return &Handler{Svc: svc, Repo: repo, Pub: pub, Log: log}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

// failFor maps the service error taxonomy onto the response envelope.
// Storage internals never reach the caller.
func failFor(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrRateLimited):
		common.Fail(c, http.StatusTooManyRequests, 42900, "rate limited, retry later")
	case errors.Is(err, chat.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40004, "session not found")
	case errors.Is(err, chat.ErrValidation):
		common.Fail(c, http.StatusBadRequest, 10001, "invalid request")
	default:
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}
