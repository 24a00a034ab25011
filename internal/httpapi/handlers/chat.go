package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/suPer8Hu/chatstore/internal/chat"
	"github.com/suPer8Hu/chatstore/internal/httpapi/common"
	"github.com/suPer8Hu/chatstore/internal/httpapi/middleware"
	"github.com/suPer8Hu/chatstore/internal/ratelimit"
)

type createSessionReq struct {
	Name string `json:"name"`
}

func (h *Handler) CreateSession(c *gin.Context) {
	owner, ok := middleware.Identity(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req createSessionReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	sid, err := h.Svc.CreateSession(c.Request.Context(), owner, req.Name)
	if err != nil {
		failFor(c, err)
		return
	}
	common.OK(c, gin.H{"session_id": sid})
}

type sendMessageReq struct {
	SessionID string `json:"session_id" binding:"required"`
	Message   string `json:"message" binding:"required"`
}

// SendMessage appends the user message and, when the reply pipeline is
// up, records a reply job for the worker. The assistant append happens
// later and separately; a crash in between leaves a dangling user
// message, which readers tolerate.
func (h *Handler) SendMessage(c *gin.Context) {
	owner, ok := middleware.Identity(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	ctx := c.Request.Context()
	if err := h.Svc.AppendMessage(ctx, req.SessionID, owner, chat.RoleUser, req.Message); err != nil {
		failFor(c, err)
		return
	}

	var jobID string
	if h.Pub != nil {
		job := &chat.ReplyJob{
			ID:        uuid.NewString(),
			Owner:     owner,
			SessionID: req.SessionID,
			Prompt:    req.Message,
			Status:    chat.JobQueued,
		}
		if err := h.Repo.CreateReplyJob(ctx, job); err != nil {
			h.Log.Error().Err(err).Str("session_id", req.SessionID).Msg("reply job create failed")
		} else if err := h.Pub.PublishJob(ctx, job.ID); err != nil {
			h.Log.Error().Err(err).Str("job_id", job.ID).Msg("reply job publish failed")
			_ = h.Repo.MarkReplyJobFailed(ctx, job.ID, "publish failed")
		} else {
			jobID = job.ID
		}
	}

	common.OK(c, gin.H{
		"session_id": req.SessionID,
		"job_id":     jobID,
	})
}

func (h *Handler) GetHistory(c *gin.Context) {
	owner, ok := middleware.Identity(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	sessionID := c.Param("session_id")
	limit, _ := strconv.Atoi(c.Query("limit"))

	pairs, err := h.Svc.GetHistory(c.Request.Context(), sessionID, owner, limit)
	if err != nil {
		failFor(c, err)
		return
	}
	common.OK(c, gin.H{"history": pairs})
}

func (h *Handler) ListSessions(c *gin.Context) {
	owner, ok := middleware.Identity(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	metas, err := h.Svc.ListSessions(c.Request.Context(), owner)
	if err != nil {
		failFor(c, err)
		return
	}
	common.OK(c, gin.H{"sessions": metas})
}

type renameReq struct {
	Name string `json:"name" binding:"required"`
}

func (h *Handler) RenameSession(c *gin.Context) {
	owner, ok := middleware.Identity(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req renameReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	meta, err := h.Svc.RenameSession(c.Request.Context(), c.Param("session_id"), owner, req.Name)
	if err != nil {
		failFor(c, err)
		return
	}
	common.OK(c, gin.H{"session": meta})
}

func (h *Handler) DeleteSession(c *gin.Context) {
	owner, ok := middleware.Identity(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	deleted, err := h.Svc.DeleteSession(c.Request.Context(), c.Param("session_id"), owner)
	if err != nil {
		failFor(c, err)
		return
	}
	common.OK(c, gin.H{"deleted": deleted})
}

func (h *Handler) DeleteAllSessions(c *gin.Context) {
	owner, ok := middleware.Identity(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	if err := h.Svc.DeleteAllForOwner(c.Request.Context(), owner); err != nil {
		failFor(c, err)
		return
	}
	common.OK(c, gin.H{"deleted": true})
}

func (h *Handler) SearchHistory(c *gin.Context) {
	owner, ok := middleware.Identity(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	matches, err := h.Svc.SearchHistory(c.Request.Context(), owner, c.Query("q"))
	if err != nil {
		failFor(c, err)
		return
	}
	common.OK(c, gin.H{"matches": matches})
}

func (h *Handler) LimitInfo(c *gin.Context) {
	class := ratelimit.Class(c.Param("class"))
	limit, ok := h.Svc.LimitInfo(class)
	if !ok {
		common.Fail(c, http.StatusNotFound, 40005, "unknown operation class")
		return
	}
	common.OK(c, gin.H{
		"class":          class,
		"max_requests":   limit.Max,
		"window_seconds": int(limit.Window.Seconds()),
	})
}
