package httptransport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ticketmail/backend/internal/service"
	"ticketmail/backend/internal/storage"
)

// SyncHandler 邮件同步的触发与查询
type SyncHandler struct {
	sync   *service.SyncService
	logger *zap.Logger
}

// NewSyncHandler 创建同步处理器
func NewSyncHandler(sync *service.SyncService, logger *zap.Logger) *SyncHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncHandler{sync: sync, logger: logger}
}

// Trigger 执行一次同步并等待结果。
//
// 客户端断开不会中断正在进行的同步。
func (h *SyncHandler) Trigger(c *gin.Context) {
	run, err := h.sync.RunExclusive(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		status := syncErrorStatus(err)
		resp := gin.H{
			"success": false,
			"error":   err.Error(),
		}
		if run != nil {
			resp["runId"] = run.ID
		}
		if status == http.StatusInternalServerError {
			h.logger.Error("sync trigger failed", zap.Error(err))
		}
		c.JSON(status, resp)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"messagesProcessed": run.MessagesProcessed,
		"ticketsCreated":    run.TicketsCreated,
		"message":           fmt.Sprintf("Successfully processed %d emails and created %d tickets", run.MessagesProcessed, run.TicketsCreated),
		"runId":             run.ID,
	})
}

// ListRuns 按开始时间倒序返回最近的同步记录
func (h *SyncHandler) ListRuns(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			BadRequest(c, MsgInvalidLimit)
			return
		}
		limit = n
	}

	runs, err := h.sync.ListRuns(limit)
	if err != nil {
		h.logger.Error("failed to list sync runs", zap.Error(err))
		InternalError(c, MsgRunListFailed)
		return
	}

	Success(c, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun 根据 ID 查询同步记录
func (h *SyncHandler) GetRun(c *gin.Context) {
	run, err := h.sync.GetRun(c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrSyncRunNotFound) {
			NotFound(c, GetErrorMessage(err))
			return
		}
		h.logger.Error("failed to get sync run", zap.String("run_id", c.Param("id")), zap.Error(err))
		InternalError(c, MsgInternalError)
		return
	}
	Success(c, run)
}
