package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ticketmail/backend/internal/domain"
	"ticketmail/backend/internal/service"
	"ticketmail/backend/internal/storage"
)

// TicketHandler 工单查询、状态变更和完成通知
type TicketHandler struct {
	tickets *service.TicketService
	logger  *zap.Logger
}

// NewTicketHandler 创建工单处理器
func NewTicketHandler(tickets *service.TicketService, logger *zap.Logger) *TicketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketHandler{tickets: tickets, logger: logger}
}

type updateStatusRequest struct {
	Status domain.TicketStatus `json:"status" binding:"required"`
}

type ticketDoneRequest struct {
	TicketID string `json:"ticketId" binding:"required"`
}

// GetTicket 查询工单
func (h *TicketHandler) GetTicket(c *gin.Context) {
	ticket, err := h.tickets.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrTicketNotFound) {
			NotFound(c, GetErrorMessage(err))
			return
		}
		h.logger.Error("failed to get ticket", zap.String("ticket_id", c.Param("id")), zap.Error(err))
		InternalError(c, MsgTicketGetFailed)
		return
	}
	Success(c, ticket)
}

// UpdateStatus 更新工单状态，变为 DONE 时异步发送完成通知
func (h *TicketHandler) UpdateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	ticket, err := h.tickets.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidStatus):
			BadRequest(c, GetErrorMessage(err))
		case errors.Is(err, storage.ErrTicketNotFound):
			NotFound(c, GetErrorMessage(err))
		default:
			h.logger.Error("failed to update ticket status", zap.String("ticket_id", c.Param("id")), zap.Error(err))
			InternalError(c, MsgTicketUpdateFailed)
		}
		return
	}
	Success(c, ticket)
}

// NotifyTicketDone 为已完成的工单发送完成通知
func (h *TicketHandler) NotifyTicketDone(c *gin.Context) {
	var req ticketDoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	ticket, err := h.tickets.NotifyCompletion(c.Request.Context(), req.TicketID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrTicketNotFound):
			NotFound(c, GetErrorMessage(err))
		case errors.Is(err, service.ErrTicketNotDone):
			UnprocessableEntity(c, GetErrorMessage(err))
		default:
			h.logger.Error("failed to dispatch completion notice", zap.String("ticket_id", req.TicketID), zap.Error(err))
			InternalError(c, MsgInternalError)
		}
		return
	}

	Accepted(c, MsgNotificationQueued, gin.H{
		"ticketId": ticket.ID,
	})
}
