package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"ticketmail/backend/internal/domain"
	"ticketmail/backend/internal/storage"
)

var (
	ErrInvalidStatus = errors.New("invalid ticket status")
	ErrTicketNotDone = errors.New("ticket is not done")
)

// TicketService 工单查询与状态变更
type TicketService struct {
	tickets  storage.TicketRepository
	notifier Notifier
	logger   *zap.Logger
}

// NewTicketService 创建工单服务，notifier 可以为 nil
func NewTicketService(tickets storage.TicketRepository, notifier Notifier, log *zap.Logger) *TicketService {
	if log == nil {
		log = zap.NewNop()
	}
	return &TicketService{
		tickets:  tickets,
		notifier: notifier,
		logger:   log.With(zap.String("component", "ticket")),
	}
}

// Get 根据 ID 获取工单
func (s *TicketService) Get(id string) (*domain.Ticket, error) {
	return s.tickets.GetTicket(id)
}

// UpdateStatus 更新工单状态。
//
// 状态从其它值变为 DONE 时触发完成通知；通知结果不影响返回值。
func (s *TicketService) UpdateStatus(ctx context.Context, id string, status domain.TicketStatus) (*domain.Ticket, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	current, err := s.tickets.GetTicket(id)
	if err != nil {
		return nil, err
	}

	updated, err := s.tickets.UpdateTicketStatus(id, status)
	if err != nil {
		return nil, err
	}

	s.logger.Info("ticket status updated",
		zap.String("ticket_id", id),
		zap.String("from", string(current.Status)),
		zap.String("to", string(status)),
	)

	if status == domain.TicketStatusDone && current.Status != domain.TicketStatusDone && s.notifier != nil {
		s.notifier.NotifyTicketDoneAsync(ctx, updated)
	}
	return updated, nil
}

// NotifyCompletion 为已完成的工单重新发送通知
func (s *TicketService) NotifyCompletion(ctx context.Context, id string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetTicket(id)
	if err != nil {
		return nil, err
	}
	if ticket.Status != domain.TicketStatusDone {
		return ticket, ErrTicketNotDone
	}
	if s.notifier != nil {
		s.notifier.NotifyTicketDoneAsync(ctx, ticket)
	}
	return ticket, nil
}
