package storage

import (
	"errors"

	"ticketmail/backend/internal/domain"
)

var (
	// ErrTicketNotFound 工单不存在
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrDuplicateTicket 同一来源邮件的工单已存在
	ErrDuplicateTicket = errors.New("ticket for source message already exists")
	// ErrSyncRunNotFound 同步记录不存在
	ErrSyncRunNotFound = errors.New("sync run not found")
	// ErrSyncRunFinished 同步记录已处于终态
	ErrSyncRunFinished = errors.New("sync run already finished")
)

// DefaultRunListLimit 同步记录列表的默认条数
const DefaultRunListLimit = 10

// TicketRepository 定义工单数据存取操作。
type TicketRepository interface {
	ExistsBySourceMessageID(sourceMessageID string) (bool, error)
	// CreateTicket 插入工单；SourceMessageID 冲突时返回 ErrDuplicateTicket
	CreateTicket(ticket *domain.Ticket) error
	GetTicket(id string) (*domain.Ticket, error)
	// UpdateTicketStatus 更新状态并返回更新后的工单
	UpdateTicketStatus(id string, status domain.TicketStatus) (*domain.Ticket, error)
}

// SyncRunRepository 定义同步运行记录的存取操作。
type SyncRunRepository interface {
	CreateSyncRun(run *domain.SyncRun) error
	// FinishSyncRun 将 RUNNING 记录写为终态；记录已是终态时返回 ErrSyncRunFinished
	FinishSyncRun(run *domain.SyncRun) error
	GetSyncRun(id string) (*domain.SyncRun, error)
	// ListSyncRuns 按开始时间倒序返回最近的记录
	ListSyncRuns(limit int) ([]domain.SyncRun, error)
}

// Store 定义完整的存储接口。
type Store interface {
	TicketRepository
	SyncRunRepository

	Close() error
	Health() error
}

// NormalizeLimit 规范化列表条数
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultRunListLimit
	}
	if limit > 100 {
		return 100
	}
	return limit
}
