package memory

import (
	"sort"
	"sync"
	"time"

	"ticketmail/backend/internal/domain"
	"ticketmail/backend/internal/storage"
)

// Store 使用内存保存工单与同步记录，主要用于开发验证和测试。
type Store struct {
	mu       sync.RWMutex
	tickets  map[string]*domain.Ticket // ticketID -> ticket
	bySource map[string]string         // sourceMessageID -> ticketID
	runs     map[string]*domain.SyncRun

	now func() time.Time
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		tickets:  make(map[string]*domain.Ticket),
		bySource: make(map[string]string),
		runs:     make(map[string]*domain.SyncRun),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ExistsBySourceMessageID 判断来源邮件是否已生成工单。
func (s *Store) ExistsBySourceMessageID(sourceMessageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.bySource[sourceMessageID]
	return ok, nil
}

// CreateTicket 保存新工单。
func (s *Store) CreateTicket(ticket *domain.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ticket.SourceMessageID != nil {
		if _, ok := s.bySource[*ticket.SourceMessageID]; ok {
			return storage.ErrDuplicateTicket
		}
		s.bySource[*ticket.SourceMessageID] = ticket.ID
	}

	copied := *ticket
	s.tickets[ticket.ID] = &copied
	return nil
}

// GetTicket 根据 ID 获取工单。
func (s *Store) GetTicket(id string) (*domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ticket, ok := s.tickets[id]
	if !ok {
		return nil, storage.ErrTicketNotFound
	}
	copied := *ticket
	return &copied, nil
}

// UpdateTicketStatus 更新工单状态。
func (s *Store) UpdateTicketStatus(id string, status domain.TicketStatus) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[id]
	if !ok {
		return nil, storage.ErrTicketNotFound
	}

	now := s.now()
	ticket.Status = status
	ticket.UpdatedAt = now
	if status == domain.TicketStatusDone {
		ticket.CompletedAt = &now
	} else {
		ticket.CompletedAt = nil
	}

	copied := *ticket
	return &copied, nil
}

// CreateSyncRun 保存新的同步记录。
func (s *Store) CreateSyncRun(run *domain.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *run
	s.runs[run.ID] = &copied
	return nil
}

// FinishSyncRun 写入同步记录的终态。
func (s *Store) FinishSyncRun(run *domain.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.runs[run.ID]
	if !ok {
		return storage.ErrSyncRunNotFound
	}
	if existing.Status.Terminal() {
		return storage.ErrSyncRunFinished
	}

	copied := *run
	s.runs[run.ID] = &copied
	return nil
}

// GetSyncRun 根据 ID 获取同步记录。
func (s *Store) GetSyncRun(id string) (*domain.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, storage.ErrSyncRunNotFound
	}
	copied := *run
	return &copied, nil
}

// ListSyncRuns 按开始时间倒序返回最近的同步记录。
func (s *Store) ListSyncRuns(limit int) ([]domain.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]domain.SyncRun, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, *run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	limit = storage.NormalizeLimit(limit)
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Close 内存存储无需释放资源
func (s *Store) Close() error {
	return nil
}

// Health 内存存储始终可用
func (s *Store) Health() error {
	return nil
}
