package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ticketmail/backend/internal/config"
	"ticketmail/backend/internal/domain"
	"ticketmail/backend/internal/logger"
	"ticketmail/backend/internal/mailbox"
	"ticketmail/backend/internal/mailtext"
	"ticketmail/backend/internal/monitoring"
	"ticketmail/backend/internal/storage"
)

// FallbackTitle 主题去掉标记后为空时使用的标题
const FallbackTitle = "Ticket from Email"

// 单封邮件失败的阶段，用于日志和指标
const (
	stageFetch  = "fetch"
	stageDedup  = "dedup"
	stageCreate = "create"
)

var ErrSyncInProgress = errors.New("sync already in progress")

// SyncService 把邮箱中带工单标记的未读邮件转换为工单。
//
// 每次 Run 使用一个邮箱连接，按检索顺序逐封处理；单封邮件的失败只记录日志，
// 不会中断本次运行。连接、认证、选择邮箱失败时运行记录为 FAILED。
type SyncService struct {
	tickets   storage.TicketRepository
	runs      storage.SyncRunRepository
	newClient MailboxFactory
	cfg       config.IMAPConfig
	extractor *mailtext.Extractor
	lock      RunLock
	metrics   *monitoring.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// SyncOption 可选配置
type SyncOption func(*SyncService)

// WithRunLock 设置运行锁，默认为进程内锁
func WithRunLock(lock RunLock) SyncOption {
	return func(s *SyncService) { s.lock = lock }
}

// WithSyncMetrics 设置监控指标
func WithSyncMetrics(m *monitoring.Metrics) SyncOption {
	return func(s *SyncService) { s.metrics = m }
}

// WithClock 替换时间来源
func WithClock(now func() time.Time) SyncOption {
	return func(s *SyncService) { s.now = now }
}

// NewSyncService 创建同步服务
func NewSyncService(store storage.Store, newClient MailboxFactory, cfg config.IMAPConfig, log *zap.Logger, opts ...SyncOption) *SyncService {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.TicketMarker == "" {
		cfg.TicketMarker = "[TICKET]"
	}
	s := &SyncService{
		tickets:   store,
		runs:      store,
		newClient: newClient,
		cfg:       cfg,
		extractor: mailtext.NewExtractor(log),
		lock:      NewLocalRunLock(),
		logger:    log.With(zap.String("component", "sync")),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunExclusive 在持有运行锁的情况下执行 Run；已有运行时返回 ErrSyncInProgress
func (s *SyncService) RunExclusive(ctx context.Context) (*domain.SyncRun, error) {
	release, ok, err := s.lock.TryLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !ok {
		return nil, ErrSyncInProgress
	}
	defer release()

	return s.Run(ctx)
}

// Run 执行一次同步并返回最终的运行记录。
//
// 运行记录在任何邮箱操作之前以 RUNNING 创建，结束时写入 COMPLETED 或 FAILED。
// 返回的错误来自连接、认证、选择邮箱或搜索阶段。
func (s *SyncService) Run(ctx context.Context) (*domain.SyncRun, error) {
	run := &domain.SyncRun{
		ID:        uuid.NewString(),
		StartedAt: s.now(),
		Status:    domain.SyncStatusRunning,
	}
	if err := s.runs.CreateSyncRun(run); err != nil {
		return nil, fmt.Errorf("create sync run: %w", err)
	}

	log := s.logger.With(zap.String("run_id", run.ID))
	log.Info("sync run started", zap.String("mailbox", s.cfg.Mailbox))

	processed, created, runErr := s.ingest(ctx, log)

	completedAt := s.now()
	run.CompletedAt = &completedAt
	run.MessagesProcessed = processed
	run.TicketsCreated = created
	if runErr != nil {
		msg := runErr.Error()
		run.Status = domain.SyncStatusFailed
		run.ErrorMessage = &msg
	} else {
		run.Status = domain.SyncStatusCompleted
	}

	if err := s.runs.FinishSyncRun(run); err != nil {
		log.Error("failed to finish sync run", zap.Error(err))
		if runErr == nil {
			runErr = fmt.Errorf("finish sync run: %w", err)
		}
	}

	s.metrics.RecordSyncRun(string(run.Status), completedAt.Sub(run.StartedAt), processed, created)
	if runErr != nil {
		log.Error("sync run failed",
			zap.Error(runErr),
			zap.Int("messages_processed", processed),
			zap.Int("tickets_created", created),
		)
		return run, runErr
	}
	log.Info("sync run completed",
		zap.Int("messages_processed", processed),
		zap.Int("tickets_created", created),
		zap.Duration("duration", completedAt.Sub(run.StartedAt)),
	)
	return run, nil
}

// ingest 建立会话并逐封处理候选邮件
func (s *SyncService) ingest(ctx context.Context, log *zap.Logger) (processed, created int, err error) {
	client, err := s.newClient()
	if err != nil {
		return 0, 0, err
	}
	defer client.Disconnect()

	if err := client.Connect(ctx); err != nil {
		return 0, 0, err
	}
	if err := client.Authenticate(s.cfg.Username, s.cfg.Password); err != nil {
		return 0, 0, err
	}
	info, err := client.SelectMailbox(s.cfg.Mailbox)
	if err != nil {
		return 0, 0, err
	}
	log.Debug("mailbox selected", zap.Uint32("exists", info.Exists))
	if info.Exists == 0 {
		return 0, 0, nil
	}

	candidates, err := client.Search(s.criteria())
	if err != nil {
		return 0, 0, err
	}

	for seq := range candidates {
		processed++
		ok, err := s.processMessage(client, seq, log)
		if err != nil {
			continue
		}
		if ok {
			created++
		}
	}
	return processed, created, nil
}

func (s *SyncService) criteria() mailbox.SearchCriteria {
	criteria := mailbox.SearchCriteria{Unseen: true, SubjectContains: s.cfg.TicketMarker}
	if s.cfg.SinceDays > 0 {
		criteria.SentSince = s.now().AddDate(0, 0, -s.cfg.SinceDays)
	}
	return criteria
}

// processMessage 处理一封候选邮件，返回是否新建了工单。
// 返回错误时邮件保持未读，下次运行会重试。
func (s *SyncService) processMessage(client mailbox.Client, seq uint32, log *zap.Logger) (bool, error) {
	log = log.With(zap.Uint32("seq", seq))

	msg, err := client.Fetch(seq, mailbox.FetchOptions{Body: true})
	if err != nil {
		return false, s.messageFailed(log, stageFetch, err)
	}
	msg.EnsureMessageID()
	msg.MessageID = domain.SourceKey(msg.MessageID)
	log = log.With(zap.String("message_id", msg.MessageID))

	exists, err := s.tickets.ExistsBySourceMessageID(msg.MessageID)
	if err != nil {
		return false, s.messageFailed(log, stageDedup, err)
	}
	if exists {
		log.Debug("ticket already exists for message, skipping")
		s.metrics.RecordDuplicateSkipped()
		client.MarkRead(seq)
		return false, nil
	}

	ticket := s.buildTicket(msg)
	if err := s.tickets.CreateTicket(ticket); err != nil {
		if errors.Is(err, storage.ErrDuplicateTicket) {
			log.Debug("ticket created concurrently for message, skipping")
			s.metrics.RecordDuplicateSkipped()
			client.MarkRead(seq)
			return false, nil
		}
		return false, s.messageFailed(log, stageCreate, err)
	}

	log.Info("ticket created from mail",
		zap.String("ticket_id", ticket.ID),
		zap.String("requester", logger.MaskEmail(ExtractAddress(msg.From))),
	)
	client.MarkRead(seq)
	return true, nil
}

func (s *SyncService) messageFailed(log *zap.Logger, stage string, err error) error {
	log.Warn("failed to process message", zap.String("stage", stage), zap.Error(err))
	s.metrics.RecordMessageFailure(stage)
	return err
}

func (s *SyncService) buildTicket(msg *mailbox.Message) *domain.Ticket {
	now := s.now()
	source := msg.MessageID
	return &domain.Ticket{
		ID:              uuid.NewString(),
		Title:           domain.Truncate(DeriveTitle(msg.Subject, s.cfg.TicketMarker), domain.MaxTitleLength),
		Description:     s.extractor.Extract(msg.Raw),
		RequesterEmail:  domain.Truncate(msg.From, domain.MaxRequesterEmailLength),
		SourceMessageID: &source,
		Status:          domain.TicketStatusOpen,
		Priority:        domain.TicketPriorityMedium,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// DeriveTitle 去掉主题开头的工单标记和其后的空白；结果为空时返回 FallbackTitle
func DeriveTitle(subject, marker string) string {
	if marker == "" {
		marker = "[TICKET]"
	}
	prefix := regexp.MustCompile(`^` + regexp.QuoteMeta(marker) + `\s*`)
	title := strings.TrimSpace(prefix.ReplaceAllString(subject, ""))
	if title == "" {
		return FallbackTitle
	}
	return title
}

// ListRuns 返回最近的同步记录，默认 10 条
func (s *SyncService) ListRuns(limit int) ([]domain.SyncRun, error) {
	return s.runs.ListSyncRuns(storage.NormalizeLimit(limit))
}

// GetRun 根据 ID 获取同步记录
func (s *SyncService) GetRun(id string) (*domain.SyncRun, error) {
	return s.runs.GetSyncRun(id)
}
