package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ticketmail/backend/internal/domain"
	"ticketmail/backend/internal/logger"
	"ticketmail/backend/internal/monitoring"
	"ticketmail/backend/internal/pool"
	"ticketmail/backend/internal/submission"
)

const (
	notifyTimeout = 2 * time.Minute
	timeLayout    = "2006-01-02 15:04:05 MST"
)

// Notifier 工单完成时的通知入口，不向调用方返回错误
type Notifier interface {
	NotifyTicketDoneAsync(ctx context.Context, ticket *domain.Ticket)
}

// NotificationService 在工单完成时给提交人发送邮件。
//
// 发送是尽力而为的：任何失败只记录日志和指标，不影响工单状态。
type NotificationService struct {
	newSender SenderFactory
	from      string
	limiter   *rate.Limiter
	pool      *pool.WorkerPool
	metrics   *monitoring.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NotificationOption 可选配置
type NotificationOption func(*NotificationService)

// WithWorkerPool 设置异步发送使用的协程池
func WithWorkerPool(p *pool.WorkerPool) NotificationOption {
	return func(s *NotificationService) { s.pool = p }
}

// WithNotificationMetrics 设置监控指标
func WithNotificationMetrics(m *monitoring.Metrics) NotificationOption {
	return func(s *NotificationService) { s.metrics = m }
}

// WithRatePerMinute 限制每分钟发送的邮件数，0 表示不限制
func WithRatePerMinute(n int) NotificationOption {
	return func(s *NotificationService) { s.limiter = newLimiter(n) }
}

// WithNotificationClock 替换时间来源
func WithNotificationClock(now func() time.Time) NotificationOption {
	return func(s *NotificationService) { s.now = now }
}

// NewNotificationService 创建通知服务
func NewNotificationService(newSender SenderFactory, from string, log *zap.Logger, opts ...NotificationOption) *NotificationService {
	if log == nil {
		log = zap.NewNop()
	}
	s := &NotificationService{
		newSender: newSender,
		from:      from,
		limiter:   newLimiter(0),
		logger:    log.With(zap.String("component", "notification")),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}

// NotifyTicketDoneAsync 提交到协程池发送；协程池不存在或已满时同步发送
func (s *NotificationService) NotifyTicketDoneAsync(ctx context.Context, ticket *domain.Ticket) {
	ctx = context.WithoutCancel(ctx)
	copied := *ticket
	if s.pool != nil && s.pool.TrySubmit(func() { s.NotifyTicketDone(ctx, &copied) }) {
		return
	}
	s.NotifyTicketDone(ctx, &copied)
}

// NotifyTicketDone 发送完成通知，失败只记录日志
func (s *NotificationService) NotifyTicketDone(ctx context.Context, ticket *domain.Ticket) {
	log := s.logger.With(zap.String("ticket_id", ticket.ID))

	to := ExtractAddress(ticket.RequesterEmail)
	if to == "" {
		log.Warn("ticket has no requester address, notification skipped")
		s.metrics.RecordNotification("skipped")
		return
	}
	log = log.With(zap.String("recipient", logger.MaskEmail(to)))

	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		log.Warn("notification rate limit wait aborted", zap.Error(err))
		s.metrics.RecordNotification("failed")
		return
	}

	sender, err := s.newSender()
	if err != nil {
		log.Error("failed to create mail sender", zap.Error(err))
		s.metrics.RecordNotification("failed")
		return
	}

	subject, body := RenderCompletionNotice(ticket, s.now())
	err = sender.Send(ctx, submission.Message{
		From:    s.from,
		To:      to,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		fields := []zap.Field{zap.Error(err)}
		if step, ok := submission.FailedStep(err); ok {
			fields = append(fields, zap.String("step", string(step)))
		}
		log.Error("failed to send completion notification", fields...)
		s.metrics.RecordNotification("failed")
		return
	}

	log.Info("completion notification sent")
	s.metrics.RecordNotification("sent")
}

// RenderCompletionNotice 生成完成通知的主题和正文
func RenderCompletionNotice(ticket *domain.Ticket, now time.Time) (subject, body string) {
	completed := now
	if ticket.CompletedAt != nil {
		completed = *ticket.CompletedAt
	}

	subject = fmt.Sprintf("[TICKET] %s - Completed", ticket.Title)

	var b strings.Builder
	b.WriteString("Hello,\n\n")
	b.WriteString("Your support ticket has been completed:\n\n")
	fmt.Fprintf(&b, "Title: %s\n", ticket.Title)
	fmt.Fprintf(&b, "Description: %s\n", ticket.Description)
	b.WriteString("Status: DONE\n")
	fmt.Fprintf(&b, "Created: %s\n", ticket.CreatedAt.UTC().Format(timeLayout))
	fmt.Fprintf(&b, "Completed: %s\n\n", completed.UTC().Format(timeLayout))
	b.WriteString("Thank you for contacting our support team.\n\n")
	b.WriteString("Best regards,\n")
	b.WriteString("Support Team")
	return subject, b.String()
}

// ExtractAddress 取出 "Name <addr>" 中尖括号内的地址，没有尖括号时返回去掉空白的原值
func ExtractAddress(raw string) string {
	start := strings.LastIndexByte(raw, '<')
	if start >= 0 {
		if end := strings.IndexByte(raw[start:], '>'); end > 0 {
			return strings.TrimSpace(raw[start+1 : start+end])
		}
	}
	return strings.TrimSpace(raw)
}
