package sql

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver

	"ticketmail/backend/internal/domain"
	"ticketmail/backend/internal/storage"
)

// 支持的数据库类型
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Options 连接池参数
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store 基于 sqlx 的存储实现（支持 SQLite、PostgreSQL 和 MySQL 5.7+）
//
// SQL 统一使用 ? 占位符，执行前由 sqlx.Rebind 转换为目标数据库的格式。
// MySQL 的 DSN 需要带 parseTime=true。
type Store struct {
	db         *sqlx.DB
	driverName string
}

// NewStore 创建 SQL 数据库存储并建表
func NewStore(driverName, dsn string, opts Options) (*Store, error) {
	switch driverName {
	case DriverSQLite, DriverPostgres, DriverMySQL:
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres, mysql)", driverName)
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driverName == DriverSQLite {
		// :memory: 数据库每个连接各自独立
		db.SetMaxOpenConns(1)
	} else {
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db, driverName: driverName}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func (s *Store) Health() error {
	if s.db == nil {
		return errors.New("database connection is nil")
	}
	return s.db.Ping()
}

// migrate 按数据库类型执行建表语句
func (s *Store) migrate() error {
	for _, stmt := range schema[s.driverName] {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}

// ========== Ticket Repository ==========

const ticketColumns = `id, title, description, requester_email, source_message_id,
	status, priority, created_at, updated_at, completed_at`

// ExistsBySourceMessageID 判断来源邮件是否已生成工单
func (s *Store) ExistsBySourceMessageID(sourceMessageID string) (bool, error) {
	var count int
	err := s.db.Get(&count, s.rebind(`SELECT COUNT(*) FROM tickets WHERE source_message_id = ?`), sourceMessageID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateTicket 插入工单
func (s *Store) CreateTicket(ticket *domain.Ticket) error {
	query := s.rebind(`INSERT INTO tickets (` + ticketColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.Exec(query,
		ticket.ID,
		ticket.Title,
		ticket.Description,
		ticket.RequesterEmail,
		ticket.SourceMessageID,
		ticket.Status,
		ticket.Priority,
		ticket.CreatedAt.UTC(),
		ticket.UpdatedAt.UTC(),
		utcPtr(ticket.CompletedAt),
	)
	return translateError(err)
}

// GetTicket 根据 ID 获取工单
func (s *Store) GetTicket(id string) (*domain.Ticket, error) {
	var ticket domain.Ticket
	err := s.db.Get(&ticket, s.rebind(`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// UpdateTicketStatus 更新工单状态；状态为 DONE 时写入完成时间
func (s *Store) UpdateTicketStatus(id string, status domain.TicketStatus) (*domain.Ticket, error) {
	now := time.Now().UTC()
	var completedAt *time.Time
	if status == domain.TicketStatusDone {
		completedAt = &now
	}

	query := s.rebind(`UPDATE tickets SET status = ?, updated_at = ?, completed_at = ? WHERE id = ?`)
	if _, err := s.db.Exec(query, status, now, completedAt, id); err != nil {
		return nil, err
	}
	// MySQL 在值未变化时返回 0 行，这里直接重新读取
	return s.GetTicket(id)
}

// ========== Sync Run Repository ==========

const runColumns = `id, started_at, completed_at, status, messages_processed, tickets_created, error_message`

// CreateSyncRun 插入同步记录
func (s *Store) CreateSyncRun(run *domain.SyncRun) error {
	query := s.rebind(`INSERT INTO sync_runs (` + runColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.Exec(query,
		run.ID,
		run.StartedAt.UTC(),
		utcPtr(run.CompletedAt),
		run.Status,
		run.MessagesProcessed,
		run.TicketsCreated,
		run.ErrorMessage,
	)
	return err
}

// FinishSyncRun 将 RUNNING 记录写为终态
func (s *Store) FinishSyncRun(run *domain.SyncRun) error {
	query := s.rebind(`UPDATE sync_runs
		SET status = ?, completed_at = ?, messages_processed = ?, tickets_created = ?, error_message = ?
		WHERE id = ? AND status = ?`)
	result, err := s.db.Exec(query,
		run.Status,
		utcPtr(run.CompletedAt),
		run.MessagesProcessed,
		run.TicketsCreated,
		run.ErrorMessage,
		run.ID,
		domain.SyncStatusRunning,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	if _, err := s.GetSyncRun(run.ID); err != nil {
		return err
	}
	return storage.ErrSyncRunFinished
}

// GetSyncRun 根据 ID 获取同步记录
func (s *Store) GetSyncRun(id string) (*domain.SyncRun, error) {
	var run domain.SyncRun
	err := s.db.Get(&run, s.rebind(`SELECT `+runColumns+` FROM sync_runs WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrSyncRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListSyncRuns 按开始时间倒序返回最近的同步记录
func (s *Store) ListSyncRuns(limit int) ([]domain.SyncRun, error) {
	runs := []domain.SyncRun{}
	query := s.rebind(`SELECT ` + runColumns + ` FROM sync_runs ORDER BY started_at DESC LIMIT ?`)
	if err := s.db.Select(&runs, query, storage.NormalizeLimit(limit)); err != nil {
		return nil, err
	}
	return runs, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
