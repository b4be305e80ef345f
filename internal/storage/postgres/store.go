package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ticketmail/backend/internal/domain"
	"ticketmail/backend/internal/storage"
)

// Store 基于 GORM 的存储实现（PostgreSQL / MySQL）
type Store struct {
	db *gorm.DB
}

// NewStore 创建 PostgreSQL 存储实例
func NewStore(dsn string) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(dsn))
}

// NewStoreFromPool 复用 pgx 连接池创建 PostgreSQL 存储实例
func NewStoreFromPool(pool *pgxpool.Pool) (*Store, error) {
	sqlDB := stdlib.OpenDBFromPool(pool)
	return NewStoreWithDialector(postgres.New(postgres.Config{Conn: sqlDB}))
}

// NewMySQLStore 创建 MySQL 存储实例，DSN 需要带 parseTime=true
func NewMySQLStore(dsn string) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn))
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector) (*Store, error) {
	return openStore(dialector, true)
}

// openStore 打开连接，migrate 为 false 时跳过建表
func openStore(dialector gorm.Dialector, migrate bool) (*Store, error) {
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		TranslateError: true,
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	store := &Store{db: db}
	if !migrate {
		return store, nil
	}

	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate 自动迁移数据库表结构
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.Ticket{},
		&domain.SyncRun{},
	)
}

// Close 关闭底层连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连接
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// ========== Ticket Repository ==========

// ExistsBySourceMessageID 判断来源邮件是否已生成工单
func (s *Store) ExistsBySourceMessageID(sourceMessageID string) (bool, error) {
	var count int64
	err := s.db.Model(&domain.Ticket{}).
		Where("source_message_id = ?", sourceMessageID).
		Count(&count).Error
	return count > 0, err
}

// CreateTicket 插入工单
func (s *Store) CreateTicket(ticket *domain.Ticket) error {
	return TranslateError(s.db.Create(ticket).Error)
}

// GetTicket 根据 ID 获取工单
func (s *Store) GetTicket(id string) (*domain.Ticket, error) {
	var ticket domain.Ticket
	err := s.db.Where("id = ?", id).First(&ticket).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrTicketNotFound
		}
		return nil, err
	}
	return &ticket, nil
}

// UpdateTicketStatus 更新工单状态；状态为 DONE 时写入完成时间
func (s *Store) UpdateTicketStatus(id string, status domain.TicketStatus) (*domain.Ticket, error) {
	var ticket domain.Ticket
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&ticket).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		ticket.Status = status
		ticket.UpdatedAt = now
		ticket.CompletedAt = nil
		if status == domain.TicketStatusDone {
			ticket.CompletedAt = &now
		}

		return tx.Model(&domain.Ticket{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":       ticket.Status,
				"updated_at":   ticket.UpdatedAt,
				"completed_at": ticket.CompletedAt,
			}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrTicketNotFound
		}
		return nil, err
	}
	return &ticket, nil
}

// ========== Sync Run Repository ==========

// CreateSyncRun 插入同步记录
func (s *Store) CreateSyncRun(run *domain.SyncRun) error {
	return s.db.Create(run).Error
}

// FinishSyncRun 将 RUNNING 记录写为终态
func (s *Store) FinishSyncRun(run *domain.SyncRun) error {
	result := s.db.Model(&domain.SyncRun{}).
		Where("id = ? AND status = ?", run.ID, domain.SyncStatusRunning).
		Updates(map[string]interface{}{
			"status":             run.Status,
			"completed_at":       run.CompletedAt,
			"messages_processed": run.MessagesProcessed,
			"tickets_created":    run.TicketsCreated,
			"error_message":      run.ErrorMessage,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
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
	err := s.db.Where("id = ?", id).First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrSyncRunNotFound
		}
		return nil, err
	}
	return &run, nil
}

// ListSyncRuns 按开始时间倒序返回最近的同步记录
func (s *Store) ListSyncRuns(limit int) ([]domain.SyncRun, error) {
	runs := []domain.SyncRun{}
	err := s.db.Order("started_at DESC").Limit(storage.NormalizeLimit(limit)).Find(&runs).Error
	return runs, err
}

// TranslateError 把唯一约束冲突转换为 storage.ErrDuplicateTicket
func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", storage.ErrDuplicateTicket, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %v", storage.ErrDuplicateTicket, err)
	}
	return err
}
