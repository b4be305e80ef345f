// Package app 根据配置组装存储、锁、服务和路由，供各个命令共用。
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ticketmail/backend/internal/config"
	"ticketmail/backend/internal/health"
	"ticketmail/backend/internal/monitoring"
	"ticketmail/backend/internal/pool"
	"ticketmail/backend/internal/service"
	"ticketmail/backend/internal/storage"
	"ticketmail/backend/internal/storage/memory"
	"ticketmail/backend/internal/storage/postgres"
	"ticketmail/backend/internal/storage/redis"
	sqlstore "ticketmail/backend/internal/storage/sql"
	httptransport "ticketmail/backend/internal/transport/http"
)

// App 持有一个进程内的全部组件
type App struct {
	Config        *config.Config
	Logger        *zap.Logger
	Store         storage.Store
	Metrics       *monitoring.Metrics
	Health        *health.HealthChecker
	Pool          *pool.WorkerPool
	Sync          *service.SyncService
	Tickets       *service.TicketService
	Notifications *service.NotificationService

	closers []func() error
}

// New 按配置创建全部组件。失败时已创建的连接会被关闭。
func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  log,
		Metrics: monitoring.NewMetrics(),
	}
	ready := false
	defer func() {
		if !ready {
			_ = a.Close()
		}
	}()

	extras := make(map[string]health.Pinger)

	store, err := a.openStore(extras)
	if err != nil {
		return nil, err
	}
	a.Store = store

	syncOpts := []service.SyncOption{service.WithSyncMetrics(a.Metrics)}
	if cfg.Redis.Enabled {
		client, err := redis.New(&cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		extras["redis"] = client
		syncOpts = append(syncOpts, service.WithRunLock(redis.NewRunLock(client.Client(), redis.DefaultSyncLockKey, cfg.Redis.LockTTL, log)))
		log.Info("using redis sync lock", zap.String("address", cfg.Redis.Address))
	}

	a.Health = health.NewHealthChecker(a.Store, log, extras)

	a.Pool = pool.NewWorkerPool(cfg.Notification.Workers, cfg.Notification.QueueSize, log)
	a.Pool.OnPanic(a.Metrics.RecordPanic)

	a.Notifications = service.NewNotificationService(
		service.NewSenderFactory(cfg.SMTP, log),
		cfg.SMTP.From,
		log,
		service.WithWorkerPool(a.Pool),
		service.WithNotificationMetrics(a.Metrics),
		service.WithRatePerMinute(cfg.SMTP.RatePerMinute),
	)
	a.Sync = service.NewSyncService(a.Store, service.NewMailboxFactory(cfg.IMAP, log), cfg.IMAP, log, syncOpts...)
	a.Tickets = service.NewTicketService(a.Store, a.Notifications, log)

	ready = true
	return a, nil
}

// openStore 按数据库类型与访问方式选择存储实现
func (a *App) openStore(extras map[string]health.Pinger) (storage.Store, error) {
	db := a.Config.Database
	opts := sqlstore.Options{
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
	}

	var (
		store storage.Store
		err   error
	)
	switch {
	case db.Type == "":
		a.Logger.Info("using memory storage (development mode)")
		return memory.NewStore(), nil
	case db.Type == sqlstore.DriverPostgres && db.Engine == "gorm":
		var client *postgres.Client
		client, err = postgres.New(&db, a.Logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { client.Close(); return nil })
		extras["postgres-pool"] = client
		store, err = postgres.NewStoreFromPool(client.Pool())
	case db.Type == sqlstore.DriverMySQL && db.Engine == "gorm":
		store, err = postgres.NewMySQLStore(db.DSN)
	default:
		store, err = sqlstore.NewStore(db.Type, db.DSN, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s storage: %w", db.Type, err)
	}

	// 存储先于连接池关闭
	a.closers = append([]func() error{store.Close}, a.closers...)
	a.Logger.Info("using database storage",
		zap.String("type", db.Type),
		zap.String("engine", db.Engine),
	)
	return store, nil
}

// Router 创建 HTTP 路由
func (a *App) Router() *gin.Engine {
	return httptransport.NewRouter(httptransport.RouterDependencies{
		Config:        a.Config,
		SyncService:   a.Sync,
		TicketService: a.Tickets,
		Metrics:       a.Metrics,
		Health:        a.Health,
		Logger:        a.Logger,
	})
}

// StartWorkers 启动通知协程池；Close 时等待已排队的通知发送完毕
func (a *App) StartWorkers() {
	a.Pool.Start(context.Background())
}

// Close 停止协程池并关闭所有连接
func (a *App) Close() error {
	if a.Pool != nil {
		a.Pool.Stop()
	}
	var errs []error
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
