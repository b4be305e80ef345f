package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"ticketmail/backend/internal/storage"
)

const (
	// maxGoroutines 超过该数量视为协程泄漏
	maxGoroutines = 1000
	checkTimeout  = 3 * time.Second
)

// Pinger 可选依赖（如 Redis）的连通性检查
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	store  storage.Store
	logger *zap.Logger
	extras map[string]Pinger
}

// NewHealthChecker 创建健康检查器，extras 中的依赖加入就绪检查
func NewHealthChecker(store storage.Store, logger *zap.Logger, extras map[string]Pinger) *HealthChecker {
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		logger: logger,
		extras: extras,
	}

	hc.addChecks()

	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))

	hc.health.AddReadinessCheck("database", healthcheck.Timeout(hc.store.Health, checkTimeout))

	for name, pinger := range hc.extras {
		hc.health.AddReadinessCheck(name, PingCheck(pinger))
	}
}

// Handler 返回健康检查处理器（/live 与 /ready）
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveEndpoint 存活检查
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 执行全部检查，返回每项的结果
func (hc *HealthChecker) CheckHealth() map[string]string {
	results := make(map[string]string)

	if err := hc.store.Health(); err != nil {
		hc.logger.Warn("database health check failed", zap.Error(err))
		results["database"] = "ERROR: " + err.Error()
	} else {
		results["database"] = "OK"
	}

	for name, pinger := range hc.extras {
		if err := PingCheck(pinger)(); err != nil {
			hc.logger.Warn("dependency health check failed", zap.String("dependency", name), zap.Error(err))
			results[name] = "ERROR: " + err.Error()
		} else {
			results[name] = "OK"
		}
	}

	results["timestamp"] = time.Now().Format(time.RFC3339)
	return results
}

// PingCheck 把 Pinger 包装为带超时的检查
func PingCheck(p Pinger) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		return p.Ping(ctx)
	}
}
