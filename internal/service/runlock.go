package service

import (
	"context"
	"sync"
)

// RunLock 保证同一时间只有一个同步在执行。
//
// TryLock 不阻塞：ok 为 false 表示锁已被占用；ok 为 true 时必须调用 release。
type RunLock interface {
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

// LocalRunLock 进程内的运行锁，未启用 Redis 时使用
type LocalRunLock struct {
	mu sync.Mutex
}

// NewLocalRunLock 创建进程内运行锁
func NewLocalRunLock() *LocalRunLock {
	return &LocalRunLock{}
}

func (l *LocalRunLock) TryLock(context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}
