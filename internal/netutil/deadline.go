// Package netutil 提供协议客户端共用的连接包装。
package netutil

import (
	"net"
	"sync"
	"time"
)

// DeadlineConn 给连接加一个截止时间上限
//
// 第三方协议库会在每次读写前自行设置连接超时，覆盖调用方设置的值。
// 经 DeadlineConn 设置的任何超时都不会晚于当前上限；上限为零时原样透传。
type DeadlineConn struct {
	net.Conn

	mu    sync.Mutex
	limit time.Time
}

// NewDeadlineConn 包装连接，初始没有上限
func NewDeadlineConn(conn net.Conn) *DeadlineConn {
	return &DeadlineConn{Conn: conn}
}

// SetLimit 设置上限并立即应用到底层连接；传入零值取消上限并清除连接超时
func (c *DeadlineConn) SetLimit(t time.Time) {
	c.mu.Lock()
	c.limit = t
	c.mu.Unlock()
	_ = c.Conn.SetDeadline(t)
}

// Limit 返回当前上限
func (c *DeadlineConn) Limit() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limit
}

func (c *DeadlineConn) clamp(t time.Time) time.Time {
	limit := c.Limit()
	if limit.IsZero() {
		return t
	}
	if t.IsZero() || t.After(limit) {
		return limit
	}
	return t
}

func (c *DeadlineConn) SetDeadline(t time.Time) error {
	return c.Conn.SetDeadline(c.clamp(t))
}

func (c *DeadlineConn) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(c.clamp(t))
}

func (c *DeadlineConn) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(c.clamp(t))
}
