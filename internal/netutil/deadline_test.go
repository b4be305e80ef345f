package netutil

import (
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipe(t *testing.T) *DeadlineConn {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return NewDeadlineConn(client)
}

func readTimedOut(t *testing.T, conn net.Conn) time.Duration {
	t.Helper()
	start := time.Now()
	_, err := conn.Read(make([]byte, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrDeadlineExceeded), "unexpected error: %v", err)
	return time.Since(start)
}

func TestDeadlineConn(t *testing.T) {
	t.Run("较晚的读超时被收紧到上限", func(t *testing.T) {
		conn := pipe(t)
		conn.SetLimit(time.Now().Add(100 * time.Millisecond))

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Hour)))

		assert.Less(t, readTimedOut(t, conn), 2*time.Second)
	})

	t.Run("清除超时不会越过上限", func(t *testing.T) {
		conn := pipe(t)
		conn.SetLimit(time.Now().Add(100 * time.Millisecond))

		require.NoError(t, conn.SetDeadline(time.Time{}))

		assert.Less(t, readTimedOut(t, conn), 2*time.Second)
	})

	t.Run("早于上限的超时保持不变", func(t *testing.T) {
		conn := pipe(t)
		limit := time.Now().Add(time.Hour)
		conn.SetLimit(limit)

		early := time.Now().Add(50 * time.Millisecond)
		assert.Equal(t, early, conn.clamp(early))
		assert.Equal(t, limit, conn.clamp(time.Now().Add(2*time.Hour)))
	})

	t.Run("没有上限时原样透传", func(t *testing.T) {
		conn := pipe(t)
		conn.SetLimit(time.Time{})

		assert.True(t, conn.Limit().IsZero())
		assert.True(t, conn.clamp(time.Time{}).IsZero())
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
		assert.Less(t, readTimedOut(t, conn), 2*time.Second)
	})
}
