package mailbox

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"slices"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testUser = "support@example.com"
	testPass = "s3cret \"quoted\""
)

const ticketMessage = "From: Alice <alice@example.com>\r\n" +
	"To: support@example.com\r\n" +
	"Subject: [TICKET] Printer broken\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n" +
	"Message-ID: <printer-1@example.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"The printer on floor 3 is broken.\r\n"

const noIDMessage = "From: bob@example.org\r\n" +
	"Subject: [TICKET] No id here\r\n" +
	"Date: Tue, 03 Jan 2006 10:00:00 +0000\r\n" +
	"\r\n" +
	"Body without message id.\r\n"

const otherMessage = "From: carol@example.net\r\n" +
	"Subject: Lunch?\r\n" +
	"Date: Tue, 03 Jan 2006 12:00:00 +0000\r\n" +
	"Message-ID: <lunch@example.net>\r\n" +
	"\r\n" +
	"Not a ticket.\r\n"

// startServer 启动基于 go-imap imapmemserver 的进程内 IMAP 服务器
// INBOX 中依次放入 messages，另有一个空邮箱 Empty
func startServer(t *testing.T, messages ...string) Options {
	t.Helper()

	memServer := imapmemserver.New()
	user := imapmemserver.NewUser(testUser, testPass)
	require.NoError(t, user.Create("INBOX", nil))
	require.NoError(t, user.Create("Empty", nil))
	for _, raw := range messages {
		_, err := user.Append("INBOX", bytes.NewReader([]byte(raw)), &imap.AppendOptions{})
		require.NoError(t, err)
	}
	memServer.AddUser(user)

	server := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return memServer.NewSession(), nil, nil
		},
		Caps: imap.CapSet{
			imap.CapIMAP4rev1: {},
			imap.CapIMAP4rev2: {},
		},
		InsecureAuth: true,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() { _ = server.Close() })

	return optionsFor(ln.Addr())
}

func optionsFor(addr net.Addr) Options {
	tcp := addr.(*net.TCPAddr)
	return Options{
		Host:           "127.0.0.1",
		Port:           tcp.Port,
		CommandTimeout: 5 * time.Second,
		DialTimeout:    time.Second,
		Logger:         zap.NewNop(),
	}
}

var backends = []string{BackendNative, BackendIMAPv2}

func newClient(t *testing.T, opts Options, backend string) Client {
	t.Helper()
	opts.Backend = backend
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

// openInbox 连接、登录并选中 INBOX
func openInbox(t *testing.T, opts Options, backend string) (Client, *MailboxInfo) {
	t.Helper()
	c := newClient(t, opts, backend)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Authenticate(testUser, testPass))
	info, err := c.SelectMailbox("INBOX")
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)
	return c, info
}

func TestClient_Session(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			opts := startServer(t, ticketMessage, noIDMessage, otherMessage)
			c, info := openInbox(t, opts, backend)

			assert.Equal(t, StateSelected, c.State())
			assert.Equal(t, uint32(3), info.Exists)

			seq, err := c.Search(SearchCriteria{Unseen: true, SubjectContains: "[TICKET]"})
			require.NoError(t, err)
			ids := slices.Collect(seq)
			assert.Equal(t, []uint32{1, 2}, ids)

			msg, err := c.Fetch(1, FetchOptions{Body: true})
			require.NoError(t, err)
			assert.Equal(t, "printer-1@example.com", msg.MessageID)
			assert.Equal(t, "[TICKET] Printer broken", msg.Subject)
			assert.Equal(t, "Alice <alice@example.com>", msg.From)
			assert.False(t, msg.Seen)
			assert.Contains(t, string(msg.Raw), "The printer on floor 3 is broken.")

			t.Run("peek 不会设置已读", func(t *testing.T) {
				again, err := c.Fetch(1, FetchOptions{})
				require.NoError(t, err)
				assert.False(t, again.Seen)
				assert.Nil(t, again.Raw)
			})

			t.Run("缺少 Message-ID 使用 seq-n", func(t *testing.T) {
				first, err := c.Fetch(2, FetchOptions{Body: true})
				require.NoError(t, err)
				second, err := c.Fetch(2, FetchOptions{Body: true})
				require.NoError(t, err)
				assert.Equal(t, "seq-2", first.MessageID)
				assert.Equal(t, first.MessageID, second.MessageID)
			})

			t.Run("标记已读后不再出现在未读搜索中", func(t *testing.T) {
				c.MarkRead(1)

				flagged, err := c.Fetch(1, FetchOptions{})
				require.NoError(t, err)
				assert.True(t, flagged.Seen)

				seq, err := c.Search(SearchCriteria{Unseen: true, SubjectContains: "[TICKET]"})
				require.NoError(t, err)
				assert.Equal(t, []uint32{2}, slices.Collect(seq))
			})

			c.Disconnect()
			assert.Equal(t, StateDisconnected, c.State())
			// 重复断开是安全的
			c.Disconnect()
		})
	}
}

func TestClient_EmptyMailbox(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			opts := startServer(t)
			c := newClient(t, opts, backend)
			defer c.Disconnect()

			require.NoError(t, c.Connect(context.Background()))
			require.NoError(t, c.Authenticate(testUser, testPass))
			info, err := c.SelectMailbox("Empty")
			require.NoError(t, err)
			assert.Equal(t, uint32(0), info.Exists)

			seq, err := c.Search(SearchCriteria{Unseen: true, SubjectContains: "[TICKET]"})
			require.NoError(t, err)
			assert.Empty(t, slices.Collect(seq))
		})
	}
}

func TestClient_AuthFailure(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			opts := startServer(t)
			c := newClient(t, opts, backend)
			defer c.Disconnect()

			require.NoError(t, c.Connect(context.Background()))
			err := c.Authenticate(testUser, "wrong-password")

			var authErr *AuthError
			require.True(t, errors.As(err, &authErr), "got %v", err)
			assert.NotContains(t, err.Error(), "wrong-password")
			assert.False(t, IsRetryable(err))
			assert.Equal(t, StateConnected, c.State())
		})
	}
}

func TestClient_SelectMissingMailbox(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			opts := startServer(t)
			c := newClient(t, opts, backend)
			defer c.Disconnect()

			require.NoError(t, c.Connect(context.Background()))
			require.NoError(t, c.Authenticate(testUser, testPass))
			_, err := c.SelectMailbox("DoesNotExist")

			var protoErr *ProtocolError
			require.True(t, errors.As(err, &protoErr), "got %v", err)
			assert.Equal(t, "SELECT", protoErr.Command)
			assert.Equal(t, "NO", protoErr.Status)
		})
	}
}

func TestClient_OutOfOrderCommands(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			c := newClient(t, Options{Host: "127.0.0.1", Port: 1}, backend)

			_, err := c.Search(SearchCriteria{Unseen: true})
			var protoErr *ProtocolError
			require.True(t, errors.As(err, &protoErr))
			assert.Equal(t, "SEARCH", protoErr.Command)

			// 未连接时也不会失败
			c.MarkRead(1)
			c.Disconnect()
		})
	}
}

func TestClient_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	opts := optionsFor(ln.Addr())
	require.NoError(t, ln.Close())

	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			c := newClient(t, opts, backend)
			err := c.Connect(context.Background())

			var connErr *ConnectionError
			require.True(t, errors.As(err, &connErr), "got %v", err)
			assert.True(t, IsRetryable(err))
			assert.Equal(t, StateDisconnected, c.State())
		})
	}
}

func TestClient_CommandTimeout(t *testing.T) {
	// 服务器接受连接但从不发送问候
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				_, _ = io.Copy(io.Discard, conn)
				_ = conn.Close()
			}()
		}
	}()

	opts := optionsFor(ln.Addr())
	opts.CommandTimeout = 200 * time.Millisecond

	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			c := newClient(t, opts, backend)

			start := time.Now()
			err := c.Connect(context.Background())

			var connErr *ConnectionError
			require.True(t, errors.As(err, &connErr), "got %v", err)
			assert.Less(t, time.Since(start), 3*time.Second)
			c.Disconnect()
		})
	}
}

func TestClient_CommandTimeoutAfterGreeting(t *testing.T) {
	// 服务器发送问候后不再应答任何命令
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				_, _ = io.WriteString(conn, "* OK [CAPABILITY IMAP4rev1] stalled server ready\r\n")
				_, _ = io.Copy(io.Discard, conn)
				_ = conn.Close()
			}()
		}
	}()

	opts := optionsFor(ln.Addr())
	opts.CommandTimeout = 200 * time.Millisecond

	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			c := newClient(t, opts, backend)
			require.NoError(t, c.Connect(context.Background()))

			start := time.Now()
			err := c.Authenticate(testUser, testPass)

			var connErr *ConnectionError
			require.True(t, errors.As(err, &connErr), "got %v", err)
			assert.Less(t, time.Since(start), 3*time.Second)
			c.Disconnect()
			assert.Equal(t, StateDisconnected, c.State())
		})
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(Options{Backend: "pop3"})
	assert.Error(t, err)
}
