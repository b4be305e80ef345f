// Package mailbox 实现收件邮箱协议（IMAP）的最小客户端。
//
// 一个 Client 管理一条连接的完整生命周期：
// Disconnected → Connected → Authenticated → Selected → Disconnected。
// 提供两个后端：手写的命令/响应实现 (native) 和基于 go-imap/v2 的实现 (imapv2)，
// 二者实现同一个接口。
package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"iter"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	BackendNative = "native"
	BackendIMAPv2 = "imapv2"

	// DefaultCommandTimeout 单条命令往返的读超时
	DefaultCommandTimeout = 60 * time.Second
	// DefaultDialTimeout 建立连接的超时
	DefaultDialTimeout = 15 * time.Second

	// NoSubject 邮件没有主题时使用的占位主题
	NoSubject = "No Subject"
)

// State 连接状态
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateAuthenticated
	StateSelected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateSelected:
		return "selected"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// MailboxInfo SELECT 的结果
type MailboxInfo struct {
	Name        string
	Exists      uint32
	UIDValidity uint32
}

// SearchCriteria 搜索条件，各条件之间为 AND 关系
type SearchCriteria struct {
	Unseen          bool
	SubjectContains string
	SentSince       time.Time
}

// FetchOptions 控制 FETCH 的数据项
type FetchOptions struct {
	// Body 为 false 时只获取信封和标志；为 true 时同时获取完整原文
	Body bool
	// MarkSeen 为 true 时获取正文会隐式设置 \Seen，默认使用 peek 语义
	MarkSeen bool
}

// Message 一封候选邮件，只在一次同步过程中存在
type Message struct {
	SeqNum    uint32
	UID       uint32
	MessageID string
	Subject   string
	From      string
	Date      time.Time
	Seen      bool
	Raw       []byte
}

// EnsureMessageID 邮件缺少 Message-ID 时使用 seq-<序号> 作为替代
func (m *Message) EnsureMessageID() {
	if strings.TrimSpace(m.MessageID) == "" {
		m.MessageID = fmt.Sprintf("seq-%d", m.SeqNum)
	}
}

func (m *Message) normalize() {
	m.MessageID = NormalizeMessageID(m.MessageID)
	m.EnsureMessageID()
	if strings.TrimSpace(m.Subject) == "" {
		m.Subject = NoSubject
	}
}

// NormalizeMessageID 去掉 Message-ID 两侧的尖括号和空白
func NormalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.TrimSpace(id)
}

// Client 收件邮箱协议客户端
//
// 返回 error 的操作由调用方处理；MarkRead 和 Disconnect 定义为永不让调用方失败，
// 内部错误只记录日志。一个 Client 只服务一次会话，不可并发使用。
type Client interface {
	Connect(ctx context.Context) error
	Authenticate(username, password string) error
	SelectMailbox(name string) (*MailboxInfo, error)
	Search(criteria SearchCriteria) (iter.Seq[uint32], error)
	Fetch(seqNum uint32, opts FetchOptions) (*Message, error)
	MarkRead(seqNum uint32)
	Disconnect()
	State() State
}

// Options 客户端配置
type Options struct {
	Backend        string
	Host           string
	Port           int
	TLS            bool
	TLSConfig      *tls.Config
	DialTimeout    time.Duration
	CommandTimeout time.Duration
	Logger         *zap.Logger
}

// Addr 返回 host:port
func (o Options) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.TLS {
		cfg := &tls.Config{MinVersion: tls.VersionTLS12}
		if o.TLSConfig != nil {
			cfg = o.TLSConfig.Clone()
		}
		if cfg.ServerName == "" {
			cfg.ServerName = o.Host
		}
		o.TLSConfig = cfg
	}
	return o
}

// New 按后端名称创建一个新的、未连接的客户端
func New(opts Options) (Client, error) {
	opts = opts.withDefaults()
	switch strings.ToLower(opts.Backend) {
	case "", BackendNative:
		return newNativeClient(opts), nil
	case BackendIMAPv2:
		return newIMAPv2Client(opts), nil
	default:
		return nil, fmt.Errorf("unknown mailbox backend %q", opts.Backend)
	}
}

// dial 建立（可选 TLS 的）传输连接
func dial(ctx context.Context, opts Options) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: opts.DialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if opts.TLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: opts.TLSConfig}
		conn, err = tlsDialer.DialContext(ctx, "tcp", opts.Addr())
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", opts.Addr())
	}
	if err != nil {
		return nil, &ConnectionError{Addr: opts.Addr(), Err: err}
	}
	return conn, nil
}

// formatAddress 组合显示名和地址
func formatAddress(name, mailbox, host string) string {
	addr := mailbox
	if host != "" {
		addr = mailbox + "@" + host
	}
	if name == "" {
		return addr
	}
	return name + " <" + addr + ">"
}
