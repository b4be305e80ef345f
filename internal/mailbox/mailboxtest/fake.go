// Package mailboxtest 提供用于测试调用方的内存邮箱客户端。
package mailboxtest

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"

	"ticketmail/backend/internal/mailbox"
)

// Mailbox 内存中的邮箱，可在多个 Client 之间共享，模拟服务器端状态
type Mailbox struct {
	mu       sync.Mutex
	messages []*mailbox.Message
	marked   []uint32

	// 以下错误用于模拟各阶段的失败
	ConnectErr error
	AuthErr    error
	SelectErr  error
	SearchErr  error
	// FetchErr 按序号注入 FETCH 错误
	FetchErr map[uint32]error

	disconnects int
}

// Add 追加一封邮件，序号从 1 开始按追加顺序分配（除非已指定）
func (m *Mailbox) Add(msg mailbox.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.SeqNum == 0 {
		msg.SeqNum = uint32(len(m.messages) + 1)
	}
	m.messages = append(m.messages, &msg)
}

// Marked 返回被 MarkRead 的序号
func (m *Mailbox) Marked() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.marked)
}

// Disconnects 返回 Disconnect 被调用的次数
func (m *Mailbox) Disconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}

// Factory 返回每次创建新 Client 的工厂函数
func (m *Mailbox) Factory() func() (mailbox.Client, error) {
	return func() (mailbox.Client, error) {
		return &Client{box: m}, nil
	}
}

// Client 实现 mailbox.Client
type Client struct {
	box   *Mailbox
	state mailbox.State
}

var _ mailbox.Client = (*Client)(nil)

func (c *Client) State() mailbox.State { return c.state }

func (c *Client) Connect(context.Context) error {
	if c.box.ConnectErr != nil {
		return c.box.ConnectErr
	}
	c.state = mailbox.StateConnected
	return nil
}

func (c *Client) Authenticate(string, string) error {
	if c.box.AuthErr != nil {
		return c.box.AuthErr
	}
	c.state = mailbox.StateAuthenticated
	return nil
}

func (c *Client) SelectMailbox(name string) (*mailbox.MailboxInfo, error) {
	if c.box.SelectErr != nil {
		return nil, c.box.SelectErr
	}
	c.box.mu.Lock()
	defer c.box.mu.Unlock()
	c.state = mailbox.StateSelected
	return &mailbox.MailboxInfo{Name: name, Exists: uint32(len(c.box.messages))}, nil
}

func (c *Client) Search(criteria mailbox.SearchCriteria) (iter.Seq[uint32], error) {
	if c.box.SearchErr != nil {
		return nil, c.box.SearchErr
	}
	c.box.mu.Lock()
	defer c.box.mu.Unlock()
	var ids []uint32
	for _, msg := range c.box.messages {
		if criteria.Unseen && msg.Seen {
			continue
		}
		if criteria.SubjectContains != "" &&
			!strings.Contains(strings.ToLower(msg.Subject), strings.ToLower(criteria.SubjectContains)) {
			continue
		}
		ids = append(ids, msg.SeqNum)
	}
	return slices.Values(ids), nil
}

func (c *Client) Fetch(seqNum uint32, opts mailbox.FetchOptions) (*mailbox.Message, error) {
	if err := c.box.FetchErr[seqNum]; err != nil {
		return nil, err
	}
	c.box.mu.Lock()
	defer c.box.mu.Unlock()
	for _, msg := range c.box.messages {
		if msg.SeqNum != seqNum {
			continue
		}
		out := *msg
		if !opts.Body {
			out.Raw = nil
		}
		if opts.Body && opts.MarkSeen {
			msg.Seen = true
		}
		out.EnsureMessageID()
		return &out, nil
	}
	return nil, &mailbox.ProtocolError{Command: "FETCH", Reply: fmt.Sprintf("no message %d", seqNum)}
}

func (c *Client) MarkRead(seqNum uint32) {
	c.box.mu.Lock()
	defer c.box.mu.Unlock()
	c.box.marked = append(c.box.marked, seqNum)
	for _, msg := range c.box.messages {
		if msg.SeqNum == seqNum {
			msg.Seen = true
		}
	}
}

func (c *Client) Disconnect() {
	c.box.mu.Lock()
	defer c.box.mu.Unlock()
	c.box.disconnects++
	c.state = mailbox.StateDisconnected
}
