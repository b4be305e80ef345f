package mailbox

import (
	"context"
	"errors"
	"iter"
	"slices"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"ticketmail/backend/internal/logger"
	"ticketmail/backend/internal/mailtext"
	"ticketmail/backend/internal/netutil"
)

// imapv2Client 基于 go-imap/v2 imapclient 的实现
type imapv2Client struct {
	opts   Options
	log    *zap.Logger
	conn   *netutil.DeadlineConn
	client *imapclient.Client
	state  State
}

func newIMAPv2Client(opts Options) *imapv2Client {
	return &imapv2Client{
		opts: opts,
		log:  opts.Logger.With(zap.String("backend", BackendIMAPv2), zap.String("addr", opts.Addr())),
	}
}

func (c *imapv2Client) State() State { return c.state }

// withDeadline 为一次命令往返设置超时上限，结束后清除
//
// imapclient 在读写前会自行设置连接超时，上限保证它们不晚于 CommandTimeout。
func (c *imapv2Client) withDeadline(fn func() error) error {
	c.conn.SetLimit(time.Now().Add(c.opts.CommandTimeout))
	defer c.conn.SetLimit(time.Time{})
	return fn()
}

func (c *imapv2Client) Connect(ctx context.Context) error {
	if c.state != StateDisconnected {
		return stateError("CONNECT", c.state, StateDisconnected)
	}
	conn, err := dial(ctx, c.opts)
	if err != nil {
		return err
	}
	c.conn = netutil.NewDeadlineConn(conn)
	c.client = imapclient.New(c.conn, &imapclient.Options{
		DebugWriter: logger.NewRedactingWriter(c.log, "imap"),
	})
	if err := c.withDeadline(c.client.WaitGreeting); err != nil {
		c.closeConn()
		return c.classify("GREETING", err)
	}
	c.state = StateConnected
	return nil
}

func (c *imapv2Client) Authenticate(username, password string) error {
	if c.state != StateConnected {
		return stateError("LOGIN", c.state, StateConnected)
	}
	err := c.withDeadline(func() error {
		return c.client.Login(username, password).Wait()
	})
	if err != nil {
		var imapErr *imap.Error
		if errors.As(err, &imapErr) {
			return &AuthError{Reply: string(imapErr.Type) + " " + imapErr.Text}
		}
		return &ConnectionError{Addr: c.opts.Addr(), Err: err}
	}
	c.state = StateAuthenticated
	return nil
}

func (c *imapv2Client) SelectMailbox(name string) (*MailboxInfo, error) {
	if c.state != StateAuthenticated && c.state != StateSelected {
		return nil, stateError("SELECT", c.state, StateAuthenticated, StateSelected)
	}
	var data *imap.SelectData
	err := c.withDeadline(func() error {
		var err error
		data, err = c.client.Select(name, nil).Wait()
		return err
	})
	if err != nil {
		c.state = StateAuthenticated
		return nil, c.classify("SELECT", err)
	}
	c.state = StateSelected
	return &MailboxInfo{Name: name, Exists: data.NumMessages, UIDValidity: data.UIDValidity}, nil
}

func (c *imapv2Client) Search(criteria SearchCriteria) (iter.Seq[uint32], error) {
	if c.state != StateSelected {
		return nil, stateError("SEARCH", c.state, StateSelected)
	}
	sc := &imap.SearchCriteria{}
	if criteria.Unseen {
		sc.NotFlag = []imap.Flag{imap.FlagSeen}
	}
	if criteria.SubjectContains != "" {
		sc.Header = append(sc.Header, imap.SearchCriteriaHeaderField{Key: "Subject", Value: criteria.SubjectContains})
	}
	if !criteria.SentSince.IsZero() {
		sc.SentSince = criteria.SentSince
	}

	var data *imap.SearchData
	err := c.withDeadline(func() error {
		var err error
		data, err = c.client.Search(sc, nil).Wait()
		return err
	})
	if err != nil {
		return nil, c.classify("SEARCH", err)
	}
	return slices.Values(data.AllSeqNums()), nil
}

func (c *imapv2Client) Fetch(seqNum uint32, opts FetchOptions) (*Message, error) {
	if c.state != StateSelected {
		return nil, stateError("FETCH", c.state, StateSelected)
	}
	section := &imap.FetchItemBodySection{Peek: !opts.MarkSeen}
	fetchOpts := &imap.FetchOptions{
		Envelope: true,
		Flags:    true,
		UID:      true,
	}
	if opts.Body {
		fetchOpts.BodySection = []*imap.FetchItemBodySection{section}
	}

	var bufs []*imapclient.FetchMessageBuffer
	err := c.withDeadline(func() error {
		var err error
		bufs, err = c.client.Fetch(imap.SeqSetNum(seqNum), fetchOpts).Collect()
		return err
	})
	if err != nil {
		return nil, c.classify("FETCH", err)
	}

	for _, buf := range bufs {
		if buf.SeqNum != seqNum {
			continue
		}
		msg := &Message{SeqNum: seqNum, UID: uint32(buf.UID)}
		for _, f := range buf.Flags {
			if f == imap.FlagSeen {
				msg.Seen = true
			}
		}
		if env := buf.Envelope; env != nil {
			msg.Date = env.Date.UTC()
			msg.Subject = mailtext.DecodeHeader(env.Subject)
			msg.MessageID = env.MessageID
			if len(env.From) > 0 {
				from := env.From[0]
				msg.From = formatAddress(from.Name, from.Mailbox, from.Host)
			}
		}
		if opts.Body {
			msg.Raw = buf.FindBodySection(section)
		}
		msg.normalize()
		return msg, nil
	}
	return nil, &ProtocolError{Command: "FETCH", Reply: "no data returned for message"}
}

// MarkRead 设置 \Seen 标志，失败只记录日志
func (c *imapv2Client) MarkRead(seqNum uint32) {
	if c.state != StateSelected {
		c.log.Warn("mark read skipped", zap.Uint32("seq", seqNum), zap.Stringer("state", c.state))
		return
	}
	err := c.withDeadline(func() error {
		return c.client.Store(imap.SeqSetNum(seqNum), &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  []imap.Flag{imap.FlagSeen},
		}, nil).Close()
	})
	if err != nil {
		c.log.Warn("mark read failed", zap.Uint32("seq", seqNum), zap.Error(err))
	}
}

// Disconnect 尽力发送 LOGOUT 并关闭连接
func (c *imapv2Client) Disconnect() {
	if c.client == nil {
		c.state = StateDisconnected
		return
	}
	if err := c.withDeadline(func() error { return c.client.Logout().Wait() }); err != nil {
		c.log.Debug("logout failed", zap.Error(err))
	}
	c.closeConn()
}

func (c *imapv2Client) closeConn() {
	if c.client != nil {
		_ = c.client.Close()
	} else if c.conn != nil {
		_ = c.conn.Close()
	}
	c.client, c.conn = nil, nil
	c.state = StateDisconnected
}

// classify 服务器状态响应映射为 ProtocolError，其余为传输层错误
func (c *imapv2Client) classify(command string, err error) error {
	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		return &ProtocolError{Command: command, Status: string(imapErr.Type), Reply: imapErr.Text}
	}
	return &ConnectionError{Addr: c.opts.Addr(), Err: err}
}
