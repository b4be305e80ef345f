package mailbox

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"ticketmail/backend/internal/logger"
)

// maxLiteralSize 单个 literal 的大小上限，防止异常服务器耗尽内存
const maxLiteralSize = 50 << 20

// literal 以 {n} 方式发送的命令参数
type literal []byte

// response 一条带标签命令的完整响应
type response struct {
	status   string // OK / NO / BAD
	text     string
	untagged []string
}

// nativeClient 手写的 IMAP 命令/响应实现
//
// 每条命令带有单调递增的标签 A0001、A0002……，
// 读取直到出现该标签的状态行为止，每条命令都设置读写超时。
type nativeClient struct {
	opts   Options
	log    *zap.Logger
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	tag    int
	state  State
	broken bool
}

func newNativeClient(opts Options) *nativeClient {
	return &nativeClient{
		opts: opts,
		log:  opts.Logger.With(zap.String("backend", BackendNative), zap.String("addr", opts.Addr())),
	}
}

func (c *nativeClient) State() State { return c.state }

func (c *nativeClient) Connect(ctx context.Context) error {
	if c.state != StateDisconnected {
		return stateError("CONNECT", c.state, StateDisconnected)
	}
	conn, err := dial(ctx, c.opts)
	if err != nil {
		return err
	}
	c.conn = conn
	c.r = bufio.NewReader(conn)
	c.w = bufio.NewWriter(conn)
	c.broken = false

	_ = conn.SetDeadline(time.Now().Add(c.opts.CommandTimeout))
	greeting, err := c.readLine()
	if err != nil {
		c.closeConn()
		return &ConnectionError{Addr: c.opts.Addr(), Err: fmt.Errorf("read greeting: %w", err)}
	}
	c.log.Debug("imap greeting", zap.String("line", greeting))

	switch {
	case strings.HasPrefix(strings.ToUpper(greeting), "* OK"):
		c.state = StateConnected
	case strings.HasPrefix(strings.ToUpper(greeting), "* PREAUTH"):
		c.state = StateAuthenticated
	default:
		c.closeConn()
		return &ProtocolError{Command: "GREETING", Reply: greeting}
	}
	return nil
}

func (c *nativeClient) Authenticate(username, password string) error {
	if c.state == StateAuthenticated {
		// PREAUTH
		return nil
	}
	if c.state != StateConnected {
		return stateError("LOGIN", c.state, StateConnected)
	}
	resp, err := c.execute("LOGIN", astring(username), astring(password))
	if err != nil {
		return err
	}
	if resp.status != "OK" {
		return &AuthError{Reply: strings.TrimSpace(resp.status + " " + resp.text)}
	}
	c.state = StateAuthenticated
	return nil
}

func (c *nativeClient) SelectMailbox(name string) (*MailboxInfo, error) {
	if c.state != StateAuthenticated && c.state != StateSelected {
		return nil, stateError("SELECT", c.state, StateAuthenticated, StateSelected)
	}
	resp, err := c.execute("SELECT", astring(name))
	if err != nil {
		return nil, err
	}
	if resp.status != "OK" {
		// 失败的 SELECT 会让服务器退出已选中状态
		c.state = StateAuthenticated
		return nil, &ProtocolError{Command: "SELECT", Status: resp.status, Reply: resp.text}
	}

	info := &MailboxInfo{Name: name}
	for _, line := range resp.untagged {
		fields := strings.Fields(line)
		if len(fields) >= 3 && strings.EqualFold(fields[2], "EXISTS") {
			if n, err := strconv.ParseUint(fields[1], 10, 32); err == nil {
				info.Exists = uint32(n)
			}
		}
		if idx := strings.Index(strings.ToUpper(line), "[UIDVALIDITY "); idx >= 0 {
			rest := line[idx+len("[UIDVALIDITY "):]
			if end := strings.IndexByte(rest, ']'); end > 0 {
				if n, err := strconv.ParseUint(rest[:end], 10, 32); err == nil {
					info.UIDValidity = uint32(n)
				}
			}
		}
	}
	c.state = StateSelected
	return info, nil
}

func (c *nativeClient) Search(criteria SearchCriteria) (iter.Seq[uint32], error) {
	if c.state != StateSelected {
		return nil, stateError("SEARCH", c.state, StateSelected)
	}
	resp, err := c.execute("SEARCH", searchArgs(criteria)...)
	if err != nil {
		return nil, err
	}
	if resp.status != "OK" {
		return nil, &ProtocolError{Command: "SEARCH", Status: resp.status, Reply: resp.text}
	}

	var ids []uint32
	for _, line := range resp.untagged {
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.EqualFold(fields[1], "SEARCH") {
			continue
		}
		for _, f := range fields[2:] {
			n, err := strconv.ParseUint(f, 10, 32)
			if err != nil {
				return nil, &ProtocolError{Command: "SEARCH", Reply: "invalid sequence number " + f}
			}
			ids = append(ids, uint32(n))
		}
	}
	return slices.Values(ids), nil
}

// searchArgs 构造 SEARCH 参数，没有任何条件时为 ALL
func searchArgs(criteria SearchCriteria) []any {
	var args []any
	if needsLiteral(criteria.SubjectContains) {
		args = append(args, "CHARSET", "UTF-8")
	}
	if criteria.Unseen {
		args = append(args, "UNSEEN")
	}
	if criteria.SubjectContains != "" {
		args = append(args, "SUBJECT", astring(criteria.SubjectContains))
	}
	if !criteria.SentSince.IsZero() {
		args = append(args, "SENTSINCE", imapDate(criteria.SentSince))
	}
	if len(args) == 0 {
		args = append(args, "ALL")
	}
	return args
}

func (c *nativeClient) Fetch(seqNum uint32, opts FetchOptions) (*Message, error) {
	if c.state != StateSelected {
		return nil, stateError("FETCH", c.state, StateSelected)
	}
	items := "(UID FLAGS ENVELOPE)"
	if opts.Body {
		if opts.MarkSeen {
			items = "(UID FLAGS ENVELOPE BODY[])"
		} else {
			items = "(UID FLAGS ENVELOPE BODY.PEEK[])"
		}
	}
	seq := strconv.FormatUint(uint64(seqNum), 10)
	resp, err := c.execute("FETCH", seq, items)
	if err != nil {
		return nil, err
	}
	if resp.status != "OK" {
		return nil, &ProtocolError{Command: "FETCH", Status: resp.status, Reply: resp.text}
	}

	prefix := "* " + seq + " FETCH "
	for _, line := range resp.untagged {
		if !strings.HasPrefix(strings.ToUpper(line), prefix) {
			continue
		}
		msg, err := parseFetch(seqNum, line[len(prefix):])
		if err != nil {
			return nil, &ProtocolError{Command: "FETCH", Err: err}
		}
		if opts.Body && msg.Raw == nil {
			// 服务器可能把 FLAGS 更新作为单独的 FETCH 响应发送，继续找带正文的那一条
			continue
		}
		msg.normalize()
		return msg, nil
	}
	return nil, &ProtocolError{Command: "FETCH", Reply: "no data returned for message " + seq}
}

// MarkRead 设置 \Seen 标志，失败只记录日志
func (c *nativeClient) MarkRead(seqNum uint32) {
	if c.state != StateSelected {
		c.log.Warn("mark read skipped", zap.Uint32("seq", seqNum), zap.Stringer("state", c.state))
		return
	}
	seq := strconv.FormatUint(uint64(seqNum), 10)
	resp, err := c.execute("STORE", seq, "+FLAGS.SILENT", `(\Seen)`)
	if err != nil {
		c.log.Warn("mark read failed", zap.Uint32("seq", seqNum), zap.Error(err))
		return
	}
	if resp.status != "OK" {
		c.log.Warn("mark read rejected",
			zap.Uint32("seq", seqNum),
			zap.String("status", resp.status),
			zap.String("reply", resp.text),
		)
	}
}

// Disconnect 尽力发送 LOGOUT 并关闭连接，在任何状态下都可以调用
func (c *nativeClient) Disconnect() {
	if c.conn == nil {
		c.state = StateDisconnected
		return
	}
	if !c.broken {
		if _, err := c.execute("LOGOUT"); err != nil {
			c.log.Debug("logout failed", zap.Error(err))
		}
	}
	c.closeConn()
}

func (c *nativeClient) closeConn() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn, c.r, c.w = nil, nil, nil
	c.state = StateDisconnected
}

// execute 发送一条带标签的命令并读取到对应的状态行
// 返回的 error 只表示传输层失败，NO/BAD 通过 response.status 返回
func (c *nativeClient) execute(name string, args ...any) (*response, error) {
	if c.conn == nil || c.broken {
		return nil, &ConnectionError{Addr: c.opts.Addr(), Err: net.ErrClosed}
	}
	c.tag++
	tag := fmt.Sprintf("A%04d", c.tag)
	_ = c.conn.SetDeadline(time.Now().Add(c.opts.CommandTimeout))

	var trace strings.Builder
	trace.WriteString(tag + " " + name)
	if _, err := c.w.WriteString(tag + " " + name); err != nil {
		return nil, c.transportError(err)
	}
	for _, arg := range args {
		if err := c.w.WriteByte(' '); err != nil {
			return nil, c.transportError(err)
		}
		switch v := arg.(type) {
		case literal:
			fmt.Fprintf(&trace, " {%d}", len(v))
			if resp, err := c.sendLiteral(tag, v); err != nil || resp != nil {
				return resp, err
			}
		case string:
			trace.WriteString(" " + v)
			if _, err := c.w.WriteString(v); err != nil {
				return nil, c.transportError(err)
			}
		default:
			return nil, fmt.Errorf("unsupported argument type %T", arg)
		}
	}
	if _, err := c.w.WriteString("\r\n"); err != nil {
		return nil, c.transportError(err)
	}
	if err := c.w.Flush(); err != nil {
		return nil, c.transportError(err)
	}
	c.log.Debug("imap command", zap.String("line", logger.RedactLine(trace.String())))

	resp := &response{}
	for {
		line, err := c.readLine()
		if err != nil {
			return nil, c.transportError(err)
		}
		switch {
		case strings.HasPrefix(line, tag+" "):
			status, text, _ := strings.Cut(line[len(tag)+1:], " ")
			resp.status = strings.ToUpper(status)
			resp.text = text
			if resp.status != "OK" && resp.status != "NO" && resp.status != "BAD" {
				return nil, &ProtocolError{Command: name, Reply: line}
			}
			return resp, nil
		case strings.HasPrefix(line, "* "):
			resp.untagged = append(resp.untagged, line)
		default:
			c.log.Debug("ignoring unexpected line", zap.String("tag", tag))
		}
	}
}

// sendLiteral 发送 {n} 并等待服务器的继续请求 "+"，再写入数据
// 如果服务器直接以带标签的状态行拒绝，返回该响应
func (c *nativeClient) sendLiteral(tag string, v literal) (*response, error) {
	if _, err := fmt.Fprintf(c.w, "{%d}\r\n", len(v)); err != nil {
		return nil, c.transportError(err)
	}
	if err := c.w.Flush(); err != nil {
		return nil, c.transportError(err)
	}
	for {
		line, err := c.readLine()
		if err != nil {
			return nil, c.transportError(err)
		}
		if strings.HasPrefix(line, "+") {
			break
		}
		if strings.HasPrefix(line, tag+" ") {
			status, text, _ := strings.Cut(line[len(tag)+1:], " ")
			return &response{status: strings.ToUpper(status), text: text}, nil
		}
	}
	if _, err := c.w.Write(v); err != nil {
		return nil, c.transportError(err)
	}
	return nil, nil
}

// readLine 读取一条逻辑响应行，行尾的 {n} literal 连同其数据一起拼入
func (c *nativeClient) readLine() (string, error) {
	var sb strings.Builder
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			return "", err
		}
		sb.WriteString(line)
		n, ok := literalSize(line)
		if !ok {
			break
		}
		if n > maxLiteralSize {
			return "", fmt.Errorf("literal of %d bytes exceeds limit", n)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(c.r, buf); err != nil {
			return "", err
		}
		sb.Write(buf)
	}
	return strings.TrimRight(sb.String(), "\r\n"), nil
}

// literalSize 判断一行是否以 {n} 结尾
func literalSize(line string) (int, bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasSuffix(line, "}") {
		return 0, false
	}
	open := strings.LastIndexByte(line, '{')
	if open < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(line[open+1 : len(line)-1])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// transportError 读写失败后连接不可再用
func (c *nativeClient) transportError(err error) error {
	c.broken = true
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return err
	}
	return &ConnectionError{Addr: c.opts.Addr(), Err: err}
}

// astring 普通参数用 quoted string，含 8 位字符或换行的参数用 literal
func astring(s string) any {
	if needsLiteral(s) {
		return literal(s)
	}
	return quoteString(s)
}
