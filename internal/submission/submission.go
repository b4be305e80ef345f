// Package submission 实现发送单封纯文本邮件的 SMTP 客户端。
//
// 每次 Send 都新建连接，按 问候 → EHLO → STARTTLS → EHLO → AUTH → MAIL FROM →
// RCPT TO → DATA → 正文 的顺序执行，任何一步失败都返回指明该步骤的 SubmissionError。
package submission

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	BackendNative = "native"
	BackendGoSMTP = "gosmtp"

	// DefaultTimeout 整个发送会话的超时
	DefaultTimeout = 30 * time.Second
)

// Step 发送流程中的步骤名
type Step string

const (
	StepConnect      Step = "connect"
	StepGreeting     Step = "greeting"
	StepEHLO         Step = "EHLO"
	StepStartTLS     Step = "STARTTLS"
	StepEHLOAfterTLS Step = "EHLO-after-TLS"
	StepAuth         Step = "AUTH"
	StepMailFrom     Step = "MAIL FROM"
	StepRcptTo       Step = "RCPT TO"
	StepData         Step = "DATA"
	StepMessageBody  Step = "message body"
)

// ErrInvalidAddress 地址为空或包含不允许的字符
var ErrInvalidAddress = errors.New("invalid address")

// SubmissionError 某一步骤失败
type SubmissionError struct {
	Step  Step
	Code  int    // 服务器返回的状态码，传输层错误时为 0
	Reply string // 服务器返回的文本
	Err   error
}

func (e *SubmissionError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("smtp %s failed: %d %s", e.Step, e.Code, e.Reply)
	}
	return fmt.Sprintf("smtp %s failed: %v", e.Step, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// FailedStep 返回错误对应的步骤
func FailedStep(err error) (Step, bool) {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se.Step, true
	}
	return "", false
}

// Message 一封发往单个收件人的纯文本邮件
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Sender 发送邮件，一次调用只发送一封邮件给一个收件人
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Options 发送配置，每次创建 Sender 时传入，不读取全局状态
type Options struct {
	Backend   string
	Host      string
	Port      int
	Username  string
	Password  string
	LocalName string // EHLO 使用的主机名，默认本机主机名
	StartTLS  bool
	TLSConfig *tls.Config
	Timeout   time.Duration
	Logger    *zap.Logger
}

// Addr 返回 host:port
func (o Options) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.LocalName == "" {
		o.LocalName = "localhost"
		if host, err := os.Hostname(); err == nil && host != "" {
			o.LocalName = host
		}
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if o.TLSConfig != nil {
		cfg = o.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = o.Host
	}
	o.TLSConfig = cfg
	return o
}

// New 按后端名称创建 Sender
func New(opts Options) (Sender, error) {
	opts = opts.withDefaults()
	switch strings.ToLower(opts.Backend) {
	case "", BackendNative:
		return &nativeSender{opts: opts, log: opts.Logger.With(zap.String("backend", BackendNative))}, nil
	case BackendGoSMTP:
		return &goSMTPSender{opts: opts, log: opts.Logger.With(zap.String("backend", BackendGoSMTP))}, nil
	default:
		return nil, fmt.Errorf("unknown submission backend %q", opts.Backend)
	}
}

// validateAddress 拒绝可能注入命令的地址
func validateAddress(step Step, addr string) error {
	if addr == "" || !strings.Contains(addr, "@") || strings.ContainsAny(addr, "\r\n<> ") {
		return &SubmissionError{Step: step, Err: fmt.Errorf("%w: %q", ErrInvalidAddress, addr)}
	}
	return nil
}

func (m Message) validate() error {
	if err := validateAddress(StepMailFrom, m.From); err != nil {
		return err
	}
	return validateAddress(StepRcptTo, m.To)
}

// render 生成邮件头和正文，行尾统一为 CRLF
func render(msg Message, now time.Time) string {
	domain := "localhost"
	if at := strings.LastIndexByte(msg.From, '@'); at >= 0 {
		domain = msg.From[at+1:]
	}
	subject := strings.NewReplacer("\r", " ", "\n", " ").Replace(msg.Subject)

	var b strings.Builder
	b.WriteString("From: " + msg.From + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Date: " + now.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("Message-ID: <" + uuid.NewString() + "@" + domain + ">\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")

	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\r\n")
	}
	return b.String()
}

// sessionDeadline 取 ctx 截止时间与超时中较早的一个
func sessionDeadline(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}
