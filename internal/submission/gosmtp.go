package submission

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"ticketmail/backend/internal/netutil"
)

// goSMTPSender 基于 emersion/go-smtp 客户端
//
// 库在第一条命令时才读取问候，因此问候被拒绝时报告的步骤是 EHLO 而不是 greeting。
// 启用 STARTTLS 时，TLS 之前的问候、EHLO 和 STARTTLS 由 NewClientStartTLS 一并完成，
// 其中任何一步失败都报告为 STARTTLS 步骤，且 TLS 之前的 EHLO 使用库默认的主机名 localhost。
type goSMTPSender struct {
	opts Options
	log  *zap.Logger
}

func (s *goSMTPSender) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}

	dialer := &net.Dialer{Timeout: s.opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.opts.Addr())
	if err != nil {
		return &SubmissionError{Step: StepConnect, Err: err}
	}
	// go-smtp 每条命令都会重设连接超时，上限保证整个会话不超过 Timeout
	limited := netutil.NewDeadlineConn(conn)
	limited.SetLimit(sessionDeadline(ctx, s.opts.Timeout))

	client, err := s.newClient(limited)
	if err != nil {
		return err
	}
	defer client.Close()

	if s.opts.Username != "" {
		auth := sasl.NewPlainClient("", s.opts.Username, s.opts.Password)
		if err := client.Auth(auth); err != nil {
			return wrapSMTP(StepAuth, err)
		}
	}

	if err := client.Mail(msg.From, nil); err != nil {
		return wrapSMTP(StepMailFrom, err)
	}
	if err := client.Rcpt(msg.To, nil); err != nil {
		return wrapSMTP(StepRcptTo, err)
	}

	wc, err := client.Data()
	if err != nil {
		return wrapSMTP(StepData, err)
	}
	body := render(msg, time.Now())
	if _, err := wc.Write([]byte(body)); err != nil {
		_ = wc.Close()
		return wrapSMTP(StepMessageBody, err)
	}
	if err := wc.Close(); err != nil {
		return wrapSMTP(StepMessageBody, err)
	}

	if err := client.Quit(); err != nil {
		s.log.Debug("quit failed after delivery", zap.Error(err))
	}
	return nil
}

// newClient 建立 SMTP 会话并完成 EHLO（需要时先完成 STARTTLS）
func (s *goSMTPSender) newClient(conn net.Conn) (*gosmtp.Client, error) {
	if !s.opts.StartTLS {
		client := gosmtp.NewClient(conn)
		s.applyTimeouts(client)
		if err := client.Hello(s.opts.LocalName); err != nil {
			client.Close()
			return nil, wrapSMTP(StepEHLO, err)
		}
		return client, nil
	}

	client, err := gosmtp.NewClientStartTLS(conn, s.opts.TLSConfig)
	if err != nil {
		_ = conn.Close()
		return nil, wrapSMTP(StepStartTLS, err)
	}
	s.applyTimeouts(client)
	// TLS 握手在升级后的第一次写入时发生
	if err := client.Hello(s.opts.LocalName); err != nil {
		step := StepEHLOAfterTLS
		if state, ok := client.TLSConnectionState(); ok && !state.HandshakeComplete {
			step = StepStartTLS
		}
		client.Close()
		return nil, wrapSMTP(step, err)
	}
	return client, nil
}

func (s *goSMTPSender) applyTimeouts(client *gosmtp.Client) {
	client.CommandTimeout = s.opts.Timeout
	client.SubmissionTimeout = s.opts.Timeout
}

// wrapSMTP 把 go-smtp 的错误转换为 SubmissionError
func wrapSMTP(step Step, err error) error {
	var smtpErr *gosmtp.SMTPError
	if errors.As(err, &smtpErr) {
		return &SubmissionError{Step: step, Code: smtpErr.Code, Reply: strings.TrimSpace(smtpErr.Message)}
	}
	return &SubmissionError{Step: step, Err: err}
}
