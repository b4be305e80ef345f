package submission

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"net"
	"net/textproto"
	"time"

	"go.uber.org/zap"
)

// nativeSender 手写的 SMTP 命令序列
type nativeSender struct {
	opts Options
	log  *zap.Logger
}

// session 一次发送会话，text 在 STARTTLS 后替换为加密连接
type session struct {
	text *textproto.Conn
}

func (s *nativeSender) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}

	dialer := &net.Dialer{Timeout: s.opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.opts.Addr())
	if err != nil {
		return &SubmissionError{Step: StepConnect, Err: err}
	}
	_ = conn.SetDeadline(sessionDeadline(ctx, s.opts.Timeout))

	sess := &session{text: textproto.NewConn(conn)}
	defer sess.close()

	if err := sess.expect(StepGreeting, 220); err != nil {
		return err
	}
	if err := sess.cmd(StepEHLO, 250, "EHLO %s", s.opts.LocalName); err != nil {
		return err
	}

	if s.opts.StartTLS {
		if err := sess.cmd(StepStartTLS, 220, "STARTTLS"); err != nil {
			return err
		}
		tlsConn := tls.Client(conn, s.opts.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return &SubmissionError{Step: StepStartTLS, Err: err}
		}
		sess.text = textproto.NewConn(tlsConn)
		if err := sess.cmd(StepEHLOAfterTLS, 250, "EHLO %s", s.opts.LocalName); err != nil {
			return err
		}
	}

	if s.opts.Username != "" {
		token := base64.StdEncoding.EncodeToString([]byte("\x00" + s.opts.Username + "\x00" + s.opts.Password))
		if err := sess.cmd(StepAuth, 235, "AUTH PLAIN %s", token); err != nil {
			return err
		}
	}

	if err := sess.cmd(StepMailFrom, 250, "MAIL FROM:<%s>", msg.From); err != nil {
		return err
	}
	// 250 或 251 都表示接受
	if err := sess.cmd(StepRcptTo, 25, "RCPT TO:<%s>", msg.To); err != nil {
		return err
	}
	if err := sess.cmd(StepData, 354, "DATA"); err != nil {
		return err
	}

	dw := sess.text.DotWriter()
	if _, err := dw.Write([]byte(render(msg, time.Now()))); err != nil {
		_ = dw.Close()
		return &SubmissionError{Step: StepMessageBody, Err: err}
	}
	if err := dw.Close(); err != nil {
		return &SubmissionError{Step: StepMessageBody, Err: err}
	}
	if err := sess.expect(StepMessageBody, 250); err != nil {
		return err
	}

	if err := sess.cmd("QUIT", 221, "QUIT"); err != nil {
		s.log.Debug("quit failed after delivery", zap.Error(err))
	}
	return nil
}

// cmd 发送一条命令并校验响应码（两位数表示前缀匹配）
func (s *session) cmd(step Step, expectCode int, format string, args ...any) error {
	id, err := s.text.Cmd(format, args...)
	if err != nil {
		return &SubmissionError{Step: step, Err: err}
	}
	s.text.StartResponse(id)
	defer s.text.EndResponse(id)
	return s.read(step, expectCode)
}

func (s *session) expect(step Step, expectCode int) error {
	return s.read(step, expectCode)
}

func (s *session) read(step Step, expectCode int) error {
	_, _, err := s.text.ReadResponse(expectCode)
	if err == nil {
		return nil
	}
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return &SubmissionError{Step: step, Code: protoErr.Code, Reply: protoErr.Msg}
	}
	return &SubmissionError{Step: step, Err: err}
}

// close 无论成功与否都关闭连接
func (s *session) close() {
	_ = s.text.Close()
}
