package mailbox

import (
	"errors"
	"fmt"
)

// ConnectionError 传输层错误（拨号、读写、超时），调用方可以重试
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mailbox connection %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthError 登录被拒绝，需要人工处理凭据后才能重试
// 错误中不包含用户名和密码
type AuthError struct {
	Reply string
	Err   error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mailbox authentication failed: %v", e.Err)
	}
	return fmt.Sprintf("mailbox authentication failed: %s", e.Reply)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ProtocolError 服务器返回了非预期的响应，或者命令在错误的状态下调用
type ProtocolError struct {
	Command string
	Status  string // NO / BAD，状态错误时为空
	Reply   string
	Err     error
}

func (e *ProtocolError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("mailbox %s failed: %v", e.Command, e.Err)
	case e.Status != "":
		return fmt.Sprintf("mailbox %s failed: %s %s", e.Command, e.Status, e.Reply)
	default:
		return fmt.Sprintf("mailbox %s failed: %s", e.Command, e.Reply)
	}
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsRetryable 只有传输层错误可以直接重试
func IsRetryable(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

func stateError(command string, have State, want ...State) error {
	return &ProtocolError{
		Command: command,
		Reply:   fmt.Sprintf("invalid in state %s (want %v)", have, want),
	}
}
