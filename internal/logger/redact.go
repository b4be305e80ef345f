package logger

import (
	"strings"

	"go.uber.org/zap"
)

// MaskEmail 遮盖邮箱地址，保留每段的首尾字符，例如 alice@example.com -> a***e@e*****e.c*m
// 非邮箱格式的字符串原样返回
func MaskEmail(s string) string {
	s = strings.TrimSpace(s)
	at := strings.LastIndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return s
	}
	mask := func(part string) string {
		if len(part) <= 2 {
			return strings.Repeat("*", len(part))
		}
		return part[:1] + strings.Repeat("*", len(part)-2) + part[len(part)-1:]
	}
	domain := strings.Split(s[at+1:], ".")
	for i, p := range domain {
		domain[i] = mask(p)
	}
	return mask(s[:at]) + "@" + strings.Join(domain, ".")
}

// credentialVerbs 包含凭据的协议命令，出现时整行替换
var credentialVerbs = []string{" LOGIN ", " AUTHENTICATE ", "AUTH PLAIN", "AUTH LOGIN"}

// RedactLine 返回适合写入日志的协议行，携带凭据的命令只保留命令名
func RedactLine(line string) string {
	line = strings.TrimRight(line, "\r\n")
	upper := strings.ToUpper(line)
	for _, verb := range credentialVerbs {
		if idx := strings.Index(upper, verb); idx >= 0 {
			return strings.TrimRight(line[:idx+len(verb)], " ") + " [redacted]"
		}
	}
	return line
}

// RedactingWriter 把协议调试输出按行写入 zap 的 debug 级别日志，凭据被遮盖
// 可作为 go-imap 的 DebugWriter 使用
type RedactingWriter struct {
	logger    *zap.Logger
	direction string
}

// NewRedactingWriter 创建协议调试输出写入器
func NewRedactingWriter(log *zap.Logger, direction string) *RedactingWriter {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedactingWriter{logger: log, direction: direction}
}

// Write 实现 io.Writer，始终报告写入成功
func (w *RedactingWriter) Write(p []byte) (int, error) {
	if !w.logger.Core().Enabled(zap.DebugLevel) {
		return len(p), nil
	}
	for _, line := range strings.Split(string(p), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		w.logger.Debug("protocol trace",
			zap.String("direction", w.direction),
			zap.String("line", RedactLine(line)),
		)
	}
	return len(p), nil
}
