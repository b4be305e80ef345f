package mailtext

import (
	"errors"
	"fmt"
)

// DecodeError 表示内容编码格式错误（base64 字母表或填充不合法等）
// 只影响单封邮件，调用方应回退为原始文本
type DecodeError struct {
	Encoding string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Encoding, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError 判断错误是否为内容解码错误
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
