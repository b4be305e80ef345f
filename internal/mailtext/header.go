package mailtext

import (
	"mime"
	"strings"

	"github.com/emersion/go-message/charset"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// DecodeHeader 解码 RFC 2047 编码的头部值（Subject、From 等），失败时返回原值
func DecodeHeader(v string) string {
	decoded, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return strings.TrimSpace(decoded)
}
