package mailtext

import (
	"encoding/base64"
	"regexp"
	"strings"
	"unicode/utf8"

	htmlcharset "golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/charmap"
)

// softBreak 匹配 quoted-printable 软换行，允许 "=" 与换行之间残留的行尾空白
var softBreak = regexp.MustCompile(`=[ \t]*\r?\n`)

// punctuation 把被按 Latin-1 / Windows-1252 误读的常见 UTF-8 标点还原为原字符
var punctuation = strings.NewReplacer(
	"â\u0080\u0098", "‘", "â€˜", "‘",
	"â\u0080\u0099", "’", "â€™", "’",
	"â\u0080\u009c", "“", "â€œ", "“",
	"â\u0080\u009d", "”", "â€\u009d", "”",
	"â\u0080\u0093", "–", "â€“", "–",
	"â\u0080\u0094", "—", "â€”", "—",
	"â\u0080¯", "\u202f", "â€¯", "\u202f",
	"Â\u00a0", "\u00a0",
)

// DecodeQuotedPrintable 解码 quoted-printable 文本
//
// 去除软换行，将合法的 =XX 转义还原为字节，非法转义原样保留。
// 字节序列按 UTF-8 解释，无法解释的字节按 Latin-1 读取，
// 最后把常见的乱码标点（引号、破折号、不换行空格）还原为字面字符。
// 对不含 =XX 残留的已解码文本是幂等的。
func DecodeQuotedPrintable(s string) string {
	return normalizePunctuation(bytesToText(decodeQPBytes(s)))
}

func decodeQPBytes(s string) []byte {
	s = softBreak.ReplaceAllString(s, "")
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '=' && i+2 < len(s) {
			hi, okHi := unhex(s[i+1])
			lo, okLo := unhex(s[i+2])
			if okHi && okLo {
				out = append(out, hi<<4|lo)
				i += 2
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// EncodeQuotedPrintable 把任意字节编码为 quoted-printable
// 可打印 ASCII（"=" 除外）、空格、TAB、CR、LF 原样输出，其余字节编码为大写 =XX，不折行。
// 任意字节 b 满足 DecodeTransfer(EncodeQuotedPrintable(b), "quoted-printable") == b；
// 经 DecodeQuotedPrintable 的文本往返只对合法 UTF-8 成立。
func EncodeQuotedPrintable(b []byte) string {
	const hexDigits = "0123456789ABCDEF"
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		switch {
		case c == '\r' || c == '\n' || c == '\t' || c == ' ':
			sb.WriteByte(c)
		case c >= '!' && c <= '~' && c != '=':
			sb.WriteByte(c)
		default:
			sb.WriteByte('=')
			sb.WriteByte(hexDigits[c>>4])
			sb.WriteByte(hexDigits[c&0x0f])
		}
	}
	return sb.String()
}

// DecodeBase64 解码标准 base64（带填充），忽略其中的空白和换行
func DecodeBase64(s string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
	out, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, &DecodeError{Encoding: "base64", Err: err}
	}
	return out, nil
}

// DecodeTransfer 按 Content-Transfer-Encoding 解码正文，返回原始字节
// 未知编码按原样返回。quoted-printable 解码是 EncodeQuotedPrintable 的字节级逆运算。
func DecodeTransfer(body, transferEncoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "base64":
		return DecodeBase64(body)
	case "quoted-printable":
		return decodeQPBytes(body), nil
	default:
		return []byte(body), nil
	}
}

// DecodeCharset 把指定字符集的字节转换为 UTF-8 文本
// 空标签或无法识别的字符集按 UTF-8 解释，非法字节按 Latin-1 读取
func DecodeCharset(b []byte, label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	switch label {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return bytesToText(b)
	}

	enc, _ := htmlcharset.Lookup(label)
	if enc == nil {
		return bytesToText(b)
	}
	converted, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return bytesToText(b)
	}
	return string(converted)
}

// bytesToText 合法 UTF-8 直接返回，否则逐个字符解码并把非法字节按 Latin-1 映射
func bytesToText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			r = charmap.ISO8859_1.DecodeByte(b[0])
		}
		sb.WriteRune(r)
		b = b[size:]
	}
	return sb.String()
}

func normalizePunctuation(s string) string {
	return punctuation.Replace(s)
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}
