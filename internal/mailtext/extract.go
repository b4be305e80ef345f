package mailtext

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"github.com/emersion/go-message/textproto"
	"go.uber.org/zap"
)

// DefaultMaxLength 提取结果的最大字符数
const DefaultMaxLength = 500

// maxNesting 嵌套 multipart 的最大递归深度
const maxNesting = 8

// Extractor 从原始邮件中提取可读的正文
type Extractor struct {
	MaxLength int
	logger    *zap.Logger
}

// NewExtractor 创建正文提取器
func NewExtractor(log *zap.Logger) *Extractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{MaxLength: DefaultMaxLength, logger: log}
}

// Extract 解析整封邮件（头部 + 正文）并返回可读正文
// 头部无法解析时把整个输入当作正文
func (e *Extractor) Extract(raw []byte) string {
	br := bufio.NewReader(bytes.NewReader(raw))
	header, err := textproto.ReadHeader(br)
	if err != nil {
		e.logger.Debug("message header unreadable, treating input as body", zap.Error(err))
		return e.ExtractBody(string(raw), "", "")
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return e.ExtractBody(string(raw), "", "")
	}
	return e.ExtractBody(string(body), header.Get("Content-Type"), header.Get("Content-Transfer-Encoding"))
}

// ExtractBody 按声明的 Content-Type 和传输编码提取正文
//
// 优先级：
//  1. multipart 中第一个 text/plain 部分（递归进入嵌套 multipart，跳过附件）
//  2. text/html 部分或带有 HTML 块标记的正文，去除标签
//  3. 按单部分正文解码
//
// 结果去除首尾空白并截断到 MaxLength 个字符。从不返回错误，解析失败时回退为原始文本。
func (e *Extractor) ExtractBody(body, contentType, transferEncoding string) string {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, params = "", map[string]string{}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			boundary = detectBoundary(body)
		}
		if boundary != "" {
			var found parts
			e.scanParts(strings.NewReader(body), boundary, &found, 0)
			if found.plain != nil {
				return e.finish(*found.plain)
			}
			if found.html != nil {
				return e.finish(HTMLToText(*found.html))
			}
		}
		e.logger.Debug("no readable part in multipart body, using raw text",
			zap.String("boundary", boundary))
	}

	text := e.decode(body, transferEncoding, params["charset"])
	if mediaType == "text/html" || LooksLikeHTML(text) {
		text = HTMLToText(text)
	}
	return e.finish(text)
}

// parts 扫描 multipart 时记录的候选正文
type parts struct {
	plain *string
	html  *string
}

// scanParts 递归扫描 multipart 的各个部分，找到 text/plain 后立即停止
func (e *Extractor) scanParts(r io.Reader, boundary string, found *parts, depth int) {
	mr := multipart.NewReader(r, boundary)
	for found.plain == nil {
		// NextRawPart 不会自动解码 quoted-printable，解码统一由 decode 完成
		part, err := mr.NextRawPart()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			e.logger.Debug("multipart scan stopped", zap.Error(err))
			return
		}

		mediaType, params, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err != nil {
			mediaType = "text/plain"
		}
		if isAttachment(part.Header.Get("Content-Disposition")) {
			continue
		}

		switch {
		case strings.HasPrefix(mediaType, "multipart/"):
			if depth < maxNesting && params["boundary"] != "" {
				e.scanParts(part, params["boundary"], found, depth+1)
			}
		case mediaType == "text/plain":
			text := e.readPart(part, params["charset"])
			found.plain = &text
		case mediaType == "text/html" && found.html == nil:
			text := e.readPart(part, params["charset"])
			found.html = &text
		}
	}
}

func (e *Extractor) readPart(part *multipart.Part, charset string) string {
	raw, err := io.ReadAll(part)
	if err != nil && len(raw) == 0 {
		e.logger.Debug("read multipart part failed", zap.Error(err))
		return ""
	}
	return e.decode(string(raw), part.Header.Get("Content-Transfer-Encoding"), charset)
}

// decode 解码传输编码和字符集，传输编码错误时回退为原始文本
func (e *Extractor) decode(body, transferEncoding, charset string) string {
	decoded, err := DecodeTransfer(body, transferEncoding)
	if err != nil {
		e.logger.Debug("body decode failed, using raw text",
			zap.String("encoding", transferEncoding),
			zap.Error(err),
		)
		return body
	}
	return normalizePunctuation(DecodeCharset(decoded, charset))
}

// finish 去除首尾空白并按字符数截断
func (e *Extractor) finish(text string) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	limit := e.MaxLength
	if limit <= 0 {
		limit = DefaultMaxLength
	}
	runes := []rune(text)
	if len(runes) > limit {
		text = strings.TrimSpace(string(runes[:limit]))
	}
	return text
}

// detectBoundary 在缺少 boundary 参数时从正文中找第一行 "--token"
func detectBoundary(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r \t")
		if strings.HasPrefix(line, "--") && len(line) > 2 {
			return strings.TrimSuffix(line[2:], "--")
		}
	}
	return ""
}

func isAttachment(disposition string) bool {
	if disposition == "" {
		return false
	}
	dispType, _, err := mime.ParseMediaType(disposition)
	return err == nil && dispType == "attachment"
}
