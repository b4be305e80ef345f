package mailbox

import (
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"ticketmail/backend/internal/mailtext"
)

// 响应数据的值：string（atom、quoted、literal）、nil（NIL）或 []any（括号列表）

var errUnexpectedEnd = errors.New("unexpected end of response")

type parser struct {
	s   string
	pos int
}

func (p *parser) skipSpaces() {
	for p.pos < len(p.s) && p.s[p.pos] == ' ' {
		p.pos++
	}
}

func (p *parser) value() (any, error) {
	p.skipSpaces()
	if p.pos >= len(p.s) {
		return nil, errUnexpectedEnd
	}
	switch p.s[p.pos] {
	case '(':
		p.pos++
		var list []any
		for {
			p.skipSpaces()
			if p.pos >= len(p.s) {
				return nil, errUnexpectedEnd
			}
			if p.s[p.pos] == ')' {
				p.pos++
				return list, nil
			}
			v, err := p.value()
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
	case '"':
		return p.quoted()
	case '{':
		return p.literal()
	default:
		atom := p.atom()
		if atom == "" {
			return nil, fmt.Errorf("unexpected %q at offset %d", p.s[p.pos], p.pos)
		}
		if strings.EqualFold(atom, "NIL") {
			return nil, nil
		}
		return atom, nil
	}
}

func (p *parser) quoted() (string, error) {
	p.pos++ // 开头的引号
	var sb strings.Builder
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		switch c {
		case '\\':
			if p.pos+1 >= len(p.s) {
				return "", errUnexpectedEnd
			}
			sb.WriteByte(p.s[p.pos+1])
			p.pos += 2
		case '"':
			p.pos++
			return sb.String(), nil
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
	return "", errUnexpectedEnd
}

// literal 解析 {n}\r\n 后跟 n 个字节
func (p *parser) literal() (string, error) {
	end := strings.IndexByte(p.s[p.pos:], '}')
	if end < 0 {
		return "", errUnexpectedEnd
	}
	n, err := strconv.Atoi(strings.TrimSuffix(p.s[p.pos+1:p.pos+end], "+"))
	if err != nil {
		return "", fmt.Errorf("invalid literal size: %w", err)
	}
	p.pos += end + 1
	if strings.HasPrefix(p.s[p.pos:], "\r\n") {
		p.pos += 2
	} else if strings.HasPrefix(p.s[p.pos:], "\n") {
		p.pos++
	}
	if p.pos+n > len(p.s) {
		return "", errUnexpectedEnd
	}
	v := p.s[p.pos : p.pos+n]
	p.pos += n
	return v, nil
}

// atom 读取到空白或括号为止，方括号内的内容（如 BODY[HEADER.FIELDS (A B)]）整体保留
func (p *parser) atom() string {
	start := p.pos
	depth := 0
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		switch {
		case c == '[':
			depth++
		case c == ']' && depth > 0:
			depth--
		case depth == 0 && (c == ' ' || c == '(' || c == ')' || c == '\r' || c == '\n'):
			return p.s[start:p.pos]
		}
		p.pos++
	}
	return p.s[start:]
}

// parseFetch 解析 "* n FETCH (...)" 中括号部分的数据项
func parseFetch(seqNum uint32, data string) (*Message, error) {
	p := &parser{s: data}
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("FETCH data is not a list")
	}

	msg := &Message{SeqNum: seqNum}
	for i := 0; i+1 < len(items); i += 2 {
		key, _ := items[i].(string)
		key = strings.ToUpper(key)
		val := items[i+1]
		switch {
		case key == "UID":
			s, _ := val.(string)
			uid, err := strconv.ParseUint(s, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid UID %q", s)
			}
			msg.UID = uint32(uid)
		case key == "FLAGS":
			flags, _ := val.([]any)
			for _, f := range flags {
				if s, _ := f.(string); strings.EqualFold(s, `\Seen`) {
					msg.Seen = true
				}
			}
		case key == "ENVELOPE":
			env, _ := val.([]any)
			applyEnvelope(msg, env)
		case key == "BODY[]" || key == "RFC822":
			s, _ := val.(string)
			msg.Raw = []byte(s)
		}
	}
	return msg, nil
}

// applyEnvelope 按 RFC 3501 的字段顺序读取：
// date, subject, from, sender, reply-to, to, cc, bcc, in-reply-to, message-id
func applyEnvelope(msg *Message, env []any) {
	str := func(i int) string {
		if i < len(env) {
			s, _ := env[i].(string)
			return s
		}
		return ""
	}
	if d, err := mail.ParseDate(str(0)); err == nil {
		msg.Date = d.UTC()
	}
	msg.Subject = mailtext.DecodeHeader(str(1))
	if len(env) > 2 {
		if addrs, ok := env[2].([]any); ok && len(addrs) > 0 {
			if a, ok := addrs[0].([]any); ok && len(a) >= 4 {
				name, _ := a[0].(string)
				mbox, _ := a[2].(string)
				host, _ := a[3].(string)
				msg.From = formatAddress(mailtext.DecodeHeader(name), mbox, host)
			}
		}
	}
	msg.MessageID = str(9)
}

// quoteString 生成 IMAP quoted string
func quoteString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// needsLiteral 含有 8 位字符或换行的参数只能以 literal 发送
func needsLiteral(s string) bool {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= 0x80 || c == '\r' || c == '\n' || c == 0 {
			return true
		}
	}
	return false
}

// imapDate SEARCH 使用的日期格式，例如 2-Jan-2006
func imapDate(t time.Time) string {
	return t.Format("2-Jan-2006")
}
