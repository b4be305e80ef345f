package mailtext

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// htmlMarker 判断文本是否像 HTML 正文
var htmlMarker = regexp.MustCompile(`(?i)<(html|body|div|p|br|table)[\s>/]`)

var blockTags = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Blockquote: true, atom.Div: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Hr: true, atom.Li: true, atom.Ol: true, atom.P: true, atom.Pre: true,
	atom.Section: true, atom.Table: true, atom.Td: true, atom.Th: true, atom.Tr: true, atom.Ul: true,
}

// hidden 内容不可见的元素
var hidden = map[atom.Atom]bool{
	atom.Head: true, atom.Script: true, atom.Style: true, atom.Title: true, atom.Template: true,
}

// LooksLikeHTML 判断正文中是否包含 HTML 块级标记
func LooksLikeHTML(s string) bool {
	return htmlMarker.MatchString(s)
}

// HTMLToText 取第一个 body/div/p 块的内部文本并去除标签
//
// 块级元素和 <br> 转换为换行，连续空白折叠为一个空格。
// 找不到这样的块时返回整个文档中可见的文本。
func HTMLToText(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))

	var all, block strings.Builder
	var root atom.Atom
	depth, skip := 0, 0
	started, done := false, false

	write := func(text string) {
		all.WriteString(text)
		if started && !done {
			block.WriteString(text)
		}
	}

	for !done {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF 或不完整的文档，已读取的部分照常使用
			done = true
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if hidden[a] && tt == html.StartTagToken {
				skip++
				continue
			}
			if tt == html.StartTagToken && (a == atom.Body || a == atom.Div || a == atom.P) {
				if !started {
					started, root, depth = true, a, 1
					continue
				}
				if a == root {
					depth++
				}
			}
			if a == atom.Br || blockTags[a] {
				write("\n")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if hidden[a] {
				if skip > 0 {
					skip--
				}
				continue
			}
			if started && a == root {
				depth--
				if depth == 0 {
					done = true
					continue
				}
			}
			if blockTags[a] {
				write("\n")
			}
		case html.TextToken:
			if skip == 0 {
				write(string(z.Text()))
			}
		}
	}

	text := all.String()
	if started {
		text = block.String()
	}
	return collapseWhitespace(text)
}

// collapseWhitespace 逐行折叠空白并去掉空行
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if fields := strings.Fields(line); len(fields) > 0 {
			out = append(out, strings.Join(fields, " "))
		}
	}
	return strings.Join(out, "\n")
}
