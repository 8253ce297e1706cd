package proxy

import (
	"regexp"
	"strings"
)

// Title and meta extraction is targeted pattern matching, not HTML parsing.
// It is best-effort by design: a page that hides its title from these
// patterns simply yields no title.
var (
	titleRe    = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	metaCSPRe  = regexp.MustCompile(`(?is)<meta[^>]+http-equiv\s*=\s*["']?content-security-policy["']?[^>]*>`)
	contentRe  = regexp.MustCompile(`(?is)content\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	headOpenRe = regexp.MustCompile(`(?i)<head[^>]*>`)
	bodyEndRe  = regexp.MustCompile(`(?i)</body>`)
)

// entity decoding covers the five entities pages actually use in titles.
// "&amp;" is decoded last so "&amp;lt;" does not collapse twice.
var entityReplacer = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
)

// ExtractTitle returns the first <title> contents, entity-decoded and
// trimmed, or "" when the document has none.
func ExtractTitle(body string) string {
	m := titleRe.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(DecodeEntities(m[1]))
}

// ExtractMetaCSP returns the policy declared by a
// <meta http-equiv="Content-Security-Policy"> tag, or "" when absent. The
// content attribute is matched per quote style: a double-quoted policy may
// carry single-quoted sources like 'self' and vice versa.
func ExtractMetaCSP(body string) string {
	tag := metaCSPRe.FindString(body)
	if tag == "" {
		return ""
	}
	m := contentRe.FindStringSubmatch(tag)
	if m == nil {
		return ""
	}
	value := m[1]
	if value == "" {
		value = m[2]
	}
	return DecodeEntities(value)
}

func DecodeEntities(s string) string {
	s = entityReplacer.Replace(s)
	return strings.ReplaceAll(s, "&amp;", "&")
}

// IsHTML reports whether a Content-Type header denotes an HTML document.
func IsHTML(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/html")
}

// InjectHead inserts snippet immediately after the opening <head> tag,
// or prepends it to the document when no <head> exists. Everything outside
// the insertion point stays byte-identical.
func InjectHead(body, snippet string) string {
	loc := headOpenRe.FindStringIndex(body)
	if loc == nil {
		return snippet + body
	}
	return body[:loc[1]] + snippet + body[loc[1]:]
}

// InjectBody inserts snippet immediately before the closing </body> tag,
// or appends it when no </body> exists.
func InjectBody(body, snippet string) string {
	loc := bodyEndRe.FindStringIndex(body)
	if loc == nil {
		return body + snippet
	}
	return body[:loc[0]] + snippet + body[loc[0]:]
}
