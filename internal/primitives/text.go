package primitives

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// charsPerTokenFallback is the crude heuristic used when the tiktoken
// encoding table can't be loaded (offline build, unknown model family).
const charsPerTokenFallback = 3.3

var fallbackEncoding, _ = tiktoken.GetEncoding("cl100k_base")

// EstimateTokens approximates the token count of s. It prefers a real BPE
// tokenization via cl100k_base when available, falling back to a
// chars-per-token heuristic so callers never hard-fail on an estimate.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	if fallbackEncoding != nil {
		return len(fallbackEncoding.Encode(s, nil, nil))
	}
	return int(float64(len([]rune(s)))/charsPerTokenFallback) + 1
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

var xmlAttrEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

// WrapExternal wraps untrusted tool output in an <external> tag so the
// model can distinguish it from instructions in its own context. title goes
// into an escaped attribute; body is escaped as element text. Neither value
// can break out of the tag no matter what the source content contains.
func WrapExternal(title, body string) string {
	var b strings.Builder
	b.WriteString(`<external title="`)
	b.WriteString(xmlAttrEscaper.Replace(title))
	b.WriteString(`">`)
	b.WriteString(xmlEscaper.Replace(body))
	b.WriteString(`</external>`)
	return b.String()
}

// WrapExternalContent wraps fetched web content, tagging it with its
// source URL so downstream sanitization and the model's own judgment can
// weigh it accordingly.
func WrapExternalContent(url, body string) string {
	var b strings.Builder
	b.WriteString(`<web_content source="external" url="`)
	b.WriteString(xmlAttrEscaper.Replace(url))
	b.WriteString(`">`)
	b.WriteString(xmlEscaper.Replace(body))
	b.WriteString(`</web_content>`)
	return b.String()
}
