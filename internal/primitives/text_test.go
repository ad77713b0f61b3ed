package primitives

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens_EmptyString(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
}

func TestEstimateTokens_Monotonic(t *testing.T) {
	short := EstimateTokens("hello")
	long := EstimateTokens(strings.Repeat("hello world ", 50))
	assert.Greater(t, long, short)
}

func TestWrapExternal_EscapesAttributeAndBody(t *testing.T) {
	out := WrapExternal(`title"<injected>`, "body <script>alert(1)</script> & more")

	assert.True(t, strings.HasPrefix(out, `<external title="`))
	assert.True(t, strings.HasSuffix(out, `</external>`))
	assert.NotContains(t, out, `"<injected>`)
	assert.Contains(t, out, "&quot;")
	assert.Contains(t, out, "&lt;script&gt;")
	assert.Contains(t, out, "&amp; more")
}

func TestWrapExternalContent_IncludesURL(t *testing.T) {
	out := WrapExternalContent("https://example.com/a?b=1&c=2", "hello <b>world</b>")

	assert.Contains(t, out, `source="external"`)
	assert.Contains(t, out, "&amp;c=2")
	assert.Contains(t, out, "&lt;b&gt;world&lt;/b&gt;")
}
