package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/nextlevelbuilder/friendbot/internal/primitives"
)

const (
	defaultReadURLMaxChars = 50000
	defaultReadURLRedirect = 3
	readURLTimeout         = 30 * time.Second
	readURLUserAgent       = "Mozilla/5.0 (compatible; friendbot/1.0; +https://example.invalid/bot)"
)

// ReadURLConfig configures the safe-tier read_url tool.
type ReadURLConfig struct {
	MaxChars int
	SSRF     SSRFConfig
}

// NewReadURLTool builds the read_url tool definition: fetch a URL's text
// content with SSRF protection on the initial request and every redirect
// hop, converting HTML to markdown and wrapping the result the way the
// rest of the system marks externally sourced content.
func NewReadURLTool(cfg ReadURLConfig) ToolDef {
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = defaultReadURLMaxChars
	}

	return ToolDef{
		Name:        "read_url",
		Tier:        TierSafe,
		Effects:     []Effect{EffectNetwork},
		Description: "Fetch a URL and return its content as markdown or plain text. Refuses URLs that resolve to private or local network addresses.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "HTTP or HTTPS URL to fetch.",
				},
				"mode": map[string]any{
					"type":        "string",
					"description": `Extraction mode ("markdown" or "text"). Default: "markdown".`,
					"enum":        []string{"markdown", "text"},
				},
			},
			"required": []string{"url"},
		},
		TimeoutMs: 30_000,
		Execute: func(ctx context.Context, input map[string]any) (*Result, error) {
			rawURL, _ := input["url"].(string)
			if rawURL == "" {
				return ErrorResult("url is required"), nil
			}
			mode, _ := input["mode"].(string)
			if mode != "text" {
				mode = "markdown"
			}

			if err := checkSSRF(ctx, rawURL, cfg.SSRF); err != nil {
				return ErrorResult(err.Error()), nil
			}

			body, finalURL, status, contentType, err := fetchWithRedirectChecks(ctx, rawURL, cfg.SSRF)
			if err != nil {
				return ErrorResult(fmt.Sprintf("fetch failed: %v", err)), nil
			}

			text, extractor := extractBody(body, contentType, mode)
			truncated := false
			if len(text) > maxChars {
				text = text[:maxChars]
				truncated = true
			}

			var sb strings.Builder
			fmt.Fprintf(&sb, "URL: %s\nStatus: %d\nExtractor: %s\n", finalURL, status, extractor)
			if truncated {
				fmt.Fprintf(&sb, "Truncated: true (limit: %d chars)\n", maxChars)
			}
			sb.WriteString("\n")
			sb.WriteString(primitives.WrapExternalContent(finalURL, text))

			tokens := primitives.EstimateTokens(sb.String())
			return NewResult(sb.String()).withTokenHint(tokens), nil
		},
	}
}

// withTokenHint is a tiny convenience so the tool can report its own
// pre-budget size for logging; the executor still re-estimates and
// enforces the real per-turn budget.
func (r *Result) withTokenHint(tokens int) *Result {
	r.TokensUsed = tokens
	return r
}

func fetchWithRedirectChecks(ctx context.Context, rawURL string, ssrf SSRFConfig) (body []byte, finalURL string, status int, contentType string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", 0, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", readURLUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	client := &http.Client{
		Timeout: readURLTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= defaultReadURLRedirect {
				return fmt.Errorf("stopped after %d redirects", defaultReadURLRedirect)
			}
			return checkSSRF(req.Context(), req.URL.String(), ssrf)
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", 0, "", err
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, int64(defaultReadURLMaxChars)*4)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, "", 0, "", fmt.Errorf("read body: %w", err)
	}

	final := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return raw, final, resp.StatusCode, resp.Header.Get("Content-Type"), nil
}

func extractBody(body []byte, contentType, mode string) (text, extractor string) {
	switch {
	case strings.Contains(contentType, "application/json"), strings.Contains(contentType, "text/plain"):
		return string(body), "raw"
	case strings.Contains(contentType, "text/html"), strings.Contains(contentType, "application/xhtml"):
		if mode == "text" {
			return htmlToPlainText(body), "html-to-text"
		}
		converter := md.NewConverter("", true, nil)
		out, err := converter.ConvertString(string(body))
		if err != nil {
			return htmlToPlainText(body), "html-to-text-fallback"
		}
		return out, "html-to-markdown"
	default:
		return string(body), "raw"
	}
}

func htmlToPlainText(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return string(body)
	}
	doc.Find("script, style, noscript").Remove()
	text := doc.Text()
	return strings.Join(strings.Fields(text), " ")
}
