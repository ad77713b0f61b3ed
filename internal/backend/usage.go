package backend

import (
	"encoding/base64"
	"regexp"
)

var txHashPattern = regexp.MustCompile(`0x[0-9a-fA-F]{64}`)

// base64CandidatePattern finds runs that look like base64 payloads worth
// trying to decode when scanning for a nested payment hash.
var base64CandidatePattern = regexp.MustCompile(`[A-Za-z0-9+/]{40,}={0,2}`)

// ScanPaymentTxHash best-effort scans text for a hex-encoded 32-byte
// transaction hash (0x followed by 64 hex digits), including ones nested
// inside base64-encoded payloads up to depth 5.
func ScanPaymentTxHash(text string) string {
	return scanTxHashDepth(text, 5)
}

func scanTxHashDepth(text string, depth int) string {
	if m := txHashPattern.FindString(text); m != "" {
		return m
	}
	if depth <= 0 {
		return ""
	}
	for _, candidate := range base64CandidatePattern.FindAllString(text, -1) {
		decoded, err := base64.StdEncoding.DecodeString(candidate)
		if err != nil {
			continue
		}
		if hash := scanTxHashDepth(string(decoded), depth-1); hash != "" {
			return hash
		}
	}
	return ""
}

// NormalizeUsage builds a Usage from provider-agnostic token counts. Each
// concrete backend maps its own response shape into these fields; this
// helper just applies the shared cost/tx-hash post-processing.
func NormalizeUsage(inputTokens, outputTokens, reasoningTokens, cacheCreation, cacheRead int, costUSD float64, rawPayload string) Usage {
	return Usage{
		InputTokens:         inputTokens,
		OutputTokens:        outputTokens,
		ReasoningTokens:     reasoningTokens,
		CacheCreationTokens: cacheCreation,
		CacheReadTokens:     cacheRead,
		CostUSD:             costUSD,
		PaymentTxHash:       ScanPaymentTxHash(rawPayload),
	}
}
