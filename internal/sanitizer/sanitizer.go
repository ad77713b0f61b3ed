// Package sanitizer scans untrusted text for prompt-injection patterns
// before it is wrapped as external content and handed to the model. It is
// the boundary enforcement referred to by the context builder and the
// read_url tool: nothing untrusted reaches the prompt without passing
// through Scan first.
package sanitizer

import (
	"regexp"
	"sort"
)

// Severity classifies how dangerous a matched pattern is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Finding is one matched span of suspicious text.
type Finding struct {
	Severity Severity
	Category string
	Start    int
	End      int
	Match    string
}

type pattern struct {
	severity Severity
	category string
	re       *regexp.Regexp
}

var patterns = []pattern{
	{SeverityCritical, "ignore_instructions", regexp.MustCompile(`(?i)ignore\s+(?:all\s+)?(?:the\s+)?previous\s+instructions`)},
	{SeverityCritical, "forget_context", regexp.MustCompile(`(?i)forget\s+everything\s+(?:above|before)`)},
	{SeverityCritical, "system_override", regexp.MustCompile(`(?i)system\s*:\s*override`)},
	{SeverityCritical, "new_instructions", regexp.MustCompile(`(?i)new\s+instructions\s+are`)},
	{SeverityCritical, "disregard_previous", regexp.MustCompile(`(?i)do\s+not\s+follow\s+(?:the\s+)?previous`)},

	{SeverityHigh, "persona_override", regexp.MustCompile(`(?i)you\s+are\s+now\s+(?:a|an)?\s*\w+`)},
	{SeverityHigh, "persona_override", regexp.MustCompile(`(?i)pretend\s+(?:to\s+be|you\s+are)`)},
	{SeverityHigh, "jailbreak_token", regexp.MustCompile(`\[INST\]|<<sys>>|<\|im_start\|>`)},
	{SeverityHigh, "role_delimiter", regexp.MustCompile(`(?im)^\s*(?:Human|Assistant|System)\s*:`)},
	{SeverityHigh, "prompt_leak", regexp.MustCompile(`(?i)(?:reveal|print|show|repeat)\s+(?:your|the)\s+(?:system\s+)?prompt`)},

	{SeverityMedium, "safety_bypass", regexp.MustCompile(`(?i)ignore\s+(?:safety|filters?|guidelines?)`)},
	{SeverityMedium, "privileged_mode", regexp.MustCompile(`(?i)(?:developer|god|sudo)\s+mode`)},
	{SeverityMedium, "decode_payload", regexp.MustCompile(`(?i)decode\s+(?:this\s+)?base64`)},
}

// invisibleRunPattern flags three or more consecutive invisible/formatting
// characters, a common steganographic injection carrier.
var invisibleRunPattern = regexp.MustCompile(`[\x{00AD}\x{200B}-\x{200F}\x{2060}\x{FEFF}]{3,}`)

// Policy decides which severities get stripped, flagged, or ignored. The
// default policy strips critical and high findings, records medium findings
// without removing them, and leaves low findings untouched.
type Policy struct {
	Strip []Severity
	Flag  []Severity
	// MaxLen caps the sanitized output length; 0 means unlimited.
	MaxLen int
}

// DefaultPolicy strips critical and high severity matches, flags medium,
// and leaves low-severity findings (the occasional stray invisible
// character) alone.
func DefaultPolicy() Policy {
	return Policy{
		Strip: []Severity{SeverityCritical, SeverityHigh},
		Flag:  []Severity{SeverityMedium},
	}
}

// Result is the outcome of scanning and sanitizing one block of text.
type Result struct {
	Sanitized string
	Findings  []Finding
}

// Scan finds every pattern match in text without modifying it.
func Scan(text string) []Finding {
	var findings []Finding
	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			findings = append(findings, Finding{
				Severity: p.severity,
				Category: p.category,
				Start:    loc[0],
				End:      loc[1],
				Match:    text[loc[0]:loc[1]],
			})
		}
	}
	for _, loc := range invisibleRunPattern.FindAllStringIndex(text, -1) {
		findings = append(findings, Finding{
			Severity: SeverityLow,
			Category: "invisible_run",
			Start:    loc[0],
			End:      loc[1],
			Match:    text[loc[0]:loc[1]],
		})
	}
	sort.Slice(findings, func(i, j int) bool { return findings[i].Start < findings[j].Start })
	return findings
}

// Sanitize scans text and replaces every span whose severity is in
// policy.Strip with "[content removed]", merging overlapping or adjacent
// spans left to right so a single replacement never leaves a partial tag
// behind. Findings of every severity (not just stripped ones) are returned
// so callers can log what was flagged.
func Sanitize(text string, policy Policy) Result {
	findings := Scan(text)
	stripSet := make(map[Severity]bool, len(policy.Strip))
	for _, s := range policy.Strip {
		stripSet[s] = true
	}

	var spans [][2]int
	for _, f := range findings {
		if stripSet[f.Severity] {
			spans = append(spans, [2]int{f.Start, f.End})
		}
	}
	merged := mergeSpans(spans)

	var b []byte
	last := 0
	for _, span := range merged {
		b = append(b, text[last:span[0]]...)
		b = append(b, "[content removed]"...)
		last = span[1]
	}
	b = append(b, text[last:]...)
	sanitized := string(b)

	if policy.MaxLen > 0 && len(sanitized) > policy.MaxLen {
		sanitized = truncateRunes(sanitized, policy.MaxLen)
	}

	return Result{Sanitized: sanitized, Findings: findings}
}

// mergeSpans merges overlapping or touching [start,end) spans, assuming the
// input is already sorted by start (which Scan guarantees).
func mergeSpans(spans [][2]int) [][2]int {
	if len(spans) == 0 {
		return nil
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i][0] < spans[j][0] })
	merged := [][2]int{spans[0]}
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s[0] <= last[1] {
			if s[1] > last[1] {
				last[1] = s[1]
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

func truncateRunes(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}

// HasSeverityAtLeast reports whether any finding meets or exceeds the given
// severity on the critical > high > medium > low ordering.
func HasSeverityAtLeast(findings []Finding, min Severity) bool {
	rank := map[Severity]int{SeverityLow: 0, SeverityMedium: 1, SeverityHigh: 2, SeverityCritical: 3}
	for _, f := range findings {
		if rank[f.Severity] >= rank[min] {
			return true
		}
	}
	return false
}
