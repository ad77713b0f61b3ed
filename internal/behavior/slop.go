package behavior

import (
	"regexp"
	"strings"
)

// SlopViolation names one category of LLM-typical tell found in a draft.
type SlopViolation struct {
	Category string
}

// SlopResult is the outcome of running the slop detector on a draft.
type SlopResult struct {
	IsSlop     bool
	Violations []SlopViolation
}

type slopPattern struct {
	category string
	re       *regexp.Regexp
}

// slopPatterns mirrors the teacher's assistant-content cleanup pipeline in
// spirit (regex categories scanned independently, each reported rather than
// silently fixed) but targets the behavioral tells spec names: AI-ish
// vocabulary, stock phrases, forced enthusiasm, restatement, and sign-offs.
var slopPatterns = []slopPattern{
	{"ai_vocabulary", regexp.MustCompile(`(?i)\b(?:delve|nuanced?|tapestry|landscape|realm|testament to|boasts|leverage|utilize|furthermore|moreover)\b`)},
	{"stock_phrase", regexp.MustCompile(`(?i)\b(?:it'?s (?:worth|important) (?:noting|mentioning)|at the end of the day|when it comes to|in today'?s (?:world|society))\b`)},
	{"forced_enthusiasm", regexp.MustCompile(`(?i)\b(?:great question|i'?d be happy to|absolutely!|that'?s a fantastic|i'?m excited to)\b`)},
	{"assistant_speak", regexp.MustCompile(`(?i)\b(?:as an ai|as a language model|i'?m just an ai|i don'?t have personal (?:opinions|feelings))\b`)},
	{"sign_off", regexp.MustCompile(`(?i)\b(?:let me know if you (?:have any|need)|feel free to (?:ask|ask|reach out)|hope this helps!?)\s*$`)},
	{"restatement", regexp.MustCompile(`(?i)^(?:so,? |to summarize,? |in summary,? )`)},
	{"bullet_formatting", regexp.MustCompile(`(?m)^\s*[-*•]\s+`)},
}

// antiPatternTokens are hard-forbidden regardless of slop scoring (P3).
var antiPatternTokens = []string{"as an ai", "as a language model", "delve"}

// CheckSlop scans draft text against the slop pattern set and reports every
// category that matched.
func CheckSlop(draft string) SlopResult {
	var violations []SlopViolation
	for _, p := range slopPatterns {
		if p.re.MatchString(draft) {
			violations = append(violations, SlopViolation{Category: p.category})
		}
	}
	return SlopResult{IsSlop: len(violations) > 0, Violations: violations}
}

// ContainsAntiPatternToken reports whether text contains one of the
// hard-forbidden tokens from P3, case-insensitively.
func ContainsAntiPatternToken(text string) bool {
	lower := strings.ToLower(text)
	for _, tok := range antiPatternTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}
