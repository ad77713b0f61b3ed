package contextbuilder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Identity is the on-disk personality package for one deployment: a fixed
// set of markdown/json files read once per turn and composed into the
// system prompt.
type Identity struct {
	Soul         string
	Style        string
	User         string
	FirstMeeting string
	Personality  string
	Behavior     string // empty if BEHAVIOR.md is absent
}

var identityFileNames = []string{"SOUL.md", "STYLE.md", "USER.md", "first-meeting.md", "personality.json"}

// LoadIdentity reads the identity package beneath dir, enforcing that every
// resolved real path stays within dir — a symlink inside the identity
// directory that points outside it is rejected rather than followed.
func LoadIdentity(dir string) (Identity, error) {
	var id Identity
	files := map[string]*string{
		"SOUL.md":           &id.Soul,
		"STYLE.md":          &id.Style,
		"USER.md":           &id.User,
		"first-meeting.md":  &id.FirstMeeting,
		"personality.json":  &id.Personality,
	}
	for _, name := range identityFileNames {
		content, err := readContainedFile(dir, name)
		if err != nil {
			return Identity{}, fmt.Errorf("contextbuilder: loading %s: %w", name, err)
		}
		*files[name] = content
	}

	if behaviorContent, err := readContainedFile(dir, "BEHAVIOR.md"); err == nil {
		id.Behavior = behaviorContent
	} else if !os.IsNotExist(err) {
		return Identity{}, fmt.Errorf("contextbuilder: loading BEHAVIOR.md: %w", err)
	}

	return id, nil
}

// readContainedFile resolves dir/name, verifies the resolved real path (with
// all symlinks followed) still lies within dir's real path, and returns its
// contents.
func readContainedFile(dir, name string) (string, error) {
	candidate := filepath.Join(dir, name)

	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", err
	}
	realPath, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(realDir, realPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("contextbuilder: %s resolves outside identity directory", name)
	}

	data, err := os.ReadFile(candidate)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// identityCharsPerToken is the specification's literal heuristic for
// budgeting the identity prompt, distinct from the tiktoken-backed
// EstimateTokens used elsewhere for general context budgeting.
const identityCharsPerToken = 3.3

func identityTokenEstimate(s string) int {
	return int(float64(len(s)) / identityCharsPerToken)
}

// Compose assembles the identity package into a single prompt section,
// clipped to maxTokens using the chars/3.3 heuristic. Sections are dropped
// from the end (Behavior first, then Personality, then FirstMeeting, ...) once the budget is
// exceeded, preserving the most identity-defining material.
func (id Identity) Compose(maxTokens int) string {
	type section struct {
		heading string
		body    string
	}
	sections := []section{
		{"SOUL", id.Soul},
		{"STYLE", id.Style},
		{"USER", id.User},
		{"FIRST MEETING", id.FirstMeeting},
		{"PERSONALITY", id.Personality},
		{"BEHAVIOR", id.Behavior},
	}

	var b strings.Builder
	used := 0
	for _, s := range sections {
		if s.body == "" {
			continue
		}
		chunk := fmt.Sprintf("## %s\n%s\n\n", s.heading, strings.TrimSpace(s.body))
		chunkTokens := identityTokenEstimate(chunk)
		if maxTokens > 0 && used+chunkTokens > maxTokens {
			break
		}
		b.WriteString(chunk)
		used += chunkTokens
	}
	return strings.TrimRight(b.String(), "\n")
}
