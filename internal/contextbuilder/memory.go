package contextbuilder

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/friendbot/internal/primitives"
	"github.com/nextlevelbuilder/friendbot/internal/sanitizer"
	"github.com/nextlevelbuilder/friendbot/internal/store"
)

// MemoryContextParams drives assembly of the "MEMORY CONTEXT" system prompt
// section: hybrid-retrieved facts/episodes, the person capsule, and recent
// behavior-insight lessons.
type MemoryContextParams struct {
	Store        store.MemoryStore
	Person       *store.PersonRecord
	ChatID       string
	IsGroup      bool
	QueryText    string
	Weights      store.RetrievalWeights
	RetrieveN    int
	LessonLimit  int
	BudgetTokens int
}

// BuildMemoryContext retrieves relevant facts/episodes via the store's RRF
// hybrid search, appends the person capsule appropriate to the chat's
// privacy scope, and layers on recent behavior-insight lessons, all clipped
// to BudgetTokens.
func BuildMemoryContext(p MemoryContextParams) (string, error) {
	if p.Store == nil {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("## MEMORY CONTEXT\n")

	if p.Person != nil {
		capsule := p.Person.PublicStyleCapsule
		if !p.IsGroup {
			capsule = p.Person.Capsule
		}
		if capsule != "" {
			b.WriteString("About this person: ")
			b.WriteString(sanitizer.Sanitize(capsule, sanitizer.DefaultPolicy()).Sanitized)
			b.WriteString("\n")
		}
	}

	personID := ""
	if p.Person != nil {
		personID = p.Person.ID
	}

	items, err := p.Store.Retrieve(store.RetrievalQuery{
		PersonID: personID,
		ChatID:   p.ChatID,
		Text:     p.QueryText,
		IsGroup:  p.IsGroup,
		Limit:    p.RetrieveN,
		Weights:  p.Weights,
	})
	if err != nil {
		return "", fmt.Errorf("contextbuilder: retrieving memory: %w", err)
	}
	for _, item := range items {
		switch {
		case item.Fact != nil:
			b.WriteString(fmt.Sprintf("- [fact] %s\n", sanitizer.Sanitize(item.Fact.Content, sanitizer.DefaultPolicy()).Sanitized))
		case item.Episode != nil:
			b.WriteString(fmt.Sprintf("- [past] %s\n", sanitizer.Sanitize(item.Episode.Content, sanitizer.DefaultPolicy()).Sanitized))
		}
	}

	globalLessons, err := p.Store.RecentLessons("global", p.LessonLimit)
	if err != nil {
		return "", fmt.Errorf("contextbuilder: loading global lessons: %w", err)
	}
	var groupLessons []store.Lesson
	if p.IsGroup {
		groupLessons, err = p.Store.RecentLessons(p.ChatID, p.LessonLimit)
		if err != nil {
			return "", fmt.Errorf("contextbuilder: loading group lessons: %w", err)
		}
	}
	lessons := append(globalLessons, groupLessons...)
	if len(lessons) > 0 {
		b.WriteString("\nBehavior insights:\n")
		for _, l := range lessons {
			rule := l.Rule
			if rule == "" {
				rule = l.Content
			}
			b.WriteString(fmt.Sprintf("- %s\n", sanitizer.Sanitize(rule, sanitizer.DefaultPolicy()).Sanitized))
		}
	}

	return clipToTokenBudget(b.String(), p.BudgetTokens), nil
}

// clipToTokenBudget truncates s at a line boundary once its estimated token
// count exceeds budget. budget <= 0 disables clipping.
func clipToTokenBudget(s string, budget int) string {
	if budget <= 0 || primitives.EstimateTokens(s) <= budget {
		return strings.TrimRight(s, "\n")
	}
	lines := strings.Split(s, "\n")
	var kept []string
	used := 0
	for _, line := range lines {
		lineTokens := primitives.EstimateTokens(line + "\n")
		if used+lineTokens > budget {
			break
		}
		kept = append(kept, line)
		used += lineTokens
	}
	return strings.TrimRight(strings.Join(kept, "\n"), "\n")
}
