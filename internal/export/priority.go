package export

import "strings"

// Priority labels written to the Priority column.
const (
	PriorityHigh   = "High"
	PriorityMedium = "Medium"
	PriorityLow    = "Low"
)

// DefaultHighPriority lists terms that make an article high priority on their own.
func DefaultHighPriority() []string {
	return []string{"黎智英", "國安處", "國安法", "23條"}
}

// DefaultMediumPriority lists terms that raise priority; two or more count as high.
func DefaultMediumPriority() []string {
	return []string{"香港", "政治", "中國", "台灣", "選舉", "示威"}
}

// Priority ranks an article by the terms found in its title and matched keywords.
// Articles without a title are always low priority.
func Priority(title *string, keywords []string, high, medium []string) string {
	if title == nil || strings.TrimSpace(*title) == "" {
		return PriorityLow
	}
	var b strings.Builder
	b.WriteString(strings.ToLower(*title))
	for _, kw := range keywords {
		b.WriteByte(' ')
		b.WriteString(strings.ToLower(kw))
	}
	text := b.String()

	for _, term := range high {
		if term != "" && strings.Contains(text, strings.ToLower(term)) {
			return PriorityHigh
		}
	}
	hits := 0
	for _, term := range medium {
		if term != "" && strings.Contains(text, strings.ToLower(term)) {
			hits++
		}
	}
	switch {
	case hits >= 2:
		return PriorityHigh
	case hits == 1:
		return PriorityMedium
	default:
		return PriorityLow
	}
}
