package engine

import (
	"strings"

	"normgate/internal/requirement"
)

// BuildPrompt assembles the deterministic judgment prompt for a primitive
// node: question, guidance, attached legal context, the case facts, and the
// task instructions. Section order is fixed so identical conditions produce
// identical prompts.
func BuildPrompt(node *requirement.Node, caseText string) string {
	var b strings.Builder
	b.WriteString("# Legal Requirement Evaluation\n\n")
	b.WriteString("## Question\n")
	b.WriteString(node.Question.Prompt)
	b.WriteString("\n\n")

	if node.Question.Help != "" {
		b.WriteString("## Guidance\n")
		b.WriteString(node.Question.Help)
		b.WriteString("\n\n")
	}

	if node.Context != nil && len(node.Context.Items) > 0 {
		b.WriteString("## Legal Context\n")
		for _, item := range node.Context.Items {
			b.WriteString("### ")
			b.WriteString(item.Label)
			b.WriteString("\n")
			b.WriteString(item.Text)
			b.WriteString("\n\n")
		}
	}

	b.WriteString("## Case Facts\n")
	b.WriteString(caseText)
	b.WriteString("\n\n")

	b.WriteString("## Task\n")
	b.WriteString("Based on the case facts and legal context above, determine if the requirement is satisfied.\n\n")
	b.WriteString("Respond with:\n")
	b.WriteString("1. Decision: YES or NO\n")
	b.WriteString("2. Confidence: A number between 0.0 and 1.0\n")
	b.WriteString("3. Reasoning: 2-3 sentences citing specific facts from the case\n")

	return b.String()
}
