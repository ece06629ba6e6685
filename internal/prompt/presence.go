package prompt

import (
	"fmt"
	"strings"
)

// PresencePromptVersion identifies the presence template. It is stored on
// every run so answers from different templates are never compared blindly.
const PresencePromptVersion = "presence-v1"

// PresenceInput is one (entity, question) cell.
type PresenceInput struct {
	EntityName  string
	Website     string
	Topics      string
	Competitors []string
	Question    string
}

const presenceSystem = `You are a knowledgeable assistant answering a user's question the way a general-purpose AI assistant would.
Answer naturally and concisely. Recommend specific companies, products or websites when they are relevant.
Do not invent facts about companies you do not know.`

// BuildPresence renders the answer-presence prompt for one cell.
func BuildPresence(in PresenceInput) Pair {
	var b strings.Builder
	fmt.Fprintf(&b, "Context: the user is researching %s", orNone(in.Topics))
	if in.EntityName != "" {
		fmt.Fprintf(&b, " and is evaluating %s", in.EntityName)
		if in.Website != "" {
			fmt.Fprintf(&b, " (%s)", in.Website)
		}
	}
	b.WriteString(".\n")
	if len(in.Competitors) > 0 {
		fmt.Fprintf(&b, "Other options in this space include: %s.\n", strings.Join(in.Competitors, ", "))
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n", strings.TrimSpace(in.Question))
	b.WriteString("\nAnswer the question directly. Name the providers you would recommend and explain why in a few sentences.")
	return Pair{System: presenceSystem, User: b.String()}
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "this topic"
	}
	return s
}
