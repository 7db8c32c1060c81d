package pipeline

import (
	"fmt"
	"strings"

	"github.com/zen-systems/sitegen/pkg/adapter"
)

const selectionSystem = "You plan small business websites. Reply with a JSON array of section ids only, no prose."

const itemSystem = "You write website section content. Reply with a single JSON object that matches the given schema, no prose and no code fences."

// schemaDescriber is implemented by validators that can show their schema.
type schemaDescriber interface {
	Describe(kind string) (string, bool)
}

func writeContext(sb *strings.Builder, gc GenerationContext, industry string) {
	if gc.BusinessName != "" {
		fmt.Fprintf(sb, "Business: %s\n", gc.BusinessName)
	}
	if industry != "" {
		fmt.Fprintf(sb, "Industry: %s\n", industry)
	}
	if gc.Description != "" {
		fmt.Fprintf(sb, "Description: %s\n", gc.Description)
	}
	if gc.Location != "" {
		fmt.Fprintf(sb, "Location: %s\n", gc.Location)
	}
}

func selectionMessages(req Request, industry string, kinds []string) []adapter.Message {
	var sb strings.Builder
	sb.WriteString("Choose the sections for this website, in page order.\n\n")
	writeContext(&sb, req.Context, industry)
	fmt.Fprintf(&sb, "Request: %s\n\n", strings.TrimSpace(req.Prompt))
	fmt.Fprintf(&sb, "Available sections: %s\n", strings.Join(kinds, ", "))
	sb.WriteString(`Example reply: ["hero","features","contact","footer"]`)

	return []adapter.Message{
		{Role: adapter.RoleSystem, Content: selectionSystem},
		{Role: adapter.RoleUser, Content: sb.String()},
	}
}

func itemMessages(req Request, industry, item string, validator any) []adapter.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write the %q section.\n\n", item)
	writeContext(&sb, req.Context, industry)
	fmt.Fprintf(&sb, "Request: %s\n", strings.TrimSpace(req.Prompt))
	if d, ok := validator.(schemaDescriber); ok {
		if s, ok := d.Describe(item); ok {
			fmt.Fprintf(&sb, "\nJSON schema:\n%s\n", s)
		}
	}

	return []adapter.Message{
		{Role: adapter.RoleSystem, Content: itemSystem},
		{Role: adapter.RoleUser, Content: sb.String()},
	}
}

// repairMessages asks for a corrected payload after a schema failure.
func repairMessages(original []adapter.Message, output string, issues []string) []adapter.Message {
	var sb strings.Builder
	sb.WriteString("The following output failed schema validation:\n\n")
	sb.WriteString("---\n")
	sb.WriteString(output)
	sb.WriteString("\n---\n\n")

	sb.WriteString("Issues found:\n")
	for _, issue := range issues {
		fmt.Fprintf(&sb, "- %s\n", issue)
	}
	sb.WriteString("\nReturn only the corrected JSON object.")

	msgs := append([]adapter.Message(nil), original...)
	return append(msgs,
		adapter.Message{Role: adapter.RoleAssistant, Content: output},
		adapter.Message{Role: adapter.RoleUser, Content: sb.String()},
	)
}
