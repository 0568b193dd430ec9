package ai

import (
	"fmt"
	"strings"
)

const analysisPromptTemplate = `Analyze the uploaded video for content and context.
Respond to the following query using video insights and supplementary web search:
%s

Provide a detailed, user-friendly, and actionable response.`

// BuildPrompt embeds the user's query, verbatim, in the analysis prompt.
func BuildPrompt(query string) string {
	return fmt.Sprintf(analysisPromptTemplate, query)
}

// WithNotes appends companion notes as extra context.
func WithNotes(prompt, notes string) string {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return prompt
	}
	return prompt + "\n\nAdditional context supplied with the video:\n" + notes
}

func systemPrompt(cfg AgentConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an assistant that analyzes videos and answers questions about them.", cfg.Name)
	b.WriteString(" Use the web_search tool when outside information would improve the answer.")
	if cfg.Markdown {
		b.WriteString(" Format your response in Markdown.")
	}
	if extra := strings.TrimSpace(cfg.Instructions); extra != "" {
		b.WriteString("\n\n")
		b.WriteString(extra)
	}
	return b.String()
}
