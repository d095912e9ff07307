package apitools

import (
	"strings"

	"github.com/parley-ai/parley/pkg/models"
)

// documentationIntent marks messages asking what the agent can do or
// how its integrations work.
var documentationIntent = []string{
	"what can you do", "how do i", "how does", "documentation", "docs",
	"api reference", "capabilities",
}

// Relevant decides whether a configured API tool should be invoked for
// this message.
func Relevant(tool models.APIToolConfig, message string) bool {
	if strings.Contains(strings.ToLower(tool.Instructions), "always") {
		return true
	}

	msg := strings.ToLower(message)
	if tool.Name != "" && strings.Contains(msg, strings.ToLower(tool.Name)) {
		return true
	}

	if strings.Contains(msg, "use the api") || strings.Contains(msg, "use the tool") {
		return true
	}

	for _, phrase := range documentationIntent {
		if strings.Contains(msg, phrase) {
			return true
		}
	}

	// Keyword overlap with the tool's own metadata.
	for _, word := range strings.Fields(strings.ToLower(tool.Description)) {
		if len(word) < 5 {
			continue
		}
		if strings.Contains(msg, word) {
			return true
		}
	}
	return false
}
