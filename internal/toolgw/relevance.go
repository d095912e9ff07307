package toolgw

import (
	"strings"

	"github.com/parley-ai/parley/pkg/models"
)

// queryIntentKeywords mark a message as asking for live data, which is
// what tool servers exist to provide.
var queryIntentKeywords = []string{
	"look up", "lookup", "search", "find", "fetch", "check",
	"latest", "current", "status", "how many", "list",
	"weather", "price", "order", "ticket", "balance", "schedule",
}

// Relevant decides whether a tool server should be consulted for this
// message at all. Non-relevant servers cost zero network calls.
func Relevant(server models.ToolServerConfig, message string) bool {
	instructions := strings.ToLower(server.Instructions)
	if strings.Contains(instructions, "always") {
		return true
	}

	msg := strings.ToLower(message)
	if server.Name != "" && strings.Contains(msg, strings.ToLower(server.Name)) {
		return true
	}

	for _, kw := range queryIntentKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
