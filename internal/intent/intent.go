// Package intent holds the lightweight message classifiers that gate
// optional pipeline stages.
package intent

import "strings"

// schedulingKeywords signal that the user wants to arrange time with
// the agent's owner.
var schedulingKeywords = []string{
	"schedule", "scheduling", "meeting", "meet", "appointment",
	"availability", "available", "book", "booking", "call",
	"calendar", "free time", "catch up", "sync up", "reschedule",
}

// DetectScheduling reports whether the message carries scheduling
// intent. It gates the availability stage, so false negatives cost a
// feature and false positives cost a little latency.
func DetectScheduling(message string) bool {
	msg := strings.ToLower(message)
	for _, kw := range schedulingKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
