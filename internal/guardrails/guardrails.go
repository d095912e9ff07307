// Package guardrails screens externally sourced text before it is
// placed into a system prompt. Knowledge chunks and fetched pages come
// from content the agent owner does not fully control, so anything
// that looks like an instruction-override attempt is dropped rather
// than forwarded to the model.
package guardrails

import (
	"regexp"

	"github.com/parley-ai/parley/pkg/models"
	"github.com/rs/zerolog/log"
)

// injectionPatterns are heuristics for common prompt-override phrasings.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?|directions?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|above|your)\s+(instructions?|prompts?|rules?|context)`),
	regexp.MustCompile(`(?i)new\s+instructions?:\s*`),
	regexp.MustCompile(`(?i)system\s*:\s*you\s+are`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|my)\s+`),
	regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+)?(prompt|instructions?)`),
	regexp.MustCompile(`(?i)repeat\s+(your|the)\s+(system\s+)?(prompt|instructions?)\s+verbatim`),
}

// SuspectInjection reports whether text matches a known
// instruction-override pattern.
func SuspectInjection(text string) bool {
	for _, re := range injectionPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// CleanChunks drops knowledge chunks that look like injection
// attempts. The surviving chunks keep their order.
func CleanChunks(chunks []models.KnowledgeChunk) []models.KnowledgeChunk {
	cleaned := chunks[:0:0]
	for _, c := range chunks {
		if SuspectInjection(c.Text) {
			log.Warn().Str("source", c.Source).Msg("dropping knowledge chunk, injection pattern matched")
			continue
		}
		cleaned = append(cleaned, c)
	}
	return cleaned
}
