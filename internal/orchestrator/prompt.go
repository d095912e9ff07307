package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/parley-ai/parley/pkg/models"
)

// promptInput carries everything the turn gathered for the system
// prompt. Only the AI-facing slot projection ever appears here.
type promptInput struct {
	agent       *models.Agent
	now         time.Time
	toolResults []models.ToolInvocationResult
	knowledge   []models.KnowledgeChunk
	aiSlots     []models.SlotGroup
	eventsNote  bool
}

const toolResultsInstruction = "Use the tool results above to answer. Present the information conversationally; never show raw JSON, code, or API payloads to the user."

// buildSystemPrompt assembles the layered system prompt. Layer order
// is fixed: date anchor, tool results, persona, formatting, knowledge,
// scheduling, events, and a trailing tool-results reminder.
func buildSystemPrompt(in promptInput) string {
	var sb strings.Builder

	// (a) date anchor
	fmt.Fprintf(&sb, "Current date and time: %s.\n", in.now.Format("Monday, 2006-01-02 15:04 MST"))

	// (b) tool and API results
	hasToolResults := false
	for _, r := range in.toolResults {
		if r.IsError {
			fmt.Fprintf(&sb, "\nA lookup against %q failed (%s). If the user's question depends on it, say the information is temporarily unavailable.\n", r.Server, r.ToolName)
			continue
		}
		if r.Text == "" {
			continue
		}
		hasToolResults = true
		fmt.Fprintf(&sb, "\nResult from %s (%s):\n%s\n", r.Server, r.ToolName, r.Text)
	}
	if hasToolResults {
		sb.WriteString("\n" + toolResultsInstruction + "\n")
	}

	// (c) persona
	if in.agent.Persona != "" {
		sb.WriteString("\n" + in.agent.Persona + "\n")
	} else {
		fmt.Fprintf(&sb, "\nYou are %s, a helpful assistant", in.agent.Name)
		if in.agent.OwnerName != "" {
			fmt.Fprintf(&sb, " representing %s", in.agent.OwnerName)
		}
		sb.WriteString(".\n")
	}

	// (d) formatting guidance
	sb.WriteString("\nKeep replies concise and conversational. Use short paragraphs; avoid markdown tables and headers.\n")

	// (e) knowledge context
	if len(in.knowledge) > 0 {
		sb.WriteString("\nRelevant background from the knowledge base:\n")
		for _, k := range in.knowledge {
			fmt.Fprintf(&sb, "- %s\n", k.Text)
		}
		sb.WriteString("Prefer this background over guessing; say so when it doesn't cover the question.\n")
	}

	// (f) scheduling guidance + AI-facing availability
	if len(in.aiSlots) > 0 {
		owner := in.agent.OwnerName
		if owner == "" {
			owner = "the owner"
		}
		fmt.Fprintf(&sb, "\nThe user may want to schedule time with %s. Offer a few of these open slots (times are %s local):\n", owner, ownerTZLabel(in.agent))
		for _, g := range in.aiSlots {
			fmt.Fprintf(&sb, "- %s: %s\n", g.Date, strings.Join(g.Times, ", "))
		}
		sb.WriteString("Never invent slots that are not listed.\n")
	}

	// (g) events guidance
	if in.eventsNote {
		sb.WriteString("\nWhen the context mentions upcoming events, include name, date, and location in your answer.\n")
	}

	// (h) trailing reminder
	if hasToolResults {
		sb.WriteString("\nReminder: " + toolResultsInstruction + "\n")
	}

	return sb.String()
}

func ownerTZLabel(agent *models.Agent) string {
	if agent.Timezone != "" {
		return agent.Timezone
	}
	return "UTC"
}

// historyMessages maps persisted turns into chat messages, oldest
// first.
func historyMessages(turns []models.ConversationTurn) []models.ChatMessage {
	msgs := make([]models.ChatMessage, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role == models.RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, models.ChatMessage{Role: role, Content: t.Content})
	}
	return msgs
}
