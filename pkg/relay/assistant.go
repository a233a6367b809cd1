package relay

import (
	"fmt"
	"strings"

	"github.com/bevpro/voicerelay/internal/config"
	"github.com/bevpro/voicerelay/pkg/voice"
)

// assistantInstructions builds the realtime model's system prompt from the
// configured agent identity and phrase sets. The model hears everything the
// relay hears, so the prompt restates the wake/termination protocol the state
// machine enforces locally.
func assistantInstructions(cfg config.Config) string {
	agent := cfg.AgentName
	if agent == "" {
		agent = "Bev"
	}
	wake := cfg.WakePhrase
	if wake == "" {
		wake = "hey bev"
	}

	return fmt.Sprintf(`You are %[1]s, the venue's AI voice assistant.
Be ultra-concise (<=15 words). Speak in past tense during order operations.
Never ask "anything else"; stop talking on termination phrases and return to wake mode.
Use tools for ALL business actions, never generic replies.

WAKE WORD PROTOCOL:
- Start in wake word mode and only respond after hearing "%[2]s"
- When the wake word is heard, greet briefly and enter conversation mode
- Ignore all other speech until the wake word is heard

CONVERSATION MODE:
- Process drink orders with the cart_add tool
- Answer menu questions with the search_drinks tool
- Keep responses ultra-concise (<=15 words)

TERMINATION PROTOCOL:
- On %[3]s: return to wake word mode
- On %[4]s: complete shutdown

TOOL EXECUTION:
- Process complete orders in one fluid conversation turn
- Chain tools without asking permission between calls: add items, view the
  cart, create the order, confirm
- Never pause between tool calls asking for permission`,
		agent, wake,
		quoteList(cfg.TerminationPhrases),
		quoteList(cfg.ShutdownPhrases),
	)
}

func quoteList(phrases []string) string {
	if len(phrases) == 0 {
		return `"(none configured)"`
	}
	quoted := make([]string, len(phrases))
	for i, p := range phrases {
		quoted[i] = fmt.Sprintf("%q", p)
	}
	return strings.Join(quoted, ", ")
}

// barTools is the tool set the realtime model can call. Every invocation
// routes through the command resolver; the relay itself holds no cart state.
func barTools() []voice.Tool {
	return []voice.Tool{
		{
			Name:        "cart_add",
			Description: "Add a drink to the cart. Use this for each item the user wants to order.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"drink_name": map[string]any{
						"type":        "string",
						"description": "Name of the drink",
					},
					"quantity": map[string]any{
						"type":        "number",
						"description": "Quantity to add",
						"default":     1,
					},
				},
				"required": []string{"drink_name"},
			},
		},
		{
			Name:        "search_drinks",
			Description: "Search for drinks by name or category. Use when the user asks about menu items.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Search query for drinks",
					},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        "cart_view",
			Description: "View current cart contents. Use this to check the cart before finalizing an order.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "cart_create_order",
			Description: "Create an order from the cart. Use this to finalize the order after adding items.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}
