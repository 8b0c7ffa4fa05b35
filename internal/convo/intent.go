package convo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leadrelay/leadrelay/internal/genai"
	"github.com/leadrelay/leadrelay/internal/models"
)

// Generation model tiers. Classification and assessment produce short
// structured outputs, so they run on the fast tier.
const (
	modelFast = "gpt-4o-mini"
	modelRich = "gpt-4o"
)

// optOutConfidenceFloor guards opt-out precision: the webhook-level keyword
// check is the high-recall backstop, so the classifier only reports opt_out
// when the model is confident. Below the floor the intent downgrades to
// negative_response.
const optOutConfidenceFloor = 0.75

const classifierMaxTokens = 200

// Classifier turns one inbound message plus conversation context into a typed
// intent. It degrades to IntentUnclear on any provider or decode failure;
// classification errors never abort a turn.
type Classifier struct {
	gen genai.ClientInterface
}

// NewClassifier creates an intent classifier backed by the given client.
func NewClassifier(gen genai.ClientInterface) *Classifier {
	return &Classifier{gen: gen}
}

// classifierOutput is the JSON shape the model is instructed to produce.
type classifierOutput struct {
	Intent           string            `json:"intent"`
	Confidence       float64           `json:"confidence"`
	Entities         map[string]string `json:"entities"`
	Escalate         bool              `json:"escalate"`
	EscalationReason string            `json:"escalation_reason"`
}

// Detect classifies one inbound message. The conversation context
// disambiguates short replies: a bare "yes" after an offered time slot is a
// confirmation, the same text on a cold open is a positive response.
// The returned usage is zero when the provider call fails.
func (c *Classifier) Detect(ctx context.Context, message string, convoCtx models.ConversationContext) (models.IntentClassification, models.TokenUsage) {
	message = strings.TrimSpace(message)
	fallback := models.IntentClassification{Intent: models.IntentUnclear, Confidence: 0}
	if message == "" {
		return fallback, models.TokenUsage{}
	}

	cfg := models.PromptConfig{
		Model:        modelFast,
		SystemPrompt: classifierInstructions,
		Messages: []models.PromptMessage{
			{Role: models.RoleUser, Content: c.buildClassifierInput(message, convoCtx)},
		},
		MaxTokens:   classifierMaxTokens,
		Temperature: 0,
	}

	result, err := c.gen.Generate(ctx, cfg)
	if err != nil {
		slog.Warn("Classifier.Detect: provider call failed, degrading to unclear", "error", err)
		return fallback, models.TokenUsage{}
	}

	var out classifierOutput
	if err := json.Unmarshal([]byte(stripCodeFence(result.Content)), &out); err != nil {
		slog.Warn("Classifier.Detect: malformed classifier output, degrading to unclear", "error", err, "content", result.Content)
		return fallback, result.Usage
	}

	classification := c.sanitize(out)
	slog.Debug("Classifier.Detect: classified message",
		"intent", classification.Intent,
		"confidence", classification.Confidence,
		"requiresEscalation", classification.RequiresEscalation)
	return classification, result.Usage
}

// sanitize validates model output against the closed intent set and enforces
// the escalation and opt-out policies.
func (c *Classifier) sanitize(out classifierOutput) models.IntentClassification {
	intent := models.IntentType(strings.ToLower(strings.TrimSpace(out.Intent)))
	if !models.IsValidIntent(intent) {
		slog.Debug("Classifier.sanitize: unknown intent from model, using unclear", "intent", out.Intent)
		intent = models.IntentUnclear
	}

	confidence := out.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	// Opt-out must favor false negatives; the keyword backstop catches the
	// explicit phrasings deterministically.
	if intent == models.IntentOptOut && confidence < optOutConfidenceFloor {
		slog.Debug("Classifier.sanitize: opt_out below confidence floor, downgrading", "confidence", confidence)
		intent = models.IntentNegativeResponse
	}

	classification := models.IntentClassification{
		Intent:             intent,
		Confidence:         confidence,
		Entities:           out.Entities,
		RequiresEscalation: out.Escalate,
		EscalationReason:   strings.TrimSpace(out.EscalationReason),
	}

	// An explicit request for a human always escalates, whatever the model
	// said in the escalate field.
	if intent == models.IntentRequestHuman {
		classification.RequiresEscalation = true
		if classification.EscalationReason == "" {
			classification.EscalationReason = "contact asked to speak with a human"
		}
	}
	if classification.RequiresEscalation && classification.EscalationReason == "" {
		classification.EscalationReason = "classifier flagged the message for escalation"
	}
	return classification
}

// buildClassifierInput renders the message plus a compact context digest.
func (c *Classifier) buildClassifierInput(message string, convoCtx models.ConversationContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation goal: %s\n", convoCtx.State.CurrentGoal)
	fmt.Fprintf(&b, "Turns so far: %d\n", convoCtx.State.TurnCount)
	if convoCtx.State.LastIntent != "" {
		fmt.Fprintf(&b, "Previous intent: %s\n", convoCtx.State.LastIntent)
	}
	if convoCtx.Summary != "" {
		fmt.Fprintf(&b, "Conversation summary: %s\n", convoCtx.Summary)
	}
	fmt.Fprintf(&b, "\nMessage: %s", message)
	return b.String()
}

const classifierInstructions = `You classify one inbound message from a sales lead into exactly one intent.

Intents:
- booking_interest: the lead wants to schedule or asks about availability
- question: the lead asks about the product, service, or pricing
- objection: the lead pushes back (price, timing, need, trust)
- positive_response: generally receptive, agreeing, interested
- negative_response: not interested, declining, but not asking to stop messages
- opt_out: the lead explicitly asks to stop receiving messages. Only use this when the request is unmistakable.
- request_human: the lead asks for a real person, an agent, or a phone call with a human
- confirmation: the lead confirms a previously offered time, slot, or proposal
- unclear: the message cannot be classified
- greeting: a plain greeting with no other content
- thanks: a plain thank-you with no other content

Use the conversation goal and previous intent to disambiguate short replies:
"yes" while a booking slot is on the table is confirmation, "yes" on a cold
open is positive_response.

Set escalate to true when the lead asks for a human, or expresses clear
frustration, anger, or a complaint. Extract entities such as budget, timeline,
company_size, preferred_time when the message states them.

Respond with only a JSON object:
{"intent": "...", "confidence": 0.0, "entities": {}, "escalate": false, "escalation_reason": ""}`

// stripCodeFence removes a surrounding markdown code fence from model output.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
