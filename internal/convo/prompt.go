package convo

import (
	"fmt"
	"strings"

	"github.com/leadrelay/leadrelay/internal/models"
)

// promptHistoryLimit caps how many prior turns the reply prompt carries
// verbatim; older history is represented by the context summary instead.
const promptHistoryLimit = 24 // 12 turns

// BuildPrompt assembles the full generation call parameters for one reply.
// It is a pure function: deterministic given its inputs, no I/O. The output
// is self-contained and bounded: the model choice, token ceiling and
// response-length instruction all come from the channel policy and the
// conversation's progress.
func BuildPrompt(knowledge models.WorkflowKnowledge, contact models.Contact, convoCtx models.ConversationContext, history []models.Message, currentMessage string, channel models.Channel, appointmentDuration int) models.PromptConfig {
	policy := models.PolicyFor(channel)

	return models.PromptConfig{
		Model:        selectModel(convoCtx),
		SystemPrompt: buildSystemInstruction(knowledge, contact, convoCtx, policy, appointmentDuration),
		Messages:     buildMessageSequence(history, currentMessage),
		MaxTokens:    policy.MaxTokens,
		Temperature:  0.7,
	}
}

// selectModel picks the generation tier: the fast model carries simple early
// turns, the rich model takes over once the conversation needs nuance
// (objections raised, booking in motion, or a qualified lead on the line).
func selectModel(convoCtx models.ConversationContext) string {
	switch convoCtx.State.CurrentGoal {
	case models.GoalHandleObjection, models.GoalOfferBooking, models.GoalConfirmBooking:
		return modelRich
	}
	if convoCtx.Qualification.Status == models.QualificationQualified {
		return modelRich
	}
	return modelFast
}

// buildSystemInstruction renders workflow knowledge, the conversation digest
// and the channel constraints into one system instruction. Internal state
// field names and raw criteria are never echoed where the tone configuration
// would be contradicted; criteria needing discovery are described as topics
// to learn about naturally.
func buildSystemInstruction(knowledge models.WorkflowKnowledge, contact models.Contact, convoCtx models.ConversationContext, policy models.ChannelPolicy, appointmentDuration int) string {
	var b strings.Builder

	b.WriteString("You are an appointment-setting assistant texting with a sales lead on behalf of a business.\n\n")

	if knowledge.BrandSummary != "" {
		fmt.Fprintf(&b, "About the business: %s\n", knowledge.BrandSummary)
	}
	if len(knowledge.Services) > 0 {
		fmt.Fprintf(&b, "Services offered: %s\n", strings.Join(knowledge.Services, "; "))
	}
	if knowledge.TargetAudience != "" {
		fmt.Fprintf(&b, "Typical customers: %s\n", knowledge.TargetAudience)
	}
	if knowledge.GoalDescription != "" {
		fmt.Fprintf(&b, "Your objective: %s\n", knowledge.GoalDescription)
	} else {
		fmt.Fprintf(&b, "Your objective: qualify the lead and move them toward booking a %d-minute appointment.\n", appointmentDuration)
	}

	if knowledge.Tone != "" {
		fmt.Fprintf(&b, "\nTone: %s\n", knowledge.Tone)
	}
	fmt.Fprintf(&b, "Channel constraint: %s Your reply must stay under %d characters.\n", policy.ToneHint, policy.MaxResponseChars)

	if len(knowledge.FAQs) > 0 {
		b.WriteString("\nFrequently asked questions:\n")
		for _, faq := range knowledge.FAQs {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", faq.Question, faq.Answer)
		}
	}
	if len(knowledge.CommonObjections) > 0 {
		fmt.Fprintf(&b, "\nCommon objections you may hear: %s\n", strings.Join(knowledge.CommonObjections, "; "))
	}
	if len(knowledge.Dos) > 0 {
		fmt.Fprintf(&b, "\nAlways: %s\n", strings.Join(knowledge.Dos, "; "))
	}
	if len(knowledge.Donts) > 0 {
		fmt.Fprintf(&b, "Never: %s\n", strings.Join(knowledge.Donts, "; "))
	}

	b.WriteString("\n")
	b.WriteString(describeConversationStage(contact, convoCtx))

	if convoCtx.Summary != "" {
		fmt.Fprintf(&b, "\nConversation so far: %s\n", convoCtx.Summary)
	}

	return strings.TrimSpace(b.String())
}

// describeConversationStage translates the qualification state and goal into
// natural guidance without leaking internal field names.
func describeConversationStage(contact models.Contact, convoCtx models.ConversationContext) string {
	var b strings.Builder

	name := contact.Name
	if name == "" {
		name = "the lead"
	}
	fmt.Fprintf(&b, "You are talking with %s.\n", name)

	switch convoCtx.State.CurrentGoal {
	case models.GoalInitialEngagement:
		b.WriteString("This conversation is just starting. Open warmly and spark interest.\n")
	case models.GoalQualifyLead:
		b.WriteString("Learn naturally whether they are a good fit. Work the open topics below into conversation; never interrogate.\n")
	case models.GoalHandleObjection:
		b.WriteString("They raised a concern. Acknowledge it genuinely and address it before moving on.\n")
	case models.GoalAnswerQuestion:
		b.WriteString("They asked a question. Answer it directly and then gently advance the conversation.\n")
	case models.GoalOfferBooking:
		b.WriteString("They are a strong fit. Propose scheduling an appointment and ask what times work.\n")
	case models.GoalConfirmBooking:
		b.WriteString("They agreed to book. Confirm the appointment details clearly.\n")
	case models.GoalFollowUp:
		b.WriteString("They went quiet earlier. Re-engage lightly without pressure.\n")
	case models.GoalClosing:
		b.WriteString("This conversation is wrapping up. Be brief, courteous and final.\n")
	}

	if len(convoCtx.Qualification.CriteriaUnknown) > 0 && convoCtx.State.CurrentGoal == models.GoalQualifyLead {
		fmt.Fprintf(&b, "Topics still to learn about: %s.\n", strings.Join(convoCtx.Qualification.CriteriaUnknown, "; "))
	}
	if convoCtx.ExtractedInfo.Budget != "" {
		fmt.Fprintf(&b, "They mentioned a budget of %s.\n", convoCtx.ExtractedInfo.Budget)
	}
	if convoCtx.ExtractedInfo.Timeline != "" {
		fmt.Fprintf(&b, "Their timeline: %s.\n", convoCtx.ExtractedInfo.Timeline)
	}
	if len(convoCtx.ExtractedInfo.Objections) > 0 {
		fmt.Fprintf(&b, "Concerns they raised before: %s.\n", strings.Join(convoCtx.ExtractedInfo.Objections, "; "))
	}
	return b.String()
}

// buildMessageSequence translates the stored history into a strictly
// alternating user/assistant sequence ending with the just-received user
// message. Consecutive same-role messages collapse into one; truncation
// keeps the most recent turns.
func buildMessageSequence(history []models.Message, currentMessage string) []models.PromptMessage {
	start := 0
	if len(history) > promptHistoryLimit {
		start = len(history) - promptHistoryLimit
	}

	var out []models.PromptMessage
	for _, msg := range history[start:] {
		role := models.RoleUser
		if msg.Direction == models.DirectionOutbound {
			role = models.RoleAssistant
		}
		if msg.Content == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = out[n-1].Content + "\n" + msg.Content
			continue
		}
		out = append(out, models.PromptMessage{Role: role, Content: msg.Content})
	}

	// The sequence must open with a user message for a clean alternation.
	if len(out) > 0 && out[0].Role == models.RoleAssistant {
		out = append([]models.PromptMessage{{Role: models.RoleUser, Content: "(conversation opened)"}}, out...)
	}

	if n := len(out); n > 0 && out[n-1].Role == models.RoleUser {
		out[n-1].Content = out[n-1].Content + "\n" + currentMessage
	} else {
		out = append(out, models.PromptMessage{Role: models.RoleUser, Content: currentMessage})
	}
	return out
}

// SynthesizeSummary regenerates the lossy conversation digest from the
// structured state. It is injected into prompts only; qualification logic
// never reads it.
func SynthesizeSummary(convoCtx models.ConversationContext) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("%d turns exchanged", convoCtx.State.TurnCount))

	switch convoCtx.Qualification.Status {
	case models.QualificationQualified:
		parts = append(parts, "lead meets all qualification criteria")
	case models.QualificationPartial:
		parts = append(parts, fmt.Sprintf("lead confirmed: %s", strings.Join(convoCtx.Qualification.CriteriaMatched, "; ")))
	case models.QualificationDisqualified:
		parts = append(parts, fmt.Sprintf("lead ruled out on: %s", strings.Join(convoCtx.Qualification.CriteriaMissed, "; ")))
	}
	if convoCtx.ExtractedInfo.Budget != "" {
		parts = append(parts, "budget "+convoCtx.ExtractedInfo.Budget)
	}
	if convoCtx.ExtractedInfo.Timeline != "" {
		parts = append(parts, "timeline "+convoCtx.ExtractedInfo.Timeline)
	}
	if len(convoCtx.ExtractedInfo.Objections) > 0 {
		parts = append(parts, "objections raised: "+strings.Join(convoCtx.ExtractedInfo.Objections, "; "))
	}
	return strings.Join(parts, ". ")
}
