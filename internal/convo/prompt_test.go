package convo

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/leadrelay/leadrelay/internal/models"
)

func testKnowledge() models.WorkflowKnowledge {
	return models.WorkflowKnowledge{
		BrandSummary: "Bright Smile Dental, a family dentistry practice",
		Services:     []string{"cleanings", "whitening"},
		Tone:         "warm and professional",
		FAQs:         []models.FAQ{{Question: "Do you take insurance?", Answer: "Yes, most major plans."}},
		Dos:          []string{"use the lead's first name"},
		Donts:        []string{"quote exact prices"},
	}
}

func TestBuildPromptDeterministic(t *testing.T) {
	contact := models.Contact{Name: "Dana", Channel: models.ChannelSMS}
	ctx := NewContext(testCriteria)
	history := []models.Message{
		{Direction: models.DirectionOutbound, Content: "Hi Dana!"},
		{Direction: models.DirectionInbound, Content: "hello"},
	}
	a := BuildPrompt(testKnowledge(), contact, ctx, history, "tell me more", models.ChannelSMS, 30)
	b := BuildPrompt(testKnowledge(), contact, ctx, history, "tell me more", models.ChannelSMS, 30)
	if !reflect.DeepEqual(a, b) {
		t.Error("same inputs must produce the same prompt")
	}
}

func TestBuildPromptChannelBudgets(t *testing.T) {
	contact := models.Contact{Name: "Dana"}
	ctx := NewContext(testCriteria)
	for _, channel := range []models.Channel{models.ChannelSMS, models.ChannelWhatsApp, models.ChannelEmail} {
		t.Run(string(channel), func(t *testing.T) {
			policy := models.PolicyFor(channel)
			cfg := BuildPrompt(testKnowledge(), contact, ctx, nil, "hi", channel, 30)
			if cfg.MaxTokens != policy.MaxTokens {
				t.Errorf("maxTokens = %d, want %d", cfg.MaxTokens, policy.MaxTokens)
			}
			if !strings.Contains(cfg.SystemPrompt, fmt.Sprintf("under %d characters", policy.MaxResponseChars)) {
				t.Error("system prompt should state the channel's character budget")
			}
		})
	}
}

func TestBuildPromptAlternation(t *testing.T) {
	history := []models.Message{
		{Direction: models.DirectionInbound, Content: "hey"},
		{Direction: models.DirectionInbound, Content: "you there?"},
		{Direction: models.DirectionOutbound, Content: "Hi! Yes, here."},
		{Direction: models.DirectionOutbound, Content: "What can I do for you?"},
		{Direction: models.DirectionInbound, Content: "pricing question"},
	}
	msgs := buildMessageSequence(history, "how much is whitening?")

	for i := 1; i < len(msgs); i++ {
		if msgs[i].Role == msgs[i-1].Role {
			t.Fatalf("roles must strictly alternate, got %q twice at %d", msgs[i].Role, i)
		}
	}
	if msgs[0].Role != models.RoleUser {
		t.Errorf("sequence must open with a user message, got %q", msgs[0].Role)
	}
	last := msgs[len(msgs)-1]
	if last.Role != models.RoleUser || !strings.Contains(last.Content, "how much is whitening?") {
		t.Errorf("sequence must end with the current user message, got %+v", last)
	}
	// The two consecutive inbound messages collapse into one.
	if !strings.Contains(msgs[0].Content, "hey") || !strings.Contains(msgs[0].Content, "you there?") {
		t.Errorf("consecutive same-role messages should collapse, got %q", msgs[0].Content)
	}
}

func TestBuildPromptLeadingAssistant(t *testing.T) {
	history := []models.Message{
		{Direction: models.DirectionOutbound, Content: "Hi Dana, following up!"},
	}
	msgs := buildMessageSequence(history, "oh hi")
	if msgs[0].Role != models.RoleUser {
		t.Errorf("a synthetic user opener should precede a leading assistant message, got %q", msgs[0].Role)
	}
	if msgs[1].Role != models.RoleAssistant {
		t.Errorf("history order lost: %+v", msgs)
	}
}

func TestBuildPromptHistoryTruncated(t *testing.T) {
	var history []models.Message
	for i := 0; i < 40; i++ {
		dir := models.DirectionInbound
		if i%2 == 1 {
			dir = models.DirectionOutbound
		}
		history = append(history, models.Message{Direction: dir, Content: fmt.Sprintf("message %d", i)})
	}
	msgs := buildMessageSequence(history, "latest")

	if len(msgs) > promptHistoryLimit+2 {
		t.Errorf("sequence length = %d, history should be truncated", len(msgs))
	}
	for _, m := range msgs {
		if strings.Contains(m.Content, "message 0") {
			t.Error("oldest history should be dropped, not the newest")
		}
	}
	if !strings.Contains(msgs[len(msgs)-1].Content, "latest") {
		t.Error("current message missing from sequence")
	}
}

func TestSelectModelTiering(t *testing.T) {
	ctx := NewContext(testCriteria)
	if got := selectModel(ctx); got != modelFast {
		t.Errorf("initial engagement model = %q, want fast tier", got)
	}

	ctx.State.CurrentGoal = models.GoalHandleObjection
	if got := selectModel(ctx); got != modelRich {
		t.Errorf("objection handling model = %q, want rich tier", got)
	}

	ctx.State.CurrentGoal = models.GoalQualifyLead
	ctx.Qualification.Status = models.QualificationQualified
	if got := selectModel(ctx); got != modelRich {
		t.Errorf("qualified lead model = %q, want rich tier", got)
	}
}

func TestSystemPromptCarriesKnowledgeAndStage(t *testing.T) {
	contact := models.Contact{Name: "Dana"}
	ctx := NewContext(testCriteria)
	ctx.State.CurrentGoal = models.GoalQualifyLead

	cfg := BuildPrompt(testKnowledge(), contact, ctx, nil, "hi", models.ChannelSMS, 30)
	for _, want := range []string{
		"Bright Smile Dental",
		"Do you take insurance?",
		"Dana",
		"owns a business", // open criteria surface as topics to learn
	} {
		if !strings.Contains(cfg.SystemPrompt, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestSynthesizeSummary(t *testing.T) {
	ctx := NewContext(testCriteria)
	ctx.State.TurnCount = 3
	ctx.Qualification = models.Qualification{
		Status:          models.QualificationPartial,
		CriteriaMatched: []string{"owns a business"},
		CriteriaUnknown: []string{"budget over $500/month"},
		CriteriaMissed:  []string{},
	}
	ctx.ExtractedInfo.Budget = "$700/month"
	ctx.ExtractedInfo.Objections = []string{"price"}

	summary := SynthesizeSummary(ctx)
	for _, want := range []string{"3 turns", "owns a business", "$700/month", "price"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary %q missing %q", summary, want)
		}
	}
	// Deterministic digest, no model involved.
	if summary != SynthesizeSummary(ctx) {
		t.Error("summary must be deterministic")
	}
}
