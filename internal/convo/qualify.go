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

const (
	// assessorHistoryLimit bounds how many prior messages the assessor sees.
	assessorHistoryLimit = 30
	assessorMaxTokens    = 500
)

// Assessor re-evaluates qualification criteria against the accumulated
// transcript. It is idempotent over a fixed transcript and never regresses a
// decided criterion back to unknown: an ambiguous turn carries the previous
// verdict forward. On provider failure it returns the previous qualification
// unchanged (fail-safe).
type Assessor struct {
	gen genai.ClientInterface
}

// NewAssessor creates a qualification assessor backed by the given client.
func NewAssessor(gen genai.ClientInterface) *Assessor {
	return &Assessor{gen: gen}
}

// assessorOutput is the JSON shape the model is instructed to produce.
type assessorOutput struct {
	Criteria []struct {
		Criterion string `json:"criterion"`
		Verdict   string `json:"verdict"`
		Evidence  string `json:"evidence"`
	} `json:"criteria"`
	Extracted struct {
		DecisionMaker          *bool    `json:"decision_maker"`
		Budget                 string   `json:"budget"`
		Timeline               string   `json:"timeline"`
		CompanySize            string   `json:"company_size"`
		PreferredContactMethod string   `json:"preferred_contact_method"`
		PreferredTimes         []string `json:"preferred_times"`
		Objections             []string `json:"objections"`
		Notes                  []string `json:"notes"`
	} `json:"extracted_info"`
}

// Assess determines, for each configured criterion, whether the conversation
// has affirmatively satisfied it, affirmatively ruled it out, or left it
// undetermined. Decided criteria are pinned: the model is told their verdicts
// and the merge discards any attempt to change them.
func (a *Assessor) Assess(ctx context.Context, criteria []string, prev models.Qualification, history []models.Message, latestMessage string) (models.Qualification, *models.ExtractedInfo, models.TokenUsage) {
	prev = normalizeQualification(prev, criteria)
	if len(criteria) == 0 {
		return prev, nil, models.TokenUsage{}
	}
	// Nothing left to decide; skip the provider call entirely.
	if len(prev.CriteriaUnknown) == 0 {
		slog.Debug("Assessor.Assess: all criteria decided, skipping provider call",
			"matched", len(prev.CriteriaMatched), "missed", len(prev.CriteriaMissed))
		return prev, nil, models.TokenUsage{}
	}

	cfg := models.PromptConfig{
		Model:        modelFast,
		SystemPrompt: assessorInstructions,
		Messages: []models.PromptMessage{
			{Role: models.RoleUser, Content: a.buildAssessorInput(criteria, prev, history, latestMessage)},
		},
		MaxTokens:   assessorMaxTokens,
		Temperature: 0,
	}

	result, err := a.gen.Generate(ctx, cfg)
	if err != nil {
		slog.Warn("Assessor.Assess: provider call failed, carrying previous qualification forward", "error", err)
		return prev, nil, models.TokenUsage{}
	}

	var out assessorOutput
	if err := json.Unmarshal([]byte(stripCodeFence(result.Content)), &out); err != nil {
		slog.Warn("Assessor.Assess: malformed assessor output, carrying previous qualification forward",
			"error", err, "content", result.Content)
		return prev, nil, result.Usage
	}

	update := models.Qualification{
		CriteriaMatched: []string{},
		CriteriaUnknown: []string{},
		CriteriaMissed:  []string{},
	}
	for _, verdict := range out.Criteria {
		criterion := matchCriterion(criteria, verdict.Criterion)
		if criterion == "" {
			slog.Debug("Assessor.Assess: verdict for unconfigured criterion ignored", "criterion", verdict.Criterion)
			continue
		}
		switch models.CriterionVerdict(strings.ToLower(strings.TrimSpace(verdict.Verdict))) {
		case models.VerdictMatched:
			update.CriteriaMatched = append(update.CriteriaMatched, criterion)
		case models.VerdictMissed:
			update.CriteriaMissed = append(update.CriteriaMissed, criterion)
		default:
			update.CriteriaUnknown = append(update.CriteriaUnknown, criterion)
		}
	}

	merged := MergeQualification(prev, update)
	extracted := &models.ExtractedInfo{
		DecisionMaker:          out.Extracted.DecisionMaker,
		Budget:                 strings.TrimSpace(out.Extracted.Budget),
		Timeline:               strings.TrimSpace(out.Extracted.Timeline),
		CompanySize:            strings.TrimSpace(out.Extracted.CompanySize),
		PreferredContactMethod: strings.TrimSpace(out.Extracted.PreferredContactMethod),
		PreferredTimes:         out.Extracted.PreferredTimes,
		Objections:             out.Extracted.Objections,
		Notes:                  out.Extracted.Notes,
	}

	slog.Debug("Assessor.Assess: assessment complete",
		"status", merged.Status,
		"matched", len(merged.CriteriaMatched),
		"unknown", len(merged.CriteriaUnknown),
		"missed", len(merged.CriteriaMissed))
	return merged, extracted, result.Usage
}

// matchCriterion resolves a model-reported criterion string back to the
// configured one, tolerating case and whitespace drift.
func matchCriterion(criteria []string, reported string) string {
	reported = strings.ToLower(strings.TrimSpace(reported))
	for _, c := range criteria {
		if strings.ToLower(strings.TrimSpace(c)) == reported {
			return c
		}
	}
	return ""
}

// buildAssessorInput renders the criteria with their pinned verdicts plus the
// recent transcript and the new message.
func (a *Assessor) buildAssessorInput(criteria []string, prev models.Qualification, history []models.Message, latestMessage string) string {
	var b strings.Builder

	b.WriteString("Qualification criteria and their current verdicts:\n")
	for _, c := range criteria {
		verdict := prev.VerdictFor(c)
		if verdict == models.VerdictUnknown {
			fmt.Fprintf(&b, "- %q: undetermined, evaluate this one\n", c)
		} else {
			fmt.Fprintf(&b, "- %q: already %s, keep this verdict\n", c, verdict)
		}
	}

	b.WriteString("\nConversation transcript:\n")
	start := 0
	if len(history) > assessorHistoryLimit {
		start = len(history) - assessorHistoryLimit
	}
	for _, msg := range history[start:] {
		role := "Lead"
		if msg.Direction == models.DirectionOutbound {
			role = "Agent"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, msg.Content)
	}
	fmt.Fprintf(&b, "Lead (new message): %s\n", latestMessage)
	return b.String()
}

const assessorInstructions = `You assess whether a sales conversation has established each qualification criterion.

For every listed criterion return a verdict:
- "matched": the transcript affirmatively satisfies the criterion
- "missed": the transcript affirmatively rules the criterion out
- "unknown": the transcript has not determined it either way

Rules:
- A criterion whose current verdict is already matched or missed must keep
  that verdict.
- Only mark matched or missed on clear evidence from the transcript. When in
  doubt, return unknown.
- Also extract any factual details the lead has stated.

Respond with only a JSON object:
{"criteria": [{"criterion": "...", "verdict": "matched|missed|unknown", "evidence": "..."}],
 "extracted_info": {"decision_maker": null, "budget": "", "timeline": "", "company_size": "",
  "preferred_contact_method": "", "preferred_times": [], "objections": [], "notes": []}}`
