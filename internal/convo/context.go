// Package convo implements the conversation orchestration engine for LeadRelay.
//
// It contains the context model, intent classifier, qualification assessor,
// prompt assembler and the orchestrator that sequences them for one turn.
package convo

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/leadrelay/leadrelay/internal/models"
)

// NewContext returns a freshly-initialized conversation context for the given
// criteria list: every criterion unknown, goal at initial engagement.
func NewContext(criteria []string) models.ConversationContext {
	unknown := make([]string, len(criteria))
	copy(unknown, criteria)
	return models.ConversationContext{
		Qualification: models.Qualification{
			Status:          models.QualificationUnknown,
			CriteriaMatched: []string{},
			CriteriaUnknown: unknown,
			CriteriaMissed:  []string{},
		},
		State: models.ConversationState{
			CurrentGoal: models.GoalInitialEngagement,
		},
	}
}

// ParseContext decodes a persisted context blob. It fails closed: malformed
// or absent input yields a freshly-initialized context so a bad blob never
// blocks the conversation. The qualification sets are normalized against the
// workflow's current criteria list on every load.
func ParseContext(raw []byte, criteria []string) models.ConversationContext {
	if len(raw) == 0 {
		return NewContext(criteria)
	}
	var ctx models.ConversationContext
	if err := json.Unmarshal(raw, &ctx); err != nil {
		slog.Warn("convo.ParseContext: malformed context blob, reinitializing", "error", err, "rawLength", len(raw))
		return NewContext(criteria)
	}
	if !models.IsValidGoal(ctx.State.CurrentGoal) {
		ctx.State.CurrentGoal = models.GoalInitialEngagement
	}
	ctx.Qualification = normalizeQualification(ctx.Qualification, criteria)
	return ctx
}

// EncodeContext serializes a context for persistence.
func EncodeContext(ctx models.ConversationContext) ([]byte, error) {
	return json.Marshal(ctx)
}

// ContextDelta carries the structured updates one turn produces. It is the
// only way context changes; the orchestrator owns applying it.
type ContextDelta struct {
	Intent             models.IntentType
	Goal               models.ConversationGoal
	Qualification      *models.Qualification
	Extracted          *models.ExtractedInfo
	EscalationSignaled bool
	Summary            string
	Timestamp          time.Time
}

// ApplyDelta merges a turn's updates into the previous context and returns
// the new one. It is a pure function: no I/O, same inputs always yield the
// same output. Merge rules are monotonic: the turn count increments by
// exactly one, criteria only move out of unknown, scalar facts
// overwrite-if-present and never revert to empty, list facts append.
func ApplyDelta(prev models.ConversationContext, delta ContextDelta) models.ConversationContext {
	next := prev

	next.State.TurnCount = prev.State.TurnCount + 1
	if delta.Intent != "" {
		next.State.LastIntent = delta.Intent
	}
	if models.IsValidGoal(delta.Goal) {
		next.State.CurrentGoal = delta.Goal
	}
	if delta.EscalationSignaled {
		next.State.EscalationAttempts = prev.State.EscalationAttempts + 1
	}
	if !delta.Timestamp.IsZero() {
		next.State.LastMessageAt = delta.Timestamp
	}

	if delta.Qualification != nil {
		next.Qualification = MergeQualification(prev.Qualification, *delta.Qualification)
	}
	if delta.Extracted != nil {
		next.ExtractedInfo = mergeExtracted(prev.ExtractedInfo, *delta.Extracted)
	}
	if delta.Summary != "" {
		next.Summary = delta.Summary
	}
	return next
}

// MergeQualification folds a new assessment into the previous one without
// regressions: a criterion already matched or missed keeps its verdict, and
// only unknown criteria may be decided by the update. The status is derived
// from the merged sets, which keeps it monotone by construction.
func MergeQualification(prev, update models.Qualification) models.Qualification {
	criteria := allCriteria(prev)

	merged := models.Qualification{
		CriteriaMatched: []string{},
		CriteriaUnknown: []string{},
		CriteriaMissed:  []string{},
	}
	for _, c := range criteria {
		verdict := prev.VerdictFor(c)
		if verdict == models.VerdictUnknown {
			verdict = update.VerdictFor(c)
		}
		switch verdict {
		case models.VerdictMatched:
			merged.CriteriaMatched = append(merged.CriteriaMatched, c)
		case models.VerdictMissed:
			merged.CriteriaMissed = append(merged.CriteriaMissed, c)
		default:
			merged.CriteriaUnknown = append(merged.CriteriaUnknown, c)
		}
	}
	merged.Status = DeriveStatus(merged)
	return merged
}

// DeriveStatus computes the overall verdict from the criteria sets. All
// criteria are disqualifying: any missed criterion disqualifies, qualified
// requires every criterion matched.
func DeriveStatus(q models.Qualification) models.QualificationStatus {
	switch {
	case len(q.CriteriaMissed) > 0:
		return models.QualificationDisqualified
	case len(q.CriteriaUnknown) == 0 && len(q.CriteriaMatched) > 0:
		return models.QualificationQualified
	case len(q.CriteriaMatched) > 0:
		return models.QualificationPartial
	default:
		return models.QualificationUnknown
	}
}

// normalizeQualification reconciles persisted sets against the workflow's
// configured criteria list: decided verdicts for still-configured criteria
// are kept, criteria added to the workflow appear as unknown, and criteria
// removed from the workflow drop out of view.
func normalizeQualification(q models.Qualification, criteria []string) models.Qualification {
	norm := models.Qualification{
		CriteriaMatched: []string{},
		CriteriaUnknown: []string{},
		CriteriaMissed:  []string{},
	}
	for _, c := range criteria {
		switch q.VerdictFor(c) {
		case models.VerdictMatched:
			norm.CriteriaMatched = append(norm.CriteriaMatched, c)
		case models.VerdictMissed:
			norm.CriteriaMissed = append(norm.CriteriaMissed, c)
		default:
			norm.CriteriaUnknown = append(norm.CriteriaUnknown, c)
		}
	}
	norm.Status = DeriveStatus(norm)
	return norm
}

// allCriteria reconstructs the full configured criteria list from a
// qualification's three sets, preserving their order.
func allCriteria(q models.Qualification) []string {
	out := make([]string, 0, len(q.CriteriaMatched)+len(q.CriteriaUnknown)+len(q.CriteriaMissed))
	seen := make(map[string]bool)
	for _, set := range [][]string{q.CriteriaMatched, q.CriteriaUnknown, q.CriteriaMissed} {
		for _, c := range set {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// mergeExtracted folds newly extracted facts into the accumulated ones.
// Scalars overwrite only when the update carries a value; lists append with
// de-duplication.
func mergeExtracted(prev, update models.ExtractedInfo) models.ExtractedInfo {
	merged := prev
	if update.DecisionMaker != nil {
		merged.DecisionMaker = update.DecisionMaker
	}
	if update.Budget != "" {
		merged.Budget = update.Budget
	}
	if update.Timeline != "" {
		merged.Timeline = update.Timeline
	}
	if update.CompanySize != "" {
		merged.CompanySize = update.CompanySize
	}
	if update.PreferredContactMethod != "" {
		merged.PreferredContactMethod = update.PreferredContactMethod
	}
	merged.PreferredTimes = appendUnique(prev.PreferredTimes, update.PreferredTimes)
	merged.Objections = appendUnique(prev.Objections, update.Objections)
	merged.Notes = appendUnique(prev.Notes, update.Notes)
	return merged
}

func appendUnique(existing, additions []string) []string {
	if len(additions) == 0 {
		return existing
	}
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(additions))
	for _, v := range existing {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range additions {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
