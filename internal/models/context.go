// Package models defines the conversation context structures for LeadRelay.
package models

import "time"

// QualificationStatus is the overall verdict against a workflow's criteria.
type QualificationStatus string

const (
	// QualificationUnknown means no criterion has been decided yet.
	QualificationUnknown QualificationStatus = "unknown"
	// QualificationPartial means at least one criterion matched, none missed.
	QualificationPartial QualificationStatus = "partial"
	// QualificationQualified means every criterion matched.
	QualificationQualified QualificationStatus = "qualified"
	// QualificationDisqualified means a disqualifying criterion was missed.
	QualificationDisqualified QualificationStatus = "disqualified"
)

// CriterionVerdict is the per-criterion assessment outcome.
type CriterionVerdict string

const (
	VerdictMatched CriterionVerdict = "matched"
	VerdictMissed  CriterionVerdict = "missed"
	VerdictUnknown CriterionVerdict = "unknown"
)

// Qualification partitions the configured criteria set into matched, unknown
// and missed. The three sets always cover exactly the full criteria list with
// no duplicates; a criterion only ever moves out of unknown.
type Qualification struct {
	Status          QualificationStatus `json:"status"`
	CriteriaMatched []string            `json:"criteria_matched"`
	CriteriaUnknown []string            `json:"criteria_unknown"`
	CriteriaMissed  []string            `json:"criteria_missed"`
}

// VerdictFor returns the current verdict for one criterion.
func (q *Qualification) VerdictFor(criterion string) CriterionVerdict {
	for _, c := range q.CriteriaMatched {
		if c == criterion {
			return VerdictMatched
		}
	}
	for _, c := range q.CriteriaMissed {
		if c == criterion {
			return VerdictMissed
		}
	}
	return VerdictUnknown
}

// ExtractedInfo holds factual findings accumulated across turns. Scalar
// fields overwrite-if-present; list fields are append-only.
type ExtractedInfo struct {
	DecisionMaker          *bool    `json:"decision_maker,omitempty"`
	Budget                 string   `json:"budget,omitempty"`
	Timeline               string   `json:"timeline,omitempty"`
	CompanySize            string   `json:"company_size,omitempty"`
	PreferredContactMethod string   `json:"preferred_contact_method,omitempty"`
	PreferredTimes         []string `json:"preferred_times,omitempty"`
	Objections             []string `json:"objections,omitempty"`
	Notes                  []string `json:"notes,omitempty"`
}

// ConversationGoal is the orchestrator's current objective for a contact.
type ConversationGoal string

const (
	GoalInitialEngagement ConversationGoal = "initial_engagement"
	GoalQualifyLead       ConversationGoal = "qualify_lead"
	GoalHandleObjection   ConversationGoal = "handle_objection"
	GoalAnswerQuestion    ConversationGoal = "answer_question"
	GoalOfferBooking      ConversationGoal = "offer_booking"
	GoalConfirmBooking    ConversationGoal = "confirm_booking"
	GoalFollowUp          ConversationGoal = "follow_up"
	GoalClosing           ConversationGoal = "closing"
)

// IsValidGoal checks if the given conversation goal is supported.
func IsValidGoal(g ConversationGoal) bool {
	switch g {
	case GoalInitialEngagement, GoalQualifyLead, GoalHandleObjection, GoalAnswerQuestion,
		GoalOfferBooking, GoalConfirmBooking, GoalFollowUp, GoalClosing:
		return true
	default:
		return false
	}
}

// ConversationState tracks per-contact conversation progress counters.
// TurnCount increases by exactly one per processed inbound message.
type ConversationState struct {
	CurrentGoal        ConversationGoal `json:"current_goal"`
	TurnCount          int              `json:"turn_count"`
	LastIntent         IntentType       `json:"last_intent,omitempty"`
	EscalationAttempts int              `json:"escalation_attempts"`
	// FollowUpsSent counts outbound follow-up nudges. The engine never
	// increments it; whatever sends follow-ups writes it into the seeded
	// context, and the engine only reads it to close exhausted conversations.
	FollowUpsSent int `json:"follow_ups_sent"`
	LastMessageAt      time.Time        `json:"last_message_at,omitempty"`
}

// ConversationContext is the unit of conversational memory, one per contact,
// persisted as a structured JSON blob on the contact record. It is always
// fully typed past the parse boundary; no untyped map escapes the context
// model.
type ConversationContext struct {
	ExtractedInfo ExtractedInfo     `json:"extracted_info"`
	Qualification Qualification     `json:"qualification"`
	State         ConversationState `json:"state"`
	// Summary is a lossy free-text digest injected into prompts. Never used
	// for qualification logic.
	Summary string `json:"summary,omitempty"`
}
