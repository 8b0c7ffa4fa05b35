package models

// IntentType is the classified communicative purpose of one inbound message.
type IntentType string

const (
	IntentBookingInterest  IntentType = "booking_interest"
	IntentQuestion         IntentType = "question"
	IntentObjection        IntentType = "objection"
	IntentPositiveResponse IntentType = "positive_response"
	IntentNegativeResponse IntentType = "negative_response"
	IntentOptOut           IntentType = "opt_out"
	IntentRequestHuman     IntentType = "request_human"
	IntentConfirmation     IntentType = "confirmation"
	IntentUnclear          IntentType = "unclear"
	IntentGreeting         IntentType = "greeting"
	IntentThanks           IntentType = "thanks"
)

// IsValidIntent checks if the given intent is part of the closed intent set.
func IsValidIntent(i IntentType) bool {
	switch i {
	case IntentBookingInterest, IntentQuestion, IntentObjection, IntentPositiveResponse,
		IntentNegativeResponse, IntentOptOut, IntentRequestHuman, IntentConfirmation,
		IntentUnclear, IntentGreeting, IntentThanks:
		return true
	default:
		return false
	}
}

// IntentClassification is the ephemeral result of classifying one inbound
// message. It is consumed immediately and never persisted as its own entity.
type IntentClassification struct {
	Intent             IntentType        `json:"intent"`
	Confidence         float64           `json:"confidence"`
	Entities           map[string]string `json:"entities,omitempty"`
	RequiresEscalation bool              `json:"requires_escalation"`
	EscalationReason   string            `json:"escalation_reason,omitempty"`
}
