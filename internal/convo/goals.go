package convo

import "github.com/leadrelay/leadrelay/internal/models"

// maxFollowUps is the follow-up budget; exhausting it closes the conversation.
const maxFollowUps = 3

// NextGoal derives the new conversation goal from the current goal and the
// classified intent. Transitions are intent-driven; closing is terminal.
func NextGoal(current models.ConversationGoal, intent models.IntentType, qualification models.QualificationStatus, followUpsSent int) models.ConversationGoal {
	if current == models.GoalClosing {
		return models.GoalClosing
	}
	if intent == models.IntentOptOut {
		return models.GoalClosing
	}
	if followUpsSent >= maxFollowUps && current == models.GoalFollowUp {
		return models.GoalClosing
	}

	switch intent {
	case models.IntentBookingInterest:
		return models.GoalOfferBooking
	case models.IntentConfirmation:
		if current == models.GoalOfferBooking || current == models.GoalConfirmBooking {
			return models.GoalConfirmBooking
		}
	case models.IntentObjection:
		return models.GoalHandleObjection
	case models.IntentQuestion:
		// Booking stays on the table while a question is answered mid-offer.
		if current == models.GoalOfferBooking || current == models.GoalConfirmBooking {
			return current
		}
		return models.GoalAnswerQuestion
	case models.IntentNegativeResponse:
		if current == models.GoalHandleObjection {
			return models.GoalClosing
		}
		return models.GoalHandleObjection
	}

	// Default forward motion: a qualified lead gets the booking offer, an
	// engaged lead gets qualified, and resolved detours return to the main
	// track.
	if qualification == models.QualificationQualified {
		return models.GoalOfferBooking
	}
	if qualification == models.QualificationDisqualified {
		return models.GoalClosing
	}
	switch current {
	case models.GoalInitialEngagement, models.GoalAnswerQuestion, models.GoalHandleObjection, models.GoalFollowUp:
		return models.GoalQualifyLead
	}
	return current
}
