package convo

import (
	"testing"

	"github.com/leadrelay/leadrelay/internal/models"
)

func TestNextGoal(t *testing.T) {
	tests := []struct {
		name          string
		current       models.ConversationGoal
		intent        models.IntentType
		qualification models.QualificationStatus
		followUps     int
		want          models.ConversationGoal
	}{
		{"closing is terminal", models.GoalClosing, models.IntentBookingInterest, models.QualificationQualified, 0, models.GoalClosing},
		{"opt out closes", models.GoalQualifyLead, models.IntentOptOut, models.QualificationPartial, 0, models.GoalClosing},
		{"booking interest offers booking", models.GoalQualifyLead, models.IntentBookingInterest, models.QualificationPartial, 0, models.GoalOfferBooking},
		{"confirmation during offer confirms", models.GoalOfferBooking, models.IntentConfirmation, models.QualificationQualified, 0, models.GoalConfirmBooking},
		{"confirmation elsewhere keeps moving", models.GoalQualifyLead, models.IntentConfirmation, models.QualificationUnknown, 0, models.GoalQualifyLead},
		{"objection detours", models.GoalOfferBooking, models.IntentObjection, models.QualificationQualified, 0, models.GoalHandleObjection},
		{"question mid-offer keeps booking on the table", models.GoalOfferBooking, models.IntentQuestion, models.QualificationQualified, 0, models.GoalOfferBooking},
		{"question early answers", models.GoalQualifyLead, models.IntentQuestion, models.QualificationUnknown, 0, models.GoalAnswerQuestion},
		{"negative during objection closes", models.GoalHandleObjection, models.IntentNegativeResponse, models.QualificationPartial, 0, models.GoalClosing},
		{"negative first gets one save attempt", models.GoalQualifyLead, models.IntentNegativeResponse, models.QualificationPartial, 0, models.GoalHandleObjection},
		{"qualified lead gets the offer", models.GoalQualifyLead, models.IntentPositiveResponse, models.QualificationQualified, 0, models.GoalOfferBooking},
		{"disqualified lead closes", models.GoalQualifyLead, models.IntentPositiveResponse, models.QualificationDisqualified, 0, models.GoalClosing},
		{"engagement moves to qualification", models.GoalInitialEngagement, models.IntentPositiveResponse, models.QualificationUnknown, 0, models.GoalQualifyLead},
		{"answered question returns to the track", models.GoalAnswerQuestion, models.IntentPositiveResponse, models.QualificationPartial, 0, models.GoalQualifyLead},
		{"exhausted follow-ups close", models.GoalFollowUp, models.IntentUnclear, models.QualificationUnknown, maxFollowUps, models.GoalClosing},
		{"follow-up with budget left re-qualifies", models.GoalFollowUp, models.IntentPositiveResponse, models.QualificationUnknown, 1, models.GoalQualifyLead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextGoal(tt.current, tt.intent, tt.qualification, tt.followUps)
			if got != tt.want {
				t.Errorf("NextGoal(%s, %s, %s, %d) = %s, want %s",
					tt.current, tt.intent, tt.qualification, tt.followUps, got, tt.want)
			}
		})
	}
}
