package convo

import (
	"context"
	"errors"
	"testing"

	"github.com/leadrelay/leadrelay/internal/models"
	"github.com/leadrelay/leadrelay/internal/store"
)

const (
	classifyPositive = `{"intent": "positive_response", "confidence": 0.9}`
	classifyOptOut   = `{"intent": "opt_out", "confidence": 0.95}`
	classifyHuman    = `{"intent": "request_human", "confidence": 0.9}`
	classifyConfirm  = `{"intent": "confirmation", "confidence": 0.92}`
	assessNothingNew = `{"criteria": [
		{"criterion": "owns a business", "verdict": "unknown"},
		{"criterion": "budget over $500/month", "verdict": "unknown"}],
		"extracted_info": {}}`
	assessAllMatched = `{"criteria": [
		{"criterion": "owns a business", "verdict": "matched"},
		{"criterion": "budget over $500/month", "verdict": "matched"}],
		"extracted_info": {"budget": "$700/month"}}`
)

// seedRepo builds an in-memory repository with one client, one active
// workflow and one contact ready to converse.
func seedRepo(t *testing.T, status models.ContactStatus) store.Repository {
	t.Helper()
	repo := store.NewInMemoryRepository()
	ctx := context.Background()

	client := &models.Client{ID: "cl1", Name: "Bright Smile Dental", Timezone: "America/Toronto"}
	if err := repo.CreateClient(ctx, client); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	workflow := &models.Workflow{
		ID:                    "wf1",
		ClientID:              "cl1",
		Name:                  "new patient outreach",
		Active:                true,
		Channel:               models.ChannelSMS,
		QualificationCriteria: testCriteria,
		AppointmentDuration:   30,
		Knowledge:             testKnowledge(),
	}
	if err := repo.CreateWorkflow(ctx, workflow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	contact := &models.Contact{
		ID:          "c1",
		WorkflowID:  "wf1",
		Name:        "Dana",
		PhoneNumber: "+15550001111",
		Channel:     models.ChannelSMS,
		Status:      status,
	}
	if err := repo.CreateContact(ctx, contact); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return repo
}

func TestProcessMessageHappyPath(t *testing.T) {
	repo := seedRepo(t, models.ContactStatusContacted)
	gen := &stubGen{}
	gen.enqueue(classifyPositive)
	gen.enqueue(assessNothingNew)
	gen.enqueue("Great to hear from you, Dana! Do you run your own business?")

	o := NewOrchestrator(repo, gen)
	result, err := o.ProcessMessage(context.Background(), "c1", "hi, saw your message", "SM1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Response == "" {
		t.Error("response should carry the generated reply")
	}
	if result.Context.State.TurnCount != 1 {
		t.Errorf("turnCount = %d, want 1", result.Context.State.TurnCount)
	}
	if result.Intent.Intent != models.IntentPositiveResponse {
		t.Errorf("intent = %q", result.Intent.Intent)
	}
	if result.TokensUsed.Total == 0 {
		t.Error("token usage should accumulate across calls")
	}
	// classify + assess + reply
	if gen.callCount() != 3 {
		t.Errorf("provider calls = %d, want 3", gen.callCount())
	}

	// Inbound and outbound both landed in the log.
	history, err := repo.ListMessages(context.Background(), "c1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("message log length = %d, want 2", len(history))
	}
	if history[0].Direction != models.DirectionInbound || history[1].Direction != models.DirectionOutbound {
		t.Errorf("log order wrong: %v then %v", history[0].Direction, history[1].Direction)
	}

	// Early-stage contact bumps to in_conversation.
	bundle, err := repo.GetContactBundle(context.Background(), "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bundle.Contact.Status != models.ContactStatusInConversation {
		t.Errorf("status = %q, want in_conversation", bundle.Contact.Status)
	}

	// Context persisted: a second load starts from turn 1.
	persisted := ParseContext(bundle.Contact.Context, testCriteria)
	if persisted.State.TurnCount != 1 {
		t.Errorf("persisted turnCount = %d, want 1", persisted.State.TurnCount)
	}
}

func TestProcessMessageTurnCountTracksDeliveries(t *testing.T) {
	repo := seedRepo(t, models.ContactStatusInConversation)
	gen := &stubGen{}
	o := NewOrchestrator(repo, gen)

	for i := 1; i <= 3; i++ {
		gen.enqueue(classifyPositive)
		gen.enqueue(assessNothingNew)
		gen.enqueue("reply")
		result, err := o.ProcessMessage(context.Background(), "c1", "another message", "")
		if err != nil {
			t.Fatalf("turn %d: unexpected error: %v", i, err)
		}
		if result.Context.State.TurnCount != i {
			t.Errorf("turn %d: turnCount = %d", i, result.Context.State.TurnCount)
		}
	}
}

func TestProcessMessageTerminalGuards(t *testing.T) {
	tests := []struct {
		name    string
		status  models.ContactStatus
		wantErr error
	}{
		{"opted out", models.ContactStatusOptedOut, models.ErrContactOptedOut},
		{"handed off", models.ContactStatusHandedOff, models.ErrContactHandedOff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := seedRepo(t, tt.status)
			gen := &stubGen{}
			o := NewOrchestrator(repo, gen)
			_, err := o.ProcessMessage(context.Background(), "c1", "hello again", "SM2")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if gen.callCount() != 0 {
				t.Errorf("terminal contact must not trigger provider calls, got %d", gen.callCount())
			}
		})
	}
}

func TestProcessMessageInactiveWorkflow(t *testing.T) {
	repo := store.NewInMemoryRepository()
	ctx := context.Background()
	repo.CreateClient(ctx, &models.Client{ID: "cl1", Name: "x"})
	repo.CreateWorkflow(ctx, &models.Workflow{ID: "wf1", ClientID: "cl1", Active: false, QualificationCriteria: testCriteria})
	repo.CreateContact(ctx, &models.Contact{ID: "c1", WorkflowID: "wf1", PhoneNumber: "+15550001111", Channel: models.ChannelSMS, Status: models.ContactStatusInConversation})

	gen := &stubGen{}
	o := NewOrchestrator(repo, gen)
	_, err := o.ProcessMessage(ctx, "c1", "hello?", "SM3")
	if !errors.Is(err, models.ErrWorkflowInactive) {
		t.Errorf("err = %v, want ErrWorkflowInactive", err)
	}
	if gen.callCount() != 0 {
		t.Error("paused workflow must not trigger provider calls")
	}
}

func TestProcessMessageUnknownContact(t *testing.T) {
	repo := seedRepo(t, models.ContactStatusInConversation)
	o := NewOrchestrator(repo, &stubGen{})
	_, err := o.ProcessMessage(context.Background(), "nobody", "hi", "SM4")
	if !errors.Is(err, models.ErrContactNotFound) {
		t.Errorf("err = %v, want ErrContactNotFound", err)
	}
}

func TestProcessMessageDuplicateDelivery(t *testing.T) {
	repo := seedRepo(t, models.ContactStatusInConversation)
	gen := &stubGen{}
	gen.enqueue(classifyPositive)
	gen.enqueue(assessNothingNew)
	gen.enqueue("first reply")

	o := NewOrchestrator(repo, gen)
	if _, err := o.ProcessMessage(context.Background(), "c1", "hi", "SM5"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	callsAfterFirst := gen.callCount()

	_, err := o.ProcessMessage(context.Background(), "c1", "hi", "SM5")
	if !errors.Is(err, models.ErrDuplicateMessage) {
		t.Errorf("err = %v, want ErrDuplicateMessage", err)
	}
	if gen.callCount() != callsAfterFirst {
		t.Error("duplicate delivery must not trigger provider calls")
	}

	history, _ := repo.ListMessages(context.Background(), "c1", 0)
	if len(history) != 2 {
		t.Errorf("message log length = %d, want 2 after duplicate", len(history))
	}
}

func TestProcessMessageGenerationFailureIsRetryable(t *testing.T) {
	repo := seedRepo(t, models.ContactStatusInConversation)
	gen := &stubGen{}
	gen.enqueue(classifyPositive)
	gen.enqueue(assessNothingNew)
	gen.enqueueErr(errors.New("model overloaded"))

	o := NewOrchestrator(repo, gen)
	_, err := o.ProcessMessage(context.Background(), "c1", "hi there", "SM6")
	if !errors.Is(err, models.ErrGenerationFailed) {
		t.Fatalf("err = %v, want ErrGenerationFailed", err)
	}

	// The failed turn is not marked processed, so a retry goes through.
	processed, _ := repo.WasProcessed(context.Background(), "SM6")
	if processed {
		t.Error("failed turn must not be marked processed")
	}

	gen.enqueue(classifyPositive)
	gen.enqueue(assessNothingNew)
	gen.enqueue("recovered reply")
	result, err := o.ProcessMessage(context.Background(), "c1", "hi there", "SM6")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if result.Response != "recovered reply" {
		t.Errorf("response = %q", result.Response)
	}
	if result.Context.State.TurnCount != 1 {
		t.Errorf("retried turn counted twice: turnCount = %d", result.Context.State.TurnCount)
	}

	// The inbound message was persisted once, not per attempt.
	history, _ := repo.ListMessages(context.Background(), "c1", 0)
	inbound := 0
	for _, m := range history {
		if m.Direction == models.DirectionInbound {
			inbound++
		}
	}
	if inbound != 1 {
		t.Errorf("inbound messages = %d, want 1", inbound)
	}
}

func TestProcessMessageOptOutIntent(t *testing.T) {
	repo := seedRepo(t, models.ContactStatusInConversation)
	gen := &stubGen{}
	gen.enqueue(classifyOptOut)
	gen.enqueue("Understood, you won't hear from us again. Take care!")

	o := NewOrchestrator(repo, gen)
	result, err := o.ProcessMessage(context.Background(), "c1", "please don't contact me anymore", "SM7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Opt-out carries no qualification signal: classify + reply only.
	if gen.callCount() != 2 {
		t.Errorf("provider calls = %d, want 2 (assessment skipped)", gen.callCount())
	}
	if result.StatusUpdate == nil || result.StatusUpdate.NewStatus != models.ContactStatusOptedOut {
		t.Fatalf("statusUpdate = %+v, want opted_out", result.StatusUpdate)
	}
	bundle, _ := repo.GetContactBundle(context.Background(), "c1")
	if bundle.Contact.Status != models.ContactStatusOptedOut {
		t.Errorf("persisted status = %q, want opted_out", bundle.Contact.Status)
	}
	if result.Context.State.CurrentGoal != models.GoalClosing {
		t.Errorf("goal = %q, want closing", result.Context.State.CurrentGoal)
	}
}

func TestProcessMessageRequestHumanHandsOff(t *testing.T) {
	repo := seedRepo(t, models.ContactStatusInConversation)
	gen := &stubGen{}
	gen.enqueue(classifyHuman)
	gen.enqueue("Of course, a member of our team will reach out shortly.")

	o := NewOrchestrator(repo, gen)
	result, err := o.ProcessMessage(context.Background(), "c1", "can I talk to a real person?", "SM8")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.ShouldEscalate {
		t.Error("request_human must escalate")
	}
	if result.EscalationReason == "" {
		t.Error("escalation reason missing")
	}
	if result.Context.State.EscalationAttempts != 1 {
		t.Errorf("escalationAttempts = %d, want 1", result.Context.State.EscalationAttempts)
	}
	bundle, _ := repo.GetContactBundle(context.Background(), "c1")
	if bundle.Contact.Status != models.ContactStatusHandedOff {
		t.Errorf("persisted status = %q, want handed_off", bundle.Contact.Status)
	}

	// The next turn is refused at the guard.
	_, err = o.ProcessMessage(context.Background(), "c1", "hello?", "SM9")
	if !errors.Is(err, models.ErrContactHandedOff) {
		t.Errorf("post-handoff err = %v, want ErrContactHandedOff", err)
	}
}

func TestProcessMessageQualification(t *testing.T) {
	repo := seedRepo(t, models.ContactStatusInConversation)
	gen := &stubGen{}
	gen.enqueue(classifyPositive)
	gen.enqueue(assessAllMatched)
	gen.enqueue("You sound like a great fit! Would Tuesday work for a visit?")

	o := NewOrchestrator(repo, gen)
	result, err := o.ProcessMessage(context.Background(), "c1", "I own the bakery and spend about $700 a month", "SM10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Qualification.Status != models.QualificationQualified {
		t.Errorf("qualification = %q, want qualified", result.Qualification.Status)
	}
	if result.StatusUpdate == nil || result.StatusUpdate.NewStatus != models.ContactStatusQualified {
		t.Fatalf("statusUpdate = %+v, want qualified", result.StatusUpdate)
	}
	if result.Context.State.CurrentGoal != models.GoalOfferBooking {
		t.Errorf("goal = %q, want offer_booking", result.Context.State.CurrentGoal)
	}
	if result.Context.ExtractedInfo.Budget != "$700/month" {
		t.Errorf("budget = %q", result.Context.ExtractedInfo.Budget)
	}

	// Next turn: qualified verdicts are pinned, so no assessment call.
	gen.enqueue(classifyConfirm)
	gen.enqueue("Perfect, you're booked for Tuesday at 2pm!")
	before := gen.callCount()
	result2, err := o.ProcessMessage(context.Background(), "c1", "yes Tuesday works", "SM11")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gen.callCount()-before != 2 {
		t.Errorf("second turn provider calls = %d, want 2 (assessment skipped)", gen.callCount()-before)
	}
	if result2.StatusUpdate == nil || result2.StatusUpdate.NewStatus != models.ContactStatusBooked {
		t.Fatalf("statusUpdate = %+v, want booked", result2.StatusUpdate)
	}
	if result2.Context.State.CurrentGoal != models.GoalConfirmBooking {
		t.Errorf("goal = %q, want confirm_booking", result2.Context.State.CurrentGoal)
	}
}

func TestProcessMessageEmptyBody(t *testing.T) {
	repo := seedRepo(t, models.ContactStatusInConversation)
	o := NewOrchestrator(repo, &stubGen{})
	if _, err := o.ProcessMessage(context.Background(), "c1", "   ", "SM12"); err == nil {
		t.Error("empty body should be rejected")
	}
}

func TestProcessMessageBookedContactKeepsProgress(t *testing.T) {
	repo := store.NewInMemoryRepository()
	ctx := context.Background()
	repo.CreateClient(ctx, &models.Client{ID: "cl1", Name: "Bright Smile Dental"})
	repo.CreateWorkflow(ctx, &models.Workflow{
		ID: "wf1", ClientID: "cl1", Active: true, Channel: models.ChannelSMS,
		QualificationCriteria: testCriteria, AppointmentDuration: 30, Knowledge: testKnowledge(),
	})
	prev := models.ConversationContext{
		Qualification: models.Qualification{
			Status:          models.QualificationQualified,
			CriteriaMatched: testCriteria,
		},
		State: models.ConversationState{CurrentGoal: models.GoalConfirmBooking, TurnCount: 4},
	}
	raw, err := EncodeContext(prev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	repo.CreateContact(ctx, &models.Contact{
		ID: "c1", WorkflowID: "wf1", Name: "Dana", PhoneNumber: "+15550001111",
		Channel: models.ChannelSMS, Status: models.ContactStatusBooked, Context: raw,
	})

	gen := &stubGen{}
	gen.enqueue(`{"intent": "question", "confidence": 0.85}`)
	gen.enqueue("Just bring your health card. See you Tuesday!")

	o := NewOrchestrator(repo, gen)
	result, err := o.ProcessMessage(ctx, "c1", "what should I bring to the appointment?", "SM20")
	if err != nil {
		t.Fatalf("booked contacts must still be answered: %v", err)
	}
	// All criteria are already decided, so only classify + reply hit the
	// provider.
	if gen.callCount() != 2 {
		t.Errorf("provider calls = %d, want 2", gen.callCount())
	}

	// The conversation keeps going but nothing regresses.
	if result.Qualification.Status != models.QualificationQualified {
		t.Errorf("qualification = %q, want qualified", result.Qualification.Status)
	}
	if result.Context.State.CurrentGoal != models.GoalConfirmBooking {
		t.Errorf("goal = %q, want confirm_booking", result.Context.State.CurrentGoal)
	}
	if result.Context.State.TurnCount != 5 {
		t.Errorf("turnCount = %d, want 5", result.Context.State.TurnCount)
	}
	if result.StatusUpdate != nil {
		t.Errorf("statusUpdate = %+v, want none", result.StatusUpdate)
	}
	bundle, err := repo.GetContactBundle(ctx, "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bundle.Contact.Status != models.ContactStatusBooked {
		t.Errorf("status = %q, want booked", bundle.Contact.Status)
	}
}
