package convo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/leadrelay/leadrelay/internal/contactlock"
	"github.com/leadrelay/leadrelay/internal/genai"
	"github.com/leadrelay/leadrelay/internal/models"
	"github.com/leadrelay/leadrelay/internal/store"
	"github.com/patrickmn/go-cache"
)

// Dedup cache configuration. The cache is a hot layer in front of the
// durable processed-messages table.
const (
	dedupCacheTTL     = 30 * time.Minute
	dedupCacheCleanup = 10 * time.Minute
)

// historyLoadLimit bounds how much of the message log one turn loads.
const historyLoadLimit = 60

// Orchestrator sequences one conversation turn: guards, intent
// classification, qualification assessment, prompt assembly, generation,
// context merge and persistence. It exclusively owns context mutation; no
// other component writes back to the contact record.
type Orchestrator struct {
	repo       store.Repository
	gen        genai.ClientInterface
	classifier *Classifier
	assessor   *Assessor
	locks      *contactlock.Locker
	dedup      *cache.Cache
}

// NewOrchestrator creates the conversation engine over the given repository
// and generation client.
func NewOrchestrator(repo store.Repository, gen genai.ClientInterface) *Orchestrator {
	slog.Debug("convo.NewOrchestrator: creating orchestrator", "hasRepo", repo != nil, "hasGenAI", gen != nil)
	return &Orchestrator{
		repo:       repo,
		gen:        gen,
		classifier: NewClassifier(gen),
		assessor:   NewAssessor(gen),
		locks:      contactlock.NewLocker(),
		dedup:      cache.New(dedupCacheTTL, dedupCacheCleanup),
	}
}

// ProcessMessage runs one turn for a contact. The inbound body is the raw
// message text; providerMessageID, when set, deduplicates gateway retries.
//
// Guard violations (ErrContactNotFound, ErrContactOptedOut,
// ErrContactHandedOff, ErrWorkflowInactive, ErrDuplicateMessage) are
// returned before any generation call is made. A generation failure is
// returned wrapped in ErrGenerationFailed and is retryable: the inbound
// message is already recorded, so a retry recomputes the response without
// duplicating history.
func (o *Orchestrator) ProcessMessage(ctx context.Context, contactID, body, providerMessageID string) (*models.ProcessResult, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("message body cannot be empty")
	}

	// Turns for one contact are serialized for their full duration: the
	// context read-modify-write is not atomic, and turns apply in
	// lock-acquisition order.
	unlock := o.locks.Lock(contactID)
	defer unlock()

	if err := o.checkDuplicate(ctx, providerMessageID); err != nil {
		return nil, err
	}

	bundle, err := o.repo.GetContactBundle(ctx, contactID)
	if err != nil {
		slog.Warn("Orchestrator.ProcessMessage: contact load failed", "error", err, "contactID", contactID)
		return nil, err
	}
	if err := checkGuards(bundle); err != nil {
		slog.Info("Orchestrator.ProcessMessage: guard rejected turn",
			"contactID", contactID, "status", bundle.Contact.Status, "error", err)
		return nil, err
	}

	contact := bundle.Contact
	workflow := bundle.Workflow
	prevCtx := ParseContext(contact.Context, workflow.QualificationCriteria)

	// History is loaded before the inbound message is recorded; a retried
	// turn may already have persisted it, so it is filtered out either way.
	history, err := o.repo.ListMessages(ctx, contactID, historyLoadLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load message history: %w", err)
	}
	history = excludeProviderMessage(history, providerMessageID)

	// The inbound message is durably recorded before any provider call so a
	// retry after a generation failure is side-effect-safe on the read side.
	inboundMsg := &models.Message{
		ID:                uuid.NewString(),
		ContactID:         contactID,
		Direction:         models.DirectionInbound,
		Channel:           contact.Channel,
		Content:           body,
		ProviderMessageID: providerMessageID,
		CreatedAt:         time.Now(),
	}
	if err := o.repo.SaveMessage(ctx, inboundMsg); err != nil {
		return nil, fmt.Errorf("failed to record inbound message: %w", err)
	}

	var usage models.TokenUsage

	intent, classifyUsage := o.classifier.Detect(ctx, body, prevCtx)
	usage.Add(classifyUsage)

	// The assessor is informed by the intent result: turns that end the
	// conversation or hand it off carry no new qualification signal, so the
	// previous verdicts stand without another provider call.
	qualification := normalizeQualification(prevCtx.Qualification, workflow.QualificationCriteria)
	var extracted *models.ExtractedInfo
	if intent.Intent != models.IntentOptOut && intent.Intent != models.IntentRequestHuman {
		var assessUsage models.TokenUsage
		qualification, extracted, assessUsage = o.assessor.Assess(ctx, workflow.QualificationCriteria, prevCtx.Qualification, history, body)
		usage.Add(assessUsage)
	}

	goal := NextGoal(prevCtx.State.CurrentGoal, intent.Intent, qualification.Status, prevCtx.State.FollowUpsSent)

	delta := ContextDelta{
		Intent:             intent.Intent,
		Goal:               goal,
		Qualification:      &qualification,
		Extracted:          extracted,
		EscalationSignaled: intent.RequiresEscalation,
		Timestamp:          inboundMsg.CreatedAt,
	}
	newCtx := ApplyDelta(prevCtx, delta)
	delta.Summary = SynthesizeSummary(newCtx)
	newCtx = ApplyDelta(prevCtx, delta)

	promptCfg := BuildPrompt(workflow.Knowledge, contact, newCtx, history, body, contact.Channel, workflow.AppointmentDuration)
	genResult, err := o.gen.Generate(ctx, promptCfg)
	if err != nil {
		slog.Error("Orchestrator.ProcessMessage: generation call failed",
			"error", err, "contactID", contactID, "model", promptCfg.Model)
		return nil, fmt.Errorf("%w: %v", models.ErrGenerationFailed, err)
	}
	usage.Add(genResult.Usage)

	statusUpdate := deriveStatusUpdate(contact.Status, intent, qualification.Status, prevCtx.State.CurrentGoal, goal)

	// The context write commits first: success must never be reported to the
	// contact's channel when the context did not persist.
	rawCtx, err := EncodeContext(newCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to encode context: %w", err)
	}
	if err := o.repo.UpdateContext(ctx, contactID, rawCtx, newCtx.State.TurnCount); err != nil {
		slog.Error("Orchestrator.ProcessMessage: context write failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to persist context: %w", err)
	}

	outboundMsg := &models.Message{
		ID:         uuid.NewString(),
		ContactID:  contactID,
		Direction:  models.DirectionOutbound,
		Channel:    contact.Channel,
		Content:    genResult.Content,
		Model:      genResult.Model,
		TokensUsed: usage.Total,
		CreatedAt:  time.Now(),
	}
	if err := o.repo.SaveMessage(ctx, outboundMsg); err != nil {
		slog.Error("Orchestrator.ProcessMessage: outbound message write failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to record outbound message: %w", err)
	}

	if statusUpdate != nil {
		if err := o.repo.UpdateContactStatus(ctx, contactID, statusUpdate.NewStatus); err != nil {
			slog.Error("Orchestrator.ProcessMessage: status update failed",
				"error", err, "contactID", contactID, "newStatus", statusUpdate.NewStatus)
			return nil, fmt.Errorf("failed to update contact status: %w", err)
		}
		slog.Info("Orchestrator.ProcessMessage: contact status transitioned",
			"contactID", contactID, "from", contact.Status, "to", statusUpdate.NewStatus, "reason", statusUpdate.Reason)
	}

	// Dedup is marked only once the turn fully committed, so a retry of a
	// failed turn is allowed through; only completed turns are duplicates.
	o.markProcessed(ctx, providerMessageID)

	slog.Info("Orchestrator.ProcessMessage: turn complete",
		"contactID", contactID,
		"intent", intent.Intent,
		"goal", goal,
		"qualification", qualification.Status,
		"turnCount", newCtx.State.TurnCount,
		"shouldEscalate", intent.RequiresEscalation,
		"tokensUsed", usage.Total)

	return &models.ProcessResult{
		Response:         genResult.Content,
		Intent:           intent,
		Qualification:    qualification,
		Context:          newCtx,
		TokensUsed:       usage,
		ShouldEscalate:   intent.RequiresEscalation,
		EscalationReason: intent.EscalationReason,
		StatusUpdate:     statusUpdate,
	}, nil
}

// checkGuards rejects turns for dead conversations before any provider call.
func checkGuards(bundle *models.ContactBundle) error {
	switch bundle.Contact.Status {
	case models.ContactStatusOptedOut:
		return models.ErrContactOptedOut
	case models.ContactStatusHandedOff:
		return models.ErrContactHandedOff
	}
	if !bundle.Workflow.Active {
		return models.ErrWorkflowInactive
	}
	return nil
}

// deriveStatusUpdate decides at most one lifecycle transition for the turn,
// with precedence opted_out > handed_off > booked > qualified, then the
// in_conversation bump for early-stage contacts. Transitions are monotone:
// anything the lifecycle ordering forbids is dropped.
func deriveStatusUpdate(current models.ContactStatus, intent models.IntentClassification, qualification models.QualificationStatus, prevGoal, newGoal models.ConversationGoal) *models.StatusUpdate {
	var candidate *models.StatusUpdate
	switch {
	case intent.Intent == models.IntentOptOut:
		candidate = &models.StatusUpdate{NewStatus: models.ContactStatusOptedOut, Reason: "contact asked to stop"}
	case intent.RequiresEscalation:
		candidate = &models.StatusUpdate{NewStatus: models.ContactStatusHandedOff, Reason: intent.EscalationReason}
	case intent.Intent == models.IntentConfirmation && (prevGoal == models.GoalOfferBooking || prevGoal == models.GoalConfirmBooking) && newGoal == models.GoalConfirmBooking:
		candidate = &models.StatusUpdate{NewStatus: models.ContactStatusBooked, Reason: "booking confirmed"}
	case qualification == models.QualificationQualified:
		candidate = &models.StatusUpdate{NewStatus: models.ContactStatusQualified, Reason: "all qualification criteria matched"}
	case current == models.ContactStatusPending || current == models.ContactStatusContacted:
		candidate = &models.StatusUpdate{NewStatus: models.ContactStatusInConversation, Reason: "contact replied"}
	}
	if candidate == nil || !current.CanTransitionTo(candidate.NewStatus) {
		return nil
	}
	return candidate
}

// checkDuplicate rejects provider message IDs that already completed a turn.
func (o *Orchestrator) checkDuplicate(ctx context.Context, providerMessageID string) error {
	if providerMessageID == "" {
		return nil
	}
	if _, found := o.dedup.Get(providerMessageID); found {
		slog.Info("Orchestrator.checkDuplicate: duplicate delivery dropped (cache)", "providerMessageID", providerMessageID)
		return models.ErrDuplicateMessage
	}
	processed, err := o.repo.WasProcessed(ctx, providerMessageID)
	if err != nil {
		return fmt.Errorf("failed to check processed messages: %w", err)
	}
	if processed {
		o.dedup.Set(providerMessageID, true, cache.DefaultExpiration)
		slog.Info("Orchestrator.checkDuplicate: duplicate delivery dropped (store)", "providerMessageID", providerMessageID)
		return models.ErrDuplicateMessage
	}
	return nil
}

// markProcessed records a completed turn in both dedup layers. Failures are
// logged, not fatal: the turn already committed.
func (o *Orchestrator) markProcessed(ctx context.Context, providerMessageID string) {
	if providerMessageID == "" {
		return
	}
	if err := o.repo.MarkProcessed(ctx, providerMessageID); err != nil {
		slog.Warn("Orchestrator.markProcessed: failed to record processed message", "error", err, "providerMessageID", providerMessageID)
	}
	o.dedup.Set(providerMessageID, true, cache.DefaultExpiration)
}

// excludeProviderMessage filters a retried turn's already-persisted inbound
// message out of the loaded history.
func excludeProviderMessage(history []models.Message, providerMessageID string) []models.Message {
	if providerMessageID == "" {
		return history
	}
	out := history[:0]
	for _, msg := range history {
		if msg.ProviderMessageID == providerMessageID {
			continue
		}
		out = append(out, msg)
	}
	return out
}
