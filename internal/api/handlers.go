// Package api provides HTTP handlers for LeadRelay endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/leadrelay/leadrelay/internal/messaging"
	"github.com/leadrelay/leadrelay/internal/models"
)

// inboundResult is the webhook response payload for a processed turn.
type inboundResult struct {
	ContactID string `json:"contactId"`
	Response  string `json:"response,omitempty"`
	OptedOut  bool   `json:"optedOut,omitempty"`
	Escalated bool   `json:"escalated,omitempty"`
}

// twilioWebhookHandler receives form-encoded inbound messages from Twilio.
// Ignorable conditions answer 200 so Twilio does not retry; generation
// failures answer 500 so it does.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.twilioWebhookHandler: processing webhook", "path", r.URL.Path)

	in, err := messaging.ParseTwilioWebhook(r)
	if err != nil {
		slog.Warn("Server.twilioWebhookHandler: malformed webhook", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid webhook payload"))
		return
	}

	result, err := s.handleInbound(r.Context(), *in)
	if err != nil {
		if isIgnorable(err) {
			slog.Info("Server.twilioWebhookHandler: inbound ignored", "reason", err, "from", in.From)
			writeJSONResponse(w, http.StatusOK, models.Ignored(err.Error()))
			return
		}
		slog.Error("Server.twilioWebhookHandler: processing failed", "error", err, "from", in.From)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// contactMessageRequest is the manual invocation payload.
type contactMessageRequest struct {
	Body              string `json:"body"`
	ProviderMessageID string `json:"providerMessageId,omitempty"`
}

// contactMessageHandler runs one conversation turn for a contact without a
// provider webhook, returning the full processing result. The reply is not
// delivered anywhere; this exists for manual and test invocation.
func (s *Server) contactMessageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	contactID := r.PathValue("id")

	var req contactMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.contactMessageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Body == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Message body is required"))
		return
	}
	if req.ProviderMessageID == "" {
		req.ProviderMessageID = "manual-" + uuid.NewString()
	}

	result, err := s.orch.ProcessMessage(r.Context(), contactID, req.Body, req.ProviderMessageID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrContactNotFound):
			writeJSONResponse(w, http.StatusNotFound, models.Error("Contact not found"))
		case isIgnorable(err):
			writeJSONResponse(w, http.StatusOK, models.Ignored(err.Error()))
		default:
			slog.Error("Server.contactMessageHandler: processing failed", "error", err, "contactID", contactID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		}
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// healthHandler reports service liveness.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "ok"}))
}

// handleInbound runs one inbound message through the pipeline: deterministic
// opt-out keywords short-circuit before any model call, everything else goes
// through the orchestrator, and the generated reply is sent back over the
// message's channel. The reply is sent only after the turn has committed.
func (s *Server) handleInbound(ctx context.Context, in models.InboundMessage) (*inboundResult, error) {
	bundle, err := s.repo.FindContactByAddress(ctx, in.From)
	if err != nil {
		return nil, err
	}
	contact := &bundle.Contact

	if messaging.IsOptOutKeyword(in.Body) {
		return s.handleKeywordOptOut(ctx, contact, in)
	}

	result, err := s.orch.ProcessMessage(ctx, contact.ID, in.Body, in.ProviderMessageID)
	if err != nil {
		return nil, err
	}

	if _, sendErr := s.msg.SendMessage(ctx, in.Channel, contact.Address(), result.Response); sendErr != nil {
		// The turn is committed; delivery failure is a provider problem and
		// must not resurface as a webhook retry that would duplicate the turn.
		slog.Error("Server.handleInbound: reply delivery failed", "error", sendErr, "contactID", contact.ID)
	}

	return &inboundResult{
		ContactID: contact.ID,
		Response:  result.Response,
		Escalated: result.ShouldEscalate,
	}, nil
}

// handleKeywordOptOut records a carrier stop word without invoking any model.
// Repeated delivery of the same keyword is harmless.
func (s *Server) handleKeywordOptOut(ctx context.Context, contact *models.Contact, in models.InboundMessage) (*inboundResult, error) {
	slog.Info("Server.handleKeywordOptOut: opt-out keyword received", "contactID", contact.ID)

	if err := s.repo.SaveMessage(ctx, &models.Message{
		ContactID:         contact.ID,
		Direction:         models.DirectionInbound,
		Channel:           in.Channel,
		Content:           in.Body,
		ProviderMessageID: in.ProviderMessageID,
		CreatedAt:         time.Now(),
	}); err != nil {
		return nil, err
	}

	if !contact.Status.IsTerminal() {
		if err := s.repo.UpdateContactStatus(ctx, contact.ID, models.ContactStatusOptedOut); err != nil {
			return nil, err
		}
	}
	return &inboundResult{ContactID: contact.ID, OptedOut: true}, nil
}

// isIgnorable reports whether a processing error should be acknowledged
// rather than retried.
func isIgnorable(err error) bool {
	return errors.Is(err, models.ErrContactNotFound) ||
		errors.Is(err, models.ErrContactOptedOut) ||
		errors.Is(err, models.ErrContactHandedOff) ||
		errors.Is(err, models.ErrWorkflowInactive) ||
		errors.Is(err, models.ErrDuplicateMessage)
}
