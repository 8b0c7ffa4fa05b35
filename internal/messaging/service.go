// Package messaging provides the outbound delivery and inbound normalization
// layer for LeadRelay.
//
// A Service hides the provider behind a small surface: validate a recipient,
// send a message, surface inbound traffic. Inbound messages arrive either
// through a provider webhook (Twilio) or a live event stream (whatsmeow);
// both are normalized to models.InboundMessage before the orchestrator sees
// them.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/leadrelay/leadrelay/internal/models"
)

// Constants for messaging service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for inbound channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// phoneNumberRegex matches everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier. Returns the canonicalized recipient and an error if
	// validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient over the given channel and
	// returns the provider's message ID for the outbound record.
	SendMessage(ctx context.Context, channel models.Channel, to string, body string) (string, error)

	// Start begins any background processing (e.g., provider event streams).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Inbound returns a channel of incoming messages. Providers whose inbound
	// traffic arrives over a webhook return a channel that never emits.
	Inbound() <-chan models.InboundMessage
}

// optOutKeywords are the carrier-mandated stop words. Matching is exact after
// lowercasing and trimming, never substring, so "please stop calling my
// office" does not opt a contact out.
var optOutKeywords = map[string]struct{}{
	"stop":        {},
	"stopall":     {},
	"unsubscribe": {},
	"cancel":      {},
	"end":         {},
	"quit":        {},
	"opt out":     {},
	"optout":      {},
}

// IsOptOutKeyword reports whether a message body is a deterministic opt-out
// request. The webhook layer applies this before any model-backed processing.
func IsOptOutKeyword(body string) bool {
	normalized := strings.ToLower(strings.TrimSpace(body))
	normalized = strings.TrimRight(normalized, ".!?")
	normalized = strings.TrimSpace(normalized)
	_, ok := optOutKeywords[normalized]
	return ok
}

// canonicalizePhone strips formatting from a phone number and returns it in
// +digits form. At least 6 digits are required.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", errors.New("recipient cannot be empty")
	}
	digits := phoneNumberRegex.ReplaceAllString(recipient, "")
	if digits == "" {
		return "", errors.New("invalid phone number: no digits found")
	}
	if len(digits) < 6 {
		return "", errors.New("invalid phone number: too short (minimum 6 digits required)")
	}
	return "+" + digits, nil
}

// MockService implements Service for tests. It records sent messages and
// lets tests feed inbound traffic.
type MockService struct {
	Sent    []SentMessage
	SendErr error
	inbound chan models.InboundMessage
}

// SentMessage records one MockService send.
type SentMessage struct {
	Channel models.Channel
	To      string
	Body    string
}

// NewMockService creates a MockService with a buffered inbound channel.
func NewMockService() *MockService {
	return &MockService{inbound: make(chan models.InboundMessage, DefaultChannelBufferSize)}
}

func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

func (m *MockService) SendMessage(ctx context.Context, channel models.Channel, to, body string) (string, error) {
	if m.SendErr != nil {
		return "", m.SendErr
	}
	m.Sent = append(m.Sent, SentMessage{Channel: channel, To: to, Body: body})
	return "mock-" + to, nil
}

func (m *MockService) Start(ctx context.Context) error { return nil }

func (m *MockService) Stop() error { return nil }

func (m *MockService) Inbound() <-chan models.InboundMessage { return m.inbound }

// Emit feeds an inbound message into the mock's channel.
func (m *MockService) Emit(msg models.InboundMessage) { m.inbound <- msg }
