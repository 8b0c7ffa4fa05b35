// Package models defines the core data structures for LeadRelay.
//
// It includes the contact lifecycle, workflow configuration, the conversation
// context blob, intent classification results, and the shared error taxonomy.
package models

import "errors"

// Channel identifies the transport a conversation runs over.
type Channel string

const (
	// ChannelSMS is plain SMS via the messaging gateway.
	ChannelSMS Channel = "sms"
	// ChannelWhatsApp is WhatsApp, via the gateway or the direct client.
	ChannelWhatsApp Channel = "whatsapp"
	// ChannelEmail is email delivery.
	ChannelEmail Channel = "email"
)

// IsValidChannel checks if the given channel is supported.
func IsValidChannel(c Channel) bool {
	switch c {
	case ChannelSMS, ChannelWhatsApp, ChannelEmail:
		return true
	default:
		return false
	}
}

// ChannelPolicy bounds response generation for one channel.
type ChannelPolicy struct {
	MaxResponseChars int    // hard instruction-level length budget
	MaxTokens        int64  // generation token ceiling
	ToneHint         string // style guidance injected into the system instruction
}

// channelPolicies centralizes per-channel response constraints. Consumed only
// by the prompt assembler.
var channelPolicies = map[Channel]ChannelPolicy{
	ChannelSMS:      {MaxResponseChars: 320, MaxTokens: 150, ToneHint: "Keep replies short and conversational, like a text message. No greetings longer than a few words, no bullet points."},
	ChannelWhatsApp: {MaxResponseChars: 800, MaxTokens: 300, ToneHint: "Keep replies brief and friendly. Short paragraphs are fine, avoid long lists."},
	ChannelEmail:    {MaxResponseChars: 2000, MaxTokens: 600, ToneHint: "Write a concise, well-formed email reply. Full sentences, no subject line."},
}

// PolicyFor returns the response policy for a channel, defaulting to the SMS
// policy for unknown channels so the tightest budget applies.
func PolicyFor(c Channel) ChannelPolicy {
	if p, ok := channelPolicies[c]; ok {
		return p
	}
	return channelPolicies[ChannelSMS]
}

// Error variables for the guard and failure taxonomy. Guard violations are
// checked before any generation call is made.
var (
	ErrContactNotFound  = errors.New("contact not found")
	ErrContactOptedOut  = errors.New("contact has opted out")
	ErrContactHandedOff = errors.New("contact has been handed off to a human")
	ErrWorkflowInactive = errors.New("workflow is not active")
	ErrDuplicateMessage = errors.New("message already processed")
	ErrGenerationFailed = errors.New("generation call failed")
	ErrContextConflict  = errors.New("conversation context was modified concurrently")
)

// TokenUsage reports generation-call token consumption for cost accounting.
type TokenUsage struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Total  int64 `json:"total"`
}

// Add accumulates usage from another call into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Input += other.Input
	u.Output += other.Output
	u.Total += other.Total
}
