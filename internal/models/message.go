package models

import "time"

// MessageDirection indicates whether a message was received or sent.
type MessageDirection string

const (
	// DirectionInbound is a message received from the contact.
	DirectionInbound MessageDirection = "inbound"
	// DirectionOutbound is a message sent to the contact.
	DirectionOutbound MessageDirection = "outbound"
)

// DeliveryStatus tracks gateway delivery state for outbound messages.
type DeliveryStatus string

const (
	DeliveryStatusQueued    DeliveryStatus = "queued"
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// Message is one immutable entry in a conversation's append-only log.
// Content is never mutated after creation; only delivery status fields owned
// by the messaging gateway are updated.
type Message struct {
	ID                string           `json:"id"`
	ContactID         string           `json:"contact_id"`
	Direction         MessageDirection `json:"direction"`
	Channel           Channel          `json:"channel"`
	Content           string           `json:"content"`
	ProviderMessageID string           `json:"provider_message_id,omitempty"`
	DeliveryStatus    DeliveryStatus   `json:"delivery_status,omitempty"`
	Model             string           `json:"model,omitempty"` // generation model for outbound messages
	TokensUsed        int64            `json:"tokens_used,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

// InboundMessage is a normalized inbound webhook payload, before contact
// resolution.
type InboundMessage struct {
	From              string  `json:"from"`
	Body              string  `json:"body"`
	Channel           Channel `json:"channel"`
	ProviderMessageID string  `json:"provider_message_id,omitempty"`
}
