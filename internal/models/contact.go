// Package models defines contact, workflow, and client entities for LeadRelay.
package models

import (
	"encoding/json"
	"time"
)

// ContactStatus represents where a contact sits in the outreach lifecycle.
type ContactStatus string

const (
	// ContactStatusPending indicates the contact has not been messaged yet.
	ContactStatusPending ContactStatus = "pending"
	// ContactStatusContacted indicates an initial outbound message was sent.
	ContactStatusContacted ContactStatus = "contacted"
	// ContactStatusInConversation indicates the contact has replied at least once.
	ContactStatusInConversation ContactStatus = "in_conversation"
	// ContactStatusQualified indicates all qualification criteria are matched.
	ContactStatusQualified ContactStatus = "qualified"
	// ContactStatusBooked indicates an appointment was confirmed.
	ContactStatusBooked ContactStatus = "booked"
	// ContactStatusOptedOut indicates the contact asked to stop receiving messages.
	ContactStatusOptedOut ContactStatus = "opted_out"
	// ContactStatusUnresponsive indicates the follow-up budget was exhausted.
	ContactStatusUnresponsive ContactStatus = "unresponsive"
	// ContactStatusHandedOff indicates a human operator took over the conversation.
	ContactStatusHandedOff ContactStatus = "handed_off"
)

// statusRank orders the lifecycle for monotonicity checks. Terminal statuses
// rank above everything they may be reached from.
var statusRank = map[ContactStatus]int{
	ContactStatusPending:        0,
	ContactStatusContacted:      1,
	ContactStatusInConversation: 2,
	ContactStatusUnresponsive:   3,
	ContactStatusQualified:      4,
	ContactStatusBooked:         5,
	ContactStatusOptedOut:       6,
	ContactStatusHandedOff:      6,
}

// IsValidContactStatus checks if the given contact status is supported.
func IsValidContactStatus(s ContactStatus) bool {
	_, ok := statusRank[s]
	return ok
}

// IsTerminal reports whether automated processing must refuse further turns.
// Booked contacts still receive service messages, so booked is not terminal.
func (s ContactStatus) IsTerminal() bool {
	return s == ContactStatusOptedOut || s == ContactStatusHandedOff
}

// CanTransitionTo reports whether moving from s to next respects the
// lifecycle ordering. Transitions never move backward.
func (s ContactStatus) CanTransitionTo(next ContactStatus) bool {
	if s == next {
		return false
	}
	if s.IsTerminal() {
		return false
	}
	return statusRank[next] > statusRank[s]
}

// Contact is a lead being conversed with, scoped to one workflow.
type Contact struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	Name        string          `json:"name,omitempty"`
	PhoneNumber string          `json:"phone_number,omitempty"`
	Email       string          `json:"email,omitempty"`
	Channel     Channel         `json:"channel"`
	Status      ContactStatus   `json:"status"`
	Context     json.RawMessage `json:"context,omitempty"` // persisted ConversationContext blob
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Address returns the contact's delivery address for its channel.
func (c *Contact) Address() string {
	if c.Channel == ChannelEmail {
		return c.Email
	}
	return c.PhoneNumber
}

// WorkflowKnowledge is the static per-workflow configuration injected into
// prompts. Owned by the workflow entity; immutable input to the assembler.
type WorkflowKnowledge struct {
	BrandSummary     string   `json:"brand_summary,omitempty"`
	Services         []string `json:"services,omitempty"`
	TargetAudience   string   `json:"target_audience,omitempty"`
	Tone             string   `json:"tone,omitempty"`
	CommonObjections []string `json:"common_objections,omitempty"`
	FAQs             []FAQ    `json:"faqs,omitempty"`
	Dos              []string `json:"dos,omitempty"`
	Donts            []string `json:"donts,omitempty"`
	GoalDescription  string   `json:"goal_description,omitempty"`
}

// FAQ is a single question/answer pair in workflow knowledge.
type FAQ struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Workflow is a configured outreach campaign belonging to a client.
type Workflow struct {
	ID                   string            `json:"id"`
	ClientID             string            `json:"client_id"`
	Name                 string            `json:"name"`
	Active               bool              `json:"active"`
	Channel              Channel           `json:"channel"`
	QualificationCriteria []string         `json:"qualification_criteria"`
	Knowledge            WorkflowKnowledge `json:"knowledge"`
	AppointmentDuration  int               `json:"appointment_duration_minutes"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// Client is the business a workflow belongs to.
type Client struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Timezone  string    `json:"timezone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ContactBundle is the loaded aggregate the orchestrator operates on.
type ContactBundle struct {
	Contact  Contact
	Workflow Workflow
	Client   Client
}

// StatusUpdate describes a contact status transition decided by one turn.
type StatusUpdate struct {
	NewStatus ContactStatus `json:"new_status"`
	Reason    string        `json:"reason,omitempty"`
}
