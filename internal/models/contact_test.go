package models

import "testing"

func TestContactStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    ContactStatus
		to      ContactStatus
		allowed bool
	}{
		{"pending to in_conversation", ContactStatusPending, ContactStatusInConversation, true},
		{"contacted to in_conversation", ContactStatusContacted, ContactStatusInConversation, true},
		{"in_conversation to qualified", ContactStatusInConversation, ContactStatusQualified, true},
		{"qualified to booked", ContactStatusQualified, ContactStatusBooked, true},
		{"in_conversation to opted_out", ContactStatusInConversation, ContactStatusOptedOut, true},
		{"booked to handed_off", ContactStatusBooked, ContactStatusHandedOff, true},
		{"qualified to in_conversation is backward", ContactStatusQualified, ContactStatusInConversation, false},
		{"booked to qualified is backward", ContactStatusBooked, ContactStatusQualified, false},
		{"self transition rejected", ContactStatusQualified, ContactStatusQualified, false},
		{"opted_out is terminal", ContactStatusOptedOut, ContactStatusInConversation, false},
		{"handed_off is terminal", ContactStatusHandedOff, ContactStatusBooked, false},
		{"opted_out cannot become handed_off", ContactStatusOptedOut, ContactStatusHandedOff, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	if !ContactStatusOptedOut.IsTerminal() {
		t.Error("opted_out should be terminal")
	}
	if !ContactStatusHandedOff.IsTerminal() {
		t.Error("handed_off should be terminal")
	}
	// Booked contacts still receive confirmations and reminders.
	if ContactStatusBooked.IsTerminal() {
		t.Error("booked should not be terminal")
	}
	if ContactStatusInConversation.IsTerminal() {
		t.Error("in_conversation should not be terminal")
	}
}

func TestContactAddress(t *testing.T) {
	c := Contact{PhoneNumber: "+15550001111", Email: "lead@example.com", Channel: ChannelSMS}
	if got := c.Address(); got != "+15550001111" {
		t.Errorf("sms address = %q, want phone number", got)
	}
	c.Channel = ChannelEmail
	if got := c.Address(); got != "lead@example.com" {
		t.Errorf("email address = %q, want email", got)
	}
}
