package messaging

import (
	"context"
	"errors"
	"testing"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/leadrelay/leadrelay/internal/models"
	"github.com/leadrelay/leadrelay/internal/whatsapp"
)

func textEvent(from, body, id string) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Sender: types.NewJID(from, whatsapp.JIDSuffix)},
			ID:            types.MessageID(id),
		},
		Message: &waE2E.Message{Conversation: &body},
	}
}

func TestWhatsAppServiceInboundEvent(t *testing.T) {
	s := NewWhatsAppService(whatsapp.NewMockClient())

	s.handleIncomingMessage(textEvent("15550001111", "hi there", "WA1"))

	select {
	case in := <-s.Inbound():
		if in.From != "+15550001111" {
			t.Errorf("from = %q, want +15550001111", in.From)
		}
		if in.Body != "hi there" || in.Channel != models.ChannelWhatsApp || in.ProviderMessageID != "WA1" {
			t.Errorf("inbound = %+v", in)
		}
	default:
		t.Fatal("inbound message not forwarded")
	}

	// Non-text payloads are skipped.
	s.handleIncomingMessage(&events.Message{Message: &waE2E.Message{}})
	select {
	case in := <-s.Inbound():
		t.Errorf("non-text event forwarded: %+v", in)
	default:
	}
}

func TestWhatsAppServiceEventAfterStop(t *testing.T) {
	s := NewWhatsAppService(whatsapp.NewMockClient())
	if err := s.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second stop: %v", err)
	}

	// A late event delivered by whatsmeow after shutdown must be dropped,
	// not panic on a closed channel.
	s.handleIncomingMessage(textEvent("15550001111", "late", "WA2"))
	select {
	case in := <-s.Inbound():
		t.Errorf("message forwarded after stop: %+v", in)
	default:
	}

	if _, err := s.SendMessage(context.Background(), models.ChannelWhatsApp, "+15550001111", "hi"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("err = %v, want ErrServiceStopped", err)
	}
}
