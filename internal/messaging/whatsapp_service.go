package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/leadrelay/leadrelay/internal/models"
	"github.com/leadrelay/leadrelay/internal/whatsapp"
)

// WhatsAppService implements Service using the whatsmeow-based whatsapp
// client. Inbound traffic arrives over the live event stream.
type WhatsAppService struct {
	client   whatsapp.Sender
	waClient *whatsapp.Client // full client when available, for event handling
	inbound  chan models.InboundMessage
	done     chan struct{}
	mu       sync.RWMutex
	stopped  bool
}

// NewWhatsAppService creates a WhatsAppService wrapping the given Sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client:  client,
		inbound: make(chan models.InboundMessage, DefaultChannelBufferSize),
		done:    make(chan struct{}),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return service
}

// ValidateAndCanonicalizeRecipient canonicalizes a phone number to +digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// SendMessage sends a message and returns the provider message ID.
func (s *WhatsAppService) SendMessage(ctx context.Context, channel models.Channel, to, body string) (string, error) {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return "", ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService.SendMessage: validation error", "error", err, "to", to)
		return "", err
	}
	id, err := s.client.SendMessage(ctx, canonicalTo, body)
	if err != nil {
		slog.Error("WhatsAppService.SendMessage: send error", "error", err, "to", canonicalTo)
		return "", err
	}
	slog.Info("WhatsAppService.SendMessage: message sent", "to", canonicalTo, "id", id)
	return id, nil
}

// Start begins consuming the whatsmeow event stream.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil {
		slog.Debug("WhatsAppService.Start: no full client available, skipping event handling")
		return nil
	}
	go s.handleEvents(ctx)
	return nil
}

// Stop stops background processing. The inbound channel stays open so a
// whatsmeow event racing Stop can never send on a closed channel; consumers
// exit via their own context instead of a channel close.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)
	slog.Info("WhatsAppService stopped")
	return nil
}

// Inbound returns the channel of incoming messages.
func (s *WhatsAppService) Inbound() <-chan models.InboundMessage {
	return s.inbound
}

// handleEvents registers a whatsmeow event handler that feeds text messages
// into the inbound channel.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService.handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		if msg, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(msg)
		}
	})

	select {
	case <-ctx.Done():
	case <-s.done:
	}
	slog.Debug("WhatsAppService.handleEvents: stopping")
}

// handleIncomingMessage normalizes an incoming text message. Non-text
// payloads (images, audio) are skipped.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}

	var messageText string
	if evt.Message.Conversation != nil {
		messageText = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		messageText = *evt.Message.ExtendedTextMessage.Text
	} else {
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	// JID user part to E.164
	fromNumber := evt.Info.Sender.User
	if !strings.HasPrefix(fromNumber, "+") {
		fromNumber = "+" + fromNumber
	}

	msg := models.InboundMessage{
		From:              fromNumber,
		Body:              messageText,
		Channel:           models.ChannelWhatsApp,
		ProviderMessageID: string(evt.Info.ID),
	}

	select {
	case <-s.done:
		slog.Warn("WhatsAppService dropping inbound message (service stopped)", "from", msg.From)
		return
	default:
	}

	select {
	case <-s.done:
		slog.Warn("WhatsAppService dropping inbound message (service stopped)", "from", msg.From)
	case s.inbound <- msg:
		slog.Debug("WhatsAppService inbound message forwarded", "from", msg.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService inbound channel blocked, dropping message", "from", msg.From)
	}
}
