package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/leadrelay/leadrelay/internal/models"
)

// TwilioOpts holds configuration options for the Twilio service.
type TwilioOpts struct {
	AccountSID     string
	AuthToken      string
	SMSFrom        string // E.164 sender for SMS
	WhatsAppFrom   string // E.164 sender for WhatsApp Business (without whatsapp: prefix)
	StatusCallback string // optional delivery status callback URL
}

// TwilioOption defines a configuration option for the Twilio service.
type TwilioOption func(*TwilioOpts)

// WithTwilioCredentials sets the account SID and auth token.
func WithTwilioCredentials(sid, token string) TwilioOption {
	return func(o *TwilioOpts) {
		o.AccountSID = sid
		o.AuthToken = token
	}
}

// WithSMSFrom sets the SMS sender number.
func WithSMSFrom(from string) TwilioOption {
	return func(o *TwilioOpts) { o.SMSFrom = from }
}

// WithWhatsAppFrom sets the WhatsApp Business sender number.
func WithWhatsAppFrom(from string) TwilioOption {
	return func(o *TwilioOpts) { o.WhatsAppFrom = from }
}

// WithStatusCallback sets the delivery status callback URL.
func WithStatusCallback(url string) TwilioOption {
	return func(o *TwilioOpts) { o.StatusCallback = url }
}

// twilioAPI is the slice of the Twilio REST client the service uses.
type twilioAPI interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// TwilioService implements Service using the Twilio REST API. Inbound traffic
// arrives through ParseTwilioWebhook, not the Inbound channel.
type TwilioService struct {
	api     twilioAPI
	cfg     TwilioOpts
	inbound chan models.InboundMessage
	mu      sync.RWMutex
	stopped bool
}

// NewTwilioService creates a TwilioService from the provided options.
func NewTwilioService(opts ...TwilioOption) (*TwilioService, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("twilio credentials not set")
	}
	slog.Debug("TwilioService.NewTwilioService: creating service",
		"sms_from_set", cfg.SMSFrom != "", "whatsapp_from_set", cfg.WhatsAppFrom != "")
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioService{
		api:     client.Api,
		cfg:     cfg,
		inbound: make(chan models.InboundMessage, DefaultChannelBufferSize),
	}, nil
}

// NewTwilioServiceWithAPI creates a TwilioService over a custom API client,
// used by tests to avoid real HTTP calls.
func NewTwilioServiceWithAPI(api twilioAPI, opts ...TwilioOption) *TwilioService {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &TwilioService{
		api:     api,
		cfg:     cfg,
		inbound: make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
}

// ValidateAndCanonicalizeRecipient canonicalizes a phone number to +digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := canonicalizePhone(recipient)
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// SendMessage sends an SMS or WhatsApp Business message and returns the
// Twilio message SID.
func (s *TwilioService) SendMessage(ctx context.Context, channel models.Channel, to, body string) (string, error) {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return "", ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: validation error", "error", err, "to", to)
		return "", err
	}

	var from, dest string
	switch channel {
	case models.ChannelWhatsApp:
		if s.cfg.WhatsAppFrom == "" {
			return "", fmt.Errorf("whatsapp sender not configured")
		}
		from = "whatsapp:" + s.cfg.WhatsAppFrom
		dest = "whatsapp:" + canonicalTo
	case models.ChannelSMS:
		if s.cfg.SMSFrom == "" {
			return "", fmt.Errorf("sms sender not configured")
		}
		from = s.cfg.SMSFrom
		dest = canonicalTo
	default:
		return "", fmt.Errorf("channel %q not supported by twilio service", channel)
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(dest)
	params.SetFrom(from)
	params.SetBody(body)
	if s.cfg.StatusCallback != "" {
		params.SetStatusCallback(s.cfg.StatusCallback)
	}

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		slog.Error("TwilioService.SendMessage: create message failed", "error", err, "to", canonicalTo, "channel", channel)
		return "", fmt.Errorf("failed to send message to %s: %w", canonicalTo, err)
	}
	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Info("TwilioService.SendMessage: message sent", "to", canonicalTo, "channel", channel, "sid", sid)
	return sid, nil
}

// Start is a no-op; Twilio pushes inbound traffic over the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop marks the service stopped and closes the inbound channel.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.inbound)
	return nil
}

// Inbound returns a channel that never emits; Twilio inbound arrives via
// ParseTwilioWebhook from the HTTP layer.
func (s *TwilioService) Inbound() <-chan models.InboundMessage {
	return s.inbound
}

// ParseTwilioWebhook normalizes a form-encoded Twilio inbound request.
// A "whatsapp:" prefix on the sender selects the whatsapp channel.
func ParseTwilioWebhook(r *http.Request) (*models.InboundMessage, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("failed to parse webhook form: %w", err)
	}
	from := r.FormValue("From")
	body := r.FormValue("Body")
	sid := r.FormValue("MessageSid")
	if from == "" || body == "" {
		return nil, fmt.Errorf("webhook missing required fields")
	}

	channel := models.ChannelSMS
	if strings.HasPrefix(from, "whatsapp:") {
		channel = models.ChannelWhatsApp
		from = strings.TrimPrefix(from, "whatsapp:")
	}
	return &models.InboundMessage{
		From:              from,
		Body:              body,
		Channel:           channel,
		ProviderMessageID: sid,
	}, nil
}
