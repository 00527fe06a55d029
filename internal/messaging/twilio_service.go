package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/RepLog/internal/models"
	"github.com/BTreeMap/RepLog/internal/twiliowhatsapp"
)

// EmptyTwiML acknowledges a webhook without sending a reply through it.
const EmptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// Required webhook form fields.
var twilioRequiredFields = []string{"MessageSid", "AccountSid", "From", "To"}

// TwilioService implements Service over the Twilio WhatsApp API. Inbound
// messages arrive through TwilioWebhookHandler; replies go out via REST.
type TwilioService struct {
	client    twiliowhatsapp.Sender
	validator *twiliowhatsapp.SignatureValidator
	publicURL string
	queue     *inboundQueue
}

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidation rejects webhook requests whose X-Twilio-Signature
// does not match publicURL, the URL Twilio is configured to call.
func WithSignatureValidation(authToken, publicURL string) TwilioOption {
	return func(s *TwilioService) {
		s.validator = twiliowhatsapp.NewSignatureValidator(authToken)
		s.publicURL = publicURL
	}
}

// NewTwilioService creates a TwilioService sending through client (real
// Twilio client or MockClient).
func NewTwilioService(client twiliowhatsapp.Sender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{client: client, queue: newInboundQueue("twilio")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateAndCanonicalizeRecipient reduces a WhatsApp address to its digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := CanonicalizePhone(recipient)
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("TwilioService.ValidateAndCanonicalizeRecipient: canonicalized", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op for Twilio; messages arrive over HTTP.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the inbound channel.
func (s *TwilioService) Stop() error {
	s.queue.close()
	return nil
}

// SendMessage sends body to the recipient via the REST client.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.queue.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: invalid recipient", "to", to, "error", err)
		return err
	}
	return s.client.SendMessage(ctx, canonicalTo, body)
}

// Messages returns the inbound message channel.
func (s *TwilioService) Messages() <-chan models.InboundMessage {
	return s.queue.ch
}

// TwilioWebhookHandler parses an inbound Twilio webhook, emits it on
// Messages and answers with empty TwiML.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService.TwilioWebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.validator != nil && !s.validator.Validate(r, s.publicURL) {
		slog.Warn("TwilioService.TwilioWebhookHandler: invalid signature", "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if missing := missingFields(r); len(missing) > 0 {
		slog.Warn("TwilioService.TwilioWebhookHandler: missing fields", "fields", missing)
		http.Error(w, fmt.Sprintf("Invalid payload: missing %s", strings.Join(missing, ", ")), http.StatusBadRequest)
		return
	}

	msg := models.InboundMessage{
		MessageID:   r.PostForm.Get("MessageSid"),
		From:        r.PostForm.Get("From"),
		To:          r.PostForm.Get("To"),
		Body:        r.PostForm.Get("Body"),
		ProfileName: r.PostForm.Get("ProfileName"),
		Time:        time.Now().Unix(),
	}
	slog.Info("TwilioService.TwilioWebhookHandler: inbound message", "messageID", msg.MessageID, "from", msg.From, "body_length", len(msg.Body))

	if !s.queue.emit(msg) {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, EmptyTwiML)
}

func missingFields(r *http.Request) []string {
	var missing []string
	for _, f := range twilioRequiredFields {
		if strings.TrimSpace(r.PostForm.Get(f)) == "" {
			missing = append(missing, f)
		}
	}
	if _, ok := r.PostForm["Body"]; !ok {
		missing = append(missing, "Body")
	}
	return missing
}
