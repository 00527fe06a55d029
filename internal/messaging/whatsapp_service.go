package messaging

import (
	"context"
	"log/slog"
	"strings"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/RepLog/internal/models"
	"github.com/BTreeMap/RepLog/internal/whatsapp"
)

// WhatsAppService implements Service using the whatsmeow-based client.
type WhatsAppService struct {
	client    whatsapp.WhatsAppSender
	waClient  *whatsapp.Client // nil for mocks
	queue     *inboundQueue
	handlerID uint32
}

// NewWhatsAppService creates a WhatsAppService sending through client.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	s := &WhatsAppService{client: client, queue: newInboundQueue("whatsapp")}
	if waClient, ok := client.(*whatsapp.Client); ok {
		s.waClient = waClient
	} else {
		slog.Debug("NewWhatsAppService: client is not a whatsmeow client, inbound events disabled")
	}
	return s
}

// ValidateAndCanonicalizeRecipient reduces a phone number or JID user to its
// digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(strings.TrimSuffix(recipient, "@"+whatsapp.JIDSuffix))
}

// Start subscribes to whatsmeow events.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		return nil
	}
	s.handlerID = s.waClient.GetClient().AddEventHandler(s.handleEvent)
	slog.Debug("WhatsAppService.Start: event handler registered", "handlerID", s.handlerID)
	return nil
}

// Stop unsubscribes from events and closes the inbound channel.
func (s *WhatsAppService) Stop() error {
	if s.waClient != nil && s.waClient.GetClient() != nil {
		s.waClient.GetClient().RemoveEventHandler(s.handlerID)
		s.waClient.GetClient().Disconnect()
	}
	s.queue.close()
	slog.Info("WhatsAppService.Stop: stopped")
	return nil
}

// SendMessage sends a text message.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	if s.queue.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService.SendMessage: failed", "to", canonicalTo, "error", err)
		return err
	}
	return nil
}

// Messages returns the inbound message channel.
func (s *WhatsAppService) Messages() <-chan models.InboundMessage {
	return s.queue.ch
}

func (s *WhatsAppService) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		if msg, ok := inboundFromEvent(v); ok {
			s.queue.emit(msg)
		}
	case *events.Connected:
		slog.Info("WhatsAppService.handleEvent: connected")
	case *events.Disconnected:
		slog.Warn("WhatsAppService.handleEvent: disconnected")
	}
}

// inboundFromEvent converts a direct text message into an InboundMessage.
// Group chats, our own messages and non-text messages are skipped.
func inboundFromEvent(evt *events.Message) (models.InboundMessage, bool) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return models.InboundMessage{}, false
	}
	var text string
	switch {
	case evt.Message.GetConversation() != "":
		text = evt.Message.GetConversation()
	case evt.Message.GetExtendedTextMessage().GetText() != "":
		text = evt.Message.GetExtendedTextMessage().GetText()
	default:
		slog.Debug("inboundFromEvent: ignoring non-text message", "from", evt.Info.Sender.User)
		return models.InboundMessage{}, false
	}
	return models.InboundMessage{
		MessageID:   evt.Info.ID,
		From:        evt.Info.Sender.User,
		Body:        text,
		ProfileName: evt.Info.PushName,
		Time:        evt.Info.Timestamp.Unix(),
	}, true
}
