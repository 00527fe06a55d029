package messaging

import (
	"context"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/RepLog/internal/whatsapp"
)

func TestWhatsAppService_ImplementsService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
}

func TestWhatsAppService_SendMessage(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)

	if err := svc.SendMessage(context.Background(), "+55 11 99999-0000", "olá"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if len(mock.Sent) != 1 || mock.Sent[0].To != "5511999990000" {
		t.Errorf("expected canonical recipient, got %+v", mock.Sent)
	}
	if err := svc.SendMessage(context.Background(), "abc", "olá"); err == nil {
		t.Error("expected invalid recipient error")
	}
}

func TestWhatsAppService_StartStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if msg, ok := <-svc.Messages(); ok {
		t.Errorf("expected closed channel, got %+v", msg)
	}
	if err := svc.SendMessage(context.Background(), "5511999990000", "oi"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func textEvent(text string) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Sender: types.NewJID("5511999990000", types.DefaultUserServer)},
			ID:            "3EB0ABC",
			PushName:      "Ana",
			Timestamp:     time.Unix(1700000000, 0),
		},
		Message: &waE2E.Message{Conversation: &text},
	}
}

func TestInboundFromEvent(t *testing.T) {
	msg, ok := inboundFromEvent(textEvent("fiz supino 3x10"))
	if !ok {
		t.Fatal("expected text message to convert")
	}
	if msg.MessageID != "3EB0ABC" || msg.From != "5511999990000" || msg.Body != "fiz supino 3x10" || msg.ProfileName != "Ana" || msg.Time != 1700000000 {
		t.Errorf("unexpected inbound message %+v", msg)
	}

	extended := "texto longo"
	evt := textEvent("")
	evt.Message = &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: &extended}}
	if msg, ok := inboundFromEvent(evt); !ok || msg.Body != extended {
		t.Errorf("expected extended text, got %+v / %v", msg, ok)
	}

	mine := textEvent("oi")
	mine.Info.IsFromMe = true
	group := textEvent("oi")
	group.Info.IsGroup = true
	image := textEvent("")
	image.Message = &waE2E.Message{}
	for name, evt := range map[string]*events.Message{"from me": mine, "group": group, "non-text": image} {
		if _, ok := inboundFromEvent(evt); ok {
			t.Errorf("%s: expected message to be skipped", name)
		}
	}
}

func TestWhatsAppService_HandleEventEmits(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	svc.handleEvent(textEvent("bom dia"))

	select {
	case msg := <-svc.Messages():
		if msg.Body != "bom dia" {
			t.Errorf("unexpected body %q", msg.Body)
		}
	default:
		t.Fatal("expected a queued message")
	}
}
