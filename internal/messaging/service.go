// Package messaging connects transports (Twilio, WhatsApp) to the engine.
//
// A Service receives inbound text messages and sends replies. The Inbox
// drains a Service, deduplicates messages, attributes them to users and
// dispatches them.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/BTreeMap/RepLog/internal/models"
)

const (
	// DefaultChannelBufferSize is the buffer of each service's inbound channel.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an emit waits on a full channel.
	DefaultChannelTimeout = 1 * time.Second
	// MinPhoneDigits is the shortest accepted canonical phone number.
	MinPhoneDigits = 6
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service defines a pluggable message transport.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a
	// recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins background processing (event subscriptions).
	Start(ctx context.Context) error

	// Stop stops background processing and closes Messages.
	Stop() error

	// Messages returns the channel of inbound messages.
	Messages() <-chan models.InboundMessage
}

// CanonicalizePhone strips everything but digits from recipient, so
// "whatsapp:+55 11 99999-0000" becomes "5511999990000".
func CanonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < MinPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, MinPhoneDigits)
	}
	return canonical, nil
}

// inboundQueue is the inbound channel shared by the services. Emits after
// close are dropped.
type inboundQueue struct {
	mu      sync.RWMutex
	ch      chan models.InboundMessage
	stopped bool
	name    string
}

func newInboundQueue(name string) *inboundQueue {
	return &inboundQueue{ch: make(chan models.InboundMessage, DefaultChannelBufferSize), name: name}
}

func (q *inboundQueue) emit(msg models.InboundMessage) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		slog.Warn("inboundQueue.emit: service stopped, dropping message", "service", q.name, "messageID", msg.MessageID)
		return false
	}
	select {
	case q.ch <- msg:
		slog.Debug("inboundQueue.emit: queued", "service", q.name, "messageID", msg.MessageID)
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("inboundQueue.emit: channel blocked, dropping message", "service", q.name, "messageID", msg.MessageID, "timeout", DefaultChannelTimeout)
		return false
	}
}

func (q *inboundQueue) isStopped() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.stopped
}

// close marks the queue stopped and closes the channel. It is idempotent.
func (q *inboundQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.stopped = true
	close(q.ch)
}
