package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/RepLog/internal/models"
	"github.com/BTreeMap/RepLog/internal/store"
	"github.com/BTreeMap/RepLog/internal/util"
)

// Dispatcher answers one message of a known user.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID, raw string) models.Result
}

// InboxStore is the persistence the Inbox needs.
type InboxStore interface {
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)
	CreateUser(ctx context.Context, phone, name string) (*models.User, error)
	RecordMessage(ctx context.Context, msg models.Message) (bool, error)
}

// Inbox turns inbound messages into dispatched, answered requests. Each
// message is processed on its own; nothing is shared between messages.
type Inbox struct {
	svc        Service
	store      InboxStore
	dispatcher Dispatcher
	dedup      store.DedupCache
}

// InboxOption configures an Inbox.
type InboxOption func(*Inbox)

// WithDedupCache puts a fast duplicate check in front of RecordMessage.
func WithDedupCache(c store.DedupCache) InboxOption {
	return func(in *Inbox) { in.dedup = c }
}

// NewInbox creates an Inbox. svc may be nil, in which case replies are only
// returned, not sent.
func NewInbox(svc Service, st InboxStore, d Dispatcher, opts ...InboxOption) *Inbox {
	in := &Inbox{svc: svc, store: st, dispatcher: d}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Process handles one inbound message. The boolean reports a duplicate, in
// which case nothing else happens. A non-nil error with a populated result
// means the reply was produced but could not be sent.
func (in *Inbox) Process(ctx context.Context, msg models.InboundMessage) (models.Result, bool, error) {
	body := strings.TrimSpace(msg.Body)
	if body == "" {
		return models.Result{}, false, models.ErrEmptyBody
	}
	phone, err := CanonicalizePhone(msg.From)
	if err != nil {
		return models.Result{}, false, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	if msg.MessageID == "" {
		msg.MessageID = util.NewMessageID()
	}

	claimed := false
	if in.dedup != nil {
		fresh, err := in.dedup.Claim(ctx, msg.MessageID)
		if err != nil {
			slog.Warn("Inbox.Process: dedup cache unavailable, falling back to store", "messageID", msg.MessageID, "error", err)
		} else if !fresh {
			slog.Info("Inbox.Process: duplicate message (cache)", "messageID", msg.MessageID)
			return models.Result{}, true, nil
		}
		claimed = err == nil
	}

	u, err := in.findOrCreateUser(ctx, phone, msg.ProfileName)
	if err != nil {
		in.releaseClaim(ctx, claimed, msg.MessageID)
		return models.Result{}, false, err
	}

	receivedAt := time.Now().UTC()
	if msg.Time > 0 {
		receivedAt = time.Unix(msg.Time, 0).UTC()
	}
	fresh, err := in.store.RecordMessage(ctx, models.Message{
		UserID:     u.ID,
		MessageSID: msg.MessageID,
		From:       phone,
		To:         msg.To,
		Body:       msg.Body,
		ReceivedAt: receivedAt,
	})
	if err != nil {
		in.releaseClaim(ctx, claimed, msg.MessageID)
		return models.Result{}, false, fmt.Errorf("record message %s: %w", msg.MessageID, err)
	}
	if !fresh {
		slog.Info("Inbox.Process: duplicate message (store)", "messageID", msg.MessageID)
		return models.Result{}, true, nil
	}

	res := in.dispatcher.Dispatch(ctx, u.ID, body)
	slog.Info("Inbox.Process: dispatched", "userID", u.ID, "messageID", msg.MessageID, "success", res.Success, "reason", res.Reason)

	if in.svc != nil && res.Response != "" {
		if err := in.svc.SendMessage(ctx, phone, res.Response); err != nil {
			return res, false, fmt.Errorf("send reply to %s: %w", phone, err)
		}
	}
	return res, false, nil
}

// releaseClaim drops a cache claim for a message that was never recorded, so
// the provider's redelivery is not mistaken for a duplicate.
func (in *Inbox) releaseClaim(ctx context.Context, claimed bool, messageID string) {
	if !claimed {
		return
	}
	if err := in.dedup.Release(ctx, messageID); err != nil {
		slog.Warn("Inbox.releaseClaim: failed to release dedup claim", "messageID", messageID, "error", err)
	}
}

func (in *Inbox) findOrCreateUser(ctx context.Context, phone, name string) (*models.User, error) {
	u, err := in.store.GetUserByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if u != nil {
		return u, nil
	}
	u, err = in.store.CreateUser(ctx, phone, strings.TrimSpace(name))
	if err != nil {
		return nil, err
	}
	slog.Info("Inbox.findOrCreateUser: new user", "userID", u.ID)
	return u, nil
}

// Run drains the service's inbound channel until ctx is done or the channel
// closes.
func (in *Inbox) Run(ctx context.Context) {
	if in.svc == nil {
		return
	}
	messages := in.svc.Messages()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Inbox.Run: context done")
			return
		case msg, ok := <-messages:
			if !ok {
				slog.Debug("Inbox.Run: channel closed")
				return
			}
			if _, _, err := in.Process(ctx, msg); err != nil {
				slog.Error("Inbox.Run: failed to process message", "messageID", msg.MessageID, "error", err)
			}
		}
	}
}
