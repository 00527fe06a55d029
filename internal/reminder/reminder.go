// Package reminder sends each onboarded user the activity their weekly
// routine lists for today.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/RepLog/internal/models"
)

const messageFmt = "📅 Hoje é dia de: %s"

// Day names accepted as routine keys, per weekday. Keys are compared after
// normalizeDay.
var dayNames = map[time.Weekday][]string{
	time.Sunday:    {"sunday", "sun", "domingo", "dom"},
	time.Monday:    {"monday", "mon", "segunda", "seg", "2a"},
	time.Tuesday:   {"tuesday", "tue", "tues", "terca", "ter", "3a"},
	time.Wednesday: {"wednesday", "wed", "quarta", "qua", "4a"},
	time.Thursday:  {"thursday", "thu", "thurs", "quinta", "qui", "5a"},
	time.Friday:    {"friday", "fri", "sexta", "sex", "6a"},
	time.Saturday:  {"saturday", "sat", "sabado", "sab"},
}

var accentFolder = strings.NewReplacer("á", "a", "â", "a", "ã", "a", "à", "a", "é", "e", "ê", "e", "í", "i", "ó", "o", "ô", "o", "õ", "o", "ú", "u", "ç", "c")

func normalizeDay(key string) string {
	k := accentFolder.Replace(strings.ToLower(strings.TrimSpace(key)))
	k = strings.TrimSuffix(k, "-feira")
	k = strings.TrimSuffix(k, " feira")
	return strings.TrimSuffix(k, ".")
}

// ActivityFor returns the routine entry for weekday, matching English or
// Portuguese day names and abbreviations.
func ActivityFor(routine map[string]string, weekday time.Weekday) (string, bool) {
	names := dayNames[weekday]
	for key, activity := range routine {
		day := normalizeDay(key)
		for _, name := range names {
			if day == name && strings.TrimSpace(activity) != "" {
				return strings.TrimSpace(activity), true
			}
		}
	}
	return "", false
}

// Message renders the reminder text.
func Message(activity string) string {
	return fmt.Sprintf(messageFmt, activity)
}

// Store lists the users to remind.
type Store interface {
	ListUsers(ctx context.Context) ([]models.User, error)
}

// Sender delivers a reminder to a phone number.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Reminder sends the daily routine reminders.
type Reminder struct {
	store  Store
	sender Sender
	now    func() time.Time
}

// New creates a Reminder.
func New(st Store, sender Sender) *Reminder {
	return &Reminder{store: st, sender: sender, now: time.Now}
}

// Run sends today's reminder to every onboarded user with a matching routine
// entry and returns how many were sent. A failed send is logged and skipped.
func (r *Reminder) Run(ctx context.Context) (int, error) {
	users, err := r.store.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}
	weekday := r.now().Weekday()
	sent := 0
	for _, u := range users {
		if !u.OnboardingComplete {
			continue
		}
		activity, ok := ActivityFor(u.WeeklyRoutine, weekday)
		if !ok {
			continue
		}
		if err := r.sender.SendMessage(ctx, u.Phone, Message(activity)); err != nil {
			slog.Error("Reminder.Run: failed to send reminder", "userID", u.ID, "error", err)
			continue
		}
		sent++
	}
	slog.Info("Reminder.Run: reminders sent", "weekday", weekday, "users", len(users), "sent", sent)
	return sent, nil
}

// Job adapts Run to a scheduler task.
func (r *Reminder) Job(ctx context.Context) func() {
	return func() {
		if _, err := r.Run(ctx); err != nil {
			slog.Error("Reminder.Job: run failed", "error", err)
		}
	}
}
