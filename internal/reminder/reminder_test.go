package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/RepLog/internal/models"
	"github.com/BTreeMap/RepLog/internal/testutil"
	"github.com/BTreeMap/RepLog/internal/twiliowhatsapp"
)

func TestActivityFor(t *testing.T) {
	tests := []struct {
		routine map[string]string
		day     time.Weekday
		want    string
		ok      bool
	}{
		{map[string]string{"monday": "peito"}, time.Monday, "peito", true},
		{map[string]string{"Segunda-feira": "costas"}, time.Monday, "costas", true},
		{map[string]string{"ter": "perna"}, time.Tuesday, "perna", true},
		{map[string]string{"Sábado": " cardio "}, time.Saturday, "cardio", true},
		{map[string]string{"terça": "ombro"}, time.Tuesday, "ombro", true},
		{map[string]string{"monday": "peito"}, time.Tuesday, "", false},
		{map[string]string{"monday": "  "}, time.Monday, "", false},
		{nil, time.Monday, "", false},
	}
	for _, tt := range tests {
		got, ok := ActivityFor(tt.routine, tt.day)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ActivityFor(%v, %s) = %q, %v; want %q, %v", tt.routine, tt.day, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	onboarded := testutil.NewOnboardedUser(t, st, "5511999990001") // monday: peito
	testutil.NewUser(t, st, "5511999990002")                        // not onboarded
	sender := twiliowhatsapp.NewMockClient()

	r := New(st, sender)
	r.now = func() time.Time { return time.Date(2026, 10, 12, 7, 0, 0, 0, time.UTC) } // a Monday

	sent, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected one reminder, got %d", sent)
	}
	msgs := sender.Sent()
	if len(msgs) != 1 || msgs[0].To != onboarded.Phone || msgs[0].Body != "📅 Hoje é dia de: peito" {
		t.Errorf("unexpected reminders %+v", msgs)
	}

	r.now = func() time.Time { return time.Date(2026, 10, 13, 7, 0, 0, 0, time.UTC) } // Tuesday
	if sent, _ := r.Run(ctx); sent != 0 {
		t.Errorf("expected no reminder on a rest day, got %d", sent)
	}
}

func TestRun_SendFailureSkipped(t *testing.T) {
	st := testutil.NewStore(t)
	testutil.NewOnboardedUser(t, st, "5511999990003")
	sender := twiliowhatsapp.NewMockClient()
	sender.Err = errors.New("down")

	r := New(st, sender)
	r.now = func() time.Time { return time.Date(2026, 10, 12, 7, 0, 0, 0, time.UTC) }
	sent, err := r.Run(context.Background())
	if err != nil || sent != 0 {
		t.Errorf("expected failure to be skipped, got sent=%d err=%v", sent, err)
	}
}

type failingStore struct{}

func (failingStore) ListUsers(ctx context.Context) ([]models.User, error) {
	return nil, models.ErrPersistence
}

func TestRun_StoreFailure(t *testing.T) {
	r := New(failingStore{}, twiliowhatsapp.NewMockClient())
	if _, err := r.Run(context.Background()); !errors.Is(err, models.ErrPersistence) {
		t.Errorf("expected persistence error, got %v", err)
	}
}
