package conversation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BTreeMap/RepLog/internal/extract"
	"github.com/BTreeMap/RepLog/internal/models"
	"github.com/BTreeMap/RepLog/internal/testutil"
)

func TestReply_RoutineOnlyDirective(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	u := testutil.NewUser(t, st, "+5511999990001")
	model := testutil.NewFakeModel("Show! Anotei sua rotina.\n[SAVE_ROUTINE]{\"monday\": \"peito\", \"wednesday\": \"perna\"}[/SAVE_ROUTINE]\nBora treinar!")
	c := New(DefaultConfig(), st, model)

	reply, err := c.Reply(ctx, u.ID, "treino peito na segunda e perna na quarta")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "Show! Anotei sua rotina.\n\nBora treinar!" {
		t.Errorf("unexpected reply %q", reply)
	}

	got := testutil.MustGetUser(t, st, u.ID)
	if got.WeeklyRoutine["monday"] != "peito" || got.WeeklyRoutine["wednesday"] != "perna" {
		t.Errorf("routine not saved: %v", got.WeeklyRoutine)
	}
	if got.Weight != nil || got.Height != nil || got.Objective != nil || got.OnboardingComplete {
		t.Errorf("expected the rest of the profile untouched, got %+v", got)
	}
	if w, _ := st.GetLastWorkout(ctx, u.ID); w != nil {
		t.Errorf("expected no workout, got %+v", w)
	}
}

func TestReply_PromptCarriesContext(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	u := testutil.NewOnboardedUser(t, st, "+5511999990002")
	w := 60.0
	if _, _, err := st.SaveWorkout(ctx, u.ID, "2026-10-01", "", []models.Exercise{
		{Exercise: "supino", ExerciseRaw: "Supino", SetsCount: 3, Reps: 10, WeightKg: &w},
	}); err != nil {
		t.Fatalf("failed to seed workout: %v", err)
	}
	if _, err := st.RecordMessage(ctx, models.Message{UserID: u.ID, MessageSID: "SM1", Body: "oi"}); err != nil {
		t.Fatalf("failed to seed message: %v", err)
	}
	model := testutil.NewFakeModel("Oi! Tudo certo?")
	c := New(DefaultConfig(), st, model)

	reply, err := c.Reply(ctx, u.ID, "como estou indo?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "Oi! Tudo certo?" {
		t.Errorf("unexpected reply %q", reply)
	}

	prompt := model.LastPrompt()
	for _, want := range []string{
		"Você é um assistente pessoal de treinos",
		"[SAVE_PROFILE]",
		"Peso: 80kg",
		"Altura: 180cm",
		"Objetivo: hipertrofia",
		`"monday":"peito"`,
		"2026-10-01: Supino 3x10 60kg",
		"- oi",
		`Mensagem do usuário: "como estou indo?"`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestReply_UnknownUser(t *testing.T) {
	st := testutil.NewStore(t)
	model := testutil.NewFakeModel("nunca")
	c := New(DefaultConfig(), st, model)

	if _, err := c.Reply(context.Background(), "u_missing", "oi"); !errors.Is(err, models.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if model.Calls() != 0 {
		t.Errorf("expected no model call, got %d", model.Calls())
	}
}

func TestReply_ModelFailure(t *testing.T) {
	st := testutil.NewStore(t)
	u := testutil.NewUser(t, st, "+5511999990003")
	model := testutil.NewFakeModel()
	model.Fail(errors.New("timeout"))
	c := New(DefaultConfig(), st, model)

	_, err := c.Reply(context.Background(), u.ID, "oi")
	if models.KindOf(err) != models.KindModel {
		t.Fatalf("expected model error, got %v", err)
	}
}

func TestExtractAndApply_AllDirectives(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	u := testutil.NewUser(t, st, "+5511999990004")
	c := New(DefaultConfig(), st, testutil.NewFakeModel())

	text := `Anotado!
[SAVE_PROFILE]{"weight": 72.5, "height": 175}[/SAVE_PROFILE]
[SAVE_OBJECTIVE]emagrecer[/SAVE_OBJECTIVE]
[SAVE_WORKOUT][{"exercise": "Agachamento", "sets": 4, "reps": 8, "weight": 100}, {"exercise": "prancha", "sets": 3, "reps": 60}][/SAVE_WORKOUT]`

	applied := c.ExtractAndApply(ctx, u.ID, text)
	if len(applied) != 3 {
		t.Fatalf("expected three directives applied, got %v", applied)
	}

	got := testutil.MustGetUser(t, st, u.ID)
	if got.Weight == nil || *got.Weight != 72.5 || got.Height == nil || *got.Height != 175 {
		t.Errorf("profile not saved: %+v", got)
	}
	if !got.HasObjective() || *got.Objective != "emagrecer" || !got.OnboardingComplete {
		t.Errorf("objective not saved or onboarding not completed: %+v", got)
	}

	w, err := st.GetLastWorkout(ctx, u.ID)
	if err != nil || w == nil {
		t.Fatalf("expected a workout, got %v / %v", w, err)
	}
	if w.Date != models.Today() {
		t.Errorf("expected today's date, got %s", w.Date)
	}
	sets, _ := st.GetSetsByWorkout(ctx, w.ID)
	if len(sets) != 2 || sets[0].Exercise != "agachamento" || sets[1].Weight != nil {
		t.Errorf("unexpected sets %+v", sets)
	}
}

func TestExtractAndApply_FailureIsolated(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	u := testutil.NewUser(t, st, "+5511999990005")
	c := New(DefaultConfig(), st, testutil.NewFakeModel())

	text := `[SAVE_PROFILE]{"weight": 0, "height": 175}[/SAVE_PROFILE][SAVE_OBJECTIVE]força[/SAVE_OBJECTIVE]`
	applied := c.ExtractAndApply(ctx, u.ID, text)
	if len(applied) != 1 || applied[0] != extract.KindObjective {
		t.Fatalf("expected only the objective applied, got %v", applied)
	}
	got := testutil.MustGetUser(t, st, u.ID)
	if got.Weight != nil {
		t.Errorf("expected weight untouched, got %v", *got.Weight)
	}
}

func TestExtractAndApply_EachCallInsertsWorkout(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	u := testutil.NewUser(t, st, "+5511999990006")
	c := New(DefaultConfig(), st, testutil.NewFakeModel())

	text := `[SAVE_WORKOUT][{"exercise": "supino", "sets": 3, "reps": 10, "weight": 60}][/SAVE_WORKOUT]`
	c.ExtractAndApply(ctx, u.ID, text)
	c.ExtractAndApply(ctx, u.ID, text)

	workouts, err := st.GetRecentWorkouts(ctx, u.ID, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(workouts) != 2 {
		t.Errorf("expected two workouts, got %d", len(workouts))
	}
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil || !strings.HasPrefix(cfg.SystemPrompt, "Você é um assistente") {
		t.Fatalf("expected default prompt, got %q / %v", cfg.SystemPrompt, err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "prompt.txt")
	if err := os.WriteFile(path, []byte("  Seja breve.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadConfig(path)
	if err != nil || cfg.SystemPrompt != "Seja breve." {
		t.Errorf("unexpected config %q / %v", cfg.SystemPrompt, err)
	}

	empty := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(empty, []byte("\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(empty); err == nil {
		t.Error("expected error for empty prompt file")
	}
	if _, err := LoadConfig(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing prompt file")
	}
}
