// Package conversation handles free-form messages: it asks the model for a
// reply, applies any directive blocks the reply carries and returns the
// cleaned text.
package conversation

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/BTreeMap/RepLog/internal/extract"
	"github.com/BTreeMap/RepLog/internal/genai"
	"github.com/BTreeMap/RepLog/internal/models"
)

//go:embed system_prompt.txt
var defaultSystemPrompt string

// Context sizes for the prompt.
const (
	RecentWorkouts = 3
	RecentMessages = 6
)

// Config is loaded once at startup and never mutated afterwards.
type Config struct {
	SystemPrompt string
}

// DefaultConfig returns the configuration with the built-in system prompt.
func DefaultConfig() Config {
	return Config{SystemPrompt: strings.TrimSpace(defaultSystemPrompt)}
}

// LoadConfig reads the system prompt from path, or returns DefaultConfig when
// path is empty.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read system prompt file: %w", err)
	}
	prompt := strings.TrimSpace(string(b))
	if prompt == "" {
		return Config{}, fmt.Errorf("system prompt file %s is empty", path)
	}
	slog.Debug("conversation.LoadConfig: system prompt loaded", "path", path, "length", len(prompt))
	return Config{SystemPrompt: prompt}, nil
}

// Store is the slice of persistence the conversation path uses.
type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	UpdateUserProfile(ctx context.Context, userID string, update models.ProfileUpdate) error
	SaveWorkout(ctx context.Context, userID, date, notes string, exercises []models.Exercise) (*models.Workout, []models.Set, error)
	GetRecentWorkouts(ctx context.Context, userID string, limit int) ([]models.Workout, error)
	GetSetsByWorkout(ctx context.Context, workoutID string) ([]models.Set, error)
	GetRecentMessages(ctx context.Context, userID string, limit int) ([]models.Message, error)
}

// Conversation answers free-form messages.
type Conversation struct {
	cfg   Config
	store Store
	model genai.ClientInterface
}

// New creates a Conversation.
func New(cfg Config, st Store, model genai.ClientInterface) *Conversation {
	if cfg.SystemPrompt == "" {
		cfg = DefaultConfig()
	}
	return &Conversation{cfg: cfg, store: st, model: model}
}

// Reply asks the model to answer message, applies the directives found in
// the answer and returns the answer without them.
func (c *Conversation) Reply(ctx context.Context, userID, message string) (string, error) {
	u, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if u == nil {
		return "", fmt.Errorf("conversation for %s: %w", userID, models.ErrUserNotFound)
	}

	reply, err := c.model.Complete(ctx, c.buildPrompt(ctx, u, message))
	if err != nil {
		return "", err
	}
	slog.Debug("Conversation.Reply: model answered", "userID", userID, "reply_length", len(reply))

	c.ExtractAndApply(ctx, userID, reply)
	return extract.Strip(reply), nil
}

// ExtractAndApply persists every directive found in modelText. Each directive
// is applied on its own; a failure is logged and skipped. It returns the kinds
// that were applied. A workout directive always inserts a new workout.
func (c *Conversation) ExtractAndApply(ctx context.Context, userID, modelText string) []extract.Kind {
	directives, errs := extract.ParseDirectives(modelText)
	for _, e := range errs {
		slog.Warn("Conversation.ExtractAndApply: directive skipped", "userID", userID, "kind", e.Kind, "error", e.Err)
	}

	var applied []extract.Kind
	for _, d := range directives {
		if err := c.apply(ctx, userID, d); err != nil {
			slog.Error("Conversation.ExtractAndApply: failed to apply directive", "userID", userID, "kind", d.Kind(), "error", err)
			continue
		}
		slog.Info("Conversation.ExtractAndApply: directive applied", "userID", userID, "kind", d.Kind())
		applied = append(applied, d.Kind())
	}
	return applied
}

func (c *Conversation) apply(ctx context.Context, userID string, d extract.Directive) error {
	switch d := d.(type) {
	case extract.ProfileDirective:
		w, h := d.Profile.Weight, d.Profile.Height
		return c.store.UpdateUserProfile(ctx, userID, models.ProfileUpdate{Weight: &w, Height: &h})
	case extract.ObjectiveDirective:
		objective := d.Objective
		done := true
		return c.store.UpdateUserProfile(ctx, userID, models.ProfileUpdate{Objective: &objective, OnboardingComplete: &done})
	case extract.RoutineDirective:
		return c.store.UpdateUserProfile(ctx, userID, models.ProfileUpdate{WeeklyRoutine: d.Routine})
	case extract.WorkoutDirective:
		for _, e := range d.Errors {
			slog.Warn("Conversation.apply: workout item dropped", "userID", userID, "error", e)
		}
		_, _, err := c.store.SaveWorkout(ctx, userID, models.Today(), "", d.Exercises)
		return err
	default:
		return fmt.Errorf("unsupported directive %T", d)
	}
}

func (c *Conversation) buildPrompt(ctx context.Context, u *models.User, message string) string {
	var b strings.Builder
	b.WriteString(c.cfg.SystemPrompt)
	b.WriteString("\n\nPerfil do usuário:\n")
	fmt.Fprintf(&b, "- Nome: %s\n", u.Name)
	fmt.Fprintf(&b, "- Peso: %s\n", orNotInformed(u.Weight, models.FormatKg))
	fmt.Fprintf(&b, "- Altura: %s\n", orNotInformed(u.Height, formatCm))
	objective := "não informado"
	if u.HasObjective() {
		objective = *u.Objective
	}
	fmt.Fprintf(&b, "- Objetivo: %s\n", objective)
	routine := "não informada"
	if u.HasRoutine() {
		if r, err := json.Marshal(u.WeeklyRoutine); err == nil {
			routine = string(r)
		}
	}
	fmt.Fprintf(&b, "- Rotina semanal: %s\n", routine)

	c.writeWorkouts(ctx, &b, u.ID)
	c.writeMessages(ctx, &b, u.ID)

	fmt.Fprintf(&b, "\nMensagem do usuário: %q\n\n", message)
	b.WriteString("Responda conversacionalmente e inclua os marcadores de dados quando identificar informações.")
	return b.String()
}

// writeWorkouts renders the recent workouts. Read failures only shrink the
// context.
func (c *Conversation) writeWorkouts(ctx context.Context, b *strings.Builder, userID string) {
	workouts, err := c.store.GetRecentWorkouts(ctx, userID, RecentWorkouts)
	if err != nil {
		slog.Warn("Conversation.buildPrompt: failed to load workouts", "userID", userID, "error", err)
		return
	}
	if len(workouts) == 0 {
		b.WriteString("- Últimos treinos: nenhum registrado\n")
		return
	}
	b.WriteString("- Últimos treinos:\n")
	for _, w := range workouts {
		sets, err := c.store.GetSetsByWorkout(ctx, w.ID)
		if err != nil {
			slog.Warn("Conversation.buildPrompt: failed to load sets", "workoutID", w.ID, "error", err)
			continue
		}
		items := make([]string, 0, len(sets))
		for _, s := range sets {
			items = append(items, s.ExerciseRaw+" "+s.Summary())
		}
		fmt.Fprintf(b, "  • %s: %s\n", w.Date, strings.Join(items, ", "))
	}
}

func (c *Conversation) writeMessages(ctx context.Context, b *strings.Builder, userID string) {
	msgs, err := c.store.GetRecentMessages(ctx, userID, RecentMessages)
	if err != nil {
		slog.Warn("Conversation.buildPrompt: failed to load messages", "userID", userID, "error", err)
		return
	}
	if len(msgs) == 0 {
		return
	}
	b.WriteString("\nMensagens recentes do usuário (antiga → nova):\n")
	for i := len(msgs) - 1; i >= 0; i-- {
		fmt.Fprintf(b, "- %s\n", strings.ReplaceAll(msgs[i].Body, "\n", " "))
	}
}

func formatCm(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "cm"
}

func orNotInformed(v *float64, format func(float64) string) string {
	if v == nil {
		return "não informado"
	}
	return format(*v)
}
