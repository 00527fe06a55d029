// Package analyzer compares freshly logged exercises with the user's history
// and produces one short commentary line per exercise.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/RepLog/internal/genai"
	"github.com/BTreeMap/RepLog/internal/models"
)

// HistoryLimit is how many prior sets are compared per exercise.
const HistoryLimit = 5

const promptFmt = `Analise brevemente (1 linha) a evolução deste exercício.

Histórico (antigo → novo): %s
Hoje: %s

Responda com emoji + comentário conciso. Ex: "📈 +5kg de evolução!" ou "💪 Mantendo a base"`

// Store is the slice of persistence the analyzer reads.
type Store interface {
	GetRecentSetsByExercise(ctx context.Context, userID, exercise, excludeWorkoutID string, limit int) ([]models.Set, error)
}

// Analyzer produces evolution commentary.
type Analyzer struct {
	store Store
	model genai.ClientInterface
}

// New creates an Analyzer.
func New(st Store, model genai.ClientInterface) *Analyzer {
	return &Analyzer{store: st, model: model}
}

// Analyze returns one line per distinct normalized exercise, in order of first
// appearance, joined by newlines. Repeated items of the same exercise are
// compared once, using the first item. Sets belonging to workoutID (the
// workout just saved) are not treated as history. A failure for one exercise
// only degrades that exercise's line.
func (a *Analyzer) Analyze(ctx context.Context, userID, workoutID string, exercises []models.Exercise) string {
	lines := make([]string, 0, len(exercises))
	seen := make(map[string]bool, len(exercises))
	for _, e := range exercises {
		if seen[e.Exercise] {
			continue
		}
		seen[e.Exercise] = true
		lines = append(lines, a.analyzeOne(ctx, userID, workoutID, e))
	}
	return strings.Join(lines, "\n")
}

func (a *Analyzer) analyzeOne(ctx context.Context, userID, workoutID string, e models.Exercise) string {
	history, err := a.store.GetRecentSetsByExercise(ctx, userID, e.Exercise, workoutID, HistoryLimit)
	if err != nil {
		slog.Error("Analyzer.analyzeOne: history lookup failed", "userID", userID, "exercise", e.Exercise, "error", err)
		return noAnalysis(e)
	}
	if len(history) == 0 {
		return fmt.Sprintf("🆕 %s: Primeiro registro!", e.ExerciseRaw)
	}

	reply, err := a.model.Complete(ctx, Prompt(history, e))
	if err != nil {
		slog.Warn("Analyzer.analyzeOne: model call failed", "exercise", e.Exercise, "error", err)
		return noAnalysis(e)
	}
	return fmt.Sprintf("%s: %s", e.ExerciseRaw, firstLine(reply))
}

// Prompt renders the comparison prompt. history is newest first, as returned
// by the store; it is shown oldest first.
func Prompt(history []models.Set, current models.Exercise) string {
	parts := make([]string, len(history))
	for i, s := range history {
		parts[len(history)-1-i] = entry(s.SetsCount, s.Reps, s.Weight)
	}
	return fmt.Sprintf(promptFmt, strings.Join(parts, " → "), entry(current.SetsCount, current.Reps, current.WeightKg))
}

func entry(sets, reps int, weight *float64) string {
	w := 0.0
	if weight != nil {
		w = *weight
	}
	return fmt.Sprintf("%dx%d %s", sets, reps, models.FormatKg(w))
}

func noAnalysis(e models.Exercise) string {
	return fmt.Sprintf("%s: Sem análise disponível", e.ExerciseRaw)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i != -1 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
