// Package command routes every inbound message to onboarding, a slash
// command, workout registration or free conversation.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/BTreeMap/RepLog/internal/models"
	"github.com/BTreeMap/RepLog/internal/onboarding"
	"github.com/BTreeMap/RepLog/internal/parser"
)

// HistoryLimit is how many sets /historico lists.
const HistoryLimit = 5

// User-facing texts.
const (
	MsgHelp           = "📋 *Comandos:*\n/help - Este menu\n/ultimo - Último treino\n/historico <exercício> - Histórico"
	MsgGenericError   = "❌ Não foi possível processar sua solicitação"
	MsgUnknownCommand = "❓ Comando desconhecido. Use /help para ver os comandos."
	MsgHistoryUsage   = "❌ Informe o exercício. Ex: /historico supino"
	MsgNoWorkouts     = "📭 Nenhum treino registrado"
	msgNoHistoryFmt   = "📭 Nenhum registro de \"%s\""
	msgLastFmt        = "🏋️ *Último treino (%s):*\n\n%s"
	msgHistoryFmt     = "📊 *Histórico: %s*\n\n%s"
	msgWorkoutSaved   = "✅ Treino registrado!"
	msgParseFailed    = "❌ Não consegui entender o treino:"
)

// Store is the persistence the dispatcher reads and writes directly.
type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetLastWorkout(ctx context.Context, userID string) (*models.Workout, error)
	GetSetsByWorkout(ctx context.Context, workoutID string) ([]models.Set, error)
	GetRecentSetsByExercise(ctx context.Context, userID, exercise, excludeWorkoutID string, limit int) ([]models.Set, error)
	SaveWorkout(ctx context.Context, userID, date, notes string, exercises []models.Exercise) (*models.Workout, []models.Set, error)
}

// Onboarding answers users whose profile is not complete.
type Onboarding interface {
	HandleUser(ctx context.Context, userID string, u *models.User, message string) models.Result
}

// WorkoutParser extracts exercises from a workout report.
type WorkoutParser interface {
	Parse(ctx context.Context, message string) parser.ParseResult
}

// Analyzer comments on a freshly logged batch.
type Analyzer interface {
	Analyze(ctx context.Context, userID, workoutID string, exercises []models.Exercise) string
}

// Conversation answers everything else.
type Conversation interface {
	Reply(ctx context.Context, userID, message string) (string, error)
}

// Dispatcher is the top-level router. It never calls the model itself; every
// model call happens inside a collaborator.
type Dispatcher struct {
	store        Store
	onboarding   Onboarding
	parser       WorkoutParser
	analyzer     Analyzer
	conversation Conversation
	commands     map[string]handler
}

type handler func(ctx context.Context, userID string, args []string) models.Result

// NewDispatcher wires the collaborators together.
func NewDispatcher(st Store, ob Onboarding, p WorkoutParser, a Analyzer, c Conversation) *Dispatcher {
	d := &Dispatcher{store: st, onboarding: ob, parser: p, analyzer: a, conversation: c}
	d.commands = map[string]handler{
		"help":      d.help,
		"ajuda":     d.help,
		"ultimo":    d.last,
		"último":    d.last,
		"last":      d.last,
		"historico": d.history,
		"histórico": d.history,
		"history":   d.history,
	}
	return d
}

// Dispatch handles one message for userID.
func (d *Dispatcher) Dispatch(ctx context.Context, userID, raw string) models.Result {
	msg := strings.TrimSpace(raw)

	u, err := d.store.GetUser(ctx, userID)
	if err != nil {
		slog.Error("Dispatcher.Dispatch: failed to load user", "userID", userID, "error", err)
		return models.Failed(MsgGenericError, models.KindOf(err))
	}
	if step := onboarding.DeriveStep(u); step != onboarding.StepComplete {
		slog.Debug("Dispatcher.Dispatch: onboarding", "userID", userID, "step", step)
		return d.onboarding.HandleUser(ctx, userID, u, msg)
	}

	if strings.HasPrefix(msg, "/") {
		return d.command(ctx, userID, msg)
	}
	if LooksLikeWorkout(msg) {
		return d.registerWorkout(ctx, userID, msg)
	}

	reply, err := d.conversation.Reply(ctx, userID, msg)
	if err != nil {
		slog.Error("Dispatcher.Dispatch: conversation failed", "userID", userID, "error", err)
		return models.Degraded(MsgGenericError, models.KindOf(err))
	}
	return models.Ok(reply)
}

func (d *Dispatcher) command(ctx context.Context, userID, msg string) models.Result {
	fields := strings.Fields(strings.ToLower(strings.TrimPrefix(msg, "/")))
	if len(fields) == 0 {
		return models.Failed(MsgUnknownCommand, models.KindRouting)
	}
	h, ok := d.commands[fields[0]]
	if !ok {
		slog.Debug("Dispatcher.command: unknown command", "userID", userID, "command", fields[0])
		return models.Failed(MsgUnknownCommand, models.KindRouting)
	}
	return h(ctx, userID, fields[1:])
}

func (d *Dispatcher) help(ctx context.Context, userID string, args []string) models.Result {
	return models.Ok(MsgHelp)
}

func (d *Dispatcher) last(ctx context.Context, userID string, args []string) models.Result {
	w, err := d.store.GetLastWorkout(ctx, userID)
	if err != nil {
		slog.Error("Dispatcher.last: failed to load workout", "userID", userID, "error", err)
		return models.Failed(MsgGenericError, models.KindOf(err))
	}
	if w == nil {
		return models.Ok(MsgNoWorkouts)
	}
	sets, err := d.store.GetSetsByWorkout(ctx, w.ID)
	if err != nil {
		slog.Error("Dispatcher.last: failed to load sets", "workoutID", w.ID, "error", err)
		return models.Failed(MsgGenericError, models.KindOf(err))
	}
	lines := make([]string, 0, len(sets))
	for _, s := range sets {
		lines = append(lines, fmt.Sprintf("• %s: %s", s.ExerciseRaw, s.Summary()))
	}
	return models.Ok(fmt.Sprintf(msgLastFmt, w.Date, strings.Join(lines, "\n")))
}

func (d *Dispatcher) history(ctx context.Context, userID string, args []string) models.Result {
	name := strings.Join(args, " ")
	if name == "" {
		return models.Failed(MsgHistoryUsage, models.KindValidation)
	}
	sets, err := d.store.GetRecentSetsByExercise(ctx, userID, models.NormalizeExerciseName(name), "", HistoryLimit)
	if err != nil {
		slog.Error("Dispatcher.history: failed to load sets", "userID", userID, "exercise", name, "error", err)
		return models.Failed(MsgGenericError, models.KindOf(err))
	}
	if len(sets) == 0 {
		return models.Ok(fmt.Sprintf(msgNoHistoryFmt, name))
	}
	lines := make([]string, 0, len(sets))
	for _, s := range sets {
		lines = append(lines, "• "+s.Summary())
	}
	return models.Ok(fmt.Sprintf(msgHistoryFmt, name, strings.Join(lines, "\n")))
}

func (d *Dispatcher) registerWorkout(ctx context.Context, userID, msg string) models.Result {
	parsed := d.parser.Parse(ctx, msg)
	if !parsed.Success {
		slog.Info("Dispatcher.registerWorkout: parse failed", "userID", userID, "errors", len(parsed.Errors))
		return models.Failed(bulleted(msgParseFailed, parsed.Errors), models.KindValidation)
	}
	for _, e := range parsed.Errors {
		slog.Warn("Dispatcher.registerWorkout: item dropped", "userID", userID, "error", e)
	}

	w, sets, err := d.store.SaveWorkout(ctx, userID, models.Today(), msg, parsed.Exercises)
	if err != nil {
		slog.Error("Dispatcher.registerWorkout: failed to save workout", "userID", userID, "error", err)
		return models.Failed(MsgGenericError, models.KindOf(err))
	}
	slog.Info("Dispatcher.registerWorkout: workout saved", "userID", userID, "workoutID", w.ID, "sets", len(sets))

	lines := make([]string, 0, len(sets))
	for _, s := range sets {
		lines = append(lines, fmt.Sprintf("%s: %s", s.ExerciseRaw, s.Summary()))
	}
	response := bulleted(msgWorkoutSaved, lines)
	if analysis := d.analyzer.Analyze(ctx, userID, w.ID, parsed.Exercises); analysis != "" {
		response += "\n\n📈 *Evolução:*\n" + analysis
	}
	return models.Ok(response)
}

func bulleted(title string, items []string) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n")
	for _, item := range items {
		b.WriteString("\n• ")
		b.WriteString(item)
	}
	return b.String()
}

var (
	setsByReps      = regexp.MustCompile(`(?i)\d+\s*[x×]\s*\d+`)
	workoutKeywords = regexp.MustCompile(`(?i)\b(s[ée]ries?|reps?|repeti[çc](ão|ões|ao|oes))`)
	loadKg          = regexp.MustCompile(`(?i)\d+(?:[.,]\d+)?\s*(kg|quilos?)\b`)
	setsOfReps      = regexp.MustCompile(`(?i)\b\d+\s+de\s+\d+\b`)
)

// LooksLikeWorkout reports whether msg reads as a workout report: a "3x10"
// style pattern, a number together with a sets or reps keyword, or a load in
// kg together with an "N de M" count ("4 de 12 com 100kg"). A weight alone
// ("peso 78kg") is left to the conversation path.
func LooksLikeWorkout(msg string) bool {
	if setsByReps.MatchString(msg) {
		return true
	}
	if loadKg.MatchString(msg) && setsOfReps.MatchString(msg) {
		return true
	}
	return strings.IndexFunc(msg, unicode.IsDigit) >= 0 && workoutKeywords.MatchString(msg)
}
