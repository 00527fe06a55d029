// Package onboarding implements the profile-completion flow new users go
// through before workouts are accepted.
//
// The current step is never stored. It is derived from which profile fields
// are present, except for the terminal completion flag which, once set,
// short-circuits the derivation.
package onboarding

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode"

	"github.com/BTreeMap/RepLog/internal/extract"
	"github.com/BTreeMap/RepLog/internal/genai"
	"github.com/BTreeMap/RepLog/internal/models"
)

// Step is a derived onboarding stage.
type Step string

const (
	StepInitial           Step = "initial"
	StepNeedsWeightHeight Step = "needs_weight_height"
	StepNeedsRoutine      Step = "needs_routine"
	StepNeedsObjective    Step = "needs_objective"
	StepComplete          Step = "complete"
)

// User-facing texts.
const (
	MsgWelcome = "Ótimo! Vou te ajudar a rastrear seus treinos! 💪\n\nPrimeiro, qual seu peso (kg) e altura (cm)? Ex: \"75kg 180cm\""

	msgWeightHeightSaved  = "✅ %s, %s registrado!\n\nAgora, qual treino você faz cada dia? Ex: \"seg: peito, ter: costas, qua: perna...\""
	MsgWeightHeightRetry  = "❌ Não consegui extrair peso e altura. Tenta de novo: \"75kg 180cm\""
	MsgRoutineSaved       = "✅ Rotina salva!\n\nPor fim, qual seu objetivo? Ex: \"hipertrofia\", \"força\", \"emagrecer\""
	MsgRoutineRetry       = "❌ Não consegui extrair os dias. Tenta assim: \"seg: peito, ter: costas\""
	msgObjectiveSaved     = "🎯 Perfeito! Seu objetivo é \"%s\".\n\nAgora você está pronto! Envie seus treinos e vou acompanhar sua evolução. 💪"
	MsgAlreadyComplete    = "Você já completou o onboarding. Envie um treino ou use /help"
	weightHeightPromptFmt = "Extraia peso (kg) e altura (cm) desta mensagem: %q\nRetorne JSON: {\"weight\": número, \"height\": número}\nSe não conseguir extrair, retorne {\"weight\": null, \"height\": null}"
	routinePromptFmt      = "Extraia os dias da semana e exercícios desta mensagem: %q\nRetorne JSON objeto: {\"monday\": \"peito\", \"tuesday\": \"costas\", ...} ou {} se não conseguir"
)

// DeriveStep computes the onboarding step from a user snapshot. First match
// wins; a nil user has not been created yet.
func DeriveStep(u *models.User) Step {
	switch {
	case u == nil:
		return StepInitial
	case u.OnboardingComplete:
		return StepComplete
	case !u.HasWeightAndHeight():
		return StepNeedsWeightHeight
	case !u.HasRoutine():
		return StepNeedsRoutine
	case !u.HasObjective():
		return StepNeedsObjective
	default:
		return StepComplete
	}
}

// Store is the slice of persistence the engine needs.
type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	UpdateUserProfile(ctx context.Context, userID string, update models.ProfileUpdate) error
}

// Engine advances a user through onboarding one message at a time.
type Engine struct {
	store Store
	model genai.ClientInterface
}

// NewEngine creates an onboarding engine.
func NewEngine(st Store, model genai.ClientInterface) *Engine {
	return &Engine{store: st, model: model}
}

// Handle loads the user and processes one onboarding message.
func (e *Engine) Handle(ctx context.Context, userID, message string) models.Result {
	u, err := e.store.GetUser(ctx, userID)
	if err != nil {
		slog.Error("Engine.Handle: failed to load user", "userID", userID, "error", err)
		return models.Degraded(MsgWelcome, models.KindPersistence)
	}
	return e.HandleUser(ctx, userID, u, message)
}

// HandleUser processes one onboarding message for an already loaded user
// snapshot (nil when the user does not exist). The result is always
// successful: failures only keep the user on the current step.
func (e *Engine) HandleUser(ctx context.Context, userID string, u *models.User, message string) models.Result {
	step := DeriveStep(u)
	slog.Debug("Engine.HandleUser: processing", "userID", userID, "step", step, "message_length", len(message))

	switch step {
	case StepInitial:
		return e.start(ctx, userID)
	case StepNeedsWeightHeight:
		return e.weightHeight(ctx, userID, message)
	case StepNeedsRoutine:
		return e.routine(ctx, userID, message)
	case StepNeedsObjective:
		return e.objective(ctx, userID, message)
	default:
		return models.Ok(MsgAlreadyComplete)
	}
}

func (e *Engine) start(ctx context.Context, userID string) models.Result {
	if userID != "" {
		incomplete := false
		if err := e.store.UpdateUserProfile(ctx, userID, models.ProfileUpdate{OnboardingComplete: &incomplete}); err != nil {
			// The user row may simply not exist yet; the welcome is sent either way.
			slog.Debug("Engine.start: could not mark onboarding started", "userID", userID, "error", err)
		}
	}
	return models.Ok(MsgWelcome)
}

func (e *Engine) weightHeight(ctx context.Context, userID, message string) models.Result {
	if !containsDigit(message) {
		slog.Debug("Engine.weightHeight: no digits, prompting", "userID", userID)
		return models.Degraded(MsgWelcome, models.KindValidation)
	}

	reply, err := e.model.Complete(ctx, fmt.Sprintf(weightHeightPromptFmt, message))
	if err != nil {
		slog.Warn("Engine.weightHeight: model call failed", "userID", userID, "error", err)
		return models.Degraded(MsgWeightHeightRetry, models.KindOf(err))
	}
	profile, err := extract.ParseProfile(reply)
	if err != nil {
		slog.Warn("Engine.weightHeight: extraction rejected", "userID", userID, "error", err)
		return models.Degraded(MsgWeightHeightRetry, models.KindValidation)
	}

	update := models.ProfileUpdate{Weight: &profile.Weight, Height: &profile.Height}
	if err := e.store.UpdateUserProfile(ctx, userID, update); err != nil {
		slog.Error("Engine.weightHeight: failed to save", "userID", userID, "error", err)
		return models.Degraded(MsgWeightHeightRetry, models.KindPersistence)
	}
	slog.Info("Engine.weightHeight: saved", "userID", userID)
	return models.Ok(fmt.Sprintf(msgWeightHeightSaved, models.FormatKg(profile.Weight), formatCm(profile.Height)))
}

func (e *Engine) routine(ctx context.Context, userID, message string) models.Result {
	reply, err := e.model.Complete(ctx, fmt.Sprintf(routinePromptFmt, message))
	if err != nil {
		slog.Warn("Engine.routine: model call failed", "userID", userID, "error", err)
		return models.Degraded(MsgRoutineRetry, models.KindOf(err))
	}
	routine, err := extract.ParseRoutine(reply)
	if err != nil {
		slog.Warn("Engine.routine: extraction rejected", "userID", userID, "error", err)
		return models.Degraded(MsgRoutineRetry, models.KindValidation)
	}
	if err := e.store.UpdateUserProfile(ctx, userID, models.ProfileUpdate{WeeklyRoutine: routine}); err != nil {
		slog.Error("Engine.routine: failed to save", "userID", userID, "error", err)
		return models.Degraded(MsgRoutineRetry, models.KindPersistence)
	}
	slog.Info("Engine.routine: saved", "userID", userID, "days", len(routine))
	return models.Ok(MsgRoutineSaved)
}

// objective stores the message verbatim and completes onboarding without
// re-checking the other fields.
func (e *Engine) objective(ctx context.Context, userID, message string) models.Result {
	done := true
	update := models.ProfileUpdate{Objective: &message, OnboardingComplete: &done}
	if err := e.store.UpdateUserProfile(ctx, userID, update); err != nil {
		slog.Error("Engine.objective: failed to save", "userID", userID, "error", err)
		return models.Degraded("❌ Não foi possível salvar seu objetivo. Tenta de novo?", models.KindPersistence)
	}
	slog.Info("Engine.objective: onboarding complete", "userID", userID)
	return models.Ok(fmt.Sprintf(msgObjectiveSaved, message))
}

func containsDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) != -1
}

func formatCm(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "cm"
}
