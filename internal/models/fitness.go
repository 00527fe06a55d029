package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the day-granularity format used for workout dates.
const DateLayout = "2006-01-02"

// DefaultUserName is stored when the transport does not provide a profile name.
const DefaultUserName = "Unknown"

// User is one person talking to the assistant, identified by phone number.
type User struct {
	ID                 string            `json:"id"`
	Phone              string            `json:"phone"`
	Name               string            `json:"name"`
	Weight             *float64          `json:"weight,omitempty"` // kg
	Height             *float64          `json:"height,omitempty"` // cm
	Objective          *string           `json:"objective,omitempty"`
	WeeklyRoutine      map[string]string `json:"weekly_routine,omitempty"` // day -> activity
	OnboardingComplete bool              `json:"onboarding_complete"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// HasWeightAndHeight reports whether both body measurements are present.
func (u *User) HasWeightAndHeight() bool {
	return u.Weight != nil && u.Height != nil
}

// HasRoutine reports whether a weekly routine is present.
func (u *User) HasRoutine() bool {
	return len(u.WeeklyRoutine) > 0
}

// HasObjective reports whether a non-blank objective is present.
func (u *User) HasObjective() bool {
	return u.Objective != nil && strings.TrimSpace(*u.Objective) != ""
}

// ProfileUpdate is a partial update of a user's profile. Nil fields are left
// untouched.
type ProfileUpdate struct {
	Weight             *float64
	Height             *float64
	Objective          *string
	WeeklyRoutine      map[string]string
	OnboardingComplete *bool
}

// IsEmpty reports whether the update would change nothing.
func (p ProfileUpdate) IsEmpty() bool {
	return p.Weight == nil && p.Height == nil && p.Objective == nil &&
		p.WeeklyRoutine == nil && p.OnboardingComplete == nil
}

// Apply copies the non-nil fields of the update onto u.
func (p ProfileUpdate) Apply(u *User) {
	if p.Weight != nil {
		w := *p.Weight
		u.Weight = &w
	}
	if p.Height != nil {
		h := *p.Height
		u.Height = &h
	}
	if p.Objective != nil {
		o := *p.Objective
		u.Objective = &o
	}
	if p.WeeklyRoutine != nil {
		routine := make(map[string]string, len(p.WeeklyRoutine))
		for k, v := range p.WeeklyRoutine {
			routine[k] = v
		}
		u.WeeklyRoutine = routine
	}
	if p.OnboardingComplete != nil {
		u.OnboardingComplete = *p.OnboardingComplete
	}
}

// Message is the immutable log record of one inbound message.
type Message struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	MessageSID string    `json:"message_sid"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// Workout is one logged training session.
type Workout struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Date      string    `json:"date"` // YYYY-MM-DD
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Set is one exercise entry inside a workout.
type Set struct {
	ID          string    `json:"id"`
	WorkoutID   string    `json:"workout_id"`
	Exercise    string    `json:"exercise"`     // normalized, lowercase
	ExerciseRaw string    `json:"exercise_raw"` // as typed, for display
	SetsCount   int       `json:"sets_count"`
	Reps        int       `json:"reps"`
	Weight      *float64  `json:"weight,omitempty"` // kg
	OrderIndex  int       `json:"order_index"`
	CreatedAt   time.Time `json:"created_at"`
}

// Summary renders the set as "3x10 60kg", omitting the weight when absent.
func (s Set) Summary() string {
	out := fmt.Sprintf("%dx%d", s.SetsCount, s.Reps)
	if s.Weight != nil {
		out += " " + FormatKg(*s.Weight)
	}
	return out
}

// Exercise is one validated exercise extracted from a workout description.
type Exercise struct {
	Exercise    string   `json:"exercise"`
	ExerciseRaw string   `json:"exerciseRaw"`
	SetsCount   int      `json:"setsCount"`
	Reps        int      `json:"reps"`
	WeightKg    *float64 `json:"weightKg,omitempty"`
}

// ToSet converts the exercise into a Set at the given position.
func (e Exercise) ToSet(orderIndex int) Set {
	s := Set{
		Exercise:    e.Exercise,
		ExerciseRaw: e.ExerciseRaw,
		SetsCount:   e.SetsCount,
		Reps:        e.Reps,
		OrderIndex:  orderIndex,
	}
	if e.WeightKg != nil {
		w := *e.WeightKg
		s.Weight = &w
	}
	return s
}

// SetsFromExercises converts a batch into ordered Sets.
func SetsFromExercises(exercises []Exercise) []Set {
	sets := make([]Set, 0, len(exercises))
	for i, e := range exercises {
		sets = append(sets, e.ToSet(i))
	}
	return sets
}

// NormalizeExerciseName returns the canonical form used for historical matching.
func NormalizeExerciseName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// FormatKg renders a weight without trailing zeros, e.g. "60kg" or "62.5kg".
func FormatKg(w float64) string {
	return strconv.FormatFloat(w, 'f', -1, 64) + "kg"
}

// Today returns the current date in DateLayout.
func Today() string {
	return time.Now().Format(DateLayout)
}
