package extract

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/BTreeMap/RepLog/internal/models"
)

// Profile is a validated weight/height pair.
type Profile struct {
	Weight float64 `json:"weight"` // kg
	Height float64 `json:"height"` // cm
}

type profilePayload struct {
	Weight *float64 `json:"weight"`
	Height *float64 `json:"height"`
}

// ParseProfile validates a {"weight": n, "height": n} object. Both values must
// be present and positive.
func ParseProfile(text string) (Profile, error) {
	var p profilePayload
	if err := DecodeObject(text, &p); err != nil {
		return Profile{}, err
	}
	return ValidateProfile(p.Weight, p.Height)
}

// ValidateProfile checks that weight and height are present and positive.
func ValidateProfile(weight, height *float64) (Profile, error) {
	if weight == nil || height == nil {
		return Profile{}, fmt.Errorf("%w: weight and height are required", models.ErrValidation)
	}
	if !positive(*weight) {
		return Profile{}, fmt.Errorf("%w: weight must be positive, got %v", models.ErrValidation, *weight)
	}
	if !positive(*height) {
		return Profile{}, fmt.Errorf("%w: height must be positive, got %v", models.ErrValidation, *height)
	}
	return Profile{Weight: *weight, Height: *height}, nil
}

// ParseRoutine validates a day -> activity object.
func ParseRoutine(text string) (map[string]string, error) {
	var raw map[string]any
	if err := DecodeObject(text, &raw); err != nil {
		return nil, err
	}
	return ValidateRoutine(raw)
}

// ValidateRoutine checks that raw is a non-empty mapping of non-empty string
// keys to string values. Keys and values are trimmed.
func ValidateRoutine(raw map[string]any) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: routine is empty", models.ErrValidation)
	}
	routine := make(map[string]string, len(raw))
	for k, v := range raw {
		day := strings.TrimSpace(k)
		if day == "" {
			return nil, fmt.Errorf("%w: routine has an empty day", models.ErrValidation)
		}
		activity, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: routine value for %q is not text", models.ErrValidation, day)
		}
		routine[day] = strings.TrimSpace(activity)
	}
	return routine, nil
}

// exerciseItem accepts both key sets the prompts ask for: the parser's
// setsCount/weightKg and the workout directive's sets/weight.
type exerciseItem struct {
	Exercise    *string  `json:"exercise"`
	ExerciseRaw *string  `json:"exerciseRaw"`
	SetsCount   *float64 `json:"setsCount"`
	Sets        *float64 `json:"sets"`
	Reps        *float64 `json:"reps"`
	WeightKg    *float64 `json:"weightKg"`
	Weight      *float64 `json:"weight"`
}

// DecodeExercise decodes and validates one Workout Parser item. The raw
// display name is required.
func DecodeExercise(raw json.RawMessage) (models.Exercise, error) {
	return decodeExercise(raw, false)
}

// DecodeWorkoutEntry decodes and validates one [SAVE_WORKOUT] item. The display
// name falls back to the exercise name as written.
func DecodeWorkoutEntry(raw json.RawMessage) (models.Exercise, error) {
	return decodeExercise(raw, true)
}

func decodeExercise(raw json.RawMessage, rawFromName bool) (models.Exercise, error) {
	var item exerciseItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return models.Exercise{}, fmt.Errorf("%w: malformed item: %v", models.ErrValidation, err)
	}

	var e models.Exercise
	if item.Exercise != nil {
		e.Exercise = models.NormalizeExerciseName(*item.Exercise)
	}
	switch {
	case item.ExerciseRaw != nil:
		e.ExerciseRaw = strings.TrimSpace(*item.ExerciseRaw)
	case rawFromName && item.Exercise != nil:
		e.ExerciseRaw = strings.TrimSpace(*item.Exercise)
	}

	sets := firstOf(item.SetsCount, item.Sets)
	if sets == nil {
		return models.Exercise{}, fmt.Errorf("%w: setsCount is required", models.ErrValidation)
	}
	n, err := positiveInt("setsCount", *sets)
	if err != nil {
		return models.Exercise{}, err
	}
	e.SetsCount = n

	if item.Reps == nil {
		return models.Exercise{}, fmt.Errorf("%w: reps is required", models.ErrValidation)
	}
	if e.Reps, err = positiveInt("reps", *item.Reps); err != nil {
		return models.Exercise{}, err
	}

	if w := firstOf(item.WeightKg, item.Weight); w != nil {
		weight := *w
		e.WeightKg = &weight
	}

	if err := ValidateExercise(e); err != nil {
		return models.Exercise{}, err
	}
	return e, nil
}

// ValidateExercise enforces the exercise schema: names non-empty, set count
// and reps positive, weight positive when present.
func ValidateExercise(e models.Exercise) error {
	if strings.TrimSpace(e.Exercise) == "" {
		return fmt.Errorf("%w: exercise is required", models.ErrValidation)
	}
	if strings.TrimSpace(e.ExerciseRaw) == "" {
		return fmt.Errorf("%w: exerciseRaw is required", models.ErrValidation)
	}
	if e.SetsCount <= 0 {
		return fmt.Errorf("%w: setsCount must be positive", models.ErrValidation)
	}
	if e.Reps <= 0 {
		return fmt.Errorf("%w: reps must be positive", models.ErrValidation)
	}
	if e.WeightKg != nil && !positive(*e.WeightKg) {
		return fmt.Errorf("%w: weightKg must be positive", models.ErrValidation)
	}
	return nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func positiveInt(field string, v float64) (int, error) {
	if v != math.Trunc(v) || v <= 0 || v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %v", models.ErrValidation, field, v)
	}
	return int(v), nil
}

func firstOf(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
