package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/BTreeMap/RepLog/internal/models"
)

// Acknowledgement is returned by Strip when nothing but directives was sent.
const Acknowledgement = "👍 Entendi!"

// Kind identifies a directive type.
type Kind string

const (
	KindProfile   Kind = "profile"
	KindObjective Kind = "objective"
	KindRoutine   Kind = "routine"
	KindWorkout   Kind = "workout"
)

// Directive is one structured instruction found in a model reply. Concrete
// types are ProfileDirective, ObjectiveDirective, RoutineDirective and
// WorkoutDirective.
type Directive interface {
	Kind() Kind
}

// ProfileDirective carries a [SAVE_PROFILE] weight/height pair.
type ProfileDirective struct {
	Profile Profile
}

// ObjectiveDirective carries [SAVE_OBJECTIVE] text.
type ObjectiveDirective struct {
	Objective string
}

// RoutineDirective carries a [SAVE_ROUTINE] day -> activity mapping.
type RoutineDirective struct {
	Routine map[string]string
}

// WorkoutDirective carries the valid [SAVE_WORKOUT] exercises, in order.
// Errors lists the items that were dropped.
type WorkoutDirective struct {
	Exercises []models.Exercise
	Errors    []string
}

func (ProfileDirective) Kind() Kind   { return KindProfile }
func (ObjectiveDirective) Kind() Kind { return KindObjective }
func (RoutineDirective) Kind() Kind   { return KindRoutine }
func (WorkoutDirective) Kind() Kind   { return KindWorkout }

// DirectiveError reports a directive block that was present but unusable.
type DirectiveError struct {
	Kind Kind
	Err  error
}

func (e DirectiveError) Error() string {
	return fmt.Sprintf("%s directive: %v", e.Kind, e.Err)
}

func (e DirectiveError) Unwrap() error { return e.Err }

// descriptor ties a tag pair to the parser for its payload.
type descriptor struct {
	kind    Kind
	pattern *regexp.Regexp
	parse   func(payload string) (Directive, error)
}

func newDescriptor(kind Kind, tag string, parse func(string) (Directive, error)) descriptor {
	return descriptor{
		kind:    kind,
		pattern: regexp.MustCompile(`(?s)\[` + tag + `\](.*?)\[/` + tag + `\]`),
		parse:   parse,
	}
}

// descriptors is evaluated in order; each entry is independent of the others.
var descriptors = []descriptor{
	newDescriptor(KindProfile, "SAVE_PROFILE", parseProfileDirective),
	newDescriptor(KindObjective, "SAVE_OBJECTIVE", parseObjectiveDirective),
	newDescriptor(KindRoutine, "SAVE_ROUTINE", parseRoutineDirective),
	newDescriptor(KindWorkout, "SAVE_WORKOUT", parseWorkoutDirective),
}

// ParseDirectives locates each directive type in text and parses its first
// occurrence. A missing tag is not an error. A malformed payload produces a
// DirectiveError for that kind only and never stops the other kinds.
func ParseDirectives(text string) ([]Directive, []DirectiveError) {
	var (
		found []Directive
		errs  []DirectiveError
	)
	for _, d := range descriptors {
		m := d.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		directive, err := d.parse(strings.TrimSpace(m[1]))
		if err != nil {
			errs = append(errs, DirectiveError{Kind: d.kind, Err: err})
			continue
		}
		found = append(found, directive)
	}
	return found, errs
}

// Strip removes every directive block, delimiters included, and trims the
// remainder. An empty remainder becomes Acknowledgement.
func Strip(text string) string {
	for _, d := range descriptors {
		text = d.pattern.ReplaceAllString(text, "")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Acknowledgement
	}
	return text
}

func parseProfileDirective(payload string) (Directive, error) {
	p, err := ParseProfile(payload)
	if err != nil {
		return nil, err
	}
	return ProfileDirective{Profile: p}, nil
}

func parseObjectiveDirective(payload string) (Directive, error) {
	if payload == "" {
		return nil, fmt.Errorf("%w: objective is empty", models.ErrValidation)
	}
	return ObjectiveDirective{Objective: payload}, nil
}

func parseRoutineDirective(payload string) (Directive, error) {
	routine, err := ParseRoutine(payload)
	if err != nil {
		return nil, err
	}
	return RoutineDirective{Routine: routine}, nil
}

func parseWorkoutDirective(payload string) (Directive, error) {
	items, err := DecodeArray(payload)
	if err != nil {
		return nil, err
	}
	var w WorkoutDirective
	for _, item := range items {
		e, err := DecodeWorkoutEntry(item)
		if err != nil {
			w.Errors = append(w.Errors, fmt.Sprintf("%s: %v", CompactJSON(item), err))
			continue
		}
		w.Exercises = append(w.Exercises, e)
	}
	if len(w.Exercises) == 0 {
		return nil, fmt.Errorf("%w: no valid exercises (%s)", models.ErrValidation, strings.Join(w.Errors, "; "))
	}
	return w, nil
}

// CompactJSON renders a raw JSON item on one line for error messages.
func CompactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return buf.String()
}
