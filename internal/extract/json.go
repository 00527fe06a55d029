// Package extract turns free-form model output into validated structured data.
//
// It covers the raw JSON the onboarding and parser prompts ask for, and the
// tagged directive blocks ([SAVE_PROFILE], [SAVE_OBJECTIVE], [SAVE_ROUTINE],
// [SAVE_WORKOUT]) the conversation prompt lets the model embed in its reply.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/BTreeMap/RepLog/internal/models"
)

// ErrNoJSONObject is returned when a reply contains no {...} span.
var ErrNoJSONObject = fmt.Errorf("no JSON object in model reply: %w", models.ErrValidation)

// SliceJSONObject returns the substring between the first '{' and the last '}'
// of text, inclusive. Models often wrap the object in prose or code fences; this
// keeps only the object.
func SliceJSONObject(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return "", ErrNoJSONObject
	}
	return text[start : end+1], nil
}

// StripCodeFence removes a surrounding markdown code fence (``` or ```json)
// from text. Text without a fence is returned trimmed.
func StripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.Index(s, "\n"); nl != -1 {
		// Drop the language hint on the opening line.
		if !strings.ContainsAny(s[:nl], "[{") {
			s = s[nl+1:]
		}
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// DecodeObject slices the JSON object out of text and unmarshals it into v.
func DecodeObject(text string, v any) error {
	obj, err := SliceJSONObject(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", models.ErrValidation, err)
	}
	return nil
}

// DecodeArray strips code fences from text and unmarshals it as a JSON array
// of raw items. A valid JSON value that is not an array yields ErrNotArray.
func DecodeArray(text string) ([]json.RawMessage, error) {
	body := StripCodeFence(text)
	var value json.RawMessage
	if err := json.Unmarshal([]byte(body), &value); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", models.ErrValidation, err)
	}
	if string(value) == "null" {
		return nil, ErrNotArray
	}
	var items []json.RawMessage
	if err := json.Unmarshal(value, &items); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, ErrNotArray
		}
		return nil, fmt.Errorf("%w: invalid JSON: %v", models.ErrValidation, err)
	}
	return items, nil
}

// ErrNotArray is returned by DecodeArray when the reply is not a JSON array.
var ErrNotArray = fmt.Errorf("model reply is not a JSON array: %w", models.ErrValidation)
