// Package parser turns a free-text workout description into validated
// exercise entries with one model call.
package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/RepLog/internal/extract"
	"github.com/BTreeMap/RepLog/internal/genai"
	"github.com/BTreeMap/RepLog/internal/models"
	"github.com/invopop/jsonschema"
)

// MsgInvalidFormat is reported when the model reply is not a JSON array.
const MsgInvalidFormat = "O modelo respondeu em um formato inválido"

// exerciseItem documents one array element for the model. Validation itself
// is done by extract.DecodeExercise.
type exerciseItem struct {
	Exercise    string   `json:"exercise" jsonschema_description:"Nome do exercício normalizado (lowercase)"`
	ExerciseRaw string   `json:"exerciseRaw" jsonschema_description:"Nome do exercício como enviado"`
	SetsCount   int      `json:"setsCount" jsonschema:"minimum=1" jsonschema_description:"Número de séries"`
	Reps        int      `json:"reps" jsonschema:"minimum=1" jsonschema_description:"Número de repetições por série (ou segundos)"`
	WeightKg    *float64 `json:"weightKg" jsonschema:"exclusiveMinimum=0" jsonschema_description:"Peso em kg utilizado, null se não houver"`
}

// GenerateSchema reflects the JSON schema of T without references or extra
// properties.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

var itemSchema = mustSchemaJSON(GenerateSchema[exerciseItem]())

func mustSchemaJSON(s *jsonschema.Schema) string {
	b, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("parser: marshal item schema: %v", err))
	}
	return string(b)
}

const promptFmt = `Extraia os exercícios desta mensagem de treino em linguagem natural.
Retorne um array JSON de objetos contendo: exercise (nome normalizado em lowercase), exerciseRaw (nome original), setsCount (número), reps (número), weightKg (número ou null).

Cada objeto segue este JSON Schema:
%s

Exemplos:
- "Fiz supino 3 séries de 10 com 60kg" → [{"exercise": "supino", "exerciseRaw": "supino", "setsCount": 3, "reps": 10, "weightKg": 60}]
- "3x10 agachamento 80kg" → [{"exercise": "agachamento", "exerciseRaw": "agachamento", "setsCount": 3, "reps": 10, "weightKg": 80}]
- "Prancha 3x60s" → [{"exercise": "prancha", "exerciseRaw": "prancha", "setsCount": 3, "reps": 60, "weightKg": null}]

Mensagem: %q
Retorne APENAS o JSON, sem explicações.`

// ParseResult is the outcome of one parse. Errors accompanies the result even
// when Success is true so partial failures can be reported.
type ParseResult struct {
	Success   bool              `json:"success"`
	Exercises []models.Exercise `json:"exercises"`
	Errors    []string          `json:"errors"`
}

// Parser extracts exercises through the model gateway.
type Parser struct {
	model genai.ClientInterface
}

// New creates a Parser.
func New(model genai.ClientInterface) *Parser {
	return &Parser{model: model}
}

// Prompt renders the extraction prompt for a message.
func Prompt(message string) string {
	return fmt.Sprintf(promptFmt, itemSchema, message)
}

// Parse extracts exercises from message. Each array element is validated on
// its own; Success is true iff at least one exercise validated.
func (p *Parser) Parse(ctx context.Context, message string) ParseResult {
	reply, err := p.model.Complete(ctx, Prompt(message))
	if err != nil {
		slog.Warn("Parser.Parse: model call failed", "error", err)
		return ParseResult{Errors: []string{err.Error()}}
	}

	items, err := extract.DecodeArray(reply)
	if errors.Is(err, extract.ErrNotArray) {
		slog.Warn("Parser.Parse: reply is not an array", "reply_length", len(reply))
		return ParseResult{Errors: []string{MsgInvalidFormat}}
	}
	if err != nil {
		slog.Warn("Parser.Parse: reply is not JSON", "error", err)
		return ParseResult{Errors: []string{err.Error()}}
	}

	res := ParseResult{Exercises: []models.Exercise{}, Errors: []string{}}
	for _, item := range items {
		e, err := extract.DecodeExercise(item)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("Exercício inválido: %s - %v", extract.CompactJSON(item), err))
			continue
		}
		res.Exercises = append(res.Exercises, e)
	}
	res.Success = len(res.Exercises) > 0
	slog.Debug("Parser.Parse: done", "valid", len(res.Exercises), "invalid", len(res.Errors))
	return res
}
