// Package models defines the core data structures for RepLog.
//
// It includes the persisted entities (users, messages, workouts, sets), the
// result type returned by the conversation engine, and the JSON envelope used
// by the HTTP API. These types are shared across modules.
package models

import (
	"errors"
)

// ErrorKind classifies why an engine operation degraded.
type ErrorKind string

const (
	// KindNone marks a result that did not degrade.
	KindNone ErrorKind = ""
	// KindValidation covers malformed or incomplete user input, including
	// extracted data that fails schema validation.
	KindValidation ErrorKind = "validation"
	// KindModel covers an unavailable gateway or an unusable reply.
	KindModel ErrorKind = "model"
	// KindPersistence covers storage read/write failures.
	KindPersistence ErrorKind = "persistence"
	// KindRouting covers unrecognized slash-commands.
	KindRouting ErrorKind = "routing"
)

// Sentinel errors for each ErrorKind. Lower layers wrap these with fmt.Errorf
// so callers can classify with errors.Is.
var (
	ErrValidation  = errors.New("validation error")
	ErrModel       = errors.New("model error")
	ErrPersistence = errors.New("persistence error")
	ErrRouting     = errors.New("unknown command")
)

// Other shared errors.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrWorkoutNotFound = errors.New("workout not found")
	ErrEmptyPhone      = errors.New("phone cannot be empty")
	ErrEmptyBody       = errors.New("message body cannot be empty")
	ErrNoExercises     = errors.New("workout has no exercises")
)

// KindOf maps an error to its ErrorKind. Unclassified errors are reported as
// persistence failures since storage is the only other collaborator that fails.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrModel):
		return KindModel
	case errors.Is(err, ErrRouting):
		return KindRouting
	default:
		return KindPersistence
	}
}

// Result is what every engine entry point returns: the text to send back to
// the user, whether the request succeeded, and, for degraded paths, the reason.
type Result struct {
	Response string    `json:"response"`
	Success  bool      `json:"success"`
	Reason   ErrorKind `json:"reason,omitempty"`
}

// Ok builds a successful result.
func Ok(response string) Result {
	return Result{Response: response, Success: true}
}

// Degraded builds a result that is still reported as successful to the user
// but carries the failure reason for logging and tests.
func Degraded(response string, reason ErrorKind) Result {
	return Result{Response: response, Success: true, Reason: reason}
}

// Failed builds an unsuccessful result.
func Failed(response string, reason ErrorKind) Result {
	return Result{Response: response, Success: false, Reason: reason}
}

// InboundMessage is a text message received from a transport, before it is
// attributed to a user.
type InboundMessage struct {
	MessageID   string `json:"message_id"`             // external identifier (Twilio MessageSid, WhatsApp message id)
	From        string `json:"from"`                   // sender phone, canonicalized by the transport
	To          string `json:"to,omitempty"`           // recipient (our number)
	Body        string `json:"body"`                   // message text
	ProfileName string `json:"profile_name,omitempty"` // sender display name, if the transport provides one
	Time        int64  `json:"time"`                   // unix seconds
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response structure.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
