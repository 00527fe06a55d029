// Package testutil provides shared fakes and helpers for RepLog tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BTreeMap/RepLog/internal/models"
	"github.com/BTreeMap/RepLog/internal/store"
)

// ErrScriptExhausted is returned by FakeModel when no reply is queued.
var ErrScriptExhausted = errors.New("fake model: no scripted reply left")

// FakeModel is a scripted model gateway. Replies are consumed in order; a
// queued error is returned instead of a reply. Every prompt is recorded.
type FakeModel struct {
	mu      sync.Mutex
	replies []fakeReply
	prompts []string
	// Handler, when set, answers prompts after the queue is empty.
	Handler func(prompt string) (string, error)
}

type fakeReply struct {
	text string
	err  error
}

// NewFakeModel returns a FakeModel that answers with replies in order.
func NewFakeModel(replies ...string) *FakeModel {
	m := &FakeModel{}
	for _, r := range replies {
		m.Reply(r)
	}
	return m
}

// Reply queues a successful reply.
func (m *FakeModel) Reply(text string) *FakeModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, fakeReply{text: text})
	return m
}

// Fail queues a failure wrapping models.ErrModel.
func (m *FakeModel) Fail(err error) *FakeModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, fakeReply{err: errors.Join(models.ErrModel, err)})
	return m
}

// Complete implements the model gateway contract.
func (m *FakeModel) Complete(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	if len(m.replies) > 0 {
		r := m.replies[0]
		m.replies = m.replies[1:]
		m.mu.Unlock()
		return r.text, r.err
	}
	handler := m.Handler
	m.mu.Unlock()
	if handler != nil {
		return handler(prompt)
	}
	return "", errors.Join(models.ErrModel, ErrScriptExhausted)
}

// Calls returns how many prompts were sent.
func (m *FakeModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Prompts returns a copy of the recorded prompts.
func (m *FakeModel) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// LastPrompt returns the most recent prompt, or "" if none was sent.
func (m *FakeModel) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

// NewStore returns an empty in-memory store.
func NewStore(t testing.TB) *store.InMemoryStore {
	t.Helper()
	return store.NewInMemoryStore()
}

// NewUser creates a user with an empty profile.
func NewUser(t testing.TB, s store.Store, phone string) *models.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), phone, "Teste")
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return u
}

// NewOnboardedUser creates a user whose profile is complete.
func NewOnboardedUser(t testing.TB, s store.Store, phone string) *models.User {
	t.Helper()
	u := NewUser(t, s, phone)
	w, h := 80.0, 180.0
	objective := "hipertrofia"
	done := true
	update := models.ProfileUpdate{
		Weight:             &w,
		Height:             &h,
		Objective:          &objective,
		WeeklyRoutine:      map[string]string{"monday": "peito", "wednesday": "perna"},
		OnboardingComplete: &done,
	}
	if err := s.UpdateUserProfile(context.Background(), u.ID, update); err != nil {
		t.Fatalf("failed to complete profile: %v", err)
	}
	got, err := s.GetUser(context.Background(), u.ID)
	if err != nil || got == nil {
		t.Fatalf("failed to reload user: %v", err)
	}
	return got
}

// MustGetUser reloads a user and fails the test if it is missing.
func MustGetUser(t testing.TB, s store.Store, id string) *models.User {
	t.Helper()
	u, err := s.GetUser(context.Background(), id)
	if err != nil || u == nil {
		t.Fatalf("failed to load user %s: %v", id, err)
	}
	return u
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes a JSON response and validates the status field.
func AssertJSONResponse(t testing.TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	if status, ok := response["status"].(string); !ok || status != expectedStatus {
		t.Errorf("expected status '%s', got '%v'", expectedStatus, response["status"])
	}
	return response
}

// CreateHTTPRequest creates an HTTP request with an optional JSON body.
func CreateHTTPRequest(t testing.TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}
