package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/RepLog/internal/models"
	"github.com/BTreeMap/RepLog/internal/util"
)

// InMemoryStore keeps everything in process memory. Values are copied in and
// out so callers never share state with the store.
type InMemoryStore struct {
	mu       sync.RWMutex
	users    map[string]models.User // by ID
	phones   map[string]string      // phone -> user ID
	messages []models.Message
	sids     map[string]struct{}
	workouts []models.Workout
	sets     []models.Set
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:  make(map[string]models.User),
		phones: make(map[string]string),
		sids:   make(map[string]struct{}),
	}
}

func (s *InMemoryStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return copyUser(u), nil
}

func (s *InMemoryStore) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.phones[phone]
	if !ok {
		return nil, nil
	}
	return copyUser(s.users[id]), nil
}

func (s *InMemoryStore) CreateUser(ctx context.Context, phone, name string) (*models.User, error) {
	if phone == "" {
		return nil, models.ErrEmptyPhone
	}
	if name == "" {
		name = models.DefaultUserName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.phones[phone]; ok {
		return copyUser(s.users[id]), nil
	}
	now := time.Now().UTC()
	u := models.User{ID: util.NewUserID(), Phone: phone, Name: name, CreatedAt: now, UpdatedAt: now}
	s.users[u.ID] = u
	s.phones[phone] = u.ID
	slog.Debug("InMemoryStore.CreateUser: created", "userID", u.ID)
	return copyUser(u), nil
}

func (s *InMemoryStore) ListUsers(ctx context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, *copyUser(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users, nil
}

func (s *InMemoryStore) UpdateUserProfile(ctx context.Context, userID string, update models.ProfileUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("update profile %s: %w", userID, models.ErrUserNotFound)
	}
	update.Apply(&u)
	u.UpdatedAt = time.Now().UTC()
	s.users[userID] = u
	return nil
}

func (s *InMemoryStore) SaveWorkout(ctx context.Context, userID, date, notes string, exercises []models.Exercise) (*models.Workout, []models.Set, error) {
	if len(exercises) == 0 {
		return nil, nil, models.ErrNoExercises
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return nil, nil, fmt.Errorf("save workout for %s: %w: %w", userID, models.ErrPersistence, models.ErrUserNotFound)
	}
	now := time.Now().UTC()
	w := models.Workout{ID: util.NewWorkoutID(), UserID: userID, Date: date, Notes: notes, CreatedAt: now}
	sets := models.SetsFromExercises(exercises)
	for i := range sets {
		sets[i].ID = util.NewSetID()
		sets[i].WorkoutID = w.ID
		sets[i].CreatedAt = now
	}
	s.workouts = append(s.workouts, w)
	s.sets = append(s.sets, sets...)
	return &w, append([]models.Set(nil), sets...), nil
}

func (s *InMemoryStore) GetLastWorkout(ctx context.Context, userID string) (*models.Workout, error) {
	workouts, err := s.GetRecentWorkouts(ctx, userID, 1)
	if err != nil || len(workouts) == 0 {
		return nil, err
	}
	return &workouts[0], nil
}

func (s *InMemoryStore) GetRecentWorkouts(ctx context.Context, userID string, limit int) ([]models.Workout, error) {
	s.mu.RLock()
	var out []models.Workout
	for _, w := range s.workouts {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return truncate(out, limit), nil
}

func (s *InMemoryStore) GetSetsByWorkout(ctx context.Context, workoutID string) ([]models.Set, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Set
	for _, set := range s.sets {
		if set.WorkoutID == workoutID {
			out = append(out, copySet(set))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (s *InMemoryStore) GetRecentSetsByExercise(ctx context.Context, userID, exercise, excludeWorkoutID string, limit int) ([]models.Set, error) {
	s.mu.RLock()
	owned := make(map[string]bool)
	for _, w := range s.workouts {
		if w.UserID == userID && w.ID != excludeWorkoutID {
			owned[w.ID] = true
		}
	}
	var out []models.Set
	for _, set := range s.sets {
		if owned[set.WorkoutID] && set.Exercise == exercise {
			out = append(out, copySet(set))
		}
	}
	s.mu.RUnlock()
	// Sets are appended in insertion order, so reversing gives newest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return truncate(out, limit), nil
}

func (s *InMemoryStore) RecordMessage(ctx context.Context, msg models.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.sids[msg.MessageSID]; seen {
		return false, nil
	}
	if msg.ID == "" {
		msg.ID = util.NewMessageID()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}
	s.sids[msg.MessageSID] = struct{}{}
	s.messages = append(s.messages, msg)
	return true, nil
}

func (s *InMemoryStore) GetRecentMessages(ctx context.Context, userID string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Message
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].UserID == userID {
			out = append(out, s.messages[i])
		}
	}
	return truncate(out, limit), nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func copyUser(u models.User) *models.User {
	out := u
	models.ProfileUpdate{Weight: u.Weight, Height: u.Height, Objective: u.Objective, WeeklyRoutine: u.WeeklyRoutine}.Apply(&out)
	return &out
}

func copySet(s models.Set) models.Set {
	if s.Weight != nil {
		w := *s.Weight
		s.Weight = &w
	}
	return s
}
