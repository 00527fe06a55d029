package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/RepLog/internal/models"
	"github.com/BTreeMap/RepLog/internal/util"
)

// sqlStore implements Store over database/sql. Queries are written with '?'
// placeholders and rebound for the driver in use.
type sqlStore struct {
	db     *sql.DB
	name   string // for log messages
	dollar bool   // use $1, $2 placeholders
}

func (s *sqlStore) q(query string) string {
	if !s.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// dbErr wraps a driver error as a persistence failure.
func dbErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, models.ErrPersistence, err)
}

const userColumns = `id, phone, name, weight, height, objective, weekly_routine, onboarding_complete, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u         models.User
		weight    sql.NullFloat64
		height    sql.NullFloat64
		objective sql.NullString
		routine   sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Phone, &u.Name, &weight, &height, &objective, &routine,
		&u.OnboardingComplete, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if weight.Valid {
		u.Weight = &weight.Float64
	}
	if height.Valid {
		u.Height = &height.Float64
	}
	if objective.Valid {
		u.Objective = &objective.String
	}
	if routine.Valid && routine.String != "" {
		if err := json.Unmarshal([]byte(routine.String), &u.WeeklyRoutine); err != nil {
			// Keep the user readable; a broken routine re-enters onboarding.
			slog.Error("store.scanUser: invalid weekly_routine JSON", "userID", u.ID, "error", err)
			u.WeeklyRoutine = nil
		}
	}
	return &u, nil
}

func (s *sqlStore) getUserWhere(ctx context.Context, column, value string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`), value)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+" get user failed", "error", err, column, value)
		return nil, dbErr("get user", err)
	}
	return u, nil
}

func (s *sqlStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.getUserWhere(ctx, "id", id)
}

func (s *sqlStore) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	return s.getUserWhere(ctx, "phone", phone)
}

func (s *sqlStore) CreateUser(ctx context.Context, phone, name string) (*models.User, error) {
	if phone == "" {
		return nil, models.ErrEmptyPhone
	}
	if name == "" {
		name = models.DefaultUserName
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO users (id, phone, name, onboarding_complete, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (phone) DO NOTHING`),
		util.NewUserID(), phone, name, false, now, now)
	if err != nil {
		slog.Error(s.name+" CreateUser failed", "error", err)
		return nil, dbErr("create user", err)
	}
	u, err := s.GetUserByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, dbErr("create user", errors.New("user missing after insert"))
	}
	slog.Debug(s.name+" CreateUser succeeded", "userID", u.ID)
	return u, nil
}

func (s *sqlStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, dbErr("list users", err)
	}
	defer rows.Close()
	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, dbErr("scan user", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("iterate users", err)
	}
	return users, nil
}

func (s *sqlStore) UpdateUserProfile(ctx context.Context, userID string, update models.ProfileUpdate) error {
	var (
		sets []string
		args []any
	)
	if update.Weight != nil {
		sets, args = append(sets, "weight = ?"), append(args, *update.Weight)
	}
	if update.Height != nil {
		sets, args = append(sets, "height = ?"), append(args, *update.Height)
	}
	if update.Objective != nil {
		sets, args = append(sets, "objective = ?"), append(args, *update.Objective)
	}
	if update.WeeklyRoutine != nil {
		routine, err := json.Marshal(update.WeeklyRoutine)
		if err != nil {
			return fmt.Errorf("marshal weekly routine: %w", err)
		}
		sets, args = append(sets, "weekly_routine = ?"), append(args, string(routine))
	}
	if update.OnboardingComplete != nil {
		sets, args = append(sets, "onboarding_complete = ?"), append(args, *update.OnboardingComplete)
	}
	sets, args = append(sets, "updated_at = ?"), append(args, time.Now().UTC())
	args = append(args, userID)

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...)
	if err != nil {
		slog.Error(s.name+" UpdateUserProfile failed", "error", err, "userID", userID)
		return dbErr("update profile", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update profile %s: %w", userID, models.ErrUserNotFound)
	}
	slog.Debug(s.name+" UpdateUserProfile succeeded", "userID", userID, "fields", len(sets)-1)
	return nil
}

func (s *sqlStore) SaveWorkout(ctx context.Context, userID, date, notes string, exercises []models.Exercise) (*models.Workout, []models.Set, error) {
	if len(exercises) == 0 {
		return nil, nil, models.ErrNoExercises
	}
	now := time.Now().UTC()
	w := models.Workout{ID: util.NewWorkoutID(), UserID: userID, Date: date, Notes: notes, CreatedAt: now}
	sets := models.SetsFromExercises(exercises)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, dbErr("begin workout tx", err)
	}
	defer tx.Rollback() // no-op after Commit

	if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO workouts (id, user_id, date, notes, created_at) VALUES (?, ?, ?, ?, ?)`),
		w.ID, w.UserID, w.Date, nullIfEmpty(w.Notes), w.CreatedAt); err != nil {
		slog.Error(s.name+" SaveWorkout insert workout failed", "error", err, "userID", userID)
		return nil, nil, dbErr("insert workout", err)
	}
	stmt, err := tx.PrepareContext(ctx, s.q(`INSERT INTO sets (id, workout_id, exercise, exercise_raw, sets_count, reps, weight, order_index, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return nil, nil, dbErr("prepare sets insert", err)
	}
	defer stmt.Close()
	for i := range sets {
		sets[i].ID = util.NewSetID()
		sets[i].WorkoutID = w.ID
		sets[i].CreatedAt = now
		var weight any
		if sets[i].Weight != nil {
			weight = *sets[i].Weight
		}
		if _, err := stmt.ExecContext(ctx, sets[i].ID, w.ID, sets[i].Exercise, sets[i].ExerciseRaw,
			sets[i].SetsCount, sets[i].Reps, weight, sets[i].OrderIndex, now); err != nil {
			slog.Error(s.name+" SaveWorkout insert set failed", "error", err, "workoutID", w.ID, "index", i)
			return nil, nil, dbErr("insert set", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, dbErr("commit workout", err)
	}
	slog.Info(s.name+" SaveWorkout succeeded", "userID", userID, "workoutID", w.ID, "sets", len(sets))
	return &w, sets, nil
}

const workoutColumns = `id, user_id, date, notes, created_at`

func (s *sqlStore) GetLastWorkout(ctx context.Context, userID string) (*models.Workout, error) {
	workouts, err := s.GetRecentWorkouts(ctx, userID, 1)
	if err != nil || len(workouts) == 0 {
		return nil, err
	}
	return &workouts[0], nil
}

func (s *sqlStore) GetRecentWorkouts(ctx context.Context, userID string, limit int) ([]models.Workout, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+workoutColumns+` FROM workouts WHERE user_id = ?
		ORDER BY date DESC, created_at DESC LIMIT ?`), userID, limitOrAll(limit))
	if err != nil {
		return nil, dbErr("query workouts", err)
	}
	defer rows.Close()
	var workouts []models.Workout
	for rows.Next() {
		var (
			w     models.Workout
			notes sql.NullString
		)
		if err := rows.Scan(&w.ID, &w.UserID, &w.Date, &notes, &w.CreatedAt); err != nil {
			return nil, dbErr("scan workout", err)
		}
		w.Notes = notes.String
		workouts = append(workouts, w)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("iterate workouts", err)
	}
	return workouts, nil
}

const setColumns = `s.id, s.workout_id, s.exercise, s.exercise_raw, s.sets_count, s.reps, s.weight, s.order_index, s.created_at`

func (s *sqlStore) querySets(ctx context.Context, query string, args ...any) ([]models.Set, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, dbErr("query sets", err)
	}
	defer rows.Close()
	var sets []models.Set
	for rows.Next() {
		var (
			set    models.Set
			weight sql.NullFloat64
		)
		if err := rows.Scan(&set.ID, &set.WorkoutID, &set.Exercise, &set.ExerciseRaw, &set.SetsCount,
			&set.Reps, &weight, &set.OrderIndex, &set.CreatedAt); err != nil {
			return nil, dbErr("scan set", err)
		}
		if weight.Valid {
			set.Weight = &weight.Float64
		}
		sets = append(sets, set)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("iterate sets", err)
	}
	return sets, nil
}

func (s *sqlStore) GetSetsByWorkout(ctx context.Context, workoutID string) ([]models.Set, error) {
	return s.querySets(ctx, `SELECT `+setColumns+` FROM sets s WHERE s.workout_id = ? ORDER BY s.order_index`, workoutID)
}

func (s *sqlStore) GetRecentSetsByExercise(ctx context.Context, userID, exercise, excludeWorkoutID string, limit int) ([]models.Set, error) {
	return s.querySets(ctx, `SELECT `+setColumns+` FROM sets s JOIN workouts w ON w.id = s.workout_id
		WHERE w.user_id = ? AND s.exercise = ? AND s.workout_id <> ?
		ORDER BY s.created_at DESC, s.order_index DESC LIMIT ?`, userID, exercise, excludeWorkoutID, limitOrAll(limit))
}

func (s *sqlStore) RecordMessage(ctx context.Context, msg models.Message) (bool, error) {
	if msg.ID == "" {
		msg.ID = util.NewMessageID()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, s.q(`INSERT INTO messages (id, user_id, message_sid, sender, recipient, body, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (message_sid) DO NOTHING`),
		msg.ID, msg.UserID, msg.MessageSID, msg.From, msg.To, msg.Body, msg.ReceivedAt.UTC())
	if err != nil {
		slog.Error(s.name+" RecordMessage failed", "error", err, "messageSID", msg.MessageSID)
		return false, dbErr("record message", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbErr("record message rows affected", err)
	}
	return n > 0, nil
}

func (s *sqlStore) GetRecentMessages(ctx context.Context, userID string, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, user_id, message_sid, sender, recipient, body, received_at
		FROM messages WHERE user_id = ? ORDER BY received_at DESC LIMIT ?`), userID, limitOrAll(limit))
	if err != nil {
		return nil, dbErr("query messages", err)
	}
	defer rows.Close()
	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.MessageSID, &m.From, &m.To, &m.Body, &m.ReceivedAt); err != nil {
			return nil, dbErr("scan message", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("iterate messages", err)
	}
	return msgs, nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	slog.Debug("Closing " + s.name + " database connection")
	if err := s.db.Close(); err != nil {
		slog.Error("Failed to close "+s.name+" database", "error", err)
		return err
	}
	return nil
}

// nullIfEmpty returns nil for empty strings so nullable columns store NULL.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// limitOrAll maps a non-positive limit to "no limit" for LIMIT ?.
func limitOrAll(limit int) int {
	if limit <= 0 {
		return 1 << 30
	}
	return limit
}
