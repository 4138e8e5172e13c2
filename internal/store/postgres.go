// Package store persists bot state in Postgres: users, tasks, conversations,
// message logs, activity records and time entries.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ErrNotFound is returned when an update or lookup targets a missing row.
var ErrNotFound = errors.New("store: not found")

// Store wraps the Postgres connection.
type Store struct {
	DB *sql.DB
}

// schemaSQL sets up the necessary tables if they don't exist.
const schemaSQL = `CREATE TABLE IF NOT EXISTS users (
    id SERIAL PRIMARY KEY,
    slack_user_id TEXT NOT NULL,
    slack_workspace_id TEXT NOT NULL,
    name TEXT,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (slack_user_id, slack_workspace_id)
);

CREATE TABLE IF NOT EXISTS tasks (
    id SERIAL PRIMARY KEY,
    description TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    priority TEXT NOT NULL DEFAULT 'medium',
    assigned_to INT REFERENCES users(id),
    created_by INT REFERENCES users(id),
    channel_id TEXT,
    due_date TIMESTAMPTZ NULL,
    remind_at TIMESTAMPTZ NULL,
    reminded BOOLEAN NOT NULL DEFAULT FALSE,
    completed_at TIMESTAMPTZ NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS conversations (
    id SERIAL PRIMARY KEY,
    channel_id TEXT NOT NULL UNIQUE,
    channel_type TEXT,
    started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_message_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS messages (
    id SERIAL PRIMARY KEY,
    conversation_id INT NOT NULL REFERENCES conversations(id),
    user_id INT REFERENCES users(id),
    role TEXT NOT NULL,
    text TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS activity_logs (
    id SERIAL PRIMARY KEY,
    user_id INT REFERENCES users(id),
    action TEXT NOT NULL,
    details JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS time_entries (
    id SERIAL PRIMARY KEY,
    user_id INT NOT NULL REFERENCES users(id),
    description TEXT,
    started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    ended_at TIMESTAMPTZ NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Lookup indexes for the hot bot paths
CREATE INDEX IF NOT EXISTS idx_users_slack_id ON users (slack_user_id, slack_workspace_id);
CREATE INDEX IF NOT EXISTS idx_tasks_assigned_status ON tasks (assigned_to, status);
CREATE INDEX IF NOT EXISTS idx_tasks_due_reminders ON tasks (remind_at) WHERE reminded = FALSE AND remind_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at);
CREATE INDEX IF NOT EXISTS idx_time_entries_user ON time_entries (user_id, started_at);
CREATE INDEX IF NOT EXISTS idx_time_entries_active ON time_entries (user_id) WHERE ended_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_activity_logs_user ON activity_logs (user_id, created_at);
`

// InitPostgres connects to Postgres with connection pooling configuration.
func InitPostgres(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Store, error) {
	// Register the otelsql wrapper for postgres
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}

	zap.L().Info("Connected to Postgres with connection pooling",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime))
	return s, nil
}

// Close terminates the Postgres connection.
func (s *Store) Close() {
	if s != nil && s.DB != nil {
		if err := s.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

// ensureSchema creates the required tables if they do not exist.
func (s *Store) ensureSchema() error {
	if _, err := s.DB.ExecContext(context.Background(), schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// GetOrCreateUser upserts a user by Slack identity. The stored name is never
// overwritten once set; first contact records it.
func (s *Store) GetOrCreateUser(ctx context.Context, slackUserID, workspaceID, name string) (User, error) {
	var u User
	var storedName sql.NullString
	err := s.DB.QueryRowContext(ctx, `INSERT INTO users (slack_user_id, slack_workspace_id, name)
        VALUES ($1, $2, NULLIF($3, ''))
        ON CONFLICT (slack_user_id, slack_workspace_id)
        DO UPDATE SET updated_at = NOW()
        RETURNING id, slack_user_id, slack_workspace_id, name, is_active, created_at, updated_at`,
		slackUserID, workspaceID, name).
		Scan(&u.ID, &u.SlackUserID, &u.WorkspaceID, &storedName, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, fmt.Errorf("get or create user: %w", err)
	}
	if storedName.Valid {
		u.Name = storedName.String
	}
	return u, nil
}

// GetUserBySlackID looks up a user without creating one. Returns ErrNotFound
// when the bot has never seen the user.
func (s *Store) GetUserBySlackID(ctx context.Context, slackUserID, workspaceID string) (User, error) {
	var u User
	var name sql.NullString
	err := s.DB.QueryRowContext(ctx, `SELECT id, slack_user_id, slack_workspace_id, name, is_active, created_at, updated_at
        FROM users WHERE slack_user_id = $1 AND slack_workspace_id = $2`,
		slackUserID, workspaceID).
		Scan(&u.ID, &u.SlackUserID, &u.WorkspaceID, &name, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by slack id: %w", err)
	}
	if name.Valid {
		u.Name = name.String
	}
	return u, nil
}

// CreateTask inserts a task and fills the generated fields on t. Empty
// status and priority fall back to pending/medium.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	if t.Status == "" {
		t.Status = TaskPending
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	err := s.DB.QueryRowContext(ctx, `INSERT INTO tasks (
        description, status, priority, assigned_to, created_by, channel_id, due_date, remind_at)
        VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7,$8) RETURNING id, created_at, updated_at`,
		t.Description, t.Status, t.Priority, t.AssignedTo, t.CreatedBy, t.ChannelID, t.DueDate, t.RemindAt).
		Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

const taskColumns = `id, description, status, priority, COALESCE(assigned_to, 0), COALESCE(created_by, 0),
    COALESCE(channel_id, ''), due_date, remind_at, reminded, completed_at, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var t Task
	var due, remind, completed sql.NullTime
	err := row.Scan(&t.ID, &t.Description, &t.Status, &t.Priority, &t.AssignedTo, &t.CreatedBy,
		&t.ChannelID, &due, &remind, &t.Reminded, &completed, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Task{}, err
	}
	if due.Valid {
		t.DueDate = &due.Time
	}
	if remind.Valid {
		t.RemindAt = &remind.Time
	}
	if completed.Valid {
		t.CompletedAt = &completed.Time
	}
	return t, nil
}

// GetUserTasks lists a user's tasks, newest first. An empty status returns
// every status.
func (s *Store) GetUserTasks(ctx context.Context, userID int64, status TaskStatus) ([]Task, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
            WHERE assigned_to = $1 ORDER BY created_at DESC LIMIT 50`, userID)
	} else {
		rows, err = s.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
            WHERE assigned_to = $1 AND status = $2 ORDER BY created_at DESC LIMIT 50`, userID, status)
	}
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return tasks, nil
}

// UpdateTask changes a task's status. Completing a task stamps completed_at.
func (s *Store) UpdateTask(ctx context.Context, taskID int64, status TaskStatus) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE tasks SET status = $1, updated_at = NOW(),
        completed_at = CASE WHEN $1 = 'completed' THEN NOW() ELSE completed_at END
        WHERE id = $2`, status, taskID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteTask marks a task completed.
func (s *Store) CompleteTask(ctx context.Context, taskID int64) error {
	return s.UpdateTask(ctx, taskID, TaskCompleted)
}

// GetOrCreateConversation upserts the conversation row for a channel,
// touching last_message_at on the way through.
func (s *Store) GetOrCreateConversation(ctx context.Context, channelID, channelType string) (Conversation, error) {
	var c Conversation
	var chanType sql.NullString
	err := s.DB.QueryRowContext(ctx, `INSERT INTO conversations (channel_id, channel_type)
        VALUES ($1, NULLIF($2, ''))
        ON CONFLICT (channel_id) DO UPDATE SET last_message_at = NOW()
        RETURNING id, channel_id, channel_type, started_at, last_message_at`,
		channelID, channelType).
		Scan(&c.ID, &c.ChannelID, &chanType, &c.StartedAt, &c.LastMessageAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("get or create conversation: %w", err)
	}
	if chanType.Valid {
		c.ChannelType = chanType.String
	}
	return c, nil
}

// LogMessage records one conversation turn. userID is zero for turns the
// bot produced.
func (s *Store) LogMessage(ctx context.Context, conversationID, userID int64, role, text string) error {
	var user sql.NullInt64
	if userID != 0 {
		user = sql.NullInt64{Int64: userID, Valid: true}
	}
	if _, err := s.DB.ExecContext(ctx, `INSERT INTO messages (conversation_id, user_id, role, text)
        VALUES ($1,$2,$3,$4)`, conversationID, user, role, text); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// RecentMessages returns the last n turns of a conversation in
// chronological order, for building LLM context.
func (s *Store) RecentMessages(ctx context.Context, conversationID int64, n int) ([]Message, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, conversation_id, COALESCE(user_id, 0), role, text, created_at
        FROM messages WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT $2`, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	// Flip newest-first into chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// LogActivity appends an audit record. details may be nil.
func (s *Store) LogActivity(ctx context.Context, userID int64, action string, details map[string]any) error {
	var payload any
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("marshal activity details: %w", err)
		}
		payload = data
	}
	var user sql.NullInt64
	if userID != 0 {
		user = sql.NullInt64{Int64: userID, Valid: true}
	}
	if _, err := s.DB.ExecContext(ctx, `INSERT INTO activity_logs (user_id, action, details)
        VALUES ($1,$2,$3)`, user, action, payload); err != nil {
		return fmt.Errorf("insert activity log: %w", err)
	}
	return nil
}

// StartTimeEntry stops any running entries for the user and starts a new one.
func (s *Store) StartTimeEntry(ctx context.Context, userID int64, description string) (TimeEntry, error) {
	if _, err := s.StopActiveTimeEntries(ctx, userID); err != nil {
		return TimeEntry{}, err
	}

	var e TimeEntry
	var desc sql.NullString
	err := s.DB.QueryRowContext(ctx, `INSERT INTO time_entries (user_id, description)
        VALUES ($1, NULLIF($2, ''))
        RETURNING id, user_id, description, started_at, created_at`,
		userID, description).
		Scan(&e.ID, &e.UserID, &desc, &e.StartedAt, &e.CreatedAt)
	if err != nil {
		return TimeEntry{}, fmt.Errorf("insert time entry: %w", err)
	}
	if desc.Valid {
		e.Description = desc.String
	}
	return e, nil
}

// StopActiveTimeEntries ends every running entry for the user and reports
// how many were stopped.
func (s *Store) StopActiveTimeEntries(ctx context.Context, userID int64) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `UPDATE time_entries SET ended_at = NOW()
        WHERE user_id = $1 AND ended_at IS NULL`, userID)
	if err != nil {
		return 0, fmt.Errorf("stop time entries: %w", err)
	}
	stopped, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stop time entries result: %w", err)
	}
	return stopped, nil
}

// ActiveTimeEntry returns the user's running entry, or nil when none is
// running.
func (s *Store) ActiveTimeEntry(ctx context.Context, userID int64) (*TimeEntry, error) {
	var e TimeEntry
	var desc sql.NullString
	err := s.DB.QueryRowContext(ctx, `SELECT id, user_id, description, started_at, created_at
        FROM time_entries WHERE user_id = $1 AND ended_at IS NULL
        ORDER BY started_at DESC LIMIT 1`, userID).
		Scan(&e.ID, &e.UserID, &desc, &e.StartedAt, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active time entry: %w", err)
	}
	if desc.Valid {
		e.Description = desc.String
	}
	return &e, nil
}

// GetUserTimeEntries lists a user's entries started at or after since,
// newest first.
func (s *Store) GetUserTimeEntries(ctx context.Context, userID int64, since time.Time) ([]TimeEntry, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, user_id, description, started_at, ended_at, created_at
        FROM time_entries WHERE user_id = $1 AND started_at >= $2
        ORDER BY started_at DESC`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("query time entries: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var entries []TimeEntry
	for rows.Next() {
		var e TimeEntry
		var desc sql.NullString
		var ended sql.NullTime
		if err := rows.Scan(&e.ID, &e.UserID, &desc, &e.StartedAt, &ended, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan time entry: %w", err)
		}
		if desc.Valid {
			e.Description = desc.String
		}
		if ended.Valid {
			e.EndedAt = &ended.Time
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return entries, nil
}

// DueReminders returns unsent reminders that are due at now, joined with the
// Slack identity to notify. Completed and cancelled tasks never remind.
func (s *Store) DueReminders(ctx context.Context, now time.Time) ([]Reminder, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT t.id, t.description, t.status, t.priority,
        COALESCE(t.assigned_to, 0), COALESCE(t.created_by, 0), COALESCE(t.channel_id, ''),
        t.due_date, t.remind_at, t.reminded, t.completed_at, t.created_at, t.updated_at,
        u.slack_user_id
        FROM tasks t JOIN users u ON u.id = t.assigned_to
        WHERE t.remind_at IS NOT NULL AND t.remind_at <= $1 AND t.reminded = FALSE
          AND t.status NOT IN ('completed', 'cancelled')
        ORDER BY t.remind_at`, now)
	if err != nil {
		return nil, fmt.Errorf("query due reminders: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var reminders []Reminder
	for rows.Next() {
		var t Task
		var due, remind, completed sql.NullTime
		var slackID string
		if err := rows.Scan(&t.ID, &t.Description, &t.Status, &t.Priority, &t.AssignedTo, &t.CreatedBy,
			&t.ChannelID, &due, &remind, &t.Reminded, &completed, &t.CreatedAt, &t.UpdatedAt, &slackID); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		if due.Valid {
			t.DueDate = &due.Time
		}
		if remind.Valid {
			t.RemindAt = &remind.Time
		}
		if completed.Valid {
			t.CompletedAt = &completed.Time
		}
		reminders = append(reminders, Reminder{Task: t, SlackUserID: slackID})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return reminders, nil
}

// MarkReminded flags a task's reminder as delivered.
func (s *Store) MarkReminded(ctx context.Context, taskID int64) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE tasks SET reminded = TRUE, updated_at = NOW()
        WHERE id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("mark reminded: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark reminded result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CompletedTaskCount counts tasks the user completed at or after since.
func (s *Store) CompletedTaskCount(ctx context.Context, userID int64, since time.Time) (int, error) {
	var count int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks
        WHERE assigned_to = $1 AND status = 'completed' AND completed_at >= $2`,
		userID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count completed tasks: %w", err)
	}
	return count, nil
}

// UserStats aggregates task counts and tracked minutes for status views.
func (s *Store) UserStats(ctx context.Context, userID int64) (UserStats, error) {
	var stats UserStats
	err := s.DB.QueryRowContext(ctx, `SELECT
        COUNT(*) FILTER (WHERE status = 'pending'),
        COUNT(*) FILTER (WHERE status = 'in_progress'),
        COUNT(*) FILTER (WHERE status = 'completed' AND completed_at >= date_trunc('day', NOW()))
        FROM tasks WHERE assigned_to = $1`, userID).
		Scan(&stats.PendingTasks, &stats.InProgressTasks, &stats.CompletedToday)
	if err != nil {
		return UserStats{}, fmt.Errorf("query task stats: %w", err)
	}

	var today, week float64
	err = s.DB.QueryRowContext(ctx, `SELECT
        COALESCE(SUM(EXTRACT(EPOCH FROM (COALESCE(ended_at, NOW()) - started_at)) / 60)
            FILTER (WHERE started_at >= date_trunc('day', NOW())), 0),
        COALESCE(SUM(EXTRACT(EPOCH FROM (COALESCE(ended_at, NOW()) - started_at)) / 60)
            FILTER (WHERE started_at >= date_trunc('week', NOW())), 0)
        FROM time_entries WHERE user_id = $1`, userID).
		Scan(&today, &week)
	if err != nil {
		return UserStats{}, fmt.Errorf("query time stats: %w", err)
	}
	stats.MinutesToday = int(today)
	stats.MinutesWeek = int(week)
	return stats, nil
}
