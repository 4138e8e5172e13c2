package store

import "time"

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

// TaskPriority orders tasks for display.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// User is a workspace member the bot has interacted with.
type User struct {
	ID          int64     `json:"id"`
	SlackUserID string    `json:"slack_user_id"`
	WorkspaceID string    `json:"slack_workspace_id"`
	Name        string    `json:"name,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Task is a tracked work item, optionally carrying a reminder.
type Task struct {
	ID          int64        `json:"id"`
	Description string       `json:"description"`
	Status      TaskStatus   `json:"status"`
	Priority    TaskPriority `json:"priority"`
	AssignedTo  int64        `json:"assigned_to"`
	CreatedBy   int64        `json:"created_by"`
	ChannelID   string       `json:"channel_id,omitempty"`
	DueDate     *time.Time   `json:"due_date,omitempty"`
	RemindAt    *time.Time   `json:"remind_at,omitempty"`
	Reminded    bool         `json:"reminded"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Reminder is a due task joined with the Slack identity to notify.
type Reminder struct {
	Task        Task   `json:"task"`
	SlackUserID string `json:"slack_user_id"`
}

// Conversation tracks one channel or DM the bot participates in.
type Conversation struct {
	ID            int64     `json:"id"`
	ChannelID     string    `json:"channel_id"`
	ChannelType   string    `json:"channel_type,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// Message is one logged conversation turn. UserID is zero for turns the
// bot produced.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	UserID         int64     `json:"user_id,omitempty"`
	Role           string    `json:"role"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

// TimeEntry is one tracked block of work. EndedAt is nil while running.
type TimeEntry struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	Description string     `json:"description,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Duration returns the entry's length, measured to now for a running entry.
func (e TimeEntry) Duration(now time.Time) time.Duration {
	end := now
	if e.EndedAt != nil {
		end = *e.EndedAt
	}
	if end.Before(e.StartedAt) {
		return 0
	}
	return end.Sub(e.StartedAt)
}

// UserStats aggregates one user's task and time activity for status views.
type UserStats struct {
	PendingTasks    int `json:"pending_tasks"`
	InProgressTasks int `json:"in_progress_tasks"`
	CompletedToday  int `json:"completed_today"`
	MinutesToday    int `json:"minutes_today"`
	MinutesWeek     int `json:"minutes_week"`
}
