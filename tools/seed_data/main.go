// Command seed_data fills a development database with demo users, tasks and
// time entries so the bot has something to show in /dona-task, /dona-status
// and the App Home without a week of real usage.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/AutonomosCdM/autonomos-dona/internal/config"
	"github.com/AutonomosCdM/autonomos-dona/internal/observability"
	"github.com/AutonomosCdM/autonomos-dona/internal/store"
)

var (
	userCount    = flag.Int("users", 5, "number of demo users")
	tasksPerUser = flag.Int("tasks", 8, "tasks per user")
	entriesPer   = flag.Int("entries", 6, "time entries per user")
	seed         = flag.Int64("seed", time.Now().UnixNano(), "rng seed")
)

func main() {
	flag.Parse()

	logger, err := observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	st, err := store.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns,
		cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect postgres: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()
	r := rand.New(rand.NewSource(*seed))

	for i := 0; i < *userCount; i++ {
		slackID := fmt.Sprintf("U%08dDEMO", i+1)
		u, err := st.GetOrCreateUser(ctx, slackID, cfg.SlackWorkspaceID, fakeName(r))
		if err != nil {
			logger.Fatal("create user", zap.Error(err))
		}

		for t := 0; t < *tasksPerUser; t++ {
			task := randomTask(r, u.ID)
			if err := st.CreateTask(ctx, &task); err != nil {
				logger.Fatal("create task", zap.Error(err))
			}
			if task.Status == store.TaskCompleted {
				if err := st.CompleteTask(ctx, task.ID); err != nil {
					logger.Fatal("complete task", zap.Error(err))
				}
			}
		}

		if err := seedTimeEntries(ctx, st, r, u.ID); err != nil {
			logger.Fatal("seed time entries", zap.Error(err))
		}

		logger.Info("seeded user",
			zap.String("slack_user_id", slackID),
			zap.Int("tasks", *tasksPerUser),
			zap.Int("entries", *entriesPer))
	}

	fmt.Println("demo data inserted")
}

var firstNames = []string{"Camila", "Diego", "Valentina", "Matías", "Sofía", "Joaquín", "Isidora", "Tomás"}
var lastNames = []string{"Rojas", "Muñoz", "González", "Díaz", "Soto", "Contreras", "Silva", "Vargas"}

func fakeName(r *rand.Rand) string {
	return fmt.Sprintf("%s %s", firstNames[r.Intn(len(firstNames))], lastNames[r.Intn(len(lastNames))])
}

var taskVerbs = []string{"Revisar", "Preparar", "Enviar", "Actualizar", "Documentar", "Coordinar"}
var taskObjects = []string{"el informe mensual", "la propuesta del cliente", "el deck de ventas", "las métricas del sprint", "el contrato", "la agenda del comité"}

var statuses = []store.TaskStatus{store.TaskPending, store.TaskPending, store.TaskInProgress, store.TaskCompleted}
var priorities = []store.TaskPriority{store.PriorityLow, store.PriorityMedium, store.PriorityMedium, store.PriorityHigh, store.PriorityUrgent}

func randomTask(r *rand.Rand, userID int64) store.Task {
	t := store.Task{
		Description: fmt.Sprintf("%s %s", taskVerbs[r.Intn(len(taskVerbs))], taskObjects[r.Intn(len(taskObjects))]),
		Status:      statuses[r.Intn(len(statuses))],
		Priority:    priorities[r.Intn(len(priorities))],
		AssignedTo:  userID,
		CreatedBy:   userID,
	}
	// Roughly half the tasks carry a due date, a third of those a reminder.
	if r.Intn(2) == 0 {
		due := time.Now().Add(time.Duration(r.Intn(14*24)) * time.Hour)
		t.DueDate = &due
		if r.Intn(3) == 0 {
			remind := due.Add(-time.Hour)
			t.RemindAt = &remind
		}
	}
	return t
}

// seedTimeEntries writes finished entries spread over the past week via
// direct SQL, since the store API only starts entries at NOW().
func seedTimeEntries(ctx context.Context, st *store.Store, r *rand.Rand, userID int64) error {
	descriptions := []string{"deep work", "reuniones", "revisión de código", "planificación", "soporte"}
	for i := 0; i < *entriesPer; i++ {
		start := time.Now().Add(-time.Duration(r.Intn(7*24)) * time.Hour)
		end := start.Add(time.Duration(r.Intn(150)+30) * time.Minute)
		_, err := st.DB.ExecContext(ctx, `INSERT INTO time_entries (user_id, description, started_at, ended_at)
            VALUES ($1, $2, $3, $4)`,
			userID, descriptions[r.Intn(len(descriptions))], start, end)
		if err != nil {
			return fmt.Errorf("insert time entry: %w", err)
		}
	}
	return nil
}
