package slackbot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/AutonomosCdM/autonomos-dona/internal/metrics"
	"github.com/AutonomosCdM/autonomos-dona/internal/middleware"
	"github.com/AutonomosCdM/autonomos-dona/internal/reporting"
	"github.com/AutonomosCdM/autonomos-dona/internal/store"
)

// processStart anchors the uptime shown by /dona-status system.
var processStart = time.Now()

// runCommand routes one slash command to its handler. Handlers send their
// own user-facing error text and return the underlying error so the request
// middleware can record it.
func (b *Bot) runCommand(ctx context.Context, cmd slack.SlashCommand, respond middleware.Responder) error {
	switch cmd.Command {
	case "/dona":
		return b.cmdDona(ctx, cmd, respond)
	case "/dona-help":
		return b.cmdHelp(ctx, cmd, respond)
	case "/dona-task":
		return b.cmdTask(ctx, cmd, respond)
	case "/dona-remind":
		return b.cmdRemind(ctx, cmd, respond)
	case "/dona-summary":
		return b.cmdSummary(ctx, cmd, respond)
	case "/dona-status":
		return b.cmdStatus(ctx, cmd, respond)
	case "/dona-metrics":
		return b.cmdMetrics(ctx, cmd, respond)
	case "/dona-limits":
		return b.cmdLimits(ctx, cmd, respond)
	case "/dona-time":
		return b.cmdTime(ctx, cmd, respond)
	default:
		return respond(fmt.Sprintf("Comando desconocido: `%s`. Usa `/dona-help` para ver los comandos disponibles.", cmd.Command))
	}
}

// userFor resolves the stored identity behind a Slack user, creating it on
// first contact. The workspace comes from auth when connected, falling back
// to configuration in tests.
func (b *Bot) userFor(ctx context.Context, slackUserID, name string) (store.User, error) {
	workspace := b.teamID
	if workspace == "" {
		workspace = b.cfg.SlackWorkspaceID
	}
	return b.store.GetOrCreateUser(ctx, slackUserID, workspace, name)
}

// cmdDona is the conversational entry point: a greeting when called bare,
// otherwise an LLM reply with the extracted intent logged for later review.
func (b *Bot) cmdDona(ctx context.Context, cmd slack.SlashCommand, respond middleware.Responder) error {
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		if b.contexts.ContextTypeFor(ctx, cmd.ChannelID) == ContextPrivate {
			return respond("¡Hola! Soy Dona, tu asistente personal. ¿Cómo puedo ayudarte hoy? Escribe `/dona-help` para ver comandos disponibles.")
		}
		return respond("¡Hola! Soy Dona, asistente del equipo. ¿En qué puedo ayudar? Escribe `/dona-help` para ver comandos disponibles.")
	}

	intent := b.llm.ExtractIntent(ctx, text)
	if user, err := b.userFor(ctx, cmd.UserID, cmd.UserName); err == nil {
		if err := b.store.LogActivity(ctx, user.ID, "dona_command", map[string]any{
			"intent":     intent.Intent,
			"confidence": intent.Confidence,
		}); err != nil {
			b.logger.Warn("could not log activity", zap.Error(err))
		}
	}

	reply := b.llm.GenerateResponse(ctx, text, nil)
	if intent.SuggestedCommand != "" && !strings.Contains(reply, intent.SuggestedCommand) {
		reply = fmt.Sprintf("%s\n\n_Sugerencia: `%s`_", reply, intent.SuggestedCommand)
	}
	return respond(reply)
}

const privateHelp = `:wave: *¡Hola! Soy Dona, tu asistente ejecutiva personal.*

*Comandos disponibles en este espacio privado:*
• ` + "`/dona [texto]`" + ` - Habla conmigo en lenguaje natural
• ` + "`/dona-help`" + ` - Muestra este mensaje de ayuda
• ` + "`/dona-task [create|list|complete]`" + ` - Gestiona tareas personales
• ` + "`/dona-remind [cuando] [mensaje]`" + ` - Configura recordatorios privados
• ` + "`/dona-summary [today|week]`" + ` - Tu resumen personal de actividades
• ` + "`/dona-status`" + ` - Tu estado actual y estadísticas personales
• ` + "`/dona-time [start|stop|log]`" + ` - Registra tu tiempo de trabajo

*Ejemplos:*
• ` + "`/dona necesito preparar la presentación para el board`" + `
• ` + "`/dona-task create Revisar contratos confidenciales`" + `
• ` + "`/dona-remind mañana 10am Llamada privada con inversionista`" + `

🔒 *Privacidad:* Todo lo que compartas aquí es completamente confidencial.`

const teamHelp = `:wave: *¡Hola! Soy Dona, asistente ejecutiva del equipo.*

*Comandos disponibles:*
• ` + "`/dona [texto]`" + ` - Habla conmigo en lenguaje natural
• ` + "`/dona-help`" + ` - Muestra este mensaje de ayuda
• ` + "`/dona-task [create|list|complete]`" + ` - Gestiona tareas del equipo
• ` + "`/dona-remind [cuando] [mensaje]`" + ` - Configura recordatorios
• ` + "`/dona-summary [today|week]`" + ` - Resumen de actividades del equipo
• ` + "`/dona-status`" + ` - Estado del equipo

*Ejemplos:*
• ` + "`/dona necesito agendar reunión de equipo`" + `
• ` + "`/dona-task create Revisar propuesta de marketing`" + `
• ` + "`/dona-remind mañana 10am Stand-up diario`" + `

💡 *Tip:* Para asuntos privados o confidenciales, háblame por mensaje directo.`

func (b *Bot) cmdHelp(ctx context.Context, cmd slack.SlashCommand, respond middleware.Responder) error {
	if b.contexts.ContextTypeFor(ctx, cmd.ChannelID) == ContextPrivate {
		return respond(privateHelp)
	}
	return respond(teamHelp)
}

func (b *Bot) cmdTask(ctx context.Context, cmd slack.SlashCommand, respond middleware.Responder) error {
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		return respond("Por favor especifica una acción: `create`, `list` o `complete`")
	}

	action, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(action) {
	case "create":
		if rest == "" {
			return respond("Por favor describe la tarea. Ejemplo: `/dona-task create Revisar propuesta`")
		}
		user, err := b.userFor(ctx, cmd.UserID, cmd.UserName)
		if err != nil {
			_ = respond(":x: No pude crear la tarea. Por favor intenta de nuevo.")
			return err
		}
		task := store.Task{
			Description: rest,
			Status:      store.TaskPending,
			Priority:    store.PriorityMedium,
			AssignedTo:  user.ID,
			CreatedBy:   user.ID,
			ChannelID:   cmd.ChannelID,
		}
		if err := b.store.CreateTask(ctx, &task); err != nil {
			_ = respond(":x: No pude crear la tarea. Por favor intenta de nuevo.")
			return err
		}
		return respond(fmt.Sprintf(":white_check_mark: Tarea creada: *%s*\nID: %d", task.Description, task.ID))

	case "list":
		user, err := b.userFor(ctx, cmd.UserID, cmd.UserName)
		if err != nil {
			_ = respond(":x: No pude consultar tus tareas. Por favor intenta de nuevo.")
			return err
		}
		tasks, err := b.store.GetUserTasks(ctx, user.ID, store.TaskPending)
		if err != nil {
			_ = respond(":x: No pude consultar tus tareas. Por favor intenta de nuevo.")
			return err
		}
		if len(tasks) == 0 {
			return respond("No tienes tareas pendientes. ¡Buen trabajo! :tada:")
		}
		return respond(FormatTaskList(tasks))

	case "complete":
		taskID, err := strconv.ParseInt(rest, 10, 64)
		if err != nil || taskID <= 0 {
			return respond("Indica el ID de la tarea. Ejemplo: `/dona-task complete 42`")
		}
		if err := b.store.CompleteTask(ctx, taskID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return respond(fmt.Sprintf(":x: No encontré la tarea %d.", taskID))
			}
			_ = respond(":x: No pude completar la tarea. Por favor intenta de nuevo.")
			return err
		}
		return respond(fmt.Sprintf(":white_check_mark: Tarea %d completada. ¡Bien hecho!", taskID))

	default:
		return respond(fmt.Sprintf("Acción desconocida: `%s`. Usa `create`, `list` o `complete`", action))
	}
}

func (b *Bot) cmdRemind(ctx context.Context, cmd slack.SlashCommand, respond middleware.Responder) error {
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		return respond("Por favor especifica cuándo y qué recordar. Ejemplo: `/dona-remind mañana 10am Revisar reportes`")
	}

	now := time.Now()
	when, message, err := ParseReminder(text, now)
	if err != nil {
		return respond("No entendí el tiempo del recordatorio. Prueba con:\n" +
			"• `/dona-remind en 30 minutos Llamar al cliente`\n" +
			"• `/dona-remind 15:30 Revisar contratos`\n" +
			"• `/dona-remind mañana 10am Stand-up diario`")
	}

	user, err := b.userFor(ctx, cmd.UserID, cmd.UserName)
	if err != nil {
		_ = respond(":x: No pude guardar el recordatorio. Por favor intenta de nuevo.")
		return err
	}
	task := store.Task{
		Description: message,
		Status:      store.TaskPending,
		Priority:    store.PriorityMedium,
		AssignedTo:  user.ID,
		CreatedBy:   user.ID,
		ChannelID:   cmd.ChannelID,
		RemindAt:    &when,
	}
	if err := b.store.CreateTask(ctx, &task); err != nil {
		_ = respond(":x: No pude guardar el recordatorio. Por favor intenta de nuevo.")
		return err
	}
	return respond(fmt.Sprintf(":alarm_clock: Recordatorio configurado: *%s*\n_Te notificaré %s._",
		message, formatReminderTime(when, now)))
}

func (b *Bot) cmdSummary(ctx context.Context, cmd slack.SlashCommand, respond middleware.Responder) error {
	arg := strings.TrimSpace(strings.ToLower(cmd.Text))
	if arg == "" {
		arg = "today"
	}
	span, ok := reporting.ParseSpan(arg)
	if !ok {
		return respond("Por favor especifica 'today/hoy' o 'week/semana'")
	}

	user, err := b.userFor(ctx, cmd.UserID, cmd.UserName)
	if err != nil {
		_ = respond("Hubo un error generando el resumen. Por favor intenta de nuevo.")
		return err
	}
	summary, err := reporting.BuildWorkSummary(ctx, b.store, b.analytics, user, span, time.Now())
	if err != nil {
		_ = respond("Hubo un error generando el resumen. Por favor intenta de nuevo.")
		return err
	}
	return respond(reporting.FormatSlack(summary))
}

func (b *Bot) cmdStatus(ctx context.Context, cmd slack.SlashCommand, respond middleware.Responder) error {
	if strings.TrimSpace(strings.ToLower(cmd.Text)) == "system" {
		if !b.cfg.IsDevelopment() && !b.cfg.IsAdmin(cmd.UserID) {
			return respond("This command is only available to administrators.")
		}
		return respond(systemStatus())
	}

	user, err := b.userFor(ctx, cmd.UserID, cmd.UserName)
	if err != nil {
		_ = respond("An error occurred while fetching your status. Please try again.")
		return err
	}
	stats, err := b.store.UserStats(ctx, user.ID)
	if err != nil {
		_ = respond("An error occurred while fetching your status. Please try again.")
		return err
	}
	active, err := b.store.ActiveTimeEntry(ctx, user.ID)
	if err != nil {
		_ = respond("An error occurred while fetching your status. Please try again.")
		return err
	}
	return respond(FormatUserStatus(stats, active, time.Now()))
}

// systemStatus reports process health: uptime, goroutines and, when the
// process can introspect itself, CPU and resident memory.
func systemStatus() string {
	var b strings.Builder
	b.WriteString(":gear: *System Status*\n\n")
	fmt.Fprintf(&b, "*Uptime:* %s\n", FormatDuration(time.Since(processStart)))
	fmt.Fprintf(&b, "*Goroutines:* %d\n", runtime.NumGoroutine())

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if cpuPct, err := proc.CPUPercent(); err == nil {
			fmt.Fprintf(&b, "*CPU:* %.1f%%\n", cpuPct)
		}
		if memInfo, err := proc.MemoryInfo(); err == nil {
			fmt.Fprintf(&b, "*Memory (RSS):* %.1f MB\n", float64(memInfo.RSS)/1024/1024)
		}
	}

	fmt.Fprintf(&b, "*Runtime:* %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return b.String()
}

func (b *Bot) cmdMetrics(ctx context.Context, cmd slack.SlashCommand, respond middleware.Responder) error {
	if !b.cfg.IsDevelopment() && !b.cfg.IsAdmin(cmd.UserID) {
		return respond("This command is only available to administrators.")
	}

	summary := b.collector.Summary()
	var userStats *metrics.UserStats
	if strings.TrimSpace(strings.ToLower(cmd.Text)) == "me" {
		us := b.collector.UserStats(cmd.UserID)
		userStats = &us
	}
	return respond(FormatMetrics(summary, userStats))
}

func (b *Bot) cmdLimits(ctx context.Context, cmd slack.SlashCommand, respond middleware.Responder) error {
	if !b.limiter.Enabled() {
		return respond("Rate limiting is currently disabled.")
	}
	command := strings.TrimSpace(strings.ToLower(cmd.Text))
	if command != "" && !strings.HasPrefix(command, "/") {
		command = "/" + command
	}
	return respond(middleware.StatusText(b.limiter, cmd.UserID, command))
}

func (b *Bot) cmdTime(ctx context.Context, cmd slack.SlashCommand, respond middleware.Responder) error {
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		return respond("Por favor especifica una acción: `start`, `stop` o `log`")
	}

	action, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)

	user, err := b.userFor(ctx, cmd.UserID, cmd.UserName)
	if err != nil {
		_ = respond(":x: No pude acceder a tu registro de tiempo. Por favor intenta de nuevo.")
		return err
	}

	switch strings.ToLower(action) {
	case "start":
		entry, err := b.store.StartTimeEntry(ctx, user.ID, rest)
		if err != nil {
			_ = respond(":x: No pude iniciar el registro de tiempo. Por favor intenta de nuevo.")
			return err
		}
		if entry.Description != "" {
			return respond(fmt.Sprintf(":stopwatch: Registro de tiempo iniciado: *%s*", entry.Description))
		}
		return respond(":stopwatch: Registro de tiempo iniciado.")

	case "stop":
		active, err := b.store.ActiveTimeEntry(ctx, user.ID)
		if err != nil {
			_ = respond(":x: No pude detener el registro de tiempo. Por favor intenta de nuevo.")
			return err
		}
		if active == nil {
			return respond("No tienes un registro de tiempo activo. Usa `/dona-time start` para comenzar.")
		}
		if _, err := b.store.StopActiveTimeEntries(ctx, user.ID); err != nil {
			_ = respond(":x: No pude detener el registro de tiempo. Por favor intenta de nuevo.")
			return err
		}
		return respond(fmt.Sprintf(":stop_sign: Registro de tiempo detenido. Total: %s",
			FormatDuration(active.Duration(time.Now()))))

	case "log":
		now := time.Now()
		since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		entries, err := b.store.GetUserTimeEntries(ctx, user.ID, since)
		if err != nil {
			_ = respond(":x: No pude consultar tu registro de tiempo. Por favor intenta de nuevo.")
			return err
		}
		if len(entries) == 0 {
			return respond("No hay registros de tiempo hoy. Usa `/dona-time start` para comenzar.")
		}
		return respond(formatTimeLog(entries, now))

	default:
		return respond(fmt.Sprintf("Acción desconocida: `%s`. Usa `start`, `stop` o `log`", action))
	}
}

func formatTimeLog(entries []store.TimeEntry, now time.Time) string {
	var b strings.Builder
	b.WriteString(":clock3: *Registro de hoy*\n\n")

	var total time.Duration
	for _, e := range entries {
		d := e.Duration(now)
		total += d

		desc := e.Description
		if desc == "" {
			desc = "(sin descripción)"
		}
		end := "en curso"
		if e.EndedAt != nil {
			end = e.EndedAt.In(now.Location()).Format("15:04")
		}
		fmt.Fprintf(&b, "• %s–%s  %s  %s\n",
			e.StartedAt.In(now.Location()).Format("15:04"), end, FormatDuration(d), desc)
	}
	fmt.Fprintf(&b, "\n*Total:* %s", FormatDuration(total))
	return b.String()
}
