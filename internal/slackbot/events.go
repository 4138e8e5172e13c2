package slackbot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"go.uber.org/zap"

	"github.com/AutonomosCdM/autonomos-dona/internal/llm"
	"github.com/AutonomosCdM/autonomos-dona/internal/store"
)

// dmContextTurns is how many stored turns seed the LLM when answering a DM.
const dmContextTurns = 5

// taskIDRe pulls the task ID out of the bot's own creation confirmations.
var taskIDRe = regexp.MustCompile(`ID: (\d+)`)

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// handleAppMention answers @dona mentions in channels. Known topics get a
// command hint; anything else goes to the LLM.
func (b *Bot) handleAppMention(ctx context.Context, ev *slackevents.AppMentionEvent) error {
	text := strings.TrimSpace(strings.ReplaceAll(ev.Text, fmt.Sprintf("<@%s>", b.botUserID), ""))
	lower := strings.ToLower(text)

	switch {
	case text == "" || containsAny(lower, "help", "ayuda", "como"):
		return b.say(ctx, ev.Channel, fmt.Sprintf("¡Hola <@%s>! :wave:\n"+
			"Soy Dona, tu asistente ejecutiva. Puedo ayudarte con:\n"+
			"• `/dona` - Habla conmigo en lenguaje natural\n"+
			"• `/dona-task create [descripción]` - Crear tareas\n"+
			"• `/dona-remind [cuándo] [mensaje]` - Configurar recordatorios\n"+
			"• `/dona-summary` - Ver resumen de actividades", ev.User))

	case containsAny(lower, "task", "tarea", "hacer"):
		return b.say(ctx, ev.Channel, fmt.Sprintf("<@%s>, para crear una tarea usa:\n"+
			"`/dona-task create [descripción]`\n\n"+
			"O simplemente dime qué necesitas hacer con `/dona necesito...`", ev.User))

	case containsAny(lower, "meeting", "reunión", "agendar"):
		return b.say(ctx, ev.Channel, fmt.Sprintf("<@%s>, pronto podré ayudarte a agendar reuniones. "+
			"Por ahora, puedo crear recordatorios con:\n"+
			"`/dona-remind [cuándo] [mensaje]`", ev.User))

	default:
		reply := b.llm.GenerateResponse(ctx, text, nil)
		return b.say(ctx, ev.Channel, fmt.Sprintf("<@%s> %s", ev.User, reply))
	}
}

// cannedDMReply routes greetings and known keywords to fixed answers.
// needLLM is true when the message deserves a generated reply instead.
func cannedDMReply(text, userID string) (reply string, needLLM bool) {
	lower := strings.ToLower(text)

	switch {
	case containsAny(lower, "hola", "hello", "hi", "buenos días", "buenas tardes"):
		return fmt.Sprintf("¡Hola <@%s>! :wave:\n\n"+
			"Soy Dona, tu asistente ejecutiva personal. ¿En qué puedo ayudarte hoy?\n\n"+
			"Puedes pedirme cosas como:\n"+
			"• _'Necesito crear una tarea para...'_\n"+
			"• _'Recuérdame mañana a las 10am...'_\n"+
			"• _'¿Cuáles son mis tareas pendientes?'_\n"+
			"• _'Muéstrame mi resumen del día'_", userID), false

	case containsAny(lower, "tarea", "task", "hacer", "necesito"):
		return "Entiendo que necesitas gestionar una tarea. Te ayudaré con eso.\n\n" +
			"Por ahora, usa: `/dona-task create [descripción]`\n\n" +
			"Pronto podré entender tus solicitudes de forma más natural. 🚀", false

	case containsAny(lower, "recordar", "recordatorio", "remind", "avísame"):
		return "Claro, te ayudaré con el recordatorio.\n\n" +
			"Usa: `/dona-remind [cuándo] [mensaje]`\n\n" +
			"Ejemplo: `/dona-remind mañana 10am Llamar al cliente`", false

	case containsAny(lower, "resumen", "summary", "status", "estado"):
		return "Para ver tu resumen de actividades, usa:\n\n" +
			"• `/dona-summary today` - Resumen de hoy\n" +
			"• `/dona-summary week` - Resumen semanal\n" +
			"• `/dona-status` - Tu estado actual", false
	}
	return "", true
}

func chatHistory(msgs []store.Message) []llm.ChatMessage {
	history := make([]llm.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		role := m.Role
		if role != "assistant" {
			role = "user"
		}
		history = append(history, llm.ChatMessage{Role: role, Content: m.Text})
	}
	return history
}

// handleDirectMessage answers DMs, keeping the exchange in the store so the
// LLM sees recent turns next time. Storage failures degrade to a stateless
// reply rather than silence.
func (b *Bot) handleDirectMessage(ctx context.Context, ev *slackevents.MessageEvent) error {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return nil
	}

	reply, needLLM := cannedDMReply(text, ev.User)

	var history []llm.ChatMessage
	conv, convErr := b.store.GetOrCreateConversation(ctx, ev.Channel, "im")
	if convErr != nil {
		b.logger.Warn("could not open conversation record", zap.Error(convErr))
	} else {
		if msgs, err := b.store.RecentMessages(ctx, conv.ID, dmContextTurns); err == nil {
			history = chatHistory(msgs)
		} else {
			b.logger.Warn("could not load conversation history", zap.Error(err))
		}
		if user, err := b.userFor(ctx, ev.User, ""); err == nil {
			if err := b.store.LogMessage(ctx, conv.ID, user.ID, "user", text); err != nil {
				b.logger.Warn("could not log message", zap.Error(err))
			}
		}
	}

	if needLLM {
		reply = b.llm.GenerateResponse(ctx, text, history)
	}

	if convErr == nil {
		if err := b.store.LogMessage(ctx, conv.ID, 0, "assistant", reply); err != nil {
			b.logger.Warn("could not log message", zap.Error(err))
		}
	}
	return b.say(ctx, ev.Channel, reply)
}

// handleReactionAdded completes a task when someone checks off one of the
// bot's own creation confirmations with :white_check_mark:.
func (b *Bot) handleReactionAdded(ctx context.Context, ev *slackevents.ReactionAddedEvent) error {
	if ev.Reaction != "white_check_mark" || ev.Item.Type != "message" {
		return nil
	}
	if ev.ItemUser != b.botUserID {
		return nil
	}

	taskID, ok := b.taskIDFromMessage(ctx, ev.Item.Channel, ev.Item.Timestamp)
	if !ok {
		return nil
	}
	if err := b.store.CompleteTask(ctx, taskID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	b.logger.Info("task completed via reaction",
		zap.Int64("task_id", taskID),
		zap.String("user", ev.User))
	return b.say(ctx, ev.Item.Channel, fmt.Sprintf(":white_check_mark: Tarea %d completada. ¡Bien hecho <@%s>!", taskID, ev.User))
}

// taskIDFromMessage fetches the reacted-to message and extracts the task ID
// from a creation confirmation, if that is what it is.
func (b *Bot) taskIDFromMessage(ctx context.Context, channelID, timestamp string) (int64, bool) {
	resp, err := b.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Latest:    timestamp,
		Inclusive: true,
		Limit:     1,
	})
	if err != nil {
		b.logger.Warn("could not fetch reacted message", zap.Error(err))
		return 0, false
	}
	if len(resp.Messages) == 0 {
		return 0, false
	}

	text := resp.Messages[0].Text
	if !strings.Contains(text, "Tarea creada") && !strings.Contains(text, "Recordatorio configurado") {
		return 0, false
	}
	m := taskIDRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	taskID, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || taskID <= 0 {
		return 0, false
	}
	return taskID, true
}

// handleAppHomeOpened publishes the dashboard view. Stats failures still
// publish, just with zeros; an empty home tab is worse than a stale one.
func (b *Bot) handleAppHomeOpened(ctx context.Context, ev *slackevents.AppHomeOpenedEvent) error {
	if ev.Tab != "" && ev.Tab != "home" {
		return nil
	}

	var stats store.UserStats
	var active *store.TimeEntry
	if user, err := b.userFor(ctx, ev.User, ""); err == nil {
		if s, err := b.store.UserStats(ctx, user.ID); err == nil {
			stats = s
		} else {
			b.logger.Warn("could not load user stats for home view", zap.Error(err))
		}
		if a, err := b.store.ActiveTimeEntry(ctx, user.ID); err == nil {
			active = a
		}
	}

	if _, err := b.api.PublishViewContext(ctx, ev.User, HomeView(stats, active), ""); err != nil {
		return fmt.Errorf("publish home view: %w", err)
	}
	return nil
}

// handleHomeAction reacts to the App Home quick-action buttons.
func (b *Bot) handleHomeAction(ctx context.Context, actionID, userID string) error {
	switch actionID {
	case "create_task_button":
		return b.DM(ctx, userID, "Para crear una tarea, usa `/dona-task create [descripción]` en cualquier canal.")

	case "start_timer_button":
		user, err := b.userFor(ctx, userID, "")
		if err != nil {
			return err
		}
		if _, err := b.store.StartTimeEntry(ctx, user.ID, ""); err != nil {
			return err
		}
		return b.DM(ctx, userID, ":stopwatch: Registro de tiempo iniciado. Usa `/dona-time stop` para detenerlo.")

	case "view_tasks_button":
		user, err := b.userFor(ctx, userID, "")
		if err != nil {
			return err
		}
		tasks, err := b.store.GetUserTasks(ctx, user.ID, store.TaskPending)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return b.DM(ctx, userID, "No tienes tareas pendientes. ¡Buen trabajo! :tada:")
		}
		return b.DM(ctx, userID, FormatTaskList(tasks))

	default:
		b.logger.Debug("unhandled home action", zap.String("action_id", actionID))
		return nil
	}
}
