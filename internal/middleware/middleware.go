// Package middleware wraps bot request handlers with admission control and
// outcome instrumentation, and carries request-scoped loggers through
// context for both the bot dispatch and the ops HTTP server.
package middleware

import "context"

// RequestKind distinguishes slash commands from event callbacks.
type RequestKind string

const (
	KindCommand RequestKind = "command"
	KindEvent   RequestKind = "event"
)

// Request classifies one inbound Slack payload for admission and metrics.
type Request struct {
	Kind    RequestKind
	Command string // slash command, e.g. "/dona-task"; empty for events
	Event   string // event type, e.g. "app_mention"; empty for commands
	UserID  string
}

// Type returns the metrics key for the request, e.g. "command:/dona-task"
// or "event:app_mention".
func (r Request) Type() string {
	if r.Kind == KindCommand {
		return "command:" + r.Command
	}
	return "event:" + r.Event
}

// Responder delivers a user-facing message, typically an ephemeral Slack post.
type Responder func(message string) error

// Handler is the downstream business logic for one request.
type Handler func(ctx context.Context) error

// Chain applies the full stack around next: the admission check runs first,
// so rejected requests are answered and recorded without being timed.
func Chain(adm *Admission, reqs *Requests, req Request, respond Responder, next Handler) Handler {
	return adm.Wrap(req, respond, reqs.Wrap(req, next))
}
