// Package llm talks to the Groq chat-completions API (OpenAI-compatible)
// for free-form conversation and lightweight intent extraction. Every call
// degrades to a canned Spanish response when the API is unreachable, so the
// bot keeps answering without it.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/AutonomosCdM/autonomos-dona/internal/observability"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.groq.com/openai/v1"

// intentCallTimeout bounds intent extraction separately from generation;
// a slow classification is worth less than a slow answer.
const intentCallTimeout = 15 * time.Second

const systemPrompt = `Eres Dona, una asistente ejecutiva AI especializada en ayudar al equipo fundador de la startup Autónomos.

Tu personalidad:
- Profesional pero amigable
- Eficiente y orientada a resultados
- Bilingüe (español/inglés) - responde en el idioma que te hablen
- Proactiva en sugerir mejoras y organización

Tus capacidades principales:
- Gestión de tareas y proyectos
- Programación de reuniones y recordatorios
- Análisis de productividad
- Coordinación de equipo
- Resúmenes ejecutivos

Contexto: Trabajas dentro de Slack como bot integrado. Puedes ejecutar comandos específicos como crear tareas (/dona-task), configurar recordatorios (/dona-remind), y generar resúmenes (/dona-summary).

Responde de manera concisa y accionable. Si el usuario necesita hacer algo específico, sugiere el comando apropiado.`

// ChatMessage is one turn in a chat-completions conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
}

// Intent is the structured reading of a free-form message.
type Intent struct {
	Intent           string         `json:"intent"`
	Entities         map[string]any `json:"entities"`
	Confidence       float64        `json:"confidence"`
	SuggestedCommand string         `json:"suggested_command"`
}

type cachedIntent struct {
	intent    Intent
	timestamp time.Time
	ttl       time.Duration
}

func (c *cachedIntent) isExpired() bool {
	return time.Since(c.timestamp) > c.ttl
}

// Client provides access to the Groq API.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	cache      map[string]*cachedIntent
	cacheMu    sync.RWMutex
	cacheTTL   time.Duration
	logger     *zap.Logger
	metrics    observability.MetricsRegistry
}

// NewClient creates a Groq client. An empty apiKey is allowed; every call
// then answers from the rule-based fallbacks.
func NewClient(apiKey, model string, timeout, cacheTTL time.Duration, logger *zap.Logger, metrics observability.MetricsRegistry) *Client {
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cache:    make(map[string]*cachedIntent),
		cacheTTL: cacheTTL,
		logger:   logger,
		metrics:  metrics,
	}
}

// GenerateResponse answers a user message with up to the last five turns of
// conversation as context. It never fails: when the API is unavailable it
// returns a canned response matched to the message's intent.
func (c *Client) GenerateResponse(ctx context.Context, userMessage string, history []ChatMessage) string {
	if c.apiKey == "" {
		return c.fallbackResponse(userMessage)
	}

	messages := make([]ChatMessage, 0, len(history)+2)
	messages = append(messages, ChatMessage{Role: "system", Content: systemPrompt})
	if len(history) > 5 {
		history = history[len(history)-5:]
	}
	messages = append(messages, history...)
	messages = append(messages, ChatMessage{Role: "user", Content: userMessage})

	reply, err := c.callChat(ctx, chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   1000,
		Temperature: 0.7,
		TopP:        0.9,
	})
	if err != nil {
		c.logger.Warn("llm unavailable, using fallback response", zap.Error(err))
		return c.fallbackResponse(userMessage)
	}
	return reply
}

// ExtractIntent classifies a message into an intent plus entities. Results
// are cached per message text; on any API or parse failure it falls back to
// keyword classification.
func (c *Client) ExtractIntent(ctx context.Context, userMessage string) Intent {
	c.cacheMu.RLock()
	cached, exists := c.cache[userMessage]
	c.cacheMu.RUnlock()
	if exists && !cached.isExpired() {
		return cached.intent
	}

	if c.apiKey == "" {
		return classifyIntent(userMessage)
	}

	ctx, cancel := context.WithTimeout(ctx, intentCallTimeout)
	defer cancel()

	prompt := fmt.Sprintf(`Analiza el siguiente mensaje y extrae:
1. Intención principal (task, reminder, question, help, summary, status, config)
2. Entidades clave (fechas, nombres, prioridades, etc.)
3. Nivel de confianza (1-10)

Mensaje: "%s"

Responde solo con JSON válido:
{
    "intent": "categoria_principal",
    "entities": {"clave": "valor"},
    "confidence": numero,
    "suggested_command": "comando_slack_sugerido"
}`, userMessage)

	reply, err := c.callChat(ctx, chatRequest{
		Model:       c.model,
		Messages:    []ChatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   200,
		Temperature: 0.3,
	})
	if err != nil {
		c.logger.Warn("intent extraction unavailable, using keyword classifier", zap.Error(err))
		return classifyIntent(userMessage)
	}

	var intent Intent
	if err := json.Unmarshal([]byte(stripFences(reply)), &intent); err != nil {
		c.logger.Debug("intent reply was not valid JSON", zap.String("reply", reply))
		return classifyIntent(userMessage)
	}

	c.cacheMu.Lock()
	c.cache[userMessage] = &cachedIntent{intent: intent, timestamp: time.Now(), ttl: c.cacheTTL}
	c.cacheMu.Unlock()
	return intent
}

// callChat makes the actual HTTP call to the chat-completions endpoint.
func (c *Client) callChat(ctx context.Context, req chatRequest) (string, error) {
	start := time.Now()
	outcome := "success"
	defer func() {
		c.metrics.RecordLLMLatency(time.Since(start))
		c.metrics.IncrementLLMRequests(outcome)
	}()

	reqBody, err := json.Marshal(req)
	if err != nil {
		outcome = "failure"
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		outcome = "failure"
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		outcome = "failure"
		return "", fmt.Errorf("http request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil && c.logger != nil {
			c.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		outcome = "failure"
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("groq api %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		outcome = "failure"
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		outcome = "failure"
		return "", fmt.Errorf("empty choices in response")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// stripFences removes a markdown code fence wrapper some models put around
// JSON replies.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// classifyIntent is the keyword fallback used when the API is down or its
// reply cannot be parsed.
func classifyIntent(message string) Intent {
	lower := strings.ToLower(message)

	containsAny := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(lower, w) {
				return true
			}
		}
		return false
	}

	switch {
	case containsAny("task", "tarea", "hacer", "create", "crear"):
		return Intent{Intent: "task", Entities: map[string]any{}, Confidence: 7, SuggestedCommand: "/dona-task create"}
	case containsAny("remind", "recordar", "recordatorio", "reminder"):
		return Intent{Intent: "reminder", Entities: map[string]any{}, Confidence: 7, SuggestedCommand: "/dona-remind"}
	case containsAny("help", "ayuda", "commands", "comandos"):
		return Intent{Intent: "help", Entities: map[string]any{}, Confidence: 8, SuggestedCommand: "/dona-help"}
	case containsAny("summary", "resumen", "status", "estado"):
		return Intent{Intent: "summary", Entities: map[string]any{}, Confidence: 7, SuggestedCommand: "/dona-summary"}
	default:
		return Intent{Intent: "question", Entities: map[string]any{}, Confidence: 5}
	}
}

// fallbackResponse answers from a canned map keyed by the classified intent.
func (c *Client) fallbackResponse(userMessage string) string {
	switch classifyIntent(userMessage).Intent {
	case "task":
		return "Entiendo que quieres gestionar tareas. Usa `/dona-task create [descripción]` para crear una nueva tarea."
	case "reminder":
		return "Para configurar un recordatorio, usa `/dona-remind [cuándo] [mensaje]`."
	case "help":
		return "Estos son algunos comandos útiles:\n• `/dona-help` - Ver ayuda completa\n• `/dona-task` - Gestionar tareas\n• `/dona-summary` - Ver resumen"
	case "summary":
		return "Para ver tu resumen de actividad, usa `/dona-summary today` o `/dona-summary week`."
	default:
		return "¡Hola! Soy Dona, tu asistente ejecutiva. ¿En qué puedo ayudarte? Usa `/dona-help` para ver todos los comandos disponibles."
	}
}

// HealthCheck checks if the Groq API is reachable with the configured key.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("no api key configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("create health check request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil && c.logger != nil {
			c.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

// CacheStats returns statistics about the intent cache.
func (c *Client) CacheStats() map[string]interface{} {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()

	expired := 0
	for _, cached := range c.cache {
		if cached.isExpired() {
			expired++
		}
	}

	return map[string]interface{}{
		"total_entries":   len(c.cache),
		"expired_entries": expired,
		"active_entries":  len(c.cache) - expired,
	}
}

// CleanupExpiredCache removes expired entries from the cache.
func (c *Client) CleanupExpiredCache() {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	for key, cached := range c.cache {
		if cached.isExpired() {
			delete(c.cache, key)
		}
	}
}

// StartCacheCleanup starts a goroutine that periodically cleans up expired
// cache entries.
func (c *Client) StartCacheCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for range ticker.C {
			c.CleanupExpiredCache()
		}
	}()
}

// SetBaseURL overrides the API base URL, for tests and proxy deployments.
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}
