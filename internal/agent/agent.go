// Package agent invokes the downstream natural-language data agent through
// the AI Foundry v2 Responses API. The caller's identity reaches the data
// platform via the On-Behalf-Of token presented as the bearer credential;
// the data tool enforces row-level permissions with it downstream.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"fabricobo/internal/platform/tracer"
)

// Invoker runs one question against the downstream agent. conversationID may
// be empty, in which case a new conversation is created first. The returned
// Result is always well-formed; the error return is reserved for programming
// errors (it is nil in practice).
type Invoker interface {
	RunAgent(ctx context.Context, question, conversationID, accessToken, correlationID string) (*Result, error)
}

// Config carries the project endpoint and invocation mode settings.
type Config struct {
	ProjectEndpoint     string
	APIVersion          string
	ModelDeploymentName string
	Instructions        string
	FabricConnectionID  string
	AgentName           string
	ResponseTimeout     time.Duration
}

// FoundryClient talks to one AI Foundry project. Safe for concurrent use.
type FoundryClient struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	tracer     tracer.Tracer
}

// Option configures the FoundryClient.
type Option func(*FoundryClient)

// WithHTTPClient overrides the HTTP client. The client must not carry its own
// timeout; per-invocation deadlines come from the request context.
func WithHTTPClient(c *http.Client) Option {
	return func(f *FoundryClient) {
		f.httpClient = c
	}
}

// WithTracer attaches a tracer for invocation spans.
func WithTracer(t tracer.Tracer) Option {
	return func(f *FoundryClient) {
		f.tracer = t
	}
}

// New creates a FoundryClient.
func New(cfg Config, logger *slog.Logger, opts ...Option) *FoundryClient {
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 180 * time.Second
	}
	f := &FoundryClient{
		cfg: cfg,
		// Answers can take minutes; only the dial is bounded here and the
		// overall deadline comes from the invocation context.
		httpClient: &http.Client{},
		logger:     logger,
		tracer:     tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// RunAgent creates a conversation when none is supplied, posts the question
// to the Responses API, and parses the output array into answer text and
// tool-usage evidence.
func (f *FoundryClient) RunAgent(ctx context.Context, question, conversationID, accessToken, correlationID string) (*Result, error) {
	ctx, span := f.tracer.Start(ctx, tracer.SpanAgentRun,
		tracer.String(tracer.AttrCorrelationID, correlationID))
	defer span.End(nil)

	ctx, cancel := context.WithTimeout(ctx, f.cfg.ResponseTimeout)
	defer cancel()

	if conversationID == "" {
		created, err := f.createConversation(ctx, accessToken, correlationID)
		if err != nil {
			return f.failure(err, conversationID, correlationID), nil
		}
		conversationID = created
	}

	raw, err := f.callResponses(ctx, question, conversationID, accessToken, correlationID)
	if err != nil {
		return f.failure(err, conversationID, correlationID), nil
	}

	var envelope responseEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return f.failure(fmt.Errorf("unparsable response body: %w", err), conversationID, correlationID), nil
	}

	status := envelope.Status
	if status == "" {
		status = "unknown"
	}
	if status != StatusCompleted {
		detail := string(envelope.Error)
		f.logger.Warn("agent response not completed",
			"correlation_id", correlationID, "response_id", envelope.ID, "status", status, "error", detail)
		return &Result{
			Status:         status,
			ConversationID: conversationID,
			ResponseID:     envelope.ID,
			Error:          fmt.Sprintf("agent response ended with status: %s. %s", status, detail),
		}, nil
	}

	answer, evidence := f.parseOutput(envelope.Output, correlationID)
	f.logger.Info("agent response completed",
		"correlation_id", correlationID,
		"conversation_id", conversationID,
		"response_id", envelope.ID,
		"tool_steps", len(evidence),
		"answer_length", len(answer))

	return &Result{
		Status:          StatusCompleted,
		ConversationID:  conversationID,
		ResponseID:      envelope.ID,
		AssistantAnswer: answer,
		ToolEvidence:    evidence,
	}, nil
}

// failure maps a transport-level error onto a Result: context deadline →
// timeout, everything else → error.
func (f *FoundryClient) failure(err error, conversationID, correlationID string) *Result {
	if errors.Is(err, context.DeadlineExceeded) {
		f.logger.Error("agent invocation timed out",
			"correlation_id", correlationID, "timeout", f.cfg.ResponseTimeout)
		return &Result{
			Status:         StatusTimeout,
			ConversationID: conversationID,
			Error:          fmt.Sprintf("agent API timed out after %s", f.cfg.ResponseTimeout),
		}
	}
	f.logger.Error("agent invocation failed", "correlation_id", correlationID, "error", err)
	return &Result{
		Status:         StatusError,
		ConversationID: conversationID,
		Error:          "agent API error: " + err.Error(),
	}
}

func (f *FoundryClient) createConversation(ctx context.Context, accessToken, correlationID string) (id string, err error) {
	ctx, span := f.tracer.Start(ctx, tracer.SpanAgentConvo)
	defer func() { span.End(err) }()

	raw, err := f.post(ctx, "openai/conversations", accessToken, map[string]any{})
	if err != nil {
		return "", err
	}
	var conversation struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &conversation); err != nil {
		return "", fmt.Errorf("unparsable conversation body: %w", err)
	}
	if conversation.ID == "" {
		return "", errors.New("conversation response has no id")
	}
	f.logger.Info("conversation created", "correlation_id", correlationID, "conversation_id", conversation.ID)
	return conversation.ID, nil
}

func (f *FoundryClient) callResponses(ctx context.Context, question, conversationID, accessToken, correlationID string) (json.RawMessage, error) {
	body := f.responsesRequest(question, conversationID)
	f.logger.Debug("calling responses api",
		"correlation_id", correlationID, "named_agent", f.cfg.AgentName != "")
	return f.post(ctx, "openai/responses", accessToken, body)
}

// responsesRequest builds the invocation body. A configured agent name wins
// over inline model+instructions; the fabric tool is attached only when a
// connection id is present, and then tool use is required rather than left
// to the model.
func (f *FoundryClient) responsesRequest(question, conversationID string) map[string]any {
	if f.cfg.AgentName != "" {
		return map[string]any{
			"input":        question,
			"conversation": conversationID,
			"tool_choice":  "auto",
			"agent": map[string]any{
				"name": f.cfg.AgentName,
				"type": "agent_reference",
			},
		}
	}

	toolChoice := "auto"
	if f.cfg.FabricConnectionID != "" {
		toolChoice = "required"
	}
	body := map[string]any{
		"model":        f.cfg.ModelDeploymentName,
		"input":        question,
		"instructions": f.cfg.Instructions,
		"conversation": conversationID,
		"tool_choice":  toolChoice,
	}
	if f.cfg.FabricConnectionID != "" {
		body["tools"] = []map[string]any{{
			"type": "fabric_dataagent_preview",
			"fabric_dataagent_preview": map[string]any{
				"project_connections": []map[string]any{
					{"project_connection_id": f.cfg.FabricConnectionID},
				},
			},
		}}
	}
	return body
}

func (f *FoundryClient) post(ctx context.Context, path, accessToken string, body any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	url := strings.TrimRight(f.cfg.ProjectEndpoint, "/") + "/" + path + "?api-version=" + f.cfg.APIVersion

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%d — %s", resp.StatusCode, truncate(string(raw), 500))
	}
	return raw, nil
}

type responseEnvelope struct {
	ID     string            `json:"id"`
	Status string            `json:"status"`
	Error  json.RawMessage   `json:"error"`
	Output []json.RawMessage `json:"output"`
}

type outputItem struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Role    string `json:"role"`
	Status  string `json:"status"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// parseOutput walks the v2 output array: assistant message text blocks are
// joined into the answer, and tool-call items (explicit types or anything
// fabric-flavored) become evidence records with a truncated raw detail.
func (f *FoundryClient) parseOutput(output []json.RawMessage, correlationID string) (string, []ToolUsageSummary) {
	var answer string
	var evidence []ToolUsageSummary

	for _, raw := range output {
		var item outputItem
		if err := json.Unmarshal(raw, &item); err != nil {
			continue
		}

		switch {
		case item.Type == "message" && item.Role == "assistant":
			var texts []string
			for _, block := range item.Content {
				if block.Type == "output_text" && block.Text != "" {
					texts = append(texts, block.Text)
				}
			}
			if len(texts) > 0 {
				answer = strings.Join(texts, "\n")
			}

		case isToolCall(item.Type):
			itemID := item.ID
			if itemID == "" {
				itemID = "unknown"
			}
			status := item.Status
			if status == "" {
				status = "detected"
			}
			f.logger.Info("tool call detected",
				"correlation_id", correlationID, "type", item.Type, "item_id", itemID)
			evidence = append(evidence, ToolUsageSummary{
				ItemID: itemID,
				Type:   item.Type,
				Status: status,
				Detail: truncate(string(raw), 500),
			})
		}
	}
	return answer, evidence
}

func isToolCall(itemType string) bool {
	switch itemType {
	case "fabric_dataagent_preview_call", "tool_call", "function_call":
		return true
	}
	return itemType != "" && strings.Contains(strings.ToLower(itemType), "fabric")
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max]) + "…"
}
