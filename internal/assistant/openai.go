// ABOUTME: OpenAI Assistants API implementation of Client using go-openai
// ABOUTME: Run streaming posts stream=true directly and decodes the event-stream body

package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultBaseURL is the public OpenAI API root
const DefaultBaseURL = "https://api.openai.com/v1"

// OpenAIConfig holds credentials and transport settings for the upstream API
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Organization string
	// HTTPTimeout bounds non-streaming calls; streams are bounded by the caller's context.
	HTTPTimeout time.Duration
}

// OpenAIClient implements Client against the OpenAI Assistants v2 API
type OpenAIClient struct {
	api     *openai.Client
	stream  *http.Client
	cfg     OpenAIConfig
	baseURL string
	logger  *slog.Logger
}

// NewOpenAIClient builds a client. The API key is required.
func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.HTTPTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = baseURL
	apiCfg.OrgID = cfg.Organization
	apiCfg.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAIClient{
		api:     openai.NewClientWithConfig(apiCfg),
		stream:  &http.Client{},
		cfg:     cfg,
		baseURL: baseURL,
		logger:  logger.With("component", "assistant"),
	}, nil
}

// API exposes the underlying go-openai client for audio endpoints sharing the same credentials
func (c *OpenAIClient) API() *openai.Client {
	return c.api
}

// CreateThread creates an empty upstream thread
func (c *OpenAIClient) CreateThread(ctx context.Context) (string, error) {
	thread, err := c.api.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("creating thread: %w", err)
	}
	return thread.ID, nil
}

// AddUserMessage appends a user message to the thread
func (c *OpenAIClient) AddUserMessage(ctx context.Context, threadID, content string) (string, error) {
	msg, err := c.api.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: content,
	})
	if err != nil {
		return "", fmt.Errorf("adding message: %w", err)
	}
	return msg.ID, nil
}

// ListRuns returns the most recent runs on the thread
func (c *OpenAIClient) ListRuns(ctx context.Context, threadID string) ([]Run, error) {
	limit := 20
	list, err := c.api.ListRuns(ctx, threadID, openai.Pagination{Limit: &limit})
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	runs := make([]Run, 0, len(list.Runs))
	for _, r := range list.Runs {
		runs = append(runs, fromOpenAIRun(r))
	}
	return runs, nil
}

// CancelRun requests cancellation of a run
func (c *OpenAIClient) CancelRun(ctx context.Context, threadID, runID string) error {
	if _, err := c.api.CancelRun(ctx, threadID, runID); err != nil {
		return fmt.Errorf("cancelling run %s: %w", runID, err)
	}
	return nil
}

// CreateRun starts a non-streaming run
func (c *OpenAIClient) CreateRun(ctx context.Context, threadID, assistantID string) (Run, error) {
	run, err := c.api.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: assistantID})
	if err != nil {
		return Run{}, fmt.Errorf("creating run: %w", err)
	}
	return fromOpenAIRun(run), nil
}

// GetRun retrieves current run state
func (c *OpenAIClient) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	run, err := c.api.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return Run{}, fmt.Errorf("retrieving run: %w", err)
	}
	return fromOpenAIRun(run), nil
}

// LatestMessage returns the newest message on the thread
func (c *OpenAIClient) LatestMessage(ctx context.Context, threadID string) (Message, error) {
	limit := 1
	order := "desc"
	list, err := c.api.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return Message{}, fmt.Errorf("listing messages: %w", err)
	}
	if len(list.Messages) == 0 {
		return Message{}, ErrNoMessages
	}
	return fromOpenAIMessage(list.Messages[0]), nil
}

type streamRunRequest struct {
	AssistantID string `json:"assistant_id"`
	Stream      bool   `json:"stream"`
}

// StreamRun creates a run with stream=true and returns its event stream.
// The stream is bound to ctx; cancelling ctx ends local consumption only.
func (c *OpenAIClient) StreamRun(ctx context.Context, threadID, assistantID string) (Stream, error) {
	body, err := json.Marshal(streamRunRequest{AssistantID: assistantID, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("encoding run request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/threads/%s/runs", c.baseURL, url.PathEscape(threadID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building stream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	if c.cfg.Organization != "" {
		req.Header.Set("OpenAI-Organization", c.cfg.Organization)
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("starting run stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("starting run stream: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	c.logger.Debug("run stream opened", "thread_id", threadID)
	return newSSEReader(resp.Body), nil
}

func fromOpenAIRun(r openai.Run) Run {
	return Run{
		ID:       r.ID,
		ThreadID: r.ThreadID,
		Status:   RunStatus(r.Status),
	}
}

// fromOpenAIMessage joins the text parts of a message; non-text parts are skipped.
func fromOpenAIMessage(m openai.Message) Message {
	var parts []string
	for _, content := range m.Content {
		if content.Type == "text" && content.Text != nil {
			parts = append(parts, content.Text.Value)
		}
	}
	return Message{
		ID:      m.ID,
		Role:    m.Role,
		Content: strings.Join(parts, "\n"),
	}
}

var _ Client = (*OpenAIClient)(nil)
