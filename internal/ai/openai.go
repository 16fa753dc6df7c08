package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// DefaultModel is used when OPENAI_MODEL is not set.
const DefaultModel = "gpt-4o-mini"

const classifySystemPrompt = `You are a security operations analyst. Classify the alert you are given.
Respond with a JSON object with the keys "category", "severity", "title", "summary" and "confidence".
severity is one of low, medium, high, critical. confidence is a number between 0 and 1.
category is one of malware, phishing, intrusion, data_exfiltration, account_compromise, denial_of_service, policy_violation, other.`

const adviseSystemPrompt = `You are a governance, risk and compliance advisor.
Given a context type and a JSON document, respond with a JSON object {"recommendations": [...]}.
Each recommendation has "title", "summary", "rationale", "actions" (array of strings) and "confidence" (0 to 1).
Return at most five recommendations.`

// chatCompleter is the subset of the go-openai client used here.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIConfig configures the OpenAI client.
type OpenAIConfig struct {
	APIKey            string
	Model             string
	BaseURL           string
	RequestsPerMinute int
	// HTTPClient overrides the transport, e.g. to go through a proxy.
	HTTPClient *http.Client
}

// OpenAIClient classifies alerts and produces recommendations with chat completions in JSON mode.
type OpenAIClient struct {
	client  chatCompleter
	model   string
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewOpenAIClient creates a client. Outbound calls are throttled to RequestsPerMinute.
func NewOpenAIClient(cfg OpenAIConfig, logger zerolog.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	return newOpenAIClient(openai.NewClientWithConfig(clientCfg), cfg, logger), nil
}

func newOpenAIClient(client chatCompleter, cfg OpenAIConfig, logger zerolog.Logger) *OpenAIClient {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	return &OpenAIClient{
		client:  client,
		model:   model,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		logger:  logger.With().Str("component", "openai").Str("model", model).Logger(),
	}
}

// ClassifyAlert asks the model to classify alert.
func (o *OpenAIClient) ClassifyAlert(ctx context.Context, alert *models.SecurityAlert) (*Classification, error) {
	prompt, err := json.Marshal(map[string]any{
		"source":      alert.Source,
		"severity":    alert.Severity,
		"title":       alert.Title,
		"description": alert.Description,
		"source_ip":   alert.SourceIP,
		"raw":         alert.Raw,
	})
	if err != nil {
		return nil, fmt.Errorf("encode alert: %w", err)
	}

	content, err := o.complete(ctx, classifySystemPrompt, string(prompt))
	if err != nil {
		return nil, err
	}

	var c Classification
	if err := json.Unmarshal([]byte(content), &c); err != nil {
		return nil, fmt.Errorf("decode classification: %w", err)
	}
	c.normalize(alert.Severity)
	if c.Title == "" {
		c.Title = alert.Title
	}
	return &c, nil
}

// Recommend asks the model for recommendations on req.
func (o *OpenAIClient) Recommend(ctx context.Context, req AdviceRequest) ([]Advice, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "context_type: %s\n", req.ContextType)
	if req.ContextID != "" {
		fmt.Fprintf(&b, "context_id: %s\n", req.ContextID)
	}
	if len(req.Context) > 0 {
		b.WriteString("context:\n")
		b.Write(req.Context)
	}

	content, err := o.complete(ctx, adviseSystemPrompt, b.String())
	if err != nil {
		return nil, err
	}

	var out struct {
		Recommendations []Advice `json:"recommendations"`
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("decode recommendations: %w", err)
	}
	for i := range out.Recommendations {
		out.Recommendations[i].Confidence = models.ClampConfidence(out.Recommendations[i].Confidence)
		if out.Recommendations[i].Actions == nil {
			out.Recommendations[i].Actions = []string{}
		}
	}
	return out.Recommendations, nil
}

func (o *OpenAIClient) complete(ctx context.Context, system, user string) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("openai rate limit wait: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		o.logger.Error().Err(err).Msg("openai chat completion failed")
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}

	o.logger.Debug().
		Str("finish_reason", string(resp.Choices[0].FinishReason)).
		Dur("duration", time.Since(start)).
		Int("total_tokens", resp.Usage.TotalTokens).
		Msg("openai chat completion")
	return resp.Choices[0].Message.Content, nil
}
