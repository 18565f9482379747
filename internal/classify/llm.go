package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"brokerops/internal/config"
	"brokerops/internal/logger"
	"brokerops/pkg/metrics"
)

// Classifier produces a structured classification for one closed batch.
type Classifier interface {
	Classify(ctx context.Context, text string, bctx BatchContext) (*Result, error)
}

// LLMClassifier calls an OpenAI-compatible chat model and parses its
// JSON response. Every call is bounded by a hard timeout.
type LLMClassifier struct {
	llm     llms.Model
	model   string
	timeout time.Duration
	logger  logger.Logger
}

func NewLLMClassifier(cfg config.ClassifierConfig, log logger.Logger) (*LLMClassifier, error) {
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier client: %w", err)
	}

	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	return &LLMClassifier{llm: llm, model: cfg.Model, timeout: timeout, logger: log}, nil
}

func (c *LLMClassifier) Classify(ctx context.Context, text string, bctx BatchContext) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, text),
	}

	resp, err := c.llm.GenerateContent(ctx, content,
		llms.WithTemperature(0),
		llms.WithJSONMode(),
	)
	if err != nil {
		metrics.ObserveClassificationDuration(time.Since(start), "error")
		return nil, fmt.Errorf("classifier call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		metrics.ObserveClassificationDuration(time.Since(start), "error")
		return nil, fmt.Errorf("classifier returned no choices")
	}

	result, err := parseResult(resp.Choices[0].Content)
	if err != nil {
		metrics.ObserveClassificationDuration(time.Since(start), "malformed")
		return nil, err
	}
	result.SourceBatchID = bctx.BatchID

	metrics.ObserveClassificationDuration(time.Since(start), "success")
	metrics.ClassificationsTotal.WithLabelValues(string(result.MessageType)).Inc()

	c.logger.InfowCtx(ctx, "Batch classified",
		"batch_id", bctx.BatchID,
		"message_type", result.MessageType,
		"confidence", result.Confidence,
		"message_count", bctx.MessageCount,
	)
	return result, nil
}

// parseResult decodes the model output into a Result, rejecting unknown
// message types and out-of-range confidence instead of defaulting.
func parseResult(raw string) (*Result, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var payload struct {
		MessageType     string  `json:"message_type"`
		Confidence      float64 `json:"confidence"`
		ExtractedFields Fields  `json:"extracted_fields"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("malformed classifier response: %w", err)
	}

	msgType, err := ParseMessageType(payload.MessageType)
	if err != nil {
		return nil, fmt.Errorf("malformed classifier response: %w", err)
	}
	if payload.Confidence < 0 || payload.Confidence > 1 {
		return nil, fmt.Errorf("malformed classifier response: confidence %v out of range", payload.Confidence)
	}

	fields := payload.ExtractedFields
	if fields == nil {
		fields = Fields{}
	}
	return &Result{
		MessageType:     msgType,
		Confidence:      payload.Confidence,
		ExtractedFields: fields,
	}, nil
}
