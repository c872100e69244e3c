// internal/llmclient/genai_client.go
package llmclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/settings-crawler/internal/config"
)

// GenAIClient classifies page text through the official Google GenAI SDK.
type GenAIClient struct {
	client *genai.Client
	model  string
	cfg    *genai.GenerateContentConfig
	catCfg *genai.GenerateContentConfig
	logger *zap.Logger
}

// NewGenAIClient creates an SDK-backed classifier for the Gemini API backend.
func NewGenAIClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*GenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("genai: %w", ErrNoAPIKey)
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	if cfg.APITimeout > 0 {
		timeout := cfg.APITimeout
		clientCfg.HTTPOptions.Timeout = &timeout
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(cfg.Temperature),
		ResponseMIMEType:  "application/json",
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	}
	if cfg.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(cfg.MaxTokens)
	}

	catCfg := *genCfg
	catCfg.SystemInstruction = genai.NewContentFromText(categoryPrompt, genai.RoleUser)

	return &GenAIClient{
		client: client,
		model:  cfg.Model,
		cfg:    genCfg,
		catCfg: &catCfg,
		logger: logger.Named("llm_client.genai"),
	}, nil
}

// Classify asks the model for a verdict on the page text. Retries are left to
// the SDK transport; a failed call is returned as is.
func (c *GenAIClient) Classify(ctx context.Context, text string) (Classification, error) {
	reply, err := c.generate(ctx, buildUserPrompt(text), c.cfg)
	if err != nil {
		return Classification{}, err
	}
	return parseClassification(reply)
}

// Categorize asks the model which of categories fits a control label best.
func (c *GenAIClient) Categorize(ctx context.Context, label string, categories []string) (Classification, error) {
	reply, err := c.generate(ctx, buildCategoryPrompt(label, categories), c.catCfg)
	if err != nil {
		return Classification{}, err
	}
	return parseCategory(reply, categories)
}

func (c *GenAIClient) generate(ctx context.Context, prompt string, genCfg *genai.GenerateContentConfig) (string, error) {
	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), genCfg)
	if err != nil {
		return "", fmt.Errorf("genai generate content failed: %w", err)
	}
	reply := resp.Text()
	if reply == "" {
		return "", fmt.Errorf("genai returned an empty response")
	}
	c.logger.Debug("LLM classification complete (GenAI)", zap.Duration("duration", time.Since(start)))
	return reply, nil
}
