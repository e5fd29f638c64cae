package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"cosci/internal/logging"
)

// =============================================================================
// GOOGLE GENAI CLIENT
// =============================================================================

// GeminiClient implements Client using Google's Gemini API.
type GeminiClient struct {
	client    *genai.Client
	model     string
	maxTokens int
}

// NewGeminiClient creates a Gemini chat client.
func NewGeminiClient(apiKey, model string, maxTokens int) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if maxTokens <= 0 {
		maxTokens = 2000
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiClient{client: client, model: model, maxTokens: maxTokens}, nil
}

// Model returns the configured model identifier.
func (c *GeminiClient) Model() string {
	return c.model
}

// split converts the shared message form into GenAI contents plus the system
// instruction GenAI carries out of band.
func (c *GeminiClient) split(messages []Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	var systemParts []string
	contents := make([]*genai.Content, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			systemParts = append(systemParts, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(c.maxTokens),
	}
	if len(systemParts) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(systemParts, "\n\n"), genai.RoleUser)
	}
	return contents, cfg
}

// Complete sends the messages and returns the full reply.
func (c *GeminiClient) Complete(ctx context.Context, messages []Message) (string, error) {
	contents, cfg := c.split(messages)

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("GenAI completion failed: %w", err)
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", fmt.Errorf("no completion returned")
	}

	logging.ExecutorDebug("[GenAI] Complete: model=%s response_len=%d", c.model, len(text))
	return text, nil
}

// CompleteStream sends the messages and forwards text deltas as they arrive.
func (c *GeminiClient) CompleteStream(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	contentChan := make(chan string, 100)
	errorChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(errorChan)

		contents, cfg := c.split(messages)

		for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, cfg) {
			if err != nil {
				errorChan <- fmt.Errorf("GenAI stream failed: %w", err)
				return
			}
			if delta := resp.Text(); delta != "" {
				select {
				case contentChan <- delta:
				case <-ctx.Done():
					errorChan <- ctx.Err()
					return
				}
			}
		}
	}()

	return contentChan, errorChan
}
