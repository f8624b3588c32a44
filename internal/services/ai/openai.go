package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/prompt-refiner-go/internal/config"
	"github.com/prompt-refiner-go/internal/models"
	"github.com/sirupsen/logrus"
)

// maxErrorBody caps how much of a failed response body is logged.
const maxErrorBody = 512

// OpenAICompatible calls a /chat/completions endpoint (Groq, OpenAI, vLLM,
// ...) with a fixed system message and the instruction as the user turn.
type OpenAICompatible struct {
	config     *config.CompletionConfig
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewOpenAICompatible(cfg *config.CompletionConfig, logger *logrus.Logger) *OpenAICompatible {
	return &OpenAICompatible{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []models.Message `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Stream      bool             `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends a single request; failures are not retried.
func (s *OpenAICompatible) Complete(ctx context.Context, instruction string) (string, error) {
	reqBody := chatRequest{
		Model: s.config.Model,
		Messages: []models.Message{
			{Role: "system", Content: s.config.SystemPrompt},
			{Role: "user", Content: instruction},
		},
		Temperature: s.config.Temperature,
		MaxTokens:   s.config.MaxTokens,
		Stream:      false,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimSuffix(s.config.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	s.logger.WithFields(logrus.Fields{
		"model": s.config.Model,
		"url":   url,
	}).Debug("Sending completion request")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", upstreamf("send request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", upstreamf("read response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		s.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   snippet,
		}).Error("Completion request failed")
		return "", upstreamf("status %d", resp.StatusCode)
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", upstreamf("parse response: %v", err)
	}
	if result.Error != nil && result.Error.Message != "" {
		return "", upstreamf("provider error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", upstreamf("empty completion")
	}

	return result.Choices[0].Message.Content, nil
}
