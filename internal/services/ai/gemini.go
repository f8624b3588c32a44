package ai

import (
	"context"
	"fmt"

	"github.com/prompt-refiner-go/internal/config"
	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

// Gemini calls Google's Gemini API through the GenAI SDK.
type Gemini struct {
	client *genai.Client
	config *config.CompletionConfig
	logger *logrus.Logger
}

func NewGemini(ctx context.Context, cfg *config.CompletionConfig, logger *logrus.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Gemini{client: client, config: cfg, logger: logger}, nil
}

func (g *Gemini) Complete(ctx context.Context, instruction string) (string, error) {
	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	genConfig := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(g.config.Temperature)),
	}
	if g.config.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(g.config.MaxTokens)
	}
	if g.config.SystemPrompt != "" {
		genConfig.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: g.config.SystemPrompt}},
		}
	}

	g.logger.WithField("model", g.config.Model).Debug("Sending Gemini request")

	result, err := g.client.Models.GenerateContent(ctx, g.config.Model, genai.Text(instruction), genConfig)
	if err != nil {
		return "", upstreamf("gemini generation failed: %v", err)
	}

	text := result.Text()
	if text == "" {
		return "", upstreamf("empty completion")
	}
	return text, nil
}
