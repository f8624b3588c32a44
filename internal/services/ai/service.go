package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prompt-refiner-go/internal/config"
	"github.com/sirupsen/logrus"
)

// ErrUpstream wraps every failure to obtain a completion: transport errors,
// timeouts, non-2xx responses and malformed bodies.
var ErrUpstream = errors.New("completion service error")

// Service turns an instruction into generated text.
type Service interface {
	Complete(ctx context.Context, instruction string) (string, error)
}

// Observer receives the outcome of each completion call.
type Observer interface {
	RecordAIRequest(model, status string, duration time.Duration)
}

// NewService builds the completion client selected by cfg.Provider.
func NewService(ctx context.Context, cfg *config.CompletionConfig, observer Observer, logger *logrus.Logger) (Service, error) {
	var (
		svc Service
		err error
	)
	switch cfg.Provider {
	case "openai":
		svc = NewOpenAICompatible(cfg, logger)
	case "gemini":
		svc, err = NewGemini(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported completion provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"provider": cfg.Provider,
		"model":    cfg.Model,
	}).Info("Completion service initialized")

	if observer == nil {
		return svc, nil
	}
	return &observed{next: svc, model: cfg.Model, observer: observer}, nil
}

// observed reports timing and status of every call to an Observer.
type observed struct {
	next     Service
	model    string
	observer Observer
}

func (o *observed) Complete(ctx context.Context, instruction string) (string, error) {
	start := time.Now()
	reply, err := o.next.Complete(ctx, instruction)
	status := "success"
	if err != nil {
		status = "error"
	}
	o.observer.RecordAIRequest(o.model, status, time.Since(start))
	return reply, err
}

func upstreamf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUpstream, fmt.Sprintf(format, args...))
}
