package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/prompt-refiner-go/internal/models"
	"github.com/prompt-refiner-go/internal/prompts"
	"github.com/prompt-refiner-go/internal/services/ai"
	"github.com/prompt-refiner-go/internal/services/storage"
	"github.com/prompt-refiner-go/internal/services/usage"
	"github.com/sirupsen/logrus"
)

// MaxMessageLength is the longest accepted message, in characters.
const MaxMessageLength = 7000

// FinalRound is the round whose answers always lead to generation.
const FinalRound = models.Rounds + 1

var (
	// ErrInvalidInput is returned for an empty or oversized message.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidState is returned when a stored conversation is outside rounds 1..4.
	ErrInvalidState = errors.New("invalid conversation state")
	// ErrQuotaExceeded is returned when the daily generation quota is used up.
	ErrQuotaExceeded = errors.New("daily limit reached")
	// ErrUpstream is returned when the completion service fails.
	ErrUpstream = ai.ErrUpstream
)

// Generation triggers reported to the Observer.
const (
	TriggerKeyword   = "keyword"
	TriggerExhausted = "exhausted"
)

// Reply is the outcome of one successful turn.
type Reply struct {
	Text              string
	IsFinalGeneration bool
	CurrentRound      int
	RemainingPrompts  int
}

// Observer receives turn-level events.
type Observer interface {
	RecordTurn(round int, outcome string)
	RecordFinalGeneration(trigger string)
	RecordQuotaRejection()
}

// Orchestrator drives each user through the question rounds and the final
// prompt generation.
type Orchestrator struct {
	store     storage.ConversationStore
	limiter   *usage.Limiter
	completer ai.Service
	prompts   *prompts.Library
	observer  Observer
	locks     *userLocks
	logger    *logrus.Logger
}

// New creates an orchestrator. observer may be nil.
func New(store storage.ConversationStore, limiter *usage.Limiter, completer ai.Service, library *prompts.Library, observer Observer, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		limiter:   limiter,
		completer: completer,
		prompts:   library,
		observer:  observer,
		locks:     newUserLocks(),
		logger:    logger,
	}
}

// HandleMessage processes one inbound message for userID.
func (o *Orchestrator) HandleMessage(ctx context.Context, userID, message string) (*Reply, error) {
	if message == "" || utf8.RuneCountInString(message) > MaxMessageLength {
		o.record(0, "invalid_input")
		return nil, fmt.Errorf("%w: message must be 1-%d characters", ErrInvalidInput, MaxMessageLength)
	}

	unlock := o.locks.Lock(userID)
	defer unlock()

	stored, err := o.store.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	conv := stored.Clone()
	round := conv.Round

	log := o.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"round":   round,
	})

	var (
		instruction string
		final       bool
		trigger     string
		status      usage.Status
	)

	switch round {
	case 1:
		conv.InitialRequest = message
		instruction = o.prompts.Render(prompts.Round1, map[string]string{
			prompts.UserContext: conv.InitialRequest,
		})
	case 2, 3, FinalRound:
		conv.Answers[round-2] = message

		if round == FinalRound || WantsGenerate(message) {
			final = true
			trigger = TriggerKeyword
			if round == FinalRound {
				trigger = TriggerExhausted
			}

			status, err = o.limiter.CheckLimit(ctx, userID)
			if err != nil {
				o.record(round, "storage_error")
				return nil, err
			}
			if !status.Allowed {
				// The answer is kept so a later turn sees it; the round does not move.
				if err := o.store.Save(ctx, conv); err != nil {
					return nil, fmt.Errorf("failed to save conversation: %w", err)
				}
				o.record(round, "quota_exceeded")
				if o.observer != nil {
					o.observer.RecordQuotaRejection()
				}
				log.Info("Generation refused by daily limit")
				return nil, fmt.Errorf("%w: %d prompts per day", ErrQuotaExceeded, o.limiter.Limit())
			}

			instruction = o.prompts.Render(prompts.Generate, map[string]string{
				prompts.InitialContext: conv.InitialRequest,
				prompts.HistoryLog:     HistoryLog(conv),
			})
		} else if round == 2 {
			instruction = o.prompts.Render(prompts.Round2, map[string]string{
				prompts.InitialContext:  conv.InitialRequest,
				prompts.Round1Questions: conv.Questions[0],
				prompts.Round1Answers:   conv.Answers[0],
			})
		} else {
			instruction = o.prompts.Render(prompts.Round3, map[string]string{
				prompts.InitialContext: conv.InitialRequest,
				prompts.HistoryLog:     HistoryLog(conv),
			})
		}
	default:
		o.record(round, "invalid_state")
		log.Warn("Conversation in unknown round")
		return nil, fmt.Errorf("%w: round %d", ErrInvalidState, round)
	}

	reply, err := o.completer.Complete(ctx, instruction)
	if err != nil {
		o.record(round, "upstream_error")
		log.WithError(err).Error("Completion failed")
		return nil, err
	}

	if final {
		if err := o.limiter.IncrementUsage(ctx, userID); err != nil {
			o.record(round, "storage_error")
			return nil, err
		}
		if err := o.store.Delete(ctx, userID); err != nil {
			return nil, fmt.Errorf("failed to delete conversation: %w", err)
		}
		o.record(round, "final")
		if o.observer != nil {
			o.observer.RecordFinalGeneration(trigger)
		}
		log.WithField("trigger", trigger).Info("Final prompt generated")
	} else {
		conv.Questions[round-1] = reply
		conv.Round++
		if err := o.store.Save(ctx, conv); err != nil {
			return nil, fmt.Errorf("failed to save conversation: %w", err)
		}
		o.record(round, "question")
		log.Debug("Questions sent")
	}

	result := &Reply{
		Text:              reply,
		IsFinalGeneration: final,
		CurrentRound:      conv.Round,
	}

	after, err := o.limiter.CheckLimit(ctx, userID)
	if err != nil {
		// The turn is already committed; report the best estimate instead.
		log.WithError(err).Warn("Failed to read remaining prompts")
		if final {
			result.RemainingPrompts = max(status.Remaining-1, 0)
		}
		return result, nil
	}
	result.RemainingPrompts = after.Remaining
	return result, nil
}

// Reset discards the user's conversation; the next message starts round 1.
func (o *Orchestrator) Reset(ctx context.Context, userID string) error {
	unlock := o.locks.Lock(userID)
	defer unlock()

	if err := o.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("failed to reset conversation: %w", err)
	}
	o.logger.WithField("user_id", userID).Debug("Conversation reset")
	return nil
}

// Remaining returns how many final generations userID has left today.
func (o *Orchestrator) Remaining(ctx context.Context, userID string) (int, error) {
	status, err := o.limiter.CheckLimit(ctx, userID)
	if err != nil {
		return 0, err
	}
	return status.Remaining, nil
}

// Limit returns the daily generation quota.
func (o *Orchestrator) Limit() int {
	return o.limiter.Limit()
}

// ActiveConversations returns the number of conversations in progress.
func (o *Orchestrator) ActiveConversations() int {
	return o.store.Count()
}

func (o *Orchestrator) record(round int, outcome string) {
	if o.observer != nil {
		o.observer.RecordTurn(round, outcome)
	}
}

// HistoryLog renders every round that already has questions, in order.
func HistoryLog(conv *models.Conversation) string {
	var b strings.Builder
	for i := 0; i < models.Rounds; i++ {
		if conv.Questions[i] == "" {
			continue
		}
		fmt.Fprintf(&b, "\nROUND %d Q&A:\nQ: %s\nA: %s\n", i+1, conv.Questions[i], conv.Answers[i])
	}
	return b.String()
}
