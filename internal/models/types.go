package models

import (
	"time"
)

// Rounds is the number of clarification rounds before the final prompt.
const Rounds = 3

// Message represents a chat message sent to a completion endpoint
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is one user's in-flight refinement session.
// Questions[r-1] and Answers[r-1] belong to round r.
type Conversation struct {
	UserID         string
	Round          int
	InitialRequest string
	Questions      [Rounds]string
	Answers        [Rounds]string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewConversation returns a conversation waiting for its initial request.
func NewConversation(userID string, now time.Time) *Conversation {
	return &Conversation{
		UserID:    userID,
		Round:     1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns an independent copy.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	return &cp
}

// UsageRecord counts final generations for one user on one UTC day.
type UsageRecord struct {
	UserID string `json:"user_id"`
	Date   string `json:"date"`
	Count  int    `json:"count"`
}

// Identity is what the identity verifier resolves a bearer token to.
type Identity struct {
	UserID string
	Email  string
	Issuer string
}

// ChatRequest is the body of POST /api/prompt-chat
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is returned for every successful turn
type ChatResponse struct {
	Reply             string `json:"reply"`
	ReplyHTML         string `json:"replyHtml,omitempty"`
	IsFinalGeneration bool   `json:"isFinalGeneration"`
	CurrentRound      int    `json:"currentRound"`
	RemainingPrompts  int    `json:"remainingPrompts"`
}

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Error        string `json:"error"`
	LimitReached *bool  `json:"limitReached,omitempty"`
}

// ResetResponse is returned by POST /api/reset-conversation
type ResetResponse struct {
	Message string `json:"message"`
}

// RemainingResponse is returned by GET /api/remaining-prompts
type RemainingResponse struct {
	Remaining int `json:"remaining"`
}

// SecretResponse is returned by GET /api/get-secret-key
type SecretResponse struct {
	Message    string `json:"message"`
	UserEmail  string `json:"userEmail"`
	SecretInfo string `json:"secretInfo"`
}
