package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prompt-refiner-go/internal/i18n"
	"github.com/prompt-refiner-go/internal/middleware"
	"github.com/prompt-refiner-go/internal/models"
	"github.com/prompt-refiner-go/internal/orchestrator"
	"github.com/prompt-refiner-go/internal/services/auth"
	"github.com/prompt-refiner-go/internal/services/usage"
	"github.com/prompt-refiner-go/pkg/markdown"
	"github.com/sirupsen/logrus"
)

// maxBodyBytes bounds a chat request body; the message itself is capped
// at 7000 characters, which is at most 28000 bytes of UTF-8.
const maxBodyBytes = 64 << 10

// APIHandler serves the HTTP API
type APIHandler struct {
	orchestrator *orchestrator.Orchestrator
	verifier     auth.Verifier
	rateLimiter  middleware.RateLimiter
	localizer    *i18n.Localizer
	metrics      *middleware.Metrics
	logger       *logrus.Logger
}

// NewAPIHandler creates a new API handler. metrics may be nil.
func NewAPIHandler(
	orch *orchestrator.Orchestrator,
	verifier auth.Verifier,
	rateLimiter middleware.RateLimiter,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *APIHandler {
	return &APIHandler{
		orchestrator: orch,
		verifier:     verifier,
		rateLimiter:  rateLimiter,
		localizer:    localizer,
		metrics:      metrics,
		logger:       logger,
	}
}

// Router builds the API routes. allowedOrigins feeds the CORS middleware.
func (h *APIHandler) Router(allowedOrigins []string) http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.Logging(h.logger, h.metrics))

	router.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(middleware.Authenticate(h.verifier, h.localizer, h.logger))
	api.Use(middleware.LimitRate(h.rateLimiter, h.localizer, h.metrics))

	api.HandleFunc("/prompt-chat", h.handleChat).Methods(http.MethodPost)
	api.HandleFunc("/reset-conversation", h.handleReset).Methods(http.MethodPost)
	api.HandleFunc("/remaining-prompts", h.handleRemaining).Methods(http.MethodGet)
	api.HandleFunc("/get-secret-key", h.handleSecret).Methods(http.MethodGet)

	return middleware.RequestID(middleware.CORS(allowedOrigins)(router))
}

func (h *APIHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *APIHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFrom(r.Context())

	var req models.ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, r, orchestrator.ErrInvalidInput)
		return
	}

	// A client disconnect does not abort a turn that is already running.
	ctx := context.WithoutCancel(r.Context())
	reply, err := h.orchestrator.HandleMessage(ctx, id.UserID, req.Message)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, models.ChatResponse{
		Reply:             reply.Text,
		ReplyHTML:         markdown.ToHTML(reply.Text),
		IsFinalGeneration: reply.IsFinalGeneration,
		CurrentRound:      reply.CurrentRound,
		RemainingPrompts:  reply.RemainingPrompts,
	})
}

func (h *APIHandler) handleReset(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFrom(r.Context())

	if err := h.orchestrator.Reset(r.Context(), id.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, models.ResetResponse{
		Message: h.localize(r, i18n.MsgResetSuccess, nil),
	})
}

func (h *APIHandler) handleRemaining(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFrom(r.Context())

	remaining, err := h.orchestrator.Remaining(r.Context(), id.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, models.RemainingResponse{Remaining: remaining})
}

func (h *APIHandler) handleSecret(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFrom(r.Context())

	h.logger.WithFields(logrus.Fields{
		"request_id": middleware.RequestIDFrom(r.Context()),
		"email":      id.Email,
	}).Info("User verified")

	middleware.WriteJSON(w, http.StatusOK, models.SecretResponse{
		Message:    h.localize(r, i18n.MsgAccessGranted, nil),
		UserEmail:  id.Email,
		SecretInfo: h.localize(r, i18n.MsgSecretInfo, nil),
	})
}

func (h *APIHandler) localize(r *http.Request, messageID string, data map[string]interface{}) string {
	return h.localizer.Get(r.Header.Get("Accept-Language"), messageID, data)
}

// writeError translates an orchestrator error into a JSON error response.
func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, messageID, data := errorStatus(err, h.orchestrator.Limit())

	resp := models.ErrorResponse{Error: h.localize(r, messageID, data)}
	if errors.Is(err, orchestrator.ErrQuotaExceeded) {
		limitReached := true
		resp.LimitReached = &limitReached
	}

	entry := h.logger.WithFields(logrus.Fields{
		"request_id": middleware.RequestIDFrom(r.Context()),
		"status":     status,
		"error":      err,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}

	middleware.WriteJSON(w, status, resp)
}

// errorStatus maps an error to its HTTP status and message id.
func errorStatus(err error, limit int) (int, string, map[string]interface{}) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidInput):
		return http.StatusBadRequest, i18n.MsgInvalidInput, nil
	case errors.Is(err, orchestrator.ErrInvalidState):
		return http.StatusBadRequest, i18n.MsgInvalidState, nil
	case errors.Is(err, orchestrator.ErrQuotaExceeded):
		return http.StatusTooManyRequests, i18n.MsgDailyLimitReached, map[string]interface{}{"Limit": limit}
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, i18n.MsgInvalidToken, nil
	case errors.Is(err, orchestrator.ErrUpstream):
		return http.StatusInternalServerError, i18n.MsgUpstreamFailure, nil
	case errors.Is(err, usage.ErrStorage):
		return http.StatusInternalServerError, i18n.MsgInternalError, nil
	default:
		return http.StatusInternalServerError, i18n.MsgInternalError, nil
	}
}
