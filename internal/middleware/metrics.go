package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Request metrics
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prompt_refiner_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"route", "code"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prompt_refiner_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// Conversation metrics
	turnsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prompt_refiner_turns_total",
		Help: "Total number of conversation turns processed",
	}, []string{"round", "outcome"})

	finalGenerations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prompt_refiner_final_generations_total",
		Help: "Total number of final prompt generations",
	}, []string{"trigger"})

	quotaRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prompt_refiner_quota_rejections_total",
		Help: "Total number of generations refused by the daily quota",
	})

	// Command metrics
	commandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prompt_refiner_telegram_commands_total",
		Help: "Total number of Telegram commands executed",
	}, []string{"command"})

	// AI metrics
	aiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prompt_refiner_ai_request_duration_seconds",
		Help:    "Duration of AI requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"model", "status"})

	aiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prompt_refiner_ai_requests_total",
		Help: "Total number of AI requests",
	}, []string{"model", "status"})

	// Rate limit metrics
	rateLimitExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prompt_refiner_rate_limit_exceeded_total",
		Help: "Total number of rate limit exceeded events",
	})

	// Storage metrics
	storageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prompt_refiner_storage_operations_total",
		Help: "Total number of usage storage operations",
	}, []string{"operation", "status"})

	storageOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prompt_refiner_storage_operation_duration_seconds",
		Help:    "Duration of usage storage operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// Active conversations gauge
	activeConversations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prompt_refiner_active_conversations",
		Help: "Number of conversations in progress",
	})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordRequest records a served HTTP request
func (m *Metrics) RecordRequest(route string, code int, duration time.Duration) {
	httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordTurn records a processed conversation turn
func (m *Metrics) RecordTurn(round int, outcome string) {
	turnsProcessed.WithLabelValues(strconv.Itoa(round), outcome).Inc()
}

// RecordFinalGeneration records a final prompt generation
func (m *Metrics) RecordFinalGeneration(trigger string) {
	finalGenerations.WithLabelValues(trigger).Inc()
}

// RecordQuotaRejection records a generation refused by the daily quota
func (m *Metrics) RecordQuotaRejection() {
	quotaRejections.Inc()
}

// RecordCommandExecuted records an executed command
func (m *Metrics) RecordCommandExecuted(command string) {
	commandsExecuted.WithLabelValues(command).Inc()
}

// RecordAIRequest records an AI request
func (m *Metrics) RecordAIRequest(model, status string, duration time.Duration) {
	aiRequestDuration.WithLabelValues(model, status).Observe(duration.Seconds())
	aiRequestsTotal.WithLabelValues(model, status).Inc()
}

// RecordRateLimitExceeded records a rate limit exceeded event
func (m *Metrics) RecordRateLimitExceeded() {
	rateLimitExceeded.Inc()
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(operation, status string, duration time.Duration) {
	storageOperations.WithLabelValues(operation, status).Inc()
	storageOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetActiveConversations sets the number of conversations in progress
func (m *Metrics) SetActiveConversations(count float64) {
	activeConversations.Set(count)
}

// NewMetricsServer builds the metrics HTTP server
func NewMetricsServer(port int, path string) *http.Server {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
