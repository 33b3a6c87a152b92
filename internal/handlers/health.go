// Package handlers provides the Lambda handlers for the micro-lending engine.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	appConfig "microlend-engine/internal/config"
	"microlend-engine/internal/services/database"
	loanevents "microlend-engine/internal/services/events"
	"microlend-engine/internal/utils"
)

const healthCheckTimeout = 2 * time.Second

// pinger is a dependency the health check can ping.
type pinger interface {
	HealthCheck(ctx context.Context) error
}

// dependency is a backing service reported by the health check. Only a
// failing required dependency degrades the service; the scoring cache and
// the event bus have fallbacks.
type dependency struct {
	name     string
	required bool
	check    pinger
}

type redisPing struct {
	client *redis.Client
}

func (r redisPing) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	deps    []dependency
	closers []func()
}

// NewHealthHandler creates a new health handler. Dependencies that are not
// configured, or whose client cannot be built, are reported as such.
func NewHealthHandler() (*HealthHandler, error) {
	cfg, err := appConfig.Load()
	if err != nil {
		return &HealthHandler{}, nil // Return handler without dependencies
	}

	h := &HealthHandler{}
	if db, err := database.New(cfg); err == nil {
		h.deps = append(h.deps, dependency{name: "database", required: true, check: db})
		h.closers = append(h.closers, db.Close)
	}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		h.deps = append(h.deps, dependency{name: "scoring_cache", check: redisPing{client: client}})
		h.closers = append(h.closers, func() { _ = client.Close() })
	}
	if len(cfg.KafkaBrokers) > 0 {
		h.deps = append(h.deps, dependency{name: "event_bus", check: loanevents.BrokerCheck{Brokers: cfg.KafkaBrokers}})
	}

	return h, nil
}

// HealthResponse is the response structure for health checks.
type HealthResponse struct {
	Status       string            `json:"status"`
	Timestamp    string            `json:"timestamp"`
	Service      string            `json:"service"`
	Version      string            `json:"version"`
	Stage        string            `json:"stage"`
	Dependencies map[string]string `json:"dependencies"`
}

// Handle processes health check requests.
func (h *HealthHandler) Handle(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	headers := map[string]string{
		"Content-Type": "application/json",
	}

	response := HealthResponse{
		Status:       "healthy",
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Service:      "microlend-engine",
		Version:      getEnvOrDefault("SERVICE_VERSION", "1.0.0"),
		Stage:        getEnvOrDefault("STAGE", "unknown"),
		Dependencies: map[string]string{"database": "not configured"},
	}

	for _, dep := range h.deps {
		checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := dep.check.HealthCheck(checkCtx)
		cancel()

		if err == nil {
			response.Dependencies[dep.name] = "connected"
			continue
		}
		response.Dependencies[dep.name] = "disconnected"
		if dep.required {
			response.Status = "degraded"
		}
		utils.GetLogger().Warn("Dependency health check failed",
			zap.String("dependency", dep.name),
			zap.Bool("required", dep.required),
			zap.Error(err),
		)
	}

	statusCode := http.StatusOK
	if response.Status != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}

	body, _ := json.Marshal(response)

	return events.APIGatewayProxyResponse{
		StatusCode: statusCode,
		Headers:    headers,
		Body:       string(body),
	}, nil
}

// Close cleans up resources.
func (h *HealthHandler) Close() {
	for _, closeFn := range h.closers {
		closeFn()
	}
}

// getEnvOrDefault returns environment variable or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
