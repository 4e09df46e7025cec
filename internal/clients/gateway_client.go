package clients

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/fieldsense/soil-agent/internal/models"
)

// GatewayAPI is the contract against the telemetry gateway. The gateway
// proxies registration and assignment lookups to the registry, so it exposes
// the same endpoints plus telemetry submission.
type GatewayAPI interface {
	Health(ctx context.Context) error
	Register(ctx context.Context, payload models.RegistrationPayload) (*models.RegistrationResponse, error)
	Assignment(ctx context.Context, machineID string) (*models.AssignmentResponse, error)
	SendReading(ctx context.Context, reading models.Reading) error
}

// BreakerConfig tunes the circuit breaker around telemetry submission.
type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// GatewayClient talks plain HTTP to the gateway. Telemetry POSTs run inside a
// circuit breaker so a dead gateway fails fast instead of burning the full
// HTTP timeout on every reading.
type GatewayClient struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// NewGatewayClient initializes a GatewayClient.
func NewGatewayClient(baseURL string, timeout time.Duration, breakerCfg BreakerConfig, logger zerolog.Logger) *GatewayClient {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "gateway-telemetry",
		Timeout: breakerCfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerCfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	})

	return &GatewayClient{
		baseURL: trimBaseURL(baseURL),
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  logger,
	}
}

// Health probes the gateway liveness endpoint.
func (c *GatewayClient) Health(ctx context.Context) error {
	status, err := getJSON(ctx, c.client, c.baseURL+"/api/test", nil)
	if err != nil {
		return fmt.Errorf("gateway health check: %w", err)
	}
	if status != http.StatusOK {
		return &statusError{peer: "gateway", status: status}
	}
	return nil
}

// Register submits device registration through the gateway.
func (c *GatewayClient) Register(ctx context.Context, payload models.RegistrationPayload) (*models.RegistrationResponse, error) {
	var out models.RegistrationResponse
	status, err := postJSON(ctx, c.client, c.baseURL+"/api/sensors/register", payload, &out)
	if err != nil {
		return nil, fmt.Errorf("gateway registration: %w", err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, &statusError{peer: "gateway", status: status}
	}
	return &out, nil
}

// Assignment looks up the farm/zone assignment through the gateway.
func (c *GatewayClient) Assignment(ctx context.Context, machineID string) (*models.AssignmentResponse, error) {
	var out models.AssignmentResponse
	url := fmt.Sprintf("%s/api/sensors/%s/assignment", c.baseURL, machineID)
	status, err := getJSON(ctx, c.client, url, &out)
	if err != nil {
		return nil, fmt.Errorf("gateway assignment lookup: %w", err)
	}
	if status != http.StatusOK {
		return nil, &statusError{peer: "gateway", status: status}
	}
	return &out, nil
}

// SendReading posts one reading to the gateway telemetry endpoint.
//
// Status mapping follows the gateway contract: 200 and 202 are accepted, 503
// means the gateway buffered the reading on its own side and also counts as
// accepted, 403 means the sensor is not assigned.
func (c *GatewayClient) SendReading(ctx context.Context, reading models.Reading) error {
	_, err := c.breaker.Execute(func() (any, error) {
		status, err := postJSON(ctx, c.client, c.baseURL+"/api/sensor-data", reading, nil)
		if err != nil {
			return nil, fmt.Errorf("gateway telemetry: %w", err)
		}
		switch status {
		case http.StatusOK, http.StatusAccepted, http.StatusServiceUnavailable:
			return nil, nil
		case http.StatusForbidden:
			return nil, ErrUnassigned
		default:
			return nil, &statusError{peer: "gateway", status: status}
		}
	})
	return err
}
