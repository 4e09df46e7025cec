package clients

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldsense/soil-agent/internal/models"
)

// RegistryAPI is the contract against the registry (assignment database)
// service.
type RegistryAPI interface {
	Health(ctx context.Context) error
	Register(ctx context.Context, payload models.RegistrationPayload) (*models.RegistrationResponse, error)
	Assignment(ctx context.Context, machineID string) (*models.AssignmentResponse, error)
}

// RegistryClient talks plain HTTP to the registry endpoints.
type RegistryClient struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewRegistryClient initializes a RegistryClient with one HTTP client bound
// to the configured timeout.
func NewRegistryClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *RegistryClient {
	return &RegistryClient{
		baseURL: trimBaseURL(baseURL),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Health probes the registry liveness endpoint.
func (c *RegistryClient) Health(ctx context.Context) error {
	status, err := getJSON(ctx, c.client, c.baseURL+"/api/test", nil)
	if err != nil {
		return fmt.Errorf("registry health check: %w", err)
	}
	if status != http.StatusOK {
		return &statusError{peer: "registry", status: status}
	}
	return nil
}

// Register submits the device registration payload.
func (c *RegistryClient) Register(ctx context.Context, payload models.RegistrationPayload) (*models.RegistrationResponse, error) {
	var out models.RegistrationResponse
	status, err := postJSON(ctx, c.client, c.baseURL+"/api/sensors/register", payload, &out)
	if err != nil {
		return nil, fmt.Errorf("registry registration: %w", err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, &statusError{peer: "registry", status: status}
	}
	return &out, nil
}

// Assignment looks up the farm/zone assignment for machineID. An unknown
// sensor fails with ErrSensorNotFound.
func (c *RegistryClient) Assignment(ctx context.Context, machineID string) (*models.AssignmentResponse, error) {
	var out models.AssignmentResponse
	url := fmt.Sprintf("%s/api/sensors/%s/assignment", c.baseURL, machineID)
	status, err := getJSON(ctx, c.client, url, &out)
	if err != nil {
		return nil, fmt.Errorf("registry assignment lookup: %w", err)
	}
	switch status {
	case http.StatusOK:
		return &out, nil
	case http.StatusNotFound:
		return nil, ErrSensorNotFound
	default:
		return nil, &statusError{peer: "registry", status: status}
	}
}
