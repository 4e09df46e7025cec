package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/host"

	"github.com/fieldsense/soil-agent/internal/clients"
	"github.com/fieldsense/soil-agent/internal/models"
	"github.com/fieldsense/soil-agent/pkg/identity"
)

var (
	// ErrRegistration marks a failed device registration, reported
	// distinctly from assignment lookup failures.
	ErrRegistration = errors.New("assignment: device registration failed")

	// ErrLookup marks a failed assignment lookup.
	ErrLookup = errors.New("assignment: assignment lookup failed")
)

// AssignmentSource exposes the cached assignment to other services.
type AssignmentSource interface {
	Current() models.Assignment
}

// AssignmentService owns the cached farm/zone assignment. It registers the
// device on first contact and refreshes the assignment on its own cadence,
// trying the gateway first and falling back to the registry directly.
type AssignmentService struct {
	interval       time.Duration
	deviceInfo     identity.DeviceInfoInterface
	gateway        clients.GatewayAPI
	registry       clients.RegistryAPI
	responseLength int
	logger         zerolog.Logger

	cacheMu sync.RWMutex
	current models.Assignment

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAssignmentService initializes a new AssignmentService.
func NewAssignmentService(interval time.Duration, deviceInfo identity.DeviceInfoInterface,
	gateway clients.GatewayAPI, registry clients.RegistryAPI, responseLength int, logger zerolog.Logger) *AssignmentService {

	return &AssignmentService{
		interval:       interval,
		deviceInfo:     deviceInfo,
		gateway:        gateway,
		registry:       registry,
		responseLength: responseLength,
		logger:         logger,
	}
}

// Current returns the last cached assignment without I/O. Readers never
// observe a partially updated value.
func (s *AssignmentService) Current() models.Assignment {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.current
}

// Refresh registers the device if needed, then performs one assignment
// lookup. On any failure the cache is left untouched and the last known
// assignment is returned alongside the error.
func (s *AssignmentService) Refresh(ctx context.Context) (models.Assignment, error) {
	if !s.deviceInfo.IsRegistered() {
		if err := s.register(ctx); err != nil {
			return s.Current(), fmt.Errorf("%w: %v", ErrRegistration, err)
		}
	}

	resp, err := s.lookup(ctx)
	if err != nil {
		return s.Current(), fmt.Errorf("%w: %v", ErrLookup, err)
	}

	assignment := models.Assignment{
		FarmID:    resp.FarmID,
		ZoneCode:  resp.ZoneCode,
		Assigned:  resp.Assigned,
		FetchedAt: time.Now().UTC(),
	}
	s.cacheMu.Lock()
	s.current = assignment
	s.cacheMu.Unlock()

	if assignment.Assigned {
		s.logger.Info().Str("farm_id", assignment.FarmID).Str("zone_code", assignment.ZoneCode).Msg("Sensor assigned")
	} else {
		s.logger.Info().Msg("Sensor not assigned to any farm")
	}
	return assignment, nil
}

// register submits the registration payload, gateway first with a direct
// registry fallback, and persists the registered flag on success.
func (s *AssignmentService) register(ctx context.Context) error {
	ident := s.deviceInfo.GetIdentity()
	payload := models.RegistrationPayload{
		MachineID:           ident.MachineID,
		ConnectionTimestamp: models.WireTime{Time: time.Now().UTC()},
		SensorType:          ident.SensorType,
		FirmwareVersion:     ident.FirmwareVersion,
		ResponseLength:      s.responseLength,
		Host:                hostMetadata(),
	}

	s.logger.Info().Str("machine_id", ident.MachineID).Msg("Registering sensor")

	resp, err := s.gateway.Register(ctx, payload)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Gateway registration failed, trying registry directly")
		resp, err = s.registry.Register(ctx, payload)
		if err != nil {
			return err
		}
	}

	if err := s.deviceInfo.MarkRegistered(); err != nil {
		return fmt.Errorf("persisting registration state: %w", err)
	}
	s.logger.Info().Str("message", resp.Message).Msg("Sensor registered")

	s.checkFirmware(ident.FirmwareVersion, resp.LatestFirmware)
	return nil
}

// lookup queries the assignment endpoint, gateway first with a direct
// registry fallback. An unknown sensor resolves to unassigned rather than an
// error.
func (s *AssignmentService) lookup(ctx context.Context) (*models.AssignmentResponse, error) {
	machineID := s.deviceInfo.GetMachineID()

	resp, err := s.gateway.Assignment(ctx, machineID)
	if err == nil {
		return resp, nil
	}
	s.logger.Warn().Err(err).Msg("Gateway assignment check failed, trying registry directly")

	resp, err = s.registry.Assignment(ctx, machineID)
	if err != nil {
		if errors.Is(err, clients.ErrSensorNotFound) {
			s.logger.Warn().Str("machine_id", machineID).Msg("Sensor not found in registry")
			return &models.AssignmentResponse{Assigned: false}, nil
		}
		return nil, err
	}
	return resp, nil
}

// checkFirmware compares the running firmware against the registry-advertised
// latest and logs when an update is available.
func (s *AssignmentService) checkFirmware(current, latest string) {
	if latest == "" {
		return
	}
	cur, err := semver.NewVersion(current)
	if err != nil {
		return
	}
	latestVersion, err := semver.NewVersion(latest)
	if err != nil {
		s.logger.Debug().Err(err).Str("latest", latest).Msg("Registry advertised unparseable firmware version")
		return
	}
	if latestVersion.GreaterThan(cur) {
		s.logger.Warn().Str("current", current).Str("latest", latest).Msg("Newer firmware available")
	}
}

// hostMetadata collects platform details for the registration payload.
// Best-effort: a probe failure just omits the metadata.
func hostMetadata() *models.HostMetadata {
	info, err := host.Info()
	if err != nil {
		return nil
	}
	return &models.HostMetadata{
		Hostname:        info.Hostname,
		OS:              info.OS,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
		UptimeSeconds:   info.Uptime,
	}
}

// Start launches the refresh loop with an immediate forced refresh.
func (s *AssignmentService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		s.logger.Warn().Msg("AssignmentService is already running")
		return errors.New("assignment service is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()

	s.logger.Info().Dur("interval", s.interval).Msg("AssignmentService started successfully")
	return nil
}

// Stop gracefully stops the refresh loop.
func (s *AssignmentService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil {
		s.logger.Warn().Msg("AssignmentService is not running")
		return errors.New("assignment service is not running")
	}

	s.cancel()
	s.wg.Wait()

	s.ctx = nil
	s.cancel = nil

	s.logger.Info().Msg("AssignmentService stopped successfully")
	return nil
}

func (s *AssignmentService) run() {
	if _, err := s.Refresh(s.ctx); err != nil {
		s.logger.Error().Err(err).Msg("Initial assignment refresh failed")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Refresh(s.ctx); err != nil {
				s.logger.Error().Err(err).Msg("Assignment refresh failed, keeping cached assignment")
			}
		case <-s.ctx.Done():
			s.logger.Info().Msg("AssignmentService stopping gracefully")
			return
		}
	}
}
