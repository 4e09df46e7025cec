package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldsense/soil-agent/internal/forwarder"
	"github.com/fieldsense/soil-agent/internal/models"
	"github.com/fieldsense/soil-agent/internal/sensor"
	"github.com/fieldsense/soil-agent/internal/store"
	"github.com/fieldsense/soil-agent/pkg/identity"
)

// OfflineStats is the slice of the offline store the status line needs.
type OfflineStats interface {
	Len() int
	GetStats() store.Stats
}

// MeasurementService drives the measurement cadence: poll the probe, attach
// the current assignment and hand the reading to the forwarder. Poll failures
// skip the cycle; the next tick tries again.
type MeasurementService struct {
	interval          time.Duration
	reader            sensor.Reader
	assignments       AssignmentSource
	forwarder         forwarder.Forwarder
	offline           OfflineStats
	deviceInfo        identity.DeviceInfoInterface
	requireAssignment bool
	statusEvery       int
	logger            zerolog.Logger

	cycles    int
	collected int

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMeasurementService initializes a new MeasurementService.
func NewMeasurementService(interval time.Duration, reader sensor.Reader, assignments AssignmentSource,
	fwd forwarder.Forwarder, offline OfflineStats, deviceInfo identity.DeviceInfoInterface,
	requireAssignment bool, statusEvery int, logger zerolog.Logger) *MeasurementService {

	return &MeasurementService{
		interval:          interval,
		reader:            reader,
		assignments:       assignments,
		forwarder:         fwd,
		offline:           offline,
		deviceInfo:        deviceInfo,
		requireAssignment: requireAssignment,
		statusEvery:       statusEvery,
		logger:            logger,
	}
}

// Start launches the measurement loop in a separate goroutine.
func (m *MeasurementService) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx != nil {
		m.logger.Warn().Msg("MeasurementService is already running")
		return errors.New("measurement service is already running")
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run()
	}()

	m.logger.Info().Dur("interval", m.interval).Msg("MeasurementService started successfully")
	return nil
}

// Stop gracefully stops the measurement loop.
func (m *MeasurementService) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil {
		m.logger.Warn().Msg("MeasurementService is not running")
		return errors.New("measurement service is not running")
	}

	m.cancel()
	m.wg.Wait()

	m.ctx = nil
	m.cancel = nil

	m.logger.Info().Msg("MeasurementService stopped successfully")
	return nil
}

func (m *MeasurementService) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runCycle()
		case <-m.ctx.Done():
			m.logger.Info().Int("cycles", m.cycles).Int("collected", m.collected).Msg("MeasurementService stopping gracefully")
			return
		}
	}
}

func (m *MeasurementService) runCycle() {
	m.cycles++
	defer m.maybeLogStatus()

	assignment := m.assignments.Current()
	if m.requireAssignment && !assignment.Assigned {
		m.logger.Debug().Int("cycle", m.cycles).Msg("Sensor not assigned, skipping measurement cycle")
		return
	}

	reading, err := m.reader.Poll(m.ctx)
	if err != nil {
		m.logger.Warn().Err(err).Int("cycle", m.cycles).Msg("Sensor poll failed, skipping cycle")
		return
	}
	m.collected++

	if assignment.Assigned {
		reading.FarmID = assignment.FarmID
		reading.ZoneCode = assignment.ZoneCode
	}

	outcome, err := m.forwarder.Submit(m.ctx, *reading)
	if err != nil {
		m.logger.Error().Err(err).Msg("Reading submission failed")
		return
	}
	m.logger.Info().
		Str("outcome", outcome.String()).
		Float64("moisture", reading.Moisture).
		Float64("temperature", reading.Temperature).
		Bool("crc_valid", reading.CRCValid).
		Msg("Measurement cycle completed")
}

// statusInfo snapshots the device state for the periodic status line.
func (m *MeasurementService) statusInfo() models.SensorInfo {
	ident := m.deviceInfo.GetIdentity()
	assignment := m.assignments.Current()
	return models.SensorInfo{
		MachineID:       ident.MachineID,
		SensorType:      ident.SensorType,
		FirmwareVersion: ident.FirmwareVersion,
		Assigned:        assignment.Assigned,
		FarmID:          assignment.FarmID,
		ZoneCode:        assignment.ZoneCode,
		SerialConnected: m.reader.Connected(),
		LastAssignment:  assignment.FetchedAt,
	}
}

// maybeLogStatus emits a periodic status line with device and ledger state,
// mirroring an operator glancing at the device once an hour.
func (m *MeasurementService) maybeLogStatus() {
	if m.statusEvery <= 0 || m.cycles%m.statusEvery != 0 {
		return
	}
	stats := m.offline.GetStats()
	m.logger.Info().
		Int("cycles", m.cycles).
		Int("collected", m.collected).
		Interface("sensor", m.statusInfo()).
		Int("offline_records", stats.TotalRecords).
		Float64("offline_kb", stats.StorageSizeKB).
		Msg("Periodic status")
}
