package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldsense/soil-agent/internal/clients"
	"github.com/fieldsense/soil-agent/internal/constants"
	"github.com/fieldsense/soil-agent/internal/forwarder"
	"github.com/fieldsense/soil-agent/internal/network"
	"github.com/fieldsense/soil-agent/internal/sensor"
	"github.com/fieldsense/soil-agent/internal/service_registry"
	"github.com/fieldsense/soil-agent/internal/services"
	"github.com/fieldsense/soil-agent/internal/store"
	"github.com/fieldsense/soil-agent/internal/utils"
	"github.com/fieldsense/soil-agent/pkg/file"
	"github.com/fieldsense/soil-agent/pkg/identity"
	"github.com/fieldsense/soil-agent/pkg/modbus"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the agent configuration file")
	flag.Parse()

	// Set up structured logging with JSON output
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Load and validate configuration from file
	fileClient := file.NewFileService()
	config, err := utils.LoadConfig(*configPath, fileClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := config.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	level, err := zerolog.ParseLevel(config.Logging.Level)
	if err != nil {
		log.Warn().Str("level", config.Logging.Level).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	log = log.Level(level)

	// Load (or derive) the stable device identity
	deviceInfo := identity.NewDeviceInfo(config.Identity.DeviceFile, constants.SensorType, constants.FirmwareVersion, fileClient, log)
	if err := deviceInfo.Load(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load device identity")
	}
	log.Info().
		Str("machine_id", deviceInfo.GetMachineID()).
		Str("registry_url", config.Network.RegistryURL).
		Str("gateway_url", config.Network.GatewayURL).
		Int("response_length", config.Serial.ResponseLength).
		Msg("Soil sensor agent starting")

	// Build the Modbus codec and request frame for the probe
	codec, err := modbus.NewCodec(config.Serial.ResponseLength, config.Modbus.Fields)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid Modbus field mapping")
	}
	request := modbus.Request{
		SlaveID:       byte(config.Modbus.SlaveID),
		FunctionCode:  byte(config.Modbus.FunctionCode),
		StartRegister: uint16(config.Modbus.StartRegister),
		RegisterCount: uint16(config.Modbus.RegisterCount),
	}.Encode()

	reader := sensor.NewSerialReader(sensor.Config{
		Port:           config.Serial.Port,
		BaudRate:       config.Serial.BaudRate,
		ReadTimeout:    time.Duration(config.Serial.ReadTimeoutSeconds) * time.Second,
		OpenAttempts:   config.Retry.MaxAttempts,
		OpenRetryDelay: time.Duration(config.Retry.DelaySeconds) * time.Second,
	}, deviceInfo.GetMachineID(), request, codec, sensor.SerialPortOpener, log)

	// Offline ledger, upstream clients, connectivity and forwarding
	offlineStore, err := store.NewOfflineStore(config.Offline.Path, config.Offline.MaxRecords, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize offline storage")
	}

	registryClient := clients.NewRegistryClient(
		config.Network.RegistryURL,
		time.Duration(config.Network.RegistryTimeoutSeconds)*time.Second,
		log,
	)
	gatewayClient := clients.NewGatewayClient(
		config.Network.GatewayURL,
		time.Duration(config.Network.GatewayTimeoutSeconds)*time.Second,
		clients.BreakerConfig{
			ConsecutiveFailures: uint32(config.Breaker.ConsecutiveFailures),
			OpenTimeout:         time.Duration(config.Breaker.OpenSeconds) * time.Second,
		},
		log,
	)
	checker := network.NewChecker(
		config.Network.InternetTestURLs,
		registryClient,
		gatewayClient,
		time.Duration(config.Network.MinCheckIntervalSeconds)*time.Second,
		log,
	)
	fwd := forwarder.NewGatewayForwarder(gatewayClient, offlineStore, forwarder.Config{
		MaxAttempts:   config.Retry.MaxAttempts,
		RetryDelay:    time.Duration(config.Retry.DelaySeconds) * time.Second,
		SyncBatchSize: config.Offline.SyncBatchSize,
		RetainInvalid: config.Offline.RetainInvalidFrames,
	}, log)

	// The three cadences: assignment refresh, measurement, offline sync
	assignmentService := services.NewAssignmentService(
		time.Duration(config.Intervals.AssignmentCheckSeconds)*time.Second,
		deviceInfo,
		gatewayClient,
		registryClient,
		config.Serial.ResponseLength,
		log,
	)
	measurementService := services.NewMeasurementService(
		time.Duration(config.Intervals.MeasurementSeconds)*time.Second,
		reader,
		assignmentService,
		fwd,
		offlineStore,
		deviceInfo,
		config.Agent.RequireAssignment,
		config.Agent.StatusEveryCycles,
		log,
	)
	syncService := services.NewSyncService(
		time.Duration(config.Intervals.GatewayCheckSeconds)*time.Second,
		time.Duration(config.Offline.MinSyncGapSeconds)*time.Second,
		checker,
		fwd,
		offlineStore,
		log,
	)

	serviceRegistry := service_registry.NewServiceRegistry(log)
	serviceRegistry.RegisterService("assignment", assignmentService)
	serviceRegistry.RegisterService("measurement", measurementService)
	serviceRegistry.RegisterService("sync", syncService)

	if err := serviceRegistry.StartServices(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start services")
	}
	log.Info().Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		log.Error().Err(err).Msg("Service shutdown reported errors")
	}
	if err := reader.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close serial port")
	}
	log.Info().Int("offline_records", offlineStore.Len()).Msg("Soil sensor agent stopped")
}
