// Package forwarder delivers readings to the gateway with bounded retries
// and falls back to the offline ledger when the gateway stays unreachable.
package forwarder

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/fieldsense/soil-agent/internal/clients"
	"github.com/fieldsense/soil-agent/internal/models"
)

// Outcome is the terminal state of a submitted reading.
type Outcome int

const (
	// OutcomeSent means the gateway accepted the reading.
	OutcomeSent Outcome = iota
	// OutcomeQueued means delivery failed and the reading went to the
	// offline ledger.
	OutcomeQueued
	// OutcomeDropped means the reading was discarded by policy.
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeQueued:
		return "queued"
	case OutcomeDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// OfflineQueue is the slice of the offline store the forwarder needs.
type OfflineQueue interface {
	Append(models.Reading) error
	Flush(limit int, send func(models.Reading) error) (sent, remaining int, err error)
	Len() int
}

// Forwarder submits readings and drains the offline queue.
type Forwarder interface {
	Submit(ctx context.Context, reading models.Reading) (Outcome, error)
	FlushOffline(ctx context.Context) (sent, remaining int)
}

// Config tunes delivery behavior.
type Config struct {
	MaxAttempts   int
	RetryDelay    time.Duration
	SyncBatchSize int
	RetainInvalid bool
}

// GatewayForwarder implements Forwarder against the gateway HTTP client.
type GatewayForwarder struct {
	gateway clients.GatewayAPI
	queue   OfflineQueue
	cfg     Config
	logger  zerolog.Logger
}

// NewGatewayForwarder initializes a GatewayForwarder.
func NewGatewayForwarder(gateway clients.GatewayAPI, queue OfflineQueue, cfg Config, logger zerolog.Logger) *GatewayForwarder {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &GatewayForwarder{
		gateway: gateway,
		queue:   queue,
		cfg:     cfg,
		logger:  logger,
	}
}

// Submit tries direct delivery with a fixed delay between attempts and falls
// back to the offline ledger once the retry budget is exhausted.
//
// Checksum-invalid readings are never submitted over the wire; when retention
// is enabled they go straight to the ledger for diagnostics, otherwise they
// are dropped.
func (f *GatewayForwarder) Submit(ctx context.Context, reading models.Reading) (Outcome, error) {
	if !reading.CRCValid {
		if !f.cfg.RetainInvalid {
			f.logger.Warn().Msg("Discarding checksum-invalid reading")
			return OutcomeDropped, nil
		}
		if err := f.queue.Append(reading); err != nil {
			return OutcomeDropped, err
		}
		f.logger.Warn().Msg("Checksum-invalid reading retained offline for diagnostics")
		return OutcomeQueued, nil
	}

	attempts := 0
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(f.cfg.RetryDelay), uint64(f.cfg.MaxAttempts-1)),
		ctx,
	)
	err := backoff.Retry(func() error {
		attempts++
		if err := f.gateway.SendReading(ctx, reading); err != nil {
			if errors.Is(err, clients.ErrUnassigned) {
				// Retrying cannot help until the registry assigns us.
				return backoff.Permanent(err)
			}
			f.logger.Warn().Err(err).Int("attempt", attempts).Msg("Telemetry send failed")
			return err
		}
		return nil
	}, bo)

	if err == nil {
		f.logger.Debug().Int("attempts", attempts).Msg("Reading delivered to gateway")
		return OutcomeSent, nil
	}

	if appendErr := f.queue.Append(reading); appendErr != nil {
		return OutcomeQueued, appendErr
	}
	f.logger.Info().Int("attempts", attempts).Int("queued", f.queue.Len()).Msg("Delivery exhausted retries, reading stored offline")
	return OutcomeQueued, nil
}

// FlushOffline drains the offline queue oldest-first, giving each record a
// single send attempt this cycle so flush duration stays bounded.
func (f *GatewayForwarder) FlushOffline(ctx context.Context) (int, int) {
	sent, remaining, err := f.queue.Flush(f.cfg.SyncBatchSize, func(r models.Reading) error {
		return f.gateway.SendReading(ctx, r)
	})
	if err != nil {
		f.logger.Error().Err(err).Msg("Offline flush could not persist ledger")
	}
	return sent, remaining
}
