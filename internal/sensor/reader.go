// Package sensor owns the serial connection to the soil probe and performs
// single request/response polling cycles against it.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/tarm/serial"

	"github.com/fieldsense/soil-agent/internal/models"
	"github.com/fieldsense/soil-agent/pkg/modbus"
)

var (
	// ErrPortUnavailable is returned when the serial port cannot be opened.
	ErrPortUnavailable = errors.New("sensor: serial port unavailable")

	// ErrReadTimeout is returned when the probe sends no bytes before the
	// read timeout expires.
	ErrReadTimeout = errors.New("sensor: read timed out")
)

// Reader performs one synchronous request/response cycle against the probe.
type Reader interface {
	Poll(ctx context.Context) (*models.Reading, error)
	Connected() bool
	Close() error
}

// PortOpener opens a serial port. Injected so tests can supply a fake port.
type PortOpener func(name string, baud int, readTimeout time.Duration) (io.ReadWriteCloser, error)

// SerialPortOpener opens a real serial port via tarm/serial.
func SerialPortOpener(name string, baud int, readTimeout time.Duration) (io.ReadWriteCloser, error) {
	return serial.OpenPort(&serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout})
}

// Config holds the serial parameters of the probe connection.
type Config struct {
	Port           string
	BaudRate       int
	ReadTimeout    time.Duration
	OpenAttempts   int
	OpenRetryDelay time.Duration
}

// SerialReader issues the fixed Modbus request over a serial handle and
// decodes the fixed-length response through the codec. The handle is opened
// lazily, reused across polls and dropped after I/O errors so the next poll
// reopens it.
type SerialReader struct {
	machineID string
	request   []byte
	codec     *modbus.Codec
	cfg       Config
	open      PortOpener
	logger    zerolog.Logger

	mu   sync.Mutex
	port io.ReadWriteCloser
}

// NewSerialReader initializes a SerialReader.
func NewSerialReader(cfg Config, machineID string, request []byte, codec *modbus.Codec, open PortOpener, logger zerolog.Logger) *SerialReader {
	if cfg.OpenAttempts < 1 {
		cfg.OpenAttempts = 1
	}
	return &SerialReader{
		machineID: machineID,
		request:   request,
		codec:     codec,
		cfg:       cfg,
		open:      open,
		logger:    logger,
	}
}

// Poll sends the request frame and decodes the response into a Reading.
// Failures are non-fatal: the caller is expected to log and try again on its
// next cycle.
func (s *SerialReader) Poll(ctx context.Context) (*models.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensurePort(ctx); err != nil {
		return nil, err
	}

	if _, err := s.port.Write(s.request); err != nil {
		s.dropPort()
		return nil, fmt.Errorf("%w: writing request: %v", ErrPortUnavailable, err)
	}

	buf, err := s.readFrame()
	if err != nil {
		return nil, err
	}

	frame, err := s.codec.Decode(buf)
	if err != nil {
		return nil, err
	}

	if !frame.CRCValid {
		s.logger.Warn().Int("bytes", frame.Length).Msg("Response failed CRC check, reading flagged invalid")
	}

	return &models.Reading{
		MachineID:     s.machineID,
		Timestamp:     models.WireTime{Time: time.Now().UTC()},
		Moisture:      frame.Fields[modbus.FieldMoisture],
		Temperature:   frame.Fields[modbus.FieldTemperature],
		Conductivity:  frame.Fields[modbus.FieldConductivity],
		PH:            frame.Fields[modbus.FieldPH],
		Nitrogen:      frame.Fields[modbus.FieldNitrogen],
		Phosphorus:    frame.Fields[modbus.FieldPhosphorus],
		Potassium:     frame.Fields[modbus.FieldPotassium],
		CRCValid:      frame.CRCValid,
		ResponseBytes: frame.Length,
	}, nil
}

// readFrame accumulates bytes until the expected length is reached or a read
// returns nothing, which with a serial read timeout means the probe went
// quiet. A short read gets further passes until the timeout fires.
func (s *SerialReader) readFrame() ([]byte, error) {
	buf := make([]byte, s.codec.ResponseLength())
	total := 0
	for total < len(buf) {
		n, err := s.port.Read(buf[total:])
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			s.dropPort()
			return nil, fmt.Errorf("%w: reading response: %v", ErrPortUnavailable, err)
		}
		if n == 0 {
			break
		}
		total += n
	}

	if total == 0 {
		return nil, ErrReadTimeout
	}
	return buf[:total], nil
}

// ensurePort opens the serial port if it is not already open, retrying with a
// fixed delay. Callers hold s.mu.
func (s *SerialReader) ensurePort(ctx context.Context) error {
	if s.port != nil {
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.OpenRetryDelay), uint64(s.cfg.OpenAttempts-1)),
		ctx,
	)
	err := backoff.Retry(func() error {
		port, err := s.open(s.cfg.Port, s.cfg.BaudRate, s.cfg.ReadTimeout)
		if err != nil {
			s.logger.Warn().Err(err).Str("port", s.cfg.Port).Msg("Failed to open serial port")
			return err
		}
		s.port = port
		return nil
	}, bo)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPortUnavailable, err)
	}

	s.logger.Info().Str("port", s.cfg.Port).Int("baud", s.cfg.BaudRate).Msg("Serial port opened")
	return nil
}

func (s *SerialReader) dropPort() {
	if s.port != nil {
		_ = s.port.Close()
		s.port = nil
	}
}

// Connected reports whether a serial handle is currently open.
func (s *SerialReader) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

// Close releases the serial handle.
func (s *SerialReader) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	s.logger.Info().Msg("Serial port closed")
	return err
}
