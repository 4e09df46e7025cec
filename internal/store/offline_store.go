// Package store implements the durable bounded buffer of undelivered
// telemetry: an append-only CSV ledger with ring-buffer eviction that
// survives process restarts.
package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldsense/soil-agent/internal/constants"
	"github.com/fieldsense/soil-agent/internal/models"
)

// ledgerHeader is the fixed tabular header of the offline CSV file. The
// column order is a contract with the gateway-side tooling.
var ledgerHeader = []string{
	"machine_id", "timestamp", "farm_id", "zone_code",
	"moisture", "temperature", "conductivity", "ph",
	"nitrogen", "phosphorus", "potassium",
	"crc_valid", "response_bytes",
}

// Stats summarizes the ledger for status logging.
type Stats struct {
	TotalRecords  int
	StorageSizeKB float64
	OldestRecord  time.Time
	NewestRecord  time.Time
}

// OfflineStore is a capacity-bounded FIFO of unsent readings backed by a CSV
// file. One mutex serializes appends against flushes so the two can never
// interleave destructively.
type OfflineStore struct {
	path       string
	maxRecords int
	logger     zerolog.Logger

	mu      sync.Mutex
	records []models.Reading
}

// NewOfflineStore opens (or creates) the ledger at path. Existing records are
// loaded so the queue survives restarts; rows beyond capacity are trimmed
// oldest-first.
func NewOfflineStore(path string, maxRecords int, logger zerolog.Logger) (*OfflineStore, error) {
	if maxRecords < 1 {
		return nil, fmt.Errorf("store: max records must be positive, got %d", maxRecords)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("store: creating ledger directory: %w", err)
	}

	s := &OfflineStore{
		path:       path,
		maxRecords: maxRecords,
		logger:     logger,
	}
	if err := s.load(); err != nil {
		return nil, err
	}

	logger.Info().Str("path", path).Int("records", len(s.records)).Int("capacity", maxRecords).Msg("Offline storage initialized")
	return s, nil
}

// Append inserts a reading, evicting exactly the oldest entry first when the
// ledger is at capacity.
func (s *OfflineStore) Append(r models.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) >= s.maxRecords {
		evicted := len(s.records) - s.maxRecords + 1
		s.records = s.records[evicted:]
		s.logger.Info().Int("evicted", evicted).Msg("Offline storage at capacity, evicted oldest record")
	}
	s.records = append(s.records, r)

	if err := s.persist(); err != nil {
		return fmt.Errorf("store: persisting ledger: %w", err)
	}
	s.logger.Debug().Int("total", len(s.records)).Msg("Reading stored offline")
	return nil
}

// Flush hands records oldest-first to send, stopping at the first failure so
// delivery order is preserved. At most limit records are attempted (0 means
// no limit). Records are removed only after send confirms success; a crash in
// between can replay a record on the next flush, so receivers dedupe on
// machine ID plus timestamp. Checksum-invalid rows end their diagnostic
// retention here: they are dropped without being sent.
func (s *OfflineStore) Flush(limit int, send func(models.Reading) error) (sent, remaining int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempted := 0
	for len(s.records) > 0 {
		if limit > 0 && attempted >= limit {
			break
		}

		head := s.records[0]
		if !head.CRCValid {
			s.records = s.records[1:]
			s.logger.Debug().Msg("Dropped checksum-invalid reading from ledger during flush")
			continue
		}

		attempted++
		if sendErr := send(head); sendErr != nil {
			s.logger.Warn().Err(sendErr).Int("sent", sent).Msg("Offline flush stopped at first send failure")
			break
		}
		s.records = s.records[1:]
		sent++
	}

	if persistErr := s.persist(); persistErr != nil {
		err = fmt.Errorf("store: persisting ledger after flush: %w", persistErr)
	}
	return sent, len(s.records), err
}

// Len returns the number of queued records.
func (s *OfflineStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// GetStats reports ledger size and the age range of its contents.
func (s *OfflineStore) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{TotalRecords: len(s.records)}
	if info, err := os.Stat(s.path); err == nil {
		stats.StorageSizeKB = float64(info.Size()) / 1024
	}
	if len(s.records) > 0 {
		stats.OldestRecord = s.records[0].Timestamp.Time
		stats.NewestRecord = s.records[len(s.records)-1].Timestamp.Time
	}
	return stats
}

// load reads the ledger file into memory. A missing file means an empty
// queue. Malformed rows are skipped with a warning rather than failing the
// whole ledger.
func (s *OfflineStore) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: opening ledger: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("store: reading ledger: %w", err)
	}

	for i, row := range rows {
		if i == 0 && len(row) > 0 && row[0] == ledgerHeader[0] {
			continue
		}
		r, err := readingFromRow(row)
		if err != nil {
			s.logger.Warn().Err(err).Int("row", i+1).Msg("Skipping malformed ledger row")
			continue
		}
		s.records = append(s.records, r)
	}

	if len(s.records) > s.maxRecords {
		s.records = s.records[len(s.records)-s.maxRecords:]
	}
	return nil
}

// persist rewrites the ledger through a temp file rename so a crash never
// leaves a half-written file. Callers hold s.mu.
func (s *OfflineStore) persist() error {
	tempFile := s.path + ".tmp"

	f, err := os.Create(tempFile)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(ledgerHeader); err != nil {
		f.Close()
		os.Remove(tempFile)
		return err
	}
	for _, r := range s.records {
		if err := writer.Write(rowFromReading(r)); err != nil {
			f.Close()
			os.Remove(tempFile)
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		os.Remove(tempFile)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tempFile)
		return err
	}

	return os.Rename(tempFile, s.path)
}

func rowFromReading(r models.Reading) []string {
	return []string{
		r.MachineID,
		r.Timestamp.Format(constants.TimestampLayout),
		r.FarmID,
		r.ZoneCode,
		formatFloat(r.Moisture),
		formatFloat(r.Temperature),
		formatFloat(r.Conductivity),
		formatFloat(r.PH),
		formatFloat(r.Nitrogen),
		formatFloat(r.Phosphorus),
		formatFloat(r.Potassium),
		strconv.FormatBool(r.CRCValid),
		strconv.Itoa(r.ResponseBytes),
	}
}

func readingFromRow(row []string) (models.Reading, error) {
	if len(row) != len(ledgerHeader) {
		return models.Reading{}, fmt.Errorf("expected %d columns, got %d", len(ledgerHeader), len(row))
	}

	ts, err := time.Parse(constants.TimestampLayout, row[1])
	if err != nil {
		return models.Reading{}, fmt.Errorf("parsing timestamp: %w", err)
	}

	values := make([]float64, 7)
	for i := 0; i < 7; i++ {
		v, err := strconv.ParseFloat(row[4+i], 64)
		if err != nil {
			return models.Reading{}, fmt.Errorf("parsing %s: %w", ledgerHeader[4+i], err)
		}
		values[i] = v
	}

	crcValid, err := strconv.ParseBool(row[11])
	if err != nil {
		return models.Reading{}, fmt.Errorf("parsing crc_valid: %w", err)
	}
	responseBytes, err := strconv.Atoi(row[12])
	if err != nil {
		return models.Reading{}, fmt.Errorf("parsing response_bytes: %w", err)
	}

	return models.Reading{
		MachineID:     row[0],
		Timestamp:     models.WireTime{Time: ts},
		FarmID:        row[2],
		ZoneCode:      row[3],
		Moisture:      values[0],
		Temperature:   values[1],
		Conductivity:  values[2],
		PH:            values[3],
		Nitrogen:      values[4],
		Phosphorus:    values[5],
		Potassium:     values[6],
		CRCValid:      crcValid,
		ResponseBytes: responseBytes,
	}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
