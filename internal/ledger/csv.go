package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"timekeeper-go/internal/core/models"
	"timekeeper-go/internal/util/timezone"

	log "github.com/sirupsen/logrus"
)

// CSVLedger appends events to a CSV file with the fixed header
// Name,Date,Time,Status,Confidence. The file is append-only and kept
// compatible with external tooling that consumes the same layout.
type CSVLedger struct {
	path string
	mu   sync.Mutex
	file *os.File
}

// OpenCSV opens (or creates) the attendance CSV, writing the header row if
// the file is new or empty.
func OpenCSV(path string) (*CSVLedger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0660)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger file '%s': %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat ledger file: %w", err)
	}

	l := &CSVLedger{path: path, file: f}

	if info.Size() == 0 {
		w := csv.NewWriter(f)
		if err := w.Write(Columns); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write ledger header: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write ledger header: %w", err)
		}
		log.Infof("Created new attendance ledger at %s", path)
	}

	return l, nil
}

// Append writes one event as a single CSV row.
func (l *CSVLedger) Append(ev *models.AttendanceEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := csv.NewWriter(l.file)
	record := []string{
		ev.Name,
		ev.Date,
		ev.Time,
		string(ev.Status),
		strconv.FormatFloat(ev.Confidence, 'f', -1, 64),
	}
	if err := w.Write(record); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// LatestStatuses replays the file and keeps the last record per identity.
func (l *CSVLedger) LatestStatuses() (map[string]models.AttendanceState, error) {
	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	states := make(map[string]models.AttendanceState)
	for i := range events {
		ev := &events[i]
		at, err := ev.EventTime(timezone.Location())
		if err != nil {
			log.Warnf("Skipping ledger row with unparseable timestamp for '%s': %v", ev.Name, err)
			continue
		}
		states[ev.Name] = models.AttendanceState{
			Identity:      ev.Name,
			Status:        ev.Status,
			LastEventTime: at,
		}
	}
	return states, nil
}

// Recent returns up to limit events, newest first.
func (l *CSVLedger) Recent(limit int) ([]models.AttendanceEvent, error) {
	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	// File order is chronological; reverse for newest-first.
	capacity := limit
	if capacity > len(events) {
		capacity = len(events)
	}
	out := make([]models.AttendanceEvent, 0, capacity)
	for i := len(events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, events[i])
	}
	return out, nil
}

// Close releases the underlying file handle.
func (l *CSVLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// readAll parses every row of the ledger file. Malformed rows are skipped
// with a warning rather than failing the whole read.
func (l *CSVLedger) readAll() ([]models.AttendanceEvent, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger file for reading: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // tolerate short rows, validated below

	var events []models.AttendanceEvent
	header := true
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warnf("Skipping malformed ledger row: %v", err)
			continue
		}
		if header {
			header = false
			continue
		}
		if len(record) < len(Columns) {
			log.Warnf("Skipping short ledger row (%d fields)", len(record))
			continue
		}

		confidence, err := strconv.ParseFloat(record[4], 64)
		if err != nil {
			log.Warnf("Skipping ledger row with bad confidence '%s': %v", record[4], err)
			continue
		}

		events = append(events, models.AttendanceEvent{
			Name:       record[0],
			Date:       record[1],
			Time:       record[2],
			Status:     models.Status(record[3]),
			Confidence: confidence,
		})
	}

	return events, nil
}
