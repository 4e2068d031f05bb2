// Package audit keeps an append-only activity journal per installation.
//
// Every change to a household (refills, calibrations, completed chores,
// stock adjustments) and every login attempt is written as one JSON line.
// The journal answers "who refilled the tank last Tuesday?" and gives the
// dashboard an activity feed. It is separate from the process log: entries
// carry the virtual time of the action, not the wall time of the write.
//
// Example Usage:
//
//	logger, err := audit.NewLogger(audit.Config{Enabled: true, LogPath: "./data/activity.log"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer logger.Close()
//
//	logger.Log(audit.Event{
//		Type:        audit.EventWaterRefill,
//		HouseholdID: "h-1",
//		Timestamp:   now,
//		Success:     true,
//	})
//
//	result, _ := audit.NewReader("./data/activity.log").Query(audit.Query{HouseholdID: "h-1", Limit: 20})
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

// ErrClosed is returned by Log after Close.
var ErrClosed = errors.New("audit logger is closed")

// EventType classifies a journal entry.
type EventType string

const (
	// Authentication events
	EventLogin            EventType = "LOGIN"
	EventLoginFailed      EventType = "LOGIN_FAILED"
	EventPassphraseChange EventType = "PASSPHRASE_CHANGE"

	// Household lifecycle
	EventHouseholdCreate EventType = "HOUSEHOLD_CREATE"
	EventHouseholdDelete EventType = "HOUSEHOLD_DELETE"
	EventFactoryReset    EventType = "FACTORY_RESET"
	EventSettingsChange  EventType = "SETTINGS_CHANGE"

	// Water
	EventWaterRefill    EventType = "WATER_REFILL"
	EventWaterCalibrate EventType = "WATER_CALIBRATE"
	EventWaterConfig    EventType = "WATER_CONFIG"

	// Tasks
	EventTaskComplete EventType = "TASK_COMPLETE"
	EventTaskAdd      EventType = "TASK_ADD"
	EventTaskRemove   EventType = "TASK_REMOVE"

	// Inventory
	EventItemAdd       EventType = "ITEM_ADD"
	EventItemAdjust    EventType = "ITEM_ADJUST"
	EventItemStocktake EventType = "ITEM_STOCKTAKE"
	EventItemRemove    EventType = "ITEM_REMOVE"

	// System
	EventClockChange EventType = "CLOCK_CHANGE"
)

// Event is one journal entry. Once written it is never modified.
type Event struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Type        EventType `json:"type"`
	HouseholdID string    `json:"household_id,omitempty"`

	// Resource is "water", "task", "item", "household" or "clock".
	Resource   string `json:"resource,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`

	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Config holds journal configuration.
type Config struct {
	// Enabled=false makes every Log a no-op.
	Enabled bool
	LogPath string
	// SyncWrites fsyncs after each entry.
	SyncWrites bool
}

// Logger appends events to the journal.
//
// Thread Safety:
//
//	All methods are safe for concurrent use.
type Logger struct {
	mu       sync.Mutex
	writer   io.Writer
	file     *os.File
	config   Config
	sequence uint64
	closed   bool
}

// NewLogger opens the journal file in append mode, creating its directory.
// A disabled config returns a logger that discards everything.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}
	if config.LogPath == "" {
		return nil, errors.New("audit log path required")
	}

	if err := os.MkdirAll(filepath.Dir(config.LogPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	file, err := os.OpenFile(config.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("opening audit log file: %w", err)
	}

	return &Logger{
		writer: file,
		file:   file,
		config: config,
	}, nil
}

// NewLoggerWithWriter creates an enabled logger writing to w.
func NewLoggerWithWriter(w io.Writer) *Logger {
	return &Logger{
		writer: w,
		config: Config{Enabled: true},
	}
}

// Enabled reports whether entries are written.
func (l *Logger) Enabled() bool {
	return l != nil && l.config.Enabled
}

// Log appends an event. A missing ID is generated from the timestamp and a
// sequence number. The timestamp is required; callers pass virtual time.
func (l *Logger) Log(event Event) error {
	if !l.Enabled() {
		return nil
	}
	if event.Type == "" {
		return errors.New("audit event type required")
	}
	if event.Timestamp.IsZero() {
		return errors.New("audit event timestamp required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	if event.ID == "" {
		l.sequence++
		event.ID = fmt.Sprintf("audit-%d-%d", event.Timestamp.UnixNano(), l.sequence)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}

	if l.config.SyncWrites && l.file != nil {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("syncing audit log: %w", err)
		}
	}
	return nil
}

// LogAuth records a login attempt.
func (l *Logger) LogAuth(eventType EventType, householdID string, at time.Time, success bool, reason string) error {
	return l.Log(Event{
		Type:        eventType,
		HouseholdID: householdID,
		Timestamp:   at,
		Resource:    "household",
		ResourceID:  householdID,
		Success:     success,
		Reason:      reason,
	})
}

// Close closes the journal file. Later calls to Log fail with ErrClosed.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Query selects journal entries. Zero fields match everything.
type Query struct {
	StartTime   time.Time
	EndTime     time.Time
	EventTypes  []EventType
	HouseholdID string
	ResourceID  string
	Success     *bool

	// Newest returns the most recent matches first.
	Newest bool
	Limit  int
	Offset int
}

// QueryResult holds the selected page and the total number of matches.
type QueryResult struct {
	Events     []Event `json:"events"`
	TotalCount int     `json:"total_count"`
	HasMore    bool    `json:"has_more"`
}

// Reader reads a journal file.
type Reader struct {
	path string
}

// NewReader creates a reader for the journal at path.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// Query scans the journal. A missing file yields an empty result and
// malformed lines are skipped.
func (r *Reader) Query(q Query) (*QueryResult, error) {
	file, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &QueryResult{Events: []Event{}}, nil
		}
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer file.Close()

	events := []Event{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		if q.matches(event) {
			events = append(events, event)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}

	if q.Newest {
		slices.Reverse(events)
	}

	total := len(events)
	if q.Offset > 0 {
		if q.Offset >= len(events) {
			events = []Event{}
		} else {
			events = events[q.Offset:]
		}
	}
	if q.Limit > 0 && len(events) > q.Limit {
		events = events[:q.Limit]
	}

	return &QueryResult{
		Events:     events,
		TotalCount: total,
		HasMore:    q.Offset+len(events) < total,
	}, nil
}

func (q Query) matches(event Event) bool {
	if !q.StartTime.IsZero() && event.Timestamp.Before(q.StartTime) {
		return false
	}
	if !q.EndTime.IsZero() && event.Timestamp.After(q.EndTime) {
		return false
	}
	if len(q.EventTypes) > 0 && !slices.Contains(q.EventTypes, event.Type) {
		return false
	}
	if q.HouseholdID != "" && event.HouseholdID != q.HouseholdID {
		return false
	}
	if q.ResourceID != "" && event.ResourceID != q.ResourceID {
		return false
	}
	if q.Success != nil && event.Success != *q.Success {
		return false
	}
	return true
}
