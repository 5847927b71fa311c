// Package audit records an append-only trail of GRC write operations.
//
// Every promotion step, compensation and link-table change is written as a
// JSON line so that a partially applied promotion can be reconstructed
// after the fact:
//
//	trail, _ := audit.NewLogger(&audit.LoggerConfig{LogFile: "/var/log/grc/audit.log"})
//	trail.Start()
//	defer trail.Stop()
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType represents the type of audit event.
type EventType string

const (
	// Promotion saga
	EventPromotionStarted   EventType = "promotion_started"
	EventRiskCreated        EventType = "risk_created"
	EventAssessmentLocated  EventType = "assessment_located"
	EventFindingPatched     EventType = "finding_patched"
	EventMappingRecorded    EventType = "mapping_recorded"
	EventMappingDeferred    EventType = "mapping_deferred"
	EventPromotionCompleted EventType = "promotion_completed"
	EventPromotionFailed    EventType = "promotion_failed"

	// Compensation
	EventCompensationApplied EventType = "compensation_applied"
	EventCompensationFailed  EventType = "compensation_failed"

	// Link tables
	EventLinkCreated EventType = "link_created"
	EventLinkDeleted EventType = "link_deleted"

	// Outbox
	EventOutboxReplayed  EventType = "outbox_replayed"
	EventOutboxExhausted EventType = "outbox_exhausted"

	EventValidationError EventType = "validation_error"
)

// Severity represents log severity level.
type Severity string

const (
	SeverityDebug    Severity = "DEBUG"
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARN"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Event represents an audit event.
type Event struct {
	Timestamp   time.Time      `json:"timestamp"`
	Type        EventType      `json:"type"`
	Severity    Severity       `json:"severity"`
	Actor       string         `json:"actor,omitempty"`
	ClientID    string         `json:"client_id,omitempty"`
	OperationID string         `json:"operation_id,omitempty"`
	FindingID   string         `json:"finding_id,omitempty"`
	RiskID      string         `json:"risk_id,omitempty"`
	Message     string         `json:"message"`
	Error       string         `json:"error,omitempty"`
	Duration    time.Duration  `json:"duration_ms,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// Recorder accepts audit events. *Logger implements it; Nop discards.
type Recorder interface {
	Log(event Event)
}

// Nop is a Recorder that discards every event.
type Nop struct{}

func (Nop) Log(Event) {}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}

// LoggerConfig configures the audit logger.
type LoggerConfig struct {
	// Actor is stamped on events that do not name one.
	Actor string `yaml:"actor"`

	// LogFile is the path to the audit log file.
	// Default: ~/.grc/audit.log
	LogFile string `yaml:"log_file"`

	// BufferSize is the number of events to buffer before flushing.
	// Default: 100
	BufferSize int `yaml:"buffer_size"`

	// FlushInterval is how often to flush buffered events.
	// Default: 5 seconds
	FlushInterval time.Duration `yaml:"flush_interval"`

	// Console, when set, receives a human readable copy of every event.
	Console io.Writer `yaml:"-"`
}

// DefaultLoggerConfig returns sensible defaults.
func DefaultLoggerConfig() *LoggerConfig {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = os.TempDir()
	}

	return &LoggerConfig{
		LogFile:       filepath.Join(home, ".grc", "audit.log"),
		BufferSize:    100,
		FlushInterval: 5 * time.Second,
	}
}

// Logger is a buffered JSON-lines audit logger.
type Logger struct {
	config *LoggerConfig
	file   *os.File
	mu     sync.Mutex
	closed bool

	buffer   []Event
	bufferMu sync.Mutex

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	now func() time.Time
}

// NewLogger opens (appending) the audit log file.
func NewLogger(config *LoggerConfig) (*Logger, error) {
	if config == nil {
		config = DefaultLoggerConfig()
	}
	if config.LogFile == "" {
		config.LogFile = DefaultLoggerConfig().LogFile
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}

	if err := os.MkdirAll(filepath.Dir(config.LogFile), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	// 0640 = owner read/write, group read
	file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		config: config,
		file:   file,
		buffer: make([]Event, 0, config.BufferSize),
		stopCh: make(chan struct{}),
		now:    time.Now,
	}, nil
}

// Start begins background flushing.
func (l *Logger) Start() {
	l.mu.Lock()
	if l.running || l.closed {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.mu.Unlock()

	l.wg.Add(1)
	go l.flushLoop()
}

// Stop stops background flushing, writes the remaining events and closes
// the file. It is safe to call more than once.
func (l *Logger) Stop() error {
	l.mu.Lock()
	if l.running {
		l.running = false
		close(l.stopCh)
	}
	l.mu.Unlock()

	l.wg.Wait()
	l.Flush()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

// Log records an audit event.
func (l *Logger) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
	if event.Actor == "" {
		event.Actor = l.config.Actor
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	l.bufferMu.Lock()
	l.buffer = append(l.buffer, event)
	shouldFlush := len(l.buffer) >= l.config.BufferSize
	l.bufferMu.Unlock()

	if l.config.Console != nil {
		l.printEvent(event)
	}
	if shouldFlush {
		l.Flush()
	}
}

// Info logs an informational event.
func (l *Logger) Info(eventType EventType, message string, details map[string]any) {
	l.Log(Event{Type: eventType, Severity: SeverityInfo, Message: message, Details: details})
}

// Error logs an error event.
func (l *Logger) Error(eventType EventType, message string, err error, details map[string]any) {
	event := Event{Type: eventType, Severity: SeverityError, Message: message, Details: details}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// Flush writes buffered events to disk.
func (l *Logger) Flush() {
	l.bufferMu.Lock()
	if len(l.buffer) == 0 {
		l.bufferMu.Unlock()
		return
	}
	events := l.buffer
	l.buffer = make([]Event, 0, l.config.BufferSize)
	l.bufferMu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}

	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = l.file.Write(append(data, '\n'))
	}
	_ = l.file.Sync()
}

func (l *Logger) flushLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.Flush()
		}
	}
}

func (l *Logger) printEvent(event Event) {
	timestamp := event.Timestamp.Format("2006-01-02 15:04:05")
	fmt.Fprintf(l.config.Console, "[%s] [%s] %s: %s\n", timestamp, event.Severity, event.Type, event.Message)
	if event.Error != "" {
		fmt.Fprintf(l.config.Console, "  Error: %s\n", event.Error)
	}
}

// WithOperation returns a recorder that stamps every event with the
// operation, client and finding it belongs to.
func WithOperation(r Recorder, operationID, clientID, findingID string) *OperationRecorder {
	return &OperationRecorder{
		rec:         OrNop(r),
		operationID: operationID,
		clientID:    clientID,
		findingID:   findingID,
	}
}

// OperationRecorder scopes events to one multi-step operation.
type OperationRecorder struct {
	rec         Recorder
	operationID string
	clientID    string
	findingID   string
	riskID      string
	started     time.Time
}

// Log stamps and forwards an event.
func (o *OperationRecorder) Log(event Event) {
	event.OperationID = o.operationID
	if event.ClientID == "" {
		event.ClientID = o.clientID
	}
	if event.FindingID == "" {
		event.FindingID = o.findingID
	}
	if event.RiskID == "" {
		event.RiskID = o.riskID
	}
	o.rec.Log(event)
}

// SetRisk attaches the risk created by the operation to later events.
func (o *OperationRecorder) SetRisk(riskID string) {
	o.riskID = riskID
}

// Step records a successful step.
func (o *OperationRecorder) Step(eventType EventType, message string, details map[string]any) {
	o.Log(Event{Type: eventType, Severity: SeverityInfo, Message: message, Details: details})
}

// Failure records a failed step.
func (o *OperationRecorder) Failure(eventType EventType, message string, err error, details map[string]any) {
	event := Event{Type: eventType, Severity: SeverityError, Message: message, Details: details}
	if err != nil {
		event.Error = err.Error()
	}
	o.Log(event)
}

// Begin marks the operation start; Done reports its duration.
func (o *OperationRecorder) Begin(eventType EventType, message string) {
	o.started = time.Now()
	o.Step(eventType, message, nil)
}

// Done records the terminal event with the elapsed time since Begin.
func (o *OperationRecorder) Done(eventType EventType, message string, err error) {
	event := Event{Type: eventType, Severity: SeverityInfo, Message: message}
	if !o.started.IsZero() {
		event.Duration = time.Since(o.started)
	}
	if err != nil {
		event.Severity = SeverityError
		event.Error = err.Error()
	}
	o.Log(event)
}

// recorderKey carries a Recorder through a context.
type recorderKey struct{}

// NewContext returns a context carrying r.
func NewContext(ctx context.Context, r Recorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, r)
}

// FromContext returns the Recorder in ctx, or Nop.
func FromContext(ctx context.Context) Recorder {
	if r, ok := ctx.Value(recorderKey{}).(Recorder); ok {
		return r
	}
	return Nop{}
}

var (
	_ Recorder = (*Logger)(nil)
	_ Recorder = (*OperationRecorder)(nil)
	_ Recorder = Nop{}
)
