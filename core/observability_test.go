package core

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFieldMap(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFieldMap(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFieldMap(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := *l.records
	out := make([]capturedLog, len(items))
	copy(out, items)
	return out
}

func cloneFieldMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}

func TestObserver_ObserveOperationSuccess(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	observer := Observer{Logger: logger, Metrics: metrics}

	observer.ObserveOperation(context.Background(), time.Now(), "Verify Token", nil, map[string]any{
		"enrollment_id": "enr_1",
		"state":         string(RecordStateVerifiedOK),
		"access_token":  "tok_secret",
	})

	if len(metrics.counters) != 1 || metrics.counters[0].name != "refresh.verify_token.total" {
		t.Fatalf("expected normalized counter, got %#v", metrics.counters)
	}
	tags := metrics.counters[0].tags
	if tags["status"] != "success" || tags["state"] != "verified_ok" || tags["enrollment_id"] != "enr_1" {
		t.Fatalf("unexpected counter tags %#v", tags)
	}
	if len(metrics.histograms) != 1 || metrics.histograms[0].name != "refresh.verify_token.duration_ms" {
		t.Fatalf("expected duration histogram, got %#v", metrics.histograms)
	}

	records := logger.snapshot()
	if len(records) != 1 {
		t.Fatalf("expected one log record, got %d", len(records))
	}
	if records[0].level != "info" || records[0].msg != "verify_token succeeded" {
		t.Fatalf("unexpected log record %#v", records[0])
	}
	if records[0].fields["access_token"] != RedactedValue {
		t.Fatalf("expected access token to be redacted, got %#v", records[0].fields["access_token"])
	}
	if records[0].fields["enrollment_id"] != "enr_1" {
		t.Fatalf("expected enrollment id to stay visible, got %#v", records[0].fields["enrollment_id"])
	}
}

func TestObserver_ObserveOperationFailure(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	observer := Observer{Logger: logger, Metrics: metrics}

	err := ValidationError("enr_2")
	observer.ObserveOperation(context.Background(), time.Now(), "", err, nil)

	if metrics.counters[0].name != "refresh.unknown.total" || metrics.counters[0].tags["status"] != "failure" {
		t.Fatalf("unexpected failure counter %#v", metrics.counters[0])
	}
	records := logger.snapshot()
	if len(records) != 1 || records[0].level != "error" || records[0].msg != "unknown failed" {
		t.Fatalf("unexpected failure log %#v", records)
	}
	if message, _ := records[0].fields["error"].(string); !strings.Contains(message, "rejected by accounts probe") {
		t.Fatalf("expected error message field, got %#v", records[0].fields["error"])
	}
}

func TestObserver_ZeroValueDiscards(t *testing.T) {
	var observer Observer
	observer.ObserveOperation(context.Background(), time.Now(), "merge", nil, map[string]any{"entries": 3})
	observer.Warn(context.Background(), "nothing listening", nil)
	observer.IncCounter(context.Background(), "refresh.noop", 1, nil)
}

func TestNewObserver_DefaultsMetricsRecorder(t *testing.T) {
	logger := newCaptureLogger()
	observer := NewObserver("feedrefresh", nil, logger, nil)
	if observer.Logger == nil {
		t.Fatalf("expected resolved logger")
	}
	if _, ok := observer.Metrics.(NopMetricsRecorder); !ok {
		t.Fatalf("expected nop metrics recorder, got %T", observer.Metrics)
	}

	observer.Info(context.Background(), "record loaded", map[string]any{"record_path": "enrollment.json"})
	records := logger.snapshot()
	if len(records) != 1 || records[0].fields["record_path"] != "enrollment.json" {
		t.Fatalf("expected record through resolved logger, got %#v", records)
	}
}
