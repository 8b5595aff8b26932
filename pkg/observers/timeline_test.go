package observers

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/khata/pkg/frames"
	"github.com/harunnryd/khata/pkg/metrics"
)

func TestTimelineObserverWritesPerSessionFile(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)

	obs.RecordEvent(metrics.MetricsEvent{
		Name: "frame_out",
		Time: time.Now(),
		Tags: map[string]string{
			frames.MetaSessionID: "sess-1",
			frames.MetaTraceID:   "trace-1",
			"kind":               "audio",
		},
	})
	_ = obs.Close()

	b, err := os.ReadFile(filepath.Join(dir, "sess-1.jsonl"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !strings.Contains(string(b), "audio_out") {
		t.Fatalf("expected audio_out event, got %s", b)
	}
}

func TestTimelineObserverRedactsPhoneNumbers(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)

	obs.RecordEvent(metrics.MetricsEvent{
		Name: "transcription",
		Time: time.Now(),
		Tags: map[string]string{frames.MetaSessionID: "sess-2"},
		Fields: map[string]any{
			"text": "sold rice to Ramesh at +91 98765 43210",
		},
	})
	_ = obs.Close()

	b, err := os.ReadFile(filepath.Join(dir, "sess-2.jsonl"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if strings.Contains(string(b), "98765") {
		t.Fatalf("phone number leaked: %s", b)
	}
	if !strings.Contains(string(b), "[REDACTED_PHONE]") {
		t.Fatalf("expected redaction marker, got %s", b)
	}
}

func TestTimelineObserverIgnoresUnattributedEvents(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)
	obs.RecordEvent(metrics.MetricsEvent{Name: "frame_in", Time: time.Now()})
	_ = obs.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no files, got %d", len(entries))
	}
}

func TestMultiObserverFansOut(t *testing.T) {
	a := metrics.NewMemoryObserver()
	b := metrics.NewMemoryObserver()
	m := NewMultiObserver(a, nil, b)
	m.RecordEvent(metrics.MetricsEvent{Name: "ev"})

	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Fatalf("expected fan-out to both observers, got %d and %d", len(a.Events()), len(b.Events()))
	}
}
