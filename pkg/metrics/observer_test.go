package metrics

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestMemoryObserverCollectsAndFilters(t *testing.T) {
	m := NewMemoryObserver()
	m.RecordEvent(MetricsEvent{Name: "pipeline_in", Value: 1})
	m.RecordEvent(MetricsEvent{Name: "pipeline_out", Value: 1})
	m.RecordEvent(MetricsEvent{Name: "pipeline_in", Value: 2})

	if got := len(m.Events()); got != 3 {
		t.Fatalf("expected 3 events, got %d", got)
	}
	if got := len(m.Named("pipeline_in")); got != 2 {
		t.Fatalf("expected 2 pipeline_in events, got %d", got)
	}
	if got := len(m.Named("missing")); got != 0 {
		t.Fatalf("expected no events, got %d", got)
	}
}

func TestSamplingObserverRate(t *testing.T) {
	cases := []struct {
		rate float64
		in   int
		want int
	}{
		{rate: 1, in: 10, want: 10},
		{rate: 0, in: 10, want: 0},
		{rate: 0.5, in: 10, want: 5},
		{rate: 0.1, in: 100, want: 10},
	}
	for _, tc := range cases {
		inner := NewMemoryObserver()
		s := NewSamplingObserver(inner, tc.rate)
		for i := 0; i < tc.in; i++ {
			s.RecordEvent(MetricsEvent{Name: "ev"})
		}
		if got := len(inner.Events()); got != tc.want {
			t.Errorf("rate %v: expected %d forwarded, got %d", tc.rate, tc.want, got)
		}
	}
}

func TestSamplingObserverClampsRate(t *testing.T) {
	inner := NewMemoryObserver()
	s := NewSamplingObserver(inner, 3.5)
	s.RecordEvent(MetricsEvent{Name: "ev"})
	if got := len(inner.Events()); got != 1 {
		t.Fatalf("expected rate clamped to 1, got %d forwarded", got)
	}
}

func TestAsyncObserverDeliversAndClosesQuietly(t *testing.T) {
	inner := NewMemoryObserver()
	a := NewAsyncObserver(inner, 16)
	for i := 0; i < 5; i++ {
		a.RecordEvent(MetricsEvent{Name: "ev"})
	}
	deadline := time.Now().Add(time.Second)
	for len(inner.Events()) < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(inner.Events()); got != 5 {
		t.Fatalf("expected 5 delivered, got %d", got)
	}

	a.Close()
	a.Close()
	a.RecordEvent(MetricsEvent{Name: "after_close"})
	if got := len(inner.Named("after_close")); got != 0 {
		t.Fatalf("expected no delivery after close, got %d", got)
	}
}

func TestJSONLObserverWritesLine(t *testing.T) {
	var buf bytes.Buffer
	o := NewJSONLObserver(&buf)
	o.RecordEvent(MetricsEvent{
		Name:  "stage_latency",
		Time:  time.Now(),
		Value: 12.5,
		Tags:  map[string]string{"stage": "stt"},
	})
	line := buf.String()
	if !strings.Contains(line, `"name":"stage_latency"`) {
		t.Fatalf("missing name in output: %s", line)
	}
	if !strings.Contains(line, `"stage":"stt"`) {
		t.Fatalf("missing tag in output: %s", line)
	}
	if !strings.HasSuffix(line, "\n") {
		t.Fatalf("expected newline-terminated record: %q", line)
	}
}
