package observers

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/khata/pkg/frames"
	"github.com/harunnryd/khata/pkg/metrics"
)

var phoneRe = regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`)

// TimelineObserver writes a per-session timeline JSONL trace, one file per
// session under dir. Customer phone numbers in string fields are redacted
// before they hit disk.
type TimelineObserver struct {
	dir   string
	mu    sync.Mutex
	files map[string]*os.File
}

func NewTimelineObserver(dir string) *TimelineObserver {
	return &TimelineObserver{dir: dir, files: make(map[string]*os.File)}
}

type timelineEntry struct {
	Time      time.Time         `json:"time"`
	Event     string            `json:"event"`
	SessionID string            `json:"session_id,omitempty"`
	TraceID   string            `json:"trace_id,omitempty"`
	Intent    string            `json:"intent,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Fields    map[string]any    `json:"fields,omitempty"`
}

// RecordEvent implements metrics.Observer.
func (o *TimelineObserver) RecordEvent(ev metrics.MetricsEvent) {
	sessionID := ""
	traceID := ""
	intent := ""
	if ev.Tags != nil {
		sessionID = ev.Tags[frames.MetaSessionID]
		traceID = ev.Tags[frames.MetaTraceID]
		intent = ev.Tags[frames.MetaIntent]
	}
	id := sessionID
	if id == "" {
		id = traceID
	}
	if id == "" || strings.TrimSpace(o.dir) == "" {
		return
	}

	entry := timelineEntry{
		Time:      ev.Time.UTC(),
		Event:     eventName(ev),
		SessionID: sessionID,
		TraceID:   traceID,
		Intent:    intent,
		Tags:      copyTags(ev.Tags),
		Fields:    redactFields(ev.Fields),
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	f := o.fileFor(id)
	if f == nil {
		return
	}
	_, _ = f.Write(append(line, '\n'))
}

// Close closes any open timeline files.
func (o *TimelineObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var err error
	for _, f := range o.files {
		if f == nil {
			continue
		}
		if cerr := f.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	o.files = make(map[string]*os.File)
	return err
}

func (o *TimelineObserver) fileFor(id string) *os.File {
	safe := sanitizeID(id)
	if safe == "" {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if f := o.files[safe]; f != nil {
		return f
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(o.dir, safe+".jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil
	}
	o.files[safe] = f
	return f
}

func eventName(ev metrics.MetricsEvent) string {
	if ev.Tags != nil && ev.Tags["kind"] == "audio" {
		switch ev.Name {
		case "frame_in":
			return "audio_in"
		case "frame_out":
			return "audio_out"
		}
	}
	return ev.Name
}

func sanitizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}

func copyTags(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func redactFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = phoneRe.ReplaceAllString(s, "[REDACTED_PHONE]")
			continue
		}
		out[k] = v
	}
	return out
}

var _ metrics.Observer = (*TimelineObserver)(nil)
