package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/harunnryd/khata/pkg/frames"
)

func TestSendInterruptEmitsClear(t *testing.T) {
	tr := New(Config{}, nil, nil, nil, nil, nil)
	c := &client{sendCh: make(chan outbound, 1)}
	tr.attach("sess-1", c)

	cf := frames.NewControlFrame("sess-1", time.Now().UnixNano(), frames.ControlStartInterruption, map[string]string{
		frames.MetaSessionID: "sess-1",
	})
	if err := tr.Send(cf); err != nil {
		t.Fatalf("send error: %v", err)
	}

	select {
	case msg := <-c.sendCh:
		if msg.binary {
			t.Fatalf("expected text message")
		}
		var payload map[string]any
		if err := json.Unmarshal(msg.data, &payload); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if payload["type"] != "clear" {
			t.Fatalf("expected clear event, got %v", payload["type"])
		}
	default:
		t.Fatalf("expected clear event to be enqueued")
	}
}

func TestInterruptDropsQueuedAudio(t *testing.T) {
	tr := New(Config{}, nil, nil, nil, nil, nil)
	c := &client{sendCh: make(chan outbound, 4)}
	tr.attach("sess-1", c)

	c.enqueueAudio([]byte{1, 2, 3})

	cf := frames.NewControlFrame("sess-1", time.Now().UnixNano(), frames.ControlCancel, map[string]string{
		frames.MetaSessionID: "sess-1",
	})
	if err := tr.Send(cf); err != nil {
		t.Fatalf("send error: %v", err)
	}

	c.enqueueAudio([]byte{4, 5})

	stale := <-c.sendCh
	if !stale.binary || stale.gen == c.gen.Load() {
		t.Fatalf("audio queued before the interrupt must be stale, got gen %d (current %d)", stale.gen, c.gen.Load())
	}
	ev := <-c.sendCh
	if ev.binary {
		t.Fatalf("expected the clear event after the stale audio")
	}
	fresh := <-c.sendCh
	if !fresh.binary || fresh.gen != c.gen.Load() {
		t.Fatalf("audio queued after the interrupt must still play, got gen %d (current %d)", fresh.gen, c.gen.Load())
	}
}

func TestSendAudioGoesOutBinary(t *testing.T) {
	tr := New(Config{}, nil, nil, nil, nil, nil)
	c := &client{sendCh: make(chan outbound, 1)}
	tr.attach("sess-1", c)

	af := frames.NewAudioFrame("sess-1", time.Now().UnixNano(), []byte{1, 2, 3}, 16000, 1, map[string]string{
		frames.MetaSessionID: "sess-1",
	})
	if err := tr.Send(af); err != nil {
		t.Fatalf("send error: %v", err)
	}

	select {
	case msg := <-c.sendCh:
		if !msg.binary {
			t.Fatalf("expected binary message")
		}
		if len(msg.data) != 3 {
			t.Fatalf("expected payload passthrough, got %d bytes", len(msg.data))
		}
	default:
		t.Fatalf("expected audio to be enqueued")
	}
}

func TestSendUnknownSessionIsNoop(t *testing.T) {
	tr := New(Config{}, nil, nil, nil, nil, nil)
	af := frames.NewAudioFrame("ghost", time.Now().UnixNano(), []byte{1}, 16000, 1, map[string]string{
		frames.MetaSessionID: "ghost",
	})
	if err := tr.Send(af); err != nil {
		t.Fatalf("send to unknown session should not error: %v", err)
	}
}

func TestDrainRejectsNewConnections(t *testing.T) {
	tr := New(Config{}, nil, nil, nil, nil, nil)
	tr.Drain()

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	w := httptest.NewRecorder()
	tr.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while draining, got %d", w.Code)
	}
}

func TestCheckOrigin(t *testing.T) {
	tr := New(Config{AllowedOrigins: []string{"https://shop.example.com", "app.example.com"}}, nil, nil, nil, nil, nil)

	cases := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://shop.example.com", true},
		{"https://shop.example.com/", true},
		{"https://app.example.com", true},
		{"http://app.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		if got := tr.checkOrigin(req); got != tc.want {
			t.Fatalf("origin %q: got %v, want %v", tc.origin, got, tc.want)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.ServerAddr != ":8080" || cfg.WebsocketPath != "/ws" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SampleRate != 16000 || cfg.MaxSessions != 64 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.IdleTimeout != 5*time.Minute {
		t.Fatalf("unexpected idle timeout: %v", cfg.IdleTimeout)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("expected any-origin default when no allowlist given")
	}
}
