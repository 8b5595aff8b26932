// Package websocket serves browser and app clients: binary frames carry
// caller PCM in, JSON events and synthesized PCM flow back out.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/khata/pkg/adapters/tts"
	"github.com/harunnryd/khata/pkg/conversation"
	"github.com/harunnryd/khata/pkg/frames"
	"github.com/harunnryd/khata/pkg/metrics"
	"github.com/harunnryd/khata/pkg/pipeline"
	"github.com/harunnryd/khata/pkg/turn"
)

type Config struct {
	ServerAddr     string        `mapstructure:"server_addr"`
	WebsocketPath  string        `mapstructure:"ws_path"`
	SampleRate     int           `mapstructure:"sample_rate"`
	MaxSessions    int           `mapstructure:"max_sessions"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	AllowAnyOrigin bool          `mapstructure:"allow_any_origin"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.MaxSessions == 0 {
		c.MaxSessions = 64
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 30 * time.Second
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Factory builds one orchestrator per connection. userID comes from the
// handshake; the emit callback becomes the event sink for that session.
type Factory func(ctx context.Context, userID string, emit func(conversation.Event)) (*conversation.Orchestrator, error)

// command is the client-to-server text protocol.
type command struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type Transport struct {
	cfg      Config
	factory  Factory
	synth    tts.Synthesizer
	registry *conversation.Registry
	obs      metrics.Observer
	log      *slog.Logger

	server   *http.Server
	upgrader websocket.Upgrader
	recvCh   chan frames.Frame

	mu      sync.Mutex
	clients map[string]*client

	draining atomic.Bool
}

func New(cfg Config, factory Factory, synth tts.Synthesizer, registry *conversation.Registry, obs metrics.Observer, log *slog.Logger) *Transport {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	if registry == nil {
		registry = conversation.NewRegistry()
	}
	t := &Transport{
		cfg:      cfg,
		factory:  factory,
		synth:    synth,
		registry: registry,
		obs:      obs,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		recvCh:  make(chan frames.Frame, 512),
		clients: make(map[string]*client),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "websocket" }

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"listen_addr": t.cfg.ServerAddr,
		"ws_path":     t.cfg.WebsocketPath,
	}
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.Handle(t.cfg.WebsocketPath, t)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go t.registry.RunSweeper(ctx, t.cfg.SweepInterval, t.cfg.IdleTimeout)
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Error("websocket_transport_server_error", "error", err.Error())
		}
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.draining.Store(true)
	if t.server != nil {
		_ = t.server.Close()
	}
	t.mu.Lock()
	for _, c := range t.clients {
		_ = c.close()
	}
	t.clients = make(map[string]*client)
	t.mu.Unlock()
	close(t.recvCh)
	return nil
}

func (t *Transport) Drain() {
	t.draining.Store(true)
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if int(t.registry.Count()) >= t.cfg.MaxSessions {
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	t.serve(r.Context(), conn, userID)
}

func (t *Transport) serve(ctx context.Context, conn *websocket.Conn, userID string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := &client{
		conn:    conn,
		sendCh:  make(chan outbound, 256),
		speakCh: make(chan struct{}, 1),
	}
	go c.loop()
	defer c.close()

	orch, err := t.factory(ctx, userID, func(ev conversation.Event) {
		c.enqueueEvent(ev)
		if ev.Type == conversation.EventAgentSpeaking {
			select {
			case c.speakCh <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		t.log.Error("session_open_failed", "error", err.Error())
		return
	}
	if !t.registry.Register(orch) {
		_ = orch.Stop(ctx)
		return
	}
	defer func() {
		t.registry.Remove(orch.SessionID())
		t.detach(orch.SessionID())
		_ = orch.Stop(context.Background())
	}()
	t.attach(orch.SessionID(), c)

	pl := pipeline.NewBuilder().
		WithConversation(conversation.NewProcessor(ctx, orch)).
		Build(pipeline.Config{HighCapacity: 64, LowCapacity: 512, FairnessRatio: 4})
	pl.SetContext(ctx)
	pl.SetObserver(t.obs)
	if err := pl.Start(); err != nil {
		t.log.Error("pipeline_start_failed", "error", err.Error())
		return
	}
	defer pl.Stop()

	go t.speakLoop(ctx, c, orch)

	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			t.pushFrame(pl, frames.NewAudioFrame(orch.SessionID(), time.Now().UnixNano(), msg, t.cfg.SampleRate, 1, t.meta(orch.SessionID())))
		case websocket.TextMessage:
			var cmd command
			if err := json.Unmarshal(msg, &cmd); err != nil {
				continue
			}
			if t.handleCommand(ctx, pl, orch, cmd) {
				return
			}
		}
	}
}

// handleCommand returns true when the connection should end.
func (t *Transport) handleCommand(ctx context.Context, pl pipeline.Orchestrator, orch *conversation.Orchestrator, cmd command) bool {
	sid := orch.SessionID()
	switch cmd.Type {
	case "ping":
		t.pushFrame(pl, frames.NewControlFrame(sid, time.Now().UnixNano(), frames.ControlPing, t.meta(sid)))
	case "stop_listening":
		t.pushFrame(pl, frames.NewControlFrame(sid, time.Now().UnixNano(), frames.ControlStopListening, t.meta(sid)))
	case "text":
		// Typed input skips the audio path but not the pipeline: the
		// conversation processor owns the orchestrator, so text must not
		// race the audio goroutine into it.
		if strings.TrimSpace(cmd.Text) != "" {
			t.pushFrame(pl, frames.NewTextFrame(sid, time.Now().UnixNano(), cmd.Text, t.meta(sid)))
		}
	case "stop":
		t.pushFrame(pl, frames.NewControlFrame(sid, time.Now().UnixNano(), frames.ControlStop, t.meta(sid)))
		return true
	}
	return false
}

// speakLoop drives synthesis chunk by chunk so a barge-in lands between
// sentences instead of after the full reply.
func (t *Transport) speakLoop(ctx context.Context, c *client, orch *conversation.Orchestrator) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.speakCh:
		}
		for {
			chunk, ok := orch.NextSpeechChunk()
			if !ok {
				break
			}
			pcm, rate, err := t.synth.Synthesize(ctx, chunk)
			if err != nil {
				t.log.Warn("tts_failed", "session_id", orch.SessionID(), "error", err.Error())
				continue
			}
			c.enqueueAudio(pcm)
			if rate > 0 {
				// pace delivery at playback speed
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Duration(len(pcm)) * time.Second / time.Duration(rate*2)):
				}
			}
			if orch.State() != turn.StateAgentSpeaking {
				break
			}
		}
		if orch.State() == turn.StateAgentSpeaking {
			orch.FinishSpeaking()
		}
	}
}

// Send delivers engine-originated frames to the owning connection.
func (t *Transport) Send(f frames.Frame) error {
	sid := f.Meta()[frames.MetaSessionID]
	c := t.client(sid)
	if c == nil {
		return nil
	}
	switch f.Kind() {
	case frames.KindAudio:
		c.enqueueAudio(f.(frames.AudioFrame).RawPayload())
	case frames.KindControl:
		cf := f.(frames.ControlFrame)
		switch cf.Code() {
		case frames.ControlFlush, frames.ControlCancel, frames.ControlStartInterruption:
			c.dropPendingAudio()
			c.enqueueEvent(conversation.Event{Type: "clear", SessionID: sid})
		}
	}
	return nil
}

func (t *Transport) pushFrame(pl pipeline.Orchestrator, f frames.Frame) {
	select {
	case pl.In() <- f:
	default:
		frames.ReleaseAudioFrame(f)
	}
	nonBlockingSend(t.recvCh, f)
}

func (t *Transport) meta(sessionID string) map[string]string {
	return map[string]string{
		frames.MetaSessionID: sessionID,
		frames.MetaSource:    "transport",
	}
}

func (t *Transport) attach(sessionID string, c *client) {
	t.mu.Lock()
	t.clients[sessionID] = c
	t.mu.Unlock()
}

func (t *Transport) detach(sessionID string) {
	t.mu.Lock()
	delete(t.clients, sessionID)
	t.mu.Unlock()
}

func (t *Transport) client(sessionID string) *client {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clients[sessionID]
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

type outbound struct {
	binary bool
	gen    uint64
	data   []byte
}

type client struct {
	conn    *websocket.Conn
	sendCh  chan outbound
	speakCh chan struct{}
	gen     atomic.Uint64
	closed  atomic.Bool
}

func (c *client) enqueueEvent(ev conversation.Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	c.enqueue(outbound{data: b})
}

func (c *client) enqueueAudio(pcm []byte) {
	c.enqueue(outbound{binary: true, gen: c.gen.Load(), data: pcm})
}

// dropPendingAudio invalidates audio already sitting in the send queue. The
// write loop skips stale generations, so an interrupt silences the speaker
// without tearing down the connection.
func (c *client) dropPendingAudio() {
	c.gen.Add(1)
}

func (c *client) enqueue(msg outbound) {
	if c.closed.Load() {
		return
	}
	select {
	case c.sendCh <- msg:
	default:
	}
}

func (c *client) loop() {
	for msg := range c.sendCh {
		if msg.binary && msg.gen != c.gen.Load() {
			continue
		}
		kind := websocket.TextMessage
		if msg.binary {
			kind = websocket.BinaryMessage
		}
		_ = c.conn.WriteMessage(kind, msg.data)
	}
}

func (c *client) close() error {
	if c.closed.CompareAndSwap(false, true) {
		close(c.sendCh)
	}
	return c.conn.Close()
}

func nonBlockingSend(ch chan frames.Frame, f frames.Frame) {
	select {
	case ch <- f:
	default:
	}
}
